package dat

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// Kind is the scalar category of a header element.
type Kind uint8

const (
	KindUint Kind = iota + 1
	KindInt
	KindFloat
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindUint:
		return "uint"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBytes:
		return "bytes"
	default:
		return "invalid"
	}
}

// DType is a fixed-width element type. Multi-byte numeric types are always
// stored big-endian.
type DType struct {
	Kind Kind
	Size int
}

var (
	Uint8   = DType{Kind: KindUint, Size: 1}
	Int16BE = DType{Kind: KindInt, Size: 2}
)

// ParseDType parses a numpy-style dtype token such as ">u2", "|S10" or "u1".
// Byte-order markers other than '>' are only accepted for single-byte
// elements, where order is irrelevant.
func ParseDType(tok string) (DType, error) {
	if tok == "" {
		return DType{}, fmt.Errorf("empty dtype")
	}
	order := byte(0)
	switch tok[0] {
	case '>', '<', '|', '=', '!':
		order = tok[0]
		tok = tok[1:]
	}
	if len(tok) < 2 {
		return DType{}, fmt.Errorf("dtype %q: missing size", tok)
	}

	var kind Kind
	switch tok[0] {
	case 'u':
		kind = KindUint
	case 'i':
		kind = KindInt
	case 'f':
		kind = KindFloat
	case 'S':
		kind = KindBytes
	default:
		return DType{}, fmt.Errorf("dtype %q: unsupported kind %q", tok, tok[0])
	}

	size, err := strconv.Atoi(tok[1:])
	if err != nil || size <= 0 {
		return DType{}, fmt.Errorf("dtype %q: invalid size", tok)
	}
	dt := DType{Kind: kind, Size: size}
	if !dt.valid() {
		return DType{}, fmt.Errorf("dtype %q: unsupported size %d for %s", tok, size, kind)
	}
	if dt.Size > 1 && kind != KindBytes && order != '>' && order != '!' {
		return DType{}, fmt.Errorf("dtype %q: multi-byte numbers must be big-endian", tok)
	}
	return dt, nil
}

func (d DType) valid() bool {
	switch d.Kind {
	case KindUint, KindInt:
		return d.Size == 1 || d.Size == 2 || d.Size == 4 || d.Size == 8
	case KindFloat:
		return d.Size == 4 || d.Size == 8
	case KindBytes:
		return d.Size > 0
	default:
		return false
	}
}

// IsInteger reports whether elements are signed or unsigned integers.
func (d DType) IsInteger() bool {
	return d.Kind == KindUint || d.Kind == KindInt
}

// String returns the canonical token, e.g. ">u2", "|u1", "|S10".
func (d DType) String() string {
	switch d.Kind {
	case KindBytes:
		return "|S" + strconv.Itoa(d.Size)
	case KindUint:
		if d.Size == 1 {
			return "|u1"
		}
		return ">u" + strconv.Itoa(d.Size)
	case KindInt:
		if d.Size == 1 {
			return "|i1"
		}
		return ">i" + strconv.Itoa(d.Size)
	case KindFloat:
		return ">f" + strconv.Itoa(d.Size)
	default:
		return "<invalid>"
	}
}

func (d DType) uintAt(b []byte) uint64 {
	switch d.Size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.BigEndian.Uint16(b))
	case 4:
		return uint64(binary.BigEndian.Uint32(b))
	default:
		return binary.BigEndian.Uint64(b)
	}
}

func (d DType) intAt(b []byte) int64 {
	switch d.Size {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.BigEndian.Uint16(b)))
	case 4:
		return int64(int32(binary.BigEndian.Uint32(b)))
	default:
		return int64(binary.BigEndian.Uint64(b))
	}
}

func (d DType) floatAt(b []byte) float64 {
	if d.Size == 4 {
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

func (d DType) putUint(b []byte, v uint64) {
	switch d.Size {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.BigEndian.PutUint16(b, uint16(v))
	case 4:
		binary.BigEndian.PutUint32(b, uint32(v))
	default:
		binary.BigEndian.PutUint64(b, v)
	}
}

func (d DType) putFloat(b []byte, v float64) {
	if d.Size == 4 {
		binary.BigEndian.PutUint32(b, math.Float32bits(float32(v)))
		return
	}
	binary.BigEndian.PutUint64(b, math.Float64bits(v))
}

// fitsInt reports whether v is representable by an integer dtype.
func (d DType) fitsInt(v int64) bool {
	bits := uint(d.Size * 8)
	if d.Kind == KindUint {
		if v < 0 {
			return false
		}
		return bits == 64 || uint64(v) < 1<<bits
	}
	if bits == 64 {
		return true
	}
	lim := int64(1) << (bits - 1)
	return v >= -lim && v < lim
}

func (d DType) fitsUint(v uint64) bool {
	bits := uint(d.Size * 8)
	if d.Kind == KindUint {
		return bits == 64 || v < 1<<bits
	}
	return v < 1<<(bits-1)
}

// fillElement encodes a fill value as a single element of this type. Integer
// and byte types reject values they cannot hold.
func (d DType) fillElement(fill int64) ([]byte, error) {
	out := make([]byte, d.Size)
	switch d.Kind {
	case KindFloat:
		d.putFloat(out, float64(fill))
	case KindBytes:
		if fill < 0 || fill > math.MaxUint8 {
			return nil, fmt.Errorf("%w: fill %d does not fit a byte", ErrInvalidValue, fill)
		}
		for i := range out {
			out[i] = byte(fill)
		}
	default:
		if !d.fitsInt(fill) {
			return nil, fmt.Errorf("%w: fill %d out of range for %s", ErrInvalidValue, fill, d)
		}
		d.putUint(out, uint64(fill))
	}
	return out, nil
}
