package dat

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// Value is one decoded header field: a scalar or a column-major array of
// big-endian elements. The raw bytes are kept as read so that encoding is
// exact, including float bit patterns.
type Value struct {
	DType DType
	Shape []int // nil for scalars
	raw   []byte
}

// NewValue wraps already-encoded big-endian, column-major element bytes.
func NewValue(dt DType, shape []int, raw []byte) (Value, error) {
	n := elemCount(shape)
	if len(raw) != n*dt.Size {
		return Value{}, fmt.Errorf("%w: %d bytes for %d elements of %s", ErrInvalidValue, len(raw), n, dt)
	}
	return Value{DType: dt, Shape: cloneInts(shape), raw: bytes.Clone(raw)}, nil
}

// Scalar builds a scalar of the given type from a Go number or string.
func Scalar(dt DType, x any) (Value, error) {
	return FromJSON(dt, nil, x)
}

func elemCount(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func cloneInts(s []int) []int {
	if s == nil {
		return nil
	}
	return append([]int(nil), s...)
}

func (v Value) IsScalar() bool { return v.Shape == nil }

// Len returns the number of elements; 1 for scalars.
func (v Value) Len() int { return elemCount(v.Shape) }

// Bytes returns a copy of the encoded element bytes.
func (v Value) Bytes() []byte { return bytes.Clone(v.raw) }

// ByteLen is the encoded size in bytes.
func (v Value) ByteLen() int { return len(v.raw) }

func (v Value) elem(i int) []byte {
	return v.raw[i*v.DType.Size : (i+1)*v.DType.Size]
}

// Int64At returns element i as a signed integer. Floats are truncated.
func (v Value) Int64At(i int) int64 {
	b := v.elem(i)
	switch v.DType.Kind {
	case KindUint:
		return int64(v.DType.uintAt(b))
	case KindInt:
		return v.DType.intAt(b)
	case KindFloat:
		return int64(v.DType.floatAt(b))
	default:
		return 0
	}
}

// Float64At returns element i converted to float64.
func (v Value) Float64At(i int) float64 {
	b := v.elem(i)
	switch v.DType.Kind {
	case KindUint:
		return float64(v.DType.uintAt(b))
	case KindInt:
		return float64(v.DType.intAt(b))
	case KindFloat:
		return v.DType.floatAt(b)
	default:
		return 0
	}
}

// Int64 returns the first element as a signed integer.
func (v Value) Int64() int64 { return v.Int64At(0) }

// Uint64 returns the first element of an unsigned value.
func (v Value) Uint64() uint64 {
	if v.DType.Kind == KindUint {
		return v.DType.uintAt(v.elem(0))
	}
	return uint64(v.Int64At(0))
}

// Float64 returns the first element converted to float64.
func (v Value) Float64() float64 { return v.Float64At(0) }

// Text returns element i of a byte-string value with trailing NULs removed.
func (v Value) Text(i int) string {
	return string(bytes.TrimRight(v.elem(i), "\x00"))
}

// Int64s returns every element in column-major order.
func (v Value) Int64s() []int64 {
	out := make([]int64, v.Len())
	for i := range out {
		out[i] = v.Int64At(i)
	}
	return out
}

// Index converts a multi-dimensional index into the flat column-major
// position (first axis varies fastest).
func (v Value) Index(idx ...int) int {
	flat, stride := 0, 1
	for i, d := range v.Shape {
		flat += idx[i] * stride
		stride *= d
	}
	return flat
}

// Equal reports exact equality of type, shape and encoded bytes.
func (v Value) Equal(o Value) bool {
	if v.DType != o.DType || len(v.Shape) != len(o.Shape) || (v.Shape == nil) != (o.Shape == nil) {
		return false
	}
	for i := range v.Shape {
		if v.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return bytes.Equal(v.raw, o.raw)
}

func (v Value) String() string {
	j, err := v.JSON()
	if err != nil {
		return fmt.Sprintf("<%s %v>", v.DType, v.Shape)
	}
	b, err := json.Marshal(j)
	if err != nil {
		return fmt.Sprintf("<%s %v>", v.DType, v.Shape)
	}
	return string(b)
}

// JSON converts the value into a JSON-safe form: numbers, strings, or nested
// slices whose outermost index is the first axis.
func (v Value) JSON() (any, error) {
	if v.IsScalar() {
		return v.elemJSON(0)
	}
	return v.nestJSON(0, 0, 1)
}

func (v Value) nestJSON(axis, base, stride int) (any, error) {
	n := v.Shape[axis]
	out := make([]any, n)
	for i := 0; i < n; i++ {
		pos := base + i*stride
		if axis == len(v.Shape)-1 {
			e, err := v.elemJSON(pos)
			if err != nil {
				return nil, err
			}
			out[i] = e
			continue
		}
		sub, err := v.nestJSON(axis+1, pos, stride*n)
		if err != nil {
			return nil, err
		}
		out[i] = sub
	}
	return out, nil
}

func (v Value) elemJSON(i int) (any, error) {
	b := v.elem(i)
	switch v.DType.Kind {
	case KindUint:
		return v.DType.uintAt(b), nil
	case KindInt:
		return v.DType.intAt(b), nil
	case KindFloat:
		f := v.DType.floatAt(b)
		switch {
		case math.IsNaN(f):
			return "NaN", nil
		case math.IsInf(f, 1):
			return "Infinity", nil
		case math.IsInf(f, -1):
			return "-Infinity", nil
		}
		return f, nil
	case KindBytes:
		s := v.Text(i)
		if !utf8.ValidString(s) {
			return nil, fmt.Errorf("%w: byte string is not valid UTF-8", ErrInvalidValue)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown dtype", ErrInvalidValue)
	}
}

// FromJSON is the inverse of Value.JSON. When shape is nil the value must be
// a scalar; otherwise nested slices must match shape exactly.
func FromJSON(dt DType, shape []int, x any) (Value, error) {
	if !dt.valid() {
		return Value{}, fmt.Errorf("%w: invalid dtype", ErrInvalidValue)
	}
	n := elemCount(shape)
	raw := make([]byte, n*dt.Size)
	if shape == nil {
		if err := putJSONElem(dt, raw, x); err != nil {
			return Value{}, err
		}
		return Value{DType: dt, raw: raw}, nil
	}
	if err := fillJSON(dt, shape, raw, x, 0, 0, 1); err != nil {
		return Value{}, err
	}
	return Value{DType: dt, Shape: cloneInts(shape), raw: raw}, nil
}

func fillJSON(dt DType, shape []int, raw []byte, x any, axis, base, stride int) error {
	list, ok := x.([]any)
	if !ok {
		return fmt.Errorf("%w: expected array of length %d at axis %d, got %T", ErrInvalidValue, shape[axis], axis, x)
	}
	if len(list) != shape[axis] {
		return fmt.Errorf("%w: axis %d has length %d, want %d", ErrInvalidValue, axis, len(list), shape[axis])
	}
	for i, item := range list {
		pos := base + i*stride
		if axis == len(shape)-1 {
			if err := putJSONElem(dt, raw[pos*dt.Size:(pos+1)*dt.Size], item); err != nil {
				return err
			}
			continue
		}
		if err := fillJSON(dt, shape, raw, item, axis+1, pos, stride*shape[axis]); err != nil {
			return err
		}
	}
	return nil
}

func putJSONElem(dt DType, dst []byte, x any) error {
	switch dt.Kind {
	case KindBytes:
		s, ok := x.(string)
		if !ok {
			return fmt.Errorf("%w: expected string for %s, got %T", ErrInvalidValue, dt, x)
		}
		if len(s) > dt.Size {
			return fmt.Errorf("%w: string of %d bytes exceeds %s", ErrInvalidValue, len(s), dt)
		}
		clear(dst)
		copy(dst, s)
		return nil
	case KindFloat:
		f, err := jsonFloat(x)
		if err != nil {
			return err
		}
		dt.putFloat(dst, f)
		return nil
	default:
		return putJSONInt(dt, dst, x)
	}
}

func putJSONInt(dt DType, dst []byte, x any) error {
	switch n := x.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return putJSONInt(dt, dst, i)
		}
		u, err := strconv.ParseUint(string(n), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, n)
		}
		return putJSONInt(dt, dst, u)
	case float64:
		if n != math.Trunc(n) || math.Abs(n) > 1<<53 {
			return fmt.Errorf("%w: %v is not an exact integer", ErrInvalidValue, n)
		}
		return putJSONInt(dt, dst, int64(n))
	case int:
		return putJSONInt(dt, dst, int64(n))
	case int64:
		if !dt.fitsInt(n) {
			return fmt.Errorf("%w: %d out of range for %s", ErrInvalidValue, n, dt)
		}
		dt.putUint(dst, uint64(n))
		return nil
	case uint64:
		if !dt.fitsUint(n) {
			return fmt.Errorf("%w: %d out of range for %s", ErrInvalidValue, n, dt)
		}
		dt.putUint(dst, n)
		return nil
	case uint8:
		return putJSONInt(dt, dst, int64(n))
	case uint16:
		return putJSONInt(dt, dst, int64(n))
	case uint32:
		return putJSONInt(dt, dst, int64(n))
	case int16:
		return putJSONInt(dt, dst, int64(n))
	case int32:
		return putJSONInt(dt, dst, int64(n))
	case bool:
		if n {
			return putJSONInt(dt, dst, int64(1))
		}
		return putJSONInt(dt, dst, int64(0))
	default:
		return fmt.Errorf("%w: expected integer for %s, got %T", ErrInvalidValue, dt, x)
	}
}

func jsonFloat(x any) (float64, error) {
	switch n := x.(type) {
	case json.Number:
		f, err := strconv.ParseFloat(string(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, n)
		}
		return f, nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case string:
		switch n {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, n)
	default:
		return 0, fmt.Errorf("%w: expected number, got %T", ErrInvalidValue, x)
	}
}
