package dat

import (
	"fmt"
	"strings"
	"time"
)

// EOFBehavior controls what happens when the input ends before a field or
// the image payload does.
type EOFBehavior int

const (
	// EOFError fails with ErrTruncated.
	EOFError EOFBehavior = iota
	// EOFWarn pads with DecodeOptions.Fill and logs a warning.
	EOFWarn
	// EOFIgnore pads with zeros without logging.
	EOFIgnore
)

func (b EOFBehavior) String() string {
	switch b {
	case EOFError:
		return "error"
	case EOFWarn:
		return "warn"
	case EOFIgnore:
		return "ignore"
	default:
		return fmt.Sprintf("EOFBehavior(%d)", int(b))
	}
}

// ParseEOFBehavior accepts "error", "warn" or "ignore".
func ParseEOFBehavior(s string) (EOFBehavior, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "error":
		return EOFError, nil
	case "warn", "pad":
		return EOFWarn, nil
	case "ignore", "zero":
		return EOFIgnore, nil
	default:
		return EOFError, fmt.Errorf("unknown EOF behavior %q (want error, warn or ignore)", s)
	}
}

// Warner receives the warnings emitted under EOFWarn.
type Warner interface {
	Warn(msg string, args ...any)
}

// DecodeOptions are threaded through a whole decode call.
type DecodeOptions struct {
	EOF EOFBehavior
	// Fill is the element value used for missing data under EOFWarn.
	Fill int64
	// SkipDerived disables the enum-name and ISO-date entries.
	SkipDerived bool
	Logger      Warner
}

func (o DecodeOptions) fill() int64 {
	if o.EOF == EOFIgnore {
		return 0
	}
	return o.Fill
}

func (o DecodeOptions) warn(msg string, args ...any) {
	if o.EOF == EOFWarn && o.Logger != nil {
		o.Logger.Warn(msg, args...)
	}
}

// Codec converts between raw bytes and decoded headers using one registry.
// It holds no mutable state.
type Codec struct {
	reg *Registry
}

func NewCodec(reg *Registry) *Codec {
	return &Codec{reg: reg}
}

func (c *Codec) Registry() *Registry { return c.reg }

// HeaderLength is the fixed size of the header region.
func (c *Codec) HeaderLength() int { return c.reg.format.HeaderLength }

// DecodeHeader reads the bootstrap fields to find the version, then decodes
// every field of that version's schema. buf may be the whole file or just
// the header.
func (c *Codec) DecodeHeader(buf []byte, opts DecodeOptions) (*Header, error) {
	boot := c.reg.Bootstrap()
	probe := NewHeader()
	if err := decodeFields(buf, boot, probe, DecodeOptions{EOF: opts.EOF, Fill: opts.Fill}); err != nil {
		return nil, err
	}
	if err := c.checkMagic(probe); err != nil {
		return nil, err
	}
	version, err := probe.Version()
	if err != nil {
		return nil, err
	}
	if version == BootstrapVersion {
		return nil, fmt.Errorf("%w: %d is the bootstrap schema", ErrUnknownSchemaVersion, version)
	}
	schema, err := c.reg.Schema(version)
	if err != nil {
		return nil, err
	}

	h := NewHeader()
	if err := decodeFields(buf, schema, h, opts); err != nil {
		return nil, err
	}
	if !opts.SkipDerived {
		c.derive(schema, h, opts)
	}
	return h, nil
}

func (c *Codec) checkMagic(h *Header) error {
	want := c.reg.format.MagicNumber
	if want == 0 {
		return nil
	}
	v, ok := h.Get(MagicField)
	if !ok {
		return nil
	}
	if got := v.Uint64(); got != want {
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidMagic, got, want)
	}
	return nil
}

func decodeFields(buf []byte, s *Schema, h *Header, opts DecodeOptions) error {
	for i, f := range s.fields {
		shape, err := f.ResolveShape(h)
		if err != nil {
			return err
		}
		size := f.ByteSize(shape)
		end := f.Offset + size
		if end > s.HeaderLength {
			return &FieldError{Field: f.Name, Offset: f.Offset,
				Err: fmt.Errorf("%w: %d bytes run past header length %d", ErrFieldOverlap, size, s.HeaderLength)}
		}
		if i+1 < len(s.fields) && end > s.fields[i+1].Offset {
			return &FieldError{Field: f.Name, Offset: f.Offset,
				Err: fmt.Errorf("%w: %d bytes run into %q", ErrFieldOverlap, size, s.fields[i+1].Name)}
		}

		raw, pad, err := readRegion(buf, f.Offset, size, f.DType, opts)
		if err != nil {
			return &FieldError{Field: f.Name, Offset: f.Offset, Err: err}
		}
		if pad != nil {
			pad.Field = f.Name
			h.padding = append(h.padding, *pad)
			opts.warn("input ended inside field; padding",
				"field", f.Name, "offset", f.Offset, "want", pad.Want, "got", pad.Got, "fill", pad.Fill)
		}
		h.Set(f.Name, Value{DType: f.DType, Shape: shape, raw: raw})
	}
	return nil
}

// readRegion copies size bytes at off. When buf is short it applies the EOF
// policy: every available byte is kept and the rest of each element is
// taken from the fill element. Nothing is allocated for a short buffer under
// EOFError.
func readRegion(buf []byte, off, size int, dt DType, opts DecodeOptions) ([]byte, *Padding, error) {
	avail := max(len(buf)-off, 0)
	if size <= avail {
		out := make([]byte, size)
		copy(out, buf[off:off+size])
		return out, nil, nil
	}
	want := size / dt.Size
	got := avail / dt.Size
	if opts.EOF == EOFError {
		return nil, nil, fmt.Errorf("%w: could only read %d of %d %s elements from byte %d", ErrTruncated, got, want, dt, off)
	}
	fill, err := dt.fillElement(opts.fill())
	if err != nil {
		return nil, nil, err
	}
	out := make([]byte, size)
	if avail > 0 {
		copy(out, buf[off:])
	}
	for i := avail; i < size; i++ {
		out[i] = fill[i%dt.Size]
	}
	return out, &Padding{Want: want, Got: got, Fill: opts.fill()}, nil
}

func (c *Codec) derive(s *Schema, h *Header, opts DecodeOptions) {
	for _, f := range s.fields {
		t, ok := c.reg.enums[f.Name]
		if !ok || !f.IsScalar() || !f.DType.IsInteger() {
			continue
		}
		v, _ := h.Get(f.Name)
		if name, ok := t.Name(v.Int64()); ok {
			h.SetDerived(f.Name+EnumNameSuffix, name)
		} else if opts.Logger != nil {
			opts.Logger.Warn("enum code has no name", "field", f.Name, "code", v.Int64())
		}
	}

	layout, err := c.reg.format.GoDateLayout()
	if err != nil {
		return
	}
	for _, name := range c.reg.format.DateFields {
		f, ok := s.Field(name)
		if !ok || f.DType.Kind != KindBytes || !f.IsScalar() {
			continue
		}
		v, _ := h.Get(name)
		t, err := time.Parse(layout, strings.TrimSpace(v.Text(0)))
		if err != nil {
			continue
		}
		h.SetDerived(name+DateSuffix, t.Format(time.DateOnly))
	}
}

// EncodeHeader writes every field of the schema named by h's FileVersion at
// its offset in a zeroed buffer of HeaderLength bytes. Derived entries are
// ignored.
func (c *Codec) EncodeHeader(h *Header) ([]byte, error) {
	version, err := h.Version()
	if err != nil {
		return nil, err
	}
	s, err := c.reg.Schema(version)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, s.HeaderLength)
	for _, f := range s.fields {
		v, ok := h.Get(f.Name)
		if !ok {
			return nil, &FieldError{Field: f.Name, Offset: f.Offset, Err: ErrMissingField}
		}
		if v.DType != f.DType {
			return nil, &FieldError{Field: f.Name, Offset: f.Offset,
				Err: fmt.Errorf("%w: dtype %s, want %s", ErrInvalidValue, v.DType, f.DType)}
		}
		shape, err := f.ResolveShape(h)
		if err != nil {
			return nil, err
		}
		if size := f.ByteSize(shape); size != v.ByteLen() {
			return nil, &FieldError{Field: f.Name, Offset: f.Offset,
				Err: fmt.Errorf("%w: %d bytes, shape %v needs %d", ErrInvalidValue, v.ByteLen(), shape, size)}
		}
		if f.Offset+v.ByteLen() > len(buf) {
			return nil, &FieldError{Field: f.Name, Offset: f.Offset,
				Err: fmt.Errorf("%w: runs past header length %d", ErrFieldOverlap, len(buf))}
		}
		copy(buf[f.Offset:], v.raw)
	}
	return buf, nil
}
