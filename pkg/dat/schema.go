package dat

import (
	"fmt"
	"slices"

	"go.uber.org/multierr"
)

// Schema is the immutable, offset-ordered field layout for one format version.
type Schema struct {
	Version      int
	HeaderLength int

	fields []Field
	index  map[string]int
}

// Spacer is an implicit zero-filled gap between fields.
type Spacer struct {
	Offset int
	Length int
}

// NewSchema validates and orders fields by offset. Every problem found is
// reported, combined into one error.
//
// Dependent shapes must only reference scalar integer fields at lower
// offsets, so decoding in offset order always has the sizes it needs.
func NewSchema(version, headerLength int, fields []Field) (*Schema, error) {
	s := &Schema{
		Version:      version,
		HeaderLength: headerLength,
		fields:       slices.Clone(fields),
		index:        make(map[string]int, len(fields)),
	}
	slices.SortStableFunc(s.fields, func(a, b Field) int { return a.Offset - b.Offset })

	var errs error
	bad := func(f Field, err error) {
		errs = multierr.Append(errs, &SchemaError{Version: version, Field: f.Name, Err: err})
	}

	for i, f := range s.fields {
		if f.Name == "" {
			bad(f, fmt.Errorf("empty field name at offset %d", f.Offset))
			continue
		}
		if _, dup := s.index[f.Name]; dup {
			bad(f, fmt.Errorf("duplicate field name"))
			continue
		}
		s.index[f.Name] = i
	}

	for i, f := range s.fields {
		if !f.DType.valid() {
			bad(f, fmt.Errorf("invalid dtype"))
		}
		if f.Offset < 0 || f.Offset >= headerLength {
			bad(f, fmt.Errorf("offset %d outside header of %d bytes", f.Offset, headerLength))
		}
		for _, ref := range f.Dependencies() {
			j, ok := s.index[ref]
			if !ok {
				bad(f, fmt.Errorf("%w: shape references unknown field %q", ErrUnresolvedDependency, ref))
				continue
			}
			dep := s.fields[j]
			if dep.Offset >= f.Offset {
				bad(f, fmt.Errorf("%w: shape references %q at offset %d, which does not precede offset %d",
					ErrUnresolvedDependency, ref, dep.Offset, f.Offset))
				continue
			}
			if !dep.IsScalar() || !dep.DType.IsInteger() {
				bad(f, fmt.Errorf("shape references %q, which is not a scalar integer", ref))
			}
		}

		size, static := f.StaticSize()
		if !static {
			continue
		}
		end := f.Offset + size
		if end > headerLength {
			bad(f, fmt.Errorf("%w: ends at byte %d, past header length %d", ErrFieldOverlap, end, headerLength))
		}
		if i+1 < len(s.fields) && end > s.fields[i+1].Offset {
			bad(f, fmt.Errorf("%w: ends at byte %d but %q starts at %d",
				ErrFieldOverlap, end, s.fields[i+1].Name, s.fields[i+1].Offset))
		}
	}

	if errs != nil {
		return nil, errs
	}
	return s, nil
}

// Fields returns the fields in offset order.
func (s *Schema) Fields() []Field {
	return slices.Clone(s.fields)
}

func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

func (s *Schema) Len() int { return len(s.fields) }

// Spacers lists the zero-filled gaps for the shapes implied by h. h may be
// nil when the schema has no dependent shapes.
func (s *Schema) Spacers(h *Header) ([]Spacer, error) {
	var out []Spacer
	pos := 0
	for _, f := range s.fields {
		shape, err := f.ResolveShape(h)
		if err != nil {
			return nil, err
		}
		if f.Offset > pos {
			out = append(out, Spacer{Offset: pos, Length: f.Offset - pos})
		}
		pos = f.Offset + f.ByteSize(shape)
	}
	if pos < s.HeaderLength {
		out = append(out, Spacer{Offset: pos, Length: s.HeaderLength - pos})
	}
	return out, nil
}

// Set converts x into the named field's type and stores it in h, resolving a
// dependent shape from values already in h.
func (s *Schema) Set(h *Header, name string, x any) error {
	f, ok := s.Field(name)
	if !ok {
		return fmt.Errorf("%w: schema v%d has no field %q", ErrMissingField, s.Version, name)
	}
	v, err := f.FromJSON(x, h)
	if err != nil {
		return err
	}
	h.Set(name, v)
	return nil
}

// Zero returns a header holding the all-zero value of every field, with
// FileVersion set to this schema's version.
func (s *Schema) Zero() (*Header, error) {
	return s.ZeroWith(nil)
}

// ZeroWith is Zero with some fields preset from JSON-style values. Presets
// are applied in schema order, so later dependent shapes resolve against them.
func (s *Schema) ZeroWith(preset map[string]any) (*Header, error) {
	for name := range preset {
		if _, ok := s.index[name]; !ok {
			return nil, fmt.Errorf("%w: schema v%d has no field %q", ErrMissingField, s.Version, name)
		}
	}
	h := NewHeader()
	for _, f := range s.fields {
		if x, ok := preset[f.Name]; ok {
			if err := s.Set(h, f.Name, x); err != nil {
				return nil, err
			}
			continue
		}
		if f.Name == FileVersionField {
			if err := s.Set(h, f.Name, int64(s.Version)); err != nil {
				return nil, err
			}
			continue
		}
		shape, err := f.ResolveShape(h)
		if err != nil {
			return nil, err
		}
		h.Set(f.Name, Value{DType: f.DType, Shape: shape, raw: make([]byte, f.ByteSize(shape))})
	}
	return h, nil
}
