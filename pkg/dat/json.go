package dat

import (
	"bytes"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/elliotchance/orderedmap/v3"
	"github.com/goccy/go-json"
)

// Fields is an ordered JSON object of field values.
type Fields struct {
	m *orderedmap.OrderedMap[string, any]
}

func NewFields() *Fields {
	return &Fields{m: orderedmap.NewOrderedMap[string, any]()}
}

func (f *Fields) Set(k string, v any)      { f.m.Set(k, v) }
func (f *Fields) Get(k string) (any, bool) { return f.m.Get(k) }
func (f *Fields) Delete(k string)          { f.m.Delete(k) }
func (f *Fields) Len() int                 { return f.m.Len() }

// All iterates entries in insertion order.
func (f *Fields) All() iter.Seq2[string, any] { return f.m.AllFromFront() }

// Keys returns the entry names in order.
func (f *Fields) Keys() []string {
	out := make([]string, 0, f.m.Len())
	for k := range f.m.AllFromFront() {
		out = append(out, k)
	}
	return out
}

// SortKeys reorders the entries by name.
func (f *Fields) SortKeys() {
	names := f.Keys()
	slices.Sort(names)
	sorted := orderedmap.NewOrderedMap[string, any]()
	for _, k := range names {
		v, _ := f.m.Get(k)
		sorted.Set(k, v)
	}
	f.m = sorted
}

// MarshalJSON writes keys in insertion order.
func (f *Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	i := 0
	for k, v := range f.m.AllFromFront() {
		if i > 0 {
			buf.WriteByte(',')
		}
		i++
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// IsDerivedName reports whether name has a derived-entry suffix.
func IsDerivedName(name string) bool {
	return strings.HasSuffix(name, EnumNameSuffix) || strings.HasSuffix(name, DateSuffix)
}

// ToJSON converts every field of h to its JSON-safe form, in schema order.
// Derived entries follow the fields unless withDerived is false.
func (c *Codec) ToJSON(h *Header, withDerived bool) (*Fields, error) {
	version, err := h.Version()
	if err != nil {
		return nil, err
	}
	s, err := c.reg.Schema(version)
	if err != nil {
		return nil, err
	}
	out := NewFields()
	for name, v := range h.All() {
		f, ok := s.Field(name)
		if !ok {
			return nil, fmt.Errorf("%w: schema v%d has no field %q", ErrInvalidValue, version, name)
		}
		j, err := f.ToJSON(v)
		if err != nil {
			return nil, err
		}
		out.Set(name, j)
	}
	if withDerived {
		for k, v := range h.DerivedAll() {
			out.Set(k, v)
		}
	}
	return out, nil
}

// FromJSON rebuilds a header from JSON-safe values. FileVersion selects the
// schema; fields are converted in schema order so dependent shapes resolve.
// Derived entries are skipped; any other unknown key is an error.
func (c *Codec) FromJSON(values map[string]any) (*Header, error) {
	raw, ok := values[FileVersionField]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, FileVersionField)
	}
	boot, _ := c.reg.Bootstrap().Field(FileVersionField)
	vv, err := FromJSON(boot.DType, nil, raw)
	if err != nil {
		return nil, &FieldError{Field: FileVersionField, Offset: boot.Offset, Err: err}
	}
	s, err := c.reg.Schema(int(vv.Int64()))
	if err != nil {
		return nil, err
	}

	h := NewHeader()
	for _, f := range s.fields {
		x, ok := values[f.Name]
		if !ok {
			return nil, &FieldError{Field: f.Name, Offset: f.Offset, Err: ErrMissingField}
		}
		if err := s.Set(h, f.Name, x); err != nil {
			return nil, err
		}
	}
	for k := range values {
		if _, ok := s.Field(k); ok || IsDerivedName(k) {
			continue
		}
		return nil, fmt.Errorf("%w: schema v%d has no field %q", ErrInvalidValue, s.Version, k)
	}
	return h, nil
}

// DecodeJSON parses a JSON object keeping integers exact.
func DecodeJSON(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return out, nil
}
