package dat

import (
	"fmt"
	"iter"

	"github.com/elliotchance/orderedmap/v3"
)

const (
	// FileVersionField selects the schema used for the rest of the header.
	FileVersionField = "FileVersion"
	// MagicField is checked against the configured magic number, if any.
	MagicField = "FileMagicNum"

	// EnumNameSuffix names the derived entry holding an enum field's label.
	EnumNameSuffix = "__name"
	// DateSuffix names the derived entry holding a parsed date in ISO form.
	DateSuffix = "__iso"
)

// Header is a decoded header: field values in schema order plus derived,
// output-only entries (enum names and ISO dates) that are never encoded.
type Header struct {
	fields  *orderedmap.OrderedMap[string, Value]
	derived *orderedmap.OrderedMap[string, string]
	padding []Padding
}

// Padding records a field whose bytes ran past the end of the input.
type Padding struct {
	Field string
	Want  int // elements required
	Got   int // whole elements available
	Fill  int64
}

func NewHeader() *Header {
	return &Header{
		fields:  orderedmap.NewOrderedMap[string, Value](),
		derived: orderedmap.NewOrderedMap[string, string](),
	}
}

func (h *Header) Get(name string) (Value, bool) {
	return h.fields.Get(name)
}

func (h *Header) Set(name string, v Value) {
	h.fields.Set(name, v)
}

func (h *Header) Delete(name string) {
	h.fields.Delete(name)
}

func (h *Header) Has(name string) bool {
	return h.fields.Has(name)
}

// Len counts field values only.
func (h *Header) Len() int { return h.fields.Len() }

// All iterates field values in insertion (schema) order.
func (h *Header) All() iter.Seq2[string, Value] {
	return h.fields.AllFromFront()
}

// Names returns field names in order.
func (h *Header) Names() []string {
	out := make([]string, 0, h.fields.Len())
	for k := range h.fields.AllFromFront() {
		out = append(out, k)
	}
	return out
}

func (h *Header) Derived(name string) (string, bool) {
	return h.derived.Get(name)
}

func (h *Header) SetDerived(name, value string) {
	h.derived.Set(name, value)
}

// DerivedAll iterates derived entries in the order they were added.
func (h *Header) DerivedAll() iter.Seq2[string, string] {
	return h.derived.AllFromFront()
}

// Padded lists fields that were filled because the input was short.
func (h *Header) Padded() []Padding {
	return append([]Padding(nil), h.padding...)
}

// Version returns the FileVersion field as an int.
func (h *Header) Version() (int, error) {
	v, ok := h.Get(FileVersionField)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingField, FileVersionField)
	}
	if !v.IsScalar() || !v.DType.IsInteger() {
		return 0, fmt.Errorf("%w: %s is not a scalar integer", ErrInvalidValue, FileVersionField)
	}
	return int(v.Int64()), nil
}

// StripDerived returns a copy holding only the field values.
func (h *Header) StripDerived() *Header {
	out := NewHeader()
	for k, v := range h.fields.AllFromFront() {
		out.fields.Set(k, v)
	}
	return out
}

// Clone copies fields, derived entries and padding records.
func (h *Header) Clone() *Header {
	out := h.StripDerived()
	for k, v := range h.derived.AllFromFront() {
		out.derived.Set(k, v)
	}
	out.padding = h.Padded()
	return out
}
