package dat

import (
	"fmt"

	"go.uber.org/multierr"
)

// EnumEntry pairs a stored code with its label.
type EnumEntry struct {
	Value int64  `json:"value"`
	Name  string `json:"name"`
}

// EnumTable is a bijection between the codes of one categorical field and
// their names.
type EnumTable struct {
	Field string

	entries []EnumEntry
	byValue map[int64]string
	byName  map[string]int64
}

// NewEnumTable rejects duplicate codes and duplicate names.
func NewEnumTable(field string, entries []EnumEntry) (*EnumTable, error) {
	t := &EnumTable{
		Field:   field,
		entries: append([]EnumEntry(nil), entries...),
		byValue: make(map[int64]string, len(entries)),
		byName:  make(map[string]int64, len(entries)),
	}
	var errs error
	for _, e := range entries {
		if e.Name == "" {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s: empty name for code %d", ErrEnumLoad, field, e.Value))
			continue
		}
		if prev, dup := t.byValue[e.Value]; dup {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s: code %d used by %q and %q", ErrEnumLoad, field, e.Value, prev, e.Name))
			continue
		}
		if prev, dup := t.byName[e.Name]; dup {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s: name %q used by codes %d and %d", ErrEnumLoad, field, e.Name, prev, e.Value))
			continue
		}
		t.byValue[e.Value] = e.Name
		t.byName[e.Name] = e.Value
	}
	if errs != nil {
		return nil, errs
	}
	return t, nil
}

func (t *EnumTable) Name(code int64) (string, bool) {
	n, ok := t.byValue[code]
	return n, ok
}

func (t *EnumTable) Value(name string) (int64, bool) {
	v, ok := t.byName[name]
	return v, ok
}

func (t *EnumTable) Entries() []EnumEntry {
	return append([]EnumEntry(nil), t.entries...)
}

func (t *EnumTable) Len() int { return len(t.entries) }
