package dat

import (
	"fmt"
	"strconv"
	"strings"
)

// Dim is one entry of a field's shape: either a literal size or the name of
// an earlier scalar integer field whose decoded value gives the size.
type Dim struct {
	Size int
	Ref  string
}

func (d Dim) String() string {
	if d.Ref != "" {
		return d.Ref
	}
	return strconv.Itoa(d.Size)
}

// Field describes one header field.
type Field struct {
	Name   string
	DType  DType
	Offset int
	Shape  []Dim // nil for scalars
}

// ParseShape parses a comma-separated shape. "0" and "" both mean scalar.
func ParseShape(s string) ([]Dim, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	dims := make([]Dim, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("empty shape entry in %q", s)
		}
		if n, err := strconv.Atoi(p); err == nil {
			if n < 0 {
				return nil, fmt.Errorf("negative shape entry %d", n)
			}
			dims = append(dims, Dim{Size: n})
			continue
		}
		dims = append(dims, Dim{Ref: p})
	}
	return dims, nil
}

func (f Field) IsScalar() bool { return len(f.Shape) == 0 }

// HasDependentShape reports whether any dimension refers to another field.
func (f Field) HasDependentShape() bool {
	for _, d := range f.Shape {
		if d.Ref != "" {
			return true
		}
	}
	return false
}

// Dependencies returns the names referenced by the shape, in order.
func (f Field) Dependencies() []string {
	var out []string
	for _, d := range f.Shape {
		if d.Ref != "" {
			out = append(out, d.Ref)
		}
	}
	return out
}

// ShapeString renders the shape as it appears in a definition file.
func (f Field) ShapeString() string {
	if f.IsScalar() {
		return "0"
	}
	parts := make([]string, len(f.Shape))
	for i, d := range f.Shape {
		parts[i] = d.String()
	}
	return strings.Join(parts, ",")
}

// ResolveShape returns the concrete shape given the fields decoded so far,
// or nil for a scalar. A reference to a field not yet present yields
// ErrUnresolvedDependency; a present but unusable size yields ErrInvalidValue.
func (f Field) ResolveShape(decoded *Header) ([]int, error) {
	if f.IsScalar() {
		return nil, nil
	}
	out := make([]int, len(f.Shape))
	for i, d := range f.Shape {
		if d.Ref == "" {
			out[i] = d.Size
			continue
		}
		var (
			v  Value
			ok bool
		)
		if decoded != nil {
			v, ok = decoded.Get(d.Ref)
		}
		if !ok {
			return nil, &FieldError{
				Field:  f.Name,
				Offset: f.Offset,
				Err:    fmt.Errorf("%w: shape depends on %q", ErrUnresolvedDependency, d.Ref),
			}
		}
		if !v.IsScalar() || !v.DType.IsInteger() {
			return nil, &FieldError{
				Field:  f.Name,
				Offset: f.Offset,
				Err:    fmt.Errorf("%w: shape reference %q is not a scalar integer", ErrInvalidValue, d.Ref),
			}
		}
		n := v.Int64()
		if n < 0 {
			return nil, &FieldError{
				Field:  f.Name,
				Offset: f.Offset,
				Err:    fmt.Errorf("%w: shape reference %q is negative (%d)", ErrInvalidValue, d.Ref, n),
			}
		}
		out[i] = int(n)
	}
	return out, nil
}

// ByteSize is the encoded size of the field for a resolved shape.
func (f Field) ByteSize(shape []int) int {
	return elemCount(shape) * f.DType.Size
}

// StaticSize returns the encoded size when the shape has no references.
func (f Field) StaticSize() (int, bool) {
	if f.HasDependentShape() {
		return 0, false
	}
	shape, _ := f.ResolveShape(nil)
	return f.ByteSize(shape), true
}

// ToJSON converts a decoded value of this field into its JSON-safe form.
func (f Field) ToJSON(v Value) (any, error) {
	if v.DType != f.DType {
		return nil, &FieldError{Field: f.Name, Offset: f.Offset, Err: fmt.Errorf("%w: dtype %s, want %s", ErrInvalidValue, v.DType, f.DType)}
	}
	j, err := v.JSON()
	if err != nil {
		return nil, &FieldError{Field: f.Name, Offset: f.Offset, Err: err}
	}
	return j, nil
}

// FromJSON converts a JSON-safe value into this field's typed value, using
// previously converted siblings to resolve a dependent shape.
func (f Field) FromJSON(x any, decoded *Header) (Value, error) {
	shape, err := f.ResolveShape(decoded)
	if err != nil {
		return Value{}, err
	}
	v, err := FromJSON(f.DType, shape, x)
	if err != nil {
		return Value{}, &FieldError{Field: f.Name, Offset: f.Offset, Err: err}
	}
	return v, nil
}
