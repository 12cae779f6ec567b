package dat

import (
	"errors"
	"fmt"
)

var (
	ErrSchemaLoad           = errors.New("dat: malformed schema definition")
	ErrEnumLoad             = errors.New("dat: malformed enum definition")
	ErrUnknownSchemaVersion = errors.New("dat: unknown schema version")
	ErrTruncated            = errors.New("dat: truncated input")
	ErrUnresolvedDependency = errors.New("dat: unresolved shape dependency")
	ErrHeaderMismatch       = errors.New("dat: stored header does not match encoded header")
	ErrMissingField         = errors.New("dat: missing field")
	ErrFieldOverlap         = errors.New("dat: overlapping fields")
	ErrChannelMismatch      = errors.New("dat: channel flags disagree with channel count")
	ErrInvalidValue         = errors.New("dat: invalid field value")
	ErrInvalidMagic         = errors.New("dat: invalid magic number")
)

// SchemaError reports a problem with one definition row or field.
// It unwraps to both ErrSchemaLoad and the specific cause.
type SchemaError struct {
	Version int
	Field   string
	Line    int
	Err     error
}

func (e *SchemaError) Error() string {
	loc := fmt.Sprintf("schema v%d", e.Version)
	if e.Line > 0 {
		loc += fmt.Sprintf(" line %d", e.Line)
	}
	if e.Field != "" {
		loc += fmt.Sprintf(" field %q", e.Field)
	}
	return fmt.Sprintf("%s: %s: %v", ErrSchemaLoad, loc, e.Err)
}

func (e *SchemaError) Unwrap() []error {
	return []error{ErrSchemaLoad, e.Err}
}

// FieldError reports a per-file decode or encode failure for a named field.
type FieldError struct {
	Field  string
	Offset int
	Err    error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q at byte %d: %v", e.Field, e.Offset, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}
