package dat

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/multierr"
)

var specColumns = []string{"name", "dtype", "offset", "shape"}

func newTSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	return cr
}

// ParseSpecTSV reads one schema definition: a header row naming the columns
// name, dtype, offset and shape (in any order), then one row per field.
func ParseSpecTSV(r io.Reader, version int) ([]Field, error) {
	cr := newTSVReader(r)
	head, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &SchemaError{Version: version, Err: fmt.Errorf("empty definition")}
		}
		return nil, &SchemaError{Version: version, Err: err}
	}
	cols := make(map[string]int, len(head))
	for i, h := range head {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range specColumns {
		if _, ok := cols[c]; !ok {
			return nil, &SchemaError{Version: version, Line: 1, Err: fmt.Errorf("missing column %q", c)}
		}
	}

	var (
		fields []Field
		errs   error
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			errs = multierr.Append(errs, &SchemaError{Version: version, Err: err})
			break
		}
		line, _ := cr.FieldPos(0)
		if len(rec) != len(head) {
			errs = multierr.Append(errs, &SchemaError{
				Version: version, Line: line,
				Err: fmt.Errorf("row has %d columns, header has %d", len(rec), len(head)),
			})
			continue
		}
		f, err := parseSpecRow(rec, cols)
		if err != nil {
			errs = multierr.Append(errs, &SchemaError{Version: version, Line: line, Field: f.Name, Err: err})
			continue
		}
		fields = append(fields, f)
	}
	if errs != nil {
		return nil, errs
	}
	return fields, nil
}

func parseSpecRow(rec []string, cols map[string]int) (Field, error) {
	f := Field{Name: strings.TrimSpace(rec[cols["name"]])}
	dt, err := ParseDType(strings.TrimSpace(rec[cols["dtype"]]))
	if err != nil {
		return f, err
	}
	f.DType = dt
	off, err := strconv.Atoi(strings.TrimSpace(rec[cols["offset"]]))
	if err != nil {
		return f, fmt.Errorf("unparsable offset %q", rec[cols["offset"]])
	}
	f.Offset = off
	shape, err := ParseShape(rec[cols["shape"]])
	if err != nil {
		return f, err
	}
	f.Shape = shape
	return f, nil
}

// ParseEnumTSV reads "code<TAB>name" rows without a header.
func ParseEnumTSV(r io.Reader, field string) ([]EnumEntry, error) {
	cr := newTSVReader(r)
	var (
		out  []EnumEntry
		errs error
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s: %v", ErrEnumLoad, field, err))
			break
		}
		line, _ := cr.FieldPos(0)
		if len(rec) != 2 {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s line %d: want 2 columns, got %d", ErrEnumLoad, field, line, len(rec)))
			continue
		}
		code, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s line %d: unparsable code %q", ErrEnumLoad, field, line, rec[0]))
			continue
		}
		out = append(out, EnumEntry{Value: code, Name: strings.TrimSpace(rec[1])})
	}
	if errs != nil {
		return nil, errs
	}
	return out, nil
}
