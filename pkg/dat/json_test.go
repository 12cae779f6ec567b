package dat

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
)

func TestJSONRoundTripEveryField(t *testing.T) {
	t.Parallel()

	c := testCodec(t)
	for _, version := range c.Registry().Versions() {
		if version == BootstrapVersion {
			continue
		}
		h, err := c.FromJSON(sampleValues(t, c, version))
		if err != nil {
			t.Fatalf("v%d: from json: %v", version, err)
		}
		fields, err := c.ToJSON(h, true)
		if err != nil {
			t.Fatalf("v%d: to json: %v", version, err)
		}
		data, err := json.Marshal(fields)
		if err != nil {
			t.Fatalf("v%d: marshal: %v", version, err)
		}
		values, err := DecodeJSON(data)
		if err != nil {
			t.Fatalf("v%d: decode: %v", version, err)
		}
		back, err := c.FromJSON(values)
		if err != nil {
			t.Fatalf("v%d: from decoded json: %v", version, err)
		}
		for name, want := range h.All() {
			got, ok := back.Get(name)
			if !ok || !got.Equal(want) {
				t.Fatalf("v%d: field %s got %v want %v", version, name, got, want)
			}
		}
	}
}

func TestToJSONOrderAndDerived(t *testing.T) {
	t.Parallel()

	c := testCodec(t)
	hb, err := c.EncodeHeader(buildHeader(t, c, 7, map[string]any{"Mode": 2}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	h, err := c.DecodeHeader(hb, DecodeOptions{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	fields, err := c.ToJSON(h, true)
	if err != nil {
		t.Fatalf("to json: %v", err)
	}
	keys := fields.Keys()
	if keys[0] != MagicField || keys[1] != FileVersionField {
		t.Fatalf("first keys got %v want schema order", keys[:2])
	}
	if got, _ := fields.Get("Mode" + EnumNameSuffix); got != "Mill" {
		t.Fatalf("Mode name got %v want Mill", got)
	}

	plain, err := c.ToJSON(h, false)
	if err != nil {
		t.Fatalf("to json: %v", err)
	}
	if _, ok := plain.Get("Mode" + EnumNameSuffix); ok {
		t.Fatalf("derived entry present without withDerived")
	}
	if plain.Len() != h.Len() {
		t.Fatalf("entries got %d want %d", plain.Len(), h.Len())
	}

	data, err := json.Marshal(plain)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.HasPrefix(string(data), `{"FileMagicNum":3555587570,"FileVersion":7,`) {
		t.Fatalf("marshalled prefix got %.60s", data)
	}

	plain.SortKeys()
	if got := plain.Keys()[0]; got != "AI1" {
		t.Fatalf("first sorted key got %s want AI1", got)
	}
}

func TestFromJSONRejects(t *testing.T) {
	t.Parallel()

	c := testCodec(t)
	base := sampleValues(t, c, 7)

	tests := []struct {
		name string
		edit func(map[string]any)
		want error
	}{
		{"no version", func(m map[string]any) { delete(m, FileVersionField) }, ErrMissingField},
		{"missing field", func(m map[string]any) { delete(m, "Notes") }, ErrMissingField},
		{"unknown field", func(m map[string]any) { m["Bogus"] = 1 }, ErrInvalidValue},
		{"out of range", func(m map[string]any) { m[ChanNumField] = 300 }, ErrInvalidValue},
		{"wrong shape", func(m map[string]any) { m["Scaling"] = []any{1.0} }, ErrInvalidValue},
		{"long string", func(m map[string]any) { m["DetA"] = strings.Repeat("x", 11) }, ErrInvalidValue},
		{"unknown version", func(m map[string]any) { m[FileVersionField] = 3 }, ErrUnknownSchemaVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := make(map[string]any, len(base))
			for k, v := range base {
				m[k] = v
			}
			tt.edit(m)
			if _, err := c.FromJSON(m); !errors.Is(err, tt.want) {
				t.Fatalf("got %v want %v", err, tt.want)
			}
		})
	}

	// Derived names are accepted and ignored.
	m := make(map[string]any, len(base)+1)
	for k, v := range base {
		m[k] = v
	}
	m["Mode"+EnumNameSuffix] = "FIB"
	if _, err := c.FromJSON(m); err != nil {
		t.Fatalf("derived key rejected: %v", err)
	}
}

func TestValueJSONSpecialFloats(t *testing.T) {
	t.Parallel()

	dt := DType{Kind: KindFloat, Size: 8}
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), -0.5} {
		v, err := Scalar(dt, f)
		if err != nil {
			t.Fatalf("scalar %v: %v", f, err)
		}
		j, err := v.JSON()
		if err != nil {
			t.Fatalf("json %v: %v", f, err)
		}
		back, err := FromJSON(dt, nil, j)
		if err != nil {
			t.Fatalf("from json %v: %v", j, err)
		}
		got := back.Float64()
		if !(got == f || math.IsNaN(got) && math.IsNaN(f)) {
			t.Fatalf("round trip %v got %v", f, got)
		}
	}

	bad, _ := NewValue(DType{Kind: KindBytes, Size: 2}, nil, []byte{0xff, 0xfe})
	if _, err := bad.JSON(); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("non-UTF-8 got %v want ErrInvalidValue", err)
	}

	txt, _ := Scalar(DType{Kind: KindBytes, Size: 6}, "ab")
	if diff := cmp.Diff([]byte("ab\x00\x00\x00\x00"), txt.Bytes()); diff != "" {
		t.Fatalf("padded string (-want +got):\n%s", diff)
	}
}
