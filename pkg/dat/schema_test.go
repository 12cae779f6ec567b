package dat

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/multierr"
)

var versionField = Field{Name: FileVersionField, DType: DType{Kind: KindUint, Size: 2}, Offset: 0}

func smallCodec(t *testing.T, fields []Field) *Codec {
	t.Helper()
	boot, err := NewSchema(BootstrapVersion, 64, []Field{versionField})
	if err != nil {
		t.Fatalf("bootstrap schema: %v", err)
	}
	s, err := NewSchema(1, 64, fields)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	format := DefaultFormat()
	format.HeaderLength = 64
	format.MagicNumber = 0
	reg, err := NewRegistry(format, []*Schema{boot, s}, nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return NewCodec(reg)
}

func TestSelfReferentialShape(t *testing.T) {
	t.Parallel()

	fields := []Field{
		{Name: "Table", DType: Int16BE, Offset: 8, Shape: []Dim{{Size: 2}, {Ref: "N"}}},
		versionField,
		{Name: "N", DType: Uint8, Offset: 2},
	}
	c := smallCodec(t, fields)

	buf := make([]byte, 64)
	buf[1] = 1 // FileVersion
	buf[2] = 3 // N
	for i := range 6 {
		buf[8+2*i+1] = byte(10 + i)
	}
	h, err := c.DecodeHeader(buf, DecodeOptions{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	table, _ := h.Get("Table")
	if diff := cmp.Diff([]int{2, 3}, table.Shape); diff != "" {
		t.Fatalf("shape (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{10, 11, 12, 13, 14, 15}, table.Int64s()); diff != "" {
		t.Fatalf("values (-want +got):\n%s", diff)
	}
	j, err := table.JSON()
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	want := []any{[]any{int64(10), int64(12), int64(14)}, []any{int64(11), int64(13), int64(15)}}
	if diff := cmp.Diff(want, j); diff != "" {
		t.Fatalf("json (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{FileVersionField, "N", "Table"}, h.Names()); diff != "" {
		t.Fatalf("decode order (-want +got):\n%s", diff)
	}

	// A size that no longer fits is caught while decoding.
	buf[2] = 200
	if _, err := c.DecodeHeader(buf, DecodeOptions{}); !errors.Is(err, ErrFieldOverlap) {
		t.Fatalf("oversized dependent shape got %v want ErrFieldOverlap", err)
	}
}

func TestNewSchemaRejectsForwardReference(t *testing.T) {
	t.Parallel()

	_, err := NewSchema(1, 64, []Field{
		versionField,
		{Name: "Table", DType: Int16BE, Offset: 2, Shape: []Dim{{Ref: "N"}}},
		{Name: "N", DType: Uint8, Offset: 20},
	})
	if !errors.Is(err, ErrUnresolvedDependency) {
		t.Fatalf("got %v want ErrUnresolvedDependency", err)
	}
	if !errors.Is(err, ErrSchemaLoad) {
		t.Fatalf("got %v want it to also match ErrSchemaLoad", err)
	}
}

func TestNewSchemaCollectsProblems(t *testing.T) {
	t.Parallel()

	_, err := NewSchema(1, 64, []Field{
		versionField,
		{Name: "A", DType: DType{Kind: KindUint, Size: 4}, Offset: 2},
		// B overlaps A, the second A is a duplicate, C is outside the
		// header and D references a field that does not exist.
		{Name: "B", DType: Uint8, Offset: 4},
		{Name: "A", DType: Uint8, Offset: 10},
		{Name: "C", DType: Uint8, Offset: 70},
		{Name: "D", DType: Uint8, Offset: 12, Shape: []Dim{{Ref: "Nope"}}},
		{Name: "E", DType: Uint8, Offset: 14, Shape: []Dim{{Ref: "Notes"}}},
		{Name: "Notes", DType: DType{Kind: KindBytes, Size: 2}, Offset: 13},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := len(multierr.Errors(err)); got < 5 {
		t.Fatalf("got %d problems want at least 5: %v", got, err)
	}
	if !errors.Is(err, ErrFieldOverlap) || !errors.Is(err, ErrUnresolvedDependency) {
		t.Fatalf("got %v want overlap and unresolved dependency", err)
	}
}

func TestSchemaSpacers(t *testing.T) {
	t.Parallel()

	s, err := NewSchema(1, 16, []Field{
		versionField,
		{Name: "A", DType: Uint8, Offset: 4},
		{Name: "B", DType: DType{Kind: KindBytes, Size: 3}, Offset: 5},
	})
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	got, err := s.Spacers(nil)
	if err != nil {
		t.Fatalf("spacers: %v", err)
	}
	want := []Spacer{{Offset: 2, Length: 2}, {Offset: 8, Length: 8}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("spacers (-want +got):\n%s", diff)
	}
}

func TestSchemaZero(t *testing.T) {
	t.Parallel()

	c := testCodec(t)
	s, _ := c.Registry().Schema(7)
	h, err := s.Zero()
	if err != nil {
		t.Fatalf("zero: %v", err)
	}
	if v, _ := h.Version(); v != 7 {
		t.Fatalf("version got %d want 7", v)
	}
	if h.Len() != s.Len() {
		t.Fatalf("fields got %d want %d", h.Len(), s.Len())
	}
}

func TestSchemaZeroWith(t *testing.T) {
	t.Parallel()

	c := testCodec(t)
	s, _ := c.Registry().Schema(9)
	h, err := s.ZeroWith(map[string]any{ChanNumField: 3})
	if err != nil {
		t.Fatalf("zero with: %v", err)
	}
	scaling, _ := h.Get("Scaling")
	if diff := cmp.Diff([]int{4, 3}, scaling.Shape); diff != "" {
		t.Fatalf("Scaling shape (-want +got):\n%s", diff)
	}
	offsets, _ := h.Get("ChannelOffsets")
	if diff := cmp.Diff([]int{3}, offsets.Shape); diff != "" {
		t.Fatalf("ChannelOffsets shape (-want +got):\n%s", diff)
	}

	if _, err := s.ZeroWith(map[string]any{"NoSuchField": 1}); !errors.Is(err, ErrMissingField) {
		t.Fatalf("unknown preset got %v want ErrMissingField", err)
	}
}
