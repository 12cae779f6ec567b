package convert

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"go.uber.org/multierr"

	"github.com/samcharles93/datconv/internal/container"
	"github.com/samcharles93/datconv/pkg/dat"
)

func testConverter(t *testing.T) *Converter {
	t.Helper()
	reg, err := dat.Default()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return New(dat.NewCodec(reg), nil)
}

// writeDat writes a two-channel 16-bit v8 file with a footer.
func writeDat(t *testing.T, c *Converter, dir, name string) (string, []byte) {
	t.Helper()
	codec := c.Codec()
	s, err := codec.Registry().Schema(8)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	h, err := s.Zero()
	if err != nil {
		t.Fatalf("zero: %v", err)
	}
	set := []struct {
		name string
		v    any
	}{
		{dat.MagicField, codec.Registry().Format().MagicNumber},
		{dat.ChanNumField, 2},
		{"Scaling", []any{[]any{1.0, 2.0}, []any{0.5, 0.25}, []any{0.0, 0.0}, []any{-1.0, 3.0}}},
		{dat.XResolutionField, 3},
		{dat.YResolutionField, 2},
		{"AI1", 1},
		{"AI4", 1},
		{"Mode", 0},
		{"SWdate", "01/02/2020"},
		{"Notes", "synthetic"},
	}
	for _, kv := range set {
		if err := s.Set(h, kv.name, kv.v); err != nil {
			t.Fatalf("set %s: %v", kv.name, err)
		}
	}
	hb, err := codec.EncodeHeader(h)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	file := bytes.Clone(hb)
	for i := range 12 {
		file = append(file, byte(i>>8), byte(i*37))
	}
	file = append(file, "tail-bytes"...)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, file, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path, file
}

func TestDatToContainerRoundTrip(t *testing.T) {
	t.Parallel()

	c := testConverter(t)
	dir := t.TempDir()
	src, file := writeDat(t, c, dir, "a.dat")

	for _, comp := range []container.Compression{container.CompressionNone, container.CompressionZstd} {
		dst := filepath.Join(dir, string(comp)+".zarr")
		res, err := c.DatToContainer(src, dst, Options{Compression: comp, MinMax: true})
		if err != nil {
			t.Fatalf("%s: convert: %v", comp, err)
		}
		if res.Version != 8 || res.Bytes != int64(len(file)) || res.FooterBytes != len("tail-bytes") {
			t.Fatalf("%s: result got %+v", comp, res)
		}
		if len(res.Channels) != 2 || res.Channels[0] != "AI1" || res.Channels[1] != "AI4" {
			t.Fatalf("%s: channels got %v", comp, res.Channels)
		}

		store, err := container.Open(dst)
		if err != nil {
			t.Fatalf("%s: open: %v", comp, err)
		}
		attrs, err := store.Attrs()
		if err != nil {
			t.Fatalf("%s: attrs: %v", comp, err)
		}
		if attrs[AttrComplete] != true || attrs["Mode__name"] != "SEM" || attrs["SWdate__iso"] != "2020-02-01" {
			t.Fatalf("%s: attrs got complete=%v mode=%v date=%v", comp, attrs[AttrComplete], attrs["Mode__name"], attrs["SWdate__iso"])
		}
		if attrs[AttrByteCount] != json.Number("1058") {
			t.Fatalf("%s: byte count got %v", comp, attrs[AttrByteCount])
		}
		_, dsAttrs, err := store.ReadArray("AI4")
		if err != nil {
			t.Fatalf("%s: read AI4: %v", comp, err)
		}
		if _, ok := dsAttrs["max"]; !ok {
			t.Fatalf("%s: AI4 attrs missing max: %v", comp, dsAttrs)
		}

		rebuilt, st, err := c.ContainerToBytes(dst)
		if err != nil {
			t.Fatalf("%s: reconstruct: %v", comp, err)
		}
		if !bytes.Equal(rebuilt, file) {
			t.Fatalf("%s: reconstructed bytes differ", comp)
		}
		if st.ID != res.ID {
			t.Fatalf("%s: id got %q want %q", comp, st.ID, res.ID)
		}

		v, err := c.Verify(src, dst, true)
		if err != nil {
			t.Fatalf("%s: verify: %v", comp, err)
		}
		if !v.Match {
			t.Fatalf("%s: verify: %s", comp, v)
		}
	}
}

func TestContainerToBytesIncomplete(t *testing.T) {
	t.Parallel()

	c := testConverter(t)
	dir := t.TempDir()
	src, _ := writeDat(t, c, dir, "a.dat")
	dst := filepath.Join(dir, "a.zarr")
	if _, err := c.DatToContainer(src, dst, Options{}); err != nil {
		t.Fatalf("convert: %v", err)
	}
	store, _ := container.Open(dst)
	if err := store.UpdateAttrs(map[string]any{AttrComplete: false}); err != nil {
		t.Fatalf("update attrs: %v", err)
	}
	if _, _, err := c.ContainerToBytes(dst); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("got %v want ErrIncomplete", err)
	}
}

func TestContainerToBytesMissingChannel(t *testing.T) {
	t.Parallel()

	c := testConverter(t)
	dir := t.TempDir()
	src, _ := writeDat(t, c, dir, "a.dat")
	dst := filepath.Join(dir, "a.zarr")
	if _, err := c.DatToContainer(src, dst, Options{}); err != nil {
		t.Fatalf("convert: %v", err)
	}
	if err := os.RemoveAll(filepath.Join(dst, "AI4")); err != nil {
		t.Fatalf("remove AI4: %v", err)
	}
	_, _, err := c.ContainerToBytes(dst)
	if !errors.Is(err, ErrMissingChannel) || !strings.Contains(err.Error(), "AI4") {
		t.Fatalf("got %v want ErrMissingChannel naming AI4", err)
	}
}

func TestVerifyDetectsTamperedHeaderAndPayload(t *testing.T) {
	t.Parallel()

	c := testConverter(t)
	dir := t.TempDir()
	src, file := writeDat(t, c, dir, "a.dat")
	dst := filepath.Join(dir, "a.zarr")
	if _, err := c.DatToContainer(src, dst, Options{}); err != nil {
		t.Fatalf("convert: %v", err)
	}

	// Edit a field attribute without touching the stored header blob.
	store, _ := container.Open(dst)
	if err := store.UpdateAttrs(map[string]any{"Notes": "edited"}); err != nil {
		t.Fatalf("update attrs: %v", err)
	}
	if _, _, err := c.ContainerToBytes(dst); !errors.Is(err, dat.ErrHeaderMismatch) {
		t.Fatalf("got %v want ErrHeaderMismatch", err)
	}
	if err := store.UpdateAttrs(map[string]any{"Notes": "synthetic"}); err != nil {
		t.Fatalf("restore attrs: %v", err)
	}

	tampered := bytes.Clone(file)
	tampered[1030] ^= 0x01
	if err := os.WriteFile(src, tampered, 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	v, err := c.Verify(src, dst, true)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if v.Match || v.Reason != dat.ReasonContent || v.FirstDiff != 1030 {
		t.Fatalf("verify got %+v want content mismatch at 1030", v)
	}

	if err := os.WriteFile(src, file[:len(file)-1], 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	v, err = c.Verify(src, dst, false)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if v.Match || v.Reason != dat.ReasonLength {
		t.Fatalf("verify got %+v want length mismatch", v)
	}
}

func TestBatch(t *testing.T) {
	t.Parallel()

	c := testConverter(t)
	dir := t.TempDir()
	a, _ := writeDat(t, c, dir, "a.dat")
	b, _ := writeDat(t, c, dir, "b.dat")
	bad := filepath.Join(dir, "bad.dat")
	if err := os.WriteFile(bad, []byte("not a dat file"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := filepath.Join(dir, "out")

	jobs := []Job{
		{Src: a, Dst: DefaultDest(a, out)},
		{Src: bad, Dst: DefaultDest(bad, out)},
		{Src: b, Dst: DefaultDest(b, out)},
	}
	outcomes, err := c.Batch(context.Background(), jobs, 2, Options{})
	if err == nil {
		t.Fatalf("expected an error for bad.dat")
	}
	if n := len(multierr.Errors(err)); n != 1 {
		t.Fatalf("errors got %d want 1", n)
	}
	if outcomes[0].Err != nil || outcomes[2].Err != nil || outcomes[1].Err == nil {
		t.Fatalf("outcomes got %+v", outcomes)
	}
	if _, err := os.Stat(filepath.Join(out, "b.zarr", ".zgroup")); err != nil {
		t.Fatalf("b.zarr not written: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcomes, err = c.Batch(ctx, jobs[:1], 1, Options{Overwrite: true})
	if !errors.Is(err, context.Canceled) || !errors.Is(outcomes[0].Err, context.Canceled) {
		t.Fatalf("cancelled batch got %v", err)
	}
}

func TestDefaultDest(t *testing.T) {
	t.Parallel()

	if got := DefaultDest("/data/run1/img.dat", ""); got != "/data/run1/img.zarr" {
		t.Fatalf("got %s", got)
	}
	if got := DefaultDest("img.dat", "/out"); got != "/out/img.zarr" {
		t.Fatalf("got %s", got)
	}
}
