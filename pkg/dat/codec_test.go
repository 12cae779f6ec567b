package dat

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestHeaderRoundTripEveryVersion(t *testing.T) {
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
		hb, err := c.EncodeHeader(h)
		if err != nil {
			t.Fatalf("v%d: encode: %v", version, err)
		}
		if len(hb) != c.HeaderLength() {
			t.Fatalf("v%d: header length got %d want %d", version, len(hb), c.HeaderLength())
		}

		decoded, err := c.DecodeHeader(hb, DecodeOptions{})
		if err != nil {
			t.Fatalf("v%d: decode: %v", version, err)
		}
		again, err := c.EncodeHeader(decoded.StripDerived())
		if err != nil {
			t.Fatalf("v%d: re-encode: %v", version, err)
		}
		if !bytes.Equal(hb, again) {
			t.Fatalf("v%d: header bytes changed across decode/encode", version)
		}

		s, _ := c.Registry().Schema(version)
		spacers, err := s.Spacers(decoded)
		if err != nil {
			t.Fatalf("v%d: spacers: %v", version, err)
		}
		for _, sp := range spacers {
			if !bytes.Equal(hb[sp.Offset:sp.Offset+sp.Length], make([]byte, sp.Length)) {
				t.Fatalf("v%d: spacer at %d (%d bytes) is not zero", version, sp.Offset, sp.Length)
			}
		}
		for name, want := range h.All() {
			got, ok := decoded.Get(name)
			if !ok || !got.Equal(want) {
				t.Fatalf("v%d: field %s got %v want %v", version, name, got, want)
			}
		}
	}
}

func TestDecodeHeaderDerivedEntries(t *testing.T) {
	t.Parallel()

	c := testCodec(t)
	h := buildHeader(t, c, 8, map[string]any{"Mode": 1, "SWdate": "14/10/2021", "MillingPIDOn": 1})
	hb, err := c.EncodeHeader(h)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := c.DecodeHeader(hb, DecodeOptions{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	tests := map[string]string{
		"Mode" + EnumNameSuffix:         "FIB",
		"MillingPIDOn" + EnumNameSuffix: "On",
		"SWdate" + DateSuffix:           "2021-10-14",
	}
	for name, want := range tests {
		got, ok := decoded.Derived(name)
		if !ok || got != want {
			t.Fatalf("derived %s got %q (present=%v) want %q", name, got, ok, want)
		}
	}
	mode, _ := decoded.Get("Mode")
	if mode.Int64() != 1 {
		t.Fatalf("raw Mode got %d want 1", mode.Int64())
	}

	// Derived entries never reach the bytes.
	withDerived, err := c.EncodeHeader(decoded)
	if err != nil {
		t.Fatalf("encode with derived: %v", err)
	}
	if !bytes.Equal(withDerived, hb) {
		t.Fatalf("derived entries changed encoded header")
	}

	skipped, err := c.DecodeHeader(hb, DecodeOptions{SkipDerived: true})
	if err != nil {
		t.Fatalf("decode skip derived: %v", err)
	}
	if _, ok := skipped.Derived("Mode" + EnumNameSuffix); ok {
		t.Fatalf("SkipDerived still produced enum name")
	}
}

func TestDecodeHeaderUnknownEnumCode(t *testing.T) {
	t.Parallel()

	c := testCodec(t)
	hb, err := c.EncodeHeader(buildHeader(t, c, 7, map[string]any{"Mode": 99}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	w := &warnRecorder{}
	decoded, err := c.DecodeHeader(hb, DecodeOptions{Logger: w})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := decoded.Derived("Mode" + EnumNameSuffix); ok {
		t.Fatalf("unexpected name for unknown code")
	}
	if len(w.msgs) != 1 {
		t.Fatalf("warnings got %d want 1", len(w.msgs))
	}
}

func TestDecodeHeaderRejectsBadInput(t *testing.T) {
	t.Parallel()

	c := testCodec(t)
	good, err := c.EncodeHeader(buildHeader(t, c, 7, nil))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	badMagic := bytes.Clone(good)
	binary.BigEndian.PutUint32(badMagic[0:], 12345)
	if _, err := c.DecodeHeader(badMagic, DecodeOptions{}); !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("bad magic got %v want ErrInvalidMagic", err)
	}

	unknown := bytes.Clone(good)
	binary.BigEndian.PutUint16(unknown[4:], 42)
	if _, err := c.DecodeHeader(unknown, DecodeOptions{}); !errors.Is(err, ErrUnknownSchemaVersion) {
		t.Fatalf("unknown version got %v want ErrUnknownSchemaVersion", err)
	}

	bootstrap := bytes.Clone(good)
	binary.BigEndian.PutUint16(bootstrap[4:], BootstrapVersion)
	if _, err := c.DecodeHeader(bootstrap, DecodeOptions{}); !errors.Is(err, ErrUnknownSchemaVersion) {
		t.Fatalf("version 0 got %v want ErrUnknownSchemaVersion", err)
	}
}

func TestDecodeHeaderUnpaddedDate(t *testing.T) {
	t.Parallel()

	c := testCodec(t)
	hb, err := c.EncodeHeader(buildHeader(t, c, 8, map[string]any{"SWdate": "1/2/2020"}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	h, err := c.DecodeHeader(hb, DecodeOptions{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got, ok := h.Derived("SWdate" + DateSuffix); !ok || got != "2020-02-01" {
		t.Fatalf("derived date got %q (present=%v) want 2020-02-01", got, ok)
	}
}

func TestDecodeHeaderTruncation(t *testing.T) {
	t.Parallel()

	c := testCodec(t)
	hb, err := c.EncodeHeader(buildHeader(t, c, 7, map[string]any{"FileLength": 5000}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	short := hb[:1000] // FileLength (offset 1000, 8 bytes) is missing entirely

	_, err = c.DecodeHeader(short, DecodeOptions{EOF: EOFError})
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("error policy got %v want ErrTruncated", err)
	}
	var fe *FieldError
	if !errors.As(err, &fe) || fe.Field != "FileLength" {
		t.Fatalf("error policy got %v want FieldError for FileLength", err)
	}

	w := &warnRecorder{}
	h, err := c.DecodeHeader(short, DecodeOptions{EOF: EOFWarn, Fill: -1, Logger: w})
	if err != nil {
		t.Fatalf("warn policy: %v", err)
	}
	v, _ := h.Get("FileLength")
	if v.Int64() != -1 {
		t.Fatalf("padded FileLength got %d want -1", v.Int64())
	}
	pads := h.Padded()
	if len(pads) != 1 || pads[0].Field != "FileLength" || pads[0].Want != 1 || pads[0].Got != 0 {
		t.Fatalf("padding records got %+v", pads)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("warnings got %d want 1", len(w.msgs))
	}

	w = &warnRecorder{}
	h, err = c.DecodeHeader(short, DecodeOptions{EOF: EOFIgnore, Fill: -1, Logger: w})
	if err != nil {
		t.Fatalf("ignore policy: %v", err)
	}
	v, _ = h.Get("FileLength")
	if v.Int64() != 0 || len(w.msgs) != 0 {
		t.Fatalf("ignore policy got FileLength=%d warnings=%d, want 0 and 0", v.Int64(), len(w.msgs))
	}
}

func TestEncodeHeaderMissingField(t *testing.T) {
	t.Parallel()

	c := testCodec(t)
	h := buildHeader(t, c, 7, nil)
	h.Delete("Notes")
	_, err := c.EncodeHeader(h)
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("got %v want ErrMissingField", err)
	}
	var fe *FieldError
	if !errors.As(err, &fe) || fe.Field != "Notes" {
		t.Fatalf("got %v want FieldError for Notes", err)
	}

	if _, err := c.EncodeHeader(NewHeader()); !errors.Is(err, ErrMissingField) {
		t.Fatalf("empty header got %v want ErrMissingField", err)
	}
}

func TestEncodeHeaderStaleDependentShape(t *testing.T) {
	t.Parallel()

	c := testCodec(t)
	h := buildHeader(t, c, 7, map[string]any{ChanNumField: 2})
	s, _ := c.Registry().Schema(7)
	if err := s.Set(h, ChanNumField, 3); err != nil {
		t.Fatalf("set ChanNum: %v", err)
	}
	// Scaling still holds 4x2 values.
	if _, err := c.EncodeHeader(h); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("got %v want ErrInvalidValue", err)
	}
}

func TestParseEOFBehavior(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want EOFBehavior
		ok   bool
	}{
		{"", EOFError, true},
		{"error", EOFError, true},
		{"WARN", EOFWarn, true},
		{"pad", EOFWarn, true},
		{"ignore", EOFIgnore, true},
		{"retry", EOFError, false},
	}
	for _, tt := range tests {
		got, err := ParseEOFBehavior(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Fatalf("ParseEOFBehavior(%q) got %v, %v want %v ok=%v", tt.in, got, err, tt.want, tt.ok)
		}
	}
}
