package dat

import (
	"fmt"
	"testing"
)

func testCodec(t *testing.T) *Codec {
	t.Helper()
	reg, err := Default()
	if err != nil {
		t.Fatalf("load default registry: %v", err)
	}
	return NewCodec(reg)
}

// buildHeader returns a header for version with every field zero except
// those in set. FileVersion and the magic number are filled in.
func buildHeader(t *testing.T, c *Codec, version int, set map[string]any) *Header {
	t.Helper()
	s, err := c.Registry().Schema(version)
	if err != nil {
		t.Fatalf("schema v%d: %v", version, err)
	}
	h := NewHeader()
	for _, f := range s.Fields() {
		x, ok := set[f.Name]
		switch {
		case ok:
		case f.Name == FileVersionField:
			x, ok = version, true
		case f.Name == MagicField:
			x, ok = c.Registry().Format().MagicNumber, true
		}
		if ok {
			if err := s.Set(h, f.Name, x); err != nil {
				t.Fatalf("set %s: %v", f.Name, err)
			}
			continue
		}
		shape, err := f.ResolveShape(h)
		if err != nil {
			t.Fatalf("resolve %s: %v", f.Name, err)
		}
		v, err := NewValue(f.DType, shape, make([]byte, f.ByteSize(shape)))
		if err != nil {
			t.Fatalf("zero %s: %v", f.Name, err)
		}
		h.Set(f.Name, v)
	}
	return h
}

// sampleValues gives every field of a schema a distinct non-zero JSON value
// that survives the JSON round trip exactly.
func sampleValues(t *testing.T, c *Codec, version int) map[string]any {
	t.Helper()
	s, err := c.Registry().Schema(version)
	if err != nil {
		t.Fatalf("schema v%d: %v", version, err)
	}
	fixed := map[string]any{
		FileVersionField: version,
		MagicField:       c.Registry().Format().MagicNumber,
		ChanNumField:     2,
		XResolutionField: 4,
		YResolutionField: 3,
		EightBitField:    1,
		"AI1":            1,
		"AI2":            1,
		"AI3":            0,
		"AI4":            0,
		"SWdate":         "14/10/2021",
		"Mode":           1,
	}
	out := make(map[string]any, s.Len())
	h := NewHeader()
	for i, f := range s.Fields() {
		x, ok := fixed[f.Name]
		if !ok {
			shape, err := f.ResolveShape(h)
			if err != nil {
				t.Fatalf("resolve %s: %v", f.Name, err)
			}
			seed := i + 1
			x = sampleJSON(f.DType, shape, &seed)
		}
		if err := s.Set(h, f.Name, x); err != nil {
			t.Fatalf("set %s=%v: %v", f.Name, x, err)
		}
		out[f.Name] = x
	}
	return out
}

func sampleJSON(dt DType, shape []int, seed *int) any {
	if len(shape) == 0 {
		*seed++
		n := *seed
		switch dt.Kind {
		case KindUint:
			return n%100 + 1
		case KindInt:
			return -(n%100 + 1)
		case KindFloat:
			return float64(n) * 0.25
		default:
			s := fmt.Sprintf("v%d", n)
			if len(s) > dt.Size {
				s = s[:dt.Size]
			}
			return s
		}
	}
	out := make([]any, shape[0])
	for i := range out {
		out[i] = sampleJSON(dt, shape[1:], seed)
	}
	return out
}

// scenarioFile is the two-channel 8-bit v7 file: payload 0..23 then "FOOTR".
func scenarioFile(t *testing.T, c *Codec) []byte {
	t.Helper()
	h := buildHeader(t, c, 7, map[string]any{
		ChanNumField:     2,
		XResolutionField: 4,
		YResolutionField: 3,
		EightBitField:    1,
		"AI1":            1,
		"AI2":            1,
	})
	hb, err := c.EncodeHeader(h)
	if err != nil {
		t.Fatalf("encode scenario header: %v", err)
	}
	file := append([]byte{}, hb...)
	for i := range 24 {
		file = append(file, byte(i))
	}
	return append(file, "FOOTR"...)
}

type warnRecorder struct {
	msgs []string
}

func (w *warnRecorder) Warn(msg string, _ ...any) {
	w.msgs = append(w.msgs, msg)
}
