package dat

import (
	"fmt"
	"math"
	"math/bits"
)

// Header fields that describe the image payload.
const (
	ChanNumField     = "ChanNum"
	XResolutionField = "XResolution"
	YResolutionField = "YResolution"
	EightBitField    = "EightBit"

	// ChannelPrefix prefixes the 1-based slot number in channel flag fields
	// and in container dataset names.
	ChannelPrefix = "AI"
	// MaxChannels is the number of channel slots in the format.
	MaxChannels = 4
)

// Channel is one present image plane.
type Channel struct {
	Slot  int // 1-based slot number
	Index int // 0-based position among present channels
	Data  Value
}

// Name is the channel's dataset name, e.g. "AI1".
func (c Channel) Name() string { return ChannelName(c.Slot) }

func ChannelName(slot int) string { return fmt.Sprintf("%s%d", ChannelPrefix, slot) }

// Layout is the payload geometry implied by a decoded header.
type Layout struct {
	Slots  []int // present slots, ascending
	X, Y   int
	DType  DType
	Format ChannelLayout
}

// ChannelBytes is the size of one channel plane.
func (l Layout) ChannelBytes() int { return l.X * l.Y * l.DType.Size }

// PayloadBytes is the size of the whole payload region.
func (l Layout) PayloadBytes() int { return len(l.Slots) * l.ChannelBytes() }

// Layout reads channel count, resolution, bit depth and channel flags from h.
// Schemas without AI<n> flags treat the first ChanNum slots as present.
func (c *Codec) Layout(h *Header) (Layout, error) {
	get := func(name string) (int64, error) {
		v, ok := h.Get(name)
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrMissingField, name)
		}
		if !v.IsScalar() || !v.DType.IsInteger() {
			return 0, fmt.Errorf("%w: %s is not a scalar integer", ErrInvalidValue, name)
		}
		n := v.Int64()
		if n < 0 {
			return 0, fmt.Errorf("%w: %s is negative (%d)", ErrInvalidValue, name, n)
		}
		return n, nil
	}

	l := Layout{Format: c.reg.format.ChannelLayout, DType: Int16BE}
	chans, err := get(ChanNumField)
	if err != nil {
		return Layout{}, err
	}
	x, err := get(XResolutionField)
	if err != nil {
		return Layout{}, err
	}
	y, err := get(YResolutionField)
	if err != nil {
		return Layout{}, err
	}
	l.X, l.Y = int(x), int(y)
	if eight, err := get(EightBitField); err != nil {
		return Layout{}, err
	} else if eight != 0 {
		l.DType = Uint8
	}

	flagged := false
	for slot := 1; slot <= MaxChannels; slot++ {
		v, ok := h.Get(ChannelName(slot))
		if !ok {
			continue
		}
		flagged = true
		if v.Int64() != 0 {
			l.Slots = append(l.Slots, slot)
		}
	}
	if !flagged {
		if chans > MaxChannels {
			return Layout{}, fmt.Errorf("%w: %s=%d exceeds %d slots", ErrChannelMismatch, ChanNumField, chans, MaxChannels)
		}
		for slot := 1; slot <= int(chans); slot++ {
			l.Slots = append(l.Slots, slot)
		}
	}
	if int64(len(l.Slots)) != chans {
		return Layout{}, fmt.Errorf("%w: %s=%d but %d slots flagged present", ErrChannelMismatch, ChanNumField, chans, len(l.Slots))
	}
	if _, ok := checkedProduct(x, y, int64(l.DType.Size), int64(len(l.Slots))); !ok {
		return Layout{}, fmt.Errorf("%w: %d x %d x %d channels of %s overflows the payload size",
			ErrInvalidValue, x, y, len(l.Slots), l.DType)
	}
	if _, ok := checkedProduct(x, y, int64(l.DType.Size)); !ok {
		return Layout{}, fmt.Errorf("%w: %d x %d %s plane overflows", ErrInvalidValue, x, y, l.DType)
	}
	return l, nil
}

// checkedProduct multiplies non-negative factors, reporting false when the
// result does not fit in an int.
func checkedProduct(factors ...int64) (int, bool) {
	p := uint64(1)
	for _, f := range factors {
		hi, lo := bits.Mul64(p, uint64(f))
		if hi != 0 || lo > math.MaxInt {
			return 0, false
		}
		p = lo
	}
	return int(p), true
}

// Split extracts the present channels from the payload following the header
// and returns everything after the payload as the footer. A buffer shorter
// than header plus payload yields padded channels and an empty footer, unless
// opts.EOF is EOFError.
func (c *Codec) Split(buf []byte, h *Header, opts DecodeOptions) ([]Channel, []byte, error) {
	l, err := c.Layout(h)
	if err != nil {
		return nil, nil, err
	}
	start := c.reg.format.HeaderLength
	size := l.PayloadBytes()
	raw, pad, err := readRegion(buf, start, size, l.DType, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("image payload: %w", err)
	}
	if pad != nil {
		opts.warn("input ended inside image payload; padding",
			"want_bytes", size, "got_bytes", pad.Got*l.DType.Size, "fill", pad.Fill)
	}

	chans := make([]Channel, len(l.Slots))
	n := l.X * l.Y
	for i, slot := range l.Slots {
		plane := make([]byte, l.ChannelBytes())
		switch l.Format {
		case LayoutInterleaved:
			// (C, X, Y) column-major: element (i, k) of the flattened plane
			// sits at i + C*k.
			es := l.DType.Size
			for k := range n {
				src := (i + len(l.Slots)*k) * es
				copy(plane[k*es:(k+1)*es], raw[src:src+es])
			}
		default:
			copy(plane, raw[i*len(plane):(i+1)*len(plane)])
		}
		chans[i] = Channel{Slot: slot, Index: i, Data: Value{DType: l.DType, Shape: []int{l.X, l.Y}, raw: plane}}
	}

	var footer []byte
	if end := start + size; end < len(buf) {
		footer = append([]byte{}, buf[end:]...)
	} else {
		footer = []byte{}
	}
	return chans, footer, nil
}

// Join concatenates header bytes, the channel planes in slot order and the
// footer. Planes must share one element type and shape.
func (c *Codec) Join(header []byte, channels []Value, footer []byte) ([]byte, error) {
	var per int
	for i, ch := range channels {
		if len(ch.Shape) != 2 {
			return nil, fmt.Errorf("%w: channel %d has shape %v, want 2-D", ErrInvalidValue, i, ch.Shape)
		}
		if i > 0 && (ch.DType != channels[0].DType || !sameShape(ch.Shape, channels[0].Shape)) {
			return nil, fmt.Errorf("%w: channel %d is %s %v, channel 0 is %s %v",
				ErrChannelMismatch, i, ch.DType, ch.Shape, channels[0].DType, channels[0].Shape)
		}
		per = ch.ByteLen()
	}

	out := make([]byte, 0, len(header)+per*len(channels)+len(footer))
	out = append(out, header...)
	switch c.reg.format.ChannelLayout {
	case LayoutInterleaved:
		if len(channels) > 0 {
			es := channels[0].DType.Size
			n := per / es
			stack := make([]byte, per*len(channels))
			for i, ch := range channels {
				for k := range n {
					dst := (i + len(channels)*k) * es
					copy(stack[dst:dst+es], ch.raw[k*es:(k+1)*es])
				}
			}
			out = append(out, stack...)
		}
	default:
		for _, ch := range channels {
			out = append(out, ch.raw...)
		}
	}
	return append(out, footer...), nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Record is a fully parsed file.
type Record struct {
	Header      *Header
	HeaderBytes []byte // exactly HeaderLength bytes; zero-padded if the input was short
	Channels    []Channel
	Footer      []byte
	// Size is the length of the input buffer.
	Size int64
	// Truncated is set when the input ended before the payload did.
	Truncated bool
}

// Parse decodes the header, splits the payload and keeps the raw header.
func (c *Codec) Parse(buf []byte, opts DecodeOptions) (*Record, error) {
	h, err := c.DecodeHeader(buf, opts)
	if err != nil {
		return nil, err
	}
	chans, footer, err := c.Split(buf, h, opts)
	if err != nil {
		return nil, err
	}
	hb := make([]byte, c.reg.format.HeaderLength)
	copy(hb, buf)

	rec := &Record{Header: h, HeaderBytes: hb, Channels: chans, Footer: footer, Size: int64(len(buf))}
	if l, err := c.Layout(h); err == nil {
		rec.Truncated = len(buf) < c.reg.format.HeaderLength+l.PayloadBytes()
	}
	return rec, nil
}

// ChannelValues returns the channel data in slot order, as Join expects.
func (r *Record) ChannelValues() []Value {
	out := make([]Value, len(r.Channels))
	for i, ch := range r.Channels {
		out[i] = ch.Data
	}
	return out
}
