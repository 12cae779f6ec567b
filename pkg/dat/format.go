package dat

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// ChannelLayout selects how channel planes are arranged in the payload.
type ChannelLayout string

const (
	// LayoutPlanar stores each present channel's X×Y block, column-major,
	// one after another in slot order.
	LayoutPlanar ChannelLayout = "planar"
	// LayoutInterleaved views the payload as a (C, X, Y) column-major array,
	// so samples of all channels alternate.
	LayoutInterleaved ChannelLayout = "interleaved"
)

// Format holds the constants shared by every schema version.
type Format struct {
	HeaderLength  int           `toml:"data_offset"`
	MagicNumber   uint64        `toml:"magic_number"`
	ByteOrder     string        `toml:"byte_endianness"`
	ArrayOrder    string        `toml:"array_order"`
	DateFormat    string        `toml:"date_format"`
	DateFields    []string      `toml:"date_fields"`
	ChannelLayout ChannelLayout `toml:"channel_layout"`
}

// DefaultFormat matches the embedded misc.toml.
func DefaultFormat() Format {
	return Format{
		HeaderLength:  1024,
		MagicNumber:   3555587570,
		ByteOrder:     ">",
		ArrayOrder:    "F",
		DateFormat:    "%d/%m/%Y",
		DateFields:    []string{"SWdate"},
		ChannelLayout: LayoutPlanar,
	}
}

// ParseFormat decodes a misc.toml document. Keys that are absent keep their
// defaults.
func ParseFormat(data []byte) (Format, error) {
	f := DefaultFormat()
	if _, err := toml.Decode(string(data), &f); err != nil {
		return Format{}, fmt.Errorf("%w: misc.toml: %v", ErrSchemaLoad, err)
	}
	if err := f.validate(); err != nil {
		return Format{}, err
	}
	return f, nil
}

func (f Format) validate() error {
	if f.HeaderLength <= 0 {
		return fmt.Errorf("%w: misc.toml: data_offset must be positive, got %d", ErrSchemaLoad, f.HeaderLength)
	}
	switch strings.ToLower(f.ByteOrder) {
	case ">", "big", "!":
	default:
		return fmt.Errorf("%w: misc.toml: only big-endian data is supported, got %q", ErrSchemaLoad, f.ByteOrder)
	}
	if f.ArrayOrder != "F" {
		return fmt.Errorf("%w: misc.toml: only column-major (F) arrays are supported, got %q", ErrSchemaLoad, f.ArrayOrder)
	}
	switch f.ChannelLayout {
	case LayoutPlanar, LayoutInterleaved:
	default:
		return fmt.Errorf("%w: misc.toml: unknown channel_layout %q", ErrSchemaLoad, f.ChannelLayout)
	}
	return nil
}

// GoDateLayout converts the strftime-style date format into a time layout.
func (f Format) GoDateLayout() (string, error) {
	return strftimeLayout(f.DateFormat)
}

var strftimeCodes = map[byte]string{
	'd': "2",
	'm': "1",
	'Y': "2006",
	'y': "06",
	'H': "15",
	'M': "04",
	'S': "05",
	'b': "Jan",
	'B': "January",
	'p': "PM",
	'%': "%",
}

func strftimeLayout(s string) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			sb.WriteByte(s[i])
			continue
		}
		if i+1 >= len(s) {
			return "", fmt.Errorf("dangling %% in date format %q", s)
		}
		i++
		code, ok := strftimeCodes[s[i]]
		if !ok {
			return "", fmt.Errorf("unsupported date directive %%%c in %q", s[i], s)
		}
		sb.WriteString(code)
	}
	return sb.String(), nil
}
