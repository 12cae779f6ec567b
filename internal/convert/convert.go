// Package convert moves .dat files into containers and back.
package convert

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/samcharles93/datconv/internal/container"
	"github.com/samcharles93/datconv/internal/datfile"
	"github.com/samcharles93/datconv/internal/logger"
	"github.com/samcharles93/datconv/internal/version"
	"github.com/samcharles93/datconv/pkg/dat"
)

// Group attribute keys written next to the header fields.
const (
	AttrHeader     = "_header"
	AttrFooter     = "_footer"
	AttrByteCount  = "_dat_nbytes"
	AttrVersion    = "_conversion_version"
	AttrComplete   = "_conversion_complete"
	AttrID         = "_conversion_id"
	AttrSourceName = "_source_name"
)

// ErrIncomplete marks a container whose conversion never finished.
var ErrIncomplete = errors.New("convert: container conversion is incomplete")

// ErrMissingChannel marks a container without a dataset for a channel its
// header flags as present.
var ErrMissingChannel = errors.New("convert: container lacks a present channel")

type Options struct {
	EOF         dat.EOFBehavior
	Fill        int64
	Compression container.Compression
	Overwrite   bool
	// MinMax adds min and max attributes to each channel dataset.
	MinMax bool
}

// Converter is safe for concurrent use; it only reads its codec.
type Converter struct {
	codec *dat.Codec
	log   logger.Logger
}

func New(codec *dat.Codec, log logger.Logger) *Converter {
	if log == nil {
		log = logger.Discard()
	}
	return &Converter{codec: codec, log: log}
}

func (c *Converter) Codec() *dat.Codec { return c.codec }

// Result summarises one conversion.
type Result struct {
	Source      string
	Dest        string
	ID          string
	Version     int
	Bytes       int64
	Channels    []string
	FooterBytes int
	Truncated   bool
}

// DatToContainer converts one file. The completion flag is written last, so
// a container interrupted midway is recognisable.
func (c *Converter) DatToContainer(src, dst string, opts Options) (*Result, error) {
	log := c.log.With("source", src)
	f, err := datfile.Open(src)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	rec, err := c.codec.Parse(f.Data, dat.DecodeOptions{EOF: opts.EOF, Fill: opts.Fill, Logger: log})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src, err)
	}
	attrs, err := c.codec.ToJSON(rec.Header, true)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src, err)
	}
	id := uuid.NewString()
	attrs.Set(AttrHeader, hex.EncodeToString(storedHeader(rec)))
	attrs.Set(AttrFooter, hex.EncodeToString(rec.Footer))
	attrs.Set(AttrByteCount, rec.Size)
	attrs.Set(AttrVersion, version.String())
	attrs.Set(AttrID, id)
	attrs.Set(AttrSourceName, sourceName(src))
	attrs.Set(AttrComplete, false)

	store, err := container.Create(dst, container.Options{Compression: opts.Compression, Overwrite: opts.Overwrite})
	if err != nil {
		return nil, err
	}
	if err := store.SetAttrs(attrs); err != nil {
		return nil, err
	}

	res := &Result{
		Source:      src,
		Dest:        dst,
		ID:          id,
		Bytes:       rec.Size,
		FooterBytes: len(rec.Footer),
		Truncated:   rec.Truncated,
	}
	res.Version, _ = rec.Header.Version()
	for _, ch := range rec.Channels {
		var dsAttrs map[string]any
		if opts.MinMax {
			lo, hi := minMax(ch.Data)
			dsAttrs = map[string]any{"min": lo, "max": hi}
		}
		if err := store.WriteArray(ch.Name(), ch.Data, dsAttrs); err != nil {
			return nil, fmt.Errorf("write %s: %w", ch.Name(), err)
		}
		res.Channels = append(res.Channels, ch.Name())
		log.Debug("wrote channel", "name", ch.Name(), "shape", ch.Data.Shape, "dtype", ch.Data.DType.String())
	}

	attrs.Set(AttrComplete, true)
	if err := store.SetAttrs(attrs); err != nil {
		return nil, err
	}
	return res, nil
}

// storedHeader keeps only the header bytes actually present in the input.
func storedHeader(rec *dat.Record) []byte {
	n := min(int64(len(rec.HeaderBytes)), rec.Size)
	return rec.HeaderBytes[:n]
}

func sourceName(path string) string {
	if path == datfile.Stdin {
		return "<stdin>"
	}
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

func minMax(v dat.Value) (int64, int64) {
	if v.Len() == 0 {
		return 0, 0
	}
	lo, hi := v.Int64At(0), v.Int64At(0)
	for i := 1; i < v.Len(); i++ {
		x := v.Int64At(i)
		lo, hi = min(lo, x), max(hi, x)
	}
	return lo, hi
}

// Stored is what ContainerToBytes read back besides the bytes.
type Stored struct {
	Header    *dat.Header
	ByteCount int64
	ID        string
	Version   string
}

// ContainerToBytes reconstructs the original .dat bytes from a container.
func (c *Converter) ContainerToBytes(path string) ([]byte, *Stored, error) {
	store, err := container.Open(path)
	if err != nil {
		return nil, nil, err
	}
	attrs, err := store.Attrs()
	if err != nil {
		return nil, nil, err
	}
	if done, _ := attrs[AttrComplete].(bool); !done {
		return nil, nil, fmt.Errorf("%w: %s", ErrIncomplete, path)
	}

	headerRaw, err := hexAttr(attrs, AttrHeader)
	if err != nil {
		return nil, nil, err
	}
	footer, err := hexAttr(attrs, AttrFooter)
	if err != nil {
		return nil, nil, err
	}
	nbytes, err := intAttr(attrs, AttrByteCount)
	if err != nil {
		return nil, nil, err
	}

	fields := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if !strings.HasPrefix(k, "_") {
			fields[k] = v
		}
	}
	h, err := c.codec.FromJSON(fields)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}

	layout, err := c.codec.Layout(h)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	var missing []string
	for _, slot := range layout.Slots {
		if name := dat.ChannelName(slot); !store.HasArray(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, nil, fmt.Errorf("%w: %s: %s", ErrMissingChannel, path, strings.Join(missing, ", "))
	}
	channels := make([]dat.Value, 0, len(layout.Slots))
	for _, slot := range layout.Slots {
		v, _, err := store.ReadArray(dat.ChannelName(slot))
		if err != nil {
			return nil, nil, err
		}
		channels = append(channels, v)
	}

	out, err := c.codec.Reconstruct(h, channels, footer, dat.ReconstructOptions{
		StoredHeader: headerRaw,
		ExpectedSize: nbytes,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	st := &Stored{Header: h, ByteCount: nbytes}
	st.ID, _ = attrs[AttrID].(string)
	st.Version, _ = attrs[AttrVersion].(string)
	return out, st, nil
}

func hexAttr(attrs map[string]any, key string) ([]byte, error) {
	s, ok := attrs[key].(string)
	if !ok {
		return nil, fmt.Errorf("%w: attribute %s missing or not a string", container.ErrMetadata, key)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: attribute %s: %v", container.ErrMetadata, key, err)
	}
	return b, nil
}

func intAttr(attrs map[string]any, key string) (int64, error) {
	switch v := attrs[key].(type) {
	case json.Number:
		return v.Int64()
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("%w: attribute %s missing or not a number", container.ErrMetadata, key)
	}
}

// Verify reconstructs the container and compares it with the original file
// on disk, streaming the original.
func (c *Converter) Verify(datPath, containerPath string, full bool) (dat.Verification, error) {
	rebuilt, st, err := c.ContainerToBytes(containerPath)
	if err != nil {
		return dat.Verification{}, err
	}
	var in *os.File
	if datPath == datfile.Stdin {
		in = os.Stdin
	} else {
		if in, err = os.Open(datPath); err != nil {
			return dat.Verification{}, err
		}
		defer func() { _ = in.Close() }()
	}
	return dat.VerifyReader(in, rebuilt, dat.VerifyOptions{Full: full, OriginalSize: st.ByteCount})
}
