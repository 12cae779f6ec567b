// Package container stores converted files as a directory tree in the Zarr
// v2 nested layout: a group with JSON attributes holding one dataset per
// image channel, each written as a single column-major chunk.
package container

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/goccy/go-json"

	"github.com/samcharles93/datconv/pkg/dat"
)

const (
	groupFile = ".zgroup"
	attrsFile = ".zattrs"
	arrayFile = ".zarray"

	zarrFormat = 2
)

var (
	ErrNotContainer = errors.New("container: not a group directory")
	ErrNoArray      = errors.New("container: dataset not found")
	ErrMetadata     = errors.New("container: malformed metadata")
)

// Compression selects the chunk codec.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

// ParseCompression accepts "none" (or "") and "zstd".
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "raw":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return "", fmt.Errorf("unknown compression %q (want none or zstd)", s)
	}
}

type Options struct {
	Compression Compression
	// Overwrite removes an existing directory at the same path.
	Overwrite bool
}

// Store is one group directory.
type Store struct {
	root        string
	compression Compression
}

type groupMeta struct {
	ZarrFormat int `json:"zarr_format"`
}

type compressorMeta struct {
	ID    string `json:"id"`
	Level int    `json:"level,omitempty"`
}

type arrayMeta struct {
	ZarrFormat         int             `json:"zarr_format"`
	Shape              []int           `json:"shape"`
	Chunks             []int           `json:"chunks"`
	DType              string          `json:"dtype"`
	Compressor         *compressorMeta `json:"compressor"`
	FillValue          int             `json:"fill_value"`
	Order              string          `json:"order"`
	Filters            []any           `json:"filters"`
	DimensionSeparator string          `json:"dimension_separator"`
}

// Create makes a new group at root.
func Create(root string, opts Options) (*Store, error) {
	if opts.Compression == "" {
		opts.Compression = CompressionNone
	}
	switch opts.Compression {
	case CompressionNone, CompressionZstd:
	default:
		return nil, fmt.Errorf("unknown compression %q", opts.Compression)
	}
	if _, err := os.Stat(root); err == nil {
		if !opts.Overwrite {
			return nil, fmt.Errorf("create %s: %w", root, os.ErrExist)
		}
		if err := os.RemoveAll(root); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	s := &Store{root: root, compression: opts.Compression}
	if err := writeJSON(filepath.Join(root, groupFile), groupMeta{ZarrFormat: zarrFormat}); err != nil {
		return nil, err
	}
	if err := writeJSON(filepath.Join(root, attrsFile), map[string]any{}); err != nil {
		return nil, err
	}
	return s, nil
}

// Open opens an existing group.
func Open(root string) (*Store, error) {
	var g groupMeta
	if err := readJSON(filepath.Join(root, groupFile), &g); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotContainer, root)
		}
		return nil, err
	}
	if g.ZarrFormat != zarrFormat {
		return nil, fmt.Errorf("%w: %s: zarr_format %d", ErrMetadata, root, g.ZarrFormat)
	}
	return &Store{root: root, compression: CompressionNone}, nil
}

func (s *Store) Root() string { return s.root }

// Attrs reads the group attributes. Numbers are kept as json.Number.
func (s *Store) Attrs() (map[string]any, error) {
	return readAttrs(filepath.Join(s.root, attrsFile))
}

// SetAttrs replaces the group attributes with v, which must marshal to a
// JSON object.
func (s *Store) SetAttrs(v any) error {
	return writeJSON(filepath.Join(s.root, attrsFile), v)
}

// UpdateAttrs merges kv into the existing group attributes.
func (s *Store) UpdateAttrs(kv map[string]any) error {
	cur, err := s.Attrs()
	if err != nil {
		return err
	}
	for k, v := range kv {
		cur[k] = v
	}
	return s.SetAttrs(cur)
}

// WriteArray stores v as a dataset. v must be 1-D or 2-D.
func (s *Store) WriteArray(name string, v dat.Value, attrs map[string]any) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid dataset name %q", name)
	}
	dir := filepath.Join(s.root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	shape := v.Shape
	if shape == nil {
		shape = []int{1}
	}
	chunks := make([]int, len(shape))
	for i, d := range shape {
		chunks[i] = max(d, 1)
	}
	meta := arrayMeta{
		ZarrFormat:         zarrFormat,
		Shape:              shape,
		Chunks:             chunks,
		DType:              v.DType.String(),
		FillValue:          0,
		Order:              "F",
		DimensionSeparator: "/",
	}
	data := v.Bytes()
	if s.compression == CompressionZstd {
		var err error
		if data, meta.Compressor, err = chunkCodec.compress(data); err != nil {
			return fmt.Errorf("%s: zstd encode: %w", name, err)
		}
	}
	if err := writeFile(filepath.Join(dir, filepath.FromSlash(chunkKeyFor(len(shape)))), data); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, arrayFile), meta); err != nil {
		return err
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	return writeJSON(filepath.Join(dir, attrsFile), attrs)
}

// chunkKeyFor names the only chunk of an n-dimensional array, e.g. "0/0".
func chunkKeyFor(ndim int) string {
	return strings.TrimSuffix(strings.Repeat("0/", ndim), "/")
}

// ReadArray loads a dataset and its attributes.
func (s *Store) ReadArray(name string) (dat.Value, map[string]any, error) {
	dir := filepath.Join(s.root, name)
	var meta arrayMeta
	if err := readJSON(filepath.Join(dir, arrayFile), &meta); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return dat.Value{}, nil, fmt.Errorf("%w: %s", ErrNoArray, name)
		}
		return dat.Value{}, nil, err
	}
	if meta.Order != "F" {
		return dat.Value{}, nil, fmt.Errorf("%w: %s: order %q, want F", ErrMetadata, name, meta.Order)
	}
	dt, err := dat.ParseDType(meta.DType)
	if err != nil {
		return dat.Value{}, nil, fmt.Errorf("%w: %s: %v", ErrMetadata, name, err)
	}
	for i := range meta.Shape {
		if i >= len(meta.Chunks) || meta.Chunks[i] < meta.Shape[i] {
			return dat.Value{}, nil, fmt.Errorf("%w: %s: multi-chunk arrays are not supported", ErrMetadata, name)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(chunkKeyFor(len(meta.Shape)))))
	if err != nil {
		return dat.Value{}, nil, err
	}
	if meta.Compressor != nil {
		switch meta.Compressor.ID {
		case "zstd":
			if data, err = chunkCodec.decompress(data); err != nil {
				return dat.Value{}, nil, fmt.Errorf("%s: zstd decode: %w", name, err)
			}
		default:
			return dat.Value{}, nil, fmt.Errorf("%w: %s: unsupported compressor %q", ErrMetadata, name, meta.Compressor.ID)
		}
	}
	v, err := dat.NewValue(dt, meta.Shape, data)
	if err != nil {
		return dat.Value{}, nil, fmt.Errorf("%s: %w", name, err)
	}
	attrs, err := readAttrs(filepath.Join(dir, attrsFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return dat.Value{}, nil, err
	}
	return v, attrs, nil
}

// Arrays lists dataset names, sorted.
func (s *Store) Arrays() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), arrayFile)); err == nil {
			out = append(out, e.Name())
		}
	}
	slices.Sort(out)
	return out, nil
}

// HasArray reports whether name has array metadata.
func (s *Store) HasArray(name string) bool {
	_, err := os.Stat(filepath.Join(s.root, name, arrayFile))
	return err == nil
}

func readAttrs(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	out := map[string]any{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMetadata, path, err)
	}
	return out, nil
}

func readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMetadata, path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return writeFile(path, append(raw, '\n'))
}

// writeFile replaces path atomically via a temporary sibling.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
