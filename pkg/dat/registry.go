package dat

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/samcharles93/datconv/pkg/dat/defs"
)

// BootstrapVersion is the minimal schema used to find FileVersion.
const BootstrapVersion = 0

const (
	formatFile = "misc.toml"
	specDir    = "specs"
	enumDir    = "enums"
)

// Registry holds every known schema and enum table. It is immutable once
// built and safe for concurrent use.
type Registry struct {
	format  Format
	schemas map[int]*Schema
	enums   map[string]*EnumTable
}

// NewRegistry assembles a registry from already-built parts. A bootstrap
// schema (version 0) defining FileVersion is required.
func NewRegistry(format Format, schemas []*Schema, enums []*EnumTable) (*Registry, error) {
	if err := format.validate(); err != nil {
		return nil, err
	}
	r := &Registry{
		format:  format,
		schemas: make(map[int]*Schema, len(schemas)),
		enums:   make(map[string]*EnumTable, len(enums)),
	}
	var errs error
	for _, s := range schemas {
		if _, dup := r.schemas[s.Version]; dup {
			errs = multierr.Append(errs, &SchemaError{Version: s.Version, Err: fmt.Errorf("defined more than once")})
			continue
		}
		if s.HeaderLength != format.HeaderLength {
			errs = multierr.Append(errs, &SchemaError{Version: s.Version,
				Err: fmt.Errorf("header length %d, format says %d", s.HeaderLength, format.HeaderLength)})
		}
		r.schemas[s.Version] = s
	}
	for _, t := range enums {
		if _, dup := r.enums[t.Field]; dup {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s defined more than once", ErrEnumLoad, t.Field))
			continue
		}
		r.enums[t.Field] = t
	}

	boot, ok := r.schemas[BootstrapVersion]
	if !ok {
		errs = multierr.Append(errs, &SchemaError{Version: BootstrapVersion, Err: fmt.Errorf("bootstrap schema missing")})
	} else if f, ok := boot.Field(FileVersionField); !ok || !f.IsScalar() || !f.DType.IsInteger() {
		errs = multierr.Append(errs, &SchemaError{Version: BootstrapVersion, Field: FileVersionField,
			Err: fmt.Errorf("bootstrap schema must define a scalar integer %s", FileVersionField)})
	}
	if errs != nil {
		return nil, errs
	}
	return r, nil
}

// Load reads misc.toml, specs/v<N>.tsv and enums/<Field>.tsv from fsys.
// A missing misc.toml falls back to DefaultFormat; a missing enums
// directory means no enum tables.
func Load(fsys fs.FS) (*Registry, error) {
	format := DefaultFormat()
	raw, err := fs.ReadFile(fsys, formatFile)
	switch {
	case err == nil:
		if format, err = ParseFormat(raw); err != nil {
			return nil, err
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("%w: %v", ErrSchemaLoad, err)
	}

	var errs error
	schemas, err := loadSchemas(fsys, format.HeaderLength)
	errs = multierr.Append(errs, err)
	enums, err := loadEnums(fsys)
	errs = multierr.Append(errs, err)
	if errs != nil {
		return nil, errs
	}
	return NewRegistry(format, schemas, enums)
}

// LoadDir is Load over a directory on disk.
func LoadDir(dir string) (*Registry, error) {
	return Load(os.DirFS(dir))
}

var defaultRegistry = sync.OnceValues(func() (*Registry, error) {
	return Load(defs.FS)
})

// Default returns the registry built from the embedded definitions. It is
// loaded once per process.
func Default() (*Registry, error) {
	return defaultRegistry()
}

func loadSchemas(fsys fs.FS, headerLength int) ([]*Schema, error) {
	entries, err := fs.ReadDir(fsys, specDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaLoad, err)
	}
	var (
		out  []*Schema
		errs error
	)
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".tsv" {
			continue
		}
		version, err := versionFromName(e.Name())
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		s, err := loadSchema(fsys, path.Join(specDir, e.Name()), version, headerLength)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		out = append(out, s)
	}
	if errs != nil {
		return nil, errs
	}
	return out, nil
}

func loadSchema(fsys fs.FS, name string, version, headerLength int) (*Schema, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, &SchemaError{Version: version, Err: err}
	}
	defer func() { _ = f.Close() }()
	fields, err := ParseSpecTSV(f, version)
	if err != nil {
		return nil, err
	}
	return NewSchema(version, headerLength, fields)
}

func versionFromName(name string) (int, error) {
	stem := strings.TrimSuffix(name, path.Ext(name))
	if !strings.HasPrefix(stem, "v") {
		return 0, fmt.Errorf("%w: %s: file name must be v<N>.tsv", ErrSchemaLoad, name)
	}
	v, err := strconv.Atoi(stem[1:])
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s: file name must be v<N>.tsv", ErrSchemaLoad, name)
	}
	return v, nil
}

func loadEnums(fsys fs.FS) ([]*EnumTable, error) {
	entries, err := fs.ReadDir(fsys, enumDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnumLoad, err)
	}
	var (
		out  []*EnumTable
		errs error
	)
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".tsv" {
			continue
		}
		field := strings.TrimSuffix(e.Name(), ".tsv")
		t, err := loadEnum(fsys, path.Join(enumDir, e.Name()), field)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		out = append(out, t)
	}
	if errs != nil {
		return nil, errs
	}
	return out, nil
}

func loadEnum(fsys fs.FS, name, field string) (*EnumTable, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEnumLoad, field, err)
	}
	defer func() { _ = f.Close() }()
	entries, err := ParseEnumTSV(f, field)
	if err != nil {
		return nil, err
	}
	return NewEnumTable(field, entries)
}

func (r *Registry) Format() Format { return r.format }

// Bootstrap returns the version-0 schema.
func (r *Registry) Bootstrap() *Schema { return r.schemas[BootstrapVersion] }

// Schema looks up a full schema by version.
func (r *Registry) Schema(version int) (*Schema, error) {
	s, ok := r.schemas[version]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSchemaVersion, version)
	}
	return s, nil
}

// Versions lists known versions in ascending order, bootstrap included.
func (r *Registry) Versions() []int {
	out := make([]int, 0, len(r.schemas))
	for v := range r.schemas {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

func (r *Registry) Enum(field string) (*EnumTable, bool) {
	t, ok := r.enums[field]
	return t, ok
}

// EnumFields lists fields with an enum table, sorted.
func (r *Registry) EnumFields() []string {
	out := make([]string, 0, len(r.enums))
	for k := range r.enums {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
