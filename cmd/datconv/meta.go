package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/datconv/internal/datfile"
	"github.com/samcharles93/datconv/pkg/dat"
)

func metaCmd() *cli.Command {
	return &cli.Command{
		Name:  "meta",
		Usage: "Interrogate and dump .dat header metadata",
		Commands: []*cli.Command{
			metaLsCmd(),
			metaFmtCmd(),
			metaJSONCmd(),
			metaGetCmd(),
		},
	}
}

// readMeta decodes only the header of path ("-" for stdin), including the
// derived enum names and dates.
func readMeta(ctx context.Context, path, eof string, fill int64) (*dat.Fields, error) {
	opts, err := decodeOptions(ctx, eof, fill)
	if err != nil {
		return nil, err
	}
	codec, err := loadCodec()
	if err != nil {
		return nil, err
	}
	buf, err := datfile.ReadHeader(path, codec.HeaderLength())
	if err != nil {
		return nil, cli.Exit(err.Error(), 2)
	}
	h, err := codec.DecodeHeader(buf, opts)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("%s: %v", path, err), 1)
	}
	fields, err := codec.ToJSON(h, true)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("%s: %v", path, err), 1)
	}
	return fields, nil
}

func datArg(cmd *cli.Command) (string, error) {
	if cmd.Args().Len() < 1 {
		return "", cli.Exit(cmd.Name+": a .dat path is required", 2)
	}
	return cmd.Args().First(), nil
}

// subset keeps only names, in the order given.
func subset(fields *dat.Fields, names []string) (*dat.Fields, error) {
	if len(names) == 0 {
		return fields, nil
	}
	out := dat.NewFields()
	for _, name := range names {
		v, ok := fields.Get(name)
		if !ok {
			return nil, cli.Exit(fmt.Sprintf("no field %q", name), 2)
		}
		out.Set(name, v)
	}
	return out, nil
}

// valueText renders strings bare and everything else as JSON.
func valueText(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// interpolate replaces {Field} with the field's text. {{ and }} are literal
// braces.
func interpolate(tmpl string, fields *dat.Fields) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(tmpl); i++ {
		ch := tmpl[i]
		switch {
		case ch == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			sb.WriteByte('{')
			i++
		case ch == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			sb.WriteByte('}')
			i++
		case ch == '{':
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return "", fmt.Errorf("unclosed '{' at position %d", i)
			}
			name := tmpl[i+1 : i+1+end]
			v, ok := fields.Get(name)
			if !ok {
				return "", fmt.Errorf("no field %q", name)
			}
			text, err := valueText(v)
			if err != nil {
				return "", err
			}
			sb.WriteString(text)
			i += end + 1
		case ch == '}':
			return "", fmt.Errorf("single '}' at position %d", i)
		default:
			sb.WriteByte(ch)
		}
	}
	return sb.String(), nil
}

func metaLsCmd() *cli.Command {
	var (
		eof  string
		fill int64
	)
	return &cli.Command{
		Name:      "ls",
		Aliases:   []string{"list"},
		Usage:     "List metadata field names",
		ArgsUsage: "FILE.dat",
		Flags:     eofFlags(&eof, &fill),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyEOFConfig(cmd, configFrom(ctx), &eof)
			path, err := datArg(cmd)
			if err != nil {
				return err
			}
			fields, err := readMeta(ctx, path, eof, fill)
			if err != nil {
				return err
			}
			for _, k := range fields.Keys() {
				_, _ = fmt.Fprintln(out(cmd), k)
			}
			return nil
		},
	}
}

func metaFmtCmd() *cli.Command {
	var (
		eof  string
		fill int64
	)
	return &cli.Command{
		Name:      "fmt",
		Usage:     "Interpolate metadata into strings, e.g. 'Version is {FileVersion}'; one line per format",
		ArgsUsage: "FILE.dat FORMAT...",
		Flags:     eofFlags(&eof, &fill),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyEOFConfig(cmd, configFrom(ctx), &eof)
			path, err := datArg(cmd)
			if err != nil {
				return err
			}
			fields, err := readMeta(ctx, path, eof, fill)
			if err != nil {
				return err
			}
			for _, tmpl := range cmd.Args().Tail() {
				s, err := interpolate(tmpl, fields)
				if err != nil {
					return cli.Exit("fmt: "+err.Error(), 2)
				}
				_, _ = fmt.Fprintln(out(cmd), s)
			}
			return nil
		},
	}
}

func metaJSONCmd() *cli.Command {
	var (
		eof    string
		fill   int64
		sorted bool
		indent int64
	)
	return &cli.Command{
		Name:      "json",
		Usage:     "Dump metadata as JSON",
		ArgsUsage: "FILE.dat [FIELD...]",
		Flags: append([]cli.Flag{
			&cli.BoolFlag{
				Name:        "sort",
				Aliases:     []string{"s"},
				Usage:       "sort keys",
				Destination: &sorted,
			},
			&cli.Int64Flag{
				Name:        "indent",
				Aliases:     []string{"i"},
				Usage:       "spaces to indent; negative or unset prints one line",
				Destination: &indent,
			},
		}, eofFlags(&eof, &fill)...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyEOFConfig(cmd, configFrom(ctx), &eof)
			path, err := datArg(cmd)
			if err != nil {
				return err
			}
			fields, err := readMeta(ctx, path, eof, fill)
			if err != nil {
				return err
			}
			if fields, err = subset(fields, cmd.Args().Tail()); err != nil {
				return err
			}
			if sorted {
				fields.SortKeys()
			}
			b, err := fields.MarshalJSON()
			if err != nil {
				return cli.Exit("json: "+err.Error(), 1)
			}
			if indent > 0 {
				var buf bytes.Buffer
				if err := json.Indent(&buf, b, "", strings.Repeat(" ", int(indent))); err != nil {
					return cli.Exit("json: "+err.Error(), 1)
				}
				b = buf.Bytes()
			}
			_, _ = fmt.Fprintln(out(cmd), string(b))
			return nil
		},
	}
}

func metaGetCmd() *cli.Command {
	var (
		eof      string
		fill     int64
		dataOnly bool
	)
	return &cli.Command{
		Name:      "get",
		Usage:     "Print metadata as TSV: name, then value (arrays as JSON)",
		ArgsUsage: "FILE.dat [FIELD...]",
		Flags: append([]cli.Flag{
			&cli.BoolFlag{
				Name:        "data-only",
				Aliases:     []string{"d"},
				Usage:       "omit the name column",
				Destination: &dataOnly,
			},
		}, eofFlags(&eof, &fill)...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyEOFConfig(cmd, configFrom(ctx), &eof)
			path, err := datArg(cmd)
			if err != nil {
				return err
			}
			fields, err := readMeta(ctx, path, eof, fill)
			if err != nil {
				return err
			}
			if fields, err = subset(fields, cmd.Args().Tail()); err != nil {
				return err
			}
			for k, v := range fields.All() {
				text, err := valueText(v)
				if err != nil {
					return cli.Exit("get: "+err.Error(), 1)
				}
				if dataOnly {
					_, _ = fmt.Fprintln(out(cmd), text)
				} else {
					_, _ = fmt.Fprintf(out(cmd), "%s\t%s\n", k, text)
				}
			}
			return nil
		},
	}
}
