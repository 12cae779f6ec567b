package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"
)

func schemasCmd() *cli.Command {
	var (
		spacers bool
		dims    []string
		enum    string
	)

	return &cli.Command{
		Name:      "schemas",
		Usage:     "List header versions, or the fields of one version",
		ArgsUsage: "[VERSION]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "spacers",
				Usage:       "also list the zero-filled gaps between fields",
				Destination: &spacers,
			},
			&cli.StringSliceFlag{
				Name:        "dim",
				Usage:       "NAME=N preset for dependent shapes when listing spacers, e.g. ChanNum=2",
				Destination: &dims,
			},
			&cli.StringFlag{
				Name:        "enum",
				Usage:       "print the enum table of this field instead",
				Destination: &enum,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			codec, err := loadCodec()
			if err != nil {
				return err
			}
			reg := codec.Registry()
			w := out(cmd)

			if enum != "" {
				t, ok := reg.Enum(enum)
				if !ok {
					return cli.Exit(fmt.Sprintf("schemas: no enum table for field %q", enum), 2)
				}
				for _, e := range t.Entries() {
					_, _ = fmt.Fprintf(w, "%d\t%s\n", e.Value, e.Name)
				}
				return nil
			}

			if cmd.Args().Len() == 0 {
				format := reg.Format()
				_, _ = fmt.Fprintf(w, "header length %d, magic %d, %s channels\n",
					format.HeaderLength, format.MagicNumber, format.ChannelLayout)
				for _, v := range reg.Versions() {
					s, _ := reg.Schema(v)
					_, _ = fmt.Fprintf(w, "v%d\t%d fields\n", v, s.Len())
				}
				_, _ = fmt.Fprintf(w, "enums\t%s\n", strings.Join(reg.EnumFields(), ","))
				return nil
			}

			version, err := strconv.Atoi(strings.TrimPrefix(cmd.Args().First(), "v"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("schemas: version %q is not an integer", cmd.Args().First()), 2)
			}
			s, err := reg.Schema(version)
			if err != nil {
				return cli.Exit("schemas: "+err.Error(), 2)
			}
			_, _ = fmt.Fprintln(w, "name\tdtype\toffset\tshape")
			for _, f := range s.Fields() {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", f.Name, f.DType, f.Offset, f.ShapeString())
			}
			if !spacers {
				return nil
			}

			preset, err := parseDims(dims)
			if err != nil {
				return cli.Exit("schemas: "+err.Error(), 2)
			}
			h, err := s.ZeroWith(preset)
			if err != nil {
				return cli.Exit("schemas: "+err.Error(), 2)
			}
			gaps, err := s.Spacers(h)
			if err != nil {
				return cli.Exit("schemas: "+err.Error(), 1)
			}
			_, _ = fmt.Fprintln(w)
			_, _ = fmt.Fprintln(w, "spacer_offset\tlength")
			for _, g := range gaps {
				_, _ = fmt.Fprintf(w, "%d\t%d\n", g.Offset, g.Length)
			}
			return nil
		},
	}
}

func parseDims(dims []string) (map[string]any, error) {
	out := make(map[string]any, len(dims))
	for _, d := range dims {
		name, val, ok := strings.Cut(d, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("--dim %q: want NAME=N", d)
		}
		if _, err := strconv.ParseInt(val, 10, 64); err != nil {
			return nil, fmt.Errorf("--dim %q: %v", d, err)
		}
		out[name] = json.Number(val)
	}
	return out, nil
}
