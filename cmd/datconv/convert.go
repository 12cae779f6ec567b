package main

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
	"go.uber.org/multierr"

	"github.com/samcharles93/datconv/internal/container"
	"github.com/samcharles93/datconv/internal/convert"
	"github.com/samcharles93/datconv/internal/datfile"
	"github.com/samcharles93/datconv/internal/logger"
)

func convertCmd() *cli.Command {
	var (
		outPath     string
		jobs        int64
		eof         string
		fill        int64
		compression string
		overwrite   bool
		minMax      bool
		verifyAfter bool
	)

	return &cli.Command{
		Name:      "convert",
		Usage:     "Convert .dat files into containers",
		ArgsUsage: "FILE.dat [FILE.dat...]",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output directory, or the container path (ending .zarr) for a single input",
				Destination: &outPath,
			},
			&cli.Int64Flag{
				Name:        "jobs",
				Aliases:     []string{"j"},
				Usage:       "files converted concurrently",
				Value:       int64(runtime.NumCPU()),
				Destination: &jobs,
			},
			&cli.StringFlag{
				Name:        "compression",
				Usage:       "channel chunk compression (none, zstd)",
				Value:       string(container.CompressionZstd),
				Destination: &compression,
			},
			&cli.BoolFlag{
				Name:        "overwrite",
				Usage:       "replace existing containers",
				Destination: &overwrite,
			},
			&cli.BoolFlag{
				Name:        "minmax",
				Usage:       "record min and max attributes on each channel",
				Destination: &minMax,
			},
			&cli.BoolFlag{
				Name:        "verify",
				Usage:       "reconstruct each container and compare it with its source",
				Destination: &verifyAfter,
			},
		}, eofFlags(&eof, &fill)...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyConvertConfig(cmd, configFrom(ctx), &jobs, &eof, &compression)

			srcs := cmd.Args().Slice()
			if len(srcs) == 0 {
				return cli.Exit("convert: at least one .dat file is required", 2)
			}
			jobList, err := convertJobs(srcs, outPath)
			if err != nil {
				return cli.Exit("convert: "+err.Error(), 2)
			}
			dopts, err := decodeOptions(ctx, eof, fill)
			if err != nil {
				return err
			}
			comp, err := container.ParseCompression(compression)
			if err != nil {
				return cli.Exit("convert: "+err.Error(), 2)
			}
			codec, err := loadCodec()
			if err != nil {
				return err
			}

			conv := convert.New(codec, log)
			start := time.Now()
			outcomes, batchErr := conv.Batch(ctx, jobList, int(jobs), convert.Options{
				EOF:         dopts.EOF,
				Fill:        dopts.Fill,
				Compression: comp,
				Overwrite:   overwrite,
				MinMax:      minMax,
			})

			var total uint64
			for _, o := range outcomes {
				if o.Err != nil {
					continue
				}
				res := o.Result
				total += uint64(res.Bytes)
				_, _ = fmt.Fprintf(out(cmd), "%s -> %s (v%d, %s, %s)\n",
					res.Source, res.Dest, res.Version, humanize.IBytes(uint64(res.Bytes)), strings.Join(res.Channels, ","))
				if res.Truncated {
					log.Warn("source was truncated; padded values were written", "source", res.Source)
				}
				if verifyAfter && res.Source != datfile.Stdin {
					v, err := conv.Verify(res.Source, res.Dest, false)
					if err != nil {
						batchErr = multierr.Append(batchErr, fmt.Errorf("verify %s: %w", res.Dest, err))
					} else if !v.Match {
						batchErr = multierr.Append(batchErr, fmt.Errorf("verify %s: %s", res.Dest, v))
					}
				}
			}
			log.Info("conversion finished",
				"files", len(jobList),
				"bytes", humanize.IBytes(total),
				"elapsed", time.Since(start).Round(time.Millisecond).String(),
			)
			if batchErr != nil {
				errs := multierr.Errors(batchErr)
				for _, e := range errs {
					_, _ = fmt.Fprintln(errOut(cmd), e)
				}
				return cli.Exit(fmt.Sprintf("convert: %d problem(s) across %d file(s)", len(errs), len(jobList)), 1)
			}
			return nil
		},
	}
}

// convertJobs pairs sources with destinations. A --out ending in .zarr names
// the container itself and is only allowed for one input; stdin needs it.
func convertJobs(srcs []string, outPath string) ([]convert.Job, error) {
	explicit := strings.HasSuffix(strings.TrimRight(outPath, `/\`), ".zarr")
	if explicit && len(srcs) > 1 {
		return nil, fmt.Errorf("--out %s names a single container but %d inputs were given", outPath, len(srcs))
	}
	jobs := make([]convert.Job, 0, len(srcs))
	seen := make(map[string]string, len(srcs))
	for _, src := range srcs {
		dst := convert.DefaultDest(src, outPath)
		switch {
		case explicit:
			dst = outPath
		case src == datfile.Stdin:
			return nil, fmt.Errorf("reading stdin requires --out with a .zarr path")
		}
		if prev, dup := seen[dst]; dup {
			return nil, fmt.Errorf("%s and %s would both write %s", prev, src, dst)
		}
		seen[dst] = src
		jobs = append(jobs, convert.Job{Src: src, Dst: dst})
	}
	return jobs, nil
}
