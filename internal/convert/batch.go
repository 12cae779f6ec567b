package convert

import (
	"context"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Job is one source file and its destination container.
type Job struct {
	Src string
	Dst string
}

// DefaultDest derives "<dir>/<stem>.zarr" from a .dat path. An empty outDir
// keeps the source directory.
func DefaultDest(src, outDir string) string {
	dir, base := filepath.Split(src)
	if outDir != "" {
		dir = outDir
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, stem+".zarr")
}

// Outcome pairs a job with its result or error.
type Outcome struct {
	Job    Job
	Result *Result
	Err    error
}

// Batch converts jobs concurrently, at most limit at a time. A failed file
// does not stop the others; every failure is returned combined. Jobs not yet
// started when ctx is cancelled fail with the context's error.
func (c *Converter) Batch(ctx context.Context, jobs []Job, limit int, opts Options) ([]Outcome, error) {
	out := make([]Outcome, len(jobs))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, job := range jobs {
		g.Go(func() error {
			out[i].Job = job
			if err := ctx.Err(); err != nil {
				out[i].Err = err
				return nil
			}
			res, err := c.DatToContainer(job.Src, job.Dst, opts)
			out[i].Result, out[i].Err = res, err
			if err != nil {
				c.log.Error("conversion failed", "source", job.Src, "error", err)
			} else {
				c.log.Info("converted", "source", job.Src, "dest", job.Dst, "channels", len(res.Channels))
			}
			return nil
		})
	}
	_ = g.Wait()

	var errs error
	for _, o := range out {
		errs = multierr.Append(errs, o.Err)
	}
	return out, errs
}
