package main

import (
	"context"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/datconv/internal/logger"
	"github.com/samcharles93/datconv/pkg/dat"
)

var (
	configFile string
	defsDir    string
	logLevel   string
	logFormat  string
	debug      bool
)

func rootFlags() []cli.Flag {
	return append([]cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default: user config dir)",
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "defs",
			Usage:       "directory with misc.toml, specs/ and enums/ overriding the built-in definitions",
			Destination: &defsDir,
		},
	}, loggingFlags()...)
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func eofFlags(eof *string, fill *int64) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "eof",
			Usage:       "on truncated input: error, warn (pad with --fill and log) or ignore (pad with zeros)",
			Value:       "error",
			Destination: eof,
		},
		&cli.Int64Flag{
			Name:        "fill",
			Usage:       "element value used to pad truncated fields under --eof=warn",
			Destination: fill,
		},
	}
}

// setup runs before every command: config, then logger, both carried on ctx.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return ctx, cli.Exit(err.Error(), 2)
	}
	applyRootConfig(cmd, cfg)

	level := logLevel
	if debug {
		level = "debug"
	}
	log, err := logger.Setup(errOut(cmd), logFormat, level)
	if err != nil {
		return ctx, cli.Exit(err.Error(), 2)
	}
	ctx = logger.WithContext(ctx, log)
	return withConfig(ctx, cfg), nil
}

func loadCodec() (*dat.Codec, error) {
	var (
		reg *dat.Registry
		err error
	)
	if defsDir != "" {
		reg, err = dat.LoadDir(defsDir)
	} else {
		reg, err = dat.Default()
	}
	if err != nil {
		return nil, cli.Exit(err.Error(), 2)
	}
	return dat.NewCodec(reg), nil
}

func decodeOptions(ctx context.Context, eof string, fill int64) (dat.DecodeOptions, error) {
	b, err := dat.ParseEOFBehavior(eof)
	if err != nil {
		return dat.DecodeOptions{}, cli.Exit(err.Error(), 2)
	}
	return dat.DecodeOptions{EOF: b, Fill: fill, Logger: logger.FromContext(ctx)}, nil
}

// out and errOut fall back to the process streams when the root command
// was not given writers.
func out(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func errOut(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}
