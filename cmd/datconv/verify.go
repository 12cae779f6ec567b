package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/datconv/internal/convert"
	"github.com/samcharles93/datconv/internal/datfile"
	"github.com/samcharles93/datconv/internal/logger"
)

func verifyCmd() *cli.Command {
	var (
		full      bool
		deleteDat bool
	)

	return &cli.Command{
		Name:      "verify",
		Usage:     "Check that a container reproduces its .dat file exactly",
		ArgsUsage: "FILE.dat CONTAINER",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "full",
				Usage:       "compare every byte instead of checksums",
				Destination: &full,
			},
			&cli.BoolFlag{
				Name:        "delete-dat",
				Aliases:     []string{"d"},
				Usage:       "delete the .dat file if the check succeeds",
				Destination: &deleteDat,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if cmd.Args().Len() != 2 {
				return cli.Exit("verify: expected FILE.dat and CONTAINER", 2)
			}
			datPath, containerPath := cmd.Args().Get(0), cmd.Args().Get(1)
			if deleteDat && datPath == datfile.Stdin {
				return cli.Exit("verify: --delete-dat cannot be used with stdin", 2)
			}

			codec, err := loadCodec()
			if err != nil {
				return err
			}
			v, err := convert.New(codec, log).Verify(datPath, containerPath, full)
			if err != nil {
				return cli.Exit("verify: "+err.Error(), 2)
			}
			if !v.Match {
				return cli.Exit(fmt.Sprintf("verify: %s and %s: %s", datPath, containerPath, v), 1)
			}
			_, _ = fmt.Fprintf(out(cmd), "%s: %s\n", datPath, v)

			if deleteDat {
				if err := datfile.Remove(datPath); err != nil {
					return cli.Exit("verify: "+err.Error(), 2)
				}
				log.Info("deleted source", "path", datPath)
			}
			return nil
		},
	}
}
