// Command repairman-server serves a directory tree over the repairman
// protocol, answering manifest and file requests from repairman-client.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/goopsie/repairman/internal/serverapp"
)

// Version is set with ldflags at build time.
var Version = "dev"

func main() {
	os.Exit(realMain())
}

func realMain() int {
	logger := newLogger()

	cmd := &cli.Command{
		Name:    "repairman-server",
		Usage:   "serve a directory tree over the repairman protocol",
		Version: Version,
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "path"},
		},
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:  "port",
				Usage: "port to listen on",
				Value: 6767,
			},
			&cli.StringFlag{
				Name:  "address",
				Usage: "address to bind to",
				Value: "0.0.0.0",
			},
			&cli.StringFlag{
				Name:  "cache",
				Usage: "optional artifact cache directory; disabled when empty",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			root := cmd.StringArg("path")
			if root == "" {
				return fmt.Errorf("repairman-server: path argument is required")
			}

			cfg := serverapp.Config{
				Root:    root,
				Address: cmd.String("address"),
				Port:    uint16(cmd.Uint("port")),
				Cache:   cmd.String("cache"),
			}

			return serverapp.Run(logger, cfg)
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error().Err(err).Msg("repairman-server exited with error")
		return 1
	}

	return 0
}

func newLogger() zerolog.Logger {
	writer := zerolog.ConsoleWriter{Out: os.Stderr}
	return zerolog.New(writer).With().Timestamp().Logger()
}
