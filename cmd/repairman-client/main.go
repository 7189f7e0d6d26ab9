// Command repairman-client reconciles a local directory tree against a
// repairman-server's manifest and repairs whatever differs.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/goopsie/repairman/internal/clientapp"
)

// Version is set with ldflags at build time.
var Version = "dev"

func main() {
	os.Exit(realMain())
}

func realMain() int {
	logger := newLogger()

	cmd := &cli.Command{
		Name:    "repairman-client",
		Usage:   "reconcile a local directory against a repairman-server and repair it",
		Version: Version,
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "server_host"},
			&cli.StringArg{Name: "local_root"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			serverHost := cmd.StringArg("server_host")
			localRoot := cmd.StringArg("local_root")
			if serverHost == "" || localRoot == "" {
				return fmt.Errorf("repairman-client: server_host and local_root arguments are required")
			}

			if err := os.MkdirAll(localRoot, 0o755); err != nil {
				return fmt.Errorf("repairman-client: create local root: %w", err)
			}

			return clientapp.Run(logger, serverHost, localRoot)
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error().Err(err).Msg("repairman-client exited with error")
		return 1
	}

	return 0
}

func newLogger() zerolog.Logger {
	writer := zerolog.ConsoleWriter{Out: os.Stderr}
	return zerolog.New(writer).With().Timestamp().Logger()
}
