// Package serverapp wires together the manifest, optional artifact cache,
// and connection loop into the repairman server process.
package serverapp

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"

	"github.com/goopsie/repairman/pkg/bufferpool"
	"github.com/goopsie/repairman/pkg/cache"
	"github.com/goopsie/repairman/pkg/manifest"
)

// chunkBufferSize is the I/O buffer size used when streaming cached
// artifacts or compressing on the fly.
const chunkBufferSize = 32 * 1024

// Config holds everything needed to run the server.
type Config struct {
	Root    string // directory to serve
	Address string // bind address, e.g. "0.0.0.0"
	Port    uint16 // bind port
	Cache   string // optional cache directory; empty disables the cache
}

// Run builds the manifest for cfg.Root, primes or refreshes the artifact
// cache if cfg.Cache is set, binds the listener, and serves connections
// until the listener fails or the process is signaled externally. It
// returns only on error, since no signal is handled internally (per
// spec.md §6, a non-nil error is the only path to a non-zero exit; a
// clean shutdown requires an external signal, which ends the process).
func Run(logger zerolog.Logger, cfg Config) error {
	m, err := manifest.Build(cfg.Root)
	if err != nil {
		return fmt.Errorf("serverapp: build manifest: %w", err)
	}
	logger.Info().Int("files", len(m)).Str("root", cfg.Root).Msg("manifest built")

	var artifacts cache.Paths
	if cfg.Cache != "" {
		artifacts, err = cache.Refresh(cfg.Cache, cfg.Root, m)
		if err != nil {
			return fmt.Errorf("serverapp: prepare cache: %w", err)
		}
		logger.Info().Str("cache", cfg.Cache).Int("artifacts", len(artifacts)).Msg("cache ready")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Address, cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("serverapp: listen on %s: %w", addr, err)
	}
	defer listener.Close()

	logger.Info().Str("addr", addr).Msg("listening")

	hashesBody := m.Bytes()
	pool := bufferpool.New(chunkBufferSize)

	for {
		conn, err := listener.Accept()
		if err != nil {
			return fmt.Errorf("serverapp: accept: %w", err)
		}

		connLogger := logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
		go func() {
			if err := handleConnection(connLogger, conn, cfg.Root, artifacts, hashesBody, pool); err != nil {
				connLogger.Error().Err(err).Msg("connection closed with error")
			}
		}()
	}
}
