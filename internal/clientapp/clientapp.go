// Package clientapp wires together the reconciler and transfer engine
// into the repairman client process.
package clientapp

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/goopsie/repairman/pkg/manifest"
	"github.com/goopsie/repairman/pkg/protocol"
	"github.com/goopsie/repairman/pkg/reconcile"
	"github.com/goopsie/repairman/pkg/transfer"
)

// defaultPort is the server port repairman-client always connects to, per
// spec.md §6 ("Connects to <server_host>:6767").
const defaultPort = 6767

// Run connects to serverHost, reconciles localRoot against the server's
// manifest, requests every non-Present file, and streams repairs to disk.
// Corrupted local files are removed before the transfer, since the
// unpacker only creates files that do not exist yet. It returns a non-zero-exit-worthy error on any I/O, protocol, or digest
// failure; already-committed repaired files are never rolled back.
func Run(logger zerolog.Logger, serverHost, localRoot string) error {
	addr := fmt.Sprintf("%s:%d", serverHost, defaultPort)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("clientapp: connect to %s: %w", addr, err)
	}
	defer conn.Close()

	m, err := requestManifest(conn)
	if err != nil {
		return fmt.Errorf("clientapp: fetch manifest: %w", err)
	}
	logger.Info().Int("entries", len(m)).Msg("manifest received")

	results := reconcile.Run(localRoot, m)

	var present, missing, corrupted int
	for _, r := range results {
		switch r.State {
		case reconcile.Present:
			present++
		case reconcile.Missing:
			missing++
		case reconcile.Corrupted:
			corrupted++
		}
		logger.Debug().Str("path", r.Entry.Path).Str("state", r.State.String()).Msg("reconciled")
	}
	logger.Info().Int("present", present).Int("missing", missing).Int("corrupted", corrupted).Msg("reconciliation complete")

	wanted := reconcile.Wanted(results)

	if err := requestFiles(conn, wanted); err != nil {
		return fmt.Errorf("clientapp: request files: %w", err)
	}

	if len(wanted) == 0 {
		return nil
	}

	if err := removeCorrupted(localRoot, results); err != nil {
		return fmt.Errorf("clientapp: %w", err)
	}

	if err := transfer.ReceiveFiles(conn, localRoot, len(wanted)); err != nil {
		return fmt.Errorf("clientapp: receive files: %w", err)
	}

	logger.Info().Int("repaired", len(wanted)).Msg("repair complete")

	if err := disconnect(conn); err != nil {
		logger.Warn().Err(err).Msg("failed to send DISCONNECT")
	}

	return nil
}

// removeCorrupted deletes every local file classified Corrupted so the
// unpacker's exclusive create can write its replacement.
func removeCorrupted(localRoot string, results []reconcile.Result) error {
	for _, r := range results {
		if r.State != reconcile.Corrupted {
			continue
		}
		if err := os.Remove(filepath.Join(localRoot, r.Entry.Path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove corrupted %s: %w", r.Entry.Path, err)
		}
	}
	return nil
}

// disconnect tells the server this client is done, per spec.md §4.8. A
// failure to send it does not itself make the repair unsuccessful, since
// every requested file has already been committed to disk by this point.
func disconnect(conn net.Conn) error {
	if err := protocol.WriteHeader(conn, protocol.NewHeader(protocol.Disconnect, 0, 0)); err != nil {
		return fmt.Errorf("clientapp: send DISCONNECT: %w", err)
	}
	return nil
}

func requestManifest(conn net.Conn) (manifest.Manifest, error) {
	if err := protocol.WriteHeader(conn, protocol.NewHeader(protocol.GetHashes, 0, 0)); err != nil {
		return nil, fmt.Errorf("write GET-HASHES: %w", err)
	}

	header, err := protocol.ReadHeader(conn)
	if err != nil {
		return nil, fmt.Errorf("read response header: %w", err)
	}
	if header.Type != protocol.GiveHashes {
		return nil, fmt.Errorf("expected GIVE-HASHES, got %s: %w", header.Type, protocol.ErrProtocolViolation)
	}

	body := make([]byte, header.BodySize)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, fmt.Errorf("read manifest body: %w", err)
	}

	return manifest.Decode(body)
}

func requestFiles(conn net.Conn, wanted []string) error {
	body := manifest.Paths(wanted)

	if err := protocol.WriteHeader(conn, protocol.NewHeader(protocol.GetFiles, 0, uint32(len(body)))); err != nil {
		return fmt.Errorf("write GET-FILES header: %w", err)
	}
	if _, err := conn.Write(body); err != nil {
		return fmt.Errorf("write GET-FILES body: %w", err)
	}

	return nil
}
