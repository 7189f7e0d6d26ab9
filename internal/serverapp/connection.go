package serverapp

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/rs/zerolog"

	"github.com/goopsie/repairman/pkg/bufferpool"
	"github.com/goopsie/repairman/pkg/cache"
	"github.com/goopsie/repairman/pkg/manifest"
	"github.com/goopsie/repairman/pkg/protocol"
	"github.com/goopsie/repairman/pkg/transfer"
)

// handleConnection owns conn exclusively for its lifetime. One failed
// handler never tears down the listener: every error returned here is
// local to this connection, which the caller logs and then abandons.
func handleConnection(logger zerolog.Logger, conn net.Conn, sourceRoot string, artifacts cache.Paths, hashesBody []byte, pool *bufferpool.Pool) error {
	defer conn.Close()

	logger.Info().Msg("accepted")

	for {
		header, err := protocol.ReadHeader(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read request header: %w", err)
		}

		logger.Debug().Str("type", string(header.Type)).Uint32("body_size", header.BodySize).Msg("request")

		switch header.Type {
		case protocol.GetHashes:
			if err := sendHashes(conn, hashesBody); err != nil {
				return err
			}

		case protocol.GetFiles:
			if err := dispatchGetFiles(conn, header, sourceRoot, artifacts, pool); err != nil {
				return err
			}

		case protocol.Disconnect:
			logger.Info().Msg("client disconnected")
			return nil

		default:
			return fmt.Errorf("unexpected request type %s: %w", header.Type, protocol.ErrProtocolViolation)
		}
	}
}

func sendHashes(conn net.Conn, body []byte) error {
	if err := protocol.WriteHeader(conn, protocol.NewHeader(protocol.GiveHashes, 0, uint32(len(body)))); err != nil {
		return fmt.Errorf("write GIVE-HASHES header: %w", err)
	}
	if _, err := conn.Write(body); err != nil {
		return fmt.Errorf("write GIVE-HASHES body: %w", err)
	}
	return nil
}

func dispatchGetFiles(conn net.Conn, header protocol.Header, sourceRoot string, artifacts cache.Paths, pool *bufferpool.Pool) error {
	body := make([]byte, header.BodySize)
	if _, err := io.ReadFull(conn, body); err != nil {
		return fmt.Errorf("read GET-FILES body: %w", err)
	}

	paths := manifest.DecodePaths(body)

	if err := transfer.SendFiles(conn, sourceRoot, artifacts, paths, pool); err != nil {
		return fmt.Errorf("send files: %w", err)
	}

	return nil
}
