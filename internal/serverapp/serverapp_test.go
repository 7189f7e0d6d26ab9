package serverapp

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/goopsie/repairman/pkg/bufferpool"
	"github.com/goopsie/repairman/pkg/manifest"
	"github.com/goopsie/repairman/pkg/protocol"
)

func newTestPool() *bufferpool.Pool {
	return bufferpool.New(chunkBufferSize)
}

func TestHandleConnectionServesHashes(t *testing.T) {
	root := t.TempDir()
	write(t, root, "a.txt", "hello\n")
	write(t, root, "dir/b.txt", "world\n")

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	m, err := manifest.Build(root)
	require.NoError(t, err)

	logger := zerolog.Nop()
	hashesBody := m.Bytes()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go handleConnection(logger, conn, root, nil, hashesBody, newTestPool())
		}
	}()
	defer listener.Close()

	conn, err := net.DialTimeout("tcp", listener.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, protocol.WriteHeader(conn, protocol.NewHeader(protocol.GetHashes, 0, 0)))

	header, err := protocol.ReadHeader(conn)
	require.NoError(t, err)
	require.Equal(t, protocol.GiveHashes, header.Type)

	body := make([]byte, header.BodySize)
	_, err = io.ReadFull(conn, body)
	require.NoError(t, err)

	got, err := manifest.Decode(body)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestHandleConnectionRejectsUnexpectedType(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	logger := zerolog.Nop()
	errCh := make(chan error, 1)
	go func() {
		errCh <- handleConnection(logger, server, t.TempDir(), nil, nil, newTestPool())
	}()

	require.NoError(t, protocol.WriteHeader(client, protocol.NewHeader(protocol.GiveHashes, 0, 0)))

	err := <-errCh
	require.Error(t, err)
}

func write(t *testing.T, root, name, content string) {
	t.Helper()
	full := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}
