package transfer

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goopsie/repairman/pkg/bufferpool"
)

func TestSendReceiveRoundTrip(t *testing.T) {
	sourceRoot := t.TempDir()
	destRoot := t.TempDir()

	write(t, sourceRoot, "a.txt", "hello, world\n")
	write(t, sourceRoot, "dir/b.bin", "")
	big := make([]byte, 4*1024*1024)
	for i := range big {
		big[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(filepath.Join(sourceRoot, "big.dat"), big, 0o644))

	paths := []string{"a.txt", "dir/b.bin", "big.dat"}
	pool := bufferpool.New(32 * 1024)

	pr, pw := io.Pipe()

	sendErr := make(chan error, 1)
	go func() {
		defer pw.Close()
		sendErr <- SendFiles(pw, sourceRoot, nil, paths, pool)
	}()

	require.NoError(t, ReceiveFiles(pr, destRoot, len(paths)))
	require.NoError(t, <-sendErr)

	assertFileContent(t, filepath.Join(destRoot, "a.txt"), "hello, world\n")
	assertFileContent(t, filepath.Join(destRoot, "dir", "b.bin"), "")
	assertFileContent(t, filepath.Join(destRoot, "big.dat"), string(big))
}

func TestReceiveFilesFailsOnExistingFile(t *testing.T) {
	sourceRoot := t.TempDir()
	destRoot := t.TempDir()

	write(t, sourceRoot, "a.txt", "hi\n")
	write(t, destRoot, "a.txt", "already here\n")

	pool := bufferpool.New(32 * 1024)
	pr, pw := io.Pipe()

	go func() {
		defer pw.Close()
		_ = SendFiles(pw, sourceRoot, nil, []string{"a.txt"}, pool)
	}()

	require.Error(t, ReceiveFiles(pr, destRoot, 1))
}

func write(t *testing.T, root, name, content string) {
	t.Helper()
	full := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func assertFileContent(t *testing.T, path, want string) {
	t.Helper()
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, want, string(got))
}
