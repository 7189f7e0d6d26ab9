// Package digest computes the stable content digest both the server and
// the client use to identify a file's contents. The algorithm is part of
// the wire protocol: both sides must produce identical hex strings for
// identical byte sequences.
package digest

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// bufferSize is the minimum read-buffer size mandated by the spec so that
// files larger than memory can be digested.
const bufferSize = 8192

// Size is the digest length in bytes (256 bits).
const Size = 32

// Reader streams r and returns its lowercase hex digest.
func Reader(r io.Reader) (string, error) {
	h := blake3.New()

	buf := make([]byte, bufferSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("digest: read: %w", err)
	}

	sum := h.Sum(nil)
	return hex.EncodeToString(sum), nil
}

// File opens path and returns its lowercase hex digest.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("digest: open %s: %w", path, err)
	}
	defer f.Close()

	return Reader(f)
}
