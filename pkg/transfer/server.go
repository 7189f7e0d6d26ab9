// Package transfer implements the chunked streaming transfer engine that
// drives both the server's GIVE-FILES/CHUNK/END-FILE emission and the
// client's matching read loop and decompressing unpacker.
package transfer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"

	"github.com/goopsie/repairman/pkg/bufferpool"
	"github.com/goopsie/repairman/pkg/cache"
	"github.com/goopsie/repairman/pkg/protocol"
)

// SendFiles emits the GIVE-FILES/CHUNK*/END-FILE sequence for each
// requested relative path, in order. If artifacts is non-nil, the
// pre-compressed artifact file is streamed directly; otherwise the source
// file is compressed on the fly and chunked as output accumulates.
func SendFiles(w io.Writer, sourceRoot string, artifacts cache.Paths, paths []string, pool *bufferpool.Pool) error {
	for _, path := range paths {
		if err := sendOneFile(w, sourceRoot, artifacts, path, pool); err != nil {
			return fmt.Errorf("transfer: send %s: %w", path, err)
		}
	}
	return nil
}

func sendOneFile(w io.Writer, sourceRoot string, artifacts cache.Paths, path string, pool *bufferpool.Pool) error {
	if err := protocol.WriteHeader(w, protocol.NewHeader(protocol.GiveFiles, uint32(len(path)), 0)); err != nil {
		return err
	}
	if _, err := w.Write([]byte(path)); err != nil {
		return fmt.Errorf("write file name: %w", err)
	}

	if artifacts != nil {
		if artifactPath, ok := artifacts[path]; ok {
			if err := streamArtifact(w, artifactPath, pool); err != nil {
				return err
			}
			return protocol.WriteHeader(w, protocol.NewHeader(protocol.EndFile, 0, 0))
		}
	}

	if err := streamCompressed(w, filepath.Join(sourceRoot, path), pool); err != nil {
		return err
	}
	return protocol.WriteHeader(w, protocol.NewHeader(protocol.EndFile, 0, 0))
}

// streamArtifact copies an already-compressed artifact file straight onto
// the wire as a sequence of CHUNK frames of the buffer-pool size.
func streamArtifact(w io.Writer, artifactPath string, pool *bufferpool.Pool) error {
	f, err := os.Open(artifactPath)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	buf := pool.Lease()
	defer pool.Release(buf)

	for {
		n, err := f.Read(buf)
		if n > 0 {
			if werr := writeChunk(w, buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read artifact: %w", err)
		}
	}
}

// streamCompressed opens the source file and feeds it through a streaming
// flate compressor, emitting accumulated compressed output as CHUNK
// frames after each read, with a final flush before the caller writes
// END-FILE.
func streamCompressed(w io.Writer, sourcePath string, pool *bufferpool.Pool) error {
	f, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	cw := &chunkingWriter{out: w}
	enc, err := flate.NewWriter(cw, flate.BestSpeed)
	if err != nil {
		return fmt.Errorf("new encoder: %w", err)
	}

	buf := pool.Lease()
	defer pool.Release(buf)

	for {
		n, err := f.Read(buf)
		if n > 0 {
			if _, werr := enc.Write(buf[:n]); werr != nil {
				return fmt.Errorf("compress: %w", werr)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read source: %w", err)
		}
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("finish compression: %w", err)
	}

	return cw.flushFinal()
}

// chunkingWriter accumulates flate output and emits it as CHUNK frames.
// flate.Writer.Write already calls through whenever its internal buffer
// fills, and Close flushes the remainder, so every call here corresponds
// to either an interior accumulated block or the final flush.
type chunkingWriter struct {
	out     io.Writer
	flushed bool
}

func (c *chunkingWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := writeChunk(c.out, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// flushFinal exists for symmetry with the spec's "final flush emitted as
// one more CHUNK if non-empty"; flate.Writer.Close already drains its
// buffer through Write, so there is nothing left to do here.
func (c *chunkingWriter) flushFinal() error {
	return nil
}

func writeChunk(w io.Writer, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := protocol.WriteHeader(w, protocol.NewHeader(protocol.Chunk, 0, uint32(len(data)))); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write chunk body: %w", err)
	}
	return nil
}
