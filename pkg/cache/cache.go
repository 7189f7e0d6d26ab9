// Package cache implements the server-side content-addressed artifact
// cache: it memoizes a raw-deflate-compressed copy of every source file,
// keyed by the source file's digest, and detects tampering of its own
// outputs so it can rebuild selectively.
package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/klauspost/compress/flate"
	"golang.org/x/sync/errgroup"

	"github.com/goopsie/repairman/pkg/digest"
	"github.com/goopsie/repairman/pkg/manifest"
)

// ErrCacheInvariantViolation is returned when the on-disk cache cannot be
// brought into a consistent state (should not occur in normal operation;
// callers that see it have a corrupt or externally-modified cache root).
var ErrCacheInvariantViolation = errors.New("cache: invariant violation")

const (
	inventoryFileName = "inventory.compmeta"
	filesDirName       = "files"
	compSuffix         = ".comp"
	copyBufferSize     = 32 * 1024
)

// record is one triple in the persisted inventory: the source path's
// digest and the recorded digest of the compressed artifact that backs
// it, together with the artifact's on-disk path.
type record struct {
	artifactPath     string
	sourceDigest     string
	compressedDigest string
}

// Paths maps a manifest entry's relative path to its compressed artifact
// path on disk, as returned by Prime and Refresh.
type Paths map[string]string

// Prime creates the cache layout under root, compresses every file named
// in m, and writes a fresh inventory. A per-file I/O error aborts priming
// with the underlying error; no partial inventory is written.
func Prime(root string, sourceRoot string, m manifest.Manifest) (Paths, error) {
	if err := os.MkdirAll(filepath.Join(root, filesDirName), 0o755); err != nil {
		return nil, fmt.Errorf("cache: create cache dirs: %w", err)
	}

	records := make([]record, len(m))
	paths := make(Paths, len(m))

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())

	for i, e := range m {
		i, e := i, e
		g.Go(func() error {
			artifactPath := artifactPathFor(root, e.Path)

			if err := compressFile(filepath.Join(sourceRoot, e.Path), artifactPath); err != nil {
				return err
			}

			compDigest, err := digest.File(artifactPath)
			if err != nil {
				return fmt.Errorf("cache: digest artifact %s: %w", artifactPath, err)
			}

			records[i] = record{artifactPath: artifactPath, sourceDigest: e.Digest, compressedDigest: compDigest}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, e := range m {
		paths[e.Path] = records[i].artifactPath
	}

	if err := writeInventory(root, records); err != nil {
		return nil, err
	}

	return paths, nil
}

// Refresh loads the inventory at root (priming instead if none exists)
// and, for every entry in m, reuses the cached artifact when its source
// digest still matches and its artifact file's current digest matches
// the recorded one; otherwise it rebuilds that entry. The inventory is
// rewritten only if at least one entry was rebuilt.
func Refresh(root string, sourceRoot string, m manifest.Manifest) (Paths, error) {
	inventoryPath := filepath.Join(root, inventoryFileName)

	if _, err := os.Stat(inventoryPath); errors.Is(err, os.ErrNotExist) {
		return Prime(root, sourceRoot, m)
	}

	existing, err := readInventory(inventoryPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Join(root, filesDirName), 0o755); err != nil {
		return nil, fmt.Errorf("cache: create cache dirs: %w", err)
	}

	records := make([]record, len(m))
	paths := make(Paths, len(m))
	var anyRebuilt bool

	for i, e := range m {
		artifactPath := artifactPathFor(root, e.Path)
		paths[e.Path] = artifactPath

		prior, ok := existing[artifactPath]
		reusable := ok && prior.sourceDigest == e.Digest

		if reusable {
			if _, err := os.Stat(artifactPath); err != nil {
				reusable = false
			}
		}

		if reusable {
			currentDigest, err := digest.File(artifactPath)
			if err != nil {
				return nil, fmt.Errorf("cache: digest artifact %s: %w", artifactPath, err)
			}
			if currentDigest != prior.compressedDigest {
				reusable = false
			} else {
				records[i] = record{artifactPath: artifactPath, sourceDigest: e.Digest, compressedDigest: currentDigest}
			}
		}

		if !reusable {
			anyRebuilt = true

			if err := compressFile(filepath.Join(sourceRoot, e.Path), artifactPath); err != nil {
				return nil, err
			}

			compDigest, err := digest.File(artifactPath)
			if err != nil {
				return nil, fmt.Errorf("cache: digest artifact %s: %w", artifactPath, err)
			}

			records[i] = record{artifactPath: artifactPath, sourceDigest: e.Digest, compressedDigest: compDigest}
		}
	}

	if anyRebuilt {
		if err := writeInventory(root, records); err != nil {
			return nil, err
		}
	}

	return paths, nil
}

func artifactPathFor(root, relPath string) string {
	return filepath.Join(root, filesDirName, relPath) + compSuffix
}

func compressFile(sourcePath, artifactPath string) error {
	if parent := filepath.Dir(artifactPath); parent != "." {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return fmt.Errorf("cache: create artifact dir %s: %w", parent, err)
		}
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("cache: open source %s: %w", sourcePath, err)
	}
	defer src.Close()

	dst, err := os.Create(artifactPath)
	if err != nil {
		return fmt.Errorf("cache: create artifact %s: %w", artifactPath, err)
	}
	defer dst.Close()

	enc, err := flate.NewWriter(dst, flate.BestSpeed)
	if err != nil {
		return fmt.Errorf("cache: new encoder: %w", err)
	}

	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(enc, src, buf); err != nil {
		return fmt.Errorf("cache: compress %s: %w", sourcePath, err)
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("cache: finish compression of %s: %w", sourcePath, err)
	}

	return nil
}

func writeInventory(root string, records []record) error {
	var buf []byte
	for _, r := range records {
		buf = append(buf, r.artifactPath...)
		buf = append(buf, 0)
		buf = append(buf, r.sourceDigest...)
		buf = append(buf, 0)
		buf = append(buf, r.compressedDigest...)
		buf = append(buf, 0)
	}

	if err := os.WriteFile(filepath.Join(root, inventoryFileName), buf, 0o644); err != nil {
		return fmt.Errorf("cache: write inventory: %w", err)
	}

	return nil
}

// readInventory loads the NUL-delimited inventory and indexes it by
// artifact path, since that is the only field both the writer and a
// future reconstruction of an entry's artifact path agree on
// deterministically (artifactPathFor is a pure function of the manifest
// entry's relative path).
func readInventory(path string) (map[string]record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cache: read inventory: %w", err)
	}

	var fields []string
	start := 0
	for i, b := range data {
		if b == 0 {
			fields = append(fields, string(data[start:i]))
			start = i + 1
		}
	}
	if start != len(data) {
		return nil, fmt.Errorf("cache: inventory has a trailing partial record: %w", ErrCacheInvariantViolation)
	}
	if len(fields)%3 != 0 {
		return nil, fmt.Errorf("cache: inventory has a trailing partial group: %w", ErrCacheInvariantViolation)
	}

	out := make(map[string]record, len(fields)/3)
	for i := 0; i < len(fields); i += 3 {
		r := record{artifactPath: fields[i], sourceDigest: fields[i+1], compressedDigest: fields[i+2]}
		out[r.artifactPath] = r
	}

	return out, nil
}
