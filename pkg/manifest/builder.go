package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/goopsie/repairman/pkg/digest"
)

// Build walks root and returns a Manifest of every non-directory entry found,
// each hashed with the shared digest facility. Hashing is parallelized
// across CPU cores; results are gathered back into the original walk
// order so the manifest is deterministic across runs.
func Build(root string) (Manifest, error) {
	var relPaths []string

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("manifest: relative path for %s: %w", path, err)
		}

		relPaths = append(relPaths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("manifest: walk %s: %w", root, err)
	}

	hashes := make([]string, len(relPaths))

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())

	for i, rel := range relPaths {
		i, rel := i, rel
		g.Go(func() error {
			sum, err := digest.File(filepath.Join(root, rel))
			if err != nil {
				return fmt.Errorf("manifest: hash %s: %w", rel, err)
			}
			hashes[i] = sum
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	m := make(Manifest, len(relPaths))
	for i, rel := range relPaths {
		m[i] = Entry{Path: rel, Digest: hashes[i]}
	}

	return m, nil
}
