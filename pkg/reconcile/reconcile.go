// Package reconcile classifies a client's local files against the
// server's manifest.
package reconcile

import (
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/goopsie/repairman/pkg/digest"
	"github.com/goopsie/repairman/pkg/manifest"
)

// State is the classification of one manifest entry against the local
// root.
type State int

const (
	// Present means the local file exists and its digest matches.
	Present State = iota
	// Missing means the local file does not exist, or reading/hashing it
	// failed (which is treated identically to absent, since the server
	// will re-send it).
	Missing
	// Corrupted means the local file exists but its digest does not
	// match the manifest.
	Corrupted
)

// String renders the state the way the reference client logs it.
func (s State) String() string {
	switch s {
	case Present:
		return "Present"
	case Missing:
		return "Missing"
	case Corrupted:
		return "Corrupted"
	default:
		return "Unknown"
	}
}

// Result pairs a manifest entry with its classification.
type Result struct {
	Entry manifest.Entry
	State State
}

// Run classifies every entry in m against root. If root does not exist,
// every entry is classified Missing without attempting I/O. Otherwise,
// hashing is parallelized across CPU cores and results are gathered back
// into manifest order so downstream logs and tests are deterministic.
func Run(root string, m manifest.Manifest) []Result {
	results := make([]Result, len(m))

	if _, err := os.Stat(root); err != nil {
		for i, e := range m {
			results[i] = Result{Entry: e, State: Missing}
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())

	for i, e := range m {
		i, e := i, e
		g.Go(func() error {
			results[i] = Result{Entry: e, State: classify(root, e)}
			return nil
		})
	}

	// classify never returns an error from the goroutine; Wait only
	// synchronizes completion.
	_ = g.Wait()

	return results
}

func classify(root string, e manifest.Entry) State {
	full := filepath.Join(root, e.Path)

	if _, err := os.Stat(full); err != nil {
		return Missing
	}

	sum, err := digest.File(full)
	if err != nil {
		// Permission denied and similar I/O errors downgrade to Missing
		// rather than aborting the pass; the server will re-send the file.
		return Missing
	}

	if sum == e.Digest {
		return Present
	}
	return Corrupted
}

// Wanted returns the relative paths of every entry not classified
// Present, preserving the order of results.
func Wanted(results []Result) []string {
	paths := make([]string, 0, len(results))
	for _, r := range results {
		if r.State != Present {
			paths = append(paths, r.Entry.Path)
		}
	}
	return paths
}
