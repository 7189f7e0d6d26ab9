package reconcile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/goopsie/repairman/pkg/digest"
	"github.com/goopsie/repairman/pkg/manifest"
)

func TestRunAbsentRootAllMissing(t *testing.T) {
	root := filepath.Join(t.TempDir(), "does-not-exist")
	m := manifest.Manifest{{Path: "a.txt", Digest: "whatever"}}

	results := Run(root, m)
	if len(results) != 1 {
		t.Fatalf("results: got %d, want 1", len(results))
	}
	if results[0].State != Missing {
		t.Errorf("state: got %v, want Missing", results[0].State)
	}
}

func TestRunClassifiesPresentMissingCorrupted(t *testing.T) {
	root := t.TempDir()

	writeFile(t, root, "present.txt", "hi\n")
	presentDigest, err := digest.File(filepath.Join(root, "present.txt"))
	if err != nil {
		t.Fatalf("digest: %v", err)
	}

	writeFile(t, root, "corrupted.bin", "garbage")

	m := manifest.Manifest{
		{Path: "present.txt", Digest: presentDigest},
		{Path: "missing.txt", Digest: "does-not-matter"},
		{Path: "corrupted.bin", Digest: "not-the-real-digest"},
	}

	results := Run(root, m)
	if len(results) != 3 {
		t.Fatalf("results: got %d, want 3", len(results))
	}

	byPath := map[string]State{}
	for _, r := range results {
		byPath[r.Entry.Path] = r.State
	}

	if byPath["present.txt"] != Present {
		t.Errorf("present.txt: got %v, want Present", byPath["present.txt"])
	}
	if byPath["missing.txt"] != Missing {
		t.Errorf("missing.txt: got %v, want Missing", byPath["missing.txt"])
	}
	if byPath["corrupted.bin"] != Corrupted {
		t.Errorf("corrupted.bin: got %v, want Corrupted", byPath["corrupted.bin"])
	}

	// Order must match the manifest regardless of the parallel hashing.
	if results[0].Entry.Path != "present.txt" ||
		results[1].Entry.Path != "missing.txt" ||
		results[2].Entry.Path != "corrupted.bin" {
		t.Errorf("order not preserved: %+v", results)
	}
}

func TestWanted(t *testing.T) {
	results := []Result{
		{Entry: manifest.Entry{Path: "a"}, State: Present},
		{Entry: manifest.Entry{Path: "b"}, State: Missing},
		{Entry: manifest.Entry{Path: "c"}, State: Corrupted},
	}

	got := Wanted(results)
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("wanted: got %v, want [b c]", got)
	}
}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture %s: %v", name, err)
	}
}
