// Package manifest represents and (de)serializes the authoritative list of
// a server's files and their digests.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Entry is an immutable record of one relative path and its lowercase hex
// digest. The manifest itself is an ordered sequence, but order is
// authoritative only insofar as the server transmits entries in the order
// it produced them; clients must not rely on it.
type Entry struct {
	Path   string
	Digest string
}

// Manifest is an ordered list of Entry values.
type Manifest []Entry

// Encode writes the manifest as the GIVE-HASHES body format: one
// "<path> <hex_digest>" line per entry, terminated by '\n'.
func (m Manifest) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, e := range m {
		if _, err := fmt.Fprintf(bw, "%s %s\n", e.Path, e.Digest); err != nil {
			return fmt.Errorf("manifest: encode: %w", err)
		}
	}
	return bw.Flush()
}

// Bytes returns the GIVE-HASHES body encoding of m.
func (m Manifest) Bytes() []byte {
	var sb strings.Builder
	for _, e := range m {
		sb.WriteString(e.Path)
		sb.WriteByte(' ')
		sb.WriteString(e.Digest)
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}

// Decode parses a GIVE-HASHES body: split on '\n', skip the empty trailing
// line, split each non-empty line on the first space, and reject a line
// missing either field.
func Decode(body []byte) (Manifest, error) {
	text := string(body)
	lines := strings.Split(text, "\n")

	// Trailing "\n" produces one empty trailing element; drop it.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	m := make(Manifest, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}

		idx := strings.IndexByte(line, ' ')
		if idx < 0 {
			return nil, fmt.Errorf("manifest: line %q missing path/digest separator", line)
		}

		path, hash := line[:idx], line[idx+1:]
		if path == "" || hash == "" {
			return nil, fmt.Errorf("manifest: line %q has an empty field", line)
		}

		m = append(m, Entry{Path: path, Digest: hash})
	}

	return m, nil
}

// Paths renders the GET-FILES body: one relative path per line.
func Paths(paths []string) []byte {
	var sb strings.Builder
	for _, p := range paths {
		sb.WriteString(p)
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}

// DecodePaths parses a GET-FILES body into a slice of relative paths.
func DecodePaths(body []byte) []string {
	text := string(body)
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
