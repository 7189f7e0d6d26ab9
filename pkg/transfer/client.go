package transfer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/klauspost/compress/flate"

	"github.com/goopsie/repairman/pkg/protocol"
)

// eventChannelCapacity is the bounded channel capacity between the read
// loop and the unpacker task, per spec.md §4.7.
const eventChannelCapacity = 100

// event is the tagged message the read loop sends to the unpacker.
// StartFile carries path and size, Content carries data, and FileDone
// carries nothing.
type event struct {
	kind kind
	path string
	size int
	data []byte
}

type kind int

const (
	kindStartFile kind = iota
	kindContent
	kindFileDone
)

// ReceiveFiles reads exactly `want` GIVE-FILES prologues (and their
// CHUNK/END-FILE frames) from r, decompressing each file under root. It
// returns once all `want` files have been committed to disk, or the first
// error encountered — in which case at most one file on disk may be
// partially written.
func ReceiveFiles(r io.Reader, root string, want int) error {
	events := make(chan event, eventChannelCapacity)
	done := make(chan error, 1)

	go unpack(events, root, done)

	readErr := readLoop(r, want, events)
	close(events)

	unpackErr := <-done

	if readErr != nil {
		return readErr
	}
	return unpackErr
}

func readLoop(r io.Reader, want int, events chan<- event) error {
	for i := 0; i < want; i++ {
		header, err := protocol.ReadHeader(r)
		if err != nil {
			return fmt.Errorf("transfer: read prologue header: %w", err)
		}

		if header.Type != protocol.GiveFiles {
			return fmt.Errorf("transfer: expected GIVE-FILES, got %s: %w", header.Type, protocol.ErrProtocolViolation)
		}

		nameBuf := make([]byte, header.FileNameSize)
		if _, err := io.ReadFull(r, nameBuf); err != nil {
			return fmt.Errorf("transfer: read file name: %w", err)
		}
		if !utf8.Valid(nameBuf) {
			return fmt.Errorf("transfer: file name is not valid UTF-8: %w", protocol.ErrInvalidFrame)
		}
		name := string(nameBuf)

		events <- event{kind: kindStartFile, path: name, size: int(header.BodySize)}

		if err := readFileBody(r, events); err != nil {
			return err
		}
	}

	return nil
}

// readFileBody reads CHUNK frames until END-FILE, forwarding each chunk's
// body to the unpacker as it arrives.
func readFileBody(r io.Reader, events chan<- event) error {
	for {
		header, err := protocol.ReadHeader(r)
		if err != nil {
			return fmt.Errorf("transfer: read frame header: %w", err)
		}

		switch header.Type {
		case protocol.Chunk:
			buf := make([]byte, header.BodySize)
			if _, err := io.ReadFull(r, buf); err != nil {
				return fmt.Errorf("transfer: read chunk body: %w", err)
			}
			events <- event{kind: kindContent, data: buf}

		case protocol.EndFile:
			events <- event{kind: kindFileDone}
			return nil

		default:
			return fmt.Errorf("transfer: expected CHUNK or END-FILE, got %s: %w", header.Type, protocol.ErrProtocolViolation)
		}
	}
}

// unpack drains events, maintaining exactly one open decompressor at a
// time so that file k+1 is never opened before file k is closed. It runs
// on its own goroutine, mirroring the reference's spawn_blocking task.
func unpack(events <-chan event, root string, done chan<- error) {
	var current io.WriteCloser

	closeCurrent := func() error {
		if current == nil {
			return nil
		}
		err := current.Close()
		current = nil
		return err
	}

	for ev := range events {
		switch ev.kind {
		case kindStartFile:
			if err := closeCurrent(); err != nil {
				drain(events)
				done <- fmt.Errorf("transfer: finish previous file: %w", err)
				return
			}

			dst := filepath.Join(root, ev.path)
			if parent := filepath.Dir(dst); parent != "." {
				if err := os.MkdirAll(parent, 0o755); err != nil {
					drain(events)
					done <- fmt.Errorf("transfer: create parent dirs for %s: %w", ev.path, err)
					return
				}
			}

			f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
			if err != nil {
				drain(events)
				done <- fmt.Errorf("transfer: create %s: %w", ev.path, err)
				return
			}

			current = newFlateWriteCloser(f)

		case kindContent:
			if current == nil {
				continue
			}
			if _, err := current.Write(ev.data); err != nil {
				drain(events)
				done <- fmt.Errorf("transfer: write content: %w", err)
				return
			}

		case kindFileDone:
			if err := closeCurrent(); err != nil {
				drain(events)
				done <- fmt.Errorf("transfer: finish file: %w", err)
				return
			}
		}
	}

	done <- closeCurrent()
}

// drain exhausts the channel after an error so the read loop's sends
// never block on a dead unpacker.
func drain(events <-chan event) {
	for range events {
	}
}

// flateWriteCloser wraps a flate.Reader-compatible write path: the
// protocol streams raw-deflate bytes, so decompression happens via a
// pipe into a flate reader feeding the destination file.
type flateWriteCloser struct {
	pw  *io.PipeWriter
	done chan error
}

func newFlateWriteCloser(dst io.WriteCloser) io.WriteCloser {
	pr, pw := io.Pipe()
	done := make(chan error, 1)

	go func() {
		defer dst.Close()

		fr := flate.NewReader(pr)
		defer fr.Close()

		_, err := io.Copy(dst, fr)
		pr.CloseWithError(err)
		done <- err
	}()

	return &flateWriteCloser{pw: pw, done: done}
}

func (f *flateWriteCloser) Write(p []byte) (int, error) {
	return f.pw.Write(p)
}

func (f *flateWriteCloser) Close() error {
	if err := f.pw.Close(); err != nil {
		return err
	}
	return <-f.done
}
