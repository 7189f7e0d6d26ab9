package protocol

import (
	"fmt"
	"io"
)

// ReadHeader reads and decodes exactly one frame header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("protocol: read header: %w", err)
	}

	var h Header
	if err := h.UnmarshalBinary(buf[:]); err != nil {
		return Header{}, err
	}

	return h, nil
}

// WriteHeader encodes and writes h to w.
func WriteHeader(w io.Writer, h Header) error {
	buf, err := h.MarshalBinary()
	if err != nil {
		return err
	}

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("protocol: write header: %w", err)
	}

	return nil
}
