// Package protocol implements the repairman wire protocol: a fixed 64-byte
// frame header followed by an optional variable-length body.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// HeaderSize is the fixed on-wire size of a frame header in bytes.
const HeaderSize = 64

// requestLineSize is the zero-padded ASCII area holding "repairman|<version>|<TYPE>".
const requestLineSize = 56

// protocolName is the literal that must prefix every request line.
const protocolName = "repairman"

// Version identifies the protocol version carried in the request line.
type Version string

// Version01 is the only recognized protocol version.
const Version01 Version = "0.1"

// ErrInvalidFrame is returned when a header fails to parse for any
// shape-related reason (bad prefix, bad separator count, short read).
var ErrInvalidFrame = errors.New("protocol: invalid frame")

// ErrUnsupportedVersion is returned when the request line names a version
// this implementation doesn't recognize.
var ErrUnsupportedVersion = errors.New("protocol: unsupported version")

// ErrProtocolViolation is returned when a syntactically valid frame
// carries a request type that is not valid in the context it was read.
var ErrProtocolViolation = errors.New("protocol: violation")

// Type is one of the request/response kinds defined by the protocol.
// Directionality is fixed: GetHashes, GetFiles, and Disconnect are
// client→server; GiveHashes, GiveFiles, Chunk, and EndFile are
// server→client.
type Type string

const (
	GetHashes  Type = "GET-HASHES"
	GetFiles   Type = "GET-FILES"
	GiveHashes Type = "GIVE-HASHES"
	GiveFiles  Type = "GIVE-FILES"
	Chunk      Type = "CHUNK"
	EndFile    Type = "END-FILE"
	Disconnect Type = "DISCONNECT"
)

// Header is a parsed frame header. Its lifetime is a single handler
// iteration; it carries no body bytes of its own.
type Header struct {
	Version       Version
	Type          Type
	FileNameSize  uint32
	BodySize      uint32
}

// NewHeader builds a header for the given type and sizes, defaulting to
// Version01.
func NewHeader(t Type, fileNameSize, bodySize uint32) Header {
	return Header{Version: Version01, Type: t, FileNameSize: fileNameSize, BodySize: bodySize}
}

// MarshalBinary encodes the header to its fixed 64-byte wire form. Trailing
// bytes of the 56-byte request-line area are zero.
func (h Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)

	line := fmt.Sprintf("%s|%s|%s", protocolName, h.Version, h.Type)
	if len(line) > requestLineSize {
		return nil, fmt.Errorf("protocol: request line %q exceeds %d bytes: %w", line, requestLineSize, ErrInvalidFrame)
	}
	copy(buf[:requestLineSize], line)

	binary.BigEndian.PutUint32(buf[56:60], h.FileNameSize)
	binary.BigEndian.PutUint32(buf[60:64], h.BodySize)

	return buf, nil
}

// UnmarshalBinary decodes a header from exactly HeaderSize bytes. It
// rejects any shape violation with ErrInvalidFrame or
// ErrUnsupportedVersion.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) != HeaderSize {
		return fmt.Errorf("protocol: header must be %d bytes, got %d: %w", HeaderSize, len(data), ErrInvalidFrame)
	}

	line := bytes.TrimRight(data[:requestLineSize], "\x00")

	parts := strings.Split(string(line), "|")
	if len(parts) != 3 {
		return fmt.Errorf("protocol: malformed request line %q: %w", line, ErrInvalidFrame)
	}

	if parts[0] != protocolName {
		return fmt.Errorf("protocol: unexpected protocol name %q: %w", parts[0], ErrInvalidFrame)
	}

	version := Version(parts[1])
	if version != Version01 {
		return fmt.Errorf("protocol: version %q: %w", parts[1], ErrUnsupportedVersion)
	}

	reqType, ok := parseType(parts[2])
	if !ok {
		return fmt.Errorf("protocol: unknown request type %q: %w", parts[2], ErrInvalidFrame)
	}

	h.Version = version
	h.Type = reqType
	h.FileNameSize = binary.BigEndian.Uint32(data[56:60])
	h.BodySize = binary.BigEndian.Uint32(data[60:64])

	return nil
}

func parseType(s string) (Type, bool) {
	switch Type(s) {
	case GetHashes, GetFiles, GiveHashes, GiveFiles, Chunk, EndFile, Disconnect:
		return Type(s), true
	default:
		return "", false
	}
}
