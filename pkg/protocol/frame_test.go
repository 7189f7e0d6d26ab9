package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestHeader(t *testing.T) {
	t.Run("MarshalUnmarshal", func(t *testing.T) {
		original := NewHeader(GetFiles, 12, 512)

		data, err := original.MarshalBinary()
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if len(data) != HeaderSize {
			t.Fatalf("marshaled size: got %d, want %d", len(data), HeaderSize)
		}

		var decoded Header
		if err := decoded.UnmarshalBinary(data); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}

		if decoded != original {
			t.Errorf("mismatch: got %+v, want %+v", decoded, original)
		}
	})

	t.Run("TrailingZerosParseIdentically", func(t *testing.T) {
		padded := NewHeader(GetHashes, 0, 0)
		data, err := padded.MarshalBinary()
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}

		// The request-line area is zero-padded by MarshalBinary; those
		// trailing NULs must be trimmed before the line is parsed.
		var decoded Header
		if err := decoded.UnmarshalBinary(data); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if decoded.Type != GetHashes {
			t.Errorf("type: got %q, want %q", decoded.Type, GetHashes)
		}
	})

	t.Run("InvalidProtocolName", func(t *testing.T) {
		data := make([]byte, HeaderSize)
		copy(data, "notrepairman|0.1|GET-HASHES")

		var h Header
		err := h.UnmarshalBinary(data)
		if !errors.Is(err, ErrInvalidFrame) {
			t.Errorf("expected ErrInvalidFrame, got %v", err)
		}
	})

	t.Run("UnsupportedVersion", func(t *testing.T) {
		data := make([]byte, HeaderSize)
		copy(data, "repairman|9.9|GET-HASHES")

		var h Header
		err := h.UnmarshalBinary(data)
		if !errors.Is(err, ErrUnsupportedVersion) {
			t.Errorf("expected ErrUnsupportedVersion, got %v", err)
		}
	})

	t.Run("ShortHeader", func(t *testing.T) {
		var h Header
		err := h.UnmarshalBinary(make([]byte, HeaderSize-1))
		if !errors.Is(err, ErrInvalidFrame) {
			t.Errorf("expected ErrInvalidFrame, got %v", err)
		}
	})
}

func TestReadWriteHeader(t *testing.T) {
	var buf bytes.Buffer

	want := NewHeader(Chunk, 0, 4096)
	if err := WriteHeader(&buf, want); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ReadHeader(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if got != want {
		t.Errorf("mismatch: got %+v, want %+v", got, want)
	}
}
