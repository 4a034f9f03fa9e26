// Package wire implements the byte-level codec for the Auth entity protocol:
// fixed-width integers, base-128 variable-length integers, length-prefixed
// strings, and the typed message envelope built on top of them.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortBuffer is returned when a read would run past the end of the buffer.
var ErrShortBuffer = errors.New("wire: buffer too short")

const (
	ByteSize = 1
	Int32Size = 4
	Int64Size = 8
)

// VariableLengthInt is a base-128 varint, 7 bits of payload per byte with the
// high bit marking continuation. It's used for length prefixes throughout the
// wire format so that small lengths (the overwhelming majority) cost one byte.
type VariableLengthInt struct {
	Value int
	raw   []byte
}

// NewVariableLengthInt encodes n and caches its raw byte form.
func NewVariableLengthInt(n int) VariableLengthInt {
	if n < 0 {
		panic("wire: negative VariableLengthInt")
	}
	var raw []byte
	v := n
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		raw = append(raw, b)
		if v == 0 {
			break
		}
	}
	return VariableLengthInt{Value: n, raw: raw}
}

// Bytes returns the encoded form.
func (v VariableLengthInt) Bytes() []byte {
	return v.raw
}

// Len returns the number of bytes the encoded varint occupies.
func (v VariableLengthInt) Len() int {
	return len(v.raw)
}

// ReadVariableLengthInt decodes a varint starting at offset and returns the
// value along with the number of bytes consumed.
func ReadVariableLengthInt(buf []byte, offset int) (VariableLengthInt, error) {
	var value int
	shift := uint(0)
	var raw []byte
	for i := offset; ; i++ {
		if i >= len(buf) {
			return VariableLengthInt{}, ErrShortBuffer
		}
		b := buf[i]
		raw = append(raw, b)
		value |= int(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift > 63 {
			return VariableLengthInt{}, fmt.Errorf("wire: varint too long")
		}
	}
	return VariableLengthInt{Value: value, raw: raw}, nil
}

// BufferedString is a VariableLengthInt length prefix followed by that many
// UTF-8 bytes. Len reports the *total* on-wire size (prefix included) so
// callers can advance a cursor past it in one step.
type BufferedString struct {
	Value string
	raw   []byte
}

// NewBufferedString encodes s.
func NewBufferedString(s string) BufferedString {
	lenPrefix := NewVariableLengthInt(len(s))
	raw := make([]byte, 0, lenPrefix.Len()+len(s))
	raw = append(raw, lenPrefix.Bytes()...)
	raw = append(raw, s...)
	return BufferedString{Value: s, raw: raw}
}

// Bytes returns the length-prefix and payload as they appear on the wire.
func (b BufferedString) Bytes() []byte {
	return b.raw
}

// Len is the total wire size, prefix included.
func (b BufferedString) Len() int {
	return len(b.raw)
}

// ReadBufferedString decodes a length-prefixed string starting at offset.
func ReadBufferedString(buf []byte, offset int) (BufferedString, error) {
	lenPrefix, err := ReadVariableLengthInt(buf, offset)
	if err != nil {
		return BufferedString{}, fmt.Errorf("wire: reading buffered string length: %w", err)
	}
	start := offset + lenPrefix.Len()
	end := start + lenPrefix.Value
	if end > len(buf) {
		return BufferedString{}, ErrShortBuffer
	}
	raw := make([]byte, end-offset)
	copy(raw, buf[offset:end])
	return BufferedString{Value: string(buf[start:end]), raw: raw}, nil
}

// PutInt32 writes a big-endian int32 at offset.
func PutInt32(buf []byte, offset int, v int32) {
	binary.BigEndian.PutUint32(buf[offset:offset+Int32Size], uint32(v))
}

// GetInt32 reads a big-endian int32 at offset.
func GetInt32(buf []byte, offset int) (int32, error) {
	if offset+Int32Size > len(buf) {
		return 0, ErrShortBuffer
	}
	return int32(binary.BigEndian.Uint32(buf[offset : offset+Int32Size])), nil
}

// PutInt64 writes a big-endian int64 at offset.
func PutInt64(buf []byte, offset int, v int64) {
	binary.BigEndian.PutUint64(buf[offset:offset+Int64Size], uint64(v))
}

// GetInt64 reads a big-endian int64 at offset.
func GetInt64(buf []byte, offset int) (int64, error) {
	if offset+Int64Size > len(buf) {
		return 0, ErrShortBuffer
	}
	return int64(binary.BigEndian.Uint64(buf[offset : offset+Int64Size])), nil
}

// ToHexString renders buf the way the original Auth server logged raw wire
// bytes at DEBUG level.
func ToHexString(buf []byte) string {
	return fmt.Sprintf("%x", buf)
}
