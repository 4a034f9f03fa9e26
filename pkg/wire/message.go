package wire

import (
	"fmt"
	"io"
)

// MessageType is the 1-byte tag that opens every envelope on the wire.
type MessageType byte

const (
	MessageTypeAuthHello             MessageType = 0x01
	MessageTypeSessionKeyReqInPubEnc MessageType = 0x02
	MessageTypeSessionKeyReq         MessageType = 0x03
	MessageTypeSessionKeyResp        MessageType = 0x04
	MessageTypeAuthAlert             MessageType = 0x05
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeAuthHello:
		return "AUTH_HELLO"
	case MessageTypeSessionKeyReqInPubEnc:
		return "SESSION_KEY_REQ_IN_PUB_ENC"
	case MessageTypeSessionKeyReq:
		return "SESSION_KEY_REQ"
	case MessageTypeSessionKeyResp:
		return "SESSION_KEY_RESP"
	case MessageTypeAuthAlert:
		return "AUTH_ALERT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(t))
	}
}

const MsgTypeSize = 1

// Envelope is the decoded type-tag + length-prefix + payload triple shared by
// every message on the wire.
type Envelope struct {
	Type    MessageType
	Payload []byte
}

// Encode serializes typ and payload as `type | varint(len) | payload`.
func Encode(typ MessageType, payload []byte) []byte {
	lenPrefix := NewVariableLengthInt(len(payload))
	out := make([]byte, 0, MsgTypeSize+lenPrefix.Len()+len(payload))
	out = append(out, byte(typ))
	out = append(out, lenPrefix.Bytes()...)
	out = append(out, payload...)
	return out
}

// Decode parses a single envelope from the front of buf. It does not require
// buf to contain exactly one message; trailing bytes beyond the declared
// payload length are ignored, matching a protocol that processes exactly one
// message per connection.
func Decode(buf []byte) (Envelope, error) {
	if len(buf) < MsgTypeSize {
		return Envelope{}, ErrShortBuffer
	}
	typ := MessageType(buf[0])
	lenPrefix, err := ReadVariableLengthInt(buf, MsgTypeSize)
	if err != nil {
		return Envelope{}, fmt.Errorf("wire: reading envelope length: %w", err)
	}
	start := MsgTypeSize + lenPrefix.Len()
	end := start + lenPrefix.Value
	if end > len(buf) {
		return Envelope{}, ErrShortBuffer
	}
	payload := make([]byte, lenPrefix.Value)
	copy(payload, buf[start:end])
	return Envelope{Type: typ, Payload: payload}, nil
}

// ReadEnvelope reads exactly one envelope from r: the 1-byte type tag, the
// varint length prefix one byte at a time (its own length isn't known in
// advance), then the declared payload with io.ReadFull. Unlike Decode, which
// assumes its argument already holds a complete message, ReadEnvelope keeps
// reading until it has one — so a request that arrives split across several
// TCP segments is read in full rather than truncated by a single Read.
// maxPayloadSize bounds the declared length against a malformed or hostile
// prefix claiming an unreasonable size.
func ReadEnvelope(r io.Reader, maxPayloadSize int) (Envelope, error) {
	var typBuf [MsgTypeSize]byte
	if _, err := io.ReadFull(r, typBuf[:]); err != nil {
		return Envelope{}, err
	}
	typ := MessageType(typBuf[0])

	value, shift := 0, uint(0)
	for {
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Envelope{}, err
		}
		value |= int(b[0]&0x7f) << shift
		if b[0]&0x80 == 0 {
			break
		}
		shift += 7
		if shift > 63 {
			return Envelope{}, fmt.Errorf("wire: varint too long")
		}
	}
	if value > maxPayloadSize {
		return Envelope{}, fmt.Errorf("wire: declared payload length %d exceeds maximum %d", value, maxPayloadSize)
	}

	payload := make([]byte, value)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, Payload: payload}, nil
}
