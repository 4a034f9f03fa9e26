package protocol

import (
	"authcore/pkg/wire"
)

// SessionKeyReq is the plaintext form of a session-key request, recovered
// after decrypting either the PUB-ENC or DIST-KEY envelope. The wire layout
// is identical for both paths once decrypted: only how the envelope around
// it was produced differs.
type SessionKeyReq struct {
	EntityName  string
	AuthNonce   []byte
	EntityNonce []byte
	NumKeys     int32
	Purpose     Purpose
}

// Encode serializes the plaintext payload:
// BufferedString(entityName) | authNonce(8) | entityNonce(8) | numKeys:int32 | BufferedString(purposeJSON).
func (r SessionKeyReq) Encode() ([]byte, error) {
	purposeJSON, err := EncodePurpose(r.Purpose)
	if err != nil {
		return nil, err
	}
	nameBuf := wire.NewBufferedString(r.EntityName)
	purposeBuf := wire.NewBufferedString(string(purposeJSON))

	out := make([]byte, 0, nameBuf.Len()+AuthNonceSize+AuthNonceSize+wire.Int32Size+purposeBuf.Len())
	out = append(out, nameBuf.Bytes()...)
	out = append(out, r.AuthNonce...)
	out = append(out, r.EntityNonce...)
	numKeys := make([]byte, wire.Int32Size)
	wire.PutInt32(numKeys, 0, r.NumKeys)
	out = append(out, numKeys...)
	out = append(out, purposeBuf.Bytes()...)
	return out, nil
}

// DecodeSessionKeyReq parses the plaintext payload described by Encode.
func DecodeSessionKeyReq(payload []byte) (SessionKeyReq, error) {
	offset := 0

	name, err := wire.ReadBufferedString(payload, offset)
	if err != nil {
		return SessionKeyReq{}, err
	}
	offset += name.Len()

	if offset+AuthNonceSize+AuthNonceSize+wire.Int32Size > len(payload) {
		return SessionKeyReq{}, wire.ErrShortBuffer
	}
	authNonce := make([]byte, AuthNonceSize)
	copy(authNonce, payload[offset:offset+AuthNonceSize])
	offset += AuthNonceSize

	entityNonce := make([]byte, AuthNonceSize)
	copy(entityNonce, payload[offset:offset+AuthNonceSize])
	offset += AuthNonceSize

	numKeys, err := wire.GetInt32(payload, offset)
	if err != nil {
		return SessionKeyReq{}, err
	}
	offset += wire.Int32Size

	purposeBuf, err := wire.ReadBufferedString(payload, offset)
	if err != nil {
		return SessionKeyReq{}, err
	}
	purpose, err := DecodePurpose([]byte(purposeBuf.Value))
	if err != nil {
		return SessionKeyReq{}, err
	}

	return SessionKeyReq{
		EntityName:  name.Value,
		AuthNonce:   authNonce,
		EntityNonce: entityNonce,
		NumKeys:     numKeys,
		Purpose:     purpose,
	}, nil
}

// PeekEntityName reads just the BufferedString(entityName) prefix of a
// DIST-KEY request, whose entity name is sent in cleartext ahead of the
// encrypted envelope — the handler needs the name before it can even look
// up which distribution key to decrypt the rest with.
func PeekEntityName(payload []byte) (name string, rest []byte, err error) {
	buf, err := wire.ReadBufferedString(payload, 0)
	if err != nil {
		return "", nil, err
	}
	return buf.Value, payload[buf.Len():], nil
}
