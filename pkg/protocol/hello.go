// Package protocol implements the typed messages carried inside the wire
// envelope: AUTH_HELLO, SESSION_KEY_REQ (both modes), SESSION_KEY_RESP, and
// AUTH_ALERT.
package protocol

import (
	"authcore/pkg/wire"
)

// AuthNonceSize is the length, in bytes, of every nonce this protocol
// exchanges.
const AuthNonceSize = 8

// AuthHello is the first message the handler sends on every accepted
// connection: this Auth's numeric id and the freshly generated authNonce
// the entity's request must echo back.
type AuthHello struct {
	AuthID    int32
	AuthNonce []byte
}

// Encode serializes the AUTH_HELLO payload: 4-byte Auth id, then the nonce.
func (h AuthHello) Encode() []byte {
	out := make([]byte, wire.Int32Size+len(h.AuthNonce))
	wire.PutInt32(out, 0, h.AuthID)
	copy(out[wire.Int32Size:], h.AuthNonce)
	return out
}

// DecodeAuthHello parses an AUTH_HELLO payload.
func DecodeAuthHello(payload []byte) (AuthHello, error) {
	authID, err := wire.GetInt32(payload, 0)
	if err != nil {
		return AuthHello{}, err
	}
	end := wire.Int32Size + AuthNonceSize
	if end > len(payload) {
		return AuthHello{}, wire.ErrShortBuffer
	}
	nonce := make([]byte, AuthNonceSize)
	copy(nonce, payload[wire.Int32Size:end])
	return AuthHello{AuthID: authID, AuthNonce: nonce}, nil
}
