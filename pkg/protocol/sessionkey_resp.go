package protocol

import (
	"time"

	authcrypto "authcore/pkg/crypto"
	"authcore/pkg/sessionkey"
	"authcore/pkg/wire"
)

// SessionKeyResp is the plaintext form of a session-key response, encrypted
// under either the newly minted or the existing distribution key before
// being sent.
type SessionKeyResp struct {
	EntityNonce []byte
	CryptoSpec  authcrypto.SymmetricKeyCryptoSpec
	Keys        []*sessionkey.Key
}

// Encode serializes: entityNonce(8) | cryptoSpecString(BufferedString) |
// numKeys:varint | (id:int64 | absValidity:int64 | relValidity:int64 | keyBytes(length-prefixed))*.
func (r SessionKeyResp) Encode() []byte {
	specBuf := wire.NewBufferedString(r.CryptoSpec.ToSpecString())
	numKeys := wire.NewVariableLengthInt(len(r.Keys))

	size := len(r.EntityNonce) + specBuf.Len() + numKeys.Len()
	keyBufs := make([]wire.BufferedString, len(r.Keys))
	for i, k := range r.Keys {
		keyBufs[i] = wire.NewBufferedString(string(k.Value))
		size += wire.Int64Size + wire.Int64Size + wire.Int64Size + keyBufs[i].Len()
	}

	out := make([]byte, 0, size)
	out = append(out, r.EntityNonce...)
	out = append(out, specBuf.Bytes()...)
	out = append(out, numKeys.Bytes()...)
	for i, k := range r.Keys {
		idBuf := make([]byte, wire.Int64Size)
		wire.PutInt64(idBuf, 0, k.ID)
		out = append(out, idBuf...)

		absBuf := make([]byte, wire.Int64Size)
		wire.PutInt64(absBuf, 0, k.AbsValidity.UnixMilli())
		out = append(out, absBuf...)

		relBuf := make([]byte, wire.Int64Size)
		wire.PutInt64(relBuf, 0, int64(k.RelValidity/time.Millisecond))
		out = append(out, relBuf...)

		out = append(out, keyBufs[i].Bytes()...)
	}
	return out
}

// DecodeSessionKeyResp parses the plaintext payload described by Encode.
// Keys decoded this way carry no owners (the receiving entity is not in a
// position to know the owner set, only the key material and its spec).
func DecodeSessionKeyResp(payload []byte) (SessionKeyResp, error) {
	offset := 0
	if offset+AuthNonceSize > len(payload) {
		return SessionKeyResp{}, wire.ErrShortBuffer
	}
	entityNonce := make([]byte, AuthNonceSize)
	copy(entityNonce, payload[offset:offset+AuthNonceSize])
	offset += AuthNonceSize

	specBuf, err := wire.ReadBufferedString(payload, offset)
	if err != nil {
		return SessionKeyResp{}, err
	}
	spec, err := authcrypto.ParseSpecString(specBuf.Value)
	if err != nil {
		return SessionKeyResp{}, err
	}
	offset += specBuf.Len()

	numKeys, err := wire.ReadVariableLengthInt(payload, offset)
	if err != nil {
		return SessionKeyResp{}, err
	}
	offset += numKeys.Len()

	keys := make([]*sessionkey.Key, 0, numKeys.Value)
	for i := 0; i < numKeys.Value; i++ {
		id, err := wire.GetInt64(payload, offset)
		if err != nil {
			return SessionKeyResp{}, err
		}
		offset += wire.Int64Size

		absMillis, err := wire.GetInt64(payload, offset)
		if err != nil {
			return SessionKeyResp{}, err
		}
		offset += wire.Int64Size

		relMillis, err := wire.GetInt64(payload, offset)
		if err != nil {
			return SessionKeyResp{}, err
		}
		offset += wire.Int64Size

		valueBuf, err := wire.ReadBufferedString(payload, offset)
		if err != nil {
			return SessionKeyResp{}, err
		}
		offset += valueBuf.Len()

		keys = append(keys, &sessionkey.Key{
			ID:          id,
			Value:       []byte(valueBuf.Value),
			CryptoSpec:  spec,
			AbsValidity: time.UnixMilli(absMillis),
			RelValidity: time.Duration(relMillis) * time.Millisecond,
		})
	}

	return SessionKeyResp{EntityNonce: entityNonce, CryptoSpec: spec, Keys: keys}, nil
}
