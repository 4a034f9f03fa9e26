// Package sessionkey defines the session-key type, its id encoding, and the
// storage interface the connection handler mints and looks up keys through.
package sessionkey

import (
	"time"

	authcrypto "authcore/pkg/crypto"
)

// authIDBits is the width, in bits, of the minting Auth's numeric id
// encoded in the high bits of every session-key id. 16 bits gives room for
// up to 65535 federated Auths while leaving 48 bits of id space per Auth —
// ample for any single Auth's key-minting volume.
const authIDBits = 16

// EncodeID packs localAuthID into the high authIDBits bits of a freshly
// generated 64-bit id, leaving the low bits as the unique per-key suffix.
func EncodeID(localAuthID int32, sequence uint64) int64 {
	const suffixMask = (uint64(1) << (64 - authIDBits)) - 1
	return int64(uint64(uint32(localAuthID))<<(64-authIDBits) | (sequence & suffixMask))
}

// DecodeAuthID extracts the minting Auth's numeric id from a session-key id.
func DecodeAuthID(id int64) int32 {
	return int32(uint64(id) >> (64 - authIDBits))
}

// Key is a minted session key and its validity/ownership metadata.
type Key struct {
	ID          int64
	Owners      map[string]struct{}
	Value       []byte
	CryptoSpec  authcrypto.SymmetricKeyCryptoSpec
	AbsValidity time.Time
	RelValidity time.Duration
}

// AddOwner records entityName as an owner of the key, idempotently.
func (k *Key) AddOwner(entityName string) {
	if k.Owners == nil {
		k.Owners = make(map[string]struct{})
	}
	k.Owners[entityName] = struct{}{}
}

// HasOwner reports whether entityName already owns the key.
func (k *Key) HasOwner(entityName string) bool {
	_, ok := k.Owners[entityName]
	return ok
}

// Store is the persistence seam the session-key service generates and
// looks up keys through. The in-memory reference implementation lives in
// pkg/store; see that package's doc comment for why this stays external
// to the core per the spec's storage delegation.
type Store interface {
	// Generate mints n fresh keys (clamped as the caller specifies) owned
	// initially by owner, persists them, and returns them.
	Generate(owner string, n int, spec authcrypto.SymmetricKeyCryptoSpec, keyBits int,
		absValidity time.Duration, relValidity time.Duration) ([]*Key, error)
	// GetByID returns the key with the given id, or ok=false if unknown.
	GetByID(id int64) (*Key, bool)
	// AddOwner records entityName as an owner of the key with the given id.
	AddOwner(id int64, entityName string) error
}
