// Package registry holds the read-mostly in-memory view of registered
// entities and trusted peer Auths that the connection handler consults on
// every request. Snapshots are swapped atomically on reload; the one hot
// per-entity mutation (distribution-key rotation) goes through a dedicated
// per-entity lock instead of locking the whole snapshot.
package registry

import (
	"crypto/rsa"
	"time"

	authcrypto "authcore/pkg/crypto"
)

// DistributionKey is the per-entity symmetric key minted on a PUB-ENC
// request and used to protect subsequent DIST-KEY session-key responses.
type DistributionKey struct {
	KeyBytes  []byte
	ExpiresAt time.Time
}

// Expired reports whether the key is no longer usable as of now.
func (k *DistributionKey) Expired(now time.Time) bool {
	return now.After(k.ExpiresAt)
}

// Serialize produces the wire form consumed by RSAEncrypt when a freshly
// minted distribution key is delivered to the entity: key bytes followed by
// the absolute expiration time as a Unix millisecond int64.
func (k *DistributionKey) Serialize() []byte {
	out := make([]byte, len(k.KeyBytes)+8)
	copy(out, k.KeyBytes)
	putInt64(out[len(k.KeyBytes):], k.ExpiresAt.UnixMilli())
	return out
}

func putInt64(buf []byte, v int64) {
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
}

// RegisteredEntity is a device or service known to this Auth.
type RegisteredEntity struct {
	Name                     string
	Group                    string
	PublicKey                *rsa.PublicKey // nil only when UsePermanentDistKey is set
	UsePermanentDistKey      bool
	DistCryptoSpec           authcrypto.SymmetricKeyCryptoSpec
	DistKeyValidity          time.Duration
	MaxSessionKeysPerRequest int

	distKey *distKeyCell
}

// NewRegisteredEntity constructs an entity with its own distribution-key
// cell. initialKey may be nil (no distribution key yet negotiated) or, for
// usePermanentDistKey entities, the one key that is never rotated.
func NewRegisteredEntity(name, group string, publicKey *rsa.PublicKey, usePermanentDistKey bool,
	distCryptoSpec authcrypto.SymmetricKeyCryptoSpec, distKeyValidity time.Duration,
	maxSessionKeysPerRequest int, initialKey *DistributionKey) *RegisteredEntity {
	return &RegisteredEntity{
		Name:                     name,
		Group:                    group,
		PublicKey:                publicKey,
		UsePermanentDistKey:      usePermanentDistKey,
		DistCryptoSpec:           distCryptoSpec,
		DistKeyValidity:          distKeyValidity,
		MaxSessionKeysPerRequest: maxSessionKeysPerRequest,
		distKey:                  &distKeyCell{key: initialKey},
	}
}

// DistributionKey returns the entity's current distribution key, or nil if
// none has been negotiated yet.
func (e *RegisteredEntity) DistributionKey() *DistributionKey {
	return e.distKey.get()
}

// SetDistributionKey atomically installs a new distribution key, matching
// the PUB-ENC path's rotation step. Callers must not do this for
// UsePermanentDistKey entities — that invariant is enforced by the caller
// (the registry's UpdateDistributionKey), not here, since a bare entity
// struct has no way to refuse the call safely under concurrent access.
func (e *RegisteredEntity) SetDistributionKey(key *DistributionKey) {
	e.distKey.set(key)
}
