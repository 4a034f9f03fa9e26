package server

import (
	"context"
	"crypto/rsa"
	"time"

	authcrypto "authcore/pkg/crypto"
	"authcore/pkg/policy"
	"authcore/pkg/registry"
	"authcore/pkg/sessionkey"
)

// Crypto is the capability object the handler is given instead of reaching
// into crypto/* directly, so tests can substitute a deterministic double
// (fixed nonces, fixed key material) without touching crypto/rand.
// *authcrypto.Facade satisfies this interface. AESEncrypt/AESDecrypt/Hash/
// HashLen take the entity's own SymmetricKeyCryptoSpec rather than assuming
// AES-CBC/SHA256, so a spec naming anything else is rejected explicitly
// instead of silently run through the wrong primitive.
type Crypto interface {
	RandomBytes(n int) ([]byte, error)
	RSASign(data []byte) ([]byte, error)
	RSAVerify(data, signature []byte, pub *rsa.PublicKey) error
	RSADecryptWithAuthKey(data []byte) ([]byte, error)
	RSAEncrypt(data []byte, pub *rsa.PublicKey) ([]byte, error)
	AESEncrypt(data, key []byte, spec authcrypto.SymmetricKeyCryptoSpec) ([]byte, error)
	AESDecrypt(data, key []byte, spec authcrypto.SymmetricKeyCryptoSpec) ([]byte, error)
	Hash(data []byte, algo string) ([]byte, error)
	HashLen(algo string) (int, error)
}

// FederationFetcher is the outbound half of Auth-to-Auth federation the
// handler calls into on a SESSION_KEY_ID purpose naming a remotely-minted
// key. *federation.Client satisfies this interface.
type FederationFetcher interface {
	FetchSessionKey(ctx context.Context, peer *registry.TrustedAuth, sessionKeyID int64,
		requesterName, requesterGroup string) (*sessionkey.Key, error)
}

// Config is the small set of knobs the handler needs that aren't part of
// the registry/policy snapshots. Populating it from disk or flags is the
// out-of-scope configuration loader's job; the handler only ever sees the
// already-resolved struct.
type Config struct {
	LocalAuthID       int32
	Timeout           time.Duration
	FederationTimeout time.Duration
}

// Deps bundles every collaborator the handler is built with.
type Deps struct {
	Config      Config
	Crypto      Crypto
	Registry    registry.Registry
	Policies    policy.Store
	SessionKeys sessionkey.Store
	Federation  FederationFetcher
}
