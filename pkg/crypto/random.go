package crypto

import (
	"crypto/rand"
	"fmt"
)

// AuthNonceSize is the length, in bytes, of both authNonce and entityNonce.
const AuthNonceSize = 8

// RandomBytes returns n cryptographically random bytes. There is no reseed
// requirement between calls; crypto/rand already draws from the OS CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("crypto: generating random bytes: %w", err)
	}
	return buf, nil
}

// RandomNonce returns a fresh 8-byte authNonce or entityNonce.
func RandomNonce() ([]byte, error) {
	return RandomBytes(AuthNonceSize)
}
