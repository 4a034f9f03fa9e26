package crypto

import (
	"fmt"
	"strconv"
	"strings"
)

// SymmetricKeyCryptoSpec describes a symmetric cipher/hash pairing used to
// protect either a distribution key or a session key. Its canonical wire
// form is the string "CIPHER-KEYBITS-MODE-HASH", e.g. "AES-128-CBC-SHA256".
type SymmetricKeyCryptoSpec struct {
	CipherAlgo    string // "AES"
	CipherMode    string // "CBC"
	CipherKeyBits int    // 128, 192, 256
	HashAlgo      string // "SHA256"
}

// CipherKeySize is the key length in bytes.
func (s SymmetricKeyCryptoSpec) CipherKeySize() int {
	return s.CipherKeyBits / 8
}

// ToSpecString renders the canonical "CIPHER-KEYBITS-MODE-HASH" form.
func (s SymmetricKeyCryptoSpec) ToSpecString() string {
	return fmt.Sprintf("%s-%d-%s-%s", s.CipherAlgo, s.CipherKeyBits, s.CipherMode, s.HashAlgo)
}

// ParseSpecString parses the canonical form produced by ToSpecString.
func ParseSpecString(spec string) (SymmetricKeyCryptoSpec, error) {
	tokens := strings.Split(spec, "-")
	if len(tokens) != 4 {
		return SymmetricKeyCryptoSpec{}, fmt.Errorf("crypto: invalid crypto spec string %q", spec)
	}
	bits, err := strconv.Atoi(tokens[1])
	if err != nil {
		return SymmetricKeyCryptoSpec{}, fmt.Errorf("crypto: invalid key size in spec string %q: %w", spec, err)
	}
	return SymmetricKeyCryptoSpec{
		CipherAlgo:    tokens[0],
		CipherKeyBits: bits,
		CipherMode:    tokens[2],
		HashAlgo:      tokens[3],
	}, nil
}
