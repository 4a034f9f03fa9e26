package store

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	authcrypto "authcore/pkg/crypto"
	"authcore/pkg/sessionkey"
)

// SessionKeyStore is an in-memory sessionkey.Store. Ids are minted with a
// monotonically increasing per-process sequence number in the low bits and
// localAuthID in the high bits, per sessionkey.EncodeID.
type SessionKeyStore struct {
	localAuthID int32
	sequence    atomic.Uint64

	mu   sync.Mutex
	keys map[int64]*sessionkey.Key
}

// NewSessionKeyStore returns an empty SessionKeyStore for the given local
// Auth id.
func NewSessionKeyStore(localAuthID int32) *SessionKeyStore {
	return &SessionKeyStore{localAuthID: localAuthID, keys: make(map[int64]*sessionkey.Key)}
}

// Generate implements sessionkey.Store: it mints n keys, each with
// keyBits/8 fresh random bytes, owned initially by owner, and persists them
// before returning.
func (s *SessionKeyStore) Generate(owner string, n int, spec authcrypto.SymmetricKeyCryptoSpec, keyBits int,
	absValidity time.Duration, relValidity time.Duration) ([]*sessionkey.Key, error) {
	if n < 0 {
		return nil, fmt.Errorf("store: cannot generate a negative number of session keys")
	}

	keys := make([]*sessionkey.Key, 0, n)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		value, err := authcrypto.RandomBytes(keyBits / 8)
		if err != nil {
			return nil, fmt.Errorf("store: generating session key material: %w", err)
		}
		id := sessionkey.EncodeID(s.localAuthID, s.sequence.Add(1))
		key := &sessionkey.Key{
			ID:          id,
			Value:       value,
			CryptoSpec:  spec,
			AbsValidity: time.Now().Add(absValidity),
			RelValidity: relValidity,
		}
		key.AddOwner(owner)
		s.keys[id] = key
		keys = append(keys, key)
	}
	return keys, nil
}

// GetByID implements sessionkey.Store.
func (s *SessionKeyStore) GetByID(id int64) (*sessionkey.Key, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	return k, ok
}

// AddOwner implements sessionkey.Store.
func (s *SessionKeyStore) AddOwner(id int64, entityName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return fmt.Errorf("store: no session key with id %d", id)
	}
	k.AddOwner(entityName)
	return nil
}
