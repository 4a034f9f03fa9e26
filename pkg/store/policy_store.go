// Package store supplies in-memory reference implementations of the
// PolicyStore and SessionKeyStore collaborator interfaces the connection
// handler depends on (the in-memory Registry is pkg/registry's
// AtomicRegistry). A production deployment swaps these for
// implementations backed by a real database without the handler noticing,
// since it only ever sees the interfaces these satisfy.
package store

import (
	"sync"

	"authcore/pkg/policy"
)

type policyKey struct {
	requesterGroup string
	targetKind     policy.TargetKind
	targetName     string
}

// PolicyStore is a read-mostly in-memory policy.Store, loaded once at
// startup from whatever external configuration the out-of-scope loader
// parsed.
type PolicyStore struct {
	mu       sync.RWMutex
	policies map[policyKey]policy.CommunicationPolicy
}

// NewPolicyStore returns a PolicyStore seeded with the given policies.
func NewPolicyStore(policies []policy.CommunicationPolicy) *PolicyStore {
	s := &PolicyStore{policies: make(map[policyKey]policy.CommunicationPolicy, len(policies))}
	for _, p := range policies {
		s.policies[policyKey{p.RequesterGroup, p.TargetKind, p.TargetName}] = p
	}
	return s
}

// Resolve implements policy.Store.
func (s *PolicyStore) Resolve(requesterGroup string, targetKind policy.TargetKind, targetName string) (policy.CommunicationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[policyKey{requesterGroup, targetKind, targetName}]
	if !ok {
		return policy.CommunicationPolicy{}, policy.ErrPolicyNotFound
	}
	return p, nil
}

// Put inserts or replaces a policy, used by tests and the demo binaries to
// seed the store without a file loader.
func (s *PolicyStore) Put(p policy.CommunicationPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[policyKey{p.RequesterGroup, p.TargetKind, p.TargetName}] = p
}
