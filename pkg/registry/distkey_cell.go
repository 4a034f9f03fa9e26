package registry

import "sync"

// distKeyCell guards a single entity's mutable distribution key. Entities
// rotate this key far more often than the registry reloads its entire
// snapshot, so each entity gets its own lock instead of sharing the
// snapshot-wide one.
type distKeyCell struct {
	mu  sync.Mutex
	key *DistributionKey
}

func (c *distKeyCell) get() *DistributionKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

func (c *distKeyCell) set(key *DistributionKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = key
}
