package server

import (
	"sync"
	"time"

	"github.com/brojonat/tokenforge/service/metrics"
	"github.com/brojonat/tokenforge/service/token"
	"github.com/google/uuid"
)

const defaultPreparedTTL = 2 * time.Minute

type preparedEntry struct {
	prepared  *token.Prepared
	expiresAt time.Time
}

// preparedCache holds creations waiting for the fee payer's signature. An
// entry is removed as soon as it is broadcast, so a prepared transaction can
// be submitted at most once.
type preparedCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*preparedEntry
	now     func() time.Time
	metrics *metrics.Metrics
}

func newPreparedCache(ttl time.Duration, m *metrics.Metrics) *preparedCache {
	if ttl <= 0 {
		ttl = defaultPreparedTTL
	}
	return &preparedCache{
		ttl:     ttl,
		entries: make(map[string]*preparedEntry),
		now:     time.Now,
		metrics: m,
	}
}

// Put stores p under a new id and returns the id and its expiry.
func (c *preparedCache) Put(p *token.Prepared) (string, time.Time) {
	id := uuid.NewString()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
	expiresAt := c.now().Add(c.ttl)
	c.entries[id] = &preparedEntry{prepared: p, expiresAt: expiresAt}
	c.reportLocked()
	return id, expiresAt
}

// Replace swaps the creation stored under id, restarting its TTL.
func (c *preparedCache) Replace(id string, p *token.Prepared) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	expiresAt := c.now().Add(c.ttl)
	c.entries[id] = &preparedEntry{prepared: p, expiresAt: expiresAt}
	c.reportLocked()
	return expiresAt
}

// Take removes and returns the creation stored under id.
func (c *preparedCache) Take(id string) (*token.Prepared, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
	entry, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	delete(c.entries, id)
	c.reportLocked()
	return entry.prepared, true
}

func (c *preparedCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
	return len(c.entries)
}

func (c *preparedCache) sweepLocked() {
	now := c.now()
	for id, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, id)
		}
	}
}

func (c *preparedCache) reportLocked() {
	if c.metrics != nil {
		c.metrics.SetPreparedCreations(len(c.entries))
	}
}
