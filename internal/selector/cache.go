package selector

import (
	"sync"
	"time"
)

// DefaultScoreTTL is how long a blended adaptive score stays valid before
// it is recomputed from fresh metrics.
const DefaultScoreTTL = time.Hour

type cacheEntry struct {
	score     float64
	expiresAt time.Time
}

// scoreCache memoizes per-model blended scores with a TTL. Concurrent
// writers race benignly; the last write wins, which is acceptable because
// any cached value was computed from the same underlying metrics.
type scoreCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

func newScoreCache(ttl time.Duration, now func() time.Time) *scoreCache {
	return &scoreCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     now,
	}
}

func (c *scoreCache) get(modelID string) (float64, bool) {
	c.mu.RLock()
	e, ok := c.entries[modelID]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expiresAt) {
		return 0, false
	}
	return e.score, true
}

func (c *scoreCache) set(modelID string, score float64) {
	c.mu.Lock()
	c.entries[modelID] = cacheEntry{score: score, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// invalidate drops one model's cached score so the next read recomputes it.
func (c *scoreCache) invalidate(modelID string) {
	c.mu.Lock()
	delete(c.entries, modelID)
	c.mu.Unlock()
}
