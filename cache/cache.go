// Package cache holds classification verdicts keyed by image
// fingerprint for a bounded time.
package cache

import (
	"sync"
	"time"

	"report-intake-service/models"
)

// DefaultTTL is how long a cached verdict stays valid.
const DefaultTTL = 5 * time.Minute

// janitorInterval is how often expired entries are swept. Entries are
// also dropped lazily on Get, the sweep only bounds memory between
// reads.
const janitorInterval = time.Minute

type entry struct {
	verdict   models.ClassificationVerdict
	expiresAt time.Time
}

// VerdictCache is a TTL-bounded fingerprint -> verdict map shared by
// all submissions. There is no size bound; entries expire after their
// TTL, which is acceptable at the target submission rate.
type VerdictCache struct {
	mu       sync.Mutex
	entries  map[string]entry
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

// New creates a verdict cache and starts its janitor.
func New() *VerdictCache {
	c := NewWithClock(time.Now)
	go c.janitor()
	return c
}

// NewWithClock creates a cache with an injected clock and no janitor.
// Intended for tests asserting TTL behavior deterministically.
func NewWithClock(now func() time.Time) *VerdictCache {
	return &VerdictCache{
		entries:  make(map[string]entry),
		now:      now,
		stopChan: make(chan struct{}),
	}
}

// Get returns the cached verdict for fp, if present and unexpired.
// The returned copy has CacheHit set.
func (c *VerdictCache) Get(fp string) (models.ClassificationVerdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fp]
	if !ok {
		return models.ClassificationVerdict{}, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, fp)
		return models.ClassificationVerdict{}, false
	}
	v := e.verdict
	v.CacheHit = true
	return v, true
}

// Put stores a verdict for fp. An existing entry is replaced and its
// expiry reset. Stored verdicts always carry CacheHit=false; Get sets
// the flag on the way out.
func (c *VerdictCache) Put(fp string, v models.ClassificationVerdict, ttl time.Duration) {
	v.CacheHit = false

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fp] = entry{verdict: v, expiresAt: c.now().Add(ttl)}
}

// Len returns the number of entries, expired or not.
func (c *VerdictCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stop terminates the janitor goroutine. Safe to call more than once.
func (c *VerdictCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

func (c *VerdictCache) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopChan:
			return
		}
	}
}

func (c *VerdictCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for fp, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, fp)
		}
	}
}
