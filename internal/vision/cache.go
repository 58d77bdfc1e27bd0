package vision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

const (
	// DefaultCacheTTL is how long a successful classification is reused for
	// byte-identical images.
	DefaultCacheTTL = 6 * time.Hour
	// DefaultCacheEntries caps the number of cached classifications.
	DefaultCacheEntries = 10000
)

type cachingClassifier struct {
	inner      Classifier
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu        sync.Mutex
	entries   map[string]cacheEntry
	lastSweep time.Time
}

type cacheEntry struct {
	at      time.Time
	signals Signals
}

// WithCache wraps a classifier so that re-uploads of the same bytes within
// ttl reuse the earlier signals. Failed calls are never cached. Expired
// entries are swept at most once per ttl, and the oldest entry is evicted
// once DefaultCacheEntries are held.
func WithCache(inner Classifier, ttl time.Duration) Classifier {
	if inner == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &cachingClassifier{
		inner:      inner,
		ttl:        ttl,
		maxEntries: DefaultCacheEntries,
		now:        time.Now,
		entries:    make(map[string]cacheEntry),
	}
}

func (c *cachingClassifier) Enabled() bool {
	return c != nil && c.inner != nil && c.inner.Enabled()
}

func (c *cachingClassifier) Analyze(ctx context.Context, image []byte) (Signals, error) {
	sum := sha256.Sum256(image)
	key := hex.EncodeToString(sum[:])

	if signals, ok := c.lookup(key); ok {
		return signals, nil
	}

	signals, err := c.inner.Analyze(ctx, image)
	if err != nil {
		return Signals{}, err
	}
	if signals.APISuccess {
		c.store(key, signals)
	}
	return signals, nil
}

func (c *cachingClassifier) lookup(key string) (Signals, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return Signals{}, false
	}
	if c.now().Sub(entry.at) >= c.ttl {
		delete(c.entries, key)
		return Signals{}, false
	}
	return entry.signals, true
}

func (c *cachingClassifier) store(key string, signals Signals) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if now.Sub(c.lastSweep) >= c.ttl || len(c.entries) >= c.maxEntries {
		c.sweepLocked(now)
	}
	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = cacheEntry{at: now, signals: signals}
}

func (c *cachingClassifier) sweepLocked(now time.Time) {
	for key, entry := range c.entries {
		if now.Sub(entry.at) >= c.ttl {
			delete(c.entries, key)
		}
	}
	c.lastSweep = now
}

func (c *cachingClassifier) evictOldestLocked() {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for key, entry := range c.entries {
		if oldestKey == "" || entry.at.Before(oldestAt) {
			oldestKey, oldestAt = key, entry.at
		}
	}
	delete(c.entries, oldestKey)
}
