// Package cache provides the process-global translation cache: a bounded
// map from (normalized source text, target language, prompt fingerprint)
// to translated text.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// DefaultMaxEntries bounds the cache when no size is configured.
const DefaultMaxEntries = 10000

// TranslationCache is a concurrency-safe LRU cache. When full it drops the
// oldest 10% in a single pass to amortize eviction cost. A disabled cache
// turns every Get into a miss and every Put into a no-op.
type TranslationCache struct {
	mu      sync.Mutex
	maxSize int
	enabled bool
	entries map[string]*list.Element
	order   *list.List // front = most recently used

	hits   uint64
	misses uint64
}

type cacheItem struct {
	key   string
	value string
}

// New creates a cache holding at most maxEntries translations.
func New(maxEntries int, enabled bool) *TranslationCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &TranslationCache{
		maxSize: maxEntries,
		enabled: enabled,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Key derives the cache key from the normalized source text, the target
// language and a fingerprint of the prompt. Distinct prompts yield
// distinct keys.
func Key(sourceText, targetLanguage, prompt string) string {
	if prompt == "" {
		prompt = "default"
	}
	promptSum := sha256.Sum256([]byte(prompt))
	fingerprint := hex.EncodeToString(promptSum[:])[:8]

	raw := strings.ToLower(strings.TrimSpace(sourceText)) + "::" + targetLanguage + "::" + fingerprint
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached translation for key, if any.
func (c *TranslationCache) Get(key string) (string, bool) {
	if !c.enabled {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return "", false
	}
	c.order.MoveToFront(el)
	c.hits++
	return el.Value.(*cacheItem).value, true
}

// Put stores a translation. Writes are idempotent; storing an existing key
// refreshes its recency.
func (c *TranslationCache) Put(key, value string) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheItem).value = value
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.maxSize {
		c.evictOldest()
	}
	c.entries[key] = c.order.PushFront(&cacheItem{key: key, value: value})
}

// evictOldest drops the oldest 10% (at least one) in one pass.
// Caller holds c.mu.
func (c *TranslationCache) evictOldest() {
	drop := c.maxSize / 10
	if drop < 1 {
		drop = 1
	}
	for i := 0; i < drop; i++ {
		back := c.order.Back()
		if back == nil {
			return
		}
		c.order.Remove(back)
		delete(c.entries, back.Value.(*cacheItem).key)
	}
}

// Len reports the number of cached translations.
func (c *TranslationCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Enabled reports whether caching is active.
func (c *TranslationCache) Enabled() bool {
	return c.enabled
}

// Stats returns cumulative hit and miss counters.
func (c *TranslationCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
