package router

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

type cacheEntry struct {
	value      json.RawMessage
	expiresAt  time.Time
	insertedAt time.Time
}

// QueryCache is the in-process, capacity-bounded cache for query
// results keyed by (function_name, canonicalized args), per §4.7 item 5.
// On overflow it evicts an expired entry first; if none is expired, it
// evicts the oldest entry by insertion time.
type QueryCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*cacheEntry
}

func NewQueryCache(capacity int) *QueryCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &QueryCache{capacity: capacity, entries: map[string]*cacheEntry{}}
}

func (c *QueryCache) Get(key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

func (c *QueryCache) Set(key string, value json.RawMessage, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOne()
	}
	now := time.Now()
	c.entries[key] = &cacheEntry{value: value, expiresAt: now.Add(ttl), insertedAt: now}
}

// evictOne drops one expired entry if any exists, else the entry with
// the oldest insertion time. Caller holds c.mu.
func (c *QueryCache) evictOne() {
	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			return
		}
	}

	var oldestKey string
	var oldestTime time.Time
	first := true
	for k, e := range c.entries {
		if first || e.insertedAt.Before(oldestTime) {
			oldestKey, oldestTime, first = k, e.insertedAt, false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Len reports the current entry count, for tests and diagnostics.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// CacheKey hashes (functionName, args) with args canonicalized so that
// object key order never affects the key — encoding/json already
// marshals map[string]any keys in sorted order, so a decode/re-encode
// round trip is the canonicalization.
func CacheKey(functionName string, args json.RawMessage) (string, error) {
	canon, err := canonicalizeJSON(args)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(functionName + ":" + canon))
	return hex.EncodeToString(sum[:]), nil
}

func canonicalizeJSON(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "null", nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
