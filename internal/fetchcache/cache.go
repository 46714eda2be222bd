package fetchcache

import (
	"net/url"
	"sync"
	"time"
)

type entry struct {
	at      time.Time
	payload []byte
}

// Cache memoizes successfully decoded upstream payloads for a fixed TTL.
// Entries expire purely by elapsed time since insertion and are evicted
// lazily on the next read of the same key; there is no background sweep.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
}

func New(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, now: time.Now, entries: make(map[string]entry)}
}

// Key derives the cache key for a request: the URL plus its query parameters
// normalized by sorting on key name.
func Key(rawurl string, params url.Values) string {
	if len(params) == 0 {
		return rawurl
	}
	return rawurl + "?" + params.Encode()
}

// Get returns the cached payload for key, or ok=false when the key is absent
// or its entry has outlived the TTL. An expired entry is evicted and never
// returned.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.at) > c.ttl {
		c.mu.Lock()
		// re-check under the write lock: a fresher entry may have landed
		if e2, ok2 := c.entries[key]; ok2 && c.now().Sub(e2.at) > c.ttl {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.payload, true
}

// Set stores payload under key, stamping it with the current time. A
// non-positive TTL disables the cache entirely.
func (c *Cache) Set(key string, payload []byte) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = entry{at: c.now(), payload: payload}
	c.mu.Unlock()
}
