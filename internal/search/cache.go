package search

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/vovakirdan/voicechat/internal/proto"
)

// Cache keeps recent search responses keyed by query and conversation filter.
type Cache struct {
	cache *lru.Cache
	ttl   time.Duration
	mu    sync.Mutex
	now   func() time.Time
}

type cacheEntry struct {
	resp      proto.SearchResponse
	expiresAt time.Time
}

// NewCache returns an LRU cache with per-entry expiry. A non-positive size disables caching.
func NewCache(size int, ttl time.Duration) (*Cache, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cache{cache: c, ttl: ttl, now: time.Now}, nil
}

func cacheKey(query, roomID string) string {
	return roomID + "\x00" + query
}

// Get returns a fresh cached response.
func (c *Cache) Get(query, roomID string) (proto.SearchResponse, bool) {
	if c == nil {
		return proto.SearchResponse{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(query, roomID)
	val, found := c.cache.Get(key)
	if !found {
		return proto.SearchResponse{}, false
	}
	entry := val.(cacheEntry)
	if c.now().After(entry.expiresAt) {
		c.cache.Remove(key)
		return proto.SearchResponse{}, false
	}
	return entry.resp, true
}

// Set stores resp until the TTL elapses.
func (c *Cache) Set(query, roomID string, resp proto.SearchResponse) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(cacheKey(query, roomID), cacheEntry{resp: resp, expiresAt: c.now().Add(c.ttl)})
}

// Purge drops every entry, e.g. after a message was deleted.
func (c *Cache) Purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
}
