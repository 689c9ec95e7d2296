package kaahttp

import (
	"bytes"
	"hash/fnv"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// CacheEntry represents a cached GET response.
type CacheEntry struct {
	Body       []byte
	StatusCode int
	Header     http.Header
	ETag       string
	ExpiresAt  time.Time
}

// staleRetention bounds how long an expired entry is kept for ETag
// revalidation before it is dropped.
const staleRetention = time.Hour

// RequestCache is a sharded in-memory store for GET responses, keyed by
// method + URL + sorted query params. Expired entries are retained for a
// bounded window so their ETag can drive If-None-Match revalidation.
type RequestCache struct {
	shards    []*cacheShard
	numShards int
}

type cacheShard struct {
	mu    sync.RWMutex
	store map[string]*CacheEntry
}

// NewRequestCache creates a cache with 16 shards.
func NewRequestCache() *RequestCache {
	numShards := 16
	shards := make([]*cacheShard, numShards)
	for i := range shards {
		shards[i] = &cacheShard{
			store: make(map[string]*CacheEntry),
		}
	}
	return &RequestCache{
		shards:    shards,
		numShards: numShards,
	}
}

func (c *RequestCache) getShard(key string) *cacheShard {
	hash := fnv.New32a()
	hash.Write([]byte(key))
	return c.shards[hash.Sum32()%uint32(c.numShards)]
}

// GenerateKey builds the cache key from method, URL and query params. Params
// are sorted so equivalent URLs with reordered queries share an entry.
func (c *RequestCache) GenerateKey(method, rawURL string, params url.Values) string {
	base := rawURL
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base = base[:i]
	}

	var builder strings.Builder
	builder.WriteString(method)
	builder.WriteByte(' ')
	builder.WriteString(base)

	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		builder.WriteByte('?')
		for i, k := range keys {
			if i > 0 {
				builder.WriteByte('&')
			}
			builder.WriteString(k)
			builder.WriteByte('=')
			builder.WriteString(strings.Join(params[k], ","))
		}
	}

	return builder.String()
}

// Get returns a live entry for key.
func (c *RequestCache) Get(key string) (*CacheEntry, bool) {
	shard := c.getShard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	entry, exists := shard.store[key]
	if !exists {
		return nil, false
	}
	if time.Now().After(entry.ExpiresAt) {
		return nil, false
	}
	return entry, true
}

// Stale returns the entry for key even when expired, for ETag revalidation.
// Entries expired longer than staleRetention are evicted instead.
func (c *RequestCache) Stale(key string) (*CacheEntry, bool) {
	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, exists := shard.store[key]
	if !exists {
		return nil, false
	}
	if time.Since(entry.ExpiresAt) > staleRetention {
		delete(shard.store, key)
		return nil, false
	}
	return entry, true
}

// Set stores entry under key with the given ttl.
func (c *RequestCache) Set(key string, entry *CacheEntry, ttl time.Duration) {
	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry.ExpiresAt = time.Now().Add(ttl)
	shard.store[key] = entry
}

// Touch extends a (possibly expired) entry's lifetime after a 304
// revalidation confirmed it is still current.
func (c *RequestCache) Touch(key string, ttl time.Duration) {
	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if entry, exists := shard.store[key]; exists {
		entry.ExpiresAt = time.Now().Add(ttl)
	}
}

// Delete removes the entry for key.
func (c *RequestCache) Delete(key string) {
	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	delete(shard.store, key)
}

// Clear removes every entry.
func (c *RequestCache) Clear() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.store = make(map[string]*CacheEntry)
		shard.mu.Unlock()
	}
}

// Len reports the total number of stored entries, live or stale.
func (c *RequestCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.store)
		shard.mu.RUnlock()
	}
	return total
}

// responseFromEntry synthesizes an *http.Response from a cache entry.
func responseFromEntry(entry *CacheEntry, req *http.Request) *http.Response {
	return &http.Response{
		StatusCode: entry.StatusCode,
		Header:     entry.Header.Clone(),
		Body:       io.NopCloser(bytes.NewReader(entry.Body)),
		Request:    req,
	}
}
