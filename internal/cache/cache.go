// Package cache provides the bounded per-request response cache: an LRU map
// from request fingerprints to rendered responses with per-entry TTL.
package cache

import (
	"fmt"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kailas-cloud/textdex/internal/domain/search/param"
)

// DefaultTTL applies when the caller supplies no cache_ttl.
const DefaultTTL = 60 * time.Second

// Response is one cached payload.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
	CreatedAt   time.Time
	TTL         time.Duration
}

// ResponseCache is a capacity-bounded LRU keyed by request fingerprint.
// The underlying LRU serializes access internally; entry TTL is checked on
// every Find and expired entries are dropped eagerly.
type ResponseCache struct {
	entries *lru.Cache[uint64, Response]
	now     func() time.Time
}

// New creates a response cache holding at most capacity entries.
func New(capacity int) (*ResponseCache, error) {
	entries, err := lru.New[uint64, Response](capacity)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &ResponseCache{entries: entries, now: time.Now}, nil
}

// WithClock overrides the time source (tests).
func (c *ResponseCache) WithClock(now func() time.Time) *ResponseCache {
	c.now = now
	return c
}

// Find returns the cached response for a fingerprint when present and
// unexpired.
func (c *ResponseCache) Find(fingerprint uint64) (Response, bool) {
	resp, ok := c.entries.Get(fingerprint)
	if !ok {
		return Response{}, false
	}
	if c.now().Sub(resp.CreatedAt) >= resp.TTL {
		c.entries.Remove(fingerprint)
		return Response{}, false
	}
	return resp, true
}

// Insert stores a response under the fingerprint. Only successful (2xx)
// responses are retained.
func (c *ResponseCache) Insert(fingerprint uint64, resp Response) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return
	}
	if resp.TTL <= 0 {
		resp.TTL = DefaultTTL
	}
	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = c.now()
	}
	c.entries.Add(fingerprint, resp)
}

// Clear atomically empties the cache.
func (c *ResponseCache) Clear() {
	c.entries.Purge()
}

// Len returns the number of cached entries.
func (c *ResponseCache) Len() int {
	return c.entries.Len()
}

// Fingerprint computes the deterministic 64-bit hash identifying a request:
// the resolved route id, the raw body bytes, and the effective parameter map
// with `use_cache` excluded. Parameters are folded in sorted key order so the
// hash is stable across processes.
func Fingerprint(routeID string, body []byte, params param.Params) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(routeID)
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(body)

	keys := make([]string, 0, len(params))
	for k := range params {
		if k == param.UseCache {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(k)
		_, _ = d.Write([]byte{'='})
		_, _ = d.WriteString(params[k])
	}
	return d.Sum64()
}
