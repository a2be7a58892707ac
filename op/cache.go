package op

import (
	"context"
	"sync"
	"time"
)

// Cache is the Op output cache backend contract (spec §4.3). Fingerprints
// are opaque strings computed by Runtime from the Op's short name and its
// cache-affecting inputs; Get/Set carry already-serialized bytes so
// concrete backends (opcache/filestore, opcache/redisstore,
// opcache/mongostore) never need to know about op.Op or flowctx.Context.
type Cache interface {
	Get(ctx context.Context, fingerprint string) (value []byte, ok bool, err error)
	Set(ctx context.Context, fingerprint string, value []byte, expire time.Duration) error
}

// MemoryCache is an in-process Cache backed by a map, used as the default
// backend and in tests. Entries past their expiry are treated as misses
// and lazily evicted on next access (spec §4.3 "Expiry").
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	value   []byte
	expires time.Time
	hasExp  bool
}

// NewMemoryCache constructs an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memEntry)}
}

func (c *MemoryCache) Get(_ context.Context, fingerprint string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[fingerprint]
	if !ok {
		return nil, false, nil
	}
	if e.hasExp && time.Now().After(e.expires) {
		delete(c.entries, fingerprint)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, fingerprint string, value []byte, expire time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memEntry{value: value}
	if expire > 0 {
		e.expires = time.Now().Add(expire)
		e.hasExp = true
	}
	c.entries[fingerprint] = e
	return nil
}

// flightGroup coalesces concurrent cache-miss builds for the same
// fingerprint into a single in-flight call, so that N callers racing on an
// uncached Op with an identical fingerprint produce at most one build
// (spec §4.3 "at-most-once concurrent build per fingerprint"). This is a
// small hand-rolled equivalent of golang.org/x/sync/singleflight, which is
// not present in the retrieval pack's dependency set.
type flightGroup struct {
	mu    sync.Mutex
	calls map[string]*flightCall
}

type flightCall struct {
	wg  sync.WaitGroup
	val any
	err error
}

func (g *flightGroup) Do(key string, fn func() (any, error)) (any, error) {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[string]*flightCall)
	}
	if c, ok := g.calls[key]; ok {
		g.mu.Unlock()
		c.wg.Wait()
		return c.val, c.err
	}
	c := &flightCall{}
	c.wg.Add(1)
	g.calls[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()
	c.wg.Done()

	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()

	return c.val, c.err
}
