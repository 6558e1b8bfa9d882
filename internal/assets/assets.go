// Package assets is a best-effort cache of emoji and badge image references.
// Lookups never block: a miss queues an out-of-band backfill and the caller
// renders the original text.
package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Kind string

const (
	KindEmoji Kind = "emoji"
	KindBadge Kind = "badge"
)

const (
	defaultQueueSize   = 256
	defaultNegativeTTL = 10 * time.Minute
)

// Resolver is the lookup contract the normalizer consumes.
type Resolver interface {
	Resolve(kind Kind, key string) (string, bool)
}

// Fetcher produces a reference for a key out of band.
type Fetcher interface {
	Fetch(ctx context.Context, kind Kind, key string) (string, error)
}

type FetcherFunc func(ctx context.Context, kind Kind, key string) (string, error)

func (f FetcherFunc) Fetch(ctx context.Context, kind Kind, key string) (string, error) {
	return f(ctx, kind, key)
}

type Config struct {
	QueueSize   int
	NegativeTTL time.Duration
}

type Stats struct {
	Hits    uint64
	Misses  uint64
	Fetched uint64
	Dropped uint64
	Entries int
}

type cacheKey struct {
	kind Kind
	key  string
}

type Cache struct {
	negativeTTL time.Duration
	queue       chan cacheKey

	mu       sync.RWMutex
	entries  map[cacheKey]string
	failed   map[cacheKey]time.Time
	pending  map[cacheKey]struct{}
	fetchers map[Kind]Fetcher
	pruned   time.Time

	hits, misses, fetched, dropped atomic.Uint64
}

func NewCache(cfg Config) *Cache {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = defaultNegativeTTL
	}
	return &Cache{
		negativeTTL: cfg.NegativeTTL,
		queue:       make(chan cacheKey, cfg.QueueSize),
		entries:     make(map[cacheKey]string),
		failed:      make(map[cacheKey]time.Time),
		pending:     make(map[cacheKey]struct{}),
		fetchers:    make(map[Kind]Fetcher),
	}
}

// Register sets the backfill source for kind.
func (c *Cache) Register(kind Kind, f Fetcher) {
	c.mu.Lock()
	c.fetchers[kind] = f
	c.mu.Unlock()
}

func (c *Cache) Put(kind Kind, key, ref string) {
	k := cacheKey{kind: kind, key: normalizeKey(key)}
	c.mu.Lock()
	c.entries[k] = ref
	delete(c.failed, k)
	c.mu.Unlock()
}

func (c *Cache) Resolve(kind Kind, key string) (string, bool) {
	k := cacheKey{kind: kind, key: normalizeKey(key)}
	if k.key == "" {
		return "", false
	}
	c.mu.RLock()
	ref, ok := c.entries[k]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return ref, true
	}
	c.misses.Add(1)
	c.enqueue(k)
	return "", false
}

func (c *Cache) enqueue(k cacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.fetchers[k.kind]; !ok {
		return
	}
	if _, ok := c.pending[k]; ok {
		return
	}
	if at, ok := c.failed[k]; ok {
		if time.Since(at) < c.negativeTTL {
			return
		}
		delete(c.failed, k)
	}
	select {
	case c.queue <- k:
		c.pending[k] = struct{}{}
	default:
		c.dropped.Add(1)
	}
}

// Run drains the backfill queue until ctx is done.
func (c *Cache) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case k := <-c.queue:
			c.backfill(ctx, k)
		}
	}
}

func (c *Cache) backfill(ctx context.Context, k cacheKey) {
	c.mu.RLock()
	f := c.fetchers[k.kind]
	c.mu.RUnlock()

	ref, err := f.Fetch(ctx, k.kind, k.key)

	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, k)
	c.pruneFailedLocked(now)
	if err != nil || ref == "" {
		c.failed[k] = now
		if err != nil {
			slog.Debug("assets: backfill failed", "kind", k.kind, "key", k.key, "err", err)
		}
		return
	}
	c.entries[k] = ref
	c.fetched.Add(1)
}

// pruneFailedLocked drops expired negative entries, at most once per negative TTL.
func (c *Cache) pruneFailedLocked(now time.Time) {
	if now.Sub(c.pruned) < c.negativeTTL {
		return
	}
	c.pruned = now
	for k, at := range c.failed {
		if now.Sub(at) >= c.negativeTTL {
			delete(c.failed, k)
		}
	}
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Fetched: c.fetched.Load(),
		Dropped: c.dropped.Load(),
		Entries: n,
	}
}

// LoadSeed reads {"emoji": {":key:": "ref"}, "badge": {...}} into the cache.
func (c *Cache) LoadSeed(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("assets: read seed: %w", err)
	}
	var seed map[Kind]map[string]string
	if err := json.Unmarshal(raw, &seed); err != nil {
		return 0, fmt.Errorf("assets: decode seed: %w", err)
	}
	n := 0
	for kind, entries := range seed {
		for key, ref := range entries {
			if strings.TrimSpace(ref) == "" {
				continue
			}
			c.Put(kind, key, ref)
			n++
		}
	}
	return n, nil
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
