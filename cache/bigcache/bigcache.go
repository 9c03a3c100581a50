// Package bigcache adapts allegro/bigcache to the cache.Backend contract.
// BigCache has no per-entry TTL; every entry lives for the configured
// LifeWindow, so per-call ttl overrides are ignored. Use it when GC pressure
// from millions of entries matters more than eviction precision.
package bigcache

import (
	"context"
	"errors"
	"sync"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/Instinzts/discord-vc-tracker/cache"
)

type Config struct {
	// LifeWindow is the uniform entry lifetime. 0 => 5 minutes.
	LifeWindow time.Duration

	// CleanWindow is the interval between removals of expired entries.
	CleanWindow time.Duration

	// HardMaxCacheSizeMB caps memory; 0 = unlimited.
	HardMaxCacheSizeMB int

	// EnableStats toggles hit/miss/set/delete bookkeeping.
	EnableStats bool

	// Logger defaults to cache.NopLogger.
	Logger cache.Logger
}

type Backend struct {
	c     *bc.BigCache
	stats bool
	log   cache.Logger

	mu                          sync.Mutex
	hits, misses, sets, deletes uint64
}

var _ cache.Backend = (*Backend)(nil)

func New(cfg Config) (*Backend, error) {
	life := cfg.LifeWindow
	if life <= 0 {
		life = 5 * time.Minute
	}
	conf := bc.DefaultConfig(life)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.NewBigCache(conf)
	if err != nil {
		return nil, err
	}
	b := &Backend{c: c, stats: cfg.EnableStats, log: cfg.Logger}
	if b.log == nil {
		b.log = cache.NopLogger{}
	}
	return b, nil
}

func (b *Backend) Get(_ context.Context, key string) ([]byte, bool) {
	raw, err := b.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		b.count(&b.misses)
		return nil, false
	}
	if err != nil {
		b.log.Warn("bigcache get failed", cache.Fields{"key": key, "err": err})
		b.count(&b.misses)
		return nil, false
	}
	b.count(&b.hits)
	return raw, true
}

// Set ignores ttl: BigCache expires everything after the global LifeWindow.
func (b *Backend) Set(_ context.Context, key string, value []byte, _ time.Duration) {
	if err := b.c.Set(key, value); err != nil {
		b.log.Warn("bigcache set failed", cache.Fields{"key": key, "err": err})
		return
	}
	b.count(&b.sets)
}

func (b *Backend) Delete(_ context.Context, key string) {
	if err := b.c.Delete(key); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
		b.log.Warn("bigcache delete failed", cache.Fields{"key": key, "err": err})
	}
	b.count(&b.deletes)
}

func (b *Backend) Has(_ context.Context, key string) bool {
	_, err := b.c.Get(key)
	return err == nil
}

func (b *Backend) GetMulti(ctx context.Context, keys []string) [][]byte {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		if v, ok := b.Get(ctx, k); ok {
			out[i] = v
		}
	}
	return out
}

func (b *Backend) SetMulti(ctx context.Context, entries []cache.Entry, ttl time.Duration) {
	for _, e := range entries {
		b.Set(ctx, e.Key, e.Value, ttl)
	}
}

// Clear is a real flush: the store is process-local.
func (b *Backend) Clear(_ context.Context) {
	if err := b.c.Reset(); err != nil {
		b.log.Warn("bigcache reset failed", cache.Fields{"err": err})
	}
}

func (b *Backend) Stats(_ context.Context) cache.Stats {
	b.mu.Lock()
	s := cache.Stats{
		Hits:    b.hits,
		Misses:  b.misses,
		Sets:    b.sets,
		Deletes: b.deletes,
	}
	b.mu.Unlock()
	s.HitRate = cache.Rate(s.Hits, s.Misses)
	s.Size = b.c.Len()
	return s
}

func (b *Backend) Close(_ context.Context) error {
	return b.c.Close()
}

func (b *Backend) count(field *uint64) {
	if !b.stats {
		return
	}
	b.mu.Lock()
	*field++
	b.mu.Unlock()
}
