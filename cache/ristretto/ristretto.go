// Package ristretto adapts dgraph-io/ristretto to the cache.Backend
// contract. It trades the memory backend's strict LRU and exact size for
// TinyLFU admission and higher concurrent throughput: recently-set keys may
// be rejected under pressure and Size is derived from metrics, so use
// cache/memory when the eviction order itself matters.
package ristretto

import (
	"context"
	"errors"
	"sync"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/Instinzts/discord-vc-tracker/cache"
)

type Config struct {
	// MaxSize is the maximum number of entries (cost 1 per entry). Required.
	MaxSize int64

	// DefaultTTL applies when Set is called with ttl 0. 0 => 5 minutes.
	DefaultTTL time.Duration

	// EnableStats toggles hit/miss/set/delete bookkeeping.
	EnableStats bool

	// Logger defaults to cache.NopLogger.
	Logger cache.Logger
}

type Backend struct {
	c     *rc.Cache
	ttl   time.Duration
	stats bool
	log   cache.Logger

	mu                          sync.Mutex
	hits, misses, sets, deletes uint64
}

var _ cache.Backend = (*Backend)(nil)

func New(cfg Config) (*Backend, error) {
	if cfg.MaxSize <= 0 {
		return nil, errors.New("ristrettocache: max size is required")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.MaxSize * 10,
		MaxCost:     cfg.MaxSize,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	b := &Backend{
		c:     c,
		ttl:   cfg.DefaultTTL,
		stats: cfg.EnableStats,
		log:   cfg.Logger,
	}
	if b.ttl <= 0 {
		b.ttl = 5 * time.Minute
	}
	if b.log == nil {
		b.log = cache.NopLogger{}
	}
	return b, nil
}

func (b *Backend) Get(_ context.Context, key string) ([]byte, bool) {
	v, ok := b.c.Get(key)
	if !ok {
		b.count(&b.misses)
		return nil, false
	}
	raw, _ := v.([]byte)
	if raw == nil {
		// self-heal: drop unexpected entry shape
		b.c.Del(key)
		b.count(&b.misses)
		return nil, false
	}
	b.count(&b.hits)
	return raw, true
}

func (b *Backend) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = b.ttl
	}
	if !b.c.SetWithTTL(key, value, 1, ttl) {
		b.log.Debug("set rejected under pressure", cache.Fields{"key": key})
		return
	}
	b.count(&b.sets)
}

func (b *Backend) Delete(_ context.Context, key string) {
	b.c.Del(key)
	b.count(&b.deletes)
}

func (b *Backend) Has(_ context.Context, key string) bool {
	_, ok := b.c.Get(key)
	return ok
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
	b.c.Clear()
}

// Stats derives Size from admission metrics (added minus evicted), which is
// approximate under pressure.
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

	if m := b.c.Metrics; m != nil {
		if added, evicted := m.KeysAdded(), m.KeysEvicted(); added > evicted {
			s.Size = int(added - evicted)
		}
	}
	return s
}

func (b *Backend) Close(_ context.Context) error {
	b.c.Wait()
	b.c.Close()
	return nil
}

// Wait blocks until buffered writes are applied. Useful in tests; the
// tracker itself never needs it.
func (b *Backend) Wait() { b.c.Wait() }

func (b *Backend) count(field *uint64) {
	if !b.stats {
		return
	}
	b.mu.Lock()
	*field++
	b.mu.Unlock()
}
