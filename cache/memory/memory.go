// Package memory implements the in-process cache backend: a bounded,
// TTL-aware store with strict LRU eviction. It lives and dies with the
// process; nothing is persisted across restarts.
package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/Instinzts/discord-vc-tracker/cache"
)

// Config controls capacity and maintenance behavior.
type Config struct {
	// MaxSize is the maximum number of entries. 0 = unbounded (no LRU
	// eviction).
	MaxSize int

	// DefaultTTL applies when Set is called with ttl 0. 0 => 5 minutes.
	DefaultTTL time.Duration

	// CleanupInterval enables a background sweep of expired entries.
	// Lazy expiration alone can leave write-once keys in memory
	// indefinitely. <= 0 disables the sweep.
	CleanupInterval time.Duration

	// EnableStats toggles hit/miss/set/delete bookkeeping.
	EnableStats bool

	// Logger defaults to cache.NopLogger.
	Logger cache.Logger
}

// entry is the value stored in the LRU list elements. The key is kept here
// because eviction starts from list nodes.
type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Memory is the in-process backend. A map gives O(1) key lookup and a
// doubly-linked list maintains recency ordering: front = most recently used,
// back = least recently used. Reads count as use.
type Memory struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	lru     *list.List
	maxSize int
	ttl     time.Duration
	stats   bool
	log     cache.Logger
	onEvict func(key string, value []byte)

	hits, misses, sets, deletes uint64

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ cache.Backend = (*Memory)(nil)

// New constructs the backend and starts background maintenance if a cleanup
// interval is configured. New never returns nil.
func New(cfg Config) *Memory {
	m := &Memory{
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: cfg.MaxSize,
		ttl:     cfg.DefaultTTL,
		stats:   cfg.EnableStats,
		log:     cfg.Logger,
		done:    make(chan struct{}),
	}
	if m.ttl <= 0 {
		m.ttl = 5 * time.Minute
	}
	if m.log == nil {
		m.log = cache.NopLogger{}
	}
	if cfg.CleanupInterval > 0 {
		m.wg.Add(1)
		go m.sweep(cfg.CleanupInterval)
	}
	return m
}

// SetEvictCallback registers a callback invoked whenever an entry leaves the
// cache: LRU eviction, expiry, Delete, or Clear. It runs under the cache
// mutex and must be cheap.
func (m *Memory) SetEvictCallback(fn func(key string, value []byte)) {
	m.mu.Lock()
	m.onEvict = fn
	m.mu.Unlock()
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		m.miss()
		return nil, false
	}
	e := elem.Value.(*entry)
	if e.expired(time.Now()) {
		// Proactively drop the stale entry instead of waiting for the
		// sweep.
		m.removeElement(elem)
		m.miss()
		return nil, false
	}
	m.lru.MoveToFront(elem)
	m.hit()
	return e.value, true
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.ttl
	}
	expiresAt := time.Now().Add(ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[key]; ok {
		e := elem.Value.(*entry)
		e.value = value
		e.expiresAt = expiresAt
		m.lru.MoveToFront(elem)
		m.set()
		return
	}

	// Evict exactly one LRU entry before inserting a new key at capacity,
	// so size never exceeds MaxSize.
	if m.maxSize > 0 && len(m.items) >= m.maxSize {
		m.evictOldest()
	}

	elem := m.lru.PushFront(&entry{key: key, value: value, expiresAt: expiresAt})
	m.items[key] = elem
	m.set()
}

func (m *Memory) Delete(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[key]; ok {
		m.removeElement(elem)
	}
	if m.stats {
		m.deletes++
	}
}

// Has reports existence without recording a hit or miss and without marking
// the entry as recently used.
func (m *Memory) Has(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		return false
	}
	if elem.Value.(*entry).expired(time.Now()) {
		m.removeElement(elem)
		return false
	}
	return true
}

func (m *Memory) GetMulti(ctx context.Context, keys []string) [][]byte {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		if v, ok := m.Get(ctx, k); ok {
			out[i] = v
		}
	}
	return out
}

func (m *Memory) SetMulti(ctx context.Context, entries []cache.Entry, ttl time.Duration) {
	for _, e := range entries {
		m.Set(ctx, e.Key, e.Value, ttl)
	}
}

// Clear is a real flush for this backend: the structure is exclusive to one
// process, so there is no multi-instance sharing concern. Counters keep
// accumulating; only size drops to zero.
func (m *Memory) Clear(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.onEvict != nil {
		for _, elem := range m.items {
			e := elem.Value.(*entry)
			m.onEvict(e.key, e.value)
		}
	}
	m.items = make(map[string]*list.Element)
	m.lru.Init()
}

func (m *Memory) Stats(_ context.Context) cache.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return cache.Stats{
		Hits:    m.hits,
		Misses:  m.misses,
		Sets:    m.sets,
		Deletes: m.deletes,
		Size:    len(m.items),
		HitRate: cache.Rate(m.hits, m.misses),
	}
}

// Close stops the background sweep. Idempotent.
func (m *Memory) Close(_ context.Context) error {
	m.closeOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
	})
	return nil
}

func (m *Memory) sweep(interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.deleteExpired()
		}
	}
}

// deleteExpired walks the list from the LRU end, where expired entries
// accumulate.
func (m *Memory) deleteExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for elem := m.lru.Back(); elem != nil; {
		prev := elem.Prev()
		if elem.Value.(*entry).expired(now) {
			m.removeElement(elem)
		}
		elem = prev
	}
}

// evictOldest removes the single least-recently-used entry.
// Caller must hold the mutex.
func (m *Memory) evictOldest() {
	elem := m.lru.Back()
	if elem == nil {
		return
	}
	e := elem.Value.(*entry)
	m.removeElement(elem)
	m.log.Debug("evicted LRU entry", cache.Fields{"key": e.key})
}

// removeElement unlinks an entry and fires the eviction callback.
// Caller must hold the mutex.
func (m *Memory) removeElement(elem *list.Element) {
	m.lru.Remove(elem)
	e := elem.Value.(*entry)
	delete(m.items, e.key)
	if m.onEvict != nil {
		m.onEvict(e.key, e.value)
	}
}

func (m *Memory) hit() {
	if m.stats {
		m.hits++
	}
}

func (m *Memory) miss() {
	if m.stats {
		m.misses++
	}
}

func (m *Memory) set() {
	if m.stats {
		m.sets++
	}
}
