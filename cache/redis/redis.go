// Package redis implements the networked cache backend on top of a Redis
// store shared across processes. There is no cross-process coordination
// beyond key TTLs: readers accept staleness bounded by the TTL instead of
// paying for locking between replicas.
//
// The backend is fail-open. If the store is unreachable, every operation
// degrades to the safe outcome for its kind (miss for reads, no-op for
// writes and deletes) and the rest of the tracker keeps running with a cold
// cache at storage latency.
package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/Instinzts/discord-vc-tracker/cache"
)

var (
	// ErrNoTarget is returned by New when neither a URL nor a client is
	// configured.
	ErrNoTarget = errors.New("rediscache: connection URL or client is required")

	// ErrNoKeyPrefix is returned by New when KeyPrefix is empty. The prefix
	// is what lets independent deployments share one store safely.
	ErrNoKeyPrefix = errors.New("rediscache: key prefix is required")

	// errDialGated is the internal degraded-mode signal while reconnect
	// attempts are backed off.
	errDialGated = errors.New("rediscache: dial attempts backed off")
)

const (
	defaultTTL         = 5 * time.Minute
	defaultDialTimeout = 5 * time.Second
	initialBackoff     = 500 * time.Millisecond
	defaultMaxBackoff  = 30 * time.Second
	scanBatch          = 512
)

// Config tunes the backend. KeyPrefix and one of URL/Client are required.
type Config struct {
	// URL is the connection target (redis:// or rediss://). Ignored when
	// Client is set.
	URL string

	// Client injects an existing client owned by the caller. The backend
	// then never dials and Close leaves the client open.
	Client goredis.UniversalClient

	// KeyPrefix namespaces every key as "<prefix>:<key>".
	KeyPrefix string

	// DefaultTTL applies when Set is called with ttl 0. 0 => 5 minutes.
	DefaultTTL time.Duration

	// DialTimeout bounds a single connection attempt. 0 => 5 seconds.
	DialTimeout time.Duration

	// MaxBackoff caps the exponential backoff between failed reconnect
	// attempts. 0 => 30 seconds.
	MaxBackoff time.Duration

	// EnableStats toggles hit/miss/set/delete bookkeeping.
	EnableStats bool

	// Logger defaults to cache.NopLogger.
	Logger cache.Logger
}

// Redis is the networked backend. The connection is established lazily on
// first use; concurrent first-use is collapsed into a single dial attempt
// that later callers await.
type Redis struct {
	url         string
	prefix      string
	ttl         time.Duration
	dialTimeout time.Duration
	maxBackoff  time.Duration
	stats       bool
	log         cache.Logger
	ownClient   bool

	mu       sync.Mutex
	client   goredis.UniversalClient
	nextDial time.Time
	backoff  time.Duration
	dialSF   singleflight.Group

	hits, misses, sets, deletes uint64
}

var _ cache.Backend = (*Redis)(nil)

// New validates the config and returns the backend. No connection is made
// here; a bad URL only fails once traffic arrives and degrades from there.
func New(cfg Config) (*Redis, error) {
	if cfg.URL == "" && cfg.Client == nil {
		return nil, ErrNoTarget
	}
	if cfg.KeyPrefix == "" {
		return nil, ErrNoKeyPrefix
	}

	r := &Redis{
		url:         cfg.URL,
		prefix:      cfg.KeyPrefix,
		ttl:         cfg.DefaultTTL,
		dialTimeout: cfg.DialTimeout,
		maxBackoff:  cfg.MaxBackoff,
		stats:       cfg.EnableStats,
		log:         cfg.Logger,
		client:      cfg.Client,
		ownClient:   cfg.Client == nil,
	}
	if r.ttl <= 0 {
		r.ttl = defaultTTL
	}
	if r.dialTimeout <= 0 {
		r.dialTimeout = defaultDialTimeout
	}
	if r.maxBackoff <= 0 {
		r.maxBackoff = defaultMaxBackoff
	}
	if r.log == nil {
		r.log = cache.NopLogger{}
	}
	return r, nil
}

func (r *Redis) key(k string) string { return r.prefix + ":" + k }

// conn returns the shared client, dialing lazily. While the backoff gate is
// closed, conn fails fast so callers degrade immediately instead of queueing
// behind a dead store.
func (r *Redis) conn(ctx context.Context) (goredis.UniversalClient, error) {
	r.mu.Lock()
	if r.client != nil {
		c := r.client
		r.mu.Unlock()
		return c, nil
	}
	if time.Now().Before(r.nextDial) {
		r.mu.Unlock()
		return nil, errDialGated
	}
	r.mu.Unlock()

	v, err, _ := r.dialSF.Do("dial", func() (any, error) {
		return r.dial(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(goredis.UniversalClient), nil
}

func (r *Redis) dial(ctx context.Context) (goredis.UniversalClient, error) {
	r.mu.Lock()
	if r.client != nil {
		c := r.client
		r.mu.Unlock()
		return c, nil
	}
	if time.Now().Before(r.nextDial) {
		r.mu.Unlock()
		return nil, errDialGated
	}
	r.mu.Unlock()

	opts, err := goredis.ParseURL(r.url)
	if err != nil {
		// A malformed URL never heals; gate at the cap so the log does
		// not flood.
		r.gate(r.maxBackoff)
		r.log.Error("invalid redis url", cache.Fields{"err": err})
		return nil, err
	}
	opts.DialTimeout = r.dialTimeout

	client := goredis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, r.dialTimeout)
	err = client.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		_ = client.Close()
		r.mu.Lock()
		if r.backoff <= 0 {
			r.backoff = initialBackoff
		} else {
			r.backoff *= 2
			if r.backoff > r.maxBackoff {
				r.backoff = r.maxBackoff
			}
		}
		r.nextDial = time.Now().Add(r.backoff)
		wait := r.backoff
		r.mu.Unlock()
		r.log.Warn("redis unreachable, backing off", cache.Fields{"err": err, "retryIn": wait})
		return nil, err
	}

	r.mu.Lock()
	r.client = client
	r.backoff = 0
	r.nextDial = time.Time{}
	r.mu.Unlock()
	r.log.Info("redis connected", cache.Fields{"prefix": r.prefix})
	return client, nil
}

func (r *Redis) gate(d time.Duration) {
	r.mu.Lock()
	r.nextDial = time.Now().Add(d)
	r.mu.Unlock()
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	c, err := r.conn(ctx)
	if err != nil {
		r.miss()
		return nil, false
	}
	b, err := c.Get(ctx, r.key(key)).Bytes()
	if err == goredis.Nil {
		r.miss()
		return nil, false
	}
	if err != nil {
		r.log.Warn("redis get failed", cache.Fields{"key": key, "err": err})
		r.miss()
		return nil, false
	}
	r.hit()
	return b, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = r.ttl
	}
	c, err := r.conn(ctx)
	if err != nil {
		return
	}
	if err := c.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		r.log.Warn("redis set failed", cache.Fields{"key": key, "err": err})
		return
	}
	r.set()
}

func (r *Redis) Delete(ctx context.Context, key string) {
	c, err := r.conn(ctx)
	if err != nil {
		return
	}
	if err := c.Del(ctx, r.key(key)).Err(); err != nil {
		r.log.Warn("redis del failed", cache.Fields{"key": key, "err": err})
		return
	}
	r.del()
}

func (r *Redis) Has(ctx context.Context, key string) bool {
	c, err := r.conn(ctx)
	if err != nil {
		return false
	}
	n, err := c.Exists(ctx, r.key(key)).Result()
	if err != nil {
		r.log.Warn("redis exists failed", cache.Fields{"key": key, "err": err})
		return false
	}
	return n > 0
}

func (r *Redis) GetMulti(ctx context.Context, keys []string) [][]byte {
	out := make([][]byte, len(keys))
	if len(keys) == 0 {
		return out
	}
	c, err := r.conn(ctx)
	if err != nil {
		r.missN(uint64(len(keys)))
		return out
	}
	namespaced := make([]string, len(keys))
	for i, k := range keys {
		namespaced[i] = r.key(k)
	}
	vals, err := c.MGet(ctx, namespaced...).Result()
	if err != nil {
		r.log.Warn("redis mget failed", cache.Fields{"keys": len(keys), "err": err})
		r.missN(uint64(len(keys)))
		return out
	}
	for i, v := range vals {
		switch vv := v.(type) {
		case nil:
			r.miss()
		case string:
			out[i] = []byte(vv)
			r.hit()
		case []byte:
			out[i] = vv
			r.hit()
		default:
			r.miss()
		}
	}
	return out
}

func (r *Redis) SetMulti(ctx context.Context, entries []cache.Entry, ttl time.Duration) {
	if len(entries) == 0 {
		return
	}
	if ttl <= 0 {
		ttl = r.ttl
	}
	c, err := r.conn(ctx)
	if err != nil {
		return
	}
	pipe := c.Pipeline()
	for _, e := range entries {
		pipe.Set(ctx, r.key(e.Key), e.Value, ttl)
	}
	cmds, err := pipe.Exec(ctx)
	if err != nil {
		r.log.Warn("redis pipelined set failed", cache.Fields{"entries": len(entries), "err": err})
	}
	// Count per-key outcomes; one failed key must not discount the others.
	for _, cmd := range cmds {
		if cmd.Err() == nil {
			r.set()
		}
	}
}

// Clear deliberately does not flush. Other processes and in-flight ticks may
// be populating keys concurrently, and an eager bulk delete desynchronizes
// their counters until affected users reconnect. Entries drain on their own
// via TTL.
func (r *Redis) Clear(_ context.Context) {
	r.log.Info("clear requested; networked cache entries expire via TTL instead of bulk delete",
		cache.Fields{"prefix": r.prefix})
}

// Stats recomputes Size by enumerating the namespace with SCAN, which is
// O(number of keys under the prefix). Invoke it sparingly.
func (r *Redis) Stats(ctx context.Context) cache.Stats {
	r.mu.Lock()
	s := cache.Stats{
		Hits:    r.hits,
		Misses:  r.misses,
		Sets:    r.sets,
		Deletes: r.deletes,
	}
	r.mu.Unlock()
	s.HitRate = cache.Rate(s.Hits, s.Misses)

	c, err := r.conn(ctx)
	if err != nil {
		return s
	}
	var cursor uint64
	for {
		keys, next, err := c.Scan(ctx, cursor, r.prefix+":*", scanBatch).Result()
		if err != nil {
			r.log.Warn("redis scan failed", cache.Fields{"err": err})
			break
		}
		s.Size += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return s
}

// Close releases the client when this backend owns it. Injected clients are
// left open for their owner.
func (r *Redis) Close(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ownClient || r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	if err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}

func (r *Redis) hit() {
	if !r.stats {
		return
	}
	r.mu.Lock()
	r.hits++
	r.mu.Unlock()
}

func (r *Redis) miss() {
	if !r.stats {
		return
	}
	r.mu.Lock()
	r.misses++
	r.mu.Unlock()
}

func (r *Redis) missN(n uint64) {
	if !r.stats {
		return
	}
	r.mu.Lock()
	r.misses += n
	r.mu.Unlock()
}

func (r *Redis) set() {
	if !r.stats {
		return
	}
	r.mu.Lock()
	r.sets++
	r.mu.Unlock()
}

func (r *Redis) del() {
	if !r.stats {
		return
	}
	r.mu.Lock()
	r.deletes++
	r.mu.Unlock()
}
