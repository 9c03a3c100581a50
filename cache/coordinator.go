package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/Instinzts/discord-vc-tracker/cache/codec"
	"github.com/Instinzts/discord-vc-tracker/storage"
)

const (
	// DefaultTTL bounds how stale an un-invalidated read may be.
	DefaultTTL = 5 * time.Minute

	// DefaultLeaderboardDepth is how many records of a board are cached per
	// (guild, sort order). Page requests beyond the depth bypass the cache.
	DefaultLeaderboardDepth = 100

	lockStripes = 64
)

// Encoding selects how cached values are serialized. The set is closed; JSON
// is the default so entries in a shared store stay inspectable.
type Encoding uint8

const (
	EncodingJSON Encoding = iota
	EncodingMsgpack
	EncodingCBOR
)

// Options tune the coordinator. Backend and Storage are required.
type Options struct {
	Backend Backend
	Storage storage.Storage

	Logger Logger // nil => NopLogger

	// TTL for populated entries; 0 => DefaultTTL (5m).
	TTL time.Duration

	// LeaderboardDepth caps how much of a board is cached; 0 => 100.
	LeaderboardDepth int

	// Encoding of cached values; defaults to JSON.
	Encoding Encoding

	// MaxValueBytes rejects oversized payloads read from a shared store.
	// 0 disables the limit.
	MaxValueBytes int
}

// Coordinator maps logical read/write intents onto cache keys and enforces
// the read-through / write-invalidate discipline over one active Backend.
//
// Reads are cache-aside: hit returns immediately, miss fetches from Storage,
// populates the backend with the default TTL, and returns the fresh value.
// Writes go to Storage first; affected keys are invalidated only after the
// storage write is acknowledged. Absent an explicit invalidation (a write
// the coordinator does not observe, or another process sharing the
// networked backend), a read may be up to TTL stale. That bound is accepted,
// not a bug.
type Coordinator struct {
	backend Backend
	store   storage.Storage
	log     Logger
	ttl     time.Duration
	depth   int

	users   codec.Codec[*storage.UserRecord]
	boards  codec.Codec[[]*storage.UserRecord]
	configs codec.Codec[*storage.GuildConfig]

	fetchSF singleflight.Group

	sortMu  sync.RWMutex
	customs map[storage.SortBy]LessFunc

	// Per-user stripes serialize read-modify-write so two overlapping
	// ticks cannot both read a stale total and drop an increment.
	userLocks [lockStripes]sync.Mutex
}

// New validates the options and builds a coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("cache: backend is required")
	}
	if opts.Storage == nil {
		return nil, fmt.Errorf("cache: storage is required")
	}

	c := &Coordinator{
		backend: opts.Backend,
		store:   opts.Storage,
		log:     opts.Logger,
		ttl:     opts.TTL,
		depth:   opts.LeaderboardDepth,
		customs: make(map[storage.SortBy]LessFunc),
	}
	if c.log == nil {
		c.log = NopLogger{}
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.depth <= 0 {
		c.depth = DefaultLeaderboardDepth
	}

	var err error
	if c.users, err = newCodec[*storage.UserRecord](opts.Encoding, opts.MaxValueBytes); err != nil {
		return nil, err
	}
	if c.boards, err = newCodec[[]*storage.UserRecord](opts.Encoding, opts.MaxValueBytes); err != nil {
		return nil, err
	}
	if c.configs, err = newCodec[*storage.GuildConfig](opts.Encoding, opts.MaxValueBytes); err != nil {
		return nil, err
	}
	return c, nil
}

func newCodec[V any](enc Encoding, maxBytes int) (codec.Codec[V], error) {
	var c codec.Codec[V]
	switch enc {
	case EncodingJSON:
		c = codec.JSON[V]{}
	case EncodingMsgpack:
		c = codec.Msgpack[V]{}
	case EncodingCBOR:
		cb, err := codec.NewCBOR[V]()
		if err != nil {
			return nil, err
		}
		c = cb
	default:
		return nil, fmt.Errorf("cache: unknown encoding %d", enc)
	}
	if maxBytes > 0 {
		c = codec.Limit[V]{Inner: c, MaxDecode: maxBytes}
	}
	return c, nil
}

// readThrough is the cache-aside path shared by all reads. Concurrent misses
// for one key are collapsed into a single storage fetch. A storage error
// propagates to the caller unmodified; a miss must never mask a genuine
// data-layer failure.
func readThrough[V any](ctx context.Context, c *Coordinator, key string, cd codec.Codec[V], fetch func(context.Context) (V, error)) (V, error) {
	if raw, ok := c.backend.Get(ctx, key); ok {
		v, err := cd.Decode(raw)
		if err == nil {
			return v, nil
		}
		// Self-heal: drop the undecodable entry and fall through to
		// storage.
		c.backend.Delete(ctx, key)
		c.log.Warn("dropped undecodable cache entry", Fields{"key": key, "err": err})
	}

	v, err, _ := c.fetchSF.Do(key, func() (any, error) {
		got, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if raw, encErr := cd.Encode(got); encErr == nil {
			c.backend.Set(ctx, key, raw, c.ttl)
		} else {
			c.log.Error("encode for cache failed", Fields{"key": key, "err": encErr})
		}
		return got, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// User returns one user's snapshot, cache-aside.
func (c *Coordinator) User(ctx context.Context, guildID, userID string) (*storage.UserRecord, error) {
	return readThrough(ctx, c, UserKey(guildID, userID), c.users, func(ctx context.Context) (*storage.UserRecord, error) {
		return c.store.GetUser(ctx, guildID, userID)
	})
}

// Users resolves a batch of snapshots for one guild, the shape the tracking
// loop needs once per tick. Cached records are fetched in one round trip;
// the rest come from Storage and are populated back in one batch write.
func (c *Coordinator) Users(ctx context.Context, guildID string, userIDs []string) ([]*storage.UserRecord, error) {
	out := make([]*storage.UserRecord, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = UserKey(guildID, id)
	}

	var fill []Entry
	raws := c.backend.GetMulti(ctx, keys)
	for i, raw := range raws {
		if raw != nil {
			if u, err := c.users.Decode(raw); err == nil {
				out[i] = u
				continue
			}
			c.backend.Delete(ctx, keys[i])
		}
		u, err := c.store.GetUser(ctx, guildID, userIDs[i])
		if err != nil {
			return nil, err
		}
		out[i] = u
		if raw, err := c.users.Encode(u); err == nil {
			fill = append(fill, Entry{Key: keys[i], Value: raw})
		}
	}
	if len(fill) > 0 {
		c.backend.SetMulti(ctx, fill, c.ttl)
	}
	return out, nil
}

// Leaderboard returns a page of the guild's board ordered by sortBy. One
// board of LeaderboardDepth records is cached per (guild, sort order) and
// pages are sliced out of it; requests past the depth go straight to
// Storage.
func (c *Coordinator) Leaderboard(ctx context.Context, guildID string, sortBy storage.SortBy, limit, offset int) ([]*storage.UserRecord, error) {
	if limit <= 0 {
		limit = c.depth
	}
	if offset < 0 {
		offset = 0
	}

	custom, isCustom := c.customSort(sortBy)
	if !isCustom && !builtinSort(sortBy) {
		return nil, fmt.Errorf("cache: unknown sort order %q", sortBy)
	}

	if offset+limit > c.depth {
		return c.fetchBoard(ctx, guildID, sortBy, custom, limit, offset)
	}

	board, err := readThrough(ctx, c, LeaderboardKey(guildID, sortBy), c.boards, func(ctx context.Context) ([]*storage.UserRecord, error) {
		return c.fetchBoard(ctx, guildID, sortBy, custom, c.depth, 0)
	})
	if err != nil {
		return nil, err
	}
	return pageOf(board, limit, offset), nil
}

// fetchBoard loads an ordered board from Storage. Builtin orders are the
// adapter's job; custom orders are derived in-process from the XP-ordered
// fetch using the registered comparator.
func (c *Coordinator) fetchBoard(ctx context.Context, guildID string, sortBy storage.SortBy, custom LessFunc, limit, offset int) ([]*storage.UserRecord, error) {
	if custom == nil {
		return c.store.GetLeaderboard(ctx, guildID, sortBy, limit, offset)
	}
	base, err := c.store.GetLeaderboard(ctx, guildID, storage.SortXP, limit+offset, 0)
	if err != nil {
		return nil, err
	}
	resorted := make([]*storage.UserRecord, len(base))
	copy(resorted, base)
	sortStable(resorted, custom)
	return pageOf(resorted, limit, offset), nil
}

// GuildConfig returns the guild's tracker configuration, cache-aside.
func (c *Coordinator) GuildConfig(ctx context.Context, guildID string) (*storage.GuildConfig, error) {
	return readThrough(ctx, c, GuildConfigKey(guildID), c.configs, func(ctx context.Context) (*storage.GuildConfig, error) {
		return c.store.GetGuildConfig(ctx, guildID)
	})
}

// AddXP credits XP to a user and returns the updated record.
func (c *Coordinator) AddXP(ctx context.Context, guildID, userID string, delta int64) (*storage.UserRecord, error) {
	return c.mutateUser(ctx, guildID, userID, func(u *storage.UserRecord) {
		u.XP += delta
		u.LastActiveAt = time.Now()
	})
}

// AddVoiceTime credits voice presence to a user and returns the updated
// record.
func (c *Coordinator) AddVoiceTime(ctx context.Context, guildID, userID string, d time.Duration) (*storage.UserRecord, error) {
	return c.mutateUser(ctx, guildID, userID, func(u *storage.UserRecord) {
		u.VoiceTime += d
		u.LastActiveAt = time.Now()
	})
}

// AddMessages credits message activity to a user and returns the updated
// record.
func (c *Coordinator) AddMessages(ctx context.Context, guildID, userID string, n int64) (*storage.UserRecord, error) {
	return c.mutateUser(ctx, guildID, userID, func(u *storage.UserRecord) {
		u.Messages += n
		u.LastActiveAt = time.Now()
	})
}

// SetLevel overwrites a user's level and returns the updated record.
func (c *Coordinator) SetLevel(ctx context.Context, guildID, userID string, level int) (*storage.UserRecord, error) {
	return c.mutateUser(ctx, guildID, userID, func(u *storage.UserRecord) {
		u.Level = level
	})
}

// mutateUser is the single update path every user mutation funnels through.
// The stripe lock serializes the read-modify-write per user (not globally),
// so independent partial updates from multiple call sites cannot race.
func (c *Coordinator) mutateUser(ctx context.Context, guildID, userID string, mutate func(*storage.UserRecord)) (*storage.UserRecord, error) {
	l := c.userLock(guildID, userID)
	l.Lock()
	defer l.Unlock()

	u, err := c.store.GetUser(ctx, guildID, userID)
	switch {
	case errors.Is(err, storage.ErrUserNotFound):
		u = &storage.UserRecord{GuildID: guildID, UserID: userID}
	case err != nil:
		return nil, err
	}
	mutate(u)
	if err := c.store.SaveUser(ctx, u); err != nil {
		return nil, err
	}

	// Invalidate strictly after the storage write is acknowledged. A reader
	// between an early invalidation and the commit could repopulate the
	// cache with pre-write data and mask the update for a full TTL window.
	c.InvalidateUser(ctx, guildID, userID)
	return u, nil
}

// UpdateGuildConfig persists the config and invalidates its cache entry.
func (c *Coordinator) UpdateGuildConfig(ctx context.Context, cfg *storage.GuildConfig) error {
	if err := c.store.SaveGuildConfig(ctx, cfg); err != nil {
		return err
	}
	c.InvalidateGuildConfig(ctx, cfg.GuildID)
	return nil
}

// InvalidateUser drops the user's snapshot and every board of the guild.
// Any user's change can alter any ranking, so the fan-out covers all
// registered sort orders, not just the one matching the write.
func (c *Coordinator) InvalidateUser(ctx context.Context, guildID, userID string) {
	c.backend.Delete(ctx, UserKey(guildID, userID))
	c.InvalidateLeaderboards(ctx, guildID)
}

// InvalidateLeaderboards drops every cached board of the guild.
func (c *Coordinator) InvalidateLeaderboards(ctx context.Context, guildID string) {
	for _, s := range c.sortOrders() {
		c.backend.Delete(ctx, LeaderboardKey(guildID, s))
	}
}

// InvalidateGuildConfig drops the guild's cached configuration. Use it for
// config writes made outside the coordinator.
func (c *Coordinator) InvalidateGuildConfig(ctx context.Context, guildID string) {
	c.backend.Delete(ctx, GuildConfigKey(guildID))
}

// Stats returns the active backend's counters.
func (c *Coordinator) Stats(ctx context.Context) Stats {
	return c.backend.Stats(ctx)
}

// Close closes the active backend.
func (c *Coordinator) Close(ctx context.Context) error {
	return c.backend.Close(ctx)
}

func (c *Coordinator) userLock(guildID, userID string) *sync.Mutex {
	h := xxhash.Sum64String(guildID + ":" + userID)
	return &c.userLocks[h%lockStripes]
}

func pageOf(board []*storage.UserRecord, limit, offset int) []*storage.UserRecord {
	if offset >= len(board) {
		return nil
	}
	end := offset + limit
	if end > len(board) {
		end = len(board)
	}
	return board[offset:end]
}
