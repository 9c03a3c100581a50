// Package storage defines the persistence contract the caching layer sits in
// front of. The tracker ships several adapters (file, SQLite, Mongo); all of
// them implement Storage and none of them are the cache's concern beyond this
// interface. Storage is always the origin of truth: the cache is a derived,
// possibly-stale view of it.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUserNotFound is returned by GetUser when the user has never been
	// tracked in the given guild.
	ErrUserNotFound = errors.New("storage: user not found")

	// ErrGuildConfigNotFound is returned by GetGuildConfig when the guild has
	// no stored configuration.
	ErrGuildConfigNotFound = errors.New("storage: guild config not found")
)

// SortBy selects the ordering of a leaderboard. The set of known orderings is
// closed; custom orderings are registered against the coordinator and never
// resolved from persisted strings.
type SortBy string

const (
	SortXP        SortBy = "xp"
	SortLevel     SortBy = "level"
	SortVoiceTime SortBy = "voicetime"
	SortMessages  SortBy = "messages"
)

// BuiltinSorts returns the closed set of orderings every adapter must support.
// The returned slice is a fresh copy.
func BuiltinSorts() []SortBy {
	return []SortBy{SortXP, SortLevel, SortVoiceTime, SortMessages}
}

// UserRecord is one user's accumulated activity in one guild.
type UserRecord struct {
	GuildID      string        `json:"guildId" msgpack:"g"`
	UserID       string        `json:"userId" msgpack:"u"`
	XP           int64         `json:"xp" msgpack:"x"`
	Level        int           `json:"level" msgpack:"l"`
	VoiceTime    time.Duration `json:"voiceTime" msgpack:"v"`
	Messages     int64         `json:"messages" msgpack:"m"`
	LastActiveAt time.Time     `json:"lastActiveAt" msgpack:"t"`
}

// GuildConfig is the per-guild tracker configuration.
type GuildConfig struct {
	GuildID         string   `json:"guildId" msgpack:"g"`
	TrackingEnabled bool     `json:"trackingEnabled" msgpack:"e"`
	XPPerMinute     int      `json:"xpPerMinute" msgpack:"x"`
	XPMultiplier    float64  `json:"xpMultiplier" msgpack:"f"`
	LevelUpChannel  string   `json:"levelUpChannel" msgpack:"c"`
	IgnoredChannels []string `json:"ignoredChannels" msgpack:"i"`
}

// Storage is the persistent store behind the cache. Implementations may fail
// with adapter-specific errors; the caching layer passes those through
// verbatim, it never invents data when the origin of truth fails.
type Storage interface {
	GetUser(ctx context.Context, guildID, userID string) (*UserRecord, error)
	SaveUser(ctx context.Context, u *UserRecord) error

	// GetLeaderboard returns up to limit records of the guild ordered by
	// sortBy (descending), skipping offset records.
	GetLeaderboard(ctx context.Context, guildID string, sortBy SortBy, limit, offset int) ([]*UserRecord, error)

	GetGuildConfig(ctx context.Context, guildID string) (*GuildConfig, error)
	SaveGuildConfig(ctx context.Context, cfg *GuildConfig) error
}
