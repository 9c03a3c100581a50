package cache

import (
	"github.com/Instinzts/discord-vc-tracker/storage"
)

// Cache keys are built from an entity kind plus the identifying tuple, joined
// with ':'. Guild and user ids are Discord snowflakes (digits only) and sort
// names are validated at registration to exclude ':', so distinct logical
// objects can never collide. Deployment namespacing is the networked
// backend's job (KeyPrefix), not the key builder's.
const (
	kindUser        = "user"
	kindLeaderboard = "leaderboard"
	kindGuildConfig = "guildconfig"
)

// UserKey addresses one user's snapshot in one guild.
func UserKey(guildID, userID string) string {
	return kindUser + ":" + guildID + ":" + userID
}

// LeaderboardKey addresses the cached board of a guild for one sort order.
// Pages are sliced out of the one cached board, so paging parameters are not
// part of the key; that is what lets a write enumerate and invalidate every
// board of the guild.
func LeaderboardKey(guildID string, sortBy storage.SortBy) string {
	return kindLeaderboard + ":" + guildID + ":" + string(sortBy)
}

// GuildConfigKey addresses a guild's tracker configuration.
func GuildConfigKey(guildID string) string {
	return kindGuildConfig + ":" + guildID
}
