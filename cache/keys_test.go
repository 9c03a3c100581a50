package cache

import (
	"testing"

	"github.com/Instinzts/discord-vc-tracker/storage"
)

func TestKeysAreDistinctAcrossKinds(t *testing.T) {
	keys := []string{
		UserKey("123", "456"),
		UserKey("123", "457"),
		UserKey("124", "456"),
		LeaderboardKey("123", storage.SortXP),
		LeaderboardKey("123", storage.SortVoiceTime),
		LeaderboardKey("124", storage.SortXP),
		GuildConfigKey("123"),
		GuildConfigKey("124"),
	}
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if seen[k] {
			t.Fatalf("key collision on %q", k)
		}
		seen[k] = true
	}
}

func TestKeyShape(t *testing.T) {
	if got := UserKey("1", "2"); got != "user:1:2" {
		t.Fatalf("UserKey = %q", got)
	}
	if got := LeaderboardKey("1", storage.SortMessages); got != "leaderboard:1:messages" {
		t.Fatalf("LeaderboardKey = %q", got)
	}
	if got := GuildConfigKey("1"); got != "guildconfig:1" {
		t.Fatalf("GuildConfigKey = %q", got)
	}
}
