package cache

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Instinzts/discord-vc-tracker/storage"
)

// LessFunc orders two records for a custom leaderboard; it reports whether a
// ranks above b.
type LessFunc func(a, b *storage.UserRecord) bool

// RegisterSort adds a custom sort order next to the builtin set. The name
// and comparator are validated here, at registration time; nothing is ever
// resolved from a persisted string later. Custom boards are cached under
// their own key and take part in invalidation fan-out like any builtin.
func (c *Coordinator) RegisterSort(name string, less LessFunc) (storage.SortBy, error) {
	if name == "" {
		return "", fmt.Errorf("cache: sort name is required")
	}
	if strings.ContainsAny(name, ": \t\n") {
		return "", fmt.Errorf("cache: sort name %q contains reserved characters", name)
	}
	if less == nil {
		return "", fmt.Errorf("cache: sort %q has no comparator", name)
	}

	s := storage.SortBy(name)
	if builtinSort(s) {
		return "", fmt.Errorf("cache: sort %q is builtin", name)
	}

	c.sortMu.Lock()
	defer c.sortMu.Unlock()
	if _, exists := c.customs[s]; exists {
		return "", fmt.Errorf("cache: sort %q already registered", name)
	}
	c.customs[s] = less
	return s, nil
}

func (c *Coordinator) customSort(s storage.SortBy) (LessFunc, bool) {
	c.sortMu.RLock()
	defer c.sortMu.RUnlock()
	less, ok := c.customs[s]
	return less, ok
}

// sortOrders enumerates every order a guild can have a cached board under:
// the builtin set plus registered customs, in stable order.
func (c *Coordinator) sortOrders() []storage.SortBy {
	out := storage.BuiltinSorts()

	c.sortMu.RLock()
	customs := make([]string, 0, len(c.customs))
	for s := range c.customs {
		customs = append(customs, string(s))
	}
	c.sortMu.RUnlock()

	sort.Strings(customs)
	for _, s := range customs {
		out = append(out, storage.SortBy(s))
	}
	return out
}

func builtinSort(s storage.SortBy) bool {
	switch s {
	case storage.SortXP, storage.SortLevel, storage.SortVoiceTime, storage.SortMessages:
		return true
	}
	return false
}

func sortStable(records []*storage.UserRecord, less LessFunc) {
	sort.SliceStable(records, func(i, j int) bool {
		return less(records[i], records[j])
	})
}
