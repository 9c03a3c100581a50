package cache

import (
	"context"
	"time"
)

// Backend is a byte store with TTLs shared by the in-process and networked
// cache implementations. Values cross this boundary already serialized;
// implementations must return exactly the bytes that were stored, without
// transforms.
//
// A cache is an optimization, not a source of truth, so the contract is
// fail-open: transport and store errors are logged inside the backend and
// degrade to a miss (reads) or a no-op (writes, deletes). They are never
// surfaced to callers.
type Backend interface {
	// Get returns the stored value if present and not expired. Every call
	// records a hit or a miss (when stats are enabled), including internal
	// error paths, which count as a miss.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores value with expiry now + ttl (ttl 0 uses the backend's
	// default). An existing entry for the key is replaced whole.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)

	// Delete removes the entry if present. Absent keys are a no-op.
	Delete(ctx context.Context, key string)

	// Has reports existence without touching hit/miss counters.
	Has(ctx context.Context, key string) bool

	// GetMulti returns one slot per requested key, nil marking absence.
	// Failure of one key never aborts the others.
	GetMulti(ctx context.Context, keys []string) [][]byte

	// SetMulti stores all entries with the same per-key semantics as Set.
	SetMulti(ctx context.Context, entries []Entry, ttl time.Duration)

	// Clear's semantics are deliberately backend-specific: the in-process
	// backend flushes, the networked backend only lets entries drain via
	// TTL. Callers must not assume Clear empties the cache.
	Clear(ctx context.Context)

	// Stats returns a snapshot of the counters. For the networked backend
	// Size is recomputed by enumerating the namespace, which is O(keys);
	// call it on a monitoring interval, not per request.
	Stats(ctx context.Context) Stats

	// Close releases resources.
	Close(ctx context.Context) error
}

// Entry is one key/value pair for SetMulti.
type Entry struct {
	Key   string
	Value []byte
}

// Stats are monotonically accumulating counters for the lifetime of a backend
// instance. Hit/miss/set/delete counters are local to the process; only Size
// reflects live shared state.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Sets    uint64  `json:"sets"`
	Deletes uint64  `json:"deletes"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hitRate"`
}

// Rate returns hits/(hits+misses), or 0 when there were no lookups.
func Rate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
