// Package cache is the coherency layer between the voice-presence tracker
// and its persistent store. It serves hot reads (user snapshots, sorted
// leaderboards, guild configuration) from one of several interchangeable
// backends and keeps them consistent with writes through delete-based
// invalidation.
//
// Components:
//   - Backend: byte store with TTLs. In-process (cache/memory: bounded,
//     strict LRU; cache/ristretto and cache/bigcache trade eviction
//     precision for throughput) or networked (cache/redis: shared across
//     processes, TTL-only expiry). Backends are fail-open: a broken cache
//     degrades to storage latency, never to incorrect data.
//   - Coordinator: computes cache keys, performs cache-aside reads, and
//     invalidates the affected keys after each acknowledged storage write
//     (the user key, every board of the guild, the config key).
//   - codec.Codec[V]: (de)serializes values; JSON by default.
//
// Keys:
//
//	user:<guild>:<user>
//	leaderboard:<guild>:<sort>
//	guildconfig:<guild>
//
// Consistency: a write is reflected on the very next read from the same
// process. Across processes sharing the networked backend there is no
// coordination beyond expiry; reads may be up to TTL stale.
package cache
