// Package zoocache is an in-process memoization cache with dependency-driven
// invalidation. Every entry is stored under a set of hierarchical,
// colon-delimited tags; invalidating a tag — or any prefix of it — renders
// all dependent entries stale on their next read, in time proportional to
// the entry's own tag paths and without touching any other entry.
//
// The cache additionally coalesces concurrent misses onto a single producer
// per key (singleflight), supports per-entry TTL with optional idle-time
// extension on reads, and enforces a capacity bound with approximate-LRU
// eviction. Storage backends (in-memory map, badger-backed disk KV) and the
// cross-process invalidation bus (Redis pub/sub) are pluggable.
//
//	cache, err := zoocache.New(zoocache.DefaultConfig())
//	...
//	err = cache.Set("user:42:profile", payload, []string{"org:1:user:42"})
//	v, hit, err := cache.Get("user:42:profile")
//	err = cache.Invalidate("org:1") // takes user 42's profile with it
//
// Values are opaque bytes; serialization is the caller's responsibility, as
// is deriving stable keys.
package zoocache
