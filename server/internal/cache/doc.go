// Package cache is the dashboard's query cache.
//
// A Key is an ordered list of segments (["trips"], ["count", "jets"]) compared by
// structural equality. A Store holds one JSON-encoded result per key together
// with a boolean stale flag. MemoryStore keeps entries in process and garbage
// collects those nobody has read for GCTime; RedisStore shares entries between
// replicas.
//
// Client sits on top of a Store:
//
//	trips, err := cache.Fetch(ctx, client, cache.NewKey("trips"), fetchTrips)
//	client.Invalidate(ctx, cache.NewKey("trips"))
//
// Fetch returns the cached value while it is fresh, otherwise runs the fetch
// once for all concurrent callers of the same key and stores the result.
// Invalidate only flips the stale flag; it never refetches. Invalidating an
// already-stale or absent key is a no-op and does not notify listeners.
package cache
