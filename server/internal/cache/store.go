package cache

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyKey is returned when a store operation is given a key with no segments.
var ErrEmptyKey = errors.New("cache: empty key")

// Entry is one cached result.
type Entry struct {
	Value     []byte
	Stale     bool
	UpdatedAt time.Time
}

// Store holds cached results. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the entry for key and whether it exists.
	Get(ctx context.Context, key Key) (Entry, bool, error)

	// Put stores value under key as a fresh entry.
	Put(ctx context.Context, key Key, value []byte) error

	// Invalidate marks key stale. It reports true only when the entry existed
	// and was fresh before the call.
	Invalidate(ctx context.Context, key Key) (bool, error)

	// InvalidatePrefix marks stale every fresh entry whose key starts with prefix
	// and returns the keys that changed.
	InvalidatePrefix(ctx context.Context, prefix Key) ([]Key, error)

	// Delete removes key.
	Delete(ctx context.Context, key Key) error

	// Keys lists every key currently held.
	Keys(ctx context.Context) ([]Key, error)
}
