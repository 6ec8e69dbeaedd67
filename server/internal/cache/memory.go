package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type memEntry struct {
	key      Key
	value    []byte
	stale    bool
	updated  time.Time
	lastRead time.Time
}

// MemoryStore is a thread-safe in-process Store keyed by Key.String().
// A background goroutine (Run) evicts entries that have not been read or
// written within gcTime, the equivalent of an unobserved query being dropped.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]*memEntry
	gcTime time.Duration
	now    func() time.Time // injectable for deterministic tests
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore. A zero gcTime disables eviction.
func NewMemoryStore(gcTime time.Duration) *MemoryStore {
	return &MemoryStore{
		data:   make(map[string]*memEntry),
		gcTime: gcTime,
		now:    time.Now,
	}
}

// Get returns the entry for key and refreshes its last-read time.
func (s *MemoryStore) Get(_ context.Context, key Key) (Entry, bool, error) {
	if len(key) == 0 {
		return Entry{}, false, ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key.String()]
	if !ok {
		return Entry{}, false, nil
	}
	e.lastRead = s.now()
	return Entry{Value: e.value, Stale: e.stale, UpdatedAt: e.updated}, true, nil
}

// Put stores or replaces the entry for key as fresh.
// Callers must not modify value after calling Put.
func (s *MemoryStore) Put(_ context.Context, key Key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key.String()] = &memEntry{
		key:      append(Key(nil), key...),
		value:    value,
		updated:  now,
		lastRead: now,
	}
	return nil
}

// Invalidate marks key stale.
func (s *MemoryStore) Invalidate(_ context.Context, key Key) (bool, error) {
	if len(key) == 0 {
		return false, ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key.String()]
	if !ok || e.stale {
		return false, nil
	}
	e.stale = true
	return true, nil
}

// InvalidatePrefix marks every fresh entry under prefix stale.
func (s *MemoryStore) InvalidatePrefix(_ context.Context, prefix Key) ([]Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed []Key
	for _, e := range s.data {
		if e.stale || !e.key.HasPrefix(prefix) {
			continue
		}
		e.stale = true
		changed = append(changed, e.key)
	}
	return changed, nil
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key.String())
	return nil
}

// Keys lists every key currently held, including stale ones.
func (s *MemoryStore) Keys(_ context.Context) ([]Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Key, 0, len(s.data))
	for _, e := range s.data {
		out = append(out, e.key)
	}
	return out, nil
}

// Count returns the number of entries currently held.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes entries whose last read is older than now minus gcTime.
// It returns the number of entries removed.
func (s *MemoryStore) Evict(now time.Time) int {
	if s.gcTime <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.gcTime)
	removed := 0
	for id, e := range s.data {
		if !e.lastRead.After(cutoff) {
			delete(s.data, id)
			removed++
		}
	}
	return removed
}

// Run starts the background eviction loop. It ticks at half the GC time
// (minimum 1 second). Run blocks until ctx is cancelled.
func (s *MemoryStore) Run(ctx context.Context) {
	if s.gcTime <= 0 {
		<-ctx.Done()
		return
	}
	interval := s.gcTime / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("cache: evicted idle entries", "count", n)
			}
		}
	}
}
