package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// FetchTimeout bounds one shared fetch. Fetches outlive the request that
// started them so concurrent waiters are not failed by its cancellation.
const FetchTimeout = 30 * time.Second

// Listener is called with the keys that went from fresh to stale in one
// Invalidate or InvalidatePrefix call. It is never called with an empty slice.
type Listener func(keys []Key)

// Stats holds cache operation counters for monitoring.
type Stats struct {
	Hits          int64
	Misses        int64
	Fetches       int64
	FetchErrors   int64
	Invalidations int64
}

// Client is the query client used by the dashboard operations.
// It is safe for concurrent use.
type Client struct {
	store Store
	group singleflight.Group

	mu        sync.Mutex
	epochs    map[string]uint64 // bumped on every invalidation request, hit or not
	inflight  map[string]Key
	listeners []Listener

	hits, misses, fetches, fetchErrors, invalidations atomic.Int64
}

// NewClient creates a Client over store.
func NewClient(store Store) *Client {
	return &Client{
		store:    store,
		epochs:   make(map[string]uint64),
		inflight: make(map[string]Key),
	}
}

// Store returns the underlying store.
func (c *Client) Store() Store { return c.store }

// OnInvalidate registers l to be notified of keys that became stale.
func (c *Client) OnInvalidate(l Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// Stats returns a snapshot of the operation counters.
func (c *Client) Stats() Stats {
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Fetches:       c.fetches.Load(),
		FetchErrors:   c.fetchErrors.Load(),
		Invalidations: c.invalidations.Load(),
	}
}

// Fetch returns the fresh cached value for key, or runs fn, caches its
// JSON-encoded result and returns it. Concurrent callers for the same key share
// one fn call. Errors from fn are returned and not cached.
//
// If the key is invalidated while fn is running, the stored result is marked
// stale right away so the next read fetches again.
func Fetch[T any](ctx context.Context, c *Client, key Key, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if len(key) == 0 {
		return zero, ErrEmptyKey
	}

	e, ok, err := c.store.Get(ctx, key)
	if err != nil {
		slog.Warn("cache: store read failed, fetching", "key", key.String(), "err", err)
	}
	if err == nil && ok && !e.Stale {
		var v T
		if err := json.Unmarshal(e.Value, &v); err == nil {
			c.hits.Add(1)
			return v, nil
		}
		slog.Warn("cache: undecodable entry, fetching", "key", key.String())
	}
	c.misses.Add(1)

	raw, err, _ := c.group.Do(key.String(), func() (any, error) {
		epoch := c.begin(key)
		defer c.end(key)
		c.fetches.Add(1)

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FetchTimeout)
		defer cancel()
		v, err := fn(ctx)
		if err != nil {
			c.fetchErrors.Add(1)
			return nil, err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("cache: encode %s: %w", key, err)
		}
		if err := c.store.Put(ctx, key, b); err != nil {
			slog.Warn("cache: store write failed", "key", key.String(), "err", err)
			return b, nil
		}
		if c.epoch(key) != epoch {
			if _, err := c.store.Invalidate(ctx, key); err != nil {
				slog.Warn("cache: late invalidation failed", "key", key.String(), "err", err)
			}
		}
		return b, nil
	})
	if err != nil {
		return zero, err
	}

	var v T
	if err := json.Unmarshal(raw.([]byte), &v); err != nil {
		return zero, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return v, nil
}

// Invalidate marks each key stale and returns how many went from fresh to stale.
// Duplicate keys in one call are invalidated once. Store errors are logged and
// the remaining keys are still processed.
func (c *Client) Invalidate(ctx context.Context, keys ...Key) int {
	seen := make(map[string]struct{}, len(keys))
	var changed []Key
	for _, k := range keys {
		if len(k) == 0 {
			continue
		}
		id := k.String()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		c.bump(id)

		ok, err := c.store.Invalidate(ctx, k)
		if err != nil {
			slog.Warn("cache: invalidate failed", "key", id, "err", err)
			continue
		}
		if ok {
			changed = append(changed, k)
		}
	}
	c.notify(changed)
	return len(changed)
}

// InvalidatePrefix marks stale every fresh key that starts with prefix.
// Fetches in flight under prefix store their result stale.
func (c *Client) InvalidatePrefix(ctx context.Context, prefix Key) int {
	c.mu.Lock()
	for id, k := range c.inflight {
		if k.HasPrefix(prefix) {
			c.epochs[id]++
		}
	}
	c.mu.Unlock()

	changed, err := c.store.InvalidatePrefix(ctx, prefix)
	if err != nil {
		slog.Warn("cache: invalidate prefix failed", "prefix", prefix.String(), "err", err)
	}
	for _, k := range changed {
		c.bump(k.String())
	}
	c.notify(changed)
	return len(changed)
}

// begin records key as in flight and returns its epoch.
func (c *Client) begin(key Key) uint64 {
	id := key.String()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[id] = key
	return c.epochs[id]
}

func (c *Client) end(key Key) {
	c.mu.Lock()
	delete(c.inflight, key.String())
	c.mu.Unlock()
}

func (c *Client) epoch(key Key) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epochs[key.String()]
}

func (c *Client) bump(id string) {
	c.mu.Lock()
	c.epochs[id]++
	c.mu.Unlock()
}

func (c *Client) notify(changed []Key) {
	if len(changed) == 0 {
		return
	}
	c.invalidations.Add(int64(len(changed)))
	c.mu.Lock()
	ls := make([]Listener, len(c.listeners))
	copy(ls, c.listeners)
	c.mu.Unlock()
	for _, l := range ls {
		l(changed)
	}
}
