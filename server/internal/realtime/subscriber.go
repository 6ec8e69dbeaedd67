package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/skyway/adminboard/server/internal/cache"
)

var (
	// ErrNoBindings is returned by Start when no bindings are given.
	ErrNoBindings = errors.New("realtime: no bindings")

	// ErrEmptyTopic is returned by Start when a binding has no topic.
	ErrEmptyTopic = errors.New("realtime: binding has empty topic")
)

// Binding ties a topic to the cache keys invalidated by any change on it.
type Binding struct {
	Topic string
	Keys  []cache.Key
}

// Invalidator marks cache keys stale. *cache.Client implements it.
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...cache.Key) int
}

// Listener observes every change a Handle handles, after its keys are invalidated.
type Listener func(Change)

// Subscriber starts and stops invalidation subscriptions.
type Subscriber struct {
	src       Source
	inv       Invalidator
	name      string
	resync    bool
	listeners []Listener
}

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithListener adds l to every Handle started afterwards.
func WithListener(l Listener) Option {
	return func(s *Subscriber) { s.listeners = append(s.listeners, l) }
}

// WithResync sets whether a Resync change invalidates every bound key.
// It is on by default.
func WithResync(on bool) Option {
	return func(s *Subscriber) { s.resync = on }
}

// WithChannelName sets the prefix of channel names. Each Handle appends its ID.
func WithChannelName(name string) Option {
	return func(s *Subscriber) { s.name = name }
}

// New creates a Subscriber that reads changes from src and invalidates through inv.
func New(src Source, inv Invalidator, opts ...Option) *Subscriber {
	s := &Subscriber{src: src, inv: inv, name: "admin-realtime", resync: true}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handle is a live subscription returned by Start.
type Handle struct {
	ID string

	index  map[string][]cache.Key // topic -> distinct keys
	all    []cache.Key            // every distinct bound key
	ch     Channel
	cancel context.CancelFunc
	done   chan struct{}

	once    sync.Once
	stopErr error
}

// Topics returns the distinct topics the handle listens on, sorted.
func (h *Handle) Topics() []string {
	out := make([]string, 0, len(h.index))
	for t := range h.index {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Keys returns every distinct key bound through the handle.
func (h *Handle) Keys() []cache.Key {
	return append([]cache.Key(nil), h.all...)
}

// Done is closed once the handle has stopped consuming changes, either
// through Stop or because its channel ended.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Start opens one channel covering every topic in bindings and begins
// invalidating bound keys as changes arrive.
func (s *Subscriber) Start(ctx context.Context, bindings []Binding) (*Handle, error) {
	if len(bindings) == 0 {
		return nil, ErrNoBindings
	}
	h := &Handle{
		ID:    ulid.Make().String(),
		index: make(map[string][]cache.Key),
		done:  make(chan struct{}),
	}
	seenAll := make(map[string]struct{})
	seen := make(map[string]map[string]struct{})
	var topics []string
	for i, b := range bindings {
		if b.Topic == "" {
			return nil, fmt.Errorf("%w (binding %d)", ErrEmptyTopic, i)
		}
		if _, ok := seen[b.Topic]; !ok {
			seen[b.Topic] = make(map[string]struct{})
			h.index[b.Topic] = nil
			topics = append(topics, b.Topic)
		}
		for _, k := range b.Keys {
			if len(k) == 0 {
				continue
			}
			id := k.String()
			if _, dup := seen[b.Topic][id]; !dup {
				seen[b.Topic][id] = struct{}{}
				h.index[b.Topic] = append(h.index[b.Topic], k)
			}
			if _, dup := seenAll[id]; !dup {
				seenAll[id] = struct{}{}
				h.all = append(h.all, k)
			}
		}
	}

	ch, err := s.src.Join(ctx, s.name+":"+h.ID, topics)
	if err != nil {
		return nil, fmt.Errorf("realtime: start: %w", err)
	}
	h.ch = ch

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.cancel = cancel
	go s.consume(runCtx, h)

	slog.Info("realtime: subscription started", "handle", h.ID, "topics", topics, "keys", len(h.all))
	return h, nil
}

// consume is the only goroutine that invalidates through h.
func (s *Subscriber) consume(ctx context.Context, h *Handle) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.ch.Done():
			slog.Warn("realtime: channel ended", "handle", h.ID)
			return
		case ev := <-h.ch.Events():
			if ctx.Err() != nil {
				return
			}
			s.handle(ctx, h, ev)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, h *Handle, ev Change) {
	switch ev.Type {
	case Resync:
		if !s.resync {
			return
		}
		n := s.inv.Invalidate(ctx, h.all...)
		slog.Info("realtime: resynced after reconnect", "handle", h.ID, "invalidated", n)
	default:
		keys, ok := h.index[ev.Topic]
		if !ok {
			return
		}
		if len(keys) > 0 {
			n := s.inv.Invalidate(ctx, keys...)
			slog.Debug("realtime: change", "handle", h.ID, "topic", ev.Topic, "type", ev.Type, "invalidated", n)
		}
	}
	for _, l := range s.listeners {
		l(ev)
	}
}

// Stop ends h. It waits for the consumer to exit before leaving the channel,
// so no invalidation happens through h after Stop returns. Calling Stop again
// returns nil and has no effect.
func (s *Subscriber) Stop(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	first := false
	h.once.Do(func() {
		first = true
		h.cancel()
		<-h.done
		if err := h.ch.Leave(ctx); err != nil {
			h.stopErr = fmt.Errorf("realtime: stop %s: %w", h.ID, err)
		}
		slog.Info("realtime: subscription stopped", "handle", h.ID)
	})
	if !first {
		return nil
	}
	return h.stopErr
}
