package main

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/skyway/adminboard/pkg/types"
	"github.com/skyway/adminboard/server/internal/cache"
	"github.com/skyway/adminboard/server/internal/config"
	"github.com/skyway/adminboard/server/internal/realtime"
)

// subscription keeps one realtime.Handle per change source in step with the
// configured bindings. Start blocks until the channel is joined, so apply
// runs it in the background and the newest generation wins. Failed starts are
// retried with policy, and a handle whose channel ends is started again.
type subscription struct {
	source string
	sub    *realtime.Subscriber
	policy realtime.Reconnect
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	gen      uint64
	bindings []config.BindingConfig
	handle   *realtime.Handle
	wg       sync.WaitGroup
}

func newSubscription(ctx context.Context, source string, sub *realtime.Subscriber, policy realtime.Reconnect) *subscription {
	ctx, cancel := context.WithCancel(ctx)
	return &subscription{source: source, sub: sub, policy: policy, ctx: ctx, cancel: cancel}
}

// apply replaces the running handle with one covering bindings. Unchanged
// bindings are a no-op while their generation is still running.
func (s *subscription) apply(bindings []config.BindingConfig) {
	s.mu.Lock()
	if s.bindings != nil && reflect.DeepEqual(s.bindings, bindings) {
		s.mu.Unlock()
		return
	}
	s.gen++
	gen := s.gen
	s.bindings = bindings
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(gen, bindingsFrom(bindings))
}

func (s *subscription) run(gen uint64, bindings []realtime.Binding) {
	defer s.wg.Done()
	bo := realtime.NewBackoff(s.policy)
	for {
		h, err := s.sub.Start(s.ctx, bindings)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, realtime.ErrClosed) {
				return
			}
			if errors.Is(err, realtime.ErrNoBindings) || errors.Is(err, realtime.ErrEmptyTopic) {
				slog.Error("subscription: invalid bindings", "source", s.source, "err", err)
				s.forget(gen)
				return
			}
			wait := bo.Next()
			slog.Warn("subscription: start failed, retrying", "source", s.source, "retry_in", wait, "err", err)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(wait):
			}
			if !s.current(gen) {
				return
			}
			continue
		}
		if !s.install(gen, h) {
			return
		}
		bo.Reset()

		select {
		case <-s.ctx.Done():
			return
		case <-h.Done():
		}
		if !s.release(gen, h) {
			return
		}
		slog.Warn("subscription: channel ended, restarting", "source", s.source, "handle", h.ID)
		s.stop(h)
	}
}

func (s *subscription) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen
}

// forget clears the recorded bindings so the next apply starts again.
func (s *subscription) forget(gen uint64) {
	s.mu.Lock()
	if gen == s.gen {
		s.bindings = nil
	}
	s.mu.Unlock()
}

// install makes h the live handle if gen is still current, stopping the
// handle it replaces. A superseded h is stopped instead.
func (s *subscription) install(gen uint64, h *realtime.Handle) bool {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.stop(h)
		return false
	}
	old := s.handle
	s.handle = h
	s.mu.Unlock()

	if old != nil {
		s.stop(old)
	}
	return true
}

// release drops h after its channel ended on its own. It reports false when
// h was replaced or stopped deliberately.
func (s *subscription) release(gen uint64, h *realtime.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.handle != h {
		return false
	}
	s.handle = nil
	return true
}

// close aborts pending starts and stops the current handle.
func (s *subscription) close() {
	s.cancel()
	s.mu.Lock()
	s.gen++
	h := s.handle
	s.handle = nil
	s.mu.Unlock()
	s.wg.Wait()
	if h != nil {
		s.stop(h)
	}
}

func (s *subscription) stop(h *realtime.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sub.Stop(ctx, h); err != nil {
		slog.Warn("subscription: stop failed", "source", s.source, "handle", h.ID, "err", err)
	}
}

// bindingsFrom converts configured table bindings into subscriber bindings.
func bindingsFrom(in []config.BindingConfig) []realtime.Binding {
	out := make([]realtime.Binding, 0, len(in))
	for _, b := range in {
		keys := make([]cache.Key, 0, len(b.Keys))
		for _, k := range b.Keys {
			keys = append(keys, cache.Key(k))
		}
		out = append(out, realtime.Binding{Topic: b.Table, Keys: keys})
	}
	return out
}

// settingsFrom assembles the settings view from contact and branding config.
func settingsFrom(cfg *config.Config) types.Settings {
	return types.Settings{
		OfficeAddress: cfg.Settings.OfficeAddress,
		WhatsApp:      cfg.Settings.WhatsApp,
		LogoURL:       cfg.Branding.LogoURL,
		WatermarkURL:  cfg.Branding.WatermarkURL,
	}
}

// cacheStore is the configured store plus what main needs to report on and
// release it.
type cacheStore struct {
	store cache.Store
	count func() int
	close func() error
}

func openCache(ctx context.Context, cfg config.CacheConfig) (*cacheStore, error) {
	if cfg.Backend != "redis" {
		mem := cache.NewMemoryStore(cfg.GCTime)
		go mem.Run(ctx)
		return &cacheStore{
			store: mem,
			count: mem.Count,
			close: func() error { return nil },
		}, nil
	}

	rdb, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password(), cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	st := cache.NewRedisStore(rdb, cache.RedisOptions{Prefix: cfg.Redis.Prefix, GCTime: cfg.GCTime})
	return &cacheStore{
		store: st,
		count: redisCount(st),
		close: rdb.Close,
	}, nil
}

func redisCount(st *cache.RedisStore) func() int {
	return func() int {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		keys, err := st.Keys(ctx)
		if err != nil {
			slog.Warn("cache: count failed", "err", err)
			return 0
		}
		return len(keys)
	}
}
