package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jetRow struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func TestFetch_CachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	c := NewClient(NewMemoryStore(0))
	var calls int

	fetch := func(context.Context) ([]jetRow, error) {
		calls++
		return []jetRow{{ID: "j1", Name: "Falcon"}}, nil
	}

	got, err := Fetch(ctx, c, Key{"jets"}, fetch)
	require.NoError(t, err)
	assert.Equal(t, "Falcon", got[0].Name)

	_, err = Fetch(ctx, c, Key{"jets"}, fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	assert.Equal(t, 1, c.Invalidate(ctx, Key{"jets"}))
	_, err = Fetch(ctx, c, Key{"jets"}, fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	st := c.Stats()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(2), st.Misses)
	assert.Equal(t, int64(2), st.Fetches)
	assert.Equal(t, int64(1), st.Invalidations)
}

func TestFetch_ErrorNotCached(t *testing.T) {
	ctx := context.Background()
	c := NewClient(NewMemoryStore(0))
	boom := errors.New("boom")

	_, err := Fetch(ctx, c, Key{"trips"}, func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	n, err := Fetch(ctx, c, Key{"trips"}, func(context.Context) (int, error) { return 3, nil })
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int64(1), c.Stats().FetchErrors)
}

func TestFetch_EmptyKey(t *testing.T) {
	c := NewClient(NewMemoryStore(0))
	_, err := Fetch(context.Background(), c, nil, func(context.Context) (int, error) { return 1, nil })
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestFetch_ConcurrentCallersShareOneCall(t *testing.T) {
	ctx := context.Background()
	c := NewClient(NewMemoryStore(0))
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := Fetch(ctx, c, Key{"summary"}, func(context.Context) (int, error) {
				calls.Add(1)
				<-release
				return 42, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, 42, v)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, calls.Load(), int32(10))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestFetch_InvalidationDuringFetchMarksResultStale(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	c := NewClient(store)

	_, err := Fetch(ctx, c, Key{"events"}, func(ctx context.Context) (int, error) {
		c.Invalidate(ctx, Key{"events"})
		return 1, nil
	})
	require.NoError(t, err)

	e, ok, err := store.Get(ctx, Key{"events"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, e.Stale)
}

func TestFetch_PrefixInvalidationDuringRefetchMarksResultStale(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	c := NewClient(store)

	_, err := Fetch(ctx, c, Key{"cars"}, func(context.Context) (string, error) { return "old", nil })
	require.NoError(t, err)
	c.Invalidate(ctx, Key{"cars"})

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := Fetch(ctx, c, Key{"cars"}, func(context.Context) (string, error) {
			close(started)
			<-release
			return "pre-mutation", nil
		})
		done <- err
	}()
	<-started
	c.InvalidatePrefix(ctx, Key{"cars"})
	close(release)
	require.NoError(t, <-done)

	var calls int
	v, err := Fetch(ctx, c, Key{"cars"}, func(context.Context) (string, error) {
		calls++
		return "post-mutation", nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "post-mutation", v)
}

func TestFetch_PrefixInvalidationDuringFirstFetchMarksResultStale(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	c := NewClient(store)

	_, err := Fetch(ctx, c, Key{"jets", "basic"}, func(ctx context.Context) (int, error) {
		c.InvalidatePrefix(ctx, Key{"jets"})
		return 1, nil
	})
	require.NoError(t, err)

	e, ok, err := store.Get(ctx, Key{"jets", "basic"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, e.Stale)
}

func TestFetch_SharedCallSurvivesCallerCancel(t *testing.T) {
	c := NewClient(NewMemoryStore(0))
	first, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		Fetch(first, c, Key{"trips"}, func(ctx context.Context) (int, error) { //nolint:errcheck
			close(started)
			select {
			case <-release:
				return 7, nil
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		})
	}()
	<-started

	second := make(chan int, 1)
	go func() {
		v, err := Fetch(context.Background(), c, Key{"trips"}, func(context.Context) (int, error) {
			return 7, nil
		})
		assert.NoError(t, err)
		second <- v
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(release)

	assert.Equal(t, 7, <-second)
	<-firstDone
}

func TestInvalidate_AbsentKeyIsNoop(t *testing.T) {
	c := NewClient(NewMemoryStore(0))
	var notified int
	c.OnInvalidate(func([]Key) { notified++ })

	assert.Equal(t, 0, c.Invalidate(context.Background(), Key{"missing"}))
	assert.Equal(t, 0, notified)
}

func TestInvalidate_DedupesAndNotifies(t *testing.T) {
	ctx := context.Background()
	c := NewClient(NewMemoryStore(0))
	require.NoError(t, c.Store().Put(ctx, Key{"events"}, []byte(`[]`)))
	require.NoError(t, c.Store().Put(ctx, Key{"count", "events"}, []byte(`0`)))

	var got [][]Key
	c.OnInvalidate(func(keys []Key) { got = append(got, keys) })

	n := c.Invalidate(ctx, Key{"events"}, Key{"events"}, Key{"count", "events"}, nil)
	assert.Equal(t, 2, n)
	require.Len(t, got, 1)
	assert.ElementsMatch(t, []Key{{"events"}, {"count", "events"}}, got[0])
}

func TestInvalidatePrefix(t *testing.T) {
	ctx := context.Background()
	c := NewClient(NewMemoryStore(0))
	require.NoError(t, c.Store().Put(ctx, Key{"jets"}, []byte(`[]`)))
	require.NoError(t, c.Store().Put(ctx, Key{"jets", "basic"}, []byte(`[]`)))
	require.NoError(t, c.Store().Put(ctx, Key{"storage", "jets"}, []byte(`[]`)))

	assert.Equal(t, 2, c.InvalidatePrefix(ctx, Key{"jets"}))
	e, _, _ := c.Store().Get(ctx, Key{"storage", "jets"})
	assert.False(t, e.Stale)
}
