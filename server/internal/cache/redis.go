package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanCount = 100

// invalidateScript flips the stale field from "0" to "1" and reports whether it did.
var invalidateScript = redis.NewScript(`
local s = redis.call('HGET', KEYS[1], 's')
if s == '0' then
  redis.call('HSET', KEYS[1], 's', '1')
  return 1
end
return 0
`)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	// Prefix namespaces every redis key written by the store.
	Prefix string

	// GCTime is the idle expiry applied on every write and read. Zero disables expiry.
	GCTime time.Duration
}

// RedisStore is a Store backed by one redis hash per key with the fields
// v (value), s (stale flag "0"/"1") and u (update time, unix milliseconds).
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	gcTime time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisClient opens a redis client and pings it.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("cache: ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

// NewRedisStore wraps an existing redis client. The caller keeps ownership of rdb.
func NewRedisStore(rdb redis.UniversalClient, opts RedisOptions) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: opts.Prefix, gcTime: opts.GCTime}
}

func (s *RedisStore) redisKey(key Key) string {
	return s.prefix + key.String()
}

// Get returns the entry for key and extends its idle expiry.
func (s *RedisStore) Get(ctx context.Context, key Key) (Entry, bool, error) {
	if len(key) == 0 {
		return Entry{}, false, ErrEmptyKey
	}
	rk := s.redisKey(key)
	fields, err := s.rdb.HGetAll(ctx, rk).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: redis HGETALL %s: %w", rk, err)
	}
	if len(fields) == 0 {
		return Entry{}, false, nil
	}
	if s.gcTime > 0 {
		if err := s.rdb.Expire(ctx, rk, s.gcTime).Err(); err != nil {
			slog.Warn("cache: redis expire failed", "key", rk, "err", err)
		}
	}
	e := Entry{Value: []byte(fields["v"]), Stale: fields["s"] != "0"}
	if ms, err := strconv.ParseInt(fields["u"], 10, 64); err == nil {
		e.UpdatedAt = time.UnixMilli(ms)
	}
	return e, true, nil
}

// Put stores value under key as fresh.
func (s *RedisStore) Put(ctx context.Context, key Key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	rk := s.redisKey(key)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, rk, "v", value, "s", "0", "u", time.Now().UnixMilli())
		if s.gcTime > 0 {
			p.Expire(ctx, rk, s.gcTime)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache: redis put %s: %w", rk, err)
	}
	return nil
}

// Invalidate marks key stale atomically.
func (s *RedisStore) Invalidate(ctx context.Context, key Key) (bool, error) {
	if len(key) == 0 {
		return false, ErrEmptyKey
	}
	rk := s.redisKey(key)
	n, err := invalidateScript.Run(ctx, s.rdb, []string{rk}).Int()
	if err != nil {
		return false, fmt.Errorf("cache: redis invalidate %s: %w", rk, err)
	}
	return n == 1, nil
}

// InvalidatePrefix scans the store namespace and invalidates every key under prefix.
func (s *RedisStore) InvalidatePrefix(ctx context.Context, prefix Key) ([]Key, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	var changed []Key
	for _, k := range keys {
		if !k.HasPrefix(prefix) {
			continue
		}
		ok, err := s.Invalidate(ctx, k)
		if err != nil {
			return changed, err
		}
		if ok {
			changed = append(changed, k)
		}
	}
	return changed, nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	rk := s.redisKey(key)
	if err := s.rdb.Del(ctx, rk).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("cache: redis DEL %s: %w", rk, err)
	}
	return nil
}

// Keys lists every key in the store namespace using SCAN.
func (s *RedisStore) Keys(ctx context.Context) ([]Key, error) {
	var (
		cursor uint64
		out    []Key
	)
	match := escapeGlob(s.prefix) + "*"
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, match, scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("cache: redis SCAN %s: %w", match, err)
		}
		for _, rk := range batch {
			k, err := ParseKey(strings.TrimPrefix(rk, s.prefix))
			if err != nil {
				slog.Warn("cache: skipping foreign redis key", "key", rk)
				continue
			}
			out = append(out, k)
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

// escapeGlob escapes the characters SCAN MATCH treats specially.
func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
