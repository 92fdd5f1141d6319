package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Compile-time check that RedisStore implements Store.
var _ Store = (*RedisStore)(nil)

// RedisStore keeps counters in Redis so every instance shares one window
// per client. Keys expire with their window.
type RedisStore struct {
	rdb    goredis.UniversalClient
	prefix string
}

// NewRedisStore creates a store using keys "<prefix><client>".
func NewRedisStore(rdb goredis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// Get returns the live entry for key.
func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	k := s.prefix + key
	var (
		get *goredis.StringCmd
		ttl *goredis.DurationCmd
	)
	_, err := s.rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		get = pipe.Get(ctx, k)
		ttl = pipe.PTTL(ctx, k)
		return nil
	})
	if errors.Is(err, goredis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("ratelimit: redis get: %w", err)
	}

	count, err := get.Int64()
	if err != nil {
		return Entry{}, false, fmt.Errorf("ratelimit: redis get: %w", err)
	}
	d := ttl.Val()
	if d <= 0 {
		return Entry{}, false, nil
	}
	return Entry{Count: count, ResetAt: time.Now().Add(d)}, true, nil
}

// Set overwrites the entry for key, expiring it at entry.ResetAt.
func (s *RedisStore) Set(ctx context.Context, key string, entry Entry) error {
	ttl := time.Until(entry.ResetAt)
	if ttl <= 0 {
		return s.rdb.Del(ctx, s.prefix+key).Err()
	}
	if err := s.rdb.Set(ctx, s.prefix+key, entry.Count, ttl).Err(); err != nil {
		return fmt.Errorf("ratelimit: redis set: %w", err)
	}
	return nil
}

// Increment runs INCR and PTTL in one round trip and sets the window
// expiry when the key is new.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	k := s.prefix + key
	var (
		incr *goredis.IntCmd
		ttl  *goredis.DurationCmd
	)
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		ttl = pipe.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("ratelimit: redis incr: %w", err)
	}

	count := incr.Val()
	remaining := ttl.Val()
	if remaining <= 0 {
		// New key (or one left without expiry): start the window now.
		if err := s.rdb.PExpire(ctx, k, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("ratelimit: redis pexpire: %w", err)
		}
		remaining = window
	}
	return count, time.Now().Add(remaining), nil
}
