package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// fixedWindowScript applies one request to a fixed window stored as a hash.
// It returns {allowed, count, reset_at_ms}.
var fixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

local entry = redis.call('HMGET', key, 'count', 'reset_at')
local count = tonumber(entry[1])
local reset_at = tonumber(entry[2])

if count == nil or reset_at == nil or now >= reset_at then
    count = 1
    reset_at = now + window
    redis.call('HSET', key, 'count', count, 'reset_at', reset_at)
    redis.call('PEXPIRE', key, window)
    return {1, count, reset_at}
end

if count < max then
    count = redis.call('HINCRBY', key, 'count', 1)
    return {1, count, reset_at}
end

return {0, count, reset_at}
`)

// RedisStore keeps windows in Redis so several relay processes share one
// budget per fingerprint. Keys expire with their window, so Sweep has
// nothing to do.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client. Keys are namespaced by prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// DialRedis connects to the Redis server at url and verifies it answers.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisStore) Take(ctx context.Context, key string, now time.Time, window time.Duration, max int) (Entry, bool, error) {
	res, err := fixedWindowScript.Run(ctx, s.client, []string{s.prefix + key},
		now.UnixMilli(), window.Milliseconds(), max).Int64Slice()
	if err != nil {
		return Entry{}, false, fmt.Errorf("run fixed window script: %w", err)
	}
	if len(res) != 3 {
		return Entry{}, false, fmt.Errorf("fixed window script returned %d values", len(res))
	}

	return Entry{Count: int(res[1]), ResetAt: time.UnixMilli(res[2])}, res[0] == 1, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	vals, err := s.client.HMGet(ctx, s.prefix+key, "count", "reset_at").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("read window: %w", err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return Entry{}, false, nil
	}

	count, err := strconv.Atoi(fmt.Sprint(vals[0]))
	if err != nil {
		return Entry{}, false, fmt.Errorf("parse count: %w", err)
	}
	resetAt, err := strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64)
	if err != nil {
		return Entry{}, false, fmt.Errorf("parse reset_at: %w", err)
	}
	return Entry{Count: count, ResetAt: time.UnixMilli(resetAt)}, true, nil
}

func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
