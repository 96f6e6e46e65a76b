package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowLua implements one atomic sliding-window check over a sorted
// set of millisecond timestamps. ARGV[4] selects between a mutating check
// (1) and a read-only status probe (0).
const slidingWindowLua = `
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local mutate = tonumber(ARGV[4])

redis.call("ZREMRANGEBYSCORE", key, 0, now_ms - window_ms)
local count = redis.call("ZCARD", key)

local allowed = 0
local retry_ms = 0
local oldest = now_ms

if count < max then
  allowed = 1
  if mutate == 1 then
    local seq = redis.call("INCR", key .. ":seq")
    redis.call("ZADD", key, now_ms, now_ms .. "-" .. seq)
    redis.call("PEXPIRE", key .. ":seq", window_ms)
    count = count + 1
  end
end

local first = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
if first[2] then
  oldest = tonumber(first[2])
end
if allowed == 0 then
  retry_ms = window_ms - (now_ms - oldest)
end

redis.call("PEXPIRE", key, window_ms)
return {allowed, count, retry_ms, oldest}
`

// RedisStore is a Store backed by Redis, for deployments where several
// instances must share one request history. Pruning, counting and
// admission happen inside a single Lua script so the per-key critical
// section holds across processes.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

// RedisOption customizes a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisClock injects the time source.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) { s.now = now }
}

// NewRedisStore wraps an existing client. All keys are namespaced under
// prefix to keep Clear scoped to this store.
func NewRedisStore(rdb *redis.Client, prefix string, opts ...RedisOption) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	s := &RedisStore{rdb: rdb, prefix: prefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check implements Store.
func (s *RedisStore) Check(ctx context.Context, key string, cfg Config) (Result, error) {
	return s.eval(ctx, key, cfg, true)
}

// Status implements Store.
func (s *RedisStore) Status(ctx context.Context, key string, cfg Config) (Result, error) {
	return s.eval(ctx, key, cfg, false)
}

// Clear implements Store. It removes only keys under this store's prefix.
func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.rdb.Scan(ctx, 0, s.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete rate limit key: %w", err)
		}
	}
	return iter.Err()
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) eval(ctx context.Context, key string, cfg Config, mutate bool) (Result, error) {
	nowMs := s.now().UnixMilli()
	mutateArg := 0
	if mutate {
		mutateArg = 1
	}

	res, err := s.rdb.Eval(ctx, slidingWindowLua,
		[]string{s.prefix + ":" + key},
		nowMs, cfg.Window.Milliseconds(), cfg.Max, mutateArg,
	).Result()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit script failed: %w", err)
	}

	arr, ok := res.([]any)
	if !ok || len(arr) != 4 {
		return Result{}, fmt.Errorf("rate limit script returned unexpected shape %T", res)
	}

	allowed := asInt(arr[0]) == 1
	count := int(asInt(arr[1]))
	retryMs := asInt(arr[2])
	oldestMs := asInt(arr[3])

	r := Result{
		Allowed: allowed,
		ResetAt: time.UnixMilli(oldestMs).Add(cfg.Window),
	}
	if allowed {
		r.Remaining = cfg.Max - count
		if r.Remaining < 0 {
			r.Remaining = 0
		}
	} else {
		r.RetryAfter = time.Duration(retryMs) * time.Millisecond
	}
	return r, nil
}

func asInt(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}
