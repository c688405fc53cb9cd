package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript prunes, counts and conditionally appends in one atomic step.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = ARGV[1]
	local window_start = ARGV[2]
	local limit = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])
	local member = ARGV[5]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. window_start)

	local current = redis.call('ZCARD', key)
	if current < limit then
		redis.call('ZADD', key, now, member)
		redis.call('EXPIRE', key, ttl)
		return 1
	end
	return 0
`)

// Redis is a sliding-window limiter shared by every instance pointing at the
// same Redis. Use it when the API runs with more than one replica.
type Redis struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedis(ctx context.Context, redisURL string) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisWithClient(client), nil
}

func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: "ratelimit:", now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (r *Redis) WithClock(now func() time.Time) *Redis {
	r.now = now
	return r
}

func (r *Redis) Allow(ctx context.Context, key string, maxEvents int, window time.Duration) (bool, error) {
	now := r.now()
	windowStart := now.Add(-window)
	ttl := int64(math.Ceil(window.Seconds()))
	if ttl < 1 {
		ttl = 1
	}

	res, err := slidingWindowScript.Run(ctx, r.client, []string{r.prefix + key},
		now.UnixNano(), windowStart.UnixNano(), maxEvents, ttl, ulid.Make().String(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}
	return res == 1, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
