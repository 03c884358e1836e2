package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradeflow-systems/signal-gateway/internal/metrics"
)

// admitScript counts the attempt and reports the window's remaining
// lifetime atomically. The expiry is set only when the key is created so
// the window boundary stays fixed.
const admitScript = `
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	local ttl = redis.call('PTTL', KEYS[1])
	return {count, ttl}
`

// RedisLimiter is a fixed-window limiter sharing counters across gateway
// instances through Redis.
type RedisLimiter struct {
	client   *redis.Client
	limit    int64
	interval time.Duration
}

// NewRedisLimiter connects to Redis and verifies the connection.
func NewRedisLimiter(redisURL string, limit int, interval time.Duration) (*RedisLimiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisLimiterWithClient(client, limit, interval), nil
}

// NewRedisLimiterWithClient wraps an existing client, for tests and
// shared pools.
func NewRedisLimiterWithClient(client *redis.Client, limit int, interval time.Duration) *RedisLimiter {
	if interval <= 0 {
		interval = time.Second
	}
	return &RedisLimiter{client: client, limit: int64(limit), interval: interval}
}

// Admit implements Limiter.
func (r *RedisLimiter) Admit(ctx context.Context, source string, now time.Time) (Decision, error) {
	res, err := r.client.Eval(ctx, admitScript,
		[]string{"ratelimit:" + source}, r.interval.Milliseconds()).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit check: unexpected reply %v", res)
	}

	count, _ := res[0].(int64)
	ttlMillis, _ := res[1].(int64)

	if count > r.limit {
		metrics.RateLimitHits.WithLabelValues(source).Inc()
		return Decision{
			Allowed:    false,
			RetryAfter: retryAfter(time.Duration(ttlMillis) * time.Millisecond),
		}, nil
	}

	return Decision{Allowed: true}, nil
}

// Close implements Limiter.
func (r *RedisLimiter) Close() error {
	return r.client.Close()
}
