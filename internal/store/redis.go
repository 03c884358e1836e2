package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// checkAndInsertScript performs the atomic check-and-set server side so
// two gateway instances racing on the same key cannot both insert.
// Returns {1, ""} on insert, {0, existing} when the key is already held.
const checkAndInsertScript = `
	local existing = redis.call('GET', KEYS[1])
	if existing then
		return {0, existing}
	end
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	return {1, ''}
`

// Redis is a KV implementation backed by a shared Redis instance. This is
// the backend to use when more than one gateway instance shares nonce and
// idempotency state.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to Redis and verifies the connection before returning.
func NewRedis(redisURL, prefix string) (*Redis, error) {
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

	return &Redis{client: client, prefix: prefix}, nil
}

// NewRedisWithClient wraps an existing client, for tests and shared pools.
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// CheckAndInsert implements KV.
func (r *Redis) CheckAndInsert(ctx context.Context, key string, value []byte, ttl time.Duration) ([]byte, bool, error) {
	res, err := r.client.Eval(ctx, checkAndInsertScript,
		[]string{r.prefix + key}, value, ttl.Milliseconds()).Slice()
	if err != nil {
		return nil, false, fmt.Errorf("check-and-insert failed: %w", err)
	}
	if len(res) != 2 {
		return nil, false, fmt.Errorf("check-and-insert: unexpected reply %v", res)
	}

	inserted, ok := res[0].(int64)
	if !ok {
		return nil, false, fmt.Errorf("check-and-insert: unexpected flag %T", res[0])
	}
	if inserted == 1 {
		return nil, true, nil
	}

	existing, _ := res[1].(string)
	return []byte(existing), false, nil
}

// Get implements KV.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get failed: %w", err)
	}
	return value, true, nil
}

// Delete implements KV.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	return nil
}

// Close implements KV.
func (r *Redis) Close() error {
	return r.client.Close()
}
