package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisWithClient(client, "test:"), mr
}

func TestRedisCheckAndInsert(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	existing, inserted, err := r.CheckAndInsert(ctx, "k1", []byte("v1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Nil(t, existing)

	existing, inserted, err = r.CheckAndInsert(ctx, "k1", []byte("v2"), time.Minute)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, []byte("v1"), existing)
}

func TestRedisCheckAndInsertAfterExpiry(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	_, inserted, err := r.CheckAndInsert(ctx, "k1", []byte("v1"), time.Minute)
	require.NoError(t, err)
	require.True(t, inserted)

	mr.FastForward(2 * time.Minute)

	_, inserted, err = r.CheckAndInsert(ctx, "k1", []byte("v2"), time.Minute)
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestRedisGet(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	_, _, err := r.CheckAndInsert(ctx, "k1", []byte("v1"), time.Minute)
	require.NoError(t, err)

	value, found, err := r.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v1"), value)

	_, found, err = r.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisDelete(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	_, _, err := r.CheckAndInsert(ctx, "k1", []byte("v1"), time.Minute)
	require.NoError(t, err)

	require.NoError(t, r.Delete(ctx, "k1"))

	_, found, err := r.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisPrefixIsolation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	a := NewRedisWithClient(client, "a:")
	b := NewRedisWithClient(client, "b:")
	ctx := context.Background()

	_, _, err := a.CheckAndInsert(ctx, "k1", []byte("v1"), time.Minute)
	require.NoError(t, err)

	_, found, err := b.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, found, "prefixes must namespace keys")
}
