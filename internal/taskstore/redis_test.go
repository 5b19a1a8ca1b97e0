package taskstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, ttl), mr
}

func TestRedisStoreSingleConsumption(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t, time.Minute)

	_, ok, err := store.TakeIfTerminal(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetTerminal(ctx, Failed("t1", errors.New("no face detected"), time.Now().UTC())))
	assert.ErrorIs(t, store.SetTerminal(ctx, Completed("t1", "x", time.Now())), ErrAlreadyTerminal)

	got, ok, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, got.Status)

	got, ok, err = store.TakeIfTerminal(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "no face detected", got.Error)

	_, ok, err = store.TakeIfTerminal(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreExpiresUnpolledResults(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t, 10*time.Minute)

	require.NoError(t, store.SetTerminal(ctx, Completed("t2", "https://cdn/x.png", time.Now())))
	assert.Equal(t, 10*time.Minute, mr.TTL(redisKey("t2")))

	mr.FastForward(11 * time.Minute)
	_, ok, err := store.TakeIfTerminal(ctx, "t2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreRejectsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t, time.Minute)
	require.NoError(t, mr.Set(redisKey("t3"), "{not json"))

	_, _, err := store.TakeIfTerminal(ctx, "t3")
	assert.Error(t, err)
}

func TestRedisStoreSurfacesConnectionErrors(t *testing.T) {
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client, time.Minute)

	_, _, err := store.TakeIfTerminal(ctx, "t4")
	assert.Error(t, err)
	assert.Error(t, store.SetTerminal(ctx, Completed("t4", "x", time.Now())))
}
