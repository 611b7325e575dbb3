package kv

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs only against a real server: SHIELD_TEST_REDIS_ADDR=localhost:6379 go test ./internal/kv
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("SHIELD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SHIELD_TEST_REDIS_ADDR not set")
	}
	client, err := DialRedis(context.Background(), addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "shieldtest:"+uuid.NewString()+":")
}

func TestRedisStore_Window(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()
	base := time.Now()

	n, err := s.Window(ctx, "ip", "a", base, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, _ = s.Window(ctx, "ip", "b", base.Add(30*time.Second), time.Minute)
	assert.Equal(t, 2, n)
	n, _ = s.Window(ctx, "ip", "c", base.Add(60*time.Second), time.Minute)
	assert.Equal(t, 2, n)
}

func TestRedisStore_CompareAndSwap(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	ok, err := s.CompareAndSwap(ctx, "rep", 0, []byte(`{"score":50}`))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CompareAndSwap(ctx, "rep", 0, []byte(`{"score":40}`))
	require.NoError(t, err)
	assert.False(t, ok)

	item, err := s.Load(ctx, "rep")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), item.Version)
	assert.JSONEq(t, `{"score":50}`, string(item.Value))
}

func TestRedisStore_Increment(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()
	n, err := s.Increment(ctx, "ctr", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
