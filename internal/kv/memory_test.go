package kv

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_WindowSlides(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	n, err := s.Window(ctx, "k", "a", base, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, _ = s.Window(ctx, "k", "b", base.Add(30*time.Second), time.Minute)
	assert.Equal(t, 2, n)

	// exactly one window after "a": a falls out, b stays
	n, _ = s.Window(ctx, "k", "c", base.Add(60*time.Second), time.Minute)
	assert.Equal(t, 2, n)

	n, _ = s.Window(ctx, "k", "d", base.Add(91*time.Second), time.Minute)
	assert.Equal(t, 2, n)
}

func TestMemoryStore_WindowCountsDistinctMembers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	for i := 0; i < 5; i++ {
		n, err := s.Window(ctx, "user", "orders/1", now.Add(time.Duration(i)*time.Second), 5*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
	n, _ := s.Window(ctx, "user", "orders/2", now.Add(10*time.Second), 5*time.Minute)
	assert.Equal(t, 2, n)
}

func TestMemoryStore_ConcurrentWindowNoLostUpdates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.Window(ctx, "ip", fmt.Sprintf("ev-%d", i), now, time.Minute)
		}(i)
	}
	wg.Wait()

	n, err := s.Window(ctx, "ip", "last", now, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 201, n)
}

func TestMemoryStore_CompareAndSwap(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	item, err := s.Load(ctx, "rep")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), item.Version)

	ok, err := s.CompareAndSwap(ctx, "rep", 0, []byte("50"))
	require.NoError(t, err)
	assert.True(t, ok)

	// stale version loses
	ok, err = s.CompareAndSwap(ctx, "rep", 0, []byte("40"))
	require.NoError(t, err)
	assert.False(t, ok)

	item, _ = s.Load(ctx, "rep")
	assert.Equal(t, uint64(1), item.Version)
	assert.Equal(t, "50", string(item.Value))
}

func TestMemoryStore_ConcurrentIncrement(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Increment(ctx, "rule:1", 1)
		}()
	}
	wg.Wait()
	n, err := s.Increment(ctx, "rule:1", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)
}

func TestMemoryStore_Sweep(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)

	_, _ = s.Window(ctx, "stale", "x", old, time.Minute)
	_, _ = s.Window(ctx, "fresh", "x", time.Now(), time.Minute)
	_, _ = s.CompareAndSwap(ctx, "value", 0, []byte("v"))

	removed := s.Sweep(time.Now())
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, s.Len())

	// a swept key is usable again
	n, err := s.Window(ctx, "stale", "y", time.Now(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Window(ctx, "k", "m", time.Now(), time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore_WindowFloodStaysLinear(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	const calls = 100_000

	start := time.Now()
	var n int
	for i := 0; i < calls; i++ {
		var err error
		n, err = s.Window(ctx, "rate:198.51.100.9", fmt.Sprintf("req-%d", i), base.Add(time.Duration(i)*time.Microsecond), time.Minute)
		require.NoError(t, err)
	}
	assert.Equal(t, calls, n)
	assert.Less(t, time.Since(start), 5*time.Second)

	// the whole flood expires at once and the log is released
	n, err := s.Window(ctx, "rate:198.51.100.9", "after", base.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	v, _ := s.entries.Load("rate:198.51.100.9")
	assert.Len(t, v.(*entry).log.queue, 1)
}

func TestMemoryStore_WindowOutOfOrderAndRerecorded(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	_, _ = s.Window(ctx, "k", "a", base.Add(10*time.Second), time.Minute)
	// an earlier timestamp still lands in order
	n, _ := s.Window(ctx, "k", "b", base, time.Minute)
	assert.Equal(t, 2, n)

	// re-recording "b" later keeps it alive past its first stamp
	_, _ = s.Window(ctx, "k", "b", base.Add(50*time.Second), time.Minute)
	n, _ = s.Window(ctx, "k", "c", base.Add(75*time.Second), time.Minute)
	assert.Equal(t, 2, n, "a expired, b refreshed, c added")

	n, _ = s.Window(ctx, "k", "d", base.Add(111*time.Second), time.Minute)
	assert.Equal(t, 2, n, "only c and d remain")
}
