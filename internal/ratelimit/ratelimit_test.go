package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestSlidingWindow_DeniesOverCapThenRecovers(t *testing.T) {
	clock := newClock()
	l := NewSlidingWindow().WithClock(clock.Now)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "upload:1.2.3.4", 2, 60*time.Second)
		require.NoError(t, err)
		assert.True(t, ok, "call %d", i+1)
		clock.Advance(time.Second)
	}

	ok, err := l.Allow(ctx, "upload:1.2.3.4", 2, 60*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "third call inside the window must be denied")

	clock.Advance(61 * time.Second)
	ok, err = l.Allow(ctx, "upload:1.2.3.4", 2, 60*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "call after the window elapsed must be allowed")
}

func TestSlidingWindow_KeysAreIndependent(t *testing.T) {
	l := NewSlidingWindow().WithClock(newClock().Now)
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "a", 1, time.Minute)
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "a", 1, time.Minute)
	assert.False(t, ok)
	ok, _ = l.Allow(ctx, "b", 1, time.Minute)
	assert.True(t, ok)
}

func TestSlidingWindow_ConcurrentCallsNeverExceedCap(t *testing.T) {
	l := NewSlidingWindow().WithClock(newClock().Now)
	ctx := context.Background()

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow(ctx, "hot", 25, time.Minute); ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(25), admitted.Load())
}

func TestSlidingWindow_DropsIdleKeys(t *testing.T) {
	clock := newClock()
	l := NewSlidingWindow().WithClock(clock.Now)
	ctx := context.Background()

	_, _ = l.Allow(ctx, "k", 0, time.Minute)
	l.mu.Lock()
	_, present := l.events["k"]
	l.mu.Unlock()
	assert.False(t, present)
}

func TestNoOp(t *testing.T) {
	for i := 0; i < 10; i++ {
		ok, err := NoOp{}.Allow(context.Background(), "", 0, 0)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedis_DeniesOverCapThenRecovers(t *testing.T) {
	_, client := setupTestRedis(t)
	clock := newClock()
	l := NewRedisWithClient(client).WithClock(clock.Now)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "faxjob:ip:10.0.0.1", 2, 60*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
		clock.Advance(time.Second)
	}
	ok, err := l.Allow(ctx, "faxjob:ip:10.0.0.1", 2, 60*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(61 * time.Second)
	ok, err = l.Allow(ctx, "faxjob:ip:10.0.0.1", 2, 60*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedis_SetsExpiry(t *testing.T) {
	mr, client := setupTestRedis(t)
	l := NewRedisWithClient(client).WithClock(newClock().Now)

	ok, err := l.Allow(context.Background(), "k", 5, 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, mr.TTL("ratelimit:k"))
}

func TestNewRedis_InvalidURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "not-a-valid-url")
	assert.Error(t, err)
}
