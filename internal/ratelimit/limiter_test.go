package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sportsgpt/chat-relay/pkg/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, clock *fakeClock, opts ...Option) *Limiter {
	t.Helper()
	opts = append([]Option{
		WithClock(clock.Now),
		WithLogger(logger.FromZap(zaptest.NewLogger(t))),
	}, opts...)
	return New(10, 60*time.Second, opts...)
}

func storesUnderTest(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"redis": func() Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			return NewRedisStore(client, "")
		},
	}
}

func TestLimiterFixedWindow(t *testing.T) {
	for name, newStore := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			l := newTestLimiter(t, clock, WithStore(newStore()))
			defer l.Close()

			for i := 1; i <= 10; i++ {
				require.True(t, l.Allow(ctx, "fp"), "call %d", i)
				clock.Advance(time.Second)
			}
			assert.Equal(t, 0, l.Remaining(ctx, "fp"))

			assert.False(t, l.Allow(ctx, "fp"), "11th call")
			assert.False(t, l.Allow(ctx, "fp"), "denied calls keep being denied")
			assert.Equal(t, 50, l.ResetSeconds(ctx, "fp"))

			clock.Advance(50 * time.Second)
			assert.Equal(t, 0, l.ResetSeconds(ctx, "fp"))
			assert.Equal(t, 10, l.Remaining(ctx, "fp"))

			assert.True(t, l.Allow(ctx, "fp"), "12th call after the window")
			assert.Equal(t, 9, l.Remaining(ctx, "fp"))
			assert.Equal(t, 60, l.ResetSeconds(ctx, "fp"))
		})
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t, newFakeClock())

	for i := 0; i < 10; i++ {
		require.True(t, l.Allow(ctx, "a"))
	}
	assert.False(t, l.Allow(ctx, "a"))
	assert.True(t, l.Allow(ctx, "b"))
	assert.Equal(t, 9, l.Remaining(ctx, "b"))
}

func TestLimiterUnknownKey(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t, newFakeClock())

	assert.Equal(t, 10, l.Remaining(ctx, "nobody"))
	assert.Equal(t, 0, l.ResetSeconds(ctx, "nobody"))
}

func TestLimiterResetSecondsRoundsUp(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l := newTestLimiter(t, clock)

	require.True(t, l.Allow(ctx, "fp"))
	clock.Advance(59*time.Second + 100*time.Millisecond)
	assert.Equal(t, 1, l.ResetSeconds(ctx, "fp"))
}

func TestLimiterSweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore()
	l := newTestLimiter(t, clock, WithStore(store))

	require.True(t, l.Allow(ctx, "old"))
	clock.Advance(30 * time.Second)
	require.True(t, l.Allow(ctx, "new"))
	assert.Equal(t, 2, store.Len())

	clock.Advance(30 * time.Second)
	assert.Equal(t, 1, l.Sweep(ctx))
	assert.Equal(t, 1, store.Len())

	_, ok, err := store.Get(ctx, "new")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLimiterRunStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := newTestLimiter(t, newFakeClock())

	done := make(chan struct{})
	go func() {
		l.Run(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type brokenStore struct{}

var errRefused = errors.New("connection refused")

func (*brokenStore) Take(context.Context, string, time.Time, time.Duration, int) (Entry, bool, error) {
	return Entry{}, false, errRefused
}

func (*brokenStore) Get(context.Context, string) (Entry, bool, error) {
	return Entry{}, false, errRefused
}

func (*brokenStore) Sweep(context.Context, time.Time) (int, error) { return 0, errRefused }

func (*brokenStore) Close() error { return nil }

func TestLimiterFailsOpen(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t, newFakeClock(), WithStore(&brokenStore{}))

	for i := 0; i < 20; i++ {
		assert.True(t, l.Allow(ctx, "fp"))
	}
	assert.Equal(t, 10, l.Remaining(ctx, "fp"))
	assert.Equal(t, 0, l.ResetSeconds(ctx, "fp"))
}

func TestLimiterConcurrentAllow(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t, newFakeClock())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow(ctx, "fp") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, allowed)
}

func TestRedisStoreExpiresKeys(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	store := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:")
	defer store.Close()

	now := time.Now()
	entry, allowed, err := store.Take(ctx, "fp", now, time.Minute, 10)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 1, entry.Count)
	assert.Equal(t, now.Add(time.Minute).UnixMilli(), entry.ResetAt.UnixMilli())
	assert.True(t, mr.Exists("test:fp"))

	mr.FastForward(time.Minute)
	assert.False(t, mr.Exists("test:fp"))

	_, ok, err := store.Get(ctx, "fp")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := DialRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = DialRedis(context.Background(), "not a url")
	assert.Error(t, err)
}
