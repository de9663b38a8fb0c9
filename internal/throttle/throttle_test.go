package throttle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gatekeeper/internal/auth"
)

// fakeClock is a manually advanced clock shared between components.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
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

// storeFactories runs a test against every backend.
func storeFactories(t *testing.T) map[string]func() Store {
	t.Helper()
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"redis":  func() Store { return newMiniredisStore(t) },
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "alice@example.com:10.0.0.1", Key("  Alice@Example.com ", "10.0.0.1"))
	assert.Equal(t, "bob@example.com:unknown-ip", Key("bob@example.com", ""))
}

func TestThrottle_BlocksAtMaxAttempts(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			th := New(factory(), WithClock(clock.Now))
			key := Key("alice@example.com", "10.0.0.1")

			for i := 1; i < DefaultMaxAttempts; i++ {
				require.NoError(t, th.EnsureNotBlocked(ctx, key))
				blocked, err := th.RegisterFailure(ctx, key)
				require.NoError(t, err)
				assert.False(t, blocked, "attempt %d should not block", i)
			}

			blocked, err := th.RegisterFailure(ctx, key)
			require.NoError(t, err)
			assert.True(t, blocked, "attempt %d should block", DefaultMaxAttempts)

			err = th.EnsureNotBlocked(ctx, key)
			require.ErrorIs(t, err, auth.ErrTooManyAttempts)
			e, ok := auth.AsError(err)
			require.True(t, ok)
			assert.Equal(t, int(DefaultBlock.Seconds()), e.RetryAfter)

			clock.Advance(DefaultBlock - 90*time.Second + 500*time.Millisecond)
			e, _ = auth.AsError(th.EnsureNotBlocked(ctx, key))
			require.NotNil(t, e)
			assert.Equal(t, 90, e.RetryAfter, "remaining seconds round up")

			clock.Advance(90 * time.Second)
			assert.NoError(t, th.EnsureNotBlocked(ctx, key), "block lifts after its duration")
		})
	}
}

func TestThrottle_WindowElapsesStartsFresh(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			th := New(factory(), WithClock(clock.Now))
			key := Key("alice@example.com", "10.0.0.1")

			for range DefaultMaxAttempts - 1 {
				_, err := th.RegisterFailure(ctx, key)
				require.NoError(t, err)
			}

			clock.Advance(DefaultWindow + time.Second)

			// The old count is discarded, so this is failure #1 of a new window.
			blocked, err := th.RegisterFailure(ctx, key)
			require.NoError(t, err)
			assert.False(t, blocked)
			assert.NoError(t, th.EnsureNotBlocked(ctx, key))
		})
	}
}

func TestThrottle_Reset(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			th := New(factory())
			key := Key("alice@example.com", "10.0.0.1")

			for range DefaultMaxAttempts {
				_, err := th.RegisterFailure(ctx, key)
				require.NoError(t, err)
			}
			require.Error(t, th.EnsureNotBlocked(ctx, key))

			require.NoError(t, th.Reset(ctx, key))
			assert.NoError(t, th.EnsureNotBlocked(ctx, key))

			// Resetting an unknown key is harmless.
			assert.NoError(t, th.Reset(ctx, Key("nobody@example.com", "")))
		})
	}
}

func TestThrottle_OriginsAreIndependent(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			th := New(factory())
			first := Key("alice@example.com", "10.0.0.1")
			second := Key("alice@example.com", "10.0.0.2")

			for range DefaultMaxAttempts {
				_, err := th.RegisterFailure(ctx, first)
				require.NoError(t, err)
			}

			assert.Error(t, th.EnsureNotBlocked(ctx, first))
			assert.NoError(t, th.EnsureNotBlocked(ctx, second))
		})
	}
}

func TestThrottle_ConcurrentFailuresAreNotLost(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory()
			th := New(store, WithPolicy(Policy{MaxAttempts: 1000, Window: time.Hour, Block: time.Minute}))
			key := Key("alice@example.com", "10.0.0.1")

			var wg sync.WaitGroup
			for range 20 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := th.RegisterFailure(ctx, key)
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			rec, ok, err := store.Get(ctx, key)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, 20, rec.Count)
		})
	}
}

func TestMemoryStore_Cleanup(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore()
	th := New(store, WithClock(clock.Now))

	_, err := th.RegisterFailure(ctx, "stale")
	require.NoError(t, err)
	for range DefaultMaxAttempts {
		_, err = th.RegisterFailure(ctx, "blocked")
		require.NoError(t, err)
	}

	clock.Advance(DefaultWindow + time.Second)
	removed := store.Cleanup(clock.Now(), DefaultPolicy)
	assert.Equal(t, 1, removed, "only the unblocked, elapsed record is dropped")
	assert.Equal(t, 1, store.Len())

	clock.Advance(DefaultBlock)
	store.Cleanup(clock.Now(), DefaultPolicy)
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_RunStopsOnCancel(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		store.Run(ctx, 5*time.Millisecond, DefaultPolicy)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
