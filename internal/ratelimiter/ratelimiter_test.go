package ratelimiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(store CounterStore, failOpen bool) *Limiter {
	return New(LimiterConfig{
		Store: store,
		Quotas: map[Class]Quota{
			ClassStorageOps: {Limit: 5, Window: time.Minute},
			ClassDownload:   {Limit: 2, Window: time.Minute},
		},
		FailOpen: failOpen,
	})
}

func TestTakeSequence(t *testing.T) {
	limiter := newTestLimiter(NewMemoryCounterStore(), true)
	ctx := context.Background()

	// limit=5: five takes succeed with strictly decreasing remaining.
	for i := 0; i < 5; i++ {
		d := limiter.Take(ctx, "alice", ClassStorageOps)
		require.True(t, d.Allowed, "take %d should be allowed", i+1)
		assert.Equal(t, 4-i, d.Remaining)
		assert.False(t, d.Degraded)
	}

	// The sixth is rejected with nothing left.
	d := limiter.Take(ctx, "alice", ClassStorageOps)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
}

func TestWindowReset(t *testing.T) {
	store := NewMemoryCounterStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	limiter := newTestLimiter(store, true)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		limiter.Take(ctx, "alice", ClassStorageOps)
	}
	assert.False(t, limiter.Take(ctx, "alice", ClassStorageOps).Allowed)

	// Once the window elapses the next take starts a fresh window.
	now = now.Add(61 * time.Second)
	d := limiter.Take(ctx, "alice", ClassStorageOps)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
}

func TestClassesAreIndependent(t *testing.T) {
	limiter := newTestLimiter(NewMemoryCounterStore(), true)
	ctx := context.Background()

	// Exhaust downloads; storage ops are untouched.
	limiter.Take(ctx, "alice", ClassDownload)
	limiter.Take(ctx, "alice", ClassDownload)
	assert.False(t, limiter.Take(ctx, "alice", ClassDownload).Allowed)

	d := limiter.Take(ctx, "alice", ClassStorageOps)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
}

func TestUsersAreIndependent(t *testing.T) {
	limiter := newTestLimiter(NewMemoryCounterStore(), true)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		limiter.Take(ctx, "alice", ClassStorageOps)
	}
	assert.False(t, limiter.Take(ctx, "alice", ClassStorageOps).Allowed)
	assert.True(t, limiter.Take(ctx, "bob", ClassStorageOps).Allowed)
}

func TestUnknownClassUnlimited(t *testing.T) {
	limiter := newTestLimiter(NewMemoryCounterStore(), true)

	for i := 0; i < 100; i++ {
		d := limiter.Take(context.Background(), "alice", Class("unconfigured"))
		require.True(t, d.Allowed)
	}
}

func TestNoDoubleSpendUnderConcurrency(t *testing.T) {
	limiter := New(LimiterConfig{
		Store:  NewMemoryCounterStore(),
		Quotas: map[Class]Quota{ClassStorageOps: {Limit: 10, Window: time.Minute}},
	})
	ctx := context.Background()

	const callers = 100
	var allowed int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if limiter.Take(ctx, "alice", ClassStorageOps).Allowed {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(10), allowed, "exactly limit successes within one window")
}

type failingCounterStore struct{ calls int64 }

func (s *failingCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	atomic.AddInt64(&s.calls, 1)
	return 0, time.Time{}, errors.New("counter store down")
}

func TestFailOpenPolicy(t *testing.T) {
	limiter := newTestLimiter(&failingCounterStore{}, true)

	d := limiter.Take(context.Background(), "alice", ClassStorageOps)
	assert.True(t, d.Allowed)
	assert.True(t, d.Degraded, "degraded decisions must be flagged for auditing")
}

func TestFailClosedPolicy(t *testing.T) {
	limiter := newTestLimiter(&failingCounterStore{}, false)

	d := limiter.Take(context.Background(), "alice", ClassStorageOps)
	assert.False(t, d.Allowed)
	assert.True(t, d.Degraded)
}

func BenchmarkTake(b *testing.B) {
	limiter := New(LimiterConfig{
		Store:  NewMemoryCounterStore(),
		Quotas: map[Class]Quota{ClassStorageOps: {Limit: 1 << 30, Window: time.Hour}},
	})
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		limiter.Take(ctx, "bench", ClassStorageOps)
	}
}
