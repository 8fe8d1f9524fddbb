package ratelimiter

import (
	"context"
	"sync"
	"time"
)

// MemoryCounterStore is an in-process CounterStore.
//
// Suitable for single-instance deployments and tests. Counters for expired
// windows are reset lazily on the next increment and pruned opportunistically
// so long-idle keys do not accumulate.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]*windowCounter

	// now is injectable for tests.
	now func() time.Time
}

type windowCounter struct {
	count   int64
	resetAt time.Time
}

// NewMemoryCounterStore creates an empty in-memory counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		counters: make(map[string]*windowCounter),
		now:      time.Now,
	}
}

// Incr atomically increments the counter for key within its current fixed
// window. The window starts at the first call for the key and resets once
// it elapses.
func (s *MemoryCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return 0, time.Time{}, err
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[key]
	if !ok || !now.Before(counter.resetAt) {
		counter = &windowCounter{resetAt: now.Add(window)}
		s.counters[key] = counter
	}
	counter.count++

	// Cheap opportunistic prune: drop one expired stranger per call.
	for k, c := range s.counters {
		if k != key && !now.Before(c.resetAt) {
			delete(s.counters, k)
			break
		}
	}

	return counter.count, counter.resetAt, nil
}
