package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/ratelimit"
	"github.com/stretchr/testify/assert"
)

// memStore mirrors the Redis window semantics in memory: trim entries older
// than the window, record the event, return the count including it. When a
// clock is set it overrides the caller's notion of now, so tests can move
// time forward without sleeping.
type memStore struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	clock   func() time.Time
	err     error
	calls   map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		entries: make(map[string][]time.Time),
		calls:   make(map[string]int),
	}
}

func (m *memStore) RecordAndCount(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[key]++

	if m.err != nil {
		return 0, m.err
	}

	if m.clock != nil {
		now = m.clock()
	}

	cutoff := now.Add(-window)
	kept := m.entries[key][:0]
	for _, ts := range m.entries[key] {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	m.entries[key] = kept

	return int64(len(kept)), nil
}

func TestSlidingWindowLimiter_AdmitsUpToLimit(t *testing.T) {
	store := newMemStore()
	limiter, err := ratelimit.NewSlidingWindowLimiter(store, "rate:ip:", 3, time.Minute)
	assert.NoError(t, err)

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision, err := limiter.Check(ctx, "203.0.113.7")
		assert.NoError(t, err)
		assert.True(t, decision.Admitted, "request %d should be admitted", i+1)
		assert.Equal(t, int64(i+1), decision.CurrentCount)
		assert.Equal(t, 0, decision.RetryAfterSeconds)
	}

	decision, err := limiter.Check(ctx, "203.0.113.7")
	assert.NoError(t, err)
	assert.False(t, decision.Admitted, "request over the limit should be rejected")
	assert.Equal(t, int64(4), decision.CurrentCount)
	assert.Equal(t, 60, decision.RetryAfterSeconds)
}

func TestSlidingWindowLimiter_RejectedRequestsStillConsumeSlots(t *testing.T) {
	store := newMemStore()
	limiter, err := ratelimit.NewSlidingWindowLimiter(store, "rate:ip:", 1, time.Minute)
	assert.NoError(t, err)

	ctx := context.Background()

	limiter.Check(ctx, "198.51.100.1")
	for i := 0; i < 3; i++ {
		decision, err := limiter.Check(ctx, "198.51.100.1")
		assert.NoError(t, err)
		assert.False(t, decision.Admitted)
		// Count keeps growing: probing the boundary is never free
		assert.Equal(t, int64(i+2), decision.CurrentCount)
	}
}

func TestSlidingWindowLimiter_WindowExpiry(t *testing.T) {
	store := newMemStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.clock = func() time.Time { return now }

	limiter, err := ratelimit.NewSlidingWindowLimiter(store, "rate:ip:", 2, time.Minute)
	assert.NoError(t, err)

	ctx := context.Background()

	limiter.Check(ctx, "203.0.113.7")
	limiter.Check(ctx, "203.0.113.7")

	decision, _ := limiter.Check(ctx, "203.0.113.7")
	assert.False(t, decision.Admitted)

	// Just past the window, the old entries no longer count
	now = now.Add(61 * time.Second)

	decision, err = limiter.Check(ctx, "203.0.113.7")
	assert.NoError(t, err)
	assert.True(t, decision.Admitted)
	assert.Equal(t, int64(1), decision.CurrentCount)
}

func TestSlidingWindowLimiter_SubjectsAreIndependent(t *testing.T) {
	store := newMemStore()
	limiter, err := ratelimit.NewSlidingWindowLimiter(store, "rate:ip:", 1, time.Minute)
	assert.NoError(t, err)

	ctx := context.Background()

	first, _ := limiter.Check(ctx, "203.0.113.7")
	second, _ := limiter.Check(ctx, "203.0.113.8")

	assert.True(t, first.Admitted)
	assert.True(t, second.Admitted)
}

func TestSlidingWindowLimiter_ZeroLimitIsPureCounter(t *testing.T) {
	store := newMemStore()
	counter, err := ratelimit.NewSlidingWindowLimiter(store, "suspicious:401:", 0, 5*time.Minute)
	assert.NoError(t, err)

	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		decision, err := counter.Check(ctx, "203.0.113.7")
		assert.NoError(t, err)
		assert.False(t, decision.Admitted)
		assert.Equal(t, int64(i), decision.CurrentCount)
	}
}

func TestSlidingWindowLimiter_StoreErrorPropagates(t *testing.T) {
	store := newMemStore()
	store.err = context.DeadlineExceeded

	limiter, err := ratelimit.NewSlidingWindowLimiter(store, "rate:ip:", 5, time.Minute)
	assert.NoError(t, err)

	_, err = limiter.Check(context.Background(), "203.0.113.7")
	assert.Error(t, err)
}

func TestNewSlidingWindowLimiter_Validation(t *testing.T) {
	store := newMemStore()

	_, err := ratelimit.NewSlidingWindowLimiter(nil, "rate:ip:", 5, time.Minute)
	assert.Error(t, err)

	_, err = ratelimit.NewSlidingWindowLimiter(store, "rate:ip:", -1, time.Minute)
	assert.Error(t, err)

	_, err = ratelimit.NewSlidingWindowLimiter(store, "rate:ip:", 5, 0)
	assert.Error(t, err)
}

func TestSlidingWindowLimiter_ConcurrentAdmissions(t *testing.T) {
	store := newMemStore()
	limiter, err := ratelimit.NewSlidingWindowLimiter(store, "rate:ip:", 10, time.Minute)
	assert.NoError(t, err)

	const requests = 50
	results := make(chan bool, requests)

	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := limiter.Check(context.Background(), "203.0.113.7")
			if err != nil {
				t.Error(err)
				return
			}
			results <- decision.Admitted
		}()
	}
	wg.Wait()
	close(results)

	admitted := 0
	for ok := range results {
		if ok {
			admitted++
		}
	}

	// Exactly limit admissions, no double-counting or under-counting
	assert.Equal(t, 10, admitted)
}
