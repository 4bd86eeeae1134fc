package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Decision is the outcome of a single admission check. Computed fresh on
// every check, never persisted.
type Decision struct {
	Admitted          bool
	CurrentCount      int64
	Limit             int
	RetryAfterSeconds int
	Tier              string
	Degraded          bool
}

// SlidingWindowLimiter answers whether a subject is over its limit in the
// trailing window. A limit of zero turns it into a pure counter: every check
// reports rejected and callers consult CurrentCount only.
type SlidingWindowLimiter struct {
	store  Store
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewSlidingWindowLimiter(store Store, prefix string, limit int, window time.Duration) (*SlidingWindowLimiter, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if limit < 0 {
		return nil, fmt.Errorf("limit must not be negative, got %d", limit)
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %v", window)
	}

	return &SlidingWindowLimiter{
		store:  store,
		prefix: prefix,
		limit:  limit,
		window: window,
		now:    time.Now,
	}, nil
}

// Records one event for the subject and decides admission. The event counts
// whether or not the request is admitted: a rejected client still consumes a
// slot, so probing the boundary is never free and the counter tracks request
// volume, not admitted volume.
func (s *SlidingWindowLimiter) Check(ctx context.Context, subject string) (Decision, error) {
	count, err := s.store.RecordAndCount(ctx, s.prefix+subject, s.now(), s.window)
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{
		// Limit is inclusive: at most limit events per window
		Admitted:     count <= int64(s.limit),
		CurrentCount: count,
		Limit:        s.limit,
	}

	if !decision.Admitted {
		// Conservative upper bound; the exact time to the next free slot
		// would cost a second round trip
		decision.RetryAfterSeconds = int(s.window.Seconds())
	}

	return decision, nil
}

func (s *SlidingWindowLimiter) Limit() int {
	return s.limit
}

func (s *SlidingWindowLimiter) Window() time.Duration {
	return s.window
}
