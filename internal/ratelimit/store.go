package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Store records one event for a window key and returns how many events the
// trailing window now holds, including the one just recorded.
type Store interface {
	RecordAndCount(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error)
}

// WindowStore keeps per-subject sliding windows as Redis sorted sets. Every
// service instance shares the same sets, so the count it returns is exact
// across horizontally scaled replicas.
type WindowStore struct {
	redis   *storage.RedisClient
	timeout time.Duration
}

func NewWindowStore(redis *storage.RedisClient, timeout time.Duration) *WindowStore {
	return &WindowStore{
		redis:   redis,
		timeout: timeout,
	}
}

// Trims entries older than the window, records the current event, counts the
// remainder and refreshes the key TTL, all in one MULTI/EXEC batch so no
// other client's commands interleave between trim and count.
func (w *WindowStore) RecordAndCount(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	// The entry is spent the moment we decide to record it. A client that
	// disconnects mid-flight must not un-spend it, so the batch runs on its
	// own deadline, detached from the request context.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()

	nowMillis := now.UnixMilli()
	windowStart := nowMillis - window.Milliseconds()

	// Timestamp plus random suffix so two events in the same millisecond
	// stay distinct members
	member := fmt.Sprintf("%d-%s", nowMillis, uuid.NewString()[:8])

	pipe := w.redis.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", "("+strconv.FormatInt(windowStart, 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowMillis), Member: member})
	countCmd := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window+time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("window store %s: %w", key, err)
	}

	return countCmd.Val(), nil
}
