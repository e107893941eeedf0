package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// AttemptCounter keeps a rolling window of recovery attempts per scope in a
// sorted set scored by attempt time.
type AttemptCounter struct {
	rdb    *redis.Client
	window time.Duration
}

// NewAttemptCounter creates a Redis-backed attempt counter.
func NewAttemptCounter(client *Client, window time.Duration) *AttemptCounter {
	return &AttemptCounter{rdb: client.rdb, window: window}
}

// Record adds an attempt at the given time and trims entries older than the window.
func (a *AttemptCounter) Record(ctx context.Context, scope string, at time.Time) error {
	key := attemptsKey(scope)
	cutoff := at.Add(-a.window).UnixNano()

	pipe := a.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(at.UnixNano()),
		Member: uuid.New().String(),
	})
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
	pipe.Expire(ctx, key, a.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record attempt failed: %w", err)
	}
	return nil
}

// Count returns the number of attempts recorded at or after since.
func (a *AttemptCounter) Count(ctx context.Context, scope string, since time.Time) (int, error) {
	n, err := a.rdb.ZCount(ctx, attemptsKey(scope), strconv.FormatInt(since.UnixNano(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("zcount failed: %w", err)
	}
	return int(n), nil
}
