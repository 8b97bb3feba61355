package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window is a Redis fixed-window counter keyed by prefix+id.
type Window struct {
	redis  redis.UniversalClient
	prefix string
	max    int64
	period time.Duration
}

// NewWindow returns a counter allowing max hits per period.
func NewWindow(client redis.UniversalClient, prefix string, max int, period time.Duration) *Window {
	return &Window{
		redis:  client,
		prefix: prefix,
		max:    int64(max),
		period: period,
	}
}

func (w *Window) key(id string) string {
	return w.prefix + id
}

// Exhausted reports ErrRateLimited once the window has reached max hits.
func (w *Window) Exhausted(ctx context.Context, id string) error {
	count, err := w.redis.Get(ctx, w.key(id)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= w.max {
		return ErrRateLimited
	}
	return nil
}

// Hit increments the counter and returns the new count.
func (w *Window) Hit(ctx context.Context, id string) (int64, error) {
	key := w.key(id)
	count, err := w.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := w.redis.Expire(ctx, key, w.period).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return count, nil
}

// Allow records a hit and fails once the count goes past max.
func (w *Window) Allow(ctx context.Context, id string) error {
	count, err := w.Hit(ctx, id)
	if err != nil {
		return err
	}
	if count > w.max {
		return ErrRateLimited
	}
	return nil
}

func (w *Window) Reset(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = w.key(id)
	}
	if err := w.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (w *Window) Count(ctx context.Context, id string) (int, error) {
	count, err := w.redis.Get(ctx, w.key(id)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}
