package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// Handle is the per-request view of one session. Every field write is a
// single HSET, so readers observe writes in the order they were made.
type Handle struct {
	store     *Store
	id        string
	destroyed atomic.Bool
}

// ID returns the opaque session identifier.
func (h *Handle) ID() string {
	return h.id
}

// Get reads one field. A missing field or destroyed session reports ok=false.
func (h *Handle) Get(ctx context.Context, key string) (string, bool, error) {
	if h.destroyed.Load() {
		return "", false, nil
	}
	v, err := h.store.redis.HGet(ctx, h.store.key(h.id), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return v, true, nil
}

// Set writes one field and refreshes the idle TTL of the session and of its
// account index. Binding FieldAccountID records the session in the index.
func (h *Handle) Set(ctx context.Context, key, value string) error {
	if h.destroyed.Load() {
		return ErrDestroyed
	}
	s := h.store
	err := setLua.Run(ctx, s.redis, []string{s.key(h.id)},
		s.ttl.Milliseconds(), s.indexPrefix(), key, value, FieldAccountID, h.id).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Destroy deletes the session and unlinks it from its account. Repeated
// calls are no-ops.
func (h *Handle) Destroy(ctx context.Context) error {
	if h.destroyed.Swap(true) {
		return nil
	}
	s := h.store
	err := destroyLua.Run(ctx, s.redis, []string{s.key(h.id)}, s.indexPrefix(), FieldAccountID, h.id).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		h.destroyed.Store(false)
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
