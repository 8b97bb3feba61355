package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authgate/internal/rate"
	"github.com/redis/go-redis/v9"
)

var (
	ErrIssueRateLimited = errors.New("token issue rate limited")
	ErrIssueUnavailable = errors.New("token issue limiter unavailable")
)

type IssueConfig struct {
	// Prefix namespaces the counters; "ag" when empty.
	Prefix       string
	MaxPerWindow int
	Window       time.Duration
}

func keyPrefix(p string) string {
	if p == "" {
		return "ag"
	}
	return p
}

// IssueLimiter caps how often one account can be sent a fresh token of a
// given kind.
type IssueLimiter struct {
	window *rate.Window
}

func NewIssueLimiter(redisClient redis.UniversalClient, cfg IssueConfig) *IssueLimiter {
	if cfg.MaxPerWindow <= 0 {
		return nil
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	return &IssueLimiter{
		window: rate.NewWindow(redisClient, keyPrefix(cfg.Prefix)+":ti:", cfg.MaxPerWindow, cfg.Window),
	}
}

// Allow records an issue for (kind, accountID).
func (l *IssueLimiter) Allow(ctx context.Context, kind, accountID string) error {
	if l == nil {
		return nil
	}
	err := l.window.Allow(ctx, kind+":"+accountID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		return ErrIssueRateLimited
	default:
		return fmt.Errorf("%w: %v", ErrIssueUnavailable, err)
	}
}
