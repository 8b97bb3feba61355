package rate

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "ag"

// Config holds login throttle tuning parameters. Prefix namespaces the
// counters so engines sharing a Redis keep separate budgets.
type Config struct {
	Prefix                string
	EnableIPThrottle      bool
	MaxLoginAttempts      int
	LoginCooldownDuration time.Duration
}

// Limiter counts failed logins per username and, optionally, per client IP.
type Limiter struct {
	user   *Window
	ip     *Window
	config Config
}

// New creates a login [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	return &Limiter{
		user:   NewWindow(redisClient, cfg.Prefix+":l:", cfg.MaxLoginAttempts, cfg.LoginCooldownDuration),
		ip:     NewWindow(redisClient, cfg.Prefix+":li:", cfg.MaxLoginAttempts, cfg.LoginCooldownDuration),
		config: cfg,
	}
}

// CheckLogin fails with ErrRateLimited when either budget is spent.
func (l *Limiter) CheckLogin(ctx context.Context, username, ip string) error {
	if err := l.user.Exhausted(ctx, normalizeUsername(username)); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		return l.ip.Exhausted(ctx, ip)
	}
	return nil
}

// IncrementLogin records a failed login attempt.
func (l *Limiter) IncrementLogin(ctx context.Context, username, ip string) error {
	if err := l.user.Allow(ctx, normalizeUsername(username)); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		return l.ip.Allow(ctx, ip)
	}
	return nil
}

// ResetLogin clears the username counter after a successful login. The IP
// counter only expires.
func (l *Limiter) ResetLogin(ctx context.Context, username string) error {
	return l.user.Reset(ctx, normalizeUsername(username))
}

// LoginAttempts returns the current failure count for username.
func (l *Limiter) LoginAttempts(ctx context.Context, username string) (int, error) {
	return l.user.Count(ctx, normalizeUsername(username))
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
