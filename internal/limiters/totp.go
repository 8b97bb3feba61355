package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/authgate/internal/rate"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTOTPMaxAttempts = 5
	defaultTOTPCooldown    = time.Minute
)

var (
	ErrTOTPRateLimited = errors.New("totp rate limited")
	ErrTOTPReplay      = errors.New("totp code already used")
	ErrTOTPUnavailable = errors.New("totp unavailable")
)

// TOTPLimiterConfig holds configurable thresholds for the TOTP rate limiter.
type TOTPLimiterConfig struct {
	// Prefix namespaces failure counters and replay markers; "ag" when empty.
	Prefix      string
	MaxAttempts int
	Cooldown    time.Duration
	// CounterTTL bounds how long the last accepted counter is remembered.
	CounterTTL time.Duration
}

// TOTPLimiter counts failed TOTP submissions per account and remembers the
// last accepted time step for replay protection.
type TOTPLimiter struct {
	redis      redis.UniversalClient
	counterKey string
	failures   *rate.Window
	counterTTL time.Duration
}

// NewTOTPLimiter creates a TOTP rate limiter. Zero-value fields in cfg
// fall back to defaults (5 attempts / 60s).
func NewTOTPLimiter(redisClient redis.UniversalClient, cfg TOTPLimiterConfig) *TOTPLimiter {
	max := cfg.MaxAttempts
	if max <= 0 {
		max = defaultTOTPMaxAttempts
	}
	cd := cfg.Cooldown
	if cd <= 0 {
		cd = defaultTOTPCooldown
	}
	ttl := cfg.CounterTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TOTPLimiter{
		redis:      redisClient,
		counterKey: keyPrefix(cfg.Prefix) + ":tc:",
		failures:   rate.NewWindow(redisClient, keyPrefix(cfg.Prefix)+":tf:", max, cd),
		counterTTL: ttl,
	}
}

func (l *TOTPLimiter) Check(ctx context.Context, accountID string) error {
	if l == nil {
		return nil
	}
	return mapTOTP(l.failures.Exhausted(ctx, accountID))
}

func (l *TOTPLimiter) RecordFailure(ctx context.Context, accountID string) error {
	if l == nil {
		return nil
	}
	return mapTOTP(l.failures.Allow(ctx, accountID))
}

func (l *TOTPLimiter) Reset(ctx context.Context, accountID string) error {
	if l == nil {
		return nil
	}
	return mapTOTP(l.failures.Reset(ctx, accountID))
}

const acceptCounterScript = `
local last = tonumber(redis.call("GET", KEYS[1]) or "-1")
local incoming = tonumber(ARGV[1])
if incoming <= last then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`

var acceptCounterLua = redis.NewScript(acceptCounterScript)

// AcceptCounter records counter as the newest accepted time step for the
// account. It fails with ErrTOTPReplay when counter is not newer than the
// last accepted one.
func (l *TOTPLimiter) AcceptCounter(ctx context.Context, accountID string, counter int64) error {
	if l == nil {
		return nil
	}
	ok, err := acceptCounterLua.Run(ctx, l.redis, []string{l.counterKey + accountID},
		strconv.FormatInt(counter, 10), l.counterTTL.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
	}
	if ok != 1 {
		return ErrTOTPReplay
	}
	return nil
}

// ForgetCounter drops the replay marker, used when the secret is replaced.
func (l *TOTPLimiter) ForgetCounter(ctx context.Context, accountID string) error {
	if l == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.counterKey+accountID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
	}
	return nil
}

func mapTOTP(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		return ErrTOTPRateLimited
	default:
		return fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
	}
}
