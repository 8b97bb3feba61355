package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLimiterRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func TestTOTPLimiterBlocksAfterFailures(t *testing.T) {
	mr, client := newLimiterRedis(t)
	l := NewTOTPLimiter(client, TOTPLimiterConfig{MaxAttempts: 3, Cooldown: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Check(ctx, "u1"); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		_ = l.RecordFailure(ctx, "u1")
	}
	if err := l.Check(ctx, "u1"); !errors.Is(err, ErrTOTPRateLimited) {
		t.Fatalf("expected ErrTOTPRateLimited, got %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if err := l.Check(ctx, "u1"); err != nil {
		t.Fatalf("window should have expired: %v", err)
	}
}

func TestTOTPLimiterReset(t *testing.T) {
	_, client := newLimiterRedis(t)
	l := NewTOTPLimiter(client, TOTPLimiterConfig{MaxAttempts: 1})
	ctx := context.Background()

	_ = l.RecordFailure(ctx, "u1")
	if err := l.Check(ctx, "u1"); !errors.Is(err, ErrTOTPRateLimited) {
		t.Fatalf("expected limit, got %v", err)
	}
	if err := l.Reset(ctx, "u1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := l.Check(ctx, "u1"); err != nil {
		t.Fatalf("expected reset counter, got %v", err)
	}
}

func TestTOTPAcceptCounterRejectsReplay(t *testing.T) {
	_, client := newLimiterRedis(t)
	l := NewTOTPLimiter(client, TOTPLimiterConfig{})
	ctx := context.Background()

	if err := l.AcceptCounter(ctx, "u1", 100); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if err := l.AcceptCounter(ctx, "u1", 100); !errors.Is(err, ErrTOTPReplay) {
		t.Fatalf("expected ErrTOTPReplay, got %v", err)
	}
	if err := l.AcceptCounter(ctx, "u1", 99); !errors.Is(err, ErrTOTPReplay) {
		t.Fatalf("older counter must be rejected, got %v", err)
	}
	if err := l.AcceptCounter(ctx, "u1", 101); err != nil {
		t.Fatalf("newer counter: %v", err)
	}
	if err := l.ForgetCounter(ctx, "u1"); err != nil {
		t.Fatalf("ForgetCounter: %v", err)
	}
	if err := l.AcceptCounter(ctx, "u1", 50); err != nil {
		t.Fatalf("accept after forget: %v", err)
	}
}

func TestIssueLimiter(t *testing.T) {
	_, client := newLimiterRedis(t)
	l := NewIssueLimiter(client, IssueConfig{MaxPerWindow: 2, Window: time.Hour})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Allow(ctx, "password-reset", "u1"); err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
	}
	if err := l.Allow(ctx, "password-reset", "u1"); !errors.Is(err, ErrIssueRateLimited) {
		t.Fatalf("expected ErrIssueRateLimited, got %v", err)
	}
	if err := l.Allow(ctx, "email-verification", "u1"); err != nil {
		t.Fatalf("other kind must have its own budget: %v", err)
	}
}

func TestNilLimitersAreNoOps(t *testing.T) {
	var issue *IssueLimiter
	var totp *TOTPLimiter
	ctx := context.Background()

	if NewIssueLimiter(nil, IssueConfig{}) != nil {
		t.Fatal("disabled issue limiter should be nil")
	}
	if err := issue.Allow(ctx, "k", "u"); err != nil {
		t.Fatalf("nil issue limiter: %v", err)
	}
	if err := totp.Check(ctx, "u"); err != nil {
		t.Fatalf("nil totp limiter: %v", err)
	}
}

func TestLimitersPrefixesAreIsolated(t *testing.T) {
	mr, client := newLimiterRedis(t)
	ctx := context.Background()

	first := NewTOTPLimiter(client, TOTPLimiterConfig{Prefix: "one", MaxAttempts: 1})
	second := NewTOTPLimiter(client, TOTPLimiterConfig{Prefix: "two", MaxAttempts: 1})

	_ = first.RecordFailure(ctx, "u1")
	if err := first.Check(ctx, "u1"); !errors.Is(err, ErrTOTPRateLimited) {
		t.Fatalf("expected limit, got %v", err)
	}
	if err := second.Check(ctx, "u1"); err != nil {
		t.Fatalf("other prefix must not share failures: %v", err)
	}

	if err := first.AcceptCounter(ctx, "u1", 10); err != nil {
		t.Fatalf("AcceptCounter: %v", err)
	}
	if err := second.AcceptCounter(ctx, "u1", 10); err != nil {
		t.Fatalf("other prefix must not share replay state: %v", err)
	}
	if !mr.Exists("one:tc:u1") || !mr.Exists("two:tc:u1") {
		t.Fatalf("expected prefixed replay markers, keys=%v", mr.Keys())
	}

	issueA := NewIssueLimiter(client, IssueConfig{Prefix: "one", MaxPerWindow: 1})
	issueB := NewIssueLimiter(client, IssueConfig{Prefix: "two", MaxPerWindow: 1})
	if err := issueA.Allow(ctx, "password-reset", "u1"); err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if err := issueB.Allow(ctx, "password-reset", "u1"); err != nil {
		t.Fatalf("other prefix must not share issue budget: %v", err)
	}
	if err := issueA.Allow(ctx, "password-reset", "u1"); !errors.Is(err, ErrIssueRateLimited) {
		t.Fatalf("expected ErrIssueRateLimited, got %v", err)
	}
}
