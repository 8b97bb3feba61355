package authgate

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authgate/internal/limiters"
	"github.com/MrEthical07/authgate/internal/rate"
	"github.com/MrEthical07/authgate/password"
	"github.com/MrEthical07/authgate/session"
	"github.com/MrEthical07/authgate/token"
	"go.uber.org/zap"
)

// Engine runs the account authentication flows. It is safe for concurrent
// use once built.
type Engine struct {
	config   Config
	accounts AccountStore
	mailer   Mailer
	verifier CredentialVerifier
	hasher   password.Hasher

	tokens             *token.Manager
	sessions           *session.Store
	rateLimiter        *rate.Limiter
	verificationIssues *limiters.IssueLimiter
	resetIssues        *limiters.IssueLimiter
	totpLimiter        *limiters.TOTPLimiter
	totp               *totpManager

	audit       *auditQueue
	metrics     *Metrics
	logger      *zap.Logger
	logoutHooks []LogoutHook
	now         func() time.Time
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	_ = e.logger.Sync()
}

// AuditDropped reports audit events discarded under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of all counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observe(id MetricID, start time.Time) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

// NewSession starts an anonymous server-side session.
func (e *Engine) NewSession(ctx context.Context) (*session.Handle, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	h, err := e.sessions.New(ctx)
	if err != nil {
		return nil, e.serverError(ctx, "session_new", err)
	}
	e.metricInc(MetricSessionCreated)
	return h, nil
}

// OpenSession resumes a session by id. Unknown or expired ids yield
// ErrUnauthorized.
func (e *Engine) OpenSession(ctx context.Context, id string) (*session.Handle, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	h, err := e.sessions.Open(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, e.serverError(ctx, "session_open", err)
	}
	return h, nil
}

// serverError logs a collaborator failure and returns the generic
// ErrServerError in its place.
func (e *Engine) serverError(ctx context.Context, op string, err error) error {
	fields := []zap.Field{zap.String("op", op), zap.Error(err)}
	if ip := clientIPFromContext(ctx); ip != "" {
		fields = append(fields, zap.String("client_ip", ip))
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		fields = append(fields, zap.String("request_id", rid))
	}
	e.logger.Error("collaborator failure", fields...)
	return ErrServerError
}

// authenticated loads the session state and the bound account. Sessions
// whose account has since been deleted are treated as anonymous.
func (e *Engine) authenticated(ctx context.Context, h SessionHandle) (SessionAuthState, Account, error) {
	if e == nil || e.accounts == nil {
		return SessionAuthState{}, Account{}, ErrEngineNotReady
	}
	if h == nil {
		return SessionAuthState{}, Account{}, ErrUnauthorized
	}

	state, err := readSessionState(ctx, h)
	if err != nil {
		return SessionAuthState{}, Account{}, e.serverError(ctx, "session_read", err)
	}
	if !state.Authenticated() {
		return state, Account{}, ErrUnauthorized
	}

	account, err := e.accounts.FindByID(ctx, state.AccountID)
	if errors.Is(err, ErrAccountNotFound) {
		return state, Account{}, ErrUnauthorized
	}
	if err != nil {
		return state, Account{}, e.serverError(ctx, "account_find", err)
	}
	return state, account, nil
}

// findByEmail looks an account up by email. ok is false when none exists.
func (e *Engine) findByEmail(ctx context.Context, email string) (Account, bool, error) {
	account, err := e.accounts.FindByUsernameOrEmail(ctx, "", normalizeEmail(email))
	if errors.Is(err, ErrAccountNotFound) {
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, err
	}
	return account, true, nil
}

func tokenError(err error) error {
	switch {
	case errors.Is(err, token.ErrNotFound):
		return ErrTokenNotFound
	case errors.Is(err, token.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, token.ErrAlreadyUsed):
		return ErrTokenAlreadyUsed
	case errors.Is(err, token.ErrMismatch):
		return ErrTokenMismatch
	case errors.Is(err, token.ErrAttemptsExceeded):
		return ErrTokenAttemptsExceeded
	default:
		return nil
	}
}
