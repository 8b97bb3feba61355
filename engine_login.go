package authgate

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authgate/internal/rate"
	"go.uber.org/zap"
)

type digestUpgrader interface {
	NeedsUpgrade(digest string) bool
}

// Login checks the credentials, requires a verified email and binds the
// account to h with the second-factor flag cleared.
func (e *Engine) Login(ctx context.Context, h SessionHandle, username, password string) (*LoginResult, error) {
	if e == nil || e.verifier == nil || e.rateLimiter == nil {
		return nil, ErrEngineNotReady
	}
	if h == nil {
		return nil, ErrUnauthorized
	}
	if err := requireFields(map[string]string{"username": username, "password": password}); err != nil {
		return nil, err
	}

	start := time.Now()
	defer e.observe(MetricLoginLatency, start)

	ip := clientIPFromContext(ctx)
	if err := e.rateLimiter.CheckLogin(ctx, username, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitRateLimit(ctx, "login", "")
			e.emitAudit(ctx, auditEventLoginFailure, false, "", h.ID(), ErrLoginRateLimited, nil)
			return nil, ErrLoginRateLimited
		}
		return nil, e.serverError(ctx, "login_limiter", err)
	}

	account, err := e.verifier.Verify(ctx, Credentials{Username: username, Password: password})
	if errors.Is(err, ErrInvalidCredentials) {
		if lerr := e.rateLimiter.IncrementLogin(ctx, username, ip); lerr != nil && !errors.Is(lerr, rate.ErrRateLimited) {
			e.logger.Warn("login failure not counted", zap.Error(lerr))
		}
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", h.ID(), ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, e.serverError(ctx, "credential_verify", err)
	}

	if err := requireEmailVerified(account); err != nil {
		e.metricInc(MetricLoginEmailNotVerified)
		e.emitAudit(ctx, auditEventLoginFailure, false, account.ID, h.ID(), err, nil)
		return nil, err
	}

	if err := onLoginSuccess(ctx, h, account); err != nil {
		return nil, e.serverError(ctx, "session_bind", err)
	}

	if err := e.rateLimiter.ResetLogin(ctx, username); err != nil {
		e.logger.Warn("login counter not reset", zap.String("account_id", account.ID), zap.Error(err))
	}
	e.upgradeDigest(ctx, account, password)

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, account.ID, h.ID(), nil, func() map[string]string {
		if account.MFAEnabled {
			return map[string]string{"two_factor": "pending"}
		}
		return nil
	})

	return &LoginResult{Account: account.View(), TwoFactorRequired: account.MFAEnabled}, nil
}

// upgradeDigest re-hashes a legacy or weak digest with the primary scheme.
// Failures leave the old digest in place.
func (e *Engine) upgradeDigest(ctx context.Context, account Account, password string) {
	if !e.config.Password.UpgradeOnLogin || account.PasswordHash == "" {
		return
	}
	u, ok := e.hasher.(digestUpgrader)
	if !ok || !u.NeedsUpgrade(account.PasswordHash) {
		return
	}

	digest, err := e.hasher.Hash(password)
	if err != nil {
		e.logger.Warn("digest upgrade failed", zap.String("account_id", account.ID), zap.Error(err))
		return
	}
	if _, err := e.accounts.Update(ctx, account.ID, AccountUpdate{PasswordHash: &digest}); err != nil {
		e.logger.Warn("digest upgrade not stored", zap.String("account_id", account.ID), zap.Error(err))
		return
	}
	e.metricInc(MetricPasswordUpgraded)
}

// Logout runs the logout hooks and destroys h. Destruction is attempted on
// every path, including hook failure.
func (e *Engine) Logout(ctx context.Context, h SessionHandle) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if h == nil {
		return ErrUnauthorized
	}

	state, err := readSessionState(ctx, h)
	if err != nil {
		e.logger.Warn("session state unreadable on logout", zap.Error(err))
	}

	sid := h.ID()
	if err := e.onLogout(ctx, h, state); err != nil {
		e.emitAudit(ctx, auditEventLogout, false, state.AccountID, sid, err, nil)
		return e.serverError(ctx, "logout", err)
	}

	e.metricInc(MetricLogout)
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditEventLogout, true, state.AccountID, sid, nil, nil)
	return nil
}

// Status reports who is logged in on h and where the second factor stands.
func (e *Engine) Status(ctx context.Context, h SessionHandle) (*AuthStatus, error) {
	state, account, err := e.authenticated(ctx, h)
	if err != nil {
		return nil, err
	}
	return &AuthStatus{
		Account:           account.View(),
		MFAEnabled:        account.MFAEnabled,
		TwoFactorVerified: state.TwoFactorVerified,
		TOTP:              totpState(state, account),
	}, nil
}

// RequireTwoFactor guards a protected resource. It passes for accounts
// without MFA and for sessions that completed VerifyTOTP.
func (e *Engine) RequireTwoFactor(ctx context.Context, h SessionHandle) (*AccountView, error) {
	state, account, err := e.authenticated(ctx, h)
	if err != nil {
		return nil, err
	}
	if err := requireTwoFactor(state, account); err != nil {
		e.metricInc(MetricTwoFactorRequired)
		e.emitAudit(ctx, auditEventTwoFactorRequired, false, account.ID, h.ID(), err, nil)
		return nil, err
	}
	view := account.View()
	return &view, nil
}
