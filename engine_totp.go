package authgate

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/authgate/internal/limiters"
	"go.uber.org/zap"
)

// SetupTOTP generates a new TOTP secret for the account logged in on h and
// enables MFA with it. Any previous secret is replaced, so the session is
// left unverified. The secret is returned only here.
func (e *Engine) SetupTOTP(ctx context.Context, h SessionHandle) (*TOTPSetup, error) {
	if e == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	state, account, err := e.authenticated(ctx, h)
	if err != nil {
		return nil, err
	}
	if e.config.TOTP.RotationRequiresVerification && account.MFAEnabled && !state.TwoFactorVerified {
		e.emitAudit(ctx, auditEventTOTPSetup, false, account.ID, h.ID(), ErrTwoFactorRequired, nil)
		return nil, ErrTwoFactorRequired
	}

	secret, uri, err := e.totp.GenerateSecret(account.Email)
	if err != nil {
		return nil, e.serverError(ctx, "totp_generate", err)
	}
	mfa := EnableMFA(secret)
	if _, err := e.accounts.Update(ctx, account.ID, AccountUpdate{MFA: &mfa}); err != nil {
		return nil, e.serverError(ctx, "account_update", err)
	}
	if err := setTwoFactorVerified(ctx, h, false); err != nil {
		return nil, e.serverError(ctx, "session_write", err)
	}
	if err := e.totpLimiter.ForgetCounter(ctx, account.ID); err != nil {
		e.logger.Warn("totp replay marker not cleared", zap.String("account_id", account.ID), zap.Error(err))
	}

	e.metricInc(MetricTOTPSetup)
	e.emitAudit(ctx, auditEventTOTPSetup, true, account.ID, h.ID(), nil, func() map[string]string {
		return map[string]string{"rotated": boolString(account.MFAEnabled)}
	})
	return &TOTPSetup{Secret: secret, URI: uri}, nil
}

// VerifyTOTP checks code against the account's secret and marks the session
// as second-factor verified on a match.
func (e *Engine) VerifyTOTP(ctx context.Context, h SessionHandle, code string) error {
	if e == nil || e.totp == nil {
		return ErrEngineNotReady
	}
	_, account, err := e.authenticated(ctx, h)
	if err != nil {
		return err
	}
	if !account.MFAEnabled || account.TOTPSecret == "" {
		e.emitAudit(ctx, auditEventTOTPVerify, false, account.ID, h.ID(), ErrTOTPNotProvisioned, nil)
		return ErrTOTPNotProvisioned
	}
	if err := requireFields(map[string]string{"code": code}); err != nil {
		return err
	}

	ok, err := e.checkTOTPCode(ctx, account, code)
	if err != nil {
		return err
	}
	if !ok {
		e.emitAudit(ctx, auditEventTOTPVerify, false, account.ID, h.ID(), ErrTOTPInvalidCode, nil)
		return ErrTOTPInvalidCode
	}

	if err := setTwoFactorVerified(ctx, h, true); err != nil {
		return e.serverError(ctx, "session_write", err)
	}
	e.metricInc(MetricTOTPSuccess)
	e.emitAudit(ctx, auditEventTOTPVerify, true, account.ID, h.ID(), nil, nil)
	return nil
}

// ResetTOTP disables MFA. The session must already be second-factor
// verified, or code must verify now.
func (e *Engine) ResetTOTP(ctx context.Context, h SessionHandle, code string) error {
	if e == nil || e.totp == nil {
		return ErrEngineNotReady
	}
	state, account, err := e.authenticated(ctx, h)
	if err != nil {
		return err
	}
	if !account.MFAEnabled {
		e.emitAudit(ctx, auditEventTOTPReset, false, account.ID, h.ID(), ErrTOTPNotProvisioned, nil)
		return ErrTOTPNotProvisioned
	}

	authorized := state.TwoFactorVerified
	if !authorized && strings.TrimSpace(code) != "" {
		ok, err := e.checkTOTPCode(ctx, account, code)
		if err != nil {
			return err
		}
		authorized = ok
	}
	if !authorized {
		e.emitAudit(ctx, auditEventTOTPReset, false, account.ID, h.ID(), ErrTOTPVerificationRequired, nil)
		return ErrTOTPVerificationRequired
	}

	mfa := DisableMFA()
	if _, err := e.accounts.Update(ctx, account.ID, AccountUpdate{MFA: &mfa}); err != nil {
		return e.serverError(ctx, "account_update", err)
	}
	if err := setTwoFactorVerified(ctx, h, false); err != nil {
		return e.serverError(ctx, "session_write", err)
	}
	if err := e.totpLimiter.ForgetCounter(ctx, account.ID); err != nil {
		e.logger.Warn("totp replay marker not cleared", zap.String("account_id", account.ID), zap.Error(err))
	}

	e.metricInc(MetricTOTPReset)
	e.emitAudit(ctx, auditEventTOTPReset, true, account.ID, h.ID(), nil, func() map[string]string {
		if state.TwoFactorVerified {
			return map[string]string{"authorized_by": "session"}
		}
		return map[string]string{"authorized_by": "code"}
	})
	return nil
}

// TOTPStatus reports the enrollment state for the account logged in on h.
func (e *Engine) TOTPStatus(ctx context.Context, h SessionHandle) (TOTPState, error) {
	state, account, err := e.authenticated(ctx, h)
	if err != nil {
		return "", err
	}
	return totpState(state, account), nil
}

func totpState(state SessionAuthState, account Account) TOTPState {
	switch {
	case !account.MFAEnabled:
		return TOTPDisabled
	case state.TwoFactorVerified:
		return TOTPActive
	default:
		return TOTPProvisioned
	}
}

// checkTOTPCode runs code through the failure limiter, the window check and
// the optional replay guard. A false result has already been counted as a
// failure.
func (e *Engine) checkTOTPCode(ctx context.Context, account Account, code string) (bool, error) {
	if err := e.totpLimiter.Check(ctx, account.ID); err != nil {
		if errors.Is(err, limiters.ErrTOTPRateLimited) {
			e.emitRateLimit(ctx, "totp", account.ID)
			return false, ErrTOTPRateLimited
		}
		return false, e.serverError(ctx, "totp_limiter", err)
	}

	ok, counter, err := e.totp.VerifyCode(account.TOTPSecret, code, e.now())
	if err != nil {
		return false, e.serverError(ctx, "totp_verify", err)
	}
	if ok && e.config.TOTP.EnforceReplayProtection {
		switch err := e.totpLimiter.AcceptCounter(ctx, account.ID, counter); {
		case errors.Is(err, limiters.ErrTOTPReplay):
			e.metricInc(MetricTOTPReplay)
			ok = false
		case err != nil:
			return false, e.serverError(ctx, "totp_replay_guard", err)
		}
	}

	if !ok {
		e.metricInc(MetricTOTPFailure)
		if err := e.totpLimiter.RecordFailure(ctx, account.ID); err != nil && !errors.Is(err, limiters.ErrTOTPRateLimited) {
			e.logger.Warn("totp failure not counted", zap.String("account_id", account.ID), zap.Error(err))
		}
		return false, nil
	}

	if err := e.totpLimiter.Reset(ctx, account.ID); err != nil {
		e.logger.Warn("totp failure counter not reset", zap.String("account_id", account.ID), zap.Error(err))
	}
	return true, nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
