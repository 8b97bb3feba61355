package authgate

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/authgate/internal/limiters"
	"github.com/MrEthical07/authgate/token"
	validation "github.com/go-ozzo/ozzo-validation"
	"go.uber.org/zap"
)

// RequestPasswordReset issues a password reset token for the account
// registered under email and mails a reset link. Unknown addresses succeed
// silently so the response never reveals whether an account exists.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if e == nil || e.tokens == nil || e.accounts == nil {
		return ErrEngineNotReady
	}
	if err := asValidationError(validation.Errors{
		"email": validation.Validate(normalizeEmail(email), validation.Required, emailRule),
	}.Filter()); err != nil {
		return err
	}

	account, ok, err := e.findByEmail(ctx, email)
	if err != nil {
		return e.serverError(ctx, "account_lookup", err)
	}
	e.metricInc(MetricPasswordResetRequest)
	if !ok {
		e.emitAudit(ctx, auditEventPasswordResetRequest, true, "", "", nil, func() map[string]string {
			return map[string]string{"noop": "true"}
		})
		return nil
	}

	kind := token.KindPasswordReset
	if err := e.resetIssues.Allow(ctx, string(kind), account.ID); err != nil {
		if errors.Is(err, limiters.ErrIssueRateLimited) {
			e.emitRateLimit(ctx, "password_reset_issue", account.ID)
			return ErrIssueRateLimited
		}
		return e.serverError(ctx, "reset_issue_limit", err)
	}

	pending, err := e.tokens.Issue(ctx, account.ID, kind, e.config.PasswordReset.TTL)
	if err != nil {
		return e.serverError(ctx, "reset_issue", err)
	}
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, account.ID, "", nil, nil)

	// Delivery failures are logged by sendMail and not reported to the caller.
	e.sendMail(ctx, account, passwordResetMessage(e.config.Mail, account, pending.Value, minutes(e.config.PasswordReset.TTL)))
	return nil
}

// ConfirmPasswordReset consumes the reset token and replaces the password
// digest. The new password is checked and hashed first so neither a rejected
// password nor a hashing failure spends the token. On success every session of the account is destroyed.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, email, resetToken, newPassword string) error {
	if e == nil || e.tokens == nil || e.accounts == nil {
		return ErrEngineNotReady
	}
	if err := requireFields(map[string]string{"email": email, "token": resetToken, "password": newPassword}); err != nil {
		return err
	}
	if err := e.validateNewPassword("password", newPassword, true); err != nil {
		return err
	}

	account, ok, err := e.findByEmail(ctx, email)
	if err != nil {
		return e.serverError(ctx, "account_lookup", err)
	}
	if !ok {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, "", "", ErrTokenNotFound, nil)
		return ErrTokenNotFound
	}

	// hash before consuming so only the store write can fail after it
	digest, err := e.hasher.Hash(newPassword)
	if err != nil {
		return e.serverError(ctx, "password_hash", err)
	}

	start := time.Now()
	_, verr := e.tokens.Validate(ctx, account.ID, token.KindPasswordReset, resetToken)
	e.observe(MetricTokenValidateLatency, start)
	if verr != nil {
		mapped := tokenError(verr)
		if mapped == nil {
			return e.serverError(ctx, "reset_validate", verr)
		}
		e.tokenFailure(ctx, auditEventPasswordResetConfirm, MetricPasswordResetConfirmFailure, account.ID, mapped)
		return mapped
	}

	if _, err := e.accounts.Update(ctx, account.ID, AccountUpdate{PasswordHash: &digest}); err != nil {
		e.logger.Error("reset token consumed but password not updated",
			zap.String("account_id", account.ID), zap.Error(err))
		return e.serverError(ctx, "account_update", err)
	}

	revoked := e.revokeSessions(ctx, account)
	if err := e.rateLimiter.ResetLogin(ctx, account.Username); err != nil {
		e.logger.Warn("login counter not reset", zap.String("account_id", account.ID), zap.Error(err))
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, account.ID, "", nil, func() map[string]string {
		return map[string]string{"sessions_revoked": strconv.Itoa(revoked)}
	})
	return nil
}

// revokeSessions destroys every session bound to account when configured to.
// Failures are logged; the new digest is already in place.
func (e *Engine) revokeSessions(ctx context.Context, account Account) int {
	if !e.config.PasswordReset.RevokeSessions || e.sessions == nil {
		return 0
	}
	n, err := e.sessions.DestroyAllForAccount(ctx, account.ID)
	if err != nil {
		e.logger.Warn("session revocation incomplete", zap.String("account_id", account.ID), zap.Error(err))
	}
	for i := 0; i < n; i++ {
		e.metricInc(MetricSessionInvalidated)
	}
	return n
}
