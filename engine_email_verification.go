package authgate

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authgate/token"
	"go.uber.org/zap"
)

// VerifyEmail consumes the account's pending verification code and marks
// the email verified. A code presented twice fails with ErrTokenAlreadyUsed.
func (e *Engine) VerifyEmail(ctx context.Context, email, code string) (*AccountView, error) {
	if e == nil || e.tokens == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}
	if err := requireFields(map[string]string{"email": email, "code": code}); err != nil {
		return nil, err
	}

	account, ok, err := e.findByEmail(ctx, email)
	if err != nil {
		return nil, e.serverError(ctx, "account_lookup", err)
	}
	if !ok {
		e.metricInc(MetricEmailVerificationFailure)
		e.emitAudit(ctx, auditEventEmailVerificationConfirm, false, "", "", ErrTokenNotFound, nil)
		return nil, ErrTokenNotFound
	}

	start := time.Now()
	_, verr := e.tokens.Validate(ctx, account.ID, token.KindEmailVerification, code)
	e.observe(MetricTokenValidateLatency, start)
	if verr != nil {
		mapped := tokenError(verr)
		if mapped == nil {
			return nil, e.serverError(ctx, "verification_validate", verr)
		}
		if errors.Is(mapped, ErrTokenNotFound) && account.EmailVerified {
			mapped = ErrEmailAlreadyVerified
		}
		e.tokenFailure(ctx, auditEventEmailVerificationConfirm, MetricEmailVerificationFailure, account.ID, mapped)
		return nil, mapped
	}

	verified := true
	updated, err := e.accounts.Update(ctx, account.ID, AccountUpdate{EmailVerified: &verified})
	if err != nil {
		e.logger.Error("verification code consumed but email not marked verified",
			zap.String("account_id", account.ID), zap.Error(err))
		return nil, e.serverError(ctx, "account_update", err)
	}

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEventEmailVerificationConfirm, true, account.ID, "", nil, nil)
	view := updated.View()
	return &view, nil
}

// ResendEmailVerification replaces the pending verification code for the
// account registered under email and mails the new one. Unknown and already
// verified addresses succeed silently.
func (e *Engine) ResendEmailVerification(ctx context.Context, email string) error {
	if e == nil || e.tokens == nil || e.accounts == nil {
		return ErrEngineNotReady
	}
	if err := requireFields(map[string]string{"email": email}); err != nil {
		return err
	}

	account, ok, err := e.findByEmail(ctx, email)
	if err != nil {
		return e.serverError(ctx, "account_lookup", err)
	}
	if !ok || account.EmailVerified {
		e.emitAudit(ctx, auditEventEmailVerificationRequest, true, account.ID, "", nil, func() map[string]string {
			return map[string]string{"noop": "true"}
		})
		return nil
	}

	// Delivery failures are logged by sendMail and not reported to the caller.
	_, err = e.issueVerification(ctx, account)
	return err
}

// tokenFailure records a rejected token for metrics and audit.
func (e *Engine) tokenFailure(ctx context.Context, event string, metric MetricID, accountID string, err error) {
	e.metricInc(metric)
	switch {
	case errors.Is(err, ErrTokenAlreadyUsed):
		e.metricInc(MetricTokenReplayDetected)
	case errors.Is(err, ErrTokenAttemptsExceeded):
		e.metricInc(MetricTokenAttemptsExceeded)
	}
	e.emitAudit(ctx, event, false, accountID, "", err, nil)
}
