package authgate

import (
	"context"
	"errors"

	"github.com/MrEthical07/authgate/internal/limiters"
	"github.com/MrEthical07/authgate/token"
)

// Register creates an unverified account and sends it an email verification
// code. A delivery failure leaves the account in place and is reported in
// Registration.DeliveryWarning.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*Registration, error) {
	if e == nil || e.accounts == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}

	in = normalizeRegisterInput(in)
	if err := e.validateRegistration(in); err != nil {
		if !errors.Is(err, ErrValidation) {
			return nil, e.serverError(ctx, "register_validate", err)
		}
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", err, nil)
		return nil, err
	}

	if _, err := e.accounts.FindByUsernameOrEmail(ctx, in.Username, in.Email); err == nil {
		e.metricInc(MetricRegisterDuplicate)
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrAccountExists, nil)
		return nil, ErrAccountExists
	} else if !errors.Is(err, ErrAccountNotFound) {
		return nil, e.serverError(ctx, "account_lookup", err)
	}

	digest, err := e.hasher.Hash(in.Password)
	if err != nil {
		return nil, e.serverError(ctx, "password_hash", err)
	}

	account, err := e.accounts.Create(ctx, CreateAccountInput{
		Username:     in.Username,
		Email:        in.Email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PasswordHash: digest,
	})
	if errors.Is(err, ErrAccountExists) {
		// Lost a race with a concurrent registration.
		e.metricInc(MetricRegisterDuplicate)
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrAccountExists, nil)
		return nil, ErrAccountExists
	}
	if err != nil {
		return nil, e.serverError(ctx, "account_create", err)
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, account.ID, "", nil, nil)

	warning, err := e.issueVerification(ctx, account)
	if err != nil {
		// The account is committed; a failed issue is reported like a failed send.
		warning = deliveryWarning
	}

	return &Registration{Account: account.View(), DeliveryWarning: warning}, nil
}

// issueVerification supersedes any pending verification code for account and
// mails the new one. The returned string is a delivery warning.
func (e *Engine) issueVerification(ctx context.Context, account Account) (string, error) {
	kind := token.KindEmailVerification
	if err := e.verificationIssues.Allow(ctx, string(kind), account.ID); err != nil {
		if errors.Is(err, limiters.ErrIssueRateLimited) {
			e.emitRateLimit(ctx, "email_verification_issue", account.ID)
			return "", ErrIssueRateLimited
		}
		return "", e.serverError(ctx, "verification_issue_limit", err)
	}

	pending, err := e.tokens.Issue(ctx, account.ID, kind, e.config.EmailVerification.TTL)
	if err != nil {
		return "", e.serverError(ctx, "verification_issue", err)
	}
	e.metricInc(MetricEmailVerificationRequest)
	e.emitAudit(ctx, auditEventEmailVerificationRequest, true, account.ID, "", nil, nil)

	msg := verificationMessage(e.config.Mail, account, pending.Value, minutes(e.config.EmailVerification.TTL))
	return e.sendMail(ctx, account, msg), nil
}
