package authgate

import (
	"context"
	"errors"
)

const (
	auditEventRegisterSuccess          = "register_success"
	auditEventRegisterFailure          = "register_failure"
	auditEventLoginSuccess             = "login_success"
	auditEventLoginFailure             = "login_failure"
	auditEventLogout                   = "logout"
	auditEventEmailVerificationRequest = "email_verification_request"
	auditEventEmailVerificationConfirm = "email_verification_confirm"
	auditEventPasswordChange           = "password_change"
	auditEventPasswordResetRequest     = "password_reset_request"
	auditEventPasswordResetConfirm     = "password_reset_confirm"
	auditEventTOTPSetup                = "totp_setup"
	auditEventTOTPVerify               = "totp_verify"
	auditEventTOTPReset                = "totp_reset"
	auditEventTwoFactorRequired        = "two_factor_required"
	auditEventRateLimitTriggered       = "rate_limit_triggered"
	auditEventMailDeliveryFailure      = "mail_delivery_failure"
)

// AuditErrorCode is the stable error label attached to failed audit events.
type AuditErrorCode string

const (
	auditErrValidation         AuditErrorCode = "validation"
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrTokenNotFound      AuditErrorCode = "token_not_found"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrTokenReplay        AuditErrorCode = "token_replay"
	auditErrTokenMismatch      AuditErrorCode = "token_mismatch"
	auditErrAttemptsExceeded   AuditErrorCode = "attempts_exceeded"
	auditErrEmailNotVerified   AuditErrorCode = "email_not_verified"
	auditErrTwoFactorRequired  AuditErrorCode = "two_factor_required"
	auditErrTOTPNotProvisioned AuditErrorCode = "totp_not_provisioned"
	auditErrTOTPInvalid        AuditErrorCode = "totp_invalid"
	auditErrVerificationNeeded AuditErrorCode = "verification_required"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrMailDelivery       AuditErrorCode = "mail_delivery"
	auditErrInternal           AuditErrorCode = "internal_error"
)

var errMailDelivery = errors.New("mail delivery failed")

// emitAudit records one event. meta is only evaluated when auditing is on.
func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, accountID, sessionID string, err error, meta func() map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		AccountID: accountID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		RequestID: requestIDFromContext(ctx),
		Success:   success,
		Error:     string(auditErrorCode(err)),
	}
	if meta != nil {
		event.Metadata = meta()
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope, accountID string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, accountID, "", nil, func() map[string]string {
		return map[string]string{"scope": scope}
	})
}

// auditErrorTable is checked in order; the first match labels the event.
var auditErrorTable = []struct {
	target error
	code   AuditErrorCode
}{
	{ErrValidation, auditErrValidation},
	{ErrUnauthorized, auditErrUnauthorized},
	{ErrInvalidCredentials, auditErrInvalidCredentials},
	{ErrAccountExists, auditErrDuplicate},
	{ErrTokenNotFound, auditErrTokenNotFound},
	{ErrTokenExpired, auditErrTokenExpired},
	{ErrTokenAlreadyUsed, auditErrTokenReplay},
	{ErrTokenMismatch, auditErrTokenMismatch},
	{ErrTokenAttemptsExceeded, auditErrAttemptsExceeded},
	{ErrEmailNotVerified, auditErrEmailNotVerified},
	{ErrTwoFactorRequired, auditErrTwoFactorRequired},
	{ErrTOTPNotProvisioned, auditErrTOTPNotProvisioned},
	{ErrTOTPInvalidCode, auditErrTOTPInvalid},
	{ErrTOTPVerificationRequired, auditErrVerificationNeeded},
	{ErrTOTPRateLimited, auditErrRateLimited},
	{ErrLoginRateLimited, auditErrRateLimited},
	{ErrIssueRateLimited, auditErrRateLimited},
	{errMailDelivery, auditErrMailDelivery},
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}
	for _, row := range auditErrorTable {
		if errors.Is(err, row.target) {
			return row.code
		}
	}
	return auditErrInternal
}
