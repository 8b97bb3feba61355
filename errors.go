package authgate

import "errors"

var (
	// ErrValidation marks malformed or policy-violating input.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized is returned when no account is bound to the session.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials covers unknown usernames and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountExists      = errors.New("account already exists")
	ErrAccountNotFound    = errors.New("account not found")
	ErrMFAInvariant       = errors.New("mfa enabled flag and totp secret disagree")

	ErrTokenNotFound         = errors.New("token not found")
	ErrTokenExpired          = errors.New("token expired")
	ErrTokenAlreadyUsed      = errors.New("token already used")
	ErrTokenMismatch         = errors.New("invalid token")
	ErrTokenAttemptsExceeded = errors.New("token attempts exceeded")

	ErrEmailNotVerified     = errors.New("email not verified")
	ErrEmailAlreadyVerified = errors.New("email already verified")
	ErrTwoFactorRequired    = errors.New("two-factor verification required")

	ErrTOTPNotProvisioned       = errors.New("totp not provisioned")
	ErrTOTPInvalidCode          = errors.New("invalid totp code")
	ErrTOTPVerificationRequired = errors.New("totp verification required")
	ErrTOTPRateLimited          = errors.New("totp attempts rate limited")

	ErrLoginRateLimited = errors.New("login rate limited")
	ErrIssueRateLimited = errors.New("token issue rate limited")

	// ErrServerError hides collaborator failures from callers. The detail is
	// logged, never returned.
	ErrServerError    = errors.New("internal server error")
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ValidationError carries per-field messages alongside ErrValidation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return ErrValidation.Error()
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func validationError(field, message string) error {
	return &ValidationError{Fields: map[string]string{field: message}}
}
