package authgate

import "errors"

// StatusClass is the coarse result category of an Engine operation.
type StatusClass string

const (
	StatusSuccess         StatusClass = "success"
	StatusValidationError StatusClass = "validation_error"
	StatusUnauthorized    StatusClass = "unauthorized"
	StatusConflict        StatusClass = "conflict"
	StatusNotFound        StatusClass = "not_found"
	StatusRateLimited     StatusClass = "rate_limited"
	StatusServerError     StatusClass = "server_error"
)

// ErrorKind names the specific failure inside a StatusClass.
type ErrorKind string

const (
	KindNone                     ErrorKind = ""
	KindValidation               ErrorKind = "validation"
	KindUnauthorized             ErrorKind = "unauthorized"
	KindInvalidCredentials       ErrorKind = "invalid_credentials"
	KindAccountExists            ErrorKind = "account_exists"
	KindAccountNotFound          ErrorKind = "account_not_found"
	KindTokenNotFound            ErrorKind = "token_not_found"
	KindTokenExpired             ErrorKind = "token_expired"
	KindTokenAlreadyUsed         ErrorKind = "token_already_used"
	KindTokenMismatch            ErrorKind = "token_mismatch"
	KindTokenAttemptsExceeded    ErrorKind = "token_attempts_exceeded"
	KindEmailNotVerified         ErrorKind = "email_not_verified"
	KindEmailAlreadyVerified     ErrorKind = "email_already_verified"
	KindTwoFactorRequired        ErrorKind = "two_factor_required"
	KindTOTPNotProvisioned       ErrorKind = "totp_not_provisioned"
	KindTOTPInvalidCode          ErrorKind = "totp_invalid_code"
	KindTOTPVerificationRequired ErrorKind = "totp_verification_required"
	KindRateLimited              ErrorKind = "rate_limited"
	KindServerError              ErrorKind = "server_error"
)

// Outcome is the transport-neutral classification of an Engine error.
type Outcome struct {
	Status  StatusClass
	Kind    ErrorKind
	Message string
	// Fields holds per-field messages for validation failures.
	Fields map[string]string
}

// Gating reports whether the outcome asks the caller to complete another
// step (verify email, submit a second factor) and retry.
func (o Outcome) Gating() bool {
	return o.Kind == KindEmailNotVerified || o.Kind == KindTwoFactorRequired
}

type classification struct {
	target error
	status StatusClass
	kind   ErrorKind
}

var classifications = []classification{
	{ErrValidation, StatusValidationError, KindValidation},
	{ErrUnauthorized, StatusUnauthorized, KindUnauthorized},
	{ErrInvalidCredentials, StatusUnauthorized, KindInvalidCredentials},
	{ErrAccountExists, StatusConflict, KindAccountExists},
	{ErrAccountNotFound, StatusNotFound, KindAccountNotFound},
	{ErrTokenNotFound, StatusNotFound, KindTokenNotFound},
	{ErrTokenExpired, StatusValidationError, KindTokenExpired},
	{ErrTokenAlreadyUsed, StatusValidationError, KindTokenAlreadyUsed},
	{ErrTokenMismatch, StatusValidationError, KindTokenMismatch},
	{ErrTokenAttemptsExceeded, StatusValidationError, KindTokenAttemptsExceeded},
	{ErrEmailNotVerified, StatusUnauthorized, KindEmailNotVerified},
	{ErrEmailAlreadyVerified, StatusValidationError, KindEmailAlreadyVerified},
	{ErrTwoFactorRequired, StatusUnauthorized, KindTwoFactorRequired},
	{ErrTOTPNotProvisioned, StatusValidationError, KindTOTPNotProvisioned},
	{ErrTOTPInvalidCode, StatusUnauthorized, KindTOTPInvalidCode},
	{ErrTOTPVerificationRequired, StatusUnauthorized, KindTOTPVerificationRequired},
	{ErrTOTPRateLimited, StatusRateLimited, KindRateLimited},
	{ErrLoginRateLimited, StatusRateLimited, KindRateLimited},
	{ErrIssueRateLimited, StatusRateLimited, KindRateLimited},
}

// Classify maps an error returned by the Engine to its Outcome. Errors the
// Engine does not own classify as ServerError with a generic message.
func Classify(err error) Outcome {
	if err == nil {
		return Outcome{Status: StatusSuccess}
	}

	for _, c := range classifications {
		if errors.Is(err, c.target) {
			out := Outcome{Status: c.status, Kind: c.kind, Message: c.target.Error()}
			var verr *ValidationError
			if errors.As(err, &verr) {
				out.Fields = verr.Fields
			}
			return out
		}
	}

	return Outcome{
		Status:  StatusServerError,
		Kind:    KindServerError,
		Message: ErrServerError.Error(),
	}
}
