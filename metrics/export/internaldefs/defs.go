package internaldefs

import (
	"github.com/MrEthical07/authgate"
)

// CounterDef names one authgate counter in exported form.
type CounterDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// HistogramDef names one authgate latency histogram in exported form.
type HistogramDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

const namePrefix = "authgate_"

func counter(id authgate.MetricID, name, help string) CounterDef {
	return CounterDef{ID: id, Name: namePrefix + name + "_total", Help: help}
}

// CounterDefs lists every exported counter in exposition order.
var CounterDefs = []CounterDef{
	counter(authgate.MetricRegisterSuccess, "register_success", "Accounts created."),
	counter(authgate.MetricRegisterDuplicate, "register_duplicate", "Registrations rejected because the username or email exists."),
	counter(authgate.MetricMailDeliveryFailure, "mail_delivery_failure", "Outgoing messages the mailer failed to deliver."),
	counter(authgate.MetricLoginSuccess, "login_success", "Successful logins."),
	counter(authgate.MetricLoginFailure, "login_failure", "Logins rejected for invalid credentials."),
	counter(authgate.MetricLoginRateLimited, "login_rate_limited", "Logins rejected by the failed-login throttle."),
	counter(authgate.MetricLoginEmailNotVerified, "login_email_not_verified", "Logins rejected because the email is unverified."),
	counter(authgate.MetricPasswordUpgraded, "password_upgraded", "Password digests rehashed with the primary scheme."),
	counter(authgate.MetricTwoFactorRequired, "two_factor_required", "Protected requests turned away pending TOTP verification."),
	counter(authgate.MetricTOTPSetup, "totp_setup", "TOTP enrollments and secret rotations."),
	counter(authgate.MetricTOTPSuccess, "totp_success", "Accepted TOTP codes."),
	counter(authgate.MetricTOTPFailure, "totp_failure", "Rejected TOTP codes."),
	counter(authgate.MetricTOTPReplay, "totp_replay", "TOTP codes rejected as replays."),
	counter(authgate.MetricTOTPReset, "totp_reset", "TOTP disable operations."),
	counter(authgate.MetricEmailVerificationRequest, "email_verification_request", "Email verification codes issued."),
	counter(authgate.MetricEmailVerificationSuccess, "email_verification_success", "Successful email verifications."),
	counter(authgate.MetricEmailVerificationFailure, "email_verification_failure", "Failed email verifications."),
	counter(authgate.MetricPasswordChangeSuccess, "password_change_success", "Successful password changes."),
	counter(authgate.MetricPasswordChangeInvalidOld, "password_change_invalid_old", "Password changes rejected for a wrong current password."),
	counter(authgate.MetricPasswordResetRequest, "password_reset_request", "Password reset tokens issued."),
	counter(authgate.MetricPasswordResetConfirmSuccess, "password_reset_confirm_success", "Completed password resets."),
	counter(authgate.MetricPasswordResetConfirmFailure, "password_reset_confirm_failure", "Failed password reset confirmations."),
	counter(authgate.MetricTokenReplayDetected, "token_replay_detected", "Single-use tokens submitted after consumption."),
	counter(authgate.MetricTokenAttemptsExceeded, "token_attempts_exceeded", "Tokens burned by too many wrong submissions."),
	counter(authgate.MetricRateLimitHit, "rate_limit_hit", "Requests denied by any limiter."),
	counter(authgate.MetricSessionCreated, "session_created", "Sessions created."),
	counter(authgate.MetricSessionInvalidated, "session_invalidated", "Sessions destroyed."),
	counter(authgate.MetricLogout, "logout", "Logouts."),
}

// HistogramDefs lists the latency histograms.
var HistogramDefs = []HistogramDef{
	{ID: authgate.MetricLoginLatency, Name: namePrefix + "login_latency_seconds", Help: "Login latency."},
	{ID: authgate.MetricTokenValidateLatency, Name: namePrefix + "token_validate_latency_seconds", Help: "Single-use token validation latency."},
}

// AuditDropped is the counter for events lost to dispatcher backpressure.
var AuditDropped = CounterDef{
	Name: namePrefix + "audit_dropped_total",
	Help: "Audit events dropped because the dispatcher buffer was full.",
}

// HistogramBounds are the bucket upper bounds in seconds. They match the
// engine's millisecond buckets.
var HistogramBounds = []string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// HistogramBoundSuffix is HistogramBounds made safe for instrument names.
var HistogramBoundSuffix = []string{"0_005", "0_01", "0_025", "0_05", "0_1", "0_25", "0_5", "inf"}

// NormalizeBuckets copies raw into a fixed array, zero-filling a short or
// missing slice.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
