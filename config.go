package authgate

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// Config holds every tunable of the Engine. Start from DefaultConfig and
// override what you need.
type Config struct {
	Password          PasswordConfig          `toml:"password"`
	EmailVerification EmailVerificationConfig `toml:"email_verification"`
	PasswordReset     PasswordResetConfig     `toml:"password_reset"`
	Token             TokenConfig             `toml:"token"`
	TOTP              TOTPConfig              `toml:"totp"`
	Session           SessionConfig           `toml:"session"`
	Security          SecurityConfig          `toml:"security"`
	Mail              MailConfig              `toml:"mail"`
	Audit             AuditConfig             `toml:"audit"`
	Metrics           MetricsConfig           `toml:"metrics"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig controls digest parameters and password policy.
type PasswordConfig struct {
	Memory      uint32 `toml:"memory"`
	Time        uint32 `toml:"time"`
	Parallelism uint8  `toml:"parallelism"`
	SaltLength  uint32 `toml:"salt_length"`
	KeyLength   uint32 `toml:"key_length"`

	// LegacyBcryptCost is the cost bcrypt digests are judged against.
	LegacyBcryptCost int  `toml:"legacy_bcrypt_cost"`
	UpgradeOnLogin   bool `toml:"upgrade_on_login"`

	// MinLength applies to registration, reset and change.
	MinLength int `toml:"min_length"`
	// RequireLetterAndDigit applies to registration and reset only.
	RequireLetterAndDigit bool `toml:"require_letter_and_digit"`
}

/*
====================================
TOKEN CONFIG
====================================
*/

// EmailVerificationConfig controls the email verification flow. Login
// always requires a verified email; there is no switch for it.
type EmailVerificationConfig struct {
	TTL time.Duration `toml:"ttl"`
	// MaxIssuesPerHour caps resends per account. Zero disables the cap.
	MaxIssuesPerHour int `toml:"max_issues_per_hour"`
}

// PasswordResetConfig controls the forgot-password flow.
type PasswordResetConfig struct {
	TTL              time.Duration `toml:"ttl"`
	MaxIssuesPerHour int           `toml:"max_issues_per_hour"`
	// RevokeSessions destroys every session of the account on completion.
	RevokeSessions bool `toml:"revoke_sessions"`
}

// TokenConfig controls storage of pending single-use tokens.
type TokenConfig struct {
	RedisPrefix string `toml:"redis_prefix"`
	// Retention keeps spent and expired records so that late submissions
	// report Expired or AlreadyUsed instead of NotFound.
	Retention       time.Duration `toml:"retention"`
	MaxAttempts     int           `toml:"max_attempts"`
	CodeDigits      int           `toml:"code_digits"`
	ResetTokenBytes int           `toml:"reset_token_bytes"`
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig controls enrollment and verification of authenticator codes.
type TOTPConfig struct {
	Issuer    string `toml:"issuer"`
	Digits    int    `toml:"digits"`
	Period    int    `toml:"period"`
	Algorithm string `toml:"algorithm"`
	// Skew is the number of time steps accepted on either side of now.
	Skew uint `toml:"skew"`

	// EnforceReplayProtection rejects a code whose time step is not newer
	// than the last accepted one.
	EnforceReplayProtection bool `toml:"enforce_replay_protection"`
	// RotationRequiresVerification refuses SetupTOTP on an MFA-enabled
	// account until the session has passed VerifyTOTP.
	RotationRequiresVerification bool          `toml:"rotation_requires_verification"`
	MaxAttempts                  int           `toml:"max_attempts"`
	Cooldown                     time.Duration `toml:"cooldown"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls server-side session storage.
type SessionConfig struct {
	RedisPrefix string        `toml:"redis_prefix"`
	IdleTTL     time.Duration `toml:"idle_ttl"`
}

// SecurityConfig controls the failed-login throttle.
type SecurityConfig struct {
	EnableIPThrottle      bool          `toml:"enable_ip_throttle"`
	MaxLoginAttempts      int           `toml:"max_login_attempts"`
	LoginCooldownDuration time.Duration `toml:"login_cooldown"`
}

// MailConfig controls outgoing message content.
type MailConfig struct {
	AppName string `toml:"app_name"`
	// ResetURL is the page that receives "/<token>" appended.
	ResetURL string `toml:"reset_url"`
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool `toml:"enabled"`
	BufferSize int  `toml:"buffer_size"`
	DropIfFull bool `toml:"drop_if_full"`
}

type MetricsConfig struct {
	Enabled                 bool `toml:"enabled"`
	EnableLatencyHistograms bool `toml:"enable_latency_histograms"`
}

// DefaultConfig returns production defaults: one-hour tokens, six-digit
// codes, a one-step TOTP window and email verification required for login.
func DefaultConfig() Config {
	return Config{
		Password: PasswordConfig{
			Memory:                65536,
			Time:                  3,
			Parallelism:           2,
			SaltLength:            16,
			KeyLength:             32,
			LegacyBcryptCost:      12,
			UpgradeOnLogin:        true,
			MinLength:             8,
			RequireLetterAndDigit: true,
		},
		EmailVerification: EmailVerificationConfig{
			TTL:              time.Hour,
			MaxIssuesPerHour: 5,
		},
		PasswordReset: PasswordResetConfig{
			TTL:              time.Hour,
			MaxIssuesPerHour: 5,
			RevokeSessions:   true,
		},
		Token: TokenConfig{
			RedisPrefix:     "agt",
			Retention:       24 * time.Hour,
			MaxAttempts:     5,
			CodeDigits:      6,
			ResetTokenBytes: 32,
		},
		TOTP: TOTPConfig{
			Issuer:      "authgate",
			Digits:      6,
			Period:      30,
			Algorithm:   "SHA1",
			Skew:        1,
			MaxAttempts: 5,
			Cooldown:    time.Minute,
		},
		Session: SessionConfig{
			RedisPrefix: "ags",
			IdleTTL:     24 * time.Hour,
		},
		Security: SecurityConfig{
			EnableIPThrottle:      false,
			MaxLoginAttempts:      5,
			LoginCooldownDuration: 15 * time.Minute,
		},
		Mail: MailConfig{
			AppName:  "authgate",
			ResetURL: "http://localhost:3000/reset-password",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate rejects configurations the Engine cannot run safely with.
func (c *Config) Validate() error {
	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 || c.Password.Parallelism < 1 {
		return errors.New("Password Time and Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 || c.Password.KeyLength < 16 {
		return errors.New("Password SaltLength and KeyLength must be >= 16")
	}
	if c.Password.MinLength < 6 {
		return errors.New("Password MinLength must be >= 6")
	}

	// Tokens
	if c.EmailVerification.TTL <= 0 {
		return errors.New("EmailVerification TTL must be > 0")
	}
	if c.PasswordReset.TTL <= 0 {
		return errors.New("PasswordReset TTL must be > 0")
	}
	if c.Token.Retention < 0 {
		return errors.New("Token Retention must be >= 0")
	}
	if c.Token.MaxAttempts <= 0 {
		return errors.New("Token MaxAttempts must be > 0")
	}
	if c.Token.CodeDigits < 6 || c.Token.CodeDigits > 10 {
		return errors.New("Token CodeDigits must be between 6 and 10")
	}
	if c.Token.ResetTokenBytes < 16 || c.Token.ResetTokenBytes > 64 {
		return errors.New("Token ResetTokenBytes must be between 16 and 64")
	}
	if strings.TrimSpace(c.Token.RedisPrefix) == "" || strings.TrimSpace(c.Session.RedisPrefix) == "" {
		return errors.New("RedisPrefix must not be empty")
	}
	if c.Token.RedisPrefix == c.Session.RedisPrefix {
		return errors.New("Token and Session RedisPrefix must differ")
	}

	// TOTP
	if strings.TrimSpace(c.TOTP.Issuer) == "" {
		return errors.New("TOTP Issuer must not be empty")
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("TOTP Period must be > 0")
	}
	if c.TOTP.Skew > 2 {
		return errors.New("TOTP Skew must be <= 2")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256 or SHA512")
	}
	if c.TOTP.MaxAttempts <= 0 || c.TOTP.Cooldown <= 0 {
		return errors.New("TOTP MaxAttempts and Cooldown must be > 0")
	}

	// Session
	if c.Session.IdleTTL <= 0 {
		return errors.New("Session IdleTTL must be > 0")
	}

	// Security
	if c.Security.MaxLoginAttempts <= 0 {
		return errors.New("Security MaxLoginAttempts must be > 0")
	}
	if c.Security.LoginCooldownDuration <= 0 {
		return errors.New("Security LoginCooldownDuration must be > 0")
	}

	// Mail
	if c.Mail.ResetURL != "" {
		u, err := url.Parse(c.Mail.ResetURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("Mail ResetURL must be an absolute URL")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}
