package authgate

import (
	"errors"
	"time"

	"github.com/MrEthical07/authgate/internal/limiters"
	"github.com/MrEthical07/authgate/internal/rate"
	"github.com/MrEthical07/authgate/password"
	"github.com/MrEthical07/authgate/session"
	"github.com/MrEthical07/authgate/token"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an Engine. A Builder is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	accounts    AccountStore
	mailer      Mailer
	verifier    CredentialVerifier
	hasher      password.Hasher
	auditSink   AuditSink
	logger      *zap.Logger
	now         func() time.Time
	logoutHooks []LogoutHook

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the store for tokens, sessions and limiters.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithAccountStore(store AccountStore) *Builder {
	b.accounts = store
	return b
}

func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithCredentialVerifier replaces the username+password verifier.
func (b *Builder) WithCredentialVerifier(v CredentialVerifier) *Builder {
	b.verifier = v
	return b
}

// WithPasswordHasher replaces the default argon2id/bcrypt hasher.
func (b *Builder) WithPasswordHasher(h password.Hasher) *Builder {
	b.hasher = h
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. The default discards everything.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithClock overrides time.Now for token expiry and TOTP windows.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithLogoutHook registers a hook that runs before the session is destroyed.
func (b *Builder) WithLogoutHook(h LogoutHook) *Builder {
	if h != nil {
		b.logoutHooks = append(b.logoutHooks, h)
	}
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	cfg := b.config

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.accounts == nil {
		return nil, errors.New("account store required")
	}
	if b.mailer == nil {
		return nil, errors.New("mailer required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	hasher := b.hasher
	if hasher == nil {
		m, err := password.NewMulti(password.Config{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		}, cfg.Password.LegacyBcryptCost)
		if err != nil {
			return nil, err
		}
		hasher = m
	}

	engine := &Engine{
		config:      cfg,
		accounts:    b.accounts,
		mailer:      b.mailer,
		hasher:      hasher,
		logger:      logger.Named("authgate"),
		now:         now,
		logoutHooks: append([]LogoutHook(nil), b.logoutHooks...),
	}

	engine.verifier = b.verifier
	if engine.verifier == nil {
		v, err := newPasswordVerifier(b.accounts, hasher)
		if err != nil {
			return nil, err
		}
		engine.verifier = v
	}

	engine.tokens = token.NewManager(b.redis, token.Config{
		Prefix:          cfg.Token.RedisPrefix,
		Retention:       cfg.Token.Retention,
		MaxAttempts:     cfg.Token.MaxAttempts,
		CodeDigits:      cfg.Token.CodeDigits,
		ResetTokenBytes: cfg.Token.ResetTokenBytes,
	}, now)
	engine.sessions = session.NewStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.IdleTTL)
	engine.rateLimiter = rate.New(b.redis, rate.Config{
		Prefix:                cfg.Token.RedisPrefix,
		EnableIPThrottle:      cfg.Security.EnableIPThrottle,
		MaxLoginAttempts:      cfg.Security.MaxLoginAttempts,
		LoginCooldownDuration: cfg.Security.LoginCooldownDuration,
	})
	engine.verificationIssues = limiters.NewIssueLimiter(b.redis, limiters.IssueConfig{
		Prefix:       cfg.Token.RedisPrefix,
		MaxPerWindow: cfg.EmailVerification.MaxIssuesPerHour,
		Window:       time.Hour,
	})
	engine.resetIssues = limiters.NewIssueLimiter(b.redis, limiters.IssueConfig{
		Prefix:       cfg.Token.RedisPrefix,
		MaxPerWindow: cfg.PasswordReset.MaxIssuesPerHour,
		Window:       time.Hour,
	})
	engine.totpLimiter = limiters.NewTOTPLimiter(b.redis, limiters.TOTPLimiterConfig{
		Prefix:      cfg.Token.RedisPrefix,
		MaxAttempts: cfg.TOTP.MaxAttempts,
		Cooldown:    cfg.TOTP.Cooldown,
		CounterTTL:  time.Duration(cfg.TOTP.Period*(2*int(cfg.TOTP.Skew)+2)) * time.Second,
	})
	engine.totp = newTOTPManager(cfg.TOTP)
	engine.audit = newAuditQueue(cfg.Audit, b.auditSink, engine.logger.Named("audit"))
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return engine, nil
}
