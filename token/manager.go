package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authgate/internal"
	"github.com/MrEthical07/authgate/internal/stores"
	"github.com/redis/go-redis/v9"
)

// Kind names the purpose a pending token was issued for.
type Kind string

const (
	KindEmailVerification Kind = "email-verification"
	KindPasswordReset     Kind = "password-reset"
)

func (k Kind) valid() bool {
	return k == KindEmailVerification || k == KindPasswordReset
}

// State mirrors the stored lifecycle position of a token.
type State string

const (
	StateActive State = "active"
	StateUsed   State = "used"
	StateBurned State = "burned"
)

var (
	ErrNotFound         = errors.New("token not found")
	ErrAlreadyUsed      = errors.New("token already used")
	ErrExpired          = errors.New("token expired")
	ErrMismatch         = errors.New("token mismatch")
	ErrAttemptsExceeded = errors.New("token attempts exceeded")
	ErrUnavailable      = errors.New("token backend unavailable")
	ErrInvalidKind      = errors.New("invalid token kind")
	ErrInvalidRequest   = errors.New("invalid token request")
)

// Pending describes a token record. Value is only populated by Issue.
type Pending struct {
	Kind      Kind
	AccountID string
	Value     string
	CreatedAt time.Time
	ExpiresAt time.Time
	State     State
	Attempts  int
}

// Config controls token formats and the retention of spent records.
type Config struct {
	Prefix          string
	Retention       time.Duration
	MaxAttempts     int
	CodeDigits      int
	ResetTokenBytes int
}

// DefaultConfig returns six-digit email codes and 32-byte reset tokens,
// retained for a day after expiry.
func DefaultConfig() Config {
	return Config{
		Prefix:          "agt",
		Retention:       24 * time.Hour,
		MaxAttempts:     5,
		CodeDigits:      6,
		ResetTokenBytes: 32,
	}
}

// Manager issues and validates single-use tokens, one live token per
// (account, kind).
type Manager struct {
	store *stores.TokenStore
	cfg   Config
	now   func() time.Time
}

// NewManager builds a Manager over client. A nil now uses time.Now.
func NewManager(client redis.UniversalClient, cfg Config, now func() time.Time) *Manager {
	if cfg.CodeDigits == 0 {
		cfg.CodeDigits = 6
	}
	if cfg.ResetTokenBytes == 0 {
		cfg.ResetTokenBytes = 32
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store: stores.NewTokenStore(client, cfg.Prefix, cfg.Retention),
		cfg:   cfg,
		now:   now,
	}
}

// Issue generates a fresh value for kind and replaces any pending token the
// account holds for that kind. The plaintext value is returned once.
func (m *Manager) Issue(ctx context.Context, accountID string, kind Kind, ttl time.Duration) (Pending, error) {
	if !kind.valid() {
		return Pending{}, ErrInvalidKind
	}
	if accountID == "" || ttl <= 0 {
		return Pending{}, ErrInvalidRequest
	}

	value, err := m.generate(kind)
	if err != nil {
		return Pending{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := m.now()
	record := &stores.TokenRecord{
		AccountID:  accountID,
		SecretHash: internal.HashSecret(value),
		CreatedAt:  now.UnixMilli(),
		ExpiresAt:  now.Add(ttl).UnixMilli(),
		State:      stores.TokenActive,
	}
	if err := m.store.Save(ctx, string(kind), record, now); err != nil {
		return Pending{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	p := fromRecord(kind, record)
	p.Value = value
	return p, nil
}

// Validate checks submitted against the account's pending token of kind and
// consumes it on success. Expiry is checked before the value.
func (m *Manager) Validate(ctx context.Context, accountID string, kind Kind, submitted string) (Pending, error) {
	if !kind.valid() {
		return Pending{}, ErrInvalidKind
	}
	if accountID == "" {
		return Pending{}, ErrNotFound
	}

	submitted = strings.TrimSpace(submitted)
	record, err := m.store.Consume(ctx, string(kind), accountID, internal.HashSecret(submitted), m.now(), m.cfg.MaxAttempts)
	if err != nil {
		return Pending{}, mapStoreError(err)
	}
	return fromRecord(kind, record), nil
}

// Lookup reports the pending token's metadata without consuming it.
func (m *Manager) Lookup(ctx context.Context, accountID string, kind Kind) (Pending, error) {
	if !kind.valid() {
		return Pending{}, ErrInvalidKind
	}
	record, err := m.store.Get(ctx, string(kind), accountID)
	if err != nil {
		return Pending{}, mapStoreError(err)
	}
	return fromRecord(kind, record), nil
}

// Revoke removes any pending token of kind for the account.
func (m *Manager) Revoke(ctx context.Context, accountID string, kind Kind) error {
	if !kind.valid() {
		return ErrInvalidKind
	}
	if err := m.store.Delete(ctx, string(kind), accountID); err != nil {
		return mapStoreError(err)
	}
	return nil
}

func (m *Manager) generate(kind Kind) (string, error) {
	switch kind {
	case KindEmailVerification:
		return internal.NewOTP(m.cfg.CodeDigits)
	default:
		return internal.RandomToken(m.cfg.ResetTokenBytes)
	}
}

func fromRecord(kind Kind, record *stores.TokenRecord) Pending {
	return Pending{
		Kind:      kind,
		AccountID: record.AccountID,
		CreatedAt: time.UnixMilli(record.CreatedAt),
		ExpiresAt: time.UnixMilli(record.ExpiresAt),
		State:     State(record.State.String()),
		Attempts:  int(record.Attempts),
	}
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, stores.ErrTokenNotFound):
		return ErrNotFound
	case errors.Is(err, stores.ErrTokenUsed):
		return ErrAlreadyUsed
	case errors.Is(err, stores.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, stores.ErrTokenMismatch):
		return ErrMismatch
	case errors.Is(err, stores.ErrTokenAttemptsExceeded):
		return ErrAttemptsExceeded
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
