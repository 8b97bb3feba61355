// Package postgres is an authgate.AccountStore on PostgreSQL through
// database/sql and the pgx driver. Schema migrations are embedded and run
// with goose.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

const accountColumns = `id, username, email, first_name, last_name, password_hash,
	email_verified, mfa_enabled, totp_secret, created_at, updated_at`

// DBTX is the subset of database/sql the store needs. Both *sql.DB and
// *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db  DBTX
	now func() time.Time
}

func New(db DBTX) *Store {
	return &Store{db: db, now: time.Now}
}

// Open connects to dsn with the pgx driver and applies pending migrations.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return db, nil
}

// Migrate brings the schema to the latest embedded version.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (authgate.Account, error) {
	var a authgate.Account
	err := row.Scan(
		&a.ID, &a.Username, &a.Email, &a.FirstName, &a.LastName, &a.PasswordHash,
		&a.EmailVerified, &a.MFAEnabled, &a.TOTPSecret, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return authgate.Account{}, authgate.ErrAccountNotFound
	}
	if err != nil {
		return authgate.Account{}, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return authgate.ErrAccountExists
		case pgCheckViolation:
			return authgate.ErrMFAInvariant
		}
	}
	return err
}

// FindByUsernameOrEmail matches username and email case-insensitively. Empty arguments never match.
func (s *Store) FindByUsernameOrEmail(ctx context.Context, username, email string) (authgate.Account, error) {
	if username == "" && email == "" {
		return authgate.Account{}, authgate.ErrAccountNotFound
	}
	query := `SELECT ` + accountColumns + ` FROM accounts
		WHERE ($1 <> '' AND lower(username) = lower($1)) OR ($2 <> '' AND lower(email) = lower($2))
		LIMIT 1`
	return scanAccount(s.db.QueryRowContext(ctx, query, username, email))
}

func (s *Store) FindByID(ctx context.Context, id string) (authgate.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return authgate.Account{}, authgate.ErrAccountNotFound
	}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) Create(ctx context.Context, in authgate.CreateAccountInput) (authgate.Account, error) {
	now := s.now().UTC()
	query := `INSERT INTO accounts (id, username, email, first_name, last_name, password_hash,
		email_verified, mfa_enabled, totp_secret, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, FALSE, '', $7, $7)
		RETURNING ` + accountColumns

	a, err := scanAccount(s.db.QueryRowContext(ctx, query,
		uuid.NewString(), in.Username, in.Email, in.FirstName, in.LastName, in.PasswordHash, now))
	if err != nil {
		return authgate.Account{}, mapWriteError(err)
	}
	return a, nil
}

// Update writes the non-nil fields of upd in one statement.
func (s *Store) Update(ctx context.Context, id string, upd authgate.AccountUpdate) (authgate.Account, error) {
	if upd.MFA != nil && !upd.MFA.Valid() {
		return authgate.Account{}, authgate.ErrMFAInvariant
	}
	if _, err := uuid.Parse(id); err != nil {
		return authgate.Account{}, authgate.ErrAccountNotFound
	}

	var (
		passwordHash  sql.NullString
		emailVerified sql.NullBool
		mfaEnabled    sql.NullBool
		totpSecret    sql.NullString
	)
	if upd.PasswordHash != nil {
		passwordHash = sql.NullString{String: *upd.PasswordHash, Valid: true}
	}
	if upd.EmailVerified != nil {
		emailVerified = sql.NullBool{Bool: *upd.EmailVerified, Valid: true}
	}
	if upd.MFA != nil {
		mfaEnabled = sql.NullBool{Bool: upd.MFA.Enabled(), Valid: true}
		totpSecret = sql.NullString{String: upd.MFA.Secret(), Valid: true}
	}

	query := `UPDATE accounts SET
		password_hash = COALESCE($2, password_hash),
		email_verified = COALESCE($3, email_verified),
		mfa_enabled = COALESCE($4, mfa_enabled),
		totp_secret = COALESCE($5, totp_secret),
		updated_at = $6
		WHERE id = $1
		RETURNING ` + accountColumns

	a, err := scanAccount(s.db.QueryRowContext(ctx, query,
		id, passwordHash, emailVerified, mfaEnabled, totpSecret, s.now().UTC()))
	if err != nil {
		return authgate.Account{}, mapWriteError(err)
	}
	return a, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return authgate.ErrAccountNotFound
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return authgate.ErrAccountNotFound
	}
	return nil
}
