package authgate

import (
	"context"
	"time"
)

// Account is the persisted identity record. TOTPSecret is non-empty exactly
// when MFAEnabled is true.
type Account struct {
	ID            string
	Username      string
	Email         string
	FirstName     string
	LastName      string
	PasswordHash  string
	EmailVerified bool
	MFAEnabled    bool
	TOTPSecret    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// View returns the public projection of the account.
func (a Account) View() AccountView {
	return AccountView{
		ID:            a.ID,
		Username:      a.Username,
		Email:         a.Email,
		FirstName:     a.FirstName,
		LastName:      a.LastName,
		EmailVerified: a.EmailVerified,
		MFAEnabled:    a.MFAEnabled,
	}
}

// AccountView is safe to hand to clients: it never carries the password
// digest or TOTP secret.
type AccountView struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	EmailVerified bool   `json:"emailVerified"`
	MFAEnabled    bool   `json:"isMfaActive"`
}

// CreateAccountInput is what the Engine hands to AccountStore.Create.
type CreateAccountInput struct {
	Username     string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
}

// MFAState is the only way to change MFA fields. Build it with EnableMFA or
// DisableMFA so the flag and the secret move together.
type MFAState struct {
	enabled bool
	secret  string
}

// EnableMFA binds secret to the account.
func EnableMFA(secret string) MFAState {
	return MFAState{enabled: true, secret: secret}
}

// DisableMFA clears both the flag and the secret.
func DisableMFA() MFAState {
	return MFAState{}
}

func (m MFAState) Enabled() bool  { return m.enabled }
func (m MFAState) Secret() string { return m.secret }

// Valid reports whether the flag/secret pair satisfies the MFA invariant.
func (m MFAState) Valid() bool {
	return m.enabled == (m.secret != "")
}

// AccountUpdate is a partial update; nil fields are left untouched.
type AccountUpdate struct {
	PasswordHash  *string
	EmailVerified *bool
	MFA           *MFAState
}

// AccountStore persists accounts. Implementations enforce username and email
// uniqueness (ErrAccountExists), report missing rows as ErrAccountNotFound,
// and reject an AccountUpdate whose MFA state is not Valid with
// ErrMFAInvariant.
type AccountStore interface {
	// FindByUsernameOrEmail returns the account matching either value, both
	// compared case-insensitively. Empty arguments never match.
	FindByUsernameOrEmail(ctx context.Context, username, email string) (Account, error)
	FindByID(ctx context.Context, id string) (Account, error)
	Create(ctx context.Context, in CreateAccountInput) (Account, error)
	Update(ctx context.Context, id string, upd AccountUpdate) (Account, error)
	Delete(ctx context.Context, id string) error
}

// Mailer delivers a message out of band.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SessionHandle is the per-request view of a server-side session.
type SessionHandle interface {
	ID() string
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Destroy(ctx context.Context) error
}

// SessionAuthState is the authentication state carried by a session.
type SessionAuthState struct {
	AccountID         string
	TwoFactorVerified bool
}

// Authenticated reports whether an account is bound to the session.
func (s SessionAuthState) Authenticated() bool {
	return s.AccountID != ""
}

// TOTPState is the derived enrollment state of an account in one session.
type TOTPState string

const (
	TOTPDisabled    TOTPState = "disabled"
	TOTPProvisioned TOTPState = "provisioned"
	TOTPActive      TOTPState = "active"
)

// RegisterInput is the sign-up request.
type RegisterInput struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// Registration is the result of a successful sign-up.
type Registration struct {
	Account AccountView `json:"account"`
	// DeliveryWarning is set when the verification email could not be sent.
	// The account exists regardless; the caller should offer a resend.
	DeliveryWarning string `json:"deliveryWarning,omitempty"`
}

// LoginResult is returned after the session has been bound to the account.
type LoginResult struct {
	Account           AccountView `json:"account"`
	TwoFactorRequired bool        `json:"twoFactorRequired"`
}

// AuthStatus describes the session's current authentication state.
type AuthStatus struct {
	Account           AccountView `json:"account"`
	MFAEnabled        bool        `json:"isMfaActive"`
	TwoFactorVerified bool        `json:"is2faVerified"`
	TOTP              TOTPState   `json:"totpState"`
}

// TOTPSetup is returned once when TOTP is enrolled. It is the only payload
// that ever carries the shared secret.
type TOTPSetup struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
}
