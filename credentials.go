package authgate

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/authgate/password"
)

// Credentials is what a client presents to log in.
type Credentials struct {
	Username string
	Password string
}

// CredentialVerifier turns presented credentials into an account. It returns
// ErrInvalidCredentials when they do not match; any other error is treated as
// a collaborator failure.
type CredentialVerifier interface {
	Verify(ctx context.Context, creds Credentials) (Account, error)
}

// passwordVerifier looks accounts up by username and checks the password
// digest. Unknown usernames still pay for one digest comparison.
type passwordVerifier struct {
	accounts  AccountStore
	hasher    password.Hasher
	decoyHash string
}

func newPasswordVerifier(accounts AccountStore, hasher password.Hasher) (*passwordVerifier, error) {
	decoy, err := hasher.Hash("decoy-password-for-unknown-users")
	if err != nil {
		return nil, err
	}
	return &passwordVerifier{accounts: accounts, hasher: hasher, decoyHash: decoy}, nil
}

func (v *passwordVerifier) Verify(ctx context.Context, creds Credentials) (Account, error) {
	username := strings.TrimSpace(creds.Username)
	if username == "" || creds.Password == "" {
		return Account{}, ErrInvalidCredentials
	}

	account, err := v.accounts.FindByUsernameOrEmail(ctx, username, "")
	if errors.Is(err, ErrAccountNotFound) {
		_, _ = v.hasher.Verify(creds.Password, v.decoyHash)
		return Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return Account{}, err
	}

	ok, err := v.hasher.Verify(creds.Password, account.PasswordHash)
	if err != nil {
		return Account{}, err
	}
	if !ok {
		return Account{}, ErrInvalidCredentials
	}
	return account, nil
}
