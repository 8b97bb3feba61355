// Package memory is an in-process authgate.AccountStore for development and
// tests. Data does not survive a restart.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/google/uuid"
)

// Store keeps accounts in maps guarded by a RWMutex. Usernames and emails
// both match case-insensitively.
type Store struct {
	mu         sync.RWMutex
	byID       map[string]authgate.Account
	byUsername map[string]string
	byEmail    map[string]string
	now        func() time.Time
}

func New() *Store {
	return &Store{
		byID:       make(map[string]authgate.Account),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		now:        time.Now,
	}
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func usernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (s *Store) FindByUsernameOrEmail(_ context.Context, username, email string) (authgate.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if username != "" {
		if id, ok := s.byUsername[usernameKey(username)]; ok {
			return s.byID[id], nil
		}
	}
	if email != "" {
		if id, ok := s.byEmail[emailKey(email)]; ok {
			return s.byID[id], nil
		}
	}
	return authgate.Account{}, authgate.ErrAccountNotFound
}

func (s *Store) FindByID(_ context.Context, id string) (authgate.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[id]
	if !ok {
		return authgate.Account{}, authgate.ErrAccountNotFound
	}
	return a, nil
}

func (s *Store) Create(_ context.Context, in authgate.CreateAccountInput) (authgate.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[usernameKey(in.Username)]; ok {
		return authgate.Account{}, authgate.ErrAccountExists
	}
	if _, ok := s.byEmail[emailKey(in.Email)]; ok {
		return authgate.Account{}, authgate.ErrAccountExists
	}

	now := s.now().UTC()
	a := authgate.Account{
		ID:           uuid.NewString(),
		Username:     in.Username,
		Email:        in.Email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PasswordHash: in.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.byID[a.ID] = a
	s.byUsername[usernameKey(a.Username)] = a.ID
	s.byEmail[emailKey(a.Email)] = a.ID
	return a, nil
}

// Update applies upd atomically. An invalid MFA state is rejected before any
// field changes.
func (s *Store) Update(_ context.Context, id string, upd authgate.AccountUpdate) (authgate.Account, error) {
	if upd.MFA != nil && !upd.MFA.Valid() {
		return authgate.Account{}, authgate.ErrMFAInvariant
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return authgate.Account{}, authgate.ErrAccountNotFound
	}
	if upd.PasswordHash != nil {
		a.PasswordHash = *upd.PasswordHash
	}
	if upd.EmailVerified != nil {
		a.EmailVerified = *upd.EmailVerified
	}
	if upd.MFA != nil {
		a.MFAEnabled = upd.MFA.Enabled()
		a.TOTPSecret = upd.MFA.Secret()
	}
	a.UpdatedAt = s.now().UTC()
	s.byID[id] = a
	return a, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return authgate.ErrAccountNotFound
	}
	delete(s.byID, id)
	delete(s.byUsername, usernameKey(a.Username))
	delete(s.byEmail, emailKey(a.Email))
	return nil
}

// Len reports the number of stored accounts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
