package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// LegacyBcryptCost is the cost factor digests were produced with before
// argon2id became the default.
const LegacyBcryptCost = 12

// Bcrypt verifies (and can still produce) bcrypt digests.
type Bcrypt struct {
	cost int
}

func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost == 0 {
		cost = LegacyBcryptCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, errors.New("bcrypt cost out of range")
	}
	return &Bcrypt{cost: cost}, nil
}

func (b *Bcrypt) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPassword
	}
	out, err := bcrypt.GenerateFromPassword([]byte(plaintext), b.cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (b *Bcrypt) Verify(plaintext, digest string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, ErrMalformedDigest
	}
}

func (b *Bcrypt) Handles(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") ||
		strings.HasPrefix(digest, "$2b$") ||
		strings.HasPrefix(digest, "$2y$")
}

func (b *Bcrypt) NeedsUpgrade(digest string) (bool, error) {
	cost, err := bcrypt.Cost([]byte(digest))
	if err != nil {
		return false, ErrMalformedDigest
	}
	return cost < b.cost, nil
}
