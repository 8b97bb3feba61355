package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

var (
	ErrSessionIDFormat = errors.New("malformed session id")
	ErrSecretSize      = errors.New("secret size out of range")
)

const (
	minTokenBytes = 16
	maxTokenBytes = 64
	minOTPDigits  = 6
	maxOTPDigits  = 10

	// largest multiple of 10 that fits in a byte; bytes at or above it are
	// redrawn so every digit is equally likely.
	digitCeiling = 250
)

var encoding = base64.RawURLEncoding

// SessionID is 128 random bits rendered as unpadded base64url.
type SessionID [16]byte

func NewSessionID() (SessionID, error) {
	var sid SessionID
	if _, err := rand.Read(sid[:]); err != nil {
		return SessionID{}, fmt.Errorf("session id: %w", err)
	}
	return sid, nil
}

func (s SessionID) String() string {
	return encoding.EncodeToString(s[:])
}

func ParseSessionID(v string) (SessionID, error) {
	var sid SessionID
	if encoding.DecodedLen(len(v)) != len(sid) {
		return SessionID{}, ErrSessionIDFormat
	}
	n, err := encoding.Decode(sid[:], []byte(v))
	if err != nil || n != len(sid) {
		return SessionID{}, ErrSessionIDFormat
	}
	return sid, nil
}

// RandomToken returns n random bytes as unpadded base64url.
func RandomToken(n int) (string, error) {
	if n < minTokenBytes || n > maxTokenBytes {
		return "", ErrSecretSize
	}
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("random token: %w", err)
	}
	return encoding.EncodeToString(raw), nil
}

// HashSecret is the at-rest form of every single-use secret.
func HashSecret(secret string) [32]byte {
	return sha256.Sum256([]byte(secret))
}

// NewOTP returns a uniformly distributed numeric code of the given length.
func NewOTP(digits int) (string, error) {
	if digits < minOTPDigits || digits > maxOTPDigits {
		return "", ErrSecretSize
	}
	code := make([]byte, 0, digits)
	pool := make([]byte, digits*2)
	for len(code) < digits {
		if _, err := rand.Read(pool); err != nil {
			return "", fmt.Errorf("otp: %w", err)
		}
		for _, b := range pool {
			if b >= digitCeiling {
				continue
			}
			code = append(code, '0'+b%10)
			if len(code) == digits {
				break
			}
		}
	}
	return string(code), nil
}
