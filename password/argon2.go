package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	argon2Prefix          = "$argon2id$"
)

// Config holds argon2id cost parameters.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns the parameters used for newly hashed passwords.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2 hashes passwords with argon2id into PHC strings.
type Argon2 struct {
	config Config
}

type argon2Digest struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

// NewArgon2 validates cfg against the minimum cost floor.
func NewArgon2(cfg Config) (*Argon2, error) {
	switch {
	case cfg.Memory < minMemoryKB:
		return nil, errors.New("password memory must be >= 8192 KB")
	case cfg.Time < minTimeCost:
		return nil, errors.New("password time must be >= 1")
	case cfg.Parallelism < minParallelism:
		return nil, errors.New("password parallelism must be >= 1")
	case cfg.SaltLength < minSaltLength:
		return nil, errors.New("password salt length must be >= 16")
	case cfg.KeyLength < minKeyLength:
		return nil, errors.New("password key length must be >= 16")
	}
	return &Argon2{config: cfg}, nil
}

// Hash derives a digest with a fresh random salt. Plaintext bytes are used
// exactly as given.
func (a *Argon2) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(plaintext), salt, a.config.Time, a.config.Memory, a.config.Parallelism, a.config.KeyLength)

	return fmt.Sprintf(
		"%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Prefix,
		argon2.Version,
		a.config.Memory,
		a.config.Time,
		a.config.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the key with the digest's own parameters and compares in
// constant time. A malformed digest is an error, a wrong password is not.
func (a *Argon2) Verify(plaintext, digest string) (bool, error) {
	d, err := parseArgon2(digest)
	if err != nil {
		return false, err
	}
	key := argon2.IDKey([]byte(plaintext), d.salt, d.time, d.memory, d.parallelism, uint32(len(d.key)))
	return subtle.ConstantTimeCompare(key, d.key) == 1, nil
}

// Handles reports whether digest is an argon2id PHC string.
func (a *Argon2) Handles(digest string) bool {
	return strings.HasPrefix(digest, argon2Prefix)
}

// NeedsUpgrade reports digests hashed with weaker parameters than the
// current configuration.
func (a *Argon2) NeedsUpgrade(digest string) (bool, error) {
	d, err := parseArgon2(digest)
	if err != nil {
		return false, err
	}
	weaker := a.config.Memory > d.memory ||
		a.config.Time > d.time ||
		a.config.Parallelism > d.parallelism ||
		int(a.config.KeyLength) != len(d.key)
	return weaker, nil
}

func parseArgon2(digest string) (*argon2Digest, error) {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return nil, ErrMalformedDigest
	}

	version, ok := strings.CutPrefix(parts[2], "v=")
	if !ok || version != strconv.Itoa(argon2.Version) {
		return nil, errors.New("unsupported argon2 version")
	}

	d := &argon2Digest{}
	seen := 0
	for _, kv := range strings.Split(parts[3], ",") {
		name, raw, found := strings.Cut(kv, "=")
		if !found {
			return nil, ErrMalformedDigest
		}
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return nil, ErrMalformedDigest
		}
		switch name {
		case "m":
			if v < uint64(minMemoryKB) {
				return nil, errors.New("invalid memory parameter")
			}
			d.memory = uint32(v)
		case "t":
			if v < uint64(minTimeCost) {
				return nil, errors.New("invalid time parameter")
			}
			d.time = uint32(v)
		case "p":
			if v < uint64(minParallelism) || v > 255 {
				return nil, errors.New("invalid parallelism parameter")
			}
			d.parallelism = uint8(v)
		default:
			return nil, errors.New("unsupported parameter")
		}
		seen++
	}
	if seen != 3 || d.memory == 0 || d.time == 0 || d.parallelism == 0 {
		return nil, errors.New("missing parameters")
	}

	var err error
	if d.salt, err = base64.StdEncoding.DecodeString(parts[4]); err != nil || len(d.salt) < int(minSaltLength) {
		return nil, errors.New("invalid salt")
	}
	if d.key, err = base64.StdEncoding.DecodeString(parts[5]); err != nil || len(d.key) == 0 {
		return nil, errors.New("invalid hash")
	}
	return d, nil
}
