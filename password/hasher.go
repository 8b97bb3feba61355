package password

import "errors"

var (
	ErrEmptyPassword   = errors.New("password must not be empty")
	ErrMalformedDigest = errors.New("malformed password digest")
	ErrUnknownDigest   = errors.New("unrecognized password digest")
)

// Hasher turns plaintext into a one-way digest and checks plaintext against
// one. Implementations must be safe for concurrent use.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) (bool, error)
}

type scheme interface {
	Hasher
	Handles(digest string) bool
	NeedsUpgrade(digest string) (bool, error)
}

// Multi hashes with its primary scheme and verifies any digest format one
// of its schemes recognizes.
type Multi struct {
	primary scheme
	legacy  []scheme
}

// NewMulti builds the default hasher: argon2id for new digests, bcrypt for
// existing ones.
func NewMulti(cfg Config, bcryptCost int) (*Multi, error) {
	a, err := NewArgon2(cfg)
	if err != nil {
		return nil, err
	}
	b, err := NewBcrypt(bcryptCost)
	if err != nil {
		return nil, err
	}
	return &Multi{primary: a, legacy: []scheme{b}}, nil
}

func (m *Multi) Hash(plaintext string) (string, error) {
	return m.primary.Hash(plaintext)
}

func (m *Multi) Verify(plaintext, digest string) (bool, error) {
	s, err := m.schemeFor(digest)
	if err != nil {
		return false, err
	}
	return s.Verify(plaintext, digest)
}

// NeedsUpgrade is true for digests in a legacy format or with parameters
// weaker than the primary scheme's.
func (m *Multi) NeedsUpgrade(digest string) bool {
	s, err := m.schemeFor(digest)
	if err != nil {
		return false
	}
	if s != m.primary {
		return true
	}
	weaker, err := s.NeedsUpgrade(digest)
	return err == nil && weaker
}

func (m *Multi) schemeFor(digest string) (scheme, error) {
	if m.primary.Handles(digest) {
		return m.primary, nil
	}
	for _, s := range m.legacy {
		if s.Handles(digest) {
			return s, nil
		}
	}
	return nil, ErrUnknownDigest
}
