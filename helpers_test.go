package authgate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

// testConfig keeps production semantics with the cheapest argon2 cost.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Mail.AppName = "Example"
	cfg.Mail.ResetURL = "https://app.example.com/reset-password"
	return cfg
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type mockAccountStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	seq      int
	// fail, when set, is returned by every method.
	fail error
}

func newMockAccountStore() *mockAccountStore {
	return &mockAccountStore{accounts: map[string]Account{}}
}

func (s *mockAccountStore) FindByUsernameOrEmail(_ context.Context, username, email string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return Account{}, s.fail
	}
	for _, a := range s.accounts {
		if (username != "" && strings.EqualFold(a.Username, username)) || (email != "" && strings.EqualFold(a.Email, email)) {
			return a, nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func (s *mockAccountStore) FindByID(_ context.Context, id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return Account{}, s.fail
	}
	a, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (s *mockAccountStore) Create(_ context.Context, in CreateAccountInput) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return Account{}, s.fail
	}
	for _, a := range s.accounts {
		if strings.EqualFold(a.Username, in.Username) || strings.EqualFold(a.Email, in.Email) {
			return Account{}, ErrAccountExists
		}
	}
	s.seq++
	now := time.Now().UTC()
	a := Account{
		ID:           fmt.Sprintf("acct-%d", s.seq),
		Username:     in.Username,
		Email:        in.Email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PasswordHash: in.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.accounts[a.ID] = a
	return a, nil
}

func (s *mockAccountStore) Update(_ context.Context, id string, upd AccountUpdate) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return Account{}, s.fail
	}
	a, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	if upd.MFA != nil && !upd.MFA.Valid() {
		return Account{}, ErrMFAInvariant
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
	a.UpdatedAt = time.Now().UTC()
	s.accounts[id] = a
	return a, nil
}

func (s *mockAccountStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return ErrAccountNotFound
	}
	delete(s.accounts, id)
	return nil
}

func (s *mockAccountStore) byUsername(t *testing.T, username string) Account {
	t.Helper()
	a, err := s.FindByUsernameOrEmail(context.Background(), username, "")
	if err != nil {
		t.Fatalf("account %q: %v", username, err)
	}
	return a
}

type sentMail struct {
	to      string
	subject string
	body    string
}

type captureMailer struct {
	mu   sync.Mutex
	sent []sentMail
	fail error
}

func (m *captureMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *captureMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no mail sent")
	}
	return m.sent[len(m.sent)-1]
}

var (
	verificationCodePattern = regexp.MustCompile(`code is (\d+)`)
	resetLinkPattern        = regexp.MustCompile(`/reset-password/(\S+)`)
)

func (m *captureMailer) verificationCode(t *testing.T) string {
	t.Helper()
	match := verificationCodePattern.FindStringSubmatch(m.last(t).body)
	if match == nil {
		t.Fatalf("no verification code in mail: %q", m.last(t).body)
	}
	return match[1]
}

func (m *captureMailer) resetToken(t *testing.T) string {
	t.Helper()
	match := resetLinkPattern.FindStringSubmatch(m.last(t).body)
	if match == nil {
		t.Fatalf("no reset link in mail: %q", m.last(t).body)
	}
	return match[1]
}

type testEnv struct {
	engine   *Engine
	accounts *mockAccountStore
	mailer   *captureMailer
	clock    *fakeClock
	mr       *miniredis.Miniredis
}

func newTestEnv(t *testing.T, cfg Config, opts ...func(*Builder)) *testEnv {
	t.Helper()

	mr, rdb := newTestRedis(t)
	env := &testEnv{
		accounts: newMockAccountStore(),
		mailer:   &captureMailer{},
		clock:    newFakeClock(),
		mr:       mr,
	}

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(env.accounts).
		WithMailer(env.mailer).
		WithClock(env.clock.Now)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}
	env.engine = engine

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return env
}

func (env *testEnv) session(t *testing.T) SessionHandle {
	t.Helper()
	h, err := env.engine.NewSession(context.Background())
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	return h
}

func registerInput(username, email string) RegisterInput {
	return RegisterInput{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Username:  username,
		Email:     email,
		Password:  "abcd1234",
	}
}

// registerVerified registers an account and completes email verification.
func (env *testEnv) registerVerified(t *testing.T, username, email string) Account {
	t.Helper()
	ctx := context.Background()

	if _, err := env.engine.Register(ctx, registerInput(username, email)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := env.engine.VerifyEmail(ctx, email, env.mailer.verificationCode(t)); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	return env.accounts.byUsername(t, username)
}

func (env *testEnv) login(t *testing.T, username string) SessionHandle {
	t.Helper()
	h := env.session(t)
	if _, err := env.engine.Login(context.Background(), h, username, "abcd1234"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return h
}

func totpCodeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, at)
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	return code
}

func mustState(t *testing.T, h SessionHandle) SessionAuthState {
	t.Helper()
	state, err := readSessionState(context.Background(), h)
	if err != nil {
		t.Fatalf("readSessionState failed: %v", err)
	}
	return state
}

var errBoom = errors.New("boom")
