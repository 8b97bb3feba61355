package authgate

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type write struct {
	key   string
	value string
}

// recordingHandle is an in-memory SessionHandle that logs every write.
type recordingHandle struct {
	fields    map[string]string
	writes    []write
	failOn    string
	destroyed int
}

func newRecordingHandle() *recordingHandle {
	return &recordingHandle{fields: map[string]string{}}
}

func (h *recordingHandle) ID() string { return "rec" }

func (h *recordingHandle) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := h.fields[key]
	return v, ok, nil
}

func (h *recordingHandle) Set(_ context.Context, key, value string) error {
	if key == h.failOn {
		return errBoom
	}
	h.writes = append(h.writes, write{key, value})
	h.fields[key] = value
	return nil
}

func (h *recordingHandle) Destroy(context.Context) error {
	h.destroyed++
	h.fields = map[string]string{}
	return nil
}

func TestOnLoginSuccessClearsFlagBeforeBinding(t *testing.T) {
	h := newRecordingHandle()
	h.fields[sessionKeyAccountID] = "acct-old"
	h.fields[sessionKeyTwoFactor] = "true"

	if err := onLoginSuccess(context.Background(), h, Account{ID: "acct-new"}); err != nil {
		t.Fatalf("onLoginSuccess failed: %v", err)
	}

	want := []write{{sessionKeyTwoFactor, "false"}, {sessionKeyAccountID, "acct-new"}}
	if len(h.writes) != len(want) {
		t.Fatalf("expected %d writes, got %+v", len(want), h.writes)
	}
	for i := range want {
		if h.writes[i] != want[i] {
			t.Fatalf("write %d: expected %+v, got %+v", i, want[i], h.writes[i])
		}
	}
}

func TestOnLoginSuccessStopsWhenFlagWriteFails(t *testing.T) {
	h := newRecordingHandle()
	h.failOn = sessionKeyTwoFactor

	if err := onLoginSuccess(context.Background(), h, Account{ID: "acct-1"}); !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
	if _, ok := h.fields[sessionKeyAccountID]; ok {
		t.Fatal("account must not be bound when the flag write fails")
	}
}

func TestReadSessionState(t *testing.T) {
	h := newRecordingHandle()
	state, err := readSessionState(context.Background(), h)
	if err != nil || state.Authenticated() || state.TwoFactorVerified {
		t.Fatalf("expected anonymous state, got %+v, %v", state, err)
	}

	h.fields[sessionKeyAccountID] = "acct-1"
	h.fields[sessionKeyTwoFactor] = "true"
	state, err = readSessionState(context.Background(), h)
	if err != nil || state.AccountID != "acct-1" || !state.TwoFactorVerified {
		t.Fatalf("unexpected state %+v, %v", state, err)
	}

	h.fields[sessionKeyTwoFactor] = "garbage"
	if state, _ = readSessionState(context.Background(), h); state.TwoFactorVerified {
		t.Fatal("unparseable flag must read as false")
	}
}

func TestRequireTwoFactorTable(t *testing.T) {
	cases := []struct {
		name     string
		mfa      bool
		verified bool
		want     error
	}{
		{"no mfa", false, false, nil},
		{"no mfa stale flag", false, true, nil},
		{"mfa unverified", true, false, ErrTwoFactorRequired},
		{"mfa verified", true, true, nil},
	}
	for _, tc := range cases {
		err := requireTwoFactor(SessionAuthState{AccountID: "a", TwoFactorVerified: tc.verified}, Account{MFAEnabled: tc.mfa})
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestRequireEmailVerified(t *testing.T) {
	if err := requireEmailVerified(Account{}); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}
	if err := requireEmailVerified(Account{EmailVerified: true}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestOnLogoutJoinsHookErrorsAndDestroys(t *testing.T) {
	errOther := errors.New("other")
	e := &Engine{
		logger: zap.NewNop(),
		logoutHooks: []LogoutHook{
			func(context.Context, SessionAuthState) error { return errBoom },
			func(context.Context, SessionAuthState) error { return nil },
			func(context.Context, SessionAuthState) error { return errOther },
		},
	}
	h := newRecordingHandle()

	err := e.onLogout(context.Background(), h, SessionAuthState{AccountID: "acct-1"})
	if !errors.Is(err, errBoom) || !errors.Is(err, errOther) {
		t.Fatalf("expected both hook errors, got %v", err)
	}
	if h.destroyed != 1 {
		t.Fatalf("expected one destroy, got %d", h.destroyed)
	}
}

func TestOnLogoutRecoversPanic(t *testing.T) {
	e := &Engine{
		logger: zap.NewNop(),
		logoutHooks: []LogoutHook{
			func(context.Context, SessionAuthState) error { panic("hook") },
		},
	}
	h := newRecordingHandle()

	if err := e.onLogout(context.Background(), h, SessionAuthState{}); err == nil {
		t.Fatal("expected an error from the panicking hook")
	}
	if h.destroyed != 1 {
		t.Fatalf("expected one destroy, got %d", h.destroyed)
	}
}
