package authgate

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/authgate/session"
	"go.uber.org/zap"
)

const (
	sessionKeyAccountID = session.FieldAccountID
	sessionKeyTwoFactor = "two_factor_verified"
)

// LogoutHook runs during logout, before the session is destroyed. A hook
// error is reported but never prevents destruction.
type LogoutHook func(ctx context.Context, state SessionAuthState) error

func readSessionState(ctx context.Context, h SessionHandle) (SessionAuthState, error) {
	var state SessionAuthState

	accountID, _, err := h.Get(ctx, sessionKeyAccountID)
	if err != nil {
		return state, err
	}
	state.AccountID = accountID

	raw, ok, err := h.Get(ctx, sessionKeyTwoFactor)
	if err != nil {
		return state, err
	}
	if ok {
		state.TwoFactorVerified, _ = strconv.ParseBool(raw)
	}
	return state, nil
}

func setTwoFactorVerified(ctx context.Context, h SessionHandle, verified bool) error {
	return h.Set(ctx, sessionKeyTwoFactor, strconv.FormatBool(verified))
}

// onLoginSuccess clears the second-factor flag before binding the account,
// so a reader never sees the new account paired with a stale flag.
func onLoginSuccess(ctx context.Context, h SessionHandle, account Account) error {
	if err := setTwoFactorVerified(ctx, h, false); err != nil {
		return err
	}
	return h.Set(ctx, sessionKeyAccountID, account.ID)
}

func requireEmailVerified(account Account) error {
	if !account.EmailVerified {
		return ErrEmailNotVerified
	}
	return nil
}

func requireTwoFactor(state SessionAuthState, account Account) error {
	if account.MFAEnabled && !state.TwoFactorVerified {
		return ErrTwoFactorRequired
	}
	return nil
}

// onLogout runs the hooks and then destroys the session on every path.
func (e *Engine) onLogout(ctx context.Context, h SessionHandle, state SessionAuthState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("logout hook panicked", zap.Any("panic", r))
			err = errors.Join(err, errors.New("logout hook panicked"))
		}
		if derr := h.Destroy(ctx); derr != nil {
			err = errors.Join(err, derr)
		}
	}()

	for _, hook := range e.logoutHooks {
		if herr := hook(ctx, state); herr != nil {
			err = errors.Join(err, herr)
		}
	}
	return err
}
