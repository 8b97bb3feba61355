package middleware

import (
	"context"
	"net/http"

	"github.com/MrEthical07/authgate"
)

type accountContextKey struct{}

// AccountFromContext returns the account placed on the request by
// RequireTwoFactor.
func AccountFromContext(ctx context.Context) (*authgate.AccountView, bool) {
	a, ok := ctx.Value(accountContextKey{}).(*authgate.AccountView)
	return a, ok
}

// SessionResolver finds the server-side session a request belongs to.
type SessionResolver func(r *http.Request) (authgate.SessionHandle, error)

// ErrorWriter renders a rejected request.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// TwoFactorChecker is the Engine operation the guard delegates to.
type TwoFactorChecker interface {
	RequireTwoFactor(ctx context.Context, h authgate.SessionHandle) (*authgate.AccountView, error)
}

// RequireTwoFactor admits a request only when its session is logged in and,
// for MFA-enabled accounts, has passed VerifyTOTP. A nil onError writes a
// plain-text error with StatusFor's code.
func RequireTwoFactor(checker TwoFactorChecker, resolve SessionResolver, onError ErrorWriter) func(http.Handler) http.Handler {
	if onError == nil {
		onError = plainError
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if checker == nil || resolve == nil {
				onError(w, r, authgate.ErrUnauthorized)
				return
			}

			h, err := resolve(r)
			if err != nil {
				onError(w, r, err)
				return
			}

			account, err := checker.RequireTwoFactor(r.Context(), h)
			if err != nil {
				onError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), accountContextKey{}, account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// StatusFor maps a classified Engine outcome to an HTTP status. Gating
// outcomes are 403: the caller is known but must finish another step.
func StatusFor(o authgate.Outcome) int {
	if o.Gating() {
		return http.StatusForbidden
	}
	switch o.Status {
	case authgate.StatusSuccess:
		return http.StatusOK
	case authgate.StatusValidationError:
		return http.StatusBadRequest
	case authgate.StatusUnauthorized:
		return http.StatusUnauthorized
	case authgate.StatusConflict:
		return http.StatusConflict
	case authgate.StatusNotFound:
		return http.StatusNotFound
	case authgate.StatusRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func plainError(w http.ResponseWriter, _ *http.Request, err error) {
	o := authgate.Classify(err)
	http.Error(w, o.Message, StatusFor(o))
}
