// Package httpapi serves authgate.Engine over JSON/HTTP. Sessions are named
// by a signed cookie; every route runs behind a per-IP token bucket.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/middleware"
	"github.com/MrEthical07/authgate/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

// Options configures the HTTP surface. CookieSecret is required.
type Options struct {
	CookieName   string
	CookieSecret []byte
	CookieIssuer string
	CookieTTL    time.Duration
	SecureCookie bool

	// RequestsPerSecond and Burst size the per-IP bucket. Zero disables it.
	RequestsPerSecond float64
	Burst             int

	// TrustProxyHeaders takes the client IP from X-Forwarded-For.
	TrustProxyHeaders bool
	MaxBodyBytes      int64

	// MetricsHandler, when set, is mounted at GET /metrics.
	MetricsHandler http.Handler

	Logger *zap.Logger
}

func (o *Options) setDefaults() {
	if o.CookieName == "" {
		o.CookieName = "authgate_session"
	}
	if o.CookieTTL == 0 {
		o.CookieTTL = 24 * time.Hour
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 1 << 20
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Server is an http.Handler exposing the Engine's operations.
type Server struct {
	engine   *authgate.Engine
	cookies  *cookieCodec
	throttle *ipThrottle
	logger   *zap.Logger
	opts     Options
	handler  http.Handler
}

func New(engine *authgate.Engine, opts Options) (*Server, error) {
	if engine == nil {
		return nil, authgate.ErrEngineNotReady
	}
	opts.setDefaults()
	cookies, err := newCookieCodec(opts)
	if err != nil {
		return nil, err
	}

	s := &Server{
		engine:   engine,
		cookies:  cookies,
		throttle: newIPThrottle(opts.RequestsPerSecond, opts.Burst),
		logger:   opts.Logger.Named("http"),
		opts:     opts,
	}
	s.handler = s.withRequestContext(s.routes())
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/status", s.handleStatus)

	mux.HandleFunc("POST /api/auth/2fa/setup", s.handleTOTPSetup)
	mux.HandleFunc("POST /api/auth/2fa/verify", s.handleTOTPVerify)
	mux.HandleFunc("POST /api/auth/2fa/reset", s.handleTOTPReset)
	mux.HandleFunc("GET /api/auth/2fa/status", s.handleTOTPStatus)

	mux.HandleFunc("POST /api/auth/verify-email", s.handleVerifyEmail)
	mux.HandleFunc("POST /api/auth/verify-email/resend", s.handleResendVerification)
	mux.HandleFunc("POST /api/auth/forgot-password", s.handleForgotPassword)
	mux.HandleFunc("POST /api/auth/reset-password", s.handleResetPassword)
	mux.HandleFunc("POST /api/auth/reset-password/{token}", s.handleResetPassword)
	mux.HandleFunc("POST /api/auth/change-password", s.handleChangePassword)

	guard := middleware.RequireTwoFactor(s.engine, s.resolveSession, s.writeError)
	mux.Handle("GET /api/protected", guard(http.HandlerFunc(s.handleProtected)))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", s.opts.MetricsHandler)
	}
	return mux
}

// withRequestContext attaches the request id and client IP the Engine logs
// and audits with, applies the per-IP throttle and writes the access log.
func (s *Server) withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		ip := s.clientIP(r)
		w.Header().Set(requestIDHeader, requestID)

		ctx := authgate.WithRequestID(r.Context(), requestID)
		ctx = authgate.WithClientIP(ctx, ip)
		r = r.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("handler panic",
					zap.Any("panic", p),
					zap.String("request_id", requestID),
				)
				if !rec.wrote {
					writeJSON(rec, http.StatusInternalServerError, errorBody(authgate.Classify(authgate.ErrServerError)))
				}
			}
			s.logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID),
				zap.String("client_ip", ip),
			)
		}()

		if !s.throttle.allow(ip) {
			w.Header().Set("Retry-After", "1")
			writeJSON(rec, http.StatusTooManyRequests, errorBody(authgate.Outcome{
				Status:  authgate.StatusRateLimited,
				Kind:    authgate.KindRateLimited,
				Message: "too many requests",
			}))
			return
		}
		next.ServeHTTP(rec, r)
	})
}

func (s *Server) clientIP(r *http.Request) string {
	if s.opts.TrustProxyHeaders {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// resolveSession opens the session named by the request cookie. A missing,
// forged or expired cookie is ErrUnauthorized.
func (s *Server) resolveSession(r *http.Request) (authgate.SessionHandle, error) {
	h, err := s.currentSession(r)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (s *Server) currentSession(r *http.Request) (*session.Handle, error) {
	sid, err := s.cookies.read(r)
	if err != nil {
		return nil, authgate.ErrUnauthorized
	}
	return s.engine.OpenSession(r.Context(), sid)
}

// discardSession drops a session nobody will reference, such as the one a
// failed login was attempted on.
func (s *Server) discardSession(ctx context.Context, h *session.Handle) {
	if err := h.Destroy(ctx); err != nil {
		s.logger.Warn("discarding unused session failed", zap.Error(err))
	}
}

// retirePreviousSession destroys the session the request arrived with, if
// any, once a login has replaced it.
func (s *Server) retirePreviousSession(r *http.Request, replacedBy string) {
	prev, err := s.currentSession(r)
	if err != nil || prev.ID() == replacedBy {
		return
	}
	s.discardSession(r.Context(), prev)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wrote {
		r.status = code
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(b)
}

var errBodyTooLarge = errors.New("request body too large")
