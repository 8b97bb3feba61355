package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/middleware"
	"go.uber.org/zap"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type resetPasswordRequest struct {
	Email    string `json:"email"`
	Token    string `json:"token"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type totpSetupResponse struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
	QRCode string `json:"qrCode"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorDetail struct {
	Kind    authgate.ErrorKind `json:"kind"`
	Message string             `json:"message"`
	Fields  map[string]string  `json:"fields,omitempty"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in authgate.RegisterInput
	if !s.decode(w, r, &in) {
		return
	}
	reg, err := s.engine.Register(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if !s.decode(w, r, &in) {
		return
	}
	ctx := r.Context()
	h, err := s.engine.NewSession(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.Login(ctx, h, in.Username, in.Password)
	if err != nil {
		s.discardSession(ctx, h)
		s.writeError(w, r, err)
		return
	}
	if err := s.cookies.write(w, h.ID()); err != nil {
		s.logger.Error("session cookie signing failed", zap.Error(err))
		s.discardSession(ctx, h)
		s.writeError(w, r, authgate.ErrServerError)
		return
	}
	s.retirePreviousSession(r, h.ID())
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	h, err := s.currentSession(r)
	if err != nil {
		s.cookies.clear(w)
		s.writeError(w, r, err)
		return
	}
	err = s.engine.Logout(r.Context(), h)
	s.cookies.clear(w)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	h, err := s.currentSession(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.engine.Status(r.Context(), h)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleTOTPSetup(w http.ResponseWriter, r *http.Request) {
	h, err := s.currentSession(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	setup, err := s.engine.SetupTOTP(r.Context(), h)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := totpSetupResponse{Secret: setup.Secret, URI: setup.URI}
	if qr, err := qrDataURL(setup.URI); err != nil {
		s.logger.Warn("qr rendering failed", zap.Error(err))
	} else {
		resp.QRCode = qr
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTOTPVerify(w http.ResponseWriter, r *http.Request) {
	var in codeRequest
	if !s.decode(w, r, &in) {
		return
	}
	h, err := s.currentSession(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.VerifyTOTP(r.Context(), h, in.Code); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "two-factor verification succeeded"})
}

func (s *Server) handleTOTPReset(w http.ResponseWriter, r *http.Request) {
	var in codeRequest
	if !s.decodeOptional(w, r, &in) {
		return
	}
	h, err := s.currentSession(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.ResetTOTP(r.Context(), h, in.Code); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "two-factor authentication disabled"})
}

func (s *Server) handleTOTPStatus(w http.ResponseWriter, r *http.Request) {
	h, err := s.currentSession(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	state, err := s.engine.TOTPStatus(r.Context(), h)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]authgate.TOTPState{"totpState": state})
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var in verifyEmailRequest
	if !s.decode(w, r, &in) {
		return
	}
	view, err := s.engine.VerifyEmail(r.Context(), in.Email, in.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var in emailRequest
	if !s.decode(w, r, &in) {
		return
	}
	if err := s.engine.ResendEmailVerification(r.Context(), in.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "if the account exists and is unverified, a new code has been sent"})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var in emailRequest
	if !s.decode(w, r, &in) {
		return
	}
	if err := s.engine.RequestPasswordReset(r.Context(), in.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "if the account exists, a reset link has been sent"})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var in resetPasswordRequest
	if !s.decode(w, r, &in) {
		return
	}
	if tok := r.PathValue("token"); tok != "" {
		in.Token = tok
	}
	if err := s.engine.ConfirmPasswordReset(r.Context(), in.Email, in.Token, in.Password); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "password has been reset"})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var in changePasswordRequest
	if !s.decode(w, r, &in) {
		return
	}
	h, err := s.currentSession(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.ChangePassword(r.Context(), h, in.OldPassword, in.NewPassword); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "password changed"})
}

func (s *Server) handleProtected(w http.ResponseWriter, r *http.Request) {
	account, _ := middleware.AccountFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "access granted",
		"account": account,
	})
}

// decode reads a JSON body into dst. On failure it writes a 400 and
// returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := s.readJSON(w, r, dst); err != nil {
		s.writeError(w, r, err)
		return false
	}
	return true
}

// decodeOptional is decode that also accepts an empty body.
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := s.readJSON(w, r, dst)
	if err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, err)
		return false
	}
	return true
}

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return &authgate.ValidationError{Fields: map[string]string{"body": "content type must be application/json"}}
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return err
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &authgate.ValidationError{Fields: map[string]string{"body": errBodyTooLarge.Error()}}
		}
		return &authgate.ValidationError{Fields: map[string]string{"body": "malformed JSON"}}
	}
	return nil
}

// writeError renders err with its classified status. Server errors never
// carry detail; the Engine has already logged it.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, io.EOF) {
		err = &authgate.ValidationError{Fields: map[string]string{"body": "request body required"}}
	}
	o := authgate.Classify(err)
	if o.Status == authgate.StatusServerError && !errors.Is(err, authgate.ErrServerError) {
		s.logger.Error("unclassified error", zap.Error(err), zap.String("path", r.URL.Path))
	}
	writeJSON(w, middleware.StatusFor(o), errorBody(o))
}

func errorBody(o authgate.Outcome) errorResponse {
	return errorResponse{Error: errorDetail{Kind: o.Kind, Message: o.Message, Fields: o.Fields}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
