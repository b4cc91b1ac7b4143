package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/trysts/auth-core/internal/login"
	"github.com/trysts/auth-core/internal/mail"
	"github.com/trysts/auth-core/internal/otp"
)

// refreshCookieName is the cookie carrying the refresh token.
const refreshCookieName = "refreshToken"

// refreshCookiePath scopes the cookie to the auth endpoints so it is
// not replayed to every request.
const refreshCookiePath = "/api/v1/auth"

type loginRequest struct {
	Email string `json:"email"`
}

type loginResponse struct {
	FullHash string `json:"fullHash"`
}

type verifyRequest struct {
	OTP   string `json:"otp"`
	Email string `json:"email"`
	Hash  string `json:"hash"`
}

type sessionResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	User         any    `json:"user,omitempty"`
}

// handleLogin starts a sign-in: mails a code and returns the challenge
// commitment the client must echo back to verify.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.recordFlow("login", "validation", start)
		writeValidationError(w, "invalid request body")
		return
	}

	commitment, err := s.login.Login(r.Context(), req.Email)
	if err != nil {
		s.recordFlow("login", outcomeFor(err), start)
		s.writeAuthError(w, err)
		return
	}

	s.recordFlow("login", "success", start)
	writeJSON(w, http.StatusOK, loginResponse{FullHash: commitment})
}

// handleVerify exchanges a code and its commitment for a token pair.
// The refresh token is also set as an httpOnly cookie.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.recordFlow("verify", "validation", start)
		writeValidationError(w, "invalid request body")
		return
	}
	if req.OTP == "" || req.Hash == "" {
		s.recordFlow("verify", "validation", start)
		writeValidationError(w, "otp and hash are required")
		return
	}

	session, err := s.login.Verify(r.Context(), req.OTP, req.Email, req.Hash)
	if err != nil {
		s.recordFlow("verify", outcomeFor(err), start)
		s.writeAuthError(w, err)
		return
	}

	s.setRefreshCookie(w, session.RefreshToken)
	s.recordFlow("verify", "success", start)
	writeJSON(w, http.StatusOK, sessionResponse{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		User:         session.User,
	})
}

// handleRefresh rotates the refresh token from the cookie and returns a
// fresh access token. The rotated refresh token replaces the cookie.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		s.recordFlow("refresh", "refresh_invalid", start)
		writeError(w, http.StatusUnauthorized, ErrCodeRefreshInvalid, "refresh token missing")
		return
	}

	session, err := s.login.Refresh(r.Context(), cookie.Value)
	if err != nil {
		s.recordFlow("refresh", outcomeFor(err), start)
		s.writeAuthError(w, err)
		return
	}

	s.setRefreshCookie(w, session.RefreshToken)
	s.recordFlow("refresh", "success", start)
	writeJSON(w, http.StatusOK, sessionResponse{AccessToken: session.AccessToken})
}

// handleLogout revokes the cookie's refresh token and clears the cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		s.recordFlow("logout", "refresh_invalid", start)
		writeError(w, http.StatusUnauthorized, ErrCodeRefreshInvalid, "refresh token missing")
		return
	}

	// The cookie is cleared regardless of outcome; a client logging out
	// with a dead token should not keep it.
	s.clearRefreshCookie(w)

	if err := s.login.Logout(r.Context(), cookie.Value); err != nil {
		s.recordFlow("logout", outcomeFor(err), start)
		s.writeAuthError(w, err)
		return
	}

	s.recordFlow("logout", "success", start)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMe returns the authenticated identity.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	who, ok := identityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": who})
}

// setRefreshCookie installs the refresh token cookie.
//
// SameSite=None with Secure lets browser clients on other origins send
// the cookie with credentialed requests; httpOnly keeps it away from
// scripts.
func (s *Server) setRefreshCookie(w http.ResponseWriter, tokenString string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    tokenString,
		Path:     refreshCookiePath,
		MaxAge:   int(s.secCfg.RefreshTokenTTL().Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}

// clearRefreshCookie expires the refresh token cookie.
func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}

// writeAuthError maps a flow error to its response envelope.
//
// Stale, revoked, expired and malformed refresh tokens all collapse
// into the same refresh_invalid response on purpose.
func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, login.ErrInvalidEmail):
		writeValidationError(w, "a valid email address is required")
	case errors.Is(err, otp.ErrChallengeExpired):
		writeError(w, http.StatusUnauthorized, ErrCodeExpiredChallenge, "code expired, request a new one")
	case errors.Is(err, otp.ErrCodeMismatch), errors.Is(err, otp.ErrMalformedCommitment):
		writeError(w, http.StatusUnauthorized, ErrCodeInvalidChallenge, "incorrect code")
	case errors.Is(err, login.ErrRefreshInvalid):
		writeError(w, http.StatusUnauthorized, ErrCodeRefreshInvalid, "refresh token invalid")
	case errors.Is(err, login.ErrUnauthorised):
		writeUnauthorized(w, "invalid or expired token")
	case errors.Is(err, mail.ErrRetryable), errors.Is(err, mail.ErrPermanent):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUpstream, "could not send code, try again later")
	default:
		s.logger.Error("auth flow error", "error", err)
		writeInternalError(w, "internal server error")
	}
}

// outcomeFor maps a flow error to a metrics outcome tag.
func outcomeFor(err error) string {
	switch {
	case errors.Is(err, login.ErrInvalidEmail):
		return "validation"
	case errors.Is(err, otp.ErrChallengeExpired):
		return ErrCodeExpiredChallenge
	case errors.Is(err, otp.ErrCodeMismatch), errors.Is(err, otp.ErrMalformedCommitment):
		return ErrCodeInvalidChallenge
	case errors.Is(err, login.ErrRefreshInvalid):
		return ErrCodeRefreshInvalid
	case errors.Is(err, login.ErrUnauthorised):
		return ErrCodeUnauthorized
	case errors.Is(err, mail.ErrRetryable), errors.Is(err, mail.ErrPermanent):
		return ErrCodeUpstream
	default:
		return ErrCodeInternal
	}
}
