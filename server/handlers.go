package server

import (
	"encoding/json"
	"net/http"
	"time"

	interrors "github.com/jrsteele09/go-session-server/internal/errors"
	"github.com/jrsteele09/go-session-server/session"
	"github.com/rs/zerolog/log"
)

// SessionHandler handles POST /session: it verifies the submitted
// credentials and opens a new session. The refresh token goes into an
// HTTP-only cookie, the access token into the response body.
func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Email == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "email and password are required")
			return
		}

		// Same response for unknown user and wrong password.
		user, err := s.verifier.Verify(req.Email, req.Password)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		pair, err := s.sessions.Issue(r.Context(), user)
		if err != nil {
			log.Error().Err(err).Msg("[SessionHandler] issue failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		s.setRefreshCookie(w, pair.RefreshToken, pair.RefreshExpiresIn)
		writeJSON(w, http.StatusOK, bearerResponse(pair))
	}
}

// RefreshHandler handles POST /session/refresh: it exchanges the
// refresh token from the cookie for a fresh pair. Any rejection is a
// plain 401, whatever the underlying reason, and clears the cookie.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(s.config.GetRefreshCookieName())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		pair, err := s.sessions.Refresh(r.Context(), cookie.Value)
		if err != nil {
			if interrors.Is(err, interrors.ErrStorageUnavailable) {
				writeError(w, http.StatusServiceUnavailable, "service unavailable")
				return
			}
			s.clearRefreshCookie(w)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		s.setRefreshCookie(w, pair.RefreshToken, pair.RefreshExpiresIn)
		writeJSON(w, http.StatusOK, bearerResponse(pair))
	}
}

// RevokeHandler handles POST /session/revoke. Revocation is
// idempotent: a missing or already revoked cookie still yields 204.
func (s *Server) RevokeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(s.config.GetRefreshCookieName())
		if err != nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if err := s.sessions.Revoke(r.Context(), cookie.Value); err != nil {
			log.Error().Err(err).Msg("[RevokeHandler] revoke failed")
			writeError(w, http.StatusServiceUnavailable, "service unavailable")
			return
		}

		s.clearRefreshCookie(w)
		w.WriteHeader(http.StatusNoContent)
	}
}

func bearerResponse(pair *session.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken: pair.AccessToken,
		TokenType:   "bearer",
		ExpiresIn:   int(pair.AccessExpiresIn.Seconds()),
	}
}

// setRefreshCookie stores the refresh token in an HTTP-only cookie.
// SameSite=None with Secure allows cross-site frontends to send it.
func (s *Server) setRefreshCookie(w http.ResponseWriter, token string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.GetRefreshCookieName(),
		Value:    token,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.GetRefreshCookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}
