// auth.go - Session cookie transport and account handlers.
//
// The guard decides; this file only moves tokens between cookies and the
// guard and renders results.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"quarantine-drop/internal/auth"
	"quarantine-drop/internal/errs"
)

const maxCredentialBody = 4 << 10

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// identityHandler runs only after the session has been authorized.
type identityHandler func(w http.ResponseWriter, r *http.Request, id auth.Identity) error

// requireSession authorizes the request's cookie and hands the resulting
// identity to next. Nothing in next runs for unauthenticated callers.
func (s *Server) requireSession(next identityHandler) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		id, err := s.guard.Authorize(r.Context(), s.sessionToken(r))
		if err != nil {
			return err
		}
		return next(w, r, id)
	}
}

func (s *Server) sessionToken(r *http.Request) string {
	c, err := r.Cookie(s.cfg.CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// secureTransport reports whether the client connection is encrypted,
// either directly or at a trusted TLS-terminating proxy.
func (s *Server) secureTransport(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if s.cfg.TrustProxy {
		proto := r.Header.Get("X-Forwarded-Proto")
		if i := strings.IndexByte(proto, ','); i >= 0 {
			proto = proto[:i]
		}
		return strings.EqualFold(strings.TrimSpace(proto), "https")
	}
	return false
}

func (s *Server) setSessionCookie(w http.ResponseWriter, value string, expires time.Time) {
	c := &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
	if value == "" {
		c.Expires = time.Unix(0, 0)
		c.MaxAge = -1
	} else {
		c.Expires = expires
		c.MaxAge = int(time.Until(expires).Seconds())
	}
	http.SetCookie(w, c)
}

func decodeCredentials(r *http.Request) (credentials, error) {
	var body credentials
	dec := json.NewDecoder(io.LimitReader(r.Body, maxCredentialBody))
	if err := dec.Decode(&body); err != nil {
		return body, PublicError{Code: http.StatusBadRequest, Message: "Invalid request body."}
	}
	return body, nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) error {
	body, err := decodeCredentials(r)
	if err != nil {
		return err
	}

	err = s.guard.Register(r.Context(), body.Username, body.Password)
	if s.metrics != nil {
		s.metrics.Registration(result(err))
	}
	if err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			s.audit.Info("register conflict", zap.String("user", body.Username))
		}
		return err
	}

	s.audit.Info("user registered", zap.String("user", strings.TrimSpace(body.Username)))
	writeJSON(w, http.StatusCreated, jMap{"message": "User registered successfully."})
	return nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) error {
	body, err := decodeCredentials(r)
	if err != nil {
		return err
	}
	// The cookie is Secure; issuing it over plain HTTP would hand the
	// client a credential it can never send back.
	if !s.secureTransport(r) && !s.cfg.AllowInsecureCookies {
		return PublicError{Code: http.StatusForbidden, Message: "Login requires a secure (HTTPS) connection."}
	}

	sess, err := s.guard.Login(r.Context(), body.Username, body.Password)
	if s.metrics != nil {
		s.metrics.Login(result(err))
	}
	if err != nil {
		if errors.Is(err, errs.ErrUnauthorized) || errors.Is(err, errs.ErrLocked) {
			s.audit.Warn("login failed",
				zap.String("user", body.Username),
				zap.String("ip", clientIP(r)),
				zap.Error(err),
			)
		}
		return err
	}

	s.setSessionCookie(w, sess.Token, sess.ExpiresAt)
	s.audit.Info("login", zap.String("user", sess.Username), zap.String("ip", clientIP(r)))
	writeJSON(w, http.StatusOK, jMap{"message": "Logged in successfully."})
	return nil
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) error {
	if err := s.guard.Logout(r.Context(), s.sessionToken(r)); err != nil {
		return PublicError{Code: http.StatusInternalServerError, Message: "Could not log out.", Err: err}
	}
	s.setSessionCookie(w, "", time.Time{})
	writeJSON(w, http.StatusOK, jMap{"message": "Logged out successfully."})
	return nil
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) error {
	id, err := s.guard.Authorize(r.Context(), s.sessionToken(r))
	switch {
	case errors.Is(err, errs.ErrUnauthenticated):
		writeJSON(w, http.StatusOK, jMap{"loggedIn": false})
		return nil
	case err != nil:
		return err
	}
	writeJSON(w, http.StatusOK, jMap{"loggedIn": true, "user": id.Username})
	return nil
}

func result(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, errs.ErrLocked):
		return "locked"
	case errors.Is(err, errs.ErrAlreadyExists):
		return "conflict"
	case errors.Is(err, errs.ErrMissingFields), errors.Is(err, errs.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, errs.ErrUnauthorized):
		return "failure"
	default:
		return "error"
	}
}
