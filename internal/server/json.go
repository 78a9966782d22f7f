package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"quarantine-drop/internal/auth"
	"quarantine-drop/internal/errs"
)

type jMap map[string]any

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// PublicError is an error whose Message is safe to show to clients. Err is
// the operational cause and is only logged.
type PublicError struct {
	Code    int
	Message string
	Err     error
}

func (pe PublicError) Error() string {
	if pe.Err != nil {
		return fmt.Sprintf("(%d) %s: %v", pe.Code, pe.Message, pe.Err)
	}
	return fmt.Sprintf("(%d) %s", pe.Code, pe.Message)
}

func (pe PublicError) Unwrap() error { return pe.Err }

// handlerFunc is an http.Handler that may return an error. Returned errors
// are rendered as {"message": ...}; anything that is not a PublicError or a
// known sentinel becomes a 500 and is logged.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

func (s *Server) handle(h handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic while handling request",
					zap.String("rid", RequestIDFromContext(r.Context())),
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec),
					zap.Stack("stack"),
				)
				writeJSON(w, http.StatusInternalServerError, jMap{"message": "Internal server error."})
			}
		}()

		err := h(w, r)
		if err == nil {
			return
		}
		pe := publicError(err)
		if pe.Code >= http.StatusInternalServerError {
			s.logger.Error("request failed",
				zap.String("rid", RequestIDFromContext(r.Context())),
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
		}
		writeJSON(w, pe.Code, jMap{"message": pe.Message})
	})
}

// publicError maps err onto a status code and client-safe message.
func publicError(err error) PublicError {
	var pe PublicError
	if errors.As(err, &pe) {
		return pe
	}

	var (
		mbe *http.MaxBytesError
		ie  *auth.InputError
	)
	switch {
	case errors.Is(err, errs.ErrMissingFields):
		return PublicError{Code: http.StatusBadRequest, Message: "Username and password are required."}
	case errors.As(err, &ie):
		return PublicError{Code: http.StatusBadRequest, Message: ie.Msg}
	case errors.Is(err, errs.ErrInvalidInput):
		return PublicError{Code: http.StatusBadRequest, Message: "Invalid input."}
	case errors.Is(err, errs.ErrAlreadyExists):
		return PublicError{Code: http.StatusConflict, Message: "Username already exists."}
	case errors.Is(err, errs.ErrUnauthorized):
		return PublicError{Code: http.StatusUnauthorized, Message: "Invalid username or password."}
	case errors.Is(err, errs.ErrUnauthenticated):
		return PublicError{Code: http.StatusUnauthorized, Message: "Unauthorized. Please log in."}
	case errors.Is(err, errs.ErrLocked):
		return PublicError{Code: http.StatusTooManyRequests, Message: "Too many failed attempts. Try again later."}
	case errors.Is(err, errs.ErrNoFile):
		return PublicError{Code: http.StatusBadRequest, Message: "No file uploaded."}
	case errors.Is(err, errs.ErrTooLarge), errors.As(err, &mbe):
		return PublicError{Code: http.StatusRequestEntityTooLarge, Message: "File too large."}
	}
	return PublicError{Code: http.StatusInternalServerError, Message: "Internal server error."}
}
