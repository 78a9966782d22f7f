package server

import (
	"encoding/json"
	"html"
	"io"
	"net/http"

	"quarantine-drop/internal/auth"
)

const maxChatBody = 16 << 10

// handleChat echoes the message back with markup escaped.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, _ auth.Identity) error {
	var body struct {
		Message *string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxChatBody)).Decode(&body); err != nil || body.Message == nil {
		return PublicError{Code: http.StatusBadRequest, Message: "Message is required."}
	}
	writeJSON(w, http.StatusOK, jMap{"message": "You said: " + html.EscapeString(*body.Message)})
	return nil
}
