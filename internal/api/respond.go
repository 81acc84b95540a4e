package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"synthv/pkg/apisession"
	"synthv/pkg/generation"
	"synthv/pkg/session"
)

// maxBodyBytes bounds JSON request bodies, reference images included.
const maxBodyBytes = 16 << 20

// Sessions is the store of per-client sessions shared by all handlers.
type Sessions = apisession.Store[session.Session]

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error           string `json:"error"`
	Field           string `json:"field,omitempty"`
	NeedsCredential bool   `json:"needs_credential,omitempty"`
}

// writeError maps err onto an HTTP status and a user-facing message.
func writeError(w http.ResponseWriter, err error) {
	var (
		ve *generation.ValidationError
		re *generation.RemoteError
		me *generation.MissingResultError
	)
	resp := errorResponse{Error: generation.UserMessage(err)}
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, generation.ErrBusy):
		status = http.StatusConflict
		resp.Error = err.Error()
	case errors.As(err, &ve):
		status = http.StatusBadRequest
		resp.Field = ve.Field
		resp.NeedsCredential = ve.NeedsCredential
	case errors.As(err, &re), errors.As(err, &me):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid JSON: " + err.Error()})
		return false
	}
	return true
}

// sessionFor returns the session named by the {sid} path value, creating it on first use.
func sessionFor(sessions *Sessions, w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sid := r.PathValue("sid")
	if _, err := uuid.Parse(sid); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid session id"})
		return nil, false
	}
	return sessions.Get(sid), true
}
