package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"synthv/pkg/apisession"
	"synthv/pkg/artifact"
	"synthv/pkg/config"
	"synthv/pkg/credential"
	"synthv/pkg/session"
	"synthv/pkg/store"
)

// NewSessions creates the session store. New sessions start with the remembered
// API key, evicted sessions release their artifacts and running sessions are never evicted.
func NewSessions(ttl time.Duration, reg *artifact.Registry, prov config.Provider) *Sessions {
	s := apisession.New(ttl,
		func(id string) *session.Session {
			sess := session.New(id, reg)
			if prov != nil {
				sess.SetCredential(prov.RememberedAPIKey(context.Background()))
			}
			return sess
		},
		func(id string, sess *session.Session) {
			sess.Close()
		},
	)
	s.Keep = (*session.Session).Running
	return s
}

// SessionHandler serves session lifecycle, state and credential endpoints.
type SessionHandler struct {
	sessions *Sessions
	settings store.StateStore // may be nil
	fallback credential.Source
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions *Sessions, settings store.StateStore, fallback credential.Source) *SessionHandler {
	return &SessionHandler{sessions: sessions, settings: settings, fallback: fallback}
}

// HandleCreate mints a new session.
func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	h.sessions.Get(id)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// HandleDelete discards a session and everything it holds.
func (h *SessionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.Delete(r.PathValue("sid")) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown session"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleState returns a snapshot of the session.
func (h *SessionHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(h.sessions, w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// HandleBatch returns the batch items of the session.
func (h *SessionHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(h.sessions, w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": sess.BatchItems()})
}

// HandleReleaseSlot drops the artifacts held by one slot.
func (h *SessionHandler) HandleReleaseSlot(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(h.sessions, w, r)
	if !ok {
		return
	}
	if err := sess.ReleaseSlotIfIdle(r.PathValue("slot")); err != nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CredentialStatus reports where the next submission would get its key from.
type CredentialStatus struct {
	HasKey      bool   `json:"has_key"`
	Masked      string `json:"masked,omitempty"`
	Remembered  bool   `json:"remembered"`
	EnvFallback bool   `json:"env_fallback"`
}

// CredentialRequest sets the user-entered key.
type CredentialRequest struct {
	Key      string `json:"key"`
	Remember bool   `json:"remember"`
}

// HandleGetCredential reports the credential status without revealing the key.
func (h *SessionHandler) HandleGetCredential(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(h.sessions, w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.status(r.Context(), sess))
}

// HandleSetCredential stores the user-entered key in the session and optionally remembers it.
func (h *SessionHandler) HandleSetCredential(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(h.sessions, w, r)
	if !ok {
		return
	}
	var req CredentialRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	key := strings.TrimSpace(req.Key)
	sess.SetCredential(key)

	if h.settings != nil {
		ctx := r.Context()
		var err error
		if req.Remember && key != "" {
			err = h.settings.SetState(ctx, config.KeyGeminiAPIKey, key)
		} else {
			err = h.settings.DeleteState(ctx, config.KeyGeminiAPIKey)
		}
		if err != nil {
			slog.Error("Failed to persist API key preference", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to save settings"})
			return
		}
	}
	slog.Info("Session credential updated", "session", sess.ID, "key", credential.Mask(key), "remember", req.Remember)
	writeJSON(w, http.StatusOK, h.status(r.Context(), sess))
}

func (h *SessionHandler) status(ctx context.Context, sess *session.Session) CredentialStatus {
	key := sess.Credential()
	st := CredentialStatus{
		HasKey:      key != "",
		EnvFallback: h.fallback != nil && h.fallback.Credential() != "",
	}
	if key != "" {
		st.Masked = credential.Mask(key)
	}
	if h.settings != nil {
		_, st.Remembered = h.settings.GetState(ctx, config.KeyGeminiAPIKey)
	}
	return st
}
