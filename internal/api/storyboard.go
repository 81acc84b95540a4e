package api

import (
	"context"
	"net/http"

	"synthv/pkg/config"
	"synthv/pkg/generation"
	"synthv/pkg/storyboard"
)

// StoryboardHandler serves the storyboard assistant.
type StoryboardHandler struct {
	sessions  *Sessions
	assistant *storyboard.Assistant
	batches   *generation.Coordinator
	ctx       context.Context
}

// NewStoryboardHandler creates a new StoryboardHandler. Batches started from a
// storyboard are bound to ctx.
func NewStoryboardHandler(ctx context.Context, sessions *Sessions, a *storyboard.Assistant, batches *generation.Coordinator) *StoryboardHandler {
	return &StoryboardHandler{ctx: ctx, sessions: sessions, assistant: a, batches: batches}
}

// CatalogResponse lists the choices offered by the storyboard form.
type CatalogResponse struct {
	Topics       []string `json:"topics"`
	Languages    []string `json:"languages"`
	MaxScenes    int      `json:"max_scenes"`
	SceneSeconds int      `json:"scene_seconds"`
}

// HandleCatalog returns the topics and languages.
func (h *StoryboardHandler) HandleCatalog(w http.ResponseWriter, r *http.Request) {
	cat := h.assistant.Catalog
	if cat == nil {
		cat = config.DefaultCatalog()
	}
	writeJSON(w, http.StatusOK, CatalogResponse{
		Topics:       cat.Topics,
		Languages:    cat.Languages,
		MaxScenes:    h.assistant.Config.MaxScenes,
		SceneSeconds: h.assistant.Config.SceneSeconds,
	})
}

// HandleIdea generates a story idea for a topic.
func (h *StoryboardHandler) HandleIdea(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(h.sessions, w, r)
	if !ok {
		return
	}
	var body struct {
		Topic string `json:"topic"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	idea, err := h.assistant.Idea(r.Context(), sess.Credential(), body.Topic)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"idea": idea})
}

// HandleTitle generates a title for an idea.
func (h *StoryboardHandler) HandleTitle(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(h.sessions, w, r)
	if !ok {
		return
	}
	var body struct {
		Idea string `json:"idea"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	title, err := h.assistant.Title(r.Context(), sess.Credential(), body.Idea)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"title": title})
}

// HandleScenes breaks an idea into scenes.
func (h *StoryboardHandler) HandleScenes(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(h.sessions, w, r)
	if !ok {
		return
	}
	var req storyboard.ScenesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sb, err := h.assistant.Scenes(r.Context(), sess.Credential(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sb)
}

// HandleRender queues every scene of a storyboard as a video batch.
func (h *StoryboardHandler) HandleRender(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(h.sessions, w, r)
	if !ok {
		return
	}
	var sb storyboard.Storyboard
	if !decodeJSON(w, r, &sb) {
		return
	}
	inputs, err := h.assistant.BatchItems(&sb)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.batches.Launch(h.ctx, sess, inputs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{Session: sess.ID, Slot: "batch", State: sess.State()})
}
