package api

import (
	"context"
	"errors"
	"net/http"

	"synthv/pkg/generation"
	"synthv/pkg/llm/imageutil"
	"synthv/pkg/model"
	"synthv/pkg/session"
)

// GenerationHandler starts single and batch generation runs.
type GenerationHandler struct {
	sessions *Sessions
	jobs     *generation.Orchestrator
	batches  *generation.Coordinator
	maxRef   int64

	// ctx outlives individual requests; runs stop only when the server shuts down.
	ctx context.Context
}

// NewGenerationHandler creates a new GenerationHandler. Runs are bound to ctx.
func NewGenerationHandler(ctx context.Context, sessions *Sessions, jobs *generation.Orchestrator, batches *generation.Coordinator, maxRef int64) *GenerationHandler {
	return &GenerationHandler{ctx: ctx, sessions: sessions, jobs: jobs, batches: batches, maxRef: maxRef}
}

// ReferenceImage is an uploaded image, base64 encoded in JSON.
type ReferenceImage struct {
	Data []byte `json:"data"`
}

// GenerateRequest is the body of the text, image and video endpoints.
type GenerateRequest struct {
	Prompt    string             `json:"prompt"`
	Image     model.ImageOptions `json:"image"`
	Reference *ReferenceImage    `json:"reference,omitempty"`
}

// BatchRequest is the body of the batch endpoint.
type BatchRequest struct {
	Items []struct {
		ID        string          `json:"id"`
		Prompt    string          `json:"prompt"`
		Reference *ReferenceImage `json:"reference,omitempty"`
	} `json:"items"`
}

type acceptedResponse struct {
	Session string                `json:"session"`
	Slot    string                `json:"slot"`
	State   model.GenerationState `json:"state"`
}

// HandleText starts a text generation.
func (h *GenerationHandler) HandleText(w http.ResponseWriter, r *http.Request) {
	h.handleSingle(w, r, model.KindText, session.SlotText)
}

// HandleImage starts an image generation.
func (h *GenerationHandler) HandleImage(w http.ResponseWriter, r *http.Request) {
	h.handleSingle(w, r, model.KindImage, session.SlotImage)
}

// HandleVideo starts a video generation.
func (h *GenerationHandler) HandleVideo(w http.ResponseWriter, r *http.Request) {
	h.handleSingle(w, r, model.KindVideo, session.SlotVideo)
}

func (h *GenerationHandler) handleSingle(w http.ResponseWriter, r *http.Request, kind model.Kind, slot string) {
	sess, ok := sessionFor(h.sessions, w, r)
	if !ok {
		return
	}
	var body GenerateRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	req := model.Request{Kind: kind, Prompt: body.Prompt, Image: body.Image}
	if kind == model.KindVideo && body.Reference != nil && len(body.Reference.Data) > 0 {
		ref, err := h.prepareReference(body.Reference.Data)
		if err != nil {
			writeError(w, err)
			return
		}
		req.Reference = ref
	}

	// Validation failures surface through the session state, like any other terminal failure.
	if err := h.jobs.Launch(h.ctx, sess, slot, req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{Session: sess.ID, Slot: slot, State: sess.State()})
}

// HandleBatch starts a batch of video generations.
func (h *GenerationHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(h.sessions, w, r)
	if !ok {
		return
	}
	var body BatchRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	inputs := make([]model.BatchInput, 0, len(body.Items))
	for _, it := range body.Items {
		in := model.BatchInput{ID: it.ID, Prompt: it.Prompt}
		if it.Reference != nil && len(it.Reference.Data) > 0 {
			ref, err := h.prepareReference(it.Reference.Data)
			if err != nil {
				writeError(w, err)
				return
			}
			in.Reference = ref
		}
		inputs = append(inputs, in)
	}

	if err := h.batches.Launch(h.ctx, sess, inputs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{Session: sess.ID, Slot: "batch", State: sess.State()})
}

func (h *GenerationHandler) prepareReference(data []byte) (*model.Image, error) {
	img, err := imageutil.PrepareReference(data, h.maxRef)
	switch {
	case errors.Is(err, imageutil.ErrTooLarge):
		return nil, &generation.ValidationError{Field: "reference", Reason: "Reference image is too large (max 5MB)."}
	case errors.Is(err, imageutil.ErrUnsupported):
		return nil, &generation.ValidationError{Field: "reference", Reason: "Reference image must be a PNG, JPG, or GIF."}
	case err != nil:
		return nil, &generation.ValidationError{Field: "reference", Reason: err.Error()}
	}
	return img, nil
}
