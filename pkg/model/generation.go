package model

import (
	"strings"
	"time"
)

// Kind identifies the modality of a generation request.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Status is the coarse, UI-facing status of a job or batch item.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusGenerating Status = "generating"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// Phase is the fine-grained state of a single job run.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseValidating  Phase = "validating"
	PhaseSubmitting  Phase = "submitting"
	PhasePolling     Phase = "polling"
	PhaseDownloading Phase = "downloading"
	PhaseSucceeded   Phase = "succeeded"
	PhaseFailed      Phase = "failed"
)

// GenerationState is the shared projection of the active run that the UI renders.
type GenerationState struct {
	IsGenerating    bool   `json:"is_generating"`
	Progress        int    `json:"progress"` // 0-100
	Message         string `json:"message"`
	Status          Status `json:"status"`
	Phase           Phase  `json:"phase"`
	NeedsCredential bool   `json:"needs_credential"`
}

// IdleState returns the state a fresh session starts in.
func IdleState() GenerationState {
	return GenerationState{Status: StatusIdle, Phase: PhaseIdle}
}

// Image is an encoded image payload with its MIME type.
type Image struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
}

// Empty reports whether the image carries no bytes.
func (i *Image) Empty() bool {
	return i == nil || len(i.Data) == 0
}

// ImageOptions holds the image-modality submission parameters.
type ImageOptions struct {
	Count       int    `json:"count"`
	MIMEType    string `json:"mime_type"`
	AspectRatio string `json:"aspect_ratio"`
}

// Request is a single generation request. Only the fields relevant to Kind are used.
type Request struct {
	Kind      Kind         `json:"kind"`
	Prompt    string       `json:"prompt"`
	Image     ImageOptions `json:"image"`
	Reference *Image       `json:"-"` // optional reference image for video
}

// HasPrompt reports whether the request carries non-blank prompt text.
func (r *Request) HasPrompt() bool {
	return strings.TrimSpace(r.Prompt) != ""
}

// BatchInput is one user-provided batch entry before a run.
type BatchInput struct {
	ID        string `json:"id"`
	Prompt    string `json:"prompt"`
	Reference *Image `json:"-"`
}

// BatchItem is the per-item view of a batch run.
type BatchItem struct {
	ID          string    `json:"id"`
	Prompt      string    `json:"prompt"`
	HasImage    bool      `json:"has_image"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	ArtifactURL string    `json:"artifact_url,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}
