package llm

import (
	"context"

	"synthv/pkg/model"
)

// Provider defines the interface for interacting with the hosted generation service.
type Provider interface {
	// GenerateText sends a prompt and returns the text response.
	GenerateText(ctx context.Context, intent, prompt string) (string, error)

	// GenerateJSON sends a prompt constrained by schema and unmarshals the response into target.
	GenerateJSON(ctx context.Context, intent, prompt string, schema *Schema, target any) error

	// GenerateImages returns the generated images inline.
	GenerateImages(ctx context.Context, req ImageRequest) ([]model.Image, error)

	// SubmitVideo starts a long-running video job.
	SubmitVideo(ctx context.Context, req VideoRequest) (*Operation, error)

	// PollVideo re-fetches the status of a video job.
	PollVideo(ctx context.Context, op *Operation) (*Operation, error)

	// HealthCheck verifies that the provider is configured and reachable.
	HealthCheck(ctx context.Context) error
}

// Dialer opens a provider bound to one credential.
type Dialer func(ctx context.Context, apiKey string) (Provider, error)

// ImageRequest holds image generation parameters.
type ImageRequest struct {
	Prompt      string
	Count       int
	MIMEType    string
	AspectRatio string
}

// VideoRequest holds video generation parameters.
type VideoRequest struct {
	Prompt    string
	Reference *model.Image
}

// Operation is the remote handle of a long-running job.
type Operation struct {
	Name         string
	Done         bool
	ErrorMessage string // set by the remote when the job failed
	VideoURI     string
	MIMEType     string

	// Raw is the provider's native handle, needed to re-poll.
	Raw any
}

// Failed reports whether the remote marked the job as failed.
func (o *Operation) Failed() bool {
	return o.ErrorMessage != ""
}
