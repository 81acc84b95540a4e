// Package llmtest provides a scriptable llm.Provider for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"synthv/pkg/llm"
	"synthv/pkg/model"
)

// Calls counts invocations per provider method.
type Calls struct {
	Dial   int
	Text   int
	JSON   int
	Images int
	Submit int
	Poll   int
}

// Remote returns the number of calls that would have reached the network.
func (c Calls) Remote() int {
	return c.Text + c.JSON + c.Images + c.Submit + c.Poll
}

// Provider is a fake llm.Provider. Zero values produce successful, empty results.
type Provider struct {
	mu sync.Mutex

	Text    string
	TextErr error

	JSON    string // raw JSON unmarshalled into the caller's target
	JSONErr error

	Images    []model.Image
	ImagesErr error

	// SubmitFunc overrides the default submission, which returns a pending operation.
	SubmitFunc func(req llm.VideoRequest) (*llm.Operation, error)

	// Polls are returned in order by PollVideo; the last one repeats.
	// When empty, PollFunc decides, or the operation completes with VideoURI.
	Polls    []*llm.Operation
	PollFunc func(op *llm.Operation) (*llm.Operation, error)
	VideoURI string

	DialErr error

	calls     Calls
	keys      []string
	prompts   []string
	videoReqs []llm.VideoRequest
	imageReqs []llm.ImageRequest
	pollIdx   int
}

var _ llm.Provider = (*Provider)(nil)

// Dialer returns an llm.Dialer that hands out this provider.
func (p *Provider) Dialer() llm.Dialer {
	return func(ctx context.Context, apiKey string) (llm.Provider, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.calls.Dial++
		p.keys = append(p.keys, apiKey)
		if p.DialErr != nil {
			return nil, p.DialErr
		}
		return p, nil
	}
}

func (p *Provider) GenerateText(ctx context.Context, intent, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls.Text++
	p.prompts = append(p.prompts, prompt)
	return p.Text, p.TextErr
}

func (p *Provider) GenerateJSON(ctx context.Context, intent, prompt string, schema *llm.Schema, target any) error {
	p.mu.Lock()
	p.calls.JSON++
	p.prompts = append(p.prompts, prompt)
	raw, err := p.JSON, p.JSONErr
	p.mu.Unlock()

	if err != nil {
		return err
	}
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		return fmt.Errorf("failed to unmarshal JSON response: %w", err)
	}
	return nil
}

func (p *Provider) GenerateImages(ctx context.Context, req llm.ImageRequest) ([]model.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls.Images++
	p.prompts = append(p.prompts, req.Prompt)
	p.imageReqs = append(p.imageReqs, req)
	return p.Images, p.ImagesErr
}

func (p *Provider) SubmitVideo(ctx context.Context, req llm.VideoRequest) (*llm.Operation, error) {
	p.mu.Lock()
	p.calls.Submit++
	p.prompts = append(p.prompts, req.Prompt)
	p.videoReqs = append(p.videoReqs, req)
	fn := p.SubmitFunc
	n := p.calls.Submit
	p.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	return &llm.Operation{Name: fmt.Sprintf("operations/fake-%d", n)}, nil
}

func (p *Provider) PollVideo(ctx context.Context, op *llm.Operation) (*llm.Operation, error) {
	p.mu.Lock()
	p.calls.Poll++
	if len(p.Polls) > 0 {
		i := p.pollIdx
		if i >= len(p.Polls) {
			i = len(p.Polls) - 1
		} else {
			p.pollIdx++
		}
		next := *p.Polls[i]
		p.mu.Unlock()
		if next.Name == "" {
			next.Name = op.Name
		}
		return &next, nil
	}
	fn, uri := p.PollFunc, p.VideoURI
	p.mu.Unlock()

	if fn != nil {
		return fn(op)
	}
	return &llm.Operation{Name: op.Name, Done: true, VideoURI: uri, MIMEType: "video/mp4"}, nil
}

func (p *Provider) HealthCheck(ctx context.Context) error {
	return nil
}

// Calls returns a copy of the call counters.
func (p *Provider) Calls() Calls {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Keys returns the credentials passed to the dialer, in order.
func (p *Provider) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

// Prompts returns every prompt received, in order.
func (p *Provider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}

// VideoRequests returns every video submission received.
func (p *Provider) VideoRequests() []llm.VideoRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.VideoRequest(nil), p.videoReqs...)
}

// ImageRequests returns every image request received.
func (p *Provider) ImageRequests() []llm.ImageRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.ImageRequest(nil), p.imageReqs...)
}
