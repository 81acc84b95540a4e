package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/iterator"
	"google.golang.org/genai"

	"synthv/pkg/config"
	"synthv/pkg/llm"
	"synthv/pkg/model"
	"synthv/pkg/tracker"
)

const providerName = "gemini"

// Client implements llm.Provider for Google Gemini, Imagen and Veo.
type Client struct {
	genaiClient *genai.Client
	apiKey      string
	cfg         config.GeminiConfig
	tracker     *tracker.Tracker
	logPath     string

	mu sync.RWMutex
}

// NewClient creates a new client bound to apiKey.
func NewClient(ctx context.Context, apiKey string, cfg config.GeminiConfig, logPath string, t *tracker.Tracker) (*Client, error) {
	c := &Client{apiKey: apiKey, cfg: cfg, tracker: t, logPath: logPath}
	if cfg.TextModel == "" {
		c.cfg.TextModel = "gemini-2.5-flash"
	}

	if apiKey == "" {
		// Can't initialize without key; HealthCheck reports it.
		return c, nil
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	c.genaiClient = client
	return c, nil
}

// NewDialer returns an llm.Dialer that opens a fresh client per credential.
func NewDialer(cfg config.GeminiConfig, logPath string, t *tracker.Tracker) llm.Dialer {
	return func(ctx context.Context, apiKey string) (llm.Provider, error) {
		return NewClient(ctx, apiKey, cfg, logPath, t)
	}
}

// Close cleans up resources.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.genaiClient = nil
}

func (c *Client) client() (*genai.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.genaiClient == nil {
		return nil, fmt.Errorf("gemini client not configured")
	}
	return c.genaiClient, nil
}

// GenerateText sends a prompt and returns the text response.
func (c *Client) GenerateText(ctx context.Context, intent, prompt string) (string, error) {
	client, err := c.client()
	if err != nil {
		return "", err
	}

	modelName, genCfg := c.resolveModel(intent)

	resp, err := client.Models.GenerateContent(ctx, modelName, genai.Text(prompt), genCfg)
	if err != nil {
		c.logPrompt(intent, prompt, fmt.Sprintf("ERROR: %v", err))
		c.trackFailure()
		return "", fmt.Errorf("generate text error: %w", err)
	}

	text, err := getResponseText(resp)
	if err != nil {
		c.logPrompt(intent, prompt, fmt.Sprintf("TEXT_PARSE_ERROR: %v", err))
		c.trackFailure()
		return "", err
	}

	c.logPrompt(intent, prompt, text)
	c.trackSuccess()
	return text, nil
}

// GenerateJSON sends a prompt and unmarshals the response into the target struct.
func (c *Client) GenerateJSON(ctx context.Context, intent, prompt string, schema *llm.Schema, target any) error {
	client, err := c.client()
	if err != nil {
		return err
	}

	modelName, genCfg := c.resolveModel(intent)
	genCfg.ResponseMIMEType = "application/json"
	genCfg.ResponseSchema = toGenaiSchema(schema)

	resp, err := client.Models.GenerateContent(ctx, modelName, genai.Text(prompt), genCfg)
	if err != nil {
		c.logPrompt(intent, prompt, fmt.Sprintf("ERROR: %v", err))
		c.trackFailure()
		return fmt.Errorf("generate json error: %w", err)
	}

	text, err := getResponseText(resp)
	if err != nil {
		c.logPrompt(intent, prompt, fmt.Sprintf("TEXT_PARSE_ERROR: %v", err))
		c.trackFailure()
		return err
	}

	cleaned := llm.CleanJSONBlock(text)
	c.logPrompt(intent, prompt, cleaned)

	if err := json.Unmarshal([]byte(cleaned), target); err != nil {
		c.trackFailure()
		return fmt.Errorf("failed to unmarshal JSON response: %w", err)
	}

	c.trackSuccess()
	return nil
}

// GenerateImages returns the generated images inline.
func (c *Client) GenerateImages(ctx context.Context, req llm.ImageRequest) ([]model.Image, error) {
	client, err := c.client()
	if err != nil {
		return nil, err
	}

	resp, err := client.Models.GenerateImages(ctx, c.cfg.ImageModel, req.Prompt, imagesConfig(req))
	if err != nil {
		c.logPrompt("image", req.Prompt, fmt.Sprintf("ERROR: %v", err))
		c.trackFailure()
		return nil, fmt.Errorf("generate images error: %w", err)
	}

	images := make([]model.Image, 0, len(resp.GeneratedImages))
	for _, gi := range resp.GeneratedImages {
		if gi == nil || gi.Image == nil || len(gi.Image.ImageBytes) == 0 {
			if gi != nil && gi.RAIFilteredReason != "" {
				slog.Warn("Gemini: image filtered", "reason", gi.RAIFilteredReason)
			}
			continue
		}
		mime := gi.Image.MIMEType
		if mime == "" {
			mime = req.MIMEType
		}
		images = append(images, model.Image{Data: gi.Image.ImageBytes, MIMEType: mime})
	}

	c.logPrompt("image", req.Prompt, fmt.Sprintf("%d image(s)", len(images)))
	if len(images) == 0 {
		c.trackZero()
	} else {
		c.trackSuccess()
	}
	return images, nil
}

// SubmitVideo starts a long-running video job.
func (c *Client) SubmitVideo(ctx context.Context, req llm.VideoRequest) (*llm.Operation, error) {
	client, err := c.client()
	if err != nil {
		return nil, err
	}

	var ref *genai.Image
	if !req.Reference.Empty() {
		ref = &genai.Image{ImageBytes: req.Reference.Data, MIMEType: req.Reference.MIMEType}
	}

	op, err := client.Models.GenerateVideos(ctx, c.cfg.VideoModel, req.Prompt, ref, &genai.GenerateVideosConfig{
		NumberOfVideos: 1,
	})
	if err != nil {
		c.logPrompt("video", req.Prompt, fmt.Sprintf("ERROR: %v", err))
		c.trackFailure()
		return nil, fmt.Errorf("generate videos error: %w", err)
	}

	c.logPrompt("video", req.Prompt, "operation "+op.Name)
	c.trackSuccess()
	return fromVideosOperation(op), nil
}

// PollVideo re-fetches the status of a video job.
func (c *Client) PollVideo(ctx context.Context, op *llm.Operation) (*llm.Operation, error) {
	client, err := c.client()
	if err != nil {
		return nil, err
	}

	raw, ok := op.Raw.(*genai.GenerateVideosOperation)
	if !ok || raw == nil {
		raw = &genai.GenerateVideosOperation{Name: op.Name}
	}

	if c.tracker != nil {
		c.tracker.TrackPoll(providerName)
	}
	next, err := client.Operations.GetVideosOperation(ctx, raw, nil)
	if err != nil {
		c.trackFailure()
		return nil, fmt.Errorf("get videos operation error: %w", err)
	}
	return fromVideosOperation(next), nil
}

// HealthCheck verifies that the key is set and the text model is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("gemini api key not configured")
	}
	if os.Getenv("TEST_MODE") == "true" {
		return nil
	}
	client, err := c.client()
	if err != nil {
		return err
	}
	return c.validateModel(ctx, client, c.cfg.TextModel)
}

func (c *Client) logPrompt(intent, prompt, response string) {
	if c.logPath == "" {
		return
	}

	if err := os.MkdirAll(filepath.Dir(c.logPath), 0o755); err != nil {
		return
	}

	f, err := os.OpenFile(c.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	entry := fmt.Sprintf("[%s] PROMPT: %s\nPROMPT_TEXT:\n%s\n\nRESPONSE:\n%s\n%s\n",
		timestamp, intent, prompt, llm.WordWrap(response, 80), strings.Repeat("-", 80))

	_, _ = f.WriteString(entry)
}

func (c *Client) trackSuccess() {
	if c.tracker != nil {
		c.tracker.TrackAPISuccess(providerName)
	}
}

func (c *Client) trackFailure() {
	if c.tracker != nil {
		c.tracker.TrackAPIFailure(providerName)
	}
}

func (c *Client) trackZero() {
	if c.tracker != nil {
		c.tracker.TrackAPIZero(providerName)
	}
}

func getResponseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates returned")
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return "", fmt.Errorf("candidate has no content (finish reason %s)", cand.FinishReason)
	}

	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// validateModel checks if the model is available for the API key.
func (c *Client) validateModel(ctx context.Context, client *genai.Client, modelName string) error {
	name := modelName
	if !strings.HasPrefix(name, "models/") {
		name = "models/" + name
	}

	_, err := client.Models.Get(ctx, name, nil)
	if err == nil {
		slog.Debug("Gemini model validation success", "model", modelName)
		return nil
	}

	slog.Warn("Gemini model validation failed, fetching available models...", "model", modelName, "error", err)

	page, listErr := client.Models.List(ctx, nil)
	if listErr != nil {
		return fmt.Errorf("model %s unavailable: %w", modelName, err)
	}

	var available []string
	for {
		for _, m := range page.Items {
			if m != nil {
				available = append(available, m.Name)
			}
		}
		next, nextErr := page.Next(ctx)
		if nextErr == iterator.Done {
			break
		}
		if nextErr != nil {
			break
		}
		page = next
	}

	slog.Error("Configured model not found", "configured", modelName)
	for _, m := range available {
		slog.Error("- " + m)
	}
	return fmt.Errorf("model %s unavailable: %w", modelName, err)
}
