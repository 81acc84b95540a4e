// Package storyboard turns a topic into a story idea, a title and a scene-by-scene
// script whose scenes can be sent to video generation one by one or as a batch.
package storyboard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"synthv/pkg/config"
	"synthv/pkg/credential"
	"synthv/pkg/generation"
	"synthv/pkg/llm"
	"synthv/pkg/llm/prompts"
	"synthv/pkg/model"
)

// Intents select the model profile and temperature configured for each call.
const (
	IntentIdea   = "idea"
	IntentTitle  = "title"
	IntentScenes = "scenes"
)

// LanguageIndonesian selects Indonesian narration for scene videos.
const LanguageIndonesian = "Indonesia"

// Scene is one step of a storyboard.
type Scene struct {
	SceneNumber       int    `json:"sceneNumber"`
	IndonesianPrompt  string `json:"indonesianPrompt"`
	EnglishPrompt     string `json:"englishPrompt"`
	VisualDescription string `json:"visualDescription"`
}

// Storyboard is a generated scene breakdown.
type Storyboard struct {
	Scenes   int     `json:"scenes"`
	Duration int     `json:"duration"` // seconds
	Topic    string  `json:"topic"`
	Language string  `json:"language"`
	Idea     string  `json:"idea"`
	Prompts  []Scene `json:"prompts"`
}

// ScenesRequest holds the inputs of a scene breakdown.
type ScenesRequest struct {
	Scenes   int    `json:"scenes"`
	Topic    string `json:"topic"`
	Idea     string `json:"idea"`
	Language string `json:"language"`
}

// Assistant generates storyboard content.
type Assistant struct {
	Dial     llm.Dialer
	Fallback credential.Source
	Prompts  *prompts.Manager
	Catalog  *config.CatalogConfig
	Config   config.StoryboardConfig
}

var sceneSchema = &llm.Schema{
	Type: llm.TypeObject,
	Properties: map[string]*llm.Schema{
		"prompts": {
			Type:        llm.TypeArray,
			Description: "An array of scene details.",
			Items: &llm.Schema{
				Type: llm.TypeObject,
				Properties: map[string]*llm.Schema{
					"sceneNumber":       {Type: llm.TypeInteger, Description: "The sequence number of the scene."},
					"indonesianPrompt":  {Type: llm.TypeString, Description: "The prompt for this scene in Indonesian. If not requested, a concise summary."},
					"englishPrompt":     {Type: llm.TypeString, Description: "The prompt for this scene in English. If not requested, a concise summary."},
					"visualDescription": {Type: llm.TypeString, Description: "A detailed description of the visuals of this scene for a video generator."},
				},
				Required: []string{"sceneNumber", "indonesianPrompt", "englishPrompt", "visualDescription"},
			},
		},
	},
	Required: []string{"prompts"},
}

// Idea returns a one-sentence story idea for topic.
func (a *Assistant) Idea(ctx context.Context, explicitKey, topic string) (string, error) {
	if !a.Catalog.HasTopic(topic) {
		return "", &generation.ValidationError{Field: "topic", Reason: fmt.Sprintf("Unknown topic %q.", topic)}
	}
	prompt, err := a.Prompts.Render("storyboard/idea.tmpl", map[string]any{"Topic": topic})
	if err != nil {
		return "", fmt.Errorf("render idea prompt: %w", err)
	}

	p, err := a.dial(ctx, explicitKey)
	if err != nil {
		return "", err
	}
	text, err := p.GenerateText(ctx, IntentIdea, prompt)
	if err != nil {
		return "", &generation.RemoteError{Op: "submit", Err: err}
	}
	return strings.TrimSpace(text), nil
}

// Title returns a short title for idea. An empty idea yields an empty title without a remote call.
func (a *Assistant) Title(ctx context.Context, explicitKey, idea string) (string, error) {
	if strings.TrimSpace(idea) == "" {
		return "", nil
	}
	prompt, err := a.Prompts.Render("storyboard/title.tmpl", map[string]any{"Idea": idea})
	if err != nil {
		return "", fmt.Errorf("render title prompt: %w", err)
	}

	p, err := a.dial(ctx, explicitKey)
	if err != nil {
		return "", err
	}
	text, err := p.GenerateText(ctx, IntentTitle, prompt)
	if err != nil {
		return "", &generation.RemoteError{Op: "submit", Err: err}
	}
	return cleanTitle(text), nil
}

// Scenes breaks an idea down into req.Scenes scenes.
func (a *Assistant) Scenes(ctx context.Context, explicitKey string, req ScenesRequest) (*Storyboard, error) {
	if err := a.validate(&req); err != nil {
		return nil, err
	}

	duration := req.Scenes * a.Config.SceneSeconds
	prompt, err := a.Prompts.Render("storyboard/scenes.tmpl", map[string]any{
		"Idea":     req.Idea,
		"Topic":    req.Topic,
		"Scenes":   req.Scenes,
		"Duration": duration,
		"Language": req.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("render scenes prompt: %w", err)
	}

	p, err := a.dial(ctx, explicitKey)
	if err != nil {
		return nil, err
	}

	var out struct {
		Prompts []Scene `json:"prompts"`
	}
	if err := p.GenerateJSON(ctx, IntentScenes, prompt, sceneSchema, &out); err != nil {
		return nil, &generation.RemoteError{Op: "submit", Message: "Failed to generate details from AI.", Err: err}
	}
	if len(out.Prompts) == 0 {
		return nil, &generation.MissingResultError{}
	}
	for i := range out.Prompts {
		if out.Prompts[i].SceneNumber == 0 {
			out.Prompts[i].SceneNumber = i + 1
		}
	}
	slog.Info("Storyboard: scenes generated", "requested", req.Scenes, "received", len(out.Prompts), "topic", req.Topic)

	return &Storyboard{
		Scenes:   req.Scenes,
		Duration: duration,
		Topic:    req.Topic,
		Language: req.Language,
		Idea:     req.Idea,
		Prompts:  out.Prompts,
	}, nil
}

// ScenePrompt builds the video prompt for one scene: its visuals plus the narration
// in the storyboard language.
func (a *Assistant) ScenePrompt(scene Scene, language string) (string, error) {
	narration := scene.EnglishPrompt
	if language == LanguageIndonesian || narration == "" {
		narration = scene.IndonesianPrompt
	}
	return a.Prompts.Render("storyboard/scene_video.tmpl", map[string]any{
		"Visual":    strings.TrimRight(strings.TrimSpace(scene.VisualDescription), "."),
		"Narration": strings.TrimSpace(narration),
	})
}

// BatchItems converts every scene into a batch entry, in scene order.
func (a *Assistant) BatchItems(sb *Storyboard) ([]model.BatchInput, error) {
	items := make([]model.BatchInput, 0, len(sb.Prompts))
	for _, sc := range sb.Prompts {
		prompt, err := a.ScenePrompt(sc, sb.Language)
		if err != nil {
			return nil, fmt.Errorf("scene %d: %w", sc.SceneNumber, err)
		}
		items = append(items, model.BatchInput{Prompt: prompt})
	}
	return items, nil
}

func (a *Assistant) validate(req *ScenesRequest) error {
	if strings.TrimSpace(req.Idea) == "" {
		return &generation.ValidationError{Field: "idea", Reason: "Please enter a story idea."}
	}
	if req.Scenes < 1 || req.Scenes > a.Config.MaxScenes {
		return &generation.ValidationError{Field: "scenes", Reason: fmt.Sprintf("Number of scenes must be between 1 and %d.", a.Config.MaxScenes)}
	}
	if !a.Catalog.HasTopic(req.Topic) {
		return &generation.ValidationError{Field: "topic", Reason: fmt.Sprintf("Unknown topic %q.", req.Topic)}
	}
	if req.Language == "" {
		req.Language = a.Catalog.Languages[0]
	}
	if !a.Catalog.HasLanguage(req.Language) {
		return &generation.ValidationError{Field: "language", Reason: fmt.Sprintf("Unknown language %q.", req.Language)}
	}
	return nil
}

func (a *Assistant) dial(ctx context.Context, explicitKey string) (llm.Provider, error) {
	key := credential.Resolve(explicitKey, a.Fallback)
	if key == "" {
		return nil, &generation.ValidationError{
			Field:           "credential",
			Reason:          "API key is missing. Please set it in the settings.",
			NeedsCredential: true,
		}
	}
	p, err := a.Dial(ctx, key)
	if err != nil {
		return nil, &generation.RemoteError{Op: "connect", Err: err}
	}
	return p, nil
}

func cleanTitle(s string) string {
	s = strings.NewReplacer(`"`, "", "*", "").Replace(s)
	return strings.TrimSpace(s)
}
