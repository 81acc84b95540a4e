package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"synthv/pkg/config"
	"synthv/pkg/store"
)

// ConfigHandler handles the user-adjustable generation defaults.
type ConfigHandler struct {
	store   store.StateStore
	cfgProv config.Provider
}

// NewConfigHandler creates a new ConfigHandler.
func NewConfigHandler(st store.StateStore, cfg config.Provider) *ConfigHandler {
	return &ConfigHandler{store: st, cfgProv: cfg}
}

// ConfigResponse represents the config API response.
type ConfigResponse struct {
	ImageCount       int      `json:"image_count"`
	ImageMIMEType    string   `json:"image_mime_type"`
	ImageAspectRatio string   `json:"image_aspect_ratio"`
	AspectRatios     []string `json:"aspect_ratios"`
	PollInterval     string   `json:"poll_interval"`
	PollMaxAttempts  int      `json:"poll_max_attempts"`
	VideoModel       string   `json:"video_model"`
	MaxReferenceSize int64    `json:"max_reference_size"`
	Overrides        []string `json:"overrides"` // settings changed from the file defaults
}

// settingsLister is implemented by stores that can enumerate their keys.
type settingsLister interface {
	ListState(ctx context.Context, prefix string) ([]store.Setting, error)
}

// ConfigRequest represents the config API request for updates.
type ConfigRequest struct {
	ImageCount       *int   `json:"image_count,omitempty"` // Pointer to detect zero vs missing
	ImageMIMEType    string `json:"image_mime_type,omitempty"`
	ImageAspectRatio string `json:"image_aspect_ratio,omitempty"`
	PollInterval     string `json:"poll_interval,omitempty"`
}

// HandleConfig is a unified handler for all config-related methods, facilitating CORS/OPTIONS.
func (h *ConfigHandler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		h.HandleGetConfig(w, r)
	case http.MethodPut, http.MethodPost:
		h.HandleSetConfig(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleGetConfig returns the effective defaults.
func (h *ConfigHandler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.getConfigResponse(r.Context()))
}

func (h *ConfigHandler) getConfigResponse(ctx context.Context) ConfigResponse {
	app := h.cfgProv.AppConfig()
	return ConfigResponse{
		ImageCount:       h.cfgProv.ImageCount(ctx),
		ImageMIMEType:    h.cfgProv.ImageMIMEType(ctx),
		ImageAspectRatio: h.cfgProv.ImageAspectRatio(ctx),
		AspectRatios:     config.AspectRatios,
		PollInterval:     h.cfgProv.PollInterval(ctx).String(),
		PollMaxAttempts:  app.Poll.MaxAttempts,
		VideoModel:       app.Gemini.VideoModel,
		MaxReferenceSize: int64(app.Reference.MaxSize),
		Overrides:        h.overrides(ctx),
	}
}

func (h *ConfigHandler) overrides(ctx context.Context) []string {
	l, ok := h.store.(settingsLister)
	if !ok {
		return nil
	}
	settings, err := l.ListState(ctx, "")
	if err != nil {
		slog.Warn("Failed to list settings", "error", err)
		return nil
	}
	keys := []string{}
	for _, st := range settings {
		if st.Key == config.KeyGeminiAPIKey {
			continue
		}
		keys = append(keys, st.Key)
	}
	return keys
}

// HandleSetConfig validates and persists updates, then returns the new defaults.
// Nothing is written unless every field is valid.
func (h *ConfigHandler) HandleSetConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	updates, err := validateUpdates(&req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	ctx := r.Context()
	for key, val := range updates {
		if err := h.store.SetState(ctx, key, val); err != nil {
			slog.Error("Failed to save state", "key", key, "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to save settings"})
			return
		}
		slog.Debug("Config updated", key, val)
	}
	h.HandleGetConfig(w, r)
}

func validateUpdates(req *ConfigRequest) (map[string]string, error) {
	updates := make(map[string]string)
	if req.ImageCount != nil {
		if *req.ImageCount < 1 || *req.ImageCount > 4 {
			return nil, fmt.Errorf("image_count must be between 1 and 4")
		}
		updates[config.KeyImageCount] = strconv.Itoa(*req.ImageCount)
	}
	if req.ImageMIMEType != "" {
		if req.ImageMIMEType != "image/jpeg" && req.ImageMIMEType != "image/png" {
			return nil, fmt.Errorf("image_mime_type must be image/jpeg or image/png")
		}
		updates[config.KeyImageMIMEType] = req.ImageMIMEType
	}
	if req.ImageAspectRatio != "" {
		if !config.ValidAspectRatio(req.ImageAspectRatio) {
			return nil, fmt.Errorf("image_aspect_ratio must be one of %v", config.AspectRatios)
		}
		updates[config.KeyImageAspectRatio] = req.ImageAspectRatio
	}
	if req.PollInterval != "" {
		d, err := config.ParseDuration(req.PollInterval)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("poll_interval %q is not a positive duration", req.PollInterval)
		}
		updates[config.KeyPollInterval] = req.PollInterval
	}
	return updates, nil
}
