package api

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"synthv/pkg/artifact"
)

// ArtifactHandler serves generated assets by handle ID.
type ArtifactHandler struct {
	registry *artifact.Registry
}

// NewArtifactHandler creates a new ArtifactHandler.
func NewArtifactHandler(reg *artifact.Registry) *ArtifactHandler {
	return &ArtifactHandler{registry: reg}
}

// ServeHTTP streams the asset bytes. Released handles answer 404.
func (h *ArtifactHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, handle, err := h.registry.Open(r.PathValue("id"))
	if errors.Is(err, artifact.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", handle.MIMEType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if r.URL.Query().Get("download") != "" {
		w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(handle.ID+extension(handle.MIMEType)))
	}
	// ServeContent handles Range requests, which video seeking relies on.
	http.ServeContent(w, r, "", handle.CreatedAt, bytes.NewReader(data))
}

func extension(mimeType string) string {
	switch mimeType {
	case "video/mp4":
		return ".mp4"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "text/plain":
		return ".txt"
	}
	return ""
}
