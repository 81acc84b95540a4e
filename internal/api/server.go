package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"synthv/pkg/version"
)

// Handlers groups the endpoint handlers mounted by NewServer.
// Storyboard and Config may be nil.
type Handlers struct {
	Sessions   *SessionHandler
	Generation *GenerationHandler
	Storyboard *StoryboardHandler
	Events     *EventsHandler
	Artifacts  *ArtifactHandler
	Config     *ConfigHandler
	Stats      *StatsHandler
}

// NewServer creates and configures the HTTP server.
// staticDir, when set, holds the built front-end served at "/".
func NewServer(addr, staticDir string, h Handlers, shutdown func()) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      NewMux(staticDir, h, shutdown),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // video downloads
		IdleTimeout:  60 * time.Second,
	}
}

// NewMux registers every route on a fresh mux.
func NewMux(staticDir string, h Handlers, shutdown func()) *http.ServeMux {
	mux := http.NewServeMux()

	// 1. Health and version
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /api/version", handleVersion)

	// 2. Sessions
	mux.HandleFunc("POST /api/sessions", h.Sessions.HandleCreate)
	mux.HandleFunc("DELETE /api/sessions/{sid}", h.Sessions.HandleDelete)
	mux.HandleFunc("GET /api/sessions/{sid}", h.Sessions.HandleState)
	mux.HandleFunc("GET /api/sessions/{sid}/state", h.Sessions.HandleState)
	mux.HandleFunc("GET /api/sessions/{sid}/batch", h.Sessions.HandleBatch)
	mux.HandleFunc("DELETE /api/sessions/{sid}/slots/{slot}", h.Sessions.HandleReleaseSlot)
	mux.HandleFunc("GET /api/sessions/{sid}/credential", h.Sessions.HandleGetCredential)
	mux.HandleFunc("PUT /api/sessions/{sid}/credential", h.Sessions.HandleSetCredential)
	mux.HandleFunc("GET /api/sessions/{sid}/events", h.Events.HandleEvents)

	// 3. Generation
	mux.HandleFunc("POST /api/sessions/{sid}/text", h.Generation.HandleText)
	mux.HandleFunc("POST /api/sessions/{sid}/image", h.Generation.HandleImage)
	mux.HandleFunc("POST /api/sessions/{sid}/video", h.Generation.HandleVideo)
	mux.HandleFunc("POST /api/sessions/{sid}/batch", h.Generation.HandleBatch)
	mux.Handle("GET /api/artifacts/{id}", h.Artifacts)

	// 4. Storyboard
	if h.Storyboard != nil {
		mux.HandleFunc("GET /api/storyboard/catalog", h.Storyboard.HandleCatalog)
		mux.HandleFunc("POST /api/sessions/{sid}/storyboard/idea", h.Storyboard.HandleIdea)
		mux.HandleFunc("POST /api/sessions/{sid}/storyboard/title", h.Storyboard.HandleTitle)
		mux.HandleFunc("POST /api/sessions/{sid}/storyboard/scenes", h.Storyboard.HandleScenes)
		mux.HandleFunc("POST /api/sessions/{sid}/storyboard/render", h.Storyboard.HandleRender)
	}

	// 5. Settings, stats and logs
	if h.Config != nil {
		mux.HandleFunc("/api/config", h.Config.HandleConfig)
	}
	if h.Stats != nil {
		mux.Handle("GET /api/stats", h.Stats)
		mux.HandleFunc("DELETE /api/stats", h.Stats.HandleReset)
	}
	mux.HandleFunc("GET /api/log/latest", handleLatestLog)

	// 6. Shutdown
	if shutdown != nil {
		mux.HandleFunc("POST /api/shutdown", func(w http.ResponseWriter, r *http.Request) {
			slog.Info("Graceful shutdown initiated via API")
			w.WriteHeader(http.StatusOK)
			if _, err := w.Write([]byte("Shutting down...")); err != nil {
				slog.Error("Failed to write shutdown response", "error", err)
			}
			// let the response flush first
			go func() {
				time.Sleep(100 * time.Millisecond)
				shutdown()
			}()
		})
	}

	// 7. Static front-end (SPA)
	if staticDir != "" {
		mux.Handle("/", http.FileServer(&spaFileSystem{root: http.Dir(staticDir)}))
	}

	return mux
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": "%s"}`, version.Version); err != nil {
		slog.Error("Failed to write version response", "error", err)
	}
}
