package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"synthv/pkg/config"
)

// generationLogPath is the path to the generation history file.
var generationLogPath string

// generationLogMu protects concurrent writes to the generation history.
var generationLogMu sync.Mutex

// Init initializes the logging system based on configuration.
// It returns a cleanup function to close log files.
func Init(cfg *config.LogConfig) (func(), error) {
	// Rotate log files at startup; the previous run is kept as .old
	rotatePaths(cfg.Server.Path, cfg.Generations.Path, cfg.Prompts.Path)

	SetGenerationLogPath(cfg.Generations.Path)

	serverHandler, file, err := setupHandler(cfg.Server.Path, cfg.Server.Level, true)
	if err != nil {
		return nil, fmt.Errorf("failed to setup server logger: %w", err)
	}
	slog.SetDefault(slog.New(serverHandler))

	return func() {
		if file != nil {
			file.Close()
		}
	}, nil
}

func parseLevel(levelStr string) slog.Level {
	switch strings.ToUpper(levelStr) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupHandler(path, levelStr string, stdout bool) (handler slog.Handler, file *os.File, err error) {
	level := parseLevel(levelStr)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}

	// Append mode, rotation handled in Init
	file, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}
	fileHandler := slog.NewTextHandler(file, opts)

	if !stdout {
		return fileHandler, file, nil
	}

	// Console only shows INFO and up
	consoleHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: max(level, slog.LevelInfo),
	})

	// Capture for /api/log/latest
	captureHandler := slog.NewTextHandler(GlobalLogCapture, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})

	return &multiHandler{handlers: []slog.Handler{fileHandler, consoleHandler, captureHandler}}, file, nil
}

type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle implements slog.Handler
// nolint:gocritic // r must be passed by value to implement slog.Handler
func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		out[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: out}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		out[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: out}
}

// rotatePaths renames existing log files to .old.
func rotatePaths(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			oldPath := p + ".old"
			_ = os.Remove(oldPath)
			_ = os.Rename(p, oldPath)
		}
	}
}

// SetGenerationLogPath configures the generation history file. Empty disables it.
func SetGenerationLogPath(path string) {
	generationLogMu.Lock()
	defer generationLogMu.Unlock()
	generationLogPath = path
}

// GenerationRecord is one terminal job outcome.
type GenerationRecord struct {
	Timestamp time.Time
	Session   string
	Slot      string
	Kind      string
	Prompt    string
	Status    string
	Message   string
	Artifacts int
	Bytes     int
	Duration  time.Duration
}

// LogGeneration appends rec to the generation history and captures it for the UI.
func LogGeneration(rec *GenerationRecord) {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	// Format: [2006-01-02 15:04:05] [video] success slot=video 1 artifact(s) 2.1MB 41s "prompt"
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s slot=%s", ts.Format("2006-01-02 15:04:05"), rec.Kind, rec.Status, rec.Slot)
	if rec.Session != "" {
		fmt.Fprintf(&b, " session=%s", rec.Session)
	}
	if rec.Artifacts > 0 {
		fmt.Fprintf(&b, " artifacts=%d bytes=%d", rec.Artifacts, rec.Bytes)
	}
	fmt.Fprintf(&b, " took=%s prompt=%q", rec.Duration.Round(time.Millisecond), truncate(rec.Prompt, 120))
	if rec.Message != "" {
		fmt.Fprintf(&b, " - %s", rec.Message)
	}
	line := b.String()

	_, _ = GlobalGenerationCapture.Write([]byte(line))

	generationLogMu.Lock()
	defer generationLogMu.Unlock()
	if generationLogPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(generationLogPath), 0o755); err != nil {
		slog.Error("failed to create generation log directory", "error", err)
		return
	}
	f, err := os.OpenFile(generationLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Error("failed to open generation log", "error", err)
		return
	}
	defer f.Close()

	if _, err := io.WriteString(f, line+"\n"); err != nil {
		slog.Error("failed to write generation log", "error", err)
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
