package logging

import (
	"strings"
	"sync"
)

// LogCaptureWriter is a thread-safe writer that keeps the most recent lines.
type LogCaptureWriter struct {
	mu    sync.RWMutex
	size  int
	lines []string
}

// NewLogCapture returns a writer keeping up to size lines.
func NewLogCapture(size int) *LogCaptureWriter {
	if size < 1 {
		size = 1
	}
	return &LogCaptureWriter{size: size}
}

// GlobalLogCapture holds the last server log line for the status bar.
var GlobalLogCapture = NewLogCapture(1)

// GlobalGenerationCapture holds the recent generation history.
var GlobalGenerationCapture = NewLogCapture(20)

// Write implements io.Writer. Each non-empty line of p is kept.
func (w *LogCaptureWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, line := range strings.Split(string(p), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		w.lines = append(w.lines, line)
	}
	if over := len(w.lines) - w.size; over > 0 {
		w.lines = append(w.lines[:0], w.lines[over:]...)
	}
	return len(p), nil
}

// GetLastLine returns the most recent line, or "" when nothing was written.
func (w *LogCaptureWriter) GetLastLine() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.lines) == 0 {
		return ""
	}
	return w.lines[len(w.lines)-1]
}

// Recent returns the kept lines, oldest first.
func (w *LogCaptureWriter) Recent() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.lines...)
}
