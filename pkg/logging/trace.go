package logging

import (
	"context"
	"log/slog"
)

// LevelTrace sits below DEBUG. Select it with level "TRACE" to see every poll attempt.
const LevelTrace = slog.LevelDebug - 4

// Trace logs msg on the default logger at LevelTrace.
func Trace(msg string, args ...any) {
	ctx := context.Background()
	l := slog.Default()
	if !l.Enabled(ctx, LevelTrace) {
		return
	}
	l.Log(ctx, LevelTrace, msg, args...)
}
