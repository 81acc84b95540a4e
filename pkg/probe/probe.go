// Package probe runs the startup checks of the server and the batch tool.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"synthv/pkg/credential"
	"synthv/pkg/llm"
)

// DefaultTimeout bounds a single check when the probe sets none.
const DefaultTimeout = 5 * time.Second

// ErrSkipped marks a check that had nothing to verify.
var ErrSkipped = errors.New("skipped")

// CheckFunc is a function that performs a health check.
// It returns nil if the check passes, or an error if it fails.
type CheckFunc func(ctx context.Context) error

// Probe represents a single startup check.
type Probe struct {
	Name     string
	Check    CheckFunc
	Critical bool // If true, a failure here should prevent application startup.
	Timeout  time.Duration
}

// Result holds the outcome of a single probe.
type Result struct {
	Probe    Probe
	Error    error
	Duration time.Duration
}

// Skipped reports whether the check had nothing to verify.
func (r Result) Skipped() bool {
	return errors.Is(r.Error, ErrSkipped)
}

// Run executes a list of probes in order and returns their results.
func Run(ctx context.Context, probes []Probe) []Result {
	results := make([]Result, len(probes))

	for i, p := range probes {
		start := time.Now()

		timeout := p.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		err := p.Check(checkCtx)
		cancel()

		results[i] = Result{
			Probe:    p,
			Error:    err,
			Duration: time.Since(start),
		}
	}

	return results
}

// AnalyzeResults logs the results and returns a combined error if critical probes failed.
func AnalyzeResults(results []Result) error {
	var criticalErrors []error

	slog.Info("Startup Checks Summary")

	for _, r := range results {
		status := "PASS"
		switch {
		case r.Skipped():
			status = "SKIP"
		case r.Error != nil:
			status = "FAIL"
		}

		msg := fmt.Sprintf("[%s] %-20s (%v)", status, r.Probe.Name, r.Duration.Round(time.Millisecond))

		switch {
		case r.Skipped():
			slog.Info(msg, "reason", r.Error)
		case r.Error != nil:
			slog.Error(msg, "error", r.Error)
			if r.Probe.Critical {
				criticalErrors = append(criticalErrors, fmt.Errorf("%s: %w", r.Probe.Name, r.Error))
			}
		default:
			slog.Info(msg)
		}
	}

	return errors.Join(criticalErrors...)
}

// WritableDir checks that dir exists (creating it if needed) and accepts new files.
func WritableDir(name, dir string) Probe {
	return Probe{
		Name:     name,
		Critical: true,
		Check: func(ctx context.Context) error {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			f, err := os.CreateTemp(dir, ".probe-*")
			if err != nil {
				return fmt.Errorf("directory %s is not writable: %w", filepath.Clean(dir), err)
			}
			name := f.Name()
			f.Close()
			return os.Remove(name)
		},
	}
}

// Credential reports whether any API key is available. A missing key is not fatal:
// users can still enter one per session.
func Credential(remembered string, fallback credential.Source) Probe {
	return Probe{
		Name: "API key",
		Check: func(ctx context.Context) error {
			if credential.Resolve(remembered, fallback) == "" {
				return errors.New("no API key in the environment or settings; users must enter one")
			}
			return nil
		},
	}
}

// Provider dials the generation service with key and runs its health check.
// It is skipped when no key is available.
func Provider(dial llm.Dialer, key string) Probe {
	return Probe{
		Name:    "Generation service",
		Timeout: 15 * time.Second,
		Check: func(ctx context.Context) error {
			if key == "" {
				return fmt.Errorf("%w: no API key", ErrSkipped)
			}
			p, err := dial(ctx, key)
			if err != nil {
				return err
			}
			return p.HealthCheck(ctx)
		},
	}
}
