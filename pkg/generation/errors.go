package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"synthv/pkg/session"
)

// ErrBusy is returned when the session already has a run in progress.
var ErrBusy = session.ErrBusy

// ValidationError reports a precondition that failed before any network call.
type ValidationError struct {
	Field           string // "credential", "prompt", "items"
	Reason          string
	NeedsCredential bool
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// RemoteError reports a failed submission or a failure reported by the service.
type RemoteError struct {
	Op      string // "connect", "submit", "poll", "remote"
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + " failed"
	}
}

func (e *RemoteError) Unwrap() error { return e.Err }

// TimeoutError reports that polling exhausted its attempts without completion.
type TimeoutError struct {
	Attempts int
	Waited   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation not done after %d polls (%s)", e.Attempts, e.Waited)
}

// MissingResultError reports a completed operation without a retrievable asset.
type MissingResultError struct {
	Operation string
}

func (e *MissingResultError) Error() string {
	if e.Operation == "" {
		return "generation succeeded, but no result was returned"
	}
	return fmt.Sprintf("operation %s succeeded, but no download link was found", e.Operation)
}

// FetchError reports a non-2xx status while downloading an asset.
type FetchError struct {
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("download failed: %v", e.Err)
	}
	return fmt.Sprintf("failed to download file, status %d", e.Status)
}

func (e *FetchError) Unwrap() error { return e.Err }

// EmptyBatchError is returned when no batch item carries a prompt.
type EmptyBatchError struct{}

func (e *EmptyBatchError) Error() string {
	return "batch has no items with a prompt"
}

// UserMessage converts an error into the text shown to the user.
func UserMessage(err error) string {
	var (
		ve *ValidationError
		re *RemoteError
		te *TimeoutError
		me *MissingResultError
		fe *FetchError
		be *EmptyBatchError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return ve.Reason
	case errors.As(err, &be):
		return "Please enter a prompt for at least one segment."
	case errors.As(err, &te):
		return fmt.Sprintf("Generation timed out after %s. Please try again.", te.Waited.Round(time.Second))
	case errors.As(err, &me):
		return "Generation succeeded, but no result was returned."
	case errors.As(err, &fe):
		if fe.Status == 0 {
			return "Failed to download the generated file."
		}
		return fmt.Sprintf("Failed to download video file. Status: %d", fe.Status)
	case errors.As(err, &re):
		if errors.Is(re.Err, context.Canceled) || errors.Is(re.Err, context.DeadlineExceeded) {
			return "Generation was interrupted."
		}
		if re.Op == "remote" {
			return "Video generation failed: " + re.Message
		}
		if re.Err != nil {
			return "Generation failed: " + re.Err.Error()
		}
		return "Generation failed: " + re.Message
	default:
		return "An unknown error occurred: " + err.Error()
	}
}

// NeedsCredential reports whether err should prompt the user to enter an API key.
func NeedsCredential(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.NeedsCredential
}
