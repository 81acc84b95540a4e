package generation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"Nil", nil, ""},
		{"Validation", &ValidationError{Field: "prompt", Reason: "Please enter a prompt."}, "Please enter a prompt."},
		{"EmptyBatch", &EmptyBatchError{}, "Please enter a prompt for at least one segment."},
		{"Timeout", &TimeoutError{Attempts: 30, Waited: 300 * time.Second}, "Generation timed out after 5m0s. Please try again."},
		{"MissingResult", &MissingResultError{Operation: "op"}, "Generation succeeded, but no result was returned."},
		{"FetchStatus", &FetchError{Status: 403}, "Failed to download video file. Status: 403"},
		{"FetchTransport", &FetchError{Err: errors.New("eof")}, "Failed to download the generated file."},
		{"RemoteReported", &RemoteError{Op: "remote", Message: "blocked"}, "Video generation failed: blocked"},
		{"SubmitWrapped", fmt.Errorf("item 2: %w", &RemoteError{Op: "submit", Err: errors.New("quota")}), "Generation failed: quota"},
		{"Interrupted", &RemoteError{Op: "poll", Err: context.Canceled}, "Generation was interrupted."},
		{"Unknown", errors.New("boom"), "An unknown error occurred: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}

func TestNeedsCredential(t *testing.T) {
	assert.True(t, NeedsCredential(&ValidationError{Field: "credential", NeedsCredential: true}))
	assert.False(t, NeedsCredential(&ValidationError{Field: "prompt"}))
	assert.False(t, NeedsCredential(errors.New("x")))
}

func TestErrorStrings(t *testing.T) {
	assert.Equal(t, "submit: quota", (&RemoteError{Op: "submit", Message: "quota"}).Error())
	assert.Equal(t, "poll failed", (&RemoteError{Op: "poll"}).Error())
	assert.Contains(t, (&TimeoutError{Attempts: 3, Waited: 30 * time.Second}).Error(), "3 polls")
	assert.Contains(t, (&MissingResultError{Operation: "operations/1"}).Error(), "operations/1")
	assert.Equal(t, "failed to download file, status 404", (&FetchError{Status: 404}).Error())
	assert.ErrorIs(t, &FetchError{Err: context.DeadlineExceeded}, context.DeadlineExceeded)
}
