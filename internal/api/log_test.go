package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synthv/pkg/logging"
)

func TestFormatLogLine(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "SortsAndDropsLongParams",
			input: `time=2026-01-18T06:50:46.074+01:00 level=INFO msg="Orchestrator: video submitted" slot=video attempts="3 " operation=models/veo-3.0-generate-001/operations/abc123`,
			want:  "06:50:46 Orchestrator: video submitted (attempts=3, slot=video)",
		},
		{
			name:  "NoParams",
			input: `time=2026-01-18T06:50:46Z level=INFO msg=ready`,
			want:  "06:50:46 ready",
		},
		{
			name:  "NotStructured",
			input: "plain text line",
			want:  "plain text line",
		},
		{
			name:  "MissingMessage",
			input: "level=INFO slot=video",
			want:  "level=INFO slot=video",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatLogLine(tt.input))
		})
	}
}

func TestHandleLatestLog(t *testing.T) {
	_, _ = logging.GlobalLogCapture.Write([]byte(`time=2026-01-18T06:50:46Z level=INFO msg="Server started" addr=localhost:5173` + "\n"))
	_, _ = logging.GlobalGenerationCapture.Write([]byte("[2026-01-18 06:50:46] [video] success slot=video\n"))

	rec := httptest.NewRecorder()
	handleLatestLog(rec, httptest.NewRequest(http.MethodGet, "/api/log/latest", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body latestLogResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "06:50:46 Server started (addr=localhost:5173)", body.Log)
	assert.Equal(t, "[2026-01-18 06:50:46] [video] success slot=video", body.Generation)
	assert.Contains(t, body.History, body.Generation)
}
