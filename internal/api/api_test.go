package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synthv/pkg/artifact"
	"synthv/pkg/config"
	"synthv/pkg/credential"
	"synthv/pkg/generation"
	"synthv/pkg/llm"
	"synthv/pkg/llm/llmtest"
	"synthv/pkg/llm/prompts"
	"synthv/pkg/model"
	"synthv/pkg/request"
	"synthv/pkg/session"
	"synthv/pkg/store"
	"synthv/pkg/storyboard"
	"synthv/pkg/tracker"
)

var videoBytes = []byte("fake video payload")

type mockStore struct {
	mu    sync.Mutex
	state map[string]string
}

func (m *mockStore) GetState(ctx context.Context, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.state[key]
	return val, ok
}

func (m *mockStore) SetState(ctx context.Context, key, val string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		m.state = make(map[string]string)
	}
	m.state[key] = val
	return nil
}

func (m *mockStore) DeleteState(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, key)
	return nil
}

func (m *mockStore) ListState(ctx context.Context, prefix string) ([]store.Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Setting
	for k, v := range m.state {
		if strings.HasPrefix(k, prefix) {
			out = append(out, store.Setting{Key: k, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

type testServer struct {
	*httptest.Server
	fake     *llmtest.Provider
	store    *mockStore
	registry *artifact.Registry
	sessions *Sessions
	tracker  *tracker.Tracker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write(videoBytes)
	}))
	t.Cleanup(files.Close)

	st := &mockStore{}
	prov := config.NewProvider(config.DefaultConfig(), st)
	reg := artifact.NewRegistry()
	fake := &llmtest.Provider{VideoURI: files.URL + "/v1/files/abc", Text: "A brave little cat."}
	noEnv := credential.SourceFunc(func() string { return "" })
	tr := tracker.New()

	jobs := &generation.Orchestrator{
		Dial:     fake.Dialer(),
		Fetcher:  &generation.Fetcher{Client: request.New(tr, 5*time.Second), Registry: reg},
		Registry: reg,
		Poller: &generation.Poller{
			Interval:    time.Millisecond,
			MaxAttempts: 5,
			Base:        10,
			Span:        80,
			Sleep:       func(ctx context.Context, d time.Duration) error { return ctx.Err() },
		},
		Fallback: noEnv,
	}
	batches := &generation.Coordinator{Jobs: jobs}

	pm, err := prompts.Default()
	require.NoError(t, err)
	assistant := &storyboard.Assistant{
		Dial:     fake.Dialer(),
		Fallback: noEnv,
		Prompts:  pm,
		Catalog:  config.DefaultCatalog(),
		Config:   config.DefaultConfig().Storyboard,
	}

	sessions := NewSessions(time.Hour, reg, prov)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mux := NewMux("", Handlers{
		Sessions:   NewSessionHandler(sessions, st, noEnv),
		Generation: NewGenerationHandler(ctx, sessions, jobs, batches, int64(5*config.MB)),
		Storyboard: NewStoryboardHandler(ctx, sessions, assistant, batches),
		Events:     NewEventsHandler(sessions),
		Artifacts:  NewArtifactHandler(reg),
		Config:     NewConfigHandler(st, prov),
		Stats:      NewStatsHandler(tr, sessions, reg),
	}, nil)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, fake: fake, store: st, registry: reg, sessions: sessions, tracker: tr}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (ts *testServer) newSession(t *testing.T, key string) string {
	t.Helper()
	resp, body := ts.do(t, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created map[string]string
	require.NoError(t, json.Unmarshal(body, &created))
	sid := created["id"]
	require.NotEmpty(t, sid)

	if key != "" {
		resp, _ = ts.do(t, http.MethodPut, "/api/sessions/"+sid+"/credential", CredentialRequest{Key: key})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	return sid
}

// waitIdle waits for the active run of sid to finish and returns the final snapshot.
func (ts *testServer) waitIdle(t *testing.T, sid string) session.Snapshot {
	t.Helper()
	var snap session.Snapshot
	require.Eventually(t, func() bool {
		_, body := ts.do(t, http.MethodGet, "/api/sessions/"+sid+"/state", nil)
		snap = session.Snapshot{}
		require.NoError(t, json.Unmarshal(body, &snap))
		return !snap.Running
	}, 5*time.Second, 10*time.Millisecond)
	return snap
}

func slotView(snap session.Snapshot, slot string) (session.SlotView, bool) {
	for _, v := range snap.Slots {
		if v.Slot == slot {
			return v, true
		}
	}
	return session.SlotView{}, false
}

func TestHealthAndVersion(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, body = ts.do(t, http.MethodGet, "/api/version", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"version"`)
}

func TestSessions_InvalidID(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodGet, "/api/sessions/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessions_Delete(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.newSession(t, "")

	resp, _ := ts.do(t, http.MethodDelete, "/api/sessions/"+sid, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodDelete, "/api/sessions/"+sid, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestVideo_EndToEnd(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.newSession(t, "user-key")

	resp, body := ts.do(t, http.MethodPost, "/api/sessions/"+sid+"/video", GenerateRequest{Prompt: "a cat surfing"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	snap := ts.waitIdle(t, sid)
	assert.Equal(t, model.StatusSuccess, snap.State.Status)
	assert.Equal(t, 100, snap.State.Progress)
	assert.Equal(t, "Video generated successfully!", snap.State.Message)

	view, ok := slotView(snap, session.SlotVideo)
	require.True(t, ok)
	require.Len(t, view.URLs, 1)

	resp, data := ts.do(t, http.MethodGet, view.URLs[0], nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	assert.Equal(t, videoBytes, data)

	// releasing the slot revokes the artifact
	resp, _ = ts.do(t, http.MethodDelete, "/api/sessions/"+sid+"/slots/video", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, view.URLs[0], nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.Equal(t, []string{"user-key"}, ts.fake.Keys())
}

func TestVideo_MissingCredential(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.newSession(t, "")

	resp, _ := ts.do(t, http.MethodPost, "/api/sessions/"+sid+"/video", GenerateRequest{Prompt: "a cat"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	snap := ts.waitIdle(t, sid)
	assert.Equal(t, model.StatusError, snap.State.Status)
	assert.True(t, snap.State.NeedsCredential)
	assert.Zero(t, ts.fake.Calls().Remote())
}

func TestVideo_Busy(t *testing.T) {
	ts := newTestServer(t)
	release := make(chan struct{})
	ts.fake.PollFunc = func(op *llm.Operation) (*llm.Operation, error) {
		<-release
		return &llm.Operation{Name: op.Name, Done: true, VideoURI: ts.fake.VideoURI}, nil
	}
	sid := ts.newSession(t, "user-key")

	resp, _ := ts.do(t, http.MethodPost, "/api/sessions/"+sid+"/video", GenerateRequest{Prompt: "first"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPost, "/api/sessions/"+sid+"/text", GenerateRequest{Prompt: "second"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "already in progress")

	resp, _ = ts.do(t, http.MethodDelete, "/api/sessions/"+sid+"/slots/video", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(release)
	snap := ts.waitIdle(t, sid)
	assert.Equal(t, model.StatusSuccess, snap.State.Status)
}

func TestVideo_InvalidReference(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.newSession(t, "user-key")

	resp, body := ts.do(t, http.MethodPost, "/api/sessions/"+sid+"/video", GenerateRequest{
		Prompt:    "a cat",
		Reference: &ReferenceImage{Data: []byte("definitely not an image")},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), `"field":"reference"`)
	assert.Zero(t, ts.fake.Calls().Submit)
}

func TestText_EndToEnd(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.newSession(t, "user-key")

	resp, _ := ts.do(t, http.MethodPost, "/api/sessions/"+sid+"/text", GenerateRequest{Prompt: "tell me a story"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	snap := ts.waitIdle(t, sid)
	assert.Equal(t, model.StatusSuccess, snap.State.Status)
	view, ok := slotView(snap, session.SlotText)
	require.True(t, ok)
	assert.Equal(t, "A brave little cat.", view.Text)
}

func TestBatch_EndToEnd(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.newSession(t, "user-key")

	body := map[string]any{"items": []map[string]string{
		{"id": "one", "prompt": "first scene"},
		{"id": "two", "prompt": "second scene"},
		{"id": "blank", "prompt": "  "},
	}}
	resp, _ := ts.do(t, http.MethodPost, "/api/sessions/"+sid+"/batch", body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	snap := ts.waitIdle(t, sid)
	assert.Equal(t, model.StatusSuccess, snap.State.Status)
	require.Len(t, snap.Batch, 2)
	for _, item := range snap.Batch {
		assert.Equal(t, model.StatusSuccess, item.Status, item.ID)
		assert.NotEmpty(t, item.ArtifactURL)
	}

	resp, data := ts.do(t, http.MethodGet, "/api/sessions/"+sid+"/batch", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `"id":"one"`)
}

func TestCredential_RememberAndMask(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.newSession(t, "")

	resp, body := ts.do(t, http.MethodPut, "/api/sessions/"+sid+"/credential", CredentialRequest{Key: " secret-key-1234 ", Remember: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st CredentialStatus
	require.NoError(t, json.Unmarshal(body, &st))
	assert.True(t, st.HasKey)
	assert.True(t, st.Remembered)
	assert.Equal(t, "****1234", st.Masked)
	assert.NotContains(t, string(body), "secret")

	val, ok := ts.store.GetState(context.Background(), config.KeyGeminiAPIKey)
	require.True(t, ok)
	assert.Equal(t, "secret-key-1234", val)

	// a new session starts with the remembered key
	other := ts.newSession(t, "")
	_, body = ts.do(t, http.MethodGet, "/api/sessions/"+other+"/credential", nil)
	require.NoError(t, json.Unmarshal(body, &st))
	assert.True(t, st.HasKey)

	// clearing forgets it
	_, _ = ts.do(t, http.MethodPut, "/api/sessions/"+sid+"/credential", CredentialRequest{Key: ""})
	_, ok = ts.store.GetState(context.Background(), config.KeyGeminiAPIKey)
	assert.False(t, ok)
}

func TestConfig_GetAndSet(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cfg ConfigResponse
	require.NoError(t, json.Unmarshal(body, &cfg))
	assert.Equal(t, 1, cfg.ImageCount)
	assert.Equal(t, "1:1", cfg.ImageAspectRatio)
	assert.Equal(t, "10s", cfg.PollInterval)
	assert.Empty(t, cfg.Overrides)

	count := 3
	resp, body = ts.do(t, http.MethodPut, "/api/config", ConfigRequest{ImageCount: &count, ImageAspectRatio: "16:9", PollInterval: "5s"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &cfg))
	assert.Equal(t, 3, cfg.ImageCount)
	assert.Equal(t, "16:9", cfg.ImageAspectRatio)
	assert.Equal(t, "5s", cfg.PollInterval)
	assert.Equal(t, []string{config.KeyImageAspectRatio, config.KeyImageCount, config.KeyPollInterval}, cfg.Overrides)
}

func TestConfig_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		req  ConfigRequest
	}{
		{"Count", ConfigRequest{ImageCount: func() *int { n := 7; return &n }()}},
		{"AspectRatio", ConfigRequest{ImageAspectRatio: "2:1"}},
		{"MIMEType", ConfigRequest{ImageMIMEType: "image/gif"}},
		{"PollInterval", ConfigRequest{PollInterval: "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			resp, _ := ts.do(t, http.MethodPut, "/api/config", tt.req)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Empty(t, ts.store.state)
		})
	}
}

func TestStoryboard_Idea(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.newSession(t, "user-key")

	resp, body := ts.do(t, http.MethodPost, "/api/sessions/"+sid+"/storyboard/idea", map[string]string{"topic": "Hewan"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.JSONEq(t, `{"idea":"A brave little cat."}`, string(body))

	resp, body = ts.do(t, http.MethodPost, "/api/sessions/"+sid+"/storyboard/idea", map[string]string{"topic": "Nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), `"field":"topic"`)
}

func TestStoryboard_NeedsCredential(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.newSession(t, "")

	resp, body := ts.do(t, http.MethodPost, "/api/sessions/"+sid+"/storyboard/idea", map[string]string{"topic": "Hewan"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), `"needs_credential":true`)
}

func TestStoryboard_Render(t *testing.T) {
	ts := newTestServer(t)
	sid := ts.newSession(t, "user-key")

	sb := storyboard.Storyboard{
		Scenes:   2,
		Language: "English",
		Prompts: []storyboard.Scene{
			{SceneNumber: 1, EnglishPrompt: "Hello", VisualDescription: "A sunny meadow"},
			{SceneNumber: 2, EnglishPrompt: "Goodbye", VisualDescription: "A starry night"},
		},
	}
	resp, _ := ts.do(t, http.MethodPost, "/api/sessions/"+sid+"/storyboard/render", sb)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	snap := ts.waitIdle(t, sid)
	require.Len(t, snap.Batch, 2)
	assert.Contains(t, snap.Batch[0].Prompt, "sunny meadow")
	assert.Equal(t, 2, ts.fake.Calls().Submit)
}

func TestStoryboard_Catalog(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/api/storyboard/catalog", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cat CatalogResponse
	require.NoError(t, json.Unmarshal(body, &cat))
	assert.Contains(t, cat.Topics, "Hewan")
	assert.Equal(t, 10, cat.MaxScenes)
}

func TestStats(t *testing.T) {
	ts := newTestServer(t)
	ts.newSession(t, "")
	ts.registry.Create([]byte("x"), "text/plain")

	resp, body := ts.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats StatsResponse
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 1, stats.Tracking.Sessions)
	assert.Equal(t, 1, stats.Tracking.LiveArtifacts)
	assert.Positive(t, stats.Diagnostics.Goroutines)
}

func TestStats_Reset(t *testing.T) {
	ts := newTestServer(t)
	ts.tracker.TrackAPISuccess("gemini")
	ts.tracker.TrackBytes("gemini", 42)
	ts.registry.Create([]byte("x"), "text/plain")

	var stats StatsResponse
	_, body := ts.do(t, http.MethodGet, "/api/stats", nil)
	require.NoError(t, json.Unmarshal(body, &stats))
	require.Contains(t, stats.Providers, "gemini")

	resp, _ := ts.do(t, http.MethodDelete, "/api/stats", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, body = ts.do(t, http.MethodGet, "/api/stats", nil)
	stats = StatsResponse{}
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Empty(t, stats.Providers)
	assert.Equal(t, 1, stats.Tracking.LiveArtifacts)
}

func TestEvents_StreamsState(t *testing.T) {
	ts := newTestServer(t)
	release := make(chan struct{})
	ts.fake.PollFunc = func(op *llm.Operation) (*llm.Operation, error) {
		<-release
		return &llm.Operation{Name: op.Name, Done: true, VideoURI: ts.fake.VideoURI}, nil
	}
	sid := ts.newSession(t, "user-key")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/sessions/" + sid + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var st model.GenerationState
	require.NoError(t, conn.ReadJSON(&st))
	assert.Equal(t, model.StatusIdle, st.Status)

	resp, _ := ts.do(t, http.MethodPost, "/api/sessions/"+sid+"/video", GenerateRequest{Prompt: "a cat"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	close(release)

	// read until the terminal state arrives
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	last := -1
	for st.Status != model.StatusSuccess {
		require.NoError(t, conn.ReadJSON(&st))
		assert.GreaterOrEqual(t, st.Progress, last)
		last = st.Progress
	}
	assert.Equal(t, 100, st.Progress)
}

func TestArtifacts_Download(t *testing.T) {
	ts := newTestServer(t)
	h := ts.registry.Create(videoBytes, "video/mp4")

	resp, _ := ts.do(t, http.MethodGet, h.URL()+"?download=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), h.ID+".mp4")

	req, err := http.NewRequest(http.MethodGet, ts.URL+h.URL(), nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=0-3")
	r2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer r2.Body.Close()
	assert.Equal(t, http.StatusPartialContent, r2.StatusCode)
	part, _ := io.ReadAll(r2.Body)
	assert.Equal(t, videoBytes[:4], part)
}
