package generation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synthv/pkg/artifact"
	"synthv/pkg/credential"
	"synthv/pkg/llm"
	"synthv/pkg/llm/llmtest"
	"synthv/pkg/model"
	"synthv/pkg/request"
	"synthv/pkg/session"
	"synthv/pkg/tracker"
)

var videoBytes = []byte("fake video payload")

type harness struct {
	orch    *Orchestrator
	fake    *llmtest.Provider
	reg     *artifact.Registry
	sleeper *fakeSleeper
	srv     *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") == "" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.URL.Path == "/gone" {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write(videoBytes)
	}))
	t.Cleanup(srv.Close)

	reg := artifact.NewRegistry()
	s := &fakeSleeper{}
	fake := &llmtest.Provider{VideoURI: srv.URL + "/files/video"}
	return &harness{
		orch: &Orchestrator{
			Dial:     fake.Dialer(),
			Fetcher:  &Fetcher{Client: request.New(tracker.New(), 5*time.Second), Registry: reg},
			Registry: reg,
			Poller:   newTestPoller(s, 5),
		},
		fake:    fake,
		reg:     reg,
		sleeper: s,
		srv:     srv,
	}
}

func (h *harness) session(key string) *session.Session {
	sess := session.New("test", h.reg)
	sess.SetCredential(key)
	return sess
}

func TestRun_EmptyPrompt(t *testing.T) {
	for _, kind := range []model.Kind{model.KindText, model.KindImage, model.KindVideo} {
		t.Run(string(kind), func(t *testing.T) {
			h := newHarness(t)
			sess := h.session("key")

			_, err := h.orch.Run(context.Background(), sess, session.SlotVideo, model.Request{Kind: kind, Prompt: "   "})

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, "prompt", ve.Field)
			assert.Zero(t, h.fake.Calls().Remote())
			assert.Zero(t, h.fake.Calls().Dial)
			assert.Equal(t, model.StatusError, sess.State().Status)
			assert.False(t, sess.State().IsGenerating)
		})
	}
}

func TestRun_MissingCredential(t *testing.T) {
	h := newHarness(t)
	h.orch.Fallback = credential.SourceFunc(func() string { return "" })
	sess := h.session("")

	_, err := h.orch.Run(context.Background(), sess, session.SlotVideo, model.Request{Kind: model.KindVideo, Prompt: "a fox"})

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.True(t, NeedsCredential(err))

	st := sess.State()
	assert.Equal(t, model.StatusError, st.Status)
	assert.True(t, st.NeedsCredential)
	assert.False(t, st.IsGenerating)
	assert.Zero(t, h.fake.Calls().Remote())
}

func TestRun_MissingCredentialKeepsPriorResult(t *testing.T) {
	h := newHarness(t)
	sess := h.session("key")

	first, err := h.orch.Run(context.Background(), sess, session.SlotVideo, model.Request{Kind: model.KindVideo, Prompt: "a fox"})
	require.NoError(t, err)

	sess.SetCredential("")
	_, err = h.orch.Run(context.Background(), sess, session.SlotVideo, model.Request{Kind: model.KindVideo, Prompt: "a fox"})
	require.Error(t, err)

	assert.Equal(t, first.Handles, sess.Handles(session.SlotVideo))
	assert.Zero(t, h.reg.Released())
}

func TestRun_FallbackCredentialResolvedPerCall(t *testing.T) {
	h := newHarness(t)
	env := "env-1"
	h.orch.Fallback = credential.SourceFunc(func() string { return env })
	sess := h.session("")

	_, err := h.orch.Run(context.Background(), sess, session.SlotText, model.Request{Kind: model.KindText, Prompt: "hi"})
	require.Error(t, err, "empty text result is a missing result")

	env = "env-2"
	_, _ = h.orch.Run(context.Background(), sess, session.SlotText, model.Request{Kind: model.KindText, Prompt: "hi"})

	sess.SetCredential("user")
	_, _ = h.orch.Run(context.Background(), sess, session.SlotText, model.Request{Kind: model.KindText, Prompt: "hi"})

	assert.Equal(t, []string{"env-1", "env-2", "user"}, h.fake.Keys())
	assert.Empty(t, sess.Credential(), "fallback never cached into the session")
}

func TestRun_Video(t *testing.T) {
	h := newHarness(t)
	h.fake.Polls = []*llm.Operation{
		{Done: false},
		{Done: false},
		{Done: true, VideoURI: h.srv.URL + "/files/video", MIMEType: "video/mp4"},
	}
	sess := h.session("key")
	updates, cancel := sess.Subscribe()
	defer cancel()

	ref := &model.Image{Data: []byte{0xff, 0xd8}, MIMEType: "image/jpeg"}
	art, err := h.orch.Run(context.Background(), sess, session.SlotVideo, model.Request{Kind: model.KindVideo, Prompt: "a fox", Reference: ref})
	require.NoError(t, err)
	cancel()

	require.Len(t, art.Handles, 1)
	assert.Equal(t, len(videoBytes), art.Handles[0].Size)
	assert.Equal(t, art.Handles, sess.Handles(session.SlotVideo))

	reqs := h.fake.VideoRequests()
	require.Len(t, reqs, 1)
	assert.Same(t, ref, reqs[0].Reference)
	assert.Equal(t, 3, h.fake.Calls().Poll)

	var progress []int
	for st := range updates {
		progress = append(progress, st.Progress)
	}
	require.NotEmpty(t, progress)
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1], "progress regressed: %v", progress)
	}
	assert.Equal(t, 100, progress[len(progress)-1])

	st := sess.State()
	assert.Equal(t, model.StatusSuccess, st.Status)
	assert.False(t, st.IsGenerating)
	assert.False(t, sess.Running())
}

func TestRun_RerunReleasesPriorHandleOnce(t *testing.T) {
	h := newHarness(t)
	sess := h.session("key")
	req := model.Request{Kind: model.KindVideo, Prompt: "a fox"}

	first, err := h.orch.Run(context.Background(), sess, session.SlotVideo, req)
	require.NoError(t, err)
	assert.Zero(t, h.reg.Released())

	second, err := h.orch.Run(context.Background(), sess, session.SlotVideo, req)
	require.NoError(t, err)

	assert.NotEqual(t, first.Handles[0].ID, second.Handles[0].ID)
	assert.Equal(t, int64(1), h.reg.Released())
	assert.Equal(t, 1, h.reg.Live())

	_, _, err = h.reg.Open(first.Handles[0].ID)
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestRun_VideoFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *harness)
		check   func(t *testing.T, err error)
		message string
	}{
		{
			name: "SubmitError",
			setup: func(h *harness) {
				h.fake.SubmitFunc = func(llm.VideoRequest) (*llm.Operation, error) { return nil, errors.New("quota exceeded") }
			},
			check: func(t *testing.T, err error) {
				var re *RemoteError
				require.ErrorAs(t, err, &re)
				assert.Equal(t, "submit", re.Op)
			},
			message: "Generation failed: quota exceeded",
		},
		{
			name: "RemoteFailure",
			setup: func(h *harness) {
				h.fake.Polls = []*llm.Operation{{Done: true, ErrorMessage: "blocked"}}
			},
			check: func(t *testing.T, err error) {
				var re *RemoteError
				require.ErrorAs(t, err, &re)
				assert.Equal(t, "remote", re.Op)
			},
			message: "Video generation failed: blocked",
		},
		{
			name: "Timeout",
			setup: func(h *harness) {
				h.fake.Polls = []*llm.Operation{{Done: false}}
			},
			check: func(t *testing.T, err error) {
				var te *TimeoutError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, 5, te.Attempts)
			},
			message: "Generation timed out after 50s. Please try again.",
		},
		{
			name: "MissingResult",
			setup: func(h *harness) {
				h.fake.Polls = []*llm.Operation{{Done: true}}
			},
			check: func(t *testing.T, err error) {
				var me *MissingResultError
				require.ErrorAs(t, err, &me)
				assert.Equal(t, "operations/fake-1", me.Operation)
			},
			message: "Generation succeeded, but no result was returned.",
		},
		{
			name: "DownloadStatus",
			setup: func(h *harness) {
				h.fake.Polls = []*llm.Operation{{Done: true, VideoURI: h.srv.URL + "/gone"}}
			},
			check: func(t *testing.T, err error) {
				var fe *FetchError
				require.ErrorAs(t, err, &fe)
				assert.Equal(t, http.StatusGone, fe.Status)
			},
			message: "Failed to download video file. Status: 410",
		},
		{
			name: "DialError",
			setup: func(h *harness) {
				h.fake.DialErr = errors.New("invalid key")
			},
			check: func(t *testing.T, err error) {
				var re *RemoteError
				require.ErrorAs(t, err, &re)
				assert.Equal(t, "connect", re.Op)
			},
			message: "Generation failed: invalid key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)
			sess := h.session("key")

			_, err := h.orch.Run(context.Background(), sess, session.SlotVideo, model.Request{Kind: model.KindVideo, Prompt: "a fox"})
			tt.check(t, err)

			st := sess.State()
			assert.Equal(t, model.StatusError, st.Status)
			assert.Equal(t, tt.message, st.Message)
			assert.False(t, st.IsGenerating)
			assert.False(t, sess.Running())
			assert.Empty(t, sess.Handles(session.SlotVideo))
		})
	}
}

func TestRun_Image(t *testing.T) {
	h := newHarness(t)
	h.fake.Images = []model.Image{
		{Data: []byte("one"), MIMEType: "image/png"},
		{},
		{Data: []byte("three")},
	}
	sess := h.session("key")

	art, err := h.orch.Run(context.Background(), sess, session.SlotImage, model.Request{
		Kind:   model.KindImage,
		Prompt: "a lighthouse",
		Image:  model.ImageOptions{Count: 3, AspectRatio: "16:9"},
	})
	require.NoError(t, err)
	require.Len(t, art.Handles, 2)
	assert.Equal(t, "image/png", art.Handles[0].MIMEType)
	assert.Equal(t, "image/jpeg", art.Handles[1].MIMEType)

	reqs := h.fake.ImageRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, llm.ImageRequest{Prompt: "a lighthouse", Count: 3, MIMEType: "image/jpeg", AspectRatio: "16:9"}, reqs[0])
	assert.Zero(t, h.fake.Calls().Poll, "images need no polling")
	assert.Equal(t, "2 images generated successfully!", sess.State().Message)
}

func TestRun_ImageInvalidOptions(t *testing.T) {
	h := newHarness(t)
	sess := h.session("key")

	_, err := h.orch.Run(context.Background(), sess, session.SlotImage, model.Request{
		Kind:   model.KindImage,
		Prompt: "a lighthouse",
		Image:  model.ImageOptions{AspectRatio: "21:9"},
	})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "image.aspect_ratio", ve.Field)
	assert.Zero(t, h.fake.Calls().Remote())
}

func TestRun_Text(t *testing.T) {
	h := newHarness(t)
	h.fake.Text = "A fox learns to ski."
	sess := h.session("key")

	art, err := h.orch.Run(context.Background(), sess, session.SlotText, model.Request{Kind: model.KindText, Prompt: "story"})
	require.NoError(t, err)
	assert.Equal(t, "A fox learns to ski.", art.Text)
	assert.Equal(t, "A fox learns to ski.", sess.Text(session.SlotText))
	assert.Equal(t, 1, h.fake.Calls().Text)
}

func TestRun_Busy(t *testing.T) {
	h := newHarness(t)
	sess := h.session("key")
	require.NoError(t, sess.Begin())

	_, err := h.orch.Run(context.Background(), sess, session.SlotText, model.Request{Kind: model.KindText, Prompt: "x"})
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, h.orch.Launch(context.Background(), sess, session.SlotText, model.Request{Kind: model.KindText, Prompt: "x"}), ErrBusy)
	assert.Zero(t, h.fake.Calls().Dial)
}

func TestLaunch_RunsInBackground(t *testing.T) {
	h := newHarness(t)
	h.fake.Text = "done"
	sess := h.session("key")

	require.NoError(t, h.orch.Launch(context.Background(), sess, session.SlotText, model.Request{Kind: model.KindText, Prompt: "x"}))

	assert.Eventually(t, func() bool {
		return !sess.Running() && sess.State().Status == model.StatusSuccess
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "done", sess.Text(session.SlotText))
}
