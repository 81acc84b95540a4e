// Package generation drives generation requests against the remote service:
// validation, submission, polling of long-running operations, download of the
// finished asset and the resulting session state updates.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"synthv/pkg/artifact"
	"synthv/pkg/config"
	"synthv/pkg/credential"
	"synthv/pkg/llm"
	"synthv/pkg/logging"
	"synthv/pkg/model"
	"synthv/pkg/session"
)

const tracerName = "synthv/generation"

// Artifact is the resolved output of one request.
type Artifact struct {
	Kind    model.Kind
	Text    string
	Handles []*artifact.Handle
}

// Reporter receives progress of a single job.
type Reporter func(progress int, message string, phase model.Phase)

// Orchestrator runs single generation requests.
type Orchestrator struct {
	Dial     llm.Dialer
	Fetcher  *Fetcher
	Registry *artifact.Registry
	Poller   *Poller

	// Fallback supplies the credential when the session holds none.
	Fallback credential.Source

	// Settings fills image options left empty by the request. May be nil.
	Settings config.Provider
}

// Launch claims sess and runs req in the background. It fails with ErrBusy
// while another run holds the session. ctx should outlive the HTTP request.
func (o *Orchestrator) Launch(ctx context.Context, sess *session.Session, slot string, req model.Request) error {
	if err := sess.Begin(); err != nil {
		return err
	}
	go func() {
		defer sess.End()
		_, _ = o.run(ctx, sess, slot, req)
	}()
	return nil
}

// Run claims sess and runs req to completion.
func (o *Orchestrator) Run(ctx context.Context, sess *session.Session, slot string, req model.Request) (*Artifact, error) {
	if err := sess.Begin(); err != nil {
		return nil, err
	}
	defer sess.End()
	return o.run(ctx, sess, slot, req)
}

func (o *Orchestrator) run(ctx context.Context, sess *session.Session, slot string, req model.Request) (*Artifact, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "generation.run", trace.WithAttributes(
		attribute.String("session", sess.ID),
		attribute.String("slot", slot),
		attribute.String("kind", string(req.Kind)),
	))
	defer span.End()

	started := time.Now()
	key := credential.Resolve(sess.Credential(), o.Fallback)

	// Nothing the session already holds is touched before validation passes.
	if err := o.validate(key, &req); err != nil {
		sess.Fail(UserMessage(err), NeedsCredential(err))
		o.finish(span, sess.ID, slot, req, started, nil, err)
		return nil, err
	}

	sess.Start(startMessage(req.Kind))
	sess.ReleaseSlot(slot)

	art, err := o.execute(ctx, key, req, func(p int, msg string, phase model.Phase) {
		sess.Progress(p, msg, phase)
	})
	if err != nil {
		sess.Fail(UserMessage(err), NeedsCredential(err))
		o.finish(span, sess.ID, slot, req, started, nil, err)
		return nil, err
	}

	if art.Kind == model.KindText {
		sess.SetText(slot, art.Text)
	} else {
		sess.Assign(slot, art.Handles...)
	}
	sess.Succeed(successMessage(art))
	o.finish(span, sess.ID, slot, req, started, art, nil)
	return art, nil
}

// validate checks the credential and request before any network call.
// Empty image options are filled in from settings.
func (o *Orchestrator) validate(key string, req *model.Request) error {
	if key == "" {
		return &ValidationError{
			Field:           "credential",
			Reason:          "API key is missing. Please set it in the settings.",
			NeedsCredential: true,
		}
	}
	if !req.HasPrompt() {
		return &ValidationError{Field: "prompt", Reason: "Please enter a prompt."}
	}

	switch req.Kind {
	case model.KindText, model.KindVideo:
	case model.KindImage:
		o.fillImageOptions(&req.Image)
		if req.Image.Count < 1 || req.Image.Count > 4 {
			return &ValidationError{Field: "image.count", Reason: "Number of images must be between 1 and 4."}
		}
		if !config.ValidAspectRatio(req.Image.AspectRatio) {
			return &ValidationError{Field: "image.aspect_ratio", Reason: fmt.Sprintf("Unsupported aspect ratio %q.", req.Image.AspectRatio)}
		}
	default:
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("Unsupported generation type %q.", req.Kind)}
	}
	return nil
}

func (o *Orchestrator) fillImageOptions(opts *model.ImageOptions) {
	bg := context.Background()
	if opts.Count == 0 {
		opts.Count = 1
		if o.Settings != nil {
			opts.Count = o.Settings.ImageCount(bg)
		}
	}
	if opts.MIMEType == "" {
		opts.MIMEType = "image/jpeg"
		if o.Settings != nil {
			opts.MIMEType = o.Settings.ImageMIMEType(bg)
		}
	}
	if opts.AspectRatio == "" {
		opts.AspectRatio = "1:1"
		if o.Settings != nil {
			opts.AspectRatio = o.Settings.ImageAspectRatio(bg)
		}
	}
}

// execute performs one validated request. It holds no session state and is shared with batches.
func (o *Orchestrator) execute(ctx context.Context, key string, req model.Request, report Reporter) (*Artifact, error) {
	report(5, "Connecting to the generation service...", model.PhaseSubmitting)
	p, err := o.Dial(ctx, key)
	if err != nil {
		return nil, &RemoteError{Op: "connect", Err: err}
	}

	switch req.Kind {
	case model.KindText:
		return o.executeText(ctx, p, req, report)
	case model.KindImage:
		return o.executeImage(ctx, p, req, report)
	default:
		return o.executeVideo(ctx, p, key, req, report)
	}
}

func (o *Orchestrator) executeText(ctx context.Context, p llm.Provider, req model.Request, report Reporter) (*Artifact, error) {
	report(10, "Generating text...", model.PhaseSubmitting)
	text, err := p.GenerateText(ctx, "text", req.Prompt)
	if err != nil {
		return nil, &RemoteError{Op: "submit", Err: err}
	}
	if text == "" {
		return nil, &MissingResultError{}
	}
	return &Artifact{Kind: model.KindText, Text: text}, nil
}

func (o *Orchestrator) executeImage(ctx context.Context, p llm.Provider, req model.Request, report Reporter) (*Artifact, error) {
	report(10, "Generating images...", model.PhaseSubmitting)
	imgs, err := p.GenerateImages(ctx, llm.ImageRequest{
		Prompt:      req.Prompt,
		Count:       req.Image.Count,
		MIMEType:    req.Image.MIMEType,
		AspectRatio: req.Image.AspectRatio,
	})
	if err != nil {
		return nil, &RemoteError{Op: "submit", Err: err}
	}

	handles := make([]*artifact.Handle, 0, len(imgs))
	for i := range imgs {
		if imgs[i].Empty() {
			continue
		}
		mime := imgs[i].MIMEType
		if mime == "" {
			mime = req.Image.MIMEType
		}
		handles = append(handles, o.Registry.Create(imgs[i].Data, mime))
	}
	if len(handles) == 0 {
		return nil, &MissingResultError{}
	}
	report(90, "Processing images...", model.PhaseDownloading)
	return &Artifact{Kind: model.KindImage, Handles: handles}, nil
}

func (o *Orchestrator) executeVideo(ctx context.Context, p llm.Provider, key string, req model.Request, report Reporter) (*Artifact, error) {
	report(5, "Submitting video request...", model.PhaseSubmitting)
	op, err := p.SubmitVideo(ctx, llm.VideoRequest{Prompt: req.Prompt, Reference: req.Reference})
	if err != nil {
		return nil, &RemoteError{Op: "submit", Err: err}
	}
	if op == nil {
		return nil, &RemoteError{Op: "submit", Message: "no operation returned"}
	}
	slog.Info("Orchestrator: video submitted", "operation", op.Name)

	poller := *o.Poller
	if o.Settings != nil {
		poller.Interval = o.Settings.PollInterval(context.Background())
	}
	report(poller.Base, "Generating video... This may take a few minutes.", model.PhasePolling)
	op, err = poller.Drive(ctx, p, op, func(pr int, msg string) {
		report(pr, msg, model.PhasePolling)
	})
	if err != nil {
		return nil, err
	}

	report(poller.Base+poller.Span, "Downloading video...", model.PhaseDownloading)
	h, err := o.Fetcher.Fetch(ctx, op.VideoURI, key, op.MIMEType)
	if err != nil {
		var me *MissingResultError
		if errors.As(err, &me) {
			me.Operation = op.Name
		}
		return nil, err
	}
	return &Artifact{Kind: model.KindVideo, Handles: []*artifact.Handle{h}}, nil
}

func (o *Orchestrator) finish(span trace.Span, sessionID, slot string, req model.Request, started time.Time, art *Artifact, err error) {
	rec := logging.GenerationRecord{
		Session:  sessionID,
		Slot:     slot,
		Kind:     string(req.Kind),
		Prompt:   req.Prompt,
		Duration: time.Since(started),
	}
	if err != nil {
		rec.Status = string(model.StatusError)
		rec.Message = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, UserMessage(err))
		slog.Warn("Orchestrator: generation failed", "session", sessionID, "slot", slot, "kind", req.Kind, "error", err)
	} else {
		rec.Status = string(model.StatusSuccess)
		for _, h := range art.Handles {
			rec.Bytes += h.Size
		}
		rec.Artifacts = len(art.Handles)
		span.SetStatus(codes.Ok, "")
		slog.Info("Orchestrator: generation succeeded", "session", sessionID, "slot", slot, "kind", req.Kind, "duration", rec.Duration)
	}
	logging.LogGeneration(&rec)
}

func startMessage(k model.Kind) string {
	switch k {
	case model.KindText:
		return "Generating text..."
	case model.KindImage:
		return "Generating images..."
	default:
		return "Starting video generation..."
	}
}

func successMessage(a *Artifact) string {
	switch a.Kind {
	case model.KindText:
		return "Text generated successfully!"
	case model.KindImage:
		if len(a.Handles) == 1 {
			return "Image generated successfully!"
		}
		return fmt.Sprintf("%d images generated successfully!", len(a.Handles))
	default:
		return "Video generated successfully!"
	}
}
