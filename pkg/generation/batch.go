package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"synthv/pkg/credential"
	"synthv/pkg/logging"
	"synthv/pkg/model"
	"synthv/pkg/session"
)

// Outcome is the terminal result of one batch item.
type Outcome struct {
	ID       string
	Status   model.Status
	Artifact *Artifact
	Err      error
}

// BatchResult aggregates a batch run.
type BatchResult struct {
	Outcomes       []Outcome
	BatchSucceeded bool
	Message        string
}

// Failed returns the number of items that ended in error.
func (r *BatchResult) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == model.StatusError {
			n++
		}
	}
	return n
}

// Coordinator runs batches of video jobs one item at a time.
type Coordinator struct {
	Jobs *Orchestrator
}

// Launch claims sess and runs the batch in the background.
func (c *Coordinator) Launch(ctx context.Context, sess *session.Session, inputs []model.BatchInput) error {
	if err := sess.Begin(); err != nil {
		return err
	}
	go func() {
		defer sess.End()
		_, _ = c.runAll(ctx, sess, inputs)
	}()
	return nil
}

// RunAll claims sess and runs every item with a prompt, in input order.
// A failing item never stops the items after it; its error only shows in its outcome.
func (c *Coordinator) RunAll(ctx context.Context, sess *session.Session, inputs []model.BatchInput) (*BatchResult, error) {
	if err := sess.Begin(); err != nil {
		return nil, err
	}
	defer sess.End()
	return c.runAll(ctx, sess, inputs)
}

func (c *Coordinator) runAll(ctx context.Context, sess *session.Session, inputs []model.BatchInput) (*BatchResult, error) {
	items := filterInputs(inputs)
	if len(items) == 0 {
		err := &EmptyBatchError{}
		sess.Fail(UserMessage(err), false)
		return nil, err
	}

	key := credential.Resolve(sess.Credential(), c.Jobs.Fallback)
	if err := c.Jobs.validate(key, &model.Request{Kind: model.KindVideo, Prompt: items[0].Prompt}); err != nil {
		sess.Fail(UserMessage(err), NeedsCredential(err))
		return nil, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "generation.batch", trace.WithAttributes(
		attribute.String("session", sess.ID),
		attribute.Int("items", len(items)),
	))
	defer span.End()

	view := make([]model.BatchItem, len(items))
	for i, in := range items {
		view[i] = model.BatchItem{
			ID:        in.ID,
			Prompt:    in.Prompt,
			HasImage:  !in.Reference.Empty(),
			Status:    model.StatusIdle,
			UpdatedAt: time.Now(),
		}
	}
	sess.SetBatch(view)
	sess.Start(fmt.Sprintf("Starting batch generation of %d segments...", len(items)))

	n := len(items)
	res := &BatchResult{Outcomes: make([]Outcome, n)}
	for i, in := range items {
		res.Outcomes[i] = c.runItem(ctx, sess, key, i, n, in)
	}

	failed := res.Failed()
	res.BatchSucceeded = failed == 0
	res.Message = batchMessage(n, failed)
	if res.BatchSucceeded {
		sess.Succeed(res.Message)
		span.SetStatus(codes.Ok, "")
	} else {
		sess.Fail(res.Message, false)
		span.SetStatus(codes.Error, res.Message)
	}
	slog.Info("Coordinator: batch finished", "session", sess.ID, "items", n, "failed", failed)
	return res, nil
}

func (c *Coordinator) runItem(ctx context.Context, sess *session.Session, key string, i, n int, in model.BatchInput) Outcome {
	started := time.Now()
	_ = sess.UpdateItem(in.ID, func(it *model.BatchItem) {
		it.Status = model.StatusGenerating
		it.Error = ""
	})
	sess.Progress(i*100/n, fmt.Sprintf("Generating segment %d of %d...", i+1, n), model.PhaseSubmitting)

	req := model.Request{Kind: model.KindVideo, Prompt: in.Prompt, Reference: in.Reference}
	art, err := c.Jobs.execute(ctx, key, req, func(p int, msg string, phase model.Phase) {
		sess.Progress((i*100+p)/n, fmt.Sprintf("Segment %d of %d: %s", i+1, n, msg), phase)
	})

	slot := session.BatchSlot(in.ID)
	rec := logging.GenerationRecord{
		Session:  sess.ID,
		Slot:     slot,
		Kind:     string(model.KindVideo),
		Prompt:   in.Prompt,
		Duration: time.Since(started),
	}

	if err != nil {
		msg := UserMessage(err)
		_ = sess.UpdateItem(in.ID, func(it *model.BatchItem) {
			it.Status = model.StatusError
			it.Error = msg
		})
		rec.Status, rec.Message = string(model.StatusError), err.Error()
		logging.LogGeneration(&rec)
		slog.Warn("Coordinator: segment failed", "session", sess.ID, "item", in.ID, "error", err)
		return Outcome{ID: in.ID, Status: model.StatusError, Err: err}
	}

	sess.Assign(slot, art.Handles...)
	url := ""
	if len(art.Handles) > 0 {
		url = art.Handles[0].URL()
		rec.Bytes = art.Handles[0].Size
	}
	_ = sess.UpdateItem(in.ID, func(it *model.BatchItem) {
		it.Status = model.StatusSuccess
		it.ArtifactURL = url
	})
	rec.Status, rec.Artifacts = string(model.StatusSuccess), len(art.Handles)
	logging.LogGeneration(&rec)
	return Outcome{ID: in.ID, Status: model.StatusSuccess, Artifact: art}
}

// filterInputs drops items without a prompt. Items without a unique ID get a new one.
func filterInputs(inputs []model.BatchInput) []model.BatchInput {
	out := make([]model.BatchInput, 0, len(inputs))
	seen := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		if strings.TrimSpace(in.Prompt) == "" {
			continue
		}
		if in.ID == "" || seen[in.ID] {
			in.ID = uuid.NewString()
		}
		seen[in.ID] = true
		out = append(out, in)
	}
	return out
}

func batchMessage(total, failed int) string {
	if failed == 0 {
		return fmt.Sprintf("Batch generation complete: all %d segments succeeded.", total)
	}
	return fmt.Sprintf("Batch generation completed with errors: %d of %d segments failed.", failed, total)
}
