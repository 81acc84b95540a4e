package generation

import (
	"context"
	"fmt"
	"time"

	"synthv/pkg/config"
	"synthv/pkg/llm"
	"synthv/pkg/logging"
)

// Sleeper suspends the caller for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the production Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ProgressFunc receives intermediate progress in percent together with a status line.
type ProgressFunc func(progress int, message string)

// StatusSource re-fetches the status of an operation.
type StatusSource interface {
	PollVideo(ctx context.Context, op *llm.Operation) (*llm.Operation, error)
}

// Poller drives one long-running operation to completion at a fixed cadence.
type Poller struct {
	Interval    time.Duration
	MaxAttempts int
	Base        int // progress reported before the first poll
	Span        int // progress covered by MaxAttempts polls
	Sleep       Sleeper
}

// NewPoller creates a poller from configuration.
func NewPoller(cfg config.PollConfig) *Poller {
	return &Poller{
		Interval:    cfg.Interval.Std(),
		MaxAttempts: cfg.MaxAttempts,
		Base:        cfg.ProgressBase,
		Span:        cfg.ProgressSpan,
		Sleep:       Sleep,
	}
}

// Drive polls op until it reports done or MaxAttempts polls have been made.
// An operation that is already done returns without waiting.
func (p *Poller) Drive(ctx context.Context, src StatusSource, op *llm.Operation, report ProgressFunc) (*llm.Operation, error) {
	if report == nil {
		report = func(int, string) {}
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	for attempt := 0; ; attempt++ {
		if op.Done {
			if op.Failed() {
				return op, &RemoteError{Op: "remote", Message: op.ErrorMessage}
			}
			return op, nil
		}
		if attempt >= p.MaxAttempts {
			return op, &TimeoutError{
				Attempts: attempt,
				Waited:   time.Duration(attempt) * p.Interval,
			}
		}

		if err := sleep(ctx, p.Interval); err != nil {
			return op, &RemoteError{Op: "poll", Err: err}
		}

		next, err := src.PollVideo(ctx, op)
		if err != nil {
			return op, &RemoteError{Op: "poll", Err: err}
		}
		if next == nil {
			return op, &RemoteError{Op: "poll", Message: "empty operation status"}
		}
		op = next

		logging.Trace("Poller: status", "operation", op.Name, "attempt", attempt+1, "done", op.Done)
		report(p.progress(attempt+1), fmt.Sprintf("Generating video... checking status (%d/%d)", attempt+1, p.MaxAttempts))
	}
}

func (p *Poller) progress(attempt int) int {
	if p.MaxAttempts <= 0 {
		return p.Base
	}
	return p.Base + attempt*p.Span/p.MaxAttempts
}
