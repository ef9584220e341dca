package gate

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"auto-transcriber/internal/domain"
)

// Decision is the outcome of asking whether to transcribe a file.
type Decision string

const (
	Confirmed Decision = "confirmed"
	Declined  Decision = "declined"
	TimedOut  Decision = "timed_out"
)

// Prompter asks the user about one file. Implementations block until the
// user answers or ctx ends.
type Prompter interface {
	Prompt(ctx context.Context, job domain.Job) (bool, error)
}

// Options configures a Gate.
type Options struct {
	Mode    domain.ConfirmMode
	Timeout time.Duration
	Default domain.ConfirmDefault
}

// Outcome reports the decision and whether it should proceed to transcription.
type Outcome struct {
	Decision Decision
	Proceed  bool
}

// Gate applies the confirmation policy in front of the pipeline.
type Gate struct {
	opts     Options
	prompter Prompter
	logger   *slog.Logger
}

// New constructs a gate. A nil prompter forces auto mode.
func New(opts Options, prompter Prompter, logger *slog.Logger) *Gate {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Default == "" {
		opts.Default = domain.ConfirmDefaultSkip
	}
	if prompter == nil {
		opts.Mode = domain.ConfirmModeAuto
	}
	return &Gate{opts: opts, prompter: prompter, logger: logger.With("component", "gate")}
}

// Confirm asks the prompter about job, applying the default decision when
// the prompt times out or fails. The returned error is only ctx.Err() of the
// caller's context.
func (g *Gate) Confirm(ctx context.Context, job domain.Job) (Outcome, error) {
	if g.opts.Mode == domain.ConfirmModeAuto {
		return Outcome{Decision: Confirmed, Proceed: true}, nil
	}

	promptCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	type answer struct {
		ok  bool
		err error
	}
	answers := make(chan answer, 1)
	go func() {
		ok, err := g.prompter.Prompt(promptCtx, job)
		answers <- answer{ok: ok, err: err}
	}()

	select {
	case a := <-answers:
		if a.err == nil {
			if a.ok {
				return Outcome{Decision: Confirmed, Proceed: true}, nil
			}
			return Outcome{Decision: Declined}, nil
		}
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		if !errors.Is(a.err, context.DeadlineExceeded) {
			g.logger.Warn("prompt failed, applying default",
				"file", filepath.Base(job.SourcePath), "error", a.err, "default", g.opts.Default)
		}
	case <-promptCtx.Done():
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
	}

	g.logger.Info("confirmation timed out, applying default",
		"file", filepath.Base(job.SourcePath), "default", g.opts.Default)
	return Outcome{
		Decision: TimedOut,
		Proceed:  g.opts.Default == domain.ConfirmDefaultTranscribe,
	}, nil
}
