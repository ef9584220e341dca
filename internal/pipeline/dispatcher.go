package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"auto-transcriber/internal/domain"
	"auto-transcriber/internal/gate"
	"auto-transcriber/internal/jobs"
)

// Confirmer decides whether a detected job should be transcribed.
type Confirmer interface {
	Confirm(ctx context.Context, job domain.Job) (gate.Outcome, error)
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// QueueSize bounds detected jobs waiting behind the active one.
	QueueSize int
	// Linger keeps a terminal record visible before returning to idle.
	Linger time.Duration
}

// Dispatcher is the single consumer of detected jobs. It queues them FIFO
// behind the active job, confirms each once the slot is free, and hands
// confirmed jobs to the engine.
type Dispatcher struct {
	engine  *Engine
	gate    Confirmer
	manager *jobs.Manager
	opts    DispatcherOptions
	logger  *slog.Logger

	mu      sync.Mutex
	pending []domain.Job
	ready   chan struct{}
	space   chan struct{}
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(engine *Engine, confirmer Confirmer, manager *jobs.Manager, opts DispatcherOptions, logger *slog.Logger) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	return &Dispatcher{
		engine:  engine,
		gate:    confirmer,
		manager: manager,
		opts:    opts,
		logger:  logger.With("component", "dispatcher"),
		ready:   make(chan struct{}, 1),
		space:   make(chan struct{}, 1),
	}
}

// Run consumes in until ctx is cancelled. Jobs still queued at shutdown are
// left unprocessed and are picked up again on the next detection.
func (d *Dispatcher) Run(ctx context.Context, in <-chan domain.Job) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.collect(ctx, in) })
	g.Go(func() error { return d.work(ctx) })
	return g.Wait()
}

func (d *Dispatcher) collect(ctx context.Context, in <-chan domain.Job) error {
	for {
		d.mu.Lock()
		full := len(d.pending) >= d.opts.QueueSize
		d.mu.Unlock()
		if full {
			select {
			case <-d.space:
				continue
			case <-ctx.Done():
				return nil
			}
		}

		select {
		case job, ok := <-in:
			if !ok {
				return nil
			}
			d.push(job)
		case <-ctx.Done():
			return nil
		}
	}
}

func (d *Dispatcher) work(ctx context.Context) error {
	var linger <-chan time.Time
	for {
		job, ok := d.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-d.ready:
			case <-linger:
				linger = nil
				if err := d.engine.Idle(); err != nil {
					d.logger.Error("write idle status failed", "error", err)
				}
			}
			continue
		}
		linger = nil

		if err := d.manager.WaitIdle(ctx); err != nil {
			return nil
		}
		d.handle(ctx, job)
		if ctx.Err() != nil {
			return nil
		}
		linger = time.After(d.opts.Linger)
	}
}

// handle confirms one job and runs or skips it.
func (d *Dispatcher) handle(ctx context.Context, job domain.Job) {
	name := filepath.Base(job.SourcePath)
	job, err := d.engine.Await(job)
	if err != nil {
		d.logger.Error("cannot await confirmation", "job_id", job.ID, "file", name, "error", err)
		d.engine.release(job.SourcePath)
		return
	}

	outcome, err := d.gate.Confirm(ctx, job)
	if err != nil {
		d.logger.Info("confirmation abandoned", "job_id", job.ID, "file", name, "error", err)
		return
	}
	d.logger.Info("confirmation decided", "job_id", job.ID, "file", name, "decision", outcome.Decision)

	if !outcome.Proceed {
		if _, err := d.engine.Skip(job, string(outcome.Decision)); err != nil {
			d.logger.Error("skip failed", "job_id", job.ID, "error", err)
		}
		return
	}

	final, err := d.engine.Process(ctx, job)
	if err != nil {
		d.logger.Info("job not started", "job_id", job.ID, "file", name, "error", err)
		return
	}
	d.logger.Debug("job finished", "job_id", final.ID, "stage", final.Stage)
}

func (d *Dispatcher) push(job domain.Job) {
	d.mu.Lock()
	d.pending = append(d.pending, job)
	names := queueNames(d.pending)
	d.mu.Unlock()

	d.engine.SetQueue(names)
	d.engine.Events.Publish(jobs.Event{
		JobID:    job.ID,
		Type:     jobs.EventTypeQueue,
		Stage:    job.Stage,
		Filename: filepath.Base(job.SourcePath),
		Message:  fmt.Sprintf("queued at position %d", len(names)),
	})
	signal(d.ready)
}

func (d *Dispatcher) pop() (domain.Job, bool) {
	d.mu.Lock()
	if len(d.pending) == 0 {
		d.mu.Unlock()
		return domain.Job{}, false
	}
	job := d.pending[0]
	d.pending = d.pending[1:]
	names := queueNames(d.pending)
	d.mu.Unlock()

	d.engine.SetQueue(names)
	signal(d.space)
	return job, true
}

func queueNames(pending []domain.Job) []string {
	return lo.Map(pending, func(job domain.Job, _ int) string { return filepath.Base(job.SourcePath) })
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
