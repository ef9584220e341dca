// Package schedule runs periodic maintenance while holding the pipeline slot.
package schedule

import (
	"context"
	"io"
	"log/slog"
	"time"
)

const (
	defaultRetryInterval = time.Minute
	owner                = "scheduled-refresh"
)

// Slot is the exclusive pipeline resource the task must hold while it runs.
type Slot interface {
	TryAcquireExclusive(owner string) (func(), error)
}

// Task is the maintenance routine.
type Task func(ctx context.Context) error

// Options controls timing. An Interval of zero disables the scheduler.
type Options struct {
	Interval      time.Duration
	RetryInterval time.Duration
	RunOnStart    bool
}

// Scheduler fires Task every Interval. When the slot is busy the tick is
// retried every RetryInterval until it runs; ticks never queue up.
type Scheduler struct {
	slot   Slot
	task   Task
	opts   Options
	logger *slog.Logger
}

// New builds a scheduler.
func New(slot Slot, task Task, opts Options, logger *slog.Logger) *Scheduler {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{
		slot:   slot,
		task:   task,
		opts:   opts,
		logger: logger.With("component", "schedule"),
	}
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.opts.Interval <= 0 {
		s.logger.Info("scheduled refresh disabled")
		<-ctx.Done()
		return nil
	}

	first := s.opts.Interval
	if s.opts.RunOnStart {
		first = 0
	}
	timer := time.NewTimer(first)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		if s.attempt(ctx) {
			timer.Reset(s.opts.Interval)
		} else {
			timer.Reset(s.opts.RetryInterval)
		}
	}
}

// attempt runs the task if the slot is free and reports whether it ran.
func (s *Scheduler) attempt(ctx context.Context) bool {
	release, err := s.slot.TryAcquireExclusive(owner)
	if err != nil {
		s.logger.Debug("pipeline busy, retrying refresh later", "retry", s.opts.RetryInterval)
		return false
	}
	defer release()

	started := time.Now()
	if err := s.task(ctx); err != nil {
		s.logger.Error("scheduled refresh failed", "error", err)
		return true
	}
	s.logger.Info("scheduled refresh completed", "elapsed", time.Since(started).Round(time.Millisecond))
	return true
}
