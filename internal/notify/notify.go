package notify

import (
	"log/slog"
	"time"
)

// Notifier renders progress and results to the user. Calls are fire-and-forget.
type Notifier interface {
	Progress(stageLabel string, percent int, filename string)
	ShowResult(summary string)
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier constructs a notifier backed by logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notify")}
}

// Progress logs a progress update.
func (n *LogNotifier) Progress(stageLabel string, percent int, filename string) {
	n.logger.Info("progress", "stage", stageLabel, "percent", percent, "file", filename)
}

// ShowResult logs a job result summary.
func (n *LogNotifier) ShowResult(summary string) {
	n.logger.Info("result", "summary", summary)
}

// Multi fans out to several notifiers in order.
type Multi []Notifier

// Progress forwards to every notifier.
func (m Multi) Progress(stageLabel string, percent int, filename string) {
	for _, n := range m {
		n.Progress(stageLabel, percent, filename)
	}
}

// ShowResult forwards to every notifier.
func (m Multi) ShowResult(summary string) {
	for _, n := range m {
		n.ShowResult(summary)
	}
}

// Bounded limits how long a slow notifier can hold up the caller. A call that
// exceeds the bound keeps running in the background and is logged.
type Bounded struct {
	next    Notifier
	timeout time.Duration
	logger  *slog.Logger
}

// NewBounded wraps next with a per-call bound.
func NewBounded(next Notifier, timeout time.Duration, logger *slog.Logger) *Bounded {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Bounded{next: next, timeout: timeout, logger: logger.With("component", "notify")}
}

// Progress forwards within the bound.
func (b *Bounded) Progress(stageLabel string, percent int, filename string) {
	b.run("progress", func() { b.next.Progress(stageLabel, percent, filename) })
}

// ShowResult forwards within the bound.
func (b *Bounded) ShowResult(summary string) {
	b.run("result", func() { b.next.ShowResult(summary) })
}

func (b *Bounded) run(kind string, fn func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("notifier panicked", "kind", kind, "panic", r)
			}
		}()
		fn()
	}()

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		b.logger.Warn("notifier exceeded bound", "kind", kind, "timeout", b.timeout)
	}
}
