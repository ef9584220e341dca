package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/samber/lo"

	"auto-transcriber/internal/domain"
)

var (
	// ErrWatcherLost is returned when the subscription cannot be re-established.
	ErrWatcherLost = errors.New("filesystem watcher lost")
	// ErrNoRoots is returned when none of the configured directories exist.
	ErrNoRoots = errors.New("no watchable directories")
)

// Options configures a Watcher.
type Options struct {
	Roots           []string
	QuietInterval   time.Duration
	MaxResubscribes int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	ScanOnStart     bool
}

// subscription is the part of fsnotify.Watcher the run loop consumes.
type subscription struct {
	events <-chan fsnotify.Event
	errors <-chan error
	close  func() error
}

// Watcher turns filesystem notifications into stabilized candidate jobs.
type Watcher struct {
	opts       Options
	classifier *Classifier
	logger     *slog.Logger
	subscribe  func(roots []string) (subscription, error)
	now        func() time.Time

	stable chan string
	done   chan struct{}
	once   sync.Once

	mu         sync.Mutex
	debouncers map[string]func(func())
	lastSeen   map[string]time.Time
}

// New constructs a watcher. Zero option values take defaults.
func New(opts Options, classifier *Classifier, logger *slog.Logger) *Watcher {
	if opts.QuietInterval <= 0 {
		opts.QuietInterval = 3 * time.Second
	}
	if opts.MaxResubscribes <= 0 {
		opts.MaxResubscribes = 5
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}

	return &Watcher{
		opts:       opts,
		classifier: classifier,
		logger:     logger.With("component", "watcher"),
		subscribe:  subscribeFSNotify,
		now:        time.Now,
		stable:     make(chan string, 64),
		done:       make(chan struct{}),
		debouncers: map[string]func(func()){},
		lastSeen:   map[string]time.Time{},
	}
}

// Run watches until ctx is cancelled, forwarding accepted jobs to out. A full
// out channel blocks forwarding; jobs are never dropped. Run returns nil on
// cancellation and ErrWatcherLost when resubscription gives up.
func (w *Watcher) Run(ctx context.Context, out chan<- domain.Job) error {
	defer w.once.Do(func() { close(w.done) })

	roots := w.usableRoots()
	if len(roots) == 0 {
		return ErrNoRoots
	}

	if w.opts.ScanOnStart {
		w.scan(roots)
	}

	failures := 0
	backoff := w.opts.InitialBackoff
	for {
		started := w.now()
		err := w.watchOnce(ctx, roots, out)
		if ctx.Err() != nil {
			return nil
		}

		if w.now().Sub(started) > w.opts.MaxBackoff {
			failures = 0
			backoff = w.opts.InitialBackoff
		}
		failures++
		if failures > w.opts.MaxResubscribes {
			return fmt.Errorf("%w: %v", ErrWatcherLost, err)
		}

		w.logger.Warn("watch subscription failed, resubscribing",
			"error", err, "attempt", failures, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, w.opts.MaxBackoff)
	}
}

// watchOnce runs one subscription until it fails or ctx ends.
func (w *Watcher) watchOnce(ctx context.Context, roots []string, out chan<- domain.Job) error {
	sub, err := w.subscribe(roots)
	if err != nil {
		return err
	}
	defer sub.close()

	w.logger.Info("watching directories", "roots", roots)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.events:
			if !ok {
				return errors.New("event channel closed")
			}
			w.handleEvent(ev)
		case err, ok := <-sub.errors:
			if !ok {
				return errors.New("error channel closed")
			}
			return err
		case path := <-w.stable:
			if err := w.settle(ctx, path, out); err != nil {
				return nil
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		// Rename fires on the old name; the new name arrives as Create.
		w.cancel(ev.Name)
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Chmod):
		if !w.classifier.IsMedia(ev.Name) {
			return
		}
		w.touch(ev.Name)
	}
}

// touch resets the path's quiet timer.
func (w *Watcher) touch(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastSeen[path] = w.now()
	d, ok := w.debouncers[path]
	if !ok {
		d = debounce.New(w.opts.QuietInterval)
		w.debouncers[path] = d
	}
	d(func() {
		select {
		case w.stable <- path:
		case <-w.done:
		}
	})
}

// cancel drops any pending stability signal for path.
func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	if d, ok := w.debouncers[path]; ok {
		d(func() {})
		delete(w.debouncers, path)
	}
	delete(w.lastSeen, path)
	w.mu.Unlock()

	w.classifier.Forget(path)
}

// settle classifies a path whose quiet interval elapsed.
func (w *Watcher) settle(ctx context.Context, path string, out chan<- domain.Job) error {
	w.mu.Lock()
	seen, ok := w.lastSeen[path]
	w.mu.Unlock()
	if !ok {
		return nil
	}

	res := w.classifier.Classify(path, seen)
	switch res.Verdict {
	case Accept:
		w.drop(path)
		w.logger.Info("new media file detected",
			"path", path, "job_id", res.Job.ID, "size_bytes", res.Job.SizeBytes)
		select {
		case out <- res.Job:
			return nil
		case <-ctx.Done():
			w.classifier.Release(path)
			return ctx.Err()
		}
	case RejectTransient:
		w.logger.Debug("candidate not stable yet", "path", path, "reason", res.Reason)
		w.touch(path)
	default:
		w.drop(path)
		if res.Kind != "" {
			w.logger.Warn("candidate dropped", "path", path, "reason", res.Reason, "kind", res.Kind)
		} else {
			w.logger.Debug("candidate ignored", "path", path, "reason", res.Reason)
		}
	}
	return nil
}

func (w *Watcher) drop(path string) {
	w.mu.Lock()
	delete(w.debouncers, path)
	delete(w.lastSeen, path)
	w.mu.Unlock()
}

// scan queues existing files in roots as candidates.
func (w *Watcher) scan(roots []string) {
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			w.logger.Warn("startup scan failed", "root", root, "error", err)
			continue
		}
		for _, entry := range entries {
			path := filepath.Join(root, entry.Name())
			if entry.Type().IsRegular() && w.classifier.IsMedia(path) {
				w.touch(path)
			}
		}
	}
}

func (w *Watcher) usableRoots() []string {
	roots := lo.Uniq(w.opts.Roots)
	return lo.Filter(roots, func(root string, _ int) bool {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			w.logger.Warn("watch directory missing, skipping", "root", root)
			return false
		}
		return true
	})
}

func subscribeFSNotify(roots []string) (subscription, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return subscription{}, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	for _, root := range roots {
		if err := fw.Add(root); err != nil {
			_ = fw.Close()
			return subscription{}, fmt.Errorf("watch %s: %w", root, err)
		}
	}
	return subscription{events: fw.Events, errors: fw.Errors, close: fw.Close}, nil
}
