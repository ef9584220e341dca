package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"auto-transcriber/internal/config"
	"auto-transcriber/internal/dashboard"
	"auto-transcriber/internal/diagnostics"
	"auto-transcriber/internal/domain"
	"auto-transcriber/internal/gate"
	"auto-transcriber/internal/jobs"
	"auto-transcriber/internal/notify"
	"auto-transcriber/internal/output"
	"auto-transcriber/internal/pipeline"
	"auto-transcriber/internal/refresh"
	"auto-transcriber/internal/registry"
	"auto-transcriber/internal/schedule"
	"auto-transcriber/internal/status"
	"auto-transcriber/internal/transcribe"
	"auto-transcriber/internal/watcher"
)

const (
	eventHistorySize  = 1000
	notifyBound       = 2 * time.Second
	maxResubscribes   = 5
	scheduleRetryTick = time.Minute
)

// Hooks lets a host replace the user-facing and external collaborators.
// Nil fields fall back to headless defaults.
type Hooks struct {
	Prompter    gate.Prompter
	Notifier    notify.Notifier
	Extractor   pipeline.Extractor
	Detector    pipeline.LanguageDetector
	Transcriber pipeline.Transcriber
	Refresh     refresh.Options
}

// Daemon owns every long-running component of the transcription service.
type Daemon struct {
	Settings   domain.Settings
	Store      config.Store
	Logger     *slog.Logger
	Jobs       *jobs.Manager
	Events     *jobs.EventBus
	Status     *status.Store
	Registry   *registry.Registry
	Classifier *watcher.Classifier
	Watcher    *watcher.Watcher
	Engine     *pipeline.Engine
	Dispatcher *pipeline.Dispatcher
	Scheduler  *schedule.Scheduler
	Dashboard  *dashboard.Server
	Refresher  *refresh.Refresher

	checker *diagnostics.Checker

	mu          sync.Mutex
	diagnostics domain.DiagnosticReport
}

// LoadSettings reads the settings file under homeDir, overlays environment
// overrides, and validates the result.
func LoadSettings(homeDir string, lookup func(string) (string, bool)) (*config.JSONStore, domain.Settings, error) {
	store := config.NewJSONStore(config.SettingsPathFromEnv(homeDir))
	settings, err := store.Load()
	if err != nil {
		return nil, domain.Settings{}, fmt.Errorf("load settings from %s: %w", store.Path(), err)
	}
	settings, err = config.ApplyEnv(settings, lookup)
	if err != nil {
		return nil, domain.Settings{}, fmt.Errorf("apply environment: %w", err)
	}
	settings = config.Normalize(settings)
	if err := config.Validate(settings); err != nil {
		return nil, domain.Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return store, settings, nil
}

// NewDaemon builds the component graph. Nothing runs until Run.
func NewDaemon(settings domain.Settings, store config.Store, hooks Hooks, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reg, err := registry.Open(settings.RegistryPath)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}

	manager := jobs.NewManager()
	events := jobs.NewEventBus(eventHistorySize)
	statusStore := status.NewStore(settings.StatusPath)
	checker := diagnostics.NewChecker()

	classifier := watcher.NewClassifier(watcher.ClassifierOptions{
		OwnDirs:     ownDirs(settings),
		Registry:    reg,
		MaxRechecks: settings.MaxRechecks,
	})
	fsWatcher := watcher.New(watcher.Options{
		Roots:           settings.WatchDirs,
		QuietInterval:   settings.QuietInterval.Std(),
		MaxResubscribes: maxResubscribes,
		ScanOnStart:     settings.ScanOnStart,
	}, classifier, logger)

	notifier := hooks.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	} else {
		notifier = notify.Multi{notify.NewLogNotifier(logger), notifier}
	}

	extractor := transcribe.NewFFmpegExtractor(settings.FFmpegPath, settings.FFprobePath)
	whisper := transcribe.NewWhisperEngine(settings.WhisperPath, settings.ModelPath, settings.Language)

	d := &Daemon{
		Settings:   settings,
		Store:      store,
		Logger:     logger,
		Jobs:       manager,
		Events:     events,
		Status:     statusStore,
		Registry:   reg,
		Classifier: classifier,
		Watcher:    fsWatcher,
		checker:    checker,
	}

	deps := pipeline.Deps{
		Manager:     manager,
		Status:      statusStore,
		Events:      events,
		Notifier:    notify.NewBounded(notifier, notifyBound, logger),
		Registry:    reg,
		Extractor:   hooks.Extractor,
		Detector:    hooks.Detector,
		Transcriber: hooks.Transcriber,
		Output:      output.NewNamer(settings.OutputDir, settings.ArchiveDir),
		Releaser:    classifier,
		Logger:      logger,
	}
	if deps.Extractor == nil {
		deps.Extractor = extractor
	}
	if deps.Detector == nil {
		deps.Detector = &transcribe.Detector{Extractor: extractor, Engine: whisper}
	}
	if deps.Transcriber == nil {
		deps.Transcriber = whisper
	}

	d.Engine = pipeline.NewEngine(pipeline.Options{
		ArchiveDir:    settings.ArchiveDir,
		SkipDir:       settings.SkipDir,
		ArchivePolicy: settings.ArchivePolicy,
		SkipPolicy:    settings.SkipPolicy,
		FailPolicy:    settings.FailPolicy,
		StageTimeout:  settings.StageTimeout.Std(),
	}, deps)
	extractor.OnLog = d.Engine.LogCommand
	whisper.OnLog = d.Engine.LogCommand

	if hooks.Prompter == nil && settings.ConfirmMode == domain.ConfirmModePrompt {
		logger.Warn("no prompt available, confirming detected files automatically")
	}
	confirmGate := gate.New(gate.Options{
		Mode:    settings.ConfirmMode,
		Timeout: settings.ConfirmTimeout.Std(),
		Default: settings.ConfirmDefault,
	}, hooks.Prompter, logger)

	d.Dispatcher = pipeline.NewDispatcher(d.Engine, confirmGate, manager, pipeline.DispatcherOptions{
		QueueSize: settings.QueueSize,
		Linger:    settings.Linger.Std(),
	}, logger)

	d.Refresher = refresh.New(settings, checker, hooks.Refresh, logger)
	d.Scheduler = schedule.New(manager, d.refreshTask, schedule.Options{
		Interval:      settings.UpdateInterval.Std(),
		RetryInterval: scheduleRetryTick,
	}, logger)

	d.Dashboard = dashboard.New(settings.DashboardAddr, statusStore, events, logger)
	d.diagnostics = checker.Run(settings)
	return d, nil
}

// Run recovers state from a previous process, then runs the watcher,
// dispatcher, scheduler, and dashboard until ctx ends or one of them fails.
func (d *Daemon) Run(ctx context.Context) error {
	for _, item := range d.Diagnostics().Failed() {
		d.Logger.Warn("diagnostic failed", "check", item.ID, "message", item.Message, "hint", item.Hint)
	}

	if err := d.Engine.Recover(); err != nil {
		return fmt.Errorf("recover status: %w", err)
	}
	d.Logger.Info("daemon starting", "watch_dirs", d.Settings.WatchDirs, "processed", d.Registry.Len())

	detected := make(chan domain.Job, d.Settings.QueueSize)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Watcher.Run(ctx, detected) })
	g.Go(func() error { return d.Dispatcher.Run(ctx, detected) })
	g.Go(func() error { return d.Scheduler.Run(ctx) })
	g.Go(func() error { return d.Dashboard.Run(ctx) })

	d.Logger.Info("daemon started", "watch_dirs", d.Settings.WatchDirs, "output_dir", d.Settings.OutputDir)
	err := g.Wait()
	d.Logger.Info("daemon stopped", "error", err)
	return err
}

// Diagnostics returns the latest dependency report.
func (d *Daemon) Diagnostics() domain.DiagnosticReport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.diagnostics
}

// RunDiagnostics reruns the dependency checks.
func (d *Daemon) RunDiagnostics() domain.DiagnosticReport {
	report := d.checker.Run(d.Settings)
	d.setDiagnostics(report)
	return report
}

// RefreshModel runs the model refresh now, waiting for the pipeline slot.
func (d *Daemon) RefreshModel(ctx context.Context) (refresh.Result, error) {
	release, err := d.Jobs.AcquireExclusive(ctx, "manual-refresh")
	if err != nil {
		return refresh.Result{}, err
	}
	defer release()
	return d.runRefresh(ctx)
}

func (d *Daemon) refreshTask(ctx context.Context) error {
	_, err := d.runRefresh(ctx)
	return err
}

func (d *Daemon) runRefresh(ctx context.Context) (refresh.Result, error) {
	result, err := d.Refresher.Run(ctx)
	if err != nil {
		return result, err
	}
	if len(result.Diagnostics.Items) > 0 {
		d.setDiagnostics(result.Diagnostics)
	}
	d.Events.Publish(jobs.Event{
		Type:       jobs.EventTypeLog,
		Message:    fmt.Sprintf("model %s refreshed (downloaded: %t)", result.Model.ID, result.Downloaded),
		OutputPath: result.Path,
	})
	return result, nil
}

func (d *Daemon) setDiagnostics(report domain.DiagnosticReport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.diagnostics = report
}

// ownDirs lists directories the daemon writes into; files there are never
// treated as new recordings.
func ownDirs(settings domain.Settings) []string {
	return []string{
		settings.OutputDir,
		settings.ArchiveDir,
		settings.SkipDir,
		filepath.Dir(settings.StatusPath),
		filepath.Dir(settings.RegistryPath),
	}
}
