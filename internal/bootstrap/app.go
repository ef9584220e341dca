package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"auto-transcriber/internal/domain"
	"auto-transcriber/internal/jobs"
	"auto-transcriber/internal/logging"
	"auto-transcriber/internal/refresh"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// App hosts the daemon inside the Wails desktop shell and exposes read-only
// views of it to the frontend.
type App struct {
	daemon *Daemon
	assets fs.FS
	log    *logging.Logger
	ui     *desktopUI

	mu     sync.Mutex
	runCtx context.Context
	cancel context.CancelFunc
	done   chan error
}

// NewWithAssets loads settings and builds the daemon with desktop prompts and
// notifications.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}

	store, settings, err := LoadSettings(homeDir, os.LookupEnv)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Options{Level: settings.LogLevel, File: settings.LogFile})
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}

	ui := newDesktopUI()
	daemon, err := NewDaemon(settings, store, Hooks{Prompter: ui, Notifier: ui}, logger.Logger)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	daemon.Events.Listen(ui.emit)

	return &App{daemon: daemon, assets: assets, log: logger, ui: ui}, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	defer a.log.Close()

	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Auto Transcriber",
		Width:       960,
		Height:      680,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup records the Wails runtime context and starts the daemon.
func (a *App) Startup(ctx context.Context) {
	a.ui.setContext(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	a.mu.Lock()
	a.runCtx = runCtx
	a.cancel = cancel
	a.done = done
	a.mu.Unlock()

	go func() {
		err := a.daemon.Run(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.daemon.Logger.Error("daemon exited", "error", err)
			a.ui.ShowResult("Auto Transcriber stopped: " + err.Error())
		}
		done <- err
	}()
}

// Shutdown stops the daemon and waits for it to exit.
func (a *App) Shutdown(context.Context) {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.mu.Unlock()
	a.ui.setContext(nil)

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// GetStatus returns the current status record.
func (a *App) GetStatus() (domain.StatusRecord, error) {
	return a.daemon.Status.Read()
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.daemon.Events.Since(sinceSeq)
}

// AnswerPrompt records the user's choice for an open confirmation prompt.
func (a *App) AnswerPrompt(jobID string, transcribe bool) error {
	return a.ui.prompts.Answer(jobID, transcribe)
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	return a.daemon.Diagnostics()
}

// RefreshDiagnostics reruns dependency checks.
func (a *App) RefreshDiagnostics() domain.DiagnosticReport {
	return a.daemon.RunDiagnostics()
}

// GetSettings returns the settings the daemon is running with.
func (a *App) GetSettings() domain.Settings {
	return a.daemon.Settings
}

// SaveSettings persists settings for the next launch.
func (a *App) SaveSettings(settings domain.Settings) error {
	if err := a.daemon.Store.Save(settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// GetWhisperModels returns the downloadable model presets.
func (a *App) GetWhisperModels() []refresh.Model {
	return refresh.Models()
}

// UpdateModel runs the model refresh immediately.
func (a *App) UpdateModel() (refresh.Result, error) {
	a.mu.Lock()
	ctx := a.runCtx
	a.mu.Unlock()
	if ctx == nil {
		return refresh.Result{}, fmt.Errorf("daemon is not running")
	}
	return a.daemon.RefreshModel(ctx)
}

// FixDiagnostic applies the remediation for one failed check.
func (a *App) FixDiagnostic(itemID string) (domain.DiagnosticReport, error) {
	a.mu.Lock()
	ctx := a.runCtx
	a.mu.Unlock()
	if ctx == nil {
		return a.daemon.Diagnostics(), fmt.Errorf("daemon is not running")
	}
	return a.daemon.FixDiagnostic(ctx, itemID)
}

// OpenOutputFolder opens the given path (or configured output dir) in the file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		target = a.daemon.Settings.OutputDir
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}
	return openInFileManager(openPath)
}

// desktopUI renders prompts and notifications through the Wails runtime.
type desktopUI struct {
	mu      sync.Mutex
	ctx     context.Context
	prompts *promptBroker
}

func newDesktopUI() *desktopUI {
	u := &desktopUI{}
	u.prompts = newPromptBroker(u.emitPrompt)
	return u
}

func (u *desktopUI) setContext(ctx context.Context) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.ctx = ctx
}

func (u *desktopUI) runtimeContext() (context.Context, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.ctx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return u.ctx, nil
}

// Prompt asks in the window whether to transcribe the detected file. The
// question is withdrawn when ctx ends.
func (u *desktopUI) Prompt(ctx context.Context, job domain.Job) (bool, error) {
	if _, err := u.runtimeContext(); err != nil {
		return false, err
	}
	return u.prompts.Ask(ctx, job)
}

// emitPrompt raises the window for a new prompt and forwards prompt events.
func (u *desktopUI) emitPrompt(event string, data any) {
	rctx, err := u.runtimeContext()
	if err != nil {
		return
	}
	if event == promptOpenEvent {
		wailsruntime.WindowUnminimise(rctx)
		wailsruntime.WindowShow(rctx)
	}
	wailsruntime.EventsEmit(rctx, event, data)
}

// Progress pushes a progress update to the frontend.
func (u *desktopUI) Progress(stageLabel string, percent int, filename string) {
	rctx, err := u.runtimeContext()
	if err != nil {
		return
	}
	wailsruntime.EventsEmit(rctx, "job:progress", map[string]any{
		"stage":    stageLabel,
		"progress": percent,
		"filename": filename,
	})
}

// ShowResult shows a terminal outcome in a native dialog.
func (u *desktopUI) ShowResult(summary string) {
	rctx, err := u.runtimeContext()
	if err != nil {
		return
	}
	_, _ = wailsruntime.MessageDialog(rctx, wailsruntime.MessageDialogOptions{
		Type:    wailsruntime.InfoDialog,
		Title:   "Auto Transcriber",
		Message: summary,
	})
}

// emit forwards every published job event to the frontend.
func (u *desktopUI) emit(event jobs.Event) {
	rctx, err := u.runtimeContext()
	if err != nil {
		return
	}
	wailsruntime.EventsEmit(rctx, "job:event", event)
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
