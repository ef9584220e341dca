// Package refresh keeps the configured whisper.cpp model present and current.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"auto-transcriber/internal/config"
	"auto-transcriber/internal/domain"
)

const defaultDownloadTimeout = 45 * time.Minute

// ErrUnknownModel is returned when the configured model id is not in the catalog.
var ErrUnknownModel = errors.New("unknown model id")

// Checker reruns the startup diagnostics after a refresh.
type Checker interface {
	Run(settings domain.Settings) domain.DiagnosticReport
}

// Options tunes where models come from.
type Options struct {
	BaseURL string
	Timeout time.Duration
	Client  *http.Client
}

// Result describes one refresh run.
type Result struct {
	Model       Model
	Path        string
	Downloaded  bool
	Reason      string
	Diagnostics domain.DiagnosticReport
	FinishedAt  time.Time
}

// Refresher verifies the model file against the catalog and downloads it when
// it is missing or its size differs from the published one.
type Refresher struct {
	settings domain.Settings
	checker  Checker
	opts     Options
	logger   *slog.Logger

	stat func(string) (os.FileInfo, error)
	home func() (string, error)
	now  func() time.Time
}

// New builds a refresher for settings.
func New(settings domain.Settings, checker Checker, opts Options, logger *slog.Logger) *Refresher {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultDownloadTimeout
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Refresher{
		settings: settings,
		checker:  checker,
		opts:     opts,
		logger:   logger.With("component", "refresh"),
		stat:     os.Stat,
		home:     os.UserHomeDir,
		now:      time.Now,
	}
}

// Run performs one refresh. Diagnostics are rerun whether or not a download
// was needed.
func (r *Refresher) Run(ctx context.Context) (Result, error) {
	model, ok := Lookup(r.settings.ModelID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownModel, r.settings.ModelID)
	}

	target, custom, err := r.resolveTarget(r.settings.ModelPath, model)
	if err != nil {
		return Result{Model: model}, err
	}
	result := Result{Model: model, Path: target}

	reason, err := r.needsDownload(ctx, target, model, custom)
	if err != nil {
		return result, err
	}
	if reason != "" {
		r.logger.Info("downloading model", "model", model.ID, "path", target, "reason", reason)
		if err := r.download(ctx, target, model.URL(r.opts.BaseURL)); err != nil {
			return result, fmt.Errorf("download model %s: %w", model.Name, err)
		}
		result.Downloaded = true
		result.Reason = reason
	}

	if r.checker != nil {
		result.Diagnostics = r.checker.Run(r.settings)
		if result.Diagnostics.HasFailures {
			r.logger.Warn("diagnostics report failures after refresh")
		}
	}
	result.FinishedAt = r.now()
	r.logger.Info("model refresh finished", "model", model.ID, "downloaded", result.Downloaded)
	return result, nil
}

// resolveTarget maps the configured model path to the file to verify. custom
// is true when the path names a model file other than the catalog's.
func (r *Refresher) resolveTarget(modelPath string, model Model) (string, bool, error) {
	trimmed := strings.TrimSpace(modelPath)
	if trimmed == "" {
		homeDir, err := r.home()
		if err != nil {
			return "", false, fmt.Errorf("resolve user home: %w", err)
		}
		return filepath.Join(homeDir, config.AppDirName, "models", model.FileName), false, nil
	}

	isModelFile := func(p string) bool {
		ext := strings.ToLower(filepath.Ext(p))
		return ext == ".bin" || ext == ".gguf"
	}

	info, err := r.stat(trimmed)
	switch {
	case err == nil && info.IsDir():
		return filepath.Join(trimmed, model.FileName), false, nil
	case err == nil && isModelFile(trimmed):
		return trimmed, filepath.Base(trimmed) != model.FileName, nil
	case err == nil:
		return "", false, fmt.Errorf("model path points to a non-model file: %s", trimmed)
	case !errors.Is(err, os.ErrNotExist):
		return "", false, fmt.Errorf("check model path: %w", err)
	case isModelFile(trimmed):
		return trimmed, false, nil
	default:
		return filepath.Join(trimmed, model.FileName), false, nil
	}
}

// needsDownload returns a non-empty reason when target must be fetched.
func (r *Refresher) needsDownload(ctx context.Context, target string, model Model, custom bool) (string, error) {
	info, err := r.stat(target)
	if errors.Is(err, os.ErrNotExist) {
		return "missing", nil
	}
	if err != nil {
		return "", fmt.Errorf("check model file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("model file is a directory: %s", target)
	}
	if custom {
		return "", nil
	}

	size, err := r.remoteSize(ctx, model.URL(r.opts.BaseURL))
	if err != nil {
		r.logger.Warn("model size check failed, keeping local copy", "model", model.ID, "error", err)
		return "", nil
	}
	if size > 0 && size != info.Size() {
		return "size mismatch", nil
	}
	return "", nil
}

func (r *Refresher) remoteSize(ctx context.Context, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "auto-transcriber")

	resp, err := r.opts.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request model headers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}
	return resp.ContentLength, nil
}

// download streams sourceURL into a sibling temp file and renames it over
// destinationPath once complete.
func (r *Refresher) download(ctx context.Context, destinationPath, sourceURL string) error {
	if err := os.MkdirAll(filepath.Dir(destinationPath), 0o755); err != nil {
		return fmt.Errorf("prepare destination directory: %w", err)
	}

	tmpPath := destinationPath + ".download"
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale temp file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "auto-transcriber")

	resp, err := r.opts.Client.Do(req)
	if err != nil {
		return fmt.Errorf("request download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}

	written, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write destination file: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close destination file: %w", closeErr)
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("short download: got %d of %d bytes", written, resp.ContentLength)
	}

	if err := os.Rename(tmpPath, destinationPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move downloaded file into place: %w", err)
	}
	return nil
}
