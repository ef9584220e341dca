package diagnostics

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"

	"auto-transcriber/internal/domain"
)

// Checker validates the external tools and directories the daemon depends on.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	readDir    func(string) ([]os.DirEntry, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		readDir:    os.ReadDir,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkTool("ffmpeg", settings.FFmpegPath),
		c.checkTool("ffprobe", settings.FFprobePath),
		c.checkTool("whisper", settings.WhisperPath),
		c.checkModelPath(settings.ModelPath),
		c.checkWritableDir("output_dir", "Output directory", settings.OutputDir),
		c.checkWatchDirs(settings.WatchDirs),
	}
	if settings.ArchivePolicy == domain.SourcePolicyMove || settings.FailPolicy == domain.SourcePolicyMove {
		items = append(items, c.checkWritableDir("archive_dir", "Archive directory", settings.ArchiveDir))
	}

	return domain.NewDiagnosticReport(time.Now(), items)
}

// checkTool verifies a required CLI executable resolves, either as a path or on PATH.
func (c *Checker) checkTool(id, binary string) domain.DiagnosticItem {
	name := strings.TrimSpace(binary)
	if name == "" {
		name = id
	}

	path, err := c.lookPath(name)
	if err != nil {
		return domain.DiagnosticItem{
			ID:      "tool_" + id,
			Name:    name,
			Status:  domain.DiagnosticStatusFail,
			Message: fmt.Sprintf("Tool not found: %s", name),
			Hint:    "Install it and ensure the binary is on PATH, or set its full path in settings.",
		}
	}

	return domain.DiagnosticItem{
		ID:      "tool_" + id,
		Name:    name,
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

// checkWatchDirs passes when at least one watch directory exists.
func (c *Checker) checkWatchDirs(dirs []string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "watch_dirs",
		Name: "Watch directories",
	}

	present := lo.Filter(dirs, func(dir string, _ int) bool {
		info, err := c.stat(dir)
		return err == nil && info.IsDir()
	})
	missing, _ := lo.Difference(dirs, present)

	switch {
	case len(present) == 0:
		item.Status = domain.DiagnosticStatusFail
		item.Message = "None of the watch directories exist."
		item.Hint = "Configure at least one existing directory in watchDirs."
	case len(missing) > 0:
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Watching %s; skipping missing %s",
			strings.Join(present, ", "), strings.Join(missing, ", "))
	default:
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Watching %s", strings.Join(present, ", "))
	}
	return item
}

// checkModelPath validates configured model file or model directory.
func (c *Checker) checkModelPath(modelPath string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "model_path",
		Name: "Model path",
	}

	if strings.TrimSpace(modelPath) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Model path is empty."
		item.Hint = "Set a valid model file path or a directory containing whisper models."
		return item
	}

	info, err := c.stat(modelPath)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		if errors.Is(err, os.ErrNotExist) {
			item.Message = fmt.Sprintf("Model path does not exist: %s", modelPath)
		} else {
			item.Message = fmt.Sprintf("Cannot access model path: %s", modelPath)
		}
		item.Hint = "Download a whisper.cpp model and configure the path in settings."
		return item
	}

	if !info.IsDir() {
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Model file found: %s", modelPath)
		return item
	}

	entries, err := c.readDir(modelPath)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot read model directory: %s", modelPath)
		item.Hint = "Check permissions for the model directory."
		return item
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".bin" || ext == ".gguf" {
			item.Status = domain.DiagnosticStatusPass
			item.Message = fmt.Sprintf("Model directory is valid: %s", modelPath)
			return item
		}
	}

	item.Status = domain.DiagnosticStatusFail
	item.Message = fmt.Sprintf("No model files found in directory: %s", modelPath)
	item.Hint = "Place a .bin or .gguf model file in this directory or point to a model file directly."
	return item
}

// checkWritableDir validates directory existence and write access.
func (c *Checker) checkWritableDir(id, label, outputDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   id,
		Name: label,
	}

	if strings.TrimSpace(outputDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = label + " is empty."
		item.Hint = "Set a directory where files can be written."
		return item
	}

	if err := c.mkdirAll(outputDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create directory: %s", outputDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(outputDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Directory is not writable: %s", outputDir)
		item.Hint = "Choose a writable directory or adjust filesystem permissions."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", outputDir)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	readDir func(string) ([]os.DirEntry, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		stat:       stat,
		readDir:    readDir,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}
