package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"auto-transcriber/internal/domain"
)

// FixDiagnostic applies the remediation available for one failed check and
// returns the refreshed report. External tools are not installed; their
// checks report the configured path to fix instead.
func (d *Daemon) FixDiagnostic(ctx context.Context, itemID string) (domain.DiagnosticReport, error) {
	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostic item id is required")
	}

	var fixErr error
	switch id {
	case "model_path":
		_, fixErr = d.RefreshModel(ctx)
	case "output_dir":
		fixErr = ensureDir(d.Settings.OutputDir)
	case "archive_dir":
		fixErr = ensureDir(d.Settings.ArchiveDir)
	case "tool_ffmpeg", "tool_ffprobe", "tool_whisper":
		fixErr = fmt.Errorf("%s must be installed manually; set its path in settings", strings.TrimPrefix(id, "tool_"))
	default:
		return d.Diagnostics(), fmt.Errorf("unsupported diagnostic item id: %s", id)
	}

	report := d.RunDiagnostics()
	return report, fixErr
}

func ensureDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("directory is not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}
