package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/samber/lo"

	"auto-transcriber/internal/domain"
)

// Normalize trims user inputs, drops duplicate watch roots, and fills empty
// fields from the defaults.
func Normalize(settings domain.Settings) domain.Settings {
	defaults := DefaultSettings()

	dirs := lo.FilterMap(settings.WatchDirs, func(dir string, _ int) (string, bool) {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			return "", false
		}
		return filepath.Clean(dir), true
	})
	settings.WatchDirs = lo.Uniq(dirs)

	trim := func(v *string, fallback string) {
		*v = strings.TrimSpace(*v)
		if *v == "" {
			*v = fallback
		}
	}
	trim(&settings.OutputDir, defaults.OutputDir)
	trim(&settings.ArchiveDir, defaults.ArchiveDir)
	trim(&settings.SkipDir, defaults.SkipDir)
	trim(&settings.StatusPath, defaults.StatusPath)
	trim(&settings.RegistryPath, defaults.RegistryPath)
	trim(&settings.LogLevel, defaults.LogLevel)
	trim(&settings.Language, defaults.Language)
	trim(&settings.FFmpegPath, defaults.FFmpegPath)
	trim(&settings.FFprobePath, defaults.FFprobePath)
	trim(&settings.WhisperPath, defaults.WhisperPath)
	trim(&settings.ModelID, defaults.ModelID)
	settings.ModelPath = strings.TrimSpace(settings.ModelPath)
	settings.LogFile = strings.TrimSpace(settings.LogFile)
	settings.DashboardAddr = strings.TrimSpace(settings.DashboardAddr)

	if settings.QuietInterval <= 0 {
		settings.QuietInterval = defaults.QuietInterval
	}
	if settings.MaxRechecks <= 0 {
		settings.MaxRechecks = defaults.MaxRechecks
	}
	if settings.QueueSize <= 0 {
		settings.QueueSize = defaults.QueueSize
	}
	if settings.ConfirmMode == "" {
		settings.ConfirmMode = defaults.ConfirmMode
	}
	if settings.ConfirmTimeout <= 0 {
		settings.ConfirmTimeout = defaults.ConfirmTimeout
	}
	if settings.ConfirmDefault == "" {
		settings.ConfirmDefault = defaults.ConfirmDefault
	}
	if settings.SkipPolicy == "" {
		settings.SkipPolicy = defaults.SkipPolicy
	}
	if settings.FailPolicy == "" {
		settings.FailPolicy = defaults.FailPolicy
	}
	if settings.ArchivePolicy == "" {
		settings.ArchivePolicy = defaults.ArchivePolicy
	}
	if settings.StageTimeout < 0 {
		settings.StageTimeout = 0
	}
	if settings.Linger < 0 {
		settings.Linger = 0
	}
	if settings.UpdateInterval < 0 {
		settings.UpdateInterval = 0
	}
	return settings
}

// Validate reports configuration that the daemon cannot run with.
func Validate(settings domain.Settings) error {
	var errs []error
	if len(settings.WatchDirs) == 0 {
		errs = append(errs, errors.New("at least one watch directory is required"))
	}
	switch settings.ConfirmMode {
	case domain.ConfirmModePrompt, domain.ConfirmModeAuto:
	default:
		errs = append(errs, fmt.Errorf("invalid confirm mode %q", settings.ConfirmMode))
	}
	switch settings.ConfirmDefault {
	case domain.ConfirmDefaultSkip, domain.ConfirmDefaultTranscribe:
	default:
		errs = append(errs, fmt.Errorf("invalid confirm default %q", settings.ConfirmDefault))
	}
	checkPolicy := func(name string, p domain.SourcePolicy, allowed ...domain.SourcePolicy) {
		if !lo.Contains(allowed, p) {
			errs = append(errs, fmt.Errorf("invalid %s %q", name, p))
		}
	}
	checkPolicy("skip policy", settings.SkipPolicy, domain.SourcePolicyLeave, domain.SourcePolicyMove)
	checkPolicy("fail policy", settings.FailPolicy, domain.SourcePolicyMark, domain.SourcePolicyMove)
	checkPolicy("archive policy", settings.ArchivePolicy, domain.SourcePolicyLeave, domain.SourcePolicyMove)

	switch strings.ToLower(settings.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level %q", settings.LogLevel))
	}
	return errors.Join(errs...)
}
