package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"auto-transcriber/internal/domain"
)

// EnvPrefix is prepended to every environment override name.
const EnvPrefix = "AUTOTRANSCRIBE_"

// SettingsPathFromEnv returns the settings file path, honoring AUTOTRANSCRIBE_CONFIG.
func SettingsPathFromEnv(homeDir string) string {
	if p := strings.TrimSpace(os.Getenv(EnvPrefix + "CONFIG")); p != "" {
		return p
	}
	return filepath.Join(homeDir, AppDirName, "settings.json")
}

// ApplyEnv overlays AUTOTRANSCRIBE_* variables onto settings.
// lookup is usually os.LookupEnv.
func ApplyEnv(settings domain.Settings, lookup func(string) (string, bool)) (domain.Settings, error) {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}

	if v, ok := get("WATCH_DIRS"); ok {
		settings.WatchDirs = filepath.SplitList(v)
	}
	strFields := map[string]*string{
		"OUTPUT_DIR":     &settings.OutputDir,
		"ARCHIVE_DIR":    &settings.ArchiveDir,
		"SKIP_DIR":       &settings.SkipDir,
		"STATUS_PATH":    &settings.StatusPath,
		"REGISTRY_PATH":  &settings.RegistryPath,
		"LOG_FILE":       &settings.LogFile,
		"LOG_LEVEL":      &settings.LogLevel,
		"MODEL_PATH":     &settings.ModelPath,
		"MODEL_ID":       &settings.ModelID,
		"LANGUAGE":       &settings.Language,
		"FFMPEG_PATH":    &settings.FFmpegPath,
		"FFPROBE_PATH":   &settings.FFprobePath,
		"WHISPER_PATH":   &settings.WhisperPath,
		"DASHBOARD_ADDR": &settings.DashboardAddr,
	}
	for name, field := range strFields {
		if v, ok := get(name); ok {
			*field = v
		}
	}

	durFields := map[string]*domain.Duration{
		"QUIET_INTERVAL":  &settings.QuietInterval,
		"CONFIRM_TIMEOUT": &settings.ConfirmTimeout,
		"STAGE_TIMEOUT":   &settings.StageTimeout,
		"LINGER":          &settings.Linger,
		"UPDATE_INTERVAL": &settings.UpdateInterval,
	}
	for name, field := range durFields {
		if v, ok := get(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return settings, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*field = domain.Duration(d)
		}
	}

	intFields := map[string]*int{
		"MAX_RECHECKS": &settings.MaxRechecks,
		"QUEUE_SIZE":   &settings.QueueSize,
	}
	for name, field := range intFields {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return settings, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*field = n
		}
	}

	if v, ok := get("SCAN_ON_START"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return settings, fmt.Errorf("%sSCAN_ON_START: %w", EnvPrefix, err)
		}
		settings.ScanOnStart = b
	}
	if v, ok := get("CONFIRM_MODE"); ok {
		settings.ConfirmMode = domain.ConfirmMode(strings.ToLower(v))
	}
	if v, ok := get("CONFIRM_DEFAULT"); ok {
		settings.ConfirmDefault = domain.ConfirmDefault(strings.ToLower(v))
	}
	if v, ok := get("SKIP_POLICY"); ok {
		settings.SkipPolicy = domain.SourcePolicy(strings.ToLower(v))
	}
	if v, ok := get("FAIL_POLICY"); ok {
		settings.FailPolicy = domain.SourcePolicy(strings.ToLower(v))
	}
	if v, ok := get("ARCHIVE_POLICY"); ok {
		settings.ArchivePolicy = domain.SourcePolicy(strings.ToLower(v))
	}

	return settings, nil
}
