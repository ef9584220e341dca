package config

import (
	"os"
	"path/filepath"
	"time"

	"auto-transcriber/internal/domain"
)

// AppDirName is the per-user directory holding settings, state, and logs.
const AppDirName = ".auto-transcriber"

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	appDir := filepath.Join(homeDir, AppDirName)

	return domain.Settings{
		WatchDirs: []string{
			filepath.Join(homeDir, "Desktop"),
			filepath.Join(homeDir, "Downloads"),
		},
		OutputDir:    filepath.Join(homeDir, "Documents", "Transcripts"),
		ArchiveDir:   filepath.Join(appDir, "video"),
		SkipDir:      filepath.Join(appDir, "skipped"),
		StatusPath:   filepath.Join(appDir, "status.json"),
		RegistryPath: filepath.Join(appDir, "processed.json"),
		LogFile:      filepath.Join(appDir, "logs", "transcribe.log"),
		LogLevel:     "info",

		ModelPath:   filepath.Join(appDir, "models"),
		ModelID:     "base",
		Language:    "auto",
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		WhisperPath: "whisper.cpp",

		QuietInterval: domain.Duration(3 * time.Second),
		MaxRechecks:   5,
		ScanOnStart:   false,
		QueueSize:     64,

		ConfirmMode:    domain.ConfirmModePrompt,
		ConfirmTimeout: domain.Duration(60 * time.Second),
		ConfirmDefault: domain.ConfirmDefaultSkip,

		SkipPolicy:    domain.SourcePolicyLeave,
		FailPolicy:    domain.SourcePolicyMark,
		ArchivePolicy: domain.SourcePolicyMove,

		StageTimeout:   domain.Duration(2 * time.Hour),
		Linger:         domain.Duration(5 * time.Second),
		UpdateInterval: domain.Duration(7 * 24 * time.Hour),
		DashboardAddr:  "127.0.0.1:7860",
	}
}
