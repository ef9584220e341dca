package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ConfirmMode selects how detected files are confirmed.
type ConfirmMode string

const (
	ConfirmModePrompt ConfirmMode = "prompt"
	ConfirmModeAuto   ConfirmMode = "auto"
)

// ConfirmDefault is the outcome applied when a prompt times out.
type ConfirmDefault string

const (
	ConfirmDefaultSkip       ConfirmDefault = "skip"
	ConfirmDefaultTranscribe ConfirmDefault = "transcribe"
)

// SourcePolicy says what happens to a source file after a terminal stage.
type SourcePolicy string

const (
	SourcePolicyLeave SourcePolicy = "leave"
	SourcePolicyMark  SourcePolicy = "mark"
	SourcePolicyMove  SourcePolicy = "move"
)

// Settings contains user-selectable runtime configuration.
type Settings struct {
	WatchDirs    []string `json:"watchDirs"`
	OutputDir    string   `json:"outputDir"`
	ArchiveDir   string   `json:"archiveDir"`
	SkipDir      string   `json:"skipDir"`
	StatusPath   string   `json:"statusPath"`
	RegistryPath string   `json:"registryPath"`
	LogFile      string   `json:"logFile"`
	LogLevel     string   `json:"logLevel"`

	ModelPath   string `json:"modelPath"`
	ModelID     string `json:"modelId"`
	Language    string `json:"language"`
	FFmpegPath  string `json:"ffmpegPath"`
	FFprobePath string `json:"ffprobePath"`
	WhisperPath string `json:"whisperPath"`

	QuietInterval Duration `json:"quietInterval"`
	MaxRechecks   int      `json:"maxRechecks"`
	ScanOnStart   bool     `json:"scanOnStart"`
	QueueSize     int      `json:"queueSize"`

	ConfirmMode    ConfirmMode    `json:"confirmMode"`
	ConfirmTimeout Duration       `json:"confirmTimeout"`
	ConfirmDefault ConfirmDefault `json:"confirmDefault"`

	SkipPolicy    SourcePolicy `json:"skipPolicy"`
	FailPolicy    SourcePolicy `json:"failPolicy"`
	ArchivePolicy SourcePolicy `json:"archivePolicy"`

	StageTimeout   Duration `json:"stageTimeout"`
	Linger         Duration `json:"linger"`
	UpdateInterval Duration `json:"updateInterval"`
	DashboardAddr  string   `json:"dashboardAddr"`
}

// Duration is a time.Duration persisted as a Go duration string ("3s", "168h").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts either a duration string or integer nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(v))
	default:
		return fmt.Errorf("invalid duration value: %s", string(data))
	}
	return nil
}
