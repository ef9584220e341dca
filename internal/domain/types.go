package domain

import "time"

// Stage tracks each pipeline stage for a single transcription job.
type Stage string

const (
	StageIdle                 Stage = "idle"
	StageDetected             Stage = "detected"
	StageAwaitingConfirmation Stage = "awaiting_confirmation"
	StageExtracting           Stage = "extracting"
	StageDetectingLanguage    Stage = "detecting_language"
	StageTranscribing         Stage = "transcribing"
	StageSaving               Stage = "saving"
	StageCompleted            Stage = "completed"
	StageFailed               Stage = "failed"
	StageSkipped              Stage = "skipped"
)

// IsTerminal reports whether a job can never leave this stage.
func (s Stage) IsTerminal() bool {
	switch s {
	case StageCompleted, StageFailed, StageSkipped:
		return true
	default:
		return false
	}
}

// Checkpoint returns the progress percentage a job reports on entering s.
func (s Stage) Checkpoint() int {
	switch s {
	case StageDetectingLanguage:
		return 25
	case StageTranscribing:
		return 50
	case StageSaving:
		return 75
	case StageCompleted:
		return 100
	default:
		return 0
	}
}

// Label is the human-readable stage name used by notifications and the status file.
func (s Stage) Label() string {
	switch s {
	case StageIdle:
		return "Idle"
	case StageDetected:
		return "Detected"
	case StageAwaitingConfirmation:
		return "Awaiting confirmation"
	case StageExtracting:
		return "Extracting audio (1/4)"
	case StageDetectingLanguage:
		return "Detecting language (2/4)"
	case StageTranscribing:
		return "Transcribing (3/4)"
	case StageSaving:
		return "Saving transcript (4/4)"
	case StageCompleted:
		return "Completed"
	case StageFailed:
		return "Failed"
	case StageSkipped:
		return "Skipped"
	default:
		return string(s)
	}
}

// Language is the detected spoken language of a recording.
type Language string

const (
	LanguageChinese Language = "zh"
	LanguageEnglish Language = "en"
	LanguageMixed   Language = "en_cn"
	LanguageUnknown Language = "unknown"
)

// Label returns a display name for the language.
func (l Language) Label() string {
	switch l {
	case LanguageChinese:
		return "Chinese"
	case LanguageEnglish:
		return "English"
	case LanguageMixed:
		return "Chinese/English mixed"
	case LanguageUnknown, "":
		return "Unknown"
	default:
		return string(l)
	}
}

// ErrorKind classifies why a job or candidate file failed.
type ErrorKind string

const (
	ErrorKindUnreadableSource  ErrorKind = "unreadable_source"
	ErrorKindUnstableSource    ErrorKind = "unstable_source"
	ErrorKindExtractionFailure ErrorKind = "extraction_failure"
	ErrorKindEngineFailure     ErrorKind = "engine_failure"
	ErrorKindWriteFailure      ErrorKind = "write_failure"
	ErrorKindTimeout           ErrorKind = "timeout"
	ErrorKindInterrupted       ErrorKind = "interrupted"
)

// JobError is attached to a job only when it ends in the failed stage.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Job is one transcription attempt for one source file.
type Job struct {
	ID           string        `json:"id"`
	SourcePath   string        `json:"sourcePath"`
	SizeBytes    int64         `json:"sizeBytes"`
	DiscoveredAt time.Time     `json:"discoveredAt"`
	Stage        Stage         `json:"stage"`
	Progress     int           `json:"progress"`
	Language     Language      `json:"language,omitempty"`
	StartedAt    time.Time     `json:"startedAt,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
	Duration     time.Duration `json:"duration,omitempty"`
	Segments     int           `json:"segments,omitempty"`
	Speakers     int           `json:"speakers,omitempty"`
	OutputPath   string        `json:"outputPath,omitempty"`
	Error        *JobError     `json:"error,omitempty"`
}
