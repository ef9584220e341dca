package domain

import (
	"fmt"
	"time"
)

// StatusRecord is the persisted snapshot of the active job, or the idle sentinel.
type StatusRecord struct {
	State      Stage          `json:"state"`
	StateLabel string         `json:"state_label"`
	JobID      string         `json:"job_id,omitempty"`
	Filename   string         `json:"filename"`
	Source     string         `json:"source,omitempty"`
	Progress   int            `json:"progress"`
	Elapsed    string         `json:"elapsed"`
	ElapsedSec float64        `json:"elapsed_sec"`
	Language   Language       `json:"language,omitempty"`
	Detail     string         `json:"detail,omitempty"`
	Error      *JobError      `json:"error,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Queue      []string       `json:"queue"`
	Stats      StatusStats    `json:"stats"`
	History    []HistoryEntry `json:"history"`
}

// StatusStats counts terminal outcomes since the process started.
type StatusStats struct {
	Completed int `json:"total_completed"`
	Failed    int `json:"total_failed"`
	Skipped   int `json:"total_skipped"`
}

// HistoryEntry is one recent terminal outcome shown alongside the live record.
type HistoryEntry struct {
	Time     time.Time `json:"time"`
	Filename string    `json:"file"`
	Result   Stage     `json:"result"`
	Language Language  `json:"lang,omitempty"`
	Elapsed  string    `json:"elapsed"`
	Output   string    `json:"output,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// IsIdle reports whether the record is the idle sentinel.
func (r StatusRecord) IsIdle() bool {
	return r.State == StageIdle
}

// IdleRecord returns the sentinel written when no job occupies the pipeline.
func IdleRecord() StatusRecord {
	return StatusRecord{
		State:      StageIdle,
		StateLabel: StageIdle.Label(),
		Elapsed:    FormatElapsed(0),
		Queue:      []string{},
		History:    []HistoryEntry{},
	}
}

// FormatElapsed renders a duration as "42s" or "3m5s".
func FormatElapsed(d time.Duration) string {
	s := int(d.Seconds())
	if s < 60 {
		return fmt.Sprintf("%ds", s)
	}
	return fmt.Sprintf("%dm%ds", s/60, s%60)
}
