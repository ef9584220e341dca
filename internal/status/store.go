// Package status persists the single live StatusRecord that external tools
// (the dashboard, shell scripts) read to report pipeline progress.
//
// The record is replaced with an atomic rename on every write, so a reader
// sees either the idle sentinel or a complete record, never a torn file.
package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"auto-transcriber/internal/domain"
	"auto-transcriber/internal/fsutil"
)

// Store reads and writes the status file.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a file-backed status store.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the status file location.
func (s *Store) Path() string {
	return s.path
}

// Write atomically replaces the persisted record.
func (s *Store) Write(record domain.StatusRecord) error {
	if record.Queue == nil {
		record.Queue = []string{}
	}
	if record.History == nil {
		record.History = []domain.HistoryEntry{}
	}
	if record.StateLabel == "" {
		record.StateLabel = record.State.Label()
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fsutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write status file: %w", err)
	}
	return nil
}

// Read loads the persisted record. A missing file reads as idle.
func (s *Store) Read() (domain.StatusRecord, error) {
	return ReadFile(s.path)
}

// ReadFile loads a status record from path for out-of-process readers.
func ReadFile(path string) (domain.StatusRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.IdleRecord(), nil
		}
		return domain.StatusRecord{}, err
	}

	var record domain.StatusRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return domain.StatusRecord{}, fmt.Errorf("decode status file: %w", err)
	}
	if record.State == "" {
		return domain.StatusRecord{}, fmt.Errorf("status file has no state")
	}
	return record, nil
}
