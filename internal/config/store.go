package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"auto-transcriber/internal/domain"
	"auto-transcriber/internal/fsutil"
)

// Store loads and saves the settings file.
type Store interface {
	Load() (domain.Settings, error)
	Save(domain.Settings) error
}

// JSONStore keeps settings in one JSON document. Keys missing from the file
// keep their default values, so older files load after new fields are added.
type JSONStore struct {
	path string
}

// NewJSONStore returns a store for the settings file at path.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Path returns the settings file location.
func (s *JSONStore) Path() string {
	return s.path
}

// Load reads the file over DefaultSettings. A missing file is not an error.
func (s *JSONStore) Load() (domain.Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return settings, nil
	case err != nil:
		return domain.Settings{}, fmt.Errorf("read settings: %w", err)
	}

	if err := json.Unmarshal(data, &settings); err != nil {
		return domain.Settings{}, fmt.Errorf("decode settings %s: %w", s.path, err)
	}
	return settings, nil
}

// Save replaces the file atomically so a crash never leaves half a document.
func (s *JSONStore) Save(settings domain.Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
