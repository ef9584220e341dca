// Package registry remembers which source files already reached a terminal
// outcome so that rediscovering them never starts another job.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"auto-transcriber/internal/domain"
	"auto-transcriber/internal/fsutil"
)

// Entry records the terminal outcome for one source path.
type Entry struct {
	Path       string       `json:"path"`
	Outcome    domain.Stage `json:"outcome"`
	JobID      string       `json:"jobId,omitempty"`
	Output     string       `json:"output,omitempty"`
	Error      string       `json:"error,omitempty"`
	RecordedAt time.Time    `json:"recordedAt"`
}

// Registry is a JSON-file backed set of handled source paths.
type Registry struct {
	path string

	mu      sync.RWMutex
	entries map[string]Entry
}

// Open loads the registry at path, starting empty when the file is missing.
func Open(path string) (*Registry, error) {
	r := &Registry{path: path, entries: map[string]Entry{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return r, nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var list []Entry
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	for _, e := range list {
		r.entries[normalize(e.Path)] = e
	}
	return r, nil
}

// Contains reports whether path already has a recorded outcome.
func (r *Registry) Contains(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[normalize(path)]
	return ok
}

// Lookup returns the recorded entry for path.
func (r *Registry) Lookup(path string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[normalize(path)]
	return e, ok
}

// Record stores the outcome for entry.Path and persists the registry.
func (r *Registry) Record(entry Entry) error {
	if entry.Path == "" {
		return errors.New("registry entry path is required")
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[normalize(entry.Path)] = entry
	return r.saveLocked()
}

// Len returns the number of recorded paths.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) saveLocked() error {
	list := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Path < list[j].Path })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if err := fsutil.WriteFileAtomic(r.path, data, 0o644); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	return nil
}

func normalize(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
