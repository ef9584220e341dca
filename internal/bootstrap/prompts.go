package bootstrap

import (
	"context"
	"errors"
	"path/filepath"
	"sync"

	"auto-transcriber/internal/domain"
)

const (
	promptOpenEvent   = "job:prompt"
	promptClosedEvent = "job:prompt-closed"
)

var errPromptClosed = errors.New("prompt is no longer open")

// promptRequest is the payload of a prompt-open event.
type promptRequest struct {
	JobID    string `json:"jobId"`
	Filename string `json:"filename"`
}

// promptBroker shows confirmation prompts in the frontend and routes answers
// back to the waiting job. A prompt is withdrawn with a closed event when its
// context ends, so the window never holds a stale question.
type promptBroker struct {
	emit func(event string, data any)

	mu      sync.Mutex
	pending map[string]chan bool
}

func newPromptBroker(emit func(event string, data any)) *promptBroker {
	return &promptBroker{emit: emit, pending: make(map[string]chan bool)}
}

// Ask opens a prompt for job and waits for Answer or ctx.
func (b *promptBroker) Ask(ctx context.Context, job domain.Job) (bool, error) {
	answers := make(chan bool, 1)
	b.mu.Lock()
	b.pending[job.ID] = answers
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, job.ID)
		b.mu.Unlock()
	}()

	b.emit(promptOpenEvent, promptRequest{JobID: job.ID, Filename: filepath.Base(job.SourcePath)})

	select {
	case ok := <-answers:
		return ok, nil
	case <-ctx.Done():
		b.emit(promptClosedEvent, job.ID)
		return false, ctx.Err()
	}
}

// Answer delivers the user's decision for jobID. A late answer for a prompt
// that already timed out returns errPromptClosed.
func (b *promptBroker) Answer(jobID string, transcribe bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	answers, ok := b.pending[jobID]
	if !ok {
		return errPromptClosed
	}
	select {
	case answers <- transcribe:
	default:
	}
	return nil
}
