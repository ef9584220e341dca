package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"auto-transcriber/internal/domain"
)

// ErrJobAlreadyRunning is returned when the pipeline slot is already held.
var ErrJobAlreadyRunning = errors.New("job already running")

// ErrNoRunningJob is returned when releasing or transitioning an empty slot.
var ErrNoRunningJob = errors.New("no running job")

// Manager owns the single pipeline slot and the state of the job occupying it.
// Exactly one holder (a job or an exclusive maintenance task) may own the slot.
type Manager struct {
	slot chan struct{}

	mu      sync.RWMutex
	current domain.Job
	holder  string
	idle    chan struct{}
}

// NewManager creates a manager with a free slot.
func NewManager() *Manager {
	idle := make(chan struct{})
	close(idle)
	return &Manager{
		slot:    make(chan struct{}, 1),
		current: domain.Job{Stage: domain.StageIdle},
		idle:    idle,
	}
}

// Acquire blocks until the slot is free, then installs job as its occupant.
// The job must be in the awaiting-confirmation stage; it leaves that stage
// through Transition.
func (m *Manager) Acquire(ctx context.Context, job domain.Job) error {
	if job.ID == "" {
		return fmt.Errorf("acquire: job id is required")
	}
	if job.Stage != domain.StageAwaitingConfirmation {
		return fmt.Errorf("acquire: job %s is %s, want %s", job.ID, job.Stage, domain.StageAwaitingConfirmation)
	}

	select {
	case m.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.install(job.ID, job)
	return nil
}

// TryAcquire installs job without waiting and fails when the slot is held.
func (m *Manager) TryAcquire(job domain.Job) error {
	if job.Stage != domain.StageAwaitingConfirmation {
		return fmt.Errorf("acquire: job %s is %s, want %s", job.ID, job.Stage, domain.StageAwaitingConfirmation)
	}
	select {
	case m.slot <- struct{}{}:
	default:
		return ErrJobAlreadyRunning
	}

	m.install(job.ID, job)
	return nil
}

// AcquireExclusive takes the slot for a non-job task such as a model refresh.
// The returned release func must be called exactly once.
func (m *Manager) AcquireExclusive(ctx context.Context, owner string) (func(), error) {
	select {
	case m.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.install(owner, domain.Job{Stage: domain.StageIdle})
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.holder = ""
			m.releaseLocked()
			m.mu.Unlock()
		})
	}, nil
}

// TryAcquireExclusive is AcquireExclusive without waiting.
func (m *Manager) TryAcquireExclusive(owner string) (func(), error) {
	select {
	case m.slot <- struct{}{}:
	default:
		return nil, ErrJobAlreadyRunning
	}

	m.install(owner, domain.Job{Stage: domain.StageIdle})
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.holder = ""
			m.releaseLocked()
			m.mu.Unlock()
		})
	}, nil
}

func (m *Manager) install(holder string, job domain.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holder = holder
	m.current = job
	m.idle = make(chan struct{})
}

// Transition validates and applies a stage change for the occupying job.
// Progress moves to the stage checkpoint and never decreases.
func (m *Manager) Transition(stage domain.Stage) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.ID == "" || m.holder != m.current.ID {
		return domain.Job{}, ErrNoRunningJob
	}
	if stage == m.current.Stage {
		return m.current, nil
	}
	if !ValidTransition(m.current.Stage, stage) {
		return m.current, fmt.Errorf("invalid transition: %s -> %s", m.current.Stage, stage)
	}

	m.current.Stage = stage
	if p := stage.Checkpoint(); p > m.current.Progress {
		m.current.Progress = p
	}
	if stage == domain.StageExtracting && m.current.StartedAt.IsZero() {
		m.current.StartedAt = time.Now()
	}
	if !m.current.StartedAt.IsZero() {
		m.current.Elapsed = time.Since(m.current.StartedAt)
	}
	return m.current, nil
}

// Fail moves the occupying job to the failed stage with the given error.
func (m *Manager) Fail(jobErr domain.JobError) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.ID == "" || m.holder != m.current.ID {
		return domain.Job{}, ErrNoRunningJob
	}
	if m.current.Stage.IsTerminal() {
		return m.current, fmt.Errorf("invalid transition: %s -> %s", m.current.Stage, domain.StageFailed)
	}

	m.current.Stage = domain.StageFailed
	m.current.Error = &jobErr
	if !m.current.StartedAt.IsZero() {
		m.current.Elapsed = time.Since(m.current.StartedAt)
	}
	return m.current, nil
}

// Update applies fn to the occupying job for non-stage bookkeeping fields.
// Stage, progress, and identity changes made by fn are discarded.
func (m *Manager) Update(fn func(job *domain.Job)) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.ID == "" || m.holder != m.current.ID {
		return domain.Job{}, ErrNoRunningJob
	}
	next := m.current
	fn(&next)
	next.ID = m.current.ID
	next.SourcePath = m.current.SourcePath
	next.Stage = m.current.Stage
	next.Progress = m.current.Progress
	next.Error = m.current.Error
	m.current = next
	return m.current, nil
}

// Release frees the slot held by jobID. The job must be in a terminal stage.
func (m *Manager) Release(jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.holder == "" || m.holder != jobID {
		return ErrNoRunningJob
	}
	if !m.current.Stage.IsTerminal() {
		return fmt.Errorf("release: job %s is still %s", jobID, m.current.Stage)
	}
	m.holder = ""
	m.releaseLocked()
	return nil
}

func (m *Manager) releaseLocked() {
	close(m.idle)
	<-m.slot
}

// Current returns a snapshot of the occupying (or most recent) job.
func (m *Manager) Current() domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsRunning reports whether the slot is held.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.holder != ""
}

// WaitIdle blocks until the slot is free or ctx is done.
func (m *Manager) WaitIdle(ctx context.Context) error {
	m.mu.RLock()
	idle := m.idle
	m.mu.RUnlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ValidTransition enforces the allowed job state machine edges.
func ValidTransition(from, to domain.Stage) bool {
	if from.IsTerminal() || from == domain.StageIdle {
		return false
	}
	if to == domain.StageFailed {
		return true
	}

	switch from {
	case domain.StageDetected:
		return to == domain.StageAwaitingConfirmation
	case domain.StageAwaitingConfirmation:
		return to == domain.StageExtracting || to == domain.StageSkipped
	case domain.StageExtracting:
		return to == domain.StageDetectingLanguage
	case domain.StageDetectingLanguage:
		return to == domain.StageTranscribing
	case domain.StageTranscribing:
		return to == domain.StageSaving
	case domain.StageSaving:
		return to == domain.StageCompleted
	default:
		return false
	}
}
