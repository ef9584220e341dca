package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"auto-transcriber/internal/domain"
)

func awaitingJob(id string) domain.Job {
	return domain.Job{ID: id, SourcePath: "/watch/" + id + ".mp4", Stage: domain.StageAwaitingConfirmation}
}

// TestManagerLifecycle verifies normal progression to completed state.
func TestManagerLifecycle(t *testing.T) {
	m := NewManager()
	if m.IsRunning() {
		t.Fatal("new manager should be idle")
	}

	if err := m.TryAcquire(awaitingJob("job-1")); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !m.IsRunning() {
		t.Fatal("expected running after acquire")
	}

	wantProgress := []int{0, 25, 50, 75, 100}
	for i, stage := range []domain.Stage{
		domain.StageExtracting,
		domain.StageDetectingLanguage,
		domain.StageTranscribing,
		domain.StageSaving,
		domain.StageCompleted,
	} {
		job, err := m.Transition(stage)
		if err != nil {
			t.Fatalf("transition to %s: %v", stage, err)
		}
		if job.Progress != wantProgress[i] {
			t.Fatalf("progress at %s = %d, want %d", stage, job.Progress, wantProgress[i])
		}
	}

	if err := m.Release("job-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if m.IsRunning() {
		t.Fatal("expected idle after release")
	}
	if m.Current().Stage != domain.StageCompleted {
		t.Fatalf("current stage = %s, want completed", m.Current().Stage)
	}
}

// TestManagerRejectsInvalidTransition checks state machine constraints.
func TestManagerRejectsInvalidTransition(t *testing.T) {
	m := NewManager()
	if err := m.TryAcquire(awaitingJob("job-1")); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if _, err := m.Transition(domain.StageTranscribing); err == nil {
		t.Fatal("expected skipping stages to be rejected")
	}
	if _, err := m.Transition(domain.StageCompleted); err == nil {
		t.Fatal("expected invalid transition error")
	}
}

// TestManagerTerminalStagesAreFinal checks that nothing leaves a terminal stage.
func TestManagerTerminalStagesAreFinal(t *testing.T) {
	m := NewManager()
	if err := m.TryAcquire(awaitingJob("job-1")); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := m.Transition(domain.StageExtracting); err != nil {
		t.Fatalf("extracting: %v", err)
	}
	job, err := m.Fail(domain.JobError{Kind: domain.ErrorKindExtractionFailure, Message: "ffmpeg"})
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if job.Error == nil || job.Error.Kind != domain.ErrorKindExtractionFailure {
		t.Fatalf("job error = %+v", job.Error)
	}

	if _, err := m.Transition(domain.StageDetectingLanguage); err == nil {
		t.Fatal("expected failed job to stay failed")
	}
	if _, err := m.Fail(domain.JobError{Kind: domain.ErrorKindTimeout}); err == nil {
		t.Fatal("expected second fail to be rejected")
	}
}

// TestManagerReleaseRequiresTerminalStage verifies a running job keeps the slot.
func TestManagerReleaseRequiresTerminalStage(t *testing.T) {
	m := NewManager()
	if err := m.TryAcquire(awaitingJob("job-1")); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := m.Transition(domain.StageExtracting); err != nil {
		t.Fatalf("extracting: %v", err)
	}
	if err := m.Release("job-1"); err == nil {
		t.Fatal("expected release of active job to fail")
	}
	if err := m.Release("job-2"); !errors.Is(err, ErrNoRunningJob) {
		t.Fatalf("release other id error = %v, want %v", err, ErrNoRunningJob)
	}
}

// TestManagerSerializesConcurrentAcquires verifies at most one holder at a time
// when many jobs compete for the slot.
func TestManagerSerializesConcurrentAcquires(t *testing.T) {
	m := NewManager()
	var active int32
	var maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		id := string(rune('a' + i))
		go func() {
			defer wg.Done()
			if err := m.Acquire(context.Background(), awaitingJob(id)); err != nil {
				t.Errorf("acquire %s: %v", id, err)
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				old := atomic.LoadInt32(&maxActive)
				if n <= old || atomic.CompareAndSwapInt32(&maxActive, old, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			if _, err := m.Transition(domain.StageExtracting); err != nil {
				t.Errorf("transition %s: %v", id, err)
			}
			if _, err := m.Fail(domain.JobError{Kind: domain.ErrorKindEngineFailure}); err != nil {
				t.Errorf("fail %s: %v", id, err)
			}
			atomic.AddInt32(&active, -1)
			if err := m.Release(id); err != nil {
				t.Errorf("release %s: %v", id, err)
			}
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxActive)
	}
}

// TestManagerTryAcquireWhenBusy checks the non-blocking guard.
func TestManagerTryAcquireWhenBusy(t *testing.T) {
	m := NewManager()
	if err := m.TryAcquire(awaitingJob("job-1")); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := m.TryAcquire(awaitingJob("job-2")); !errors.Is(err, ErrJobAlreadyRunning) {
		t.Fatalf("second acquire error = %v, want %v", err, ErrJobAlreadyRunning)
	}
	if _, err := m.TryAcquireExclusive("refresh"); !errors.Is(err, ErrJobAlreadyRunning) {
		t.Fatalf("exclusive acquire error = %v, want %v", err, ErrJobAlreadyRunning)
	}
}

// TestManagerExclusiveBlocksJobs verifies maintenance holds off jobs and WaitIdle.
func TestManagerExclusiveBlocksJobs(t *testing.T) {
	m := NewManager()
	release, err := m.AcquireExclusive(context.Background(), "refresh")
	if err != nil {
		t.Fatalf("exclusive: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Acquire(ctx, awaitingJob("job-1")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("acquire during refresh error = %v, want deadline exceeded", err)
	}
	if err := m.WaitIdle(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitIdle during refresh error = %v", err)
	}

	release()
	release()
	if err := m.WaitIdle(context.Background()); err != nil {
		t.Fatalf("WaitIdle after release: %v", err)
	}
	if err := m.TryAcquire(awaitingJob("job-1")); err != nil {
		t.Fatalf("acquire after refresh: %v", err)
	}
}

// TestValidTransitionSkippedOnlyFromAwaiting checks the skip edge.
func TestValidTransitionSkippedOnlyFromAwaiting(t *testing.T) {
	if !ValidTransition(domain.StageAwaitingConfirmation, domain.StageSkipped) {
		t.Fatal("awaiting -> skipped should be valid")
	}
	for _, from := range []domain.Stage{domain.StageDetected, domain.StageExtracting, domain.StageTranscribing} {
		if ValidTransition(from, domain.StageSkipped) {
			t.Fatalf("%s -> skipped should be invalid", from)
		}
	}
	if !ValidTransition(domain.StageDetected, domain.StageFailed) {
		t.Fatal("failed should be reachable from detected")
	}
}
