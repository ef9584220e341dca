package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"auto-transcriber/internal/domain"
	"auto-transcriber/internal/jobs"
	"auto-transcriber/internal/logging"
	"auto-transcriber/internal/output"
	"auto-transcriber/internal/registry"
	"auto-transcriber/internal/status"
	"auto-transcriber/internal/transcribe"
)

var feb13 = time.Date(2026, time.February, 13, 14, 0, 0, 0, time.Local)

type fakeExtractor struct {
	extract func(ctx context.Context, src string) (transcribe.Audio, error)
}

func (f *fakeExtractor) Extract(ctx context.Context, src string) (transcribe.Audio, error) {
	if f.extract == nil {
		return transcribe.Audio{Path: src + ".wav", Duration: 90 * time.Second}, nil
	}
	return f.extract(ctx, src)
}

type fakeDetector struct {
	detect func(ctx context.Context, audio transcribe.Audio) (domain.Language, error)
}

func (f *fakeDetector) Detect(ctx context.Context, audio transcribe.Audio) (domain.Language, error) {
	if f.detect == nil {
		return domain.LanguageEnglish, nil
	}
	return f.detect(ctx, audio)
}

type fakeTranscriber struct {
	transcribe func(ctx context.Context, audioPath string, hint domain.Language) (transcribe.Transcript, error)
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string, hint domain.Language) (transcribe.Transcript, error) {
	if f.transcribe == nil {
		return sampleTranscript(), nil
	}
	return f.transcribe(ctx, audioPath, hint)
}

func sampleTranscript() transcribe.Transcript {
	return transcribe.Transcript{
		Segments: []transcribe.Segment{
			{Speaker: "spk0", Start: 0, End: 3 * time.Second, Text: "Welcome to the meeting."},
			{Speaker: "spk1", Start: 3 * time.Second, End: 6 * time.Second, Text: "Thanks."},
		},
		DetectedLanguage: "en",
		Duration:         6 * time.Second,
	}
}

type recordingNotifier struct {
	mu       sync.Mutex
	progress []int
	results  []string
}

func (r *recordingNotifier) Progress(stageLabel string, percent int, filename string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, percent)
}

func (r *recordingNotifier) ShowResult(summary string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, summary)
}

func (r *recordingNotifier) Results() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.results...)
}

type fakeReleaser struct {
	mu       sync.Mutex
	released []string
}

func (f *fakeReleaser) Release(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, path)
}

type harness struct {
	root        string
	watchDir    string
	outputDir   string
	archiveDir  string
	skipDir     string
	engine      *Engine
	manager     *jobs.Manager
	events      *jobs.EventBus
	status      *status.Store
	registry    *registry.Registry
	notifier    *recordingNotifier
	releaser    *fakeReleaser
	extractor   *fakeExtractor
	detector    *fakeDetector
	transcriber *fakeTranscriber
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	root := t.TempDir()
	h := &harness{
		root:        root,
		watchDir:    filepath.Join(root, "watch"),
		outputDir:   filepath.Join(root, "transcripts"),
		archiveDir:  filepath.Join(root, "video"),
		skipDir:     filepath.Join(root, "skipped"),
		manager:     jobs.NewManager(),
		events:      jobs.NewEventBus(0),
		status:      status.NewStore(filepath.Join(root, "status.json")),
		notifier:    &recordingNotifier{},
		releaser:    &fakeReleaser{},
		extractor:   &fakeExtractor{},
		detector:    &fakeDetector{},
		transcriber: &fakeTranscriber{},
	}
	if err := os.MkdirAll(h.watchDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	reg, err := registry.Open(filepath.Join(root, "processed.json"))
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	h.registry = reg

	if opts.ArchiveDir == "" {
		opts.ArchiveDir = h.archiveDir
	}
	if opts.SkipDir == "" {
		opts.SkipDir = h.skipDir
	}
	h.engine = NewEngine(opts, Deps{
		Manager:     h.manager,
		Status:      h.status,
		Events:      h.events,
		Notifier:    h.notifier,
		Registry:    reg,
		Extractor:   h.extractor,
		Detector:    h.detector,
		Transcriber: h.transcriber,
		Output:      output.NewNamer(h.outputDir, h.archiveDir),
		Releaser:    h.releaser,
		Logger:      logging.Discard(),
	})
	h.engine.now = func() time.Time { return feb13 }
	return h
}

// source writes a media file into the watch dir and returns a confirmed job.
func (h *harness) source(t *testing.T, name string) domain.Job {
	t.Helper()
	path := filepath.Join(h.watchDir, name)
	if err := os.WriteFile(path, []byte("media"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return domain.Job{
		ID:           name + "-id",
		SourcePath:   path,
		SizeBytes:    5,
		DiscoveredAt: feb13,
		Stage:        domain.StageDetected,
	}
}

func (h *harness) confirmed(t *testing.T, name string) domain.Job {
	t.Helper()
	job, err := h.engine.Await(h.source(t, name))
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	return job
}

// TestProcessCompletesAndArchives verifies the full success path.
func TestProcessCompletesAndArchives(t *testing.T) {
	h := newHarness(t, Options{ArchivePolicy: domain.SourcePolicyMove})
	job := h.confirmed(t, "meeting.mp4")

	final, err := h.engine.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if final.Stage != domain.StageCompleted || final.Progress != 100 {
		t.Fatalf("final = %s/%d", final.Stage, final.Progress)
	}
	if filepath.Base(final.OutputPath) != "2026_2_13_en_1.md" {
		t.Fatalf("output = %q", final.OutputPath)
	}
	if final.Segments != 2 || final.Speakers != 2 || final.Language != domain.LanguageEnglish {
		t.Fatalf("final = %+v", final)
	}
	if h.manager.IsRunning() {
		t.Fatal("slot should be released")
	}
	if _, err := os.Stat(filepath.Join(h.archiveDir, "2026_2_13_en_1.mp4")); err != nil {
		t.Fatalf("archived source missing: %v", err)
	}
	entry, ok := h.registry.Lookup(job.SourcePath)
	if !ok || entry.Outcome != domain.StageCompleted || entry.Output != final.OutputPath {
		t.Fatalf("registry entry = %+v, ok = %v", entry, ok)
	}

	rec, err := h.status.Read()
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if rec.State != domain.StageCompleted || rec.Stats.Completed != 1 || len(rec.History) != 1 {
		t.Fatalf("status = %+v", rec)
	}
	if len(h.releaser.released) != 1 {
		t.Fatalf("released = %v", h.releaser.released)
	}
	if got := h.notifier.Results(); len(got) != 1 {
		t.Fatalf("results = %v", got)
	}
}

// TestProcessProgressIsMonotonic verifies checkpoints never decrease.
func TestProcessProgressIsMonotonic(t *testing.T) {
	h := newHarness(t, Options{})
	var mu sync.Mutex
	var seen []int
	h.events.Listen(func(ev jobs.Event) {
		if ev.Type == jobs.EventTypeStage {
			mu.Lock()
			seen = append(seen, ev.Progress)
			mu.Unlock()
		}
	})

	if _, err := h.engine.Process(context.Background(), h.confirmed(t, "a.mp4")); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []int{0, 0, 25, 50, 75, 100}
	if len(seen) != len(want) {
		t.Fatalf("progress = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("progress = %v, want %v", seen, want)
		}
	}
}

// TestFailureAtTranscribingReleasesSlot verifies the next job still completes.
func TestFailureAtTranscribingReleasesSlot(t *testing.T) {
	h := newHarness(t, Options{FailPolicy: domain.SourcePolicyMark})
	calls := 0
	h.transcriber.transcribe = func(ctx context.Context, audioPath string, hint domain.Language) (transcribe.Transcript, error) {
		calls++
		if calls == 1 {
			return transcribe.Transcript{}, &transcribe.PipelineError{
				Stage:   domain.StageTranscribing,
				Kind:    domain.ErrorKindEngineFailure,
				Message: "whisper.cpp transcription failed",
			}
		}
		return sampleTranscript(), nil
	}

	first := h.confirmed(t, "broken.mp4")
	failed, err := h.engine.Process(context.Background(), first)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if failed.Stage != domain.StageFailed || failed.Error == nil || failed.Error.Kind != domain.ErrorKindEngineFailure {
		t.Fatalf("failed job = %+v", failed)
	}
	if failed.Progress != 50 {
		t.Fatalf("failed progress = %d, want last checkpoint 50", failed.Progress)
	}
	if h.manager.IsRunning() {
		t.Fatal("slot should be released after failure")
	}
	if _, err := os.Stat(first.SourcePath); err != nil {
		t.Fatalf("mark policy must keep the source: %v", err)
	}
	if entry, ok := h.registry.Lookup(first.SourcePath); !ok || entry.Outcome != domain.StageFailed {
		t.Fatalf("registry entry = %+v", entry)
	}
	rec, _ := h.status.Read()
	if rec.State != domain.StageFailed || rec.Error == nil {
		t.Fatalf("status = %+v", rec)
	}

	second, err := h.engine.Process(context.Background(), h.confirmed(t, "good.mp4"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if second.Stage != domain.StageCompleted {
		t.Fatalf("second job = %s", second.Stage)
	}
	if filepath.Base(second.OutputPath) != "2026_2_13_en_1.md" {
		t.Fatalf("second output = %q", second.OutputPath)
	}
	rec, _ = h.status.Read()
	if rec.Stats.Failed != 1 || rec.Stats.Completed != 1 {
		t.Fatalf("stats = %+v", rec.Stats)
	}
}

// TestStageTimeoutFailsWithTimeoutKind verifies the per-stage bound.
func TestStageTimeoutFailsWithTimeoutKind(t *testing.T) {
	h := newHarness(t, Options{StageTimeout: 20 * time.Millisecond})
	h.transcriber.transcribe = func(ctx context.Context, audioPath string, hint domain.Language) (transcribe.Transcript, error) {
		<-ctx.Done()
		return transcribe.Transcript{}, ctx.Err()
	}

	final, _ := h.engine.Process(context.Background(), h.confirmed(t, "long.mkv"))
	if final.Stage != domain.StageFailed || final.Error.Kind != domain.ErrorKindTimeout {
		t.Fatalf("final = %+v", final)
	}
}

// TestDetectionFailureFallsBackToUnknown verifies detection is not fatal.
func TestDetectionFailureFallsBackToUnknown(t *testing.T) {
	h := newHarness(t, Options{})
	h.detector.detect = func(ctx context.Context, audio transcribe.Audio) (domain.Language, error) {
		return "", errors.New("lid crashed")
	}

	final, _ := h.engine.Process(context.Background(), h.confirmed(t, "memo.m4a"))
	if final.Stage != domain.StageCompleted {
		t.Fatalf("final = %+v", final)
	}
	if filepath.Base(final.OutputPath) != "2026_2_13_unknown_1.md" {
		t.Fatalf("output = %q", final.OutputPath)
	}
}

// TestExtractionFailureMovesWithFailPrefix verifies the move failure policy.
func TestExtractionFailureMovesWithFailPrefix(t *testing.T) {
	h := newHarness(t, Options{FailPolicy: domain.SourcePolicyMove})
	h.extractor.extract = func(ctx context.Context, src string) (transcribe.Audio, error) {
		return transcribe.Audio{}, &transcribe.PipelineError{
			Stage:   domain.StageExtracting,
			Kind:    domain.ErrorKindExtractionFailure,
			Message: "ffmpeg audio conversion failed",
		}
	}

	job := h.confirmed(t, "corrupt.mov")
	final, _ := h.engine.Process(context.Background(), job)
	if final.Error == nil || final.Error.Kind != domain.ErrorKindExtractionFailure {
		t.Fatalf("final = %+v", final)
	}
	if _, err := os.Stat(filepath.Join(h.archiveDir, "fail_2026_2_13_unknown_1.mov")); err != nil {
		t.Fatalf("failed source not archived: %v", err)
	}
	if _, err := os.Stat(job.SourcePath); !os.IsNotExist(err) {
		t.Fatalf("source should have moved, stat err = %v", err)
	}
}

// TestSkipNeverAcquiresSlot verifies declined jobs bypass the slot.
func TestSkipNeverAcquiresSlot(t *testing.T) {
	h := newHarness(t, Options{SkipPolicy: domain.SourcePolicyMove})
	release, err := h.manager.TryAcquireExclusive("refresh")
	if err != nil {
		t.Fatalf("hold slot: %v", err)
	}
	defer release()

	job := h.confirmed(t, "private.mp4")
	skipped, err := h.engine.Skip(job, "declined")
	if err != nil {
		t.Fatalf("Skip() error = %v", err)
	}
	if skipped.Stage != domain.StageSkipped {
		t.Fatalf("stage = %s", skipped.Stage)
	}
	if _, err := os.Stat(filepath.Join(h.skipDir, "private.mp4")); err != nil {
		t.Fatalf("skipped source not moved: %v", err)
	}
	if entry, ok := h.registry.Lookup(job.SourcePath); !ok || entry.Outcome != domain.StageSkipped {
		t.Fatalf("registry entry = %+v", entry)
	}
	rec, _ := h.status.Read()
	if rec.State != domain.StageSkipped || rec.Stats.Skipped != 1 {
		t.Fatalf("status = %+v", rec)
	}
}

// TestSkipRejectsStartedJob verifies skipped is only reachable before extraction.
func TestSkipRejectsStartedJob(t *testing.T) {
	h := newHarness(t, Options{})
	job := h.source(t, "a.mp4")
	job.Stage = domain.StageExtracting
	if _, err := h.engine.Skip(job, "declined"); err == nil {
		t.Fatal("expected invalid transition")
	}
}

// TestProcessBusySlotBlocks verifies acquisition waits for the holder.
func TestProcessBusySlotBlocks(t *testing.T) {
	h := newHarness(t, Options{})
	release, err := h.manager.TryAcquireExclusive("refresh")
	if err != nil {
		t.Fatalf("hold slot: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := h.engine.Process(ctx, h.confirmed(t, "a.mp4")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline while slot busy", err)
	}
	release()
}

// TestRecoverMarksInterruptedJob verifies restart recovery.
func TestRecoverMarksInterruptedJob(t *testing.T) {
	h := newHarness(t, Options{})
	src := filepath.Join(h.watchDir, "halfway.mp4")
	if err := h.status.Write(domain.StatusRecord{
		State:      domain.StageTranscribing,
		JobID:      "job-9",
		Filename:   "halfway.mp4",
		Source:     src,
		Progress:   50,
		ElapsedSec: 120,
		Stats:      domain.StatusStats{Completed: 3},
	}); err != nil {
		t.Fatalf("seed status: %v", err)
	}

	if err := h.engine.Recover(); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}

	entry, ok := h.registry.Lookup(src)
	if !ok || entry.Outcome != domain.StageFailed || entry.JobID != "job-9" {
		t.Fatalf("registry entry = %+v, ok = %v", entry, ok)
	}
	rec, err := status.ReadFile(h.status.Path())
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if !rec.IsIdle() {
		t.Fatalf("state = %s, want idle", rec.State)
	}
	if rec.Stats.Completed != 3 || rec.Stats.Failed != 1 {
		t.Fatalf("stats = %+v", rec.Stats)
	}
	if len(rec.History) != 1 || rec.History[0].Result != domain.StageFailed {
		t.Fatalf("history = %+v", rec.History)
	}
}

// TestRecoverLeavesUnconfirmedJobUnmarked verifies a pending prompt does not
// reject the recording on restart.
func TestRecoverLeavesUnconfirmedJobUnmarked(t *testing.T) {
	for _, stage := range []domain.Stage{domain.StageDetected, domain.StageAwaitingConfirmation} {
		t.Run(string(stage), func(t *testing.T) {
			h := newHarness(t, Options{})
			src := filepath.Join(h.watchDir, "meeting.mp4")
			if err := h.status.Write(domain.StatusRecord{
				State:    stage,
				JobID:    "job-3",
				Filename: "meeting.mp4",
				Source:   src,
				Stats:    domain.StatusStats{Completed: 2},
			}); err != nil {
				t.Fatalf("seed status: %v", err)
			}

			if err := h.engine.Recover(); err != nil {
				t.Fatalf("Recover() error = %v", err)
			}

			if h.registry.Contains(src) {
				t.Fatal("unconfirmed source recorded in registry")
			}
			rec, err := status.ReadFile(h.status.Path())
			if err != nil {
				t.Fatalf("read status: %v", err)
			}
			if !rec.IsIdle() {
				t.Fatalf("state = %s, want idle", rec.State)
			}
			if rec.Stats.Completed != 2 || rec.Stats.Failed != 0 || len(rec.History) != 0 {
				t.Fatalf("stats = %+v, history = %+v", rec.Stats, rec.History)
			}
			if got := h.notifier.Results(); len(got) != 0 {
				t.Fatalf("results = %v", got)
			}
		})
	}
}

// TestRecoverIdleIsNoop verifies a clean record stays idle.
func TestRecoverIdleIsNoop(t *testing.T) {
	h := newHarness(t, Options{})
	if err := h.engine.Recover(); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if h.registry.Len() != 0 {
		t.Fatalf("registry len = %d, want 0", h.registry.Len())
	}
	if got := h.notifier.Results(); len(got) != 0 {
		t.Fatalf("results = %v", got)
	}
}

// TestProcessNeverOverlapsCollaborators verifies serialization under concurrent callers.
func TestProcessNeverOverlapsCollaborators(t *testing.T) {
	h := newHarness(t, Options{})
	var active, maxActive int32
	h.transcriber.transcribe = func(ctx context.Context, audioPath string, hint domain.Language) (transcribe.Transcript, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return sampleTranscript(), nil
	}

	var wg sync.WaitGroup
	for _, name := range []string{"a.mp4", "b.mp4", "c.mp4", "d.mp4"} {
		job := h.source(t, name)
		job.Stage = domain.StageAwaitingConfirmation
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.engine.Process(context.Background(), job); err != nil {
				t.Errorf("Process() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("max concurrent transcriptions = %d, want 1", maxActive)
	}
	rec, _ := h.status.Read()
	if rec.Stats.Completed != 4 {
		t.Fatalf("completed = %d, want 4", rec.Stats.Completed)
	}
}
