package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"auto-transcriber/internal/domain"
	"auto-transcriber/internal/jobs"
	"auto-transcriber/internal/notify"
	"auto-transcriber/internal/output"
	"auto-transcriber/internal/registry"
	"auto-transcriber/internal/status"
	"auto-transcriber/internal/transcribe"
)

// historySize is how many terminal outcomes the status record keeps.
const historySize = 5

// Extractor produces engine-ready audio from a source file.
type Extractor interface {
	Extract(ctx context.Context, src string) (transcribe.Audio, error)
}

// LanguageDetector classifies the spoken language of extracted audio.
type LanguageDetector interface {
	Detect(ctx context.Context, audio transcribe.Audio) (domain.Language, error)
}

// Transcriber runs speech recognition and diarization over audio.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, hint domain.Language) (transcribe.Transcript, error)
}

// OutputWriter allocates standard names and writes transcript artifacts.
type OutputWriter interface {
	SaveWith(ts time.Time, lang domain.Language, render func(name string) []byte) (output.Artifact, error)
	NextSeq(ts time.Time, lang domain.Language) (int, error)
}

// Registry durably records handled source paths.
type Registry interface {
	Record(entry registry.Entry) error
}

// Releaser is told when a source path's job reaches a terminal stage.
type Releaser interface {
	Release(path string)
}

// Options holds the engine's policies.
type Options struct {
	ArchiveDir    string
	SkipDir       string
	ArchivePolicy domain.SourcePolicy
	SkipPolicy    domain.SourcePolicy
	FailPolicy    domain.SourcePolicy
	// StageTimeout bounds each collaborator call; zero disables the bound.
	StageTimeout time.Duration
	EngineName   string
}

// Deps are the engine's collaborators. Releaser and Events are optional.
type Deps struct {
	Manager     *jobs.Manager
	Status      *status.Store
	Events      *jobs.EventBus
	Notifier    notify.Notifier
	Registry    Registry
	Extractor   Extractor
	Detector    LanguageDetector
	Transcriber Transcriber
	Output      OutputWriter
	Releaser    Releaser
	Logger      *slog.Logger
}

// Engine drives one job at a time through the stage state machine and keeps
// the status record in step with it.
type Engine struct {
	opts Options
	Deps
	now func() time.Time

	// mu serializes status writes so queue updates never regress a stage.
	mu      sync.Mutex
	last    domain.StatusRecord
	queue   []string
	stats   domain.StatusStats
	history []domain.HistoryEntry
}

// NewEngine constructs an engine.
func NewEngine(opts Options, deps Deps) *Engine {
	if deps.Events == nil {
		deps.Events = jobs.NewEventBus(0)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLogNotifier(deps.Logger)
	}
	if opts.EngineName == "" {
		opts.EngineName = "whisper.cpp"
	}
	deps.Logger = deps.Logger.With("component", "pipeline")

	return &Engine{
		opts: opts,
		Deps: deps,
		now:  time.Now,
		last: domain.IdleRecord(),
	}
}

// Recover inspects the persisted record from a previous run. A job that held
// the slot is recorded as failed with kind interrupted so it is not retried in
// a loop. A job still waiting for confirmation is left unmarked. Either way
// the record returns to idle.
func (e *Engine) Recover() error {
	rec, err := status.ReadFile(e.Status.Path())
	if err != nil {
		e.Logger.Warn("status file unreadable, resetting to idle", "error", err)
		return e.Idle()
	}

	e.mu.Lock()
	e.stats = rec.Stats
	e.history = lastN(rec.History, historySize)
	e.mu.Unlock()

	if rec.IsIdle() || rec.State.IsTerminal() {
		return e.Idle()
	}
	if rec.State == domain.StageDetected || rec.State == domain.StageAwaitingConfirmation {
		e.Logger.Info("dropping unconfirmed job, source will be rediscovered",
			"job_id", rec.JobID, "file", rec.Filename, "stage", rec.State)
		return e.Idle()
	}

	const msg = "interrupted by restart"
	e.Logger.Warn("recovering interrupted job",
		"job_id", rec.JobID, "file", rec.Filename, "stage", rec.State)

	job := domain.Job{
		ID:         rec.JobID,
		SourcePath: rec.Source,
		Stage:      domain.StageFailed,
		Progress:   rec.Progress,
		Language:   rec.Language,
		Elapsed:    time.Duration(rec.ElapsedSec * float64(time.Second)),
		Error:      &domain.JobError{Kind: domain.ErrorKindInterrupted, Message: msg},
	}
	if job.SourcePath != "" {
		e.record(job, "", msg)
	}
	e.tally(job, rec.Filename, "")
	e.Events.Publish(jobs.Event{
		JobID:     job.ID,
		Type:      jobs.EventTypeError,
		Stage:     domain.StageFailed,
		Progress:  job.Progress,
		Filename:  rec.Filename,
		Message:   msg,
		ErrorKind: domain.ErrorKindInterrupted,
	})
	e.Notifier.ShowResult(fmt.Sprintf("Interrupted: %s", rec.Filename))
	return e.Idle()
}

// Idle writes the idle sentinel, keeping queue, counters, and history.
func (e *Engine) Idle() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := domain.IdleRecord()
	rec.UpdatedAt = e.now().UTC()
	rec.Queue = append([]string{}, e.queue...)
	rec.Stats = e.stats
	rec.History = append([]domain.HistoryEntry{}, e.history...)
	return e.writeLocked(rec)
}

// SetQueue replaces the waiting file names shown in the status record.
func (e *Engine) SetQueue(names []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.queue = append([]string{}, names...)
	rec := e.last
	rec.Queue = append([]string{}, names...)
	rec.UpdatedAt = e.now().UTC()
	if err := e.writeLocked(rec); err != nil {
		e.Logger.Error("write status failed", "error", err)
	}
}

// Await moves a detected job to awaiting confirmation.
func (e *Engine) Await(job domain.Job) (domain.Job, error) {
	if !jobs.ValidTransition(job.Stage, domain.StageAwaitingConfirmation) {
		return job, fmt.Errorf("invalid transition: %s -> %s", job.Stage, domain.StageAwaitingConfirmation)
	}
	job.Stage = domain.StageAwaitingConfirmation
	e.project(job, "waiting for confirmation")
	e.publishStage(job)
	return job, nil
}

// Skip ends a declined job without touching the pipeline slot.
func (e *Engine) Skip(job domain.Job, reason string) (domain.Job, error) {
	if !jobs.ValidTransition(job.Stage, domain.StageSkipped) {
		return job, fmt.Errorf("invalid transition: %s -> %s", job.Stage, domain.StageSkipped)
	}
	job.Stage = domain.StageSkipped
	name := filepath.Base(job.SourcePath)

	dest := ""
	if e.opts.SkipPolicy == domain.SourcePolicyMove && e.opts.SkipDir != "" {
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		moved, err := output.Archive(job.SourcePath, e.opts.SkipDir, stem, false)
		if err != nil {
			e.Logger.Warn("move skipped source failed", "file", name, "error", err)
		} else {
			dest = moved
		}
	}

	e.record(job, "", reason)
	e.tally(job, name, "")
	e.project(job, reason)
	e.Events.Publish(jobs.Event{
		JobID:    job.ID,
		Type:     jobs.EventTypeResult,
		Stage:    job.Stage,
		Progress: job.Progress,
		Filename: name,
		Message:  reason,
	})
	e.Logger.Info("job skipped", "job_id", job.ID, "file", name, "reason", reason, "moved_to", dest)
	e.Notifier.ShowResult(fmt.Sprintf("Skipped: %s", name))
	e.release(job.SourcePath)
	return job, nil
}

// Process runs a confirmed job to a terminal stage. It blocks until the
// pipeline slot is free; the slot is released before returning. The error is
// non-nil only when the slot could not be acquired.
func (e *Engine) Process(ctx context.Context, job domain.Job) (domain.Job, error) {
	if err := e.Manager.Acquire(ctx, job); err != nil {
		return job, err
	}
	defer func() {
		if cur := e.Manager.Current(); cur.ID == job.ID && !cur.Stage.IsTerminal() {
			_, _ = e.Manager.Fail(domain.JobError{Kind: domain.ErrorKindEngineFailure, Message: "pipeline aborted"})
		}
		if err := e.Manager.Release(job.ID); err != nil {
			e.Logger.Error("release pipeline slot failed", "job_id", job.ID, "error", err)
		}
		e.release(job.SourcePath)
	}()

	return e.run(ctx, job), nil
}

// LogCommand publishes an external command invocation for the current job.
func (e *Engine) LogCommand(log transcribe.CommandLog) {
	e.Events.Publish(jobs.Event{
		JobID:    e.Manager.Current().ID,
		Type:     jobs.EventTypeLog,
		Command:  log.Command,
		Args:     log.Args,
		ExitCode: log.ExitCode,
		Stderr:   log.Stderr,
	})
}

func (e *Engine) run(ctx context.Context, job domain.Job) domain.Job {
	name := filepath.Base(job.SourcePath)
	e.Logger.Info("job started", "job_id", job.ID, "file", name)

	job, err := e.advance(domain.StageExtracting, "extracting audio")
	if err != nil {
		return e.fail(classify(domain.StageExtracting, err))
	}

	var audio transcribe.Audio
	err = e.runStage(ctx, func(ctx context.Context) error {
		var err error
		audio, err = e.Extractor.Extract(ctx, job.SourcePath)
		return err
	})
	if err != nil {
		return e.fail(classify(domain.StageExtracting, err))
	}
	defer func() {
		if err := audio.Cleanup(); err != nil {
			e.Logger.Warn("remove temporary audio failed", "error", err)
		}
	}()
	job, _ = e.Manager.Update(func(j *domain.Job) { j.Duration = audio.Duration })

	if _, err := e.advance(domain.StageDetectingLanguage, "detecting language"); err != nil {
		return e.fail(classify(domain.StageDetectingLanguage, err))
	}
	lang := domain.LanguageUnknown
	err = e.runStage(ctx, func(ctx context.Context) error {
		var err error
		lang, err = e.Detector.Detect(ctx, audio)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return e.fail(classify(domain.StageDetectingLanguage, err))
		}
		e.Logger.Warn("language detection failed, using unknown", "job_id", job.ID, "error", err)
		lang = domain.LanguageUnknown
	}
	if lang == "" {
		lang = domain.LanguageUnknown
	}
	job, _ = e.Manager.Update(func(j *domain.Job) { j.Language = lang })

	if _, err := e.advance(domain.StageTranscribing, "transcribing"); err != nil {
		return e.fail(classify(domain.StageTranscribing, err))
	}
	var tr transcribe.Transcript
	err = e.runStage(ctx, func(ctx context.Context) error {
		var err error
		tr, err = e.Transcriber.Transcribe(ctx, audio.Path, lang)
		return err
	})
	if err != nil {
		return e.fail(classify(domain.StageTranscribing, err))
	}
	job, _ = e.Manager.Update(func(j *domain.Job) {
		j.Segments = len(tr.Segments)
		j.Speakers = len(tr.Speakers())
		if j.Duration == 0 {
			j.Duration = tr.Duration
		}
	})

	if _, err := e.advance(domain.StageSaving, "saving transcript"); err != nil {
		return e.fail(classify(domain.StageSaving, err))
	}
	generated := e.now()
	art, err := e.Output.SaveWith(generated, lang, func(base string) []byte {
		return output.RenderMarkdown(output.Meta{
			Name:        base,
			Language:    lang,
			Engine:      e.opts.EngineName,
			Duration:    job.Duration,
			Source:      name,
			GeneratedAt: generated,
		}, tr)
	})
	if err != nil {
		return e.fail(classify(domain.StageSaving, err))
	}
	job, _ = e.Manager.Update(func(j *domain.Job) { j.OutputPath = art.Path })

	archived := ""
	if e.opts.ArchivePolicy == domain.SourcePolicyMove && e.opts.ArchiveDir != "" {
		archived, err = output.Archive(job.SourcePath, e.opts.ArchiveDir, art.Name, false)
		if err != nil {
			e.Logger.Warn("archive source failed", "file", name, "error", err)
		}
	}

	job, err = e.Manager.Transition(domain.StageCompleted)
	if err != nil {
		return e.fail(classify(domain.StageSaving, err))
	}
	e.record(job, art.Path, "")
	e.tally(job, name, art.Path)
	e.project(job, "saved "+filepath.Base(art.Path))
	e.publishStage(job)
	e.Events.Publish(jobs.Event{
		JobID:      job.ID,
		Type:       jobs.EventTypeResult,
		Stage:      job.Stage,
		Progress:   job.Progress,
		Filename:   name,
		Message:    "transcript saved",
		OutputPath: art.Path,
	})
	e.Logger.Info("job completed",
		"job_id", job.ID,
		"file", name,
		"output", art.Path,
		"archived_to", archived,
		"language", lang,
		"segments", job.Segments,
		"elapsed", job.Elapsed.Round(time.Second))
	e.Notifier.Progress(job.Stage.Label(), job.Progress, name)
	e.Notifier.ShowResult(fmt.Sprintf("Completed: %s -> %s (%s, %s)",
		name, filepath.Base(art.Path), lang.Label(), domain.FormatElapsed(job.Elapsed)))
	return job
}

// advance transitions the slot's job, persists the record, and notifies.
func (e *Engine) advance(stage domain.Stage, detail string) (domain.Job, error) {
	job, err := e.Manager.Transition(stage)
	if err != nil {
		return job, err
	}
	e.project(job, detail)
	e.publishStage(job)
	e.Notifier.Progress(stage.Label(), job.Progress, filepath.Base(job.SourcePath))
	return job, nil
}

func (e *Engine) runStage(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.opts.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.StageTimeout)
		defer cancel()
	}
	return fn(ctx)
}

// fail moves the slot's job to failed and applies the failure policy.
func (e *Engine) fail(sErr *StageError) domain.Job {
	job, err := e.Manager.Fail(sErr.JobError())
	if err != nil {
		e.Logger.Error("fail transition rejected", "error", err)
		return e.Manager.Current()
	}
	name := filepath.Base(job.SourcePath)

	moved := ""
	if e.opts.FailPolicy == domain.SourcePolicyMove && e.opts.ArchiveDir != "" {
		moved = e.moveFailed(job)
	}

	e.record(job, "", sErr.Error())
	e.tally(job, name, "")
	e.project(job, sErr.Error())

	event := jobs.Event{
		JobID:     job.ID,
		Type:      jobs.EventTypeError,
		Stage:     sErr.Stage,
		Progress:  job.Progress,
		Filename:  name,
		Message:   sErr.Error(),
		ErrorKind: sErr.Kind,
	}
	var pErr *transcribe.PipelineError
	if errors.As(sErr, &pErr) {
		event.Command = pErr.CommandLog.Command
		event.Args = pErr.CommandLog.Args
		event.ExitCode = pErr.CommandLog.ExitCode
		event.Stderr = pErr.CommandLog.Stderr
	}
	e.Events.Publish(event)

	e.Logger.Error("job failed",
		"job_id", job.ID,
		"file", name,
		"stage", sErr.Stage,
		"kind", sErr.Kind,
		"error", sErr.Err,
		"moved_to", moved)
	e.Notifier.ShowResult(fmt.Sprintf("Failed: %s (%s at %s)", name, sErr.Kind, sErr.Stage.Label()))
	return job
}

// moveFailed archives a failed source under fail_{standard name}.
func (e *Engine) moveFailed(job domain.Job) string {
	lang := job.Language
	if lang == "" {
		lang = domain.LanguageUnknown
	}
	now := e.now()
	seq, err := e.Output.NextSeq(now, lang)
	if err != nil {
		e.Logger.Warn("allocate failure name failed", "error", err)
		return ""
	}
	moved, err := output.Archive(job.SourcePath, e.opts.ArchiveDir, output.BaseName(now, lang, seq), true)
	if err != nil {
		e.Logger.Warn("move failed source failed", "file", filepath.Base(job.SourcePath), "error", err)
		return ""
	}
	return moved
}

// record stores the terminal outcome in the processed registry.
func (e *Engine) record(job domain.Job, outputPath, reason string) {
	entry := registry.Entry{
		Path:    job.SourcePath,
		Outcome: job.Stage,
		JobID:   job.ID,
		Output:  outputPath,
	}
	if job.Stage != domain.StageCompleted {
		entry.Error = reason
	}
	if err := e.Registry.Record(entry); err != nil {
		e.Logger.Error("record processed source failed", "path", job.SourcePath, "error", err)
	}
}

// tally updates counters and history for a terminal job.
func (e *Engine) tally(job domain.Job, name, outputPath string) {
	entry := domain.HistoryEntry{
		Time:     e.now().UTC(),
		Filename: name,
		Result:   job.Stage,
		Language: job.Language,
		Elapsed:  domain.FormatElapsed(job.Elapsed),
		Output:   filepath.Base(outputPath),
	}
	if outputPath == "" {
		entry.Output = ""
	}
	if job.Error != nil {
		entry.Error = string(job.Error.Kind) + ": " + job.Error.Message
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch job.Stage {
	case domain.StageCompleted:
		e.stats.Completed++
	case domain.StageFailed:
		e.stats.Failed++
	case domain.StageSkipped:
		e.stats.Skipped++
	}
	e.history = lastN(append(e.history, entry), historySize)
}

// project writes the status record for job.
func (e *Engine) project(job domain.Job, detail string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := domain.StatusRecord{
		State:      job.Stage,
		StateLabel: job.Stage.Label(),
		JobID:      job.ID,
		Filename:   filepath.Base(job.SourcePath),
		Source:     job.SourcePath,
		Progress:   job.Progress,
		Elapsed:    domain.FormatElapsed(job.Elapsed),
		ElapsedSec: job.Elapsed.Seconds(),
		Language:   job.Language,
		Detail:     detail,
		Error:      job.Error,
		UpdatedAt:  e.now().UTC(),
		Queue:      append([]string{}, e.queue...),
		Stats:      e.stats,
		History:    append([]domain.HistoryEntry{}, e.history...),
	}
	if err := e.writeLocked(rec); err != nil {
		e.Logger.Error("write status failed", "job_id", job.ID, "stage", job.Stage, "error", err)
	}
}

func (e *Engine) writeLocked(rec domain.StatusRecord) error {
	if err := e.Status.Write(rec); err != nil {
		return err
	}
	e.last = rec
	return nil
}

func (e *Engine) publishStage(job domain.Job) {
	e.Events.Publish(jobs.Event{
		JobID:    job.ID,
		Type:     jobs.EventTypeStage,
		Stage:    job.Stage,
		Progress: job.Progress,
		Filename: filepath.Base(job.SourcePath),
		Message:  job.Stage.Label(),
	})
}

func (e *Engine) release(path string) {
	if e.Releaser != nil {
		e.Releaser.Release(path)
	}
}

func lastN(entries []domain.HistoryEntry, n int) []domain.HistoryEntry {
	if len(entries) <= n {
		return entries
	}
	return append([]domain.HistoryEntry(nil), entries[len(entries)-n:]...)
}
