package pipeline

import (
	"context"
	"errors"
	"fmt"

	"auto-transcriber/internal/domain"
	"auto-transcriber/internal/transcribe"
)

// StageError is the failure that ended a job, tagged with its kind and stage.
type StageError struct {
	Kind  domain.ErrorKind
	Stage domain.Stage
	Err   error
}

// Error formats the failure for logs and the status record.
func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s failed (%s): %v", e.Stage.Label(), e.Kind, e.Err)
}

// Unwrap exposes the collaborator error.
func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// JobError converts the failure to the record attached to a failed job.
func (e *StageError) JobError() domain.JobError {
	msg := e.Err.Error()
	var pErr *transcribe.PipelineError
	if errors.As(e.Err, &pErr) && pErr.Message != "" {
		msg = pErr.Message
	}
	return domain.JobError{Kind: e.Kind, Message: msg}
}

// classify wraps err from stage into a StageError with a resolved kind.
func classify(stage domain.Stage, err error) *StageError {
	var sErr *StageError
	if errors.As(err, &sErr) {
		return sErr
	}

	kind := fallbackKind(stage)
	var pErr *transcribe.PipelineError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = domain.ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		kind = domain.ErrorKindInterrupted
	case errors.As(err, &pErr) && pErr.Kind != "":
		kind = pErr.Kind
	}
	return &StageError{Kind: kind, Stage: stage, Err: err}
}

func fallbackKind(stage domain.Stage) domain.ErrorKind {
	switch stage {
	case domain.StageExtracting:
		return domain.ErrorKindExtractionFailure
	case domain.StageSaving:
		return domain.ErrorKindWriteFailure
	default:
		return domain.ErrorKindEngineFailure
	}
}
