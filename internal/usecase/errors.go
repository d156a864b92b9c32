package usecase

import (
	"errors"
	"fmt"

	"murmur/internal/domain"
)

var (
	ErrProcessingInProgress = errors.New("processing already in progress")
	ErrRecordingInProgress  = errors.New("recording in progress")
	ErrMicrophoneDenied     = errors.New("microphone access is not granted")
	ErrNoSpeech             = errors.New("no speech detected")
)

// Stage names the pipeline step a failure came from.
type Stage string

const (
	StageTranscription Stage = "transcription"
	StageTranslation   Stage = "translation"
	StageInsertion     Stage = "insertion"
	StagePersistence   Stage = "persistence"
)

// StageError is a stage-aware pipeline failure.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func stageFailure(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// failureMessage is the user-facing text kept with a failed recording.
func failureMessage(err error) string {
	var stageErr *StageError
	if errors.As(err, &stageErr) && stageErr.Err != nil {
		return stageErr.Err.Error()
	}
	return err.Error()
}

func errorCodeFor(err error) domain.ErrorCode {
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		return domain.ErrorCodeTranscription
	}
	switch stageErr.Stage {
	case StageTranslation:
		return domain.ErrorCodeTranslation
	case StageInsertion:
		return domain.ErrorCodeInsertion
	case StagePersistence:
		return domain.ErrorCodePersistence
	default:
		return domain.ErrorCodeTranscription
	}
}

func stageOf(err error) Stage {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return StageTranscription
}
