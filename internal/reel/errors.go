package reel

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the caller.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindUpstream      Kind = "upstream"
	KindProcessing    Kind = "processing"
	KindConfiguration Kind = "configuration"
)

// Stage names the pipeline step a failure happened in.
type Stage string

const (
	StageIntake      Stage = "intake"
	StageSynthesis   Stage = "synthesis"
	StageCombination Stage = "combination"
	StageDelivery    Stage = "delivery"
)

var (
	// ErrTooLarge is wrapped by validation errors for uploads over the size limit.
	ErrTooLarge = errors.New("upload exceeds size limit")

	// ErrEmptyUpload is wrapped by validation errors for zero-byte uploads.
	ErrEmptyUpload = errors.New("upload is empty")
)

// Error is a pipeline failure. Message is safe to show to clients; Err
// carries the internal cause for logs.
type Error struct {
	Kind    Kind
	Stage   Stage
	Message string
	JobID   string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error at %s: %s: %v", e.Kind, e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error at %s: %s", e.Kind, e.Stage, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts *Error from an error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func validationError(msg string, err error) *Error {
	return &Error{Kind: KindValidation, Stage: StageIntake, Message: msg, Err: err}
}

func processingError(stage Stage, msg string, err error) *Error {
	return &Error{Kind: KindProcessing, Stage: stage, Message: msg, Err: err}
}
