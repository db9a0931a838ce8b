package job

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Status is one state of the per-request job lifecycle.
type Status string

const (
	StatusReceived          Status = "received"
	StatusInputsValidated   Status = "inputs_validated"
	StatusInputsStaged      Status = "inputs_staged"
	StatusSynthesisInFlight Status = "synthesis_in_flight"
	StatusSynthesisDone     Status = "synthesis_done"
	StatusCombining         Status = "combining"
	StatusCompleted         Status = "completed"
	StatusError             Status = "error"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Job owns one request's temporary directory and lifecycle state.
type Job struct {
	ID  string
	Dir string

	mu        sync.Mutex
	status    Status
	cleaned   bool
	removeAll func(string) error
	observer  func(Event)
}

// Option configures a new job.
type Option func(*Job)

// WithObserver registers a callback invoked on every transition.
func WithObserver(fn func(Event)) Option {
	return func(j *Job) { j.observer = fn }
}

// WithRemoveAll overrides directory removal, used by tests.
func WithRemoveAll(fn func(string) error) Option {
	return func(j *Job) { j.removeAll = fn }
}

// New creates a job with a fresh id and a private directory under root.
func New(root string, opts ...Option) (*Job, error) {
	id := uuid.NewString()
	dir, err := os.MkdirTemp(root, "reel-"+id+"-")
	if err != nil {
		return nil, fmt.Errorf("create job directory: %w", err)
	}

	j := &Job{
		ID:        id,
		Dir:       dir,
		status:    StatusReceived,
		removeAll: os.RemoveAll,
	}
	for _, opt := range opts {
		opt(j)
	}
	j.emit(Event{Type: EventTypeStatus, Status: StatusReceived})
	return j, nil
}

// Path returns the location of a job-owned file. Only the base name of
// name is used so callers cannot escape the job directory.
func (j *Job) Path(name string) string {
	return filepath.Join(j.Dir, filepath.Base(name))
}

// Status returns the current state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Transition moves the job to the next state. Entering a terminal state
// removes the job directory.
func (j *Job) Transition(to Status) error {
	j.mu.Lock()
	from := j.status
	if !isValidTransition(from, to) {
		j.mu.Unlock()
		return fmt.Errorf("invalid transition: %s -> %s", from, to)
	}
	j.status = to
	j.mu.Unlock()

	j.emit(Event{Type: EventTypeStatus, Status: to})
	if to.Terminal() {
		return j.Cleanup()
	}
	return nil
}

// Fail moves a non-terminal job to the error state and cleans up. It is a
// no-op for jobs that already finished.
func (j *Job) Fail(stage, message string) error {
	j.mu.Lock()
	if j.status.Terminal() {
		j.mu.Unlock()
		return nil
	}
	j.status = StatusError
	j.mu.Unlock()

	j.emit(Event{Type: EventTypeError, Status: StatusError, Stage: stage, Message: message})
	return j.Cleanup()
}

// Cleanup removes the job directory. Safe to call more than once.
func (j *Job) Cleanup() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cleaned {
		return nil
	}
	if err := j.removeAll(j.Dir); err != nil {
		return fmt.Errorf("remove job directory: %w", err)
	}
	j.cleaned = true
	return nil
}

func (j *Job) emit(e Event) {
	if j.observer == nil {
		return
	}
	e.JobID = j.ID
	j.observer(e)
}

// isValidTransition enforces the job state machine edges.
func isValidTransition(from, to Status) bool {
	if to == StatusError {
		return !from.Terminal()
	}
	switch from {
	case StatusReceived:
		return to == StatusInputsValidated
	case StatusInputsValidated:
		return to == StatusInputsStaged
	case StatusInputsStaged:
		return to == StatusSynthesisInFlight
	case StatusSynthesisInFlight:
		return to == StatusSynthesisDone
	case StatusSynthesisDone:
		return to == StatusCombining
	case StatusCombining:
		return to == StatusCompleted
	default:
		return false
	}
}
