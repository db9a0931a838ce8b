package job

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

var happyPath = []Status{
	StatusInputsValidated,
	StatusInputsStaged,
	StatusSynthesisInFlight,
	StatusSynthesisDone,
	StatusCombining,
	StatusCompleted,
}

// TestJobLifecycle verifies normal progression and cleanup on completion.
func TestJobLifecycle(t *testing.T) {
	j, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if j.Status() != StatusReceived {
		t.Fatalf("status = %s, want received", j.Status())
	}
	if _, err := os.Stat(j.Dir); err != nil {
		t.Fatalf("job dir missing: %v", err)
	}

	for _, status := range happyPath {
		if err := j.Transition(status); err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
	}

	if _, err := os.Stat(j.Dir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected job dir removed, stat err = %v", err)
	}
}

// TestJobRejectsInvalidTransition checks state machine constraints.
func TestJobRejectsInvalidTransition(t *testing.T) {
	j, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer j.Cleanup()

	if err := j.Transition(StatusCombining); err == nil {
		t.Fatal("expected invalid transition error")
	}
	if j.Status() != StatusReceived {
		t.Fatalf("status = %s, want received", j.Status())
	}
}

// TestJobFailFromEveryState checks error is reachable from all non-terminal states.
func TestJobFailFromEveryState(t *testing.T) {
	for i := 0; i < len(happyPath); i++ {
		j, err := New(t.TempDir())
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		for _, status := range happyPath[:i] {
			if err := j.Transition(status); err != nil {
				t.Fatalf("transition to %s: %v", status, err)
			}
		}
		from := j.Status()

		if err := j.Fail("synthesis", "boom"); err != nil {
			t.Fatalf("Fail() from %s: %v", from, err)
		}
		if j.Status() != StatusError {
			t.Fatalf("status after fail from %s = %s", from, j.Status())
		}
		if _, err := os.Stat(j.Dir); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("dir not removed after fail from %s", from)
		}
	}
}

// TestJobFailAfterCompletedIsNoop checks terminal states are final.
func TestJobFailAfterCompletedIsNoop(t *testing.T) {
	j, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, status := range happyPath {
		if err := j.Transition(status); err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
	}
	if err := j.Fail("delivery", "late"); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if j.Status() != StatusCompleted {
		t.Fatalf("status = %s, want completed", j.Status())
	}
}

// TestJobsGetDistinctDirectories checks per-job filesystem isolation.
func TestJobsGetDistinctDirectories(t *testing.T) {
	root := t.TempDir()
	a, err := New(root)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	b, err := New(root)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Cleanup()
	defer b.Cleanup()

	if a.ID == b.ID || a.Dir == b.Dir {
		t.Fatalf("jobs share identity: %s %s", a.Dir, b.Dir)
	}
	if a.Path("video.mp4") == b.Path("video.mp4") {
		t.Fatal("same file name resolved to same path for two jobs")
	}
}

// TestJobPathStaysInsideDirectory checks traversal components are dropped.
func TestJobPathStaysInsideDirectory(t *testing.T) {
	j, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer j.Cleanup()

	got := j.Path("../../etc/passwd")
	if filepath.Dir(got) != j.Dir {
		t.Fatalf("path %q escapes %q", got, j.Dir)
	}
}

// TestJobCleanupIdempotent checks repeated cleanup and removal errors.
func TestJobCleanupIdempotent(t *testing.T) {
	calls := 0
	j, err := New(t.TempDir(), WithRemoveAll(func(path string) error {
		calls++
		return os.RemoveAll(path)
	}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := j.Cleanup(); err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("removeAll calls = %d, want 1", calls)
	}
}

// TestJobObserverReceivesTransitions checks events carry job identity.
func TestJobObserverReceivesTransitions(t *testing.T) {
	bus := NewEventBus(10)
	j, err := New(t.TempDir(), WithObserver(func(e Event) { bus.Publish(e) }))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := j.Transition(StatusInputsValidated); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := j.Fail("intake", "bad"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	events := bus.Since(0)
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	last := events[2]
	if last.JobID != j.ID || last.Type != EventTypeError || last.Stage != "intake" {
		t.Fatalf("unexpected last event: %+v", last)
	}
}
