package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// Error is a failed media tool operation. Message is safe to show callers;
// Log holds the tool output for server logs.
type Error struct {
	Op      string     `json:"op"`
	Message string     `json:"message"`
	Log     CommandLog `json:"commandLog"`
	Err     error      `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Log.Command == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %s (cmd=%s exit=%d)", e.Op, e.Message, e.Log.Command, e.Log.ExitCode)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return result, err
	}

	return result, nil
}

// RunnerFunc adapts a function into a command runner. Tests use it to
// simulate ffmpeg and ffprobe.
type RunnerFunc func(ctx context.Context, name string, args ...string) (stdout string, exitCode int, err error)

type funcRunner struct {
	fn RunnerFunc
}

func (f funcRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	stdout, code, err := f.fn(ctx, name, args...)
	return commandResult{Stdout: stdout, ExitCode: code}, err
}
