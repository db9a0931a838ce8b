// Package media wraps the ffmpeg and ffprobe command-line tools. It only
// builds arguments, runs the tools under a deadline and turns failures into
// typed errors; all decoding and muxing happens in the external tools.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// DefaultTimeout bounds a single tool invocation.
const DefaultTimeout = 2 * time.Minute

// Processor runs media operations through external tools.
type Processor struct {
	ffmpegPath  string
	ffprobePath string
	timeout     time.Duration
	runner      commandRunner
	stat        func(name string) (os.FileInfo, error)
}

// Option configures a Processor.
type Option func(*Processor)

// WithBinaries overrides the ffmpeg and ffprobe executables.
func WithBinaries(ffmpegPath, ffprobePath string) Option {
	return func(p *Processor) {
		if ffmpegPath != "" {
			p.ffmpegPath = ffmpegPath
		}
		if ffprobePath != "" {
			p.ffprobePath = ffprobePath
		}
	}
}

// WithTimeout sets the per-invocation deadline.
func WithTimeout(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithRunner replaces process execution.
func WithRunner(fn RunnerFunc) Option {
	return func(p *Processor) {
		p.runner = funcRunner{fn: fn}
	}
}

// NewProcessor constructs a processor using ffmpeg/ffprobe from PATH.
func NewProcessor(opts ...Option) *Processor {
	p := &Processor{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		timeout:     DefaultTimeout,
		runner:      &execRunner{},
		stat:        os.Stat,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// run executes one tool invocation under the processor deadline. When
// output is set, the file must exist and be non-empty afterwards.
func (p *Processor) run(ctx context.Context, op, name string, args []string, output string) (CommandLog, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, runErr := p.runner.Run(ctx, name, args...)
	log := CommandLog{
		Command:  name,
		Args:     args,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}

	if runErr != nil {
		msg := fmt.Sprintf("%s failed", name)
		if errors.Is(runErr, context.DeadlineExceeded) {
			msg = fmt.Sprintf("%s timed out after %s", name, p.timeout)
		} else if errors.Is(runErr, context.Canceled) {
			msg = fmt.Sprintf("%s was cancelled", name)
		}
		return log, &Error{Op: op, Message: msg, Log: log, Err: runErr}
	}

	if output != "" {
		info, err := p.stat(output)
		if err != nil {
			return log, &Error{Op: op, Message: fmt.Sprintf("%s completed but output file is missing", name), Log: log, Err: err}
		}
		if info.Size() == 0 {
			return log, &Error{Op: op, Message: fmt.Sprintf("%s produced an empty output file", name), Log: log}
		}
	}

	return log, nil
}
