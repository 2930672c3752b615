// Package process runs a single external program invocation and captures
// its completion status.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrStartFailed indicates the program could not be started at all.
var ErrStartFailed = errors.New("process start failed")

// Spec describes one invocation.
type Spec struct {
	// Path is the program to execute.
	Path string

	// Args are passed after the program name.
	Args []string

	// Dir is the working directory of the child. The parent's working
	// directory is never changed.
	Dir string

	// Stdin is written to the child's standard input.
	Stdin string

	// Env is appended to the parent environment.
	Env []string

	// Timeout bounds the invocation. Zero means no limit beyond ctx.
	Timeout time.Duration

	// StdoutLog and StderrLog, when set, receive a copy of the streams.
	StdoutLog string
	StderrLog string
}

// Result is the completion status of one invocation.
type Result struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	StartedAt time.Time
	Duration  time.Duration
	TimedOut  bool
}

// Success reports a zero exit status without timeout.
func (r *Result) Success() bool {
	return r != nil && !r.TimedOut && r.ExitCode == 0
}

// StartError wraps a failure to launch the program.
type StartError struct {
	Path string
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Path, e.Err)
}

func (e *StartError) Unwrap() []error {
	return []error{ErrStartFailed, e.Err}
}

// Runner runs invocations.
type Runner interface {
	Run(ctx context.Context, spec Spec) (*Result, error)
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct {
	Logger *zap.Logger
}

// NewExecRunner returns a runner that logs to logger (nil for no logging).
func NewExecRunner(logger *zap.Logger) *ExecRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecRunner{Logger: logger}
}

// Run executes spec and waits for it to finish.
//
// A non-zero exit status and a timeout are reported through Result, not as
// errors. Errors are returned only when the program cannot be started or
// when ctx itself is cancelled.
func (r *ExecRunner) Run(ctx context.Context, spec Spec) (*Result, error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	stdoutW, closeOut, err := teeTo(&stdout, spec.StdoutLog)
	if err != nil {
		return nil, err
	}
	defer closeOut()
	stderrW, closeErr, err := teeTo(&stderr, spec.StderrLog)
	if err != nil {
		return nil, err
	}
	defer closeErr()

	cmd := exec.CommandContext(runCtx, spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Stdin = strings.NewReader(spec.Stdin)
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.WaitDelay = 5 * time.Second

	res := &Result{StartedAt: time.Now().UTC()}
	logger.Debug("Starting process",
		zap.String("path", spec.Path),
		zap.Strings("args", spec.Args),
		zap.String("dir", spec.Dir),
	)

	if err := cmd.Start(); err != nil {
		return nil, &StartError{Path: spec.Path, Err: err}
	}
	waitErr := cmd.Wait()
	res.Duration = time.Since(res.StartedAt)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	switch {
	case waitErr == nil:
		res.ExitCode = 0
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		res.ExitCode = -1
	default:
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("wait %s: %w", spec.Path, waitErr)
		}
		res.ExitCode = exitErr.ExitCode()
	}

	logger.Debug("Process finished",
		zap.String("path", spec.Path),
		zap.Int("exit_code", res.ExitCode),
		zap.Bool("timed_out", res.TimedOut),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func teeTo(buf *bytes.Buffer, path string) (io.Writer, func(), error) {
	if path == "" {
		return buf, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create log file: %w", err)
	}
	return io.MultiWriter(buf, f), func() { _ = f.Close() }, nil
}
