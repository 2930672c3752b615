// Package ncdump reads output arrays by running the netCDF ncdump utility
// and parsing its CDL text.
package ncdump

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/siterun/pkg/process"
	"github.com/3leaps/siterun/pkg/runconfig"
	"github.com/3leaps/siterun/pkg/source"
)

// DefaultCommand is the utility looked up on PATH.
const DefaultCommand = "ncdump"

// DefaultTimeout bounds a single ncdump invocation.
const DefaultTimeout = 2 * time.Minute

// Config configures a Source.
type Config struct {
	// Root is the directory holding {site}.{d|a}.{variable}.nc files.
	Root string

	// Command overrides the ncdump executable.
	Command string

	// Timeout bounds one invocation. Default: DefaultTimeout.
	Timeout time.Duration

	Runner process.Runner
	Logger *zap.Logger
}

// Source is a source.ArraySource backed by ncdump.
type Source struct {
	cfg Config
}

// New returns a Source with defaults applied.
func New(cfg Config) *Source {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Runner == nil {
		cfg.Runner = process.NewExecRunner(cfg.Logger)
	}
	return &Source{cfg: cfg}
}

// Read implements source.ArraySource.
func (s *Source) Read(ctx context.Context, site, variable string, res runconfig.Resolution) (*source.Array, error) {
	path := filepath.Join(s.cfg.Root, source.FileName(site, variable, res))

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, &source.NotFoundError{Path: path}
		}
		return nil, &source.ReadError{Path: path, Variable: variable, Err: err}
	}

	result, err := s.cfg.Runner.Run(ctx, process.Spec{
		Path:    s.cfg.Command,
		Args:    []string{"-v", "time," + variable, path},
		Timeout: s.cfg.Timeout,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &source.ReadError{Path: path, Variable: variable, Err: err}
	}
	if !result.Success() {
		stderr := strings.TrimSpace(result.Stderr)
		if isMissingVariable(stderr) {
			return nil, &source.NotFoundError{Path: path, Variable: variable}
		}
		if result.TimedOut {
			return nil, &source.ReadError{Path: path, Variable: variable, Err: errors.New("ncdump timed out")}
		}
		return nil, &source.ReadError{
			Path:     path,
			Variable: variable,
			Err:      fmt.Errorf("ncdump exited %d: %s", result.ExitCode, stderr),
		}
	}

	arr, err := Parse(result.Stdout, variable)
	if err != nil {
		if errors.Is(err, errVariableAbsent) {
			return nil, &source.NotFoundError{Path: path, Variable: variable}
		}
		return nil, &source.ReadError{Path: path, Variable: variable, Err: err}
	}

	s.cfg.Logger.Debug("Read array",
		zap.String("path", path),
		zap.String("variable", variable),
		zap.Int("steps", len(arr.Time)),
	)
	return arr, nil
}

func isMissingVariable(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "no such variable") || strings.Contains(s, "variable not found")
}
