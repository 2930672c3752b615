package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/siterun/pkg/process"
	"github.com/3leaps/siterun/pkg/runconfig"
)

// Builder compiles the simulation executable inside dir.
type Builder interface {
	Build(ctx context.Context, dir, model string) error
}

// MakeBuilder runs "make <model>".
type MakeBuilder struct {
	Command string
	Runner  process.Runner

	// LogDir receives build.stdout.log and build.stderr.log when set.
	LogDir string
}

// Build implements Builder.
func (b *MakeBuilder) Build(ctx context.Context, dir, model string) error {
	cmd := b.Command
	if cmd == "" {
		cmd = "make"
	}
	spec := process.Spec{Path: cmd, Args: []string{model}, Dir: dir}
	if b.LogDir != "" {
		spec.StdoutLog = filepath.Join(b.LogDir, "build.stdout.log")
		spec.StderrLog = filepath.Join(b.LogDir, "build.stderr.log")
	}
	res, err := b.Runner.Run(ctx, spec)
	if err != nil {
		return err
	}
	if !res.Success() {
		return fmt.Errorf("%s %s exited %d: %s", cmd, model, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// EnsureExecutable returns the absolute path of the simulation binary,
// building or fetching it as configured.
func (d *Dispatcher) EnsureExecutable(ctx context.Context, rc *runconfig.RunConfiguration) (string, error) {
	if rc.Implementation != runconfig.ImplementationFortran {
		return "", fmt.Errorf("%w: %q", runconfig.ErrUnsupportedImplementation, rc.Implementation)
	}

	dir, err := filepath.Abs(rc.SimulationDir)
	if err != nil {
		return "", fmt.Errorf("resolve simulation dir: %w", err)
	}
	exe := filepath.Join(dir, rc.ExecutableName())
	logger := d.cfg.Logger.With(zap.String("executable", exe))

	if rc.DoCompile {
		if d.cfg.Builder == nil {
			return "", &ExecutableError{Op: "build", Path: exe, Err: fmt.Errorf("no builder configured")}
		}
		logger.Info("Building simulation executable", zap.String("model", rc.Model))
		if err := d.cfg.Builder.Build(ctx, dir, rc.Model); err != nil {
			return "", &ExecutableError{Op: "build", Path: exe, Err: err}
		}
	}

	if isExecutable(exe) {
		return exe, nil
	}

	if rc.PrebuiltDir != "" {
		src := filepath.Join(rc.PrebuiltDir, rc.ExecutableName())
		logger.Info("Fetching prebuilt executable", zap.String("source", src))
		if err := copyExecutable(src, exe); err != nil {
			logger.Warn("Prebuilt executable not fetched", zap.Error(err))
		}
		if isExecutable(exe) {
			return exe, nil
		}
	}

	return "", &ExecutableError{Op: "locate", Path: exe}
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}

// copyExecutable copies src to dst with mode 0755 via a temp file.
func copyExecutable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".siterun-exe-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		return err
	}
	if err := tmp.Chmod(0o755); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}
