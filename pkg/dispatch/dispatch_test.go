package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/3leaps/siterun/pkg/runconfig"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const okScript = `#!/bin/sh
read id
echo "simulating $id"
pwd > "ran.$id"
`

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
}

func simConfig(t *testing.T, sites ...string) *runconfig.RunConfiguration {
	t.Helper()
	rc := &runconfig.RunConfiguration{
		Model:         "pmodel",
		Ensemble:      true,
		SiteNames:     sites,
		SimulationDir: t.TempDir(),
	}
	rc.ApplyDefaults()
	require.NoError(t, rc.Validate())
	return rc
}

func installExe(t *testing.T, rc *runconfig.RunConfiguration, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(rc.SimulationDir, rc.ExecutableName()), []byte(body), 0o755))
}

func TestRun_EnsembleInvokesEverySiteOnce(t *testing.T) {
	skipOnWindows(t)
	rc := simConfig(t, "FR-Pue", "CH-Lae", "US-Ha1")
	installExe(t, rc, okScript)
	logDir := t.TempDir()

	cwdBefore, err := os.Getwd()
	require.NoError(t, err)

	sum, err := New(Config{Workers: 2, LogDir: logDir}).Run(context.Background(), rc)
	require.NoError(t, err)

	cwdAfter, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, cwdBefore, cwdAfter)

	require.Len(t, sum.Runs, 3)
	assert.Empty(t, sum.Failed())
	for i, site := range rc.SiteNames {
		assert.Equal(t, site, sum.Runs[i].ID)
		assert.Equal(t, "simulating "+site+"\n", sum.Runs[i].Result.Stdout)
		assert.FileExists(t, filepath.Join(rc.SimulationDir, "ran."+site))
		assert.FileExists(t, filepath.Join(logDir, site+".run.stdout.log"))
	}
}

func TestRun_NonZeroExitIsRecorded(t *testing.T) {
	skipOnWindows(t)
	rc := simConfig(t, "FR-Pue", "CH-Lae")
	installExe(t, rc, `#!/bin/sh
read id
[ "$id" = "CH-Lae" ] && { echo "bad forcing" 1>&2; exit 4; }
exit 0
`)

	sum, err := New(Config{}).Run(context.Background(), rc)
	require.NoError(t, err)

	failed := sum.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "CH-Lae", failed[0].ID)
	assert.Equal(t, 4, failed[0].Result.ExitCode)
	assert.Equal(t, "exit code 4", failed[0].Reason())
	assert.Contains(t, failed[0].StderrTail(64), "bad forcing")
	assert.True(t, sum.Runs[0].Result.Success())
	assert.Empty(t, sum.Runs[0].Reason())
}

func TestRun_TimeoutIsRecorded(t *testing.T) {
	skipOnWindows(t)
	rc := simConfig(t, "FR-Pue")
	installExe(t, rc, "#!/bin/sh\nexec sleep 10\n")

	sum, err := New(Config{Timeout: 100 * time.Millisecond}).Run(context.Background(), rc)
	require.NoError(t, err)
	require.Len(t, sum.Runs, 1)
	assert.True(t, sum.Runs[0].Result.TimedOut)
	assert.True(t, sum.Runs[0].Failed())
	assert.Equal(t, "timed out", sum.Runs[0].Reason())
}

func TestRun_SingleNamedRun(t *testing.T) {
	skipOnWindows(t)
	rc := simConfig(t, "a", "b")
	rc.Ensemble = false
	rc.RunName = "global"
	installExe(t, rc, okScript)

	sum, err := New(Config{}).Run(context.Background(), rc)
	require.NoError(t, err)
	require.Len(t, sum.Runs, 1)
	assert.Equal(t, "global", sum.Runs[0].ID)
	assert.FileExists(t, filepath.Join(rc.SimulationDir, "ran.global"))
}

func TestRun_ExecutableUnavailable(t *testing.T) {
	rc := simConfig(t, "FR-Pue")
	rc.PrebuiltDir = t.TempDir()

	sum, err := New(Config{}).Run(context.Background(), rc)
	assert.Nil(t, sum)
	assert.ErrorIs(t, err, ErrExecutableUnavailable)
	assert.True(t, IsExecutableUnavailable(err))
}

func TestRun_UnsupportedImplementation(t *testing.T) {
	rc := simConfig(t, "FR-Pue")
	rc.Implementation = "python"

	_, err := New(Config{}).Run(context.Background(), rc)
	assert.ErrorIs(t, err, runconfig.ErrUnsupportedImplementation)
}

func TestEnsureExecutable_CopiesPrebuilt(t *testing.T) {
	skipOnWindows(t)
	rc := simConfig(t, "FR-Pue")
	rc.PrebuiltDir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(rc.PrebuiltDir, "runpmodel"), []byte(okScript), 0o644))

	exe, err := New(Config{}).EnsureExecutable(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(rc.SimulationDir, "runpmodel"), exe)

	info, err := os.Stat(exe)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

type fakeBuilder struct {
	calls int
	body  string
}

func (b *fakeBuilder) Build(_ context.Context, dir, model string) error {
	b.calls++
	if b.body == "" {
		return nil
	}
	return os.WriteFile(filepath.Join(dir, "run"+model), []byte(b.body), 0o755)
}

func TestEnsureExecutable_CompilesWhenRequested(t *testing.T) {
	skipOnWindows(t)
	rc := simConfig(t, "FR-Pue")
	rc.DoCompile = true

	b := &fakeBuilder{body: okScript}
	exe, err := New(Config{Builder: b}).EnsureExecutable(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, 1, b.calls)
	assert.FileExists(t, exe)
}

func TestEnsureExecutable_BuildProducesNothing(t *testing.T) {
	rc := simConfig(t, "FR-Pue")
	rc.DoCompile = true

	_, err := New(Config{Builder: &fakeBuilder{}}).EnsureExecutable(context.Background(), rc)
	assert.ErrorIs(t, err, ErrExecutableUnavailable)
}

func TestMakeBuilder(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	makeCmd := filepath.Join(t.TempDir(), "make")
	require.NoError(t, os.WriteFile(makeCmd, []byte(`#!/bin/sh
printf '#!/bin/sh\nexit 0\n' > "run$1"
chmod +x "run$1"
`), 0o755))

	rc := simConfig(t, "FR-Pue")
	rc.SimulationDir = dir
	rc.DoCompile = true

	d := New(Config{})
	d.cfg.Builder = &MakeBuilder{Command: makeCmd, Runner: d.cfg.Runner}
	exe, err := d.EnsureExecutable(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "runpmodel"), exe)
}

func TestRun_RateLimited(t *testing.T) {
	skipOnWindows(t)
	rc := simConfig(t, "a", "b", "c")
	installExe(t, rc, okScript)

	start := time.Now()
	sum, err := New(Config{Workers: 3, RateLimit: 20}).Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Len(t, sum.Runs, 3)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestRun_CancelledContext(t *testing.T) {
	skipOnWindows(t)
	rc := simConfig(t, "FR-Pue")
	installExe(t, rc, okScript)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{}).Run(ctx, rc)
	assert.ErrorIs(t, err, context.Canceled)
}
