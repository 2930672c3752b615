package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/siterun/internal/config"
	"github.com/3leaps/siterun/pkg/output"
	"github.com/3leaps/siterun/pkg/tablestore"
)

const simScript = `#!/bin/sh
read id
[ "$id" = "CH-Lae" ] && { echo "forcing missing" >&2; exit 9; }
mkdir -p output_nc
cat > "output_nc/$id.2001.d.gpp.nc" <<CDL
` + yearlyCDL + `CDL
`

const yearlyCDL = `netcdf x {
variables:
	double time(time) ;
		time:units = "days since 2001-1-1" ;
	float gpp(time) ;
data:
 time = 0, 1, 2 ;
 gpp = 1, 2, 3 ;
}
`

const cdoScript = `#!/bin/sh
shift 2
last=""
out=""
for a in "$@"; do last="$out"; out="$a"; done
cp "$last" "$out"
`

type fixture struct {
	dir     string
	sim     string
	job     string
	cfgFile string
	store   string
}

func writeExe(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
}

// newFixture lays out a simulation directory, fake cdo and ncdump tools,
// an application config and a two-site job.
func newFixture(t *testing.T, withSim bool) *fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	dir := t.TempDir()
	t.Chdir(dir)

	f := &fixture{
		dir:     dir,
		sim:     filepath.Join(dir, "sim"),
		job:     filepath.Join(dir, "job.yaml"),
		cfgFile: filepath.Join(dir, "siterun.yaml"),
		store:   filepath.Join(dir, "results.db"),
	}
	tools := filepath.Join(dir, "tools")
	require.NoError(t, os.MkdirAll(f.sim, 0o755))
	require.NoError(t, os.MkdirAll(tools, 0o755))
	if withSim {
		writeExe(t, filepath.Join(f.sim, "runpmodel"), simScript)
	}
	writeExe(t, filepath.Join(tools, "cdo"), cdoScript)
	writeExe(t, filepath.Join(tools, "ncdump"), "#!/bin/sh\ncat \"$3\"\n")

	appCfg := fmt.Sprintf(`run:
  workers: 2
  log_dir: %s
source:
  command: %s
consolidate:
  command: %s
store:
  path: %s
`, filepath.Join(dir, "logs"), filepath.Join(tools, "ncdump"), filepath.Join(tools, "cdo"), f.store)
	require.NoError(t, os.WriteFile(f.cfgFile, []byte(appCfg), 0o644))

	job := fmt.Sprintf(`model: pmodel
ensemble: true
sitenames: [FR-Pue, CH-Lae]
dir_simulation: %s
loutdgpp: true
`, f.sim)
	require.NoError(t, os.WriteFile(f.job, []byte(job), 0o644))
	return f
}

func resetFlags(c *cobra.Command) {
	reset := func(fs *pflag.FlagSet) {
		fs.VisitAll(func(fl *pflag.Flag) {
			if sv, ok := fl.Value.(pflag.SliceValue); ok {
				_ = sv.Replace(nil)
			} else {
				_ = fl.Value.Set(fl.DefValue)
			}
			fl.Changed = false
		})
	}
	reset(c.Flags())
	reset(c.PersistentFlags())
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Cleanup(func() {
		resetFlags(rootCmd)
		config.SetConfigFile("")
	})

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func readRecords(t *testing.T, path string) []output.Record {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []output.Record
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	for sc.Scan() {
		var r output.Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r), sc.Text())
		out = append(out, r)
	}
	require.NoError(t, sc.Err())
	return out
}

func ofType[T any](t *testing.T, recs []output.Record, typ string) []T {
	t.Helper()
	var out []T
	for _, r := range recs {
		if r.Type != typ {
			continue
		}
		var v T
		require.NoError(t, json.Unmarshal(r.Data, &v))
		out = append(out, v)
	}
	return out
}

func TestRun_EndToEnd(t *testing.T) {
	f := newFixture(t, true)
	out := filepath.Join(f.dir, "out.jsonl")
	exportDir := filepath.Join(f.dir, "csv")

	cwd, err := os.Getwd()
	require.NoError(t, err)

	_, err = execute(t, "run", "--config", f.cfgFile, "--job", f.job,
		"--output", out, "--store", "--export", exportDir)
	require.NoError(t, err)

	after, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, cwd, after, "working directory must not change")

	recs := readRecords(t, out)
	require.NotEmpty(t, recs)
	batchID := recs[0].BatchID
	for _, r := range recs {
		assert.Equal(t, batchID, r.BatchID)
		assert.Equal(t, "pmodel", r.Model)
	}

	runs := ofType[output.RunRecord](t, recs, output.TypeRun)
	require.Len(t, runs, 2)
	assert.Equal(t, "FR-Pue", runs[0].Site)
	assert.Equal(t, 0, runs[0].ExitCode)
	assert.Equal(t, "CH-Lae", runs[1].Site)
	assert.Equal(t, 9, runs[1].ExitCode)
	assert.Contains(t, runs[1].StderrTail, "forcing missing")

	series := ofType[output.SeriesRecord](t, recs, output.TypeSeries)
	require.Len(t, series, 1)
	assert.Equal(t, "FR-Pue", series[0].Site)
	assert.Equal(t, []string{"gpp"}, series[0].Columns)
	require.Len(t, series[0].Rows, 3)
	assert.Equal(t, "2001-01-03", series[0].Rows[2].Date)

	advisories := ofType[output.AdvisoryRecord](t, recs, output.TypeAdvisory)
	var codes []string
	for _, a := range advisories {
		codes = append(codes, a.Code)
	}
	assert.Contains(t, codes, output.AdvisoryRunFailed)

	summaries := ofType[output.SummaryRecord](t, recs, output.TypeSummary)
	require.Len(t, summaries, 1)
	assert.Equal(t, 2, summaries[0].SitesRequested)
	assert.Equal(t, 1, summaries[0].SitesAvailable)
	assert.Equal(t, []string{"CH-Lae"}, summaries[0].Unavailable)
	assert.Equal(t, 1, summaries[0].RunsFailed)
	assert.Equal(t, output.TypeSummary, recs[len(recs)-1].Type)

	csv, err := os.ReadFile(filepath.Join(exportDir, batchID, "FR-Pue.d.csv"))
	require.NoError(t, err)
	assert.Equal(t, "date,gpp\n2001-01-01,1\n2001-01-02,2\n2001-01-03,3\n", string(csv))

	ctx := context.Background()
	db, err := tablestore.Open(ctx, tablestore.Config{Path: f.store})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	b, err := tablestore.GetBatch(ctx, db, batchID)
	require.NoError(t, err)
	assert.Equal(t, 1, b.SitesAvailable)
	sites, err := tablestore.ListSites(ctx, db, batchID)
	require.NoError(t, err)
	require.Len(t, sites, 2)
	assert.Equal(t, "CH-Lae", sites[0].Site)
	assert.Equal(t, tablestore.SiteUnavailable, sites[0].Status)
	assert.Contains(t, sites[0].Message, "exit code 9")
	assert.Equal(t, tablestore.SiteAvailable, sites[1].Status)

	assert.DirExists(t, filepath.Join(f.dir, "logs", batchID))
}

func TestRead_DoesNotDispatch(t *testing.T) {
	f := newFixture(t, false)
	outDir := filepath.Join(f.sim, "output_nc")
	require.NoError(t, os.MkdirAll(outDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "FR-Pue.2001.d.gpp.nc"), []byte(yearlyCDL), 0o644))
	out := filepath.Join(f.dir, "out.jsonl")

	_, err := execute(t, "read", "--config", f.cfgFile, "--job", f.job, "--output", out)
	require.NoError(t, err)

	recs := readRecords(t, out)
	assert.Empty(t, ofType[output.RunRecord](t, recs, output.TypeRun))
	series := ofType[output.SeriesRecord](t, recs, output.TypeSeries)
	require.Len(t, series, 1)
	assert.Equal(t, "FR-Pue", series[0].Site)
	assert.FileExists(t, filepath.Join(outDir, "FR-Pue.d.gpp.nc"))
}

func TestRun_ExecutableUnavailable(t *testing.T) {
	f := newFixture(t, false)
	out := filepath.Join(f.dir, "out.jsonl")
	cwd, err := os.Getwd()
	require.NoError(t, err)

	_, err = execute(t, "run", "--config", f.cfgFile, "--job", f.job, "--output", out)
	require.Error(t, err)
	assert.Equal(t, foundry.ExitFileNotFound, ExitCode(err))

	after, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, cwd, after)

	errs := ofType[output.ErrorRecord](t, readRecords(t, out), output.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, output.ErrCodeExecutableUnavailable, errs[0].Code)
}

func TestRun_JobNotFound(t *testing.T) {
	f := newFixture(t, true)
	_, err := execute(t, "run", "--config", f.cfgFile, "--job", filepath.Join(f.dir, "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, foundry.ExitFileNotFound, ExitCode(err))
}

func TestRun_InvalidProbe(t *testing.T) {
	f := newFixture(t, true)
	_, err := execute(t, "run", "--config", f.cfgFile, "--job", f.job, "--probe", "sometimes")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
}

func TestRun_InvalidExportTarget(t *testing.T) {
	f := newFixture(t, true)
	out := filepath.Join(f.dir, "out.jsonl")
	_, err := execute(t, "run", "--config", f.cfgFile, "--job", f.job, "--output", out, "--export", "ftp://host/dir")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
}

func TestDispatch_RecordsRuns(t *testing.T) {
	f := newFixture(t, true)
	out := filepath.Join(f.dir, "out.jsonl")

	_, err := execute(t, "dispatch", "--config", f.cfgFile, "--job", f.job, "--output", out)
	require.NoError(t, err)

	recs := readRecords(t, out)
	runs := ofType[output.RunRecord](t, recs, output.TypeRun)
	require.Len(t, runs, 2)
	assert.Empty(t, ofType[output.SeriesRecord](t, recs, output.TypeSeries))
	assert.FileExists(t, filepath.Join(f.sim, "output_nc", "FR-Pue.2001.d.gpp.nc"))
}

func TestConsolidate_Idempotent(t *testing.T) {
	f := newFixture(t, false)
	outDir := filepath.Join(f.sim, "output_nc")
	require.NoError(t, os.MkdirAll(outDir, 0o755))
	for _, y := range []string{"2001", "2002"} {
		name := filepath.Join(outDir, "FR-Pue."+y+".d.gpp.nc")
		require.NoError(t, os.WriteFile(name, []byte(yearlyCDL), 0o644))
	}

	first := filepath.Join(f.dir, "first.jsonl")
	_, err := execute(t, "consolidate", "--config", f.cfgFile, "--job", f.job, "--site", "FR-Pue", "--output", first)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(outDir, "FR-Pue.d.gpp.nc"))
	assert.NoFileExists(t, filepath.Join(outDir, "FR-Pue.2001.d.gpp.nc"))
	assert.Empty(t, ofType[output.AdvisoryRecord](t, readRecords(t, first), output.TypeAdvisory))

	second := filepath.Join(f.dir, "second.jsonl")
	_, err = execute(t, "consolidate", "--config", f.cfgFile, "--job", f.job, "--site", "FR-Pue", "--output", second)
	require.NoError(t, err)
	adv := ofType[output.AdvisoryRecord](t, readRecords(t, second), output.TypeAdvisory)
	require.Len(t, adv, 1)
	assert.Equal(t, output.AdvisoryAlreadyConsolidated, adv[0].Code)
	assert.Equal(t, "FR-Pue", adv[0].Site)
}

func TestConsolidate_MergeTimeout(t *testing.T) {
	f := newFixture(t, false)
	hung := filepath.Join(f.dir, "tools", "cdo-hung")
	writeExe(t, hung, "#!/bin/sh\nexec sleep 30\n")
	cfgFile := filepath.Join(f.dir, "hung.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(fmt.Sprintf(`run:
  log_dir: %s
consolidate:
  command: %s
  timeout: 300ms
`, filepath.Join(f.dir, "logs"), hung)), 0o644))

	outDir := filepath.Join(f.sim, "output_nc")
	require.NoError(t, os.MkdirAll(outDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "FR-Pue.2001.d.gpp.nc"), []byte(yearlyCDL), 0o644))
	out := filepath.Join(f.dir, "out.jsonl")

	start := time.Now()
	_, err := execute(t, "consolidate", "--config", cfgFile, "--job", f.job, "--site", "FR-Pue", "--output", out)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 15*time.Second)
	assert.Equal(t, foundry.ExitFileWriteError, ExitCode(err))

	adv := ofType[output.AdvisoryRecord](t, readRecords(t, out), output.TypeAdvisory)
	require.Len(t, adv, 1)
	assert.Equal(t, output.AdvisoryMergeFailed, adv[0].Code)
	assert.Contains(t, adv[0].Message, "timed out")
	assert.FileExists(t, filepath.Join(outDir, "FR-Pue.2001.d.gpp.nc"))
}

func TestConsolidate_UnknownSite(t *testing.T) {
	f := newFixture(t, false)
	_, err := execute(t, "consolidate", "--config", f.cfgFile, "--job", f.job, "--site", "XX-Nope")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
}

func TestPlan_Text(t *testing.T) {
	f := newFixture(t, true)
	out, err := execute(t, "plan", "--config", f.cfgFile, "--job", f.job)
	require.NoError(t, err)

	assert.Contains(t, out, "=== Run Plan (dry-run) ===")
	assert.Contains(t, out, filepath.Join(f.sim, "runpmodel"))
	assert.Contains(t, out, "Invocations: 2 (one per site)")
	assert.Contains(t, out, "  - CH-Lae")
	assert.Contains(t, out, "daily:  gpp")
	assert.Contains(t, out, "Workers:     2")
	assert.NoDirExists(t, filepath.Join(f.sim, "output_nc"))
}

func TestPlan_JSON(t *testing.T) {
	f := newFixture(t, true)
	out, err := execute(t, "plan", "--config", f.cfgFile, "--job", f.job, "--json", "--workers", "3")
	require.NoError(t, err)

	var rec output.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, output.TypePlan, rec.Type)

	var plan output.PlanRecord
	require.NoError(t, json.Unmarshal(rec.Data, &plan))
	assert.Equal(t, []string{"FR-Pue", "CH-Lae"}, plan.Invocations)
	assert.Equal(t, map[string][]string{"daily": {"gpp"}}, plan.Variables)
	assert.Equal(t, 3, plan.Workers)
	assert.True(t, plan.Ensemble)
}

func TestRoot_InvalidConfig(t *testing.T) {
	f := newFixture(t, true)
	bad := filepath.Join(f.dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("run:\n  workers: 0\n"), 0o644))

	_, err := execute(t, "plan", "--config", bad, "--job", f.job)
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
}

func TestVersion(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2026-01-01")
	t.Cleanup(func() { SetVersionInfo("dev", "unknown", "unknown") })

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "siterun 1.2.3")
	assert.Contains(t, out, "abc123")
}
