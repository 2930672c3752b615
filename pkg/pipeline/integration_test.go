package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/siterun/pkg/assemble"
	"github.com/3leaps/siterun/pkg/batch"
	"github.com/3leaps/siterun/pkg/consolidate"
	"github.com/3leaps/siterun/pkg/dispatch"
	"github.com/3leaps/siterun/pkg/process"
	"github.com/3leaps/siterun/pkg/runconfig"
	"github.com/3leaps/siterun/pkg/source/ncdump"
)

// The simulation writes one yearly CDL file per site; cdo keeps the last
// input and ncdump prints the file as is.
const simScript = `#!/bin/sh
read id
[ "$id" = "CH-Lae" ] && exit 9
mkdir -p output_nc
cat > "output_nc/$id.2001.d.gpp.nc" <<CDL
netcdf x {
variables:
	double time(time) ;
		time:units = "days since 2001-1-1" ;
	float gpp(time) ;
data:
 time = 0, 1, 2 ;
 gpp = 1, 2, 3 ;
}
CDL
`

const cdoScript = `#!/bin/sh
shift 2
last=""
out=""
for a in "$@"; do last="$out"; out="$a"; done
cp "$last" "$out"
`

func writeExe(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
}

func TestPipeline_EndToEnd(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	sim := t.TempDir()
	tools := t.TempDir()
	writeExe(t, filepath.Join(sim, "runpmodel"), simScript)
	writeExe(t, filepath.Join(tools, "cdo"), cdoScript)
	writeExe(t, filepath.Join(tools, "ncdump"), "#!/bin/sh\ncat \"$3\"\n")

	rc := &runconfig.RunConfiguration{
		Model:         "pmodel",
		Ensemble:      true,
		SiteNames:     []string{"FR-Pue", "CH-Lae"},
		SimulationDir: sim,
		Flags:         map[string]bool{"loutdgpp": true, "loutdrd": true},
	}
	rc.ApplyDefaults()
	require.NoError(t, rc.Validate())

	runner := process.NewExecRunner(nil)
	merger := consolidate.NewCDOMerger(runner)
	merger.Command = filepath.Join(tools, "cdo")

	p := New(Config{
		Runner: dispatch.New(dispatch.Config{Runner: runner, Workers: 2}),
		Reader: batch.New(batch.Config{
			Consolidator: consolidate.New(consolidate.Config{Merger: merger}),
			Assembler: assemble.New(assemble.Config{Source: ncdump.New(ncdump.Config{
				Root:    rc.OutputPath,
				Command: filepath.Join(tools, "ncdump"),
				Runner:  runner,
			})}),
		}),
	})

	res, err := p.Run(context.Background(), rc)
	require.NoError(t, err)

	assert.Equal(t, []string{"FR-Pue"}, res.Sites())
	tbl := res["FR-Pue"].Daily
	require.NotNil(t, tbl)
	assert.Equal(t, []string{"gpp"}, tbl.ColumnNames())
	assert.Equal(t, time.Date(2001, 1, 3, 0, 0, 0, 0, time.UTC), tbl.Dates[2])
	v, ok := tbl.Value(2, "gpp")
	assert.True(t, ok)
	assert.Equal(t, 3.0, v)
	assert.NoFileExists(t, filepath.Join(rc.OutputPath, "FR-Pue.2001.d.gpp.nc"))
}
