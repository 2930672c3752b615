package ncdump

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/siterun/pkg/runconfig"
	"github.com/3leaps/siterun/pkg/source"
)

const siteDump = `netcdf FR-Pue.d.gpp {
dimensions:
	time = UNLIMITED ; // (4 currently)
variables:
	double time(time) ;
		time:units = "days since 2001-1-1 0:0:0" ;
		time:calendar = "noleap" ;
	float gpp(time) ;
		gpp:_FillValue = -9999.f ;
		gpp:units = "gC m-2 d-1" ;

// global attributes:
		:title = "daily gpp" ;
data:

 time = 0, 1, 2,
    3 ;

 gpp = 1.5, _, 2.25, 3 ;
}
`

const gridDump = `netcdf global.a.gpp {
dimensions:
	time = 2 ;
	lat = 1 ;
	lon = 2 ;
variables:
	int time(time) ;
		time:units = "days since 2001-01-01" ;
	float gpp(time, lat, lon) ;
data:

 time = 0, 365 ;

 gpp =
  1, 3,
  _, _ ;
}
`

func TestParse_SiteSeries(t *testing.T) {
	arr, err := Parse(siteDump, "gpp")
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 1, 2, 3}, arr.Time)
	assert.Equal(t, []bool{false, true, false, false}, arr.Missing)
	assert.Equal(t, 1.5, arr.Values[0])
	assert.Equal(t, 2.25, arr.Values[2])
	assert.Equal(t, time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC), arr.Epoch)
}

func TestParse_GriddedReducesCells(t *testing.T) {
	arr, err := Parse(gridDump, "gpp")
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 365}, arr.Time)
	assert.Equal(t, 2.0, arr.Values[0])
	assert.Equal(t, []bool{false, true}, arr.Missing)
}

func TestParse_NonFiniteIsMissing(t *testing.T) {
	cdl := "netcdf x {\nvariables:\n\tfloat gpp(time) ;\ndata:\n time = 0, 1, 2, 3 ;\n gpp = NaNf, 2, Infinityf, -Infinity ;\n}\n"
	arr, err := Parse(cdl, "gpp")
	require.NoError(t, err)

	assert.Equal(t, []bool{true, false, true, true}, arr.Missing)
	assert.Equal(t, 2.0, arr.Values[1])
}

func TestParse_GriddedIgnoresNonFiniteCells(t *testing.T) {
	cdl := "netcdf x {\nvariables:\n\tfloat gpp(time, cell) ;\ndata:\n time = 0 ;\n gpp = NaN, 4 ;\n}\n"
	arr, err := Parse(cdl, "gpp")
	require.NoError(t, err)

	assert.Equal(t, []bool{false}, arr.Missing)
	assert.Equal(t, 4.0, arr.Values[0])
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		cdl  string
		v    string
	}{
		{"no data section", "netcdf x {\n}\n", "gpp"},
		{"shape mismatch", "netcdf x {\nvariables:\n\tfloat gpp(time) ;\ndata:\n time = 0, 1 ;\n gpp = 1, 2, 3 ;\n}\n", "gpp"},
		{"bad number", "netcdf x {\nvariables:\n\tfloat gpp(time) ;\ndata:\n time = 0 ;\n gpp = abc ;\n}\n", "gpp"},
		{"no time", "netcdf x {\nvariables:\n\tfloat gpp(x) ;\ndata:\n gpp = 1 ;\n}\n", "gpp"},
		{"bad units", "netcdf x {\nvariables:\n\tfloat gpp(time) ;\n\t\ttime:units = \"hours since 2001-1-1\" ;\ndata:\n time = 0 ;\n gpp = 1 ;\n}\n", "gpp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.cdl, tt.v)
			require.Error(t, err)
			assert.NotErrorIs(t, err, errVariableAbsent)
		})
	}
}

func TestParse_VariableAbsent(t *testing.T) {
	_, err := Parse(siteDump, "aet")
	assert.ErrorIs(t, err, errVariableAbsent)
}

func fakeNcdump(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "ncdump")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestSource_Read(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "FR-Pue.d.gpp.nc"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "FR-Pue.d.rd.nc"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "FR-Pue.d.temp.nc"), []byte("x"), 0o644))

	dumpFile := filepath.Join(t.TempDir(), "dump.cdl")
	require.NoError(t, os.WriteFile(dumpFile, []byte(siteDump), 0o644))

	cmd := fakeNcdump(t, `case "$3" in
  *gpp.nc) cat "`+dumpFile+`" ;;
  *rd.nc) echo "ncdump: rd: No such variable" 1>&2; exit 1 ;;
  *) echo "NetCDF: Unknown file format" 1>&2; exit 1 ;;
esac
`)
	src := New(Config{Root: root, Command: cmd})
	ctx := context.Background()

	arr, err := src.Read(ctx, "FR-Pue", "gpp", runconfig.Daily)
	require.NoError(t, err)
	assert.Len(t, arr.Time, 4)

	_, err = src.Read(ctx, "FR-Pue", "aet", runconfig.Daily)
	assert.True(t, source.IsNotFound(err), "absent file: %v", err)

	_, err = src.Read(ctx, "FR-Pue", "rd", runconfig.Daily)
	assert.True(t, source.IsNotFound(err), "absent variable: %v", err)

	_, err = src.Read(ctx, "FR-Pue", "temp", runconfig.Daily)
	assert.True(t, source.IsReadFailure(err), "corrupt file: %v", err)
	var rerr *source.ReadError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "temp", rerr.Variable)
}
