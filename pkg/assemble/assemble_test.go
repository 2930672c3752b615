package assemble

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/siterun/pkg/noleap"
	"github.com/3leaps/siterun/pkg/runconfig"
	"github.com/3leaps/siterun/pkg/series"
	"github.com/3leaps/siterun/pkg/source"
	"github.com/3leaps/siterun/pkg/source/sourcetest"
)

func daily(names ...string) []runconfig.VariableSpec {
	out := make([]runconfig.VariableSpec, len(names))
	for i, n := range names {
		out[i] = runconfig.VariableSpec{Name: n, Resolution: runconfig.Daily}
	}
	return out
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAssemble_OuterJoinSortedUnion(t *testing.T) {
	src := sourcetest.New()
	src.Put("FR-Pue", "gpp", runconfig.Daily, []float64{2, 0, 1}, []float64{20, 0, 10})
	src.Put("FR-Pue", "aet", runconfig.Daily, []float64{1, 3}, []float64{1.5, 3.5})

	tbl, err := New(Config{Source: src}).Assemble(context.Background(), "FR-Pue", runconfig.Daily, daily("gpp", "aet"))
	require.NoError(t, err)

	want := &series.Table{
		Site:       "FR-Pue",
		Resolution: runconfig.Daily,
		Dates:      []time.Time{date(2001, 1, 1), date(2001, 1, 2), date(2001, 1, 3), date(2001, 1, 4)},
		Columns: []series.Column{
			{Name: "gpp", Values: []float64{0, 10, 20, 0}, Present: []bool{true, true, true, false}},
			{Name: "aet", Values: []float64{0, 1.5, 0, 3.5}, Present: []bool{false, true, false, true}},
		},
	}
	if diff := cmp.Diff(want, tbl); diff != "" {
		t.Errorf("table mismatch (-want +got):\n%s", diff)
	}
}

func TestAssemble_ProbeFirstVariableMissing(t *testing.T) {
	src := sourcetest.New()
	src.Put("FR-Pue", "aet", runconfig.Daily, []float64{0}, []float64{1})

	tbl, err := New(Config{Source: src}).Assemble(context.Background(), "FR-Pue", runconfig.Daily, daily("gpp", "aet"))
	assert.Nil(t, tbl)
	assert.True(t, IsUnavailable(err))
	assert.True(t, IsSiteLocal(err))
	assert.Equal(t, 0, src.Reads("FR-Pue", "aet", runconfig.Daily), "later variables are not read after a failed probe")
}

func TestAssemble_ProbeAnyVariable(t *testing.T) {
	src := sourcetest.New()
	src.Put("FR-Pue", "aet", runconfig.Daily, []float64{0, 1}, []float64{1, 2})

	a := New(Config{Source: src, Probe: ProbeAnyVariable})
	tbl, err := a.Assemble(context.Background(), "FR-Pue", runconfig.Daily, daily("gpp", "aet"))
	require.NoError(t, err)
	assert.Equal(t, []string{"aet"}, tbl.ColumnNames())
	assert.Equal(t, 1, src.Reads("FR-Pue", "gpp", runconfig.Daily))

	_, err = a.Assemble(context.Background(), "CH-Lae", runconfig.Daily, daily("gpp", "aet"))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestAssemble_MissingSecondaryVariableOmitted(t *testing.T) {
	src := sourcetest.New()
	src.Put("FR-Pue", "gpp", runconfig.Daily, []float64{0, 1}, []float64{1, 2})
	src.Put("FR-Pue", "pet", runconfig.Daily, []float64{0, 1}, []float64{5, 6})

	tbl, err := New(Config{Source: src}).Assemble(context.Background(), "FR-Pue", runconfig.Daily, daily("gpp", "aet", "pet"))
	require.NoError(t, err)
	assert.Equal(t, []string{"gpp", "pet"}, tbl.ColumnNames())
	assert.Equal(t, 2, tbl.Len())
}

func TestAssemble_ProbeReadReused(t *testing.T) {
	src := sourcetest.New()
	src.Put("FR-Pue", "gpp", runconfig.Daily, []float64{0}, []float64{1})

	_, err := New(Config{Source: src}).Assemble(context.Background(), "FR-Pue", runconfig.Daily, daily("gpp"))
	require.NoError(t, err)
	assert.Equal(t, 1, src.Reads("FR-Pue", "gpp", runconfig.Daily))
}

func TestAssemble_ReadFailureAbortsSite(t *testing.T) {
	src := sourcetest.New()
	src.Put("FR-Pue", "gpp", runconfig.Daily, []float64{0}, []float64{1})
	src.Fail("FR-Pue", "aet", runconfig.Daily, errors.New("corrupt header"))

	tbl, err := New(Config{Source: src}).Assemble(context.Background(), "FR-Pue", runconfig.Daily, daily("gpp", "aet"))
	assert.Nil(t, tbl)

	var se *SiteError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "aet", se.Variable)
	assert.ErrorIs(t, err, source.ErrSourceReadFailure)
	assert.True(t, IsSiteLocal(err))
}

func TestAssemble_ShapeMismatchIsReadFailure(t *testing.T) {
	src := sourcetest.New()
	src.Put("FR-Pue", "gpp", runconfig.Daily, []float64{0, 1}, []float64{1})

	_, err := New(Config{Source: src}).Assemble(context.Background(), "FR-Pue", runconfig.Daily, daily("gpp"))
	assert.ErrorIs(t, err, source.ErrSourceReadFailure)
}

func TestAssemble_MalformedTimeIsReadFailure(t *testing.T) {
	src := sourcetest.New()
	src.Put("FR-Pue", "gpp", runconfig.Daily, []float64{0, math.NaN()}, []float64{1, 2})

	_, err := New(Config{Source: src}).Assemble(context.Background(), "FR-Pue", runconfig.Daily, daily("gpp"))
	assert.ErrorIs(t, err, source.ErrSourceReadFailure)
	assert.ErrorIs(t, err, noleap.ErrMalformedTimeCoordinate)
}

func TestAssemble_NoVariables(t *testing.T) {
	_, err := New(Config{Source: sourcetest.New()}).Assemble(context.Background(), "FR-Pue", runconfig.Daily, nil)
	assert.ErrorIs(t, err, ErrNoVariablesRequested)
	assert.False(t, IsSiteLocal(err))
}

func TestAssemble_ArrayEpochOverridesDefault(t *testing.T) {
	src := sourcetest.New()
	src.PutArray("global", "gpp", runconfig.Annual, &source.Array{
		Time:   []float64{0, 365},
		Values: []float64{1, 2},
		Epoch:  date(1990, 1, 1),
	})

	tbl, err := New(Config{Source: src}).Assemble(context.Background(), "global", runconfig.Annual,
		[]runconfig.VariableSpec{{Name: "gpp", Resolution: runconfig.Annual}})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{date(1990, 1, 1), date(1991, 1, 1)}, tbl.Dates)
}

func TestParseProbePolicy(t *testing.T) {
	p, err := ParseProbePolicy("any")
	require.NoError(t, err)
	assert.Equal(t, ProbeAnyVariable, p)
	assert.Equal(t, "any", p.String())

	p, err = ParseProbePolicy("")
	require.NoError(t, err)
	assert.Equal(t, ProbeFirstVariable, p)

	_, err = ParseProbePolicy("most")
	assert.Error(t, err)
}
