package source

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/3leaps/siterun/pkg/runconfig"
)

func TestFileName(t *testing.T) {
	assert.Equal(t, "FR-Pue.d.gpp.nc", FileName("FR-Pue", "gpp", runconfig.Daily))
	assert.Equal(t, "global.a.aet.nc", FileName("global", "aet", runconfig.Annual))
}

func TestErrorClassification(t *testing.T) {
	nf := &NotFoundError{Path: "x.nc", Variable: "gpp"}
	assert.True(t, IsNotFound(nf))
	assert.False(t, IsReadFailure(nf))

	cause := errors.New("bad header")
	re := &ReadError{Path: "x.nc", Variable: "gpp", Err: cause}
	assert.True(t, IsReadFailure(re))
	assert.False(t, IsNotFound(re))
	assert.ErrorIs(t, re, cause)
}

func TestArrayValidate(t *testing.T) {
	assert.NoError(t, (&Array{Time: []float64{0, 1}, Values: []float64{1, 2}}).Validate())
	assert.Error(t, (&Array{Time: []float64{0}, Values: []float64{1, 2}}).Validate())
	assert.Error(t, (&Array{Time: []float64{0}, Values: []float64{1}, Missing: []bool{}}).Validate())
}
