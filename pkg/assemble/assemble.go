// Package assemble builds one site's date-indexed table from its
// per-variable output arrays.
package assemble

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/siterun/pkg/noleap"
	"github.com/3leaps/siterun/pkg/runconfig"
	"github.com/3leaps/siterun/pkg/series"
	"github.com/3leaps/siterun/pkg/source"
)

// ProbePolicy decides when a site counts as unavailable.
type ProbePolicy int

const (
	// ProbeFirstVariable marks the site unavailable when the first requested
	// variable is missing, even if later ones exist.
	ProbeFirstVariable ProbePolicy = iota

	// ProbeAnyVariable marks the site unavailable only when every requested
	// variable is missing.
	ProbeAnyVariable
)

func (p ProbePolicy) String() string {
	switch p {
	case ProbeFirstVariable:
		return "first"
	case ProbeAnyVariable:
		return "any"
	default:
		return fmt.Sprintf("ProbePolicy(%d)", int(p))
	}
}

// ParseProbePolicy accepts "first" or "any".
func ParseProbePolicy(s string) (ProbePolicy, error) {
	switch s {
	case "", "first":
		return ProbeFirstVariable, nil
	case "any":
		return ProbeAnyVariable, nil
	default:
		return 0, fmt.Errorf("unknown probe policy %q (want first or any)", s)
	}
}

// Config configures an Assembler.
type Config struct {
	Source source.ArraySource

	// Epoch is used when an array does not declare one.
	// Default: noleap.DefaultEpoch.
	Epoch time.Time

	Probe  ProbePolicy
	Logger *zap.Logger
}

// Assembler joins variables into series tables.
type Assembler struct {
	cfg Config
}

// New creates an Assembler with defaults applied.
func New(cfg Config) *Assembler {
	if cfg.Epoch.IsZero() {
		cfg.Epoch = noleap.DefaultEpoch
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Assembler{cfg: cfg}
}

type column struct {
	dates   []time.Time
	values  []float64
	missing []bool
}

// Assemble reads vars for site at res and outer-joins them by date.
//
// It returns ErrNoVariablesRequested for an empty list, an error matching
// ErrUnavailable when the probe finds no output, and a *SiteError when a
// file exists but cannot be read. Variables whose files are absent are left
// out of the table. Columns follow the order of vars.
func (a *Assembler) Assemble(ctx context.Context, site string, res runconfig.Resolution, vars []runconfig.VariableSpec) (*series.Table, error) {
	if len(vars) == 0 {
		return nil, ErrNoVariablesRequested
	}

	logger := a.cfg.Logger.With(zap.String("site", site), zap.String("resolution", res.String()))

	// cols[i] stays nil when vars[i] has no output.
	cols := make([]*column, len(vars))
	done := make([]bool, len(vars))

	read := func(i int) error {
		done[i] = true
		arr, err := a.cfg.Source.Read(ctx, site, vars[i].Name, res)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if source.IsNotFound(err) {
				logger.Debug("Variable output not found", zap.String("variable", vars[i].Name))
				return nil
			}
			return &SiteError{Site: site, Variable: vars[i].Name, Resolution: res, Err: err}
		}
		col, err := a.convert(arr)
		if err != nil {
			return &SiteError{
				Site:       site,
				Variable:   vars[i].Name,
				Resolution: res,
				Err:        &source.ReadError{Path: source.FileName(site, vars[i].Name, res), Variable: vars[i].Name, Err: err},
			}
		}
		cols[i] = col
		return nil
	}

	probe := -1
	switch a.cfg.Probe {
	case ProbeAnyVariable:
		for i := range vars {
			if err := read(i); err != nil {
				return nil, err
			}
			if cols[i] != nil {
				probe = i
				break
			}
		}
	default:
		if err := read(0); err != nil {
			return nil, err
		}
		if cols[0] != nil {
			probe = 0
		}
	}
	if probe < 0 {
		return nil, fmt.Errorf("%w: %s has no %s output for %s", ErrUnavailable, site, res, vars[0].Name)
	}

	b := series.NewBuilder(site, res, cols[probe].dates)
	for i, v := range vars {
		if !done[i] {
			if err := read(i); err != nil {
				return nil, err
			}
		}
		c := cols[i]
		if c == nil {
			continue
		}
		if err := b.Join(v.Name, c.dates, c.values, c.missing); err != nil {
			return nil, &SiteError{Site: site, Variable: v.Name, Resolution: res, Err: err}
		}
	}

	table := b.Table()
	logger.Debug("Assembled site table",
		zap.Int("rows", table.Len()),
		zap.Strings("columns", table.ColumnNames()),
	)
	return table, nil
}

func (a *Assembler) convert(arr *source.Array) (*column, error) {
	if err := arr.Validate(); err != nil {
		return nil, err
	}
	epoch := arr.Epoch
	if epoch.IsZero() {
		epoch = a.cfg.Epoch
	}
	dates, err := noleap.ToDates(arr.Time, epoch)
	if err != nil {
		return nil, err
	}
	return &column{dates: dates, values: arr.Values, missing: arr.Missing}, nil
}
