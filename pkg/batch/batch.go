// Package batch reads back every site's outputs after a run: it
// consolidates yearly files and assembles per-site tables.
package batch

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/3leaps/siterun/pkg/assemble"
	"github.com/3leaps/siterun/pkg/consolidate"
	"github.com/3leaps/siterun/pkg/runconfig"
	"github.com/3leaps/siterun/pkg/series"
)

// DefaultWorkers processes sites one at a time.
const DefaultWorkers = 1

// SiteResult holds a site's tables. Gridded runs fill only Annual.
type SiteResult struct {
	Site   string
	Daily  *series.Table
	Annual *series.Table
}

// Table returns the table for res.
func (s *SiteResult) Table(res runconfig.Resolution) *series.Table {
	switch res {
	case runconfig.Daily:
		return s.Daily
	case runconfig.Annual:
		return s.Annual
	default:
		return nil
	}
}

// Result maps site to tables. Its keys are exactly the sites that yielded
// usable output.
type Result map[string]*SiteResult

// Sites returns the keys sorted.
func (r Result) Sites() []string {
	out := make([]string, 0, len(r))
	for s := range r {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Consolidator merges a site's yearly files.
type Consolidator interface {
	Consolidate(ctx context.Context, site, outputPath string) (*consolidate.Outcome, error)
}

// Assembler builds one site table.
type Assembler interface {
	Assemble(ctx context.Context, site string, res runconfig.Resolution, vars []runconfig.VariableSpec) (*series.Table, error)
}

// Config configures a Reader.
type Config struct {
	Consolidator Consolidator
	Assembler    Assembler

	// Workers bounds how many sites are processed at once. Default: 1.
	Workers int

	// Observer, when set, receives per-site events. Calls are serialized.
	Observer Observer

	Logger *zap.Logger
}

// Reader implements the read-back phase of a batch.
type Reader struct {
	cfg Config
	mu  sync.Mutex
}

// New creates a Reader with defaults applied.
func New(cfg Config) *Reader {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Reader{cfg: cfg}
}

func (r *Reader) emit(ev Event) {
	if r.cfg.Observer == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.Observer(ev)
}

// ReadAll consolidates every site and assembles the resolutions rc
// produces.
//
// Sites that are unavailable or fail to read are dropped from the result.
// Configuration errors such as assemble.ErrNoVariablesRequested abort the
// batch and are returned.
func (r *Reader) ReadAll(ctx context.Context, rc *runconfig.RunConfiguration) (Result, error) {
	logger := r.cfg.Logger
	sites := rc.SiteNames

	if rc.IsGridded() {
		logger.Warn("Daily output skipped in gridded mode", zap.Int("sites", len(sites)))
		r.emit(Event{Kind: EventDailySkipped, Message: "daily output skipped in gridded mode"})
	}

	err := r.forEachSite(ctx, sites, func(ctx context.Context, site string) error {
		r.consolidate(ctx, site, rc.OutputPath)
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := Result{}
	var resultMu sync.Mutex
	resolutions := rc.Resolutions()

	err = r.forEachSite(ctx, sites, func(ctx context.Context, site string) error {
		sr := &SiteResult{Site: site}
		for _, res := range resolutions {
			tbl, err := r.cfg.Assembler.Assemble(ctx, site, res, rc.Variables(res))
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if !assemble.IsSiteLocal(err) {
					return err
				}
				r.dropSite(site, res, err)
				return nil
			}
			switch res {
			case runconfig.Daily:
				sr.Daily = tbl
			case runconfig.Annual:
				sr.Annual = tbl
			}
			r.emit(Event{Kind: EventAssembled, Site: site, Resolution: res, Rows: tbl.Len(), Columns: tbl.ColumnNames()})
		}

		resultMu.Lock()
		result[site] = sr
		resultMu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Batch read complete",
		zap.Int("requested", len(sites)),
		zap.Int("available", len(result)),
	)
	return result, nil
}

func (r *Reader) consolidate(ctx context.Context, site, outputPath string) {
	logger := r.cfg.Logger.With(zap.String("site", site))
	out, err := r.cfg.Consolidator.Consolidate(ctx, site, outputPath)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("Consolidation failed", zap.Error(err))
			r.emit(Event{Kind: EventConsolidationFailed, Site: site, Err: err})
		}
		return
	}

	switch out.Status {
	case consolidate.StatusAlreadyConsolidated:
		r.emit(Event{Kind: EventAlreadyConsolidated, Site: site, Message: "merge skipped, files already consolidated"})
	case consolidate.StatusPartial:
		for _, g := range out.Failed() {
			r.emit(Event{Kind: EventConsolidationFailed, Site: site, Message: g.Name, Err: g.Err})
		}
	default:
		r.emit(Event{Kind: EventConsolidated, Site: site})
	}
}

func (r *Reader) dropSite(site string, res runconfig.Resolution, err error) {
	logger := r.cfg.Logger.With(zap.String("site", site), zap.String("resolution", res.String()))
	if errors.Is(err, assemble.ErrUnavailable) {
		logger.Warn("Site output unavailable, dropped from batch", zap.Error(err))
		r.emit(Event{Kind: EventUnavailable, Site: site, Resolution: res, Err: err})
		return
	}
	logger.Error("Site read failed, dropped from batch", zap.Error(err))
	r.emit(Event{Kind: EventSiteFailed, Site: site, Resolution: res, Err: err})
}

// forEachSite runs fn for every site with at most Workers in flight.
// The first error cancels the remaining sites and is returned.
func (r *Reader) forEachSite(ctx context.Context, sites []string, fn func(context.Context, string) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, r.cfg.Workers)
	var wg sync.WaitGroup
	var firstErr error
	var errOnce sync.Once

	for _, site := range sites {
		select {
		case <-ctx.Done():
		case sem <- struct{}{}:
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(s string) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := fn(ctx, s); err != nil {
				errOnce.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}(site)
	}

	wg.Wait()
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}
