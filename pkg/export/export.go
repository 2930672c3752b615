// Package export writes assembled site tables as CSV objects to a sink.
//
// Each table becomes one object named {site}.{d|a}.csv with a header row of
// "date" followed by the table's variables. Missing cells are empty.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/siterun/pkg/batch"
	"github.com/3leaps/siterun/pkg/output"
	"github.com/3leaps/siterun/pkg/provider"
	"github.com/3leaps/siterun/pkg/runconfig"
	"github.com/3leaps/siterun/pkg/series"
)

const (
	DefaultConcurrency  = 4
	DefaultMaxAttempts  = 3
	DefaultRetryBackoff = time.Second
)

// Config configures an Exporter.
type Config struct {
	// Sink receives the CSV objects (required).
	Sink provider.Provider

	// Prefix is prepended to every object key, e.g. a batch id.
	Prefix string

	// Concurrency bounds parallel uploads. Default: 4.
	Concurrency int

	// MaxAttempts bounds tries per object on throttling or unavailability.
	// Default: 3.
	MaxAttempts int

	// RetryBackoff is multiplied by the attempt number between tries.
	RetryBackoff time.Duration

	Logger *zap.Logger
}

// Object records one exported table.
type Object struct {
	Site       string
	Resolution runconfig.Resolution
	Key        string
	Rows       int
	Bytes      int64
}

// Exporter writes tables to a sink.
type Exporter struct {
	cfg Config
}

// New creates an Exporter.
func New(cfg Config) (*Exporter, error) {
	if cfg.Sink == nil {
		return nil, fmt.Errorf("export: sink is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Exporter{cfg: cfg}, nil
}

// ObjectName returns the object name for a site table.
func ObjectName(site string, res runconfig.Resolution) string {
	return fmt.Sprintf("%s.%s.csv", site, res.Code())
}

func (e *Exporter) key(site string, res runconfig.Resolution) string {
	if e.cfg.Prefix == "" {
		return ObjectName(site, res)
	}
	return path.Join(e.cfg.Prefix, ObjectName(site, res))
}

// ExportResult writes every table in result. Objects are returned in site
// order, daily before annual.
func (e *Exporter) ExportResult(ctx context.Context, result batch.Result) ([]Object, error) {
	var tables []*series.Table
	for _, site := range result.Sites() {
		for _, res := range []runconfig.Resolution{runconfig.Daily, runconfig.Annual} {
			if t := result[site].Table(res); t != nil {
				tables = append(tables, t)
			}
		}
	}

	objects := make([]Object, len(tables))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, t := range tables {
		g.Go(func() error {
			obj, err := e.ExportTable(gctx, t)
			if err != nil {
				return err
			}
			objects[i] = *obj
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return objects, nil
}

// ExportTable writes one table.
func (e *Exporter) ExportTable(ctx context.Context, t *series.Table) (*Object, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, t); err != nil {
		return nil, fmt.Errorf("export %s: %w", t.Site, err)
	}
	key := e.key(t.Site, t.Resolution)
	body := buf.Bytes()

	var err error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		err = e.cfg.Sink.PutObject(ctx, key, bytes.NewReader(body), int64(len(body)))
		if err == nil || !provider.IsRetryable(err) || attempt == e.cfg.MaxAttempts {
			break
		}
		e.cfg.Logger.Warn("Export retry",
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * e.cfg.RetryBackoff):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", key, err)
	}

	e.cfg.Logger.Debug("Exported table",
		zap.String("site", t.Site),
		zap.String("key", key),
		zap.Int("rows", t.Len()))
	return &Object{
		Site:       t.Site,
		Resolution: t.Resolution,
		Key:        key,
		Rows:       t.Len(),
		Bytes:      int64(len(body)),
	}, nil
}

// WriteCSV renders a table as CSV.
func WriteCSV(w io.Writer, t *series.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"date"}, t.ColumnNames()...)); err != nil {
		return err
	}
	record := make([]string, len(t.Columns)+1)
	for row, d := range t.Dates {
		record[0] = d.Format(output.DateLayout)
		for c, col := range t.Columns {
			record[c+1] = ""
			if col.Present[row] {
				record[c+1] = strconv.FormatFloat(col.Values[row], 'g', -1, 64)
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
