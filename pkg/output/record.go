// Package output provides JSONL output for batch results.
//
// Every line is a typed envelope whose data payload is a site table, a run
// outcome, an advisory, an error, a plan, or the batch summary. Each line
// parses independently.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/siterun/pkg/series"
)

// Record type constants follow the pattern siterun.<type>.v<version>.
const (
	TypeSeries   = "siterun.series.v1"
	TypeRun      = "siterun.run.v1"
	TypeAdvisory = "siterun.advisory.v1"
	TypeError    = "siterun.error.v1"
	TypePlan     = "siterun.plan.v1"
	TypeSummary  = "siterun.summary.v1"
)

// DateLayout formats table dates.
const DateLayout = "2006-01-02"

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the payload (e.g., "siterun.series.v1").
	Type string `json:"type"`

	TS time.Time `json:"ts"`

	// BatchID correlates every record of one invocation.
	BatchID string `json:"batch_id"`

	// Model is the simulation model of the batch.
	Model string `json:"model"`

	Data json.RawMessage `json:"data"`
}

// SeriesRecord is one site table. Values in a row follow Columns; a null
// marks a missing cell.
type SeriesRecord struct {
	Site       string      `json:"site"`
	Resolution string      `json:"resolution"`
	Columns    []string    `json:"columns"`
	Rows       []SeriesRow `json:"rows"`
}

// SeriesRow is one date of a SeriesRecord.
type SeriesRow struct {
	Date   string     `json:"date"`
	Values []*float64 `json:"values"`
}

// NewSeriesRecord converts a table.
func NewSeriesRecord(t *series.Table) *SeriesRecord {
	rec := &SeriesRecord{
		Site:       t.Site,
		Resolution: t.Resolution.String(),
		Columns:    t.ColumnNames(),
		Rows:       make([]SeriesRow, len(t.Dates)),
	}
	for i, d := range t.Dates {
		row := SeriesRow{Date: d.Format(DateLayout), Values: make([]*float64, len(t.Columns))}
		for c, col := range t.Columns {
			if col.Present[i] {
				v := col.Values[i]
				row.Values[c] = &v
			}
		}
		rec.Rows[i] = row
	}
	return rec
}

// RunRecord is the outcome of one simulation invocation.
type RunRecord struct {
	Site       string        `json:"site"`
	ExitCode   int           `json:"exit_code"`
	TimedOut   bool          `json:"timed_out,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	Error      string        `json:"error,omitempty"`
	StderrTail string        `json:"stderr_tail,omitempty"`
}

// AdvisoryRecord is a non-fatal condition worth surfacing.
type AdvisoryRecord struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Site       string `json:"site,omitempty"`
	Resolution string `json:"resolution,omitempty"`
}

// Advisory codes.
const (
	AdvisoryAlreadyConsolidated = "ALREADY_CONSOLIDATED"
	AdvisoryMergeFailed         = "MERGE_FAILED"
	AdvisoryDailySkipped        = "DAILY_SKIPPED"
	AdvisorySiteUnavailable     = "SITE_UNAVAILABLE"
	AdvisorySiteReadFailed      = "SITE_READ_FAILED"
	AdvisoryRunFailed           = "RUN_FAILED"
)

// ErrorRecord is a fatal error reported before exit.
type ErrorRecord struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Site    string `json:"site,omitempty"`
	Details any    `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeConfig                = "CONFIG"
	ErrCodeExecutableUnavailable = "EXECUTABLE_UNAVAILABLE"
	ErrCodeInternal              = "INTERNAL"
)

// PlanRecord describes what a run would do without doing it.
type PlanRecord struct {
	Executable    string              `json:"executable"`
	SimulationDir string              `json:"simulation_dir"`
	OutputPath    string              `json:"output_path"`
	Ensemble      bool                `json:"ensemble"`
	Invocations   []string            `json:"invocations"`
	Variables     map[string][]string `json:"variables"`
	Workers       int                 `json:"workers"`
	Gridded       bool                `json:"gridded,omitempty"`
}

// SummaryRecord closes a batch.
type SummaryRecord struct {
	SitesRequested int           `json:"sites_requested"`
	SitesAvailable int           `json:"sites_available"`
	Unavailable    []string      `json:"unavailable,omitempty"`
	Runs           int           `json:"runs"`
	RunsFailed     int           `json:"runs_failed"`
	Duration       time.Duration `json:"duration_ns"`
	DurationHuman  string        `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
