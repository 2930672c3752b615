package cmd

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/siterun/internal/observability"
	"github.com/3leaps/siterun/pkg/batch"
	"github.com/3leaps/siterun/pkg/dispatch"
	"github.com/3leaps/siterun/pkg/output"
	"github.com/3leaps/siterun/pkg/runconfig"
)

const stderrTailBytes = 512

// recorder turns dispatch and read-back outcomes into JSONL records and
// remembers per-site failures for the result store.
type recorder struct {
	ctx context.Context
	w   output.Writer

	runs       int
	runsFailed int

	// failed maps site to the reason it produced no table.
	failed map[string]string
}

func newRecorder(ctx context.Context, w output.Writer) *recorder {
	return &recorder{ctx: ctx, w: w, failed: map[string]string{}}
}

func (r *recorder) advisory(code, message, site string, res runconfig.Resolution) {
	rec := &output.AdvisoryRecord{Code: code, Message: message, Site: site}
	if res != "" {
		rec.Resolution = res.String()
	}
	if err := r.w.WriteAdvisory(r.ctx, rec); err != nil {
		observability.CLILogger.Debug("Failed to write advisory record", zap.Error(err))
	}
}

// observe is the batch.Observer. The reader serializes calls.
func (r *recorder) observe(ev batch.Event) {
	msg := ev.Message
	if ev.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += ev.Err.Error()
	}

	switch ev.Kind {
	case batch.EventAlreadyConsolidated:
		r.advisory(output.AdvisoryAlreadyConsolidated, msg, ev.Site, "")
	case batch.EventConsolidationFailed:
		r.advisory(output.AdvisoryMergeFailed, msg, ev.Site, "")
	case batch.EventDailySkipped:
		r.advisory(output.AdvisoryDailySkipped, msg, "", runconfig.Daily)
	case batch.EventUnavailable:
		r.advisory(output.AdvisorySiteUnavailable, msg, ev.Site, ev.Resolution)
	case batch.EventSiteFailed:
		r.failed[ev.Site] = msg
		r.advisory(output.AdvisorySiteReadFailed, msg, ev.Site, ev.Resolution)
	default:
		observability.CLILogger.Debug("Batch event",
			zap.String("kind", string(ev.Kind)),
			zap.String("site", ev.Site),
			zap.Int("rows", ev.Rows))
	}
}

// dispatched writes one run record per invocation.
func (r *recorder) dispatched(sum *dispatch.Summary) {
	for _, run := range sum.Runs {
		r.runs++
		rec := &output.RunRecord{Site: run.ID}
		if run.Result != nil {
			rec.ExitCode = run.Result.ExitCode
			rec.TimedOut = run.Result.TimedOut
			rec.Duration = run.Result.Duration
		}
		if run.Failed() {
			r.runsFailed++
			rec.Error = run.Reason()
			rec.StderrTail = run.StderrTail(stderrTailBytes)
			r.failed[run.ID] = "simulation " + run.Reason()
			r.advisory(output.AdvisoryRunFailed, run.Reason(), run.ID, "")
		}
		if err := r.w.WriteRun(r.ctx, rec); err != nil {
			observability.CLILogger.Debug("Failed to write run record", zap.Error(err))
		}
	}
}

// tables writes every assembled table as a series record.
func (r *recorder) tables(result batch.Result) error {
	for _, site := range result.Sites() {
		for _, res := range []runconfig.Resolution{runconfig.Daily, runconfig.Annual} {
			t := result[site].Table(res)
			if t == nil {
				continue
			}
			if err := r.w.WriteSeries(r.ctx, output.NewSeriesRecord(t)); err != nil {
				return err
			}
		}
	}
	return nil
}

// summary closes the batch stream.
func (r *recorder) summary(rc *runconfig.RunConfiguration, result batch.Result, started time.Time) error {
	var unavailable []string
	for _, site := range rc.SiteNames {
		if _, ok := result[site]; !ok {
			unavailable = append(unavailable, site)
		}
	}
	sort.Strings(unavailable)
	d := time.Since(started)
	return r.w.WriteSummary(r.ctx, &output.SummaryRecord{
		SitesRequested: len(rc.SiteNames),
		SitesAvailable: len(result),
		Unavailable:    unavailable,
		Runs:           r.runs,
		RunsFailed:     r.runsFailed,
		Duration:       d,
		DurationHuman:  d.Round(time.Millisecond).String(),
	})
}
