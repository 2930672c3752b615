package batch

import "github.com/3leaps/siterun/pkg/runconfig"

// EventKind names a per-site occurrence during ReadAll.
type EventKind string

const (
	EventConsolidated        EventKind = "consolidated"
	EventAlreadyConsolidated EventKind = "already_consolidated"
	EventConsolidationFailed EventKind = "consolidation_failed"
	EventDailySkipped        EventKind = "daily_skipped"
	EventUnavailable         EventKind = "unavailable"
	EventSiteFailed          EventKind = "site_failed"
	EventAssembled           EventKind = "assembled"
)

// Advisory reports whether the event is a warning for the operator.
func (k EventKind) Advisory() bool {
	switch k {
	case EventAlreadyConsolidated, EventConsolidationFailed, EventDailySkipped, EventUnavailable, EventSiteFailed:
		return true
	default:
		return false
	}
}

// Event is delivered to an Observer.
type Event struct {
	Kind       EventKind
	Site       string
	Resolution runconfig.Resolution
	Message    string
	Rows       int
	Columns    []string
	Err        error
}

// Observer receives events.
type Observer func(Event)
