package ingest

import (
	"strings"
	"time"

	"github.com/patientpath/journey-engine/internal/domain/journey"
)

// StatusEvent is one hub status transition for an enrollment. Vendors replay
// and sometimes reverse statuses, so an enrollment can carry several events
// that disagree.
type StatusEvent struct {
	EnrollmentID string    `json:"enrollment_id"`
	Status       string    `json:"status"`
	EventTS      time.Time `json:"event_ts"`
}

// ResolveLatest picks one event per enrollment: the latest by event
// timestamp, with ties going to the event that arrived later in the feed.
// A reversal therefore wins over the state it reverses.
func ResolveLatest(events []StatusEvent) map[string]StatusEvent {
	latest := make(map[string]StatusEvent)
	for _, ev := range events {
		cur, ok := latest[ev.EnrollmentID]
		if !ok || !ev.EventTS.Before(cur.EventTS) {
			latest[ev.EnrollmentID] = ev
		}
	}
	return latest
}

// OutcomeFromStatus maps a hub status to a prior-authorization outcome.
// Statuses outside the PA lifecycle return false.
func OutcomeFromStatus(status string) (journey.PAOutcome, bool) {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "PA_APPROVED":
		return journey.PAOutcomeApproved, true
	case "PA_DENIED":
		return journey.PAOutcomeDenied, true
	case "PA_PENDING", "PA_SUBMITTED":
		return journey.PAOutcomePending, true
	default:
		return "", false
	}
}

// ApplyOutcomes overwrites each record's PA outcome with the resolved latest
// status event, where one exists. Records without events keep the outcome
// the extract carried.
func ApplyOutcomes(records []journey.Record, events []StatusEvent) {
	if len(events) == 0 {
		return
	}
	latest := ResolveLatest(events)
	for i := range records {
		ev, ok := latest[records[i].EnrollmentID]
		if !ok {
			continue
		}
		if outcome, ok := OutcomeFromStatus(ev.Status); ok {
			records[i].PAOutcome = outcome
		}
	}
}
