package journey

import "time"

// AbandonmentWindowDays is the enrollment age after which an unshipped
// enrollment counts as abandoned. Enrollments at or under the window are
// immature and excluded from abandonment rates entirely.
const AbandonmentWindowDays = 30

// Options controls a derivation pass.
type Options struct {
	// ReferenceDate anchors the abandonment window. Live reporting passes the
	// current processing date; frozen historical reporting passes the fixed
	// period end so re-runs are reproducible.
	ReferenceDate time.Time
	// AsOf is the timestamp future-date and freshness checks compare against.
	AsOf time.Time
	// MaturityDays overrides the default abandonment window when positive.
	// Programs with long PA cycles run with a wider window.
	MaturityDays int
}

// WindowDays returns the abandonment window in effect for this pass.
func (o Options) WindowDays() int {
	if o.MaturityDays > 0 {
		return o.MaturityDays
	}
	return AbandonmentWindowDays
}

// Derive computes all derived columns for a record. It is a pure function:
// identical input and options always produce identical output, and missing
// inputs yield absent fields rather than errors.
func Derive(rec Record, opts Options) Derived {
	d := Derived{
		TimeToTherapyDays:          daysBetween(rec.EnrolledTS, rec.FirstShipmentTS),
		TimeToBVDays:               daysBetween(rec.EnrolledTS, rec.BVCompletedTS),
		TimeToPAApprovalDays:       daysBetween(rec.PASubmittedTS, rec.PAApprovedTS),
		TimeFromApprovalToShipDays: daysBetween(rec.PAApprovedTS, rec.FirstShipmentTS),
	}

	// PA submission baseline falls back to enrollment when no BV milestone exists.
	base := rec.BVCompletedTS
	if base == nil {
		base = rec.EnrolledTS
	}
	d.TimeToPASubmitDays = daysBetween(base, rec.PASubmittedTS)

	d.BVCompleted = rec.BVCompletedTS != nil
	d.PASubmitted = rec.PASubmittedTS != nil
	d.PAApproved = rec.PAApprovedTS != nil || rec.PAOutcome == PAOutcomeApproved
	d.PADenied = rec.PADeniedTS != nil || rec.PAOutcome == PAOutcomeDenied
	d.Shipped = rec.FirstShipmentTS != nil

	d.OutcomeConflict = (rec.PAApprovedTS != nil && rec.PAOutcome == PAOutcomeDenied) ||
		(rec.PADeniedTS != nil && rec.PAOutcome == PAOutcomeApproved)

	if rec.FirstShipmentTS == nil && rec.EnrolledTS != nil {
		d.AbandonedFlag = calendarDays(*rec.EnrolledTS, opts.ReferenceDate) > opts.WindowDays()
	}

	return d
}

// Mature reports whether the enrollment age exceeds the abandonment window at
// the reference date. Immature enrollments are excluded from abandonment rate
// numerator and denominator.
func (r Record) Mature(referenceDate time.Time, windowDays int) bool {
	return r.EnrolledTS != nil && calendarDays(*r.EnrolledTS, referenceDate) > windowDays
}

// dateUTC truncates an instant to its UTC calendar date.
func dateUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// calendarDays returns the exact calendar-day difference to
// minus from, after truncating both to UTC dates. Negative when to precedes from.
func calendarDays(from, to time.Time) int {
	return int(dateUTC(to).Sub(dateUTC(from)).Hours() / 24)
}

func daysBetween(from, to *time.Time) *int {
	if from == nil || to == nil {
		return nil
	}
	days := calendarDays(*from, *to)
	return &days
}
