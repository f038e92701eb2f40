// Package aggregate computes batch-level journey metrics that feed the
// threshold monitor. Absent derived fields are excluded from every statistic;
// they are never treated as zero.
package aggregate

import (
	"sort"
	"time"

	"github.com/patientpath/journey-engine/internal/alerting"
	"github.com/patientpath/journey-engine/internal/domain/journey"
)

// Median returns the median of vals. ok is false for empty input.
func Median(vals []float64) (float64, bool) {
	if len(vals) == 0 {
		return 0, false
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid], true
	}
	return (sorted[mid-1] + sorted[mid]) / 2, true
}

// Percentile returns the p-th percentile of vals using the nearest-rank
// method, which keeps repeated runs byte-identical. p is in (0, 1].
func Percentile(vals []float64, p float64) (float64, bool) {
	if len(vals) == 0 || p <= 0 || p > 1 {
		return 0, false
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	rank := int(float64(len(sorted))*p + 0.9999999)
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1], true
}

// TimeToTherapyValues extracts the defined time-to-therapy durations.
func TimeToTherapyValues(records []journey.Enriched) []float64 {
	var vals []float64
	for _, rec := range records {
		if d := rec.Derived.TimeToTherapyDays; d != nil {
			vals = append(vals, float64(*d))
		}
	}
	return vals
}

// ApprovalRate is approved / (approved + denied). Pending records contribute
// to neither side, and records with conflicting outcome signals are excluded
// entirely. Nil when no approved or denied records exist.
func ApprovalRate(records []journey.Enriched) *float64 {
	var approved, denied int
	for _, rec := range records {
		d := rec.Derived
		if d.OutcomeConflict {
			continue
		}
		switch {
		case d.PAApproved:
			approved++
		case d.PADenied:
			denied++
		}
	}
	if approved+denied == 0 {
		return nil
	}
	rate := float64(approved) / float64(approved+denied)
	return &rate
}

// AbandonmentRate is abandoned / mature. Enrollments still inside the
// abandonment window are excluded from both sides so young cohorts do not
// bias the rate toward zero. Nil when no mature enrollments exist.
func AbandonmentRate(records []journey.Enriched, opts journey.Options) *float64 {
	var mature, abandoned int
	for _, rec := range records {
		if !rec.Record.Mature(opts.ReferenceDate, opts.WindowDays()) {
			continue
		}
		mature++
		if rec.Derived.AbandonedFlag {
			abandoned++
		}
	}
	if mature == 0 {
		return nil
	}
	rate := float64(abandoned) / float64(mature)
	return &rate
}

// RowCountDelta is the fractional day-over-day change. Nil when there is no
// prior count to compare against.
func RowCountDelta(current, prior int) *float64 {
	if prior <= 0 {
		return nil
	}
	delta := float64(current-prior) / float64(prior)
	return &delta
}

// MaxEnrolled returns the latest enrollment timestamp in the batch.
func MaxEnrolled(records []journey.Enriched) *time.Time {
	return maxTS(records, func(r journey.Record) *time.Time { return r.EnrolledTS })
}

// MaxShipment returns the latest first-shipment timestamp in the batch.
func MaxShipment(records []journey.Enriched) *time.Time {
	return maxTS(records, func(r journey.Record) *time.Time { return r.FirstShipmentTS })
}

func maxTS(records []journey.Enriched, field func(journey.Record) *time.Time) *time.Time {
	var latest *time.Time
	for _, rec := range records {
		ts := field(rec.Record)
		if ts == nil {
			continue
		}
		if latest == nil || ts.After(*latest) {
			latest = ts
		}
	}
	return latest
}

// LagHours is the freshness lag between the latest observed timestamp and the
// as-of instant. Nil when no timestamp was observed.
func LagHours(latest *time.Time, asOf time.Time) *float64 {
	if latest == nil {
		return nil
	}
	hours := asOf.Sub(*latest).Hours()
	return &hours
}

// Snapshot builds the full metric snapshot for one batch. priorRowCount <= 0
// leaves the row-count delta absent.
func Snapshot(records []journey.Enriched, priorRowCount int, opts journey.Options) alerting.Snapshot {
	s := alerting.Snapshot{
		PAApprovalRate:  ApprovalRate(records),
		AbandonmentRate: AbandonmentRate(records, opts),
		RowCountDelta:   RowCountDelta(len(records), priorRowCount),
	}

	ttt := TimeToTherapyValues(records)
	if median, ok := Median(ttt); ok {
		s.MedianTimeToTherapyDays = &median
	}
	if p90, ok := Percentile(ttt, 0.90); ok {
		s.P90TimeToTherapyDays = &p90
	}

	if !opts.AsOf.IsZero() {
		s.EnrollmentLagHours = LagHours(MaxEnrolled(records), opts.AsOf)
		s.ShipmentLagHours = LagHours(MaxShipment(records), opts.AsOf)
	}

	return s
}
