// Package alerting evaluates aggregate journey metrics against static
// thresholds. The monitor does no aggregation itself: callers supply the
// scalars (typically from internal/aggregate or a warehouse query) and get
// back alert events. Evaluation is pure; absent metrics are skipped.
package alerting

import "fmt"

// Metric identifies a monitored aggregate.
type Metric string

const (
	MetricMedianTimeToTherapy Metric = "median_time_to_therapy_days"
	MetricP90TimeToTherapy    Metric = "p90_time_to_therapy_days"
	MetricPAApprovalRate      Metric = "pa_approval_rate"
	MetricAbandonmentRate     Metric = "abandonment_rate"
	MetricRowCountDelta       Metric = "row_count_delta"
	MetricEnrollmentFreshness Metric = "enrollment_freshness_lag_hours"
	MetricShipmentFreshness   Metric = "shipment_freshness_lag_hours"
)

// Severity of an alert. All journey thresholds are warning-level.
type Severity string

const SeverityWarning Severity = "warning"

// Static alert thresholds.
const (
	MaxMedianTimeToTherapyDays = 30.0
	MinPAApprovalRate          = 0.60
	MaxAbandonmentRate         = 0.30
	MaxRowCountDelta           = 0.30
	MaxEnrollmentLagHours      = 48.0
	MaxShipmentLagHours        = 36.0
)

// Snapshot carries the aggregated scalars for one evaluation. Nil fields mean
// the metric could not be computed (empty input) and are not evaluated.
type Snapshot struct {
	MedianTimeToTherapyDays *float64 `json:"median_time_to_therapy_days,omitempty"`
	P90TimeToTherapyDays    *float64 `json:"p90_time_to_therapy_days,omitempty"`
	PAApprovalRate          *float64 `json:"pa_approval_rate,omitempty"`
	AbandonmentRate         *float64 `json:"abandonment_rate,omitempty"`
	RowCountDelta           *float64 `json:"row_count_delta,omitempty"`
	EnrollmentLagHours      *float64 `json:"enrollment_freshness_lag_hours,omitempty"`
	ShipmentLagHours        *float64 `json:"shipment_freshness_lag_hours,omitempty"`
}

// Alert is one threshold breach.
type Alert struct {
	Metric    Metric   `json:"metric"`
	Observed  float64  `json:"observed"`
	Threshold float64  `json:"threshold"`
	Severity  Severity `json:"severity"`
	Detail    string   `json:"detail"`
}

// Evaluate compares the snapshot against the static threshold table and
// returns the breached metrics in a fixed order.
func Evaluate(s Snapshot) []Alert {
	var alerts []Alert

	if v := s.MedianTimeToTherapyDays; v != nil && *v > MaxMedianTimeToTherapyDays {
		alerts = append(alerts, alert(MetricMedianTimeToTherapy, *v, MaxMedianTimeToTherapyDays,
			"median time-to-therapy %.1f days exceeds %.0f"))
	}
	if v := s.PAApprovalRate; v != nil && *v < MinPAApprovalRate {
		alerts = append(alerts, alert(MetricPAApprovalRate, *v, MinPAApprovalRate,
			"PA approval rate %.2f below %.2f"))
	}
	if v := s.AbandonmentRate; v != nil && *v > MaxAbandonmentRate {
		alerts = append(alerts, alert(MetricAbandonmentRate, *v, MaxAbandonmentRate,
			"abandonment rate %.2f exceeds %.2f"))
	}
	if v := s.RowCountDelta; v != nil && abs(*v) > MaxRowCountDelta {
		alerts = append(alerts, alert(MetricRowCountDelta, *v, MaxRowCountDelta,
			"day-over-day row count change %.2f exceeds %.2f"))
	}
	if v := s.EnrollmentLagHours; v != nil && *v > MaxEnrollmentLagHours {
		alerts = append(alerts, alert(MetricEnrollmentFreshness, *v, MaxEnrollmentLagHours,
			"enrollment freshness lag %.1fh exceeds %.0fh"))
	}
	if v := s.ShipmentLagHours; v != nil && *v > MaxShipmentLagHours {
		alerts = append(alerts, alert(MetricShipmentFreshness, *v, MaxShipmentLagHours,
			"shipment freshness lag %.1fh exceeds %.0fh"))
	}

	return alerts
}

func alert(m Metric, observed, threshold float64, format string) Alert {
	return Alert{
		Metric:    m,
		Observed:  observed,
		Threshold: threshold,
		Severity:  SeverityWarning,
		Detail:    fmt.Sprintf(format, observed, threshold),
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
