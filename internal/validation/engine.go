package validation

import (
	"fmt"
	"sort"
	"time"

	"github.com/patientpath/journey-engine/internal/domain/journey"
)

// Engine evaluates the journey data-quality rules. Row-level evaluation is
// stateless and safe to run concurrently per record; the set-level uniqueness
// rule runs as a single reduction over the whole batch.
type Engine struct {
	dims DimensionSets
	opts journey.Options
}

// NewEngine creates an engine bound to the supplied dimension sets and the
// pass options (as-of timestamp for future-date checks).
func NewEngine(dims DimensionSets, opts journey.Options) *Engine {
	return &Engine{dims: dims, opts: opts}
}

// Validate runs every rule over the batch and returns the full report:
// row-level findings in input order followed by set-level findings.
func (e *Engine) Validate(records []journey.Enriched) *Report {
	report := &Report{AsOf: e.opts.AsOf, Rows: len(records)}
	for i, rec := range records {
		report.Findings = append(report.Findings, e.ValidateRecord(i, rec)...)
	}
	report.Findings = append(report.Findings, e.CheckUniqueness(records)...)
	return report
}

// ValidateRecord evaluates all row-level rules for one record. Conditional
// rules are skipped (not failed) when their inputs are absent.
func (e *Engine) ValidateRecord(row int, rec journey.Enriched) []Finding {
	r := rec.Record
	d := rec.Derived
	add := newFindingList(row, r.EnrollmentID)

	add.check(RulePatientHashPresent, r.PatientIDHash != "", "patient_id_hash is null")
	add.check(RuleEnrolledPresent, r.EnrolledTS != nil, "enrolled_ts is null")

	if r.EnrolledTS != nil && !e.opts.AsOf.IsZero() {
		add.check(RuleEnrolledNotFuture, !r.EnrolledTS.After(e.opts.AsOf),
			fmt.Sprintf("enrolled_ts %s is after as-of %s",
				r.EnrolledTS.UTC().Format(time.RFC3339), e.opts.AsOf.UTC().Format(time.RFC3339)))
	}

	add.ordered(RuleOrderEnrolledBV, "enrolled_ts", r.EnrolledTS, "bv_completed_ts", r.BVCompletedTS)
	add.ordered(RuleOrderBVPASubmit, "bv_completed_ts", r.BVCompletedTS, "pa_submitted_ts", r.PASubmittedTS)
	add.ordered(RuleOrderPASubmitApproval, "pa_submitted_ts", r.PASubmittedTS, "pa_approved_ts", r.PAApprovedTS)
	add.ordered(RuleOrderApprovalShipment, "pa_approved_ts", r.PAApprovedTS, "first_shipment_ts", r.FirstShipmentTS)

	add.nonNegative(RuleTimeToTherapyNonNegative, "time_to_therapy_days", d.TimeToTherapyDays)
	add.nonNegative(RuleTimeToBVNonNegative, "time_to_bv_days", d.TimeToBVDays)
	add.nonNegative(RuleTimeToPASubmitNonNegative, "time_to_pa_submit_days", d.TimeToPASubmitDays)
	add.nonNegative(RuleTimeToPAApprovalNonNegative, "time_to_pa_approval_days", d.TimeToPAApprovalDays)
	add.nonNegative(RuleApprovalToShipNonNegative, "time_from_approval_to_ship_days", d.TimeFromApprovalToShipDays)

	add.referential(RulePayerKnown, "payer", r.PayerID, e.dims.Payers)
	add.referential(RuleProductKnown, "product", r.ProductID, e.dims.Products)
	add.referential(RuleProviderKnown, "provider", r.ProviderID, e.dims.Providers)

	if r.PAOutcome != "" || r.PAApprovedTS != nil || r.PADeniedTS != nil {
		add.check(RulePAOutcomeConsistent, !d.OutcomeConflict,
			fmt.Sprintf("pa_outcome %s conflicts with milestone timestamps", r.PAOutcome))
	}

	return add.findings
}

// CheckUniqueness is the set-level enrollment_id rule. Every row carrying a
// duplicated id is reported individually; a single pass finding with the row
// count is emitted when the batch is clean.
func (e *Engine) CheckUniqueness(records []journey.Enriched) []Finding {
	rowsByID := make(map[string][]int, len(records))
	for i, rec := range records {
		id := rec.Record.EnrollmentID
		rowsByID[id] = append(rowsByID[id], i)
	}

	var dupIDs []string
	for id, rows := range rowsByID {
		if len(rows) > 1 {
			dupIDs = append(dupIDs, id)
		}
	}

	if len(dupIDs) == 0 {
		return []Finding{{
			Row:     SetLevelRow,
			Rule:    RuleEnrollmentIDUnique,
			Outcome: OutcomePass,
			Detail:  fmt.Sprintf("%d distinct enrollment ids across %d rows", len(rowsByID), len(records)),
		}}
	}

	sort.Strings(dupIDs)
	var findings []Finding
	for _, id := range dupIDs {
		for _, row := range rowsByID[id] {
			findings = append(findings, Finding{
				Row:          row,
				EnrollmentID: id,
				Rule:         RuleEnrollmentIDUnique,
				Outcome:      OutcomeFail,
				Detail:       fmt.Sprintf("enrollment_id appears %d times", len(rowsByID[id])),
			})
		}
	}
	return findings
}

// findingList accumulates findings for one row.
type findingList struct {
	row          int
	enrollmentID string
	findings     []Finding
}

func newFindingList(row int, enrollmentID string) *findingList {
	return &findingList{row: row, enrollmentID: enrollmentID}
}

func (l *findingList) add(rule string, outcome Outcome, detail string) {
	l.findings = append(l.findings, Finding{
		Row:          l.row,
		EnrollmentID: l.enrollmentID,
		Rule:         rule,
		Outcome:      outcome,
		Detail:       detail,
	})
}

// check records a pass or a fail; failDetail is carried only on failure.
func (l *findingList) check(rule string, ok bool, failDetail string) {
	if ok {
		l.add(rule, OutcomePass, "")
		return
	}
	l.add(rule, OutcomeFail, failDetail)
}

// ordered evaluates a monotonicity pair, only when both endpoints are present.
func (l *findingList) ordered(rule, beforeName string, before *time.Time, afterName string, after *time.Time) {
	if before == nil || after == nil {
		return
	}
	l.check(rule, !after.Before(*before),
		fmt.Sprintf("%s %s precedes %s %s",
			afterName, after.UTC().Format(time.RFC3339),
			beforeName, before.UTC().Format(time.RFC3339)))
}

// nonNegative evaluates a duration rule, only when the duration is defined.
func (l *findingList) nonNegative(rule, name string, days *int) {
	if days == nil {
		return
	}
	l.check(rule, *days >= 0, fmt.Sprintf("%s is %d", name, *days))
}

// referential evaluates a dimension membership rule, only when the field is
// populated. An unavailable key set yields an inconclusive finding.
func (l *findingList) referential(rule, dim, id string, set KeySet) {
	if id == "" {
		return
	}
	if !set.Available() {
		l.add(rule, OutcomeInconclusive, fmt.Sprintf("%s dimension set unavailable", dim))
		return
	}
	l.check(rule, set.Contains(id), fmt.Sprintf("%s_id %q not found in dimension set", dim, id))
}
