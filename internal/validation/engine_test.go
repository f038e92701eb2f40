package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patientpath/journey-engine/internal/domain/journey"
)

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func enrich(rec journey.Record, opts journey.Options) journey.Enriched {
	return journey.Enriched{Record: rec, Derived: journey.Derive(rec, opts)}
}

func testOpts() journey.Options {
	return journey.Options{
		ReferenceDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		AsOf:          time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func availableDims() DimensionSets {
	return DimensionSets{
		Payers:    NewKeySet("PAY-001", "PAY-002"),
		Products:  NewKeySet("PROD-001"),
		Providers: NewKeySet("1234567890"),
	}
}

func findingsFor(fs []Finding, rule string) []Finding {
	var out []Finding
	for _, f := range fs {
		if f.Rule == rule {
			out = append(out, f)
		}
	}
	return out
}

func TestValidateRecordCleanRecordPasses(t *testing.T) {
	opts := testOpts()
	rec := enrich(journey.Record{
		PatientIDHash:   "a1b2",
		EnrollmentID:    "PSP-2024-000001",
		PayerID:         "PAY-001",
		ProductID:       "PROD-001",
		ProviderID:      "1234567890",
		EnrolledTS:      ts("2024-01-01T09:00:00Z"),
		BVCompletedTS:   ts("2024-01-03T09:00:00Z"),
		PASubmittedTS:   ts("2024-01-05T09:00:00Z"),
		PAApprovedTS:    ts("2024-01-12T09:00:00Z"),
		FirstShipmentTS: ts("2024-01-18T09:00:00Z"),
		PAOutcome:       journey.PAOutcomeApproved,
	}, opts)

	engine := NewEngine(availableDims(), opts)
	findings := engine.ValidateRecord(0, rec)

	for _, f := range findings {
		assert.Equalf(t, OutcomePass, f.Outcome, "rule %s: %s", f.Rule, f.Detail)
	}
}

func TestValidateRecordRequiredFields(t *testing.T) {
	opts := testOpts()
	rec := enrich(journey.Record{EnrollmentID: "PSP-2024-000002"}, opts)

	engine := NewEngine(availableDims(), opts)
	findings := engine.ValidateRecord(0, rec)

	hash := findingsFor(findings, RulePatientHashPresent)
	require.Len(t, hash, 1)
	assert.Equal(t, OutcomeFail, hash[0].Outcome)

	enrolled := findingsFor(findings, RuleEnrolledPresent)
	require.Len(t, enrolled, 1)
	assert.Equal(t, OutcomeFail, enrolled[0].Outcome)

	// Conditional rules must be skipped, not failed, when inputs are absent.
	assert.Empty(t, findingsFor(findings, RuleOrderEnrolledBV))
	assert.Empty(t, findingsFor(findings, RuleTimeToTherapyNonNegative))
}

func TestValidateRecordFutureEnrollment(t *testing.T) {
	opts := testOpts()
	rec := enrich(journey.Record{
		PatientIDHash: "a1b2",
		EnrollmentID:  "PSP-2024-000003",
		EnrolledTS:    ts("2024-06-01T00:00:00Z"),
	}, opts)

	engine := NewEngine(availableDims(), opts)
	findings := findingsFor(engine.ValidateRecord(0, rec), RuleEnrolledNotFuture)

	require.Len(t, findings, 1)
	assert.Equal(t, OutcomeFail, findings[0].Outcome)
}

func TestValidateRecordMonotonicity(t *testing.T) {
	opts := testOpts()
	// Shipment one day before enrollment: ordering rule fails and the
	// negative duration fails its own rule; nothing is silently corrected.
	rec := enrich(journey.Record{
		PatientIDHash:   "a1b2",
		EnrollmentID:    "PSP-2024-000004",
		EnrolledTS:      ts("2024-01-02T00:00:00Z"),
		PAApprovedTS:    ts("2024-01-02T00:00:00Z"),
		FirstShipmentTS: ts("2024-01-01T00:00:00Z"),
	}, opts)

	engine := NewEngine(availableDims(), opts)
	findings := engine.ValidateRecord(0, rec)

	order := findingsFor(findings, RuleOrderApprovalShipment)
	require.Len(t, order, 1)
	assert.Equal(t, OutcomeFail, order[0].Outcome)

	dur := findingsFor(findings, RuleTimeToTherapyNonNegative)
	require.Len(t, dur, 1)
	assert.Equal(t, OutcomeFail, dur[0].Outcome)
}

func TestValidateRecordReferentialInconclusive(t *testing.T) {
	opts := testOpts()
	rec := enrich(journey.Record{
		PatientIDHash: "a1b2",
		EnrollmentID:  "PSP-2024-000005",
		PayerID:       "PAY-999",
		EnrolledTS:    ts("2024-01-01T00:00:00Z"),
	}, opts)

	dims := availableDims()
	dims.Payers = UnavailableKeySet()
	engine := NewEngine(dims, opts)

	payer := findingsFor(engine.ValidateRecord(0, rec), RulePayerKnown)
	require.Len(t, payer, 1)
	assert.Equal(t, OutcomeInconclusive, payer[0].Outcome, "unavailable dimension is inconclusive, not failed")
}

func TestValidateRecordReferentialMiss(t *testing.T) {
	opts := testOpts()
	rec := enrich(journey.Record{
		PatientIDHash: "a1b2",
		EnrollmentID:  "PSP-2024-000006",
		PayerID:       "PAY-999",
		EnrolledTS:    ts("2024-01-01T00:00:00Z"),
	}, opts)

	engine := NewEngine(availableDims(), opts)
	payer := findingsFor(engine.ValidateRecord(0, rec), RulePayerKnown)

	require.Len(t, payer, 1)
	assert.Equal(t, OutcomeFail, payer[0].Outcome)
}

func TestValidateRecordOutcomeConflict(t *testing.T) {
	opts := testOpts()
	rec := enrich(journey.Record{
		PatientIDHash: "a1b2",
		EnrollmentID:  "PSP-2024-000007",
		EnrolledTS:    ts("2024-01-01T00:00:00Z"),
		PAApprovedTS:  ts("2024-01-10T00:00:00Z"),
		PAOutcome:     journey.PAOutcomeDenied,
	}, opts)

	engine := NewEngine(availableDims(), opts)
	consistent := findingsFor(engine.ValidateRecord(0, rec), RulePAOutcomeConsistent)

	require.Len(t, consistent, 1)
	assert.Equal(t, OutcomeFail, consistent[0].Outcome)
}

func TestCheckUniquenessReportsEveryDuplicateRow(t *testing.T) {
	opts := testOpts()
	records := []journey.Enriched{
		enrich(journey.Record{PatientIDHash: "a", EnrollmentID: "PSP-2024-000008", EnrolledTS: ts("2024-01-01T00:00:00Z")}, opts),
		enrich(journey.Record{PatientIDHash: "b", EnrollmentID: "PSP-2024-000009", EnrolledTS: ts("2024-01-02T00:00:00Z")}, opts),
		enrich(journey.Record{PatientIDHash: "c", EnrollmentID: "PSP-2024-000008", EnrolledTS: ts("2024-01-03T00:00:00Z")}, opts),
	}

	engine := NewEngine(availableDims(), opts)
	findings := engine.CheckUniqueness(records)

	require.Len(t, findings, 2, "both rows carrying the duplicated id must fail")
	rows := []int{findings[0].Row, findings[1].Row}
	assert.ElementsMatch(t, []int{0, 2}, rows)
	for _, f := range findings {
		assert.Equal(t, OutcomeFail, f.Outcome)
		assert.Equal(t, "PSP-2024-000008", f.EnrollmentID)
	}
}

func TestValidateWholeBatchNeverAborts(t *testing.T) {
	opts := testOpts()
	records := []journey.Enriched{
		enrich(journey.Record{EnrollmentID: "PSP-2024-000010"}, opts), // missing hash and enrolled
		enrich(journey.Record{PatientIDHash: "ok", EnrollmentID: "PSP-2024-000011", EnrolledTS: ts("2024-01-01T00:00:00Z")}, opts),
	}

	engine := NewEngine(availableDims(), opts)
	report := engine.Validate(records)

	assert.Equal(t, 2, report.Rows)
	assert.NotEmpty(t, report.Failures())
	assert.False(t, report.Clean())

	// The second record's findings are present: the first bad row did not
	// short-circuit the pass.
	var sawSecond bool
	for _, f := range report.Findings {
		if f.Row == 1 {
			sawSecond = true
		}
	}
	assert.True(t, sawSecond)
}

func TestReportDeterministic(t *testing.T) {
	opts := testOpts()
	records := []journey.Enriched{
		enrich(journey.Record{PatientIDHash: "a", EnrollmentID: "E-1", EnrolledTS: ts("2024-01-01T00:00:00Z")}, opts),
		enrich(journey.Record{PatientIDHash: "b", EnrollmentID: "E-1", EnrolledTS: ts("2024-01-02T00:00:00Z")}, opts),
		enrich(journey.Record{PatientIDHash: "c", EnrollmentID: "E-2", EnrolledTS: ts("2024-01-03T00:00:00Z")}, opts),
	}

	engine := NewEngine(availableDims(), opts)
	first := engine.Validate(records)
	second := engine.Validate(records)
	assert.Equal(t, first, second)
}
