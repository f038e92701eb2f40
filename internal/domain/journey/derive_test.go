package journey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestDeriveTimeToTherapy(t *testing.T) {
	rec := Record{
		PatientIDHash:   "a1b2c3",
		EnrollmentID:    "PSP-2024-000001",
		EnrolledTS:      ts("2024-01-01T22:15:00Z"),
		FirstShipmentTS: ts("2024-01-11T06:30:00Z"),
	}

	d := Derive(rec, Options{ReferenceDate: day("2024-03-01")})

	require.NotNil(t, d.TimeToTherapyDays)
	assert.Equal(t, 10, *d.TimeToTherapyDays, "calendar-day difference, times of day ignored")
	assert.True(t, d.Shipped)
	assert.False(t, d.AbandonedFlag, "shipped enrollments are never abandoned")
}

func TestDeriveAbsentFieldsStayAbsent(t *testing.T) {
	rec := Record{
		PatientIDHash: "a1b2c3",
		EnrollmentID:  "PSP-2024-000002",
		EnrolledTS:    ts("2024-01-01T00:00:00Z"),
	}

	d := Derive(rec, Options{ReferenceDate: day("2024-01-10")})

	assert.Nil(t, d.TimeToTherapyDays)
	assert.Nil(t, d.TimeToBVDays)
	assert.Nil(t, d.TimeToPASubmitDays)
	assert.Nil(t, d.TimeToPAApprovalDays)
	assert.Nil(t, d.TimeFromApprovalToShipDays)
	assert.False(t, d.BVCompleted)
	assert.False(t, d.PASubmitted)
}

func TestDerivePASubmitFallsBackToEnrollment(t *testing.T) {
	rec := Record{
		EnrollmentID:  "PSP-2024-000003",
		EnrolledTS:    ts("2024-01-01T09:00:00Z"),
		PASubmittedTS: ts("2024-01-10T17:00:00Z"),
	}

	d := Derive(rec, Options{ReferenceDate: day("2024-02-01")})

	require.NotNil(t, d.TimeToPASubmitDays)
	assert.Equal(t, 9, *d.TimeToPASubmitDays)
}

func TestDerivePASubmitUsesBVWhenPresent(t *testing.T) {
	rec := Record{
		EnrollmentID:  "PSP-2024-000004",
		EnrolledTS:    ts("2024-01-01T00:00:00Z"),
		BVCompletedTS: ts("2024-01-05T00:00:00Z"),
		PASubmittedTS: ts("2024-01-12T00:00:00Z"),
	}

	d := Derive(rec, Options{ReferenceDate: day("2024-02-01")})

	require.NotNil(t, d.TimeToPASubmitDays)
	assert.Equal(t, 7, *d.TimeToPASubmitDays)
}

func TestDeriveNegativeDurationIsNotClamped(t *testing.T) {
	// Shipment one day before enrollment: the duration carries the negative
	// value so the validation engine can fail the record; it is never
	// silently corrected.
	rec := Record{
		EnrollmentID:    "PSP-2024-000005",
		EnrolledTS:      ts("2024-01-02T00:00:00Z"),
		FirstShipmentTS: ts("2024-01-01T00:00:00Z"),
	}

	d := Derive(rec, Options{ReferenceDate: day("2024-02-01")})

	require.NotNil(t, d.TimeToTherapyDays)
	assert.Equal(t, -1, *d.TimeToTherapyDays)
}

func TestDeriveAbandonedFlagDependsOnReferenceDate(t *testing.T) {
	rec := Record{
		EnrollmentID: "PSP-2024-000006",
		EnrolledTS:   ts("2024-01-01T00:00:00Z"),
	}

	mature := Derive(rec, Options{ReferenceDate: day("2024-02-15")})
	assert.True(t, mature.AbandonedFlag, "45 days elapsed, no shipment")
	assert.True(t, rec.Mature(day("2024-02-15"), AbandonmentWindowDays))

	immature := Derive(rec, Options{ReferenceDate: day("2024-01-20")})
	assert.False(t, immature.AbandonedFlag, "19 days elapsed, still inside the window")
	assert.False(t, rec.Mature(day("2024-01-20"), AbandonmentWindowDays))
}

func TestDeriveMaturityWindowOverride(t *testing.T) {
	rec := Record{
		EnrollmentID: "PSP-2024-000007",
		EnrolledTS:   ts("2024-01-01T00:00:00Z"),
	}
	ref := day("2024-02-15")

	widened := Derive(rec, Options{ReferenceDate: ref, MaturityDays: 60})
	assert.False(t, widened.AbandonedFlag, "45 days elapsed, inside the 60-day window")
	assert.False(t, rec.Mature(ref, 60))

	narrowed := Derive(rec, Options{ReferenceDate: ref, MaturityDays: 10})
	assert.True(t, narrowed.AbandonedFlag)
	assert.True(t, rec.Mature(ref, 10))

	// Zero falls back to the default window.
	assert.Equal(t, AbandonmentWindowDays, Options{}.WindowDays())
}

func TestDerivePresenceFlagsFromEitherSignal(t *testing.T) {
	byTimestamp := Derive(Record{
		EnrolledTS:   ts("2024-01-01T00:00:00Z"),
		PAApprovedTS: ts("2024-01-15T00:00:00Z"),
	}, Options{ReferenceDate: day("2024-02-01")})
	assert.True(t, byTimestamp.PAApproved)
	assert.False(t, byTimestamp.OutcomeConflict)

	byOutcome := Derive(Record{
		EnrolledTS: ts("2024-01-01T00:00:00Z"),
		PAOutcome:  PAOutcomeDenied,
	}, Options{ReferenceDate: day("2024-02-01")})
	assert.True(t, byOutcome.PADenied)
	assert.False(t, byOutcome.PAApproved)
}

func TestDeriveConflictingSignalsFlagged(t *testing.T) {
	d := Derive(Record{
		EnrolledTS:   ts("2024-01-01T00:00:00Z"),
		PAApprovedTS: ts("2024-01-15T00:00:00Z"),
		PAOutcome:    PAOutcomeDenied,
	}, Options{ReferenceDate: day("2024-02-01")})

	assert.True(t, d.OutcomeConflict)
	assert.True(t, d.PAApproved, "timestamp signal still counted")
	assert.True(t, d.PADenied, "outcome signal still counted")
}

func TestDeriveIsIdempotent(t *testing.T) {
	rec := Record{
		EnrollmentID:    "PSP-2024-000007",
		PatientIDHash:   "ffee00",
		EnrolledTS:      ts("2024-01-01T08:00:00Z"),
		BVCompletedTS:   ts("2024-01-04T08:00:00Z"),
		PASubmittedTS:   ts("2024-01-06T08:00:00Z"),
		PAApprovedTS:    ts("2024-01-13T08:00:00Z"),
		FirstShipmentTS: ts("2024-01-20T08:00:00Z"),
		PAOutcome:       PAOutcomeApproved,
	}
	opts := Options{ReferenceDate: day("2024-03-01")}

	first := Derive(rec, opts)
	second := Derive(rec, opts)
	assert.Equal(t, first, second)
}
