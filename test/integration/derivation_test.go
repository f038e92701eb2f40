// Package integration runs the derivation and quality pass end to end over a
// fixture extract, the same path batch-audit takes in production.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patientpath/journey-engine/internal/domain/journey"
	"github.com/patientpath/journey-engine/internal/ingest"
	"github.com/patientpath/journey-engine/internal/pipeline"
	"github.com/patientpath/journey-engine/internal/validation"
)

const fixturePath = "../fixtures/journey_batch.csv"

func loadFixture(t *testing.T) []journey.Record {
	t.Helper()
	reader, err := ingest.NewCSVReader(fixturePath)
	if err != nil {
		t.Skipf("fixture not found: %v", err)
	}
	defer reader.Close()

	records, err := reader.ReadAll()
	require.NoError(t, err)
	return records
}

func TestCSVExtractEndToEnd(t *testing.T) {
	records := loadFixture(t)
	require.Len(t, records, 5)

	opts := journey.Options{
		ReferenceDate: time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
		AsOf:          time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC),
	}
	dims := validation.DimensionSets{
		Payers:    validation.NewKeySet("PAY-01"),
		Products:  validation.NewKeySet("PRD-01"),
		Providers: validation.NewKeySet("PRV-01"),
	}

	runner := pipeline.NewRunner(pipeline.Config{Workers: 4}, zap.NewNop(), nil)
	result, err := runner.Run(context.Background(), records, dims, opts, 0)
	require.NoError(t, err)
	require.Len(t, result.Records, 5)

	// Output order follows the extract.
	for i, rec := range result.Records {
		assert.Equal(t, records[i].EnrollmentID, rec.Record.EnrollmentID)
	}

	// ENR-1001 enrolled May 1 and shipped May 20.
	first := result.Records[0]
	require.NotNil(t, first.Derived.TimeToTherapyDays)
	assert.Equal(t, 19, *first.Derived.TimeToTherapyDays)
	assert.False(t, first.Derived.AbandonedFlag)

	// ENR-1002 is 51 days old with no shipment, ENR-1003 only 10 days old.
	assert.True(t, result.Records[1].Derived.AbandonedFlag)
	assert.False(t, result.Records[2].Derived.AbandonedFlag)

	// ENR-1005 carries an approval timestamp but a DENIED outcome.
	conflict := result.Records[4]
	assert.True(t, conflict.Derived.OutcomeConflict)
	var conflictFindings int
	for _, f := range result.Report.Failures() {
		if f.EnrollmentID == "ENR-1005" && f.Rule == validation.RulePAOutcomeConsistent {
			conflictFindings++
		}
	}
	assert.Equal(t, 1, conflictFindings)

	// Two shipped rows, 19 and 14 days to therapy.
	require.NotNil(t, result.Snapshot.MedianTimeToTherapyDays)
	assert.InDelta(t, 16.5, *result.Snapshot.MedianTimeToTherapyDays, 1e-9)

	// Two of the three mature enrollments abandoned, so the rate breaches.
	require.NotNil(t, result.Snapshot.AbandonmentRate)
	assert.InDelta(t, 2.0/3.0, *result.Snapshot.AbandonmentRate, 1e-9)
	assertAlertFired(t, result, "abandonment_rate")

	// The fixture extract is weeks stale relative to the as-of instant.
	assertAlertFired(t, result, "enrollment_freshness_lag_hours")
	assertAlertFired(t, result, "shipment_freshness_lag_hours")

	// Approval rate is 2 of 3 decided rows; the conflicting row is excluded.
	require.NotNil(t, result.Snapshot.PAApprovalRate)
	assert.InDelta(t, 2.0/3.0, *result.Snapshot.PAApprovalRate, 1e-9)
	assertAlertAbsent(t, result, "pa_approval_rate")
}

func TestCSVExtractDeterministic(t *testing.T) {
	records := loadFixture(t)

	opts := journey.Options{
		ReferenceDate: time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
		AsOf:          time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC),
	}
	dims := validation.DimensionSets{
		Payers:    validation.NewKeySet("PAY-01"),
		Products:  validation.NewKeySet("PRD-01"),
		Providers: validation.NewKeySet("PRV-01"),
	}

	runner := pipeline.NewRunner(pipeline.Config{Workers: 8}, zap.NewNop(), nil)
	first, err := runner.Run(context.Background(), records, dims, opts, 0)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := runner.Run(context.Background(), records, dims, opts, 0)
		require.NoError(t, err)
		assert.Equal(t, first.Records, again.Records)
		assert.Equal(t, first.Report.Findings, again.Report.Findings)
		assert.Equal(t, first.Snapshot, again.Snapshot)
		assert.Equal(t, first.Alerts, again.Alerts)
	}
}

func assertAlertFired(t *testing.T, result *pipeline.Result, metric string) {
	t.Helper()
	for _, a := range result.Alerts {
		if string(a.Metric) == metric {
			return
		}
	}
	t.Errorf("expected alert for %s, got %v", metric, result.Alerts)
}

func assertAlertAbsent(t *testing.T, result *pipeline.Result, metric string) {
	t.Helper()
	for _, a := range result.Alerts {
		if string(a.Metric) == metric {
			t.Errorf("unexpected alert for %s", metric)
		}
	}
}
