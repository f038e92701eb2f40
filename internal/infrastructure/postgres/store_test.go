package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patientpath/journey-engine/internal/domain/journey"
)

func TestEnrichedRowMatchesColumnList(t *testing.T) {
	enrolled := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	shipped := time.Date(2024, 5, 20, 8, 0, 0, 0, time.UTC)
	ttt := 19

	rec := journey.Enriched{
		Record: journey.Record{
			EnrollmentID:    "ENR-2001",
			PatientIDHash:   "abc123",
			PayerID:         "PAY-01",
			PAOutcome:       journey.PAOutcomeApproved,
			EnrolledTS:      &enrolled,
			FirstShipmentTS: &shipped,
		},
		Derived: journey.Derived{
			TimeToTherapyDays: &ttt,
			Shipped:           true,
		},
	}

	loadedAt := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	row := enrichedRow("batch-1", "hub_extract", loadedAt, rec)

	require.Len(t, row, len(enrichedColumns))

	byColumn := make(map[string]interface{}, len(row))
	for i, col := range enrichedColumns {
		byColumn[col] = row[i]
	}

	assert.Equal(t, "batch-1", byColumn["batch_id"])
	assert.Equal(t, "ENR-2001", byColumn["enrollment_id"])
	assert.Equal(t, "abc123", byColumn["patient_id_hash"])
	assert.Equal(t, "PAY-01", byColumn["payer_id"])
	assert.Equal(t, "APPROVED", byColumn["pa_outcome"])
	assert.Equal(t, &enrolled, byColumn["enrolled_ts"])
	assert.Equal(t, &shipped, byColumn["first_shipment_ts"])
	assert.Equal(t, &ttt, byColumn["time_to_therapy_days"])
	assert.Equal(t, false, byColumn["abandoned_flag"])
	assert.Equal(t, loadedAt, byColumn["loaded_at"])
	assert.Equal(t, "hub_extract", byColumn["source"])
}

func TestEnrichedRowAbsentFieldsStayNil(t *testing.T) {
	row := enrichedRow("batch-2", "hub_extract", time.Now().UTC(), journey.Enriched{
		Record: journey.Record{EnrollmentID: "ENR-2002"},
	})

	require.Len(t, row, len(enrichedColumns))
	for i, col := range enrichedColumns {
		switch col {
		case "enrolled_ts", "bv_completed_ts", "pa_submitted_ts", "pa_approved_ts",
			"pa_denied_ts", "appeal_submitted_ts", "first_shipment_ts",
			"copay_assistance_approved_ts":
			assert.Nil(t, row[i], col)
		case "time_to_therapy_days", "time_to_bv_days", "time_to_pa_submit_days",
			"time_to_pa_approval_days", "time_from_approval_to_ship_days":
			assert.Nil(t, row[i], col)
		}
	}
}
