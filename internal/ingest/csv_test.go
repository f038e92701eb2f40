package ingest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "extract.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCSVReaderParsesRows(t *testing.T) {
	path := writeCSV(t, "enrollment_id,patient_id_hash,payer_id,enrolled_ts,first_shipment_ts,pa_outcome\n"+
		"ENR-001,abc123,PAY-01,2024-01-05T10:30:00Z,2024-01-20T08:00:00Z,APPROVED\n"+
		"ENR-002,def456,PAY-02,2024-01-06,,pending\n")

	r, err := NewCSVReader(path)
	require.NoError(t, err)
	defer r.Close()

	records, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "ENR-001", records[0].EnrollmentID)
	assert.Equal(t, "abc123", records[0].PatientIDHash)
	require.NotNil(t, records[0].EnrolledTS)
	assert.Equal(t, time.Date(2024, 1, 5, 10, 30, 0, 0, time.UTC), *records[0].EnrolledTS)
	require.NotNil(t, records[0].FirstShipmentTS)

	// date-only timestamp, blank shipment, lowercased outcome
	require.NotNil(t, records[1].EnrolledTS)
	assert.Equal(t, time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC), *records[1].EnrolledTS)
	assert.Nil(t, records[1].FirstShipmentTS)
	assert.Equal(t, "PENDING", string(records[1].PAOutcome))
}

func TestCSVReaderSkipsBOM(t *testing.T) {
	path := writeCSV(t, "\xef\xbb\xbfenrollment_id,enrolled_ts\nENR-001,2024-01-05T00:00:00Z\n")

	r, err := NewCSVReader(path)
	require.NoError(t, err)
	defer r.Close()

	records, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ENR-001", records[0].EnrollmentID)
}

func TestCSVReaderColumnOrderIndependent(t *testing.T) {
	path := writeCSV(t, "enrolled_ts,product_id,enrollment_id\n2024-02-01T00:00:00Z,PRD-9,ENR-007\n")

	r, err := NewCSVReader(path)
	require.NoError(t, err)
	defer r.Close()

	records, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ENR-007", records[0].EnrollmentID)
	assert.Equal(t, "PRD-9", records[0].ProductID)
}

func TestCSVReaderMalformedTimestampBecomesNil(t *testing.T) {
	path := writeCSV(t, "enrollment_id,enrolled_ts\nENR-001,not-a-date\n")

	r, err := NewCSVReader(path)
	require.NoError(t, err)
	defer r.Close()

	records, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].EnrolledTS)
}

func TestCSVReaderRequiresEnrollmentIDColumn(t *testing.T) {
	path := writeCSV(t, "patient_id_hash,enrolled_ts\nabc,2024-01-01\n")

	_, err := NewCSVReader(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enrollment_id")
}

func TestReadDimensionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payers.txt")
	require.NoError(t, os.WriteFile(path, []byte("# national payers\nPAY-01\n\nPAY-02\n"), 0o644))

	ids, err := ReadDimensionFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"PAY-01", "PAY-02"}, ids)
}
