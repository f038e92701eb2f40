// Package ingest reads journey batches out of warehouse extracts. CSV is the
// interchange format hub vendors actually deliver, so the reader is built to
// stream large files and tolerate their quirks: UTF-8 BOMs, shuffled column
// order and blank cells for milestones that have not happened.
package ingest

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/patientpath/journey-engine/internal/domain/journey"
)

// CSVReader streams journey records one row at a time.
type CSVReader struct {
	file   *os.File
	csv    *csv.Reader
	rowNum int64
	colIdx map[string]int // lowercase header → column index
}

// NewCSVReader opens path and reads its header row.
func NewCSVReader(path string) (*CSVReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	bufReader := bufio.NewReaderSize(file, 256*1024)

	// Skip UTF-8 BOM if present
	bom, err := bufReader.Peek(3)
	if err == nil && len(bom) >= 3 && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		bufReader.Discard(3)
	}

	reader := csv.NewReader(bufReader)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	r := &CSVReader{
		file:   file,
		csv:    reader,
		colIdx: make(map[string]int),
	}

	if err := r.readHeader(); err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

func (r *CSVReader) readHeader() error {
	header, err := r.csv.Read()
	if err != nil {
		return fmt.Errorf("read header row: %w", err)
	}
	r.rowNum++

	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i, h := range header {
		r.colIdx[strings.ToLower(strings.TrimSpace(h))] = i
	}

	if _, ok := r.colIdx["enrollment_id"]; !ok {
		return fmt.Errorf("header row missing enrollment_id column")
	}
	return nil
}

// Next returns the next record, or io.EOF after the last row. Cell-level
// problems never stop the stream: a malformed timestamp comes back as a nil
// field and a validation rule picks it up downstream.
func (r *CSVReader) Next() (journey.Record, error) {
	row, err := r.csv.Read()
	if err != nil {
		return journey.Record{}, err
	}
	r.rowNum++

	field := func(name string) string {
		idx, ok := r.colIdx[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	rec := journey.Record{
		PatientIDHash: field("patient_id_hash"),
		EnrollmentID:  field("enrollment_id"),
		PrimaryCaseID: field("primary_case_id"),
		PayerID:       field("payer_id"),
		ProviderID:    field("provider_id"),
		ProductID:     field("product_id"),
		PAOutcome:     journey.PAOutcome(strings.ToUpper(field("pa_outcome"))),
		Channel:       field("channel"),
		HubVendor:     field("hub_vendor"),
		ProgramType:   field("program_type"),
		Indication:    field("indication"),

		EnrolledTS:                parseTS(field("enrolled_ts")),
		BVCompletedTS:             parseTS(field("bv_completed_ts")),
		PASubmittedTS:             parseTS(field("pa_submitted_ts")),
		PAApprovedTS:              parseTS(field("pa_approved_ts")),
		PADeniedTS:                parseTS(field("pa_denied_ts")),
		AppealSubmittedTS:         parseTS(field("appeal_submitted_ts")),
		FirstShipmentTS:           parseTS(field("first_shipment_ts")),
		CopayAssistanceApprovedTS: parseTS(field("copay_assistance_approved_ts")),
	}
	return rec, nil
}

// ReadAll drains the stream into a slice.
func (r *CSVReader) ReadAll() ([]journey.Record, error) {
	var records []journey.Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, fmt.Errorf("row %d: %w", r.rowNum+1, err)
		}
		records = append(records, rec)
	}
}

// RowNum returns the number of rows read so far, header included.
func (r *CSVReader) RowNum() int64 {
	return r.rowNum
}

// Close releases the underlying file.
func (r *CSVReader) Close() error {
	return r.file.Close()
}

// tsLayouts are accepted timestamp forms, tried in order. Extracts mix full
// instants with date-only milestone columns.
var tsLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTS(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range tsLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// ReadDimensionFile reads one ID per line, for file-backed dimension sets in
// offline audits. Blank lines and #-comments are skipped.
func ReadDimensionFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ids, nil
}
