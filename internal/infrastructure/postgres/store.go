package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/patientpath/journey-engine/internal/alerting"
	"github.com/patientpath/journey-engine/internal/domain/journey"
	"github.com/patientpath/journey-engine/internal/infrastructure/kafka"
	"github.com/patientpath/journey-engine/internal/validation"
)

// Store persists batch results. Enriched rows carry loaded_at and source
// audit columns so a batch can be traced back to its extract.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewStore creates a store over pool.
func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

var enrichedColumns = []string{
	"batch_id", "enrollment_id", "patient_id_hash", "primary_case_id",
	"payer_id", "provider_id", "product_id",
	"enrolled_ts", "bv_completed_ts", "pa_submitted_ts", "pa_approved_ts",
	"pa_denied_ts", "appeal_submitted_ts", "first_shipment_ts",
	"copay_assistance_approved_ts",
	"pa_outcome", "channel", "hub_vendor", "program_type", "indication",
	"time_to_therapy_days", "time_to_bv_days", "time_to_pa_submit_days",
	"time_to_pa_approval_days", "time_from_approval_to_ship_days",
	"abandoned_flag", "outcome_conflict",
	"loaded_at", "source",
}

// enrichedRow flattens one enriched record into COPY values, in the order of
// enrichedColumns.
func enrichedRow(batchID, source string, loadedAt time.Time, rec journey.Enriched) []interface{} {
	r, d := rec.Record, rec.Derived
	return []interface{}{
		batchID, r.EnrollmentID, r.PatientIDHash, r.PrimaryCaseID,
		r.PayerID, r.ProviderID, r.ProductID,
		r.EnrolledTS, r.BVCompletedTS, r.PASubmittedTS, r.PAApprovedTS,
		r.PADeniedTS, r.AppealSubmittedTS, r.FirstShipmentTS,
		r.CopayAssistanceApprovedTS,
		string(r.PAOutcome), r.Channel, r.HubVendor, r.ProgramType, r.Indication,
		d.TimeToTherapyDays, d.TimeToBVDays, d.TimeToPASubmitDays,
		d.TimeToPAApprovalDays, d.TimeFromApprovalToShipDays,
		d.AbandonedFlag, d.OutcomeConflict,
		loadedAt, source,
	}
}

// SaveBatch writes enriched rows, quality findings, the metric snapshot and
// any alerts in one transaction. Alerts go through the outbox so they reach
// the broker only if the batch committed.
func (s *Store) SaveBatch(ctx context.Context, batchID, source string, records []journey.Enriched, report *validation.Report, snapshot alerting.Snapshot, alerts []alerting.Alert) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	loadedAt := time.Now().UTC()

	rows := make([][]interface{}, 0, len(records))
	for _, rec := range records {
		rows = append(rows, enrichedRow(batchID, source, loadedAt, rec))
	}

	if len(rows) > 0 {
		copied, err := tx.CopyFrom(ctx, pgx.Identifier{"journey_enriched"}, enrichedColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copy enriched rows: %w", err)
		}
		if copied != int64(len(rows)) {
			return fmt.Errorf("copy enriched rows: wrote %d of %d", copied, len(rows))
		}
	}

	if err := s.insertReport(ctx, tx, batchID, report); err != nil {
		return err
	}
	if err := s.insertSnapshot(ctx, tx, batchID, snapshot); err != nil {
		return err
	}

	for i := range alerts {
		payload, err := json.Marshal(alerts[i])
		if err != nil {
			return fmt.Errorf("marshal alert: %w", err)
		}
		entry := &OutboxEntry{
			BatchID:    batchID,
			Metric:     string(alerts[i].Metric),
			Payload:    payload,
			KafkaTopic: kafka.TopicJourneyAlerts,
			KafkaKey:   batchID,
		}
		if err := WriteEntry(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Info("batch persisted",
		zap.String("batch_id", batchID),
		zap.Int("rows", len(records)),
		zap.Int("findings", len(report.Findings)),
		zap.Int("alerts", len(alerts)))
	return nil
}

// insertReport stores the report header and its non-pass findings. Pass
// findings are reproducible from the stored rows, so only problems persist.
func (s *Store) insertReport(ctx context.Context, tx pgx.Tx, batchID string, report *validation.Report) error {
	counts := report.Counts()
	_, err := tx.Exec(ctx, `
		INSERT INTO quality_reports (batch_id, as_of, row_count, pass_count, fail_count, inconclusive_count)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, batchID, report.AsOf, report.Rows,
		counts[validation.OutcomePass], counts[validation.OutcomeFail], counts[validation.OutcomeInconclusive])
	if err != nil {
		return fmt.Errorf("insert quality report: %w", err)
	}

	for _, f := range report.Findings {
		if f.Outcome == validation.OutcomePass {
			continue
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO quality_findings (batch_id, row_index, enrollment_id, rule, outcome, detail)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, batchID, f.Row, f.EnrollmentID, f.Rule, string(f.Outcome), f.Detail)
		if err != nil {
			return fmt.Errorf("insert finding: %w", err)
		}
	}
	return nil
}

func (s *Store) insertSnapshot(ctx context.Context, tx pgx.Tx, batchID string, snapshot alerting.Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO batch_snapshots (batch_id, snapshot)
		VALUES ($1, $2)
	`, batchID, payload)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// GetReport loads a stored report with its non-pass findings.
func (s *Store) GetReport(ctx context.Context, batchID string) (*validation.Report, error) {
	report := &validation.Report{}
	err := s.pool.QueryRow(ctx, `
		SELECT as_of, row_count FROM quality_reports WHERE batch_id = $1
	`, batchID).Scan(&report.AsOf, &report.Rows)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("report not found: %s", batchID)
		}
		return nil, fmt.Errorf("load report: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT row_index, enrollment_id, rule, outcome, detail
		FROM quality_findings
		WHERE batch_id = $1
		ORDER BY id ASC
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("load findings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f validation.Finding
		var outcome string
		if err := rows.Scan(&f.Row, &f.EnrollmentID, &f.Rule, &outcome, &f.Detail); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		f.Outcome = validation.Outcome(outcome)
		report.Findings = append(report.Findings, f)
	}
	return report, rows.Err()
}

// GetSnapshot loads a stored metric snapshot.
func (s *Store) GetSnapshot(ctx context.Context, batchID string) (*alerting.Snapshot, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT snapshot FROM batch_snapshots WHERE batch_id = $1
	`, batchID).Scan(&payload)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("snapshot not found: %s", batchID)
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	snapshot := &alerting.Snapshot{}
	if err := json.Unmarshal(payload, snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snapshot, nil
}

// RowCount returns the enriched row count of the most recent batch before
// batchID, for the row delta metric.
func (s *Store) RowCount(ctx context.Context, batchID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM journey_enriched WHERE batch_id = (
			SELECT batch_id FROM quality_reports
			WHERE batch_id <> $1
			ORDER BY as_of DESC
			LIMIT 1
		)
	`, batchID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("prior row count: %w", err)
	}
	return count, nil
}

// HealthCheck verifies database connectivity.
func (s *Store) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
