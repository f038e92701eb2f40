// Package pipeline runs the derive-validate-aggregate pass over a journey
// batch: per-record work fans out across the worker pool, then a single
// reduction handles the set-level uniqueness rule, the metric snapshot and
// the threshold evaluation.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patientpath/journey-engine/internal/aggregate"
	"github.com/patientpath/journey-engine/internal/alerting"
	"github.com/patientpath/journey-engine/internal/domain/journey"
	"github.com/patientpath/journey-engine/internal/observability/metrics"
	"github.com/patientpath/journey-engine/internal/validation"
	"github.com/patientpath/journey-engine/pkg/workerpool"
)

// Config holds runner configuration.
type Config struct {
	// Workers is the fan-out width for per-record work.
	Workers int
}

// DefaultConfig returns defaults suitable for warehouse-extract batches.
func DefaultConfig() Config {
	return Config{Workers: 32}
}

// Result is the complete output of one pass.
type Result struct {
	BatchID  string             `json:"batch_id"`
	Records  []journey.Enriched `json:"records"`
	Report   *validation.Report `json:"report"`
	Snapshot alerting.Snapshot  `json:"snapshot"`
	Alerts   []alerting.Alert   `json:"alerts"`
}

// Runner executes derivation passes.
type Runner struct {
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewRunner creates a runner. metrics may be nil.
func NewRunner(cfg Config, logger *zap.Logger, m *metrics.Metrics) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	return &Runner{cfg: cfg, logger: logger, metrics: m}
}

// rowWork is a per-record fan-out unit and its fan-in result.
type rowWork struct {
	row      int
	record   journey.Record
	enriched journey.Enriched
	findings []validation.Finding
}

// Run derives and validates every record, then reduces: set-level uniqueness,
// aggregate snapshot, threshold alerts. The whole input is always processed;
// a bad record is a finding, never an abort. Output is deterministic for
// identical input and options.
func (r *Runner) Run(ctx context.Context, records []journey.Record, dims validation.DimensionSets, opts journey.Options, priorRowCount int) (*Result, error) {
	tracer := otel.Tracer("journey-pipeline")
	ctx, span := tracer.Start(ctx, "pipeline_run")
	defer span.End()
	span.SetAttributes(attribute.Int("batch_size", len(records)))

	start := time.Now()
	batchID := uuid.New().String()
	engine := validation.NewEngine(dims, opts)

	enriched := make([]journey.Enriched, len(records))
	rowFindings := make([][]validation.Finding, len(records))

	if len(records) > 0 {
		pool, err := workerpool.New(workerpool.Config{
			Workers:   r.cfg.Workers,
			QueueSize: len(records),
		}, func(ctx context.Context, task *workerpool.Task) *workerpool.Result {
			work := task.Payload.(*rowWork)
			work.enriched = journey.Enriched{
				Record:  work.record,
				Derived: journey.Derive(work.record, opts),
			}
			work.findings = engine.ValidateRecord(work.row, work.enriched)
			return &workerpool.Result{TaskID: task.ID, Success: true, Data: work}
		}, r.logger)
		if err != nil {
			return nil, fmt.Errorf("create worker pool: %w", err)
		}

		pool.Start()
		for i := range records {
			if err := pool.Submit(&workerpool.Task{
				ID:      strconv.Itoa(i),
				Payload: &rowWork{row: i, record: records[i]},
				Context: ctx,
			}); err != nil {
				pool.Stop()
				return nil, fmt.Errorf("submit row %d: %w", i, err)
			}
		}

		// Fan-in: one result per submitted row, reassembled in input order.
		for range records {
			res := <-pool.Results()
			work := res.Data.(*rowWork)
			enriched[work.row] = work.enriched
			rowFindings[work.row] = work.findings
		}
		pool.Stop()
	}

	report := &validation.Report{AsOf: opts.AsOf, Rows: len(records)}
	for _, findings := range rowFindings {
		report.Findings = append(report.Findings, findings...)
	}
	report.Findings = append(report.Findings, engine.CheckUniqueness(enriched)...)

	snapshot := aggregate.Snapshot(enriched, priorRowCount, opts)
	alerts := alerting.Evaluate(snapshot)

	r.observe(len(records), report, alerts, time.Since(start))
	r.logger.Info("pipeline run complete",
		zap.String("batch_id", batchID),
		zap.Int("records", len(records)),
		zap.Int("failures", len(report.Failures())),
		zap.Int("alerts", len(alerts)),
		zap.Duration("duration", time.Since(start)),
	)

	return &Result{
		BatchID:  batchID,
		Records:  enriched,
		Report:   report,
		Snapshot: snapshot,
		Alerts:   alerts,
	}, nil
}

func (r *Runner) observe(rows int, report *validation.Report, alerts []alerting.Alert, elapsed time.Duration) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordsDerived.Add(float64(rows))
	r.metrics.BatchSize.Set(float64(rows))
	r.metrics.BatchDuration.Observe(elapsed.Seconds())
	for _, f := range report.Findings {
		if f.Outcome != validation.OutcomePass {
			r.metrics.ValidationFindings.WithLabelValues(f.Rule, string(f.Outcome)).Inc()
		}
	}
	for _, a := range alerts {
		r.metrics.AlertsEmitted.WithLabelValues(string(a.Metric)).Inc()
	}
}
