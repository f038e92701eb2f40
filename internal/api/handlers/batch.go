// Package handlers provides HTTP handlers for the journey API.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patientpath/journey-engine/internal/alerting"
	"github.com/patientpath/journey-engine/internal/api/middleware"
	"github.com/patientpath/journey-engine/internal/domain/journey"
	"github.com/patientpath/journey-engine/internal/ingest"
	"github.com/patientpath/journey-engine/internal/pipeline"
	"github.com/patientpath/journey-engine/internal/validation"
)

// BatchStore persists derivation results.
type BatchStore interface {
	SaveBatch(ctx context.Context, batchID, source string, records []journey.Enriched, report *validation.Report, snapshot alerting.Snapshot, alerts []alerting.Alert) error
	GetReport(ctx context.Context, batchID string) (*validation.Report, error)
	GetSnapshot(ctx context.Context, batchID string) (*alerting.Snapshot, error)
}

// DimensionSource supplies reference sets for referential checks.
type DimensionSource interface {
	Load(ctx context.Context) validation.DimensionSets
}

// BatchHandler handles batch derivation endpoints.
type BatchHandler struct {
	runner *pipeline.Runner
	dims   DimensionSource
	store  BatchStore
	logger *zap.Logger
}

// NewBatchHandler creates a handler. store may be nil for stateless use.
func NewBatchHandler(runner *pipeline.Runner, dims DimensionSource, store BatchStore, logger *zap.Logger) *BatchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchHandler{runner: runner, dims: dims, store: store, logger: logger}
}

// Routes returns the handler routes.
func (h *BatchHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Run)
	r.Get("/{id}/report", h.GetReport)
	r.Get("/{id}/snapshot", h.GetSnapshot)
	return r
}

// RunRequest is the request body for a derivation pass.
type RunRequest struct {
	Source       string               `json:"source"`
	Records      []journey.Record     `json:"records"`
	StatusEvents []ingest.StatusEvent `json:"status_events,omitempty"`
	// ReferenceDate pins the abandonment window, 2006-01-02 form. Empty means
	// the current day.
	ReferenceDate string `json:"reference_date,omitempty"`
	// AsOf stamps the report. Empty means now.
	AsOf string `json:"as_of,omitempty"`
	// MaturityDays widens or narrows the abandonment window. Zero keeps the
	// 30-day default.
	MaturityDays  int `json:"maturity_days,omitempty"`
	PriorRowCount int `json:"prior_row_count,omitempty"`
}

// RunResponse carries the full pass output.
type RunResponse struct {
	BatchID  string             `json:"batch_id"`
	Rows     int                `json:"rows"`
	Report   *validation.Report `json:"report"`
	Snapshot alerting.Snapshot  `json:"snapshot"`
	Alerts   []alerting.Alert   `json:"alerts"`
}

// Run handles POST /batches.
func (h *BatchHandler) Run(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("batch-handler")
	ctx, span := tracer.Start(ctx, "run_batch")
	defer span.End()

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Records) == 0 {
		h.jsonError(w, "records is required", http.StatusBadRequest)
		return
	}

	opts, err := h.buildOptions(req)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ingest.ApplyOutcomes(req.Records, req.StatusEvents)

	dims := h.dims.Load(ctx)
	result, err := h.runner.Run(ctx, req.Records, dims, opts, req.PriorRowCount)
	if err != nil {
		h.logger.Error("pipeline run failed", zap.Error(err))
		h.jsonError(w, "derivation failed", http.StatusInternalServerError)
		return
	}
	span.SetAttributes(
		attribute.String("batch_id", result.BatchID),
		attribute.Int("rows", len(result.Records)),
	)

	if h.store != nil {
		if err := h.store.SaveBatch(ctx, result.BatchID, req.Source, result.Records, result.Report, result.Snapshot, result.Alerts); err != nil {
			h.logger.Error("save batch failed", zap.Error(err))
			h.jsonError(w, "failed to persist batch", http.StatusInternalServerError)
			return
		}
	}

	h.logger.Info("batch derived",
		zap.String("batch_id", result.BatchID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
		zap.Int("rows", len(result.Records)),
		zap.Int("alerts", len(result.Alerts)),
	)

	resp := RunResponse{
		BatchID:  result.BatchID,
		Rows:     len(result.Records),
		Report:   result.Report,
		Snapshot: result.Snapshot,
		Alerts:   result.Alerts,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

func (h *BatchHandler) buildOptions(req RunRequest) (journey.Options, error) {
	opts := journey.Options{AsOf: time.Now().UTC()}

	if req.AsOf != "" {
		t, err := time.Parse(time.RFC3339, req.AsOf)
		if err != nil {
			return opts, fmt.Errorf("invalid as_of")
		}
		opts.AsOf = t.UTC()
	}

	if req.ReferenceDate != "" {
		t, err := time.Parse("2006-01-02", req.ReferenceDate)
		if err != nil {
			return opts, fmt.Errorf("invalid reference_date")
		}
		opts.ReferenceDate = t
	} else {
		now := opts.AsOf
		opts.ReferenceDate = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}

	if req.MaturityDays < 0 {
		return opts, fmt.Errorf("invalid maturity_days")
	}
	opts.MaturityDays = req.MaturityDays
	return opts, nil
}

// GetReport handles GET /batches/{id}/report.
func (h *BatchHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.jsonError(w, "persistence not configured", http.StatusNotImplemented)
		return
	}

	id := chi.URLParam(r, "id")
	report, err := h.store.GetReport(r.Context(), id)
	if err != nil {
		h.jsonError(w, "report not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// GetSnapshot handles GET /batches/{id}/snapshot.
func (h *BatchHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.jsonError(w, "persistence not configured", http.StatusNotImplemented)
		return
	}

	id := chi.URLParam(r, "id")
	snapshot, err := h.store.GetSnapshot(r.Context(), id)
	if err != nil {
		h.jsonError(w, "snapshot not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshot)
}

// AlertsHandler evaluates thresholds on a caller-supplied snapshot.
type AlertsHandler struct {
	logger *zap.Logger
}

// NewAlertsHandler creates an alerts handler.
func NewAlertsHandler(logger *zap.Logger) *AlertsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertsHandler{logger: logger}
}

// Routes returns the handler routes.
func (h *AlertsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/evaluate", h.Evaluate)
	return r
}

// Evaluate handles POST /alerts/evaluate.
func (h *AlertsHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var snapshot alerting.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snapshot); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	alerts := alerting.Evaluate(snapshot)
	if alerts == nil {
		alerts = []alerting.Alert{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"alerts": alerts})
}

func (h *AlertsHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (h *BatchHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
