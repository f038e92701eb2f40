package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patientpath/journey-engine/internal/alerting"
	"github.com/patientpath/journey-engine/internal/domain/journey"
	"github.com/patientpath/journey-engine/internal/pipeline"
	"github.com/patientpath/journey-engine/internal/validation"
)

type staticDims struct {
	dims validation.DimensionSets
}

func (s staticDims) Load(ctx context.Context) validation.DimensionSets { return s.dims }

type memStore struct {
	saved     map[string]*validation.Report
	snapshots map[string]*alerting.Snapshot
}

func newMemStore() *memStore {
	return &memStore{
		saved:     make(map[string]*validation.Report),
		snapshots: make(map[string]*alerting.Snapshot),
	}
}

func (m *memStore) SaveBatch(ctx context.Context, batchID, source string, records []journey.Enriched, report *validation.Report, snapshot alerting.Snapshot, alerts []alerting.Alert) error {
	m.saved[batchID] = report
	m.snapshots[batchID] = &snapshot
	return nil
}

func (m *memStore) GetReport(ctx context.Context, batchID string) (*validation.Report, error) {
	r, ok := m.saved[batchID]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return r, nil
}

func (m *memStore) GetSnapshot(ctx context.Context, batchID string) (*alerting.Snapshot, error) {
	s, ok := m.snapshots[batchID]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return s, nil
}

func newTestServer(t *testing.T, store BatchStore) *httptest.Server {
	t.Helper()
	runner := pipeline.NewRunner(pipeline.Config{Workers: 4}, zap.NewNop(), nil)
	dims := staticDims{dims: validation.DimensionSets{
		Payers:    validation.NewKeySet("PAY-01"),
		Products:  validation.NewKeySet("PRD-01"),
		Providers: validation.NewKeySet("PRV-01"),
	}}
	h := NewBatchHandler(runner, dims, store, zap.NewNop())

	r := chi.NewRouter()
	r.Mount("/api/v1/batches", h.Routes())
	r.Mount("/api/v1/alerts", NewAlertsHandler(zap.NewNop()).Routes())

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunBatchEndToEnd(t *testing.T) {
	store := newMemStore()
	srv := newTestServer(t, store)

	body := map[string]interface{}{
		"source":         "hub-extract",
		"reference_date": "2024-03-01",
		"as_of":          "2024-03-01T00:00:00Z",
		"records": []map[string]interface{}{
			{
				"enrollment_id":     "ENR-1",
				"patient_id_hash":   "h1",
				"payer_id":          "PAY-01",
				"product_id":        "PRD-01",
				"provider_id":       "PRV-01",
				"enrolled_ts":       "2024-01-01T00:00:00Z",
				"first_shipment_ts": "2024-01-10T00:00:00Z",
			},
			{
				"enrollment_id":   "ENR-2",
				"patient_id_hash": "h2",
				"payer_id":        "PAY-99", // not in the reference set
				"product_id":      "PRD-01",
				"provider_id":     "PRV-01",
				"enrolled_ts":     "2024-01-01T00:00:00Z",
			},
		},
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/api/v1/batches", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var run RunResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	assert.NotEmpty(t, run.BatchID)
	assert.Equal(t, 2, run.Rows)
	require.NotNil(t, run.Report)

	// unknown payer on row 1 must surface as a failure
	var payerFail bool
	for _, f := range run.Report.Failures() {
		if f.Rule == validation.RulePayerKnown && f.Row == 1 {
			payerFail = true
		}
	}
	assert.True(t, payerFail)

	// persisted report is retrievable
	getResp, err := http.Get(srv.URL + "/api/v1/batches/" + run.BatchID + "/report")
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusOK, getResp.StatusCode)
}

func TestRunBatchRejectsEmpty(t *testing.T) {
	srv := newTestServer(t, newMemStore())

	resp, err := http.Post(srv.URL+"/api/v1/batches", "application/json", bytes.NewReader([]byte(`{"records":[]}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunBatchRejectsBadReferenceDate(t *testing.T) {
	srv := newTestServer(t, newMemStore())

	body := `{"records":[{"enrollment_id":"ENR-1"}],"reference_date":"03/01/2024"}`
	resp, err := http.Post(srv.URL+"/api/v1/batches", "application/json", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunBatchMaturityDaysOverride(t *testing.T) {
	srv := newTestServer(t, newMemStore())

	// 45 days old with no shipment: abandoned under the default window, but
	// still immature under a 60-day one.
	record := map[string]interface{}{
		"enrollment_id":   "ENR-1",
		"patient_id_hash": "h1",
		"payer_id":        "PAY-01",
		"product_id":      "PRD-01",
		"provider_id":     "PRV-01",
		"enrolled_ts":     "2024-01-01T00:00:00Z",
	}

	run := func(maturityDays int) RunResponse {
		body := map[string]interface{}{
			"reference_date": "2024-02-15",
			"as_of":          "2024-02-15T00:00:00Z",
			"maturity_days":  maturityDays,
			"records":        []map[string]interface{}{record},
		}
		raw, err := json.Marshal(body)
		require.NoError(t, err)

		resp, err := http.Post(srv.URL+"/api/v1/batches", "application/json", bytes.NewReader(raw))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var out RunResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	defaulted := run(0)
	require.NotNil(t, defaulted.Snapshot.AbandonmentRate)
	assert.InDelta(t, 1.0, *defaulted.Snapshot.AbandonmentRate, 1e-9)

	widened := run(60)
	assert.Nil(t, widened.Snapshot.AbandonmentRate, "no mature enrollments")

	resp, err := http.Post(srv.URL+"/api/v1/batches", "application/json",
		bytes.NewReader([]byte(`{"records":[{"enrollment_id":"ENR-1"}],"maturity_days":-5}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReportNotFound(t *testing.T) {
	srv := newTestServer(t, newMemStore())

	resp, err := http.Get(srv.URL + "/api/v1/batches/nope/report")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEvaluateAlerts(t *testing.T) {
	srv := newTestServer(t, newMemStore())

	median := 42.0
	raw, err := json.Marshal(alerting.Snapshot{MedianTimeToTherapyDays: &median})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/api/v1/alerts/evaluate", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Alerts []alerting.Alert `json:"alerts"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Alerts, 1)
	assert.Equal(t, alerting.MetricMedianTimeToTherapy, out.Alerts[0].Metric)
}
