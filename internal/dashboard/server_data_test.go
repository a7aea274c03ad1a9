package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fundingarb/config"
	"fundingarb/internal/metrics"
	"fundingarb/internal/models"
	"fundingarb/logger"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(config.DashboardConfig{Enabled: true, MetricsHistory: 10, LogHistory: 10}, logger.Logger())
	if err != nil {
		t.Fatalf("NewServer error: %v", err)
	}
	if srv == nil {
		t.Fatal("expected non-nil server")
	}
	t.Cleanup(srv.cleanup)
	return srv
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	router, err := srv.buildRouter("fundingarb")
	if err != nil {
		t.Fatalf("buildRouter error: %v", err)
	}
	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, path, nil))
	return res
}

func TestDisabledServerIsNil(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{}, logger.Logger())
	if err != nil || srv != nil {
		t.Fatalf("disabled dashboard = %v, %v", srv, err)
	}
	if err := srv.Run(context.Background(), "app"); err != nil {
		t.Fatalf("nil server Run: %v", err)
	}
}

func TestMetricsEndpointEmitsStoredMetrics(t *testing.T) {
	srv := newTestServer(t)
	metrics.EmitMetric(srv.log, "poller", "quotes_collected", 5, "gauge", nil)

	res := get(t, srv, "/api/metrics")
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}
	if len(srv.metricStore.snapshot()) == 0 {
		t.Fatalf("metrics store empty")
	}
}

func TestCandidatesBeforeFirstCycle(t *testing.T) {
	srv := newTestServer(t)
	if res := get(t, srv, "/api/candidates"); res.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", res.Code)
	}
	if res := get(t, srv, "/healthz"); res.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", res.Code)
	}
}

func TestCandidatesFromConsumedReport(t *testing.T) {
	srv := newTestServer(t)

	reports := make(chan models.CycleReport, 1)
	reports <- models.CycleReport{
		CycleID:   "c1",
		StartedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Candidates: []models.ArbitrageCandidate{
			{BaseCurrency: "BTC", ResultingAPR: 20},
			{BaseCurrency: "ETH", ResultingAPR: 10},
		},
		Diagnostics: models.Diagnostics{
			FailedVenues: []models.VenueFailure{{Venue: "bybit", Err: "unavailable"}},
		},
	}
	close(reports)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.Consume(ctx, reports)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := srv.cycles.last(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("report was not consumed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	res := get(t, srv, "/api/candidates?limit=1")
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d", res.Code)
	}
	var body struct {
		CycleID    string                      `json:"cycle_id"`
		Candidates []models.ArbitrageCandidate `json:"candidates"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.CycleID != "c1" || len(body.Candidates) != 1 || body.Candidates[0].BaseCurrency != "BTC" {
		t.Fatalf("unexpected body %+v", body)
	}

	if res := get(t, srv, "/api/candidates?limit=x"); res.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", res.Code)
	}

	res = get(t, srv, "/api/cycle")
	var cycle struct {
		Summary     cycleSummary       `json:"summary"`
		Diagnostics models.Diagnostics `json:"diagnostics"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &cycle); err != nil {
		t.Fatalf("decode cycle: %v", err)
	}
	if cycle.Summary.BestAsset != "BTC" || len(cycle.Diagnostics.FailedVenues) != 1 {
		t.Fatalf("unexpected cycle %+v", cycle)
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	srv := newTestServer(t)
	metrics.CyclesTotal.WithLabelValues("ok").Inc()

	res := get(t, srv, "/metrics")
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d", res.Code)
	}
}
