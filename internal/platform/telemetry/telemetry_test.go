package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/occhealth/occhealth/internal/platform/apperr"
	"github.com/occhealth/occhealth/internal/platform/storage"
)

func TestTelemetryConfig_Defaults(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{})
	defer tp.Shutdown(context.Background())

	if tp.cfg.ServiceName != "occhealth-server" {
		t.Fatalf("expected default ServiceName='occhealth-server', got %q", tp.cfg.ServiceName)
	}
	if tp.cfg.ServiceVersion != "0.0.0" {
		t.Fatalf("expected default ServiceVersion='0.0.0', got %q", tp.cfg.ServiceVersion)
	}
	if tp.cfg.Environment != "development" {
		t.Fatalf("expected default Environment='development', got %q", tp.cfg.Environment)
	}
	if !tp.cfg.metricsOn() {
		t.Fatal("expected MetricsEnabled=true by default")
	}
	if tp.Resource()["service.name"] != "occhealth-server" {
		t.Errorf("unexpected resource: %v", tp.Resource())
	}
}

func TestProvidersDoNotCollide(t *testing.T) {
	a := NewTelemetryProvider(TelemetryConfig{})
	b := NewTelemetryProvider(TelemetryConfig{})
	a.CascadeOutcome("incident", "created")

	if got := testutil.ToFloat64(a.cascade.WithLabelValues("incident", "created")); got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(b.cascade.WithLabelValues("incident", "created")); got != 0 {
		t.Errorf("expected separate registries, got %v", got)
	}
}

func TestMetricsMiddleware(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{})
	e := echo.New()
	e.Use(tp.MetricsMiddleware())
	e.GET("/api/v1/encounters/:id", func(c echo.Context) error {
		if c.Param("id") == "0" {
			return echo.NewHTTPError(http.StatusNotFound, "missing")
		}
		return c.String(http.StatusOK, "ok")
	})

	for _, id := range []string{"1", "2", "0"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/encounters/"+id, nil))
	}

	ok := testutil.CollectAndCount(tp.httpDuration, "occhealth_http_request_duration_seconds")
	if ok != 2 {
		t.Errorf("expected two label sets (200 and 404), got %d", ok)
	}
	if got := testutil.ToFloat64(tp.httpInFlight); got != 0 {
		t.Errorf("expected no in-flight requests, got %v", got)
	}
}

func TestMetricsMiddleware_Disabled(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{MetricsEnabled: BoolPtr(false)})
	e := echo.New()
	e.Use(tp.MetricsMiddleware())
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	if n := testutil.CollectAndCount(tp.httpDuration); n != 0 {
		t.Errorf("expected no samples, got %d", n)
	}
}

func TestPrometheusHandler(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{ServiceVersion: "1.4.0"})
	tp.EncounterRecorded("J00")
	tp.EncounterRecorded("")
	tp.HealthMetrics().SetDBPoolActive(3)

	e := echo.New()
	e.GET("/metrics", tp.PrometheusHandler())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`occhealth_encounters_recorded_total{coded="true"} 1`,
		`occhealth_encounters_recorded_total{coded="false"} 1`,
		`occhealth_db_pool_active_connections 3`,
		`occhealth_build_info{environment="development",service="occhealth-server",version="1.4.0"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestPollPool(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	tp.HealthMetrics().PollPool(ctx, 1, func() (int64, int64) {
		calls++
		if calls == 2 {
			cancel()
		}
		return 5, 2
	})
	if got := testutil.ToFloat64(tp.dbPoolIdle); got != 2 {
		t.Errorf("expected idle gauge 2, got %v", got)
	}
}

type stubStore struct {
	storage.Store
	err error
}

func (s stubStore) Create(context.Context, string, storage.Fields) (*storage.Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &storage.Record{ID: 1}, nil
}

func (s stubStore) CountEncounters(context.Context, int64, *string, storage.DateRange) (int, error) {
	return 4, s.err
}

func TestInstrumentStore(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{})

	ok := tp.InstrumentStore(stubStore{}, "xlsx")
	if _, err := ok.Create(context.Background(), storage.EntityPatient, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n, _ := ok.CountEncounters(context.Background(), 1, nil, storage.DateRange{})
	if n != 4 {
		t.Errorf("expected passthrough count 4, got %d", n)
	}

	failing := tp.InstrumentStore(stubStore{err: fmt.Errorf("lock: %w", apperr.ErrStorageUnavailable)}, "xlsx")
	failing.Create(context.Background(), storage.EntityEncounter, nil)

	if got := testutil.ToFloat64(tp.storeErrors.WithLabelValues("xlsx", "create", storage.EntityEncounter, "unavailable")); got != 1 {
		t.Errorf("expected one unavailable error, got %v", got)
	}
	if n := testutil.CollectAndCount(tp.storeDuration); n != 3 {
		t.Errorf("expected 3 duration series, got %d", n)
	}
}

func TestErrorClass(t *testing.T) {
	tests := map[string]error{
		"":            nil,
		"validation":  apperr.Validation("date", "bad"),
		"not_found":   fmt.Errorf("x: %w", apperr.ErrNotFound),
		"conflict":    apperr.ErrConflict,
		"unavailable": apperr.ErrStorageUnavailable,
		"other":       fmt.Errorf("boom"),
	}
	for want, err := range tests {
		if got := ErrorClass(err); got != want {
			t.Errorf("ErrorClass(%v) = %q, want %q", err, got, want)
		}
	}
}
