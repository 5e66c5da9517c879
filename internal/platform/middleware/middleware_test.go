package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"missing", "", false},
		{"caller id kept", "req-2024.03:05_a", true},
		{"control characters", "abc\ninjected", false},
		{"too long", strings.Repeat("a", 129), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()

			var seen string
			err := RequestID()(func(c echo.Context) error {
				seen, _ = c.Get("request_id").(string)
				return nil
			})(e.NewContext(req, rec))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if tt.keep && seen != tt.incoming {
				t.Errorf("expected %q, got %q", tt.incoming, seen)
			}
			if !tt.keep && (seen == "" || seen == tt.incoming) {
				t.Errorf("expected a fresh id, got %q", seen)
			}
			if rec.Header().Get(RequestIDHeader) != seen {
				t.Errorf("response header %q does not match %q", rec.Header().Get(RequestIDHeader), seen)
			}
		})
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(RequestID(), Recovery(zerolog.New(&buf)))
	e.GET("/api/v1/encounters/:id", func(c echo.Context) error {
		panic("nil encounter")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/encounters/7", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "nil encounter") {
		t.Error("panic value leaked to the client")
	}
	logged := buf.String()
	for _, want := range []string{`"message":"panic recovered"`, `"route":"/api/v1/encounters/:id"`, `"panic":"nil encounter"`, `"stack"`} {
		if !strings.Contains(logged, want) {
			t.Errorf("log missing %s: %s", want, logged)
		}
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ok", nil), rec)

	err := Recovery(zerolog.Nop())(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestLogger_QuietRoutes(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(Logger(zerolog.New(&buf).Level(zerolog.InfoLevel)))
	e.GET("/health", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/metrics", func(c echo.Context) error { return c.String(http.StatusOK, "# metrics") })
	e.GET("/api/v1/codes", func(c echo.Context) error { return c.String(http.StatusOK, "[]") })

	for _, path := range []string{"/health", "/metrics"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
		if buf.Len() != 0 {
			t.Errorf("expected successful %s poll below info level, got %s", path, buf.String())
		}
	}

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/codes", nil))
	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected a JSON log line: %v", err)
	}
	if line["route"] != "/api/v1/codes" || line["bytes_out"] != float64(2) {
		t.Errorf("unexpected log line: %v", line)
	}
}

func TestLogger_LevelFollowsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/encounters/3", nil), httptest.NewRecorder())
	c.Set("request_id", "req-9")

	h := Logger(logger)(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "storage unavailable")
	})
	h(c)

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected a JSON log line: %v", err)
	}
	if line["level"] != "error" {
		t.Errorf("expected error level, got %v", line["level"])
	}
	if line["status"] != float64(http.StatusServiceUnavailable) || line["request_id"] != "req-9" {
		t.Errorf("unexpected log line: %v", line)
	}
}

func TestErrorHandler_RetryAfterOn503(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/encounters", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "req-2")

	ErrorHandler(zerolog.Nop())(echo.NewHTTPError(http.StatusServiceUnavailable, "create encounter: storage unavailable"), c)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != RetryAfterSeconds {
		t.Errorf("expected Retry-After %s, got %q", RetryAfterSeconds, rec.Header().Get("Retry-After"))
	}
	var body ErrorBody
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Error != "create encounter: storage unavailable" || body.RequestID != "req-2" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestErrorHandler_PlainError(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	ErrorHandler(zerolog.Nop())(errors.New("boom"), c)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "" {
		t.Error("expected no Retry-After on 500")
	}
	var body ErrorBody
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Error != "Internal Server Error" {
		t.Errorf("expected generic message, got %q", body.Error)
	}
}

func TestErrorHandler_NotFound(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	ErrorHandler(zerolog.Nop())(echo.ErrNotFound, c)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
