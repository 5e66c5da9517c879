package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pinger(err error) Pinger {
	return PingFunc(func(context.Context) error { return err })
}

func serveHealth(t *testing.T, h echo.HandlerFunc) (int, HealthReport) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	require.NoError(t, h(e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)))

	var r HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	return rec.Code, r
}

func TestHealthHandler(t *testing.T) {
	redisDown := Check{Name: "hr_cache", Pinger: pinger(errors.New("connection refused"))}
	tests := []struct {
		name   string
		store  error
		extra  []Check
		code   int
		status string
	}{
		{"healthy", nil, nil, http.StatusOK, StatusHealthy},
		{"storage down", errors.New("disk I/O error"), nil, http.StatusServiceUnavailable, StatusUnhealthy},
		{"cache down", nil, []Check{redisDown}, http.StatusOK, StatusDegraded},
		{"both down", errors.New("locked"), []Check{redisDown}, http.StatusServiceUnavailable, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, r := serveHealth(t, HealthHandler("sqlite", pinger(tt.store), nil, tt.extra...))
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.status, r.Status)
			assert.Equal(t, "sqlite", r.Backend)
			assert.Nil(t, r.Pool)
			require.Contains(t, r.Checks, "storage")
			if tt.store != nil {
				assert.Equal(t, tt.store.Error(), r.Checks["storage"].Error)
			}
		})
	}
}

func TestProbe_Timeout(t *testing.T) {
	slow := PingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	r := Probe(context.Background(), "xlsx", 20*time.Millisecond, Check{Name: "storage", Critical: true, Pinger: slow})
	assert.Equal(t, StatusUnhealthy, r.Status)
	assert.Contains(t, r.Checks["storage"].Error, "deadline exceeded")
}

func TestPoolStats_JSONTags(t *testing.T) {
	data, err := json.Marshal(PoolStats{TotalConns: 1, MaxConns: 10, AcquireDuration: "250ms"})
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	for _, key := range []string{"total_conns", "idle_conns", "acquired_conns", "max_conns", "acquire_count", "acquire_duration"} {
		assert.Contains(t, m, key)
	}
}
