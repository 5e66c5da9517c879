package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// Pinger is satisfied by every storage backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Check is a dependency probed by the health endpoint. A failing critical
// check makes the service unhealthy; any other failure only degrades it.
type Check struct {
	Name     string
	Critical bool
	Pinger   Pinger
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type CheckResult struct {
	Status  string `json:"status"`
	Latency string `json:"latency"`
	Error   string `json:"error,omitempty"`
}

type HealthReport struct {
	Status  string                 `json:"status"`
	Backend string                 `json:"backend"`
	Checks  map[string]CheckResult `json:"checks"`
	Pool    *PoolStats             `json:"pool,omitempty"`
}

type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// Probe runs every check, each under its own timeout.
func Probe(ctx context.Context, backend string, timeout time.Duration, checks ...Check) *HealthReport {
	r := &HealthReport{Status: StatusHealthy, Backend: backend, Checks: make(map[string]CheckResult, len(checks))}
	for _, chk := range checks {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		err := chk.Pinger.Ping(cctx)
		cancel()

		res := CheckResult{Status: StatusHealthy, Latency: time.Since(start).Round(time.Microsecond).String()}
		if err != nil {
			res.Error = err.Error()
			res.Status = StatusUnhealthy
			switch {
			case chk.Critical:
				r.Status = StatusUnhealthy
			case r.Status == StatusHealthy:
				r.Status = StatusDegraded
			}
		}
		r.Checks[chk.Name] = res
	}
	return r
}

// HealthHandler serves the storage health check. store is always a critical
// check; pool is only set for the postgres backend.
func HealthHandler(backend string, store Pinger, pool *pgxpool.Pool, extra ...Check) echo.HandlerFunc {
	checks := append([]Check{{Name: "storage", Critical: true, Pinger: store}}, extra...)
	return func(c echo.Context) error {
		r := Probe(c.Request().Context(), backend, 5*time.Second, checks...)
		if pool != nil {
			r.Pool = GetPoolStats(pool)
		}
		code := http.StatusOK
		if r.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		return c.JSON(code, r)
	}
}
