package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/occhealth/occhealth/internal/config"
	"github.com/occhealth/occhealth/internal/domain/catalog"
	"github.com/occhealth/occhealth/internal/domain/dependent"
	"github.com/occhealth/occhealth/internal/domain/doctor"
	"github.com/occhealth/occhealth/internal/domain/encounter"
	"github.com/occhealth/occhealth/internal/domain/patient"
	"github.com/occhealth/occhealth/internal/platform/auth"
	"github.com/occhealth/occhealth/internal/platform/db"
	"github.com/occhealth/occhealth/internal/platform/export"
	"github.com/occhealth/occhealth/internal/platform/middleware"
)

// newServer builds the HTTP surface over a wired app.
func newServer(a *app) *echo.Echo {
	cfg, logger := a.cfg, a.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(!cfg.IsDev()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.ImportLimit))
	e.Use(a.tp.MetricsMiddleware())

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}
	e.Use(middleware.Audit(logger))

	var checks []db.Check
	if a.rdb != nil {
		checks = append(checks, db.Check{Name: "hr_cache", Pinger: db.PingFunc(func(ctx context.Context) error {
			return a.rdb.Ping(ctx).Err()
		})})
	}
	e.GET("/health", db.HealthHandler(a.backend.name, a.store, a.backend.pool, checks...))
	e.GET("/metrics", a.tp.PrometheusHandler())

	api := e.Group("/api/v1")
	api.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	// the workbook download streams for as long as it takes
	api.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/api/v1/export"))

	catalog.NewHandler(a.catalog).RegisterRoutes(api)
	patient.NewHandler(a.patients).RegisterRoutes(api)
	doctor.NewHandler(a.doctors).RegisterRoutes(api)
	dependent.NewHandler(a.dependents).RegisterRoutes(api)
	encounter.NewHandler(a.encounters).RegisterRoutes(api)
	export.NewHandler(a.exporter).RegisterRoutes(api)
	return e
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}
	defer a.Close()

	if n, err := a.seedCatalog(ctx, cfg.CatalogSeedFile); err != nil {
		logger.Error().Err(err).Str("file", cfg.CatalogSeedFile).Msg("catalog seed failed")
	} else if n > 0 {
		logger.Info().Int("created", n).Msg("catalog seeded")
	}
	go a.pollPool(ctx)

	e := newServer(a)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("backend", cfg.StorageBackend).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
