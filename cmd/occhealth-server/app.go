package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/occhealth/occhealth/internal/config"
	"github.com/occhealth/occhealth/internal/domain/cascade"
	"github.com/occhealth/occhealth/internal/domain/catalog"
	"github.com/occhealth/occhealth/internal/domain/dependent"
	"github.com/occhealth/occhealth/internal/domain/doctor"
	"github.com/occhealth/occhealth/internal/domain/encounter"
	"github.com/occhealth/occhealth/internal/domain/patient"
	"github.com/occhealth/occhealth/internal/platform/blobstore"
	"github.com/occhealth/occhealth/internal/platform/db"
	"github.com/occhealth/occhealth/internal/platform/export"
	"github.com/occhealth/occhealth/internal/platform/hrdirectory"
	"github.com/occhealth/occhealth/internal/platform/storage"
	"github.com/occhealth/occhealth/internal/platform/storage/sqlstore"
	"github.com/occhealth/occhealth/internal/platform/storage/xlsxstore"
	"github.com/occhealth/occhealth/internal/platform/telemetry"
)

var version = "0.1.0"

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", "occhealth-server").Logger()
}

// backend is the opened storage adapter plus the handles behind it.
type backend struct {
	name  string
	store storage.Store
	sqlDB *sql.DB
	pool  *pgxpool.Pool
}

func (b *backend) Close() error {
	err := b.store.Close()
	if b.pool != nil {
		b.pool.Close()
	}
	return err
}

// openSQL opens the relational database of cfg without wrapping it in a
// store; migrate uses it directly.
func openSQL(ctx context.Context, cfg *config.Config) (*sql.DB, *pgxpool.Pool, db.Dialect, error) {
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, db.Dialect{}, err
		}
		return db.OpenPostgres(pool), pool, db.Postgres, nil
	case config.BackendSQLite:
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, db.Dialect{}, err
		}
		return sqlDB, nil, db.SQLite, nil
	}
	return nil, nil, db.Dialect{}, fmt.Errorf("backend %q has no SQL database", cfg.StorageBackend)
}

func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backend, error) {
	b := &backend{name: cfg.StorageBackend}
	switch cfg.StorageBackend {
	case config.BackendXLSX:
		s, err := xlsxstore.New(cfg.WorkbookPath,
			xlsxstore.WithLockTimeout(cfg.WorkbookLockTimeout), xlsxstore.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		b.store = s
		logger.Info().Str("path", s.Path()).Msg("using workbook storage")
	case config.BackendPostgres, config.BackendSQLite:
		sqlDB, pool, dialect, err := openSQL(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b.sqlDB, b.pool = sqlDB, pool
		// the embedded sqlite file is ours to migrate; postgres is migrated
		// explicitly with `migrate up`
		if dialect == db.SQLite {
			n, err := db.NewMigrator(sqlDB, dialect).Up(ctx)
			if err != nil {
				sqlDB.Close()
				return nil, fmt.Errorf("migrate sqlite: %w", err)
			}
			if n > 0 {
				logger.Info().Int("applied", n).Msg("sqlite migrations applied")
			}
		}
		b.store = sqlstore.New(sqlDB, dialect)
		logger.Info().Str("backend", dialect.Name).Msg("using relational storage")
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
	return b, nil
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blobstore.BlobStore, error) {
	if cfg.ExportBucket != "" {
		return blobstore.NewS3(ctx, blobstore.S3Config{Bucket: cfg.ExportBucket, Region: cfg.AWSRegion})
	}
	return blobstore.NewLocal(cfg.ExportDir)
}

// app holds every wired service. Commands build one and close it on exit.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	tp      *telemetry.TelemetryProvider
	backend *backend
	store   storage.Store
	rdb     *redis.Client
	hr      hrdirectory.Directory

	catalog    *catalog.Service
	patients   *patient.Service
	doctors    *doctor.Service
	dependents *dependent.Service
	encounters *encounter.Service
	exporter   *export.Exporter
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	tp := telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{
		ServiceVersion: version,
		Environment:    cfg.Env,
	})

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		logger:  logger,
		tp:      tp,
		backend: b,
		store:   tp.InstrumentStore(b.store, b.name),
	}

	a.hr = hrdirectory.New(hrdirectory.Config{
		BaseURL:    cfg.HRBaseURL,
		APIKey:     cfg.HRAPIKey,
		Timeout:    cfg.HRTimeout,
		RetryCount: cfg.HRRetryCount,
	}, logger)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.rdb = redis.NewClient(opts)
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			// lookups fall through to HR while redis is down
			logger.Warn().Err(err).Msg("redis unreachable, HR cache degraded")
		}
		a.hr = hrdirectory.NewCached(a.hr, a.rdb, cfg.HRCacheTTL, logger)
	}

	a.catalog = catalog.NewService(catalog.NewRepo(a.store), logger)
	a.patients = patient.NewService(patient.NewRepo(a.store), a.hr, logger)
	a.doctors = doctor.NewService(doctor.NewRepo(a.store))

	depRepo := dependent.NewRepo(a.store)
	a.dependents = dependent.NewService(depRepo)
	dispatcher := cascade.NewDispatcher(depRepo, logger, cascade.WithObserver(func(o cascade.Outcome) {
		tp.CascadeOutcome(o.Rule, string(o.Status))
	}))
	a.encounters = encounter.NewService(encounter.NewRepo(a.store), a.patients, a.catalog, logger,
		encounter.WithDispatcher(dispatcher),
		encounter.WithRecordHook(func(e *encounter.Encounter) { tp.EncounterRecorded(e.Code) }),
	)

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open export store: %w", err)
	}
	a.exporter = export.New(a.store, blobs, logger)
	return a, nil
}

// seedCatalog loads CATALOG_SEED_FILE into an empty catalog.
func (a *app) seedCatalog(ctx context.Context, path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	entries, err := catalog.LoadSeedFile(path)
	if err != nil {
		return 0, err
	}
	return a.catalog.Seed(ctx, entries)
}

// pollPool feeds pool gauges until ctx ends; a no-op without a pool.
func (a *app) pollPool(ctx context.Context) {
	pool := a.backend.pool
	if pool == nil {
		return
	}
	a.tp.HealthMetrics().PollPool(ctx, 15*time.Second, func() (int64, int64) {
		st := pool.Stat()
		return int64(st.AcquiredConns()), int64(st.IdleConns())
	})
}

func (a *app) Close() {
	var errs []error
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	errs = append(errs, a.backend.Close(), a.tp.Shutdown(context.Background()))
	if err := errors.Join(errs...); err != nil {
		a.logger.Error().Err(err).Msg("shutdown")
	}
}
