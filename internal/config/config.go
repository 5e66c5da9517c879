package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/labstack/gommon/bytes"
	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendXLSX     = "xlsx"
)

type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	StorageBackend      string        `mapstructure:"STORAGE_BACKEND"`
	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	DBMaxConns          int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32         `mapstructure:"DB_MIN_CONNS"`
	SQLitePath          string        `mapstructure:"SQLITE_PATH"`
	WorkbookPath        string        `mapstructure:"WORKBOOK_PATH"`
	WorkbookLockTimeout time.Duration `mapstructure:"WORKBOOK_LOCK_TIMEOUT"`

	HRBaseURL    string        `mapstructure:"HR_BASE_URL"`
	HRAPIKey     string        `mapstructure:"HR_API_KEY"`
	HRTimeout    time.Duration `mapstructure:"HR_TIMEOUT"`
	HRRetryCount int           `mapstructure:"HR_RETRY_COUNT"`
	RedisURL     string        `mapstructure:"REDIS_URL"`
	HRCacheTTL   time.Duration `mapstructure:"HR_CACHE_TTL"`

	CatalogSeedFile string `mapstructure:"CATALOG_SEED_FILE"`

	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	ImportLimit    string        `mapstructure:"IMPORT_BODY_LIMIT"`

	ExportBucket string `mapstructure:"EXPORT_BUCKET"`
	ExportDir    string `mapstructure:"EXPORT_DIR"`
	AWSRegion    string `mapstructure:"AWS_REGION"`
}

var keys = []string{
	"PORT", "ENV",
	"STORAGE_BACKEND", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"SQLITE_PATH", "WORKBOOK_PATH", "WORKBOOK_LOCK_TIMEOUT",
	"HR_BASE_URL", "HR_API_KEY", "HR_TIMEOUT", "HR_RETRY_COUNT",
	"REDIS_URL", "HR_CACHE_TTL",
	"CATALOG_SEED_FILE",
	"AUTH_ISSUER", "AUTH_SIGNING_KEY", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"BODY_LIMIT", "IMPORT_BODY_LIMIT",
	"EXPORT_BUCKET", "EXPORT_DIR", "AWS_REGION",
}

// Load reads the environment, overlaid on an optional .env file.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit env file; a missing file is ignored.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORAGE_BACKEND", BackendXLSX)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("SQLITE_PATH", "occhealth.db")
	v.SetDefault("WORKBOOK_PATH", "occhealth.xlsx")
	v.SetDefault("WORKBOOK_LOCK_TIMEOUT", "10s")
	v.SetDefault("HR_TIMEOUT", "5s")
	v.SetDefault("HR_RETRY_COUNT", 2)
	v.SetDefault("HR_CACHE_TTL", "15m")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("IMPORT_BODY_LIMIT", "10M")
	v.SetDefault("EXPORT_DIR", "exports")
	v.SetDefault("AWS_REGION", "us-east-1")

	// explicit binds so Unmarshal sees env-only keys
	for _, k := range keys {
		v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))

	if cfg.IsDev() {
		log.Println("WARNING: ENV=development, every request is served as admin without authentication.")
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the selected backend is fully configured and that
// non-development deployments authenticate requests.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE_BACKEND=%s", BackendPostgres)
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORAGE_BACKEND=%s", BackendSQLite)
		}
	case BackendXLSX:
		if c.WorkbookPath == "" {
			return fmt.Errorf("WORKBOOK_PATH is required when STORAGE_BACKEND=%s", BackendXLSX)
		}
		if c.WorkbookLockTimeout <= 0 {
			return fmt.Errorf("WORKBOOK_LOCK_TIMEOUT must be positive, got %s", c.WorkbookLockTimeout)
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be %q, %q or %q, got %q",
			BackendPostgres, BackendSQLite, BackendXLSX, c.StorageBackend)
	}

	if !c.IsDev() && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY of at least 32 bytes is required outside development (ENV=%q)", c.Env)
	}
	if c.HRRetryCount < 0 {
		return fmt.Errorf("HR_RETRY_COUNT must be >= 0, got %d", c.HRRetryCount)
	}
	for key, v := range map[string]string{"BODY_LIMIT": c.BodyLimit, "IMPORT_BODY_LIMIT": c.ImportLimit} {
		if _, err := bytes.Parse(strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%s must be a size such as 1M or 512K, got %q", key, v)
		}
	}
	if c.RedisURL != "" && c.HRBaseURL == "" {
		return fmt.Errorf("REDIS_URL caches the HR directory and needs HR_BASE_URL")
	}
	return nil
}
