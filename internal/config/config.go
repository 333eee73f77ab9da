package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the impression engine.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
	Metrics    MetricsConfig
	Ingest     IngestConfig
	Drain      DrainConfig
	Report     ReportConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// ClickHouseConfig configures the optional detection archive sink.
type ClickHouseConfig struct {
	Enabled  bool
	Addr     string
	Database string
	User     string
	Password string
}

type AuthConfig struct {
	Enabled   bool
	MasterKey string
	SkipPaths []string
}

type RateLimitConfig struct {
	Enabled     bool
	RPS         float64
	Burst       int
	IngestRPS   float64
	IngestBurst int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// IngestConfig controls batch ingestion.
type IngestConfig struct {
	// ChunkSize bounds how many events commit in one storage round trip
	ChunkSize int
	// LegacyDwellAvg switches bucket merges to the historical two-value
	// average instead of the true arithmetic mean
	LegacyDwellAvg bool
}

// DrainConfig controls the staged-detection drain job.
type DrainConfig struct {
	Enabled  bool
	Interval time.Duration
	PageSize int
}

// ReportConfig controls report computation.
type ReportConfig struct {
	CacheTTL time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("BRAINCOUNT_HTTP_ADDR", ":8080"),
			Env:             getEnv("BRAINCOUNT_ENV", "development"),
			ShutdownTimeout: getDurationEnv("BRAINCOUNT_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("BRAINCOUNT_DB_HOST", "localhost"),
			Port:     getIntEnv("BRAINCOUNT_DB_PORT", 5432),
			User:     getEnv("BRAINCOUNT_DB_USER", "braincount"),
			Password: getEnv("BRAINCOUNT_DB_PASSWORD", "braincount_secret"),
			DBName:   getEnv("BRAINCOUNT_DB_NAME", "braincount"),
			SSLMode:  getEnv("BRAINCOUNT_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("BRAINCOUNT_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("BRAINCOUNT_DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Enabled:  getBoolEnv("BRAINCOUNT_REDIS_ENABLED", true),
			Addr:     getEnv("BRAINCOUNT_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("BRAINCOUNT_REDIS_PASSWORD", ""),
			DB:       getIntEnv("BRAINCOUNT_REDIS_DB", 0),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  getBoolEnv("BRAINCOUNT_CLICKHOUSE_ENABLED", false),
			Addr:     getEnv("BRAINCOUNT_CLICKHOUSE_ADDR", "localhost:9000"),
			Database: getEnv("BRAINCOUNT_CLICKHOUSE_DB", "braincount"),
			User:     getEnv("BRAINCOUNT_CLICKHOUSE_USER", "default"),
			Password: getEnv("BRAINCOUNT_CLICKHOUSE_PASSWORD", ""),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("BRAINCOUNT_AUTH_ENABLED", true),
			MasterKey: getEnv("BRAINCOUNT_API_KEY_MASTER", ""),
			SkipPaths: getSliceEnv("BRAINCOUNT_AUTH_SKIP_PATHS", []string{"/health", "/metrics"}),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getBoolEnv("BRAINCOUNT_RATE_LIMIT_ENABLED", true),
			RPS:         getFloatEnv("BRAINCOUNT_RATE_LIMIT_RPS", 100),
			Burst:       getIntEnv("BRAINCOUNT_RATE_LIMIT_BURST", 20),
			IngestRPS:   getFloatEnv("BRAINCOUNT_RATE_LIMIT_INGEST_RPS", 500),
			IngestBurst: getIntEnv("BRAINCOUNT_RATE_LIMIT_INGEST_BURST", 100),
		},
		Log: LogConfig{
			Level:  getEnv("BRAINCOUNT_LOG_LEVEL", "info"),
			Format: getEnv("BRAINCOUNT_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("BRAINCOUNT_METRICS_ENABLED", true),
			Path:    getEnv("BRAINCOUNT_METRICS_PATH", "/metrics"),
		},
		Ingest: IngestConfig{
			ChunkSize:      getIntEnv("BRAINCOUNT_INGEST_CHUNK_SIZE", 100),
			LegacyDwellAvg: getBoolEnv("BRAINCOUNT_LEGACY_DWELL_AVG", false),
		},
		Drain: DrainConfig{
			Enabled:  getBoolEnv("BRAINCOUNT_DRAIN_ENABLED", true),
			Interval: getDurationEnv("BRAINCOUNT_DRAIN_INTERVAL", 1*time.Hour),
			PageSize: getIntEnv("BRAINCOUNT_DRAIN_PAGE_SIZE", 1000),
		},
		Report: ReportConfig{
			CacheTTL: getDurationEnv("BRAINCOUNT_REPORT_CACHE_TTL", 5*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.MasterKey == "" {
		return fmt.Errorf("BRAINCOUNT_API_KEY_MASTER is required when auth is enabled")
	}
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("BRAINCOUNT_INGEST_CHUNK_SIZE must be positive")
	}
	if c.Drain.PageSize <= 0 {
		return fmt.Errorf("BRAINCOUNT_DRAIN_PAGE_SIZE must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
