// Package config loads runtime settings from the environment (and an
// optional .env file) through viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends selectable through STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendSupabase = "supabase"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int    `mapstructure:"PORT"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// Record store
	StoreBackend string `mapstructure:"STORE_BACKEND"`
	SQLitePath   string `mapstructure:"SQLITE_PATH"`
	DatabaseURL  string `mapstructure:"DATABASE_URL"`

	// Supabase
	SupabaseURL        string `mapstructure:"SUPABASE_URL"`
	SupabaseServiceKey string `mapstructure:"SUPABASE_SERVICE_ROLE_KEY"`
	SupabaseAnonKey    string `mapstructure:"SUPABASE_ANON_KEY"`

	// HTTP client
	HTTPTimeout time.Duration `mapstructure:"HTTP_TIMEOUT"`

	// Resilience
	MaxRetries     int           `mapstructure:"MAX_RETRIES"`
	InitialBackoff time.Duration `mapstructure:"INITIAL_BACKOFF"`
	MaxConcurrency int           `mapstructure:"MAX_CONCURRENCY"`

	// Cache
	CacheTTL time.Duration `mapstructure:"CACHE_TTL"`

	// Observability
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// HTTP surface
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	ImportMaxBytes     int64  `mapstructure:"IMPORT_MAX_BYTES"`
}

var defaults = map[string]any{
	"PORT":                        8080,
	"LOG_LEVEL":                   "info",
	"STORE_BACKEND":               BackendSQLite,
	"SQLITE_PATH":                 "ressarcimentos.db",
	"DATABASE_URL":                "",
	"SUPABASE_URL":                "",
	"SUPABASE_SERVICE_ROLE_KEY":   "",
	"SUPABASE_ANON_KEY":           "",
	"HTTP_TIMEOUT":                10 * time.Second,
	"MAX_RETRIES":                 3,
	"INITIAL_BACKOFF":             100 * time.Millisecond,
	"MAX_CONCURRENCY":             50,
	"CACHE_TTL":                   time.Minute,
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"CORS_ALLOWED_ORIGINS":        "*",
	"IMPORT_MAX_BYTES":            int64(10 << 20),
}

// Load reads configuration from environment variables with defaults and
// validates the backend-specific settings.
func Load() (*Config, error) {
	for key, value := range defaults {
		viper.SetDefault(key, value)
		// Bind explicitly so Unmarshal sees env-only keys.
		_ = viper.BindEnv(key)
	}
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the selected backend has what it needs.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case BackendSupabase:
		if c.SupabaseURL == "" || c.SupabaseKey() == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY (or SUPABASE_ANON_KEY) are required for the supabase backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.Port <= 0 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	return nil
}

// SupabaseKey prefers the service role key and falls back to the anon key.
func (c *Config) SupabaseKey() string {
	if c.SupabaseServiceKey != "" {
		return c.SupabaseServiceKey
	}
	return c.SupabaseAnonKey
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
