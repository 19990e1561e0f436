// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"

	"etl-orchestrator/internal/domain"
)

// ArchiveConfig selects where terminal run reports are stored.
type ArchiveConfig struct {
	// URL is s3://bucket/prefix, az://container/prefix, gs://bucket/prefix or
	// file:///dir. Empty disables archiving.
	URL string

	S3KeyID    string
	S3Secret   string
	S3Endpoint string
	S3Region   string

	AzureAccountName string
	AzureAccountKey  string

	GCSKeyFile string
}

// Scheme returns the URL scheme, or "" when archiving is disabled.
func (a ArchiveConfig) Scheme() string {
	if a.URL == "" {
		return ""
	}
	u, err := url.Parse(a.URL)
	if err != nil {
		return ""
	}
	return u.Scheme
}

// Config holds the configuration of the orchestrator server and CLI.
type Config struct {
	MetaDBPath    string // SQLite config store and execution log (default "etl_meta.sqlite")
	WarehousePath string // DuckDB file; empty opens an in-memory warehouse
	ListenAddr    string // HTTP listen address (default ":8080")
	LogLevel      string // log level: debug, info, warn, error (default "info")
	Env           string // environment: "development" (default) or "production"
	JWTSecret     string // HS256 shared secret for API tokens

	// DefinitionsDir is applied to the config store at startup when set.
	DefinitionsDir string

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 100)
	RateLimitBurst int     // burst capacity (default 200)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	// Orchestration
	MaxParallelPipelines int                   // 0 is unbounded
	StrictParallelGroups bool                  // split phases by parallel group
	DisabledPolicy       domain.DisabledPolicy // satisfied (default) or blocked
	MaxConcurrentRuns    int                   // default 1

	// Alerts
	DefaultAlertRecipients []string
	AlertWebhookURL        string
	AlertRatePerMinute     int // default 30

	Archive ArchiveConfig

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// NewLogger builds the process logger: JSON in production, text otherwise.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		MetaDBPath:           os.Getenv("META_DB_PATH"),
		WarehousePath:        os.Getenv("WAREHOUSE_PATH"),
		ListenAddr:           os.Getenv("LISTEN_ADDR"),
		LogLevel:             os.Getenv("LOG_LEVEL"),
		Env:                  os.Getenv("ENV"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		DefinitionsDir:       os.Getenv("DEFINITIONS_DIR"),
		StrictParallelGroups: parseBoolEnvDefault("STRICT_PARALLEL_GROUPS", false),
		DisabledPolicy:       domain.DisabledPolicy(strings.ToLower(strings.TrimSpace(os.Getenv("DISABLED_DEPENDENCY_POLICY")))),
		AlertWebhookURL:      os.Getenv("ALERT_WEBHOOK_URL"),
		Archive: ArchiveConfig{
			URL:              os.Getenv("ARCHIVE_URL"),
			S3KeyID:          os.Getenv("KEY_ID"),
			S3Secret:         os.Getenv("SECRET"),
			S3Endpoint:       os.Getenv("ENDPOINT"),
			S3Region:         os.Getenv("REGION"),
			AzureAccountName: os.Getenv("AZURE_ACCOUNT_NAME"),
			AzureAccountKey:  os.Getenv("AZURE_ACCOUNT_KEY"),
			GCSKeyFile:       os.Getenv("GCS_KEY_FILE"),
		},
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}

	var err error
	if cfg.MaxParallelPipelines, err = parseIntEnv("MAX_PARALLEL_PIPELINES"); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrentRuns, err = parseIntEnv("MAX_CONCURRENT_RUNS"); err != nil {
		return nil, err
	}
	if cfg.AlertRatePerMinute, err = parseIntEnv("ALERT_RATE_PER_MINUTE"); err != nil {
		return nil, err
	}

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitList(v)
	}
	if v := os.Getenv("DEFAULT_ALERT_RECIPIENTS"); v != "" {
		cfg.DefaultAlertRecipients = splitList(v)
	}

	// Defaults
	if cfg.MetaDBPath == "" {
		cfg.MetaDBPath = "etl_meta.sqlite"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 200
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.MaxConcurrentRuns == 0 {
		cfg.MaxConcurrentRuns = 1
	}
	if cfg.AlertRatePerMinute == 0 {
		cfg.AlertRatePerMinute = 30
	}
	switch cfg.DisabledPolicy {
	case "":
		cfg.DisabledPolicy = domain.DisabledSatisfied
	case domain.DisabledSatisfied, domain.DisabledBlocked:
	default:
		return nil, fmt.Errorf("DISABLED_DEPENDENCY_POLICY must be %q or %q, got %q",
			domain.DisabledSatisfied, domain.DisabledBlocked, cfg.DisabledPolicy)
	}
	switch cfg.Archive.Scheme() {
	case "", "s3", "az", "gs", "file":
	default:
		return nil, fmt.Errorf("ARCHIVE_URL scheme must be s3, az, gs or file, got %q", cfg.Archive.URL)
	}

	if cfg.WarehousePath == "" {
		cfg.Warnings = append(cfg.Warnings, "WAREHOUSE_PATH not set, using an in-memory warehouse")
	}
	if cfg.JWTSecret == "" {
		cfg.Warnings = append(cfg.Warnings, "JWT_SECRET not set, the HTTP API accepts unauthenticated requests")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("JWT_SECRET must be set in production (ENV=production)")
		}
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
		if cfg.WarehousePath == "" {
			return nil, fmt.Errorf("WAREHOUSE_PATH must be set in production (ENV=production)")
		}
	}

	return cfg, nil
}

func parseIntEnv(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", key, v)
	}
	return n, nil
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Environment variables take precedence.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
