// Package config loads TickerPulse's process configuration from environment
// variables and, after the store opens, from the settings key/value table.
//
// Loading order mirrors the teacher project's precedence: a .env file (if
// present), then environment variables with typed defaults, then settings-DB
// overrides applied later via UpdateFromSettings. Settings DB values win for
// the keys UpdateFromSettings reads (API credentials, the GitHub token and
// the backup settings); the overlay runs once, at startup, so a changed
// settings row takes effect on the next restart.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds process-wide configuration for the TickerPulse core.
type Config struct {
	DBPath        string // path to the embedded store file
	Port          int    // HTTP port for the SSE/WS/health surface
	LogLevel      string
	LogFormatJSON bool
	MarketTimezone string // default America/New_York

	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAIKey     string
	XAIAPIKey       string
	PolygonAPIKey   string
	AlphaVantageKey string
	FinnhubAPIKey   string
	GitHubToken     string

	DBPoolSize       int
	DBPoolTimeoutSec int
	DBBusyTimeoutMs  int
	DBCacheSizeKB    int

	PriceRefreshIntervalSeconds int
	PriceRefreshWorkers         int

	WSMaxSubscriptionsPerClient int
	WSPriceBroadcast            bool

	BackupBucket          string
	BackupEndpoint        string
	BackupRegion          string
	BackupAccessKeyID     string
	BackupSecretAccessKey string
}

// Load reads configuration from the environment (and an optional .env file).
// Values are not yet reconciled against the settings DB; call
// UpdateFromSettings once the store is open.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBPath:         getEnv("DB_PATH", "./data/tickerpulse.db"),
		Port:           getEnvAsInt("FLASK_PORT", 8000),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormatJSON:  getEnvAsBool("LOG_FORMAT_JSON", false),
		MarketTimezone: getEnv("MARKET_TIMEZONE", "America/New_York"),

		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		GoogleAIKey:     getEnv("GOOGLE_AI_KEY", ""),
		XAIAPIKey:       getEnv("XAI_API_KEY", ""),
		PolygonAPIKey:   getEnv("POLYGON_API_KEY", ""),
		AlphaVantageKey: getEnv("ALPHA_VANTAGE_KEY", ""),
		FinnhubAPIKey:   getEnv("FINNHUB_API_KEY", ""),
		GitHubToken:     getEnv("GITHUB_TOKEN", ""),

		DBPoolSize:       getEnvAsInt("DB_POOL_SIZE", 5),
		DBPoolTimeoutSec: getEnvAsInt("DB_POOL_TIMEOUT", 10),
		DBBusyTimeoutMs:  getEnvAsInt("DB_BUSY_TIMEOUT_MS", 5000),
		DBCacheSizeKB:    getEnvAsInt("DB_CACHE_SIZE_KB", 8192),

		PriceRefreshIntervalSeconds: getEnvAsInt("PRICE_REFRESH_INTERVAL_SECONDS", 60),
		PriceRefreshWorkers:         getEnvAsInt("PRICE_REFRESH_WORKERS", 5),

		WSMaxSubscriptionsPerClient: getEnvAsInt("WS_MAX_SUBSCRIPTIONS_PER_CLIENT", 50),
		WSPriceBroadcast:            getEnvAsBool("WS_PRICE_BROADCAST", true),

		BackupBucket:          getEnv("BACKUP_BUCKET", ""),
		BackupEndpoint:        getEnv("BACKUP_ENDPOINT", ""),
		BackupRegion:          getEnv("BACKUP_REGION", "auto"),
		BackupAccessKeyID:     getEnv("BACKUP_ACCESS_KEY_ID", ""),
		BackupSecretAccessKey: getEnv("BACKUP_SECRET_ACCESS_KEY", ""),
	}

	if cfg.PriceRefreshWorkers > cfg.DBPoolSize {
		cfg.PriceRefreshWorkers = cfg.DBPoolSize
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that must hold regardless of source.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.DBPoolSize <= 0 {
		return fmt.Errorf("invalid db pool size: %d", c.DBPoolSize)
	}
	return nil
}

// SettingsReader is the minimal interface config needs against the settings
// KV table, kept narrow to avoid an import cycle with internal/store.
type SettingsReader interface {
	GetSetting(key string) (string, bool, error)
}

// UpdateFromSettings overlays settings-DB values onto env-derived config.
// Empty settings-DB values keep whatever was loaded from the environment.
func (c *Config) UpdateFromSettings(settings SettingsReader) error {
	overlay := func(key string, dst *string) error {
		v, ok, err := settings.GetSetting(key)
		if err != nil {
			return fmt.Errorf("reading setting %s: %w", key, err)
		}
		if ok && v != "" {
			*dst = v
		}
		return nil
	}

	targets := map[string]*string{
		"anthropic_api_key": &c.AnthropicAPIKey,
		"openai_api_key":    &c.OpenAIAPIKey,
		"google_ai_key":     &c.GoogleAIKey,
		"xai_api_key":       &c.XAIAPIKey,
		"polygon_api_key":   &c.PolygonAPIKey,
		"alpha_vantage_key": &c.AlphaVantageKey,
		"finnhub_api_key":   &c.FinnhubAPIKey,
		"github_token":      &c.GitHubToken,
		"backup_bucket":     &c.BackupBucket,
		"backup_access_key_id":     &c.BackupAccessKeyID,
		"backup_secret_access_key": &c.BackupSecretAccessKey,
	}
	for key, dst := range targets {
		if err := overlay(key, dst); err != nil {
			return err
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvAsBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
