// Package config loads the tournament service's configuration: a base JSON
// file overridden by environment variables, following the teacher's
// struct-of-structs + Load()/applyEnvOverrides() layering.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config is the root configuration object for the tournament service.
type Config struct {
	ServerConfig    ServerConfig    `json:"server"`
	DatabaseConfig  DatabaseConfig  `json:"database"`
	RedisConfig     RedisConfig     `json:"redis"`
	LoggingConfig   LoggingConfig   `json:"logging"`
	MetricsConfig   MetricsConfig   `json:"metrics"`
	RoundConfig     RoundConfig     `json:"round"`
	PriceFeedConfig PriceFeedConfig `json:"price_feed"`
	KlineConfig     KlineConfig     `json:"kline"`
	RetentionConfig RetentionConfig `json:"retention"`
	AuthConfig      AuthConfig      `json:"auth"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout_sec"`
	WriteTimeout    int    `json:"write_timeout_sec"`
	ShutdownTimeout int    `json:"shutdown_timeout_sec"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds the kline-cache Redis settings.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// LoggingConfig controls the zerolog-backed logging facade.
type LoggingConfig struct {
	Level      string `json:"level"`       // DEBUG, INFO, WARN, ERROR
	Output     string `json:"output"`      // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"` // Output as JSON
}

// MetricsConfig controls the Prometheus /metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// RoundConfig holds round-lifecycle timing and scoring parameters.
type RoundConfig struct {
	RoundDurationMin   int     `json:"round_duration_min"`
	PriceRefreshMs     int     `json:"price_refresh_ms"`
	PriceStaleMs       int     `json:"price_stale_ms"`
	LockWindowMin      int     `json:"lock_window_min"`
	SignatureWindowSec int     `json:"signature_window_sec"`
	FlatThresholdPct   float64 `json:"flat_threshold_pct"`
}

// PriceFeedConfig holds live price feed connection parameters.
type PriceFeedConfig struct {
	WSURL string `json:"ws_url"`
	Mode  string `json:"mode"` // "allMids" | "trades" | other
	Coin  string `json:"coin"` // "BTC"
}

// KlineConfig holds kline-fetcher upstream and caching parameters.
type KlineConfig struct {
	InfoURL         string   `json:"info_url"`
	DefaultIntervals []string `json:"default_intervals"`
	DefaultLimit    int      `json:"default_limit"`
	MaxLimit        int      `json:"max_limit"`
	CacheSec        int      `json:"cache_sec"`
}

// RetentionConfig bounds how many append-only/history rows are kept.
type RetentionConfig struct {
	FeedLimit       int `json:"feed_limit"`
	VerdictLimit    int `json:"verdict_limit"`
	JudgmentLimit   int `json:"judgment_limit"`
	RoundLimit      int `json:"round_limit"`
	ScoreEventLimit int `json:"score_event_limit"`
}

// AuthConfig holds the admin bearer token. The HMAC signature window is
// RoundConfig.SignatureWindowSec.
type AuthConfig struct {
	AdminAPIToken string `json:"admin_api_token"`
}

// Load reads config.json if present, then applies environment overrides
// (which always take precedence), matching the teacher's layering order.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", orInt(cfg.ServerConfig.Port, 8080))
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", orStr(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", orStr(cfg.ServerConfig.AllowedOrigins, "*"))
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", orInt(cfg.ServerConfig.ReadTimeout, 30))
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", orInt(cfg.ServerConfig.WriteTimeout, 30))
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", orInt(cfg.ServerConfig.ShutdownTimeout, 10))

	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", orStr(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", orInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", orStr(cfg.DatabaseConfig.User, "postgres"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", orStr(cfg.DatabaseConfig.Database, "tournament"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", orStr(cfg.DatabaseConfig.SSLMode, "disable"))

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "true") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", orStr(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", orInt(cfg.RedisConfig.PoolSize, 10))

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", orStr(cfg.LoggingConfig.Level, "INFO"))
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", orStr(cfg.LoggingConfig.Output, "stdout"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"

	cfg.MetricsConfig.Enabled = getEnvOrDefault("METRICS_ENABLED", "true") == "true"
	cfg.MetricsConfig.Path = getEnvOrDefault("METRICS_PATH", orStr(cfg.MetricsConfig.Path, "/metrics"))

	cfg.RoundConfig.RoundDurationMin = getEnvIntOrDefault("ROUND_DURATION_MIN", orInt(cfg.RoundConfig.RoundDurationMin, 30))
	cfg.RoundConfig.PriceRefreshMs = getEnvIntOrDefault("PRICE_REFRESH_MS", orInt(cfg.RoundConfig.PriceRefreshMs, 10000))
	cfg.RoundConfig.PriceStaleMs = getEnvIntOrDefault("PRICE_STALE_MS", orInt(cfg.RoundConfig.PriceStaleMs, 30000))
	cfg.RoundConfig.LockWindowMin = getEnvIntOrDefault("LOCK_WINDOW_MIN", orInt(cfg.RoundConfig.LockWindowMin, 10))
	cfg.RoundConfig.SignatureWindowSec = getEnvIntOrDefault("SIGNATURE_WINDOW_SEC", orInt(cfg.RoundConfig.SignatureWindowSec, 300))
	cfg.RoundConfig.FlatThresholdPct = getEnvFloatOrDefault("FLAT_THRESHOLD_PCT", orFloat(cfg.RoundConfig.FlatThresholdPct, 0.2))

	cfg.PriceFeedConfig.WSURL = getEnvOrDefault("PRICE_FEED_WS_URL", cfg.PriceFeedConfig.WSURL)
	cfg.PriceFeedConfig.Mode = getEnvOrDefault("PRICE_FEED_MODE", orStr(cfg.PriceFeedConfig.Mode, "allMids"))
	cfg.PriceFeedConfig.Coin = getEnvOrDefault("PRICE_FEED_COIN", orStr(cfg.PriceFeedConfig.Coin, "BTC"))

	cfg.KlineConfig.InfoURL = getEnvOrDefault("KLINE_INFO_URL", cfg.KlineConfig.InfoURL)
	if len(cfg.KlineConfig.DefaultIntervals) == 0 {
		cfg.KlineConfig.DefaultIntervals = []string{"5m", "15m", "1h"}
	}
	cfg.KlineConfig.DefaultLimit = getEnvIntOrDefault("KLINE_DEFAULT_LIMIT", orInt(cfg.KlineConfig.DefaultLimit, 200))
	cfg.KlineConfig.MaxLimit = getEnvIntOrDefault("KLINE_MAX_LIMIT", orInt(cfg.KlineConfig.MaxLimit, 500))
	cfg.KlineConfig.CacheSec = getEnvIntOrDefault("KLINE_CACHE_SEC", orInt(cfg.KlineConfig.CacheSec, 15))

	cfg.RetentionConfig.FeedLimit = getEnvIntOrDefault("RETENTION_FEED_LIMIT", orInt(cfg.RetentionConfig.FeedLimit, 200))
	cfg.RetentionConfig.VerdictLimit = getEnvIntOrDefault("RETENTION_VERDICT_LIMIT", orInt(cfg.RetentionConfig.VerdictLimit, 200))
	cfg.RetentionConfig.JudgmentLimit = getEnvIntOrDefault("RETENTION_JUDGMENT_LIMIT", orInt(cfg.RetentionConfig.JudgmentLimit, 800))
	cfg.RetentionConfig.RoundLimit = getEnvIntOrDefault("RETENTION_ROUND_LIMIT", orInt(cfg.RetentionConfig.RoundLimit, 200))
	cfg.RetentionConfig.ScoreEventLimit = getEnvIntOrDefault("RETENTION_SCORE_EVENT_LIMIT", orInt(cfg.RetentionConfig.ScoreEventLimit, 1000))

	cfg.AuthConfig.AdminAPIToken = getEnvOrDefault("ADMIN_API_TOKEN", cfg.AuthConfig.AdminAPIToken)
}

func orStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(file, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// GenerateSampleConfig writes a sample configuration file with documented
// defaults, matching the teacher's developer-onboarding convention.
func GenerateSampleConfig(filename string) error {
	cfg := Config{
		ServerConfig: ServerConfig{
			Port: 8080, Host: "0.0.0.0", AllowedOrigins: "*",
			ReadTimeout: 30, WriteTimeout: 30, ShutdownTimeout: 10,
		},
		DatabaseConfig: DatabaseConfig{
			Host: "localhost", Port: 5432, User: "postgres", Database: "tournament", SSLMode: "disable",
		},
		RedisConfig: RedisConfig{Enabled: true, Address: "localhost:6379", PoolSize: 10},
		LoggingConfig: LoggingConfig{Level: "INFO", Output: "stdout", JSONFormat: true},
		MetricsConfig: MetricsConfig{Enabled: true, Path: "/metrics"},
		RoundConfig: RoundConfig{
			RoundDurationMin: 30, PriceRefreshMs: 10000, PriceStaleMs: 30000,
			LockWindowMin: 10, SignatureWindowSec: 300, FlatThresholdPct: 0.2,
		},
		PriceFeedConfig: PriceFeedConfig{Mode: "allMids", Coin: "BTC"},
		KlineConfig: KlineConfig{
			DefaultIntervals: []string{"5m", "15m", "1h"},
			DefaultLimit:     200, MaxLimit: 500, CacheSec: 15,
		},
		RetentionConfig: RetentionConfig{
			FeedLimit: 200, VerdictLimit: 200, JudgmentLimit: 800, RoundLimit: 200, ScoreEventLimit: 1000,
		},
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
