// Package config loads environment-driven settings, optionally seeded
// from a .env file, plus the risk limits YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/algotrendy/execution-engine/internal/risk"
)

// Config holds the runtime settings of the execution engine.
type Config struct {
	Port string

	// Persistence
	DatabaseURL string // empty = in-memory store
	RedisURL    string // empty = no price cache

	// Account
	AccountAsset string

	// Idempotency
	IdempotencyTTL time.Duration

	// Reconciliation
	ReconcileInterval    time.Duration
	ReconcileTimeout     time.Duration
	ReconcileConcurrency int

	// Cancellation
	CancelTimeout time.Duration

	// Paper venue
	PaperInitialBalance float64
	PaperDepth          float64
	PaperImpactRate     float64
	PaperLatencyMs      int
	PaperRateLimit      float64 // requests per second, 0 = unthrottled

	// Risk
	RiskConfigPath string
	Risk           risk.Settings
}

// Load reads environment variables (optionally via .env) into Config and
// loads the risk settings file if RISK_CONFIG_PATH points at one.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisURL:             os.Getenv("REDIS_URL"),
		AccountAsset:         getEnv("ACCOUNT_ASSET", "USDT"),
		IdempotencyTTL:       getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		ReconcileInterval:    getEnvDuration("RECONCILE_INTERVAL", 15*time.Second),
		ReconcileTimeout:     getEnvDuration("RECONCILE_TIMEOUT", 3*time.Second),
		ReconcileConcurrency: getEnvInt("RECONCILE_CONCURRENCY", 4),
		CancelTimeout:        getEnvDuration("CANCEL_TIMEOUT", 5*time.Second),
		PaperInitialBalance:  getEnvFloat("PAPER_INITIAL_BALANCE", 100000),
		PaperDepth:           getEnvFloat("PAPER_DEPTH", 1000),
		PaperImpactRate:      getEnvFloat("PAPER_IMPACT_RATE", 0.0002),
		PaperLatencyMs:       getEnvInt("PAPER_LATENCY_MS", 0),
		PaperRateLimit:       getEnvFloat("PAPER_RATE_LIMIT", 0),
		RiskConfigPath:       os.Getenv("RISK_CONFIG_PATH"),
		Risk:                 risk.DefaultSettings(),
	}

	if cfg.RiskConfigPath != "" {
		settings, err := LoadRiskSettings(cfg.RiskConfigPath)
		if err != nil {
			return nil, err
		}
		cfg.Risk = settings
	}
	return cfg, nil
}

// riskFile is the YAML shape of the risk limits file. Values decode as
// floats and convert to decimals afterwards.
type riskFile struct {
	Enabled                *bool    `yaml:"enabled"`
	MaxPositionSizePct     *float64 `yaml:"max_position_size_pct"`
	MaxTotalExposurePct    *float64 `yaml:"max_total_exposure_pct"`
	MaxConcurrentPositions *int     `yaml:"max_concurrent_positions"`
	MinOrderSize           *float64 `yaml:"min_order_size"`
	MaxOrderSize           *float64 `yaml:"max_order_size"`
	DefaultStopLossPct     *float64 `yaml:"default_stop_loss_pct"`
	DefaultTakeProfitPct   *float64 `yaml:"default_take_profit_pct"`
}

// LoadRiskSettings reads risk limits from a YAML file. Omitted keys keep
// their defaults.
func LoadRiskSettings(path string) (risk.Settings, error) {
	settings := risk.DefaultSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		return settings, fmt.Errorf("reading risk config %s: %w", path, err)
	}
	var file riskFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return settings, fmt.Errorf("parsing risk config %s: %w", path, err)
	}

	if file.Enabled != nil {
		settings.Enabled = *file.Enabled
	}
	if file.MaxPositionSizePct != nil {
		settings.MaxPositionSizePct = decimal.NewFromFloat(*file.MaxPositionSizePct)
	}
	if file.MaxTotalExposurePct != nil {
		settings.MaxTotalExposurePct = decimal.NewFromFloat(*file.MaxTotalExposurePct)
	}
	if file.MaxConcurrentPositions != nil {
		settings.MaxConcurrentPositions = *file.MaxConcurrentPositions
	}
	if file.MinOrderSize != nil {
		settings.MinOrderSize = decimal.NewFromFloat(*file.MinOrderSize)
	}
	if file.MaxOrderSize != nil {
		settings.MaxOrderSize = decimal.NewFromFloat(*file.MaxOrderSize)
	}
	if file.DefaultStopLossPct != nil {
		settings.DefaultStopLossPct = decimal.NewFromFloat(*file.DefaultStopLossPct)
	}
	if file.DefaultTakeProfitPct != nil {
		settings.DefaultTakeProfitPct = decimal.NewFromFloat(*file.DefaultTakeProfitPct)
	}
	return settings, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
