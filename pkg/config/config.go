package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the execution core.
type Config struct {
	Port string

	// Storage
	DBPath    string
	AuditSink string // "bolt" or "sqlite"
	AuditPath string

	// Logging
	LogLevel  string
	LogFormat string // "console" or "json"

	// Market
	Symbols        []string
	UseMockFeed    bool
	MockFeedPeriod time.Duration
	MockFeedSeed   int64

	// Portfolio and risk
	InitialCapital       float64
	RiskMaxPositionSize  float64
	RiskMaxDailyLoss     float64
	RiskMaxConcentration float64

	// Event bus
	BusBufferSize int

	// Execution
	ExecutionMode      string // only "paper" is supported
	ExecutionTimeout   time.Duration
	ShutdownGrace      time.Duration
	BreakerMaxFailures int
	BreakerTimeout     time.Duration
	BreakerMaxRequests int
	PaperFeeRate       float64 // decimal (e.g. 0.0004 = 4 bps)
	PaperSlippageBps   float64
	PaperLatency       time.Duration

	// Signal gate
	SignalsEnabled       bool
	SignalsMinConfidence float64
	SignalsDefaultQty    float64
	SignalsWorkers       int
	SignalsLimitOrders   bool
	SignalsAuditDiscards bool

	// Runtime overlay watched for changes; empty disables reloads.
	RuntimeConfigPath string

	// Auth. An empty OperatorPassword disables the operator routes; a set one
	// requires JWTSecret.
	JWTSecret        string
	OperatorPassword string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		DBPath:               getEnv("DB_PATH", "./data/trading.db"),
		AuditSink:            strings.ToLower(getEnv("AUDIT_SINK", "bolt")),
		AuditPath:            getEnv("AUDIT_PATH", "./data/audit.db"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "console"),
		Symbols:              splitAndTrim(getEnv("SYMBOLS", "BTCUSDT,ETHUSDT")),
		UseMockFeed:          getEnvBool("MOCK_FEED", true),
		MockFeedPeriod:       getEnvDuration("MOCK_FEED_INTERVAL", time.Second),
		MockFeedSeed:         int64(getEnvInt("MOCK_FEED_SEED", 42)),
		InitialCapital:       getEnvFloat("INITIAL_CAPITAL", 100000),
		RiskMaxPositionSize:  getEnvFloat("RISK_MAX_POSITION_SIZE", 100),
		RiskMaxDailyLoss:     getEnvFloat("RISK_MAX_DAILY_LOSS", 1000),
		RiskMaxConcentration: getEnvFloat("RISK_MAX_CONCENTRATION", 0.25),
		BusBufferSize:        getEnvInt("BUS_BUFFER_SIZE", 256),
		ExecutionMode:        strings.ToLower(getEnv("EXECUTION_MODE", "paper")),
		ExecutionTimeout:     getEnvDuration("EXECUTION_TIMEOUT", 5*time.Second),
		ShutdownGrace:        getEnvDuration("SHUTDOWN_GRACE", 10*time.Second),
		BreakerMaxFailures:   getEnvInt("BREAKER_MAX_FAILURES", 5),
		BreakerTimeout:       getEnvDuration("BREAKER_TIMEOUT", 30*time.Second),
		BreakerMaxRequests:   getEnvInt("BREAKER_MAX_REQUESTS", 1),
		PaperFeeRate:         getEnvFloat("PAPER_FEE_RATE", 0.0004),
		PaperSlippageBps:     getEnvFloat("PAPER_SLIPPAGE_BPS", 2),
		PaperLatency:         getEnvDuration("PAPER_LATENCY", 0),
		SignalsEnabled:       getEnvBool("SIGNALS_ENABLED", true),
		SignalsMinConfidence: getEnvFloat("SIGNALS_MIN_CONFIDENCE", 0.6),
		SignalsDefaultQty:    getEnvFloat("SIGNALS_DEFAULT_QTY", 1),
		SignalsWorkers:       getEnvInt("SIGNALS_WORKERS", 4),
		SignalsLimitOrders:   getEnvBool("SIGNALS_LIMIT_ORDERS", false),
		SignalsAuditDiscards: getEnvBool("SIGNALS_AUDIT_DISCARDS", true),
		RuntimeConfigPath:    getEnv("RUNTIME_CONFIG", ""),
		JWTSecret:            getEnv("JWT_SECRET", ""),
		OperatorPassword:     getEnv("OPERATOR_PASSWORD", ""),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the core cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.ExecutionMode != "paper" {
		errs = append(errs, fmt.Errorf("EXECUTION_MODE %q not supported", c.ExecutionMode))
	}
	switch c.AuditSink {
	case "bolt", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("AUDIT_SINK %q must be bolt or sqlite", c.AuditSink))
	}
	if c.SignalsMinConfidence < 0 || c.SignalsMinConfidence > 1 {
		errs = append(errs, fmt.Errorf("SIGNALS_MIN_CONFIDENCE %v outside [0,1]", c.SignalsMinConfidence))
	}
	if c.RiskMaxConcentration < 0 || c.RiskMaxConcentration > 1 {
		errs = append(errs, fmt.Errorf("RISK_MAX_CONCENTRATION %v outside [0,1]", c.RiskMaxConcentration))
	}
	if c.BreakerMaxFailures <= 0 || c.BreakerMaxRequests <= 0 {
		errs = append(errs, errors.New("BREAKER_MAX_FAILURES and BREAKER_MAX_REQUESTS must be positive"))
	}
	if len(c.Symbols) == 0 {
		errs = append(errs, errors.New("SYMBOLS is empty"))
	}
	if c.OperatorPassword != "" && c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required when OPERATOR_PASSWORD is set"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.ToUpper(strings.TrimSpace(p)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
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
