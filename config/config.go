// Package config loads engine configuration from environment variables with
// sane defaults, following the two-layer pattern of a base struct overlaid
// with environment overrides.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config aggregates every sub-config the engine and its façade need.
type Config struct {
	Server   ServerConfig
	Market   MarketConfig
	Engine   EngineConfig
	Risk     RiskConfig
	Logging  LoggingConfig
	Database DatabaseConfig
	Redis    RedisConfig
}

// ServerConfig controls the REST/WebSocket façade.
type ServerConfig struct {
	Port            int
	Host            string
	AllowedOrigins  string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// MarketConfig points the market client and stream client at the upstream
// data venue and tunes the rate limiter and retry wrapper.
type MarketConfig struct {
	APIBaseURL     string
	StreamURL      string
	RateLimit      int           // C1 bucket capacity
	RateInterval   time.Duration // C1 refill interval
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RequestTimeout time.Duration
}

// EngineConfig tunes the indicator battery and the trading loop's polling
// fallback cadence.
type EngineConfig struct {
	MaxWindow             int
	RSIPeriod             int
	EMA9Period             int
	EMA21Period            int
	EMA50Period            int
	EMA200Period           int
	VWAPPeriod             int
	VolumeAvgPeriod        int
	SwingLookback          int
	IndicatorCacheTTL      time.Duration
	PollFallbackInterval   time.Duration
	TimeoutScanInterval    time.Duration
	BroadcastInterval      time.Duration
}

// RiskConfig seeds TradingSettings defaults (spec §3 TradingSettings).
type RiskConfig struct {
	MinConfidence      float64
	MaxPositionSize    float64
	RiskPerTradePct    float64
	MaxDailyLossAbs    float64
	MaxPositions       int
	StopLossPct        float64
	TakeProfitPct      float64
	MaxHoldTimeSec     int
	ScalingFactor      float64
	StartingBalance    float64
}

// LoggingConfig configures the zerolog writer.
type LoggingConfig struct {
	Level      string
	JSONFormat bool
}

// DatabaseConfig is the optional Postgres persistence sink (spec §6).
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// RedisConfig is the optional cache sink backing C11 (spec §6).
type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	PoolSize int
}

// Load builds a Config from environment variables, falling back to the
// defaults spec §6 lists for any variable left unset. Missing DB/Redis
// settings are not fatal: both are optional sinks.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvIntOrDefault("PORT", 8080),
			Host:            getEnvOrDefault("HOST", "0.0.0.0"),
			AllowedOrigins:  getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*"),
			ReadTimeout:     getEnvDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Market: MarketConfig{
			APIBaseURL:     getEnvOrDefault("API_BASE_URL", "https://api.binance.com"),
			StreamURL:      getEnvOrDefault("STREAM_URL", "wss://stream.binance.com:9443"),
			RateLimit:      getEnvIntOrDefault("RATE_LIMIT", 20),
			RateInterval:   getEnvDurationOrDefault("RATE_INTERVAL", time.Second),
			RetryAttempts:  getEnvIntOrDefault("RETRY_ATTEMPTS", 3),
			RetryBaseDelay: getEnvDurationOrDefault("RETRY_DELAY", 500*time.Millisecond),
			RequestTimeout: getEnvDurationOrDefault("REQUEST_TIMEOUT", 20*time.Second),
		},
		Engine: EngineConfig{
			MaxWindow:            getEnvIntOrDefault("MAX_WINDOW", 500),
			RSIPeriod:            getEnvIntOrDefault("RSI_PERIOD", 14),
			EMA9Period:           getEnvIntOrDefault("EMA9_PERIOD", 9),
			EMA21Period:          getEnvIntOrDefault("EMA21_PERIOD", 21),
			EMA50Period:          getEnvIntOrDefault("EMA50_PERIOD", 50),
			EMA200Period:         getEnvIntOrDefault("EMA200_PERIOD", 200),
			VWAPPeriod:           getEnvIntOrDefault("VWAP_PERIOD", 24),
			VolumeAvgPeriod:      getEnvIntOrDefault("VOLUME_AVG_PERIOD", 20),
			SwingLookback:        getEnvIntOrDefault("SWING_LOOKBACK", 20),
			IndicatorCacheTTL:    getEnvDurationOrDefault("INDICATOR_CACHE_TTL", 30*time.Second),
			PollFallbackInterval: getEnvDurationOrDefault("POLL_FALLBACK_INTERVAL", 10*time.Second),
			TimeoutScanInterval:  getEnvDurationOrDefault("TIMEOUT_SCAN_INTERVAL", time.Second),
			BroadcastInterval:    getEnvDurationOrDefault("BROADCAST_INTERVAL", 2*time.Second),
		},
		Risk: RiskConfig{
			MinConfidence:   getEnvFloatOrDefault("MIN_CONFIDENCE", 60),
			MaxPositionSize: getEnvFloatOrDefault("MAX_POSITION_SIZE", 10000),
			RiskPerTradePct: getEnvFloatOrDefault("DEFAULT_RISK_PCT", 2.0),
			MaxDailyLossAbs: getEnvFloatOrDefault("MAX_DAILY_LOSS", 500),
			MaxPositions:    getEnvIntOrDefault("MAX_POSITIONS", 5),
			StopLossPct:     getEnvFloatOrDefault("STOP_LOSS_PCT", 1.0),
			TakeProfitPct:   getEnvFloatOrDefault("TAKE_PROFIT_PCT", 2.0),
			MaxHoldTimeSec:  getEnvIntOrDefault("POSITION_TIMEOUT_MINUTES", 30) * 60,
			ScalingFactor:   getEnvFloatOrDefault("SCALING_FACTOR", 1.0),
			StartingBalance: getEnvFloatOrDefault("STARTING_BALANCE", 100000),
		},
		Logging: LoggingConfig{
			Level:      getEnvOrDefault("LOG_LEVEL", "info"),
			JSONFormat: getEnvOrDefault("LOG_FORMAT", "json") == "json",
		},
		Database: DatabaseConfig{
			Enabled:  getEnvOrDefault("DB_ENABLED", "false") == "true",
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getEnvIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "engine"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Database: getEnvOrDefault("DB_NAME", "scalping_engine"),
			SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvOrDefault("REDIS_ENABLED", "false") == "true",
			Address:  getEnvOrDefault("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getEnvIntOrDefault("REDIS_DB", 0),
			PoolSize: getEnvIntOrDefault("REDIS_POOL_SIZE", 10),
		},
	}

	if cfg.Risk.TakeProfitPct <= cfg.Risk.StopLossPct {
		return nil, errConfig("TAKE_PROFIT_PCT must exceed STOP_LOSS_PCT")
	}
	if cfg.Engine.MaxWindow < cfg.Engine.EMA200Period {
		return nil, errConfig("MAX_WINDOW must be >= EMA200_PERIOD")
	}

	return cfg, nil
}

type configError string

func (e configError) Error() string { return string(e) }

func errConfig(msg string) error { return configError(msg) }

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

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
