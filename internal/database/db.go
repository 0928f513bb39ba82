// Package database implements the optional Postgres persistence sink (spec
// §6): write-through storage for trades, positions, market data snapshots,
// technical analysis, trading settings and the watchlist. The engine works
// fully without it; DB is only ever a write-through mirror of the
// authoritative in-memory state.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the pooled Postgres connection.
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Config holds connection parameters (spec §6 DB_* env vars).
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB opens a pooled connection and verifies it with a ping.
func NewDB(cfg Config, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger.Info().Str("database", cfg.Database).Msg("connected to postgres")
	return &DB{Pool: pool, logger: logger.With().Str("component", "database.DB").Logger()}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("database connection closed")
	}
}

// RunMigrations creates the tables spec §6 names for the persisted layout,
// trimmed from the teacher's broader multi-tenant schema to exactly the
// trading-core surface: trades, positions, market_data, technical_analysis,
// trading_settings, watchlist, performance_metrics.
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id VARCHAR(64) PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(4) NOT NULL,
			price DECIMAL(20, 8) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			signal_kind VARCHAR(16),
			confidence DECIMAL(6, 2),
			entry_trade_id VARCHAR(64),
			pnl DECIMAL(20, 8),
			exit_price DECIMAL(20, 8),
			hold_time_sec DECIMAL(20, 4),
			exit_reason VARCHAR(16),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp)`,

		`CREATE TABLE IF NOT EXISTS positions (
			id VARCHAR(64) PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL UNIQUE,
			qty DECIMAL(20, 8) NOT NULL,
			avg_entry_price DECIMAL(20, 8) NOT NULL,
			entry_time TIMESTAMP NOT NULL,
			target_price DECIMAL(20, 8),
			stop_loss_price DECIMAL(20, 8),
			entry_trade_id VARCHAR(64),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_active ON positions(is_active)`,

		`CREATE TABLE IF NOT EXISTS market_data (
			symbol VARCHAR(20) NOT NULL,
			open_time_ms BIGINT NOT NULL,
			close_time_ms BIGINT NOT NULL,
			open DECIMAL(20, 8) NOT NULL,
			high DECIMAL(20, 8) NOT NULL,
			low DECIMAL(20, 8) NOT NULL,
			close DECIMAL(20, 8) NOT NULL,
			volume DECIMAL(20, 8) NOT NULL,
			PRIMARY KEY (symbol, open_time_ms)
		)`,

		`CREATE TABLE IF NOT EXISTS technical_analysis (
			symbol VARCHAR(20) PRIMARY KEY,
			rsi DECIMAL(10, 4),
			ema9 DECIMAL(20, 8),
			ema21 DECIMAL(20, 8),
			ema50 DECIMAL(20, 8),
			ema200 DECIMAL(20, 8),
			vwap DECIMAL(20, 8),
			macd DECIMAL(20, 8),
			macd_signal DECIMAL(20, 8),
			trend VARCHAR(10),
			computed_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS trading_settings (
			id SMALLINT PRIMARY KEY DEFAULT 1,
			min_confidence DECIMAL(6, 2) NOT NULL,
			max_position_size DECIMAL(20, 8) NOT NULL,
			risk_per_trade_pct DECIMAL(6, 4) NOT NULL,
			max_daily_loss_abs DECIMAL(20, 8) NOT NULL,
			max_positions INT NOT NULL,
			stop_loss_pct DECIMAL(6, 4) NOT NULL,
			take_profit_pct DECIMAL(6, 4) NOT NULL,
			max_hold_time_sec INT NOT NULL,
			scaling_factor DECIMAL(6, 4) NOT NULL,
			is_enabled BOOLEAN NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			CHECK (id = 1)
		)`,

		`CREATE TABLE IF NOT EXISTS watchlist (
			symbol VARCHAR(20) PRIMARY KEY,
			name VARCHAR(100),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			added_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS performance_metrics (
			id SERIAL PRIMARY KEY,
			generated_at TIMESTAMP NOT NULL,
			total_pnl DECIMAL(20, 8),
			day_pnl DECIMAL(20, 8),
			win_rate DECIMAL(6, 4),
			profit_factor DECIMAL(10, 4),
			total_trades INT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_performance_generated_at ON performance_metrics(generated_at)`,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	db.logger.Info().Msg("migrations complete")
	return nil
}

// HealthCheck pings the pool, used by the façade's /api/health aggregation.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
