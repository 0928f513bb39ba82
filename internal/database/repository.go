package database

import (
	"context"

	"scalping-engine/internal/model"
)

// PositionRepository adapts DB to position.Repository, so the position
// manager can be constructed with or without persistence interchangeably.
type PositionRepository struct {
	db *DB
}

// NewPositionRepository wraps db as a position.Repository.
func NewPositionRepository(db *DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// SaveTrade upserts a single ledger entry.
func (r *PositionRepository) SaveTrade(ctx context.Context, t model.Trade) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO trades (id, symbol, side, price, quantity, timestamp, signal_kind, confidence,
			entry_trade_id, pnl, exit_price, hold_time_sec, exit_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			pnl = EXCLUDED.pnl, exit_price = EXCLUDED.exit_price,
			hold_time_sec = EXCLUDED.hold_time_sec, exit_reason = EXCLUDED.exit_reason`,
		t.ID, t.Symbol, string(t.Side), t.Price, t.Qty, t.Timestamp, string(t.SignalKind), t.Confidence,
		nullableString(t.EntryTradeID), t.PnL, t.ExitPrice, t.HoldTimeSec, nullableString(string(t.ExitReason)),
	)
	return err
}

// SavePosition upserts symbol's open position row.
func (r *PositionRepository) SavePosition(ctx context.Context, p model.Position) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO positions (id, symbol, qty, avg_entry_price, entry_time, target_price,
			stop_loss_price, entry_trade_id, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,TRUE)
		ON CONFLICT (symbol) DO UPDATE SET
			qty = EXCLUDED.qty, avg_entry_price = EXCLUDED.avg_entry_price,
			target_price = EXCLUDED.target_price, stop_loss_price = EXCLUDED.stop_loss_price,
			is_active = TRUE, updated_at = CURRENT_TIMESTAMP`,
		p.ID, p.Symbol, p.Qty, p.AvgEntryPrice, p.EntryTime, p.TargetPrice, p.StopLossPrice, p.EntryTradeID,
	)
	return err
}

// DeletePosition flags symbol's position row inactive rather than deleting
// it outright, preserving the row for historical queries.
func (r *PositionRepository) DeletePosition(ctx context.Context, symbol string) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE positions SET is_active = FALSE, updated_at = CURRENT_TIMESTAMP WHERE symbol = $1`, symbol)
	return err
}

// SaveSettings upserts the single trading_settings row.
func (r *PositionRepository) SaveSettings(ctx context.Context, s model.TradingSettings) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO trading_settings (id, min_confidence, max_position_size, risk_per_trade_pct,
			max_daily_loss_abs, max_positions, stop_loss_pct, take_profit_pct, max_hold_time_sec,
			scaling_factor, is_enabled)
		VALUES (1,$1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			min_confidence = EXCLUDED.min_confidence, max_position_size = EXCLUDED.max_position_size,
			risk_per_trade_pct = EXCLUDED.risk_per_trade_pct, max_daily_loss_abs = EXCLUDED.max_daily_loss_abs,
			max_positions = EXCLUDED.max_positions, stop_loss_pct = EXCLUDED.stop_loss_pct,
			take_profit_pct = EXCLUDED.take_profit_pct, max_hold_time_sec = EXCLUDED.max_hold_time_sec,
			scaling_factor = EXCLUDED.scaling_factor, is_enabled = EXCLUDED.is_enabled,
			updated_at = CURRENT_TIMESTAMP`,
		s.MinConfidence, s.MaxPositionSize, s.RiskPerTradePct, s.MaxDailyLossAbs, s.MaxPositions,
		s.StopLossPct, s.TakeProfitPct, s.MaxHoldTimeSec, s.ScalingFactor, s.IsEnabled,
	)
	return err
}

// SaveWatchlistItem upserts a single watched symbol.
func (r *PositionRepository) SaveWatchlistItem(ctx context.Context, item model.WatchlistItem) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO watchlist (symbol, name, is_active)
		VALUES ($1,$2,$3)
		ON CONFLICT (symbol) DO UPDATE SET name = EXCLUDED.name, is_active = EXCLUDED.is_active`,
		item.Symbol, item.Name, item.IsActive,
	)
	return err
}

// SavePerformanceSnapshot records a point-in-time performance rollup (spec
// §6 GET /api/performance persists its derivation for historical charting).
func (r *PositionRepository) SavePerformanceSnapshot(ctx context.Context, state model.TradingState, winRate, profitFactor float64) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO performance_metrics (generated_at, total_pnl, day_pnl, win_rate, profit_factor, total_trades)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		state.GeneratedAt, state.TotalPnl, state.DayPnl, winRate, profitFactor, len(state.Trades),
	)
	return err
}

// SaveCandle upserts a single OHLCV bar into market_data, keyed by
// (symbol, open_time_ms) so a streaming in-place update to the in-flight
// candle overwrites the existing row rather than duplicating it.
func (r *PositionRepository) SaveCandle(ctx context.Context, symbol string, c model.Candle) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO market_data (symbol, open_time_ms, close_time_ms, open, high, low, close, volume)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (symbol, open_time_ms) DO UPDATE SET
			close_time_ms = EXCLUDED.close_time_ms, open = EXCLUDED.open, high = EXCLUDED.high,
			low = EXCLUDED.low, close = EXCLUDED.close, volume = EXCLUDED.volume`,
		symbol, c.OpenTimeMs, c.CloseTimeMs, c.Open, c.High, c.Low, c.Close, c.Volume,
	)
	return err
}

// SaveIndicatorSnapshot upserts symbol's latest computed IndicatorSnapshot
// into technical_analysis, mirroring what C11 holds in memory.
func (r *PositionRepository) SaveIndicatorSnapshot(ctx context.Context, symbol string, snap model.IndicatorSnapshot) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO technical_analysis (symbol, rsi, ema9, ema21, ema50, ema200, vwap, macd, macd_signal, trend, computed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (symbol) DO UPDATE SET
			rsi = EXCLUDED.rsi, ema9 = EXCLUDED.ema9, ema21 = EXCLUDED.ema21, ema50 = EXCLUDED.ema50,
			ema200 = EXCLUDED.ema200, vwap = EXCLUDED.vwap, macd = EXCLUDED.macd,
			macd_signal = EXCLUDED.macd_signal, trend = EXCLUDED.trend, computed_at = EXCLUDED.computed_at`,
		symbol, snap.RSI, snap.EMA9, snap.EMA21, snap.EMA50, snap.EMA200, snap.VWAP, snap.MACD,
		snap.MACDSignal, string(snap.Trend), snap.ComputedAt,
	)
	return err
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
