// Package model holds the engine's shared data types (spec §3), kept
// dependency-free so every component package can import it without cycles.
package model

import "time"

// Candle is an immutable OHLCV bar. Invariants: Low <= Open,Close <= High,
// Volume >= 0, CloseTimeMs > OpenTimeMs.
type Candle struct {
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
	OpenTimeMs  int64   `json:"open_time_ms"`
	CloseTimeMs int64   `json:"close_time_ms"`
}

// Valid reports whether the candle satisfies its data-model invariants.
func (c Candle) Valid() bool {
	if c.Volume < 0 {
		return false
	}
	if c.CloseTimeMs <= c.OpenTimeMs {
		return false
	}
	lo, hi := c.Low, c.High
	if c.Open < lo || c.Open > hi || c.Close < lo || c.Close > hi {
		return false
	}
	return true
}

// TrendDirection classifies the relationship between fast and slow EMAs.
type TrendDirection string

const (
	TrendUp       TrendDirection = "UP"
	TrendDown     TrendDirection = "DOWN"
	TrendSideways TrendDirection = "SIDEWAYS"
)

// IndicatorSnapshot is the derived output of the indicator pipeline (C5)
// computed from a CandleWindow of length >= EMA200Period. Never a source of
// truth; cached with ComputedAt.
type IndicatorSnapshot struct {
	RSI         float64        `json:"rsi"`
	EMA9        float64        `json:"ema9"`
	EMA21       float64        `json:"ema21"`
	EMA50       float64        `json:"ema50"`
	EMA200      float64        `json:"ema200"`
	VWAP        float64        `json:"vwap"`
	MACD        float64        `json:"macd"`
	MACDSignal  float64        `json:"macd_signal"`
	Volume      float64        `json:"volume"`
	AvgVolume20 float64        `json:"avg_volume_20"`
	SwingHigh   float64        `json:"swing_high"`
	SwingLow    float64        `json:"swing_low"`
	Trend       TrendDirection `json:"trend"`
	ComputedAt  time.Time      `json:"computed_at"`
}

// SignalKind is the discrete trading directive produced by C6.
type SignalKind string

const (
	StrongBuy  SignalKind = "STRONG_BUY"
	Buy        SignalKind = "BUY"
	Hold       SignalKind = "HOLD"
	Sell       SignalKind = "SELL"
	StrongSell SignalKind = "STRONG_SELL"
)

// Signal is a pure function's output of an IndicatorSnapshot plus last
// close: a kind and a confidence in [0,95].
type Signal struct {
	Kind       SignalKind `json:"kind"`
	Confidence float64    `json:"confidence"`
}

// IsBullish reports whether the signal kind calls for an entry.
func (s Signal) IsBullish() bool {
	return s.Kind == Buy || s.Kind == StrongBuy
}

// IsBearish reports whether the signal kind calls for an exit.
func (s Signal) IsBearish() bool {
	return s.Kind == Sell || s.Kind == StrongSell
}

// ExitReason names why a Position was closed.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "STOP_LOSS"
	ExitTakeProfit ExitReason = "TAKE_PROFIT"
	ExitTimeout    ExitReason = "TIMEOUT"
	ExitSignal     ExitReason = "SIGNAL"
	ExitManual     ExitReason = "MANUAL"
)

// Position is an open long exposure to a symbol awaiting exit (spec §3).
type Position struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	Qty           float64   `json:"qty"`
	AvgEntryPrice float64   `json:"avg_entry_price"`
	EntryTime     time.Time `json:"entry_time"`
	TargetPrice   float64   `json:"target_price"`
	StopLossPrice float64   `json:"stop_loss_price"`
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	CurrentValue  float64   `json:"current_value"`
	EntryTradeID  string    `json:"entry_trade_id"`
}

// TradeSide is BUY or SELL.
type TradeSide string

const (
	Buy_  TradeSide = "BUY"
	Sell_ TradeSide = "SELL"
)

// Trade is an immutable, append-only ledger entry. A SELL trade carries the
// round trip's PnL/ExitPrice/HoldTimeSec itself and points at the matching
// BUY through EntryTradeID; the BUY entry is not updated when the SELL is
// recorded, so its PnL/ExitPrice/HoldTimeSec stay nil.
type Trade struct {
	ID           string     `json:"id"`
	Symbol       string     `json:"symbol"`
	Side         TradeSide  `json:"side"`
	Price        float64    `json:"price"`
	Qty          float64    `json:"qty"`
	Timestamp    time.Time  `json:"timestamp"`
	SignalKind   SignalKind `json:"signal_kind"`
	Confidence   float64    `json:"confidence"`
	EntryTradeID string     `json:"entry_trade_id,omitempty"` // set on SELL trades, pointing at the matching BUY
	PnL          *float64   `json:"pnl,omitempty"`
	ExitPrice    *float64   `json:"exit_price,omitempty"`
	HoldTimeSec  *float64   `json:"hold_time_sec,omitempty"`
	ExitReason   ExitReason `json:"exit_reason,omitempty"`
}

// TradingSettings are the engine's risk/behavior knobs (spec §3). Invariant:
// TakeProfitPct > StopLossPct.
type TradingSettings struct {
	MinConfidence   float64 `json:"min_confidence"`
	MaxPositionSize float64 `json:"max_position_size"`
	RiskPerTradePct float64 `json:"risk_per_trade_pct"`
	MaxDailyLossAbs float64 `json:"max_daily_loss_abs"`
	MaxPositions    int     `json:"max_positions"`
	StopLossPct     float64 `json:"stop_loss_pct"`
	TakeProfitPct   float64 `json:"take_profit_pct"`
	MaxHoldTimeSec  int     `json:"max_hold_time_sec"`
	ScalingFactor   float64 `json:"scaling_factor"`
	IsEnabled       bool    `json:"is_enabled"`
}

// WatchlistItem is a symbol the engine ingests and evaluates.
type WatchlistItem struct {
	Symbol       string    `json:"symbol"`
	Name         string    `json:"name"`
	LastPrice    float64   `json:"last_price"`
	Change24h    float64   `json:"change_24h"`
	ChangePct24h float64   `json:"change_pct_24h"`
	Volume24h    float64   `json:"volume_24h"`
	LastUpdate   time.Time `json:"last_update"`
	IsActive     bool      `json:"is_active"`
}

// TradingState is a deep-copied, consistent snapshot of the engine (spec
// §3, §4.10). AvailableBalance = TradingBalance - sum(position cost).
type TradingState struct {
	Trades           []Trade         `json:"trades"`
	Positions        []Position      `json:"positions"`
	TotalPnl         float64         `json:"total_pnl"`
	DayPnl           float64         `json:"day_pnl"`
	TradingBalance   float64         `json:"trading_balance"`
	AvailableBalance float64         `json:"available_balance"`
	Settings         TradingSettings `json:"settings"`
	Watchlist        []WatchlistItem `json:"watchlist"`
	GeneratedAt      time.Time       `json:"generated_at"`
}

// PriceData is the per-symbol 24h ticker snapshot fetched by the market
// client (spec §4.2, §6).
type PriceData struct {
	Symbol             string  `json:"symbol"`
	LastPrice          float64 `json:"last_price"`
	PriceChange        float64 `json:"price_change"`
	PriceChangePercent float64 `json:"price_change_percent"`
	Volume             float64 `json:"volume"`
}
