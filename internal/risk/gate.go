// Package risk implements the risk gate (C7): pure predicate functions
// deciding entry/exit legality, plus position sizing, with no side effects
// and no internal state of their own (daily-loss bookkeeping lives in the
// TradingState the caller passes in).
package risk

import (
	"math"
	"time"

	"scalping-engine/internal/model"
)

// EntryIntent bundles the inputs the entry predicate needs beyond state and
// settings.
type EntryIntent struct {
	Symbol          string
	Signal          model.Signal
	Price           float64
	HasOpenPosition bool
}

// CanEnter reports whether opening a new position is allowed, per spec
// §4.7's entry predicate.
func CanEnter(intent EntryIntent, state model.TradingState, settings model.TradingSettings) bool {
	if !settings.IsEnabled {
		return false
	}
	if !intent.Signal.IsBullish() {
		return false
	}
	if intent.Signal.Confidence < settings.MinConfidence {
		return false
	}
	if len(state.Positions) >= settings.MaxPositions {
		return false
	}
	if intent.HasOpenPosition {
		return false
	}

	qty := PlannedQty(state.AvailableBalance, intent.Price, settings)
	if qty <= 0 {
		return false
	}
	plannedCost := qty * intent.Price
	if plannedCost > state.AvailableBalance {
		return false
	}
	if plannedCost > settings.MaxPositionSize {
		return false
	}
	if state.DayPnl <= -settings.MaxDailyLossAbs {
		return false
	}
	return true
}

// ExitIntent bundles the inputs the exit predicate needs.
type ExitIntent struct {
	Position model.Position
	Signal   model.Signal
	Price    float64
	Now      time.Time
}

// ExitReason reports whether position must exit now, and why (spec §4.7's
// exit predicate, checked in the order stop-loss, take-profit, timeout,
// opposing signal).
func ExitReason(intent ExitIntent, settings model.TradingSettings) (model.ExitReason, bool) {
	if intent.Position.StopLossPrice > 0 && intent.Price <= intent.Position.StopLossPrice {
		return model.ExitStopLoss, true
	}
	if intent.Position.TargetPrice > 0 && intent.Price >= intent.Position.TargetPrice {
		return model.ExitTakeProfit, true
	}
	if intent.Now.Sub(intent.Position.EntryTime) >= time.Duration(settings.MaxHoldTimeSec)*time.Second {
		return model.ExitTimeout, true
	}
	if intent.Signal.IsBearish() && intent.Signal.Confidence >= settings.MinConfidence {
		return model.ExitSignal, true
	}
	return "", false
}

// PlannedQty computes the position size per spec §4.7:
// floor((balance*riskPerTradePct/100)/(price*stopLossPct/100)), capped by
// maxPositionSize/price. Returns 0 (reject) if the result is below 1 unit.
func PlannedQty(balance, price float64, settings model.TradingSettings) float64 {
	if price <= 0 {
		return 0
	}
	riskAmount := balance * settings.RiskPerTradePct / 100
	riskPerUnit := price * settings.StopLossPct / 100
	if riskPerUnit <= 0 {
		return 0
	}
	qty := math.Floor(riskAmount / riskPerUnit)

	cap := settings.MaxPositionSize / price
	if qty > cap {
		qty = math.Floor(cap)
	}
	if qty < 1 {
		return 0
	}
	return qty
}
