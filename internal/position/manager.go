// Package position implements the position manager (C8): the authoritative
// set of active positions and the append-only Trade ledger, all mutated
// under one mutex.
package position

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"scalping-engine/internal/model"
)

var (
	ErrPositionNotFound      = errors.New("position not found")
	ErrPositionAlreadyExists = errors.New("position already exists for symbol")
	ErrInsufficientBalance   = errors.New("planned cost exceeds available balance")
	ErrMaxPositionsReached   = errors.New("max open positions reached")
)

// Repository is an optional persistence sink for positions and trades.
// Manager works without one: every operation falls back to the in-memory
// ledger when repo is nil, following the teacher's PositionTracker
// convention of "persist if present, always keep the cache authoritative".
type Repository interface {
	SaveTrade(ctx context.Context, t model.Trade) error
	SavePosition(ctx context.Context, p model.Position) error
	DeletePosition(ctx context.Context, symbol string) error
}

// Manager owns positions and trades for every symbol under a single mutex.
type Manager struct {
	mu             sync.RWMutex
	repo           Repository
	logger         zerolog.Logger
	positions      map[string]*model.Position
	trades         []model.Trade
	tradingBalance float64
	totalPnl       float64
	dayPnl         float64
	dayPnlReset    time.Time
}

// NewManager creates a Manager seeded with startingBalance. repo may be nil.
func NewManager(startingBalance float64, repo Repository, logger zerolog.Logger) *Manager {
	return &Manager{
		repo:           repo,
		logger:         logger.With().Str("component", "position.Manager").Logger(),
		positions:      make(map[string]*model.Position),
		trades:         make([]model.Trade, 0, 256),
		tradingBalance: startingBalance,
		dayPnlReset:    time.Now().UTC().Truncate(24 * time.Hour),
	}
}

// checkDailyReset zeroes dayPnl when UTC midnight has passed since the last
// reset (spec §9 open question: day boundary is UTC).
func (m *Manager) checkDailyReset() {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	if today.After(m.dayPnlReset) {
		m.dayPnl = 0
		m.dayPnlReset = today
	}
}

// Open creates a position, debits availableBalance implicitly (by reserving
// qty*price against tradingBalance going forward) and emits a BUY Trade.
// maxPositions re-checks the §8 position cap under this method's own lock:
// risk.CanEnter already checked it against a Snapshot taken earlier, but
// symbols are evaluated concurrently, so two symbols can both pass that
// check against the same pre-open count and both call Open — the
// authoritative check has to happen here, serialized with every other
// mutation of m.positions.
func (m *Manager) Open(ctx context.Context, symbol string, qty, price float64, stopLoss, target float64, entryTime time.Time, sig model.Signal, maxPositions int) (*model.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkDailyReset()

	if _, ok := m.positions[symbol]; ok {
		return nil, ErrPositionAlreadyExists
	}
	if len(m.positions) >= maxPositions {
		return nil, ErrMaxPositionsReached
	}

	cost := qty * price
	if cost > m.availableBalanceLocked() {
		return nil, ErrInsufficientBalance
	}

	tradeID := uuid.NewString()
	pos := &model.Position{
		ID:            uuid.NewString(),
		Symbol:        symbol,
		Qty:           qty,
		AvgEntryPrice: price,
		EntryTime:     entryTime,
		TargetPrice:   target,
		StopLossPrice: stopLoss,
		CurrentValue:  cost,
		EntryTradeID:  tradeID,
	}
	m.positions[symbol] = pos

	trade := model.Trade{
		ID:         tradeID,
		Symbol:     symbol,
		Side:       model.Buy_,
		Price:      price,
		Qty:        qty,
		Timestamp:  entryTime,
		SignalKind: sig.Kind,
		Confidence: sig.Confidence,
	}
	m.trades = append(m.trades, trade)

	if m.repo != nil {
		if err := m.repo.SavePosition(ctx, *pos); err != nil {
			m.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to persist opened position")
		}
		if err := m.repo.SaveTrade(ctx, trade); err != nil {
			m.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to persist entry trade")
		}
	}

	m.logger.Info().Str("symbol", symbol).Float64("qty", qty).Float64("price", price).Msg("position opened")
	return pos, nil
}

// Mark recomputes a position's current value and unrealized PnL against a
// new price.
func (m *Manager) Mark(symbol string, price float64) (*model.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[symbol]
	if !ok {
		return nil, false
	}
	pos.CurrentValue = pos.Qty * price
	pos.UnrealizedPnl = (price - pos.AvgEntryPrice) * pos.Qty
	cp := *pos
	return &cp, true
}

// Close emits a SELL Trade linked to the position's entry, credits
// tradingBalance by the realized PnL (the entry cost was never debited from
// tradingBalance — it is only reserved via availableBalanceLocked — so
// crediting full sale proceeds here would double-count the cost basis),
// updates realized totalPnl/dayPnl, and removes the position.
func (m *Manager) Close(ctx context.Context, symbol string, price float64, reason model.ExitReason, sig model.Signal) (*model.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkDailyReset()

	pos, ok := m.positions[symbol]
	if !ok {
		return nil, ErrPositionNotFound
	}

	pnl := (price - pos.AvgEntryPrice) * pos.Qty
	holdSec := time.Since(pos.EntryTime).Seconds()

	sellTrade := model.Trade{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		Side:         model.Sell_,
		Price:        price,
		Qty:          pos.Qty,
		Timestamp:    time.Now(),
		SignalKind:   sig.Kind,
		Confidence:   sig.Confidence,
		EntryTradeID: pos.EntryTradeID,
		PnL:          floatPtr(pnl),
		ExitPrice:    floatPtr(price),
		HoldTimeSec:  floatPtr(holdSec),
		ExitReason:   reason,
	}
	m.trades = append(m.trades, sellTrade)

	m.tradingBalance += pnl
	m.totalPnl += pnl
	m.dayPnl += pnl
	delete(m.positions, symbol)

	if m.repo != nil {
		if err := m.repo.SaveTrade(ctx, sellTrade); err != nil {
			m.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to persist exit trade")
		}
		if err := m.repo.DeletePosition(ctx, symbol); err != nil {
			m.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to delete persisted position")
		}
	}

	m.logger.Info().Str("symbol", symbol).Float64("pnl", pnl).Str("reason", string(reason)).Msg("position closed")
	return &sellTrade, nil
}

// AvailableBalance returns tradingBalance minus the cost of every open
// position, the figure the risk gate sizes new entries against.
func (m *Manager) AvailableBalance() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.availableBalanceLocked()
}

// Get returns a copy of symbol's active position, if any.
func (m *Manager) Get(symbol string) (model.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[symbol]
	if !ok {
		return model.Position{}, false
	}
	return *pos, true
}

// Positions returns a copy of every active position.
func (m *Manager) Positions() []model.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	return out
}

// Snapshot assembles the ledger-facing portion of TradingState under a
// single read lock: trades, positions, balances and PnL totals.
func (m *Manager) Snapshot() (trades []model.Trade, positions []model.Position, totalPnl, dayPnl, tradingBalance, availableBalance float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	trades = make([]model.Trade, len(m.trades))
	copy(trades, m.trades)

	positions = make([]model.Position, 0, len(m.positions))
	for _, p := range m.positions {
		positions = append(positions, *p)
	}

	return trades, positions, m.totalPnl, m.dayPnl, m.tradingBalance, m.availableBalanceLocked()
}

// availableBalanceLocked computes tradingBalance - sum(position cost);
// caller must hold m.mu.
func (m *Manager) availableBalanceLocked() float64 {
	committed := 0.0
	for _, p := range m.positions {
		committed += p.Qty * p.AvgEntryPrice
	}
	return m.tradingBalance - committed
}

func floatPtr(f float64) *float64 { return &f }
