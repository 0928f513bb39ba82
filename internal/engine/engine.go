// Package engine implements the trading loop orchestrator (C9): the state
// machine and per-symbol pipeline tying together market data ingestion,
// indicator computation, signal synthesis, risk gating and the position
// ledger. Modeled on the teacher's autopilot controller, rescoped to a
// single-tenant spot scalper with no hedging, no futures, no multi-strategy
// dispatch.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"scalping-engine/internal/candles"
	"scalping-engine/internal/circuit"
	"scalping-engine/internal/engineerr"
	"scalping-engine/internal/events"
	"scalping-engine/internal/indicatorcache"
	"scalping-engine/internal/indicators"
	"scalping-engine/internal/market"
	"scalping-engine/internal/metrics"
	"scalping-engine/internal/model"
	"scalping-engine/internal/position"
	"scalping-engine/internal/risk"
	"scalping-engine/internal/signal"
)

// State is the engine's lifecycle state (spec §5).
type State string

const (
	Stopped  State = "STOPPED"
	Starting State = "STARTING"
	Running  State = "RUNNING"
	Stopping State = "STOPPING"
)

// Config tunes the loop's cadence and indicator battery.
type Config struct {
	Periods              indicators.Periods
	IndicatorCacheTTL    time.Duration
	PollFallbackInterval time.Duration
	TimeoutScanInterval  time.Duration
	CandleIntervalMs     int64
}

// MarketDataRepository is an optional write-through sink for raw candles
// and computed indicator snapshots (the market_data/technical_analysis
// tables spec §6 names). The engine works fully without one: every call
// site treats it the same best-effort way position.Repository is treated.
type MarketDataRepository interface {
	SaveCandle(ctx context.Context, symbol string, c model.Candle) error
	SaveIndicatorSnapshot(ctx context.Context, symbol string, snap model.IndicatorSnapshot) error
}

// Engine owns the trading loop's lifecycle and per-symbol pipeline. All
// mutable state (lifecycle, settings, watchlist) is guarded by mu; the
// ledger itself lives in position.Manager under its own lock.
type Engine struct {
	mu       sync.RWMutex
	state    State
	settings model.TradingSettings
	watchlist map[string]model.WatchlistItem

	cfg        Config
	marketCli  *market.Client
	streamCli  *market.StreamClient
	candleStore *candles.Store
	cache      *indicatorcache.Cache
	breakers   *circuit.Registry
	positions  *position.Manager
	bus        *events.Bus
	repo       MarketDataRepository
	logger     zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a stopped Engine. settings seeds the initial
// TradingSettings (spec §3); call Start to begin the loop. repo may be nil
// to run without the optional market-data/technical-analysis persistence
// sink.
func New(cfg Config, marketCli *market.Client, streamCli *market.StreamClient, candleStore *candles.Store, cache *indicatorcache.Cache, breakers *circuit.Registry, positions *position.Manager, bus *events.Bus, settings model.TradingSettings, logger zerolog.Logger, repo MarketDataRepository) *Engine {
	return &Engine{
		state:       Stopped,
		settings:    settings,
		watchlist:   make(map[string]model.WatchlistItem),
		cfg:         cfg,
		marketCli:   marketCli,
		streamCli:   streamCli,
		candleStore: candleStore,
		cache:       cache,
		breakers:    breakers,
		positions:   positions,
		bus:         bus,
		repo:        repo,
		logger:      logger.With().Str("component", "engine.Engine").Logger(),
	}
}

// State reports the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Settings returns a copy of the engine's current TradingSettings.
func (e *Engine) Settings() model.TradingSettings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

// UpdateSettings replaces the engine's TradingSettings, e.g. from the
// settings API. Takes effect on the next pipeline iteration.
func (e *Engine) UpdateSettings(s model.TradingSettings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = s
}

// SetEnabled toggles IsEnabled without touching any other setting: entries
// suspend immediately while exits keep running (spec §5).
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings.IsEnabled = enabled
}

// Watchlist returns a copy of every tracked symbol.
func (e *Engine) Watchlist() []model.WatchlistItem {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.WatchlistItem, 0, len(e.watchlist))
	for _, w := range e.watchlist {
		out = append(out, w)
	}
	return out
}

// AddSymbol registers a symbol for ingestion and evaluation. Safe to call
// while the engine is running, but a running engine does not subscribe to
// the new symbol: it is picked up by the next Start after a Stop.
func (e *Engine) AddSymbol(symbol, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.watchlist[symbol] = model.WatchlistItem{Symbol: symbol, Name: name, IsActive: true}
}

// Start transitions Stopped -> Starting -> Running, spawning one pipeline
// goroutine per watchlist symbol plus the timeout scanner. Start is
// idempotent: calling it while already Running or Starting is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state == Running || e.state == Starting {
		e.mu.Unlock()
		return nil
	}
	e.state = Starting
	symbols := make([]string, 0, len(e.watchlist))
	for s := range e.watchlist {
		symbols = append(symbols, s)
	}
	e.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	for _, symbol := range symbols {
		e.wg.Add(1)
		go e.runSymbol(runCtx, symbol)
	}

	e.wg.Add(1)
	go e.runTimeoutScanner(runCtx)

	e.mu.Lock()
	e.state = Running
	e.mu.Unlock()
	e.publishStateChange(Running)
	e.logger.Info().Int("symbols", len(symbols)).Msg("engine started")
	return nil
}

// Stop transitions Running -> Stopping -> Stopped, canceling every pipeline
// goroutine and waiting for them to exit. Safe to call on an already
// stopped engine.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state == Stopped || e.state == Stopping {
		e.mu.Unlock()
		return
	}
	e.state = Stopping
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	e.mu.Lock()
	e.state = Stopped
	e.mu.Unlock()
	e.publishStateChange(Stopped)
	e.logger.Info().Msg("engine stopped")
}

func (e *Engine) publishStateChange(s State) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{Type: events.EngineStateChanged, Data: map[string]interface{}{"state": string(s)}})
}

// runSymbol subscribes to the streaming ticker for symbol and feeds every
// tick through the pipeline, falling back to a REST poll on a fixed
// interval if the stream has gone quiet (spec §4.9/§9: "no second
// liveness signal" risk mitigated by the poll fallback).
func (e *Engine) runSymbol(ctx context.Context, symbol string) {
	defer e.wg.Done()

	ticks, err := e.streamCli.Subscribe(ctx, symbol)
	if err != nil {
		e.logger.Error().Err(err).Str("symbol", symbol).Msg("failed to subscribe to stream")
		return
	}

	fallback := time.NewTicker(e.cfg.PollFallbackInterval)
	defer fallback.Stop()

	lastTick := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-ticks:
			if !ok {
				return
			}
			lastTick = time.Now()
			e.ingestTick(ctx, symbol, t)
		case <-fallback.C:
			if time.Since(lastTick) < e.cfg.PollFallbackInterval {
				continue
			}
			e.pollFallback(ctx, symbol)
		}
	}
}

// ingestTick feeds one streamed ticker update through the full pipeline:
// append to the candle window, compute (or reuse cached) indicators,
// synthesize a signal, then evaluate exits before entries.
func (e *Engine) ingestTick(ctx context.Context, symbol string, t market.Ticker) {
	if e.breakers != nil && !e.breakers.Allow(symbol) {
		return
	}

	openTime := t.EventTimeMs - e.cfg.CandleIntervalMs
	candle := t.ToCandle(openTime, t.EventTimeMs)
	if !candle.Valid() {
		e.recordProtocolFailure(symbol)
		return
	}
	if err := e.candleStore.Append(symbol, candle); err != nil {
		if engineerr.Is(err, engineerr.OutOfOrder) {
			return
		}
		e.recordProtocolFailure(symbol)
		return
	}
	if e.breakers != nil {
		e.breakers.RecordSuccess(symbol)
	}
	if e.repo != nil {
		if err := e.repo.SaveCandle(ctx, symbol, candle); err != nil {
			e.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to persist candle")
		}
	}

	e.updateWatchlistPrice(symbol, t)
	e.evaluate(ctx, symbol, t.Close)

	if e.bus != nil {
		e.bus.Publish(events.Event{Type: events.PriceUpdate, Data: map[string]interface{}{"symbol": symbol, "price": t.Close}})
	}
}

func (e *Engine) recordProtocolFailure(symbol string) {
	if e.breakers != nil {
		e.breakers.RecordFailure(symbol)
	}
}

// evaluate runs the indicator/signal/risk pipeline against symbol's current
// candle window and acts on the result: mark open positions, check exits,
// then check entry.
func (e *Engine) evaluate(ctx context.Context, symbol string, lastClose float64) {
	window := e.candleStore.Snapshot(symbol)

	snap, sig, err := e.computeOrCached(ctx, symbol, window, lastClose)
	if err != nil {
		return
	}

	if e.bus != nil {
		e.bus.Publish(events.Event{Type: events.SignalGenerated, Data: map[string]interface{}{"symbol": symbol, "kind": string(sig.Kind), "confidence": sig.Confidence}})
	}

	settings := e.Settings()

	if pos, ok := e.positions.Get(symbol); ok {
		e.positions.Mark(symbol, lastClose)
		reason, shouldExit := risk.ExitReason(risk.ExitIntent{Position: pos, Signal: sig, Price: lastClose, Now: time.Now()}, settings)
		if shouldExit {
			e.closePosition(ctx, symbol, lastClose, reason, sig)
		}
		return
	}

	_, positions, _, dayPnl, _, availableBalance := e.positions.Snapshot()
	state := model.TradingState{Positions: positions, DayPnl: dayPnl, AvailableBalance: availableBalance}
	intent := risk.EntryIntent{Symbol: symbol, Signal: sig, Price: lastClose, HasOpenPosition: false}
	if risk.CanEnter(intent, state, settings) {
		e.openPosition(ctx, symbol, lastClose, sig, settings)
	}
}

func (e *Engine) computeOrCached(ctx context.Context, symbol string, window []model.Candle, lastClose float64) (model.IndicatorSnapshot, model.Signal, error) {
	if e.cache != nil {
		if snap, sig, ok := e.cache.Lookup(symbol); ok {
			return snap, sig, nil
		}
	}

	snap, err := indicators.Compute(window, e.cfg.Periods)
	if err != nil {
		return model.IndicatorSnapshot{}, model.Signal{}, err
	}
	sig := signal.Synthesize(snap, lastClose)

	if e.repo != nil {
		if err := e.repo.SaveIndicatorSnapshot(ctx, symbol, snap); err != nil {
			e.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to persist indicator snapshot")
		}
	}
	if e.cache != nil {
		e.cache.Store(symbol, snap, sig)
	}
	return snap, sig, nil
}

func (e *Engine) openPosition(ctx context.Context, symbol string, price float64, sig model.Signal, settings model.TradingSettings) {
	qty := risk.PlannedQty(e.positions.AvailableBalance(), price, settings)
	if qty <= 0 {
		return
	}
	stopLoss := price * (1 - settings.StopLossPct/100)
	target := price * (1 + settings.TakeProfitPct/100)

	pos, err := e.positions.Open(ctx, symbol, qty, price, stopLoss, target, time.Now(), sig, settings.MaxPositions)
	if err != nil {
		e.logger.Warn().Err(err).Str("symbol", symbol).Msg("entry rejected")
		return
	}
	metrics.TradesOpened.WithLabelValues(symbol).Inc()
	if e.bus != nil {
		e.bus.Publish(events.Event{Type: events.TradeOpened, Data: map[string]interface{}{"symbol": symbol, "qty": pos.Qty, "price": price}})
	}
}

func (e *Engine) closePosition(ctx context.Context, symbol string, price float64, reason model.ExitReason, sig model.Signal) {
	trade, err := e.positions.Close(ctx, symbol, price, reason, sig)
	if err != nil {
		e.logger.Warn().Err(err).Str("symbol", symbol).Msg("exit failed")
		return
	}
	metrics.TradesClosed.WithLabelValues(symbol, string(reason)).Inc()
	if e.bus != nil {
		e.bus.Publish(events.Event{Type: events.TradeClosed, Data: map[string]interface{}{"symbol": symbol, "reason": string(reason), "pnl": trade.PnL}})
	}
}

func (e *Engine) updateWatchlistPrice(symbol string, t market.Ticker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	item, ok := e.watchlist[symbol]
	if !ok {
		return
	}
	item.LastPrice = t.Close
	item.ChangePct24h = t.ChangePct
	item.LastUpdate = time.Now()
	e.watchlist[symbol] = item
}

// pollFallback pulls a fresh candle batch over REST when the stream has
// gone quiet, re-seeding the candle window without waiting on the socket.
func (e *Engine) pollFallback(ctx context.Context, symbol string) {
	bars, err := e.marketCli.FetchCandles(ctx, symbol, "1m", 2)
	if err != nil {
		e.recordProtocolFailure(symbol)
		return
	}
	for _, c := range bars {
		if err := e.candleStore.Append(symbol, c); err != nil {
			continue
		}
	}
	if len(bars) > 0 {
		e.evaluate(ctx, symbol, bars[len(bars)-1].Close)
	}
}

// runTimeoutScanner ticks independently of per-symbol price updates so a
// stale position still exits on MaxHoldTimeSec even with no new data.
func (e *Engine) runTimeoutScanner(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.TimeoutScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.scanTimeouts(ctx)
		}
	}
}

func (e *Engine) scanTimeouts(ctx context.Context) {
	settings := e.Settings()
	for _, pos := range e.positions.Positions() {
		reason, shouldExit := risk.ExitReason(risk.ExitIntent{Position: pos, Signal: model.Signal{Kind: model.Hold}, Price: pos.CurrentValue / maxFloat(pos.Qty, 1), Now: time.Now()}, settings)
		if shouldExit && reason == model.ExitTimeout {
			e.closePosition(ctx, pos.Symbol, pos.CurrentValue/maxFloat(pos.Qty, 1), reason, model.Signal{Kind: model.Hold})
		}
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
