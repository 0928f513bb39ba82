// Package publisher implements the state publisher (C10): it assembles a
// consistent TradingState snapshot and broadcasts it to observers on a
// fixed interval, non-blocking so a slow observer never stalls the engine.
package publisher

import (
	"context"
	"sync"
	"time"

	"scalping-engine/internal/model"
	"scalping-engine/internal/position"
)

// EngineView is the subset of engine.Engine the publisher needs, kept as an
// interface so publisher does not import engine and can be driven by a stub
// in tests.
type EngineView interface {
	Settings() model.TradingSettings
	Watchlist() []model.WatchlistItem
}

// Publisher periodically snapshots engine + ledger state and fans it out to
// subscriber channels, following the teacher's websocket hub's
// register/unregister/broadcast pattern but built around plain channels
// instead of a client registry, since C10 has no per-client state beyond
// "wants the next snapshot".
type Publisher struct {
	mu        sync.RWMutex
	observers map[chan model.TradingState]struct{}

	eng       EngineView
	positions *position.Manager
	interval  time.Duration
}

// New constructs a Publisher reading from eng and positions every interval.
func New(eng EngineView, positions *position.Manager, interval time.Duration) *Publisher {
	return &Publisher{
		observers: make(map[chan model.TradingState]struct{}),
		eng:       eng,
		positions: positions,
		interval:  interval,
	}
}

// Snapshot assembles a TradingState under the position manager's single
// read lock, then layers in the engine's settings/watchlist.
func (p *Publisher) Snapshot() model.TradingState {
	trades, positions, totalPnl, dayPnl, tradingBalance, availableBalance := p.positions.Snapshot()
	return model.TradingState{
		Trades:           trades,
		Positions:        positions,
		TotalPnl:         totalPnl,
		DayPnl:           dayPnl,
		TradingBalance:   tradingBalance,
		AvailableBalance: availableBalance,
		Settings:         p.eng.Settings(),
		Watchlist:        p.eng.Watchlist(),
		GeneratedAt:      time.Now(),
	}
}

// Subscribe registers a new observer channel, buffered so the broadcast
// loop never blocks on a single slow reader.
func (p *Publisher) Subscribe() chan model.TradingState {
	ch := make(chan model.TradingState, 4)
	p.mu.Lock()
	p.observers[ch] = struct{}{}
	p.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes an observer channel.
func (p *Publisher) Unsubscribe(ch chan model.TradingState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.observers[ch]; ok {
		delete(p.observers, ch)
		close(ch)
	}
}

// Run broadcasts a fresh snapshot to every observer on each tick until ctx
// is canceled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.broadcast(p.Snapshot())
		}
	}
}

func (p *Publisher) broadcast(state model.TradingState) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for ch := range p.observers {
		select {
		case ch <- state:
		default:
			// observer is behind; drop this tick rather than block the loop.
		}
	}
}
