package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalping-engine/internal/model"
	"scalping-engine/internal/position"
)

type stubEngineView struct {
	settings  model.TradingSettings
	watchlist []model.WatchlistItem
}

func (s stubEngineView) Settings() model.TradingSettings      { return s.settings }
func (s stubEngineView) Watchlist() []model.WatchlistItem { return s.watchlist }

func TestPublisher_SnapshotAssemblesLedgerAndSettings(t *testing.T) {
	positions := position.NewManager(100000, nil, zerolog.Nop())
	_, err := positions.Open(context.Background(), "BTCUSDT", 1, 100, 99, 102, time.Now(), model.Signal{}, 5)
	require.NoError(t, err)

	eng := stubEngineView{
		settings:  model.TradingSettings{IsEnabled: true, MinConfidence: 60},
		watchlist: []model.WatchlistItem{{Symbol: "BTCUSDT", IsActive: true}},
	}
	pub := New(eng, positions, time.Second)

	state := pub.Snapshot()
	assert.Len(t, state.Positions, 1)
	assert.Len(t, state.Trades, 1)
	assert.True(t, state.Settings.IsEnabled)
	assert.Len(t, state.Watchlist, 1)
	assert.Equal(t, 99900.0, state.AvailableBalance)
}

func TestPublisher_RunBroadcastsToSubscriberOnEachTick(t *testing.T) {
	positions := position.NewManager(100000, nil, zerolog.Nop())
	eng := stubEngineView{settings: model.TradingSettings{}, watchlist: nil}
	pub := New(eng, positions, 5*time.Millisecond)

	ch := pub.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	go pub.Run(ctx)
	defer cancel()

	select {
	case state := <-ch:
		assert.False(t, state.GeneratedAt.IsZero())
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected at least one broadcast within timeout")
	}
}

func TestPublisher_UnsubscribeClosesChannel(t *testing.T) {
	positions := position.NewManager(100000, nil, zerolog.Nop())
	eng := stubEngineView{}
	pub := New(eng, positions, time.Second)

	ch := pub.Subscribe()
	pub.Unsubscribe(ch)

	_, ok := <-ch
	assert.False(t, ok)
}

func TestPublisher_SlowObserverDoesNotBlockBroadcast(t *testing.T) {
	positions := position.NewManager(100000, nil, zerolog.Nop())
	eng := stubEngineView{}
	pub := New(eng, positions, time.Millisecond)

	slow := pub.Subscribe() // never drained
	fast := pub.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			pub.broadcast(pub.Snapshot())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on slow observer")
	}
	_ = slow
	<-fast
}
