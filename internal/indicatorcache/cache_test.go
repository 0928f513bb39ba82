package indicatorcache

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"scalping-engine/internal/model"
)

func TestCache_LookupMissBeforeStore(t *testing.T) {
	c := New(30*time.Second, nil, zerolog.Nop())
	_, _, ok := c.Lookup("BTCUSDT")
	assert.False(t, ok)
}

func TestCache_LookupHitWithinTTL(t *testing.T) {
	c := New(30*time.Second, nil, zerolog.Nop())
	snap := model.IndicatorSnapshot{RSI: 42}
	sig := model.Signal{Kind: model.Buy, Confidence: 60}

	c.Store("BTCUSDT", snap, sig)

	got, gotSig, ok := c.Lookup("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, 42.0, got.RSI)
	assert.Equal(t, model.Buy, gotSig.Kind)
}

func TestCache_LookupMissAfterTTLExpires(t *testing.T) {
	c := New(10*time.Millisecond, nil, zerolog.Nop())
	c.Store("BTCUSDT", model.IndicatorSnapshot{RSI: 42}, model.Signal{})

	time.Sleep(20 * time.Millisecond)

	_, _, ok := c.Lookup("BTCUSDT")
	assert.False(t, ok)
}

func TestCache_ClearRemovesAllEntries(t *testing.T) {
	c := New(30*time.Second, nil, zerolog.Nop())
	c.Store("BTCUSDT", model.IndicatorSnapshot{RSI: 1}, model.Signal{})
	c.Store("ETHUSDT", model.IndicatorSnapshot{RSI: 2}, model.Signal{})

	c.Clear()

	_, _, ok1 := c.Lookup("BTCUSDT")
	_, _, ok2 := c.Lookup("ETHUSDT")
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestCache_EntriesAreIndependentPerSymbol(t *testing.T) {
	c := New(30*time.Second, nil, zerolog.Nop())
	c.Store("BTCUSDT", model.IndicatorSnapshot{RSI: 10}, model.Signal{})
	c.Store("ETHUSDT", model.IndicatorSnapshot{RSI: 20}, model.Signal{})

	btc, _, _ := c.Lookup("BTCUSDT")
	eth, _, _ := c.Lookup("ETHUSDT")
	assert.Equal(t, 10.0, btc.RSI)
	assert.Equal(t, 20.0, eth.RSI)
}
