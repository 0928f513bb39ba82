package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testConfig() Config {
	return Config{MaxConsecutiveFailures: 3, CooldownPeriod: 20 * time.Millisecond}
}

func TestRegistry_NewSymbolStartsClosedAndAllowed(t *testing.T) {
	r := NewRegistry(testConfig())
	assert.Equal(t, Closed, r.State("BTCUSDT"))
	assert.True(t, r.Allow("BTCUSDT"))
}

func TestRegistry_TripsOpenAfterMaxConsecutiveFailures(t *testing.T) {
	r := NewRegistry(testConfig())
	r.RecordFailure("BTCUSDT")
	r.RecordFailure("BTCUSDT")
	assert.Equal(t, Closed, r.State("BTCUSDT"))

	r.RecordFailure("BTCUSDT")
	assert.Equal(t, Open, r.State("BTCUSDT"))
	assert.False(t, r.Allow("BTCUSDT"))
}

func TestRegistry_SuccessResetsFailureStreak(t *testing.T) {
	r := NewRegistry(testConfig())
	r.RecordFailure("BTCUSDT")
	r.RecordFailure("BTCUSDT")
	r.RecordSuccess("BTCUSDT")
	r.RecordFailure("BTCUSDT")
	r.RecordFailure("BTCUSDT")

	assert.Equal(t, Closed, r.State("BTCUSDT"), "streak should have reset after the intervening success")
}

func TestRegistry_AllowsHalfOpenProbeAfterCooldown(t *testing.T) {
	r := NewRegistry(testConfig())
	r.RecordFailure("BTCUSDT")
	r.RecordFailure("BTCUSDT")
	r.RecordFailure("BTCUSDT")
	assertOpen(t, r)

	time.Sleep(30 * time.Millisecond)
	assert.True(t, r.Allow("BTCUSDT"))
	assert.Equal(t, HalfOpen, r.State("BTCUSDT"))
}

func TestRegistry_SymbolsTripIndependently(t *testing.T) {
	r := NewRegistry(testConfig())
	r.RecordFailure("BTCUSDT")
	r.RecordFailure("BTCUSDT")
	r.RecordFailure("BTCUSDT")

	assert.Equal(t, Open, r.State("BTCUSDT"))
	assert.Equal(t, Closed, r.State("ETHUSDT"))
	assert.True(t, r.Allow("ETHUSDT"))
}

func assertOpen(t *testing.T, r *Registry) {
	t.Helper()
	assert.Equal(t, Open, r.State("BTCUSDT"))
}
