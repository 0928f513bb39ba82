package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalping-engine/internal/candles"
	"scalping-engine/internal/circuit"
	"scalping-engine/internal/engine"
	"scalping-engine/internal/events"
	"scalping-engine/internal/indicatorcache"
	"scalping-engine/internal/indicators"
	"scalping-engine/internal/model"
	"scalping-engine/internal/position"
	"scalping-engine/internal/publisher"
)

func testSettings() model.TradingSettings {
	return model.TradingSettings{
		MinConfidence: 60, MaxPositionSize: 1000000, RiskPerTradePct: 1,
		MaxDailyLossAbs: 500, MaxPositions: 5, StopLossPct: 2, TakeProfitPct: 4,
		MaxHoldTimeSec: 1800, ScalingFactor: 1, IsEnabled: true,
	}
}

func newTestServer() (*Server, *position.Manager) {
	positions := position.NewManager(100000, nil, zerolog.Nop())
	eng := engine.New(engine.Config{
		Periods:              indicators.DefaultPeriods(),
		IndicatorCacheTTL:    30 * time.Second,
		PollFallbackInterval: 10 * time.Second,
		TimeoutScanInterval:  time.Second,
		CandleIntervalMs:     60000,
	}, nil, nil, candles.NewStore(500), indicatorcache.New(30*time.Second, nil, zerolog.Nop()),
		circuit.NewRegistry(circuit.DefaultConfig()), positions, events.NewBus(), testSettings(), zerolog.Nop(), nil)

	pub := publisher.New(eng, positions, 2*time.Second)
	srv := NewServer(Config{Host: "127.0.0.1", Port: 0, AllowedOrigins: "*", ReadTimeout: time.Second, WriteTimeout: time.Second, ShutdownTimeout: time.Second},
		eng, positions, pub, nil, nil, nil, zerolog.Nop())
	return srv, positions
}

func TestHandleHealth_ReturnsHealthyWithoutDatabase(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHandleTradingState_ReturnsSnapshot(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/trading-state", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var state model.TradingState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal(t, 100000.0, state.TradingBalance)
}

func TestHandleTradingDisable_TurnsOffEntriesOnly(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/trading/disable", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, srv.eng.Settings().IsEnabled)
}

func TestHandlePositions_EmptyInitially(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var positions []model.Position
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &positions))
	assert.Len(t, positions, 0)
}

func TestHandleClosePosition_NotFoundReturns404(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/positions/BTCUSDT/close", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleClosePosition_ClosesOpenPosition(t *testing.T) {
	srv, positions := newTestServer()
	_, err := positions.Open(context.Background(), "BTCUSDT", 10, 100, 98, 104, time.Now(), model.Signal{}, 5)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/positions/BTCUSDT/close", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	_, ok := positions.Get("BTCUSDT")
	assert.False(t, ok)
}

func TestHandlePostSettings_RejectsInvalidTakeProfitStopLoss(t *testing.T) {
	srv, _ := newTestServer()
	body, _ := json.Marshal(model.TradingSettings{TakeProfitPct: 1, StopLossPct: 2})
	req := httptest.NewRequest(http.MethodPost, "/api/settings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlePostSettings_AcceptsValidSettings(t *testing.T) {
	srv, _ := newTestServer()
	settings := testSettings()
	settings.MinConfidence = 70
	body, _ := json.Marshal(settings)
	req := httptest.NewRequest(http.MethodPost, "/api/settings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 70.0, srv.eng.Settings().MinConfidence)
}

func TestHandlePerformance_ReflectsClosedTrades(t *testing.T) {
	srv, positions := newTestServer()
	_, err := positions.Open(context.Background(), "BTCUSDT", 10, 100, 98, 104, time.Now(), model.Signal{}, 5)
	require.NoError(t, err)
	_, err = positions.Close(context.Background(), "BTCUSDT", 104, model.ExitTakeProfit, model.Signal{})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/performance", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 100.0, body["win_rate"])
}
