package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTicker_ParsesNumericFields(t *testing.T) {
	var frame TickerFrame
	frame.Data.Symbol = "BTCUSDT"
	frame.Data.EventTimeMs = 1000
	frame.Data.Open = "100"
	frame.Data.High = "101"
	frame.Data.Low = "99"
	frame.Data.Close = "100.5"
	frame.Data.Volume = "10"
	frame.Data.ChangePct = "1.5"

	ticker, err := parseTicker(frame)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", ticker.Symbol)
	assert.Equal(t, 100.5, ticker.Close)
	assert.Equal(t, 1.5, ticker.ChangePct)
}

func TestParseTicker_MalformedFieldErrors(t *testing.T) {
	var frame TickerFrame
	frame.Data.Close = "notanumber"
	_, err := parseTicker(frame)
	assert.Error(t, err)
}

func TestNextBackoff_DoublesAndCapsAtMax(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second))
	assert.Equal(t, maxBackoff, nextBackoff(maxBackoff))
	assert.Equal(t, maxBackoff, nextBackoff(maxBackoff/2+time.Second))
}

func TestTicker_ToCandleCopiesOHLCV(t *testing.T) {
	tk := Ticker{Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}
	c := tk.ToCandle(1000, 1999)
	assert.Equal(t, int64(1000), c.OpenTimeMs)
	assert.Equal(t, int64(1999), c.CloseTimeMs)
	assert.Equal(t, 1.5, c.Close)
	assert.True(t, c.Valid())
}

var upgrader = websocket.Upgrader{}

// streamServer upgrades every connection and writes the given frames back
// to back, then blocks until the connection closes.
func streamServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestStreamClient_SubscribeDeliversParsedTickers(t *testing.T) {
	srv := streamServer(t, []string{
		`{"data":{"E":1,"s":"BTCUSDT","c":"100","o":"99","h":"101","l":"98","v":"5","P":"1"}}`,
	})
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	sc := NewStreamClient(wsURL, zerolog.Nop())
	defer sc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := sc.Subscribe(ctx, "BTCUSDT")
	require.NoError(t, err)

	select {
	case ticker := <-ch:
		assert.Equal(t, "BTCUSDT", ticker.Symbol)
		assert.Equal(t, 100.0, ticker.Close)
	case <-time.After(2 * time.Second):
		t.Fatal("no ticker received")
	}
}

func TestStreamClient_SubscribeIsIdempotentPerSymbol(t *testing.T) {
	srv := streamServer(t, nil)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	sc := NewStreamClient(wsURL, zerolog.Nop())
	defer sc.Close()

	ctx := context.Background()
	_, err := sc.Subscribe(ctx, "BTCUSDT")
	require.NoError(t, err)
	_, err = sc.Subscribe(ctx, "BTCUSDT")
	require.NoError(t, err)

	sc.mu.Lock()
	n := len(sc.streams)
	sc.mu.Unlock()
	assert.Equal(t, 1, n)
}

func TestStreamClient_UnsubscribeClosesChannel(t *testing.T) {
	srv := streamServer(t, nil)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	sc := NewStreamClient(wsURL, zerolog.Nop())
	defer sc.Close()

	ctx := context.Background()
	ch, err := sc.Subscribe(ctx, "BTCUSDT")
	require.NoError(t, err)

	sc.Unsubscribe("BTCUSDT", ch)

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel was never closed")
	}
}
