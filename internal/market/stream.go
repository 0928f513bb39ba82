package market

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"scalping-engine/internal/metrics"
	"scalping-engine/internal/model"
)

// TickerFrame is the wire shape of a single ticker stream frame (spec §6):
// {data:{E, s, c, o, h, l, v, P}}.
type TickerFrame struct {
	Data struct {
		EventTimeMs int64  `json:"E"`
		Symbol      string `json:"s"`
		Close       string `json:"c"`
		Open        string `json:"o"`
		High        string `json:"h"`
		Low         string `json:"l"`
		Volume      string `json:"v"`
		ChangePct   string `json:"P"`
	} `json:"data"`
}

// Ticker is the parsed, typed form of a TickerFrame.
type Ticker struct {
	Symbol      string
	EventTimeMs int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	ChangePct   float64
}

const (
	initialBackoff = time.Second
	maxBackoff     = 60 * time.Second
)

// symbolStream owns one websocket connection and its subscriber fan-out.
type symbolStream struct {
	symbol      string
	mu          sync.RWMutex
	subscribers map[chan Ticker]struct{}
	cancel      context.CancelFunc
	done        chan struct{}
}

// StreamClient holds one streaming connection per symbol, fanning parsed
// tickers out to subscriber channels with non-blocking send (spec §4.3).
type StreamClient struct {
	baseURL string
	mu      sync.Mutex
	streams map[string]*symbolStream
	logger  zerolog.Logger
	dialer  *websocket.Dialer
}

// NewStreamClient constructs a StreamClient pointed at the given stream
// base URL (e.g. wss://stream.binance.com:9443).
func NewStreamClient(baseURL string, logger zerolog.Logger) *StreamClient {
	return &StreamClient{
		baseURL: baseURL,
		streams: make(map[string]*symbolStream),
		logger:  logger.With().Str("component", "market.StreamClient").Logger(),
		dialer:  websocket.DefaultDialer,
	}
}

// Subscribe registers a channel for symbol's ticker updates and ensures a
// connection exists for that symbol. Subscribe(symbol) is idempotent: any
// number of calls for the same symbol share one underlying connection.
func (sc *StreamClient) Subscribe(ctx context.Context, symbol string) (<-chan Ticker, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	s, ok := sc.streams[symbol]
	if !ok {
		streamCtx, cancel := context.WithCancel(ctx)
		s = &symbolStream{
			symbol:      symbol,
			subscribers: make(map[chan Ticker]struct{}),
			cancel:      cancel,
			done:        make(chan struct{}),
		}
		sc.streams[symbol] = s
		go sc.run(streamCtx, s)
	}

	ch := make(chan Ticker, 32)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()
	return ch, nil
}

// Unsubscribe removes ch from symbol's fan-out set.
func (sc *StreamClient) Unsubscribe(symbol string, ch <-chan Ticker) {
	sc.mu.Lock()
	s, ok := sc.streams[symbol]
	sc.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	for c := range s.subscribers {
		if c == ch {
			delete(s.subscribers, c)
			close(c)
			break
		}
	}
	s.mu.Unlock()
}

// run is the per-symbol connect/read/reconnect loop, grounded on the
// teacher's user-data-stream reconnect pattern: dial, read until error,
// backoff, redial, with exponential backoff capped at 60s.
func (sc *StreamClient) run(ctx context.Context, s *symbolStream) {
	defer close(s.done)

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			sc.closeSubscribers(s)
			return
		}

		url := fmt.Sprintf("%s/ws/%s@ticker", sc.baseURL, s.symbol)
		conn, _, err := sc.dialer.DialContext(ctx, url, nil)
		if err != nil {
			sc.logger.Warn().Err(err).Str("symbol", s.symbol).Dur("backoff", backoff).Msg("stream dial failed, retrying")
			metrics.StreamReconnects.WithLabelValues(s.symbol).Inc()
			if !sleepOrDone(ctx, backoff) {
				sc.closeSubscribers(s)
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = initialBackoff
		sc.readLoop(ctx, s, conn)
		conn.Close()

		if ctx.Err() != nil {
			sc.closeSubscribers(s)
			return
		}
		sc.logger.Info().Str("symbol", s.symbol).Msg("stream connection lost, reconnecting")
		metrics.StreamReconnects.WithLabelValues(s.symbol).Inc()
		if !sleepOrDone(ctx, backoff) {
			sc.closeSubscribers(s)
			return
		}
		backoff = nextBackoff(backoff)
	}
}

func (sc *StreamClient) readLoop(ctx context.Context, s *symbolStream, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame TickerFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			sc.logger.Error().Err(err).Str("symbol", s.symbol).Msg("malformed ticker frame")
			continue
		}
		ticker, err := parseTicker(frame)
		if err != nil {
			sc.logger.Error().Err(err).Str("symbol", s.symbol).Msg("ticker frame failed to parse")
			continue
		}
		sc.fanOut(s, ticker)
	}
}

func (sc *StreamClient) fanOut(s *symbolStream, t Ticker) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subscribers {
		select {
		case ch <- t:
		default:
			// subscriber is slow; drop rather than block the reader.
		}
	}
}

func (sc *StreamClient) closeSubscribers(s *symbolStream) {
	s.mu.Lock()
	for ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = make(map[chan Ticker]struct{})
	s.mu.Unlock()
}

// Close tears down every connection and clears subscriber maps.
func (sc *StreamClient) Close() {
	sc.mu.Lock()
	streams := sc.streams
	sc.streams = make(map[string]*symbolStream)
	sc.mu.Unlock()

	for _, s := range streams {
		s.cancel()
		<-s.done
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func parseTicker(f TickerFrame) (Ticker, error) {
	open, err1 := parseFloat(f.Data.Open)
	high, err2 := parseFloat(f.Data.High)
	low, err3 := parseFloat(f.Data.Low)
	closeP, err4 := parseFloat(f.Data.Close)
	vol, err5 := parseFloat(f.Data.Volume)
	changePct, err6 := parseFloat(f.Data.ChangePct)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil || err6 != nil {
		return Ticker{}, fmt.Errorf("malformed ticker fields for %s", f.Data.Symbol)
	}
	return Ticker{
		Symbol:      f.Data.Symbol,
		EventTimeMs: f.Data.EventTimeMs,
		Open:        open,
		High:        high,
		Low:         low,
		Close:       closeP,
		Volume:      vol,
		ChangePct:   changePct,
	}, nil
}

// ToCandle folds a ticker update into a 1-candle representation for C4
// append, used when the stream carries only the latest tick and the
// orchestrator treats each tick as an in-flight candle update.
func (t Ticker) ToCandle(openTimeMs, closeTimeMs int64) model.Candle {
	return model.Candle{
		Open:        t.Open,
		High:        t.High,
		Low:         t.Low,
		Close:       t.Close,
		Volume:      t.Volume,
		OpenTimeMs:  openTimeMs,
		CloseTimeMs: closeTimeMs,
	}
}
