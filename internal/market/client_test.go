package market

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalping-engine/internal/engineerr"
	"scalping-engine/internal/ratelimit"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(Config{
		BaseURL:        baseURL,
		RequestTimeout: time.Second,
		RetryAttempts:  2,
		RetryBaseDelay: time.Millisecond,
	}, ratelimit.New(100, time.Millisecond), zerolog.Nop())
}

func TestFetchTickers_ParsesAndFiltersBySymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"symbol":"BTCUSDT","lastPrice":"100.5","priceChange":"1.5","priceChangePercent":"1.5","volume":"200"},
			{"symbol":"ETHUSDT","lastPrice":"50","priceChange":"-1","priceChangePercent":"-2","volume":"300"}
		]`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	out, err := c.FetchTickers(context.Background(), []string{"BTCUSDT"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 100.5, out["BTCUSDT"].LastPrice)
}

func TestFetchTickers_RateLimitedReturnsRateLimitedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("server should not be called when the limiter denies the token")
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, RequestTimeout: time.Second, RetryAttempts: 1, RetryBaseDelay: time.Millisecond},
		ratelimit.New(0, time.Hour), zerolog.Nop())

	_, err := c.FetchTickers(context.Background(), []string{"BTCUSDT"})
	require.Error(t, err)
	var ee *engineerr.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, engineerr.RateLimited, ee.Kind)
}

func TestFetchTickers_MalformedNumericFieldIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"symbol":"BTCUSDT","lastPrice":"notanumber","priceChange":"1","priceChangePercent":"1","volume":"1"}]`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.FetchTickers(context.Background(), []string{"BTCUSDT"})
	require.Error(t, err)
	var ee *engineerr.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, engineerr.Protocol, ee.Kind)
}

func TestFetchCandles_ParsesKlineRowsIntoValidCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[[1000,"100","101","99","100.5","10",1999,"1000","1",1,"1","1"]]`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	out, err := c.FetchCandles(context.Background(), "BTCUSDT", "1m", 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 100.5, out[0].Close)
	assert.True(t, out[0].Valid())
}

func TestFetchCandles_4xxAbortsWithoutRetrying(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.FetchCandles(context.Background(), "BTCUSDT", "1m", 1)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestFetchCandles_5xxRetriesUpToConfiguredAttempts(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.FetchCandles(context.Background(), "BTCUSDT", "1m", 1)
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestHealthCheck_SucceedsOn2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	assert.NoError(t, c.HealthCheck(context.Background()))
}

func TestHealthCheck_UpstreamErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	err := c.HealthCheck(context.Background())
	require.Error(t, err)
	var ee *engineerr.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, engineerr.Upstream, ee.Kind)
}
