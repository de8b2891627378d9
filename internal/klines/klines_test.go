package klines

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btc-tournament/config"
)

func testServer(t *testing.T, candles []upstreamCandle) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(candles)
	}))
}

func testCandle(t int64, close float64) upstreamCandle {
	return upstreamCandle{T: t, O: close, H: close + 1, L: close - 1, C: close, V: 10}
}

func TestFetchManyRejectsUnsupportedSymbol(t *testing.T) {
	f := New(config.KlineConfig{InfoURL: "http://example.invalid", DefaultLimit: 200, MaxLimit: 500}, nil)
	_, err := f.FetchMany(context.Background(), "ETH", []string{"5m"}, 10)
	require.Error(t, err)
}

func TestFetchManyRejectsUnsupportedInterval(t *testing.T) {
	srv := testServer(t, []upstreamCandle{testCandle(0, 100)})
	defer srv.Close()

	f := New(config.KlineConfig{InfoURL: srv.URL, DefaultLimit: 200, MaxLimit: 500}, nil)
	results, err := f.FetchMany(context.Background(), "BTC", []string{"2m"}, 10)
	require.NoError(t, err)
	require.Contains(t, results, "2m")
	assert.Error(t, results["2m"].Err)
}

func TestFetchManyNormalizesCandles(t *testing.T) {
	srv := testServer(t, []upstreamCandle{testCandle(0, 100), testCandle(300_000, 101)})
	defer srv.Close()

	f := New(config.KlineConfig{InfoURL: srv.URL, DefaultLimit: 200, MaxLimit: 500}, nil)
	results, err := f.FetchMany(context.Background(), "BTC", []string{"5m"}, 10)
	require.NoError(t, err)

	res := results["5m"]
	require.NoError(t, res.Err)
	require.Len(t, res.Klines, 2)
	assert.Equal(t, int64(299_999), res.Klines[0].CloseTime)
	assert.Equal(t, 100.0, res.Klines[0].Close)
}

func TestFetchManyDefaultsLimitAndIntervals(t *testing.T) {
	srv := testServer(t, []upstreamCandle{testCandle(0, 100)})
	defer srv.Close()

	f := New(config.KlineConfig{InfoURL: srv.URL, DefaultLimit: 200, MaxLimit: 500, DefaultIntervals: []string{"15m"}}, nil)
	results, err := f.FetchMany(context.Background(), "BTC", nil, 0)
	require.NoError(t, err)
	assert.Contains(t, results, "15m")
}

func TestFetchManyClampsLimitToMax(t *testing.T) {
	candles := make([]upstreamCandle, 10)
	for i := range candles {
		candles[i] = testCandle(int64(i)*300_000, 100+float64(i))
	}
	srv := testServer(t, candles)
	defer srv.Close()

	f := New(config.KlineConfig{InfoURL: srv.URL, DefaultLimit: 200, MaxLimit: 5}, nil)
	results, err := f.FetchMany(context.Background(), "BTC", []string{"5m"}, 500)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results["5m"].Klines), 5)
}

func TestWindowFetchesSingleInterval(t *testing.T) {
	candles := []upstreamCandle{testCandle(0, 100), testCandle(300_000, 101), testCandle(600_000, 102)}
	srv := testServer(t, candles)
	defer srv.Close()

	f := New(config.KlineConfig{InfoURL: srv.URL, DefaultLimit: 200, MaxLimit: 500}, nil)
	out, err := f.Window(context.Background(), "BTC", "5m", 599_999, 3)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}
