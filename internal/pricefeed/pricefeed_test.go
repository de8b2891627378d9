package pricefeed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btc-tournament/config"
)

func newAllMidsTestServer(t *testing.T, coin string, price string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		// drain the subscription request
		_, _, _ = conn.ReadMessage()

		msg := `{"channel":"allMids","data":{"mids":{"` + coin + `":"` + price + `"}}}`
		_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
		time.Sleep(200 * time.Millisecond)
	}))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestPriceFeedConnectsAndReadsAllMids(t *testing.T) {
	srv := newAllMidsTestServer(t, "BTC", "65000.5")
	defer srv.Close()

	f := New(config.PriceFeedConfig{WSURL: wsURL(srv.URL), Mode: "allMids", Coin: "BTC"})

	require.Eventually(t, func() bool {
		_, _, ok := f.Price()
		return ok
	}, 2*time.Second, 20*time.Millisecond)

	price, _, ok := f.Price()
	require.True(t, ok)
	assert.Equal(t, 65000.5, price)
}

func TestPriceFeedDiagBeforeAnySample(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	f := New(config.PriceFeedConfig{WSURL: wsURL(srv.URL), Mode: "allMids", Coin: "BTC"})
	diag := f.Diag()
	assert.NotEmpty(t, diag.Status)
	assert.Equal(t, "BTC", diag.Coin)
}

func TestPriceFeedHandlesTradesMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"trades","data":[{"px":"64000"},{"px":"64500"}]}`))
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	f := New(config.PriceFeedConfig{WSURL: wsURL(srv.URL), Mode: "trades", Coin: "BTC"})
	require.Eventually(t, func() bool {
		_, _, ok := f.Price()
		return ok
	}, 2*time.Second, 20*time.Millisecond)

	price, _, _ := f.Price()
	assert.Equal(t, 64500.0, price)
}

func TestHandleMessageIgnoresNonFiniteValues(t *testing.T) {
	f := New(config.PriceFeedConfig{Mode: "allMids", Coin: "BTC"})
	f.handleMessage([]byte(`{"channel":"allMids","data":{"mids":{"BTC":"NaN"}}}`))
	_, _, ok := f.Price()
	assert.False(t, ok)
}
