// Package pricefeed owns a single long-lived WebSocket connection to the
// upstream price source and answers price()/diag() queries for callers.
package pricefeed

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"

	"btc-tournament/config"
	"btc-tournament/internal/logging"
)

// Connection states for the feed's internal state machine.
const (
	StateClosed     = "closed"
	StateConnecting = "connecting"
	StateConnected  = "connected"
	StateError      = "error"
)

const (
	reconnectDelay  = 5 * time.Second
	connectTimeout  = 5 * time.Second
)

// Diag is a snapshot of the feed's connection health for diagnostics endpoints.
type Diag struct {
	Status       string    `json:"status"`
	FeedMode     string    `json:"feed_mode"`
	Coin         string    `json:"coin"`
	LastError    string    `json:"last_error,omitempty"`
	LastEventAt  time.Time `json:"last_event_at,omitempty"`
	LastUpdateAt time.Time `json:"last_update_at,omitempty"`
}

// Feed is a single logical actor owning one WebSocket connection.
type Feed struct {
	cfg     config.PriceFeedConfig
	dialer  *websocket.Dialer
	breaker *gobreaker.CircuitBreaker
	log     *logging.Logger

	mu           sync.RWMutex
	status       string
	conn         *websocket.Conn
	latestPrice  float64
	hasSample    bool
	lastUpdateAt time.Time
	lastEventAt  time.Time
	lastErr      error
}

// New constructs a Feed in the closed state. The first call to Price or Diag
// forces the initial connection attempt.
func New(cfg config.PriceFeedConfig) *Feed {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "pricefeed-connect",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Feed{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: connectTimeout},
		breaker: breaker,
		log:     logging.Default().WithComponent("pricefeed"),
		status:  StateClosed,
	}
}

// Price returns the latest known price and the time it was observed. ok is
// false if no sample has ever been received.
func (f *Feed) Price() (price float64, updatedAt time.Time, ok bool) {
	f.ensureConnected()

	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latestPrice, f.lastUpdateAt, f.hasSample
}

// Diag returns the feed's current connection diagnostics.
func (f *Feed) Diag() Diag {
	f.ensureConnected()

	f.mu.RLock()
	defer f.mu.RUnlock()

	d := Diag{
		Status:       f.status,
		FeedMode:     f.cfg.Mode,
		Coin:         f.cfg.Coin,
		LastEventAt:  f.lastEventAt,
		LastUpdateAt: f.lastUpdateAt,
	}
	if f.lastErr != nil {
		d.LastError = f.lastErr.Error()
	}
	return d
}

// ensureConnected forces a connection attempt on first use and otherwise
// lets the background reconnect loop own the state transitions. Concurrent
// callers share one in-flight connect attempt via the status check below.
func (f *Feed) ensureConnected() {
	f.mu.Lock()
	if f.status == StateConnected || f.status == StateConnecting {
		f.mu.Unlock()
		return
	}
	f.status = StateConnecting
	f.mu.Unlock()

	go f.connectAndRun()
}

func (f *Feed) connectAndRun() {
	result, err := f.breaker.Execute(func() (interface{}, error) {
		return f.dial()
	})
	if err != nil {
		f.mu.Lock()
		f.status = StateError
		f.lastErr = err
		f.mu.Unlock()
		f.log.WithError(err).Warn("price feed connect failed")
		f.scheduleReconnect()
		return
	}

	conn := result.(*websocket.Conn)
	f.mu.Lock()
	f.conn = conn
	f.status = StateConnected
	f.lastErr = nil
	f.mu.Unlock()
	f.log.Info("price feed connected")

	if err := f.subscribe(conn); err != nil {
		f.log.WithError(err).Warn("price feed subscribe failed")
		conn.Close()
		f.mu.Lock()
		f.status = StateError
		f.lastErr = err
		f.mu.Unlock()
		f.scheduleReconnect()
		return
	}

	f.readLoop(conn)

	f.mu.Lock()
	f.status = StateClosed
	f.conn = nil
	f.mu.Unlock()
	f.scheduleReconnect()
}

func (f *Feed) dial() (*websocket.Conn, error) {
	conn, _, err := f.dialer.Dial(f.cfg.WSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", f.cfg.WSURL, err)
	}
	return conn, nil
}

func (f *Feed) scheduleReconnect() {
	time.AfterFunc(reconnectDelay, f.ensureConnected)
}

type subscriptionRequest struct {
	Type string `json:"type"`
	Coin string `json:"coin,omitempty"`
}

func (f *Feed) subscribe(conn *websocket.Conn) error {
	var req subscriptionRequest
	switch f.cfg.Mode {
	case "allMids":
		req.Type = "allMids"
	case "trades":
		req.Type = "trades"
		req.Coin = f.cfg.Coin
	default:
		req.Type = f.cfg.Mode
		req.Coin = f.cfg.Coin
	}
	return conn.WriteJSON(req)
}

func (f *Feed) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			f.mu.Lock()
			f.lastErr = err
			f.mu.Unlock()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				f.log.WithError(err).Warn("price feed read error")
			}
			return
		}
		f.handleMessage(message)
	}
}

type feedMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type allMidsData struct {
	Mids map[string]string `json:"mids"`
}

type tradeData struct {
	Px    string `json:"px"`
	Price string `json:"price"`
}

func (f *Feed) handleMessage(message []byte) {
	f.mu.Lock()
	f.lastEventAt = time.Now()
	f.mu.Unlock()

	var msg feedMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}

	var priceStr string
	switch msg.Channel {
	case "allMids":
		var d allMidsData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return
		}
		priceStr = d.Mids[f.cfg.Coin]
	case "trades":
		var trades []tradeData
		if err := json.Unmarshal(msg.Data, &trades); err != nil || len(trades) == 0 {
			return
		}
		last := trades[len(trades)-1]
		priceStr = last.Px
		if priceStr == "" {
			priceStr = last.Price
		}
	default:
		return
	}

	if priceStr == "" {
		return
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil || math.IsNaN(price) || math.IsInf(price, 0) {
		return
	}

	f.mu.Lock()
	f.latestPrice = price
	f.lastUpdateAt = time.Now()
	f.hasSample = true
	f.mu.Unlock()
}
