// Package klines fetches and normalizes OHLCV candles from the upstream info
// endpoint, with a short-TTL cache and a circuit breaker guarding outbound calls.
package klines

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/sony/gobreaker"

	"btc-tournament/config"
	"btc-tournament/internal/apperr"
	"btc-tournament/internal/cache"
	"btc-tournament/internal/database"
	"btc-tournament/internal/logging"
)

// supportedIntervals is the whitelist candidate timeframes are validated against.
var supportedIntervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "4h": true, "12h": true, "1d": true,
}

// SupportedSymbol is the only symbol the fetcher accepts requests for.
const SupportedSymbol = "BTC"

var periodToMs = map[string]int64{
	"1m": 60_000, "3m": 180_000, "5m": 300_000, "15m": 900_000, "30m": 1_800_000,
	"1h": 3_600_000, "4h": 14_400_000, "12h": 43_200_000, "1d": 86_400_000,
}

// Fetcher fetches and normalizes candle windows for one or more intervals.
type Fetcher struct {
	cfg     config.KlineConfig
	cache   *cache.CacheService
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// New constructs a Fetcher. cacheSvc may be nil, in which case the cache is
// bypassed (every request goes upstream).
func New(cfg config.KlineConfig, cacheSvc *cache.CacheService) *Fetcher {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "klines-upstream",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Fetcher{
		cfg:     cfg,
		cache:   cacheSvc,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
}

// Result is one interval's fetched window, or an error if that interval's
// fetch failed — partial results across intervals are preserved.
type Result struct {
	Klines []database.Kline
	Err    error
}

// FetchMany fetches candle windows for each requested interval, validating
// symbol/limit/intervals up front. Each interval's outcome is independent: a
// single upstream failure does not drop the other intervals' results.
func (f *Fetcher) FetchMany(ctx context.Context, symbol string, intervals []string, limit int) (map[string]Result, error) {
	if symbol != SupportedSymbol {
		return nil, apperr.Validation("UNSUPPORTED_SYMBOL", fmt.Sprintf("symbol %q is not supported, only %q", symbol, SupportedSymbol))
	}
	if limit <= 0 {
		limit = f.cfg.DefaultLimit
	}
	if limit > f.cfg.MaxLimit {
		limit = f.cfg.MaxLimit
	}
	if len(intervals) == 0 {
		intervals = f.cfg.DefaultIntervals
	}

	out := make(map[string]Result, len(intervals))
	for _, interval := range intervals {
		if !supportedIntervals[interval] {
			out[interval] = Result{Err: apperr.Validation("UNSUPPORTED_INTERVAL", fmt.Sprintf("interval %q is not whitelisted", interval))}
			continue
		}
		ks, err := f.fetchOne(ctx, symbol, interval, limit)
		out[interval] = Result{Klines: ks, Err: err}
	}
	return out, nil
}

// Window satisfies reasonrule.KlineProvider: fetches a single-interval window
// of `bars` candles ending at (and including, if present upstream) endCloseMs.
func (f *Fetcher) Window(ctx context.Context, symbol, timeframe string, endCloseMs int64, bars int) ([]database.Kline, error) {
	if symbol != SupportedSymbol {
		return nil, apperr.Validation("UNSUPPORTED_SYMBOL", fmt.Sprintf("symbol %q is not supported, only %q", symbol, SupportedSymbol))
	}
	intervalMs, ok := periodToMs[timeframe]
	if !ok {
		return nil, apperr.Validation("UNSUPPORTED_INTERVAL", fmt.Sprintf("interval %q is not whitelisted", timeframe))
	}
	startMs := endCloseMs - int64(bars)*intervalMs
	return f.fetchRange(ctx, symbol, timeframe, startMs, endCloseMs+1, bars)
}

func (f *Fetcher) fetchOne(ctx context.Context, symbol, interval string, limit int) ([]database.Kline, error) {
	now := time.Now().UnixMilli()
	intervalMs := periodToMs[interval]
	startMs := now - int64(limit)*intervalMs
	return f.fetchRange(ctx, symbol, interval, startMs, now, limit)
}

type upstreamRequest struct {
	Type string `json:"type"`
	Req  struct {
		Coin      string `json:"coin"`
		Interval  string `json:"interval"`
		StartTime int64  `json:"startTime"`
		EndTime   int64  `json:"endTime"`
	} `json:"req"`
}

type upstreamCandle struct {
	T  int64   `json:"t"`
	TT *int64  `json:"T"`
	O  float64 `json:"o,string"`
	H  float64 `json:"h,string"`
	L  float64 `json:"l,string"`
	C  float64 `json:"c,string"`
	V  float64 `json:"v,string"`
	N  int64   `json:"n,omitempty"`
}

func (f *Fetcher) fetchRange(ctx context.Context, symbol, interval string, startMs, endMs int64, limit int) ([]database.Kline, error) {
	log := logging.Default().WithComponent("klines")

	reqURL := fmt.Sprintf("%s?coin=%s&interval=%s&start=%d&end=%d", f.cfg.InfoURL, symbol, interval, startMs, endMs)
	cacheTTL := time.Duration(f.cfg.CacheSec) * time.Second

	if f.cache != nil && f.cache.IsHealthy() {
		var cached []database.Kline
		if err := f.cache.GetJSON(ctx, cache.KlineWindowKey(reqURL), &cached); err == nil {
			return cached, nil
		}
	}

	if !f.limiter.Allow() {
		return nil, apperr.Upstream("RATE_LIMITED", "kline fetch exceeded local rate limit", nil)
	}

	result, err := f.breaker.Execute(func() (interface{}, error) {
		return f.doFetch(ctx, symbol, interval, startMs, endMs)
	})
	if err != nil {
		log.WithError(err).WithField("interval", interval).Warn("kline upstream fetch failed")
		return nil, apperr.Upstream("KLINE_UPSTREAM_FAILED", err.Error(), err)
	}

	klines := result.([]database.Kline)
	if len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}

	if f.cache != nil && f.cache.IsHealthy() {
		_ = f.cache.SetJSON(ctx, cache.KlineWindowKey(reqURL), klines, cacheTTL)
	}

	return klines, nil
}

func (f *Fetcher) doFetch(ctx context.Context, symbol, interval string, startMs, endMs int64) ([]database.Kline, error) {
	var body upstreamRequest
	body.Type = "candleSnapshot"
	body.Req.Coin = symbol
	body.Req.Interval = interval
	body.Req.StartTime = startMs
	body.Req.EndTime = endMs

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.InfoURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, string(raw))
	}

	var candles []upstreamCandle
	if err := json.Unmarshal(raw, &candles); err != nil {
		return nil, fmt.Errorf("decode upstream candles: %w", err)
	}

	intervalMs := periodToMs[interval]
	out := make([]database.Kline, 0, len(candles))
	for _, c := range candles {
		closeTime := c.T + intervalMs - 1
		if c.TT != nil {
			closeTime = *c.TT
		}
		out = append(out, database.Kline{
			OpenTime:    c.T,
			CloseTime:   closeTime,
			Open:        c.O,
			High:        c.H,
			Low:         c.L,
			Close:       c.C,
			Volume:      c.V,
			TradesCount: c.N,
		})
	}
	return out, nil
}
