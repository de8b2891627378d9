// Package reasonrule validates reason-rule submissions, aligns them to candle
// boundaries, and evaluates the Pattern Evaluator against the historical
// window that backs each prediction.
package reasonrule

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"btc-tournament/internal/apperr"
	"btc-tournament/internal/database"
	"btc-tournament/internal/patterns"
)

// periodToMs maps every whitelisted timeframe code to its duration in milliseconds.
var periodToMs = map[string]int64{
	"1m":  60_000,
	"3m":  3 * 60_000,
	"5m":  5 * 60_000,
	"15m": 15 * 60_000,
	"30m": 30 * 60_000,
	"1h":  3_600_000,
	"4h":  4 * 3_600_000,
	"12h": 12 * 3_600_000,
	"1d":  24 * 3_600_000,
}

// KlineProvider fetches a trailing window of klines ending at (and including)
// a bar whose close_time equals endCloseMs, if one exists in the upstream history.
type KlineProvider interface {
	Window(ctx context.Context, symbol, timeframe string, endCloseMs int64, bars int) ([]database.Kline, error)
}

// RawRule is the unvalidated submission shape as received over HTTP.
type RawRule struct {
	Timeframe   string
	Pattern     string
	Direction   string
	HorizonBars int
}

// Normalize validates a raw rule against the timeframe/pattern whitelists and
// optional per-request constraints, returning the canonical ReasonRule.
func Normalize(raw RawRule, allowedIntervals []string, expectedDirection string) (*database.ReasonRule, error) {
	if _, ok := periodToMs[raw.Timeframe]; !ok {
		return nil, apperr.Validation("INVALID_TIMEFRAME", fmt.Sprintf("timeframe %q is not whitelisted", raw.Timeframe))
	}
	if len(allowedIntervals) > 0 && !contains(allowedIntervals, raw.Timeframe) {
		return nil, apperr.Validation("TIMEFRAME_NOT_ALLOWED", fmt.Sprintf("timeframe %q is not among the submitted intervals", raw.Timeframe))
	}
	if !patterns.KnownPattern(raw.Pattern) {
		return nil, apperr.Validation("INVALID_PATTERN", fmt.Sprintf("pattern %q is not whitelisted", raw.Pattern))
	}
	switch raw.Direction {
	case database.DirectionUp, database.DirectionDown, database.DirectionFlat:
	default:
		return nil, apperr.Validation("INVALID_DIRECTION", fmt.Sprintf("direction %q must be UP, DOWN or FLAT", raw.Direction))
	}
	if expectedDirection != "" && raw.Direction != expectedDirection {
		return nil, apperr.Validation("DIRECTION_MISMATCH", "reason_rule.direction must match the judgment direction")
	}
	if raw.HorizonBars < 1 || raw.HorizonBars > 200 {
		return nil, apperr.Validation("INVALID_HORIZON", "horizon_bars must be in [1, 200]")
	}
	return &database.ReasonRule{
		Timeframe:   raw.Timeframe,
		Pattern:     raw.Pattern,
		Direction:   raw.Direction,
		HorizonBars: raw.HorizonBars,
	}, nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// AlignCloseTime returns the inclusive close time of the last candle completed
// at or before analysisEndTimeMs, and the target close time horizonBars later.
func AlignCloseTime(timeframe string, analysisEndTimeMs int64, horizonBars int) (tCloseMs, targetCloseMs int64, err error) {
	intervalMs, ok := periodToMs[timeframe]
	if !ok {
		return 0, 0, apperr.Validation("INVALID_TIMEFRAME", fmt.Sprintf("timeframe %q is not whitelisted", timeframe))
	}
	aligned := (analysisEndTimeMs/intervalMs)*intervalMs - 1
	target := aligned + int64(horizonBars)*intervalMs
	return aligned, target, nil
}

// EvalResult is the outcome of evaluating a reason rule's pattern at submission time.
type EvalResult struct {
	TCloseMs      int64
	TargetCloseMs int64
	BaseClose     float64
	PatternHolds  bool
}

// EvaluateAtSubmit fetches the trailing window ending at the rule's aligned
// close, locates the aligned candle, and runs the Pattern Evaluator against
// the last required-bars of the window.
func EvaluateAtSubmit(ctx context.Context, provider KlineProvider, symbol string, rule *database.ReasonRule, analysisEndTimeMs int64) (*EvalResult, error) {
	tCloseMs, targetCloseMs, err := AlignCloseTime(rule.Timeframe, analysisEndTimeMs, rule.HorizonBars)
	if err != nil {
		return nil, err
	}
	requiredBars, ok := patterns.RequiredBars(rule.Pattern)
	if !ok {
		return nil, apperr.Validation("INVALID_PATTERN", fmt.Sprintf("pattern %q is not whitelisted", rule.Pattern))
	}

	window, err := provider.Window(ctx, symbol, rule.Timeframe, tCloseMs, requiredBars)
	if err != nil {
		return nil, apperr.Upstream("KLINE_FETCH_FAILED", err.Error(), err)
	}
	if len(window) < requiredBars {
		return nil, apperr.Precondition("INSUFFICIENT_HISTORY", fmt.Sprintf("need %d bars ending at %d, got %d", requiredBars, tCloseMs, len(window)))
	}

	sort.Slice(window, func(i, j int) bool { return window[i].CloseTime < window[j].CloseTime })

	idx := -1
	for i, k := range window {
		if k.CloseTime == tCloseMs {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, apperr.Precondition("MISALIGNMENT", fmt.Sprintf("no candle with close_time=%d in fetched window", tCloseMs))
	}
	if idx+1 < requiredBars {
		return nil, apperr.Precondition("INSUFFICIENT_HISTORY", fmt.Sprintf("need %d bars preceding and including close_time=%d", requiredBars, tCloseMs))
	}

	bars := make([]patterns.Bar, requiredBars)
	for i, k := range window[idx+1-requiredBars : idx+1] {
		bars[i] = patterns.Bar{
			OpenTime:  k.OpenTime,
			CloseTime: k.CloseTime,
			Open:      k.Open,
			High:      k.High,
			Low:       k.Low,
			Close:     k.Close,
			Volume:    k.Volume,
		}
	}

	return &EvalResult{
		TCloseMs:      tCloseMs,
		TargetCloseMs: targetCloseMs,
		BaseClose:     window[idx].Close,
		PatternHolds:  patterns.Evaluate(rule.Pattern, bars),
	}, nil
}

// ComputeOutcome derives the percentage delta and UP/DOWN/FLAT outcome
// between a base close and a target close, applying the flat threshold.
func ComputeOutcome(baseClose, targetClose, flatThresholdPct float64) (deltaPct float64, outcome string) {
	deltaPct = (targetClose - baseClose) / baseClose * 100
	if math.Abs(deltaPct) < flatThresholdPct {
		return deltaPct, database.DirectionFlat
	}
	if deltaPct > 0 {
		return deltaPct, database.DirectionUp
	}
	return deltaPct, database.DirectionDown
}

// PendingJudgmentStore is the persistence surface the sweep needs.
type PendingJudgmentStore interface {
	ListPendingJudgments(ctx context.Context, nowMs int64, limit int) ([]*database.Judgment, error)
	UpdateJudgmentOutcome(ctx context.Context, roundID, agentID string, targetClose, deltaPct float64, outcome string, correct bool, evaluatedAt time.Time) error
	UpdateJudgmentEvalError(ctx context.Context, roundID, agentID, errMsg string, evaluatedAt time.Time) error
}

const defaultSweepMaxRows = 50

// SweepPending scans judgments whose target close time has arrived and have
// not yet been evaluated, resolving each against the Kline Fetcher. Rows
// whose target candle is not yet available are skipped and retried on the
// next sweep; any other failure is recorded in reason_eval_error and does not
// stop the sweep.
func SweepPending(ctx context.Context, store PendingJudgmentStore, provider KlineProvider, symbol string, flatThresholdPct float64, maxRows int) (evaluated int, err error) {
	if maxRows <= 0 {
		maxRows = defaultSweepMaxRows
	}
	now := time.Now()
	pending, err := store.ListPendingJudgments(ctx, now.UnixMilli(), maxRows)
	if err != nil {
		return 0, err
	}

	for _, j := range pending {
		window, werr := provider.Window(ctx, symbol, j.ReasonTimeframe, j.ReasonTargetCloseMs, 1)
		if werr != nil {
			store.UpdateJudgmentEvalError(ctx, j.RoundID, j.AgentID, werr.Error(), now)
			continue
		}
		var target *database.Kline
		for i := range window {
			if window[i].CloseTime == j.ReasonTargetCloseMs {
				target = &window[i]
				break
			}
		}
		if target == nil {
			continue
		}

		deltaPct, outcome := ComputeOutcome(j.ReasonBaseClose, target.Close, flatThresholdPct)
		deltaPct = math.Round(deltaPct*1_000_000) / 1_000_000
		correct := outcome == j.ReasonDirection
		if werr := store.UpdateJudgmentOutcome(ctx, j.RoundID, j.AgentID, target.Close, deltaPct, outcome, correct, now); werr != nil {
			store.UpdateJudgmentEvalError(ctx, j.RoundID, j.AgentID, werr.Error(), now)
			continue
		}
		evaluated++
	}
	return evaluated, nil
}

// PeriodToMs exposes the timeframe-to-milliseconds whitelist for callers
// outside this package (e.g. the Kline Fetcher's interval validation).
func PeriodToMs(timeframe string) (int64, bool) {
	ms, ok := periodToMs[timeframe]
	return ms, ok
}

// WhitelistedTimeframes returns the canonical, sorted list of supported period codes.
func WhitelistedTimeframes() []string {
	out := make([]string, 0, len(periodToMs))
	for k := range periodToMs {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		return periodToMs[out[i]] < periodToMs[out[j]]
	})
	return out
}
