package reasonrule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btc-tournament/internal/apperr"
	"btc-tournament/internal/database"
)

func TestNormalizeValid(t *testing.T) {
	rule, err := Normalize(RawRule{
		Timeframe:   "15m",
		Pattern:     "bullish_engulfing",
		Direction:   database.DirectionUp,
		HorizonBars: 4,
	}, []string{"5m", "15m"}, database.DirectionUp)
	require.NoError(t, err)
	assert.Equal(t, "15m", rule.Timeframe)
	assert.Equal(t, 4, rule.HorizonBars)
}

func TestNormalizeRejectsUnknownTimeframe(t *testing.T) {
	_, err := Normalize(RawRule{Timeframe: "2m", Pattern: "doji", Direction: database.DirectionUp, HorizonBars: 1}, nil, "")
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, ae.Kind)
}

func TestNormalizeRejectsTimeframeNotInAllowedIntervals(t *testing.T) {
	_, err := Normalize(RawRule{Timeframe: "1h", Pattern: "doji", Direction: database.DirectionUp, HorizonBars: 1}, []string{"5m"}, "")
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "TIMEFRAME_NOT_ALLOWED", ae.Code)
}

func TestNormalizeRejectsUnknownPattern(t *testing.T) {
	_, err := Normalize(RawRule{Timeframe: "5m", Pattern: "not_a_pattern", Direction: database.DirectionUp, HorizonBars: 1}, nil, "")
	_, ok := apperr.As(err)
	require.True(t, ok)
}

func TestNormalizeRejectsDirectionMismatch(t *testing.T) {
	_, err := Normalize(RawRule{Timeframe: "5m", Pattern: "doji", Direction: database.DirectionDown, HorizonBars: 1}, nil, database.DirectionUp)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "DIRECTION_MISMATCH", ae.Code)
}

func TestNormalizeRejectsHorizonOutOfRange(t *testing.T) {
	_, err := Normalize(RawRule{Timeframe: "5m", Pattern: "doji", Direction: database.DirectionUp, HorizonBars: 0}, nil, "")
	assert.Error(t, err)

	_, err = Normalize(RawRule{Timeframe: "5m", Pattern: "doji", Direction: database.DirectionUp, HorizonBars: 201}, nil, "")
	assert.Error(t, err)
}

func TestAlignCloseTime(t *testing.T) {
	// 5m candles: intervalMs = 300000. ms=300000 opens the candle [300000, 600000);
	// the last completed candle is [0, 300000), whose aligned close is 299999.
	tClose, target, err := AlignCloseTime("5m", 300_000, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(299_999), tClose)
	assert.Equal(t, int64(299_999+2*300_000), target)
}

func TestAlignCloseTimeUnknownTimeframe(t *testing.T) {
	_, _, err := AlignCloseTime("2m", 1000, 1)
	assert.Error(t, err)
}

func TestComputeOutcomeFlatThreshold(t *testing.T) {
	deltaPct, outcome := ComputeOutcome(100, 100.1, 0.2)
	assert.InDelta(t, 0.1, deltaPct, 1e-9)
	assert.Equal(t, database.DirectionFlat, outcome)

	deltaPct, outcome = ComputeOutcome(100, 101, 0.2)
	assert.InDelta(t, 1.0, deltaPct, 1e-9)
	assert.Equal(t, database.DirectionUp, outcome)

	deltaPct, outcome = ComputeOutcome(100, 99, 0.2)
	assert.InDelta(t, -1.0, deltaPct, 1e-9)
	assert.Equal(t, database.DirectionDown, outcome)
}

type fakeProvider struct {
	window []database.Kline
	err    error
}

func (f *fakeProvider) Window(ctx context.Context, symbol, timeframe string, endCloseMs int64, bars int) ([]database.Kline, error) {
	return f.window, f.err
}

func makeWindow(n int, intervalMs int64, startClose int64) []database.Kline {
	out := make([]database.Kline, n)
	for i := 0; i < n; i++ {
		ct := startClose + int64(i)*intervalMs
		out[i] = database.Kline{
			OpenTime:  ct - intervalMs + 1,
			CloseTime: ct,
			Open:      100,
			High:      101,
			Low:       99,
			Close:     100 + float64(i)*0.01,
			Volume:    10,
		}
	}
	return out
}

func TestEvaluateAtSubmitHappyPath(t *testing.T) {
	intervalMs := int64(300_000)
	tClose, _, err := AlignCloseTime("5m", 10*intervalMs, 1)
	require.NoError(t, err)

	window := makeWindow(5, intervalMs, tClose-4*intervalMs)
	provider := &fakeProvider{window: window}

	rule := &database.ReasonRule{Timeframe: "5m", Pattern: "doji", Direction: database.DirectionFlat, HorizonBars: 1}
	result, err := EvaluateAtSubmit(context.Background(), provider, "BTCUSDT", rule, 10*intervalMs)
	require.NoError(t, err)
	assert.Equal(t, tClose, result.TCloseMs)
	assert.Equal(t, tClose+intervalMs, result.TargetCloseMs)
}

func TestEvaluateAtSubmitInsufficientHistory(t *testing.T) {
	intervalMs := int64(300_000)
	tClose, _, err := AlignCloseTime("5m", 10*intervalMs, 1)
	require.NoError(t, err)

	provider := &fakeProvider{window: makeWindow(2, intervalMs, tClose-1*intervalMs)}
	rule := &database.ReasonRule{Timeframe: "5m", Pattern: "morning_star", Direction: database.DirectionUp, HorizonBars: 1}

	_, err = EvaluateAtSubmit(context.Background(), provider, "BTCUSDT", rule, 10*intervalMs)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindPrecondition, ae.Kind)
}

func TestEvaluateAtSubmitMisalignment(t *testing.T) {
	intervalMs := int64(300_000)
	provider := &fakeProvider{window: makeWindow(5, intervalMs, 0)}
	rule := &database.ReasonRule{Timeframe: "5m", Pattern: "doji", Direction: database.DirectionFlat, HorizonBars: 1}

	_, err := EvaluateAtSubmit(context.Background(), provider, "BTCUSDT", rule, 999*intervalMs)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindPrecondition, ae.Kind)
}

type fakeStore struct {
	pending     []*database.Judgment
	outcomeErr  error
	updatedOK   int
	errorCalls  int
}

func (f *fakeStore) ListPendingJudgments(ctx context.Context, nowMs int64, limit int) ([]*database.Judgment, error) {
	return f.pending, nil
}

func (f *fakeStore) UpdateJudgmentOutcome(ctx context.Context, roundID, agentID string, targetClose, deltaPct float64, outcome string, correct bool, evaluatedAt time.Time) error {
	if f.outcomeErr != nil {
		return f.outcomeErr
	}
	f.updatedOK++
	return nil
}

func (f *fakeStore) UpdateJudgmentEvalError(ctx context.Context, roundID, agentID, errMsg string, evaluatedAt time.Time) error {
	f.errorCalls++
	return nil
}

func TestSweepPendingEvaluatesAndSkipsMissingCandle(t *testing.T) {
	pending := []*database.Judgment{
		{RoundID: "r1", AgentID: "a1", ReasonTimeframe: "5m", ReasonTargetCloseMs: 1_000, ReasonBaseClose: 100, ReasonDirection: database.DirectionUp},
		{RoundID: "r2", AgentID: "a2", ReasonTimeframe: "5m", ReasonTargetCloseMs: 2_000, ReasonBaseClose: 100, ReasonDirection: database.DirectionUp},
	}
	store := &fakeStore{pending: pending}
	provider := &fakeProvider{window: []database.Kline{{CloseTime: 1_000, Close: 101}}}

	evaluated, err := SweepPending(context.Background(), store, provider, "BTCUSDT", 0.2, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, evaluated, "only r1's target close_time matches the fake provider's single candle")
	assert.Equal(t, 1, store.updatedOK)
	assert.Equal(t, 0, store.errorCalls, "r2 is skipped (retried next sweep), not recorded as an error")
}
