package patterns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBullishEngulfing(t *testing.T) {
	bars := []Bar{
		{Open: 100, High: 102, Low: 98, Close: 99},
		{Open: 98, High: 105, Low: 97, Close: 104},
	}
	assert.True(t, Evaluate("bullish_engulfing", bars))

	invalidFirst := []Bar{
		{Open: 99, High: 102, Low: 98, Close: 100},
		{Open: 98, High: 105, Low: 97, Close: 104},
	}
	assert.False(t, Evaluate("bullish_engulfing", invalidFirst))
}

func TestBearishEngulfing(t *testing.T) {
	bars := []Bar{
		{Open: 99, High: 102, Low: 98, Close: 100},
		{Open: 101, High: 103, Low: 95, Close: 96},
	}
	assert.True(t, Evaluate("bearish_engulfing", bars))
}

func TestDoji(t *testing.T) {
	bars := []Bar{{Open: 100, High: 102, Low: 98, Close: 100.1}}
	assert.True(t, Evaluate("doji", bars))

	notDoji := []Bar{{Open: 100, High: 110, Low: 98, Close: 108}}
	assert.False(t, Evaluate("doji", notDoji))
}

func TestHammerAndShootingStar(t *testing.T) {
	hammer := []Bar{{Open: 100, High: 101, Low: 90, Close: 100.5}}
	assert.True(t, Evaluate("hammer", hammer))
	assert.False(t, Evaluate("shooting_star", hammer))

	star := []Bar{{Open: 100, High: 110, Low: 99.5, Close: 99.8}}
	assert.True(t, Evaluate("shooting_star", star))
}

func TestInsideOutsideBar(t *testing.T) {
	bars := []Bar{
		{High: 110, Low: 90},
		{High: 105, Low: 95},
	}
	assert.True(t, Evaluate("inside_bar", bars))
	assert.False(t, Evaluate("outside_bar", bars))

	outside := []Bar{
		{High: 100, Low: 95},
		{High: 110, Low: 90},
	}
	assert.True(t, Evaluate("outside_bar", outside))
}

func TestMorningAndEveningStar(t *testing.T) {
	morning := []Bar{
		{Open: 110, High: 111, Low: 99, Close: 100},
		{Open: 99.5, High: 100.2, Low: 99, Close: 99.8},
		{Open: 100, High: 112, Low: 99.5, Close: 111},
	}
	assert.True(t, Evaluate("morning_star", morning))

	evening := []Bar{
		{Open: 100, High: 111, Low: 99, Close: 110},
		{Open: 110.2, High: 110.8, Low: 109.8, Close: 110.1},
		{Open: 110, High: 110.5, Low: 98, Close: 99},
	}
	assert.True(t, Evaluate("evening_star", evening))
}

func TestThreeWhiteSoldiersAndBlackCrows(t *testing.T) {
	soldiers := []Bar{
		{Open: 100, Close: 103},
		{Open: 101, Close: 105},
		{Open: 102, Close: 108},
	}
	assert.True(t, Evaluate("three_white_soldiers", soldiers))
	assert.False(t, Evaluate("three_black_crows", soldiers))

	crows := []Bar{
		{Open: 108, Close: 105},
		{Open: 105, Close: 101},
		{Open: 101, Close: 98},
	}
	assert.True(t, Evaluate("three_black_crows", crows))
}

func flatBars(n int, close float64) []Bar {
	bars := make([]Bar, n)
	for i := range bars {
		bars[i] = Bar{Open: close, High: close + 1, Low: close - 1, Close: close}
	}
	return bars
}

func TestEMARelationInsufficientDataIsFalse(t *testing.T) {
	bars := flatBars(10, 100)
	assert.False(t, Evaluate("ema20_gt_ema50", bars))
	assert.False(t, Evaluate("ema_cross_up", bars))
}

func TestEMARelationOnUptrend(t *testing.T) {
	bars := make([]Bar, 60)
	price := 100.0
	for i := range bars {
		bars[i] = Bar{Open: price, High: price + 1, Low: price - 1, Close: price}
		price += 0.5
	}
	assert.True(t, Evaluate("ema20_gt_ema50", bars))
	assert.False(t, Evaluate("ema20_lt_ema50", bars))
}

func TestRSIThresholds(t *testing.T) {
	bars := make([]Bar, 20)
	price := 100.0
	for i := range bars {
		bars[i] = Bar{Close: price}
		price -= 1
	}
	assert.True(t, Evaluate("rsi14_lt_30", bars))
	assert.False(t, Evaluate("rsi14_gt_70", bars))
}

func TestCloseGtHighN(t *testing.T) {
	bars := flatBars(21, 100)
	bars[len(bars)-1].Close = 102
	assert.True(t, Evaluate("close_gt_high_20", bars))

	assert.False(t, Evaluate("close_gt_high_20", flatBars(21, 100)))
}

func TestCloseLtLowN(t *testing.T) {
	bars := flatBars(21, 100)
	bars[len(bars)-1].Close = 97
	assert.True(t, Evaluate("close_lt_low_20", bars))

	assert.False(t, Evaluate("close_lt_low_20", flatBars(21, 100)))
}

func TestCloseGtHigh55(t *testing.T) {
	bars := flatBars(56, 100)
	bars[len(bars)-1].Close = 103
	assert.True(t, Evaluate("close_gt_high_55", bars))

	assert.False(t, Evaluate("close_gt_high_55", flatBars(56, 100)))
}

func TestCloseLtLow55(t *testing.T) {
	bars := flatBars(56, 100)
	bars[len(bars)-1].Close = 97
	assert.True(t, Evaluate("close_lt_low_55", bars))

	assert.False(t, Evaluate("close_lt_low_55", flatBars(56, 100)))
}

func TestDoubleTop60(t *testing.T) {
	bars := flatBars(70, 100)
	bars[20].High = 110
	bars[40].High = 110.05
	bars[30].Low = 90
	bars[len(bars)-1].Close = 80
	assert.True(t, Evaluate("double_top_60", bars))

	assert.False(t, Evaluate("double_top_60", flatBars(70, 100)))
}

func TestDoubleBottom60(t *testing.T) {
	bars := flatBars(70, 100)
	bars[20].Low = 90
	bars[40].Low = 90.05
	bars[30].High = 115
	bars[len(bars)-1].Close = 120
	assert.True(t, Evaluate("double_bottom_60", bars))

	assert.False(t, Evaluate("double_bottom_60", flatBars(70, 100)))
}

func TestHeadAndShoulders90(t *testing.T) {
	bars := flatBars(100, 100)
	bars[20].High = 110  // left shoulder
	bars[40].High = 115  // head
	bars[60].High = 110.05 // right shoulder
	bars[30].Low = 90    // left trough
	bars[50].Low = 90.5  // right trough
	bars[len(bars)-1].Close = 80
	assert.True(t, Evaluate("head_and_shoulders_90", bars))

	assert.False(t, Evaluate("head_and_shoulders_90", flatBars(100, 100)))
}

func TestInverseHeadAndShoulders90(t *testing.T) {
	bars := flatBars(100, 100)
	bars[20].Low = 90     // left shoulder
	bars[40].Low = 85     // head
	bars[60].Low = 90.05  // right shoulder
	bars[30].High = 110   // left peak
	bars[50].High = 110.5 // right peak
	bars[len(bars)-1].Close = 120
	assert.True(t, Evaluate("inverse_head_and_shoulders_90", bars))

	assert.False(t, Evaluate("inverse_head_and_shoulders_90", flatBars(100, 100)))
}

func TestRequiredBarsTable(t *testing.T) {
	min, ok := RequiredBars("head_and_shoulders_90")
	require.True(t, ok)
	assert.Equal(t, 94, min)

	_, ok = RequiredBars("not_a_real_pattern")
	assert.False(t, ok)
}

func TestEvaluateUnknownPatternPanics(t *testing.T) {
	assert.Panics(t, func() {
		Evaluate("not_a_real_pattern", flatBars(5, 100))
	})
}

func TestEvaluateInsufficientBarsIsFalseNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		assert.False(t, Evaluate("morning_star", flatBars(1, 100)))
	})
}
