// Package patterns evaluates whether a named candlestick/indicator/structure
// pattern holds at the last bar of an ordered OHLCV window. Every evaluator
// is pure and deterministic: no I/O, no clock, same input always yields the
// same boolean.
package patterns

import "math"

// Bar is one OHLCV candle in ascending time order.
type Bar struct {
	OpenTime  int64
	CloseTime int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

func abs(a float64) float64 {
	if a < 0 {
		return -a
	}
	return a
}

func body(b Bar) float64  { return abs(b.Close - b.Open) }
func rng(b Bar) float64   { return b.High - b.Low }
func isRed(b Bar) bool    { return b.Close < b.Open }
func isGreen(b Bar) bool  { return b.Close > b.Open }
func upperShadow(b Bar) float64 {
	top := b.Open
	if b.Close > top {
		top = b.Close
	}
	return b.High - top
}
func lowerShadow(b Bar) float64 {
	bottom := b.Open
	if b.Close < bottom {
		bottom = b.Close
	}
	return bottom - b.Low
}

// patternDef pairs a pattern's minimum bar requirement with its evaluator.
type patternDef struct {
	minBars int
	eval    func(bars []Bar) bool
}

// RequiredBars returns the minimum number of bars a pattern needs, or false
// if the pattern id is unknown.
func RequiredBars(patternID string) (int, bool) {
	d, ok := registry[patternID]
	if !ok {
		return 0, false
	}
	return d.minBars, true
}

// KnownPattern reports whether patternID is in the evaluator whitelist.
func KnownPattern(patternID string) bool {
	_, ok := registry[patternID]
	return ok
}

// Evaluate reports whether the named pattern holds at the last bar of bars.
// Panics on an unknown pattern id — callers must check KnownPattern first,
// per the spec's "caller ensures whitelist" contract; insufficient bars is
// not an error, it simply evaluates to false.
func Evaluate(patternID string, bars []Bar) bool {
	d, ok := registry[patternID]
	if !ok {
		panic("patterns: unknown pattern id " + patternID)
	}
	if len(bars) < d.minBars {
		return false
	}
	return d.eval(bars)
}

var registry map[string]patternDef

func init() {
	registry = map[string]patternDef{
		"bullish_engulfing": {2, evalBullishEngulfing},
		"bearish_engulfing": {2, evalBearishEngulfing},
		"hammer":            {1, evalHammer},
		"shooting_star":     {1, evalShootingStar},
		"doji":              {1, evalDoji},
		"inside_bar":        {2, evalInsideBar},
		"outside_bar":       {2, evalOutsideBar},
		"morning_star":      {3, evalMorningStar},
		"evening_star":      {3, evalEveningStar},
		"three_white_soldiers": {3, evalThreeWhiteSoldiers},
		"three_black_crows":    {3, evalThreeBlackCrows},

		"ema20_gt_ema50":  {50, evalEMA20GtEMA50},
		"ema20_lt_ema50":  {50, evalEMA20LtEMA50},
		"ema_cross_up":    {51, evalEMACrossUp},
		"ema_cross_down":  {51, evalEMACrossDown},

		"rsi14_lt_30": {15, evalRSI14Lt30},
		"rsi14_gt_70": {15, evalRSI14Gt70},

		"close_gt_high_20": {21, makeCloseGtHighN(20)},
		"close_lt_low_20":  {21, makeCloseLtLowN(20)},
		"close_gt_high_55": {56, makeCloseGtHighN(55)},
		"close_lt_low_55":  {56, makeCloseLtLowN(55)},

		"double_top_60":          {64, evalDoubleTop60},
		"double_bottom_60":       {64, evalDoubleBottom60},
		"head_and_shoulders_90":  {94, evalHeadAndShoulders90},
		"inverse_head_and_shoulders_90": {94, evalInverseHeadAndShoulders90},
	}
}

// ============================================================================
// Candle patterns
// ============================================================================

func evalBullishEngulfing(bars []Bar) bool {
	prev, cur := bars[len(bars)-2], bars[len(bars)-1]
	if !isRed(prev) || !isGreen(cur) {
		return false
	}
	return cur.Open <= prev.Close && cur.Close >= prev.Open
}

func evalBearishEngulfing(bars []Bar) bool {
	prev, cur := bars[len(bars)-2], bars[len(bars)-1]
	if !isGreen(prev) || !isRed(cur) {
		return false
	}
	return cur.Open >= prev.Close && cur.Close <= prev.Open
}

func evalHammer(bars []Bar) bool {
	b := bars[len(bars)-1]
	r := rng(b)
	if r == 0 {
		return false
	}
	bd := body(b)
	return bd/r <= 0.3 && lowerShadow(b) >= 2*bd && upperShadow(b) <= 0.25*r
}

func evalShootingStar(bars []Bar) bool {
	b := bars[len(bars)-1]
	r := rng(b)
	if r == 0 {
		return false
	}
	bd := body(b)
	return bd/r <= 0.3 && upperShadow(b) >= 2*bd && lowerShadow(b) <= 0.25*r
}

func evalDoji(bars []Bar) bool {
	b := bars[len(bars)-1]
	r := rng(b)
	if r == 0 {
		return false
	}
	return body(b)/r <= 0.1
}

func evalInsideBar(bars []Bar) bool {
	prev, cur := bars[len(bars)-2], bars[len(bars)-1]
	return cur.High <= prev.High && cur.Low >= prev.Low
}

func evalOutsideBar(bars []Bar) bool {
	prev, cur := bars[len(bars)-2], bars[len(bars)-1]
	return cur.High >= prev.High && cur.Low <= prev.Low
}

func evalMorningStar(bars []Bar) bool {
	n := len(bars)
	b1, b2, b3 := bars[n-3], bars[n-2], bars[n-1]
	r1, r2 := rng(b1), rng(b2)
	if r1 == 0 || !isRed(b1) || body(b1)/r1 < 0.5 {
		return false
	}
	if r2 == 0 || body(b2)/r2 > 0.3 {
		return false
	}
	if !isGreen(b3) {
		return false
	}
	midpoint := (b1.Open + b1.Close) / 2
	return b3.Close >= midpoint
}

func evalEveningStar(bars []Bar) bool {
	n := len(bars)
	b1, b2, b3 := bars[n-3], bars[n-2], bars[n-1]
	r1, r2 := rng(b1), rng(b2)
	if r1 == 0 || !isGreen(b1) || body(b1)/r1 < 0.5 {
		return false
	}
	if r2 == 0 || body(b2)/r2 > 0.3 {
		return false
	}
	if !isRed(b3) {
		return false
	}
	midpoint := (b1.Open + b1.Close) / 2
	return b3.Close <= midpoint
}

func evalThreeWhiteSoldiers(bars []Bar) bool {
	n := len(bars)
	b1, b2, b3 := bars[n-3], bars[n-2], bars[n-1]
	if !isGreen(b1) || !isGreen(b2) || !isGreen(b3) {
		return false
	}
	if b2.Close <= b1.Close || b3.Close <= b2.Close {
		return false
	}
	return b2.Open >= b1.Open && b2.Open <= b1.Close && b3.Open >= b2.Open && b3.Open <= b2.Close
}

func evalThreeBlackCrows(bars []Bar) bool {
	n := len(bars)
	b1, b2, b3 := bars[n-3], bars[n-2], bars[n-1]
	if !isRed(b1) || !isRed(b2) || !isRed(b3) {
		return false
	}
	if b2.Close >= b1.Close || b3.Close >= b2.Close {
		return false
	}
	return b2.Open <= b1.Open && b2.Open >= b1.Close && b3.Open <= b2.Open && b3.Open >= b2.Close
}

// ============================================================================
// EMA / RSI indicator patterns
// ============================================================================

// ema computes the exponential moving average of the closes in bars, seeded from the
// simple average of the first `period` closes, then recursive with
// alpha = 2/(period+1).
func ema(bars []Bar, period int) (float64, bool) {
	if len(bars) < period {
		return 0, false
	}
	var sum float64
	for i := 0; i < period; i++ {
		sum += bars[i].Close
	}
	value := sum / float64(period)
	alpha := 2.0 / float64(period+1)
	for i := period; i < len(bars); i++ {
		value = bars[i].Close*alpha + value*(1-alpha)
	}
	return value, true
}

// rsi computes Wilder's RSI over bars using the spec's exact smoothing.
func rsi(bars []Bar, period int) (float64, bool) {
	if len(bars) < period+1 {
		return 0, false
	}
	var gainSum, lossSum float64
	for i := 1; i <= period; i++ {
		delta := bars[i].Close - bars[i-1].Close
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum += -delta
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)

	for i := period + 1; i < len(bars); i++ {
		delta := bars[i].Close - bars[i-1].Close
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, true
	}
	if avgGain == 0 {
		return 0, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

func evalEMA20GtEMA50(bars []Bar) bool {
	e20, ok1 := ema(bars, 20)
	e50, ok2 := ema(bars, 50)
	return ok1 && ok2 && e20 > e50
}

func evalEMA20LtEMA50(bars []Bar) bool {
	e20, ok1 := ema(bars, 20)
	e50, ok2 := ema(bars, 50)
	return ok1 && ok2 && e20 < e50
}

func evalEMACrossUp(bars []Bar) bool {
	cur := bars
	prev := bars[:len(bars)-1]
	curE20, ok1 := ema(cur, 20)
	curE50, ok2 := ema(cur, 50)
	prevE20, ok3 := ema(prev, 20)
	prevE50, ok4 := ema(prev, 50)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return false
	}
	return prevE20 <= prevE50 && curE20 > curE50
}

func evalEMACrossDown(bars []Bar) bool {
	cur := bars
	prev := bars[:len(bars)-1]
	curE20, ok1 := ema(cur, 20)
	curE50, ok2 := ema(cur, 50)
	prevE20, ok3 := ema(prev, 20)
	prevE50, ok4 := ema(prev, 50)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return false
	}
	return prevE20 >= prevE50 && curE20 < curE50
}

func evalRSI14Lt30(bars []Bar) bool {
	v, ok := rsi(bars, 14)
	return ok && v < 30
}

func evalRSI14Gt70(bars []Bar) bool {
	v, ok := rsi(bars, 14)
	return ok && v > 70
}

// ============================================================================
// Breakout patterns
// ============================================================================

func makeCloseGtHighN(n int) func([]Bar) bool {
	return func(bars []Bar) bool {
		cur := bars[len(bars)-1]
		window := bars[len(bars)-1-n : len(bars)-1]
		maxHigh := window[0].High
		for _, b := range window[1:] {
			if b.High > maxHigh {
				maxHigh = b.High
			}
		}
		return cur.Close > maxHigh
	}
}

func makeCloseLtLowN(n int) func([]Bar) bool {
	return func(bars []Bar) bool {
		cur := bars[len(bars)-1]
		window := bars[len(bars)-1-n : len(bars)-1]
		minLow := window[0].Low
		for _, b := range window[1:] {
			if b.Low < minLow {
				minLow = b.Low
			}
		}
		return cur.Close < minLow
	}
}

// ============================================================================
// Structure patterns (pivots, double top/bottom, head and shoulders)
// ============================================================================

type pivot struct {
	idx   int
	price float64
}

const pivotSpan = 2

// findPivotHighs returns pivot highs within the last `lookback` bars of bars,
// excluding the outermost `pivotSpan` bars on each side of the window, in
// ascending index order.
func findPivotHighs(bars []Bar, lookback int) []pivot {
	start := len(bars) - lookback
	if start < 0 {
		start = 0
	}
	var out []pivot
	for i := start + pivotSpan; i < len(bars)-pivotSpan; i++ {
		isPivot := true
		for d := 1; d <= pivotSpan; d++ {
			if bars[i].High <= bars[i-d].High || bars[i].High <= bars[i+d].High {
				isPivot = false
				break
			}
		}
		if isPivot {
			out = append(out, pivot{idx: i, price: bars[i].High})
		}
	}
	return out
}

// findPivotLows is the symmetric counterpart of findPivotHighs.
func findPivotLows(bars []Bar, lookback int) []pivot {
	start := len(bars) - lookback
	if start < 0 {
		start = 0
	}
	var out []pivot
	for i := start + pivotSpan; i < len(bars)-pivotSpan; i++ {
		isPivot := true
		for d := 1; d <= pivotSpan; d++ {
			if bars[i].Low >= bars[i-d].Low || bars[i].Low >= bars[i+d].Low {
				isPivot = false
				break
			}
		}
		if isPivot {
			out = append(out, pivot{idx: i, price: bars[i].Low})
		}
	}
	return out
}

func minLowBetween(bars []Bar, fromIdx, toIdx int) float64 {
	m := math.Inf(1)
	for i := fromIdx + 1; i < toIdx; i++ {
		if bars[i].Low < m {
			m = bars[i].Low
		}
	}
	return m
}

func maxHighBetween(bars []Bar, fromIdx, toIdx int) float64 {
	m := math.Inf(-1)
	for i := fromIdx + 1; i < toIdx; i++ {
		if bars[i].High > m {
			m = bars[i].High
		}
	}
	return m
}

func evalDoubleTop60(bars []Bar) bool {
	highs := findPivotHighs(bars, 60)
	if len(highs) < 2 {
		return false
	}
	p2 := highs[len(highs)-1]
	for i := len(highs) - 2; i >= 0; i-- {
		p1 := highs[i]
		if p2.idx-p1.idx < 5 {
			continue
		}
		avg := (p1.price + p2.price) / 2
		if avg == 0 || abs(p2.price-p1.price)/avg > 0.01 {
			return false
		}
		neckline := minLowBetween(bars, p1.idx, p2.idx)
		cur := bars[len(bars)-1]
		return cur.Close < neckline
	}
	return false
}

func evalDoubleBottom60(bars []Bar) bool {
	lows := findPivotLows(bars, 60)
	if len(lows) < 2 {
		return false
	}
	p2 := lows[len(lows)-1]
	for i := len(lows) - 2; i >= 0; i-- {
		p1 := lows[i]
		if p2.idx-p1.idx < 5 {
			continue
		}
		avg := (p1.price + p2.price) / 2
		if avg == 0 || abs(p2.price-p1.price)/avg > 0.01 {
			return false
		}
		neckline := maxHighBetween(bars, p1.idx, p2.idx)
		cur := bars[len(bars)-1]
		return cur.Close > neckline
	}
	return false
}

func evalHeadAndShoulders90(bars []Bar) bool {
	highs := findPivotHighs(bars, 90)
	lows := findPivotLows(bars, 90)
	for rs := len(highs) - 1; rs >= 0; rs-- {
		for head := rs - 1; head >= 0; head-- {
			for ls := head - 1; ls >= 0; ls-- {
				LS, Head, RS := highs[ls], highs[head], highs[rs]
				avgShoulder := (LS.price + RS.price) / 2
				if avgShoulder == 0 || abs(LS.price-RS.price)/avgShoulder > 0.01 {
					continue
				}
				greaterShoulder := LS.price
				if RS.price > greaterShoulder {
					greaterShoulder = RS.price
				}
				if Head.price < greaterShoulder*1.01 {
					continue
				}
				troughLeft := findNearestLowBetween(lows, LS.idx, Head.idx)
				troughRight := findNearestLowBetween(lows, Head.idx, RS.idx)
				if troughLeft == nil || troughRight == nil {
					continue
				}
				neckline := (troughLeft.price + troughRight.price) / 2
				cur := bars[len(bars)-1]
				return cur.Close < neckline
			}
		}
	}
	return false
}

func evalInverseHeadAndShoulders90(bars []Bar) bool {
	highs := findPivotHighs(bars, 90)
	lows := findPivotLows(bars, 90)
	for rs := len(lows) - 1; rs >= 0; rs-- {
		for head := rs - 1; head >= 0; head-- {
			for ls := head - 1; ls >= 0; ls-- {
				LS, Head, RS := lows[ls], lows[head], lows[rs]
				avgShoulder := (LS.price + RS.price) / 2
				if avgShoulder == 0 || abs(LS.price-RS.price)/avgShoulder > 0.01 {
					continue
				}
				lesserShoulder := LS.price
				if RS.price < lesserShoulder {
					lesserShoulder = RS.price
				}
				if Head.price > lesserShoulder*0.99 {
					continue
				}
				peakLeft := findNearestHighBetween(highs, LS.idx, Head.idx)
				peakRight := findNearestHighBetween(highs, Head.idx, RS.idx)
				if peakLeft == nil || peakRight == nil {
					continue
				}
				neckline := (peakLeft.price + peakRight.price) / 2
				cur := bars[len(bars)-1]
				return cur.Close > neckline
			}
		}
	}
	return false
}

func findNearestLowBetween(lows []pivot, fromIdx, toIdx int) *pivot {
	var best *pivot
	for i := range lows {
		if lows[i].idx > fromIdx && lows[i].idx < toIdx {
			p := lows[i]
			best = &p
		}
	}
	return best
}

func findNearestHighBetween(highs []pivot, fromIdx, toIdx int) *pivot {
	var best *pivot
	for i := range highs {
		if highs[i].idx > fromIdx && highs[i].idx < toIdx {
			p := highs[i]
			best = &p
		}
	}
	return best
}
