// Package indicator
package indicator

import "math"

// EMA computes an exponential moving average over values (oldest first),
// seeded with the first value. The second return is false when there are
// fewer values than the period.
//
// A period of 1 gives k=1, so the recurrence collapses to the latest value.
// That degenerate form is used on purpose as an instant price indicator and
// must not be "fixed".
func EMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	k := 2.0 / float64(period+1)
	ema := values[0]
	for i := 1; i < len(values); i++ {
		ema = values[i]*k + ema*(1-k)
	}
	return ema, true
}

// SampleStdev returns the unbiased (n-1 denominator) sample standard
// deviation, or 0 for fewer than 2 values.
func SampleStdev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(values)-1))
}

// RollingMax returns the maximum of the last min(lookback, len(prices)) prices.
func RollingMax(prices []float64, lookback int) float64 {
	if len(prices) == 0 {
		return 0
	}
	if lookback > len(prices) {
		lookback = len(prices)
	}
	max := prices[len(prices)-lookback]
	for _, p := range prices[len(prices)-lookback:] {
		if p > max {
			max = p
		}
	}
	return max
}

// Breakout reports whether the latest price clears the rolling maximum of the
// lookback prices before it by the given threshold factor (e.g. 1.002 for
// +0.2%). The latest price is excluded from the maximum; a fresh high can
// never clear a margin above itself.
func Breakout(prices []float64, lookback int, threshold float64) bool {
	if len(prices) < 2 {
		return false
	}
	last := prices[len(prices)-1]
	return last >= RollingMax(prices[:len(prices)-1], lookback)*threshold
}

// NoiseRatio measures short-term volatility as a percentage of a baseline
// price: stdev of the last window prices, divided by baseline, times 100.
func NoiseRatio(prices []float64, window int, baseline float64) float64 {
	if baseline == 0 || len(prices) == 0 {
		return 0
	}
	if window > len(prices) {
		window = len(prices)
	}
	return SampleStdev(prices[len(prices)-window:]) / baseline * 100
}
