package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEMA(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		period   int
		expected float64
		ok       bool
	}{
		{
			name:     "Insufficient data",
			values:   []float64{1, 2},
			period:   3,
			expected: 0,
			ok:       false,
		},
		{
			name:     "Empty values",
			values:   []float64{},
			period:   1,
			expected: 0,
			ok:       false,
		},
		{
			name:     "Zero period",
			values:   []float64{1, 2, 3},
			period:   0,
			expected: 0,
			ok:       false,
		},
		{
			name:     "Single value period 1",
			values:   []float64{6.95},
			period:   1,
			expected: 6.95,
			ok:       true,
		},
		{
			name:     "Period equals length",
			values:   []float64{10, 20, 30},
			period:   3,
			// seed=10, k=0.5: 20*0.5+10*0.5=15, 30*0.5+15*0.5=22.5
			expected: 22.5,
			ok:       true,
		},
		{
			name:     "Period 3 longer series",
			values:   []float64{10, 10, 10, 10, 20},
			period:   3,
			// stays at 10 then 20*0.5+10*0.5
			expected: 15,
			ok:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := EMA(tt.values, tt.period)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.expected, got, 1e-9)
			}
		})
	}
}

// A period-1 EMA must always equal the most recent value, for any series.
func TestEMA_PeriodOneIsLastValue(t *testing.T) {
	series := [][]float64{
		{6.90},
		{6.90, 6.91, 6.92},
		{100, 1, 50, 2, 75},
		{3.1415, 2.7182, 1.6180},
	}
	for _, values := range series {
		got, ok := EMA(values, 1)
		require.True(t, ok)
		assert.Equal(t, values[len(values)-1], got)
	}
}

func TestSampleStdev(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		expected float64
	}{
		{"Empty", []float64{}, 0},
		{"Single value", []float64{5}, 0},
		{"Identical values", []float64{7, 7, 7, 7}, 0},
		{"Known sample", []float64{2, 4, 4, 4, 5, 5, 7, 9}, 2.13808993529939},
		{"Two values", []float64{1, 3}, 1.4142135623730951},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, SampleStdev(tt.values), 1e-9)
		})
	}
}

func TestRollingMax(t *testing.T) {
	tests := []struct {
		name     string
		prices   []float64
		lookback int
		expected float64
	}{
		{"Empty", []float64{}, 45, 0},
		{"Lookback covers all", []float64{1, 9, 3}, 45, 9},
		{"Lookback excludes old max", []float64{9, 1, 2, 3}, 3, 3},
		{"Lookback one", []float64{9, 1, 2}, 1, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, RollingMax(tt.prices, tt.lookback))
		})
	}
}

func TestBreakout(t *testing.T) {
	tests := []struct {
		name      string
		prices    []float64
		lookback  int
		threshold float64
		expected  bool
	}{
		{"Empty", []float64{}, 45, 1.002, false},
		{"Single price has no prior max", []float64{6.93}, 45, 1.002, false},
		{
			name:      "Latest clears prior max by threshold",
			prices:    []float64{6.90, 6.91, 6.93},
			lookback:  45,
			threshold: 1.002,
			// prior max 6.91, 6.91*1.002=6.92382 <= 6.93
			expected: true,
		},
		{
			name:      "Flat series never breaks out",
			prices:    []float64{6.93, 6.93, 6.93},
			lookback:  45,
			threshold: 1.002,
			expected:  false,
		},
		{
			name:      "Margin short of threshold",
			prices:    []float64{6.90, 6.92, 6.93},
			lookback:  45,
			threshold: 1.002,
			// prior max 6.92, 6.92*1.002=6.93384 > 6.93
			expected: false,
		},
		{
			name:      "Old high outside lookback ignored",
			prices:    []float64{10, 6.90, 6.91, 6.93},
			lookback:  2,
			threshold: 1.0,
			expected:  true,
		},
		{
			name:      "Old high inside lookback blocks",
			prices:    []float64{10, 6.90, 6.91, 6.93},
			lookback:  3,
			threshold: 1.0,
			expected:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Breakout(tt.prices, tt.lookback, tt.threshold))
		})
	}
}

func TestNoiseRatio(t *testing.T) {
	tests := []struct {
		name     string
		prices   []float64
		window   int
		baseline float64
		expected float64
	}{
		{"Zero baseline", []float64{1, 2, 3}, 5, 0, 0},
		{"Empty prices", []float64{}, 5, 6.9, 0},
		{"Flat prices", []float64{6.9, 6.9, 6.9, 6.9, 6.9}, 5, 6.9, 0},
		{
			name:     "Known values",
			prices:   []float64{1, 3},
			window:   5,
			baseline: 2,
			// stdev=1.4142..., /2*100
			expected: 70.71067811865476,
		},
		{
			name:     "Window smaller than series",
			prices:   []float64{100, 100, 6.9, 6.9},
			window:   2,
			baseline: 6.9,
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, NoiseRatio(tt.prices, tt.window, tt.baseline), 1e-9)
		})
	}
}
