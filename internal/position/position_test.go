package position

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestWeightedAdd(t *testing.T) {
	tests := []struct {
		name            string
		avgPrice, qty   decimal.Decimal
		price, addQty   decimal.Decimal
		expectedAvg     decimal.Decimal
		expectedQty     decimal.Decimal
	}{
		{
			name:     "Equal sizes average midpoint",
			avgPrice: d("6.90"), qty: d("500"),
			price: d("6.9552"), addQty: d("500"),
			expectedAvg: d("6.9276"),
			expectedQty: d("1000"),
		},
		{
			name:     "Add at same price keeps average",
			avgPrice: d("7"), qty: d("500"),
			price: d("7"), addQty: d("500"),
			expectedAvg: d("7"),
			expectedQty: d("1000"),
		},
		{
			name:     "Unequal sizes weight toward larger leg",
			avgPrice: d("10"), qty: d("300"),
			price: d("11"), addQty: d("100"),
			expectedAvg: d("10.25"),
			expectedQty: d("400"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotAvg, gotQty := WeightedAdd(tt.avgPrice, tt.qty, tt.price, tt.addQty)
			assert.True(t, tt.expectedAvg.Equal(gotAvg), "avg: want %s got %s", tt.expectedAvg, gotAvg)
			assert.True(t, tt.expectedQty.Equal(gotQty), "qty: want %s got %s", tt.expectedQty, gotQty)
		})
	}
}

// Feeding the weighted average back as avg_price must reproduce the summed
// cost of all BUY fills exactly.
func TestWeightedAdd_CostRoundTrip(t *testing.T) {
	base := d("500")
	fills := []decimal.Decimal{d("6.90"), d("6.9552"), d("7.0108"), d("7.0663")}

	avg := fills[0]
	qty := base
	totalCost := fills[0].Mul(base)
	for _, price := range fills[1:] {
		avg, qty = WeightedAdd(avg, qty, price, base)
		totalCost = totalCost.Add(price.Mul(base))
	}

	costIn := avg.Mul(qty)
	diff := costIn.Sub(totalCost).Abs()
	require.True(t, diff.LessThan(d("0.0000001")), "costIn %s vs total %s", costIn, totalCost)
}

func TestRealizedPnL(t *testing.T) {
	tests := []struct {
		name           string
		avgPrice, qty  decimal.Decimal
		exitPrice      decimal.Decimal
		expectedPnL    decimal.Decimal
		expectedPnLPct decimal.Decimal
	}{
		{
			name:     "Losing exit",
			avgPrice: d("6.90"), qty: d("500"), exitPrice: d("6.89"),
			expectedPnL:    d("-5"),
			expectedPnLPct: d("-5").Div(d("3450")).Mul(d("100")),
		},
		{
			name:     "Winning exit",
			avgPrice: d("6.90"), qty: d("500"), exitPrice: d("7.00"),
			expectedPnL:    d("50"),
			expectedPnLPct: d("50").Div(d("3450")).Mul(d("100")),
		},
		{
			name:     "Flat exit",
			avgPrice: d("6.90"), qty: d("500"), exitPrice: d("6.90"),
			expectedPnL:    d("0"),
			expectedPnLPct: d("0"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pnl, pnlPct := RealizedPnL(tt.avgPrice, tt.qty, tt.exitPrice)
			assert.True(t, tt.expectedPnL.Equal(pnl), "pnl: want %s got %s", tt.expectedPnL, pnl)
			assert.True(t, tt.expectedPnLPct.Equal(pnlPct), "pct: want %s got %s", tt.expectedPnLPct, pnlPct)
		})
	}
}
