// Package tick
package tick

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Tick is one sampled marketplace price point. Rows are immutable once
// stored; the collector is the only writer.
type Tick struct {
	ID        int64           `json:"id"`
	Timestamp time.Time       `json:"ts"`
	Asset     string          `json:"asset"`
	Fiat      string          `json:"fiat"`
	BuyBest   decimal.Decimal `json:"buy_best"`
	SellBest  decimal.Decimal `json:"sell_best"`
	MidPrice  decimal.Decimal `json:"mid_price"`
	SpreadPct decimal.Decimal `json:"spread_pct"`
}

// Store is the tick storage contract. Reads return ticks ordered oldest
// to newest.
type Store interface {
	SaveTick(ctx context.Context, t Tick) error
	GetTicksSince(ctx context.Context, window time.Duration) ([]Tick, error)
	GetLatestTick(ctx context.Context) (*Tick, error)
	GetRecentTicks(ctx context.Context, limit int) ([]Tick, error)
}

// Prices extracts mid prices as floats for indicator math.
func Prices(ticks []Tick) []float64 {
	out := make([]float64, len(ticks))
	for i, t := range ticks {
		out[i] = t.MidPrice.InexactFloat64()
	}
	return out
}

// Spreads extracts spread percentages as floats.
func Spreads(ticks []Tick) []float64 {
	out := make([]float64, len(ticks))
	for i, t := range ticks {
		out[i] = t.SpreadPct.InexactFloat64()
	}
	return out
}
