// Package position
package position

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Position status values. A position is created OPEN and transitions to
// CLOSED exactly once; CLOSED rows are never reused.
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

// Trade sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Position is the single unit of exposure. At most one row is OPEN at any
// time; the storage layer enforces that.
type Position struct {
	ID                 int64           `json:"id"`
	Status             string          `json:"status"`
	AvgPrice           decimal.Decimal `json:"avg_price"`
	Qty                decimal.Decimal `json:"qty"`
	MaxPriceSinceEntry decimal.Decimal `json:"max_price_since_entry"`
	AddsCount          int             `json:"adds_count"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// TradeRecord is an append-only fill record. BUY rows are written for the
// entry and each add; exactly one SELL row closes a position and carries the
// realized P&L for its whole lifetime.
type TradeRecord struct {
	ID            int64            `json:"id"`
	Timestamp     time.Time        `json:"ts"`
	Side          string           `json:"side"`
	Qty           decimal.Decimal  `json:"qty"`
	Price         decimal.Decimal  `json:"price"`
	Cost          decimal.Decimal  `json:"cost"`
	PnL           *decimal.Decimal `json:"pnl,omitempty"`
	PnLPct        *decimal.Decimal `json:"pnl_pct,omitempty"`
	RefPositionID int64            `json:"ref_position_id"`
	Note          string           `json:"note"`
}

// Update carries a partial position update. Nil fields are left untouched.
type Update struct {
	Status             *string
	AvgPrice           *decimal.Decimal
	Qty                *decimal.Decimal
	MaxPriceSinceEntry *decimal.Decimal
	AddsCount          *int
}

// DailySummary aggregates one day of trade records.
type DailySummary struct {
	Buys      int              `json:"buys"`
	Sells     int              `json:"sells"`
	PnLSum    decimal.Decimal  `json:"pnl_sum"`
	AvgPnLPct *decimal.Decimal `json:"avg_pnl_pct,omitempty"`
}

// PnLSummary aggregates realized P&L over all closed trades.
type PnLSummary struct {
	TotalPnL    decimal.Decimal `json:"total_pnl"`
	TotalTrades int             `json:"total_trades"`
	Winners     int             `json:"winners"`
	Losers      int             `json:"losers"`
}

// Repository is the position/trade storage contract consumed by the engine.
// The engine is the only writer of positions and trades.
type Repository interface {
	GetOpenPosition(ctx context.Context) (*Position, error)
	CreatePosition(ctx context.Context, entryPrice, qty decimal.Decimal) (*Position, error)
	UpdatePosition(ctx context.Context, id int64, fields Update) error
	ClosePosition(ctx context.Context, pos *Position, exitPrice decimal.Decimal, note string) (*TradeRecord, error)
	InsertTrade(ctx context.Context, rec TradeRecord) (*TradeRecord, error)
	GetTrades(ctx context.Context, limit int) ([]TradeRecord, error)
	GetLatestPosition(ctx context.Context) (*Position, error)
	GetDailyTradeSummary(ctx context.Context, day time.Time) (*DailySummary, error)
	GetPnLSummary(ctx context.Context) (*PnLSummary, error)
}

// WeightedAdd returns the new average price and quantity after adding
// addQty at price to a position averaging avgPrice over qty.
func WeightedAdd(avgPrice, qty, price, addQty decimal.Decimal) (newAvg, newQty decimal.Decimal) {
	newQty = qty.Add(addQty)
	newAvg = avgPrice.Mul(qty).Add(price.Mul(addQty)).Div(newQty)
	return newAvg, newQty
}

// RealizedPnL computes the position's realized P&L at exitPrice:
// costOut - costIn, and the percent relative to costIn.
func RealizedPnL(avgPrice, qty, exitPrice decimal.Decimal) (pnl, pnlPct decimal.Decimal) {
	costIn := avgPrice.Mul(qty)
	costOut := exitPrice.Mul(qty)
	pnl = costOut.Sub(costIn)
	if costIn.IsZero() {
		return pnl, decimal.Zero
	}
	pnlPct = pnl.Div(costIn).Mul(decimal.NewFromInt(100))
	return pnl, pnlPct
}
