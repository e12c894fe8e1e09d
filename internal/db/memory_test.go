package db

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyjavierquiroz/sentinel/internal/position"
	"github.com/soyjavierquiroz/sentinel/internal/tick"
)

func TestMemoryStorage_SingleOpenPosition(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	first, err := m.CreatePosition(ctx, decimal.NewFromFloat(6.90), decimal.NewFromInt(500))
	require.NoError(t, err)

	_, err = m.CreatePosition(ctx, decimal.NewFromFloat(6.95), decimal.NewFromInt(500))
	require.Error(t, err, "a second OPEN position must be rejected")

	// After closing, a fresh position can open again.
	_, err = m.ClosePosition(ctx, first, decimal.NewFromFloat(6.95), "trailing/fail-safe close")
	require.NoError(t, err)
	_, err = m.CreatePosition(ctx, decimal.NewFromFloat(6.95), decimal.NewFromInt(500))
	assert.NoError(t, err)
}

func TestMemoryStorage_ClosedPositionIsImmutable(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	pos, err := m.CreatePosition(ctx, decimal.NewFromFloat(6.90), decimal.NewFromInt(500))
	require.NoError(t, err)
	_, err = m.ClosePosition(ctx, pos, decimal.NewFromFloat(6.95), "trailing/fail-safe close")
	require.NoError(t, err)

	newAvg := decimal.NewFromFloat(7.00)
	err = m.UpdatePosition(ctx, pos.ID, position.Update{AvgPrice: &newAvg})
	require.Error(t, err)

	latest, err := m.GetLatestPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, position.StatusClosed, latest.Status)
	assert.True(t, latest.AvgPrice.Equal(decimal.NewFromFloat(6.90)))
}

func TestMemoryStorage_ClosePositionRecordsPnL(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	pos, err := m.CreatePosition(ctx, decimal.NewFromFloat(6.90), decimal.NewFromInt(500))
	require.NoError(t, err)

	rec, err := m.ClosePosition(ctx, pos, decimal.NewFromFloat(6.94), "trailing/fail-safe close")
	require.NoError(t, err)
	assert.Equal(t, position.SideSell, rec.Side)
	require.NotNil(t, rec.PnL)
	// (6.94 - 6.90) * 500
	assert.True(t, rec.PnL.Equal(decimal.NewFromInt(20)), "pnl=%s", rec.PnL)
	require.NotNil(t, rec.PnLPct)
	assert.InDelta(t, 0.5797, rec.PnLPct.InexactFloat64(), 0.0001)
}

func TestMemoryStorage_TickWindow(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	for _, age := range []time.Duration{90 * time.Minute, 30 * time.Minute, 5 * time.Minute} {
		require.NoError(t, m.SaveTick(ctx, tick.Tick{
			Timestamp: now.Add(-age),
			MidPrice:  decimal.NewFromFloat(6.90),
		}))
	}

	ticks, err := m.GetTicksSince(ctx, 60*time.Minute)
	require.NoError(t, err)
	require.Len(t, ticks, 2, "ticks older than the window must be excluded")
	assert.True(t, ticks[0].Timestamp.Before(ticks[1].Timestamp), "oldest first")
}

func TestMemoryStorage_DailyTradeSummary(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	day := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	now := day.Add(10 * time.Hour)
	m.SetClock(func() time.Time { return now })

	pnl1 := decimal.NewFromInt(20)
	pct1 := decimal.NewFromFloat(0.58)
	pnl2 := decimal.NewFromInt(-5)
	pct2 := decimal.NewFromFloat(-0.14)
	for _, rec := range []position.TradeRecord{
		{Side: position.SideBuy, Qty: decimal.NewFromInt(500), Price: decimal.NewFromFloat(6.90)},
		{Side: position.SideSell, Qty: decimal.NewFromInt(500), Price: decimal.NewFromFloat(6.94), PnL: &pnl1, PnLPct: &pct1},
		{Side: position.SideSell, Qty: decimal.NewFromInt(500), Price: decimal.NewFromFloat(6.89), PnL: &pnl2, PnLPct: &pct2},
		// Previous day, must not be counted.
		{Timestamp: day.Add(-time.Hour), Side: position.SideBuy, Qty: decimal.NewFromInt(500), Price: decimal.NewFromFloat(6.80)},
	} {
		_, err := m.InsertTrade(ctx, rec)
		require.NoError(t, err)
	}

	s, err := m.GetDailyTradeSummary(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Buys)
	assert.Equal(t, 2, s.Sells)
	assert.True(t, s.PnLSum.Equal(decimal.NewFromInt(15)), "pnl_sum=%s", s.PnLSum)
	require.NotNil(t, s.AvgPnLPct)
	assert.True(t, s.AvgPnLPct.Equal(decimal.NewFromFloat(0.22)), "avg_pct=%s", s.AvgPnLPct)
}

func TestMemoryStorage_PnLSummary(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	pnl1 := decimal.NewFromInt(20)
	pnl2 := decimal.NewFromInt(-5)
	for _, rec := range []position.TradeRecord{
		{Side: position.SideBuy, Qty: decimal.NewFromInt(500), Price: decimal.NewFromFloat(6.90)},
		{Side: position.SideSell, Qty: decimal.NewFromInt(500), Price: decimal.NewFromFloat(6.94), PnL: &pnl1},
		{Side: position.SideSell, Qty: decimal.NewFromInt(500), Price: decimal.NewFromFloat(6.89), PnL: &pnl2},
	} {
		_, err := m.InsertTrade(ctx, rec)
		require.NoError(t, err)
	}

	s, err := m.GetPnLSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, s.TotalTrades, "only SELL rows count")
	assert.Equal(t, 1, s.Winners)
	assert.Equal(t, 1, s.Losers)
	assert.True(t, s.TotalPnL.Equal(decimal.NewFromInt(15)))
}
