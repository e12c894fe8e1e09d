package db

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyjavierquiroz/sentinel/internal/db/conf"
	"github.com/soyjavierquiroz/sentinel/internal/journal"
	"github.com/soyjavierquiroz/sentinel/internal/position"
	"github.com/soyjavierquiroz/sentinel/internal/tick"
)

func newTestStorage(t *testing.T) (*Default, func()) {
	t.Helper()
	c, cleanup := conf.NewTestConfig(t)
	storage, err := New(*c)
	require.NoError(t, err)
	return storage, cleanup
}

func TestPostgres_TickRoundTrip(t *testing.T) {
	storage, cleanup := newTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	for i, age := range []time.Duration{50 * time.Minute, 20 * time.Minute, time.Minute} {
		price := decimal.NewFromFloat(6.90 + float64(i)*0.01)
		require.NoError(t, storage.SaveTick(ctx, tick.Tick{
			Timestamp: now.Add(-age),
			Asset:     "USDT",
			Fiat:      "BOB",
			BuyBest:   price,
			SellBest:  price,
			MidPrice:  price,
			SpreadPct: decimal.NewFromFloat(0.4),
		}))
	}

	ticks, err := storage.GetTicksSince(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	assert.True(t, ticks[0].Timestamp.Before(ticks[1].Timestamp), "oldest first")
	assert.True(t, ticks[1].MidPrice.Equal(decimal.NewFromFloat(6.92)))

	latest, err := storage.GetLatestTick(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.MidPrice.Equal(decimal.NewFromFloat(6.92)))

	recent, err := storage.GetRecentTicks(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.True(t, recent[0].Timestamp.Before(recent[1].Timestamp))
}

func TestPostgres_SingleOpenPositionEnforced(t *testing.T) {
	storage, cleanup := newTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	pos, err := storage.CreatePosition(ctx, decimal.NewFromFloat(6.90), decimal.NewFromInt(500))
	require.NoError(t, err)
	assert.Equal(t, position.StatusOpen, pos.Status)
	assert.True(t, pos.MaxPriceSinceEntry.Equal(decimal.NewFromFloat(6.90)))

	// The partial unique index rejects a second OPEN row.
	_, err = storage.CreatePosition(ctx, decimal.NewFromFloat(6.95), decimal.NewFromInt(500))
	require.Error(t, err)

	_, err = storage.ClosePosition(ctx, pos, decimal.NewFromFloat(6.95), "trailing/fail-safe close")
	require.NoError(t, err)

	_, err = storage.CreatePosition(ctx, decimal.NewFromFloat(6.95), decimal.NewFromInt(500))
	assert.NoError(t, err)
}

func TestPostgres_PositionLifecycle(t *testing.T) {
	storage, cleanup := newTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	pos, err := storage.CreatePosition(ctx, decimal.NewFromFloat(6.90), decimal.NewFromInt(500))
	require.NoError(t, err)

	max := decimal.NewFromFloat(7.00)
	adds := 1
	require.NoError(t, storage.UpdatePosition(ctx, pos.ID, position.Update{
		MaxPriceSinceEntry: &max,
		AddsCount:          &adds,
	}))

	open, err := storage.GetOpenPosition(ctx)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.True(t, open.MaxPriceSinceEntry.Equal(max))
	assert.Equal(t, 1, open.AddsCount)

	rec, err := storage.ClosePosition(ctx, open, decimal.NewFromFloat(6.94), "trailing/fail-safe close")
	require.NoError(t, err)
	require.NotNil(t, rec.PnL)
	// (6.94 - 6.90) * 500
	assert.True(t, rec.PnL.Equal(decimal.NewFromInt(20)), "pnl=%s", rec.PnL)

	flat, err := storage.GetOpenPosition(ctx)
	require.NoError(t, err)
	assert.Nil(t, flat)

	latest, err := storage.GetLatestPosition(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, position.StatusClosed, latest.Status)

	trades, err := storage.GetTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, position.SideSell, trades[0].Side)
	assert.Equal(t, pos.ID, trades[0].RefPositionID)
}

func TestPostgres_RunInTransactionRollsBack(t *testing.T) {
	storage, cleanup := newTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	wantErr := assert.AnError
	err := storage.RunInTransaction(ctx, func(ctx context.Context) error {
		if _, err := storage.CreatePosition(ctx, decimal.NewFromFloat(6.90), decimal.NewFromInt(500)); err != nil {
			return err
		}
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)

	pos, err := storage.GetOpenPosition(ctx)
	require.NoError(t, err)
	assert.Nil(t, pos, "the rolled-back position must not be visible")
}

func TestPostgres_Events(t *testing.T) {
	storage, cleanup := newTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, storage.LogEvent(ctx, journal.Event{
		Time:        now,
		Type:        "entry",
		Description: "position opened",
		Data:        map[string]any{"price": "6.90"},
	}))

	events, err := storage.GetEvents(ctx, "entry", now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "position opened", events[0].Description)
	assert.Equal(t, "6.90", events[0].Data["price"])
}
