package signals

import (
	"context"
	"fmt"
	"time"

	"github.com/soyjavierquiroz/sentinel/internal/journal"
)

// DailySummary aggregates the day's trades and latest price into a single
// notification. It mutates no state; the day boundary is evaluated in the
// configured summary timezone.
func (e *Engine) DailySummary(ctx context.Context) error {
	now := time.Now().In(e.cfg.SummaryLocation)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.cfg.SummaryLocation)

	summary, err := e.storage.GetDailyTradeSummary(ctx, dayStart)
	if err != nil {
		return fmt.Errorf("failed to read daily trade summary: %w", err)
	}

	latest, err := e.storage.GetLatestTick(ctx)
	if err != nil {
		return fmt.Errorf("failed to read latest tick: %w", err)
	}

	price := "N/A"
	if latest != nil {
		price = latest.MidPrice.StringFixed(4)
	}
	avgPct := "N/A"
	if summary.AvgPnLPct != nil {
		avgPct = summary.AvgPnLPct.StringFixed(2) + "%"
	}

	msg := fmt.Sprintf("📊 Daily summary\n💵 Last: %s %s\n🟢 BUY: %d | 🔴 SELL: %d\n💰 P&L: %s %s | Avg: %s",
		price, e.cfg.Fiat, summary.Buys, summary.Sells,
		summary.PnLSum.StringFixed(2), e.cfg.Fiat, avgPct)

	e.notify(msg)
	e.journal(ctx, journal.Event{
		Type:        "summary",
		Description: "daily summary sent",
		Data: map[string]any{
			"buys":    summary.Buys,
			"sells":   summary.Sells,
			"pnl_sum": summary.PnLSum.String(),
		},
	})
	return nil
}
