// Package signals holds the decision engine: indicator evaluation over the
// recent tick window and the position state machine that turns it into
// entries, adds, and exits.
package signals

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/soyjavierquiroz/sentinel/internal/config"
	"github.com/soyjavierquiroz/sentinel/internal/db"
	"github.com/soyjavierquiroz/sentinel/internal/indicator"
	"github.com/soyjavierquiroz/sentinel/internal/journal"
	"github.com/soyjavierquiroz/sentinel/internal/notifier"
	"github.com/soyjavierquiroz/sentinel/internal/position"
	"github.com/soyjavierquiroz/sentinel/internal/tick"
)

// EMA periods for the momentum ladder. Period 1 is the instant price.
const (
	emaFastPeriod = 1
	emaMidPeriod  = 3
	emaSlowPeriod = 5
)

// ErrInsufficientData marks a cycle skipped because the tick window held too
// few samples. It is a no-op condition, not a failure.
var ErrInsufficientData = errors.New("insufficient tick data in window")

// Config carries the engine constants with money values as decimals.
type Config struct {
	Asset string
	Fiat  string

	BaseOrderSize   decimal.Decimal
	TrailPct        decimal.Decimal
	AddStepPct      decimal.Decimal
	MaxAdds         int
	SpreadCapForAdd decimal.Decimal

	MinWindowTicks    int
	BreakoutLookback  int
	BreakoutThreshold float64
	NoiseWindow       int
	NoiseCapPct       float64
	TickWindow        time.Duration
	CycleTimeout      time.Duration

	SummaryLocation *time.Location
}

// ConfigFrom converts the application configuration into engine constants.
func ConfigFrom(app config.Config) (Config, error) {
	loc, err := time.LoadLocation(app.SummaryTimezone)
	if err != nil {
		return Config{}, fmt.Errorf("invalid summary timezone: %w", err)
	}
	return Config{
		Asset:             app.Asset,
		Fiat:              app.Fiat,
		BaseOrderSize:     decimal.NewFromFloat(app.BaseOrderSize),
		TrailPct:          decimal.NewFromFloat(app.TrailPct),
		AddStepPct:        decimal.NewFromFloat(app.AddStepPct),
		MaxAdds:           app.MaxAdds,
		SpreadCapForAdd:   decimal.NewFromFloat(app.SpreadCapForAdd),
		MinWindowTicks:    app.MinWindowTicks,
		BreakoutLookback:  app.BreakoutLookback,
		BreakoutThreshold: app.BreakoutThreshold,
		NoiseWindow:       app.NoiseWindow,
		NoiseCapPct:       app.NoiseCapPct,
		TickWindow:        app.TickWindow,
		CycleTimeout:      app.CycleTimeout,
		SummaryLocation:   loc,
	}, nil
}

// Snapshot holds the derived signals of one evaluation cycle.
type Snapshot struct {
	Last       float64
	LastSpread float64
	EMAFast    float64
	EMAMid     float64
	EMASlow    float64
	HasFast    bool
	HasMid     bool
	HasSlow    bool
	NoisePct   float64
	Momentum   bool
	Breakout   bool
	LowNoise   bool
	FailSafe   bool
	TickCount  int
}

func (s Snapshot) String() string {
	return fmt.Sprintf("last=%.4f ema1=%.4f ema3=%.4f ema5=%.4f noise=%.3f%% momentum=%t breakout=%t lowNoise=%t failSafe=%t",
		s.Last, s.EMAFast, s.EMAMid, s.EMASlow, s.NoisePct, s.Momentum, s.Breakout, s.LowNoise, s.FailSafe)
}

// Engine is the decision engine. The repository and notifier are injected;
// the engine owns all position and trade writes.
type Engine struct {
	storage  db.Storage
	notifier notifier.Notifier
	cfg      Config
}

func New(storage db.Storage, n notifier.Notifier, cfg Config) *Engine {
	if n == nil {
		n = notifier.Noop{}
	}
	return &Engine{storage: storage, notifier: n, cfg: cfg}
}

// Evaluate computes the derived signals for a window of ticks (oldest first).
func (e *Engine) Evaluate(ticks []tick.Tick) Snapshot {
	prices := tick.Prices(ticks)
	spreads := tick.Spreads(ticks)

	snap := Snapshot{
		Last:       prices[len(prices)-1],
		LastSpread: spreads[len(spreads)-1],
		TickCount:  len(ticks),
	}

	snap.EMAFast, snap.HasFast = indicator.EMA(prices, emaFastPeriod)
	snap.EMAMid, snap.HasMid = indicator.EMA(prices, emaMidPeriod)
	snap.EMASlow, snap.HasSlow = indicator.EMA(prices, emaSlowPeriod)

	snap.Breakout = indicator.Breakout(prices, e.cfg.BreakoutLookback, e.cfg.BreakoutThreshold)

	baseline := snap.Last
	if snap.HasMid {
		baseline = snap.EMAMid
	}
	snap.NoisePct = indicator.NoiseRatio(prices, e.cfg.NoiseWindow, baseline)
	snap.LowNoise = snap.NoisePct <= e.cfg.NoiseCapPct

	snap.Momentum = snap.HasFast && snap.HasMid && snap.HasSlow &&
		snap.EMAFast > snap.EMAMid && snap.EMAMid > snap.EMASlow
	snap.FailSafe = snap.HasFast && snap.HasMid && snap.EMAFast < snap.EMAMid

	return snap
}

// DetectSignals runs one decision cycle: read the tick window, evaluate the
// indicators, and apply the state machine. All position and trade writes of a
// transition happen in one storage transaction; the alert is sent only after
// the transaction committed.
func (e *Engine) DetectSignals(ctx context.Context) error {
	if e.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.CycleTimeout)
		defer cancel()
	}

	ticks, err := e.storage.GetTicksSince(ctx, e.cfg.TickWindow)
	if err != nil {
		return fmt.Errorf("failed to read tick window: %w", err)
	}
	if len(ticks) < e.cfg.MinWindowTicks {
		return ErrInsufficientData
	}

	snap := e.Evaluate(ticks)
	last := ticks[len(ticks)-1].MidPrice
	lastSpread := ticks[len(ticks)-1].SpreadPct

	var tr *transition
	err = e.storage.RunInTransaction(ctx, func(ctx context.Context) error {
		pos, err := e.storage.GetOpenPosition(ctx)
		if err != nil {
			return fmt.Errorf("failed to read open position: %w", err)
		}

		if pos == nil {
			if snap.Momentum && snap.Breakout && snap.LowNoise {
				tr, err = e.enter(ctx, last)
				return err
			}
			log.Printf("Signals | no entry: %s", snap)
			return nil
		}

		// Trailing reference rises with the price, never falls.
		maxPrice := pos.MaxPriceSinceEntry
		if last.GreaterThan(maxPrice) {
			maxPrice = last
			if err := e.storage.UpdatePosition(ctx, pos.ID, position.Update{MaxPriceSinceEntry: &maxPrice}); err != nil {
				return fmt.Errorf("failed to update trailing max: %w", err)
			}
		}
		trailingStop := maxPrice.Mul(decimal.NewFromInt(1).Sub(e.cfg.TrailPct))

		// Exit takes precedence over adding; a cycle never does both.
		if last.LessThanOrEqual(trailingStop) || snap.FailSafe {
			tr, err = e.exit(ctx, pos, last, trailingStop, snap)
			return err
		}

		if pos.AddsCount < e.cfg.MaxAdds && snap.Momentum && lastSpread.LessThanOrEqual(e.cfg.SpreadCapForAdd) {
			step := e.cfg.AddStepPct.Mul(decimal.NewFromInt(int64(pos.AddsCount + 1)))
			nextLevel := pos.AvgPrice.Mul(decimal.NewFromInt(1).Add(step))
			if last.GreaterThanOrEqual(nextLevel) {
				tr, err = e.add(ctx, pos, last, maxPrice)
				return err
			}
		}

		log.Printf("Signals | OPEN avg=%s qty=%s last=%s max=%s trail=%s adds=%d",
			pos.AvgPrice.StringFixed(4), pos.Qty, last.StringFixed(4),
			maxPrice.StringFixed(4), trailingStop.StringFixed(4), pos.AddsCount)
		return nil
	})
	if err != nil {
		e.journal(ctx, journal.Event{
			Type:        "error",
			Description: "decision cycle failed",
			Data:        map[string]any{"error": err.Error()},
		})
		return err
	}

	if tr != nil {
		e.journal(ctx, tr.event)
		e.notify(tr.alert)
	}
	return nil
}

// transition carries the post-commit side effects of a state change: the
// journal event and the alert text. Both happen only after the storage
// transaction committed, and neither can roll it back.
type transition struct {
	alert string
	event journal.Event
}

// enter opens a fresh position at last and records the entry BUY fill.
func (e *Engine) enter(ctx context.Context, last decimal.Decimal) (*transition, error) {
	pos, err := e.storage.CreatePosition(ctx, last, e.cfg.BaseOrderSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create position: %w", err)
	}

	if _, err := e.storage.InsertTrade(ctx, position.TradeRecord{
		Side:          position.SideBuy,
		Qty:           e.cfg.BaseOrderSize,
		Price:         last,
		Cost:          e.cfg.BaseOrderSize.Mul(last),
		RefPositionID: pos.ID,
		Note:          "momentum entry",
	}); err != nil {
		return nil, fmt.Errorf("failed to record entry trade: %w", err)
	}

	trailPct := e.cfg.TrailPct.Mul(decimal.NewFromInt(100))
	return &transition{
		alert: fmt.Sprintf("✅ ENTRY\nQty: %s %s\nPrice: %s %s\nTRAIL: %s%%",
			e.cfg.BaseOrderSize, e.cfg.Asset, last.StringFixed(4), e.cfg.Fiat, trailPct.StringFixed(2)),
		event: journal.Event{
			Type:        "entry",
			Description: "position opened",
			Data: map[string]any{
				"position_id": pos.ID,
				"price":       last.String(),
				"qty":         e.cfg.BaseOrderSize.String(),
			},
		},
	}, nil
}

// exit closes the position at last and records the single SELL fill with the
// realized P&L.
func (e *Engine) exit(ctx context.Context, pos *position.Position, last, trailingStop decimal.Decimal, snap Snapshot) (*transition, error) {
	rec, err := e.storage.ClosePosition(ctx, pos, last, "trailing/fail-safe close")
	if err != nil {
		return nil, fmt.Errorf("failed to close position: %w", err)
	}

	reason := "trailing stop"
	if snap.FailSafe && last.GreaterThan(trailingStop) {
		reason = "fail-safe"
	}
	return &transition{
		alert: fmt.Sprintf("🔻 EXIT\nQty: %s %s\nPrice: %s %s\nP&L: %s %s (%s%%)",
			pos.Qty, e.cfg.Asset, last.StringFixed(4), e.cfg.Fiat,
			rec.PnL.StringFixed(2), e.cfg.Fiat, rec.PnLPct.StringFixed(2)),
		event: journal.Event{
			Type:        "exit",
			Description: "position closed (" + reason + ")",
			Data: map[string]any{
				"position_id": pos.ID,
				"price":       last.String(),
				"pnl":         rec.PnL.String(),
			},
		},
	}, nil
}

// add scales into the open position by one base order at last. At most one
// add happens per cycle; the next ladder level is evaluated fresh next cycle.
func (e *Engine) add(ctx context.Context, pos *position.Position, last, maxPrice decimal.Decimal) (*transition, error) {
	if _, err := e.storage.InsertTrade(ctx, position.TradeRecord{
		Side:          position.SideBuy,
		Qty:           e.cfg.BaseOrderSize,
		Price:         last,
		Cost:          e.cfg.BaseOrderSize.Mul(last),
		RefPositionID: pos.ID,
		Note:          fmt.Sprintf("add #%d", pos.AddsCount+1),
	}); err != nil {
		return nil, fmt.Errorf("failed to record add trade: %w", err)
	}

	newAvg, newQty := position.WeightedAdd(pos.AvgPrice, pos.Qty, last, e.cfg.BaseOrderSize)
	adds := pos.AddsCount + 1
	if err := e.storage.UpdatePosition(ctx, pos.ID, position.Update{
		AvgPrice:           &newAvg,
		Qty:                &newQty,
		AddsCount:          &adds,
		MaxPriceSinceEntry: &maxPrice,
	}); err != nil {
		return nil, fmt.Errorf("failed to apply add: %w", err)
	}

	return &transition{
		alert: fmt.Sprintf("➕ ADD #%d\nQty +%s %s (total %s)\nPrice: %s %s\nNew avg: %s %s",
			adds, e.cfg.BaseOrderSize, e.cfg.Asset, newQty,
			last.StringFixed(4), e.cfg.Fiat, newAvg.StringFixed(4), e.cfg.Fiat),
		event: journal.Event{
			Type:        "add",
			Description: fmt.Sprintf("add #%d filled", adds),
			Data: map[string]any{
				"position_id": pos.ID,
				"price":       last.String(),
				"new_avg":     newAvg.String(),
				"new_qty":     newQty.String(),
			},
		},
	}, nil
}

// notify delivers an alert best-effort. Failures are logged, never returned.
func (e *Engine) notify(msg string) {
	if err := e.notifier.SendWithRetry(msg); err != nil {
		log.Printf("Signals | notification failed: %v", err)
	}
}

// journal records an engine event best-effort, outside the transition
// transaction; journaling must never roll a transition back.
func (e *Engine) journal(ctx context.Context, event journal.Event) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	if err := e.storage.LogEvent(ctx, event); err != nil {
		log.Printf("Signals | failed to journal %s event: %v", event.Type, err)
	}
}
