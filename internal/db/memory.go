package db

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/soyjavierquiroz/sentinel/internal/journal"
	"github.com/soyjavierquiroz/sentinel/internal/position"
	"github.com/soyjavierquiroz/sentinel/internal/tick"
)

// MemoryStorage is an in-memory Storage used by tests. It mirrors the
// Postgres semantics that matter to the engine: single OPEN position,
// append-only trades, CLOSED rows immutable.
type MemoryStorage struct {
	mu sync.RWMutex

	ticks      []tick.Tick
	nextTickID int64

	positions      map[int64]position.Position
	nextPositionID int64

	trades      []position.TradeRecord
	nextTradeID int64

	events []journal.Event

	// now can be overridden by tests to pin the clock.
	now func() time.Time
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		positions: make(map[int64]position.Position),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock pins the storage clock, for tests.
func (m *MemoryStorage) SetClock(now func() time.Time) { m.now = now }

// GetDB returns nil for in-memory storage (no SQL database)
func (m *MemoryStorage) GetDB() *sql.DB { return nil }

// RunInTransaction executes fn directly; individual operations are already
// serialized by the mutex.
func (m *MemoryStorage) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// -------- Ticks --------

func (m *MemoryStorage) SaveTick(ctx context.Context, t tick.Tick) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTickID++
	t.ID = m.nextTickID
	if t.Timestamp.IsZero() {
		t.Timestamp = m.now()
	}
	t.Timestamp = t.Timestamp.UTC()
	m.ticks = append(m.ticks, t)
	return nil
}

func (m *MemoryStorage) GetTicksSince(ctx context.Context, window time.Duration) ([]tick.Tick, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := m.now().Add(-window)
	var out []tick.Tick
	for _, t := range m.ticks {
		if t.Timestamp.After(cutoff) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *MemoryStorage) GetLatestTick(ctx context.Context) (*tick.Tick, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *tick.Tick
	for i := range m.ticks {
		t := m.ticks[i]
		if latest == nil || t.Timestamp.After(latest.Timestamp) {
			tt := t
			latest = &tt
		}
	}
	return latest, nil
}

func (m *MemoryStorage) GetRecentTicks(ctx context.Context, limit int) ([]tick.Tick, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]tick.Tick, len(m.ticks))
	copy(out, m.ticks)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// -------- Positions --------

func (m *MemoryStorage) GetOpenPosition(ctx context.Context) (*position.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.openPositionLocked(), nil
}

func (m *MemoryStorage) openPositionLocked() *position.Position {
	var open *position.Position
	for _, p := range m.positions {
		if p.Status == position.StatusOpen {
			if open == nil || p.ID > open.ID {
				pp := p
				open = &pp
			}
		}
	}
	return open
}

func (m *MemoryStorage) GetLatestPosition(ctx context.Context) (*position.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *position.Position
	for _, p := range m.positions {
		if latest == nil || p.ID > latest.ID {
			pp := p
			latest = &pp
		}
	}
	return latest, nil
}

func (m *MemoryStorage) CreatePosition(ctx context.Context, entryPrice, qty decimal.Decimal) (*position.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if open := m.openPositionLocked(); open != nil {
		return nil, errors.New("an OPEN position already exists")
	}
	m.nextPositionID++
	now := m.now()
	pos := position.Position{
		ID:                 m.nextPositionID,
		Status:             position.StatusOpen,
		AvgPrice:           entryPrice,
		Qty:                qty,
		MaxPriceSinceEntry: entryPrice,
		AddsCount:          0,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	m.positions[pos.ID] = pos
	return &pos, nil
}

func (m *MemoryStorage) UpdatePosition(ctx context.Context, id int64, fields position.Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[id]
	if !ok {
		return errors.New("position not found")
	}
	if pos.Status == position.StatusClosed {
		return errors.New("position is CLOSED and immutable")
	}
	if fields.Status != nil {
		pos.Status = *fields.Status
	}
	if fields.AvgPrice != nil {
		pos.AvgPrice = *fields.AvgPrice
	}
	if fields.Qty != nil {
		pos.Qty = *fields.Qty
	}
	if fields.MaxPriceSinceEntry != nil {
		pos.MaxPriceSinceEntry = *fields.MaxPriceSinceEntry
	}
	if fields.AddsCount != nil {
		pos.AddsCount = *fields.AddsCount
	}
	pos.UpdatedAt = m.now()
	m.positions[id] = pos
	return nil
}

func (m *MemoryStorage) ClosePosition(ctx context.Context, pos *position.Position, exitPrice decimal.Decimal, note string) (*position.TradeRecord, error) {
	closed := position.StatusClosed
	if err := m.UpdatePosition(ctx, pos.ID, position.Update{Status: &closed}); err != nil {
		return nil, err
	}
	pnl, pnlPct := position.RealizedPnL(pos.AvgPrice, pos.Qty, exitPrice)
	return m.InsertTrade(ctx, position.TradeRecord{
		Side:          position.SideSell,
		Qty:           pos.Qty,
		Price:         exitPrice,
		Cost:          exitPrice.Mul(pos.Qty),
		PnL:           &pnl,
		PnLPct:        &pnlPct,
		RefPositionID: pos.ID,
		Note:          note,
	})
}

// -------- Trades --------

func (m *MemoryStorage) InsertTrade(ctx context.Context, rec position.TradeRecord) (*position.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTradeID++
	rec.ID = m.nextTradeID
	if rec.Timestamp.IsZero() {
		rec.Timestamp = m.now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	m.trades = append(m.trades, rec)
	return &rec, nil
}

func (m *MemoryStorage) GetTrades(ctx context.Context, limit int) ([]position.TradeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]position.TradeRecord, len(m.trades))
	copy(out, m.trades)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStorage) GetDailyTradeSummary(ctx context.Context, day time.Time) (*position.DailySummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start := day
	end := start.Add(24 * time.Hour)

	var s position.DailySummary
	var pctSum decimal.Decimal
	var pctCount int
	for _, rec := range m.trades {
		if rec.Timestamp.Before(start) || !rec.Timestamp.Before(end) {
			continue
		}
		switch rec.Side {
		case position.SideBuy:
			s.Buys++
		case position.SideSell:
			s.Sells++
		}
		if rec.PnL != nil {
			s.PnLSum = s.PnLSum.Add(*rec.PnL)
		}
		if rec.PnLPct != nil {
			pctSum = pctSum.Add(*rec.PnLPct)
			pctCount++
		}
	}
	if pctCount > 0 {
		avg := pctSum.Div(decimal.NewFromInt(int64(pctCount)))
		s.AvgPnLPct = &avg
	}
	return &s, nil
}

func (m *MemoryStorage) GetPnLSummary(ctx context.Context) (*position.PnLSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var s position.PnLSummary
	for _, rec := range m.trades {
		if rec.Side != position.SideSell {
			continue
		}
		s.TotalTrades++
		if rec.PnL == nil {
			continue
		}
		s.TotalPnL = s.TotalPnL.Add(*rec.PnL)
		if rec.PnL.IsPositive() {
			s.Winners++
		} else {
			s.Losers++
		}
	}
	return &s, nil
}

// -------- Journal --------

func (m *MemoryStorage) LogEvent(ctx context.Context, event journal.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.Time.IsZero() {
		event.Time = m.now()
	}
	event.Time = event.Time.UTC()
	event.ID = int64(len(m.events) + 1)
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryStorage) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []journal.Event
	for _, e := range m.events {
		if e.Type == eventType && !e.Time.Before(start) && e.Time.Before(end) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}
