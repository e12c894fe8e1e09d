package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/soyjavierquiroz/sentinel/internal/db/conf"
	"github.com/soyjavierquiroz/sentinel/internal/journal"
	"github.com/soyjavierquiroz/sentinel/internal/position"
	"github.com/soyjavierquiroz/sentinel/internal/tick"
)

// Transaction context key
type txKey struct{}

// WithTransaction adds a transaction to the context
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or returns nil if not present
func GetTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// executeWithTransaction executes a function with proper transaction management.
// If a transaction exists in context, it uses that. Otherwise, it creates a new one.
func (p *Default) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}

	return nil
}

// queryWithTransaction executes a query using transaction from context if available
func (p *Default) queryWithTransaction(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return p.db.QueryContext(ctx, query, args...)
}

// queryRowWithTransaction executes a single-row query using the transaction
// from context if available
func (p *Default) queryRowWithTransaction(ctx context.Context, query string, args ...any) *sql.Row {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return p.db.QueryRowContext(ctx, query, args...)
}

type Default struct {
	db *sql.DB
}

func New(c conf.Config) (*Default, error) {
	return &Default{db: c.DB}, nil
}

func (p *Default) GetDB() *sql.DB {
	return p.db
}

// RunInTransaction runs fn inside a single database transaction. Storage
// calls made with the context handed to fn reuse that transaction.
func (p *Default) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		return fn(WithTransaction(ctx, tx))
	})
}

// -------- Ticks --------

func (p *Default) SaveTick(ctx context.Context, t tick.Tick) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		ts := t.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO p2p_ticks (ts, asset, fiat, buy_best, sell_best, mid_price, spread_pct)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			ts, t.Asset, t.Fiat, t.BuyBest, t.SellBest, t.MidPrice, t.SpreadPct)
		if err != nil {
			return fmt.Errorf("failed to save tick for %s/%s at %s: %w", t.Asset, t.Fiat, ts, err)
		}
		return nil
	})
}

func scanTicks(rows *sql.Rows) ([]tick.Tick, error) {
	var out []tick.Tick
	for rows.Next() {
		var t tick.Tick
		if err := rows.Scan(&t.ID, &t.Timestamp, &t.Asset, &t.Fiat, &t.BuyBest, &t.SellBest, &t.MidPrice, &t.SpreadPct); err != nil {
			return nil, fmt.Errorf("failed to scan tick: %w", err)
		}
		t.Timestamp = t.Timestamp.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Default) GetTicksSince(ctx context.Context, window time.Duration) ([]tick.Tick, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT id, ts, asset, fiat, buy_best, sell_best, mid_price, spread_pct
		FROM p2p_ticks
		WHERE ts > NOW() - $1::interval
		ORDER BY ts ASC`,
		fmt.Sprintf("%d seconds", int(window.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("failed to query ticks: %w", err)
	}
	defer rows.Close()
	return scanTicks(rows)
}

func (p *Default) GetLatestTick(ctx context.Context) (*tick.Tick, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT id, ts, asset, fiat, buy_best, sell_best, mid_price, spread_pct
		FROM p2p_ticks
		ORDER BY ts DESC
		LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest tick: %w", err)
	}
	defer rows.Close()
	ticks, err := scanTicks(rows)
	if err != nil {
		return nil, err
	}
	if len(ticks) == 0 {
		return nil, nil
	}
	return &ticks[0], nil
}

func (p *Default) GetRecentTicks(ctx context.Context, limit int) ([]tick.Tick, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT id, ts, asset, fiat, buy_best, sell_best, mid_price, spread_pct
		FROM p2p_ticks
		ORDER BY ts DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent ticks: %w", err)
	}
	defer rows.Close()
	ticks, err := scanTicks(rows)
	if err != nil {
		return nil, err
	}
	// Reverse to oldest-first for consumers.
	for i, j := 0, len(ticks)-1; i < j; i, j = i+1, j-1 {
		ticks[i], ticks[j] = ticks[j], ticks[i]
	}
	return ticks, nil
}

// -------- Positions --------

const positionColumns = `id, status, avg_price, qty, max_price_since_entry, adds_count, created_at, updated_at`

func scanPosition(row *sql.Row) (*position.Position, error) {
	var pos position.Position
	err := row.Scan(&pos.ID, &pos.Status, &pos.AvgPrice, &pos.Qty, &pos.MaxPriceSinceEntry, &pos.AddsCount, &pos.CreatedAt, &pos.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan position: %w", err)
	}
	pos.CreatedAt = pos.CreatedAt.UTC()
	pos.UpdatedAt = pos.UpdatedAt.UTC()
	return &pos, nil
}

// GetOpenPosition returns the OPEN position, or nil when flat. Inside a
// transaction the row is locked FOR UPDATE so two concurrent cycles cannot
// both act on it.
func (p *Default) GetOpenPosition(ctx context.Context) (*position.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE status = 'OPEN' ORDER BY id DESC LIMIT 1`
	if GetTransaction(ctx) != nil {
		query += ` FOR UPDATE`
	}
	return scanPosition(p.queryRowWithTransaction(ctx, query))
}

func (p *Default) GetLatestPosition(ctx context.Context) (*position.Position, error) {
	return scanPosition(p.queryRowWithTransaction(ctx, `
		SELECT `+positionColumns+` FROM positions ORDER BY id DESC LIMIT 1`))
}

func (p *Default) CreatePosition(ctx context.Context, entryPrice, qty decimal.Decimal) (*position.Position, error) {
	var pos *position.Position
	err := p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO positions (status, avg_price, qty, max_price_since_entry, adds_count)
			VALUES ('OPEN', $1, $2, $1, 0)
			RETURNING `+positionColumns,
			entryPrice, qty)
		var err error
		pos, err = scanPosition(row)
		if err != nil {
			return fmt.Errorf("failed to create position: %w", err)
		}
		return nil
	})
	return pos, err
}

func (p *Default) UpdatePosition(ctx context.Context, id int64, fields position.Update) error {
	cols := []string{}
	vals := []any{}
	idx := 1
	add := func(col string, v any) {
		cols = append(cols, fmt.Sprintf("%s=$%d", col, idx))
		vals = append(vals, v)
		idx++
	}
	if fields.Status != nil {
		add("status", *fields.Status)
	}
	if fields.AvgPrice != nil {
		add("avg_price", *fields.AvgPrice)
	}
	if fields.Qty != nil {
		add("qty", *fields.Qty)
	}
	if fields.MaxPriceSinceEntry != nil {
		add("max_price_since_entry", *fields.MaxPriceSinceEntry)
	}
	if fields.AddsCount != nil {
		add("adds_count", *fields.AddsCount)
	}
	if len(cols) == 0 {
		return nil
	}
	vals = append(vals, id)

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE positions SET %s, updated_at=NOW() WHERE id=$%d`, strings.Join(cols, ", "), idx),
			vals...)
		if err != nil {
			return fmt.Errorf("failed to update position %d: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to update position %d: %w", id, err)
		}
		if n == 0 {
			return fmt.Errorf("position %d not found", id)
		}
		return nil
	})
}

// ClosePosition marks the position CLOSED and writes the single SELL record
// carrying the realized P&L, in one transaction.
func (p *Default) ClosePosition(ctx context.Context, pos *position.Position, exitPrice decimal.Decimal, note string) (*position.TradeRecord, error) {
	pnl, pnlPct := position.RealizedPnL(pos.AvgPrice, pos.Qty, exitPrice)
	costOut := exitPrice.Mul(pos.Qty)

	var rec *position.TradeRecord
	err := p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		txCtx := WithTransaction(ctx, tx)

		closed := position.StatusClosed
		if err := p.UpdatePosition(txCtx, pos.ID, position.Update{Status: &closed}); err != nil {
			return err
		}

		var err error
		rec, err = p.InsertTrade(txCtx, position.TradeRecord{
			Side:          position.SideSell,
			Qty:           pos.Qty,
			Price:         exitPrice,
			Cost:          costOut,
			PnL:           &pnl,
			PnLPct:        &pnlPct,
			RefPositionID: pos.ID,
			Note:          note,
		})
		return err
	})
	return rec, err
}

// -------- Trades --------

func (p *Default) InsertTrade(ctx context.Context, rec position.TradeRecord) (*position.TradeRecord, error) {
	var pnl, pnlPct decimal.NullDecimal
	if rec.PnL != nil {
		pnl = decimal.NullDecimal{Decimal: *rec.PnL, Valid: true}
	}
	if rec.PnLPct != nil {
		pnlPct = decimal.NullDecimal{Decimal: *rec.PnLPct, Valid: true}
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	err := p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO trades (ts, side, qty, price, cost, pnl, pnl_pct, ref_position_id, note)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			RETURNING id, ts`,
			ts, rec.Side, rec.Qty, rec.Price, rec.Cost, pnl, pnlPct, rec.RefPositionID, rec.Note)
		if err := row.Scan(&rec.ID, &rec.Timestamp); err != nil {
			return fmt.Errorf("failed to insert %s trade: %w", rec.Side, err)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (p *Default) GetTrades(ctx context.Context, limit int) ([]position.TradeRecord, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT id, ts, side, qty, price, cost, pnl, pnl_pct, ref_position_id, note
		FROM trades
		ORDER BY ts DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var out []position.TradeRecord
	for rows.Next() {
		var rec position.TradeRecord
		var pnl, pnlPct decimal.NullDecimal
		var refID sql.NullInt64
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Side, &rec.Qty, &rec.Price, &rec.Cost, &pnl, &pnlPct, &refID, &rec.Note); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		if pnl.Valid {
			v := pnl.Decimal
			rec.PnL = &v
		}
		if pnlPct.Valid {
			v := pnlPct.Decimal
			rec.PnLPct = &v
		}
		if refID.Valid {
			rec.RefPositionID = refID.Int64
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetDailyTradeSummary aggregates trades whose timestamp falls on the given
// day (the caller decides the day boundary by passing a zoned start-of-day).
func (p *Default) GetDailyTradeSummary(ctx context.Context, day time.Time) (*position.DailySummary, error) {
	start := day
	end := start.Add(24 * time.Hour)

	row := p.queryRowWithTransaction(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE side='BUY') AS buys,
			COUNT(*) FILTER (WHERE side='SELL') AS sells,
			COALESCE(SUM(pnl), 0) AS pnl_sum,
			AVG(pnl_pct) FILTER (WHERE pnl_pct IS NOT NULL) AS avg_pnl_pct
		FROM trades
		WHERE ts >= $1 AND ts < $2`, start, end)

	var s position.DailySummary
	var avgPct decimal.NullDecimal
	if err := row.Scan(&s.Buys, &s.Sells, &s.PnLSum, &avgPct); err != nil {
		return nil, fmt.Errorf("failed to aggregate daily trades: %w", err)
	}
	if avgPct.Valid {
		v := avgPct.Decimal
		s.AvgPnLPct = &v
	}
	return &s, nil
}

func (p *Default) GetPnLSummary(ctx context.Context) (*position.PnLSummary, error) {
	row := p.queryRowWithTransaction(ctx, `
		SELECT
			COALESCE(SUM(pnl), 0) AS total_pnl,
			COUNT(*) AS total_trades,
			COUNT(*) FILTER (WHERE pnl > 0) AS winners,
			COUNT(*) FILTER (WHERE pnl IS NOT NULL AND pnl <= 0) AS losers
		FROM trades
		WHERE side = 'SELL'`)

	var s position.PnLSummary
	if err := row.Scan(&s.TotalPnL, &s.TotalTrades, &s.Winners, &s.Losers); err != nil {
		return nil, fmt.Errorf("failed to aggregate pnl: %w", err)
	}
	return &s, nil
}

// -------- Journal --------

func (p *Default) LogEvent(ctx context.Context, event journal.Event) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		ts := event.Time
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		data, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO events (ts, type, description, data)
			VALUES ($1,$2,$3,$4)`,
			ts, event.Type, event.Description, data); err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
}

func (p *Default) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT id, ts, type, description, data
		FROM events
		WHERE type = $1 AND ts >= $2 AND ts < $3
		ORDER BY ts ASC`, eventType, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []journal.Event
	for rows.Next() {
		var e journal.Event
		var data []byte
		if err := rows.Scan(&e.ID, &e.Time, &e.Type, &e.Description, &data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Time = e.Time.UTC()
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
