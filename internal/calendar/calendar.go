// Package calendar answers trading-day questions from the trading_calendars
// table. The table is seeded externally (or by the migrate command's
// weekday fallback); an empty calendar for a market degrades to weekday
// arithmetic so price commands still run.
package calendar

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marketsync/internal/database"
	"github.com/aristath/marketsync/internal/domain"
)

// Calendar reads and maintains per-market trading days.
type Calendar struct {
	db  *sql.DB
	log zerolog.Logger
}

// New creates a Calendar on top of an open database handle.
func New(db *sql.DB, log zerolog.Logger) *Calendar {
	return &Calendar{
		db:  db,
		log: log.With().Str("component", "calendar").Logger(),
	}
}

// HasMarket reports whether any trading days are stored for market.
func (c *Calendar) HasMarket(ctx context.Context, market string) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM trading_calendars WHERE market = ?", market).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count trading days: %w", err)
	}
	return n > 0, nil
}

// IsTradingDay reports whether date is a trading day in market. With no
// stored calendar for the market it falls back to Monday..Friday.
func (c *Calendar) IsTradingDay(ctx context.Context, market string, date domain.Date) (bool, error) {
	seeded, err := c.HasMarket(ctx, market)
	if err != nil {
		return false, err
	}
	if !seeded {
		return isWeekday(date), nil
	}

	var one int
	err = c.db.QueryRowContext(ctx,
		"SELECT 1 FROM trading_calendars WHERE market = ? AND trade_date = ?",
		market, date.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query trading day: %w", err)
	}
	return true, nil
}

// LastTradingDayOnOrBefore walks back from date to the nearest trading day.
func (c *Calendar) LastTradingDayOnOrBefore(ctx context.Context, market string, date domain.Date) (domain.Date, error) {
	seeded, err := c.HasMarket(ctx, market)
	if err != nil {
		return domain.Date{}, err
	}
	if !seeded {
		d := date
		for !isWeekday(d) {
			d = d.AddDays(-1)
		}
		return d, nil
	}

	var out domain.Date
	err = c.db.QueryRowContext(ctx, `
		SELECT trade_date FROM trading_calendars
		WHERE market = ? AND trade_date <= ?
		ORDER BY trade_date DESC LIMIT 1`,
		market, date.String()).Scan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Date{}, fmt.Errorf("no trading day on or before %s in market %s", date, market)
	}
	if err != nil {
		return domain.Date{}, fmt.Errorf("failed to query last trading day: %w", err)
	}
	return out, nil
}

// SeedRange stores every weekday in [start, end] as a trading day for
// market. Existing rows are kept; the insert is idempotent.
func (c *Calendar) SeedRange(ctx context.Context, market string, start, end domain.Date) (int, error) {
	inserted := 0
	err := database.WithTransaction(c.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO trading_calendars (market, trade_date) VALUES (?, ?)
			ON CONFLICT (market, trade_date) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("failed to prepare calendar insert: %w", err)
		}
		defer stmt.Close()

		for d := start; !d.After(end); d = d.AddDays(1) {
			if !isWeekday(d) {
				continue
			}
			res, err := stmt.ExecContext(ctx, market, d.String())
			if err != nil {
				return fmt.Errorf("failed to insert trading day %s: %w", d, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	c.log.Info().Str("market", market).Int("inserted", inserted).Msg("trading calendar seeded")
	return inserted, nil
}

func isWeekday(d domain.Date) bool {
	wd := d.Time().Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
