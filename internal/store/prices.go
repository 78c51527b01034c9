package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/marketsync/internal/domain"
)

// UpsertDailyPrices writes a batch of bars for one security in a single
// transaction. On conflict the OHLCV columns are always rewritten, while
// turnover, vwap and turnover_rate are only overwritten when the incoming
// bar actually carries them (COALESCE keeps the stored value otherwise).
// adj_factor is set on insert and never touched on conflict.
func (s *Store) UpsertDailyPrices(ctx context.Context, securityID int64, bars []domain.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}

	return s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO daily_prices
				(security_id, date, open, high, low, close, volume, turnover, vwap, turnover_rate, adj_factor)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '1')
			ON CONFLICT (security_id, date) DO UPDATE SET
				open          = excluded.open,
				high          = excluded.high,
				low           = excluded.low,
				close         = excluded.close,
				volume        = excluded.volume,
				turnover      = COALESCE(excluded.turnover, turnover),
				vwap          = COALESCE(excluded.vwap, vwap),
				turnover_rate = COALESCE(excluded.turnover_rate, turnover_rate)`)
		if err != nil {
			return fmt.Errorf("failed to prepare price upsert: %w", err)
		}
		defer stmt.Close()

		for _, bar := range bars {
			_, err := stmt.ExecContext(ctx,
				securityID, bar.Date.String(),
				bar.Open.String(), bar.High.String(), bar.Low.String(), bar.Close.String(),
				bar.Volume,
				nullableDecimal(bar.Turnover),
				nullableDecimal(bar.VWAP),
				nullableDecimal(bar.TurnoverRate),
			)
			if err != nil {
				return fmt.Errorf("failed to upsert price %d/%s: %w", securityID, bar.Date, err)
			}
		}
		return nil
	})
}

// BulkUpdatePrices persists fully-loaded rows in one transaction, writing
// every column including turnover_rate and adj_factor. Used by the
// grouped-daily path after mutating rows in memory.
func (s *Store) BulkUpdatePrices(ctx context.Context, records []*domain.DailyPrice) error {
	if len(records) == 0 {
		return nil
	}

	return s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO daily_prices
				(security_id, date, open, high, low, close, volume, turnover, vwap, turnover_rate, adj_factor)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (security_id, date) DO UPDATE SET
				open          = excluded.open,
				high          = excluded.high,
				low           = excluded.low,
				close         = excluded.close,
				volume        = excluded.volume,
				turnover      = excluded.turnover,
				vwap          = excluded.vwap,
				turnover_rate = excluded.turnover_rate,
				adj_factor    = excluded.adj_factor`)
		if err != nil {
			return fmt.Errorf("failed to prepare bulk price update: %w", err)
		}
		defer stmt.Close()

		for _, rec := range records {
			_, err := stmt.ExecContext(ctx,
				rec.SecurityID, rec.Date.String(),
				rec.Open.String(), rec.High.String(), rec.Low.String(), rec.Close.String(),
				rec.Volume,
				nullableDecimal(rec.Turnover),
				nullableDecimal(rec.VWAP),
				nullableDecimal(rec.TurnoverRate),
				rec.AdjFactor.String(),
			)
			if err != nil {
				return fmt.Errorf("failed to bulk update price %d/%s: %w", rec.SecurityID, rec.Date, err)
			}
		}
		return nil
	})
}

// LoadPricesForDate loads every daily_prices row with the given date, keyed
// by security id. An empty map means no vendor wrote this date yet.
func (s *Store) LoadPricesForDate(ctx context.Context, date domain.Date) (map[int64]*domain.DailyPrice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT security_id, date, open, high, low, close, volume,
		       turnover, vwap, turnover_rate, adj_factor
		FROM daily_prices WHERE date = ?`, date.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query prices for %s: %w", date, err)
	}
	defer rows.Close()

	out := make(map[int64]*domain.DailyPrice)
	for rows.Next() {
		rec, err := scanDailyPrice(rows)
		if err != nil {
			return nil, err
		}
		out[rec.SecurityID] = rec
	}
	return out, rows.Err()
}

// GetDailyPrice loads a single row, or nil when absent.
func (s *Store) GetDailyPrice(ctx context.Context, securityID int64, date domain.Date) (*domain.DailyPrice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT security_id, date, open, high, low, close, volume,
		       turnover, vwap, turnover_rate, adj_factor
		FROM daily_prices WHERE security_id = ? AND date = ?`, securityID, date.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query price %d/%s: %w", securityID, date, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanDailyPrice(rows)
}

// CalibratePriceStamps recomputes price_data_latest_date for every security
// from the actual MAX(date) of its stored bars. Returns the number of rows
// whose stamp changed. Used to repair stamps after manual imports.
func (s *Store) CalibratePriceStamps(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE securities SET price_data_latest_date = (
			SELECT MAX(date) FROM daily_prices WHERE daily_prices.security_id = securities.id
		)
		WHERE EXISTS (SELECT 1 FROM daily_prices WHERE daily_prices.security_id = securities.id)
		  AND (price_data_latest_date IS NULL OR price_data_latest_date <> (
			SELECT MAX(date) FROM daily_prices WHERE daily_prices.security_id = securities.id
		))`)
	if err != nil {
		return 0, fmt.Errorf("failed to calibrate price stamps: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected, nil
}

func scanDailyPrice(rows *sql.Rows) (*domain.DailyPrice, error) {
	var rec domain.DailyPrice
	var open, high, low, closePx, adjFactor string
	var turnover, vwap, turnoverRate sql.NullString

	err := rows.Scan(&rec.SecurityID, &rec.Date, &open, &high, &low, &closePx,
		&rec.Volume, &turnover, &vwap, &turnoverRate, &adjFactor)
	if err != nil {
		return nil, fmt.Errorf("failed to scan daily price: %w", err)
	}

	if rec.Open, err = parseDecimal(open); err != nil {
		return nil, fmt.Errorf("bad open on %d/%s: %w", rec.SecurityID, rec.Date, err)
	}
	if rec.High, err = parseDecimal(high); err != nil {
		return nil, fmt.Errorf("bad high on %d/%s: %w", rec.SecurityID, rec.Date, err)
	}
	if rec.Low, err = parseDecimal(low); err != nil {
		return nil, fmt.Errorf("bad low on %d/%s: %w", rec.SecurityID, rec.Date, err)
	}
	if rec.Close, err = parseDecimal(closePx); err != nil {
		return nil, fmt.Errorf("bad close on %d/%s: %w", rec.SecurityID, rec.Date, err)
	}
	if rec.AdjFactor, err = parseDecimal(adjFactor); err != nil {
		return nil, fmt.Errorf("bad adj_factor on %d/%s: %w", rec.SecurityID, rec.Date, err)
	}
	if rec.Turnover, err = parseOptionalDecimal(turnover); err != nil {
		return nil, fmt.Errorf("bad turnover on %d/%s: %w", rec.SecurityID, rec.Date, err)
	}
	if rec.VWAP, err = parseOptionalDecimal(vwap); err != nil {
		return nil, fmt.Errorf("bad vwap on %d/%s: %w", rec.SecurityID, rec.Date, err)
	}
	if rec.TurnoverRate, err = parseOptionalDecimal(turnoverRate); err != nil {
		return nil, fmt.Errorf("bad turnover_rate on %d/%s: %w", rec.SecurityID, rec.Date, err)
	}

	return &rec, nil
}
