package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/marketsync/internal/domain"
)

// UpsertDividends inserts a batch of dividends for one security. Duplicate
// (security_id, ex_dividend_date, cash_amount) tuples are silently skipped.
// Each row runs inside its own savepoint so a single bad record is logged
// with its payload and dropped without aborting the batch.
func (s *Store) UpsertDividends(ctx context.Context, securityID int64, dividends []domain.Dividend) error {
	if len(dividends) == 0 {
		return nil
	}

	return s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO stock_dividends
				(security_id, ex_dividend_date, declaration_date, record_date, pay_date,
				 cash_amount, currency, frequency)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (security_id, ex_dividend_date, cash_amount) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("failed to prepare dividend insert: %w", err)
		}
		defer stmt.Close()

		for i, div := range dividends {
			err := execInSavepoint(ctx, tx, fmt.Sprintf("div_%d", i), func() error {
				_, err := stmt.ExecContext(ctx,
					securityID,
					div.ExDividendDate.String(),
					sqlValue(div.DeclarationDate),
					sqlValue(div.RecordDate),
					sqlValue(div.PayDate),
					div.CashAmount.String(),
					nullIfEmpty(div.Currency),
					div.Frequency,
				)
				return err
			})
			if err != nil {
				s.log.Error().
					Err(err).
					Int64("security_id", securityID).
					Str("ex_dividend_date", div.ExDividendDate.String()).
					Str("cash_amount", div.CashAmount.String()).
					Msg("skipping dividend row that failed to insert")
			}
		}
		return nil
	})
}

// UpsertSplits inserts a batch of splits for one security. Duplicate
// (security_id, execution_date) tuples are silently skipped; bad rows are
// logged and dropped per-savepoint like dividends.
func (s *Store) UpsertSplits(ctx context.Context, securityID int64, splits []domain.Split) error {
	if len(splits) == 0 {
		return nil
	}

	return s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO stock_splits
				(security_id, execution_date, declaration_date, split_to, split_from)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (security_id, execution_date) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("failed to prepare split insert: %w", err)
		}
		defer stmt.Close()

		for i, split := range splits {
			err := execInSavepoint(ctx, tx, fmt.Sprintf("split_%d", i), func() error {
				_, err := stmt.ExecContext(ctx,
					securityID,
					split.ExecutionDate.String(),
					sqlValue(split.DeclarationDate),
					split.SplitTo.String(),
					split.SplitFrom.String(),
				)
				return err
			})
			if err != nil {
				s.log.Error().
					Err(err).
					Int64("security_id", securityID).
					Str("execution_date", split.ExecutionDate.String()).
					Msg("skipping split row that failed to insert")
			}
		}
		return nil
	})
}

// CountDividends returns the number of stored dividends for one security.
func (s *Store) CountDividends(ctx context.Context, securityID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM stock_dividends WHERE security_id = ?", securityID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count dividends: %w", err)
	}
	return n, nil
}

// CountSplits returns the number of stored splits for one security.
func (s *Store) CountSplits(ctx context.Context, securityID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM stock_splits WHERE security_id = ?", securityID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count splits: %w", err)
	}
	return n, nil
}

// execInSavepoint runs fn inside a named savepoint, rolling back to the
// savepoint on failure so the enclosing transaction survives.
func execInSavepoint(ctx context.Context, tx *sql.Tx, name string, fn func() error) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	if err := fn(); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("%w (savepoint rollback also failed: %v)", err, rbErr)
		}
		_, _ = tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
		return err
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
