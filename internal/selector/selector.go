// Package selector computes per-command working sets. Each selection is a
// single query against the securities table; freshness comparisons rely on
// the canonical TEXT date and timestamp formats, whose lexicographic order
// is chronological.
package selector

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marketsync/internal/domain"
	"github.com/aristath/marketsync/internal/store"
)

// Staleness thresholds for the periodic refresh commands.
const (
	detailsMaxAge = 30 * 24 * time.Hour
	actionsMaxAge = 90 * 24 * time.Hour
	pricesMaxLag  = 2 // days behind today before a security is re-elected
)

// Selector elects securities for refresh work.
type Selector struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// New creates a Selector on top of an open database handle.
func New(db *sql.DB, log zerolog.Logger) *Selector {
	return &Selector{
		db:  db,
		log: log.With().Str("component", "selector").Logger(),
		now: time.Now,
	}
}

// DueForDetails elects active securities whose reference details are stale.
// Never-updated rows sort first. An empty market means all markets; limit <= 0
// means no limit.
func (s *Selector) DueForDetails(ctx context.Context, market string, limit int) ([]domain.Security, error) {
	cutoff := s.now().Add(-detailsMaxAge).UTC().Format(time.RFC3339)
	query := `SELECT ` + store.SecurityColumns + `
		FROM securities
		WHERE is_active = 1
		  AND (info_last_updated_at IS NULL OR info_last_updated_at < ?)`
	args := []any{cutoff}
	if market != "" {
		query += ` AND market = ?`
		args = append(args, market)
	}
	query += `
		ORDER BY info_last_updated_at ASC NULLS FIRST` + limitClause(limit)
	return s.query(ctx, query, args...)
}

// DueForActions elects active securities whose corporate actions are stale.
func (s *Selector) DueForActions(ctx context.Context, market string, limit int) ([]domain.Security, error) {
	cutoff := s.now().Add(-actionsMaxAge).UTC().Format(time.RFC3339)
	query := `SELECT ` + store.SecurityColumns + `
		FROM securities
		WHERE is_active = 1
		  AND (actions_last_updated_at IS NULL OR actions_last_updated_at < ?)`
	args := []any{cutoff}
	if market != "" {
		query += ` AND market = ?`
		args = append(args, market)
	}
	query += `
		ORDER BY actions_last_updated_at ASC NULLS FIRST` + limitClause(limit)
	return s.query(ctx, query, args...)
}

// DueForPrices elects active securities in market whose stored price history
// lags more than two days behind today. requireEmCode restricts the set to
// rows the bulk-history vendor can serve.
func (s *Selector) DueForPrices(ctx context.Context, market string, requireEmCode bool, limit int) ([]domain.Security, error) {
	cutoff := domain.DateOf(s.now()).AddDays(-pricesMaxLag)
	query := `SELECT ` + store.SecurityColumns + `
		FROM securities
		WHERE is_active = 1
		  AND market = ?
		  AND (price_data_latest_date IS NULL OR price_data_latest_date < ?)`
	if requireEmCode {
		query += `
		  AND em_code IS NOT NULL`
	}
	query += `
		ORDER BY price_data_latest_date ASC NULLS FIRST` + limitClause(limit)
	return s.query(ctx, query, market, cutoff.String())
}

// DueForFullRefresh elects active securities whose last full history load is
// older than their own jittered interval. The per-row interval spreads the
// expensive refreshes across the calendar.
func (s *Selector) DueForFullRefresh(ctx context.Context, market string, requireEmCode bool, limit int) ([]domain.Security, error) {
	now := s.now().UTC().Format(time.RFC3339)
	query := `SELECT ` + store.SecurityColumns + `
		FROM securities
		WHERE is_active = 1
		  AND market = ?
		  AND (full_data_last_updated_at IS NULL
		       OR datetime(full_data_last_updated_at, '+' || full_refresh_interval || ' days') < datetime(?))`
	if requireEmCode {
		query += `
		  AND em_code IS NOT NULL`
	}
	query += `
		ORDER BY full_data_last_updated_at ASC NULLS FIRST` + limitClause(limit)
	return s.query(ctx, query, market, now)
}

// AllActive elects every active security regardless of freshness, used by
// forced refreshes. An empty market means all markets.
func (s *Selector) AllActive(ctx context.Context, market string, limit int) ([]domain.Security, error) {
	query := `SELECT ` + store.SecurityColumns + `
		FROM securities
		WHERE is_active = 1`
	args := []any{}
	if market != "" {
		query += ` AND market = ?`
		args = append(args, market)
	}
	query += `
		ORDER BY symbol ASC` + limitClause(limit)
	return s.query(ctx, query, args...)
}

// BySymbols resolves explicit user-provided symbols, bypassing all freshness
// predicates. Inactive rows are still excluded; unknown symbols are dropped
// with a warning.
func (s *Selector) BySymbols(ctx context.Context, symbols []string, market string) ([]domain.Security, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(symbols)+1)
	for _, sym := range symbols {
		args = append(args, domain.NormalizeSymbol(sym))
	}
	query := `SELECT ` + store.SecurityColumns + `
		FROM securities
		WHERE is_active = 1 AND symbol IN (` + placeholders(len(symbols)) + `)`
	if market != "" {
		query += ` AND market = ?`
		args = append(args, market)
	}

	found, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	if len(found) < len(symbols) {
		matched := make(map[string]bool, len(found))
		for _, sec := range found {
			matched[sec.Symbol] = true
		}
		for _, sym := range symbols {
			if !matched[domain.NormalizeSymbol(sym)] {
				s.log.Warn().Str("symbol", sym).Msg("symbol not found or inactive, skipping")
			}
		}
	}

	return found, nil
}

func (s *Selector) query(ctx context.Context, query string, args ...any) ([]domain.Security, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.Security
	for rows.Next() {
		sec, err := store.ScanSecurity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		out = append(out, *sec)
	}
	return out, rows.Err()
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

func placeholders(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ", "
		}
		out += "?"
	}
	return out
}
