package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/aristath/marketsync/internal/domain"
)

// ErrSecurityNotFound indicates an update targeted a row that does not exist.
var ErrSecurityNotFound = errors.New("security not found")

// patchColumns is the allow-list of securities columns writable through a
// SecurityPatch. Every patch key is validated against this set before any
// SQL is assembled, which also guards the column names against injection.
// The identity columns (id, symbol, em_code) are deliberately absent.
var patchColumns = map[string]bool{
	domain.ColName:           true,
	domain.ColMarket:         true,
	domain.ColType:           true,
	domain.ColExchange:       true,
	domain.ColCurrency:       true,
	domain.ColCIK:            true,
	domain.ColCompositeFIGI:  true,
	domain.ColShareClassFIGI: true,
	domain.ColMarketCap:      true,
	domain.ColSector:         true,
	domain.ColIndustry:       true,
	domain.ColDescription:    true,
	domain.ColHomepageURL:    true,
	domain.ColTotalEmployees: true,
	domain.ColSICCode:        true,
	domain.ColAddressLine1:   true,
	domain.ColCity:           true,
	domain.ColState:          true,
	domain.ColPostalCode:     true,
	domain.ColLogoURL:        true,
	domain.ColIconURL:        true,
	domain.ColIsActive:       true,
	domain.ColListDate:       true,
	domain.ColDelistDate:     true,
}

// validatePatch rejects any patch key outside the allow-list.
func validatePatch(patch domain.SecurityPatch) error {
	for col := range patch {
		if !patchColumns[col] {
			return fmt.Errorf("column %q is not updatable", col)
		}
	}
	return nil
}

// UpdateSecurity applies a partial record to an existing row. Only the
// columns present in patch are written; a nil value writes NULL. The
// identity columns can never be changed through this path. The row's
// info_last_updated_at is always advanced.
func (s *Store) UpdateSecurity(ctx context.Context, id int64, patch domain.SecurityPatch) error {
	if err := validatePatch(patch); err != nil {
		return err
	}

	setClauses := make([]string, 0, len(patch)+1)
	args := make([]any, 0, len(patch)+2)
	for col, val := range patch {
		setClauses = append(setClauses, col+" = ?")
		args = append(args, sqlValue(val))
	}
	setClauses = append(setClauses, "info_last_updated_at = ?")
	args = append(args, s.timestamp())
	args = append(args, id)

	query := "UPDATE securities SET " + strings.Join(setClauses, ", ") + " WHERE id = ?"
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update security %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("security %d: %w", id, ErrSecurityNotFound)
	}

	return nil
}

// InsertSecurity creates a new row for the given symbol/market/type tuple,
// applying patch on top of the defaults. The row receives a fresh
// full_refresh_interval drawn uniformly from the jitter range. If the tuple
// already exists the existing row is patched instead; either way the row id
// is returned.
func (s *Store) InsertSecurity(ctx context.Context, symbol, emCode, market, typ string, patch domain.SecurityPatch) (int64, error) {
	if err := validatePatch(patch); err != nil {
		return 0, err
	}
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" {
		return 0, fmt.Errorf("symbol is required")
	}

	existing, err := s.GetSecurityByNaturalKey(ctx, symbol, market, typ)
	if err != nil && !errors.Is(err, ErrSecurityNotFound) {
		return 0, err
	}
	if existing != nil {
		if len(patch) > 0 {
			if err := s.UpdateSecurity(ctx, existing.ID, patch); err != nil {
				return 0, err
			}
		}
		return existing.ID, nil
	}

	cols := []string{"symbol", "market", "type", "info_last_updated_at", "full_refresh_interval"}
	args := []any{symbol, market, typ, s.timestamp(), s.randInterval()}
	if emCode != "" {
		cols = append(cols, "em_code")
		args = append(args, emCode)
	}
	for col, val := range patch {
		// The natural key wins over patch duplicates.
		if col == domain.ColMarket || col == domain.ColType {
			continue
		}
		cols = append(cols, col)
		args = append(args, sqlValue(val))
	}

	query := fmt.Sprintf("INSERT INTO securities (%s) VALUES (%s)",
		strings.Join(cols, ", "), placeholders(len(cols)))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert security %s: %w", symbol, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted id: %w", err)
	}

	s.log.Debug().Int64("id", id).Str("symbol", symbol).Str("market", market).Msg("security inserted")
	return id, nil
}

// SecurityColumns is the canonical select list for securities rows, shared
// with the candidate selector.
const SecurityColumns = `id, symbol, em_code, name, market, type, exchange, currency,
	cik, composite_figi, share_class_figi, market_cap, sector, industry,
	description, homepage_url, total_employees, sic_code, address_line1,
	city, state, postal_code, logo_url, icon_url, is_active, list_date,
	delist_date, info_last_updated_at, price_data_latest_date,
	full_data_last_updated_at, actions_last_updated_at, full_refresh_interval`

// GetSecurityByID loads one row by surrogate key.
func (s *Store) GetSecurityByID(ctx context.Context, id int64) (*domain.Security, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+SecurityColumns+" FROM securities WHERE id = ?", id)
	sec, err := ScanSecurity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("security %d: %w", id, ErrSecurityNotFound)
	}
	return sec, err
}

// GetSecurityByNaturalKey loads one row by its (symbol, market, type) tuple.
func (s *Store) GetSecurityByNaturalKey(ctx context.Context, symbol, market, typ string) (*domain.Security, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+SecurityColumns+" FROM securities WHERE symbol = ? AND market = ? AND type = ?",
		domain.NormalizeSymbol(symbol), market, typ)
	sec, err := ScanSecurity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("security %s/%s/%s: %w", symbol, market, typ, ErrSecurityNotFound)
	}
	return sec, err
}

// SymbolIDMap builds the symbol to row-id lookup the grouped-daily path
// uses. Only active rows in the given market participate.
func (s *Store) SymbolIDMap(ctx context.Context, market string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT symbol, id FROM securities WHERE is_active = 1 AND market = ?", market)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbol map: %w", err)
	}
	defer rows.Close()

	m := make(map[string]int64)
	for rows.Next() {
		var symbol string
		var id int64
		if err := rows.Scan(&symbol, &id); err != nil {
			return nil, fmt.Errorf("failed to scan symbol map row: %w", err)
		}
		m[symbol] = id
	}
	return m, rows.Err()
}

// stampColumns is the allow-list for SetStamp. The field name is interpolated
// into SQL, so membership here is a hard requirement.
var stampColumns = map[string]bool{
	"info_last_updated_at":      true,
	"actions_last_updated_at":   true,
	"price_data_latest_date":    true,
	"full_data_last_updated_at": true,
}

// SetStamp writes one freshness column on one row. value may be a time.Time,
// a domain.Date or nil; a nil value means "now" for timestamp columns.
func (s *Store) SetStamp(ctx context.Context, securityID int64, field string, value any) error {
	if !stampColumns[field] {
		return fmt.Errorf("field %q is not a stamp column", field)
	}

	arg := sqlValue(value)
	if arg == nil {
		arg = s.timestamp()
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE securities SET "+field+" = ? WHERE id = ?", arg, securityID)
	if err != nil {
		return fmt.Errorf("failed to set %s on security %d: %w", field, securityID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("security %d: %w", securityID, ErrSecurityNotFound)
	}
	return nil
}

// RowScanner abstracts sql.Row and sql.Rows for ScanSecurity.
type RowScanner interface {
	Scan(dest ...any) error
}

// ScanSecurity decodes one row selected with SecurityColumns.
func ScanSecurity(row RowScanner) (*domain.Security, error) {
	var sec domain.Security
	var emCode, name, exchange, currency, cik, compFIGI, shareFIGI sql.NullString
	var marketCap sql.NullString
	var sector, industry, description, homepage, sicCode sql.NullString
	var addr1, city, state, postal, logoURL, iconURL sql.NullString
	var totalEmployees sql.NullInt64
	var isActive int
	var listDate, delistDate, priceLatest domain.Date
	var infoAt, fullAt, actionsAt sql.NullString

	err := row.Scan(
		&sec.ID, &sec.Symbol, &emCode, &name, &sec.Market, &sec.Type,
		&exchange, &currency, &cik, &compFIGI, &shareFIGI, &marketCap,
		&sector, &industry, &description, &homepage, &totalEmployees,
		&sicCode, &addr1, &city, &state, &postal, &logoURL, &iconURL,
		&isActive, &listDate, &delistDate, &infoAt, &priceLatest,
		&fullAt, &actionsAt, &sec.FullRefreshInterval,
	)
	if err != nil {
		return nil, err
	}

	sec.EmCode = emCode.String
	sec.Name = name.String
	sec.Exchange = exchange.String
	sec.Currency = currency.String
	sec.CIK = cik.String
	sec.CompositeFIGI = compFIGI.String
	sec.ShareClassFIGI = shareFIGI.String
	sec.Sector = sector.String
	sec.Industry = industry.String
	sec.Description = description.String
	sec.HomepageURL = homepage.String
	sec.SICCode = sicCode.String
	sec.AddressLine1 = addr1.String
	sec.City = city.String
	sec.State = state.String
	sec.PostalCode = postal.String
	sec.LogoURL = logoURL.String
	sec.IconURL = iconURL.String
	sec.IsActive = isActive != 0

	if marketCap.Valid {
		d, err := parseDecimal(marketCap.String)
		if err != nil {
			return nil, fmt.Errorf("bad market_cap on security %d: %w", sec.ID, err)
		}
		sec.MarketCap = &d
	}
	if totalEmployees.Valid {
		v := totalEmployees.Int64
		sec.TotalEmployees = &v
	}
	if !listDate.IsZero() {
		sec.ListDate = &listDate
	}
	if !delistDate.IsZero() {
		sec.DelistDate = &delistDate
	}
	if !priceLatest.IsZero() {
		sec.PriceDataLatestDate = &priceLatest
	}

	var parseErr error
	sec.InfoLastUpdatedAt, parseErr = parseTimestamp(infoAt)
	if parseErr != nil {
		return nil, fmt.Errorf("bad info_last_updated_at on security %d: %w", sec.ID, parseErr)
	}
	sec.FullDataLastUpdatedAt, parseErr = parseTimestamp(fullAt)
	if parseErr != nil {
		return nil, fmt.Errorf("bad full_data_last_updated_at on security %d: %w", sec.ID, parseErr)
	}
	sec.ActionsLastUpdatedAt, parseErr = parseTimestamp(actionsAt)
	if parseErr != nil {
		return nil, fmt.Errorf("bad actions_last_updated_at on security %d: %w", sec.ID, parseErr)
	}

	return &sec, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
