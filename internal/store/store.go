// Package store is the persistence layer. All writes are transactional and
// idempotent; partial records follow the selective-field merge rule, under
// which a column absent from the incoming record is never written and a
// column present with a nil value is set to NULL.
package store

import (
	"database/sql"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/marketsync/internal/database"
	"github.com/aristath/marketsync/internal/domain"
)

// Bounds for the per-security full-refresh jitter, in days. Drawing each
// row's interval uniformly from this range spreads full-history refreshes
// across the calendar instead of stampeding on one day.
const (
	fullRefreshIntervalMin = 25
	fullRefreshIntervalMax = 40
)

// Store provides all database operations for the pipeline.
type Store struct {
	db  *sql.DB
	log zerolog.Logger

	// Injectable for deterministic tests.
	now          func() time.Time
	randInterval func() int
}

// New creates a Store on top of an open database handle.
func New(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("component", "store").Logger(),
		now: time.Now,
		randInterval: func() int {
			return fullRefreshIntervalMin + rand.Intn(fullRefreshIntervalMax-fullRefreshIntervalMin+1)
		},
	}
}

// timestamp renders the current instant in the canonical column format.
func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// sqlValue converts a domain value into a driver-friendly argument. Decimals
// and dates persist as their canonical strings, timestamps as RFC3339 UTC.
func sqlValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case decimal.Decimal:
		return x.String()
	case *decimal.Decimal:
		if x == nil {
			return nil
		}
		return x.String()
	case domain.Date:
		if x.IsZero() {
			return nil
		}
		return x.String()
	case *domain.Date:
		if x == nil || x.IsZero() {
			return nil
		}
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC().Format(time.RFC3339)
	case bool:
		if x {
			return 1
		}
		return 0
	default:
		return v
	}
}

// nullableDecimal renders an optional decimal for persistence.
func nullableDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// parseTimestamp decodes an optional RFC3339 column value.
func parseTimestamp(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseOptionalDecimal decodes an optional decimal column value.
func parseOptionalDecimal(v sql.NullString) (*decimal.Decimal, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// withTx runs fn inside a transaction with rollback on error or panic.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	return database.WithTransaction(s.db, fn)
}
