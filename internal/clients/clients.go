// Package clients defines the vendor-neutral fetch capabilities that market
// data providers implement. Callers program against these interfaces and
// select a vendor per capability; concrete clients live in subpackages.
package clients

import (
	"context"
	"errors"
	"fmt"

	"github.com/aristath/marketsync/internal/domain"
)

// ErrNotFound indicates the vendor has no record for the requested symbol.
// Callers treat this as "nothing to update", not a failure.
var ErrNotFound = errors.New("symbol not found")

// RateLimitedError reports an HTTP 429 from a vendor. Receiving one means
// the local rate limiter configuration disagrees with the vendor's actual
// budget, so it is surfaced as a distinct type for loud logging.
type RateLimitedError struct {
	Vendor string
	Key    string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("vendor %s rejected key %s with HTTP 429", e.Vendor, e.Key)
}

// SecurityInfoFetcher retrieves reference details for a single symbol.
type SecurityInfoFetcher interface {
	FetchSecurityInfo(ctx context.Context, symbol string) (domain.SecurityPatch, error)
}

// DividendsFetcher retrieves all known cash dividends for a symbol.
type DividendsFetcher interface {
	FetchDividends(ctx context.Context, symbol string) ([]domain.Dividend, error)
}

// SplitsFetcher retrieves all known stock splits for a symbol.
type SplitsFetcher interface {
	FetchSplits(ctx context.Context, symbol string) ([]domain.Split, error)
}

// HistoricalPricesFetcher retrieves daily bars for a symbol over an
// inclusive date range. An empty slice with a nil error means the vendor
// has no bars in the range.
type HistoricalPricesFetcher interface {
	FetchHistoricalPrices(ctx context.Context, symbol string, start, end domain.Date) ([]domain.PriceBar, error)
}

// GroupedDailyFetcher retrieves one bar per symbol for an entire market on
// a single trading day.
type GroupedDailyFetcher interface {
	FetchGroupedDaily(ctx context.Context, day domain.Date) ([]domain.GroupedBar, error)
}

// MarketStatusProvider reports whether the vendor's market is currently in
// a regular trading session.
type MarketStatusProvider interface {
	IsMarketOpen(ctx context.Context) (bool, error)
}
