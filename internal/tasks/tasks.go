// Package tasks implements the per-security units of work the orchestrator
// dispatches: reference details refresh, corporate actions refresh,
// incremental price loading and whole-market grouped repricing. A task
// returns a status for the run tally plus the error behind ERROR statuses;
// failures never cross the per-security boundary.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marketsync/internal/clients"
	"github.com/aristath/marketsync/internal/domain"
	"github.com/aristath/marketsync/internal/store"
)

// DetailsTask refreshes one security's reference details.
type DetailsTask struct {
	Store   *store.Store
	Fetcher clients.SecurityInfoFetcher
	Log     zerolog.Logger
}

// Run fetches details for sec and applies them as a partial update. A
// vendor "not found" deactivates the security instead of erroring, so the
// selector stops re-electing a delisted symbol every day.
func (t *DetailsTask) Run(ctx context.Context, sec domain.Security) (domain.Status, error) {
	patch, err := t.Fetcher.FetchSecurityInfo(ctx, sec.Symbol)
	if errors.Is(err, clients.ErrNotFound) {
		t.Log.Info().Str("symbol", sec.Symbol).Msg("vendor does not know symbol, deactivating")
		if err := t.Store.UpdateSecurity(ctx, sec.ID, domain.SecurityPatch{domain.ColIsActive: false}); err != nil {
			return domain.StatusError, fmt.Errorf("failed to deactivate %s: %w", sec.Symbol, err)
		}
		return domain.StatusSuccessNoData, nil
	}
	if err != nil {
		return domain.StatusError, fmt.Errorf("failed to fetch details for %s: %w", sec.Symbol, err)
	}

	if err := t.Store.UpdateSecurity(ctx, sec.ID, patch); err != nil {
		return domain.StatusError, fmt.Errorf("failed to persist details for %s: %w", sec.Symbol, err)
	}
	return domain.StatusSuccess, nil
}

// ActionsTask refreshes one security's dividends and splits.
type ActionsTask struct {
	Store     *store.Store
	Dividends clients.DividendsFetcher
	Splits    clients.SplitsFetcher
	Log       zerolog.Logger
}

// Run fetches and persists corporate actions for sec. The actions stamp is
// always advanced on success, even when the vendor returned nothing, so the
// freshness predicate moves on.
func (t *ActionsTask) Run(ctx context.Context, sec domain.Security) (domain.Status, error) {
	dividends, err := t.Dividends.FetchDividends(ctx, sec.Symbol)
	if err != nil {
		return domain.StatusError, fmt.Errorf("failed to fetch dividends for %s: %w", sec.Symbol, err)
	}
	splits, err := t.Splits.FetchSplits(ctx, sec.Symbol)
	if err != nil {
		return domain.StatusError, fmt.Errorf("failed to fetch splits for %s: %w", sec.Symbol, err)
	}

	// Some vendors omit the dividend currency; the security's own currency
	// is the best available guess.
	if sec.Currency != "" {
		for i := range dividends {
			if dividends[i].Currency == "" {
				dividends[i].Currency = sec.Currency
			}
		}
	}

	if err := t.Store.UpsertDividends(ctx, sec.ID, dividends); err != nil {
		return domain.StatusError, fmt.Errorf("failed to persist dividends for %s: %w", sec.Symbol, err)
	}
	if err := t.Store.UpsertSplits(ctx, sec.ID, splits); err != nil {
		return domain.StatusError, fmt.Errorf("failed to persist splits for %s: %w", sec.Symbol, err)
	}

	if err := t.Store.SetStamp(ctx, sec.ID, "actions_last_updated_at", nil); err != nil {
		return domain.StatusError, fmt.Errorf("failed to stamp actions for %s: %w", sec.Symbol, err)
	}

	if len(dividends) == 0 && len(splits) == 0 {
		return domain.StatusSuccessNoData, nil
	}
	return domain.StatusSuccess, nil
}

// PriceHistorySource is a HistoricalPricesFetcher that also knows its own
// history floor, used as the start of full-refresh fetches.
type PriceHistorySource interface {
	clients.HistoricalPricesFetcher
	EarliestSupportedDate() domain.Date
}

// PriceIncrementTask loads daily bars for one security from where its
// stored history ends up to today.
type PriceIncrementTask struct {
	Store  *store.Store
	Source PriceHistorySource
	Log    zerolog.Logger

	// FullRefresh forces a reload from the vendor's history floor.
	FullRefresh bool
	// UseEmCode fetches by the vendor's own security code instead of the
	// canonical symbol.
	UseEmCode bool

	// Injectable clock for tests; nil means time.Now.
	Now func() time.Time
}

func (t *PriceIncrementTask) today() domain.Date {
	if t.Now != nil {
		return domain.DateOf(t.Now())
	}
	return domain.Today()
}

// Run fetches [start, today] and persists the bars. Unless a full refresh
// was explicitly requested, an empty fetch still advances
// price_data_latest_date to yesterday so the selector does not re-elect the
// security on the next run.
func (t *PriceIncrementTask) Run(ctx context.Context, sec domain.Security) (domain.Status, error) {
	identifier := sec.Symbol
	if t.UseEmCode {
		if sec.EmCode == "" {
			return domain.StatusSkipped, nil
		}
		identifier = sec.EmCode
	}

	today := t.today()

	var start domain.Date
	isFullRun := false
	if t.FullRefresh || sec.PriceDataLatestDate == nil {
		start = t.Source.EarliestSupportedDate()
		isFullRun = true
	} else {
		start = sec.PriceDataLatestDate.AddDays(1)
		if start.After(today) {
			return domain.StatusSuccessUpToDate, nil
		}
	}

	bars, err := t.Source.FetchHistoricalPrices(ctx, identifier, start, today)
	if err != nil {
		return domain.StatusError, fmt.Errorf("failed to fetch prices for %s: %w", identifier, err)
	}

	if len(bars) == 0 {
		// Unless a full refresh was explicitly requested, move the stamp to
		// yesterday so tomorrow's selection starts from there. This covers
		// never-loaded symbols the vendor has nothing for, which would
		// otherwise be re-elected every run.
		if !t.FullRefresh {
			yesterday := today.AddDays(-1)
			if err := t.Store.SetStamp(ctx, sec.ID, "price_data_latest_date", yesterday); err != nil {
				return domain.StatusError, fmt.Errorf("failed to advance price stamp for %s: %w", sec.Symbol, err)
			}
		}
		if isFullRun {
			return domain.StatusSuccessNoData, nil
		}
		return domain.StatusSuccessNoNewData, nil
	}

	if err := t.Store.UpsertDailyPrices(ctx, sec.ID, bars); err != nil {
		return domain.StatusError, fmt.Errorf("failed to persist prices for %s: %w", sec.Symbol, err)
	}

	latest := bars[0].Date
	for _, bar := range bars[1:] {
		if bar.Date.After(latest) {
			latest = bar.Date
		}
	}
	if err := t.Store.SetStamp(ctx, sec.ID, "price_data_latest_date", latest); err != nil {
		return domain.StatusError, fmt.Errorf("failed to set price stamp for %s: %w", sec.Symbol, err)
	}
	if isFullRun {
		if err := t.Store.SetStamp(ctx, sec.ID, "full_data_last_updated_at", nil); err != nil {
			return domain.StatusError, fmt.Errorf("failed to set full-data stamp for %s: %w", sec.Symbol, err)
		}
	}

	t.Log.Debug().Str("symbol", sec.Symbol).Int("bars", len(bars)).Str("latest", latest.String()).Msg("prices updated")
	return domain.StatusSuccess, nil
}

// GroupedDailyTask reconciles one calendar date's rows against a grouped
// daily payload from a more authoritative vendor. Rows first written by a
// cheaper vendor get their OHLCV, vwap and turnover corrected while the
// fields only the cheaper vendor supplies (turnover_rate, adj_factor) are
// left alone.
type GroupedDailyTask struct {
	Store   *store.Store
	Fetcher clients.GroupedDailyFetcher
	Log     zerolog.Logger

	// SymbolIDs maps canonical symbols to securities ids. Built once before
	// dispatch; read-only afterwards.
	SymbolIDs map[string]int64
}

// Run reprices every stored row for date that the vendor also covers.
func (t *GroupedDailyTask) Run(ctx context.Context, date domain.Date) (domain.Status, error) {
	existing, err := t.Store.LoadPricesForDate(ctx, date)
	if err != nil {
		return domain.StatusError, fmt.Errorf("failed to load prices for %s: %w", date, err)
	}
	if len(existing) == 0 {
		t.Log.Info().Str("date", date.String()).Msg("no stored rows for date, skipping reprice")
		return domain.StatusSkipped, nil
	}

	bars, err := t.Fetcher.FetchGroupedDaily(ctx, date)
	if err != nil {
		return domain.StatusError, fmt.Errorf("failed to fetch grouped daily for %s: %w", date, err)
	}
	if len(bars) == 0 {
		return domain.StatusSuccessNoData, nil
	}

	mutated := make([]*domain.DailyPrice, 0, len(existing))
	for _, bar := range bars {
		id, ok := t.SymbolIDs[bar.Symbol]
		if !ok {
			continue
		}
		rec, ok := existing[id]
		if !ok {
			continue
		}
		rec.ApplyBar(bar.PriceBar)
		mutated = append(mutated, rec)
	}

	if len(mutated) == 0 {
		return domain.StatusSuccessNoNewData, nil
	}
	if err := t.Store.BulkUpdatePrices(ctx, mutated); err != nil {
		return domain.StatusError, fmt.Errorf("failed to persist reprice for %s: %w", date, err)
	}

	t.Log.Info().Str("date", date.String()).Int("rows", len(mutated)).Msg("grouped reprice applied")
	return domain.StatusSuccess, nil
}
