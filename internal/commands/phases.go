package commands

import (
	"context"
	"fmt"

	"github.com/aristath/marketsync/internal/domain"
	"github.com/aristath/marketsync/internal/orchestrator"
	"github.com/aristath/marketsync/internal/tasks"
)

// phaseOpts are the selection knobs shared by the refresh phases.
type phaseOpts struct {
	symbols []string // explicit symbols bypass freshness selection
	market  string
	limit   int
	force   bool // ignore freshness, take every active security
	workers int
}

// refreshCandidates resolves the working set for a details or actions phase.
func (a *App) refreshCandidates(ctx context.Context, opts phaseOpts, due func(context.Context, string, int) ([]domain.Security, error)) ([]domain.Security, error) {
	switch {
	case len(opts.symbols) > 0:
		return a.Selector.BySymbols(ctx, opts.symbols, opts.market)
	case opts.force:
		return a.Selector.AllActive(ctx, opts.market, opts.limit)
	default:
		return due(ctx, opts.market, opts.limit)
	}
}

// runDetailsPhase refreshes stale reference details through the vendor.
func (a *App) runDetailsPhase(ctx context.Context, opts phaseOpts) (*orchestrator.Tally, error) {
	client, err := a.Polygon()
	if err != nil {
		return nil, err
	}

	candidates, err := a.refreshCandidates(ctx, opts, a.Selector.DueForDetails)
	if err != nil {
		return nil, err
	}

	task := &tasks.DetailsTask{Store: a.Store, Fetcher: client, Log: a.Log}
	items := make([]orchestrator.WorkItem, 0, len(candidates))
	for _, sec := range candidates {
		items = append(items, orchestrator.WorkItem{
			Name: sec.Symbol,
			Fn: func(ctx context.Context) (domain.Status, error) {
				return task.Run(ctx, sec)
			},
		})
	}

	return a.Orchestrator(opts.workers).Run(ctx, "details", items)
}

// runActionsPhase refreshes stale dividends and splits.
func (a *App) runActionsPhase(ctx context.Context, opts phaseOpts) (*orchestrator.Tally, error) {
	client, err := a.Polygon()
	if err != nil {
		return nil, err
	}

	candidates, err := a.refreshCandidates(ctx, opts, a.Selector.DueForActions)
	if err != nil {
		return nil, err
	}

	task := &tasks.ActionsTask{Store: a.Store, Dividends: client, Splits: client, Log: a.Log}
	items := make([]orchestrator.WorkItem, 0, len(candidates))
	for _, sec := range candidates {
		items = append(items, orchestrator.WorkItem{
			Name: sec.Symbol,
			Fn: func(ctx context.Context) (domain.Status, error) {
				return task.Run(ctx, sec)
			},
		})
	}

	return a.Orchestrator(opts.workers).Run(ctx, "actions", items)
}

// runEmPricesPhase loads incremental bars from the bulk-history vendor and
// folds in the securities due for their jittered full refresh. The bulk
// vendor is serial by design (politeness delay), but the pool still overlaps
// HTTP waits with database writes.
func (a *App) runEmPricesPhase(ctx context.Context, opts phaseOpts, fullRefresh bool) (*orchestrator.Tally, error) {
	client := a.Eastmoney()

	var incremental, full []domain.Security
	var err error
	if len(opts.symbols) > 0 {
		incremental, err = a.Selector.BySymbols(ctx, opts.symbols, opts.market)
		if err != nil {
			return nil, err
		}
		if fullRefresh {
			incremental, full = nil, incremental
		}
	} else {
		incremental, err = a.Selector.DueForPrices(ctx, opts.market, true, opts.limit)
		if err != nil {
			return nil, err
		}
		full, err = a.Selector.DueForFullRefresh(ctx, opts.market, true, opts.limit)
		if err != nil {
			return nil, err
		}
	}

	// A security elected for full refresh must not also run incrementally.
	fullIDs := make(map[int64]bool, len(full))
	for _, sec := range full {
		fullIDs[sec.ID] = true
	}

	incTask := &tasks.PriceIncrementTask{Store: a.Store, Source: client, Log: a.Log, UseEmCode: true}
	fullTask := &tasks.PriceIncrementTask{Store: a.Store, Source: client, Log: a.Log, UseEmCode: true, FullRefresh: true}

	var items []orchestrator.WorkItem
	for _, sec := range incremental {
		if fullIDs[sec.ID] {
			continue
		}
		items = append(items, orchestrator.WorkItem{
			Name: sec.Symbol,
			Fn: func(ctx context.Context) (domain.Status, error) {
				return incTask.Run(ctx, sec)
			},
		})
	}
	for _, sec := range full {
		items = append(items, orchestrator.WorkItem{
			Name: sec.Symbol + " (full)",
			Fn: func(ctx context.Context) (domain.Status, error) {
				return fullTask.Run(ctx, sec)
			},
		})
	}

	return a.Orchestrator(opts.workers).Run(ctx, "em-prices", items)
}

// runRepricePhase reconciles the given dates against the authoritative
// vendor's grouped daily bars.
func (a *App) runRepricePhase(ctx context.Context, dates []domain.Date, market string, workers int) (*orchestrator.Tally, error) {
	client, err := a.Polygon()
	if err != nil {
		return nil, err
	}

	// Warn when the market is trading: the vendor's numbers for today are
	// still moving. The dates handed in are normally in the past, so this
	// is informational.
	if open, err := client.IsMarketOpen(ctx); err != nil {
		a.Log.Warn().Err(err).Msg("could not determine market status")
	} else if open {
		a.Log.Warn().Msg("market is currently open, grouped data for today would be partial")
	}

	symbolIDs, err := a.Store.SymbolIDMap(ctx, market)
	if err != nil {
		return nil, err
	}

	task := &tasks.GroupedDailyTask{Store: a.Store, Fetcher: client, Log: a.Log, SymbolIDs: symbolIDs}
	items := make([]orchestrator.WorkItem, 0, len(dates))
	for _, date := range dates {
		items = append(items, orchestrator.WorkItem{
			Name: date.String(),
			Fn: func(ctx context.Context) (domain.Status, error) {
				return task.Run(ctx, date)
			},
		})
	}

	return a.Orchestrator(workers).Run(ctx, "reprice", items)
}

// repriceDates resolves the last n trading days on or before the given
// anchor, newest first.
func (a *App) repriceDates(ctx context.Context, market string, anchor domain.Date, n int) ([]domain.Date, error) {
	dates := make([]domain.Date, 0, n)
	d := anchor
	for i := 0; i < n; i++ {
		trading, err := a.Calendar.LastTradingDayOnOrBefore(ctx, market, d)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve trading day near %s: %w", d, err)
		}
		dates = append(dates, trading)
		d = trading.AddDays(-1)
	}
	return dates, nil
}
