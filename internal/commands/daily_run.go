package commands

import (
	"context"
	"flag"

	"github.com/google/subcommands"

	"github.com/aristath/marketsync/internal/domain"
	"github.com/aristath/marketsync/internal/orchestrator"
)

type dailyRunCmd struct {
	app *App

	market      string
	limit       int
	workers     int
	skipDetails bool
	skipActions bool
	skipPrices  bool
	skipReprice bool
}

func (*dailyRunCmd) Name() string { return "daily-run" }
func (*dailyRunCmd) Synopsis() string {
	return "run the full daily pipeline: details, actions, prices, reprice"
}
func (*dailyRunCmd) Usage() string {
	return `daily-run [-market US] [-limit N] [-workers N] [-skip-details] [-skip-actions] [-skip-prices] [-skip-reprice]

  Executes the daily ingestion pipeline in order: reference details refresh,
  corporate actions refresh, incremental price loading from the bulk vendor,
  then grouped-daily reconciliation of the last two trading days against the
  authoritative vendor. Each phase selects its own candidates and drains
  before the next begins.
`
}

func (c *dailyRunCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.market, "market", "", "restrict selection to one market (default from config)")
	f.IntVar(&c.limit, "limit", 0, "maximum candidates per phase (0 = no limit)")
	f.IntVar(&c.workers, "workers", 0, "worker pool size (0 = configured default)")
	f.BoolVar(&c.skipDetails, "skip-details", false, "skip the details phase")
	f.BoolVar(&c.skipActions, "skip-actions", false, "skip the actions phase")
	f.BoolVar(&c.skipPrices, "skip-prices", false, "skip the price loading phase")
	f.BoolVar(&c.skipReprice, "skip-reprice", false, "skip the grouped reconciliation phase")
}

func (c *dailyRunCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	market := c.market
	if market == "" {
		market = c.app.Config.DailyRunMarkets
	}
	opts := phaseOpts{market: market, limit: c.limit, workers: c.workers}

	failed := false
	run := func(name string, skip bool, fn func(context.Context) (*orchestrator.Tally, error)) bool {
		if skip {
			c.app.Log.Info().Str("phase", name).Msg("phase skipped")
			return true
		}
		tally, err := fn(ctx)
		if err != nil {
			c.app.Log.Error().Err(err).Str("phase", name).Msg("phase aborted")
			failed = true
			return false
		}
		// Per-security errors do not fail the run; they are already in the
		// tally summary and the affected rows re-elect next time.
		if tally.Errors() > 0 {
			c.app.Log.Warn().Str("phase", name).Int("errors", tally.Errors()).Msg("phase finished with per-security errors")
		}
		return ctx.Err() == nil
	}

	ok := run("details", c.skipDetails, func(ctx context.Context) (*orchestrator.Tally, error) {
		return c.app.runDetailsPhase(ctx, opts)
	})
	ok = ok && run("actions", c.skipActions, func(ctx context.Context) (*orchestrator.Tally, error) {
		return c.app.runActionsPhase(ctx, opts)
	})
	ok = ok && run("em-prices", c.skipPrices, func(ctx context.Context) (*orchestrator.Tally, error) {
		return c.app.runEmPricesPhase(ctx, opts, false)
	})
	ok = ok && run("reprice", c.skipReprice, func(ctx context.Context) (*orchestrator.Tally, error) {
		dates, err := c.app.repriceDates(ctx, market, domain.Today().AddDays(-1), 2)
		if err != nil {
			return nil, err
		}
		return c.app.runRepricePhase(ctx, dates, market, c.workers)
	})

	if !ok || failed {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
