package commands

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/aristath/marketsync/internal/domain"
)

type updatePolygonPricesCmd struct {
	app *App

	date    string
	days    int
	market  string
	workers int
}

func (*updatePolygonPricesCmd) Name() string { return "update-polygon-prices" }
func (*updatePolygonPricesCmd) Synopsis() string {
	return "reconcile stored bars against the authoritative vendor"
}
func (*updatePolygonPricesCmd) Usage() string {
	return `update-polygon-prices [-date YYYY-MM-DD] [-days N] [-market US] [-workers N]

  Fetches the vendor's whole-market grouped daily bars and corrects the
  OHLCV, vwap and turnover of rows already stored for the covered trading
  days. Fields the vendor does not supply (turnover_rate, adj_factor) are
  left untouched. Defaults to the last two trading days before today.
`
}

func (c *updatePolygonPricesCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "date", "", "anchor date, YYYY-MM-DD (default yesterday)")
	f.IntVar(&c.days, "days", 2, "number of trading days to reconcile, walking back from the anchor")
	f.StringVar(&c.market, "market", "US", "market whose symbol map is used")
	f.IntVar(&c.workers, "workers", 0, "worker pool size (0 = configured default)")
}

func (c *updatePolygonPricesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	anchor := domain.Today().AddDays(-1)
	if c.date != "" {
		parsed, err := domain.ParseDate(c.date)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid -date: %v\n", err)
			return subcommands.ExitUsageError
		}
		anchor = parsed
	}
	if c.days < 1 {
		fmt.Fprintln(os.Stderr, "Error: -days must be at least 1")
		return subcommands.ExitUsageError
	}

	dates, err := c.app.repriceDates(ctx, c.market, anchor, c.days)
	if err != nil {
		c.app.Log.Error().Err(err).Msg("could not resolve trading days")
		return subcommands.ExitFailure
	}

	tally, err := c.app.runRepricePhase(ctx, dates, c.market, c.workers)
	return exitStatus(c.app, tally, err)
}
