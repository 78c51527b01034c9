package commands

import (
	"context"
	"flag"

	"github.com/google/subcommands"
)

type updateEmPricesCmd struct {
	app *App

	symbols string
	market  string
	limit   int
	full    bool
	workers int
}

func (*updateEmPricesCmd) Name() string { return "update-em-prices" }
func (*updateEmPricesCmd) Synopsis() string {
	return "load daily price history from the bulk vendor"
}
func (*updateEmPricesCmd) Usage() string {
	return `update-em-prices [-symbols AAPL] [-market US] [-limit N] [-full] [-workers N]

  Loads daily bars for securities whose price history lags behind today,
  continuing from each security's last stored date. Securities past their
  jittered full-refresh interval reload their whole history. -full forces a
  full reload for the selected symbols. Only securities with a vendor code
  (em_code) participate.
`
}

func (c *updateEmPricesCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.symbols, "symbols", "", "comma-separated symbols to load (bypasses freshness)")
	f.StringVar(&c.market, "market", "", "restrict selection to one market")
	f.IntVar(&c.limit, "limit", 0, "maximum candidates (0 = no limit)")
	f.BoolVar(&c.full, "full", false, "reload full history for the selected symbols")
	f.IntVar(&c.workers, "workers", 0, "worker pool size (0 = configured default)")
}

func (c *updateEmPricesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	market := c.market
	if market == "" {
		market = c.app.Config.DailyRunMarkets
	}
	tally, err := c.app.runEmPricesPhase(ctx, phaseOpts{
		symbols: splitSymbols(c.symbols),
		market:  market,
		limit:   c.limit,
		workers: c.workers,
	}, c.full)
	return exitStatus(c.app, tally, err)
}
