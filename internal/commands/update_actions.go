package commands

import (
	"context"
	"flag"

	"github.com/google/subcommands"
)

type updateActionsCmd struct {
	app *App

	symbols string
	market  string
	limit   int
	force   bool
	workers int
}

func (*updateActionsCmd) Name() string { return "update-actions" }
func (*updateActionsCmd) Synopsis() string {
	return "refresh dividends and splits for stale securities"
}
func (*updateActionsCmd) Usage() string {
	return `update-actions [-symbols AAPL,MSFT] [-market US] [-limit N] [-force] [-workers N]

  Fetches and persists corporate actions for securities whose actions are
  older than 90 days. Duplicate events are skipped; the actions stamp is
  advanced even when the vendor reports nothing.
`
}

func (c *updateActionsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.symbols, "symbols", "", "comma-separated symbols to refresh (bypasses freshness)")
	f.StringVar(&c.market, "market", "", "restrict selection to one market")
	f.IntVar(&c.limit, "limit", 0, "maximum candidates (0 = no limit)")
	f.BoolVar(&c.force, "force", false, "refresh every active security regardless of freshness")
	f.IntVar(&c.workers, "workers", 0, "worker pool size (0 = configured default)")
}

func (c *updateActionsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	tally, err := c.app.runActionsPhase(ctx, phaseOpts{
		symbols: splitSymbols(c.symbols),
		market:  c.market,
		limit:   c.limit,
		force:   c.force,
		workers: c.workers,
	})
	return exitStatus(c.app, tally, err)
}
