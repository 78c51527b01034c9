package commands

import (
	"context"
	"flag"
	"strings"

	"github.com/google/subcommands"
)

type updateDetailsCmd struct {
	app *App

	symbols string
	market  string
	limit   int
	force   bool
	workers int
}

func (*updateDetailsCmd) Name() string { return "update-details" }
func (*updateDetailsCmd) Synopsis() string {
	return "refresh reference details for stale securities"
}
func (*updateDetailsCmd) Usage() string {
	return `update-details [-symbols AAPL,MSFT] [-market US] [-limit N] [-force] [-workers N]

  Refreshes name, exchange, classification and the other reference columns
  for securities whose details are older than 30 days. Explicit -symbols
  bypass the freshness check; -force refreshes every active security.
`
}

func (c *updateDetailsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.symbols, "symbols", "", "comma-separated symbols to refresh (bypasses freshness)")
	f.StringVar(&c.market, "market", "", "restrict selection to one market")
	f.IntVar(&c.limit, "limit", 0, "maximum candidates (0 = no limit)")
	f.BoolVar(&c.force, "force", false, "refresh every active security regardless of freshness")
	f.IntVar(&c.workers, "workers", 0, "worker pool size (0 = configured default)")
}

func (c *updateDetailsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	tally, err := c.app.runDetailsPhase(ctx, phaseOpts{
		symbols: splitSymbols(c.symbols),
		market:  c.market,
		limit:   c.limit,
		force:   c.force,
		workers: c.workers,
	})
	return exitStatus(c.app, tally, err)
}

func splitSymbols(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if sym := strings.TrimSpace(part); sym != "" {
			out = append(out, sym)
		}
	}
	return out
}
