package commands

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/robfig/cron/v3"
)

type scheduleCmd struct {
	app *App

	spec    string
	market  string
	limit   int
	workers int
}

func (*scheduleCmd) Name() string { return "schedule" }
func (*scheduleCmd) Synopsis() string {
	return "run the daily pipeline on a cron schedule"
}
func (*scheduleCmd) Usage() string {
	return `schedule [-cron "30 21 * * 1-5"] [-market US] [-limit N] [-workers N]

  Stays resident and fires the daily pipeline on the given cron expression
  (default from DAILY_RUN_CRON). Stops cleanly on SIGINT/SIGTERM; a run in
  flight finishes its current work items first.
`
}

func (c *scheduleCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.spec, "cron", "", "cron expression (default from config)")
	f.StringVar(&c.market, "market", "", "restrict selection to one market (default from config)")
	f.IntVar(&c.limit, "limit", 0, "maximum candidates per phase (0 = no limit)")
	f.IntVar(&c.workers, "workers", 0, "worker pool size (0 = configured default)")
}

func (c *scheduleCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	spec := c.spec
	if spec == "" {
		spec = c.app.Config.CronSpec
	}

	daily := &dailyRunCmd{
		app:     c.app,
		market:  c.market,
		limit:   c.limit,
		workers: c.workers,
	}

	scheduler := cron.New()
	_, err := scheduler.AddFunc(spec, func() {
		c.app.Log.Info().Str("cron", spec).Msg("scheduled daily run firing")
		if status := daily.Execute(ctx, nil); status != subcommands.ExitSuccess {
			c.app.Log.Error().Int("exit_status", int(status)).Msg("scheduled daily run reported failures")
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid cron expression %q: %v\n", spec, err)
		return subcommands.ExitUsageError
	}

	c.app.Log.Info().Str("cron", spec).Msg("scheduler started")
	scheduler.Start()

	<-ctx.Done()

	// Stop admitting new runs, then wait for an in-flight one to finish.
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	c.app.Log.Info().Msg("scheduler stopped")

	return subcommands.ExitSuccess
}
