package commands

import (
	"context"
	"flag"

	"github.com/google/subcommands"
)

type calibrateCmd struct {
	app *App
}

func (*calibrateCmd) Name() string { return "calibrate" }
func (*calibrateCmd) Synopsis() string {
	return "repair price freshness stamps from the stored bars"
}
func (*calibrateCmd) Usage() string {
	return `calibrate

  Recomputes every security's price_data_latest_date from the actual newest
  stored bar. Useful after manual imports or partial restores left the
  stamps out of sync with the data.
`
}

func (*calibrateCmd) SetFlags(*flag.FlagSet) {}

func (c *calibrateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	changed, err := c.app.Store.CalibratePriceStamps(ctx)
	if err != nil {
		c.app.Log.Error().Err(err).Msg("calibration failed")
		return subcommands.ExitFailure
	}
	c.app.Log.Info().Int64("updated", changed).Msg("price stamps calibrated")
	return subcommands.ExitSuccess
}
