package commands

import (
	"github.com/google/subcommands"

	"github.com/aristath/marketsync/internal/orchestrator"
)

// Register wires every subcommand to the shared App.
func Register(c *subcommands.Commander, app *App) {
	c.Register(&dailyRunCmd{app: app}, "pipeline")
	c.Register(&updateDetailsCmd{app: app}, "pipeline")
	c.Register(&updateActionsCmd{app: app}, "pipeline")
	c.Register(&updateEmPricesCmd{app: app}, "pipeline")
	c.Register(&updatePolygonPricesCmd{app: app}, "pipeline")
	c.Register(&scheduleCmd{app: app}, "pipeline")

	c.Register(&migrateCmd{app: app}, "maintenance")
	c.Register(&calibrateCmd{app: app}, "maintenance")
}

// exitStatus folds a phase result into a process exit status. Only hard
// errors (initialization, candidate selection, an aborted run) fail the
// process; per-security ERRORs are reported in the tally summary and leave
// the exit code at zero so one flaky symbol cannot fail a whole run.
func exitStatus(app *App, tally *orchestrator.Tally, err error) subcommands.ExitStatus {
	if err != nil {
		app.Log.Error().Err(err).Msg("command failed")
		return subcommands.ExitFailure
	}
	if tally.Errors() > 0 {
		app.Log.Warn().Int("errors", tally.Errors()).Msg("run finished with per-security errors")
	}
	return subcommands.ExitSuccess
}
