// Command marketsync maintains a local market database: security reference
// details, corporate actions and daily price history, pulled from multiple
// vendors and reconciled into one store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"

	"github.com/aristath/marketsync/internal/commands"
	"github.com/aristath/marketsync/internal/config"
	"github.com/aristath/marketsync/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return int(subcommands.ExitUsageError)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: isTerminal(os.Stderr),
	})
	logger.SetGlobalLogger(log)

	app, err := commands.NewApp(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("initialization failed")
		return int(subcommands.ExitFailure)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close database")
		}
	}()

	commands.Register(subcommands.DefaultCommander, app)
	flag.Parse()

	// A first signal cancels the context so workers wind down; a second one
	// kills the process the default way.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return int(subcommands.Execute(ctx))
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
