// Package commands implements the CLI subcommands. Each command selects its
// own candidates, builds work items and drains an orchestrator run; the
// daily-run command chains the individual phases in order.
package commands

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/marketsync/internal/calendar"
	"github.com/aristath/marketsync/internal/clients/eastmoney"
	"github.com/aristath/marketsync/internal/clients/polygon"
	"github.com/aristath/marketsync/internal/config"
	"github.com/aristath/marketsync/internal/database"
	"github.com/aristath/marketsync/internal/orchestrator"
	"github.com/aristath/marketsync/internal/ratelimit"
	"github.com/aristath/marketsync/internal/selector"
	"github.com/aristath/marketsync/internal/store"
)

// App wires the shared collaborators every command needs. Vendor clients
// are built lazily so commands that never touch a vendor do not require its
// credentials.
type App struct {
	Config   *config.Config
	Log      zerolog.Logger
	DB       *database.DB
	Store    *store.Store
	Selector *selector.Selector
	Calendar *calendar.Calendar

	polygonClient   *polygon.Client
	eastmoneyClient *eastmoney.Client
}

// NewApp opens the database, applies the schema and builds the store-side
// collaborators.
func NewApp(cfg *config.Config, log zerolog.Logger) (*App, error) {
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &App{
		Config:   cfg,
		Log:      log,
		DB:       db,
		Store:    store.New(db.Conn(), log),
		Selector: selector.New(db.Conn(), log),
		Calendar: calendar.New(db.Conn(), log),
	}, nil
}

// Close releases the database handle.
func (a *App) Close() error {
	return a.DB.Close()
}

// Polygon returns the shared reference-data client, building it and its
// key limiter on first use.
func (a *App) Polygon() (*polygon.Client, error) {
	if a.polygonClient != nil {
		return a.polygonClient, nil
	}
	if err := a.Config.RequirePolygonKeys(); err != nil {
		return nil, err
	}

	limiter, err := ratelimit.New(a.Config.PolygonAPIKeys, a.Config.PolygonRate, a.Config.PolygonWindow, a.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to build rate limiter: %w", err)
	}

	baseURL := a.Config.PolygonBaseURL
	if baseURL == "" {
		baseURL = polygon.DefaultBaseURL
	}
	a.polygonClient = polygon.New(baseURL, a.Config.HTTPTimeout, limiter, a.Log)
	return a.polygonClient, nil
}

// Eastmoney returns the shared bulk-history client.
func (a *App) Eastmoney() *eastmoney.Client {
	if a.eastmoneyClient == nil {
		baseURL := a.Config.EastmoneyBase
		if baseURL == "" {
			baseURL = eastmoney.DefaultBaseURL
		}
		a.eastmoneyClient = eastmoney.New(baseURL, a.Config.HTTPTimeout, a.Config.EastmoneyDelay, a.Log)
	}
	return a.eastmoneyClient
}

// Orchestrator builds a worker pool of the configured (or overridden) size.
func (a *App) Orchestrator(workers int) *orchestrator.Orchestrator {
	if workers <= 0 {
		workers = a.Config.Workers
	}
	return orchestrator.New(workers, a.Log)
}
