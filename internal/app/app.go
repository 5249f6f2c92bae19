// Package app opens a workspace: config, logger, migrated database, engine
// and orchestrator, shared by the CLI and the HTTP server.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"phaseline/internal/config"
	"phaseline/internal/db"
	"phaseline/internal/engine"
	"phaseline/internal/logging"
	"phaseline/internal/migrate"
	"phaseline/internal/orchestrator"
)

// Overrides carry env and flag values that win over phaseline.yml. Zero
// values leave the file setting in place.
type Overrides struct {
	DBPath    string
	BatchSize int
	LogLevel  string
	LogFormat string
}

// ResolveConfig loads the workspace config and layers overrides on top.
func ResolveConfig(workspace string, ov Overrides) (*config.Config, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	if ov.DBPath != "" {
		cfg.Database.Path = ov.DBPath
	}
	if ov.BatchSize != 0 {
		cfg.Orchestrator.BatchSize = ov.BatchSize
	}
	if ov.LogLevel != "" {
		cfg.Log.Level = ov.LogLevel
	}
	if ov.LogFormat != "" {
		cfg.Log.Format = ov.LogFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type App struct {
	Workspace    string
	Config       *config.Config
	DB           *sql.DB
	Log          *zap.Logger
	Engine       engine.Engine
	Orchestrator *orchestrator.Orchestrator
}

// Open resolves config, opens and migrates the database and wires the
// engine. Callers must Close the result.
func Open(ctx context.Context, workspace string, ov Overrides) (*App, error) {
	cfg, err := ResolveConfig(workspace, ov)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace, Path: cfg.Database.Path})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Debug("workspace opened", zap.String("workspace", workspace), zap.String("db", db.Path(db.Config{Workspace: workspace, Path: cfg.Database.Path})))
	eng := engine.New(conn, log.Named("engine"))
	return &App{
		Workspace:    workspace,
		Config:       cfg,
		DB:           conn,
		Log:          log,
		Engine:       eng,
		Orchestrator: orchestrator.New(eng, cfg.Orchestrator.BatchSize, log.Named("orchestrator")),
	}, nil
}

func (a *App) Close() error {
	_ = a.Log.Sync()
	return a.DB.Close()
}
