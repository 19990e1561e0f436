package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/user"

	"etl-orchestrator/internal/app"
	"etl-orchestrator/internal/config"
	"etl-orchestrator/internal/db"
	"etl-orchestrator/internal/warehouse"
)

// session is an App opened over the configured stores for one command.
type session struct {
	*app.App
	cfg  *config.Config
	meta *db.MetaStore
	wh   *sql.DB
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	if opts.envFile != "" {
		if err := config.LoadDotEnv(opts.envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", opts.envFile, err)
		}
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	if opts.metaDB != "" {
		cfg.MetaDBPath = opts.metaDB
	}
	if opts.warehouse != "" {
		cfg.WarehousePath = opts.warehouse
	}
	// Commands apply definitions explicitly.
	cfg.DefinitionsDir = ""
	// Keep progress logs off the terminal unless asked for.
	if os.Getenv("LOG_LEVEL") == "" {
		cfg.LogLevel = "warn"
	}
	return cfg, nil
}

func openSession(ctx context.Context, opts *rootOptions) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := cfg.NewLogger()
	for _, w := range cfg.Warnings {
		logger.Debug(w)
	}

	meta, err := db.OpenMetaStore(cfg.MetaDBPath, 2)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	wh, err := warehouse.Open(ctx, cfg.WarehousePath)
	if err != nil {
		_ = meta.Close()
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	a, err := app.New(ctx, app.Deps{Cfg: cfg, Meta: meta, Warehouse: wh, Logger: logger})
	if err != nil {
		_ = wh.Close()
		_ = meta.Close()
		return nil, err
	}
	return &session{App: a, cfg: cfg, meta: meta, wh: wh}, nil
}

func (s *session) Close() {
	s.App.Close()
	_ = s.wh.Close()
	_ = s.meta.Close()
}

// defaultActor names the operator recorded on audit entries and runs.
func defaultActor() string {
	if v := os.Getenv("ETL_ACTOR"); v != "" {
		return v
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "cli"
}
