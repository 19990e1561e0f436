// Package app provides application-level wiring and dependency injection
// for the orchestrator. The HTTP server and the CLI build the same App.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"etl-orchestrator/internal/archive"
	"etl-orchestrator/internal/config"
	"etl-orchestrator/internal/db"
	"etl-orchestrator/internal/db/repository"
	"etl-orchestrator/internal/domain"
	"etl-orchestrator/internal/notify"
	"etl-orchestrator/internal/service/configstore"
	"etl-orchestrator/internal/service/dq"
	"etl-orchestrator/internal/service/pipeline"
	"etl-orchestrator/internal/service/scd"
	"etl-orchestrator/internal/warehouse"
)

// Deps holds the external dependencies that main() must provide.
// These are things the app package cannot (or should not) create itself:
// database handles, config, and the logger.
type Deps struct {
	Cfg       *config.Config
	Meta      *db.MetaStore
	Warehouse *sql.DB
	Logger    *slog.Logger
}

// App holds the fully-wired application.
type App struct {
	Config     *configstore.Service
	Runs       *pipeline.Service
	Scores     *dq.Service
	Scheduler  *pipeline.Scheduler
	Executions domain.ExecutionLogRepository
	Notifier   *notify.Async
	Warehouse  *warehouse.DuckDBStore
	// Units holds the units registered in code. Register custom units here
	// before the first run.
	Units *pipeline.Registry
	// Predicates holds the predicates available to CUSTOM_FUNCTION rules.
	Predicates *dq.PredicateRegistry

	logger *slog.Logger
}

// New wires repositories, engines and services from the provided deps. It
// closes execution records left RUNNING by a previous process and applies
// the definitions directory when one is configured.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger

	// === Repositories ===
	defRepo := repository.NewDefinitionRepo(deps.Meta.Write)
	valueRepo := repository.NewConfigValueRepo(deps.Meta.Write)
	execLog := repository.NewExecutionLogRepo(deps.Meta.Write)
	execReader := repository.NewExecutionLogRepo(deps.Meta.Read)

	if err := closeInterruptedRecords(ctx, execLog, logger); err != nil {
		logger.Warn("close interrupted execution records failed", "error", err)
	}

	// === Config store ===
	configSvc := configstore.NewService(defRepo, valueRepo, logger)

	// === Warehouse + engines ===
	store := warehouse.NewDuckDBStore(deps.Warehouse)
	refs := func(condition string) (domain.Predicate, error) {
		return warehouse.NewReferenceSet(store, condition)
	}
	predicates := dq.NewPredicateRegistry()
	merger := scd.NewEngine(store, logger)

	// === Alerts + archive ===
	notifier := notify.New(cfg.AlertWebhookURL, cfg.AlertRatePerMinute, logger)
	reports, err := archive.Open(ctx, cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("report archive: %w", err)
	}

	// === Orchestration ===
	units := pipeline.NewRegistry()
	coord := pipeline.NewCoordinator(units, execLog, notifier, logger, pipeline.CoordinatorOptions{
		MaxParallel:       cfg.MaxParallelPipelines,
		DefaultRecipients: cfg.DefaultAlertRecipients,
	})
	runUnits := pipeline.StandardUnits(merger, store, predicates, refs, warehouse.SQLUnitFactory(deps.Warehouse), logger)
	runs := pipeline.NewService(configSvc, units, runUnits, coord, reports, logger, pipeline.ServiceOptions{
		Resolve: pipeline.ResolveOptions{
			StrictGroups:   cfg.StrictParallelGroups,
			DisabledPolicy: cfg.DisabledPolicy,
		},
		MaxConcurrentRuns: cfg.MaxConcurrentRuns,
	})

	scheduler := pipeline.NewScheduler(runs, valueRepo, logger)
	configSvc.SetScheduleReloader(scheduler)

	a := &App{
		Config:     configSvc,
		Runs:       runs,
		Scores:     dq.NewService(configSvc, predicates, refs, logger),
		Scheduler:  scheduler,
		Executions: execReader,
		Notifier:   notifier,
		Warehouse:  store,
		Units:      units,
		Predicates: predicates,
		logger:     logger,
	}

	if cfg.DefinitionsDir != "" {
		if err := a.applyDefinitions(ctx, cfg.DefinitionsDir); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Close waits for queued alerts to be delivered.
func (a *App) Close() {
	a.Scheduler.Stop()
	a.Notifier.Wait()
}
