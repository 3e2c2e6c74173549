// Package app wires repositories and services from the dependencies main()
// provides.
package app

import (
	"database/sql"
	"log/slog"

	"schemaflow/internal/config"
	"schemaflow/internal/db/repository"
	"schemaflow/internal/declarative"
	"schemaflow/internal/service/discovery"
	"schemaflow/internal/service/drift"
	"schemaflow/internal/service/intake"
	"schemaflow/internal/service/materialize"
	"schemaflow/internal/service/registry"
	"schemaflow/internal/service/rules"
	"schemaflow/internal/service/schedule"
)

// Deps holds the external dependencies main() must provide: database
// handles, config, and the logger.
type Deps struct {
	Cfg     *config.Config
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Logger  *slog.Logger
}

// Services groups the service pointers the API handler and scheduler need.
type Services struct {
	Registry    *registry.Service
	Intake      *intake.Service
	Discovery   *discovery.Service
	Drift       *drift.Detector
	Rules       *rules.Service
	Materialize *materialize.Service
	Applier     *declarative.Applier
	Scheduler   *schedule.Scheduler
}

// App is the fully wired application.
type App struct {
	Services Services
}

// New wires all repositories and services from deps.
func New(deps Deps) *App {
	cfg := deps.Cfg

	sourceRepo := repository.NewSourceRepo(deps.WriteDB, deps.ReadDB)
	recordRepo := repository.NewRawRecordRepo(deps.WriteDB, deps.ReadDB)
	fieldRepo := repository.NewDiscoveredFieldRepo(deps.WriteDB, deps.ReadDB)
	changeRepo := repository.NewSchemaChangeRepo(deps.WriteDB, deps.ReadDB)
	ruleRepo := repository.NewRuleRepo(deps.WriteDB, deps.ReadDB)
	targetRepo := repository.NewTargetRepo(deps.WriteDB, deps.ReadDB)
	runRepo := repository.NewRunRepo(deps.WriteDB, deps.ReadDB)
	canonicalStore := repository.NewCanonicalStore(deps.WriteDB, deps.ReadDB)

	discoverySvc := discovery.NewService(fieldRepo, cfg.MaxPathsPerSource,
		deps.Logger.With("component", "discovery"))
	intakeSvc := intake.NewService(sourceRepo, recordRepo, discoverySvc,
		deps.Logger.With("component", "intake"))
	detector := drift.NewDetector(sourceRepo, fieldRepo, changeRepo,
		recordRepo, discoverySvc,
		cfg.DriftMinOccurrence, cfg.DriftRemovalWindow,
		deps.Logger.With("component", "drift"))
	registrySvc := registry.NewService(sourceRepo, targetRepo, fieldRepo, recordRepo,
		canonicalStore, deps.Logger.With("component", "registry"))
	ruleSvc := rules.NewService(sourceRepo, ruleRepo, fieldRepo, targetRepo, recordRepo,
		canonicalStore, cfg.DryRunSampleSize, deps.Logger.With("component", "rules"))
	materializeSvc := materialize.NewService(sourceRepo, recordRepo, ruleRepo, targetRepo,
		runRepo, canonicalStore, cfg.MaterializeBatchSize,
		deps.Logger.With("component", "materialize"))
	applier := declarative.NewApplier(sourceRepo, registrySvc, ruleSvc,
		deps.Logger.With("component", "declarative"))
	scheduler := schedule.NewScheduler(sourceRepo, detector, materializeSvc,
		cfg.ReconcileCron, deps.Logger.With("component", "scheduler"))

	return &App{
		Services: Services{
			Registry:    registrySvc,
			Intake:      intakeSvc,
			Discovery:   discoverySvc,
			Drift:       detector,
			Rules:       ruleSvc,
			Materialize: materializeSvc,
			Applier:     applier,
			Scheduler:   scheduler,
		},
	}
}
