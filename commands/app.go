package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/lebenslotse/lifeplan/config"
	"github.com/lebenslotse/lifeplan/notify"
	"github.com/lebenslotse/lifeplan/plan"
	"github.com/lebenslotse/lifeplan/storage"
	"github.com/lebenslotse/lifeplan/workflow"
)

// app bundles the wired service graph shared by the subcommands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sqlx.DB

	templates  *workflow.Repository
	plans      *plan.Service
	tasks      *plan.TaskService
	profiles   *notify.ProfileService
	scanner    *notify.Scanner
	dispatcher *notify.Dispatcher
}

// newApp loads configuration, connects to the database and wires every
// service. Callers must Close the app.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := slog.Default()

	db, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.AutoCreateSchema {
		if err := storage.CreateSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
		logger.Info("Database schema ensured")
	}

	planStore := storage.NewPlanStore(db)
	profileStore := storage.NewProfileStore(db)
	outboxStore := storage.NewOutboxStore(db)

	templates := workflow.NewRepository(cfg.WorkflowsRoot, logger)
	plans := plan.NewService(templates, planStore, logger)
	tasks := plan.NewTaskService(planStore, logger)
	profiles := notify.NewProfileService(profileStore, cfg.Email.TokenSecret, logger)
	provider := notify.NewBrevoProvider(cfg.Email, logger)
	scanner := notify.NewScanner(profileStore, profiles, outboxStore, planStore, cfg.AppBaseURL, logger)
	dispatcher := notify.NewDispatcher(outboxStore, provider, cfg.Worker.DispatchBatchSize, logger)

	return &app{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		templates:  templates,
		plans:      plans,
		tasks:      tasks,
		profiles:   profiles,
		scanner:    scanner,
		dispatcher: dispatcher,
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Error("Closing database failed", "error", err)
	}
}
