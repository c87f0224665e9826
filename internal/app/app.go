package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/events"
	"github.com/ternarybob/vigil/internal/handlers"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/probes"
	"github.com/ternarybob/vigil/internal/queue"
	"github.com/ternarybob/vigil/internal/quota"
	"github.com/ternarybob/vigil/internal/scan"
	badgerstorage "github.com/ternarybob/vigil/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager *badgerstorage.Manager
	EventService   *events.Service
	QuotaService   interfaces.QuotaService

	QueueManager *queue.Manager
	WorkerPool   *queue.WorkerPool

	ScanService  *scan.Service
	Orchestrator *scan.Orchestrator
	Sweeper      *scan.Sweeper

	JobHandler *handlers.JobHandler
	WSHandler  *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	storageManager, err := badgerstorage.NewManager(logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.StorageManager = storageManager

	app.EventService = events.NewService(storageManager.JobStorage(), logger)
	app.QuotaService = quota.NewLedger(logger)

	queueConfig := queue.Config{
		PollInterval:      cfg.PollIntervalDuration(),
		Concurrency:       cfg.Queue.Concurrency,
		VisibilityTimeout: cfg.VisibilityTimeoutDuration(),
		MaxReceive:        cfg.Queue.MaxReceive,
		QueueName:         cfg.Queue.QueueName,
		StartsPerMinute:   cfg.Queue.StartsPerMinute,
	}
	queueManager, err := queue.NewManager(storageManager.DB().Badger(), queueConfig)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}
	app.QueueManager = queueManager

	scanProbes := []interfaces.Probe{
		probes.NewHeadersProbe(logger),
		probes.NewTLSProbe(logger),
		probes.NewPortsProbe(logger),
		probes.NewExposureProbe(logger),
	}

	deduper := scan.NewDeduper(cfg.Dedupe.Aliases)

	app.Orchestrator = scan.NewOrchestrator(
		storageManager.JobStorage(),
		storageManager.FindingStorage(),
		app.EventService,
		scanProbes,
		deduper,
		cfg.ProbeTimeoutDuration(),
		logger,
	)

	app.ScanService = scan.NewService(
		storageManager.JobStorage(),
		storageManager.FindingStorage(),
		app.QuotaService,
		queueManager,
		logger,
	)

	app.Sweeper = scan.NewSweeper(
		storageManager.JobStorage(),
		app.QuotaService,
		app.EventService,
		cfg.StaleAfterDuration(),
		cfg.Scan.SweepSchedule,
		logger,
	)

	app.WorkerPool = queue.NewWorkerPool(queueManager, queueConfig, app.Orchestrator.Process, logger)

	app.JobHandler = handlers.NewJobHandler(app.ScanService, logger)
	app.WSHandler = handlers.NewWebSocketHandler(app.ScanService, app.EventService, logger)

	logger.Info().
		Int("probes", len(scanProbes)).
		Int("worker_slots", queueConfig.Concurrency).
		Msg("Application initialized")

	return app, nil
}

// Start runs startup recovery and brings the background machinery up.
// Recovery must finish before the first worker claims a job so orphaned
// RUNNING records cannot be confused with live ones.
func (a *App) Start(ctx context.Context) error {
	if err := a.Sweeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start recovery sweeper: %w", err)
	}

	a.WorkerPool.Start()
	return nil
}

// Close shuts down background work and releases resources in reverse
// dependency order.
func (a *App) Close() error {
	a.WorkerPool.Stop()
	a.Sweeper.Stop()

	if err := a.EventService.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Error closing event service")
	}
	if err := a.QueueManager.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Error closing queue manager")
	}
	if err := a.StorageManager.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Error closing storage manager")
		return err
	}

	a.Logger.Info().Msg("Application closed")
	return nil
}
