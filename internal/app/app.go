package app

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskwatch/internal/broadcast"
	"github.com/ternarybob/taskwatch/internal/broker"
	"github.com/ternarybob/taskwatch/internal/common"
	"github.com/ternarybob/taskwatch/internal/handlers"
	"github.com/ternarybob/taskwatch/internal/interfaces"
	"github.com/ternarybob/taskwatch/internal/progress"
	"github.com/ternarybob/taskwatch/internal/registry"
	"github.com/ternarybob/taskwatch/internal/services/events"
	"github.com/ternarybob/taskwatch/internal/services/scheduler"
	"github.com/ternarybob/taskwatch/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Event-driven services
	EventService     interfaces.EventService
	SchedulerService interfaces.SchedulerService

	// Progress fan-out
	Registry   *registry.Registry
	Builder    *progress.Builder
	Broker     broker.Broker
	Dispatcher *broadcast.Dispatcher

	// HTTP handlers
	APIHandler       *handlers.APIHandler
	WSHandler        *handlers.WebSocketHandler
	ProgressHandler  *handlers.ProgressHandler
	SchedulerHandler *handlers.SchedulerHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Initialize handlers
	app.initHandlers()

	if err := app.SchedulerService.Start(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	logger.Info().
		Str("broker", cfg.Broker.Type).
		Bool("retention_enabled", cfg.Retention.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Bool("in_memory", a.Config.Storage.Badger.InMemory).
		Msg("Storage layer initialized")

	return nil
}

// initServices initializes services in dependency order:
// events -> registry/builder -> broker -> dispatcher -> scheduler
func (a *App) initServices() error {
	a.EventService = events.NewService(a.Logger)
	if err := events.SubscribeLoggerToAllEvents(a.EventService, a.Logger); err != nil {
		return fmt.Errorf("failed to subscribe event logger: %w", err)
	}

	a.Registry = registry.New(registry.DefaultShardCount)
	a.Builder = progress.NewBuilder(a.StorageManager.TaskStore(), a.Logger)

	b, err := broker.New(&a.Config.Broker, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create broker: %w", err)
	}
	a.Broker = b

	throttle, err := a.Config.WebSocket.ProgressThrottleInterval()
	if err != nil {
		return fmt.Errorf("invalid progress throttle: %w", err)
	}
	a.Dispatcher = broadcast.NewDispatcher(a.Registry, a.Builder, a.Broker, throttle, a.Logger)
	if err := a.Dispatcher.SubscribeToTaskEvents(a.EventService); err != nil {
		return fmt.Errorf("failed to subscribe dispatcher: %w", err)
	}
	a.Logger.Debug().Dur("progress_throttle", throttle).Msg("Dispatcher subscribed to task events")

	a.SchedulerService = scheduler.NewService(a.Logger)
	if err := scheduler.RegisterRetention(a.SchedulerService, &a.Config.Retention, a.StorageManager.TaskStore(), a.Logger); err != nil {
		return fmt.Errorf("failed to register retention job: %w", err)
	}
	if err := scheduler.RegisterThrottleSweep(a.SchedulerService, throttle, a.Dispatcher, a.Logger); err != nil {
		return fmt.Errorf("failed to register throttle sweep job: %w", err)
	}

	return nil
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Registry, a.Dispatcher, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.Registry, a.Builder, a.Dispatcher, a.Logger, &a.Config.WebSocket)
	a.ProgressHandler = handlers.NewProgressHandler(a.Builder, a.StorageManager.TaskStore(), a.EventService, a.Logger)
	a.SchedulerHandler = handlers.NewSchedulerHandler(a.SchedulerService, a.Logger)
}

// Close closes all application resources
func (a *App) Close() error {
	// Stop scheduler service
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	// Close event service
	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	// Close broker
	if a.Broker != nil {
		if err := a.Broker.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close broker")
		}
	}

	// Close storage
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
