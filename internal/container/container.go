package container

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/po-workflow/internal/application/dispatcher"
	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/application/workflow"
	"github.com/garyjia/po-workflow/internal/infrastructure/notification"
	"github.com/garyjia/po-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/po-workflow/internal/infrastructure/worker"
)

// Container holds every long-lived component and owns their lifecycle.
type Container struct {
	config *Config
	logger *zap.Logger
	clock  port.Clock

	// Infrastructure
	sqlDB        *sql.DB
	db           *sqlite.DB
	repositories *RepositoryBundle
	notification *NotificationBundle
	email        port.EmailGateway

	// Application
	workflow workflow.WorkflowEngine

	// Workers
	workers *worker.WorkerManager

	mu     sync.RWMutex
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// Option customises a Container before Start.
type Option func(*Container)

// WithClock replaces the system clock.
func WithClock(clock port.Clock) Option {
	return func(c *Container) {
		c.clock = clock
	}
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer validates the configuration. Components are built by Start.
func NewContainer(cfg *Config, logger *zap.Logger, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Container{
		config: cfg,
		logger: logger,
		clock:  port.SystemClock,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start initializes all components in dependency order and starts workers.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	if err := c.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	if err := c.initNotification(); err != nil {
		c.sqlDB.Close()
		return fmt.Errorf("failed to initialize notification: %w", err)
	}
	c.logger.Info("Notification fan-out initialized")

	if err := c.initWorkflow(); err != nil {
		c.notification.Dispatcher.Close()
		c.sqlDB.Close()
		return fmt.Errorf("failed to initialize workflow engine: %w", err)
	}
	c.logger.Info("Workflow engine initialized")

	if err := c.initWorkers(ctx); err != nil {
		c.notification.Dispatcher.Close()
		c.sqlDB.Close()
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	c.logger.Info("Workers initialized and started")

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Close shuts components down in reverse order of Start.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	// Pending async notifications drain here, before the database goes away
	if c.notification != nil {
		if err := c.notification.Dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
	}

	if c.sqlDB != nil {
		if err := c.sqlDB.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, h ComponentHealth) {
		status.Components[name] = h
		if !h.Healthy {
			status.Overall = false
		}
	}
	notInitialized := ComponentHealth{Message: "not initialized"}

	switch {
	case c.sqlDB == nil:
		set("database", notInitialized)
	default:
		if err := c.sqlDB.PingContext(ctx); err != nil {
			set("database", ComponentHealth{Message: fmt.Sprintf("ping failed: %v", err)})
		} else {
			set("database", ComponentHealth{Healthy: true})
		}
	}

	if c.workers == nil {
		set("workers", notInitialized)
	} else {
		set("workers", ComponentHealth{
			Healthy: c.workers.IsRunning(),
			Message: fmt.Sprintf("worker count: %d", c.workers.GetWorkerCount()),
		})
	}

	if c.notification == nil {
		set("dispatcher", notInitialized)
	} else {
		set("dispatcher", ComponentHealth{
			Healthy: true,
			Message: fmt.Sprintf("handlers: %d", len(c.notification.Dispatcher.ListHandlers(dispatcher.AnyType))),
		})
	}

	if c.workflow == nil {
		set("workflow", notInitialized)
	} else {
		set("workflow", ComponentHealth{Healthy: true})
	}

	return status
}

func (c *Container) initDatabase(ctx context.Context) error {
	dbBundle, err := ProvideDatabase(ctx, c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.sqlDB = dbBundle.SqlDB
	c.db = dbBundle.TransactionMgr

	repos, err := ProvideRepositories(c.sqlDB, c.logger)
	if err != nil {
		c.sqlDB.Close()
		return err
	}
	c.repositories = repos
	return nil
}

func (c *Container) initNotification() error {
	c.notification = ProvideNotification(c.config.Notification, c.logger)

	gw, err := ProvideEmailGateway(c.config.Email, c.logger)
	if err != nil {
		c.notification.Dispatcher.Close()
		return err
	}
	c.email = gw
	return nil
}

func (c *Container) initWorkflow() error {
	engine, err := ProvideWorkflowEngine(
		c.config.Workflow,
		c.repositories,
		c.db,
		c.notification.Sink,
		c.email,
		c.clock,
		c.logger,
	)
	if err != nil {
		return err
	}
	c.workflow = engine
	return nil
}

func (c *Container) initWorkers(ctx context.Context) error {
	c.workers = worker.NewWorkerManager(c.logger.Named("workers"))
	c.workers.Register(c.notification.Hub)
	return c.workers.StartAll(ctx)
}

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.db
}

// Repositories returns the repository bundle.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	if c.notification == nil {
		return nil
	}
	return c.notification.Dispatcher
}

// Hub returns the websocket hub.
func (c *Container) Hub() *notification.Hub {
	if c.notification == nil {
		return nil
	}
	return c.notification.Hub
}

// WorkflowEngine returns the workflow engine.
func (c *Container) WorkflowEngine() workflow.WorkflowEngine {
	return c.workflow
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Logger returns the logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the configuration.
func (c *Container) Config() *Config {
	return c.config
}
