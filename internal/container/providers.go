package container

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/po-workflow/internal/application/authority"
	"github.com/garyjia/po-workflow/internal/application/autoapproval"
	"github.com/garyjia/po-workflow/internal/application/dispatcher"
	"github.com/garyjia/po-workflow/internal/application/history"
	"github.com/garyjia/po-workflow/internal/application/orderstate"
	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/application/workflow"
	"github.com/garyjia/po-workflow/internal/infrastructure/email"
	"github.com/garyjia/po-workflow/internal/infrastructure/notification"
	"github.com/garyjia/po-workflow/internal/infrastructure/persistence/migrations"
	"github.com/garyjia/po-workflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/po-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/po-workflow/internal/infrastructure/retry"
	"github.com/garyjia/po-workflow/pkg/database"
	"github.com/garyjia/po-workflow/pkg/utils"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	SqlDB          *sql.DB
	TransactionMgr *sqlite.DB
}

// RepositoryBundle holds the sqlite-backed repositories.
type RepositoryBundle struct {
	Orders      *repository.OrderRepository
	Authorities *repository.AuthorityRepository
	Users       *repository.UserRepository
	Vendors     *repository.VendorRepository
	History     *repository.HistoryRepository
	Numbers     *repository.OrderNumberSequence
}

// NotificationBundle holds the event fan-out components.
type NotificationBundle struct {
	Dispatcher dispatcher.Dispatcher
	Sink       *dispatcher.Sink
	Hub        *notification.Hub
}

// ProvideDatabase opens the database and applies the embedded migrations.
func ProvideDatabase(ctx context.Context, cfg database.Config, logger *zap.Logger) (*DatabaseBundle, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).Run(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		SqlDB:          db.DB,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repository instances.
func ProvideRepositories(db *sql.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	return &RepositoryBundle{
		Orders:      repository.NewOrderRepository(db, logger),
		Authorities: repository.NewAuthorityRepository(db, logger),
		Users:       repository.NewUserRepository(db, logger),
		Vendors:     repository.NewVendorRepository(db, logger),
		History:     repository.NewHistoryRepository(db, logger),
		Numbers:     repository.NewOrderNumberSequence(db, logger),
	}, nil
}

// ProvideNotification builds the dispatcher and subscribes the websocket hub
// and the event log to every event type.
func ProvideNotification(cfg NotificationConfig, logger *zap.Logger) *NotificationBundle {
	d := dispatcher.NewDispatcher(
		dispatcher.WithLogger(utils.NewKVLogger(logger.Named("dispatcher"))),
		dispatcher.WithMaxInFlight(cfg.MaxInFlight),
	)

	hub := notification.NewHub(cfg.Hub, logger.Named("hub"))
	d.SubscribeNamed(dispatcher.AnyType, "websocket-broadcast", "push events to connected clients", hub.Handle)

	events := notification.NewLogSubscriber(logger.Named("events"))
	d.SubscribeNamed(dispatcher.AnyType, "event-log", "record every order event", events.Handle)

	return &NotificationBundle{
		Dispatcher: d,
		Sink:       dispatcher.NewSink(d),
		Hub:        hub,
	}
}

// ProvideEmailGateway returns the SMTP gateway when enabled, otherwise a gateway that only logs.
func ProvideEmailGateway(cfg EmailConfig, logger *zap.Logger) (port.EmailGateway, error) {
	if !cfg.Enabled {
		logger.Info("Email disabled, purchase orders will only be logged")
		return email.NewLogGateway(logger.Named("email")), nil
	}
	gw, err := email.NewSMTPGateway(cfg.SMTP, logger.Named("email"))
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp gateway: %w", err)
	}
	return gw, nil
}

// ProvideWorkflowEngine assembles the engine from its collaborators.
func ProvideWorkflowEngine(
	cfg WorkflowConfig,
	repos *RepositoryBundle,
	tx port.TransactionManager,
	sink port.NotificationSink,
	gateway port.EmailGateway,
	clock port.Clock,
	logger *zap.Logger,
) (workflow.WorkflowEngine, error) {
	if repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}

	kv := utils.NewKVLogger(logger.Named("workflow"))

	return workflow.NewEngine(workflow.Dependencies{
		Orders:    repos.Orders,
		Users:     repos.Users,
		Vendors:   repos.Vendors,
		Numbers:   repos.Numbers,
		Tx:        tx,
		Store:     orderstate.NewStore(repos.Orders, clock, kv, orderstate.WithTimeout(cfg.StorageTimeout)),
		Ledger:    history.NewLedger(repos.History, clock, cfg.StorageTimeout),
		Authority: authority.NewResolver(repos.Authorities, repos.Users, kv),
		Policy:    autoapproval.NewPolicy(cfg.AutoApproval, repos.Orders, clock),
		Sink:      sink,
		Email:     gateway,
		Clock:     clock,
		Logger:    kv,
	},
		workflow.WithRetrier(retry.New(cfg.Retry, logger.Named("retry"))),
		workflow.WithStorageTimeout(cfg.StorageTimeout),
	)
}
