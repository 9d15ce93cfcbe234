// Package container wires the application together. Ordered initialization,
// reverse-order teardown.
package container

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mwhitney-dev/caseflow/internal/application/dispatcher"
	"github.com/mwhitney-dev/caseflow/internal/application/engine"
	"github.com/mwhitney-dev/caseflow/internal/application/port"
	"github.com/mwhitney-dev/caseflow/internal/application/service"
	"github.com/mwhitney-dev/caseflow/internal/config"
	"github.com/mwhitney-dev/caseflow/internal/domain/transition"
	"github.com/mwhitney-dev/caseflow/internal/infrastructure/external/crm"
	"github.com/mwhitney-dev/caseflow/internal/infrastructure/external/lark"
	"github.com/mwhitney-dev/caseflow/internal/infrastructure/external/openai"
	"github.com/mwhitney-dev/caseflow/internal/infrastructure/locking"
	"github.com/mwhitney-dev/caseflow/internal/infrastructure/persistence/repository"
	"github.com/mwhitney-dev/caseflow/internal/infrastructure/persistence/sqlite"
	httpadapter "github.com/mwhitney-dev/caseflow/internal/interfaces/http"
	"github.com/mwhitney-dev/caseflow/internal/interfaces/websocket"
	"github.com/mwhitney-dev/caseflow/internal/worker"
	"github.com/mwhitney-dev/caseflow/pkg/database"
)

// Container manages all application dependencies and lifecycle.
type Container struct {
	config *config.Config
	logger *zap.Logger

	// Infrastructure
	db         *database.DB
	txDB       *sqlite.DB
	repos      engine.Repositories
	executions port.ExecutionRepository

	// External
	collaborator port.DecisionCollaborator
	notifier     port.OperatorNotifier
	syncer       port.ExternalSync

	// Application
	dispatcher dispatcher.Dispatcher
	engine     *engine.Engine
	proposals  *service.ProposalService
	decisions  *service.DecisionService
	intake     *service.IntakeService
	query      *service.QueryService

	// Interfaces
	hub        *websocket.Hub
	httpServer *httpadapter.Server

	// Workers
	workers *worker.Manager

	// Lifecycle
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// NewContainer creates a container from configuration. Components are not
// initialized until Start.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components in dependency order: database and
// repositories, external clients, engine and services, dispatcher
// subscriptions, then workers. The HTTP server is wired but not started;
// the caller runs HTTPServer().Start.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	c.initExternalClients()
	c.logger.Info("External clients initialized")

	c.initEngineAndServices()
	c.logger.Info("Engine and services initialized")

	c.initSubscriptions()
	c.logger.Info("Dispatcher subscriptions registered")

	if err := c.initWorkers(); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	c.logger.Info("Workers started")

	c.initHTTP()

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

func (c *Container) initDatabase() error {
	if dir := filepath.Dir(c.config.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := database.New(database.Config{
		Path:            c.config.Database.Path,
		MaxOpenConns:    c.config.Database.MaxOpenConns,
		MaxIdleConns:    c.config.Database.MaxIdleConns,
		ConnMaxLifetime: c.config.Database.ConnMaxLifetime,
	}, c.logger)
	if err != nil {
		return err
	}
	c.db = db

	migrator := database.NewMigrator(db, c.logger)
	if err := migrator.RunMigrations(c.config.Database.MigrationsDir); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	c.txDB = sqlite.NewDB(db.DB, c.logger)
	c.repos = engine.Repositories{
		Cases:       repository.NewCaseRepository(db.DB, c.logger),
		Runs:        repository.NewAgentRunRepository(db.DB, c.logger),
		Proposals:   repository.NewProposalRepository(db.DB, c.logger),
		PortalTasks: repository.NewPortalTaskRepository(db.DB, c.logger),
		Followups:   repository.NewFollowupRepository(db.DB, c.logger),
		Ledger:      repository.NewLedgerRepository(db.DB, c.logger),
	}
	c.executions = repository.NewExecutionRepository(db.DB, c.logger)
	return nil
}

func (c *Container) initExternalClients() {
	c.collaborator = openai.NewCollaborator(
		c.config.OpenAI.APIKey,
		c.config.OpenAI.Model,
		c.config.OpenAI.Temperature,
		c.logger,
	)

	c.notifier = lark.NewNotifier(lark.Config{
		AppID:     c.config.Lark.AppID,
		AppSecret: c.config.Lark.AppSecret,
		OpsChatID: c.config.Lark.OpsChatID,
	}, c.logger)

	c.syncer = crm.NewLogSync(c.logger)
}

func (c *Container) initEngineAndServices() {
	c.dispatcher = dispatcher.NewDispatcher(
		dispatcher.WithLogger(&kvLoggerAdapter{logger: c.logger}),
	)

	locker := locking.NewCaseLockRegistry()
	reducer := transition.NewReducer(
		c.config.Engine.FollowupInterval,
		c.config.Engine.MaxFollowups,
	)

	c.engine = engine.NewEngine(c.repos, c.txDB, locker, reducer,
		engine.WithDispatcher(c.dispatcher),
		engine.WithLogger(c.logger),
	)

	c.proposals = service.NewProposalService(c.repos.Proposals, c.executions, c.txDB, c.logger)
	c.decisions = service.NewDecisionService(
		c.repos.Cases,
		c.repos.Followups,
		c.proposals,
		c.collaborator,
		c.notifier,
		c.engine,
		c.logger,
	)
	c.intake = service.NewIntakeService(c.repos.Cases, c.engine, c.logger)
	c.query = service.NewQueryService(c.repos.Cases, c.repos.Proposals, c.repos.Ledger, c.executions)

	c.hub = websocket.NewHub(c.logger)
}

// initSubscriptions registers the post-commit handlers. The decision
// service drives reactive case progress; the hub pushes projections to
// connected observers.
func (c *Container) initSubscriptions() {
	c.dispatcher.Subscribe(dispatcher.TopicTransitionCommitted, "decision-service",
		c.decisions.HandleCommitted)

	c.dispatcher.Subscribe(dispatcher.TopicTransitionCommitted, "live-updates",
		func(ctx context.Context, n *dispatcher.Notification) error {
			c.hub.PublishProjection(n.CaseID, n.Projection)
			return nil
		})

	c.dispatcher.Subscribe(dispatcher.TopicTransitionCommitted, "external-sync",
		func(ctx context.Context, n *dispatcher.Notification) error {
			return c.syncer.SyncCase(ctx, n.CaseID)
		})

	c.dispatcher.Subscribe(dispatcher.TopicPortalUpdate, "live-portal-updates",
		func(ctx context.Context, n *dispatcher.Notification) error {
			c.hub.PublishPortalUpdate(n.CaseID, n.Projection)
			return nil
		})
}

func (c *Container) initWorkers() error {
	c.workers = worker.NewManager(c.logger)
	c.workers.Register(worker.NewFollowupSweeper(
		c.repos.Followups, c.engine, c.config.Engine.SweepInterval, c.logger))
	c.workers.Register(worker.NewStuckDetector(
		c.repos.Runs, c.engine,
		c.config.Engine.StuckCheckInterval, c.config.Engine.StuckThreshold, c.logger))
	return c.workers.StartAll(c.ctx)
}

func (c *Container) initHTTP() {
	c.httpServer = httpadapter.NewServer(
		httpadapter.ServerConfig{
			Host:         c.config.Server.Host,
			Port:         c.config.Server.Port,
			ReadTimeout:  c.config.Server.ReadTimeout,
			WriteTimeout: c.config.Server.WriteTimeout,
		},
		c.intake,
		c.query,
		c.decisions,
		c.engine,
		c.hub,
		&kvLoggerAdapter{logger: c.logger},
	)
}

// Close shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	if c.cancel != nil {
		c.cancel()
	}

	var errs []error

	if c.httpServer != nil {
		if err := c.httpServer.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop http server: %w", err))
		}
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
	}

	if c.hub != nil {
		c.hub.Close()
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
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

// Ready reports whether all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// HTTPServer returns the wired HTTP server. The caller owns running it.
func (c *Container) HTTPServer() *httpadapter.Server {
	return c.httpServer
}

// Engine returns the transition engine.
func (c *Container) Engine() *engine.Engine {
	return c.engine
}

// Dispatcher returns the side-effect dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// kvLoggerAdapter adapts zap.Logger to the key-value logger interfaces of
// the dispatcher and the HTTP server.
type kvLoggerAdapter struct {
	logger *zap.Logger
}

func (a *kvLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *kvLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keysAndValues[i])
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
