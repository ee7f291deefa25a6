// Package kernel owns the shared infrastructure behind the orchestrator:
// database and write-behind worker, event hub and audit log, oracle client
// factory, metrics and the API server.
package kernel

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"conductor/pkg/agent"
	"conductor/pkg/agent/llm"
	llmmetrics "conductor/pkg/agent/middleware/metrics"
	"conductor/pkg/config"
	"conductor/pkg/eventlog"
	"conductor/pkg/events"
	"conductor/pkg/logx"
	"conductor/pkg/metrics"
	"conductor/pkg/orchestrator"
	"conductor/pkg/persistence"
	"conductor/pkg/utils"
	"conductor/pkg/webui"
)

// Option customizes kernel construction.
type Option func(*Kernel)

// WithOracle replaces the provider client. The injected client still runs
// through the factory's middleware chain.
func WithOracle(client llm.LLMClient) Option {
	return func(k *Kernel) { k.injectedOracle = client }
}

// WithRegistry uses reg for every metric instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(k *Kernel) { k.Registry = reg }
}

// Kernel manages the infrastructure lifecycle.
type Kernel struct {
	ctx    context.Context //nolint:containedctx // Required for kernel lifecycle management
	cancel context.CancelFunc

	Config *config.Config
	Logger *logx.Logger

	Registry *prometheus.Registry
	Metrics  *metrics.OrchestratorMetrics
	Usage    *llmmetrics.InternalRecorder

	Database              *sql.DB
	Store                 *persistence.Store
	persistenceWorkerDone chan struct{} // Closed once the worker has drained the queue

	Hub          *events.Hub
	EventLog     *eventlog.Writer
	eventLogDone chan struct{}

	OracleFactory *agent.ClientFactory
	Oracle        llm.LLMClient
	Orchestrator  *orchestrator.Orchestrator
	WebServer     *webui.Server

	injectedOracle llm.LLMClient
	background     sync.WaitGroup
	running        bool
}

// NewKernel builds every component from cfg. Nothing runs until Start.
func NewKernel(parent context.Context, cfg *config.Config, opts ...Option) (*Kernel, error) {
	ctx, cancel := context.WithCancel(parent)

	k := &Kernel{
		ctx:    ctx,
		cancel: cancel,
		Config: cfg,
		Logger: logx.NewLogger("kernel"),
	}
	for _, opt := range opts {
		opt(k)
	}

	if err := k.initializeServices(); err != nil {
		k.closeResources()
		cancel()
		return nil, fmt.Errorf("failed to initialize kernel services: %w", err)
	}
	return k, nil
}

func (k *Kernel) initializeServices() error {
	k.initializeMetrics()

	if err := k.initializeOracle(); err != nil {
		return err
	}

	if !k.Config.Orchestrator.Headless {
		if err := k.initializeDatabase(); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
	}

	k.Hub = events.NewHub(k.Config.Events.BufferSize)
	if dir := k.Config.Events.LogDir; dir != "" {
		writer, err := eventlog.NewWriter(dir, nil)
		if err != nil {
			return fmt.Errorf("failed to create event log: %w", err)
		}
		k.EventLog = writer
	}

	if err := k.initializeOrchestrator(); err != nil {
		return err
	}

	k.initializeWebServer()

	k.Logger.Info("Kernel services initialized (provider: %s, headless: %t)",
		k.OracleFactory.Provider(), k.Config.Orchestrator.Headless)
	return nil
}

func (k *Kernel) initializeMetrics() {
	if k.Registry == nil {
		k.Registry = prometheus.NewRegistry()
		k.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	k.Metrics = metrics.NewOrchestratorMetrics(k.Registry)
	k.Usage = llmmetrics.NewInternalRecorder()
}

func (k *Kernel) initializeOracle() error {
	var recorder llmmetrics.Recorder = k.Usage
	if k.Config.Metrics.Enabled {
		recorder = llmmetrics.Tee(llmmetrics.NewPrometheusRecorder(k.Registry), k.Usage)
	}

	factory, err := agent.NewClientFactory(k.Config.Oracle, recorder)
	if err != nil {
		return fmt.Errorf("failed to create oracle client factory: %w", err)
	}
	k.OracleFactory = factory

	if k.injectedOracle != nil {
		k.Oracle = factory.Wrap(k.injectedOracle)
		return nil
	}
	k.Oracle, err = factory.CreateClient()
	if err != nil {
		return fmt.Errorf("failed to create oracle client: %w", err)
	}
	return nil
}

func (k *Kernel) initializeDatabase() error {
	db, err := persistence.Open(k.Config.Persistence.Path)
	if err != nil {
		return err //nolint:wrapcheck // Wrapped by caller
	}
	k.Database = db
	k.Store = persistence.NewStore(persistence.NewDatabaseOperations(db), k.Config.Persistence.QueueSize)

	k.Logger.Info("Database initialized with schema: %s", k.Config.Persistence.Path)
	return nil
}

func (k *Kernel) initializeOrchestrator() error {
	instructions, err := utils.LoadUserInstructions(k.Config.Secrets.Dir)
	if err != nil {
		return fmt.Errorf("failed to load user instructions: %w", err)
	}
	if !instructions.IsEmpty() {
		k.Logger.Info("Loaded user instructions from %s", k.Config.Secrets.Dir)
	}

	oc := k.Config.Orchestrator
	opts := orchestrator.Options{
		Oracle:                k.Oracle,
		Emitter:               k.Hub,
		Metrics:               k.Metrics,
		Instructions:          instructions,
		SwitchThreshold:       oc.SwitchThreshold,
		HistoryWindow:         oc.HistoryWindow,
		MaxRetryAttempts:      oc.MaxRetryAttempts,
		RetryTTL:              oc.RetryTTL.Std(),
		MaxRetryEntries:       oc.MaxRetryEntries,
		MaxTokens:             k.Config.Oracle.MaxTokens,
		Streaming:             k.Config.Oracle.Streaming,
		Headless:              oc.Headless,
		RejectConcurrentTurns: oc.RejectConcurrentTurns,
	}
	// A nil *Store must not become a non-nil interface.
	if k.Store != nil {
		opts.Store = k.Store
	}

	k.Orchestrator, err = orchestrator.New(opts)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	return nil
}

func (k *Kernel) initializeWebServer() {
	opts := webui.Options{
		Gatherer:     k.Registry,
		Usage:        k.Usage,
		Username:     k.Config.Server.Username,
		SecretsDir:   k.Config.Secrets.Dir,
		PingInterval: k.Config.Server.PingInterval.Std(),
	}
	if url := k.Config.Metrics.PrometheusURL; url != "" {
		query, err := metrics.NewQueryService(url)
		if err != nil {
			k.Logger.Warn("Prometheus queries disabled: %v", err)
		} else {
			opts.Query = query
		}
	}
	k.WebServer = webui.NewServer(k.Orchestrator, k.Hub, opts)
}

// Start runs the background services: the rate limiter refill loop, the
// persistence worker, the event audit log and the retry budget sweep.
func (k *Kernel) Start() error {
	if k.running {
		return fmt.Errorf("kernel already running")
	}

	k.Logger.Info("Starting kernel services...")
	k.OracleFactory.Start(k.ctx)
	k.startPersistenceWorker()
	k.startEventLog()
	k.startRetrySweep()

	k.running = true
	k.Logger.Info("Kernel services started successfully")
	return nil
}

// StartWebUI starts the API server on the configured address.
func (k *Kernel) StartWebUI() error {
	if k.WebServer == nil {
		return fmt.Errorf("web server not initialized")
	}
	srv := k.Config.Server
	if err := k.WebServer.StartServer(k.ctx, srv.Addr, srv.ReadTimeout.Std(), srv.WriteTimeout.Std()); err != nil {
		return fmt.Errorf("failed to start web server: %w", err)
	}
	return nil
}

// Context returns the kernel lifecycle context.
func (k *Kernel) Context() context.Context {
	return k.ctx
}

// Stop gracefully shuts down all kernel services.
func (k *Kernel) Stop() error {
	if !k.running {
		k.closeResources()
		k.cancel()
		return nil
	}

	k.Logger.Info("Stopping kernel services...")

	// Cancel first so no new turn starts while the queues drain.
	k.cancel()

	// Closing the hub ends every subscription, including the audit log.
	k.Hub.Close()
	if k.eventLogDone != nil {
		<-k.eventLogDone
	}
	k.background.Wait()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := k.DrainPersistenceQueue(drainCtx); err != nil {
		k.Logger.Warn("Persistence queue drain issue: %v", err)
	}
	drainCancel()

	k.closeResources()

	k.running = false
	k.Logger.Info("Kernel services stopped")
	return nil
}

// closeResources closes files and the database. It is safe on a partially
// built kernel.
func (k *Kernel) closeResources() {
	if k.EventLog != nil {
		if err := k.EventLog.Close(); err != nil {
			k.Logger.Error("Error closing event log: %v", err)
		}
		k.EventLog = nil
	}
	if k.Database != nil {
		if err := k.Database.Close(); err != nil {
			k.Logger.Error("Error closing database: %v", err)
		}
		k.Database = nil
	}
}

// DrainPersistenceQueue closes the write queue and waits for pending writes
// to complete. It returns an error if ctx expires first.
func (k *Kernel) DrainPersistenceQueue(ctx context.Context) error {
	if k.Store == nil {
		return nil
	}

	k.Logger.Info("Draining persistence queue (%d pending)...", k.Store.Pending())
	k.Store.Close()

	if k.persistenceWorkerDone == nil {
		return nil
	}

	select {
	case <-k.persistenceWorkerDone:
		k.Logger.Info("Persistence queue drained successfully")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for persistence queue to drain: %w", ctx.Err())
	}
}

// startPersistenceWorker applies queued writes until the queue is closed.
func (k *Kernel) startPersistenceWorker() {
	if k.Store == nil {
		return
	}
	k.persistenceWorkerDone = make(chan struct{})
	ops := k.Store.Ops()

	go func() {
		defer close(k.persistenceWorkerDone)
		k.Logger.Debug("Starting persistence worker")

		for req := range k.Store.Requests() {
			if req == nil {
				continue
			}
			// Writes outlive the kernel context so the drain completes.
			if err := ops.Apply(context.Background(), req); err != nil {
				k.Logger.Error("Failed to apply %s: %v", req.Operation, err)
			}
		}

		k.Logger.Info("Persistence worker finished draining queue")
	}()
}

func (k *Kernel) startEventLog() {
	if k.EventLog == nil {
		return
	}
	sub := k.Hub.Subscribe("")
	k.eventLogDone = make(chan struct{})
	go func() {
		defer close(k.eventLogDone)
		k.EventLog.Run(k.ctx, sub)
	}()
}

// startRetrySweep periodically evicts aged retry budget entries.
func (k *Kernel) startRetrySweep() {
	interval := k.Config.Orchestrator.SweepInterval.Std()
	if interval <= 0 {
		return
	}
	k.background.Add(1)
	go func() {
		defer k.background.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-k.ctx.Done():
				return
			case <-ticker.C:
				if n := k.Orchestrator.SweepRetryBudgets(); n > 0 {
					k.Logger.Debug("Swept %d retry budget entries", n)
				}
			}
		}
	}()
}
