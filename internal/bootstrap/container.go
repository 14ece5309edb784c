package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	chclient "athena/internal/adapters/clickhouse"
	"athena/internal/adapters/config"
	"athena/internal/adapters/errors/noop"
	"athena/internal/adapters/errors/sentry"
	"athena/internal/adapters/kafka"
	pgclient "athena/internal/adapters/postgres"
	redisclient "athena/internal/adapters/redis"
	"athena/internal/adapters/telegram"
	"athena/internal/domain/agent"
	"athena/internal/domain/task"
	"athena/internal/engine"
	"athena/internal/events"
	"athena/internal/producers"
	"athena/internal/metrics"
	chrepo "athena/internal/repository/clickhouse"
	pgrepo "athena/internal/repository/postgres"
	redisrepo "athena/internal/repository/redis"
	"athena/internal/workers"
	"athena/pkg/errors"
	"athena/pkg/logger"
)

// Container holds all application dependencies in initialization order
type Container struct {
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure
	PG    *pgclient.Client
	CH    *chclient.Client
	Redis *redisclient.Client

	// Repositories
	AgentRepo      agent.Repository
	TaskRepo       task.Repository
	ResultCache    *redisrepo.ResultCache
	OpinionHistory *chrepo.OpinionHistory

	// External adapters
	KafkaProducer *kafka.Producer
	Publisher     *events.Publisher
	Alerts        *telegram.Notifier

	// Engine
	AgentRegistry *engine.Registry
	Producers     *producers.Registry
	Pool          *engine.Pool
	Synthesizer   *engine.Synthesizer
	Lifecycle     *engine.Lifecycle
	Orchestrator  *engine.Orchestrator
	Emergency     *workers.EmergencyService

	// Background
	Scheduler     *workers.Scheduler
	MetricsServer *http.Server

	WG      *sync.WaitGroup
	Context context.Context
	Cancel  context.CancelFunc
}

// NewContainer creates an empty dependency container
func NewContainer() *Container {
	ctx, cancel := context.WithCancel(context.Background())
	return &Container{
		WG:      &sync.WaitGroup{},
		Context: ctx,
		Cancel:  cancel,
	}
}

// MustInit initializes all components in dependency order, panicking on
// any error (fail-fast at startup)
func (c *Container) MustInit() {
	c.MustInitConfig()
	c.MustInitInfrastructure()
	c.MustInitRepositories()
	c.MustInitAdapters()
	c.MustInitEngine()
	c.MustInitWorkers()
	c.MustInitMonitoring()
}

// MustInitConfig loads config, logger and error tracking
func (c *Container) MustInitConfig() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	c.Config = cfg

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	c.Log = logger.Get()

	c.ErrorTracker = c.initErrorTracker()
	logger.SetErrorTracker(c.ErrorTracker)
}

func (c *Container) initErrorTracker() errors.Tracker {
	cfg := c.Config.ErrorTracking
	if !cfg.Enabled || cfg.SentryDSN == "" {
		c.Log.Info("Error tracking disabled, using no-op tracker")
		return noop.New()
	}

	tracker, err := sentry.New(cfg.SentryDSN, cfg.Environment)
	if err != nil {
		c.Log.Warnw("Sentry init failed, using no-op tracker", "error", err)
		return noop.New()
	}
	return tracker
}

// MustInitInfrastructure connects to Postgres, ClickHouse and Redis
func (c *Container) MustInitInfrastructure() {
	pg, err := pgclient.NewClient(c.Config.Postgres)
	if err != nil {
		panic("failed to connect to postgres: " + err.Error())
	}
	c.PG = pg

	ch, err := chclient.NewClient(c.Config.ClickHouse)
	if err != nil {
		panic("failed to connect to clickhouse: " + err.Error())
	}
	c.CH = ch

	rd, err := redisclient.NewClient(c.Config.Redis)
	if err != nil {
		panic("failed to connect to redis: " + err.Error())
	}
	c.Redis = rd

	c.Log.Info("✓ Infrastructure connected")
}

// MustInitRepositories wires storage-backed repositories
func (c *Container) MustInitRepositories() {
	c.AgentRepo = pgrepo.NewAgentRepository(c.PG.DB())
	c.TaskRepo = pgrepo.NewTaskRepository(c.PG.DB())
	c.ResultCache = redisrepo.NewResultCache(c.Redis, c.Config.Engine.ResultCacheTTL)
	c.OpinionHistory = chrepo.NewOpinionHistory(c.CH)
}

// MustInitAdapters wires Kafka and Telegram
func (c *Container) MustInitAdapters() {
	c.KafkaProducer = kafka.NewProducer(kafka.ProducerConfig{
		Brokers: c.Config.Kafka.Brokers,
		Async:   true,
	})
	c.Publisher = events.NewPublisher(c.KafkaProducer)

	alerts, err := telegram.NewNotifier(c.Config.Telegram)
	if err != nil {
		panic("failed to init telegram alerts: " + err.Error())
	}
	c.Alerts = alerts
}

// MustInitEngine assembles the orchestration engine
func (c *Container) MustInitEngine() {
	engineCfg := c.Config.Engine

	c.AgentRegistry = engine.NewRegistry(c.AgentRepo)
	c.Producers = producers.NewDefaultRegistry()
	c.Pool = engine.NewPool(engineCfg.PoolSize)

	if err := c.loadAgents(); err != nil {
		panic("failed to load agents: " + err.Error())
	}

	limiter := engine.NewCallLimiter(engineCfg.ProducerRatePerMinute, engineCfg.ProducerBurst)
	invoker := engine.NewProducerInvoker(c.Producers, limiter, engineCfg.AgentCallTimeout)

	c.Synthesizer = engine.NewSynthesizer(engine.SynthesizerConfig{
		HighThreshold:          engineCfg.ConsensusHighThreshold,
		MediumThreshold:        engineCfg.ConsensusMediumThreshold,
		InsightConfidenceFloor: engineCfg.InsightConfidenceFloor,
		RecurringPrefixLen:     engineCfg.InsightRecurringPrefix,
		InsightLimit:           engineCfg.InsightLimit,
	})

	c.Lifecycle = engine.NewLifecycle(c.TaskRepo, c.ResultCache, c.OpinionHistory, c.Publisher)
	c.Orchestrator = engine.NewOrchestrator(c.Lifecycle, c.AgentRegistry, invoker, c.Pool, c.Synthesizer, engine.OrchestratorConfig{
		SessionTimeout:           engineCfg.SessionTimeout,
		DebateEarlyStopConsensus: engineCfg.DebateEarlyStopConsensus,
	})
}

// loadAgents hydrates the registry from storage, seeding a default
// fleet on first boot.
func (c *Container) loadAgents() error {
	stored, err := c.AgentRepo.List(c.Context)
	if err != nil {
		return err
	}

	if len(stored) == 0 {
		c.Log.Info("No agents in storage, seeding default fleet")
		return c.seedAgents()
	}

	for _, ag := range stored {
		// Concurrency slots never survive a restart.
		ag.CurrentConcurrency = 0
		if ag.Status == agent.StatusBusy {
			ag.Status = agent.StatusActive
		}
		if err := c.AgentRegistry.Load(ag); err != nil {
			return err
		}
	}

	c.Log.Infow("✓ Agents loaded", "count", len(stored))
	return nil
}

func (c *Container) seedAgents() error {
	now := time.Now().UTC()
	for i, t := range agent.AllTypes {
		ag := &agent.Agent{
			ID:             uuid.New(),
			Name:           fmt.Sprintf("%s-analyst-%d", t, i+1),
			Type:           t,
			Status:         agent.StatusActive,
			MaxConcurrency: 3,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := c.AgentRegistry.Register(c.Context, ag); err != nil {
			return err
		}
	}
	return nil
}

// MustInitMonitoring wires the Prometheus scrape endpoint
func (c *Container) MustInitMonitoring() {
	if !c.Config.Monitoring.Enabled {
		return
	}

	metrics.Register(metrics.NewFleetCollector(c.AgentRegistry))

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	c.MetricsServer = &http.Server{
		Addr:              c.Config.Monitoring.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Start launches background processing
func (c *Container) Start() error {
	c.OpinionHistory.Start(c.Context)

	if err := c.Scheduler.Start(c.Context); err != nil {
		return err
	}

	if c.MetricsServer != nil {
		c.WG.Add(1)
		go func() {
			defer c.WG.Done()
			c.Log.Infow("Metrics endpoint listening", "addr", c.MetricsServer.Addr)
			if err := c.MetricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				c.Log.Errorw("Metrics server exited", "error", err)
			}
		}()
	}

	c.Log.Info("✓ All systems operational")
	return nil
}

// Shutdown stops everything in reverse dependency order
func (c *Container) Shutdown() {
	c.Log.Info("Initiating graceful shutdown...")

	if err := c.Scheduler.Stop(); err != nil {
		c.Log.Warnw("Scheduler stop", "error", err)
	}

	if c.MetricsServer != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.MetricsServer.Shutdown(stopCtx); err != nil {
			c.Log.Warnw("Metrics server shutdown", "error", err)
		}
		cancel()
	}

	c.Cancel()
	c.Pool.Wait()
	c.WG.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.OpinionHistory.Stop(flushCtx); err != nil {
		c.Log.Warnw("Opinion history stop", "error", err)
	}

	if err := c.KafkaProducer.Close(); err != nil {
		c.Log.Warnw("Kafka producer close", "error", err)
	}
	if err := c.Redis.Close(); err != nil {
		c.Log.Warnw("Redis close", "error", err)
	}
	if err := c.CH.Close(); err != nil {
		c.Log.Warnw("ClickHouse close", "error", err)
	}
	if err := c.PG.Close(); err != nil {
		c.Log.Warnw("Postgres close", "error", err)
	}

	if err := c.ErrorTracker.Flush(context.Background()); err != nil {
		c.Log.Warnw("Error tracker flush", "error", err)
	}
	c.Log.Info("Shutdown complete")
}
