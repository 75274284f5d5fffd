package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/canvasflow/canvasflow/api/handlers"
	"github.com/canvasflow/canvasflow/config"
	"github.com/canvasflow/canvasflow/history"
	"github.com/canvasflow/canvasflow/internal/database"
	"github.com/canvasflow/canvasflow/internal/metrics"
	"github.com/canvasflow/canvasflow/internal/server"
	"github.com/canvasflow/canvasflow/stream"
	"github.com/canvasflow/canvasflow/workflow"
)

// saveRunTimeout bounds the history write on the finalize path, which
// runs synchronously inside the engine.
const saveRunTimeout = 5 * time.Second

// Server wires the engine, run history, the optional remote event
// stream, and the HTTP and metrics listeners into one process.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// workflowPath names the definition mirrored from the remote
	// stream; empty when serve only executes locally submitted runs.
	workflowPath string

	engine    *workflow.Engine
	store     history.Store
	pool      *database.PoolManager
	collector *metrics.Collector

	streamClient *stream.Client

	httpManager    *server.Manager
	metricsManager *server.Manager

	healthHandler *handlers.HealthHandler
	runsHandler   *handlers.RunsHandler
	eventsHandler *handlers.EventsHandler

	// rootCtx governs background run execution and the stream
	// reconciler; Shutdown cancels it.
	rootCtx    context.Context
	rootCancel context.CancelFunc

	rateLimiterCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewServer creates a server instance. Nothing starts until Start.
func NewServer(cfg *config.Config, workflowPath string, logger *zap.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:          cfg,
		logger:       logger,
		workflowPath: workflowPath,
		rootCtx:      ctx,
		rootCancel:   cancel,
	}
}

// Start brings every component up in dependency order.
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("canvasflow", s.logger)

	if err := s.initStore(); err != nil {
		return fmt.Errorf("failed to init history store: %w", err)
	}

	s.initEngine()

	if err := s.initStream(); err != nil {
		return fmt.Errorf("failed to init stream: %w", err)
	}

	s.initHandlers()

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("all servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("history_backend", s.cfg.History.Type),
		zap.Bool("stream_enabled", s.streamClient != nil),
	)
	return nil
}

// initStore builds the run history store. The sql backend shares one
// connection with the pool manager so readiness checks and pool metrics
// observe the pool the store actually writes through.
func (s *Server) initStore() error {
	if s.cfg.History.Type == string(history.StoreTypeSQL) {
		db, err := database.Open(s.cfg.Database, s.logger)
		if err != nil {
			return err
		}
		pool, err := database.NewPoolManager(db, s.cfg.Database, s.logger,
			database.WithStatsObserver(func(stats sql.DBStats) {
				s.collector.RecordDBConnections(s.cfg.Database.Name, stats.OpenConnections, stats.Idle)
			}),
		)
		if err != nil {
			return err
		}
		store, err := history.NewSQLStoreWithDB(db, s.logger)
		if err != nil {
			_ = pool.Close()
			return err
		}
		s.pool = pool
		s.store = store
		return nil
	}

	store, err := history.New(history.Config{
		Type:    history.StoreType(s.cfg.History.Type),
		BaseDir: s.cfg.History.BaseDir,
		Redis: history.RedisConfig{
			Host:      s.cfg.History.Redis.Host,
			Port:      s.cfg.History.Redis.Port,
			Password:  s.cfg.History.Redis.Password,
			DB:        s.cfg.History.Redis.DB,
			PoolSize:  s.cfg.History.Redis.PoolSize,
			KeyPrefix: s.cfg.History.Redis.KeyPrefix,
		},
		Cleanup: history.CleanupConfig{
			Enabled:   s.cfg.History.Cleanup.Enabled,
			Interval:  s.cfg.History.Cleanup.Interval,
			Retention: s.cfg.History.Cleanup.Retention,
		},
	}, s.logger)
	if err != nil {
		return err
	}
	s.store = store
	return nil
}

// initEngine builds the engine with metrics and history recording
// attached as run hooks.
func (s *Server) initEngine() {
	s.engine = newEngineFromConfig(s.cfg, s.logger,
		workflow.WithStartHook(func(runID, workflowID string) {
			s.collector.RunStarted()
		}),
		workflow.WithFinalizeHook(s.recordRunMetrics),
		workflow.WithFinalizeHook(s.recordRunHistory),
	)
}

// recordRunMetrics feeds run and node outcomes into Prometheus once a
// run settles.
func (s *Server) recordRunMetrics(snap workflow.RunSnapshot) {
	s.collector.RecordRunFinished(snap.WorkflowID, string(snap.Status),
		snap.FinishedAt.Sub(snap.StartedAt), snap.TokensUsed, snap.CostUSD)
	for _, node := range snap.Nodes {
		s.collector.RecordNodeExecution(string(node.Kind), string(node.Status),
			node.Duration, node.RetryCount)
	}
}

// recordRunHistory persists the finished run.
func (s *Server) recordRunHistory(snap workflow.RunSnapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), saveRunTimeout)
	defer cancel()
	if err := s.store.SaveRun(ctx, history.RecordFromSnapshot(snap)); err != nil {
		s.logger.Error("failed to record run history",
			zap.String("run_id", snap.RunID),
			zap.Error(err),
		)
	}
}

// initStream starts mirroring a remote execution when stream mode is
// configured. The engine is seeded with the definition's graph; the
// reconciler then folds remote events into it.
func (s *Server) initStream() error {
	if !s.cfg.Stream.Enabled {
		return nil
	}
	if s.workflowPath == "" {
		s.logger.Warn("stream enabled but no workflow definition given, skipping subscription")
		return nil
	}

	def, err := workflow.LoadDefinition(s.workflowPath)
	if err != nil {
		return err
	}
	graph, err := def.BuildGraph()
	if err != nil {
		return err
	}

	runID, err := s.engine.StartRun(def.Name, graph)
	if err != nil {
		return err
	}

	s.streamClient = stream.NewClient(s.cfg.Stream.URL, stream.ClientConfig{
		DialTimeout:       s.cfg.Stream.DialTimeout,
		HeartbeatInterval: s.cfg.Stream.HeartbeatInterval,
		HeartbeatTimeout:  s.cfg.Stream.HeartbeatTimeout,
		MaxReconnects:     s.cfg.Stream.MaxReconnects,
		ReconnectDelay:    s.cfg.Stream.ReconnectDelay,
		MaxBackoff:        s.cfg.Stream.MaxBackoff,
		BackoffMultiplier: s.cfg.Stream.BackoffMultiplier,
		EventBuffer:       s.cfg.Stream.EventBuffer,
		OnStateChange: func(state stream.ConnState) {
			if state == stream.ConnStateReconnecting {
				s.collector.RecordStreamReconnect()
			}
		},
	}, s.logger)

	source := &countingSource{src: s.streamClient, collector: s.collector}
	updater := &timedUpdater{engine: s.engine, collector: s.collector}
	reconciler := stream.NewReconciler(updater, source, s.logger)

	s.logger.Info("mirroring remote execution",
		zap.String("run_id", runID),
		zap.String("workflow_id", def.Name),
		zap.String("url", s.cfg.Stream.URL),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := reconciler.Run(s.rootCtx, def.Name); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("stream reconciliation stopped", zap.Error(err))
		}
	}()
	return nil
}

// initHandlers builds the HTTP handlers over the assembled components.
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(Version, s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("history", s.store.Ping))
	if s.pool != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", s.pool.Ping))
	}

	s.runsHandler = handlers.NewRunsHandler(s.engine, s.store, s.logger,
		handlers.WithRunContext(s.rootCtx))
	s.eventsHandler = handlers.NewEventsHandler(s.engine, s.logger,
		handlers.WithOriginPatterns(originHosts(s.cfg.Server.CORSAllowedOrigins)))
}

// startHTTPServer assembles the API mux and starts the listener.
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", handlers.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("POST /api/v1/runs", s.runsHandler.HandleStart)
	mux.HandleFunc("GET /api/v1/runs", s.runsHandler.HandleList)
	mux.HandleFunc("GET /api/v1/runs/current", s.runsHandler.HandleCurrent)
	mux.HandleFunc("GET /api/v1/runs/current/snapshot", s.runsHandler.HandleSnapshot)
	mux.HandleFunc("POST /api/v1/runs/current/cancel", s.runsHandler.HandleCancel)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.runsHandler.HandleGet)

	mux.HandleFunc("GET /api/v1/events", s.eventsHandler.HandleEvents)

	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// startMetricsServer exposes the Prometheus registry on its own port.
func (s *Server) startMetricsServer() error {
	if !s.cfg.Metrics.Enabled {
		s.logger.Info("metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Metrics.Path, promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("metrics server started",
		zap.Int("port", s.cfg.Server.MetricsPort),
		zap.String("path", s.cfg.Metrics.Path),
	)
	return nil
}

// WaitForShutdown blocks until a termination signal arrives, then shuts
// everything down.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops all components in reverse dependency order.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")

	ctx := context.Background()

	// Stop background work first: in-flight local runs finish as
	// cancelled and the reconciler unsubscribes.
	s.rootCancel()
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	if s.streamClient != nil {
		if err := s.streamClient.Close(); err != nil {
			s.logger.Error("stream client close error", zap.Error(err))
		}
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}

	s.wg.Wait()

	// The sql store shares its connection with the pool manager, so it
	// closes through the pool; every other backend closes itself.
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("connection pool close error", zap.Error(err))
		}
	} else if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("history store close error", zap.Error(err))
		}
	}

	s.logger.Info("graceful shutdown completed")
}

// countingSource wraps a Source, counting every delivered event.
type countingSource struct {
	src       stream.Source
	collector *metrics.Collector
}

func (c *countingSource) Subscribe(ctx context.Context, workflowID string) (<-chan stream.Event, error) {
	ch, err := c.src.Subscribe(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	out := make(chan stream.Event)
	go func() {
		defer close(out)
		for ev := range ch {
			c.collector.RecordStreamEvent(string(ev.Type))
			out <- ev
		}
	}()
	return out, nil
}

func (c *countingSource) Err() error   { return c.src.Err() }
func (c *countingSource) Close() error { return c.src.Close() }

// timedUpdater wraps the engine, timing every status application.
type timedUpdater struct {
	engine    *workflow.Engine
	collector *metrics.Collector
}

func (u *timedUpdater) ApplyExternalStatus(nodeID string, upd workflow.StatusUpdate) (bool, error) {
	start := time.Now()
	changed, err := u.engine.ApplyExternalStatus(nodeID, upd)
	u.collector.RecordStatusApply(time.Since(start))
	return changed, err
}

func (u *timedUpdater) Finalize(status workflow.RunStatus, upd workflow.RunUpdate) error {
	return u.engine.Finalize(status, upd)
}

// originHosts reduces configured CORS origins to the host patterns the
// WebSocket accept check matches against.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, origin := range origins {
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
			continue
		}
		hosts = append(hosts, origin)
	}
	return hosts
}
