// Package bootstrap assembles the process: config, logging, storage,
// services, and the HTTP server.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	agentsadapters "agentex/internal/agents/adapters"
	agentsapp "agentex/internal/agents/app"
	agentsports "agentex/internal/agents/ports"
	authadapters "agentex/internal/auth/adapters"
	authapp "agentex/internal/auth/app"
	"agentex/internal/config"
	eventsadapters "agentex/internal/events/adapters"
	eventsapp "agentex/internal/events/app"
	eventsports "agentex/internal/events/ports"
	"agentex/internal/logging"
	"agentex/internal/observability"
	serverhttp "agentex/internal/server/http"
)

// memoryStorageURL selects the in-process stores instead of Postgres.
// Meant for development and tests; data does not survive the process.
const memoryStorageURL = "memory"

// Server is the assembled process.
type Server struct {
	cfg     *config.Config
	logger  logging.Logger
	httpSrv *http.Server
	pool    *pgxpool.Pool
	metrics *observability.MetricsCollector
	tracer  *observability.TracerProvider
}

// New assembles a server from configuration.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	logging.SetLevel(logging.ParseLevel(cfg.Observability.LogLevel))
	logger := logging.NewComponentLogger("Server")

	metrics, err := observability.NewMetricsCollector(observability.MetricsConfig{
		Enabled:        cfg.Observability.Metrics.Enabled,
		PrometheusPort: cfg.Observability.Metrics.Port,
	}, logging.NewComponentLogger("Metrics"))
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	tracer, err := observability.NewTracerProvider(observability.TracingConfig{
		Enabled:        cfg.Observability.Tracing.Enabled,
		Exporter:       cfg.Observability.Tracing.Exporter,
		OTLPEndpoint:   cfg.Observability.Tracing.OTLPEndpoint,
		ZipkinEndpoint: cfg.Observability.Tracing.ZipkinEndpoint,
		SampleRate:     cfg.Observability.Tracing.SampleRate,
		ServiceName:    cfg.Observability.Tracing.ServiceName,
		ServiceVersion: cfg.Observability.Tracing.ServiceVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	srv := &Server{cfg: cfg, logger: logger, metrics: metrics, tracer: tracer}

	var (
		eventStore   eventsports.EventStore
		trackerStore eventsports.TrackerStore
		stateStore   eventsports.StateStore
		ownership    authapp.OwnershipSource
		agentStore   agentsports.AgentStore
		locks        agentsports.LockProvider
	)

	if cfg.Database.URL == memoryStorageURL {
		logger.Warn("using in-memory storage; data will not survive restarts")
		memory := eventsadapters.NewMemoryStore()
		eventStore, trackerStore, stateStore, ownership = memory, memory, memory, memory
		agentStore = agentsadapters.NewMemoryAgentStore()
		locks = agentsadapters.NewMemoryLockProvider()
	} else {
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("parse database url: %w", err)
		}
		if cfg.Database.PoolSize > 0 {
			poolCfg.MaxConns = int32(cfg.Database.PoolSize)
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		srv.pool = pool

		pgStore := eventsadapters.NewPostgresStore(pool, logging.NewComponentLogger("EventStore"))
		if err := pgStore.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		pgAgents := agentsadapters.NewPostgresAgentStore(pool)
		if err := pgAgents.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		eventStore, trackerStore, stateStore, ownership = pgStore, pgStore, pgStore, pgStore
		agentStore = pgAgents
		locks = agentsadapters.NewPostgresLockProvider(pool, 500*time.Millisecond, logging.NewComponentLogger("RegistrationLock"))
	}

	verifier, err := authadapters.NewHTTPVerifier(
		authadapters.ProviderKind(cfg.Authn.Provider),
		cfg.Authn.Endpoint,
		cfg.Authn.Timeout,
		logging.NewComponentLogger("Authn"),
	)
	if err != nil {
		return nil, err
	}

	authzClient := authadapters.NewHTTPAuthzClient(
		cfg.Authz.Endpoint,
		cfg.Authz.ServiceToken,
		cfg.Authz.Timeout,
		logging.NewComponentLogger("Authz"),
	)

	owners, err := authapp.NewOwnershipMapper(ownership)
	if err != nil {
		return nil, fmt.Errorf("init ownership mapper: %w", err)
	}
	admission := authapp.NewAdmission(authzClient, owners, logging.NewComponentLogger("Admission"))

	broadcaster := eventsapp.NewBroadcaster(logging.NewComponentLogger("Broadcaster"))
	sequencer := eventsapp.NewSequencer(eventStore, broadcaster, logging.NewComponentLogger("Sequencer"))
	trackers := eventsapp.NewTrackerService(trackerStore, stateStore, logging.NewComponentLogger("Trackers"))

	workflow := agentsadapters.NewHTTPWorkflowEngine(
		cfg.Workflow.Endpoint,
		cfg.Workflow.Timeout,
		logging.NewComponentLogger("Workflow"),
	)
	hostname, _ := os.Hostname()
	registrar := agentsapp.NewRegistrar(agentStore, workflow, locks, hostname, logging.NewComponentLogger("Registrar"))

	router := serverhttp.NewRouter(serverhttp.RouterDeps{
		Verifier:    verifier,
		Admission:   admission,
		Sequencer:   sequencer,
		Trackers:    trackers,
		Registrar:   registrar,
		Broadcaster: broadcaster,
		Metrics:     metrics,
		Tracer:      tracer,
		Logger:      logging.NewComponentLogger("HTTP"),
	}, serverhttp.RouterConfig{
		Environment: cfg.Server.Environment,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	srv.httpSrv = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// No write timeout: SSE streams stay open indefinitely.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	return srv, nil
}

// Addr returns the API listen address.
func (s *Server) Addr() string {
	return s.httpSrv.Addr
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		s.logger.Info("listening on %s", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		s.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.shutdown(shutdownCtx)
	})

	return group.Wait()
}

func (s *Server) shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)
	if s.metrics != nil {
		if merr := s.metrics.Shutdown(ctx); err == nil {
			err = merr
		}
	}
	if s.tracer != nil {
		if terr := s.tracer.Shutdown(ctx); err == nil {
			err = terr
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}
