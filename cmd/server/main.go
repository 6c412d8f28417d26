package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/liamcoop/fraudrules/analytics"
	"github.com/liamcoop/fraudrules/audit"
	"github.com/liamcoop/fraudrules/internal/config"
	"github.com/liamcoop/fraudrules/internal/logger"
	"github.com/liamcoop/fraudrules/internal/metrics"
	"github.com/liamcoop/fraudrules/rules"
	"github.com/liamcoop/fraudrules/sampledata"
)

// Server serves the rule store over HTTP
type Server struct {
	repo      *rules.Repository
	evaluator *rules.Evaluator
	facade    *analytics.Facade
	audit     *audit.Log
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	limiter   *IPRateLimiter
	latency   time.Duration
	validate  *requestValidator
	logger    *slog.Logger
	router    *chi.Mux
}

// ServerOptions wires a Server. Medium is required; everything else has a default.
type ServerOptions struct {
	Medium    rules.Medium
	Seed      rules.SeedSource
	Generator analytics.Generator
	Clock     func() time.Time
	CacheTTL  time.Duration
	Latency   time.Duration
	RateLimit RateLimiterConfig
	AuditSize int
	Registry  *prometheus.Registry
	Logger    *slog.Logger
}

// NewServer builds the store, repository and analytics stack and the routes over them
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Medium == nil {
		return nil, fmt.Errorf("a storage medium is required")
	}
	if opts.Seed == nil {
		opts.Seed = sampledata.Seed
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Generator == nil {
		opts.Generator = sampledata.NewGenerator(opts.Clock)
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m := metrics.New(opts.Registry)
	trail := audit.NewLog(opts.AuditSize)

	normalizer := rules.NewNormalizer(opts.Clock)
	store := rules.NewStore(opts.Medium, opts.Seed,
		rules.WithNormalizer(normalizer),
		rules.WithCache(rules.NewInMemoryRulesCache(rules.CacheConfig{TTL: opts.CacheTTL})),
		rules.WithStoreMetrics(m),
		rules.WithStoreLogger(opts.Logger),
	)
	repo := rules.NewRepository(store,
		rules.WithClock(opts.Clock),
		rules.WithAuditRecorder(trail),
		rules.WithOperationMetrics(m),
		rules.WithRepositoryLogger(opts.Logger),
	)

	evaluator, err := rules.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to build evaluator: %w", err)
	}

	s := &Server{
		repo:      repo,
		evaluator: evaluator,
		facade:    analytics.NewFacade(opts.Generator, opts.Logger),
		audit:     trail,
		metrics:   m,
		gatherer:  opts.Registry,
		limiter:   NewIPRateLimiter(opts.RateLimit),
		latency:   opts.Latency,
		validate:  newRequestValidator(),
		logger:    opts.Logger.With("component", "http"),
	}

	s.setupRoutes()

	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger, s.metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.limiter.Middleware(s.metrics))
		r.Use(simulatedLatency(s.latency))
		r.Use(actor)

		r.Get("/health", s.handleHealth)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)
			r.Post("/test", s.handleTestRule)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRule)
				r.Put("/", s.handleUpdateRule)
				r.Delete("/", s.handleDeleteRule)
				r.Patch("/status", s.handleSetStatus)
				r.Get("/versions", s.handleListVersions)
				r.Post("/clone", s.handleCloneRule)
				r.Post("/publish", s.handlePublishRule)

				r.Route("/performance", func(r chi.Router) {
					r.Get("/kpis", s.handleKPIs)
					r.Get("/trends", s.handleTrends)
					r.Get("/severity", s.handleSeverity)
					r.Get("/conditions", s.handleConditions)
					r.Get("/decisions", s.handleDecisions)
					r.Get("/claims", s.handleClaims)
				})
			})
		})

		r.Patch("/versions/{versionId}/notes", s.handleUpdateVersionNotes)

		r.Get("/audit", s.handleListAudit)
		r.Get("/audit/export", s.handleExportAudit)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}

// respondFailure maps err onto a status: missing entities are 404, bad
// requests 400 and anything else 500
func (s *Server) respondFailure(w http.ResponseWriter, message string, err error) {
	switch {
	case rules.IsNotFound(err):
		respondError(w, http.StatusNotFound, err.Error(), nil)
	case isRequestError(err):
		respondError(w, http.StatusBadRequest, message, err)
	default:
		s.logger.Error(message, "error", err)
		respondError(w, http.StatusInternalServerError, message, err)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Options{
		Level:       cfg.LogLevel,
		SampleRate:  cfg.ErrorSampleRate,
		OTELEnabled: cfg.OTELEnabled,
		ServiceName: cfg.ServiceName,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal("Server exited", "error", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	medium, closeMedium, err := config.OpenMedium(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s storage: %w", cfg.StorageBackend, err)
	}
	defer closeMedium()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	server, err := NewServer(ServerOptions{
		Medium:   medium,
		CacheTTL: cfg.StoreCacheTTL,
		Latency:  cfg.SimulatedLatency,
		RateLimit: RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		},
		AuditSize: cfg.AuditCapacity,
		Registry:  registry,
		Logger:    logger.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Warm the store so seeding happens before the first request
	all, err := server.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	logger.Info("Rule store ready", "backend", cfg.StorageBackend, "slot", cfg.StorageSlot, "rules", len(all))

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15*time.Second + cfg.SimulatedLatency,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Server starting", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return server.limiter.Cleanup(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return logger.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
