package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/artifacts/internal/artifacts"
	"github.com/fluxbase-eu/artifacts/internal/auth"
	"github.com/fluxbase-eu/artifacts/internal/bundlecache"
	"github.com/fluxbase-eu/artifacts/internal/config"
	"github.com/fluxbase-eu/artifacts/internal/database"
	"github.com/fluxbase-eu/artifacts/internal/maintenance"
	"github.com/fluxbase-eu/artifacts/internal/middleware"
	"github.com/fluxbase-eu/artifacts/internal/observability"
	"github.com/fluxbase-eu/artifacts/internal/ratelimit"
	"github.com/fluxbase-eu/artifacts/internal/resolver"
	"github.com/fluxbase-eu/artifacts/internal/storage"
)

// Version is reported by /health and the CLI
var Version = "dev"

// APIPrefix is the mount point of versioned routes
const APIPrefix = "/api/v1"

// Server represents the HTTP server
type Server struct {
	app       *fiber.App
	config    *config.Config
	db        *database.Connection
	tracer    *observability.Tracer
	metrics   *observability.Metrics
	storage   storage.Provider
	cache     *bundlecache.Cache
	limits    ratelimit.Store
	scheduler *maintenance.Scheduler
	leader    *maintenance.LeaderElector
	bundles   *artifacts.Handler
}

// NewServer creates a new HTTP server. db may be nil when the database is
// disabled; ownership checks then fall back to an empty in-memory store.
func NewServer(cfg *config.Config, db *database.Connection) (*Server, error) {
	app := fiber.New(fiber.Config{
		ServerHeader:          "Artifacts",
		AppName:               "Artifacts " + Version,
		BodyLimit:             cfg.Server.BodyLimit,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		DisableStartupMessage: !cfg.Debug,
		ErrorHandler:          customErrorHandler,
	})

	s := &Server{
		app:    app,
		config: cfg,
		db:     db,
	}

	// Initialize OpenTelemetry tracer
	tracer, err := observability.NewTracer(context.Background(), cfg.Tracing, Version)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize OpenTelemetry tracer, tracing will be disabled")
	}
	s.tracer = tracer

	// Metrics live on a private registry so several servers can coexist in one process
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if db != nil {
		reg.MustRegister(db.Collector())
	}
	s.metrics = observability.NewMetricsWithRegistry(reg, reg)

	service, err := s.buildService()
	if err != nil {
		s.closeBackends()
		return nil, err
	}
	s.bundles = artifacts.NewHandler(service)

	if err := s.setupScheduler(); err != nil {
		s.closeBackends()
		return nil, err
	}

	s.setupMiddlewares()
	s.setupRoutes()

	log.Debug().Msg("Server initialization complete")
	return s, nil
}

// buildService wires the bundling pipeline to its backends
func (s *Server) buildService() (*artifacts.Service, error) {
	cfg := s.config

	provider, err := storage.New(&cfg.Storage, cfg.BaseURL, cfg.Auth.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage service: %w", err)
	}
	s.storage = provider

	ensureCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := provider.EnsureBucket(ensureCtx, cfg.Bundler.Bucket); err != nil {
		log.Warn().Err(err).Str("bucket", cfg.Bundler.Bucket).Msg("Failed to ensure bundle bucket")
	}

	res, err := resolver.FromConfig(&cfg.Bundler, s.metrics.RecordCDNProbe)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize dependency resolver: %w", err)
	}

	deps := artifacts.Dependencies{
		Resolver: res,
		Storage:  provider,
		Tokens: auth.NewVerifier(auth.VerifierConfig{
			Secret:   cfg.Auth.JWTSecret,
			Issuer:   cfg.Auth.Issuer,
			Audience: cfg.Auth.Audience,
			Leeway:   cfg.Auth.Leeway,
		}),
		Metrics: s.metrics,
	}

	if s.db != nil {
		deps.Ownership = auth.NewPostgresOwnership(s.db)
		if cfg.Bundler.RecordMetricsRows {
			deps.Recorder = artifacts.NewPostgresRecorder(s.db)
		}
	} else {
		if cfg.Auth.RequireOwnership {
			log.Warn().Msg("Database disabled: ownership checks run against an empty in-memory store")
		}
		deps.Ownership = auth.NewMemoryOwnership()
	}

	if cfg.Cache.Enabled {
		index, err := bundlecache.NewIndex(&cfg.Cache, s.pool(), cfg.Scaling.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize bundle cache: %w", err)
		}
		s.cache = bundlecache.New(index, provider, bundlecache.Config{
			Bucket:        cfg.Bundler.Bucket,
			TTL:           cfg.Cache.TTL,
			URLTTL:        cfg.Bundler.SignedURLTTL,
			RefreshWindow: cfg.Cache.RefreshWindow,
			StoreTimeout:  cfg.Cache.StoreTimeout,
		})
		deps.Cache = s.cache
	}

	if cfg.RateLimit.Enabled {
		limits, err := ratelimit.NewStore(&cfg.Scaling, s.pool())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize rate limit store: %w", err)
		}
		s.limits = limits
		deps.Limits = limits
	}

	return artifacts.NewService(artifacts.ConfigFrom(cfg), deps)
}

// setupScheduler registers periodic maintenance jobs
func (s *Server) setupScheduler() error {
	s.scheduler = maintenance.NewScheduler(time.Minute)

	if err := s.scheduler.AddUptime("@every 15s", s.metrics); err != nil {
		return err
	}

	schedule := s.config.RateLimit.CleanupSchedule
	if schedule == "" {
		return nil
	}
	if c, ok := s.limits.(ratelimit.Cleaner); ok {
		add := s.scheduler.AddCleanup
		if backend, _ := ratelimit.ParseBackend(s.config.Scaling.Backend); !backend.Shared() {
			add = s.scheduler.AddLocalCleanup
		}
		if err := add("ratelimit", schedule, c); err != nil {
			return err
		}
	}
	if s.cache != nil {
		if c, ok := s.cache.Index().(maintenance.Cleaner); ok {
			if err := s.scheduler.AddCleanup("bundle-cache", schedule, c); err != nil {
				return err
			}
		}
	}

	// Instances sharing the database elect one to purge shared tables
	if s.db != nil {
		s.leader = maintenance.NewLeaderElector(maintenance.PoolSessions(s.db.Pool()), maintenance.CleanupLockID, "maintenance-cleanup")
		s.scheduler.SetGate(s.leader.IsLeader)
	}
	return nil
}

// setupMiddlewares sets up global middlewares
func (s *Server) setupMiddlewares() {
	// Request ID middleware - must be first for tracing
	s.app.Use(requestid.New())

	if s.config.Tracing.Enabled && s.tracer != nil && s.tracer.IsEnabled() {
		log.Debug().Msg("Adding OpenTelemetry tracing middleware")
		s.app.Use(middleware.TracingMiddleware(middleware.TracingConfig{
			Enabled:   true,
			SkipPaths: []string{"/health", s.config.Metrics.Path},
		}))
	}

	loggerCfg := middleware.DefaultStructuredLoggerConfig()
	loggerCfg.SkipPaths = []string{"/health", s.config.Metrics.Path}
	s.app.Use(middleware.StructuredLogger(loggerCfg))

	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: s.config.Debug,
	}))

	s.app.Use(cors.New(cors.Config{
		AllowOrigins:  s.config.Server.CORSOrigins,
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders: "X-Request-ID,Retry-After",
		MaxAge:        300,
	}))

	if s.config.Metrics.Enabled {
		s.app.Use(s.metrics.MetricsMiddleware())
	}

	// Event streams must reach the client unbuffered
	bundleRoute := APIPrefix + artifacts.BundlePath
	s.app.Use(compress.New(compress.Config{
		Level: compress.LevelDefault,
		Next: func(c *fiber.Ctx) bool {
			return strings.HasPrefix(c.Path(), bundleRoute)
		},
	}))
}

// setupRoutes sets up all routes
func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handleHealth)

	if s.config.Metrics.Enabled {
		s.app.Get(s.config.Metrics.Path, s.metrics.Handler())
	}

	v1 := s.app.Group(APIPrefix,
		middleware.SecurityHeaders(middleware.APISecurityHeaders()),
		middleware.APILimiter(s.config.Server.APIRateLimit),
	)
	s.bundles.RegisterRoutes(v1)

	// Signed URLs minted by local storage resolve here; S3 URLs point at the bucket
	if ls, ok := s.storage.(*storage.LocalStorage); ok {
		download := newDownloadHandler(ls)
		s.app.Get(storage.DownloadPath,
			middleware.DownloadLimiter(s.config.Server.DownloadRateLimit),
			middleware.SecurityHeaders(middleware.BundleSecurityHeaders(strings.Split(s.config.Server.CORSOrigins, ","))),
			download.Serve,
		)
	}
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	services := fiber.Map{}
	healthy := true

	if s.db != nil {
		dbHealthy := true
		if err := s.db.Health(ctx); err != nil {
			dbHealthy = false
			healthy = false
			log.Error().Err(err).Msg("Database health check failed")
		}
		services["database"] = dbHealthy
	}

	storageHealthy := true
	if err := s.storage.Health(ctx); err != nil {
		storageHealthy = false
		healthy = false
		log.Error().Err(err).Msg("Storage health check failed")
	}
	services["storage"] = storageHealthy
	services["cache"] = s.cache != nil
	services["rate_limit"] = s.limits != nil

	status := "ok"
	httpStatus := fiber.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = fiber.StatusServiceUnavailable
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"version":   Version,
		"services":  services,
		"timestamp": time.Now().UTC(),
	})
}

// Start starts background jobs and listens on the configured address
func (s *Server) Start() error {
	if s.leader != nil {
		s.leader.Start()
	}
	s.scheduler.Start()
	return s.app.Listen(s.config.Server.Address)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	err := s.app.ShutdownWithContext(ctx)

	s.scheduler.Stop()
	if s.leader != nil {
		s.leader.Stop()
	}
	s.closeBackends()

	// Flush remaining spans
	if s.tracer != nil {
		if terr := s.tracer.Shutdown(ctx); terr != nil {
			log.Warn().Err(terr).Msg("Failed to shutdown OpenTelemetry tracer")
		}
	}

	return err
}

func (s *Server) closeBackends() {
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close bundle cache")
		}
	}
	if s.limits != nil {
		if err := s.limits.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close rate limit store")
		}
	}
}

// App returns the underlying Fiber app instance for testing
func (s *Server) App() *fiber.App {
	return s.app
}

// Metrics returns the server's metrics
func (s *Server) Metrics() *observability.Metrics {
	return s.metrics
}

func (s *Server) pool() *pgxpool.Pool {
	if s.db == nil {
		return nil
	}
	return s.db.Pool()
}

// customErrorHandler renders errors no handler converted into a response
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}

	if code >= 500 {
		log.Error().Err(err).Str("path", c.Path()).Msg("Server error")
	}

	requestID, _ := c.Locals("requestid").(string)
	return c.Status(code).JSON(fiber.Map{
		"error":     message,
		"code":      code,
		"requestId": requestID,
	})
}
