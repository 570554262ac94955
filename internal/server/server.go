// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/mbd888/bankguard/internal/alerts"
	"github.com/mbd888/bankguard/internal/circuitbreaker"
	"github.com/mbd888/bankguard/internal/config"
	"github.com/mbd888/bankguard/internal/detection"
	"github.com/mbd888/bankguard/internal/directory"
	"github.com/mbd888/bankguard/internal/health"
	"github.com/mbd888/bankguard/internal/idgen"
	"github.com/mbd888/bankguard/internal/ledger"
	"github.com/mbd888/bankguard/internal/logging"
	"github.com/mbd888/bankguard/internal/metrics"
	"github.com/mbd888/bankguard/internal/ratelimit"
	"github.com/mbd888/bankguard/internal/realtime"
	"github.com/mbd888/bankguard/internal/risk"
	"github.com/mbd888/bankguard/internal/security"
	"github.com/mbd888/bankguard/internal/validation"
	"golang.org/x/sync/errgroup"
)

const (
	// Version is reported by /health.
	Version = "0.1.0"

	ledgerBreakerThreshold = 5
	ledgerBreakerOpen      = 30 * time.Second
	dbStatsInterval        = 15 * time.Second
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	db          *sql.DB // nil if using in-memory
	ledger      *ledger.Guarded
	directory   directory.Directory
	alerts      *alerts.Service
	pool        *detection.Pool
	coordinator *detection.Coordinator
	timer       *detection.Timer
	consumer    *detection.Consumer
	realtimeHub *realtime.Hub
	health      *health.Registry
	rateLimiter *ratelimit.Limiter
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	// Injected collaborators (tests, embedding)
	ledgerReader  ledger.Reader
	messageReader detection.MessageReader

	drainDelay    time.Duration
	cancelRunCtx  context.CancelFunc
	background    *errgroup.Group // HTTP listener and worker loops started by Run
	backgroundErr error
	shutdownOnce  sync.Once
	shutdownErr   error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithLedger sets the ledger reader instead of the one implied by DATABASE_URL.
func WithLedger(r ledger.Reader) Option {
	return func(s *Server) {
		s.ledgerReader = r
	}
}

// WithDirectory sets the account directory instead of the one implied by DATABASE_URL.
func WithDirectory(d directory.Directory) Option {
	return func(s *Server) {
		s.directory = d
	}
}

// WithMessageReader enables transaction intake from r regardless of KAFKA_BROKERS.
func WithMessageReader(r detection.MessageReader) Option {
	return func(s *Server) {
		s.messageReader = r
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers before
// closing listeners.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var alertStore alerts.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		alertStore = alerts.NewPostgresStore(db)
		if s.ledgerReader == nil {
			s.ledgerReader = ledger.NewPostgresStore(db)
		}
		if s.directory == nil {
			s.directory = directory.NewPostgresStore(db)
		}
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		alertStore = alerts.NewMemoryStore()
		var (
			memLedger    *ledger.MemoryStore
			memDirectory *directory.MemoryStore
		)
		if s.ledgerReader == nil {
			memLedger = ledger.NewMemoryStore()
			s.ledgerReader = memLedger
		}
		if s.directory == nil {
			memDirectory = directory.NewMemoryStore()
			s.directory = memDirectory
		}
		s.logger.Info("using in-memory storage (data will not persist)")

		switch {
		case cfg.DemoSeed && memLedger != nil && memDirectory != nil:
			n := seedDemo(memLedger, memDirectory, time.Now())
			s.logger.Info("seeded in-memory ledger with demo transactions", "transactions", n)
		case memLedger != nil:
			s.logger.Warn("in-memory ledger is empty, detection has nothing to scan; set DATABASE_URL or DEMO_SEED=true")
		}
	}

	s.ledger = ledger.NewGuarded(s.ledgerReader,
		circuitbreaker.New(ledgerBreakerThreshold, ledgerBreakerOpen))

	s.realtimeHub = realtime.NewHub(s.logger)
	s.alerts = alerts.NewService(alertStore, s.logger).WithNotifier(s.realtimeHub)

	evaluator := risk.NewEvaluator(risk.RuleConfig{
		Window:     cfg.RapidWindow,
		BurstCount: cfg.RapidBurstCount,
	})
	s.pool = detection.NewPool(cfg.DetectionWorkers)
	s.coordinator = detection.NewCoordinator(s.ledger, s.directory, s.alerts, evaluator, s.pool, s.logger).
		WithLookback(cfg.DetectionLookback).
		WithPolicy(thresholdPolicy(cfg))

	if cfg.DetectionInterval > 0 {
		s.timer = detection.NewTimer(s.coordinator, cfg.DetectionInterval, s.logger)
	}

	if s.messageReader == nil && cfg.KafkaEnabled() {
		s.messageReader = detection.NewKafkaReader(detection.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTransactionsTopic,
			GroupID: cfg.KafkaGroupID,
		})
		s.logger.Info("transaction intake enabled",
			"brokers", cfg.KafkaBrokers,
			"topic", cfg.KafkaTransactionsTopic,
			"group", cfg.KafkaGroupID,
		)
	}
	if s.messageReader != nil {
		s.consumer = detection.NewConsumer(s.messageReader, s.coordinator, cfg.KafkaTransactionsTopic, s.logger)
	}

	s.health = health.NewRegistry()
	s.registerHealthChecks()

	s.logger.Info("detection configured",
		"workers", s.pool.Size(),
		"lookback", cfg.DetectionLookback,
		"interval", cfg.DetectionInterval,
		"rapid_window", cfg.RapidWindow,
		"rapid_burst_count", cfg.RapidBurstCount,
	)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func (s *Server) registerHealthChecks() {
	if s.db != nil {
		s.health.Register("database", health.Ping("database", s.db))
	}
	s.health.Register("ledger", func(_ context.Context) health.Status {
		state := s.ledger.State()
		return health.Status{Name: "ledger", Healthy: state != circuitbreaker.StateOpen, Detail: state.String()}
	})
}

// thresholdPolicy builds the tier threshold table from cfg. Unset values
// keep the defaults so hand-built configs behave like Load's.
func thresholdPolicy(cfg *config.Config) risk.Policy {
	p := risk.DefaultPolicy()
	if cfg.PersonalThreshold.IsPositive() {
		p.Personal = cfg.PersonalThreshold
	}
	if cfg.BusinessThreshold.IsPositive() {
		p.Business = cfg.BusinessThreshold
	}
	if cfg.TemporaryThreshold.IsPositive() {
		p.Temporary = cfg.TemporaryThreshold
	}
	return p
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSAllowedOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         ratelimit.DefaultConfig().BurstSize,
		CleanupInterval:   ratelimit.DefaultConfig().CleanupInterval,
	})
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Keep an ID set by the load balancer if it is usable
		requestID := c.GetHeader("X-Request-ID")
		if !validation.IsValidID(requestID) {
			requestID = idgen.New()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Debug("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")

	alerts.NewHandler(s.alerts).RegisterRoutes(v1)
	detection.NewHandler(s.coordinator).RegisterRoutes(v1)

	// Alert events for reviewer consoles
	v1.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Route not found",
		})
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    []health.Status        `json:"checks"`
	Realtime  map[string]interface{} `json:"realtime,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.health.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Realtime:  s.realtimeHub.Stats(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and background workers, and blocks until ctx is
// cancelled, a shutdown signal arrives, or a component fails.
func (s *Server) Run(ctx context.Context) error {
	ctx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      5 * time.Minute, // POST /v1/detection/run waits for the scan
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(runCtx)
	s.background = g

	g.Go(func() error {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.realtimeHub.Run(gctx)
		return nil
	})

	if s.timer != nil {
		g.Go(func() error {
			s.timer.Start(gctx)
			return nil
		})
	}

	if s.consumer != nil {
		g.Go(func() error {
			s.consumer.Start(gctx)
			return nil
		})
	}

	if s.db != nil {
		g.Go(func() error {
			metrics.StartDBStatsCollector(gctx, s.db, dbStatsInterval)
			return nil
		})
	}

	s.ready.Store(true)
	s.logger.Info("server ready")

	<-gctx.Done()
	if ctx.Err() != nil {
		s.logger.Info("shutdown requested")
	}

	shutdownErr := s.Shutdown()
	if s.backgroundErr != nil {
		return s.backgroundErr
	}
	return shutdownErr
}

// Shutdown gracefully stops the server. Safe to call more than once.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown()
	})
	return s.shutdownErr
}

func (s *Server) shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	if s.drainDelay > 0 {
		time.Sleep(s.drainDelay)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	// Stop the hub, timer and consumer loops and wait for them; a sweep in
	// progress stops dispatching but still writes its alerts.
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}
	if s.background != nil {
		s.backgroundErr = s.background.Wait()
	}

	// Scans started over HTTP and accepted async checks run to completion
	// before the database goes away.
	s.coordinator.Wait()
	s.logger.Info("detection work drained")

	if s.consumer != nil {
		if err := s.consumer.Close(); err != nil {
			s.logger.Error("consumer close error", "error", err)
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return shutdownErr
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Coordinator exposes the detection coordinator for embedding.
func (s *Server) Coordinator() *detection.Coordinator {
	return s.coordinator
}
