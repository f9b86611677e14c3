// Package server wires walletguard together and serves it over HTTP.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/walletguard/internal/auth"
	"github.com/mbd888/walletguard/internal/bridge"
	"github.com/mbd888/walletguard/internal/bus"
	"github.com/mbd888/walletguard/internal/circuitbreaker"
	"github.com/mbd888/walletguard/internal/config"
	"github.com/mbd888/walletguard/internal/health"
	"github.com/mbd888/walletguard/internal/interceptor"
	"github.com/mbd888/walletguard/internal/jsonrpc"
	"github.com/mbd888/walletguard/internal/logging"
	"github.com/mbd888/walletguard/internal/metrics"
	"github.com/mbd888/walletguard/internal/protocol"
	"github.com/mbd888/walletguard/internal/provider"
	"github.com/mbd888/walletguard/internal/ratelimit"
	"github.com/mbd888/walletguard/internal/realtime"
	"github.com/mbd888/walletguard/internal/risk"
	"github.com/mbd888/walletguard/internal/scoring"
	"github.com/mbd888/walletguard/internal/validation"
	"github.com/mbd888/walletguard/internal/warning"
	"github.com/mbd888/walletguard/internal/webhooks"
	"github.com/mbd888/walletguard/migrations"
)

// Version is reported by /health.
var Version = "dev"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server owns every component and the HTTP listener.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	provider    interceptor.Provider
	scorer      bridge.Scorer
	store       risk.Store
	db          *sql.DB // nil if using in-memory
	bus         *bus.Bus
	interceptor *interceptor.Interceptor
	bridge      *bridge.Bridge
	warnings    *warning.Queue
	hub         *realtime.Hub
	webhooks    *webhooks.Dispatcher
	authMgr     *auth.Manager
	rateLimiter *ratelimit.Limiter
	health      *health.Registry

	router       *gin.Engine
	httpSrv      *http.Server
	cancelRunCtx context.CancelFunc
	background   sync.WaitGroup
	shutdownOnce sync.Once
	shutdownErr  error

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithProvider injects the upstream provider instead of dialing
// UPSTREAM_RPC_URL.
func WithProvider(p interceptor.Provider) Option {
	return func(s *Server) { s.provider = p }
}

// WithScorer replaces the HTTP scoring client.
func WithScorer(sc bridge.Scorer) Option {
	return func(s *Server) { s.scorer = sc }
}

// WithStore replaces the verdict store chosen from DATABASE_URL.
func WithStore(st risk.Store) Option {
	return func(s *Server) { s.store = st }
}

// New builds every component. Nothing runs until Run.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.health = health.NewRegistry(5 * time.Second)

	if err := s.setupStorage(ctx); err != nil {
		return nil, err
	}
	if err := s.setupProvider(ctx); err != nil {
		return nil, err
	}
	s.setupScorer()
	if err := s.setupAuth(); err != nil {
		return nil, err
	}
	if cfg.WebhookURL != "" {
		d, err := webhooks.NewDispatcher(cfg.WebhookURL, cfg.WebhookSecret,
			webhooks.WithLogger(s.logger),
			webhooks.WithAllowPrivate(cfg.IsDevelopment()))
		if err != nil {
			return nil, err
		}
		s.webhooks = d
		s.logger.Info("verdict webhooks enabled")
	}

	s.hub = realtime.NewHub(s.logger)
	s.warnings = warning.NewQueue(s.hub, s.logger)
	s.hub.SetDecisionHandler(s.warnings.HandleDecision)

	s.bus = bus.New(s.logger, bus.WithQueueSize(cfg.BusQueueSize))
	s.interceptor = interceptor.New(s.provider, s.bus,
		interceptor.WithLogger(s.logger),
		interceptor.WithDecisionTimeout(cfg.DecisionTimeout),
		interceptor.WithInterceptHook(s.onIntercept),
	)

	bridgeOpts := []bridge.Option{
		bridge.WithLogger(s.logger),
		bridge.WithStore(s.store),
		bridge.WithUITimeout(cfg.DecisionTimeout),
		bridge.WithDecisionHook(s.onDecision),
	}
	if s.webhooks != nil {
		bridgeOpts = append(bridgeOpts, bridge.WithNotifier(s.webhooks))
	}
	s.bridge = bridge.New(s.bus, s.scorer, s.warnings, bridgeOpts...)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

func (s *Server) setupStorage(ctx context.Context) error {
	if s.store != nil {
		return nil
	}
	if s.cfg.DatabaseURL == "" {
		s.store = risk.NewMemoryStore()
		s.logger.Info("using in-memory verdict store (data will not persist)")
		return nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := migrations.Up(ctx, db); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	s.db = db
	s.store = risk.NewPostgresStore(db)
	s.health.Register("database", health.Ping("database", db.PingContext))
	s.logger.Info("using PostgreSQL verdict store", "url", maskDSN(s.cfg.DatabaseURL))
	return nil
}

func (s *Server) setupProvider(ctx context.Context) error {
	if s.provider == nil {
		up, err := provider.Dial(ctx, provider.Config{
			URL:             s.cfg.UpstreamRPCURL,
			ExpectedChainID: s.cfg.ChainID,
		})
		if err != nil {
			return err
		}
		s.provider = up
		s.logger.Info("upstream provider connected", "url", maskDSN(s.cfg.UpstreamRPCURL))
	}
	if p, ok := s.provider.(interface{ Ping(context.Context) error }); ok {
		s.health.Register("upstream", health.Ping("upstream", p.Ping))
	}
	return nil
}

func (s *Server) setupScorer() {
	if s.scorer == nil {
		breaker := circuitbreaker.New(s.cfg.BreakerThreshold, s.cfg.BreakerOpenFor,
			circuitbreaker.WithListener(func(key string, from, to circuitbreaker.State) {
				s.logger.Warn("scoring circuit changed state", "endpoint", key, "from", from, "to", to)
			}))
		s.scorer = scoring.NewClient(s.cfg.ScoringURL,
			scoring.WithTimeout(s.cfg.ScoringTimeout),
			scoring.WithBreaker(breaker))
	}
	if p, ok := s.scorer.(interface{ Ping(context.Context) error }); ok {
		// Scoring outages fail closed, so they degrade rather than unready.
		s.health.RegisterOptional("scoring", health.Ping("scoring", p.Ping))
	}
}

func (s *Server) setupAuth() error {
	token := s.cfg.OperatorToken
	if token == "" {
		generated, err := auth.GenerateToken()
		if err != nil {
			return err
		}
		token = generated
		s.logger.Warn("OPERATOR_TOKEN not set, generated a token for this run", "operator_token", token)
	}
	m, err := auth.NewManager(token)
	if err != nil {
		return err
	}
	s.authMgr = m
	return nil
}

// onIntercept announces a parked submission to live operators.
func (s *Server) onIntercept(p interceptor.PendingSnapshot) {
	s.hub.Publish(realtime.EventTransactionIntercepted, p, p.Payload.From, p.Payload.To)
}

// onDecision announces a published decision to live operators.
func (s *Server) onDecision(d protocol.Decision, v *risk.Verdict) {
	s.hub.Publish(realtime.EventDecision, v.Clone(), v.Wallet, v.Contract)
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// JSON-RPC proxy. Public: wallets and dapps call it directly.
	jsonrpc.NewHandler(s.interceptor).RegisterRoutes(s.router)

	v1 := s.router.Group("/v1")
	v1.POST("/assess", s.assessHandler)

	operator := v1.Group("", auth.RequireAuth())
	operator.GET("/pending", s.pendingHandler)
	warning.NewHandler(s.warnings).RegisterRoutes(operator)

	verdicts := v1.Group("", auth.RequireAuth(), validation.CorrelationParamMiddleware())
	risk.NewHandler(s.store).RegisterRoutes(verdicts)

	s.router.GET("/ws", auth.RequireAuth(), func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start launches the background components without the HTTP listener.
func (s *Server) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.goBackground(func() { s.hub.Run(runCtx) })
	s.goBackground(func() { s.interceptor.Run(runCtx) })
	s.goBackground(func() { s.bridge.Run(runCtx) })
	s.goBackground(func() { s.rateLimiter.Run(runCtx) })
	if s.webhooks != nil {
		s.goBackground(func() { s.webhooks.Run(runCtx) })
	}
	if s.db != nil {
		s.goBackground(func() { metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second) })
	}
	s.ready.Store(true)
}

func (s *Server) goBackground(fn func()) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		fn()
	}()
}

// Run starts the HTTP server and blocks until a signal, ctx or a listener
// error, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No write timeout: gated submissions wait for a human decision.
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"scoring_url", s.cfg.ScoringURL,
			"decision_timeout", s.cfg.DecisionTimeout,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.Start(ctx)
	s.logger.Info("server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}
	return s.Shutdown()
}

// Shutdown rejects outstanding submissions, drains HTTP and stops every
// background component. Calls after the first return its result.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() { s.shutdownErr = s.shutdown() })
	return s.shutdownErr
}

func (s *Server) shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Parked callers get a fail-closed rejection instead of hanging.
	s.interceptor.Close()

	var shutdownErr error
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}
	s.bridge.Close()
	s.background.Wait()
	s.bus.Close()

	if c, ok := s.provider.(interface{ Close() }); ok {
		c.Close()
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

// Interceptor exposes the wrapped provider for in-process callers.
func (s *Server) Interceptor() *interceptor.Interceptor {
	return s.interceptor
}

// Warnings exposes the decision queue for in-process callers.
func (s *Server) Warnings() *warning.Queue {
	return s.warnings
}
