package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BikeshR/menorepo-sub007/internal/audit"
	"github.com/BikeshR/menorepo-sub007/internal/breaker"
	"github.com/BikeshR/menorepo-sub007/internal/events"
	"github.com/BikeshR/menorepo-sub007/internal/monitor"
	"github.com/BikeshR/menorepo-sub007/internal/order"
	"github.com/BikeshR/menorepo-sub007/internal/risk"
	"github.com/BikeshR/menorepo-sub007/internal/signals"
	"github.com/BikeshR/menorepo-sub007/internal/state"
)

// Engine is the order surface the API drives.
type Engine interface {
	Submit(ctx context.Context, req order.Request) (order.Order, error)
	Cancel(ctx context.Context, id string) (order.Order, error)
	Get(ctx context.Context, id string) (order.Order, error)
	List(ctx context.Context, limit int) ([]order.Order, error)
	GetMetrics() order.Metrics
}

// Gate is the runtime-adjustable signal converter.
type Gate interface {
	Stats() signals.Stats
	DefaultQuantity() float64
	SetEnabled(v bool)
	SetMinConfidence(v float64) error
	SetDefaultQuantity(v float64) error
}

// RiskControl exposes the risk limits.
type RiskControl interface {
	Limits() risk.Limits
	UpdateLimits(l risk.Limits) error
	GetMetrics() risk.Metrics
}

// Portfolio reports the current holdings.
type Portfolio interface {
	Summary() state.Summary
}

// AuditReader reads back the audit trail.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]audit.Entry, error)
	BySubject(ctx context.Context, subject string) ([]audit.Entry, error)
}

// Deps are the components the server exposes. Nil members disable their
// routes' data and answer 503.
type Deps struct {
	Bus       *events.Bus
	Engine    Engine
	Breakers  *breaker.Set
	Gate      Gate
	Risk      RiskControl
	Portfolio Portfolio
	Audit     AuditReader
}

// Options tune the server.
type Options struct {
	JWTSecret string
	// OperatorPasswordHash is a bcrypt hash; empty disables the operator
	// routes entirely, whatever JWTSecret holds.
	OperatorPasswordHash string
	TokenTTL             time.Duration
	RateLimit            float64 // requests per second per client IP
	RateBurst            int
	RequestTimeout       time.Duration
	Meta                 SystemMeta
}

// SystemMeta describes the running process.
type SystemMeta struct {
	Mode    string   `json:"mode"`
	Symbols []string `json:"symbols"`
	Version string   `json:"version"`
}

// Server wires HTTP endpoints around the execution core.
type Server struct {
	Router  *gin.Engine
	deps    Deps
	opts    Options
	log     *zap.SugaredLogger
	limiter *IPLimiter
	latency *monitor.LatencyHistogram
	started time.Time
}

func NewServer(deps Deps, opts Options, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 12 * time.Hour
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 50
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	s := &Server{
		Router:  gin.New(),
		deps:    deps,
		opts:    opts,
		log:     log,
		limiter: NewIPLimiter(opts.RateLimit, opts.RateBurst),
		latency: monitor.NewLatencyHistogram(1024),
		started: time.Now(),
	}

	// Middleware stack (order matters!)
	s.Router.Use(gin.Recovery())
	s.Router.Use(RequestIDMiddleware())
	s.Router.Use(RequestLogger(log, s.latency))
	s.Router.Use(RateLimitMiddleware(s.limiter, log))
	s.Router.Use(TimeoutMiddleware(opts.RequestTimeout))
	s.Router.Use(CORSMiddleware())

	s.routes()
	return s
}

func (s *Server) routes() {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(s.deps, s.latency))

	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.POST("/auth/token", s.issueToken)

		api.POST("/orders", s.submitOrder)
		api.GET("/orders", s.listOrders)
		api.GET("/orders/:id", s.getOrder)
		api.DELETE("/orders/:id", s.cancelOrder)

		api.GET("/engine/metrics", s.getEngineMetrics)
		api.GET("/bus/metrics", s.getBusMetrics)
		api.GET("/breakers", s.listBreakers)
		api.GET("/breakers/:name", s.getBreaker)
		api.GET("/signals/gate", s.getGate)
		api.GET("/risk", s.getRisk)
		api.GET("/portfolio", s.getPortfolio)

		// Operator-only. Without a password no token can be issued legitimately,
		// so a token that verifies was forged with the secret.
		secret := s.opts.JWTSecret
		if s.opts.OperatorPasswordHash == "" {
			secret = ""
		}
		protected := api.Group("")
		protected.Use(AuthMiddleware(secret))
		{
			protected.PUT("/signals/gate", s.updateGate)
			protected.PUT("/risk/limits", s.updateRiskLimits)
			protected.GET("/audit", s.getAudit)
			protected.GET("/orders/:id/audit", s.getOrderAudit)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Run serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("api: stopped")
	return nil
}
