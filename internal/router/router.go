package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/notification-dispatcher/internal/handler/health"
	"github.com/jwalitptl/notification-dispatcher/internal/handler/prometheus"
	"github.com/jwalitptl/notification-dispatcher/internal/middleware"
	"github.com/jwalitptl/notification-dispatcher/pkg/logger"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine    *gin.Engine
	auth      *middleware.AuthMiddleware
	health    *health.Handler
	metrics   *prometheus.Handler
	protected []Handler
	config    RouterConfig
}

type RouterConfig struct {
	Mode           string
	Logger         *logger.Logger
	RequestTimeout time.Duration
	RateLimit      rate.Limit
	RateBurst      int
	MaxBodySize    int64
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	healthH *health.Handler,
	metricsH *prometheus.Handler,
	config RouterConfig,
	protected ...Handler,
) *Router {
	if config.Mode == "" {
		config.Mode = gin.ReleaseMode
	}
	gin.SetMode(config.Mode)
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}

	engine := gin.New()

	r := &Router{
		engine:    engine,
		auth:      auth,
		health:    healthH,
		metrics:   metricsH,
		protected: protected,
		config:    config,
	}

	// Logger and metrics wrap recovery and error handling so they see the final status
	engine.Use(
		middleware.RequestID(),
		middleware.Logger(config.Logger),
		metricsH.Middleware(),
		middleware.Recovery(config.Logger),
		middleware.ErrorHandler(config.Logger),
	)

	return r
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")

	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	r.setupHealthCheck(api)

	// Ops routes are only served when token auth is configured
	if r.auth == nil {
		return
	}
	sizeLimit := middleware.DefaultSizeLimitConfig()
	if r.config.MaxBodySize > 0 {
		sizeLimit.MaxBodySize = r.config.MaxBodySize
	}

	protected := api.Group("")
	protected.Use(
		middleware.SizeLimit(sizeLimit),
		r.auth.Authenticate(),
		middleware.Timeout(r.config.RequestTimeout),
	)
	if r.config.RateLimit > 0 {
		protected.Use(middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  r.config.RateLimit,
			Burst: r.config.RateBurst,
		}).RateLimit())
	}
	for _, h := range r.protected {
		h.RegisterRoutes(protected)
	}
}

func (r *Router) setupHealthCheck(rg *gin.RouterGroup) {
	r.health.RegisterRoutes(rg)
	rg.GET("/health/metrics", r.metrics.Handler())
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
