package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/juju/ratelimit"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/amoylab/pigeon/internal/broker"
	"github.com/amoylab/pigeon/internal/common/cnst"
	"github.com/amoylab/pigeon/internal/common/config"
	"github.com/amoylab/pigeon/internal/identity"
	"github.com/amoylab/pigeon/pkg/metrics"
)

type (
	// Server exposes the delivery core over HTTP and SSE
	Server struct {
		logger  *zap.Logger
		cfg     *config.PigeonConfig
		router  *gin.Engine
		broker  *broker.Broker
		ids     *identity.Generator
		cookies *identity.CookieCodec
		metrics *metrics.Metrics
		http    *http.Server
		// shutdownCh is closed to end all open streams
		shutdownCh   chan struct{}
		shutdownOnce sync.Once
	}
)

// NewServer creates the HTTP server. m may be nil. A cookie codec is built
// when the cookie identity policy is configured.
func NewServer(logger *zap.Logger, cfg *config.PigeonConfig, b *broker.Broker, ids *identity.Generator, m *metrics.Metrics) (*Server, error) {
	s := &Server{
		logger:     logger.Named("server"),
		cfg:        cfg,
		router:     gin.New(),
		broker:     b,
		ids:        ids,
		metrics:    m,
		shutdownCh: make(chan struct{}),
	}

	if cnst.IdentityPolicy(cfg.Session.Identity) == cnst.IdentityCookie {
		codec, err := identity.NewCookieCodec(cfg.Session.Cookie.Secret, cfg.Session.Cookie.MaxAge, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie codec: %w", err)
		}
		s.cookies = codec
	}

	s.router.Use(s.recoveryMiddleware())
	s.router.Use(s.loggerMiddleware())
	if cfg.Tracing.Enabled {
		s.router.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	if cfg.Metrics.Enabled && m != nil {
		s.router.Use(m.Middleware())
	}
	if cfg.CORS.Enabled {
		s.router.Use(corsMiddleware(cfg.CORS))
	}

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/", s.handleIndex)
	s.router.GET("/health_check", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Health check passed.",
		})
	})
	if s.cfg.Metrics.Enabled && s.metrics != nil {
		s.router.GET(s.cfg.Metrics.Path, gin.WrapH(s.metrics.Handler()))
	}

	send := []gin.HandlerFunc{s.handleSendMsg}
	if s.cfg.RateLimit.Enabled {
		bucket := ratelimit.NewBucket(s.cfg.RateLimit.FillInterval, s.cfg.RateLimit.Capacity)
		send = append([]gin.HandlerFunc{s.rateLimitMiddleware(bucket)}, send...)
	}

	s.router.POST("/start", s.handleStart)
	if s.cookies != nil {
		s.router.GET("/sse", s.handleSSE)
		s.router.POST("/send_msg", send...)
	} else {
		s.router.GET("/sse/:session_id", s.handleSSE)
		s.router.POST("/send_msg/:session_id", send...)
	}
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP on the configured port in the background
func (s *Server) Start() {
	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.router,
	}
	go func() {
		s.logger.Info("listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("failed to start server", zap.Error(err))
		}
	}()
}

// Shutdown ends all open streams and stops accepting requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
