package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"btc-tournament/config"
	"btc-tournament/internal/apperr"
	"btc-tournament/internal/auth"
	"btc-tournament/internal/database"
	"btc-tournament/internal/events"
	"btc-tournament/internal/klines"
	"btc-tournament/internal/logging"
	"btc-tournament/internal/metrics"
	"btc-tournament/internal/pricefeed"
	"btc-tournament/internal/round"
)

// Server hosts the tournament's HTTP surface over a *http.Server, following
// the teacher's gin.New()+middleware-stack+graceful-shutdown server shape.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        ServerConfig
	repo       *database.Repository
	roundSvc   *round.Service
	fetcher    *klines.Fetcher
	feed       *pricefeed.Feed
	metrics    *metrics.Registry
	bus        *events.Bus
	log        *logging.Logger
}

// ServerConfig is the subset of config the server needs, flattened from
// config.ServerConfig/AuthConfig/RoundConfig at construction time.
type ServerConfig struct {
	Host               string
	Port               int
	AllowedOrigins     string
	ReadTimeout        int
	WriteTimeout       int
	AdminAPIToken      string
	SignatureWindowSec int
}

// NewServer constructs the gin engine and route table. feed, reg, and bus may
// be nil in environments with no live price source, metrics, or event
// broadcasting configured.
func NewServer(
	cfg ServerConfig,
	repo *database.Repository,
	roundSvc *round.Service,
	fetcher *klines.Fetcher,
	feed *pricefeed.Feed,
	reg *metrics.Registry,
	bus *events.Bus,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.GinMiddleware())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "" || cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = []string{cfg.AllowedOrigins}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Agent-Id", "X-Ts", "X-Signature"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:   router,
		cfg:      cfg,
		repo:     repo,
		roundSvc: roundSvc,
		fetcher:  fetcher,
		feed:     feed,
		metrics:  reg,
		bus:      bus,
		log:      logging.Default().WithComponent("api"),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// NewServerConfig flattens the parts of config.Config the API server needs.
func NewServerConfig(server config.ServerConfig, authCfg config.AuthConfig, roundCfg config.RoundConfig) ServerConfig {
	return ServerConfig{
		Host:               server.Host,
		Port:               server.Port,
		AllowedOrigins:     server.AllowedOrigins,
		ReadTimeout:        server.ReadTimeout,
		WriteTimeout:       server.WriteTimeout,
		AdminAPIToken:      authCfg.AdminAPIToken,
		SignatureWindowSec: roundCfg.SignatureWindowSec,
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/api/health", s.handleHealth)
	s.router.GET("/api/summary", s.handleSummary)
	s.router.POST("/api/advance", s.handleAdvance)
	s.router.GET("/api/klines", s.handleKlines)
	s.router.GET("/api/reason-stats", s.handleReasonStatsGlobal)
	s.router.GET("/api/agents/:id/reason-stats", s.handleReasonStatsForAgent)
	s.router.GET("/api/diagnostics/hyperliquid", s.handleDiagnostics)
	s.router.GET("/api/events", s.handleEventStream)

	s.router.POST("/api/v1/agents/register", s.handleRegister)
	s.router.GET("/claim/:token", s.handleClaim)

	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	agents := s.router.Group("/api/v1/agents")
	agents.Use(auth.BearerMiddleware(s.repo))
	agents.GET("/status", s.handleAgentStatus)
	agents.GET("/me", s.handleAgentMe)

	judgments := s.router.Group("/api/v1/judgments")
	judgments.Use(auth.BearerMiddleware(s.repo))
	judgments.POST("", s.handleSubmitJudgment)

	admin := s.router.Group("/api/admin")
	admin.Use(auth.AdminMiddleware(s.cfg.AdminAPIToken))
	admin.POST("/advance", s.handleAdvance)
}

// Start begins serving HTTP requests. It blocks until the listener stops.
func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("starting http server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

// errorResponse maps an error to its HTTP status via apperr.Kind, falling
// back to 500 for anything not wrapped as an *apperr.Error.
func errorResponse(c *gin.Context, err error) {
	if appErr, ok := apperr.As(err); ok {
		c.JSON(appErr.Kind.HTTPStatus(), gin.H{"error": appErr.Code, "message": appErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL", "message": err.Error()})
}

func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}
