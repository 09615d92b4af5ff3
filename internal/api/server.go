package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/KonstantinMB/tradelikebot/internal/bot"
	"github.com/KonstantinMB/tradelikebot/internal/metrics"
)

// StatusProvider exposes the read-only view of the running agent that the
// HTTP server serves. The trading bot implements it.
type StatusProvider interface {
	Status() []bot.SymbolStatus
	StreamRunning() bool
	StreamReconnects() int
}

// ServerConfig holds the HTTP server settings
type ServerConfig struct {
	Port           string
	AllowedOrigins []string
}

// Server is a read-only status and metrics server. It never places, modifies,
// or cancels orders.
type Server struct {
	router     *gin.Engine
	provider   StatusProvider
	config     ServerConfig
	httpServer *http.Server
	logger     zerolog.Logger
	startedAt  time.Time
}

// NewServer creates a new status API server
func NewServer(config ServerConfig, provider StatusProvider, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = config.AllowedOrigins
	if len(config.AllowedOrigins) == 1 && config.AllowedOrigins[0] == "*" {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:    router,
		provider:  provider,
		config:    config,
		logger:    logger.With().Str("component", "api").Logger(),
		startedAt: time.Now(),
	}

	server.setupRoutes()

	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/api/status", s.handleStatus)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%s", s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK
	if !s.provider.StreamRunning() {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":         status,
		"stream_running": s.provider.StreamRunning(),
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"symbols":           s.provider.Status(),
		"stream_running":    s.provider.StreamRunning(),
		"stream_reconnects": s.provider.StreamReconnects(),
	})
}
