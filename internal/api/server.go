// Package api serves the control plane: fleet status, manual agent
// start/stop, orchestrator pause/resume and a websocket status stream.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/titanfleet/internal/config"
	"github.com/ajitpratap0/titanfleet/internal/fleet"
	"github.com/ajitpratap0/titanfleet/internal/journal"
	"github.com/ajitpratap0/titanfleet/internal/market"
)

// FleetService is the slice of the fleet manager the API drives.
type FleetService interface {
	StartBot(ctx context.Context, symbol string, params fleet.AgentParams) error
	StopBot(ctx context.Context, symbol string, managePosition bool)
	Statuses() []fleet.AgentStatus
}

// ControlService is the slice of the orchestrator the API drives.
type ControlService interface {
	Pause() error
	Resume() error
	IsPaused() bool
	CurrentSelection() []string
}

// MarketData provides bar history for the per-symbol tech snapshot.
type MarketData interface {
	HistorySnapshot(symbol string) []market.Bar
}

// FillReader serves recent fills from the trade journal.
type FillReader interface {
	RecentFills(ctx context.Context, limit int) ([]journal.Fill, error)
}

// Server represents the control-plane HTTP server
type Server struct {
	router *gin.Engine
	addr   string
	server *http.Server

	mode    string
	fleet   FleetService
	control ControlService
	market  MarketData
	fills   FillReader

	logger zerolog.Logger
}

// Config contains server configuration. Market and Fills are optional.
type Config struct {
	Host    string
	Port    int
	Mode    string
	Fleet   FleetService
	Control ControlService
	Market  MarketData
	Fills   FillReader
}

// NewServer creates a new control-plane server
func NewServer(cfg Config) *Server {
	// Set Gin to release mode for production
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	server := &Server{
		router:  router,
		addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		mode:    cfg.Mode,
		fleet:   cfg.Fleet,
		control: cfg.Control,
		market:  cfg.Market,
		fills:   cfg.Fills,
		logger:  config.NewLogger("api"),
	}

	server.setupRoutes()

	return server
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", s.addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}

	return nil
}

// LoggerMiddleware is a custom logging middleware for Gin
func LoggerMiddleware() gin.HandlerFunc {
	logger := config.NewLogger("api")

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method

		logEvent := logger.Info().
			Str("method", method).
			Str("path", path).
			Str("query", query).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("client_ip", clientIP)

		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}

		logEvent.Msg("API request")
	}
}
