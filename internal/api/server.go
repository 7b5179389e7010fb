// Package api serves the dashboard: bot status and history over REST, live
// events over a websocket. The surface is read-only except start/stop.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"delta-trading-bot/config"
	"delta-trading-bot/internal/auth"
	"delta-trading-bot/internal/bot"
	"delta-trading-bot/internal/database"
	"delta-trading-bot/internal/events"
	"delta-trading-bot/internal/logging"
)

// BotController is what the API needs from the strategy loop.
type BotController interface {
	Start() error
	Stop()
	Status() bot.Snapshot
	Config() config.StrategyConfig
	UpdateConfig(cfg config.StrategyConfig)
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	controller BotController
	repo       *database.Repository // nil when persistence is disabled
	hub        *Hub
	jwtManager *auth.JWTManager
	authCfg    config.AuthConfig
	logger     *logging.Logger
}

// NewServer creates the API server and registers routes. repo may be nil.
func NewServer(cfg config.ServerConfig, authCfg config.AuthConfig,
	controller BotController, repo *database.Repository, bus *events.Bus) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if cfg.AllowedOrigins == "" || cfg.AllowedOrigins == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	router.Use(cors.New(corsCfg))

	s := &Server{
		router:     router,
		controller: controller,
		repo:       repo,
		hub:        NewHub(),
		authCfg:    authCfg,
		logger:     logging.WithComponent("api"),
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	if authCfg.Enabled {
		s.jwtManager = auth.NewJWTManager(authCfg.JWTSecret, authCfg.AccessTokenDuration)
	}

	go s.hub.Run()
	bus.SubscribeAll(s.hub.BroadcastEvent)

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/api/health", s.handleHealth)
	s.router.GET("/ws", s.handleWebSocket)

	api := s.router.Group("/api")
	if s.jwtManager != nil {
		s.router.POST("/api/login", s.handleLogin)
		api.Use(auth.Middleware(s.jwtManager))
	}

	api.GET("/status", s.handleStatus)
	api.POST("/bot/start", s.handleStart)
	api.POST("/bot/stop", s.handleStop)
	api.GET("/trades", s.handleTrades)
	api.GET("/trades/open", s.handleOpenTrade)
	api.GET("/signals", s.handleSignals)
	api.GET("/settings", s.handleSettings)
	api.PUT("/settings", s.handleUpdateSettings)
}

// Start runs the HTTP server until it fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("api server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server error: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server gracefully and tears down the websocket
// hub with its client pumps.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.hub.Stop()
	return err
}
