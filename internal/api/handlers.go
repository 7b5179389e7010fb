package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"delta-trading-bot/internal/auth"
	"delta-trading-bot/internal/database"
)

func (s *Server) handleHealth(c *gin.Context) {
	health := gin.H{"status": "ok"}
	if s.repo != nil {
		if err := s.repo.HealthCheck(c.Request.Context()); err != nil {
			health["status"] = "degraded"
			health["database"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, health)
			return
		}
		health["database"] = "ok"
	}
	c.JSON(http.StatusOK, health)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller.Status())
}

func (s *Server) handleStart(c *gin.Context) {
	if err := s.controller.Start(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (s *Server) handleStop(c *gin.Context) {
	s.controller.Stop()
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (s *Server) handleTrades(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "persistence disabled"})
		return
	}
	symbol := c.DefaultQuery("symbol", s.controller.Status().Symbol)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	trades, err := s.repo.ListTrades(c.Request.Context(), symbol, limit)
	if err != nil {
		s.logger.Error("listing trades failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list trades"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleOpenTrade(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "persistence disabled"})
		return
	}
	symbol := c.DefaultQuery("symbol", s.controller.Status().Symbol)

	trade, err := s.repo.GetOpenTrade(c.Request.Context(), symbol)
	if err != nil {
		s.logger.Error("fetching open trade failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch open trade"})
		return
	}
	if trade == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no open trade"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trade": trade})
}

func (s *Server) handleSignals(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "persistence disabled"})
		return
	}
	symbol := c.DefaultQuery("symbol", s.controller.Status().Symbol)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	signals, err := s.repo.ListSignals(c.Request.Context(), symbol, limit)
	if err != nil {
		s.logger.Error("listing signals failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list signals"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals})
}

type settingsRequest struct {
	STPeriod        int     `json:"st_period" binding:"required"`
	STMultiplier    float64 `json:"st_multiplier" binding:"required"`
	PositionSizePct float64 `json:"position_size_pct" binding:"required"`
	TakeProfitMult  float64 `json:"take_profit_mult" binding:"required"`
	Leverage        int     `json:"leverage" binding:"required"`
	MaxLossPercent  float64 `json:"max_loss_percent" binding:"required"`
}

func (s *Server) handleSettings(c *gin.Context) {
	cfg := s.controller.Config()
	c.JSON(http.StatusOK, gin.H{
		"symbol":            cfg.Symbol,
		"st_period":         cfg.STPeriod,
		"st_multiplier":     cfg.STMultiplier,
		"position_size_pct": cfg.PositionSizePct,
		"take_profit_mult":  cfg.TakeProfitMult,
		"leverage":          cfg.Leverage,
	})
}

// handleUpdateSettings mutates the strategy parameters at runtime. The bot
// picks them up at its next tick boundary; with persistence enabled they
// also survive restarts. The risk ceiling is stored but only read at
// startup.
func (s *Server) handleUpdateSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "all settings fields are required"})
		return
	}
	if req.STPeriod < 2 || req.STPeriod > 100 || req.STMultiplier <= 0 ||
		req.PositionSizePct <= 0 || req.PositionSizePct > 1 ||
		req.TakeProfitMult <= 0 || req.Leverage < 1 ||
		req.MaxLossPercent <= 0 || req.MaxLossPercent > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "settings out of range"})
		return
	}

	cfg := s.controller.Config()
	cfg.STPeriod = req.STPeriod
	cfg.STMultiplier = req.STMultiplier
	cfg.PositionSizePct = req.PositionSizePct
	cfg.TakeProfitMult = req.TakeProfitMult
	cfg.Leverage = req.Leverage

	if s.repo != nil {
		settings := &database.StrategySettings{
			Symbol:          cfg.Symbol,
			STPeriod:        req.STPeriod,
			STMultiplier:    req.STMultiplier,
			PositionSizePct: req.PositionSizePct,
			TakeProfitMult:  req.TakeProfitMult,
			Leverage:        req.Leverage,
			MaxLossPercent:  req.MaxLossPercent,
			Enabled:         true,
		}
		if err := s.repo.UpsertStrategySettings(c.Request.Context(), settings); err != nil {
			s.logger.Error("persisting settings failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist settings"})
			return
		}
	}

	s.controller.UpdateConfig(cfg)
	s.logger.Info("strategy settings updated",
		"symbol", cfg.Symbol, "st_period", cfg.STPeriod, "st_multiplier", cfg.STMultiplier)
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}

	if req.Username != s.authCfg.AdminUser ||
		!auth.CheckPassword(s.authCfg.AdminPasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := s.jwtManager.GenerateToken(req.Username)
	if err != nil {
		s.logger.Error("token generation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
