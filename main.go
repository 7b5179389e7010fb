package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"delta-trading-bot/config"
	"delta-trading-bot/internal/api"
	"delta-trading-bot/internal/bot"
	"delta-trading-bot/internal/cache"
	"delta-trading-bot/internal/database"
	"delta-trading-bot/internal/delta"
	"delta-trading-bot/internal/events"
	"delta-trading-bot/internal/logging"
	"delta-trading-bot/internal/marketdata"
	"delta-trading-bot/internal/notification"
	"delta-trading-bot/internal/orders"
	"delta-trading-bot/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := logging.New(&logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		Component:  "main",
		JSONFormat: cfg.LoggingConfig.JSONFormat,
	})
	logging.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Exchange credentials: Vault when enabled, env/config otherwise
	creds, err := vault.ResolveCredentials(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to resolve exchange credentials: %v", err)
	}

	client := delta.NewClient(creds.APIKey, creds.SecretKey,
		cfg.DeltaConfig.BaseURL, cfg.DeltaConfig.RequestTimeout)

	// A failed balance read at startup means bad credentials or an
	// unreachable venue; refuse to trade.
	validateCtx, validateCancel := context.WithTimeout(ctx, 15*time.Second)
	balance, err := client.GetWalletBalance(validateCtx, cfg.StrategyConfig.AssetID)
	validateCancel()
	if err != nil {
		log.Fatalf("Exchange API validation failed: %v", err)
	}
	logger.Info("exchange connection validated",
		"asset_id", cfg.StrategyConfig.AssetID, "balance", balance)

	// Optional persistence
	var repo *database.Repository
	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(cfg.DatabaseConfig)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		repo = database.NewRepository(db)

		// per-symbol overrides stored in the database win over file/env
		if settings, err := repo.GetStrategySettings(ctx, cfg.StrategyConfig.Symbol); err != nil {
			logger.Warn("strategy settings not loaded from database", "error", err)
		} else if settings != nil && settings.Enabled {
			cfg.StrategyConfig.STPeriod = settings.STPeriod
			cfg.StrategyConfig.STMultiplier = settings.STMultiplier
			cfg.StrategyConfig.PositionSizePct = settings.PositionSizePct
			cfg.StrategyConfig.TakeProfitMult = settings.TakeProfitMult
			cfg.StrategyConfig.Leverage = settings.Leverage
			cfg.RiskConfig.MaxLossPercent = settings.MaxLossPercent
			logger.Info("strategy settings loaded from database",
				"symbol", settings.Symbol, "st_period", settings.STPeriod)
		}
	}

	bus := events.NewBus()
	notifier := notification.NewManager(cfg.NotificationConfig)
	notifier.Attach(bus)
	if repo != nil {
		persistSystemEvents(bus, repo, logger)
	}

	marketCache := cache.NewMarketCache(cfg.RedisConfig)
	defer marketCache.Close()

	feed := marketdata.NewFeed(cfg.StrategyConfig.MinCandles,
		marketdata.NewDeltaSource(client),
		marketdata.NewBinanceSource(cfg.FallbackConfig.BaseURL,
			cfg.FallbackConfig.SymbolMap, cfg.FallbackConfig.RequestTimeout))

	gateway := orders.NewGateway(client, cfg.StrategyConfig.ProductID)

	trader := bot.New(cfg.StrategyConfig, cfg.RiskConfig,
		feed, gateway, client, marketCache, bus, repoOrNil(repo))
	if err := trader.Start(); err != nil {
		log.Fatalf("Failed to start bot: %v", err)
	}

	server := api.NewServer(cfg.ServerConfig, cfg.AuthConfig, trader, repo, bus)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("api server stopped", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	trader.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}

// persistSystemEvents writes every bus event to the system_events audit
// table. Failures are logged and dropped; the audit trail is best effort.
func persistSystemEvents(bus *events.Bus, repo *database.Repository, logger *logging.Logger) {
	bus.SubscribeAll(func(e events.Event) {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return
		}
		component, _ := e.Data["component"].(string)
		message, _ := e.Data["message"].(string)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := repo.RecordSystemEvent(ctx, string(e.Type), component, message, data); err != nil {
			logger.Warn("system event not persisted", "event", string(e.Type), "error", err)
		}
	})
}

// repoOrNil avoids handing the bot a typed-nil Recorder.
func repoOrNil(repo *database.Repository) bot.Recorder {
	if repo == nil {
		return nil
	}
	return repo
}
