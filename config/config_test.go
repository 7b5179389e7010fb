package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := &Config{}
	cfg.DeltaConfig.APIKey = "key"
	cfg.DeltaConfig.SecretKey = "secret"
	applyDefaults(cfg)
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := validConfig()

	if cfg.StrategyConfig.CandleSize != "5m" {
		t.Errorf("candle_size = %s, want 5m", cfg.StrategyConfig.CandleSize)
	}
	if cfg.StrategyConfig.STPeriod != 10 || cfg.StrategyConfig.STMultiplier != 3.0 {
		t.Errorf("supertrend defaults = %d/%v, want 10/3.0",
			cfg.StrategyConfig.STPeriod, cfg.StrategyConfig.STMultiplier)
	}
	if cfg.StrategyConfig.PositionSizePct != 0.5 {
		t.Errorf("position_size_pct = %v, want 0.5", cfg.StrategyConfig.PositionSizePct)
	}
	if cfg.StrategyConfig.TakeProfitMult != 1.5 {
		t.Errorf("take_profit_mult = %v, want 1.5", cfg.StrategyConfig.TakeProfitMult)
	}
	if cfg.RiskConfig.MaxLossPercent != 0.1 {
		t.Errorf("max_loss_percent = %v, want 0.1", cfg.RiskConfig.MaxLossPercent)
	}
	if cfg.StrategyConfig.MaxPendingTicks != 3 {
		t.Errorf("max_pending_ticks = %d, want 3", cfg.StrategyConfig.MaxPendingTicks)
	}
	if cfg.FallbackConfig.SymbolMap["BTCUSD"] != "BTCUSDT" {
		t.Errorf("fallback symbol map missing BTCUSD mapping")
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidateRejectsMissingCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.DeltaConfig.APIKey = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "credentials") {
		t.Fatalf("expected credentials error, got %v", err)
	}

	// vault takes over credential sourcing
	cfg.VaultConfig.Enabled = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("vault-enabled config should validate: %v", err)
	}
}

func TestValidateBounds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero product id", func(c *Config) { c.StrategyConfig.ProductID = 0 }},
		{"empty symbol", func(c *Config) { c.StrategyConfig.Symbol = "" }},
		{"st_period too large", func(c *Config) { c.StrategyConfig.STPeriod = 101 }},
		{"st_multiplier too small", func(c *Config) { c.StrategyConfig.STMultiplier = 0.01 }},
		{"position size over 1", func(c *Config) { c.StrategyConfig.PositionSizePct = 1.5 }},
		{"zero take profit", func(c *Config) { c.StrategyConfig.TakeProfitMult = 0 }},
		{"max loss over 1", func(c *Config) { c.RiskConfig.MaxLossPercent = 2 }},
		{"auth without secret", func(c *Config) { c.AuthConfig.Enabled = true; c.AuthConfig.JWTSecret = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DELTA_API_KEY", "env-key")
	t.Setenv("DELTA_API_SECRET", "env-secret")
	t.Setenv("STRATEGY_SYMBOL", "ETHUSD")
	t.Setenv("STRATEGY_ST_PERIOD", "14")
	t.Setenv("STRATEGY_MONITOR_INTERVAL", "10s")
	t.Setenv("RISK_MAX_LOSS_PERCENT", "0.05")

	cfg := &Config{}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if cfg.DeltaConfig.APIKey != "env-key" {
		t.Errorf("api key = %s, want env-key", cfg.DeltaConfig.APIKey)
	}
	if cfg.StrategyConfig.Symbol != "ETHUSD" {
		t.Errorf("symbol = %s, want ETHUSD", cfg.StrategyConfig.Symbol)
	}
	if cfg.StrategyConfig.STPeriod != 14 {
		t.Errorf("st_period = %d, want 14", cfg.StrategyConfig.STPeriod)
	}
	if cfg.StrategyConfig.MonitorInterval.Seconds() != 10 {
		t.Errorf("monitor_interval = %v, want 10s", cfg.StrategyConfig.MonitorInterval)
	}
	if cfg.RiskConfig.MaxLossPercent != 0.05 {
		t.Errorf("max_loss_percent = %v, want 0.05", cfg.RiskConfig.MaxLossPercent)
	}
}
