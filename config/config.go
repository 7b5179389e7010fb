package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full application configuration. It is loaded once at
// startup from config.json with environment variable overrides, validated,
// and treated as immutable afterwards. The strategy section can be swapped
// at runtime through the loop's refresh channel, never mutated in place.
type Config struct {
	DeltaConfig        DeltaConfig        `json:"delta"`
	StrategyConfig     StrategyConfig     `json:"strategy"`
	RiskConfig         RiskConfig         `json:"risk"`
	FallbackConfig     FallbackConfig     `json:"fallback"`
	LoggingConfig      LoggingConfig      `json:"logging"`
	ServerConfig       ServerConfig       `json:"server"`
	AuthConfig         AuthConfig         `json:"auth"`
	DatabaseConfig     DatabaseConfig     `json:"database"`
	RedisConfig        RedisConfig        `json:"redis"`
	VaultConfig        VaultConfig        `json:"vault"`
	NotificationConfig NotificationConfig `json:"notification"`
}

// DeltaConfig holds Delta Exchange API configuration
type DeltaConfig struct {
	BaseURL        string        `json:"base_url"`
	APIKey         string        `json:"api_key"`
	SecretKey      string        `json:"secret_key"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

// StrategyConfig holds the SuperTrend strategy parameters. Passed into the
// loop by value so a running tick always sees a consistent set.
type StrategyConfig struct {
	Symbol              string  `json:"symbol"`
	ProductID           int     `json:"product_id"`
	AssetID             int     `json:"asset_id"`
	CandleSize          string  `json:"candle_size"`       // e.g. "5m"
	CandleLimit         int     `json:"candle_limit"`      // candles fetched per tick
	MinCandles          int     `json:"min_candles"`       // minimum window before a signal is valid
	STPeriod            int     `json:"st_period"`         // SuperTrend ATR lookback
	STMultiplier        float64 `json:"st_multiplier"`     // SuperTrend band multiplier
	PositionSizePct     float64 `json:"position_size_pct"` // fraction of balance per entry
	TakeProfitMult      float64 `json:"take_profit_mult"`  // reward as multiple of risk
	Leverage            int     `json:"leverage"`
	MonitorInterval     time.Duration `json:"monitor_interval"`      // intra-candle tick
	MaxPendingTicks     int           `json:"max_pending_ticks"`     // cancel unfilled entries after N ticks
	PositionCloseWait   time.Duration `json:"position_close_wait"`   // pause between flatten and re-entry check
	TrailingStopEnabled bool          `json:"trailing_stop_enabled"` // native exchange trailing stop on brackets
}

// RiskConfig holds loss limits applied on every tick
type RiskConfig struct {
	MaxLossPercent float64 `json:"max_loss_percent"` // capital-at-risk / total capital ceiling
	DefaultCapital float64 `json:"default_capital"`  // used when balance is unavailable at startup
}

// FallbackConfig holds the secondary candle source used when the primary
// data endpoint fails
type FallbackConfig struct {
	BaseURL        string            `json:"base_url"`
	SymbolMap      map[string]string `json:"symbol_map"` // Delta symbol -> Binance spot symbol
	RequestTimeout time.Duration     `json:"request_timeout"`
}

// LoggingConfig controls the structured logger
type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`
	IncludeFile bool   `json:"include_file"`
}

// ServerConfig holds the dashboard HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ShutdownTimeout int    `json:"shutdown_timeout"` // seconds
}

// AuthConfig protects the start/stop control endpoints
type AuthConfig struct {
	Enabled             bool          `json:"enabled"`
	JWTSecret           string        `json:"jwt_secret"`
	AdminUser           string        `json:"admin_user"`
	AdminPasswordHash   string        `json:"admin_password_hash"` // bcrypt
	AccessTokenDuration time.Duration `json:"access_token_duration"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
	Enabled  bool   `json:"enabled"`
}

// RedisConfig holds Redis settings for the balance/price cache
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// VaultConfig holds HashiCorp Vault configuration for API credentials
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
}

// NotificationConfig holds Telegram notification settings
type NotificationConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// Load reads config.json if present and applies environment overrides.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// Validate checks the parts of the configuration that are fatal at startup.
// Everything else degrades at runtime instead of stopping the process.
func (c *Config) Validate() error {
	if c.DeltaConfig.APIKey == "" || c.DeltaConfig.SecretKey == "" {
		if !c.VaultConfig.Enabled {
			return fmt.Errorf("delta API credentials missing: set DELTA_API_KEY and DELTA_API_SECRET or enable vault")
		}
	}
	if c.StrategyConfig.Symbol == "" {
		return fmt.Errorf("strategy symbol is required")
	}
	if c.StrategyConfig.ProductID <= 0 {
		return fmt.Errorf("strategy product_id must be positive, got %d", c.StrategyConfig.ProductID)
	}
	if c.StrategyConfig.STPeriod < 1 || c.StrategyConfig.STPeriod > 100 {
		return fmt.Errorf("st_period must be between 1 and 100, got %d", c.StrategyConfig.STPeriod)
	}
	if c.StrategyConfig.STMultiplier < 0.1 || c.StrategyConfig.STMultiplier > 10.0 {
		return fmt.Errorf("st_multiplier must be between 0.1 and 10.0, got %.2f", c.StrategyConfig.STMultiplier)
	}
	if c.StrategyConfig.PositionSizePct <= 0 || c.StrategyConfig.PositionSizePct > 1 {
		return fmt.Errorf("position_size_pct must be between 0 and 1, got %.2f", c.StrategyConfig.PositionSizePct)
	}
	if c.StrategyConfig.TakeProfitMult <= 0 {
		return fmt.Errorf("take_profit_mult must be positive, got %.2f", c.StrategyConfig.TakeProfitMult)
	}
	if c.RiskConfig.MaxLossPercent <= 0 || c.RiskConfig.MaxLossPercent > 1 {
		return fmt.Errorf("max_loss_percent must be between 0 and 1, got %.2f", c.RiskConfig.MaxLossPercent)
	}
	if c.AuthConfig.Enabled && c.AuthConfig.JWTSecret == "" {
		return fmt.Errorf("auth is enabled but AUTH_JWT_SECRET is not set")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	// Delta config
	cfg.DeltaConfig.BaseURL = getEnvOrDefault("DELTA_BASE_URL", cfg.DeltaConfig.BaseURL)
	cfg.DeltaConfig.APIKey = getEnvOrDefault("DELTA_API_KEY", cfg.DeltaConfig.APIKey)
	cfg.DeltaConfig.SecretKey = getEnvOrDefault("DELTA_API_SECRET", cfg.DeltaConfig.SecretKey)

	// Strategy config
	cfg.StrategyConfig.Symbol = getEnvOrDefault("STRATEGY_SYMBOL", cfg.StrategyConfig.Symbol)
	cfg.StrategyConfig.ProductID = getEnvIntOrDefault("STRATEGY_PRODUCT_ID", cfg.StrategyConfig.ProductID)
	cfg.StrategyConfig.AssetID = getEnvIntOrDefault("STRATEGY_ASSET_ID", cfg.StrategyConfig.AssetID)
	cfg.StrategyConfig.CandleSize = getEnvOrDefault("STRATEGY_CANDLE_SIZE", cfg.StrategyConfig.CandleSize)
	cfg.StrategyConfig.STPeriod = getEnvIntOrDefault("STRATEGY_ST_PERIOD", cfg.StrategyConfig.STPeriod)
	cfg.StrategyConfig.STMultiplier = getEnvFloatOrDefault("STRATEGY_ST_MULTIPLIER", cfg.StrategyConfig.STMultiplier)
	cfg.StrategyConfig.PositionSizePct = getEnvFloatOrDefault("STRATEGY_POSITION_SIZE_PCT", cfg.StrategyConfig.PositionSizePct)
	cfg.StrategyConfig.TakeProfitMult = getEnvFloatOrDefault("STRATEGY_TAKE_PROFIT_MULT", cfg.StrategyConfig.TakeProfitMult)
	cfg.StrategyConfig.Leverage = getEnvIntOrDefault("STRATEGY_LEVERAGE", cfg.StrategyConfig.Leverage)
	cfg.StrategyConfig.TrailingStopEnabled = getEnvOrDefault("STRATEGY_TRAILING_STOP", boolStr(cfg.StrategyConfig.TrailingStopEnabled)) == "true"
	cfg.StrategyConfig.MonitorInterval = getEnvDurationOrDefault("STRATEGY_MONITOR_INTERVAL", cfg.StrategyConfig.MonitorInterval)

	// Risk config
	cfg.RiskConfig.MaxLossPercent = getEnvFloatOrDefault("RISK_MAX_LOSS_PERCENT", cfg.RiskConfig.MaxLossPercent)
	cfg.RiskConfig.DefaultCapital = getEnvFloatOrDefault("RISK_DEFAULT_CAPITAL", cfg.RiskConfig.DefaultCapital)

	// Fallback data source
	cfg.FallbackConfig.BaseURL = getEnvOrDefault("FALLBACK_BASE_URL", cfg.FallbackConfig.BaseURL)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", "stdout")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"

	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", 8080)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", "0.0.0.0")
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*")
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10)

	// Auth config
	cfg.AuthConfig.Enabled = getEnvOrDefault("AUTH_ENABLED", boolStr(cfg.AuthConfig.Enabled)) == "true"
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AdminUser = getEnvOrDefault("AUTH_ADMIN_USER", cfg.AuthConfig.AdminUser)
	cfg.AuthConfig.AdminPasswordHash = getEnvOrDefault("AUTH_ADMIN_PASSWORD_HASH", cfg.AuthConfig.AdminPasswordHash)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", cfg.AuthConfig.AccessTokenDuration)

	// Database config
	cfg.DatabaseConfig.Enabled = getEnvOrDefault("DB_ENABLED", boolStr(cfg.DatabaseConfig.Enabled)) == "true"
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolStr(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", boolStr(cfg.VaultConfig.Enabled)) == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)

	// Notification config
	cfg.NotificationConfig.Enabled = getEnvOrDefault("TELEGRAM_ENABLED", boolStr(cfg.NotificationConfig.Enabled)) == "true"
	cfg.NotificationConfig.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.BotToken)
	cfg.NotificationConfig.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.ChatID)
}

func applyDefaults(cfg *Config) {
	if cfg.DeltaConfig.BaseURL == "" {
		cfg.DeltaConfig.BaseURL = "https://api.delta.exchange"
	}
	if cfg.DeltaConfig.RequestTimeout == 0 {
		cfg.DeltaConfig.RequestTimeout = 5 * time.Second
	}
	if cfg.StrategyConfig.Symbol == "" {
		cfg.StrategyConfig.Symbol = "BTCUSD"
	}
	if cfg.StrategyConfig.ProductID == 0 {
		cfg.StrategyConfig.ProductID = 27
	}
	if cfg.StrategyConfig.AssetID == 0 {
		cfg.StrategyConfig.AssetID = 3
	}
	if cfg.StrategyConfig.CandleSize == "" {
		cfg.StrategyConfig.CandleSize = "5m"
	}
	if cfg.StrategyConfig.CandleLimit == 0 {
		cfg.StrategyConfig.CandleLimit = 150
	}
	if cfg.StrategyConfig.MinCandles == 0 {
		cfg.StrategyConfig.MinCandles = 100
	}
	if cfg.StrategyConfig.STPeriod == 0 {
		cfg.StrategyConfig.STPeriod = 10
	}
	if cfg.StrategyConfig.STMultiplier == 0 {
		cfg.StrategyConfig.STMultiplier = 3.0
	}
	if cfg.StrategyConfig.PositionSizePct == 0 {
		cfg.StrategyConfig.PositionSizePct = 0.5
	}
	if cfg.StrategyConfig.TakeProfitMult == 0 {
		cfg.StrategyConfig.TakeProfitMult = 1.5
	}
	if cfg.StrategyConfig.Leverage == 0 {
		cfg.StrategyConfig.Leverage = 1
	}
	if cfg.StrategyConfig.MonitorInterval == 0 {
		cfg.StrategyConfig.MonitorInterval = 30 * time.Second
	}
	if cfg.StrategyConfig.MaxPendingTicks == 0 {
		cfg.StrategyConfig.MaxPendingTicks = 3
	}
	if cfg.StrategyConfig.PositionCloseWait == 0 {
		cfg.StrategyConfig.PositionCloseWait = 2 * time.Second
	}
	if cfg.RiskConfig.MaxLossPercent == 0 {
		cfg.RiskConfig.MaxLossPercent = 0.1
	}
	if cfg.RiskConfig.DefaultCapital == 0 {
		cfg.RiskConfig.DefaultCapital = 1000.0
	}
	if cfg.FallbackConfig.BaseURL == "" {
		cfg.FallbackConfig.BaseURL = "https://api.binance.com"
	}
	if cfg.FallbackConfig.RequestTimeout == 0 {
		cfg.FallbackConfig.RequestTimeout = 5 * time.Second
	}
	if cfg.FallbackConfig.SymbolMap == nil {
		cfg.FallbackConfig.SymbolMap = map[string]string{
			"BTCUSD": "BTCUSDT",
			"ETHUSD": "ETHUSDT",
			"SOLUSD": "SOLUSDT",
		}
	}
	if cfg.AuthConfig.AccessTokenDuration == 0 {
		cfg.AuthConfig.AccessTokenDuration = 15 * time.Minute
	}
	if cfg.AuthConfig.AdminUser == "" {
		cfg.AuthConfig.AdminUser = "admin"
	}
	if cfg.DatabaseConfig.Host == "" {
		cfg.DatabaseConfig.Host = "localhost"
	}
	if cfg.DatabaseConfig.Port == 0 {
		cfg.DatabaseConfig.Port = 5432
	}
	if cfg.DatabaseConfig.User == "" {
		cfg.DatabaseConfig.User = "trading_bot"
	}
	if cfg.DatabaseConfig.Database == "" {
		cfg.DatabaseConfig.Database = "trading_bot"
	}
	if cfg.DatabaseConfig.SSLMode == "" {
		cfg.DatabaseConfig.SSLMode = "disable"
	}
	if cfg.RedisConfig.Address == "" {
		cfg.RedisConfig.Address = "localhost:6379"
	}
	if cfg.RedisConfig.PoolSize == 0 {
		cfg.RedisConfig.PoolSize = 10
	}
	if cfg.VaultConfig.Address == "" {
		cfg.VaultConfig.Address = "http://localhost:8200"
	}
	if cfg.VaultConfig.MountPath == "" {
		cfg.VaultConfig.MountPath = "secret"
	}
	if cfg.VaultConfig.SecretPath == "" {
		cfg.VaultConfig.SecretPath = "trading-bot/api-keys"
	}
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
