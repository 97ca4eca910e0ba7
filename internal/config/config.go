package config

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Trading modes
const (
	ModeLive       = "LIVE"
	ModeSimulation = "SIMULATION"
)

// Trade direction policies
const (
	TradeModeDualSide  = "Dual-Side"
	TradeModeLongOnly  = "Long-Only"
	TradeModeShortOnly = "Short-Only"
)

// MaxRiskPctPerTrade is the hard cap on per-order risk as a percentage of equity.
const MaxRiskPctPerTrade = 3.0

// Config holds all application configuration
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Exchange     ExchangeConfig     `mapstructure:"exchange"`
	Trading      TradingConfig      `mapstructure:"trading"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	API          APIConfig          `mapstructure:"api"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Database     DatabaseConfig     `mapstructure:"database"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	Vault        VaultConfig        `mapstructure:"vault"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name      string `mapstructure:"name"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // "json" or "console"
	StateDir  string `mapstructure:"state_dir"`
}

// ExchangeConfig contains gateway settings
type ExchangeConfig struct {
	Mode      string `mapstructure:"mode"` // LIVE or SIMULATION
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	Testnet   bool   `mapstructure:"testnet"`
	// REST requests per second shared across all gateway calls
	RateLimitPerSec float64 `mapstructure:"rate_limit_per_sec"`
	RateLimitBurst  int     `mapstructure:"rate_limit_burst"`
}

// TradingConfig contains per-agent strategy settings
type TradingConfig struct {
	TradeMode            string  `mapstructure:"trade_mode"`
	GridWidthPct         float64 `mapstructure:"grid_width_pct"`
	SupertrendPeriod     int     `mapstructure:"supertrend_period"`
	SupertrendMultiplier float64 `mapstructure:"supertrend_multiplier"`
	MaxEntries           int     `mapstructure:"max_entries"`
	RiskPctPerTrade      float64 `mapstructure:"risk_pct_per_trade"`
	InitialCapital       float64 `mapstructure:"initial_capital"`
	LeverageMultiplier   int     `mapstructure:"leverage_multiplier"`
	TakerFee             float64 `mapstructure:"taker_fee"`
	MakerFee             float64 `mapstructure:"maker_fee"`
}

// OrchestratorConfig contains fleet selection settings
type OrchestratorConfig struct {
	DiscoveryURL   string `mapstructure:"discovery_url"`
	CycleMinutes   int    `mapstructure:"cycle_minutes"`
	TopN           int    `mapstructure:"top_n"`
	MaxConcurrency int    `mapstructure:"max_concurrency"` // parallel backtests per cycle
}

// APIConfig contains control-plane HTTP settings
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MonitoringConfig contains metrics settings
type MonitoringConfig struct {
	MetricsPort   int  `mapstructure:"metrics_port"`
	EnableMetrics bool `mapstructure:"enable_metrics"`
}

// RedisConfig contains the optional kline cache settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"` // empty disables the cache
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DatabaseConfig contains the optional trade journal settings
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"` // empty disables the journal
}

// NATSConfig contains the optional telemetry publisher settings
type NATSConfig struct {
	URL string `mapstructure:"url"` // empty disables telemetry events
}

// TelegramConfig contains the optional alert notifier settings
type TelegramConfig struct {
	Token  string `mapstructure:"token"` // empty disables alerts
	ChatID int64  `mapstructure:"chat_id"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable overrides
	v.AutomaticEnv()
	bindEnvAliases(v)

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal into struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Per-order risk is hard-capped regardless of configuration
	if cfg.Trading.RiskPctPerTrade > MaxRiskPctPerTrade {
		log.Warn().
			Float64("configured", cfg.Trading.RiskPctPerTrade).
			Float64("cap", MaxRiskPctPerTrade).
			Msg("Risk per trade exceeds the hard cap, clamping")
		cfg.Trading.RiskPctPerTrade = MaxRiskPctPerTrade
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// bindEnvAliases maps the flat environment variable names to the nested
// configuration keys. AutomaticEnv alone only matches the nested form,
// so the documented names are bound explicitly.
func bindEnvAliases(v *viper.Viper) {
	aliases := map[string]string{
		"app.log_level":                 "LOG_LEVEL",
		"app.log_format":                "LOG_FORMAT",
		"app.state_dir":                 "STATE_DIR",
		"exchange.mode":                 "MODE",
		"exchange.api_key":              "API_KEY",
		"exchange.api_secret":           "API_SECRET",
		"exchange.testnet":              "TESTNET",
		"trading.trade_mode":            "TRADE_MODE",
		"trading.grid_width_pct":        "GRID_WIDTH_PCT",
		"trading.supertrend_period":     "SUPERTREND_PERIOD",
		"trading.supertrend_multiplier": "SUPERTREND_MULTIPLIER",
		"trading.max_entries":           "MAX_ENTRIES",
		"trading.risk_pct_per_trade":    "RISK_PCT_PER_TRADE",
		"trading.initial_capital":       "INITIAL_CAPITAL",
		"trading.leverage_multiplier":   "LEVERAGE_MULTIPLIER",
		"trading.taker_fee":             "TAKER_FEE",
		"trading.maker_fee":             "MAKER_FEE",
		"orchestrator.discovery_url":    "DISCOVERY_URL",
		"api.port":                      "API_PORT",
		"monitoring.metrics_port":       "METRICS_PORT",
		"redis.addr":                    "REDIS_ADDR",
		"database.dsn":                  "POSTGRES_DSN",
		"nats.url":                      "NATS_URL",
		"telegram.token":                "TELEGRAM_TOKEN",
		"telegram.chat_id":              "TELEGRAM_CHAT_ID",
		"vault.enabled":                 "VAULT_ENABLED",
		"vault.address":                 "VAULT_ADDR",
		"vault.token":                   "VAULT_TOKEN",
		"vault.mount_path":              "VAULT_MOUNT_PATH",
		"vault.secret_path":             "VAULT_SECRET_PATH",
	}
	for key, env := range aliases {
		if err := v.BindEnv(key, env); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to bind environment variable")
		}
	}
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "titanfleet")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")
	v.SetDefault("app.state_dir", "./state")

	// Exchange defaults
	v.SetDefault("exchange.mode", ModeSimulation)
	v.SetDefault("exchange.api_key", "")
	v.SetDefault("exchange.api_secret", "")
	v.SetDefault("exchange.testnet", false)
	v.SetDefault("exchange.rate_limit_per_sec", 10.0)
	v.SetDefault("exchange.rate_limit_burst", 20)

	// Trading defaults
	v.SetDefault("trading.trade_mode", TradeModeDualSide)
	v.SetDefault("trading.grid_width_pct", 1.0)
	v.SetDefault("trading.supertrend_period", 30)
	v.SetDefault("trading.supertrend_multiplier", 3.0)
	v.SetDefault("trading.max_entries", 2)
	v.SetDefault("trading.risk_pct_per_trade", 1.0)
	v.SetDefault("trading.initial_capital", 10000.0)
	v.SetDefault("trading.leverage_multiplier", 10)
	v.SetDefault("trading.taker_fee", 0.0)
	v.SetDefault("trading.maker_fee", 0.0)

	// Orchestrator defaults
	v.SetDefault("orchestrator.discovery_url",
		"https://scalpstation.com/kapi/binance/futures/kdata?top=25&interval=5m&Delta5m")
	v.SetDefault("orchestrator.cycle_minutes", 15)
	v.SetDefault("orchestrator.top_n", 5)
	v.SetDefault("orchestrator.max_concurrency", 8)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)

	// Monitoring defaults
	v.SetDefault("monitoring.metrics_port", 9090)
	v.SetDefault("monitoring.enable_metrics", true)

	// Optional integrations stay disabled until configured
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("database.dsn", "")
	v.SetDefault("nats.url", "")
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.address", "")
	v.SetDefault("vault.token", "")
	v.SetDefault("vault.mount_path", "secret")
	v.SetDefault("vault.secret_path", "titanfleet")
}
