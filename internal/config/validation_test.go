//nolint:goconst // Test files use repeated strings for clarity
package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getValidConfig returns a valid configuration for testing
func getValidConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:      "titanfleet",
			LogLevel:  "info",
			LogFormat: "console",
			StateDir:  "./state",
		},
		Exchange: ExchangeConfig{
			Mode:            ModeSimulation,
			RateLimitPerSec: 10.0,
			RateLimitBurst:  20,
		},
		Trading: TradingConfig{
			TradeMode:            TradeModeDualSide,
			GridWidthPct:         1.0,
			SupertrendPeriod:     30,
			SupertrendMultiplier: 3.0,
			MaxEntries:           2,
			RiskPctPerTrade:      1.0,
			InitialCapital:       10000.0,
			LeverageMultiplier:   10,
		},
		Orchestrator: OrchestratorConfig{
			DiscoveryURL:   "https://scalpstation.com/kapi/binance/futures/kdata?top=25&interval=5m&Delta5m",
			CycleMinutes:   15,
			TopN:           5,
			MaxConcurrency: 8,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Monitoring: MonitoringConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
	}
}

func TestValidateValidConfig(t *testing.T) {
	cfg := getValidConfig()
	err := cfg.Validate()
	assert.NoError(t, err, "Valid configuration should not produce errors")
}

func TestValidateApp(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError string
	}{
		{
			name: "missing app name",
			modify: func(c *Config) {
				c.App.Name = ""
			},
			expectError: "app.name",
		},
		{
			name: "missing log level",
			modify: func(c *Config) {
				c.App.LogLevel = ""
			},
			expectError: "app.log_level",
		},
		{
			name: "missing state dir",
			modify: func(c *Config) {
				c.App.StateDir = ""
			},
			expectError: "app.state_dir",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidateExchange(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError string
	}{
		{
			name: "invalid mode",
			modify: func(c *Config) {
				c.Exchange.Mode = "PAPER"
			},
			expectError: "Invalid mode",
		},
		{
			name: "live mode without api key",
			modify: func(c *Config) {
				c.Exchange.Mode = ModeLive
				c.Exchange.APISecret = "secret"
			},
			expectError: "exchange.api_key",
		},
		{
			name: "live mode without api secret",
			modify: func(c *Config) {
				c.Exchange.Mode = ModeLive
				c.Exchange.APIKey = "key"
			},
			expectError: "exchange.api_secret",
		},
		{
			name: "zero rate limit",
			modify: func(c *Config) {
				c.Exchange.RateLimitPerSec = 0
			},
			expectError: "exchange.rate_limit_per_sec",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidateExchangeLiveWithCredentials(t *testing.T) {
	cfg := getValidConfig()
	cfg.Exchange.Mode = ModeLive
	cfg.Exchange.APIKey = "key"
	cfg.Exchange.APISecret = "secret"
	assert.NoError(t, cfg.Validate())
}

func TestValidateExchangeLiveVaultDeferred(t *testing.T) {
	// With Vault enabled, credentials may arrive after Load, so missing
	// keys are not a validation error at this stage.
	cfg := getValidConfig()
	cfg.Exchange.Mode = ModeLive
	cfg.Vault.Enabled = true
	assert.NoError(t, cfg.Validate())
}

func TestValidateTrading(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError string
	}{
		{
			name: "invalid trade mode",
			modify: func(c *Config) {
				c.Trading.TradeMode = "Both"
			},
			expectError: "Invalid trade mode",
		},
		{
			name: "zero grid width",
			modify: func(c *Config) {
				c.Trading.GridWidthPct = 0
			},
			expectError: "trading.grid_width_pct",
		},
		{
			name: "supertrend period too small",
			modify: func(c *Config) {
				c.Trading.SupertrendPeriod = 1
			},
			expectError: "trading.supertrend_period",
		},
		{
			name: "zero supertrend multiplier",
			modify: func(c *Config) {
				c.Trading.SupertrendMultiplier = 0
			},
			expectError: "trading.supertrend_multiplier",
		},
		{
			name: "zero max entries",
			modify: func(c *Config) {
				c.Trading.MaxEntries = 0
			},
			expectError: "trading.max_entries",
		},
		{
			name: "excessive max entries",
			modify: func(c *Config) {
				c.Trading.MaxEntries = 11
			},
			expectError: "trading.max_entries",
		},
		{
			name: "zero risk",
			modify: func(c *Config) {
				c.Trading.RiskPctPerTrade = 0
			},
			expectError: "trading.risk_pct_per_trade",
		},
		{
			name: "zero initial capital",
			modify: func(c *Config) {
				c.Trading.InitialCapital = 0
			},
			expectError: "trading.initial_capital",
		},
		{
			name: "zero leverage",
			modify: func(c *Config) {
				c.Trading.LeverageMultiplier = 0
			},
			expectError: "trading.leverage_multiplier",
		},
		{
			name: "negative fee",
			modify: func(c *Config) {
				c.Trading.TakerFee = -0.01
			},
			expectError: "trading.taker_fee",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidateOrchestrator(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError string
	}{
		{
			name: "missing discovery url",
			modify: func(c *Config) {
				c.Orchestrator.DiscoveryURL = ""
			},
			expectError: "orchestrator.discovery_url",
		},
		{
			name: "non-http discovery url",
			modify: func(c *Config) {
				c.Orchestrator.DiscoveryURL = "ftp://example.com/feed"
			},
			expectError: "must start with http",
		},
		{
			name: "zero cycle interval",
			modify: func(c *Config) {
				c.Orchestrator.CycleMinutes = 0
			},
			expectError: "orchestrator.cycle_minutes",
		},
		{
			name: "zero top n",
			modify: func(c *Config) {
				c.Orchestrator.TopN = 0
			},
			expectError: "orchestrator.top_n",
		},
		{
			name: "zero concurrency",
			modify: func(c *Config) {
				c.Orchestrator.MaxConcurrency = 0
			},
			expectError: "orchestrator.max_concurrency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidateAPI(t *testing.T) {
	cfg := getValidConfig()
	cfg.API.Port = 70000
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.port")

	cfg = getValidConfig()
	cfg.Monitoring.MetricsPort = 0
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring.metrics_port")

	// Metrics port is ignored when metrics are disabled
	cfg = getValidConfig()
	cfg.Monitoring.EnableMetrics = false
	cfg.Monitoring.MetricsPort = 0
	assert.NoError(t, cfg.Validate())
}

func TestValidationErrorsFormat(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a.b", Message: "first"},
		{Field: "c.d", Message: "second"},
	}
	msg := errs.Error()
	assert.Contains(t, msg, "2 error(s)")
	assert.Contains(t, msg, "a.b: first")
	assert.Contains(t, msg, "c.d: second")

	assert.Empty(t, ValidationErrors{}.Error())
}
