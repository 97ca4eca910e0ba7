package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateExchange()...)
	errors = append(errors, c.validateTrading()...)
	errors = append(errors, c.validateOrchestrator()...)
	errors = append(errors, c.validateAPI()...)

	if len(errors) > 0 {
		return errors
	}

	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	if c.App.Name == "" {
		errors = append(errors, ValidationError{
			Field:   "app.name",
			Message: "Application name is required",
		})
	}

	if c.App.LogLevel == "" {
		errors = append(errors, ValidationError{
			Field:   "app.log_level",
			Message: "Log level is required (debug, info, warn, error)",
		})
	}

	if c.App.StateDir == "" {
		errors = append(errors, ValidationError{
			Field:   "app.state_dir",
			Message: "State directory is required",
		})
	}

	return errors
}

func (c *Config) validateExchange() ValidationErrors {
	var errors ValidationErrors

	switch c.Exchange.Mode {
	case ModeLive:
		// Credentials may still arrive from Vault after Load; the gateway
		// re-checks before connecting. Flag the obvious misconfiguration
		// here when Vault is not in play.
		if !c.Vault.Enabled {
			if c.Exchange.APIKey == "" {
				errors = append(errors, ValidationError{
					Field:   "exchange.api_key",
					Message: "API key is required for LIVE mode",
				})
			}
			if c.Exchange.APISecret == "" {
				errors = append(errors, ValidationError{
					Field:   "exchange.api_secret",
					Message: "API secret is required for LIVE mode",
				})
			}
		}
	case ModeSimulation:
		// No credentials needed
	default:
		errors = append(errors, ValidationError{
			Field:   "exchange.mode",
			Message: fmt.Sprintf("Invalid mode '%s'. Must be LIVE or SIMULATION", c.Exchange.Mode),
		})
	}

	if c.Exchange.RateLimitPerSec <= 0 {
		errors = append(errors, ValidationError{
			Field:   "exchange.rate_limit_per_sec",
			Message: "Rate limit must be greater than 0",
		})
	}

	return errors
}

func (c *Config) validateTrading() ValidationErrors {
	var errors ValidationErrors

	switch c.Trading.TradeMode {
	case TradeModeDualSide, TradeModeLongOnly, TradeModeShortOnly:
	default:
		errors = append(errors, ValidationError{
			Field:   "trading.trade_mode",
			Message: fmt.Sprintf("Invalid trade mode '%s'. Must be one of: %s, %s, %s",
				c.Trading.TradeMode, TradeModeDualSide, TradeModeLongOnly, TradeModeShortOnly),
		})
	}

	if c.Trading.GridWidthPct <= 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.grid_width_pct",
			Message: "Grid width must be greater than 0",
		})
	}

	if c.Trading.SupertrendPeriod < 2 {
		errors = append(errors, ValidationError{
			Field:   "trading.supertrend_period",
			Message: "Supertrend period must be at least 2",
		})
	}

	if c.Trading.SupertrendMultiplier <= 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.supertrend_multiplier",
			Message: "Supertrend multiplier must be greater than 0",
		})
	}

	if c.Trading.MaxEntries < 1 || c.Trading.MaxEntries > 10 {
		errors = append(errors, ValidationError{
			Field:   "trading.max_entries",
			Message: "Max entries must be between 1 and 10",
		})
	}

	if c.Trading.RiskPctPerTrade <= 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.risk_pct_per_trade",
			Message: "Risk per trade must be greater than 0",
		})
	}

	if c.Trading.InitialCapital <= 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.initial_capital",
			Message: "Initial capital must be greater than 0",
		})
	}

	if c.Trading.LeverageMultiplier < 1 {
		errors = append(errors, ValidationError{
			Field:   "trading.leverage_multiplier",
			Message: "Leverage multiplier must be at least 1",
		})
	}

	if c.Trading.TakerFee < 0 || c.Trading.MakerFee < 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.taker_fee",
			Message: "Fees must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateOrchestrator() ValidationErrors {
	var errors ValidationErrors

	if c.Orchestrator.DiscoveryURL == "" {
		errors = append(errors, ValidationError{
			Field:   "orchestrator.discovery_url",
			Message: "Discovery URL is required",
		})
	} else if !strings.HasPrefix(c.Orchestrator.DiscoveryURL, "http://") &&
		!strings.HasPrefix(c.Orchestrator.DiscoveryURL, "https://") {
		errors = append(errors, ValidationError{
			Field:   "orchestrator.discovery_url",
			Message: "Discovery URL must start with http:// or https://",
		})
	}

	if c.Orchestrator.CycleMinutes < 1 {
		errors = append(errors, ValidationError{
			Field:   "orchestrator.cycle_minutes",
			Message: "Cycle interval must be at least 1 minute",
		})
	}

	if c.Orchestrator.TopN < 1 {
		errors = append(errors, ValidationError{
			Field:   "orchestrator.top_n",
			Message: "Top N must be at least 1",
		})
	}

	if c.Orchestrator.MaxConcurrency < 1 {
		errors = append(errors, ValidationError{
			Field:   "orchestrator.max_concurrency",
			Message: "Max concurrency must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateAPI() ValidationErrors {
	var errors ValidationErrors

	if c.API.Port < 1 || c.API.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "api.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.API.Port),
		})
	}

	if c.Monitoring.EnableMetrics && (c.Monitoring.MetricsPort < 1 || c.Monitoring.MetricsPort > 65535) {
		errors = append(errors, ValidationError{
			Field:   "monitoring.metrics_port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Monitoring.MetricsPort),
		})
	}

	return errors
}
