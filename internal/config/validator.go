package config

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ValidatorOptions contains options for startup validation
type ValidatorOptions struct {
	VerifyConnectivity bool // Check Redis/Postgres/exchange reachability
	Timeout            time.Duration
}

// DefaultValidatorOptions returns default validator options for startup
func DefaultValidatorOptions() ValidatorOptions {
	return ValidatorOptions{
		VerifyConnectivity: true,
		Timeout:            5 * time.Second,
	}
}

// Validator handles configuration validation at startup
type Validator struct {
	config  *Config
	options ValidatorOptions
}

// NewValidator creates a new configuration validator
func NewValidator(config *Config, options ValidatorOptions) *Validator {
	return &Validator{
		config:  config,
		options: options,
	}
}

// ValidateStartup performs startup validation. It should be called after
// secrets have been loaded and before any services start.
func (v *Validator) ValidateStartup(ctx context.Context) error {
	log.Info().Msg("Validating configuration...")

	if err := v.validateCredentials(); err != nil {
		return fmt.Errorf("credential validation failed: %w", err)
	}

	if v.options.VerifyConnectivity {
		if v.config.Database.DSN != "" {
			if err := v.checkDatabaseConnectivity(ctx); err != nil {
				return fmt.Errorf("database connectivity check failed: %w", err)
			}
		}

		if v.config.Redis.Addr != "" {
			if err := v.checkRedisConnectivity(ctx); err != nil {
				return fmt.Errorf("redis connectivity check failed: %w", err)
			}
		}

		if v.config.Exchange.Mode == ModeLive {
			if err := v.checkExchangeConnectivity(ctx); err != nil {
				return fmt.Errorf("exchange connectivity check failed: %w", err)
			}
		}
	}

	log.Info().Msg("Configuration validation completed successfully")
	return nil
}

// validateCredentials checks that LIVE mode has usable credentials. This
// runs after Vault loading, so an empty key here is a hard error even when
// Vault is enabled.
func (v *Validator) validateCredentials() error {
	if v.config.Exchange.Mode != ModeLive {
		return nil
	}

	if v.config.Exchange.APIKey == "" {
		return fmt.Errorf("exchange API key is empty; set API_KEY or configure Vault")
	}
	if v.config.Exchange.APISecret == "" {
		return fmt.Errorf("exchange API secret is empty; set API_SECRET or configure Vault")
	}

	log.Info().Msg("Credential presence validation passed")
	return nil
}

// checkDatabaseConnectivity tests the journal database connection with timeout
func (v *Validator) checkDatabaseConnectivity(ctx context.Context) error {
	log.Info().Msg("Checking database connectivity...")

	connCtx, cancel := context.WithTimeout(ctx, v.options.Timeout)
	defer cancel()

	pool, err := pgxpool.New(connCtx, v.config.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to create database connection pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(connCtx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	var dbName string
	if err := pool.QueryRow(connCtx, "SELECT current_database()").Scan(&dbName); err != nil {
		return fmt.Errorf("failed to verify database: %w", err)
	}

	log.Info().
		Str("database", dbName).
		Msg("Database connectivity check passed")

	return nil
}

// checkRedisConnectivity tests the kline cache connection with timeout
func (v *Validator) checkRedisConnectivity(ctx context.Context) error {
	log.Info().Msg("Checking Redis connectivity...")

	connCtx, cancel := context.WithTimeout(ctx, v.options.Timeout)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr:     v.config.Redis.Addr,
		Password: v.config.Redis.Password,
		DB:       v.config.Redis.DB,
	})
	defer client.Close()

	if err := client.Ping(connCtx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}

	log.Info().
		Str("addr", v.config.Redis.Addr).
		Int("db", v.config.Redis.DB).
		Msg("Redis connectivity check passed")

	return nil
}

// checkExchangeConnectivity pings the exchange REST API without authentication
func (v *Validator) checkExchangeConnectivity(ctx context.Context) error {
	baseURL := "https://fapi.binance.com"
	if v.config.Exchange.Testnet {
		baseURL = "https://testnet.binancefuture.com"
	}
	pingURL := baseURL + "/fapi/v1/ping"

	reqCtx, cancel := context.WithTimeout(ctx, v.options.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, pingURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to ping exchange API: %w (check network connectivity)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("exchange API ping failed with status: %d", resp.StatusCode)
	}

	log.Info().
		Str("base_url", baseURL).
		Bool("testnet", v.config.Exchange.Testnet).
		Msg("Exchange API connectivity verified")

	return nil
}
