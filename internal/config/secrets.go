package config

import (
	"context"
	"fmt"
	"os"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// VaultConfig holds Vault connection configuration
type VaultConfig struct {
	Enabled    bool   `mapstructure:"enabled"`     // Enable Vault integration
	Address    string `mapstructure:"address"`     // Vault server address (e.g., "https://vault.example.com:8200")
	Token      string `mapstructure:"token"`       // Vault authentication token
	MountPath  string `mapstructure:"mount_path"`  // Secrets mount path (default: "secret")
	SecretPath string `mapstructure:"secret_path"` // Base path for fleet secrets (e.g., "titanfleet")
}

// VaultClient wraps HashiCorp Vault client for secrets management
type VaultClient struct {
	client *vault.Client
	config VaultConfig
}

// NewVaultClient creates a new Vault client from configuration
func NewVaultClient(cfg VaultConfig) (*VaultClient, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("vault is not enabled in configuration")
	}

	// Create Vault config
	vaultCfg := vault.DefaultConfig()
	if cfg.Address != "" {
		vaultCfg.Address = cfg.Address
	}

	// Create Vault client
	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	// Token authentication
	if cfg.Token == "" {
		cfg.Token = os.Getenv("VAULT_TOKEN")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("VAULT_TOKEN not set for token authentication")
	}
	client.SetToken(cfg.Token)

	log.Info().
		Str("address", vaultCfg.Address).
		Str("mount_path", cfg.MountPath).
		Str("secret_path", cfg.SecretPath).
		Msg("Vault client initialized successfully")

	return &VaultClient{
		client: client,
		config: cfg,
	}, nil
}

// GetSecret retrieves a secret from Vault
// path is relative to the configured SecretPath
func (vc *VaultClient) GetSecret(ctx context.Context, path string) (map[string]interface{}, error) {
	// Construct full path
	fullPath := fmt.Sprintf("%s/data/%s/%s", vc.config.MountPath, vc.config.SecretPath, path)

	log.Debug().Str("path", fullPath).Msg("Reading secret from Vault")

	// Read secret
	secret, err := vc.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from Vault: %w", err)
	}

	if secret == nil {
		return nil, fmt.Errorf("secret not found at path: %s", fullPath)
	}

	// For KV v2, secrets are nested under "data" key
	if data, ok := secret.Data["data"].(map[string]interface{}); ok {
		return data, nil
	}

	// For KV v1, return data directly
	return secret.Data, nil
}

// GetSecretString retrieves a single string value from Vault
func (vc *VaultClient) GetSecretString(ctx context.Context, path string, key string) (string, error) {
	data, err := vc.GetSecret(ctx, path)
	if err != nil {
		return "", err
	}

	value, ok := data[key].(string)
	if !ok {
		return "", fmt.Errorf("secret key '%s' not found or not a string at path: %s", key, path)
	}

	return value, nil
}

// LoadSecretsFromVault loads secrets from Vault into configuration.
// Vault failures fall back to whatever the environment provided; the
// gateway validates credentials again before connecting in LIVE mode.
func LoadSecretsFromVault(ctx context.Context, cfg *Config) error {
	if !cfg.Vault.Enabled {
		log.Info().Msg("Vault integration disabled - using environment variables for secrets")
		return nil
	}

	log.Info().Msg("Loading secrets from HashiCorp Vault...")

	vaultClient, err := NewVaultClient(cfg.Vault)
	if err != nil {
		return fmt.Errorf("failed to create Vault client: %w", err)
	}

	// Load exchange API keys
	if err := loadExchangeSecrets(ctx, vaultClient, cfg); err != nil {
		log.Warn().Err(err).Msg("Failed to load exchange secrets from Vault")
		// Continue - may be using env vars
	}

	// Load Telegram bot token
	if err := loadTelegramSecrets(ctx, vaultClient, cfg); err != nil {
		log.Warn().Err(err).Msg("Failed to load Telegram secrets from Vault")
	}

	log.Info().Msg("Secrets loaded from Vault successfully")
	return nil
}

// loadExchangeSecrets loads exchange API credentials from Vault
func loadExchangeSecrets(ctx context.Context, vc *VaultClient, cfg *Config) error {
	secrets, err := vc.GetSecret(ctx, "exchange")
	if err != nil {
		return err
	}

	if apiKey, ok := secrets["api_key"].(string); ok && apiKey != "" {
		cfg.Exchange.APIKey = apiKey
		log.Info().Msg("✓ Loaded exchange API key from Vault")
	}

	if apiSecret, ok := secrets["api_secret"].(string); ok && apiSecret != "" {
		cfg.Exchange.APISecret = apiSecret
		log.Info().Msg("✓ Loaded exchange API secret from Vault")
	}

	return nil
}

// loadTelegramSecrets loads the alert bot token from Vault
func loadTelegramSecrets(ctx context.Context, vc *VaultClient, cfg *Config) error {
	secrets, err := vc.GetSecret(ctx, "telegram")
	if err != nil {
		return err
	}

	if token, ok := secrets["token"].(string); ok && token != "" {
		cfg.Telegram.Token = token
		log.Info().Msg("✓ Loaded Telegram token from Vault")
	}

	return nil
}
