// Package vault fetches exchange API credentials from HashiCorp Vault.
// When Vault is disabled or unreachable the caller falls back to the
// credentials in the environment/config, so a Vault outage never blocks a
// restart.
package vault

import (
	"context"
	"fmt"
	"time"

	vaultapi "github.com/hashicorp/vault/api"

	"delta-trading-bot/config"
	"delta-trading-bot/internal/logging"
)

// Credentials are the exchange API keys stored in Vault.
type Credentials struct {
	APIKey    string
	SecretKey string
}

// Client wraps the Vault KV v2 API for credential reads.
type Client struct {
	api        *vaultapi.Client
	mountPath  string
	secretPath string
	logger     *logging.Logger
}

// NewClient creates a Vault client from configuration.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	vc := vaultapi.DefaultConfig()
	vc.Address = cfg.Address
	vc.Timeout = 10 * time.Second

	api, err := vaultapi.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("error creating vault client: %w", err)
	}
	api.SetToken(cfg.Token)

	mountPath := cfg.MountPath
	if mountPath == "" {
		mountPath = "secret"
	}

	return &Client{
		api:        api,
		mountPath:  mountPath,
		secretPath: cfg.SecretPath,
		logger:     logging.WithComponent("vault"),
	}, nil
}

// GetCredentials reads the exchange API key pair from the configured KV v2
// secret. The secret must carry "api_key" and "secret_key" fields.
func (c *Client) GetCredentials(ctx context.Context) (*Credentials, error) {
	secret, err := c.api.KVv2(c.mountPath).Get(ctx, c.secretPath)
	if err != nil {
		return nil, fmt.Errorf("error reading secret %s/%s: %w", c.mountPath, c.secretPath, err)
	}

	apiKey, ok := secret.Data["api_key"].(string)
	if !ok || apiKey == "" {
		return nil, fmt.Errorf("secret %s/%s missing api_key", c.mountPath, c.secretPath)
	}
	secretKey, ok := secret.Data["secret_key"].(string)
	if !ok || secretKey == "" {
		return nil, fmt.Errorf("secret %s/%s missing secret_key", c.mountPath, c.secretPath)
	}

	c.logger.Info("exchange credentials loaded from vault", "path", c.secretPath)
	return &Credentials{APIKey: apiKey, SecretKey: secretKey}, nil
}

// ResolveCredentials returns Vault credentials when Vault is enabled and
// reachable, otherwise the key pair already present in the Delta config.
func ResolveCredentials(ctx context.Context, cfg *config.Config) (*Credentials, error) {
	fallback := &Credentials{
		APIKey:    cfg.DeltaConfig.APIKey,
		SecretKey: cfg.DeltaConfig.SecretKey,
	}

	if !cfg.VaultConfig.Enabled {
		return fallback, nil
	}

	client, err := NewClient(cfg.VaultConfig)
	if err != nil {
		return nil, err
	}
	creds, err := client.GetCredentials(ctx)
	if err != nil {
		if fallback.APIKey != "" && fallback.SecretKey != "" {
			client.logger.Warn("vault read failed, using environment credentials", "error", err)
			return fallback, nil
		}
		return nil, err
	}
	return creds, nil
}
