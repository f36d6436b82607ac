package secrets

import (
	"context"
	"fmt"
	"strings"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"
)

// VaultConfig contains configuration for the HashiCorp Vault source
type VaultConfig struct {
	// Vault server address (e.g., "https://vault.example.com:8200")
	Address string

	// Authentication method: "token" or "approle"
	AuthMethod string

	// Token for token authentication
	Token string

	// AppRole credentials (if using AppRole auth)
	RoleID   string
	SecretID string

	// Vault namespace (Vault Enterprise)
	Namespace string

	// KV secrets engine mount path (default: "secret")
	MountPath string

	// KV version: "v1" or "v2" (default: "v2")
	KVVersion string

	// Zero disables caching
	CacheTTL time.Duration
}

// DefaultVaultConfig returns default configuration for the Vault source
func DefaultVaultConfig(address string) VaultConfig {
	return VaultConfig{
		Address:    address,
		AuthMethod: "token",
		MountPath:  "secret",
		KVVersion:  "v2",
		CacheTTL:   5 * time.Minute,
	}
}

// VaultSource reads secrets from a KV engine
type VaultSource struct {
	client *vault.Client
	config VaultConfig
	logger *zap.Logger
	cache  *secretCache
}

// NewVaultSource creates and authenticates a Vault client
func NewVaultSource(ctx context.Context, cfg VaultConfig, logger *zap.Logger) (*VaultSource, error) {
	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}
	if err := authenticateVault(ctx, client, cfg); err != nil {
		return nil, fmt.Errorf("failed to authenticate with Vault: %w", err)
	}

	logger.Info("Vault source initialized",
		zap.String("address", cfg.Address),
		zap.String("auth_method", cfg.AuthMethod),
		zap.String("mount_path", cfg.MountPath),
		zap.String("kv_version", cfg.KVVersion),
	)
	return &VaultSource{client: client, config: cfg, logger: logger, cache: newSecretCache(cfg.CacheTTL)}, nil
}

func authenticateVault(ctx context.Context, client *vault.Client, cfg VaultConfig) error {
	switch cfg.AuthMethod {
	case "token":
		if cfg.Token == "" {
			return fmt.Errorf("token is required for token auth")
		}
		client.SetToken(cfg.Token)
		return nil

	case "approle":
		if cfg.RoleID == "" || cfg.SecretID == "" {
			return fmt.Errorf("role_id and secret_id are required for AppRole auth")
		}
		resp, err := client.Logical().WriteWithContext(ctx, "auth/approle/login", map[string]interface{}{
			"role_id":   cfg.RoleID,
			"secret_id": cfg.SecretID,
		})
		if err != nil {
			return fmt.Errorf("AppRole login failed: %w", err)
		}
		if resp == nil || resp.Auth == nil {
			return fmt.Errorf("AppRole login returned no auth info")
		}
		client.SetToken(resp.Auth.ClientToken)
		return nil

	default:
		return fmt.Errorf("unsupported auth method: %s", cfg.AuthMethod)
	}
}

// GetSecret reads a KV secret. A path of the form "name#field" selects one
// field; a bare path reads the "value" field, or the only field when the
// secret has exactly one.
func (s *VaultSource) GetSecret(ctx context.Context, path string) (string, error) {
	if cached, ok := s.cache.get(path); ok {
		s.logger.Debug("Secret retrieved from cache", zap.String("path", path))
		return cached, nil
	}

	name, field, _ := strings.Cut(path, "#")
	data, err := s.read(ctx, name)
	if err != nil {
		return "", err
	}
	value, err := selectField(data, field)
	if err != nil {
		return "", fmt.Errorf("secret %s: %w", path, err)
	}

	s.cache.set(path, value)
	return value, nil
}

func (s *VaultSource) read(ctx context.Context, name string) (map[string]interface{}, error) {
	kvPath := s.config.MountPath + "/" + name
	if s.config.KVVersion == "v2" {
		kvPath = s.config.MountPath + "/data/" + name
	}

	started := time.Now()
	secret, err := s.client.Logical().ReadWithContext(ctx, kvPath)
	if err != nil {
		s.logger.Error("Vault read failed", zap.String("path", name), zap.Error(err))
		return nil, fmt.Errorf("read %s from vault: %w", name, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("secret not found: %s", name)
	}
	s.logger.Info("Secret read from Vault",
		zap.String("path", name),
		zap.Duration("elapsed", time.Since(started)),
	)

	if s.config.KVVersion != "v2" {
		return secret.Data, nil
	}
	inner, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		// v2 returns data: null for a deleted or destroyed version
		return nil, fmt.Errorf("secret %s has no current version", name)
	}
	return inner, nil
}
