// Package secrets resolves credentials from a secret manager at startup.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/config"
)

// Source retrieves a secret value by path. Path format depends on the backend:
//   - AWS: secret name or full ARN
//   - GCP: secret ID in the project or a full version resource name
//   - Vault: path under the KV mount
//   - local: file path under the base directory
//
// Any path may end in "#field" to pick one field of a secret stored as a
// JSON object, e.g. "fee-reconciliation/database#password".
type Source interface {
	GetSecret(ctx context.Context, path string) (string, error)
}

// NewFromConfig builds the source selected by cfg.Backend. The env backend
// returns nil: credentials come straight from the environment.
func NewFromConfig(ctx context.Context, cfg config.SecretsConfig, logger *zap.Logger) (Source, error) {
	switch cfg.Backend {
	case "env":
		return nil, nil
	case "local":
		return NewLocalSource(cfg.LocalPath, logger), nil
	case "aws":
		return NewAWSSource(ctx, DefaultAWSConfig(cfg.AWSRegion), logger)
	case "gcp":
		return NewGCPSource(ctx, DefaultGCPConfig(cfg.GCPProjectID), logger)
	case "vault":
		vc := DefaultVaultConfig(cfg.VaultAddress)
		vc.Token = cfg.VaultToken
		vc.MountPath = cfg.VaultMountPath
		vc.Namespace = cfg.VaultNamespace
		if cfg.VaultRoleID != "" {
			vc.AuthMethod = "approle"
			vc.RoleID = cfg.VaultRoleID
			vc.SecretID = cfg.VaultSecretID
		}
		return NewVaultSource(ctx, vc, logger)
	default:
		return nil, fmt.Errorf("unsupported secrets backend: %s", cfg.Backend)
	}
}

// Resolve fills the database password and the operator and cron tokens from
// src. Paths left empty keep the value already loaded from the environment.
func Resolve(ctx context.Context, src Source, cfg *config.Config) error {
	if src == nil {
		return nil
	}
	targets := []struct {
		path string
		dst  *string
	}{
		{cfg.Secrets.DBPasswordPath, &cfg.Database.Password},
		{cfg.Secrets.OperatorPath, &cfg.Auth.OperatorToken},
		{cfg.Secrets.CronPath, &cfg.Auth.CronSecret},
	}
	for _, t := range targets {
		if t.path == "" {
			continue
		}
		value, err := src.GetSecret(ctx, t.path)
		if err != nil {
			return fmt.Errorf("resolve secret %s: %w", t.path, err)
		}
		*t.dst = value
	}
	return nil
}

// decodeSecret interprets a secret stored as text. Selecting a field requires
// a JSON object; otherwise a JSON object's "value" field wins over the raw
// text.
func decodeSecret(raw, field string) (string, error) {
	var doc map[string]interface{}
	isObject := json.Unmarshal([]byte(raw), &doc) == nil
	if field != "" {
		if !isObject {
			return "", fmt.Errorf("field %q requested but the secret is not a JSON object", field)
		}
		return selectField(doc, field)
	}
	if isObject {
		if v, ok := doc["value"].(string); ok {
			return v, nil
		}
	}
	return strings.TrimSpace(raw), nil
}

func selectField(data map[string]interface{}, field string) (string, error) {
	if field != "" {
		v, ok := data[field].(string)
		if !ok {
			return "", fmt.Errorf("no string field %q", field)
		}
		return v, nil
	}
	if v, ok := data["value"].(string); ok {
		return v, nil
	}
	if len(data) == 1 {
		for _, v := range data {
			if str, ok := v.(string); ok {
				return str, nil
			}
		}
	}
	return "", fmt.Errorf("secret has %d fields and none named value; select one with #field", len(data))
}

// secretCache is a TTL cache shared by the remote sources
type secretCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

func newSecretCache(ttl time.Duration) *secretCache {
	return &secretCache{entries: make(map[string]cacheEntry), ttl: ttl, now: time.Now}
}

func (c *secretCache) get(key string) (string, bool) {
	if c.ttl <= 0 {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return "", false
	}
	return entry.value, true
}

func (c *secretCache) set(key, value string) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expiresAt: c.now().Add(c.ttl)}
}
