package secrets

import (
	"context"
	"fmt"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"go.uber.org/zap"
)

// GCPConfig contains configuration for the Google Cloud Secret Manager source
type GCPConfig struct {
	ProjectID string
	// Zero disables caching
	CacheTTL time.Duration
}

// DefaultGCPConfig returns default configuration for the GCP source
func DefaultGCPConfig(projectID string) GCPConfig {
	return GCPConfig{ProjectID: projectID, CacheTTL: 5 * time.Minute}
}

// accessFunc returns the payload of a fully qualified secret version name
type accessFunc func(ctx context.Context, name string) ([]byte, error)

// GCPSource reads secrets from Google Cloud Secret Manager. Credentials come
// from Application Default Credentials (GOOGLE_APPLICATION_CREDENTIALS or
// workload identity).
type GCPSource struct {
	access    accessFunc
	close     func() error
	projectID string
	logger    *zap.Logger
	cache     *secretCache
}

// NewGCPSource creates a Secret Manager client for cfg.ProjectID
func NewGCPSource(ctx context.Context, cfg GCPConfig, logger *zap.Logger) (*GCPSource, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("GCP project ID is required")
	}
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCP Secret Manager client: %w", err)
	}

	access := func(ctx context.Context, name string) ([]byte, error) {
		resp, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
		if err != nil {
			return nil, err
		}
		return resp.GetPayload().GetData(), nil
	}

	logger.Info("GCP Secret Manager source initialized",
		zap.String("project_id", cfg.ProjectID),
		zap.Duration("cache_ttl", cfg.CacheTTL),
	)
	src := newGCPSource(access, cfg, logger)
	src.close = client.Close
	return src, nil
}

func newGCPSource(access accessFunc, cfg GCPConfig, logger *zap.Logger) *GCPSource {
	return &GCPSource{
		access:    access,
		close:     func() error { return nil },
		projectID: cfg.ProjectID,
		logger:    logger,
		cache:     newSecretCache(cfg.CacheTTL),
	}
}

// GetSecret reads the latest version of a secret. path is a secret ID in the
// configured project, or a full "projects/.../secrets/.../versions/..." name.
// Secret IDs cannot contain "/", so "fee-reconciliation/db-password" is read
// as "fee-reconciliation-db-password".
func (s *GCPSource) GetSecret(ctx context.Context, path string) (string, error) {
	name, field, _ := strings.Cut(path, "#")
	resource := s.resourceName(name)

	raw, ok := s.cache.get(resource)
	if !ok {
		started := time.Now()
		data, err := s.access(ctx, resource)
		if err != nil {
			s.logger.Error("Secret Manager read failed", zap.String("secret", resource), zap.Error(err))
			return "", fmt.Errorf("failed to access GCP secret %s: %w", name, err)
		}
		raw = string(data)
		s.cache.set(resource, raw)
		s.logger.Info("Secret read from GCP Secret Manager",
			zap.String("secret", resource),
			zap.Duration("elapsed", time.Since(started)),
		)
	}

	value, err := decodeSecret(raw, field)
	if err != nil {
		return "", fmt.Errorf("secret %s: %w", path, err)
	}
	return value, nil
}

func (s *GCPSource) resourceName(name string) string {
	if strings.HasPrefix(name, "projects/") {
		return name
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.projectID, strings.ReplaceAll(name, "/", "-"))
}

// Close releases the underlying gRPC connection
func (s *GCPSource) Close() error {
	return s.close()
}
