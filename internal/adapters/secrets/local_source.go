package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// LocalSource reads secrets from files under a base directory.
// WARNING: This is for development only. Use AWS Secrets Manager or Vault in production.
type LocalSource struct {
	basePath string
	logger   *zap.Logger
}

// NewLocalSource creates a filesystem secret source
func NewLocalSource(basePath string, logger *zap.Logger) *LocalSource {
	return &LocalSource{basePath: basePath, logger: logger}
}

// GetSecret reads basePath/path. Files hold the plain value or a JSON object.
func (s *LocalSource) GetSecret(ctx context.Context, path string) (string, error) {
	name, field, _ := strings.Cut(path, "#")
	filePath := filepath.Join(s.basePath, filepath.Clean("/"+name))
	s.logger.Debug("Reading secret from filesystem", zap.String("path", path))

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("secret not found: %s", name)
		}
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	value, err := decodeSecret(string(data), field)
	if err != nil {
		return "", fmt.Errorf("secret %s: %w", path, err)
	}
	return value, nil
}
