package secrets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"go.uber.org/zap"
)

// AWSConfig contains configuration for the AWS Secrets Manager source
type AWSConfig struct {
	// AWS Region (e.g., "us-east-1")
	Region string

	// Optional: AWS profile name (for local development)
	Profile string

	// Optional: Custom endpoint (for LocalStack testing)
	Endpoint string

	// Zero disables caching
	CacheTTL time.Duration
}

// DefaultAWSConfig returns default configuration
func DefaultAWSConfig(region string) AWSConfig {
	return AWSConfig{
		Region:   region,
		CacheTTL: 5 * time.Minute,
	}
}

// secretValueGetter is the part of the Secrets Manager client the source uses
type secretValueGetter interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSource reads secrets from AWS Secrets Manager
type AWSSource struct {
	client secretValueGetter
	logger *zap.Logger
	cache  *secretCache
}

// NewAWSSource creates a Secrets Manager source using the default
// credentials chain, or the named profile when set
func NewAWSSource(ctx context.Context, cfg AWSConfig, logger *zap.Logger) (*AWSSource, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOptions []func(*secretsmanager.Options)
	if cfg.Endpoint != "" {
		clientOptions = append(clientOptions, func(o *secretsmanager.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	logger.Info("AWS Secrets Manager source initialized",
		zap.String("region", cfg.Region),
		zap.Duration("cache_ttl", cfg.CacheTTL),
	)
	return newAWSSource(secretsmanager.NewFromConfig(awsCfg, clientOptions...), cfg.CacheTTL, logger), nil
}

func newAWSSource(client secretValueGetter, ttl time.Duration, logger *zap.Logger) *AWSSource {
	return &AWSSource{client: client, logger: logger, cache: newSecretCache(ttl)}
}

// GetSecret retrieves the current version of a secret string. The cache
// holds the raw string so every #field of one secret costs a single call.
func (s *AWSSource) GetSecret(ctx context.Context, path string) (string, error) {
	name, field, _ := strings.Cut(path, "#")

	raw, ok := s.cache.get(name)
	if !ok {
		started := time.Now()
		result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(name),
		})
		if err != nil {
			s.logger.Error("Secrets Manager read failed", zap.String("path", name), zap.Error(err))
			return "", fmt.Errorf("failed to get secret %s: %w", name, err)
		}
		if result.SecretString == nil {
			return "", fmt.Errorf("secret %s has no string value", name)
		}
		raw = aws.ToString(result.SecretString)
		s.cache.set(name, raw)
		s.logger.Info("Secret read from Secrets Manager",
			zap.String("path", name),
			zap.String("version_id", aws.ToString(result.VersionId)),
			zap.Duration("elapsed", time.Since(started)),
		)
	}

	value, err := decodeSecret(raw, field)
	if err != nil {
		return "", fmt.Errorf("secret %s: %w", path, err)
	}
	return value, nil
}
