package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Pipeline PipelineConfig
	Matching MatchingConfig
	Secrets  SecretsConfig
	Auth     AuthConfig
	Logger   LoggerConfig
}

// ServerConfig holds HTTP, metrics and gRPC health listener configuration
type ServerConfig struct {
	Host              string
	Port              int
	MetricsPort       int
	HealthGRPCPort    int
	MaxBodyBytes      int64
	WebhookRatePerSec float64
	WebhookBurst      int
	ShutdownTimeout   time.Duration
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	// URL, when set, is used as-is instead of the individual fields
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// RedisConfig holds the notification sink configuration
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Channel  string
}

// PipelineConfig controls the intake and matching worker pools and retry policy
type PipelineConfig struct {
	Workers          int
	PollInterval     time.Duration
	BatchSize        int
	Lease            time.Duration
	MaxRetries       int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RetryMultiplier  float64
	RetryJitter      float64
	NotifyBufferSize int
}

// MatchingConfig holds the signal weights and confidence bands.
// Weights must sum to 100.
type MatchingConfig struct {
	WeightReference     float64
	WeightPhone         float64
	WeightName          float64
	WeightExactAmount   float64
	WeightPartialAmount float64
	HighThreshold       float64
	LowThreshold        float64
	AmbiguityMargin     float64
	ImplausibleFactor   float64
	DefaultRegion       string
}

// SecretsConfig selects where credentials are resolved from at startup
type SecretsConfig struct {
	Backend        string // env, local, aws, gcp, vault
	LocalPath      string
	AWSRegion      string
	GCPProjectID   string
	VaultAddress   string
	VaultToken     string
	VaultRoleID    string // AppRole login instead of a static token when set
	VaultSecretID  string
	VaultNamespace string
	VaultMountPath string
	DBPasswordPath string
	OperatorPath   string
	CronPath       string
}

// AuthConfig holds the credentials for operator and cron endpoints
type AuthConfig struct {
	OperatorToken string
	// OperatorJWTPublicKey is a PEM RSA public key; when set, RS256 tokens
	// signed by the identity provider are accepted and their subject is the
	// operator
	OperatorJWTPublicKey string
	OperatorJWTIssuer    string
	CronSecret           string
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Development bool
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:              getEnv("SERVER_HOST", "0.0.0.0"),
			Port:              getEnvAsInt("SERVER_PORT", 8080),
			MetricsPort:       getEnvAsInt("METRICS_PORT", 9090),
			HealthGRPCPort:    getEnvAsInt("HEALTH_GRPC_PORT", 9091),
			MaxBodyBytes:      int64(getEnvAsInt("WEBHOOK_MAX_BODY_BYTES", 1<<20)),
			WebhookRatePerSec: getEnvAsFloat("WEBHOOK_RATE_PER_SEC", 50),
			WebhookBurst:      getEnvAsInt("WEBHOOK_BURST", 100),
			ShutdownTimeout:   getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "fee_reconciliation"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns: int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Channel:  getEnv("REDIS_CHANNEL", "reconciliation.events"),
		},
		Pipeline: PipelineConfig{
			Workers:          getEnvAsInt("PIPELINE_WORKERS", 4),
			PollInterval:     getEnvAsDuration("PIPELINE_POLL_INTERVAL", 2*time.Second),
			BatchSize:        getEnvAsInt("PIPELINE_BATCH_SIZE", 50),
			Lease:            getEnvAsDuration("PIPELINE_LEASE", 2*time.Minute),
			MaxRetries:       getEnvAsInt("QUEUE_MAX_RETRIES", 5),
			RetryBaseDelay:   getEnvAsDuration("QUEUE_RETRY_BASE_DELAY", 30*time.Second),
			RetryMaxDelay:    getEnvAsDuration("QUEUE_RETRY_MAX_DELAY", time.Hour),
			RetryMultiplier:  getEnvAsFloat("QUEUE_RETRY_MULTIPLIER", 2.0),
			RetryJitter:      getEnvAsFloat("QUEUE_RETRY_JITTER", 0.1),
			NotifyBufferSize: getEnvAsInt("NOTIFY_BUFFER_SIZE", 256),
		},
		Matching: MatchingConfig{
			WeightReference:     getEnvAsFloat("MATCH_WEIGHT_REFERENCE", 45),
			WeightPhone:         getEnvAsFloat("MATCH_WEIGHT_PHONE", 25),
			WeightName:          getEnvAsFloat("MATCH_WEIGHT_NAME", 10),
			WeightExactAmount:   getEnvAsFloat("MATCH_WEIGHT_EXACT_AMOUNT", 15),
			WeightPartialAmount: getEnvAsFloat("MATCH_WEIGHT_PARTIAL_AMOUNT", 5),
			HighThreshold:       getEnvAsFloat("MATCH_HIGH_THRESHOLD", 55),
			LowThreshold:        getEnvAsFloat("MATCH_LOW_THRESHOLD", 20),
			AmbiguityMargin:     getEnvAsFloat("MATCH_AMBIGUITY_MARGIN", 5),
			ImplausibleFactor:   getEnvAsFloat("MATCH_IMPLAUSIBLE_FACTOR", 3),
			DefaultRegion:       getEnv("PHONE_DEFAULT_REGION", "KE"),
		},
		Secrets: SecretsConfig{
			Backend:        getEnv("SECRETS_BACKEND", "env"),
			LocalPath:      getEnv("SECRETS_LOCAL_PATH", "./secrets"),
			AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
			GCPProjectID:   getEnv("GCP_PROJECT_ID", ""),
			VaultAddress:   getEnv("VAULT_ADDR", ""),
			VaultToken:     getEnv("VAULT_TOKEN", ""),
			VaultRoleID:    getEnv("VAULT_ROLE_ID", ""),
			VaultSecretID:  getEnv("VAULT_SECRET_ID", ""),
			VaultNamespace: getEnv("VAULT_NAMESPACE", ""),
			VaultMountPath: getEnv("VAULT_MOUNT_PATH", "secret"),
			DBPasswordPath: getEnv("SECRET_DB_PASSWORD_PATH", "fee-reconciliation/db-password"),
			OperatorPath:   getEnv("SECRET_OPERATOR_TOKEN_PATH", "fee-reconciliation/operator-token"),
			CronPath:       getEnv("SECRET_CRON_PATH", "fee-reconciliation/cron-secret"),
		},
		Auth: AuthConfig{
			OperatorToken:        getEnv("OPERATOR_TOKEN", ""),
			OperatorJWTPublicKey: getEnv("OPERATOR_JWT_PUBLIC_KEY", ""),
			OperatorJWTIssuer:    getEnv("OPERATOR_JWT_ISSUER", ""),
			CronSecret:           getEnv("CRON_SECRET", ""),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as silent mis-scoring
func (c *Config) Validate() error {
	if c.Secrets.Backend == "env" && c.Database.URL == "" && c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	switch c.Secrets.Backend {
	case "env", "local", "aws", "vault":
	case "gcp":
		if c.Secrets.GCPProjectID == "" {
			return fmt.Errorf("GCP_PROJECT_ID is required for the gcp secrets backend")
		}
	default:
		return fmt.Errorf("SECRETS_BACKEND must be env, local, aws, gcp or vault, got %q", c.Secrets.Backend)
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("PIPELINE_WORKERS must be positive")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("PIPELINE_BATCH_SIZE must be positive")
	}
	if c.Pipeline.MaxRetries <= 0 {
		return fmt.Errorf("QUEUE_MAX_RETRIES must be positive")
	}
	return c.Matching.Validate()
}

// Validate checks that weights sum to 100 and the bands are ordered
func (m *MatchingConfig) Validate() error {
	weights := []float64{m.WeightReference, m.WeightPhone, m.WeightName, m.WeightExactAmount, m.WeightPartialAmount}
	var total float64
	for _, w := range weights {
		if w < 0 {
			return fmt.Errorf("match weights must not be negative")
		}
		total += w
	}
	if total < 99.999 || total > 100.001 {
		return fmt.Errorf("match weights must sum to 100, got %.2f", total)
	}
	if m.LowThreshold < 0 || m.HighThreshold > 100 || m.LowThreshold >= m.HighThreshold {
		return fmt.Errorf("match thresholds must satisfy 0 <= low < high <= 100, got low=%.2f high=%.2f",
			m.LowThreshold, m.HighThreshold)
	}
	if m.AmbiguityMargin < 0 {
		return fmt.Errorf("MATCH_AMBIGUITY_MARGIN must not be negative")
	}
	if m.ImplausibleFactor < 1 {
		return fmt.Errorf("MATCH_IMPLAUSIBLE_FACTOR must be at least 1")
	}
	return nil
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
