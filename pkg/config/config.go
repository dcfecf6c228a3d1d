// Package config loads and validates arb-relay configuration from the
// environment, with optional YAML file overrides for deployment-specific
// settings.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Lock backend identifiers.
const (
	LockBackendValkey     = "valkey"
	LockBackendDynamoDB   = "dynamodb"
	LockBackendKubernetes = "kubernetes"
	LockBackendNone       = "none"
)

// Stream backend identifiers.
const (
	StreamBackendValkey = "valkey"
	StreamBackendSQS    = "sqs"
)

type Config struct {
	InstanceID  string
	Region      string
	Environment string
	AWSRegion   string

	LockBackend     string
	LeaseName       string
	LeaseTTL        time.Duration
	RenewalInterval time.Duration
	ResignHoldoff   time.Duration
	StoreTimeout    time.Duration

	ValkeyAddr     string
	ValkeyPassword string
	ValkeyDB       int

	LockTableName string

	KubeNamespace string
	KubeConfig    string

	StreamBackend string
	StreamName    string
	StreamMaxLen  int64
	RawStreamName string
	ConsumerGroup string
	SQSQueueURL   string
	SQSRawQueueURL string

	DedupeWindow    time.Duration
	MinImprovement  float64
	MaxCacheSize    int
	CacheTTL        time.Duration
	CleanupInterval time.Duration

	ServerPort   int
	AdminSecret  string
	IngestSecret string

	AlertSNSTopicARN string
	AlertLogGroup    string
	AlertLogStream   string

	MetricsBackends []string
	DatadogAddr     string

	ReportsBucket     string
	ReportSNSTopicARN string

	SecretsBackend string
	SSMPrefix      string
	VaultPath      string

	StateTTL time.Duration

	// TokenAliases maps wrapped or venue-specific symbols to canonical ones
	// for normalized token pairs in published records. Loaded from the
	// override file; empty means symbols pass through unchanged.
	TokenAliases map[string]string

	LogLevel string
}

// Load reads configuration from the environment, applies the optional
// override file named by ARB_RELAY_CONFIG_FILE, and validates the result.
func Load() (*Config, error) {
	// Missing .env is fine; the environment itself is authoritative.
	_ = godotenv.Load()

	cfg := &Config{
		InstanceID:        getEnv("ARB_RELAY_INSTANCE_ID", defaultInstanceID()),
		Region:            getEnv("ARB_RELAY_REGION", ""),
		Environment:       getEnv("ARB_RELAY_ENVIRONMENT", "production"),
		AWSRegion:         getEnv("AWS_REGION", "ap-northeast-1"),
		LockBackend:       getEnv("ARB_RELAY_LOCK_BACKEND", LockBackendValkey),
		LeaseName:         getEnv("ARB_RELAY_LEASE_NAME", "arb-relay:leader"),
		LeaseTTL:          getEnvDuration("ARB_RELAY_LEASE_TTL", 30*time.Second),
		RenewalInterval:   getEnvDuration("ARB_RELAY_RENEWAL_INTERVAL", 0),
		ResignHoldoff:     getEnvDuration("ARB_RELAY_RESIGN_HOLDOFF", 0),
		StoreTimeout:      getEnvDuration("ARB_RELAY_STORE_TIMEOUT", 5*time.Second),
		ValkeyAddr:        getEnv("ARB_RELAY_VALKEY_ADDR", "localhost:6379"),
		ValkeyPassword:    getEnv("ARB_RELAY_VALKEY_PASSWORD", ""),
		ValkeyDB:          getEnvInt("ARB_RELAY_VALKEY_DB", 0),
		LockTableName:     getEnv("ARB_RELAY_LOCK_TABLE", "arb-relay-locks"),
		KubeNamespace:     getEnv("ARB_RELAY_KUBE_NAMESPACE", "default"),
		KubeConfig:        getEnv("KUBECONFIG", ""),
		StreamBackend:     getEnv("ARB_RELAY_STREAM_BACKEND", StreamBackendValkey),
		StreamName:        getEnv("ARB_RELAY_STREAM_NAME", "arb:opportunities"),
		StreamMaxLen:      int64(getEnvInt("ARB_RELAY_STREAM_MAX_LEN", 100000)),
		RawStreamName:     getEnv("ARB_RELAY_RAW_STREAM_NAME", "arb:raw"),
		ConsumerGroup:     getEnv("ARB_RELAY_CONSUMER_GROUP", "arb-relay"),
		SQSQueueURL:       getEnv("ARB_RELAY_SQS_QUEUE_URL", ""),
		SQSRawQueueURL:    getEnv("ARB_RELAY_SQS_RAW_QUEUE_URL", ""),
		DedupeWindow:      getEnvDuration("ARB_RELAY_DEDUPE_WINDOW", 5*time.Second),
		MinImprovement:    getEnvFloat("ARB_RELAY_MIN_IMPROVEMENT", 0.1),
		MaxCacheSize:      getEnvInt("ARB_RELAY_MAX_CACHE_SIZE", 1000),
		CacheTTL:          getEnvDuration("ARB_RELAY_CACHE_TTL", 10*time.Minute),
		CleanupInterval:   getEnvDuration("ARB_RELAY_CLEANUP_INTERVAL", time.Minute),
		ServerPort:        getEnvInt("ARB_RELAY_SERVER_PORT", 8080),
		AdminSecret:       getEnv("ARB_RELAY_ADMIN_SECRET", ""),
		IngestSecret:      getEnv("ARB_RELAY_INGEST_SECRET", ""),
		AlertSNSTopicARN:  getEnv("ARB_RELAY_ALERT_SNS_TOPIC_ARN", ""),
		AlertLogGroup:     getEnv("ARB_RELAY_ALERT_LOG_GROUP", ""),
		AlertLogStream:    getEnv("ARB_RELAY_ALERT_LOG_STREAM", ""),
		MetricsBackends:   splitList(getEnv("ARB_RELAY_METRICS_BACKENDS", "")),
		DatadogAddr:       getEnv("ARB_RELAY_DATADOG_ADDR", "127.0.0.1:8125"),
		ReportsBucket:     getEnv("ARB_RELAY_REPORTS_BUCKET", ""),
		ReportSNSTopicARN: getEnv("ARB_RELAY_REPORT_SNS_TOPIC_ARN", ""),
		SecretsBackend:    getEnv("ARB_RELAY_SECRETS_BACKEND", "env"),
		SSMPrefix:         getEnv("ARB_RELAY_SSM_PREFIX", "/arb-relay"),
		VaultPath:         getEnv("ARB_RELAY_VAULT_PATH", "secret/data/arb-relay"),
		StateTTL:          getEnvDuration("ARB_RELAY_STATE_TTL", 90*time.Second),
		LogLevel:          getEnv("ARB_RELAY_LOG_LEVEL", "info"),
	}

	if path := os.Getenv("ARB_RELAY_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	// Derived defaults depend on the final lease TTL.
	if cfg.RenewalInterval == 0 {
		cfg.RenewalInterval = cfg.LeaseTTL / 3
	}
	if cfg.ResignHoldoff == 0 {
		cfg.ResignHoldoff = 2 * cfg.LeaseTTL
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate rejects invalid thresholds before the election loop starts.
func (c *Config) Validate() error {
	if c.Region == "" {
		return fmt.Errorf("ARB_RELAY_REGION is required")
	}
	switch c.LockBackend {
	case LockBackendValkey, LockBackendDynamoDB, LockBackendKubernetes, LockBackendNone:
	default:
		return fmt.Errorf("unknown lock backend: %s", c.LockBackend)
	}
	switch c.StreamBackend {
	case StreamBackendValkey, StreamBackendSQS:
	default:
		return fmt.Errorf("unknown stream backend: %s", c.StreamBackend)
	}
	if c.LeaseTTL <= 0 {
		return fmt.Errorf("lease TTL must be positive, got %s", c.LeaseTTL)
	}
	if c.RenewalInterval <= 0 || c.RenewalInterval >= c.LeaseTTL {
		return fmt.Errorf("renewal interval %s must be positive and shorter than lease TTL %s", c.RenewalInterval, c.LeaseTTL)
	}
	if c.StoreTimeout <= 0 || c.StoreTimeout >= c.LeaseTTL {
		return fmt.Errorf("store timeout %s must be positive and shorter than lease TTL %s", c.StoreTimeout, c.LeaseTTL)
	}
	if c.DedupeWindow <= 0 {
		return fmt.Errorf("dedupe window must be positive, got %s", c.DedupeWindow)
	}
	if c.MinImprovement < 0 {
		return fmt.Errorf("minimum improvement fraction must be non-negative, got %g", c.MinImprovement)
	}
	if c.MaxCacheSize <= 0 {
		return fmt.Errorf("max cache size must be positive, got %d", c.MaxCacheSize)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive, got %s", c.CacheTTL)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup interval must be positive, got %s", c.CleanupInterval)
	}
	if c.StreamBackend == StreamBackendSQS && c.SQSQueueURL == "" {
		return fmt.Errorf("ARB_RELAY_SQS_QUEUE_URL is required for the sqs stream backend")
	}
	return nil
}

func defaultInstanceID() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
