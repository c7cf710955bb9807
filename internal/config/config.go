package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Auth      AuthConfig
	Storage   StorageConfig
	Kafka     KafkaConfig
	Registry  RegistryConfig
	Gateway   GatewayConfig
	Scheduler SchedulerConfig
	Audit     AuditConfig
	CORS      CORSConfig
}

type ServerConfig struct {
	Host string
	Port string
}

type DBConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

type AuthConfig struct {
	JWTSecret string
	JWTExpiry time.Duration
}

// StorageConfig selects where firmware binaries live. Backend is "local" or
// "s3"; Path applies to local, Bucket/Prefix to s3.
type StorageConfig struct {
	Backend string
	Path    string
	Bucket  string
	Prefix  string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Enabled reports whether event publishing is configured at all.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

type RegistryConfig struct {
	BaseURL string
	Timeout time.Duration
	Retries int
}

// GatewayConfig points at the device gateway that relays update commands to
// devices in the field. It is a separate service from the device registry.
type GatewayConfig struct {
	BaseURL string
	Timeout time.Duration
}

// AuditConfig controls how long audit log entries are kept and how often
// expired entries are purged.
type AuditConfig struct {
	Retention     time.Duration
	PurgeInterval time.Duration
}

// SchedulerConfig carries the knobs the rollout engine treats as deployment
// policy rather than fixed constants: canary wave size, staged inter-batch
// delay, the minimum terminal sample before the failure threshold may
// trigger, and the per-phase timeout applied to device updates.
type SchedulerConfig struct {
	CanaryPercent     int
	StagedBatchDelay  time.Duration
	MinFailureSample  int
	PhaseTimeout      time.Duration
	GlobalWorkerLimit int
	SweepInterval     time.Duration
}

type CORSConfig struct {
	AllowedOrigins string
}

func Load() (*Config, error) {
	jwtExpiry, err := time.ParseDuration(envOrDefault("ARMADA_JWT_EXPIRY", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid ARMADA_JWT_EXPIRY: %w", err)
	}

	registryTimeout, err := time.ParseDuration(envOrDefault("ARMADA_REGISTRY_TIMEOUT", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid ARMADA_REGISTRY_TIMEOUT: %w", err)
	}

	gatewayTimeout, err := time.ParseDuration(envOrDefault("ARMADA_GATEWAY_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid ARMADA_GATEWAY_TIMEOUT: %w", err)
	}

	auditRetention, err := time.ParseDuration(envOrDefault("ARMADA_AUDIT_RETENTION", "2160h"))
	if err != nil {
		return nil, fmt.Errorf("invalid ARMADA_AUDIT_RETENTION: %w", err)
	}

	auditPurgeInterval, err := time.ParseDuration(envOrDefault("ARMADA_AUDIT_PURGE_INTERVAL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid ARMADA_AUDIT_PURGE_INTERVAL: %w", err)
	}

	stagedDelay, err := time.ParseDuration(envOrDefault("ARMADA_STAGED_BATCH_DELAY", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid ARMADA_STAGED_BATCH_DELAY: %w", err)
	}

	phaseTimeout, err := time.ParseDuration(envOrDefault("ARMADA_PHASE_TIMEOUT", "10m"))
	if err != nil {
		return nil, fmt.Errorf("invalid ARMADA_PHASE_TIMEOUT: %w", err)
	}

	sweepInterval, err := time.ParseDuration(envOrDefault("ARMADA_SWEEP_INTERVAL", "1m"))
	if err != nil {
		return nil, fmt.Errorf("invalid ARMADA_SWEEP_INTERVAL: %w", err)
	}

	canaryPercent, err := envInt("ARMADA_CANARY_PERCENT", 5)
	if err != nil {
		return nil, err
	}
	minSample, err := envInt("ARMADA_MIN_FAILURE_SAMPLE", 10)
	if err != nil {
		return nil, err
	}
	workerLimit, err := envInt("ARMADA_GLOBAL_WORKER_LIMIT", 256)
	if err != nil {
		return nil, err
	}
	registryRetries, err := envInt("ARMADA_REGISTRY_RETRIES", 2)
	if err != nil {
		return nil, err
	}

	var brokers []string
	if raw := os.Getenv("ARMADA_KAFKA_BROKERS"); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: envOrDefault("ARMADA_HOST", "0.0.0.0"),
			Port: envOrDefault("ARMADA_PORT", "8080"),
		},
		DB: DBConfig{
			Host:     envOrDefault("ARMADA_DB_HOST", "localhost"),
			Port:     envOrDefault("ARMADA_DB_PORT", "5432"),
			Name:     envOrDefault("ARMADA_DB_NAME", "armada"),
			User:     envOrDefault("ARMADA_DB_USER", "armada"),
			Password: envOrDefault("ARMADA_DB_PASSWORD", "armada"),
			SSLMode:  envOrDefault("ARMADA_DB_SSLMODE", "disable"),
		},
		Auth: AuthConfig{
			JWTSecret: envOrDefault("ARMADA_JWT_SECRET", "change-me-in-production"),
			JWTExpiry: jwtExpiry,
		},
		Storage: StorageConfig{
			Backend: envOrDefault("ARMADA_STORAGE_BACKEND", "local"),
			Path:    envOrDefault("ARMADA_STORAGE_PATH", "/data/firmware"),
			Bucket:  os.Getenv("ARMADA_STORAGE_BUCKET"),
			Prefix:  envOrDefault("ARMADA_STORAGE_PREFIX", "firmware"),
		},
		Kafka: KafkaConfig{
			Brokers: brokers,
			Topic:   envOrDefault("ARMADA_KAFKA_TOPIC", "armada.events"),
		},
		Registry: RegistryConfig{
			BaseURL: envOrDefault("ARMADA_REGISTRY_URL", "http://localhost:8090"),
			Timeout: registryTimeout,
			Retries: registryRetries,
		},
		Gateway: GatewayConfig{
			BaseURL: envOrDefault("ARMADA_GATEWAY_URL", "http://localhost:8091"),
			Timeout: gatewayTimeout,
		},
		Scheduler: SchedulerConfig{
			CanaryPercent:     canaryPercent,
			StagedBatchDelay:  stagedDelay,
			MinFailureSample:  minSample,
			PhaseTimeout:      phaseTimeout,
			GlobalWorkerLimit: workerLimit,
			SweepInterval:     sweepInterval,
		},
		Audit: AuditConfig{
			Retention:     auditRetention,
			PurgeInterval: auditPurgeInterval,
		},
		CORS: CORSConfig{
			AllowedOrigins: envOrDefault("ARMADA_CORS_ORIGINS", "http://localhost:3000"),
		},
	}

	return cfg, nil
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
