package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Storage backends
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendS3       = "s3"
)

// Config holds all application configuration.
type Config struct {
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	ErrorSampleRate int    `env:"ERROR_SAMPLE_RATE" envDefault:"1"`
	OTELEnabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	ServiceName     string `env:"OTEL_SERVICE_NAME" envDefault:"fraudrules"`

	HTTPAddr         string        `env:"HTTP_ADDR" envDefault:":8080"`
	SimulatedLatency time.Duration `env:"SIMULATED_LATENCY" envDefault:"0s"`
	RateLimitRPS     float64       `env:"RATE_LIMIT_RPS" envDefault:"50"`
	RateLimitBurst   int           `env:"RATE_LIMIT_BURST" envDefault:"100"`
	AuditCapacity    int           `env:"AUDIT_CAPACITY" envDefault:"1000"`

	StorageBackend string        `env:"STORAGE_BACKEND" envDefault:"file"`
	StorageSlot    string        `env:"STORAGE_SLOT" envDefault:"fraud_rules"`
	StorageFile    string        `env:"STORAGE_FILE" envDefault:"data/fraud_rules.json"`
	StoreCacheTTL  time.Duration `env:"STORE_CACHE_TTL" envDefault:"0s"`

	DatabaseURL string `env:"DATABASE_URL"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	S3Bucket    string `env:"S3_BUCKET"`
	S3Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the selected backend has what it needs
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case BackendMemory:
	case BackendFile:
		if c.StorageFile == "" {
			return fmt.Errorf("STORAGE_FILE is required for the file backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis backend")
		}
	case BackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q (use: memory, file, postgres, redis, s3)", c.StorageBackend)
	}

	if c.StorageSlot == "" {
		return fmt.Errorf("STORAGE_SLOT cannot be empty")
	}
	if c.SimulatedLatency < 0 {
		return fmt.Errorf("SIMULATED_LATENCY cannot be negative")
	}
	return nil
}
