package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	LogLevel           string        `env:"LOG_LEVEL" envDefault:"info"`
	PostgresURL        string        `env:"POSTGRES_URL,required"`
	RedisAddr          string        `env:"REDIS_ADDR"` // empty: results are only logged
	ResultStream       string        `env:"RESULT_STREAM" envDefault:"alert_results"`
	SpoolDir           string        `env:"SPOOL_DIR" envDefault:"./data/spool"`
	SpoolSegmentSize   int64         `env:"SPOOL_SEGMENT_SIZE_BYTES" envDefault:"10485760"`   // 10MB
	SpoolMaxDiskSize   int64         `env:"SPOOL_MAX_DISK_SIZE_BYTES" envDefault:"104857600"` // 100MB
	ConditionsFile     string        `env:"CONDITIONS_FILE" envDefault:"conditions.yaml"`
	EvaluationInterval time.Duration `env:"EVALUATION_INTERVAL" envDefault:"60s"`
	BackendTimeout     time.Duration `env:"BACKEND_TIMEOUT" envDefault:"30s"`
	BackendQueryRate   float64       `env:"BACKEND_QUERY_RATE" envDefault:"20"` // queries per second, all conditions
	AdminServerAddr    string        `env:"ADMIN_SERVER_ADDR" envDefault:":9091"`
	PIIRedactionFields []string      `env:"PII_REDACTION_FIELDS" envDefault:"email,password,credit_card,ssn" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.EvaluationInterval <= 0 {
		return fmt.Errorf("EVALUATION_INTERVAL must be positive, got %s", c.EvaluationInterval)
	}
	if c.BackendTimeout < 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must not be negative, got %s", c.BackendTimeout)
	}
	if c.BackendQueryRate < 0 {
		return fmt.Errorf("BACKEND_QUERY_RATE must not be negative, got %v", c.BackendQueryRate)
	}
	if c.SpoolSegmentSize <= 0 || c.SpoolMaxDiskSize < c.SpoolSegmentSize {
		return fmt.Errorf("spool sizes are inconsistent (segment=%d, max=%d)", c.SpoolSegmentSize, c.SpoolMaxDiskSize)
	}
	return nil
}
