package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	LogLevel          string        `env:"LOG_LEVEL" envDefault:"info"`
	ServerAddr        string        `env:"SERVER_ADDR" envDefault:"localhost:3080"`
	AdminAddr         string        `env:"ADMIN_ADDR" envDefault:":9091"`
	DatabaseURL       string        `env:"DATABASE_URL,required,notEmpty"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	BatchSize         int           `env:"BATCH_SIZE" envDefault:"1000"`
	MaxUploadSize     int64         `env:"MAX_UPLOAD_SIZE_BYTES" envDefault:"1073741824"` // 1GB
	MaxEventSize      int64         `env:"MAX_EVENT_SIZE_BYTES" envDefault:"1048576"`     // 1MB
	RedisAddr         string        `env:"REDIS_ADDR"`                                    // empty: single records are inserted synchronously
	RedisDLQStream    string        `env:"REDIS_DLQ_STREAM" envDefault:"access_logs_dlq"`
	WALPath           string        `env:"WAL_PATH" envDefault:"./wal"`
	WALSegmentSize    int64         `env:"WAL_SEGMENT_SIZE_BYTES" envDefault:"104857600"`  // 100MB
	WALMaxDiskSize    int64         `env:"WAL_MAX_DISK_SIZE_BYTES" envDefault:"1073741824"` // 1GB
	ConsumerInterval  time.Duration `env:"CONSUMER_INTERVAL" envDefault:"1s"`
	ConsumerClaimIdle time.Duration `env:"CONSUMER_CLAIM_IDLE" envDefault:"1m"` // 0 disables taking over stale records
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	HTTPReadTimeout   time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5m"`
	HTTPWriteTimeout  time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"5m"`
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

// Validate rejects settings the ingestion pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("BATCH_SIZE must be positive"))
	}
	if c.MaxUploadSize <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_SIZE_BYTES must be positive"))
	}
	if c.MaxEventSize <= 0 {
		errs = append(errs, errors.New("MAX_EVENT_SIZE_BYTES must be positive"))
	}
	return errors.Join(errs...)
}
