package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Object store backends.
const (
	StoreFS    = "fs"
	StoreMinIO = "minio"
	StoreGCS   = "gcs"
)

// DefaultMaxUploadBytes is the largest accepted scan upload (500 MiB).
const DefaultMaxUploadBytes = 500 << 20

// ServiceConfig holds process settings read from the environment. Command
// line flags in cmd/survey override them.
type ServiceConfig struct {
	DBPath     string `env:"SURVEY_DB_PATH" envDefault:"survey.db"`
	Listen     string `env:"SURVEY_LISTEN" envDefault:":8090"`
	TuningPath string `env:"SURVEY_TUNING_PATH"`

	Store    string `env:"SURVEY_STORE" envDefault:"fs"`
	StoreDir string `env:"SURVEY_STORE_DIR" envDefault:"data"`

	MinIO MinIOConfig `envPrefix:"SURVEY_MINIO_"`
	GCS   GCSConfig   `envPrefix:"SURVEY_GCS_"`

	Workers        int           `env:"SURVEY_WORKERS" envDefault:"2"`
	QueueSize      int           `env:"SURVEY_QUEUE_SIZE" envDefault:"64"`
	MaxUploadBytes int64         `env:"SURVEY_MAX_UPLOAD_BYTES" envDefault:"524288000"`
	StuckAfter     time.Duration `env:"SURVEY_STUCK_AFTER" envDefault:"30m"`
	ReconcileEvery time.Duration `env:"SURVEY_RECONCILE_EVERY" envDefault:"1m"`
}

// MinIOConfig configures the S3-compatible backend.
type MinIOConfig struct {
	Endpoint  string `env:"ENDPOINT"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Bucket    string `env:"BUCKET" envDefault:"survey"`
	UseSSL    bool   `env:"USE_SSL"`
}

// GCSConfig configures the Google Cloud Storage backend. Credentials come
// from the ambient application default credentials.
type GCSConfig struct {
	Bucket string `env:"BUCKET"`
	Prefix string `env:"PREFIX"`
}

// LoadServiceConfig reads ServiceConfig from the process environment.
func LoadServiceConfig() (*ServiceConfig, error) {
	return parseService(env.Options{})
}

// LoadServiceConfigFrom reads ServiceConfig from the given variables
// instead of the process environment.
func LoadServiceConfigFrom(vars map[string]string) (*ServiceConfig, error) {
	return parseService(env.Options{Environment: vars})
}

func parseService(opts env.Options) (*ServiceConfig, error) {
	cfg := &ServiceConfig{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail late at startup.
func (c *ServiceConfig) Validate() error {
	switch c.Store {
	case StoreFS:
		if c.StoreDir == "" {
			return fmt.Errorf("SURVEY_STORE_DIR is required for the fs store")
		}
	case StoreMinIO:
		if c.MinIO.Endpoint == "" || c.MinIO.Bucket == "" {
			return fmt.Errorf("SURVEY_MINIO_ENDPOINT and SURVEY_MINIO_BUCKET are required for the minio store")
		}
	case StoreGCS:
		if c.GCS.Bucket == "" {
			return fmt.Errorf("SURVEY_GCS_BUCKET is required for the gcs store")
		}
	default:
		return fmt.Errorf("unknown SURVEY_STORE %q (want fs, minio or gcs)", c.Store)
	}
	if c.Workers < 1 {
		return fmt.Errorf("SURVEY_WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("SURVEY_QUEUE_SIZE must be at least 1, got %d", c.QueueSize)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("SURVEY_MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	if c.StuckAfter <= 0 {
		return fmt.Errorf("SURVEY_STUCK_AFTER must be positive, got %s", c.StuckAfter)
	}
	if c.ReconcileEvery <= 0 {
		return fmt.Errorf("SURVEY_RECONCILE_EVERY must be positive, got %s", c.ReconcileEvery)
	}
	return nil
}
