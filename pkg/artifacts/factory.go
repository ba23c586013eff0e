package artifacts

import (
	"context"
	"fmt"
	"os"
)

// StoreType selects the storage backend.
type StoreType string

const (
	StoreTypeNone StoreType = ""
	StoreTypeFS   StoreType = "fs"
	StoreTypeS3   StoreType = "s3"
	StoreTypeGCS  StoreType = "gcs"
)

// Config selects and configures a backend. An empty Type disables publication.
type Config struct {
	Type     StoreType `yaml:"type"`
	Dir      string    `yaml:"dir"`
	Bucket   string    `yaml:"bucket"`
	Region   string    `yaml:"region"`
	Endpoint string    `yaml:"endpoint"`
	Prefix   string    `yaml:"prefix"`
}

// Enabled reports whether a backend is configured.
func (c Config) Enabled() bool { return c.Type != StoreTypeNone }

// Validate checks the backend name and required fields.
func (c Config) Validate() error {
	switch c.Type {
	case StoreTypeNone:
		return nil
	case StoreTypeFS:
		if c.Dir == "" {
			return fmt.Errorf("artifacts: publish.dir is required for fs storage")
		}
	case StoreTypeS3, StoreTypeGCS:
		if c.Bucket == "" {
			return fmt.Errorf("artifacts: publish.bucket is required for %s storage", c.Type)
		}
	default:
		return fmt.Errorf("artifacts: unsupported storage type: %s", c.Type)
	}
	return nil
}

// New opens the configured store.
func New(ctx context.Context, cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case StoreTypeFS:
		return NewFileStore(cfg.Dir)
	case StoreTypeS3:
		region := cfg.Region
		if region == "" {
			region = os.Getenv("AWS_REGION")
		}
		if region == "" {
			region = "eu-south-1"
		}
		return NewS3Store(ctx, S3Config{Bucket: cfg.Bucket, Region: region, Endpoint: cfg.Endpoint, Prefix: cfg.Prefix})
	case StoreTypeGCS:
		return newGCSStore(ctx, cfg)
	}
	return nil, fmt.Errorf("artifacts: publication disabled")
}
