package s3archive

import (
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/TaskFox/internal/pkg/env"
)

// Config holds the snapshot archive bucket settings.
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // S3-compatible services
	Prefix          string
	Enabled         bool
}

// LoadConfig reads the archive settings from S3_* environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Prefix:          env.GetEnv("S3_ARCHIVE_PREFIX", "snapshots"),
		Enabled:         env.GetEnv("S3_ARCHIVE_ENABLED", "false") == "true",
	}

	if cfg.Enabled {
		if cfg.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when the snapshot archive is enabled")
		}
		if cfg.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when the snapshot archive is enabled")
		}
		if cfg.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when the snapshot archive is enabled")
		}
	}
	return cfg, nil
}

func (c *Config) IsEnabled() bool {
	return c.Enabled
}

// ObjectKey returns <prefix>/<provider>/<user>/<YYYY>/<MM>/<run-start>.json.gz.
func (c *Config) ObjectKey(provider string, userID uint, runStart time.Time) string {
	prefix := c.Prefix
	if prefix == "" {
		prefix = "snapshots"
	}
	t := runStart.UTC()
	return fmt.Sprintf("%s/%s/%d/%04d/%02d/%s.json.gz",
		prefix, provider, userID, t.Year(), int(t.Month()), t.Format("20060102T150405Z"))
}
