// Package config resolves runtime settings from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"sarpipe/internal/artifact"
	"sarpipe/internal/dataset"
)

// ObjectStore holds S3-compatible storage settings, shared by the dataset
// fetcher and the artifact publisher.
type ObjectStore struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
}

// Enabled reports whether an object store is configured at all. Both the
// dataset source and artifact upload paths are optional.
func (o ObjectStore) Enabled() bool {
	return o.Endpoint != ""
}

// Config is the resolved runtime configuration.
type Config struct {
	// CacheDir stores step cache entries. Defaults to .sarpipe/cache
	// under the working directory when empty.
	CacheDir string

	// OrbitsDir is passed to the toolchain configure step.
	OrbitsDir string

	// LogLevel is debug, info, warn, or error.
	LogLevel string

	ObjectStore ObjectStore
}

// Load reads configuration from a .env file (if present) and the process
// environment. Environment variables win over .env values.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		CacheDir:  strings.TrimSpace(os.Getenv("SARPIPE_CACHE_DIR")),
		OrbitsDir: firstNonEmpty(strings.TrimSpace(os.Getenv("SARPIPE_ORBITS_DIR")), "/usr/local/orbits"),
		LogLevel:  firstNonEmpty(strings.TrimSpace(os.Getenv("SARPIPE_LOG_LEVEL")), "info"),
		ObjectStore: ObjectStore{
			Endpoint:  strings.TrimSpace(os.Getenv("SARPIPE_S3_ENDPOINT")),
			AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("SARPIPE_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
			SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("SARPIPE_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
			Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("SARPIPE_S3_REGION")), "us-east-1"),
			Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("SARPIPE_S3_BUCKET")), "sarpipe-artifacts"),
			UseSSL:    resolveUseSSL(),
		},
	}
}

func resolveUseSSL() bool {
	raw := strings.TrimSpace(os.Getenv("SARPIPE_S3_USE_SSL"))
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

// DatasetStoreConfig adapts the object store settings for dataset
// downloads.
func (c *Config) DatasetStoreConfig() dataset.ObjectStoreConfig {
	return dataset.ObjectStoreConfig{
		Endpoint:  c.ObjectStore.Endpoint,
		AccessKey: c.ObjectStore.AccessKey,
		SecretKey: c.ObjectStore.SecretKey,
		Region:    c.ObjectStore.Region,
		UseSSL:    c.ObjectStore.UseSSL,
	}
}

// PublisherConfig adapts the object store settings for artifact uploads.
func (c *Config) PublisherConfig() artifact.PublisherConfig {
	return artifact.PublisherConfig{
		Endpoint:  c.ObjectStore.Endpoint,
		AccessKey: c.ObjectStore.AccessKey,
		SecretKey: c.ObjectStore.SecretKey,
		Region:    c.ObjectStore.Region,
		Bucket:    c.ObjectStore.Bucket,
		UseSSL:    c.ObjectStore.UseSSL,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
