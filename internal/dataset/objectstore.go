package dataset

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ObjectStoreConfig holds S3-compatible endpoint settings for s3://
// dataset sources.
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Validate checks the fields required to build a client.
func (c ObjectStoreConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("object store endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" || strings.TrimSpace(c.SecretKey) == "" {
		return fmt.Errorf("object store access key and secret key are required")
	}
	return nil
}

// ObjectStore fetches dataset archives from an S3-compatible store.
type ObjectStore struct {
	client *minio.Client
	logger *zap.Logger
}

// NewObjectStore builds an S3 client for dataset fetches.
func NewObjectStore(cfg ObjectStoreConfig, logger *zap.Logger) (*ObjectStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newObjectStoreTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("building object store client: %w", err)
	}
	return &ObjectStore{client: client, logger: logger}, nil
}

// Fetch downloads one object to a local file.
func (s *ObjectStore) Fetch(ctx context.Context, src Source, dest string) error {
	if src.Kind != SourceS3 {
		return fmt.Errorf("object store fetch requires an s3:// source, got %s", src.Kind)
	}

	s.logger.Info("fetching dataset object",
		zap.String("bucket", src.Bucket),
		zap.String("key", src.Key),
		zap.String("dest", dest))

	// FGetObject stages into a temp part file and renames on completion.
	if err := s.client.FGetObject(ctx, src.Bucket, src.Key, dest, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("fetching s3://%s/%s: %w", src.Bucket, src.Key, err)
	}
	return nil
}

// FetchAll downloads several objects concurrently into dir, bounded by
// parallelism. The first failure cancels the remaining fetches.
func (s *ObjectStore) FetchAll(ctx context.Context, sources []Source, dir string, parallelism int) error {
	if parallelism <= 0 {
		parallelism = 4
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for _, src := range sources {
		g.Go(func() error {
			return s.Fetch(ctx, src, filepath.Join(dir, src.Base()))
		})
	}
	return g.Wait()
}

func newObjectStoreTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
