package artifact

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PublisherConfig holds the object store settings for artifact uploads.
type PublisherConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
}

// Validate checks the fields required for publishing.
func (c PublisherConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("publisher endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" || strings.TrimSpace(c.SecretKey) == "" {
		return fmt.Errorf("publisher access key and secret key are required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return fmt.Errorf("publisher bucket is required")
	}
	return nil
}

// Publisher uploads bundles and per-file artifacts keyed by run ID.
type Publisher struct {
	client *minio.Client
	bucket string
	region string
	logger *zap.Logger

	initOnce sync.Once
	initErr  error
}

// NewPublisher builds a publisher for the configured bucket.
func NewPublisher(cfg PublisherConfig, logger *zap.Logger) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("building publisher client: %w", err)
	}
	return &Publisher{client: client, bucket: cfg.Bucket, region: region, logger: logger}, nil
}

func (p *Publisher) ensureBucket(ctx context.Context) error {
	p.initOnce.Do(func() {
		exists, err := p.client.BucketExists(ctx, p.bucket)
		if err != nil {
			p.initErr = err
			return
		}
		if exists {
			return
		}
		p.initErr = p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region})
	})
	return p.initErr
}

// Publish uploads each collected file under <runID>/files/ and the bundle
// under <runID>/, concurrently with a bound of four uploads.
func (p *Publisher) Publish(ctx context.Context, runID, bundlePath string, files []Collected) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if err := p.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensuring artifact bucket: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	g.Go(func() error {
		key := path.Join(runID, path.Base(bundlePath))
		_, err := p.client.FPutObject(ctx, p.bucket, key, bundlePath, minio.PutObjectOptions{
			ContentType: "application/gzip",
		})
		if err != nil {
			return fmt.Errorf("uploading bundle: %w", err)
		}
		return nil
	})

	for _, f := range files {
		g.Go(func() error {
			key := path.Join(runID, "files", f.Name)
			_, err := p.client.FPutObject(ctx, p.bucket, key, f.Path, minio.PutObjectOptions{
				ContentType: "image/jpeg",
			})
			if err != nil {
				return fmt.Errorf("uploading %s: %w", f.Name, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	p.logger.Info("artifacts published",
		zap.String("run_id", runID),
		zap.String("bucket", p.bucket),
		zap.Int("files", len(files)))
	return nil
}
