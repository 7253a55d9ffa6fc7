package publish

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// MinIOConfig configures the MinIO backend.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// MinIO publishes into a bucket prefix on a MinIO server.
type MinIO struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinIO creates a MinIO publisher.
func NewMinIO(cfg MinIOConfig, prefix string) (*MinIO, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create MinIO client: %w", err)
	}
	return &MinIO{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

// Name implements Publisher.
func (m *MinIO) Name() string { return BackendMinIO }

// Clear removes every object under the prefix.
func (m *MinIO) Clear(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    listPrefix(m.prefix),
		Recursive: true,
	})

	deleted := 0
	for obj := range objects {
		if obj.Err != nil {
			return fmt.Errorf("list %s: %w", m.bucket, obj.Err)
		}
		if err := m.client.RemoveObject(ctx, m.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove %s/%s: %w", m.bucket, obj.Key, err)
		}
		deleted++
	}
	log.Info().
		Str("backend", BackendMinIO).
		Int("deleted", deleted).
		Msg("Destination cleared")
	return nil
}

// Upload streams r to the object. The size is unknown, so the client uses a
// multipart upload.
func (m *MinIO) Upload(ctx context.Context, name string, r io.Reader) error {
	key := objectKey(m.prefix, name)
	_, err := m.client.PutObject(ctx, m.bucket, key, r, -1, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", m.bucket, key, err)
	}
	return nil
}
