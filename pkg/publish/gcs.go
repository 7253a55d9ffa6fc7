package publish

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSConfig configures the Google Cloud Storage backend. Without a
// credentials file, application default credentials are used.
type GCSConfig struct {
	Bucket          string
	CredentialsFile string
}

// GCS publishes into a bucket prefix.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCS creates a GCS publisher.
func NewGCS(ctx context.Context, cfg GCSConfig, prefix string) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCS{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

// Name implements Publisher.
func (g *GCS) Name() string { return BackendGCS }

// Clear deletes every object under the prefix.
func (g *GCS) Clear(ctx context.Context) error {
	bucket := g.client.Bucket(g.bucket)
	it := bucket.Objects(ctx, &storage.Query{Prefix: listPrefix(g.prefix)})

	deleted := 0
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("list gs://%s: %w", g.bucket, err)
		}
		if err := bucket.Object(attrs.Name).Delete(ctx); err != nil {
			return fmt.Errorf("delete gs://%s/%s: %w", g.bucket, attrs.Name, err)
		}
		deleted++
	}
	log.Info().
		Str("backend", BackendGCS).
		Int("deleted", deleted).
		Msg("Destination cleared")
	return nil
}

// Upload writes r to the object named by the prefix and name.
func (g *GCS) Upload(ctx context.Context, name string, r io.Reader) error {
	key := objectKey(g.prefix, name)
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", g.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close gs://%s/%s: %w", g.bucket, key, err)
	}
	return nil
}
