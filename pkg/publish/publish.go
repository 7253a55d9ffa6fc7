// Package publish replaces the contents of a remote file store with the
// files of a run. Supported stores are a Google Drive folder, Google Cloud
// Storage, Amazon S3 (and compatible), Azure Blob Storage, MinIO, and a local
// directory.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for publishing.
var (
	filesUploadedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redash_files_uploaded_total",
		Help: "Total number of files uploaded by backend",
	}, []string{"backend"})

	uploadErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redash_upload_errors_total",
		Help: "Total number of failed uploads by backend",
	}, []string{"backend"})
)

// Backend names.
const (
	BackendDrive = "drive"
	BackendGCS   = "gcs"
	BackendS3    = "s3"
	BackendAzure = "azure"
	BackendMinIO = "minio"
	BackendLocal = "local"
)

// ErrUnknownBackend is returned by New for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown publish backend")

const contentType = "application/octet-stream"

// Publisher is a destination for the files of a run.
type Publisher interface {
	// Clear removes every file currently in the destination.
	Clear(ctx context.Context) error

	// Upload stores r under name.
	Upload(ctx context.Context, name string, r io.Reader) error

	// Name identifies the backend in logs and metrics.
	Name() string
}

// Config selects and configures a backend.
type Config struct {
	Backend string

	// Prefix is prepended to object names by the object store backends.
	Prefix string

	Local LocalConfig
	Drive DriveConfig
	GCS   GCSConfig
	S3    S3Config
	Azure AzureConfig
	MinIO MinIOConfig
}

// New creates the publisher named by cfg.Backend.
func New(ctx context.Context, cfg Config) (Publisher, error) {
	switch cfg.Backend {
	case BackendLocal:
		return NewLocal(cfg.Local.Dir)
	case BackendDrive:
		return NewDrive(ctx, cfg.Drive)
	case BackendGCS:
		return NewGCS(ctx, cfg.GCS, cfg.Prefix)
	case BackendS3:
		return NewS3(cfg.S3, cfg.Prefix)
	case BackendAzure:
		return NewAzure(cfg.Azure, cfg.Prefix)
	case BackendMinIO:
		return NewMinIO(cfg.MinIO, cfg.Prefix)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// UploadFiles uploads each local file under its base name. Every file is
// attempted; the returned error joins the failures.
func UploadFiles(ctx context.Context, p Publisher, paths []string) (int, error) {
	var errs []error
	uploaded := 0
	for _, local := range paths {
		name := filepath.Base(local)
		if err := uploadFile(ctx, p, local, name); err != nil {
			uploadErrorsTotal.WithLabelValues(p.Name()).Inc()
			log.Error().
				Err(err).
				Str("backend", p.Name()).
				Str("file", name).
				Msg("Upload failed")
			errs = append(errs, err)
			continue
		}
		uploaded++
		filesUploadedTotal.WithLabelValues(p.Name()).Inc()
		log.Info().
			Str("backend", p.Name()).
			Str("file", name).
			Msg("File uploaded")
	}
	return uploaded, errors.Join(errs...)
}

func uploadFile(ctx context.Context, p Publisher, local, name string) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("open %s: %w", local, err)
	}
	defer f.Close()

	if err := p.Upload(ctx, name, f); err != nil {
		return fmt.Errorf("upload %s to %s: %w", name, p.Name(), err)
	}
	return nil
}

// objectKey joins prefix and name with a single slash.
func objectKey(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// listPrefix is the prefix objects are listed with when clearing.
func listPrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}
