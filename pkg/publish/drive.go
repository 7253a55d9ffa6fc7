package publish

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// DriveConfig configures the Google Drive backend. One of CredentialsFile
// and CredentialsJSON holds a service account key.
type DriveConfig struct {
	FolderID        string
	CredentialsFile string
	CredentialsJSON string
}

// Drive publishes into a Google Drive folder.
type Drive struct {
	files    *drive.FilesService
	folderID string
}

// NewDrive creates a Drive publisher authenticated as a service account.
func NewDrive(ctx context.Context, cfg DriveConfig) (*Drive, error) {
	if cfg.FolderID == "" {
		return nil, fmt.Errorf("drive folder id is required")
	}

	opts := []option.ClientOption{option.WithScopes(drive.DriveScope)}
	switch {
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithAuthCredentialsJSON(option.ServiceAccount, []byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, cfg.CredentialsFile))
	default:
		return nil, fmt.Errorf("drive credentials are required")
	}

	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &Drive{files: srv.Files, folderID: cfg.FolderID}, nil
}

// Name implements Publisher.
func (d *Drive) Name() string { return BackendDrive }

// Clear deletes every non-trashed file whose parent is the folder.
func (d *Drive) Clear(ctx context.Context) error {
	q := fmt.Sprintf("'%s' in parents and trashed = false", strings.ReplaceAll(d.folderID, "'", `\'`))

	var ids []string
	pageToken := ""
	for {
		call := d.files.List().
			Q(q).
			Fields("nextPageToken, files(id, name)").
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		list, err := call.Do()
		if err != nil {
			return fmt.Errorf("list drive folder: %w", err)
		}
		for _, f := range list.Files {
			ids = append(ids, f.Id)
		}
		if list.NextPageToken == "" {
			break
		}
		pageToken = list.NextPageToken
	}

	for _, id := range ids {
		if err := d.files.Delete(id).SupportsAllDrives(true).Context(ctx).Do(); err != nil {
			return fmt.Errorf("delete drive file %s: %w", id, err)
		}
	}
	log.Info().
		Str("backend", BackendDrive).
		Int("deleted", len(ids)).
		Msg("Destination cleared")
	return nil
}

// Upload creates name in the folder.
func (d *Drive) Upload(ctx context.Context, name string, r io.Reader) error {
	meta := &drive.File{
		Name:    name,
		Parents: []string{d.folderID},
	}
	_, err := d.files.Create(meta).
		Media(r).
		SupportsAllDrives(true).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("create drive file: %w", err)
	}
	return nil
}
