package publish

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/rs/zerolog/log"
)

// AzureConfig configures the Azure Blob Storage backend with an account key.
// ServiceURL defaults to https://<account>.blob.core.windows.net.
type AzureConfig struct {
	AccountName string
	AccountKey  string
	Container   string
	ServiceURL  string
}

// Azure publishes into a container prefix.
type Azure struct {
	client    *azblob.Client
	container string
	prefix    string
}

// NewAzure creates an Azure publisher.
func NewAzure(cfg AzureConfig, prefix string) (*Azure, error) {
	if cfg.Container == "" {
		return nil, fmt.Errorf("azure container is required")
	}
	if cfg.AccountName == "" || cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure account name and key are required")
	}

	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("create shared key credential: %w", err)
	}
	serviceURL := cfg.ServiceURL
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return &Azure{client: client, container: cfg.Container, prefix: prefix}, nil
}

// Name implements Publisher.
func (a *Azure) Name() string { return BackendAzure }

// Clear deletes every blob under the prefix.
func (a *Azure) Clear(ctx context.Context) error {
	prefix := listPrefix(a.prefix)
	pager := a.client.NewListBlobsFlatPager(a.container, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	var names []string
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list container %s: %w", a.container, err)
		}
		for _, item := range resp.Segment.BlobItems {
			if item.Name != nil {
				names = append(names, *item.Name)
			}
		}
	}

	for _, name := range names {
		if _, err := a.client.DeleteBlob(ctx, a.container, name, nil); err != nil {
			return fmt.Errorf("delete blob %s: %w", name, err)
		}
	}
	log.Info().
		Str("backend", BackendAzure).
		Int("deleted", len(names)).
		Msg("Destination cleared")
	return nil
}

// Upload streams r into a block blob.
func (a *Azure) Upload(ctx context.Context, name string, r io.Reader) error {
	key := objectKey(a.prefix, name)
	if _, err := a.client.UploadStream(ctx, a.container, key, r, nil); err != nil {
		return fmt.Errorf("upload blob %s: %w", key, err)
	}
	return nil
}
