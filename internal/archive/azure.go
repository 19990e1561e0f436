package archive

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"

	"etl-orchestrator/internal/config"
	"etl-orchestrator/internal/domain"
)

var _ domain.ReportArchive = (*AzureArchive)(nil)

// AzureArchive uploads reports to an Azure Blob Storage container.
type AzureArchive struct {
	client    *azblob.Client
	container string
	prefix    string
}

// NewAzureArchive creates an archive for az://container/prefix using
// shared-key credentials.
func NewAzureArchive(cfg config.ArchiveConfig, container, prefix string) (*AzureArchive, error) {
	if cfg.AzureAccountName == "" || cfg.AzureAccountKey == "" {
		return nil, fmt.Errorf("AZURE_ACCOUNT_NAME and AZURE_ACCOUNT_KEY are required for az archives")
	}
	cred, err := azblob.NewSharedKeyCredential(cfg.AzureAccountName, cfg.AzureAccountKey)
	if err != nil {
		return nil, fmt.Errorf("create shared key credential: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AzureAccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return &AzureArchive{client: client, container: container, prefix: prefix}, nil
}

// Store uploads the report and returns its az:// URI.
func (a *AzureArchive) Store(ctx context.Context, report *domain.RunReport) (string, error) {
	body, err := encodeReport(report)
	if err != nil {
		return "", err
	}
	key := ReportKey(a.prefix, report)
	contentType := "application/json"
	_, err = a.client.UploadBuffer(ctx, a.container, key, body, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return "", fmt.Errorf("upload az://%s/%s: %w", a.container, key, err)
	}
	return fmt.Sprintf("az://%s/%s", a.container, key), nil
}
