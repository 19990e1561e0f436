package archive

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"etl-orchestrator/internal/config"
	"etl-orchestrator/internal/domain"
)

var _ domain.ReportArchive = (*GCSArchive)(nil)

// GCSArchive uploads reports to a Google Cloud Storage bucket.
type GCSArchive struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSArchive creates an archive for gs://bucket/prefix. Without a key file
// the client falls back to application default credentials.
func NewGCSArchive(ctx context.Context, cfg config.ArchiveConfig, bucket, prefix string) (*GCSArchive, error) {
	var opts []option.ClientOption
	if cfg.GCSKeyFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, cfg.GCSKeyFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSArchive{client: client, bucket: bucket, prefix: prefix}, nil
}

// Store uploads the report and returns its gs:// URI.
func (a *GCSArchive) Store(ctx context.Context, report *domain.RunReport) (string, error) {
	body, err := encodeReport(report)
	if err != nil {
		return "", err
	}
	key := ReportKey(a.prefix, report)
	w := a.client.Bucket(a.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write gs://%s/%s: %w", a.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close gs://%s/%s: %w", a.bucket, key, err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, key), nil
}

// Close releases the GCS client.
func (a *GCSArchive) Close() error {
	return a.client.Close()
}
