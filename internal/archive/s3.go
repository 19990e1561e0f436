package archive

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"etl-orchestrator/internal/config"
	"etl-orchestrator/internal/domain"
)

var _ domain.ReportArchive = (*S3Archive)(nil)

// S3Archive uploads reports to S3-compatible object storage.
type S3Archive struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Archive creates an archive for s3://bucket/prefix. A custom endpoint
// switches to path-style addressing for S3-compatible providers.
func NewS3Archive(cfg config.ArchiveConfig, bucket, prefix string) (*S3Archive, error) {
	if cfg.S3KeyID == "" || cfg.S3Secret == "" {
		return nil, fmt.Errorf("KEY_ID and SECRET are required for s3 archives")
	}
	region := cfg.S3Region
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.S3KeyID, cfg.S3Secret, ""),
	}
	if cfg.S3Endpoint != "" {
		endpoint := cfg.S3Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = "https://" + endpoint
		}
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}
	return &S3Archive{client: s3.New(opts), bucket: bucket, prefix: prefix}, nil
}

// Store uploads the report and returns its s3:// URI.
func (a *S3Archive) Store(ctx context.Context, report *domain.RunReport) (string, error) {
	body, err := encodeReport(report)
	if err != nil {
		return "", err
	}
	key := ReportKey(a.prefix, report)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", a.bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}
