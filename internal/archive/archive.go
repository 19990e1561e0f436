// Package archive stores terminal run reports in object storage or on disk.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"

	"etl-orchestrator/internal/config"
	"etl-orchestrator/internal/domain"
)

// ReportKey returns the object key of a report below prefix:
// runs/<yyyy>/<mm>/<dd>/<batch_id>.json, dated by the run start in UTC.
func ReportKey(prefix string, report *domain.RunReport) string {
	started := report.StartedAt.UTC()
	return path.Join(strings.Trim(prefix, "/"), "runs",
		started.Format("2006"), started.Format("01"), started.Format("02"),
		report.BatchID+".json")
}

func encodeReport(report *domain.RunReport) ([]byte, error) {
	if report == nil || report.BatchID == "" {
		return nil, domain.ErrValidation("report without batch id")
	}
	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report %s: %w", report.BatchID, err)
	}
	return b, nil
}

// parseLocation splits an archive URL into scheme, bucket (or container)
// and key prefix.
func parseLocation(raw string) (scheme, bucket, prefix string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", "", fmt.Errorf("parse archive url %q: %w", raw, err)
	}
	if u.Scheme == "file" {
		if u.Path == "" {
			return "", "", "", fmt.Errorf("empty directory in archive url %q", raw)
		}
		return u.Scheme, "", u.Path, nil
	}
	if u.Host == "" {
		return "", "", "", fmt.Errorf("empty bucket in archive url %q", raw)
	}
	return u.Scheme, u.Host, strings.Trim(u.Path, "/"), nil
}

// Open returns the archive selected by cfg.URL, or nil when archiving is
// disabled.
func Open(ctx context.Context, cfg config.ArchiveConfig) (domain.ReportArchive, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	scheme, bucket, prefix, err := parseLocation(cfg.URL)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "s3":
		return NewS3Archive(cfg, bucket, prefix)
	case "az":
		return NewAzureArchive(cfg, bucket, prefix)
	case "gs":
		return NewGCSArchive(ctx, cfg, bucket, prefix)
	case "file":
		return NewFileArchive(prefix)
	default:
		return nil, fmt.Errorf("unsupported archive scheme %q", scheme)
	}
}
