package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"etl-orchestrator/internal/domain"
)

var _ domain.ReportArchive = (*FileArchive)(nil)

// FileArchive writes reports below a local directory.
type FileArchive struct {
	dir string
}

// NewFileArchive creates the directory if needed.
func NewFileArchive(dir string) (*FileArchive, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create archive dir %s: %w", dir, err)
	}
	return &FileArchive{dir: dir}, nil
}

// Store writes the report atomically and returns its path.
func (a *FileArchive) Store(_ context.Context, report *domain.RunReport) (string, error) {
	body, err := encodeReport(report)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(a.dir, filepath.FromSlash(ReportKey("", report)))
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, body, 0o600); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return "", fmt.Errorf("rename report: %w", err)
	}
	return dst, nil
}
