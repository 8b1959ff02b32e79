package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/diarco/connexa-sync/internal/domain/replenishment"
)

// LocalSink writes run artifacts under a directory
type LocalSink struct {
	dir string
}

// NewLocalSink creates the directory if needed
func NewLocalSink(dir string) (*LocalSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &LocalSink{dir: dir}, nil
}

// WriteRun writes <run_id>_consolidated.csv and returns its path. The file
// appears atomically so readers never see a partial dump.
func (s *LocalSink) WriteRun(ctx context.Context, runID string, lines, dropped []replenishment.NettedLine) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name, err := ArtifactName(runID)
	if err != nil {
		return "", err
	}
	data, err := EncodeRunCSV(lines, dropped)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("failed to create artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}

	path := filepath.Join(s.dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to publish artifact: %w", err)
	}
	return path, nil
}
