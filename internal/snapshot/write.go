package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lherron/exportmerge/internal/record"
)

// WriteFile encodes records to path, replacing any existing file atomically.
func WriteFile(path string, records []record.Record, opts Options) (*WriteResult, error) {
	data, err := Encode(records, opts)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to write export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to close export: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to move export into place: %w", err)
	}

	return &WriteResult{
		Path:    path,
		Rev:     ComputeRev(data),
		Records: len(records),
	}, nil
}

// MergedPath returns the timestamped output path for a merge run in dir.
func MergedPath(dir, prefix string, now time.Time) string {
	name := FormatFileTimestamp(now) + FileSuffix
	if prefix != "" {
		name = prefix + "-" + name
	}
	return filepath.Join(dir, name)
}

// MarkInvalid renames a written merged output so it cannot be mistaken for a
// good merge. Returns the new path.
func MarkInvalid(path string) (string, error) {
	invalid := strings.TrimSuffix(path, FileSuffix)
	if invalid == path {
		invalid = strings.TrimSuffix(path, filepath.Ext(path))
		invalid += ".invalid" + filepath.Ext(path)
	} else {
		invalid += InvalidSuffix
	}
	if err := os.Rename(path, invalid); err != nil {
		return "", fmt.Errorf("failed to mark output invalid: %w", err)
	}
	return invalid, nil
}
