// Package state persists pipeline run records to the filesystem.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/smileynet/jpfdoop/internal/pipeline"
)

// Compile-time check: RecordFileStore satisfies pipeline.RecordStore.
var _ pipeline.RecordStore = (*RecordFileStore)(nil)

// ErrInvalidID indicates a run ID is empty or contains path traversal components.
var ErrInvalidID = errors.New("state: invalid run ID")

// RecordFileStore persists run records as YAML files under a base directory,
// one file per run.
type RecordFileStore struct {
	baseDir string
}

// NewRecordFileStore creates a RecordFileStore that saves records under baseDir.
func NewRecordFileStore(baseDir string) *RecordFileStore {
	return &RecordFileStore{baseDir: baseDir}
}

// SaveRecord writes rec to <baseDir>/<run id>.yaml.
func (s *RecordFileStore) SaveRecord(rec pipeline.Record) error {
	p, err := s.Path(rec.RunID)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return fmt.Errorf("state: creating directory: %w", err)
	}

	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("state: marshaling: %w", err)
	}

	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("state: writing %s: %w", p, err)
	}
	return nil
}

// LoadRecord reads the record for runID.
// Returns (record, true, nil) if found, (zero, false, nil) if not found.
func (s *RecordFileStore) LoadRecord(runID string) (pipeline.Record, bool, error) {
	p, err := s.Path(runID)
	if err != nil {
		return pipeline.Record{}, false, err
	}

	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return pipeline.Record{}, false, nil
		}
		return pipeline.Record{}, false, fmt.Errorf("state: reading %s: %w", p, err)
	}

	var rec pipeline.Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return pipeline.Record{}, false, fmt.Errorf("state: parsing %s: %w", p, err)
	}
	return rec, true, nil
}

// Path returns the file a run's record is stored in. It rejects IDs that are
// empty, dot-segments, or contain path separators.
func (s *RecordFileStore) Path(runID string) (string, error) {
	if runID == "" || runID == "." || runID == ".." || runID != filepath.Base(runID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, runID)
	}
	return filepath.Join(s.baseDir, runID+".yaml"), nil
}
