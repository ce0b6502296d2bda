// Package checkpoint persists per-audio segment progress so interrupted jobs
// resume from their last completed segment.
//
// Checkpoints are content-addressed by audio fingerprint: re-submitting a job
// whose source resolves to already-transcribed audio finds the existing
// checkpoint and skips straight to merge. Saves are atomic (write to a temp
// file in the same directory, then rename), so a crash mid-write never leaves
// a partially written checkpoint observable.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"video-transcriber/internal/domain"
)

// Store holds one JSON checkpoint file per audio fingerprint.
type Store struct {
	dir string
}

// NewStore creates a checkpoint store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Load returns the checkpoint for fingerprint, or nil when absent. A file
// that fails to parse or violates the cursor invariant is discarded and
// reported as absent; the caller re-derives segmentation from scratch.
func (s *Store) Load(fingerprint string) (*domain.Checkpoint, error) {
	path := s.path(fingerprint)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read checkpoint: %v", domain.ErrStorageFailure, err)
	}

	var cp domain.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		_ = os.Remove(path)
		return nil, nil
	}
	if !valid(&cp, fingerprint) {
		_ = os.Remove(path)
		return nil, nil
	}
	return &cp, nil
}

// Save durably writes the checkpoint, replacing any previous version
// atomically.
func (s *Store) Save(cp *domain.Checkpoint) error {
	if cp.Fingerprint == "" {
		return fmt.Errorf("checkpoint fingerprint is required")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: create checkpoint dir: %v", domain.ErrStorageFailure, err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp checkpoint: %v", domain.ErrStorageFailure, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: write checkpoint: %v", domain.ErrStorageFailure, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: sync checkpoint: %v", domain.ErrStorageFailure, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: close checkpoint: %v", domain.ErrStorageFailure, err)
	}

	if err := os.Rename(tmpPath, s.path(cp.Fingerprint)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: replace checkpoint: %v", domain.ErrStorageFailure, err)
	}
	return nil
}

// Discard removes the checkpoint for fingerprint. Missing files are fine.
func (s *Store) Discard(fingerprint string) error {
	err := os.Remove(s.path(fingerprint))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: discard checkpoint: %v", domain.ErrStorageFailure, err)
	}
	return nil
}

// path maps a fingerprint to its checkpoint file.
func (s *Store) path(fingerprint string) string {
	return filepath.Join(s.dir, fingerprint+".json")
}

// valid enforces the checkpoint invariants: the stored fingerprint matches
// the addressed one, the cursor equals the completed segment count, and
// completed segments are contiguous from index zero.
func valid(cp *domain.Checkpoint, fingerprint string) bool {
	if cp.Fingerprint != fingerprint {
		return false
	}
	if cp.TotalSegments <= 0 || cp.Cursor < 0 || cp.Cursor > cp.TotalSegments {
		return false
	}
	if cp.Cursor != len(cp.Segments) {
		return false
	}
	for i, seg := range cp.Segments {
		if seg.Index != i || !seg.Done {
			return false
		}
	}
	return true
}
