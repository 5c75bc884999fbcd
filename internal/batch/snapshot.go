package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sievehq/sieve/internal/logutil"
	"github.com/sievehq/sieve/internal/qa"
)

// SnapshotState is the on-disk checkpoint layout: terminal assessment
// records plus the ID counter high-water mark. The key-value store is the
// fast mirror; this file is the source of truth across restarts.
type SnapshotState struct {
	Assessments      map[string]qa.AssessmentJob `json:"assessments"`
	NextAssessmentID int                         `json:"next_assessment_id"`
}

// Snapshot persists terminal assessment state to disk. Writes go through a
// temp file and rename so a crash mid-write leaves the previous checkpoint
// intact.
type Snapshot struct {
	mu     sync.Mutex
	path   string
	logger logutil.LoggerInterface
	state  SnapshotState
	loaded bool
}

// NewSnapshot creates a snapshot writer for path. An empty path disables
// checkpointing (tests that do not care about recovery).
func NewSnapshot(path string, logger logutil.LoggerInterface) *Snapshot {
	return &Snapshot{
		path:   path,
		logger: logger,
		state:  SnapshotState{Assessments: map[string]qa.AssessmentJob{}},
	}
}

// Load reads the checkpoint from disk. A missing file is an empty state,
// not an error.
func (s *Snapshot) Load() (SnapshotState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return SnapshotState{}, err
	}
	return s.state, nil
}

func (s *Snapshot) loadLocked() error {
	if s.loaded || s.path == "" {
		s.loaded = true
		return nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	var state SnapshotState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("snapshot file is corrupt: %w", err)
	}
	if state.Assessments == nil {
		state.Assessments = map[string]qa.AssessmentJob{}
	}
	s.state = state
	s.loaded = true
	return nil
}

// RecordAssessment folds a terminal assessment into the checkpoint and
// writes it out. Raw text is dropped from the checkpoint: recovery needs
// the verdicts, not megabytes of extracted text.
func (s *Snapshot) RecordAssessment(job qa.AssessmentJob, nextID int) {
	if s.path == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		s.logger.Error("snapshot load before write failed: %v", err)
		return
	}
	job.RawText = ""
	s.state.Assessments[job.AssessmentID] = job
	if nextID > s.state.NextAssessmentID {
		s.state.NextAssessmentID = nextID
	}
	if err := s.writeLocked(); err != nil {
		s.logger.Error("snapshot write failed: %v", err)
	}
}

func (s *Snapshot) writeLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(s.state)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// unmarshalJob decodes a stored record, shared by the coordinator's
// read-modify-write closures.
func unmarshalJob(data json.RawMessage, dest interface{}) error {
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("stored record is corrupt: %w", err)
	}
	return nil
}
