// Package checkpoint implements the Checkpoint Store (spec.md §3/§4.4):
// a durable, per-module record of the last completion status and an
// opaque resume payload, written to workspace/state/checkpoints.json.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Status is a module's last-recorded outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// Checkpoint is the durable record for one module.
type Checkpoint struct {
	Module        string          `json:"module"`
	Status        Status          `json:"status"`
	CompletedAt   time.Time       `json:"completed_at"`
	Error         string          `json:"error,omitempty"`
	ResumeData    json.RawMessage `json:"resume_data,omitempty"`
}

// Store persists checkpoints as a single JSON document, rewritten
// atomically (temp file + rename) on every update so a crash mid-write
// never corrupts previously recorded progress.
type Store struct {
	path string
	mu   sync.Mutex
	data map[string]Checkpoint
}

// Open loads an existing checkpoint file at stateDir/checkpoints.json,
// or starts empty if none exists yet.
func Open(stateDir string) (*Store, error) {
	path := filepath.Join(stateDir, "checkpoints.json")
	s := &Store{path: path, data: map[string]Checkpoint{}}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "reading checkpoint store %s", path)
	}

	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, errors.Wrapf(err, "parsing checkpoint store %s", path)
	}
	return s, nil
}

// Get returns the last recorded checkpoint for module, if any.
func (s *Store) Get(module string) (Checkpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.data[module]
	return cp, ok
}

// RecordSuccess persists a success checkpoint with resumeData (which
// may be nil if the module has nothing to hand its future self).
func (s *Store) RecordSuccess(module string, resumeData json.RawMessage) error {
	return s.record(Checkpoint{
		Module:      module,
		Status:      StatusSuccess,
		CompletedAt: time.Now().UTC(),
		ResumeData:  resumeData,
	})
}

// RecordError persists a failure checkpoint carrying the module name
// and error text, per spec.md §4.4's "write an error checkpoint"
// requirement.
func (s *Store) RecordError(module string, moduleErr error) error {
	return s.record(Checkpoint{
		Module:      module,
		Status:      StatusError,
		CompletedAt: time.Now().UTC(),
		Error:       moduleErr.Error(),
	})
}

// RecordSkipped persists a skip checkpoint for a module whose enable
// flag is false.
func (s *Store) RecordSkipped(module string) error {
	return s.record(Checkpoint{
		Module:      module,
		Status:      StatusSkipped,
		CompletedAt: time.Now().UTC(),
	})
}

func (s *Store) record(cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[cp.Module] = cp
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling checkpoint store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".checkpoints-*.json.tmp")
	if err != nil {
		return fmt.Errorf("creating checkpoint temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("writing checkpoint temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("renaming checkpoint store into place: %w", err)
	}
	return nil
}

// All returns every recorded checkpoint, ordered to match order (any
// module in the store but absent from order is appended after, so
// inspect-checkpoint never silently drops stale entries from a
// previous spec version). Used by the inspect-checkpoint CLI command.
func (s *Store) All(order []string) []Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(order))
	out := make([]Checkpoint, 0, len(s.data))
	for _, name := range order {
		if cp, ok := s.data[name]; ok {
			out = append(out, cp)
			seen[name] = true
		}
	}
	for name, cp := range s.data {
		if !seen[name] {
			out = append(out, cp)
		}
	}
	return out
}

// FirstIncomplete returns the index into order of the first module
// whose checkpoint is missing or not StatusSuccess, the entry point
// Resume uses to skip already-completed work.
func (s *Store) FirstIncomplete(order []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, name := range order {
		cp, ok := s.data[name]
		if !ok || cp.Status != StatusSuccess {
			return i
		}
	}
	return len(order)
}
