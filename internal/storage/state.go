package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// StateFileName is stored next to the recordings.
const StateFileName = "state.yaml"

// State is the only thing persisted between runs: the latest recording.
type State struct {
	LastArtifact string `yaml:"last_artifact"`
	UpdatedAt    string `yaml:"updated_at"`
}

// StateStore reads and writes State as YAML.
type StateStore struct {
	path string
	mu   sync.Mutex
}

// NewStateStore stores state in dir/state.yaml.
func NewStateStore(dir string) *StateStore {
	return &StateStore{path: filepath.Join(dir, StateFileName)}
}

// Path returns the state file location.
func (s *StateStore) Path() string {
	return s.path
}

// Load returns the saved state. A missing file is an empty state.
func (s *StateStore) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("failed to read state file: %w", err)
	}

	var state State
	if err := yaml.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("failed to parse state file: %w", err)
	}
	return state, nil
}

// SaveLastArtifact records dest as the latest recording.
func (s *StateStore) SaveLastArtifact(dest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := State{
		LastArtifact: dest,
		UpdatedAt:    time.Now().Format(time.RFC3339),
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := yaml.Marshal(&state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// RestoreLastArtifact returns the saved artifact if it still exists on disk.
func (s *StateStore) RestoreLastArtifact() (string, error) {
	state, err := s.Load()
	if err != nil {
		return "", err
	}
	if state.LastArtifact == "" {
		return "", nil
	}
	if _, err := os.Stat(state.LastArtifact); err != nil {
		return "", nil
	}
	return state.LastArtifact, nil
}
