package importer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vonshlovens/catalogsync/internal/model"
)

// Recorder persists import bookkeeping across runs.
type Recorder interface {
	RecordImport(run Run) error
}

// Run describes one finished import.
type Run struct {
	ID         string                                `json:"id"`
	StartedAt  time.Time                             `json:"started_at"`
	FinishedAt time.Time                             `json:"finished_at"`
	Providers  map[model.ProviderType]ProviderStatus `json:"providers"`
}

// ProviderStatus is the outcome of one provider within a run.
type ProviderStatus struct {
	Songs     string `json:"songs"`
	Playlists string `json:"playlists"`
	Error     string `json:"error,omitempty"`
}

// ImportState is the on-disk document kept by StateFile.
type ImportState struct {
	ImportCount int        `json:"import_count"`
	LastImport  *time.Time `json:"last_import,omitempty"`
	LastRun     *Run       `json:"last_run,omitempty"`
}

// StateFile keeps ImportState as JSON on disk.
type StateFile struct {
	path  string
	mu    sync.RWMutex
	state ImportState
}

// OpenStateFile loads the state file at path, starting empty if it does not
// exist yet.
func OpenStateFile(path string) (*StateFile, error) {
	sf := &StateFile{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sf, nil
		}
		return nil, fmt.Errorf("failed to read import state: %w", err)
	}
	if err := json.Unmarshal(data, &sf.state); err != nil {
		return nil, fmt.Errorf("failed to parse import state: %w", err)
	}
	return sf, nil
}

// RecordImport stores the run and bumps the import count.
func (sf *StateFile) RecordImport(run Run) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	finished := run.FinishedAt
	sf.state.ImportCount++
	sf.state.LastImport = &finished
	sf.state.LastRun = &run

	data, err := json.MarshalIndent(sf.state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(sf.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp := sf.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write import state: %w", err)
	}
	return os.Rename(tmp, sf.path)
}

// State returns a copy of the current state.
func (sf *StateFile) State() ImportState {
	sf.mu.RLock()
	defer sf.mu.RUnlock()
	return sf.state
}

// LastImport returns when the last import finished, or nil if none has.
func (sf *StateFile) LastImport() *time.Time {
	sf.mu.RLock()
	defer sf.mu.RUnlock()
	return sf.state.LastImport
}
