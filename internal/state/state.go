package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// StateFileName is the name of the global state file.
	StateFileName = "global_state.json"
)

// MethodProgress is the last reported search progress of one method.
type MethodProgress struct {
	Phase           string `json:"phase"`
	Iterations      int    `json:"iterations"`
	OracleCalls     int    `json:"oracle_calls"`
	Seeds           int    `json:"seeds"`
	Vertices        int    `json:"vertices"`
	CoveredVertices int    `json:"covered_vertices"`
	Branches        int    `json:"branches"`
	CoveredBranches int    `json:"covered_branches"`
}

// GlobalState represents the persistent state of a generation run.
// It is used for resume functionality and tracking overall progress.
type GlobalState struct {
	RunID           string                    `json:"run_id"`
	StartedAt       time.Time                 `json:"started_at"`
	LastAllocatedID uint64                    `json:"last_allocated_id"` // Next seed ID will be this + 1
	Methods         map[string]MethodProgress `json:"methods"`
}

// Manager handles the persistence and modification of the global state.
type Manager interface {
	// Load reads the state from disk.
	Load() error

	// Save writes the state to disk.
	Save() error

	// NextID increments and returns the next unique seed ID.
	NextID() uint64

	// UpdateMethod records the progress of a method's search.
	UpdateMethod(method string, p MethodProgress)

	// GetState returns a copy of the current state.
	GetState() GlobalState
}

// FileManager is a file-backed implementation of the Manager interface.
type FileManager struct {
	mu       sync.Mutex
	filePath string
	state    GlobalState
}

// NewFileManager creates a new FileManager for the given directory.
// The state file will be stored at dir/global_state.json.
func NewFileManager(dir string) *FileManager {
	return &FileManager{
		filePath: filepath.Join(dir, StateFileName),
		state:    fresh(),
	}
}

func fresh() GlobalState {
	return GlobalState{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Methods:   make(map[string]MethodProgress),
	}
}

// Load reads the state from disk.
// If the file doesn't exist, a new run with a fresh ID is started.
func (m *FileManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			m.state = fresh()
			return nil
		}
		return fmt.Errorf("failed to read state file %s: %w", m.filePath, err)
	}

	var st GlobalState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to parse state file %s: %w", m.filePath, err)
	}
	if _, err := uuid.Parse(st.RunID); err != nil {
		return fmt.Errorf("state file %s has an invalid run id %q: %w", m.filePath, st.RunID, err)
	}
	if st.Methods == nil {
		st.Methods = make(map[string]MethodProgress)
	}
	m.state = st
	return nil
}

// Save writes the state to disk.
func (m *FileManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Ensure directory exists
	dir := filepath.Dir(m.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := os.WriteFile(m.filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", m.filePath, err)
	}

	return nil
}

// NextID increments and returns the next unique seed ID.
// IDs start from 1.
func (m *FileManager) NextID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.LastAllocatedID++
	return m.state.LastAllocatedID
}

// UpdateMethod records the progress of a method's search.
func (m *FileManager) UpdateMethod(method string, p MethodProgress) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Methods[method] = p
}

// GetState returns a copy of the current state.
func (m *FileManager) GetState() GlobalState {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.state
	st.Methods = make(map[string]MethodProgress, len(m.state.Methods))
	for k, v := range m.state.Methods {
		st.Methods[k] = v
	}
	return st
}

// MethodNames returns the methods with recorded progress, sorted.
func (s GlobalState) MethodNames() []string {
	names := make([]string, 0, len(s.Methods))
	for name := range s.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetFilePath returns the path to the state file.
func (m *FileManager) GetFilePath() string {
	return m.filePath
}
