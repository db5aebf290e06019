package corpus

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/zjy-dev/cfgds/internal/seed"
	"github.com/zjy-dev/cfgds/internal/state"
)

const (
	// CorpusDir is the subdirectory for seed files, one directory per method.
	CorpusDir = "corpus"
	// CoverageDir is the subdirectory for per-method vertex-to-seed mappings.
	CoverageDir = "coverage"
	// StateDir is the subdirectory for global state.
	StateDir = "state"
)

// Manager manages the lifecycle of generated seeds on disk and in memory.
// Implementations are safe for concurrent use by method searches.
type Manager interface {
	// Initialize prepares the directory structure.
	Initialize() error

	// Recover rebuilds the in-memory index from the corpus directory
	// and restores the GlobalState.
	Recover() error

	// Add persists a new seed. It handles ID allocation via the State Manager.
	Add(s *seed.Seed) error

	// AllocateID allocates and returns the next unique seed ID without persisting.
	AllocateID() uint64

	// Seeds returns the seeds of method ordered by ID.
	Seeds(method string) []*seed.Seed

	// ReportProgress records the search progress of method.
	ReportProgress(method string, p state.MethodProgress)

	// Len returns the number of seeds across all methods.
	Len() int

	// Save persists the current state to disk.
	Save() error
}

// FileManager is a file-backed implementation of the corpus Manager.
type FileManager struct {
	mu           sync.Mutex
	baseDir      string
	corpusDir    string
	coverageDir  string
	stateDir     string
	stateManager *state.FileManager
	namer        seed.NamingStrategy
	seeds        map[string][]*seed.Seed // Seeds by method
}

// NewFileManager creates a new corpus FileManager.
func NewFileManager(baseDir string) *FileManager {
	stateDir := filepath.Join(baseDir, StateDir)
	return &FileManager{
		baseDir:      baseDir,
		corpusDir:    filepath.Join(baseDir, CorpusDir),
		coverageDir:  filepath.Join(baseDir, CoverageDir),
		stateDir:     stateDir,
		stateManager: state.NewFileManager(stateDir),
		namer:        seed.NewLineageNaming(),
		seeds:        make(map[string][]*seed.Seed),
	}
}

// Initialize prepares the directory structure.
func (m *FileManager) Initialize() error {
	dirs := []string{m.corpusDir, m.coverageDir, m.stateDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	// Load or initialize state
	if err := m.stateManager.Load(); err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	return nil
}

// Recover scans the corpus directory to rebuild the in-memory index.
func (m *FileManager) Recover() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Load state first
	if err := m.stateManager.Load(); err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	entries, err := os.ReadDir(m.corpusDir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read corpus directory %s: %w", m.corpusDir, err)
	}

	m.seeds = make(map[string][]*seed.Seed)
	var maxID uint64
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		seeds, err := seed.LoadSeeds(filepath.Join(m.corpusDir, entry.Name()), m.namer)
		if err != nil {
			return fmt.Errorf("failed to load seeds: %w", err)
		}
		for _, s := range seeds {
			m.seeds[s.Method] = append(m.seeds[s.Method], s)
			if s.Meta.ID > maxID {
				maxID = s.Meta.ID
			}
		}
	}

	// Seeds written after the last state save must not have their IDs reused.
	for m.stateManager.GetState().LastAllocatedID < maxID {
		m.stateManager.NextID()
	}

	return nil
}

// Add persists a new seed under its method's directory.
func (m *FileManager) Add(s *seed.Seed) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Allocate new ID if not set
	if s.Meta.ID == 0 {
		s.Meta.ID = m.stateManager.NextID()
	}

	if _, err := seed.SaveSeed(seed.MethodDir(m.corpusDir, s.Method), s, m.namer); err != nil {
		return fmt.Errorf("failed to save seed: %w", err)
	}

	m.seeds[s.Method] = append(m.seeds[s.Method], s)
	return nil
}

// AllocateID allocates and returns the next unique seed ID without persisting.
func (m *FileManager) AllocateID() uint64 {
	return m.stateManager.NextID()
}

// Seeds returns the seeds of method ordered by ID.
func (m *FileManager) Seeds(method string) []*seed.Seed {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := append([]*seed.Seed(nil), m.seeds[method]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Meta.ID < out[j].Meta.ID })
	return out
}

// Methods returns the methods that have seeds, sorted.
func (m *FileManager) Methods() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.seeds))
	for name := range m.seeds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReportProgress records the search progress of method.
func (m *FileManager) ReportProgress(method string, p state.MethodProgress) {
	m.stateManager.UpdateMethod(method, p)
}

// Len returns the number of seeds across all methods.
func (m *FileManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, seeds := range m.seeds {
		n += len(seeds)
	}
	return n
}

// Save persists the current state to disk.
func (m *FileManager) Save() error {
	return m.stateManager.Save()
}

// MappingPath returns where the vertex-to-seed mapping of method is stored.
func (m *FileManager) MappingPath(method string) string {
	return seed.MethodDir(m.coverageDir, method) + ".json"
}

// GetStateManager returns the underlying state manager.
func (m *FileManager) GetStateManager() *state.FileManager {
	return m.stateManager
}

// GetCorpusDir returns the corpus directory path.
func (m *FileManager) GetCorpusDir() string {
	return m.corpusDir
}
