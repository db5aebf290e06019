package coverage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Mapping records, for every covered vertex, the ID of the first seed that
// covered it. It is persisted as JSON next to the generated seeds.
type Mapping struct {
	mu sync.RWMutex

	Method string `json:"method"`
	// VertexToSeed maps vertex locations to seed IDs.
	VertexToSeed map[string]uint64 `json:"vertex_to_seed"`
	Stats        Stats             `json:"stats"`
}

// NewMapping creates an empty mapping for method.
func NewMapping(method string) *Mapping {
	return &Mapping{Method: method, VertexToSeed: make(map[string]uint64)}
}

// Record attributes every covered vertex of g not yet in the mapping to
// seedID. It returns the number of newly attributed vertices.
func (m *Mapping) Record(g *Graph, seedID uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, v := range g.order {
		if !v.covered {
			continue
		}
		key := v.key.String()
		if _, ok := m.VertexToSeed[key]; ok {
			continue
		}
		m.VertexToSeed[key] = seedID
		n++
	}
	m.Stats = g.Stats()
	return n
}

// SeedFor returns the seed that first covered the vertex at location.
func (m *Mapping) SeedFor(location string) (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.VertexToSeed[location]
	return id, ok
}

// Locations returns the covered locations, sorted.
func (m *Mapping) Locations() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.VertexToSeed))
	for loc := range m.VertexToSeed {
		out = append(out, loc)
	}
	sort.Strings(out)
	return out
}

// Save persists the mapping to path.
func (m *Mapping) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write mapping file: %w", err)
	}
	return nil
}

// LoadMapping reads a mapping written by Save.
func LoadMapping(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping file: %w", err)
	}
	m := &Mapping{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mapping: %w", err)
	}
	if m.VertexToSeed == nil {
		m.VertexToSeed = make(map[string]uint64)
	}
	return m, nil
}

// Overlay marks the vertices of g listed in m as covered, without traces,
// and recomputes distances. It returns how many vertices it marked. The
// result is for display only: branches covered this way have no trace to
// force from.
func (g *Graph) Overlay(m *Mapping) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, v := range g.order {
		if _, ok := m.VertexToSeed[v.key.String()]; ok && !v.covered {
			v.covered = true
			n++
		}
	}
	g.recompute()
	return n
}
