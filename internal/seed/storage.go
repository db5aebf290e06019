package seed

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zjy-dev/cfgds/internal/logger"
)

// MethodDir returns the directory holding the seeds of method under base.
// Characters that are awkward in paths are replaced.
func MethodDir(base, method string) string {
	r := strings.NewReplacer("<", "_", ">", "_", "/", "_", "\\", "_", ":", "_")
	return filepath.Join(base, r.Replace(method))
}

// SaveSeed writes s as a JSON file in dir, named by namer.
// It fills in the metadata's FilePath and ContentHash and returns the filename.
func SaveSeed(dir string, s *Seed, namer NamingStrategy) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	filename := namer.GenerateFilename(s)
	s.Meta.FilePath = filename
	s.Meta.ContentHash = GenerateContentHash(s.Content())

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal seed %d: %w", s.Meta.ID, err)
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write seed file %s: %w", path, err)
	}
	return filename, nil
}

// LoadSeed reads one seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}
	var s Seed
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal seed %s: %w", path, err)
	}
	s.Meta.FilePath = filepath.Base(path)
	return &s, nil
}

// LoadSeeds loads every seed in dir whose filename namer accepts, ordered
// by ID. A seed whose content disagrees with the lineage its filename
// records is skipped. A missing directory holds no seeds.
func LoadSeeds(dir string, namer NamingStrategy) ([]*Seed, error) {
	var seeds []*Seed

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return seeds, nil
		}
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, err := namer.ParseFilename(entry.Name())
		if err != nil {
			continue // Not a seed file
		}
		s, err := LoadSeed(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if !name.Matches(s) {
			logger.Warn("[Seed] Skipping %s: content does not match its name", entry.Name())
			continue
		}
		seeds = append(seeds, s)
	}

	sort.Slice(seeds, func(i, j int) bool { return seeds[i].Meta.ID < seeds[j].Meta.ID })
	return seeds, nil
}
