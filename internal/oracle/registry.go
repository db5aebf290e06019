package oracle

import (
	"fmt"
	"sort"
	"sync"

	"github.com/zjy-dev/cfgds/internal/ir"
)

// SolverFactory creates a Solver from backend options.
type SolverFactory func(options map[string]interface{}) (Solver, error)

// MaterializerFactory creates a Materializer from backend options.
type MaterializerFactory func(options map[string]interface{}) (Materializer, error)

// RunnerFactory creates a Runner for methods of p.
type RunnerFactory func(p *ir.Program, options map[string]interface{}) (Runner, error)

var (
	mu            sync.RWMutex
	solvers       = make(map[string]SolverFactory)
	materializers = make(map[string]MaterializerFactory)
	runners       = make(map[string]RunnerFactory)
)

// RegisterSolver adds a solver factory to the registry.
func RegisterSolver(name string, factory SolverFactory) {
	mu.Lock()
	defer mu.Unlock()
	solvers[name] = factory
}

// RegisterMaterializer adds a materializer factory to the registry.
func RegisterMaterializer(name string, factory MaterializerFactory) {
	mu.Lock()
	defer mu.Unlock()
	materializers[name] = factory
}

// RegisterRunner adds a runner factory to the registry.
func RegisterRunner(name string, factory RunnerFactory) {
	mu.Lock()
	defer mu.Unlock()
	runners[name] = factory
}

// NewSolver creates a solver by name.
func NewSolver(name string, options map[string]interface{}) (Solver, error) {
	mu.RLock()
	factory, ok := solvers[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("solver plugin not found: %s", name)
	}
	return factory(options)
}

// NewMaterializer creates a materializer by name.
func NewMaterializer(name string, options map[string]interface{}) (Materializer, error) {
	mu.RLock()
	factory, ok := materializers[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("materializer plugin not found: %s", name)
	}
	return factory(options)
}

// NewRunner creates a runner by name.
func NewRunner(name string, p *ir.Program, options map[string]interface{}) (Runner, error) {
	mu.RLock()
	factory, ok := runners[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("runner plugin not found: %s", name)
	}
	return factory(p, options)
}

// Backends lists the registered names of each kind, sorted.
func Backends() (solverNames, materializerNames, runnerNames []string) {
	mu.RLock()
	defer mu.RUnlock()
	return sortedKeys(solvers), sortedKeys(materializers), sortedKeys(runners)
}

func sortedKeys[F any](m map[string]F) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IntOption reads an integer backend option. Config decoders deliver
// numbers as int, int64 or float64.
func IntOption(options map[string]interface{}, key string, def int64) (int64, error) {
	raw, ok := options[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	}
	return 0, fmt.Errorf("option %s: expected a number, got %T", key, raw)
}

// StringOption reads a string backend option.
func StringOption(options map[string]interface{}, key, def string) (string, error) {
	raw, ok := options[key]
	if !ok || raw == nil {
		return def, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("option %s: expected a string, got %T", key, raw)
	}
	return s, nil
}

// StringsOption reads a list-of-strings backend option.
func StringsOption(options map[string]interface{}, key string) ([]string, error) {
	raw, ok := options[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, len(v))
		for i, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("option %s[%d]: expected a string, got %T", key, i, e)
			}
			out[i] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("option %s: expected a list, got %T", key, raw)
}
