// Package mutate derives unexplored path constraints from explored ones by
// flipping a single branch decision.
package mutate

import (
	"github.com/zjy-dev/cfgds/internal/logger"
	"github.com/zjy-dev/cfgds/internal/predicate"
)

// Mutator inverts branch decisions against a set of explored paths.
type Mutator struct {
	seen *predicate.PathSet
}

// New creates a Mutator that avoids the paths in seen. The set is shared,
// not copied: paths added later are avoided too.
func New(seen *predicate.PathSet) *Mutator {
	return &Mutator{seen: seen}
}

// Mutate scans s front to back and flips the first branch decision whose
// inversion leads off every explored path. Decisions before it are kept,
// everything after it is dropped. It returns false if every inversion is
// already explored.
func (m *Mutator) Mutate(s *predicate.State) (*predicate.State, bool) {
	path := predicate.NewBuilder(nil)
	state := predicate.NewBuilder(nil)

	for _, p := range s.Predicates() {
		if !p.IsPath() {
			state.Add(p)
			continue
		}
		inverted := p.Invert()
		if m.seen.IsPrefixOfAny(path.State().Add(inverted)) {
			path.Add(p)
			state.Add(p)
			continue
		}
		state.Add(inverted)
		logger.Debug("[Mutate] Inverted %s at %s", p, p.Origin)
		return state.State(), true
	}
	return nil, false
}
