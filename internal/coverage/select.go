package coverage

import (
	"math/rand"

	"github.com/zjy-dev/cfgds/internal/logger"
)

// Selector breaks ties between branches of equal cost.
type Selector interface {
	// Select picks one of candidates, which is never empty.
	Select(candidates []*Vertex) *Vertex
}

// FirstSelector picks the earliest-built candidate.
type FirstSelector struct{}

func (FirstSelector) Select(candidates []*Vertex) *Vertex { return candidates[0] }

// RandomSelector picks uniformly at random from a seeded source, so runs are
// reproducible.
type RandomSelector struct {
	rng *rand.Rand
}

// NewRandomSelector creates a RandomSelector seeded with seed.
func NewRandomSelector(seed int64) *RandomSelector {
	return &RandomSelector{rng: rand.New(rand.NewSource(seed))}
}

func (s *RandomSelector) Select(candidates []*Vertex) *Vertex {
	return candidates[s.rng.Intn(len(candidates))]
}

// NextBranchToForce returns the covered conditional terminator with the
// lowest uncovered distance plus tries, skipping failed ones and those
// from which no uncovered vertex is reachable. It returns nil when there is
// no candidate.
func (g *Graph) NextBranchToForce(failed VertexSet) *Vertex {
	best := Unreachable
	var candidates []*Vertex
	for _, v := range g.order {
		if !v.covered || !v.IsConditional() || v.distance == Unreachable || failed.Has(v) {
			continue
		}
		switch c := v.Cost(); {
		case c < best:
			best = c
			candidates = append(candidates[:0], v)
		case c == best:
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 {
		logger.Debug("[Graph] No branch left to force")
		return nil
	}
	v := g.selector.Select(candidates)
	logger.Debug("[Graph] Selected %s (distance=%d, tries=%d, ties=%d)",
		v, v.distance, v.tries, len(candidates))
	return v
}
