// Package report renders the outcome of a run as a markdown coverage
// report and a terminal summary.
package report

import (
	"time"

	"github.com/zjy-dev/cfgds/internal/coverage"
	"github.com/zjy-dev/cfgds/internal/search"
)

// Run is the outcome of one cfgds run.
type Run struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration
	Results   []*search.Result
}

// Reporter defines the interface for saving run reports.
type Reporter interface {
	// Save writes the report of run and returns where it was written.
	Save(run *Run) (string, error)
}

// Totals sums coverage statistics over all results.
func (r *Run) Totals() coverage.Stats {
	var total coverage.Stats
	for _, res := range r.Results {
		total.Vertices += res.Stats.Vertices
		total.CoveredVertices += res.Stats.CoveredVertices
		total.Branches += res.Stats.Branches
		total.CoveredBranches += res.Stats.CoveredBranches
	}
	return total
}

// SeedCount returns the number of seeds generated in the run.
func (r *Run) SeedCount() int {
	n := 0
	for _, res := range r.Results {
		n += len(res.Seeds)
	}
	return n
}

// UncoveredBranch is a branch outcome no input reached.
type UncoveredBranch struct {
	// Location is the branch instruction, "Class.method:block:index".
	Location string
	// Target is the label of the successor block that was never entered
	// from the branch.
	Target string
}

// UncoveredBranches lists the uncovered outgoing edges of conditional
// terminators in g, in vertex order.
func UncoveredBranches(g *coverage.Graph) []UncoveredBranch {
	if g == nil {
		return nil
	}
	var out []UncoveredBranch
	for _, v := range g.Vertices() {
		if !v.IsConditional() {
			continue
		}
		for _, w := range v.Successors() {
			if g.IsEdgeCovered(v, w) {
				continue
			}
			target := w.Key().String()
			if b := w.Block(); b != nil {
				target = b.Label
			}
			out = append(out, UncoveredBranch{Location: v.Key().String(), Target: target})
		}
	}
	return out
}
