package search

import (
	"context"

	"github.com/zjy-dev/cfgds/internal/coverage"
	"github.com/zjy-dev/cfgds/internal/ir"
	"github.com/zjy-dev/cfgds/internal/logger"
	"github.com/zjy-dev/cfgds/internal/predicate"
	"github.com/zjy-dev/cfgds/internal/seed"
	"github.com/zjy-dev/cfgds/internal/symbolic"
	"github.com/zjy-dev/cfgds/internal/trace"
)

// cfgds is the coverage-guided loop: force the cheapest branch, then
// repair along paths from it toward nearby uncovered branches.
func (s *Session) cfgds(ctx context.Context) {
	for {
		if phase, stop := s.checkpoint(ctx); stop {
			s.result.Phase = phase
			return
		}
		s.result.Iterations++
		recordIteration(ctx, StrategyCFGDS)

		progress, repairFailed := s.step(ctx)
		if progress {
			s.failures = 0
			// New traces give failed branches new occurrences to force from.
			s.failed = make(coverage.VertexSet)
		}
		if !progress || repairFailed {
			s.failures++
		}
	}
}

// step runs one iteration. It reports whether new branch coverage was
// reached and whether path repair was attempted and failed.
func (s *Session) step(ctx context.Context) (progress, repairFailed bool) {
	v := s.graph.NextBranchToForce(s.failed)
	if v == nil {
		return s.mutateNewest(ctx), false
	}

	st, from, ok := symbolic.ForceBranch(s.method, newestFirst(s.graph.Traces()), v.Inst(),
		s.graph.ForceTargets(v), s.rejected)
	if !ok {
		st, ok = s.forceStatically(v)
	}
	if !ok {
		logger.Debug("[CFGDS] No unexplored state forces %s", v)
		s.failed.Add(v)
		return false, false
	}
	logger.Debug("[CFGDS] Forcing %s (cost %d): %s", v, v.Cost(), st)

	out, elapsed, ok := s.execute(ctx, st)
	if !ok {
		s.failed.Add(v)
		return false, false
	}
	progress = s.merge(ctx, out, st, seed.OriginForced, v, from, elapsed)
	if ctx.Err() != nil {
		return progress, false
	}

	budget := v.Cost()
	if budget <= 0 {
		budget = coverage.Unbounded
	}
	paths := s.graph.FindPathsForSAP(v, budget, s.cfg.MaxSAPPaths)
	if len(paths) == 0 {
		return progress, false
	}
	for _, p := range paths {
		if ctx.Err() != nil {
			return progress, false
		}
		ok, covered := s.searchAlongPath(ctx, p, out.Trace)
		progress = progress || covered
		if ok {
			s.graph.DropTries()
			return progress, false
		}
	}
	v.IncTries()
	logger.Debug("[SAP] All %d paths from %s failed (tries %d)", len(paths), v, v.Tries())
	return progress, true
}

// forceStatically builds a state forcing v along the shortest static path
// from the method entry. It serves branches for which no trace offers an
// unexplored occurrence.
func (s *Session) forceStatically(v *coverage.Vertex) (*predicate.State, bool) {
	vs := s.graph.PathFromEntry(v)
	if vs == nil {
		return nil, false
	}
	insts := make([]*ir.Instruction, len(vs))
	for i, w := range vs {
		insts[i] = w.Inst()
	}
	for _, target := range s.graph.ForceTargets(v) {
		st := symbolic.BuildPath(s.method, insts, target)
		if !s.rejected(st) {
			logger.Debug("[CFGDS] Forcing %s along a static path of %d vertices", v, len(vs))
			return st, true
		}
	}
	return nil, false
}

// mutateNewest flips one decision of the newest trace and executes the
// result. It is the fallback when no branch can be selected.
func (s *Session) mutateNewest(ctx context.Context) bool {
	traces := s.graph.Traces()
	if len(traces) == 0 {
		return false
	}
	t := traces[len(traces)-1]
	st, ok := s.mutator.Mutate(symbolic.BuildState(s.method, t))
	if !ok {
		logger.Debug("[CFGDS] Nothing left to mutate in the newest trace")
		return false
	}
	out, elapsed, ok := s.execute(ctx, st)
	if !ok {
		return false
	}
	return s.merge(ctx, out, st, seed.OriginMutation, nil, t, elapsed)
}

// searchAlongPath drives execution along path, starting from start, by
// repeatedly forcing the first branch where the best trace leaves it. It
// is bounded by the number of branches on path and by consecutive repairs
// that follow the path no further. It reports whether the path was
// followed to its end and whether any repair reached new branch coverage.
func (s *Session) searchAlongPath(ctx context.Context, path coverage.Path, start *trace.Trace) (followed, covered bool) {
	bound := len(path.Branches())
	best := start
	bestMatched := -1
	progressed := false
	nonImproving := 0

	logger.Debug("[SAP] Following %s (cost %d, bound %d)", path, path.Cost, bound)
	for bound > 0 {
		if ctx.Err() != nil {
			return false, covered
		}
		res := s.matcher.Match(best, path)
		if bestMatched < 0 {
			bestMatched = res.Matched
		}
		if res.Complete {
			if progressed {
				logger.Debug("[SAP] Reached %s", path.Target())
			}
			return progressed, covered
		}
		if res.Point != nil {
			s.result.Divergence = res.Point
		}
		if !res.NeedsRepair() {
			logger.Debug("[SAP] No repair state after %d/%d vertices", res.Matched, len(path.Vertices))
			return false, covered
		}
		if s.rejected(res.State) {
			logger.Debug("[SAP] Repair at %s already explored", res.Point.Branch)
			return false, covered
		}

		bound--
		s.result.Repairs++
		out, elapsed, ok := s.execute(ctx, res.State)
		if !ok {
			return false, covered
		}
		if s.merge(ctx, out, res.State, seed.OriginRepair, res.Point.Branch, best, elapsed) {
			covered = true
		}

		if matched := s.matcher.Match(out.Trace, path).Matched; matched > bestMatched {
			best, bestMatched = out.Trace, matched
			progressed = true
			nonImproving = 0
			continue
		}
		nonImproving++
		if nonImproving >= s.cfg.MaxNonImproving {
			logger.Debug("[SAP] %d repairs without getting further along the path", nonImproving)
			return false, covered
		}
	}
	// The last repair may have completed the path.
	if progressed && s.matcher.Match(best, path).Complete {
		return true, covered
	}
	return false, covered
}
