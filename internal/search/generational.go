package search

import (
	"context"

	"github.com/zjy-dev/cfgds/internal/logger"
	"github.com/zjy-dev/cfgds/internal/seed"
	"github.com/zjy-dev/cfgds/internal/symbolic"
	"github.com/zjy-dev/cfgds/internal/trace"
)

// generational explores without the graph's guidance: it keeps a stack of
// traces that reached new coverage and mutates the newest one until every
// decision of it is explored.
func (s *Session) generational(ctx context.Context) {
	work := append([]*trace.Trace(nil), s.graph.Traces()...)
	for {
		if phase, stop := s.checkpoint(ctx); stop {
			s.result.Phase = phase
			return
		}
		if len(work) == 0 {
			logger.Info("[CFGDS] Generational search of %s ran out of traces", s.method.FullName())
			s.result.Phase = PhaseExhausted
			return
		}
		s.result.Iterations++
		recordIteration(ctx, StrategyGenerational)

		t := work[len(work)-1]
		st, ok := s.mutator.Mutate(symbolic.BuildState(s.method, t))
		if !ok {
			work = work[:len(work)-1]
			s.failures++
			continue
		}
		out, elapsed, ok := s.execute(ctx, st)
		if !ok {
			s.failures++
			continue
		}
		if s.merge(ctx, out, st, seed.OriginMutation, nil, t, elapsed) {
			work = append(work, out.Trace)
			s.failures = 0
			continue
		}
		s.failures++
	}
}
