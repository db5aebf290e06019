package search

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/zjy-dev/cfgds/internal/corpus"
	"github.com/zjy-dev/cfgds/internal/coverage"
	"github.com/zjy-dev/cfgds/internal/divergence"
	"github.com/zjy-dev/cfgds/internal/ir"
	"github.com/zjy-dev/cfgds/internal/logger"
	"github.com/zjy-dev/cfgds/internal/mutate"
	"github.com/zjy-dev/cfgds/internal/oracle"
	"github.com/zjy-dev/cfgds/internal/predicate"
	"github.com/zjy-dev/cfgds/internal/seed"
	"github.com/zjy-dev/cfgds/internal/state"
	"github.com/zjy-dev/cfgds/internal/symbolic"
	"github.com/zjy-dev/cfgds/internal/trace"
)

// initialRange bounds the random values of initial inputs.
const initialRange = 100

// mappingStore is implemented by corpora that persist vertex-to-seed mappings.
type mappingStore interface {
	MappingPath(method string) string
}

// Session is the search of one method. It owns its graph, explored-path
// set and counters, and is not safe for concurrent use.
type Session struct {
	cfg     Config
	method  *ir.Method
	graph   *coverage.Graph
	matcher *divergence.Matcher
	mutator *mutate.Mutator
	seen    *predicate.PathSet
	failed  coverage.VertexSet
	mapping *coverage.Mapping
	rng     *rand.Rand

	// failures counts consecutive iterations without new branch coverage.
	failures int
	// origins maps each merged trace to the seed whose input produced it.
	origins map[*trace.Trace]*seed.Seed
	localID uint64
	result  *Result
}

// NewSession builds the coverage graph of m and prepares its search.
func NewSession(cfg Config, m *ir.Method, rngSeed int64) (*Session, error) {
	cfg.applyDefaults()

	var selector coverage.Selector = coverage.FirstSelector{}
	if cfg.TieBreak == TieBreakRandom {
		selector = coverage.NewRandomSelector(rngSeed)
	}
	g, err := coverage.New(m,
		coverage.WithScope(cfg.OverrideScope),
		coverage.WithCallDepth(cfg.CallDepth),
		coverage.WithSelector(selector),
	)
	if err != nil {
		return nil, err
	}

	seen := predicate.NewPathSet()
	return &Session{
		cfg:     cfg,
		method:  m,
		graph:   g,
		matcher: divergence.NewMatcher(m),
		mutator: mutate.New(seen),
		seen:    seen,
		failed:  make(coverage.VertexSet),
		mapping: coverage.NewMapping(m.FullName()),
		rng:     rand.New(rand.NewPCG(uint64(rngSeed), uint64(rngSeed)>>32)),
		origins: make(map[*trace.Trace]*seed.Seed),
		result:  &Result{Method: m.FullName(), Strategy: cfg.Strategy},
	}, nil
}

// Graph returns the session's coverage graph.
func (s *Session) Graph() *coverage.Graph { return s.graph }

// Run searches until the graph is covered, the failure threshold is
// passed or ctx ends. Failures of single iterations never abort it.
func (s *Session) Run(ctx context.Context) *Result {
	start := time.Now()
	ctx, span := startSessionSpan(ctx, s.method.FullName(), s.cfg.Strategy)
	defer span.End()

	logger.Info("[CFGDS] Searching %s (%d vertices)", s.method.FullName(), len(s.graph.Vertices()))

	switch {
	case !s.initialize(ctx):
		s.result.Phase = PhaseNoInitialTrace
		if ctx.Err() != nil {
			s.result.Phase = PhaseDeadline
		}
	case s.cfg.Strategy == StrategyGenerational:
		s.generational(ctx)
	default:
		s.cfgds(ctx)
	}

	s.finish(ctx, time.Since(start))
	setSessionSpanResult(span, s.result)
	recordSession(ctx, s.result)
	return s.result
}

// checkpoint decides whether the search loop stops before another iteration.
func (s *Session) checkpoint(ctx context.Context) (Phase, bool) {
	switch {
	case ctx.Err() != nil:
		return PhaseDeadline, true
	case s.graph.IsFullyCovered():
		return PhaseDone, true
	case s.failures > s.cfg.MaxFailedIterations:
		return PhaseExhausted, true
	}
	return "", false
}

// initialize obtains the first traces: previously generated seeds of the
// method are replayed, then default and random inputs are tried until one
// executes.
func (s *Session) initialize(ctx context.Context) bool {
	ok := false
	if s.cfg.Corpus != nil {
		for _, sd := range s.cfg.Corpus.Seeds(s.method.FullName()) {
			t, err := s.run(ctx, oracle.Input{Receiver: sd.Receiver, Args: sd.Args})
			if err != nil {
				logger.Debug("[CFGDS] Replaying seed %d failed: %v", sd.Meta.ID, err)
				continue
			}
			s.graph.AddTrace(t)
			s.seen.Add(symbolic.BuildState(s.method, t))
			s.origins[t] = sd
			s.mapping.Record(s.graph, sd.Meta.ID)
			ok = true
		}
		if ok {
			logger.Info("[CFGDS] Restored %s from corpus: %d/%d branches", s.method.FullName(),
				s.graph.Stats().CoveredBranches, s.graph.Stats().Branches)
			return true
		}
	}

	for attempt := 0; attempt < s.cfg.InitialAttempts; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		in := s.initialInput(attempt)
		t, err := s.run(ctx, in)
		if err != nil {
			logger.Debug("[CFGDS] Initial input %s failed: %v", in, err)
			continue
		}
		before := s.graph.Stats()
		s.graph.AddTrace(t)
		s.seen.Add(symbolic.BuildState(s.method, t))
		s.emit(ctx, t, in, nil, seed.OriginInitial, nil, nil, before, 0)
		return true
	}
	logger.Warn("[CFGDS] No initial trace for %s after %d attempts", s.method.FullName(), s.cfg.InitialAttempts)
	return false
}

// initialInput returns all zeros on the first attempt and random values after.
func (s *Session) initialInput(attempt int) oracle.Input {
	in := oracle.Input{Args: make([]int64, len(s.method.Params))}
	if attempt == 0 {
		return in
	}
	random := func(typ string) int64 {
		if typ == "bool" || typ == "boolean" {
			return s.rng.Int64N(2)
		}
		return s.rng.Int64N(2*initialRange+1) - initialRange
	}
	for i, p := range s.method.Params {
		in.Args[i] = random(p.Type)
	}
	if s.method.Receiver {
		in.Receiver = random("")
	}
	return in
}

func (s *Session) run(ctx context.Context, in oracle.Input) (*trace.Trace, error) {
	ctx, span := startOracleSpan(ctx, "Run", 0)
	defer span.End()

	start := time.Now()
	s.result.OracleCalls++
	t, err := s.cfg.Oracle.Run(ctx, s.method, in)
	recordOracleCall(ctx, time.Since(start), outcomeOf(err))
	return t, err
}

// execute asks the oracle for an execution satisfying st. A failed request
// is recorded as explored so it is not retried.
func (s *Session) execute(ctx context.Context, st *predicate.State) (*oracle.Outcome, time.Duration, bool) {
	octx, span := startOracleSpan(ctx, "Execute", st.Len())
	start := time.Now()
	s.result.OracleCalls++
	out, err := s.cfg.Oracle.Execute(octx, s.method, st)
	elapsed := time.Since(start)
	span.End()
	recordOracleCall(ctx, elapsed, outcomeOf(err))

	if err != nil {
		s.seen.Add(st)
		switch {
		case ctx.Err() != nil:
			logger.Debug("[Oracle] Interrupted: %v", err)
		case oracle.IsRecoverable(err):
			logger.Debug("[Oracle] %s: %v", s.method.FullName(), err)
		default:
			logger.Warn("[Oracle] %s: %v", s.method.FullName(), err)
		}
		return nil, elapsed, false
	}
	return out, elapsed, true
}

// merge adds an executed outcome to the graph and the explored paths. It
// reports whether new branch coverage was reached; inputs that reach it
// are emitted as seeds derived from the seed of parent.
func (s *Session) merge(ctx context.Context, out *oracle.Outcome, requested *predicate.State,
	origin seed.Origin, branch *coverage.Vertex, parent *trace.Trace, elapsed time.Duration) bool {
	before := s.graph.Stats()
	newBranch := s.graph.AddTrace(out.Trace)

	executed := symbolic.BuildState(s.method, out.Trace)
	s.seen.Add(executed)
	if requested != nil && hasPathPrefix(executed, requested) {
		s.seen.Add(requested)
	}

	if !newBranch {
		logger.Debug("[CFGDS] %s%s covered nothing new", s.method.FullName(), out.Input)
		return false
	}
	s.emit(ctx, out.Trace, out.Input, out.Model, origin, branch, s.origins[parent], before, elapsed)
	return true
}

// emit stores the input that produced t as a seed.
func (s *Session) emit(ctx context.Context, t *trace.Trace, in oracle.Input, model oracle.Model,
	origin seed.Origin, branch *coverage.Vertex, parent *seed.Seed, before coverage.Stats, elapsed time.Duration) {
	after := s.graph.Stats()
	sd := &seed.Seed{
		Meta:     *seed.NewMetadata(0, 0, 0),
		Method:   s.method.FullName(),
		Receiver: in.Receiver,
		Args:     in.Args,
		Model:    model,
	}
	sd.Meta.Origin = origin
	sd.Meta.ExecTimeUs = elapsed.Microseconds()
	if after.CoveredBranches > before.CoveredBranches {
		sd.Meta.CovIncrease = uint64(after.CoveredBranches - before.CoveredBranches)
	}
	if branch != nil {
		sd.Meta.Branch = branch.Key().String()
	}
	if parent != nil {
		sd.Meta.ParentID = parent.Meta.ID
		sd.Meta.Depth = parent.Meta.Depth + 1
	}

	if s.cfg.Corpus != nil {
		if err := s.cfg.Corpus.Add(sd); err != nil {
			logger.Error("[CFGDS] Failed to store seed for %s: %v", s.method.FullName(), err)
		}
	}
	if sd.Meta.ID == 0 {
		s.localID++
		sd.Meta.ID = s.localID
	}

	s.origins[t] = sd
	s.mapping.Record(s.graph, sd.Meta.ID)
	s.result.Seeds = append(s.result.Seeds, sd)
	recordSeed(ctx, string(origin))
	logger.Info("[CFGDS] New coverage on %s by %s (%s): %d/%d branches",
		s.method.FullName(), in, origin, after.CoveredBranches, after.Branches)
}

// rejected reports whether the path of st was already explored.
func (s *Session) rejected(st *predicate.State) bool {
	return s.seen.IsPrefixOfAny(st)
}

// finish records final statistics and persists progress.
func (s *Session) finish(ctx context.Context, elapsed time.Duration) {
	r := s.result
	r.Stats = s.graph.Stats()
	r.Duration = elapsed
	r.Graph = s.graph

	logger.Info("[CFGDS] %s finished: %s after %d iterations, branches %d/%d (%.1f%%), %d seeds",
		r.Method, r.Phase, r.Iterations, r.Stats.CoveredBranches, r.Stats.Branches,
		r.Stats.BranchCoverage(), len(r.Seeds))

	c := s.cfg.Corpus
	if c == nil {
		return
	}
	c.ReportProgress(r.Method, state.MethodProgress{
		Phase:           string(r.Phase),
		Iterations:      r.Iterations,
		OracleCalls:     r.OracleCalls,
		Seeds:           len(c.Seeds(r.Method)),
		Vertices:        r.Stats.Vertices,
		CoveredVertices: r.Stats.CoveredVertices,
		Branches:        r.Stats.Branches,
		CoveredBranches: r.Stats.CoveredBranches,
	})
	if store, ok := c.(mappingStore); ok {
		if err := s.mapping.Save(store.MappingPath(r.Method)); err != nil {
			logger.Error("[CFGDS] Failed to save coverage mapping of %s: %v", r.Method, err)
		}
	}
}

// hasPathPrefix reports whether the path of prefix is a prefix of the path of s.
func hasPathPrefix(s, prefix *predicate.State) bool {
	keys, want := s.PathKeys(), prefix.PathKeys()
	if len(want) > len(keys) {
		return false
	}
	for i, k := range want {
		if keys[i] != k {
			return false
		}
	}
	return true
}

// newestFirst returns traces in reverse order.
func newestFirst(traces []*trace.Trace) []*trace.Trace {
	out := make([]*trace.Trace, len(traces))
	for i, t := range traces {
		out[len(traces)-1-i] = t
	}
	return out
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, oracle.ErrUnsat):
		return "unsat"
	case errors.Is(err, oracle.ErrUnknown):
		return "unknown"
	case errors.Is(err, oracle.ErrMaterialize):
		return "materialize"
	case errors.Is(err, oracle.ErrTimeout):
		return "timeout"
	case errors.Is(err, oracle.ErrExecution):
		return "execution"
	}
	return "cancelled"
}

var _ mappingStore = (*corpus.FileManager)(nil)
