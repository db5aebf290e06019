package search

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/cfgds/internal/corpus"
	"github.com/zjy-dev/cfgds/internal/coverage"
	"github.com/zjy-dev/cfgds/internal/interp"
	"github.com/zjy-dev/cfgds/internal/ir"
	"github.com/zjy-dev/cfgds/internal/ir/irtest"
	"github.com/zjy-dev/cfgds/internal/oracle"
	"github.com/zjy-dev/cfgds/internal/predicate"
	"github.com/zjy-dev/cfgds/internal/seed"
	"github.com/zjy-dev/cfgds/internal/solver"
	"github.com/zjy-dev/cfgds/internal/symbolic"
	"github.com/zjy-dev/cfgds/internal/trace"
	"github.com/zjy-dev/cfgds/internal/trace/tracetest"
)

// MockOracle is a mock implementation of Oracle.
type MockOracle struct {
	executeFn func(ctx context.Context, m *ir.Method, s *predicate.State) (*oracle.Outcome, error)
	runFn     func(ctx context.Context, m *ir.Method, in oracle.Input) (*trace.Trace, error)

	executed []*predicate.State
	runs     []oracle.Input
}

func (m *MockOracle) Execute(ctx context.Context, method *ir.Method, s *predicate.State) (*oracle.Outcome, error) {
	m.executed = append(m.executed, s)
	if m.executeFn != nil {
		return m.executeFn(ctx, method, s)
	}
	return nil, oracle.ErrUnsat
}

func (m *MockOracle) Run(ctx context.Context, method *ir.Method, in oracle.Input) (*trace.Trace, error) {
	m.runs = append(m.runs, in)
	if m.runFn != nil {
		return m.runFn(ctx, method, in)
	}
	return nil, oracle.ErrExecution
}

// realOracle solves with the enum solver and runs with the interpreter.
func realOracle(p *ir.Program) *oracle.Oracle {
	return oracle.New(
		solver.NewEnum(-200, 200, solver.DefaultMaxCandidates),
		oracle.DirectMaterializer{},
		interp.New(p, interp.DefaultMaxSteps, interp.DefaultMaxDepth),
		5*time.Second,
	)
}

func testConfig(o Oracle) Config {
	return Config{
		Oracle:    o,
		TieBreak:  TieBreakFirst,
		Seed:      1,
		TimeLimit: 10 * time.Second,
	}
}

func TestSessionCoversIfElse(t *testing.T) {
	p := irtest.MustParse(irtest.IfElse)
	m := irtest.MustMethod(p, "Demo.sign")

	s, err := NewSession(testConfig(realOracle(p)), m, 1)
	require.NoError(t, err)
	r := s.Run(context.Background())

	assert.Equal(t, PhaseDone, r.Phase)
	assert.Equal(t, coverage.Stats{Vertices: 4, CoveredVertices: 4, Branches: 2, CoveredBranches: 2}, r.Stats)
	require.Len(t, r.Seeds, 2)

	initial, forced := r.Seeds[0], r.Seeds[1]
	assert.Equal(t, seed.OriginInitial, initial.Meta.Origin)
	assert.Equal(t, []int64{0}, initial.Args)
	assert.Equal(t, seed.OriginForced, forced.Meta.Origin)
	assert.Equal(t, []int64{-1}, forced.Args)
	assert.Equal(t, m.Block("entry").Insts[1].Location(), forced.Meta.Branch)
	assert.Equal(t, initial.Meta.ID, forced.Meta.ParentID)
	assert.Equal(t, 1, forced.Meta.Depth)
	assert.Equal(t, uint64(1), forced.Meta.CovIncrease)

	// Once everything is covered nothing is left to force.
	assert.Nil(t, s.Graph().NextBranchToForce(make(coverage.VertexSet)))
}

func TestSessionReachesFullCoverage(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		method   string
		strategy string
	}{
		{"diamond", irtest.Diamond, "Demo.diamond", StrategyCFGDS},
		{"nested", irtest.Nested, "Demo.nested", StrategyCFGDS},
		{"switch", irtest.Switch, "Demo.pick", StrategyCFGDS},
		{"calls", irtest.Calls, "Demo.classify", StrategyCFGDS},
		{"loop", irtest.Loop, "Demo.count", StrategyCFGDS},
		{"swap loop", irtest.Swap, "Demo.swap", StrategyCFGDS},
		{"generational if-else", irtest.IfElse, "Demo.sign", StrategyGenerational},
		{"generational nested", irtest.Nested, "Demo.nested", StrategyGenerational},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := irtest.MustParse(tt.src)
			cfg := testConfig(realOracle(p))
			cfg.Strategy = tt.strategy

			s, err := NewSession(cfg, irtest.MustMethod(p, tt.method), 1)
			require.NoError(t, err)
			r := s.Run(context.Background())

			assert.Equal(t, PhaseDone, r.Phase)
			assert.Equal(t, r.Stats.Branches, r.Stats.CoveredBranches)
			assert.NotEmpty(t, r.Seeds)
			for _, sd := range r.Seeds[1:] {
				assert.NotZero(t, sd.Meta.CovIncrease, "seed %s", sd.Content())
			}
		})
	}
}

func TestSessionExhaustsAfterRepeatedFailures(t *testing.T) {
	p := irtest.MustParse(irtest.IfElse)
	m := irtest.MustMethod(p, "Demo.sign")
	mock := &MockOracle{
		runFn: func(ctx context.Context, _ *ir.Method, _ oracle.Input) (*trace.Trace, error) {
			return tracetest.Path(m, "entry", "pos"), nil
		},
		executeFn: func(ctx context.Context, _ *ir.Method, _ *predicate.State) (*oracle.Outcome, error) {
			return nil, fmt.Errorf("solve: %w", oracle.ErrUnsat)
		},
	}

	s, err := NewSession(testConfig(mock), m, 1)
	require.NoError(t, err)
	r := s.Run(context.Background())

	assert.Equal(t, PhaseExhausted, r.Phase)
	assert.Equal(t, DefaultMaxFailedIterations+1, r.Iterations)
	assert.NotEmpty(t, mock.executed)
	assert.LessOrEqual(t, len(mock.executed), r.Iterations)
	assert.Equal(t, 1, r.Stats.CoveredBranches)
	// Only the initial input covered anything.
	assert.Len(t, r.Seeds, 1)
}

func TestSessionExhaustsOnFruitlessForcing(t *testing.T) {
	p := irtest.MustParse(irtest.IfElse)
	m := irtest.MustMethod(p, "Demo.sign")
	pos := func() *trace.Trace { return tracetest.Path(m, "entry", "pos") }

	// Every forced input executes but lands on the covered arm again, so the
	// branch stays selectable and each iteration is a forcing attempt.
	mock := &MockOracle{
		runFn: func(context.Context, *ir.Method, oracle.Input) (*trace.Trace, error) {
			return pos(), nil
		},
		executeFn: func(context.Context, *ir.Method, *predicate.State) (*oracle.Outcome, error) {
			return &oracle.Outcome{Input: oracle.Input{Args: []int64{1}}, Trace: pos()}, nil
		},
	}

	s, err := NewSession(testConfig(mock), m, 1)
	require.NoError(t, err)
	r := s.Run(context.Background())

	assert.Equal(t, PhaseExhausted, r.Phase)
	assert.Equal(t, DefaultMaxFailedIterations+1, r.Iterations)
	require.Len(t, mock.executed, r.Iterations)
	for _, st := range mock.executed {
		assert.Equal(t, "(c = lt(x, 0); @P c != 0)", st.String())
	}
	assert.Equal(t, 1, r.Stats.CoveredBranches)
	assert.Len(t, r.Seeds, 1)
}

func TestSessionNoInitialTrace(t *testing.T) {
	p := irtest.MustParse(irtest.IfElse)
	mock := &MockOracle{}
	cfg := testConfig(mock)
	cfg.InitialAttempts = 3

	s, err := NewSession(cfg, irtest.MustMethod(p, "Demo.sign"), 1)
	require.NoError(t, err)
	r := s.Run(context.Background())

	assert.Equal(t, PhaseNoInitialTrace, r.Phase)
	assert.Equal(t, 3, r.OracleCalls)
	require.Len(t, mock.runs, 3)
	assert.Equal(t, []int64{0}, mock.runs[0].Args)
	for _, in := range mock.runs[1:] {
		require.Len(t, in.Args, 1)
		assert.InDelta(t, 0, in.Args[0], initialRange)
	}
	assert.Zero(t, r.Iterations)
}

func TestSessionDeadline(t *testing.T) {
	p := irtest.MustParse(irtest.IfElse)
	m := irtest.MustMethod(p, "Demo.sign")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock := &MockOracle{
		runFn: func(context.Context, *ir.Method, oracle.Input) (*trace.Trace, error) {
			return tracetest.Path(m, "entry", "pos"), nil
		},
		executeFn: func(ctx context.Context, _ *ir.Method, _ *predicate.State) (*oracle.Outcome, error) {
			cancel()
			return nil, ctx.Err()
		},
	}

	s, err := NewSession(testConfig(mock), m, 1)
	require.NoError(t, err)
	r := s.Run(ctx)

	assert.Equal(t, PhaseDeadline, r.Phase)
	assert.Equal(t, 1, r.Iterations)
	assert.Len(t, mock.executed, 1)
	// Coverage gathered before the deadline is kept.
	assert.Equal(t, 1, r.Stats.CoveredBranches)

	t.Run("before the initial trace", func(t *testing.T) {
		done, stop := context.WithCancel(context.Background())
		stop()
		s, err := NewSession(testConfig(&MockOracle{}), m, 1)
		require.NoError(t, err)
		assert.Equal(t, PhaseDeadline, s.Run(done).Phase)
	})
}

// nestedPath is the static path from b1's branch through b2 and b3.
func nestedPath(s *Session, m *ir.Method) coverage.Path {
	var vs []*coverage.Vertex
	for _, label := range []string{"b1", "b2", "b3"} {
		for _, inst := range m.Block(label).Insts {
			vs = append(vs, s.graph.Vertex(inst))
		}
	}
	return coverage.Path{Vertices: vs[1:]}
}

func TestSearchAlongPathRepairsDivergence(t *testing.T) {
	p := irtest.MustParse(irtest.Nested)
	m := irtest.MustMethod(p, "Demo.nested")

	t.Run("produces one repair for the diverged branch", func(t *testing.T) {
		mock := &MockOracle{}
		s, err := NewSession(testConfig(mock), m, 1)
		require.NoError(t, err)
		start := tracetest.Path(m, "b1", "b2", "out2")
		s.graph.AddTrace(start)

		followed, covered := s.searchAlongPath(context.Background(), nestedPath(s, m), start)

		assert.False(t, followed)
		assert.False(t, covered)
		require.Len(t, mock.executed, 1)
		assert.Equal(t, "(c1 = gt(x, 0); @P c1 != 0; c2 = gt(y, 0); @P c2 != 0)", mock.executed[0].String())
		assert.Equal(t, 1, s.result.Repairs)
		require.NotNil(t, s.result.Divergence)
		assert.Equal(t, m.Block("b2").Insts[1], s.result.Divergence.Branch.Inst())
		assert.Equal(t, m.Block("out2"), s.result.Divergence.Actual)
	})

	t.Run("follows the path once the repair executes", func(t *testing.T) {
		mock := &MockOracle{
			executeFn: func(context.Context, *ir.Method, *predicate.State) (*oracle.Outcome, error) {
				return &oracle.Outcome{
					Input: oracle.Input{Args: []int64{1, 1, 7}},
					Trace: tracetest.Path(m, "b1", "b2", "b3", "hit"),
				}, nil
			},
		}
		s, err := NewSession(testConfig(mock), m, 1)
		require.NoError(t, err)
		start := tracetest.Path(m, "b1", "b2", "out2")
		s.graph.AddTrace(start)

		followed, covered := s.searchAlongPath(context.Background(), nestedPath(s, m), start)

		assert.True(t, followed)
		assert.True(t, covered)
		assert.Len(t, mock.executed, 1)
		require.Len(t, s.result.Seeds, 1)
		assert.Equal(t, seed.OriginRepair, s.result.Seeds[0].Meta.Origin)
		assert.Equal(t, m.Block("b2").Insts[1].Location(), s.result.Seeds[0].Meta.Branch)
	})

	t.Run("rejects an explored repair", func(t *testing.T) {
		mock := &MockOracle{}
		s, err := NewSession(testConfig(mock), m, 1)
		require.NoError(t, err)
		start := tracetest.Path(m, "b1", "b2", "out2")
		s.graph.AddTrace(start)
		path := nestedPath(s, m)

		s.searchAlongPath(context.Background(), path, start)
		followed, _ := s.searchAlongPath(context.Background(), path, start)

		assert.False(t, followed)
		assert.Len(t, mock.executed, 1, "the failed repair must not be solved twice")
	})
}

func TestStepForcesAlongStaticPath(t *testing.T) {
	p := irtest.MustParse(irtest.Swap)
	m := irtest.MustMethod(p, "Demo.swap")
	done := m.Block("done").Terminator()

	var requested []string
	mock := &MockOracle{
		executeFn: func(_ context.Context, _ *ir.Method, st *predicate.State) (*oracle.Outcome, error) {
			requested = append(requested, st.String())
			return &oracle.Outcome{
				Input: oracle.Input{Args: []int64{0}},
				Trace: tracetest.Path(m, "entry", "head", "done", "miss"),
			}, nil
		},
	}
	s, err := NewSession(testConfig(mock), m, 1)
	require.NoError(t, err)
	start := tracetest.Path(m, "entry", "head", "body", "head", "done", "hit")
	s.graph.AddTrace(start)

	// The only occurrence of the done branch in a trace was already explored.
	v := s.graph.Vertex(done)
	explored, _, ok := symbolic.ForceBranch(m, []*trace.Trace{start}, done, s.graph.ForceTargets(v), nil)
	require.True(t, ok)
	s.seen.Add(explored)

	progress, _ := s.step(context.Background())

	assert.True(t, progress)
	require.Len(t, requested, 1)
	assert.Equal(t, "(a#in = copy(10); b#in = copy(20); i#in = copy(0); "+
		"a = copy(a#in); b = copy(b#in); i = copy(i#in); "+
		"c = lt(i, n); @P c == 0; h = eq(b, 10); @P h == 0)", requested[0])
	require.Len(t, s.result.Seeds, 1)
	assert.Equal(t, seed.OriginForced, s.result.Seeds[0].Meta.Origin)
	assert.Equal(t, done.Location(), s.result.Seeds[0].Meta.Branch)
	assert.True(t, s.graph.IsFullyCovered())
}

func TestNewEngineValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"missing oracle", Config{}, "oracle is required"},
		{"unknown strategy", Config{Oracle: &MockOracle{}, Strategy: "bfs"}, "unknown strategy"},
		{"unknown tie break", Config{Oracle: &MockOracle{}, TieBreak: "last"}, "unknown tie break"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	e, err := NewEngine(Config{Oracle: &MockOracle{}})
	require.NoError(t, err)
	cfg := e.Config()
	assert.Equal(t, StrategyCFGDS, cfg.Strategy)
	assert.Equal(t, DefaultMaxFailedIterations, cfg.MaxFailedIterations)
	assert.Equal(t, DefaultTimeLimit, cfg.TimeLimit)
	assert.Equal(t, 1, cfg.Parallelism)
	assert.NotZero(t, cfg.Seed)
}

func TestEngineRunWithCorpus(t *testing.T) {
	src := `
classes:
  - name: Demo
methods:
  - class: Demo
    name: sign
    params: [{name: x}]
    blocks:
      - label: entry
        insts:
          - {op: lt, dst: c, args: [x, 0]}
          - {op: branch, args: [c], targets: [neg, pos]}
      - label: neg
        insts:
          - {op: return, args: [-1]}
      - label: pos
        insts:
          - {op: return, args: [1]}
  - class: Demo
    name: pick
    params: [{name: k}]
    blocks:
      - label: entry
        insts:
          - {op: switch, args: [k], cases: [1, 2], targets: [one, two, other]}
      - label: one
        insts:
          - {op: return, args: [10]}
      - label: two
        insts:
          - {op: return, args: [20]}
      - label: other
        insts:
          - {op: return, args: [0]}
`
	p := irtest.MustParse(src)
	methods := []*ir.Method{irtest.MustMethod(p, "Demo.sign"), irtest.MustMethod(p, "Demo.pick")}
	dir := t.TempDir()

	c := corpus.NewFileManager(dir)
	require.NoError(t, c.Initialize())
	cfg := testConfig(realOracle(p))
	cfg.Corpus = c
	cfg.Parallelism = 2
	e, err := NewEngine(cfg)
	require.NoError(t, err)

	results, err := e.Run(context.Background(), methods)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Demo.sign", results[0].Method)
	assert.Equal(t, "Demo.pick", results[1].Method)
	for _, r := range results {
		assert.Equal(t, PhaseDone, r.Phase, r.Method)
		assert.Len(t, c.Seeds(r.Method), len(r.Seeds))
		assert.FileExists(t, c.MappingPath(r.Method))
	}
	assert.Len(t, results[1].Seeds, 3)

	st := c.GetStateManager().GetState()
	assert.Equal(t, "Done", st.Methods["Demo.pick"].Phase)
	assert.Equal(t, 3, st.Methods["Demo.pick"].Seeds)
	assert.FileExists(t, filepath.Join(dir, corpus.StateDir, "global_state.json"))

	mapping, err := coverage.LoadMapping(c.MappingPath("Demo.sign"))
	require.NoError(t, err)
	id, ok := mapping.SeedFor(methods[0].Block("neg").Insts[0].Location())
	require.True(t, ok)
	assert.Equal(t, results[0].Seeds[1].Meta.ID, id)

	t.Run("resumes from the corpus", func(t *testing.T) {
		resumed := corpus.NewFileManager(dir)
		require.NoError(t, resumed.Recover())
		cfg.Corpus = resumed
		e, err := NewEngine(cfg)
		require.NoError(t, err)

		results, err := e.Run(context.Background(), methods)
		require.NoError(t, err)
		for _, r := range results {
			assert.Equal(t, PhaseDone, r.Phase)
			assert.Zero(t, r.Iterations, "%s was covered by replayed seeds", r.Method)
			assert.Empty(t, r.Seeds)
		}
	})
}

func TestEngineRunCancelled(t *testing.T) {
	p := irtest.MustParse(irtest.IfElse)
	e, err := NewEngine(testConfig(realOracle(p)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := e.Run(ctx, []*ir.Method{irtest.MustMethod(p, "Demo.sign")})
	assert.True(t, errors.Is(err, context.Canceled))
	require.Len(t, results, 1)
	assert.Equal(t, PhaseDeadline, results[0].Phase)
}

func TestHasPathPrefix(t *testing.T) {
	a := predicate.Branch(ir.Sym("c1"), predicate.CondNeq, []int64{0}, "b1")
	b := predicate.Branch(ir.Sym("c2"), predicate.CondEq, []int64{0}, "b2")
	assign := predicate.Assign(ir.OpAdd, "y", []ir.Value{ir.Sym("x"), ir.Const(1)}, "b1")

	full := predicate.Of(assign, a, b)
	assert.True(t, hasPathPrefix(full, predicate.Of(a)))
	assert.True(t, hasPathPrefix(full, predicate.Of(assign, a, b)))
	assert.True(t, hasPathPrefix(full, predicate.Empty()))
	assert.False(t, hasPathPrefix(full, predicate.Of(b)))
	assert.False(t, hasPathPrefix(predicate.Of(a), full))
}
