package coverage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/cfgds/internal/ir"
	"github.com/zjy-dev/cfgds/internal/ir/irtest"
	"github.com/zjy-dev/cfgds/internal/trace/tracetest"
)

func newGraph(t *testing.T, src, method string, opts ...Option) (*Graph, *ir.Method) {
	t.Helper()
	m := irtest.MustMethod(irtest.MustParse(src), method)
	g, err := New(m, opts...)
	require.NoError(t, err)
	return g, m
}

func vertexAt(t *testing.T, g *Graph, m *ir.Method, label string, idx int) *Vertex {
	t.Helper()
	b := m.Block(label)
	require.NotNil(t, b, "block %s", label)
	v := g.Vertex(b.Insts[idx])
	require.NotNil(t, v, "vertex %s:%d", label, idx)
	return v
}

func TestNewGraph(t *testing.T) {
	g, m := newGraph(t, irtest.IfElse, "Demo.sign")

	assert.Len(t, g.Vertices(), 4)
	assert.Same(t, m.Entry().First(), g.Entry().Inst())

	branch := vertexAt(t, g, m, "entry", 1)
	assert.Equal(t, VertexTerminator, branch.Kind())
	assert.True(t, branch.IsConditional())
	for _, s := range branch.Successors() {
		w, ok := branch.Weight(s)
		require.True(t, ok)
		assert.Equal(t, 1, w)
	}

	first := vertexAt(t, g, m, "entry", 0)
	w, ok := first.Weight(branch)
	require.True(t, ok)
	assert.Equal(t, 0, w)

	assert.Equal(t, Stats{Vertices: 4, Branches: 2}, g.Stats())
	assert.Nil(t, g.NextBranchToForce(VertexSet{}), "nothing is covered yet")
}

func TestNewGraphRejectsBodilessMethod(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestAddTraceCoversBothArms(t *testing.T) {
	g, m := newGraph(t, irtest.IfElse, "Demo.sign")
	branch := vertexAt(t, g, m, "entry", 1)

	assert.True(t, g.AddTrace(tracetest.Path(m, "entry", "neg")))
	assert.True(t, branch.IsCovered())
	assert.False(t, vertexAt(t, g, m, "pos", 0).IsCovered())
	assert.Equal(t, 0, branch.UncoveredDistance())
	assert.Same(t, vertexAt(t, g, m, "pos", 0), branch.Nearest())
	assert.Equal(t, []*ir.Block{m.Block("pos"), m.Block("neg")}, g.ForceTargets(branch))
	assert.Same(t, branch, g.NextBranchToForce(VertexSet{}))

	assert.True(t, g.AddTrace(tracetest.Path(m, "entry", "pos")))
	stats := g.Stats()
	assert.Equal(t, 100.0, stats.BranchCoverage())
	assert.Equal(t, 100.0, stats.VertexCoverage())
	assert.True(t, g.IsFullyCovered())
	assert.Equal(t, Unreachable, branch.UncoveredDistance())
	assert.Nil(t, g.NextBranchToForce(VertexSet{}))
}

func TestAddTraceIsIdempotent(t *testing.T) {
	g, m := newGraph(t, irtest.IfElse, "Demo.sign")

	tr := tracetest.Path(m, "entry", "neg")
	require.True(t, g.AddTrace(tr))
	before := g.Stats()

	assert.False(t, g.AddTrace(tr))
	assert.False(t, g.AddTrace(tracetest.Path(m, "entry", "neg")), "same path, new trace")
	assert.Equal(t, before, g.Stats())
	assert.Equal(t, 0, vertexAt(t, g, m, "entry", 1).UncoveredDistance())
}

func TestAddTraceReportsNewEdgeOfCoveredBranch(t *testing.T) {
	g, m := newGraph(t, irtest.Diamond, "Demo.diamond")

	require.True(t, g.AddTrace(tracetest.Path(m, "entry", "left", "join")))
	// The right arm is new code but the branch vertex is already covered:
	// only its outgoing edge is new.
	assert.True(t, g.AddTrace(tracetest.Path(m, "entry", "right", "join")))
	assert.Equal(t, 2, g.Stats().CoveredBranches)
}

func TestUncoveredDistanceCountsLaterBranches(t *testing.T) {
	g, m := newGraph(t, irtest.Nested, "Demo.nested")
	b1 := vertexAt(t, g, m, "b1", 1)
	b2 := vertexAt(t, g, m, "b2", 1)

	g.AddTrace(tracetest.Path(m, "b1", "out1"))
	assert.Equal(t, 0, b1.UncoveredDistance())

	g.AddTrace(tracetest.Path(m, "b1", "b2", "out2"))
	assert.Equal(t, 1, b1.UncoveredDistance(), "b2 must still be decided")
	assert.Equal(t, 0, b2.UncoveredDistance())
	assert.Same(t, b2, g.NextBranchToForce(VertexSet{}))

	b2.IncTries()
	b2.IncTries()
	assert.Same(t, b1, g.NextBranchToForce(VertexSet{}), "tries raise the cost")

	g.DropTries()
	assert.Equal(t, 0, b2.Tries())

	failed := VertexSet{}
	failed.Add(b2)
	assert.Same(t, b1, g.NextBranchToForce(failed))
	failed.Add(b1)
	assert.Nil(t, g.NextBranchToForce(failed))
}

func TestNextBranchToForceTieBreak(t *testing.T) {
	src := irtest.Nested
	g, m := newGraph(t, src, "Demo.nested", WithSelector(FirstSelector{}))
	g.AddTrace(tracetest.Path(m, "b1", "b2", "b3", "out3"))

	// b1, b2 and b3 all have cost 0; the first built wins.
	assert.Same(t, vertexAt(t, g, m, "b1", 1), g.NextBranchToForce(VertexSet{}))

	a, _ := newGraph(t, src, "Demo.nested", WithSelector(NewRandomSelector(7)))
	b, _ := newGraph(t, src, "Demo.nested", WithSelector(NewRandomSelector(7)))
	for _, gr := range []*Graph{a, b} {
		gm := gr.Root()
		gr.AddTrace(tracetest.Path(gm, "b1", "b2", "b3", "out3"))
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t,
			a.NextBranchToForce(VertexSet{}).Key().String(),
			b.NextBranchToForce(VertexSet{}).Key().String(),
			"same seed, same choice")
	}
}

func TestCallExpansion(t *testing.T) {
	g, m := newGraph(t, irtest.Calls, "Demo.classify")
	assert.Len(t, g.Vertices(), 10)

	call := vertexAt(t, g, m, "entry", 0)
	assert.Equal(t, VertexCall, call.Kind())
	require.Len(t, call.Successors(), 2)
	for _, s := range call.Successors() {
		w, _ := call.Weight(s)
		assert.Equal(t, 0, w)
	}
	assert.Equal(t, "Util.abs", call.Successors()[0].Block().Method().FullName())
	assert.Same(t, m.Entry().Insts[1], call.Successors()[1].Inst())
}

func TestCallDepthAndLazyExpansion(t *testing.T) {
	g, m := newGraph(t, irtest.Calls, "Demo.classify", WithCallDepth(0))
	assert.Len(t, g.Vertices(), 5)

	abs := irtest.MustMethod(m.Program(), "Util.abs")
	tr := tracetest.New().
		Enter(m).Block(m, "entry").
		Call(m, "entry", 0, abs).
		Enter(abs).Blocks(abs, "entry", "keep").
		Leave(m, "entry").
		Blocks(m, "small").
		Trace()

	assert.True(t, g.AddTrace(tr))
	assert.Len(t, g.Vertices(), 10)

	absEntry := g.Vertex(abs.Entry().First())
	require.NotNil(t, absEntry)
	_, linked := vertexAt(t, g, m, "entry", 0).Weight(absEntry)
	assert.True(t, linked, "call site linked to the callee it reached")

	absBranch := g.Vertex(abs.Entry().Insts[1])
	assert.True(t, absBranch.IsCovered())
	assert.Equal(t, 0, absBranch.UncoveredDistance())
}

func TestVirtualCallOverrides(t *testing.T) {
	g, _ := newGraph(t, irtest.Virtual, "Registry.measure")
	assert.Len(t, g.Vertices(), 10)

	scoped, _ := newGraph(t, irtest.Virtual, "Registry.measure", WithScope([]string{"Square"}))
	assert.Len(t, scoped.Vertices(), 8)
}

func TestFindPathsForSAP(t *testing.T) {
	g, m := newGraph(t, irtest.Nested, "Demo.nested")
	g.AddTrace(tracetest.Path(m, "b1", "out1"))
	g.AddTrace(tracetest.Path(m, "b1", "b2", "out2"))
	b1 := vertexAt(t, g, m, "b1", 1)

	paths := g.FindPathsForSAP(b1, Unbounded, 0)
	require.Len(t, paths, 1)
	p := paths[0]
	assert.Equal(t, "Demo.nested:b1:1 -> Demo.nested:b2:0 -> Demo.nested:b2:1 -> Demo.nested:b3:0 -> Demo.nested:b3:1", p.String())
	assert.Equal(t, 1, p.Cost)
	assert.Same(t, b1, p.Start())
	assert.Same(t, vertexAt(t, g, m, "b3", 1), p.Target())
	assert.Len(t, p.Branches(), 3)

	assert.Empty(t, g.FindPathsForSAP(b1, 0, 0), "budget too small to reach b3")
	assert.Len(t, g.FindPathsForSAP(b1, 1, 0), 1)
	assert.Nil(t, g.FindPathsForSAP(nil, Unbounded, 0))

	// The first edge is left out of both measures, so the branch's own cost
	// is exactly the budget that reaches its nearest uncovered vertex.
	assert.Equal(t, 1, b1.Cost())
	assert.Equal(t, p.Cost, b1.UncoveredDistance())
	assert.Len(t, g.FindPathsForSAP(b1, b1.Cost(), 0), 1)
}

func TestFindPathsForSAPLimit(t *testing.T) {
	g, m := newGraph(t, irtest.Nested, "Demo.nested")
	g.AddTrace(tracetest.Path(m, "b1", "out1"))
	b1 := vertexAt(t, g, m, "b1", 1)

	// One path ends at b2 (through out2), the other at b3.
	all := g.FindPathsForSAP(b1, Unbounded, 0)
	require.Len(t, all, 2)
	assert.Same(t, vertexAt(t, g, m, "b3", 1), all[0].Target())
	assert.Same(t, vertexAt(t, g, m, "b2", 1), all[1].Target())
	assert.Len(t, g.FindPathsForSAP(b1, Unbounded, 1), 1)
}

func TestFindPathsForSAPTerminatesOnLoops(t *testing.T) {
	g, m := newGraph(t, irtest.Loop, "Demo.count")
	g.AddTrace(tracetest.Path(m, "entry", "head", "done"))
	head := vertexAt(t, g, m, "head", 2)

	assert.Equal(t, 0, head.UncoveredDistance())
	assert.Empty(t, g.FindPathsForSAP(head, Unbounded, 0), "no uncovered branch inside the loop")
}

func TestDiamondDistance(t *testing.T) {
	g, m := newGraph(t, irtest.Diamond, "Demo.diamond")
	branch := vertexAt(t, g, m, "entry", 1)

	// The left arm throws before reaching the join.
	tr := tracetest.New().Enter(m).Blocks(m, "entry").Block(m, "left").Throw(m, "left").Trace()
	g.AddTrace(tr)
	assert.Equal(t, 0, branch.UncoveredDistance())

	g.AddTrace(tracetest.Path(m, "entry", "left", "join"))
	g.AddTrace(tracetest.Path(m, "entry", "right", "join"))
	assert.Equal(t, Unreachable, branch.UncoveredDistance())
	assert.Nil(t, branch.Nearest())
}

func TestPathFromEntry(t *testing.T) {
	g, m := newGraph(t, irtest.Nested, "Demo.nested")

	var locs []string
	for _, v := range g.PathFromEntry(vertexAt(t, g, m, "b3", 1)) {
		locs = append(locs, v.Key().String())
	}
	assert.Equal(t, []string{
		"Demo.nested:b1:0", "Demo.nested:b1:1",
		"Demo.nested:b2:0", "Demo.nested:b2:1",
		"Demo.nested:b3:0", "Demo.nested:b3:1",
	}, locs)

	assert.Equal(t, []*Vertex{g.Entry()}, g.PathFromEntry(g.Entry()))
	assert.Nil(t, g.PathFromEntry(nil))

	// Calls are stepped into when the callee leads to the target.
	g, classify := newGraph(t, irtest.Calls, "Demo.classify")
	abs := irtest.MustMethod(g.program, "Util.abs")
	path := g.PathFromEntry(g.Vertex(abs.Block("flip").First()))
	require.Len(t, path, 4)
	assert.Same(t, classify.Entry().First(), path[0].Inst())
	assert.Same(t, abs.Entry().First(), path[1].Inst())
}
