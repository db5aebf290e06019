package symbolic_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/cfgds/internal/ir"
	"github.com/zjy-dev/cfgds/internal/ir/irtest"
	"github.com/zjy-dev/cfgds/internal/predicate"
	"github.com/zjy-dev/cfgds/internal/symbolic"
	"github.com/zjy-dev/cfgds/internal/trace"
	"github.com/zjy-dev/cfgds/internal/trace/tracetest"
)

func render(s *predicate.State) []string {
	var out []string
	for _, p := range s.Predicates() {
		out = append(out, p.String())
	}
	return out
}

func checkState(t *testing.T, want []string, got *predicate.State) {
	t.Helper()
	if diff := cmp.Diff(want, render(got)); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestQualify(t *testing.T) {
	assert.Equal(t, "x", symbolic.Qualify(0, "x"))
	assert.Equal(t, "x@3", symbolic.Qualify(3, "x"))
	assert.Equal(t, "", symbolic.Qualify(3, ""))
}

func TestBuildStateBranch(t *testing.T) {
	p := irtest.MustParse(irtest.IfElse)
	m := irtest.MustMethod(p, "Demo.sign")

	checkState(t, []string{"c = lt(x, 0)", "@P c != 0"},
		symbolic.BuildState(m, tracetest.Path(m, "entry", "neg")))
	checkState(t, []string{"c = lt(x, 0)", "@P c == 0"},
		symbolic.BuildState(m, tracetest.Path(m, "entry", "pos")))
}

func TestBuildStateOpenEndedTrace(t *testing.T) {
	p := irtest.MustParse(irtest.IfElse)
	m := irtest.MustMethod(p, "Demo.sign")

	// The trace stops at the branch: its successor is unknown.
	tr := tracetest.New().Enter(m).Blocks(m, "entry").Trace()
	checkState(t, []string{"c = lt(x, 0)"}, symbolic.BuildState(m, tr))
	assert.True(t, symbolic.BuildState(m, nil).IsEmpty())
}

func TestBuildStateSwitch(t *testing.T) {
	p := irtest.MustParse(irtest.Switch)
	m := irtest.MustMethod(p, "Demo.pick")

	tests := []struct {
		target string
		want   string
	}{
		{"one", "@P k in {1}"},
		{"two", "@P k in {2,3}"},
		{"other", "@P k !in {1,2,3}"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			checkState(t, []string{tt.want}, symbolic.BuildState(m, tracetest.Path(m, "entry", tt.target)))
		})
	}
}

func TestBuildStateResolvesPhiAgainstPredecessor(t *testing.T) {
	p := irtest.MustParse(irtest.Diamond)
	m := irtest.MustMethod(p, "Demo.diamond")

	checkState(t, []string{
		"c = gt(x, 10)",
		"@P c == 0",
		"b = sub(x, 1)",
		"r = copy(b)",
	}, symbolic.BuildState(m, tracetest.Path(m, "entry", "right", "join")))
}

func TestBuildStateAssignsPhisTogether(t *testing.T) {
	p := irtest.MustParse(irtest.Swap)
	m := irtest.MustMethod(p, "Demo.swap")

	checkState(t, []string{
		"a#in = copy(10)",
		"b#in = copy(20)",
		"i#in = copy(0)",
		"a = copy(a#in)",
		"b = copy(b#in)",
		"i = copy(i#in)",
		"c = lt(i, n)",
		"@P c != 0",
		"j = add(i, 1)",
		"a#in = copy(b)",
		"b#in = copy(a)",
		"i#in = copy(j)",
		"a = copy(a#in)",
		"b = copy(b#in)",
		"i = copy(i#in)",
		"c = lt(i, n)",
		"@P c == 0",
		"h = eq(b, 10)",
		"@P h != 0",
	}, symbolic.BuildState(m, tracetest.Path(m, "entry", "head", "body", "head", "done", "hit")))
}

func TestBuildStateSubstitutesAcrossCalls(t *testing.T) {
	p := irtest.MustParse(irtest.Calls)
	classify := irtest.MustMethod(p, "Demo.classify")
	abs := irtest.MustMethod(p, "Util.abs")

	tr := tracetest.New().
		Enter(classify).Block(classify, "entry").
		Call(classify, "entry", 0, abs).
		Enter(abs).Blocks(abs, "entry", "keep").
		Leave(classify, "entry").
		Blocks(classify, "small").
		Trace()

	checkState(t, []string{
		"v@1 = copy(x)",
		"n@1 = lt(v@1, 0)",
		"@P n@1 == 0",
		"a = copy(v@1)",
		"big = gt(a, 100)",
		"@P big == 0",
	}, symbolic.BuildState(classify, tr))
}

func TestBuildStateSkipsStaticInitializers(t *testing.T) {
	p := irtest.MustParse(irtest.Virtual)
	measure := irtest.MustMethod(p, "Registry.measure")
	regInit, _ := p.StaticInit("Registry")
	tableInit, _ := p.StaticInit("Table")
	size := irtest.MustMethod(p, "Table.size")
	square := irtest.MustMethod(p, "Square.area")

	tr := tracetest.New().
		Enter(measure).Block(measure, "entry").
		Call(measure, "entry", 0, square).
		StaticInit(regInit).
		Enter(regInit).Block(regInit, "entry").
		Call(regInit, "entry", 0, size).
		StaticInit(tableInit).
		Enter(tableInit).Blocks(tableInit, "entry").
		EndStaticInit(tableInit).
		Enter(size).Blocks(size, "entry").
		Leave(regInit, "entry").
		EndStaticInit(regInit).
		Enter(square).Blocks(square, "entry").
		Leave(measure, "entry").
		Blocks(measure, "small").
		Trace()

	checkState(t, []string{
		"s@1 = copy(s)",
		"this@1 = copy(this)",
		"a@1 = mul(s@1, s@1)",
		"a = copy(a@1)",
		"c = gt(a, 50)",
		"@P c == 0",
	}, symbolic.BuildState(measure, tr))
}

func TestBuildForced(t *testing.T) {
	p := irtest.MustParse(irtest.IfElse)
	m := irtest.MustMethod(p, "Demo.sign")
	tr := tracetest.Path(m, "entry", "neg")

	occ := symbolic.Occurrences(m, tr, m.Entry().Terminator())
	require.Len(t, occ, 1)
	assert.Equal(t, m.Block("neg"), occ[0].Next)

	st := symbolic.BuildForced(m, tr, symbolic.Force{Action: occ[0].Action, Inst: occ[0].Inst, Target: m.Block("pos")})
	checkState(t, []string{"c = lt(x, 0)", "@P c == 0"}, st)
}

func TestForceBranchPicksOccurrenceAndTarget(t *testing.T) {
	p := irtest.MustParse(irtest.Loop)
	m := irtest.MustMethod(p, "Demo.count")
	head := m.Block("head").Terminator()
	tr := tracetest.Path(m, "entry", "head", "body", "head", "done")

	require.Len(t, symbolic.Occurrences(m, tr, head), 2)

	st, from, ok := symbolic.ForceBranch(m, []*trace.Trace{tr}, head,
		[]*ir.Block{m.Block("done"), m.Block("body")}, nil)
	require.True(t, ok)
	assert.Same(t, tr, from)
	checkState(t, []string{"i = copy(0)", "c = lt(i, n)", "@P c == 0"}, st)

	// Rejecting the first-iteration exit leaves the second iteration's
	// flip back into the body.
	st, _, ok = symbolic.ForceBranch(m, []*trace.Trace{tr}, head,
		[]*ir.Block{m.Block("done"), m.Block("body")},
		func(s *predicate.State) bool { return s.Path().Len() == 1 })
	require.True(t, ok)
	checkState(t, []string{
		"i = copy(0)",
		"c = lt(i, n)",
		"@P c != 0",
		"j = add(i, 1)",
		"i = copy(j)",
		"c = lt(i, n)",
		"@P c != 0",
	}, st)

	_, _, ok = symbolic.ForceBranch(m, []*trace.Trace{tr}, head,
		[]*ir.Block{m.Block("done")}, func(*predicate.State) bool { return true })
	assert.False(t, ok)
}

func TestBuildPath(t *testing.T) {
	p := irtest.MustParse(irtest.Calls)
	classify := irtest.MustMethod(p, "Demo.classify")
	abs := irtest.MustMethod(p, "Util.abs")

	into := []*ir.Instruction{classify.Entry().Insts[0], abs.Entry().Insts[0], abs.Entry().Insts[1]}
	checkState(t, []string{
		"v@1 = copy(x)",
		"n@1 = lt(v@1, 0)",
		"@P n@1 != 0",
	}, symbolic.BuildPath(classify, into, abs.Block("flip")))

	over := classify.Entry().Insts
	checkState(t, []string{
		"big = gt(a, 100)",
		"@P big != 0",
	}, symbolic.BuildPath(classify, over, classify.Block("large")))
	checkState(t, []string{"big = gt(a, 100)"}, symbolic.BuildPath(classify, over, nil))
}
