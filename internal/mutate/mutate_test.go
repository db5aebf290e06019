package mutate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/cfgds/internal/ir/irtest"
	"github.com/zjy-dev/cfgds/internal/mutate"
	"github.com/zjy-dev/cfgds/internal/predicate"
	"github.com/zjy-dev/cfgds/internal/symbolic"
	"github.com/zjy-dev/cfgds/internal/trace/tracetest"
)

func TestMutateFlipsLeastDeviatingBranch(t *testing.T) {
	m := irtest.MustMethod(irtest.MustParse(irtest.Nested), "Demo.nested")
	s := symbolic.BuildState(m, tracetest.Path(m, "b1", "b2", "out2"))

	seen := predicate.NewPathSet()
	seen.Add(s)
	mut := mutate.New(seen)

	steps := []string{
		"(c1 = gt(x, 0); @P c1 == 0)",
		"(c1 = gt(x, 0); @P c1 != 0; c2 = gt(y, 0); @P c2 != 0)",
	}
	for _, want := range steps {
		got, ok := mut.Mutate(s)
		require.True(t, ok)
		assert.Equal(t, want, got.String())
		assert.False(t, seen.IsPrefixOfAny(got), "mutants are never explored paths")
		seen.Add(got)
	}

	_, ok := mut.Mutate(s)
	assert.False(t, ok, "every single flip is explored")
}

func TestMutateWithoutBranches(t *testing.T) {
	m := irtest.MustMethod(irtest.MustParse(irtest.Diamond), "Demo.diamond")
	// The trace stops before the branch resolves: no decision to flip.
	s := symbolic.BuildState(m, tracetest.New().Enter(m).Blocks(m, "entry").Trace())

	_, ok := mutate.New(predicate.NewPathSet()).Mutate(s)
	assert.False(t, ok)
	_, ok = mutate.New(predicate.NewPathSet()).Mutate(nil)
	assert.False(t, ok)
}

func TestMutateSwitch(t *testing.T) {
	m := irtest.MustMethod(irtest.MustParse(irtest.Switch), "Demo.pick")
	s := symbolic.BuildState(m, tracetest.Path(m, "entry", "two"))

	got, ok := mutate.New(predicate.NewPathSet()).Mutate(s)
	require.True(t, ok)
	assert.Equal(t, "(@P k !in {2,3})", got.String())
}
