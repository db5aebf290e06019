package predicate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zjy-dev/cfgds/internal/ir"
	"github.com/zjy-dev/cfgds/internal/predicate"
)

func branchAt(origin string, taken bool) predicate.Predicate {
	cond := predicate.CondNeq
	if !taken {
		cond = predicate.CondEq
	}
	return predicate.Branch(ir.Sym("c"), cond, []int64{0}, origin)
}

func TestPathSet(t *testing.T) {
	set := predicate.NewPathSet()
	a1 := branchAt("a", true)
	b1 := branchAt("b", true)
	b0 := branchAt("b", false)

	assert.False(t, set.IsPrefixOfAny(predicate.Of(a1)), "empty set")

	full := predicate.Of(assignC, a1, assignD, b1)
	assert.True(t, set.Add(full))
	assert.False(t, set.Add(predicate.Of(a1, b1)), "assignments do not change the path")
	assert.Equal(t, 1, set.Len())

	tests := []struct {
		name   string
		state  *predicate.State
		prefix bool
	}{
		{"same path", predicate.Of(a1, b1), true},
		{"strict prefix", predicate.Of(a1), true},
		{"empty path", predicate.Of(assignC), true},
		{"flipped second", predicate.Of(a1, b0), false},
		{"longer", predicate.Of(a1, b1, a1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.prefix, set.IsPrefixOfAny(tt.state))
		})
	}

	// A prefix of an added path is indexed but not itself added.
	assert.True(t, set.Add(predicate.Of(a1)))
	assert.Equal(t, 2, set.Len())
	assert.False(t, set.Add(predicate.Of(assignC, a1)))
}
