package ir_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/cfgds/internal/ir"
	"github.com/zjy-dev/cfgds/internal/ir/irtest"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want ir.Value
	}{
		{"42", ir.Const(42)},
		{"-3", ir.Const(-3)},
		{"true", ir.Const(1)},
		{"false", ir.Const(0)},
		{"x", ir.Sym("x")},
		{" y ", ir.Sym("y")},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ir.ParseValue(tt.in), tt.in)
	}
}

func TestEval(t *testing.T) {
	tests := []struct {
		op   ir.Op
		args []int64
		want int64
	}{
		{ir.OpAdd, []int64{2, 3}, 5},
		{ir.OpSub, []int64{2, 3}, -1},
		{ir.OpMul, []int64{4, 3}, 12},
		{ir.OpDiv, []int64{7, 2}, 3},
		{ir.OpRem, []int64{7, 2}, 1},
		{ir.OpLt, []int64{1, 2}, 1},
		{ir.OpGe, []int64{1, 2}, 0},
		{ir.OpNot, []int64{0}, 1},
		{ir.OpNeg, []int64{5}, -5},
		{ir.OpShl, []int64{1, 4}, 16},
	}
	for _, tt := range tests {
		got, err := ir.Eval(tt.op, tt.args)
		require.NoError(t, err, tt.op.String())
		assert.Equal(t, tt.want, got, tt.op.String())
	}

	_, err := ir.Eval(ir.OpDiv, []int64{1, 0})
	assert.ErrorIs(t, err, ir.ErrDivideByZero)
}

func TestParseLinksProgram(t *testing.T) {
	p := irtest.MustParse(irtest.Diamond)
	m := irtest.MustMethod(p, "Demo.diamond")

	assert.Equal(t, "entry", m.Entry().Label)
	assert.Equal(t, []string{"x"}, m.ParamNames())

	entry := m.Entry()
	term := entry.Terminator()
	require.Equal(t, ir.KindBranch, term.Kind)
	assert.True(t, term.Kind.IsConditional())
	assert.Equal(t, []*ir.Block{m.Block("left"), m.Block("right")}, term.Successors())
	assert.Equal(t, "Demo.diamond:entry:1", term.Location())

	first := entry.First()
	assert.Same(t, term, first.Next())
	assert.Nil(t, term.Next())
	assert.Same(t, entry, first.Block())
	assert.Same(t, m, entry.Method())
}

func TestSwitchCases(t *testing.T) {
	p := irtest.MustParse(irtest.Switch)
	m := irtest.MustMethod(p, "Demo.pick")
	sw := m.Entry().Terminator()

	assert.Len(t, sw.Successors(), 3, "duplicate targets collapse")
	assert.Equal(t, []int64{2, 3}, sw.CasesFor(m.Block("two")))
	assert.True(t, sw.IsDefault(m.Block("other")))
	assert.False(t, sw.IsDefault(m.Block("one")))
}

func TestOverridesAndStaticInit(t *testing.T) {
	p := irtest.MustParse(irtest.Virtual)
	base := irtest.MustMethod(p, "Shape.area")

	all := p.Overrides(base, nil)
	require.Len(t, all, 2)
	assert.Equal(t, "Square.area", all[0].FullName())
	assert.Equal(t, "Circle.area", all[1].FullName())

	scoped := p.Overrides(base, []string{"Circ"})
	require.Len(t, scoped, 1)
	assert.Equal(t, "Circle.area", scoped[0].FullName())

	clinit, ok := p.StaticInit("Registry")
	require.True(t, ok)
	assert.True(t, clinit.IsStaticInit())
	_, ok = p.StaticInit("Shape")
	assert.False(t, ok)
}

func TestParseRejectsMalformedPrograms(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "missing terminator",
			src: `
methods:
  - name: f
    blocks:
      - label: entry
        insts:
          - {op: add, dst: a, args: [1, 2]}
`,
			want: "missing terminator",
		},
		{
			name: "unknown target",
			src: `
methods:
  - name: f
    blocks:
      - label: entry
        insts:
          - {op: jump, targets: [nowhere]}
`,
			want: "unknown target block nowhere",
		},
		{
			name: "unknown op",
			src: `
methods:
  - name: f
    blocks:
      - label: entry
        insts:
          - {op: frobnicate, dst: a}
          - {op: return}
`,
			want: `unknown op "frobnicate"`,
		},
		{
			name: "terminator mid block",
			src: `
methods:
  - name: f
    blocks:
      - label: entry
        insts:
          - {op: return}
          - {op: return}
`,
			want: "before end of block",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ir.Parse([]byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
