// Package tracetest builds traces by hand for tests.
package tracetest

import (
	"fmt"

	"github.com/zjy-dev/cfgds/internal/ir"
	"github.com/zjy-dev/cfgds/internal/trace"
)

// Builder appends actions in the order a runner would report them.
type Builder struct {
	actions []trace.Action
}

// New returns an empty Builder.
func New() *Builder { return &Builder{} }

// Enter records a method entry.
func (b *Builder) Enter(m *ir.Method) *Builder {
	b.actions = append(b.actions, trace.Action{Kind: trace.MethodEntry, Method: m})
	return b
}

// Block records entry into the labelled block of m.
func (b *Builder) Block(m *ir.Method, label string) *Builder {
	blk := mustBlock(m, label)
	b.actions = append(b.actions, trace.Action{Kind: trace.BlockEntry, Method: m, Block: blk})
	return b
}

// Leave records the exit action matching the terminator of the labelled block.
func (b *Builder) Leave(m *ir.Method, label string) *Builder {
	blk := mustBlock(m, label)
	kind := trace.BlockJump
	switch blk.Terminator().Kind {
	case ir.KindBranch:
		kind = trace.BlockBranch
	case ir.KindSwitch:
		kind = trace.BlockSwitch
	case ir.KindReturn:
		kind = trace.MethodReturn
	case ir.KindThrow:
		kind = trace.MethodThrow
	}
	b.actions = append(b.actions, trace.Action{Kind: kind, Method: m, Block: blk})
	return b
}

// Throw records an exception leaving m from the labelled block.
func (b *Builder) Throw(m *ir.Method, label string) *Builder {
	b.actions = append(b.actions, trace.Action{Kind: trace.MethodThrow, Method: m, Block: mustBlock(m, label)})
	return b
}

// Call records the call at index idx of the labelled block of caller,
// dispatched to callee.
func (b *Builder) Call(caller *ir.Method, label string, idx int, callee *ir.Method) *Builder {
	site := mustBlock(caller, label).Insts[idx]
	b.actions = append(b.actions, trace.Action{Kind: trace.MethodCall, Method: callee, Call: site})
	return b
}

// StaticInit records entry into the static initializer m.
func (b *Builder) StaticInit(m *ir.Method) *Builder {
	b.actions = append(b.actions, trace.Action{Kind: trace.StaticInitEntry, Method: m})
	return b
}

// EndStaticInit records the end of the static initializer m.
func (b *Builder) EndStaticInit(m *ir.Method) *Builder {
	b.actions = append(b.actions, trace.Action{Kind: trace.StaticInitExit, Method: m})
	return b
}

// Blocks records entering and leaving each labelled block of m in turn.
func (b *Builder) Blocks(m *ir.Method, labels ...string) *Builder {
	for _, l := range labels {
		b.Block(m, l).Leave(m, l)
	}
	return b
}

// Trace returns the built trace.
func (b *Builder) Trace() *trace.Trace {
	return trace.New(b.actions)
}

// Path builds a complete single-method trace visiting labels in order.
func Path(m *ir.Method, labels ...string) *trace.Trace {
	return New().Enter(m).Blocks(m, labels...).Trace()
}

func mustBlock(m *ir.Method, label string) *ir.Block {
	blk := m.Block(label)
	if blk == nil {
		panic(fmt.Sprintf("tracetest: no block %s in %s", label, m))
	}
	return blk
}
