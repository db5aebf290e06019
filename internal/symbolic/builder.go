// Package symbolic turns executions into predicate states: the value
// assignments and branch decisions a solver must satisfy to drive the
// method under test down the same path, or down a forced variant of it.
package symbolic

import (
	"fmt"

	"github.com/zjy-dev/cfgds/internal/ir"
	"github.com/zjy-dev/cfgds/internal/predicate"
)

// This is the symbol bound to a method's receiver.
const This = "this"

// Qualify names a symbol of the given frame. Root-frame symbols keep their
// names, so a solver model binds the root's parameters directly.
func Qualify(frame int, name string) string {
	if frame == 0 || name == "" {
		return name
	}
	return fmt.Sprintf("%s@%d", name, frame)
}

// builder appends the predicates of executed instructions.
type builder struct {
	out *predicate.Builder
}

func newBuilder() *builder {
	return &builder{out: predicate.NewBuilder(nil)}
}

func (b *builder) value(frame int, v ir.Value) ir.Value {
	if v.IsConst || v.IsZero() {
		return v
	}
	return ir.Sym(Qualify(frame, v.Name))
}

func (b *builder) values(frame int, vs []ir.Value) []ir.Value {
	out := make([]ir.Value, len(vs))
	for i, v := range vs {
		out[i] = b.value(frame, v)
	}
	return out
}

// instruction emits the predicates of inst executed in frame. prev is the
// block executed before inst's block; next is the successor a terminator
// went to, nil when unknown.
func (b *builder) instruction(frame int, inst *ir.Instruction, prev, next *ir.Block) {
	origin := inst.Location()
	dst := Qualify(frame, inst.Dst)

	switch inst.Kind {
	case ir.KindPlain:
		if inst.Op == ir.OpPhi {
			b.phi(frame, inst, prev)
			return
		}
		b.out.Add(predicate.Assign(inst.Op, dst, b.values(frame, inst.Args), origin))

	case ir.KindCall:
		if inst.Dst == "" {
			return
		}
		if callee, ok := inst.Block().Method().Program().Method(inst.Callee); !ok || !callee.HasBody() {
			b.out.Add(predicate.Assign(ir.OpHavoc, dst, nil, origin))
		}

	case ir.KindBranch:
		if next == nil || inst.Target(0) == inst.Target(1) {
			return
		}
		cond := predicate.CondEq
		if next == inst.Target(0) {
			cond = predicate.CondNeq
		}
		b.out.Add(predicate.Branch(b.value(frame, inst.Args[0]), cond, []int64{0}, origin))

	case ir.KindSwitch:
		if next == nil {
			return
		}
		key := b.value(frame, inst.Args[0])
		if inst.IsDefault(next) {
			b.out.Add(predicate.Branch(key, predicate.CondNotIn, otherCases(inst, next), origin))
			return
		}
		b.out.Add(predicate.Branch(key, predicate.CondIn, inst.CasesFor(next), origin))
	}
}

// otherCases returns the case constants that do not lead to target.
func otherCases(inst *ir.Instruction, target *ir.Block) []int64 {
	out := []int64{}
	for k, c := range inst.Cases {
		if inst.Target(k) != target {
			out = append(out, c)
		}
	}
	return out
}

// phi emits inst as one of the phis heading its block. The phis of a block
// read their incoming values before any of them is assigned, so a group of
// more than one goes through "#in" temporaries, all written when its first
// member executes.
func (b *builder) phi(frame int, inst *ir.Instruction, prev *ir.Block) {
	dst := Qualify(frame, inst.Dst)
	group := phiGroup(inst.Block())
	if len(group) < 2 || inst.Index() >= len(group) {
		b.out.Add(predicate.Assign(ir.OpCopy, dst, []ir.Value{b.phiValue(frame, inst, prev)}, inst.Location()))
		return
	}
	if inst == group[0] {
		for _, p := range group {
			b.out.Add(predicate.Assign(ir.OpCopy, Qualify(frame, p.Dst)+"#in",
				[]ir.Value{b.phiValue(frame, p, prev)}, p.Location()))
		}
	}
	b.out.Add(predicate.Assign(ir.OpCopy, dst, []ir.Value{ir.Sym(dst + "#in")}, inst.Location()))
}

// phiGroup returns the phis at the head of block.
func phiGroup(block *ir.Block) []*ir.Instruction {
	var out []*ir.Instruction
	for _, inst := range block.Insts {
		if inst.Kind != ir.KindPlain || inst.Op != ir.OpPhi {
			break
		}
		out = append(out, inst)
	}
	return out
}

// phiValue resolves a phi against the block actually executed before it.
// Without a known predecessor the value is left free.
func (b *builder) phiValue(frame int, inst *ir.Instruction, prev *ir.Block) ir.Value {
	if prev != nil {
		for _, e := range inst.Phi {
			if e.Pred == prev.Label {
				return b.value(frame, e.Value)
			}
		}
	}
	return ir.Sym(Qualify(frame, inst.Dst) + "#free")
}

// enter binds the parameters and receiver of callee, running in frame, to
// the caller's values at call.
func (b *builder) enter(frame int, callee *ir.Method, caller int, call *ir.Instruction) {
	origin := call.Location()
	for i, p := range callee.Params {
		if i >= len(call.Args) {
			break
		}
		b.out.Add(predicate.Assign(ir.OpCopy, Qualify(frame, p.Name),
			[]ir.Value{b.value(caller, call.Args[i])}, origin))
	}
	if callee.Receiver && !call.Receiver.IsZero() {
		b.out.Add(predicate.Assign(ir.OpCopy, Qualify(frame, This),
			[]ir.Value{b.value(caller, call.Receiver)}, origin))
	}
}

// leave assigns the value returned by frame to the destination of call in
// the caller.
func (b *builder) leave(frame int, ret ir.Value, caller int, call *ir.Instruction) {
	if call.Dst == "" || ret.IsZero() {
		return
	}
	b.out.Add(predicate.Assign(ir.OpCopy, Qualify(caller, call.Dst),
		[]ir.Value{b.value(frame, ret)}, call.Location()))
}

func (b *builder) state() *predicate.State {
	return b.out.State()
}
