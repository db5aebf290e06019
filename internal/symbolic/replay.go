package symbolic

import (
	"github.com/zjy-dev/cfgds/internal/ir"
	"github.com/zjy-dev/cfgds/internal/predicate"
	"github.com/zjy-dev/cfgds/internal/trace"
)

// Force redirects one step of a replay. The replay stops after emitting the
// forced terminator.
type Force struct {
	// Action and Inst identify the step, as reported by trace.Walk.
	Action int
	Inst   *ir.Instruction
	Target *ir.Block
}

// BuildState replays t from the first entry into root and returns the
// state describing the path it took.
func BuildState(root *ir.Method, t *trace.Trace) *predicate.State {
	return replay(root, t, nil)
}

// BuildForced replays t up to the step named by f and forces that
// terminator toward f.Target. Everything after the step is dropped.
func BuildForced(root *ir.Method, t *trace.Trace, f Force) *predicate.State {
	return replay(root, t, &f)
}

func replay(root *ir.Method, t *trace.Trace, force *Force) *predicate.State {
	b := newBuilder()
	returns := make(map[int]ir.Value)

	trace.Walk(root, t, trace.Visitor{
		Enter: func(f *trace.Frame) {
			if f.Parent != nil && f.Call != nil {
				b.enter(f.ID, f.Method, f.Parent.ID, f.Call)
			}
		},
		Step: func(f *trace.Frame, s trace.Step) bool {
			if force != nil && s.Action == force.Action && s.Inst == force.Inst {
				b.instruction(f.ID, s.Inst, s.Prev, force.Target)
				return false
			}
			b.instruction(f.ID, s.Inst, s.Prev, s.Next)
			if s.Inst.Kind == ir.KindReturn && len(s.Inst.Args) > 0 {
				returns[f.ID] = s.Inst.Args[0]
			}
			return true
		},
		Exit: func(f *trace.Frame, thrown bool) {
			if thrown || f.Parent == nil || f.Call == nil {
				return
			}
			if ret, ok := returns[f.ID]; ok {
				b.leave(f.ID, ret, f.Parent.ID, f.Call)
			}
		},
	})
	return b.state()
}

// Occurrences returns the steps of t that executed inst, in order.
func Occurrences(root *ir.Method, t *trace.Trace, inst *ir.Instruction) []trace.Step {
	var out []trace.Step
	trace.Walk(root, t, trace.Visitor{Step: func(_ *trace.Frame, s trace.Step) bool {
		if s.Inst == inst {
			out = append(out, s)
		}
		return true
	}})
	return out
}

// ForceBranch looks for a state that drives execution through branch and
// on to one of targets. Traces are tried in the given order (newest first
// by convention), then the occurrences of branch within each trace, then
// targets in preference order. A target the occurrence already took is
// skipped, as is any state reject returns true for. It returns the state
// and the trace it was derived from.
func ForceBranch(root *ir.Method, traces []*trace.Trace, branch *ir.Instruction, targets []*ir.Block,
	reject func(*predicate.State) bool) (*predicate.State, *trace.Trace, bool) {
	for _, t := range traces {
		for _, occ := range Occurrences(root, t, branch) {
			for _, target := range targets {
				if target == occ.Next {
					continue
				}
				st := BuildForced(root, t, Force{Action: occ.Action, Inst: branch, Target: target})
				if reject != nil && reject(st) {
					continue
				}
				return st, t, true
			}
		}
	}
	return nil, nil, false
}

// BuildPath builds the state of a static path: a sequence of instructions
// starting at root's entry, as enumerated from the coverage graph. A call
// not followed by its fall-through instruction enters the callee; a
// terminator's successor is the block of the following instruction. The
// last terminator goes to target when target is not nil.
func BuildPath(root *ir.Method, insts []*ir.Instruction, target *ir.Block) *predicate.State {
	type frame struct {
		id          int
		method      *ir.Method
		block, prev *ir.Block
	}
	b := newBuilder()
	stack := []*frame{{id: 0, method: root}}
	nextID := 1

	for i, inst := range insts {
		m := inst.Block().Method()
		top := stack[len(stack)-1]

		if call := previousCall(insts, i); call != nil && call.Next() != inst {
			// Not the fall-through edge: the path descends into a callee.
			f := &frame{id: nextID, method: m}
			nextID++
			b.enter(f.id, m, top.id, call)
			stack = append(stack, f)
			top = f
		}
		for len(stack) > 1 && top.method != m {
			stack = stack[:len(stack)-1]
			top = stack[len(stack)-1]
		}

		if inst.Index() == 0 && inst.Block() != top.block {
			top.prev = top.block
			top.block = inst.Block()
		}

		var next *ir.Block
		if inst.IsTerminator() {
			switch {
			case i+1 < len(insts) && insts[i+1].Block().Method() == m && insts[i+1].Index() == 0:
				next = insts[i+1].Block()
			case i+1 == len(insts):
				next = target
			}
		}
		b.instruction(top.id, inst, top.prev, next)
	}
	return b.state()
}

func previousCall(insts []*ir.Instruction, i int) *ir.Instruction {
	if i == 0 || insts[i-1].Kind != ir.KindCall {
		return nil
	}
	return insts[i-1]
}
