package trace

import "github.com/zjy-dev/cfgds/internal/ir"

// Step is one executed instruction recovered from a trace.
type Step struct {
	// Action is the index of the trace action that revealed the step.
	Action int
	// Frame is the id of the invocation the instruction ran in; 0 is the root.
	Frame int
	Inst  *ir.Instruction
	// Prev is the block executed before Inst's block in the same frame.
	Prev *ir.Block
	// Next is the block a terminator transferred control to, when the trace
	// shows it.
	Next *ir.Block
}

// Frame is one method invocation seen while walking.
type Frame struct {
	ID     int
	Method *ir.Method
	// Call is the caller's call site when the entry was linked to a
	// preceding method-call action.
	Call   *ir.Instruction
	Parent *Frame

	block  *ir.Block
	prev   *ir.Block
	cursor int
}

// Block returns the block currently executing in f.
func (f *Frame) Block() *ir.Block { return f.block }

// Visitor receives walk events. Nil callbacks are skipped. Returning false
// from Step stops the walk.
type Visitor struct {
	Enter func(f *Frame)
	Step  func(f *Frame, s Step) bool
	Exit  func(f *Frame, thrown bool)
}

type pendingCall struct {
	site   *ir.Instruction
	callee *ir.Method
}

type walker struct {
	actions []Action
	visitor Visitor
	frames  []*Frame
	nextID  int
}

// Walk replays t from the first entry into root and reports every executed
// instruction in order. Actions inside static initializers are skipped;
// nesting is tracked with a counter so re-entrant initializers are handled.
// Walk returns false if the visitor stopped it.
func Walk(root *ir.Method, t *Trace, v Visitor) bool {
	if t == nil {
		return true
	}
	w := &walker{actions: t.actions, visitor: v}
	started := false
	initDepth := 0
	var pending *pendingCall

	for i, a := range w.actions {
		switch a.Kind {
		case StaticInitEntry:
			initDepth++
			continue
		case StaticInitExit:
			if initDepth > 0 {
				initDepth--
			}
			continue
		}
		if initDepth > 0 {
			continue
		}
		if !started {
			if a.Kind != MethodEntry || a.Method != root {
				continue
			}
			started = true
		}

		switch a.Kind {
		case MethodEntry:
			f := &Frame{ID: w.nextID, Method: a.Method, Parent: w.top()}
			w.nextID++
			if pending != nil && pending.callee == a.Method {
				f.Call = pending.site
			}
			pending = nil
			w.frames = append(w.frames, f)
			if v.Enter != nil {
				v.Enter(f)
			}

		case MethodCall:
			pending = nil
			top := w.top()
			if top == nil || a.Call == nil {
				continue
			}
			if !w.advance(top, a.Call, i, nil) {
				return false
			}
			pending = &pendingCall{site: a.Call, callee: a.Method}

		case BlockEntry:
			pending = nil
			top := w.top()
			if top == nil || a.Block == nil || a.Block.Method() != top.Method {
				continue
			}
			if top.block != nil {
				top.prev = top.block
			}
			top.block = a.Block
			top.cursor = 0

		case BlockJump, BlockBranch, BlockSwitch:
			pending = nil
			top := w.top()
			if top == nil || top.block == nil {
				continue
			}
			var next *ir.Block
			if i+1 < len(w.actions) {
				if n := w.actions[i+1]; n.Kind == BlockEntry && n.Block != nil && n.Block.Method() == top.Method {
					next = n.Block
				}
			}
			if !w.advance(top, top.block.Terminator(), i, next) {
				return false
			}

		case MethodReturn, MethodThrow:
			pending = nil
			top := w.top()
			if top == nil {
				continue
			}
			if top.block != nil {
				term := top.block.Terminator()
				exits := (a.Kind == MethodReturn && term.Kind == ir.KindReturn) ||
					(a.Kind == MethodThrow && term.Kind == ir.KindThrow)
				if exits && !w.advance(top, term, i, nil) {
					return false
				}
			}
			if v.Exit != nil {
				v.Exit(top, a.Kind == MethodThrow)
			}
			w.frames = w.frames[:len(w.frames)-1]
		}
	}
	return true
}

func (w *walker) top() *Frame {
	if len(w.frames) == 0 {
		return nil
	}
	return w.frames[len(w.frames)-1]
}

// advance reports the instructions of f's block from its cursor up to and
// including until.
func (w *walker) advance(f *Frame, until *ir.Instruction, action int, next *ir.Block) bool {
	if f.block == nil || until.Block() != f.block {
		return true
	}
	for f.cursor <= until.Index() {
		inst := f.block.Insts[f.cursor]
		f.cursor++
		s := Step{Action: action, Frame: f.ID, Inst: inst, Prev: f.prev}
		if inst == until && inst.IsTerminator() {
			s.Next = next
		}
		if w.visitor.Step != nil && !w.visitor.Step(f, s) {
			return false
		}
	}
	return true
}

// Steps returns every instruction step of t.
func Steps(root *ir.Method, t *Trace) []Step {
	var steps []Step
	Walk(root, t, Visitor{Step: func(_ *Frame, s Step) bool {
		steps = append(steps, s)
		return true
	}})
	return steps
}
