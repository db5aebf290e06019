// Package interp executes ir methods on concrete inputs and records the
// trace an instrumented runtime would report.
package interp

import (
	"context"
	"errors"
	"fmt"

	"github.com/zjy-dev/cfgds/internal/ir"
	"github.com/zjy-dev/cfgds/internal/oracle"
	"github.com/zjy-dev/cfgds/internal/symbolic"
	"github.com/zjy-dev/cfgds/internal/trace"
)

func init() {
	oracle.RegisterRunner("interp", NewFromOptions)
}

// Defaults of the interp runner options.
const (
	DefaultMaxSteps = 100000
	DefaultMaxDepth = 64
)

var (
	// ErrStepLimit is returned when a run executes too many instructions.
	ErrStepLimit = errors.New("step limit exceeded")
	// ErrCallDepth is returned when calls nest too deeply.
	ErrCallDepth = errors.New("call depth exceeded")
)

// Runner interprets methods of one program.
//
// Virtual calls dispatch on the receiver value: the declared callee and its
// overrides with bodies form a list, and the receiver modulo its length picks
// the target. A class's static initializer runs the first time one of its
// methods is entered. Division by zero throws.
type Runner struct {
	program  *ir.Program
	maxSteps int
	maxDepth int
}

// New creates a Runner for p.
func New(p *ir.Program, maxSteps, maxDepth int) *Runner {
	return &Runner{program: p, maxSteps: maxSteps, maxDepth: maxDepth}
}

// NewFromOptions creates a Runner from backend options max_steps and
// max_depth.
func NewFromOptions(p *ir.Program, options map[string]interface{}) (oracle.Runner, error) {
	steps, err := oracle.IntOption(options, "max_steps", DefaultMaxSteps)
	if err != nil {
		return nil, fmt.Errorf("interp runner: %w", err)
	}
	depth, err := oracle.IntOption(options, "max_depth", DefaultMaxDepth)
	if err != nil {
		return nil, fmt.Errorf("interp runner: %w", err)
	}
	return New(p, int(steps), int(depth)), nil
}

// Run executes m on in. An uncaught exception ends the trace normally;
// exceeding a limit or ctx ending is an error.
func (r *Runner) Run(ctx context.Context, m *ir.Method, in oracle.Input) (*trace.Trace, error) {
	if !m.HasBody() {
		return nil, fmt.Errorf("%w: %s has no body", oracle.ErrExecution, m)
	}
	mc := &machine{
		ctx:         ctx,
		program:     r.program,
		maxSteps:    r.maxSteps,
		maxDepth:    r.maxDepth,
		initialized: make(map[string]bool),
	}
	if _, _, err := mc.invoke(m, in.Args, in.Receiver, 0); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s%s: %w", oracle.ErrExecution, m, in, err)
	}
	return trace.New(mc.actions), nil
}

type machine struct {
	ctx      context.Context
	program  *ir.Program
	maxSteps int
	maxDepth int

	actions     []trace.Action
	steps       int
	initialized map[string]bool
}

func (mc *machine) emit(kind trace.Kind, m *ir.Method, b *ir.Block) {
	mc.actions = append(mc.actions, trace.Action{Kind: kind, Method: m, Block: b})
}

// tick counts one executed instruction.
func (mc *machine) tick() error {
	mc.steps++
	if mc.maxSteps > 0 && mc.steps > mc.maxSteps {
		return ErrStepLimit
	}
	if mc.steps%1024 == 0 {
		return mc.ctx.Err()
	}
	return nil
}

// initClass runs the static initializer of class on first use.
func (mc *machine) initClass(class string, depth int) error {
	if class == "" || mc.initialized[class] {
		return nil
	}
	mc.initialized[class] = true
	clinit, ok := mc.program.StaticInit(class)
	if !ok {
		return nil
	}
	mc.emit(trace.StaticInitEntry, clinit, nil)
	if _, _, err := mc.invoke(clinit, nil, 0, depth+1); err != nil {
		return err
	}
	mc.emit(trace.StaticInitExit, clinit, nil)
	return nil
}

// invoke runs m and returns its result and whether it threw.
func (mc *machine) invoke(m *ir.Method, args []int64, receiver int64, depth int) (int64, bool, error) {
	if mc.maxDepth > 0 && depth > mc.maxDepth {
		return 0, false, ErrCallDepth
	}
	if !m.IsStaticInit() {
		if err := mc.initClass(m.Class, depth); err != nil {
			return 0, false, err
		}
	}
	mc.emit(trace.MethodEntry, m, nil)

	env := make(map[string]int64)
	for i, p := range m.Params {
		if i < len(args) {
			env[p.Name] = args[i]
		}
	}
	if m.Receiver {
		env[symbolic.This] = receiver
	}
	value := func(v ir.Value) int64 {
		if v.IsConst {
			return v.Const
		}
		return env[v.Name]
	}

	var prev *ir.Block
	block := m.Entry()
	for {
		mc.emit(trace.BlockEntry, m, block)
		var next *ir.Block
		incoming := phis(block, prev, value)

		for _, inst := range block.Insts {
			if err := mc.tick(); err != nil {
				return 0, false, err
			}
			switch inst.Kind {
			case ir.KindPlain:
				if inst.Op == ir.OpPhi {
					env[inst.Dst] = incoming[inst]
					continue
				}
				args := make([]int64, len(inst.Args))
				for k, a := range inst.Args {
					args[k] = value(a)
				}
				v, err := ir.Eval(inst.Op, args)
				if errors.Is(err, ir.ErrDivideByZero) {
					mc.emit(trace.MethodThrow, m, block)
					return 0, true, nil
				}
				if err != nil {
					return 0, false, err
				}
				env[inst.Dst] = v

			case ir.KindCall:
				ret, thrown, err := mc.call(inst, value, depth)
				if err != nil {
					return 0, false, err
				}
				if thrown {
					mc.emit(trace.MethodThrow, m, block)
					return 0, true, nil
				}
				if inst.Dst != "" {
					env[inst.Dst] = ret
				}

			case ir.KindBranch:
				mc.emit(trace.BlockBranch, m, block)
				next = inst.Target(1)
				if value(inst.Args[0]) != 0 {
					next = inst.Target(0)
				}

			case ir.KindSwitch:
				mc.emit(trace.BlockSwitch, m, block)
				key := value(inst.Args[0])
				next = inst.Target(len(inst.Targets) - 1)
				for k, c := range inst.Cases {
					if c == key {
						next = inst.Target(k)
						break
					}
				}

			case ir.KindJump:
				mc.emit(trace.BlockJump, m, block)
				next = inst.Target(0)

			case ir.KindReturn:
				mc.emit(trace.MethodReturn, m, block)
				var ret int64
				if len(inst.Args) > 0 {
					ret = value(inst.Args[0])
				}
				return ret, false, nil

			case ir.KindThrow:
				mc.emit(trace.MethodThrow, m, block)
				return 0, true, nil
			}
		}
		prev, block = block, next
	}
}

// call performs the call inst. Calls to methods without a body are
// recorded and return zero.
func (mc *machine) call(inst *ir.Instruction, value func(ir.Value) int64, depth int) (int64, bool, error) {
	args := make([]int64, len(inst.Args))
	for k, a := range inst.Args {
		args[k] = value(a)
	}
	receiver := value(inst.Receiver)

	target, ok := mc.program.Method(inst.Callee)
	if ok && inst.Virtual {
		target = mc.dispatch(target, receiver)
	}
	mc.actions = append(mc.actions, trace.Action{Kind: trace.MethodCall, Method: target, Call: inst})
	if !ok || !target.HasBody() {
		return 0, false, nil
	}
	return mc.invoke(target, args, receiver, depth+1)
}

// dispatch selects the implementation of a virtual call for receiver.
func (mc *machine) dispatch(declared *ir.Method, receiver int64) *ir.Method {
	var impls []*ir.Method
	if declared.HasBody() {
		impls = append(impls, declared)
	}
	for _, o := range mc.program.Overrides(declared, nil) {
		if o.HasBody() {
			impls = append(impls, o)
		}
	}
	if len(impls) == 0 {
		return declared
	}
	k := receiver % int64(len(impls))
	if k < 0 {
		k += int64(len(impls))
	}
	return impls[k]
}

// phis evaluates every phi of block against the values live on entry,
// before any of them is assigned.
func phis(block, prev *ir.Block, value func(ir.Value) int64) map[*ir.Instruction]int64 {
	var out map[*ir.Instruction]int64
	for _, inst := range block.Insts {
		if inst.Kind != ir.KindPlain || inst.Op != ir.OpPhi {
			continue
		}
		if out == nil {
			out = make(map[*ir.Instruction]int64)
		}
		out[inst] = phi(inst, prev, value)
	}
	return out
}

func phi(inst *ir.Instruction, prev *ir.Block, value func(ir.Value) int64) int64 {
	if prev == nil {
		return 0
	}
	for _, e := range inst.Phi {
		if e.Pred == prev.Label {
			return value(e.Value)
		}
	}
	return 0
}
