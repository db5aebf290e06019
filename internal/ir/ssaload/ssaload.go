// Package ssaload builds an ir.Program from Go packages using the SSA form
// produced by golang.org/x/tools. Integer and boolean arithmetic, calls to
// statically known functions, branches, jumps, returns and panics are
// translated; every other value-producing instruction becomes a havoc.
package ssaload

import (
	"fmt"
	"go/constant"
	"go/token"
	"go/types"
	"sort"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/zjy-dev/cfgds/internal/ir"
)

var binOps = map[token.Token]ir.Op{
	token.ADD: ir.OpAdd,
	token.SUB: ir.OpSub,
	token.MUL: ir.OpMul,
	token.QUO: ir.OpDiv,
	token.REM: ir.OpRem,
	token.AND: ir.OpAnd,
	token.OR:  ir.OpOr,
	token.XOR: ir.OpXor,
	token.SHL: ir.OpShl,
	token.SHR: ir.OpShr,
	token.EQL: ir.OpEq,
	token.NEQ: ir.OpNe,
	token.LSS: ir.OpLt,
	token.LEQ: ir.OpLe,
	token.GTR: ir.OpGt,
	token.GEQ: ir.OpGe,
}

// Load loads the packages matching patterns, builds them in SSA form and
// converts every source-level function and method into the ir model.
func Load(dir string, patterns ...string) (*ir.Program, error) {
	initial, err := packages.Load(&packages.Config{
		Mode: packages.LoadAllSyntax,
		Dir:  dir,
	}, patterns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load packages: %w", err)
	} else if packages.PrintErrors(initial) > 0 {
		return nil, fmt.Errorf("packages contain errors")
	}

	prog, pkgs := ssautil.AllPackages(initial, ssa.BuilderMode(0))
	for i, pkg := range pkgs {
		if pkg == nil {
			return nil, fmt.Errorf("cannot build SSA for package %s", initial[i])
		}
	}
	prog.Build()

	return Convert(pkgs...)
}

// Convert translates the functions declared in pkgs.
func Convert(pkgs ...*ssa.Package) (*ir.Program, error) {
	var fns []*ssa.Function
	for _, pkg := range pkgs {
		for _, mem := range pkg.Members {
			switch mem := mem.(type) {
			case *ssa.Function:
				if mem.Synthetic == "" {
					fns = append(fns, mem)
				}
			case *ssa.Type:
				mset := pkg.Prog.MethodSets.MethodSet(types.NewPointer(mem.Type()))
				for i := 0; i < mset.Len(); i++ {
					if fn := pkg.Prog.MethodValue(mset.At(i)); fn != nil && fn.Synthetic == "" {
						fns = append(fns, fn)
					}
				}
			}
		}
	}
	sort.Slice(fns, func(i, j int) bool { return fns[i].Pos() < fns[j].Pos() })

	c := &converter{names: make(map[*ssa.Function]string)}
	classes := make(map[string]bool)
	for _, fn := range fns {
		class, name := qualify(fn)
		c.names[fn] = class + "." + name
		classes[class] = true
	}

	var out []*ir.Method
	seen := make(map[string]bool)
	for _, fn := range fns {
		if seen[c.names[fn]] {
			continue
		}
		seen[c.names[fn]] = true
		out = append(out, c.method(fn))
	}

	var cls []*ir.Class
	for name := range classes {
		cls = append(cls, &ir.Class{Name: name})
	}
	sort.Slice(cls, func(i, j int) bool { return cls[i].Name < cls[j].Name })
	return ir.NewProgram(cls, out)
}

// qualify names a function as (package or receiver type, function name).
func qualify(fn *ssa.Function) (string, string) {
	if recv := fn.Signature.Recv(); recv != nil {
		t := recv.Type()
		if p, ok := t.(*types.Pointer); ok {
			t = p.Elem()
		}
		if named, ok := t.(*types.Named); ok {
			return named.Obj().Name(), fn.Name()
		}
	}
	if fn.Pkg != nil {
		return fn.Pkg.Pkg.Name(), fn.Name()
	}
	return "", fn.Name()
}

type converter struct {
	names map[*ssa.Function]string
}

func (c *converter) method(fn *ssa.Function) *ir.Method {
	class, name := qualify(fn)
	m := &ir.Method{Name: name, Class: class}
	params := fn.Params
	if fn.Signature.Recv() != nil && len(params) > 0 {
		m.Receiver = true
		params = params[1:]
	}
	for _, p := range params {
		m.Params = append(m.Params, ir.Param{Name: p.Name(), Type: typeName(p.Type())})
	}
	for _, b := range fn.Blocks {
		m.Blocks = append(m.Blocks, c.block(fn, b))
	}
	return m
}

func typeName(t types.Type) string {
	if b, ok := t.Underlying().(*types.Basic); ok && b.Info()&types.IsBoolean != 0 {
		return "bool"
	}
	return "int"
}

func label(b *ssa.BasicBlock) string {
	return fmt.Sprintf("b%d", b.Index)
}

func (c *converter) block(fn *ssa.Function, b *ssa.BasicBlock) *ir.Block {
	out := &ir.Block{Label: label(b)}
	for _, instr := range b.Instrs {
		if inst := c.instruction(fn, b, instr); inst != nil {
			out.Insts = append(out.Insts, inst)
		}
	}
	if n := len(out.Insts); n == 0 || !out.Insts[n-1].IsTerminator() {
		out.Insts = append(out.Insts, &ir.Instruction{Kind: ir.KindThrow})
	}
	return out
}

func (c *converter) instruction(fn *ssa.Function, b *ssa.BasicBlock, instr ssa.Instruction) *ir.Instruction {
	switch instr := instr.(type) {
	case *ssa.BinOp:
		op, ok := binOps[instr.Op]
		if !ok {
			return havoc(instr.Name())
		}
		return &ir.Instruction{Kind: ir.KindPlain, Op: op, Dst: instr.Name(), Args: []ir.Value{c.value(fn, instr.X), c.value(fn, instr.Y)}}
	case *ssa.UnOp:
		switch instr.Op {
		case token.SUB:
			return &ir.Instruction{Kind: ir.KindPlain, Op: ir.OpNeg, Dst: instr.Name(), Args: []ir.Value{c.value(fn, instr.X)}}
		case token.NOT:
			return &ir.Instruction{Kind: ir.KindPlain, Op: ir.OpNot, Dst: instr.Name(), Args: []ir.Value{c.value(fn, instr.X)}}
		case token.XOR:
			return &ir.Instruction{Kind: ir.KindPlain, Op: ir.OpXor, Dst: instr.Name(), Args: []ir.Value{c.value(fn, instr.X), ir.Const(-1)}}
		}
		return havoc(instr.Name())
	case *ssa.Convert:
		return &ir.Instruction{Kind: ir.KindPlain, Op: ir.OpCopy, Dst: instr.Name(), Args: []ir.Value{c.value(fn, instr.X)}}
	case *ssa.ChangeType:
		return &ir.Instruction{Kind: ir.KindPlain, Op: ir.OpCopy, Dst: instr.Name(), Args: []ir.Value{c.value(fn, instr.X)}}
	case *ssa.Phi:
		inst := &ir.Instruction{Kind: ir.KindPlain, Op: ir.OpPhi, Dst: instr.Name()}
		for i, e := range instr.Edges {
			inst.Phi = append(inst.Phi, ir.PhiEdge{Pred: label(b.Preds[i]), Value: c.value(fn, e)})
		}
		return inst
	case *ssa.Call:
		callee := instr.Call.StaticCallee()
		if callee == nil || instr.Call.IsInvoke() {
			return havoc(instr.Name())
		}
		inst := &ir.Instruction{Kind: ir.KindCall, Callee: c.calleeName(callee)}
		if _, ok := instr.Type().Underlying().(*types.Tuple); !ok {
			inst.Dst = instr.Name()
		}
		args := instr.Call.Args
		if callee.Signature.Recv() != nil && len(args) > 0 {
			inst.Receiver = c.value(fn, args[0])
			args = args[1:]
		}
		for _, a := range args {
			inst.Args = append(inst.Args, c.value(fn, a))
		}
		return inst
	case *ssa.If:
		return &ir.Instruction{Kind: ir.KindBranch, Args: []ir.Value{c.value(fn, instr.Cond)}, Targets: []string{label(b.Succs[0]), label(b.Succs[1])}}
	case *ssa.Jump:
		return &ir.Instruction{Kind: ir.KindJump, Targets: []string{label(b.Succs[0])}}
	case *ssa.Return:
		inst := &ir.Instruction{Kind: ir.KindReturn}
		if len(instr.Results) > 0 {
			inst.Args = []ir.Value{c.value(fn, instr.Results[0])}
		}
		return inst
	case *ssa.Panic:
		return &ir.Instruction{Kind: ir.KindThrow}
	case ssa.Value:
		return havoc(instr.Name())
	}
	return nil
}

func (c *converter) calleeName(fn *ssa.Function) string {
	if name, ok := c.names[fn]; ok {
		return name
	}
	class, name := qualify(fn)
	return class + "." + name
}

func (c *converter) value(fn *ssa.Function, v ssa.Value) ir.Value {
	switch v := v.(type) {
	case *ssa.Const:
		if v.Value == nil {
			return ir.Const(0)
		}
		switch v.Value.Kind() {
		case constant.Int:
			if n, ok := constant.Int64Val(v.Value); ok {
				return ir.Const(n)
			}
		case constant.Bool:
			if constant.BoolVal(v.Value) {
				return ir.Const(1)
			}
		}
		return ir.Const(0)
	case *ssa.Parameter:
		if fn.Signature.Recv() != nil && len(fn.Params) > 0 && fn.Params[0] == v {
			return ir.Sym("this")
		}
		return ir.Sym(v.Name())
	}
	return ir.Sym(v.Name())
}

func havoc(dst string) *ir.Instruction {
	return &ir.Instruction{Kind: ir.KindPlain, Op: ir.OpHavoc, Dst: dst}
}
