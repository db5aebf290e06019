package ir

import (
	"fmt"
	"strings"
)

// StaticInitName is the method name of a class's static initializer.
const StaticInitName = "<clinit>"

// PhiEdge selects Value when control arrives from block Pred.
type PhiEdge struct {
	Pred  string
	Value Value
}

// Instruction is a single instruction. Terminators carry their targets by
// label; NewProgram resolves them to blocks.
type Instruction struct {
	Kind Kind
	Op   Op
	Dst  string
	Args []Value
	Phi  []PhiEdge

	// Call fields.
	Callee   string
	Receiver Value
	Virtual  bool

	// Terminator fields. For a branch Targets is [true, false]; for a switch
	// it holds one target per case followed by the default target.
	Targets []string
	Cases   []int64

	block *Block
	index int
	succs []*Block
}

// Block returns the block owning i.
func (i *Instruction) Block() *Block { return i.block }

// Index returns the position of i within its block.
func (i *Instruction) Index() int { return i.index }

// IsTerminator reports whether i ends its block.
func (i *Instruction) IsTerminator() bool { return i.Kind.IsTerminator() }

// Next returns the instruction following i in its block, or nil.
func (i *Instruction) Next() *Instruction {
	if i.block == nil || i.index+1 >= len(i.block.Insts) {
		return nil
	}
	return i.block.Insts[i.index+1]
}

// Target returns the block of the k-th terminator target.
func (i *Instruction) Target(k int) *Block {
	if i.block == nil || k < 0 || k >= len(i.Targets) {
		return nil
	}
	return i.block.method.byLabel[i.Targets[k]]
}

// Successors returns the distinct target blocks of a terminator in target order.
func (i *Instruction) Successors() []*Block {
	return i.succs
}

// CasesFor returns the switch case constants that lead to block b.
func (i *Instruction) CasesFor(b *Block) []int64 {
	var out []int64
	for k, c := range i.Cases {
		if i.Target(k) == b {
			out = append(out, c)
		}
	}
	return out
}

// IsDefault reports whether b is the default target of a switch.
func (i *Instruction) IsDefault(b *Block) bool {
	return i.Kind == KindSwitch && len(i.Targets) > 0 && i.Target(len(i.Targets)-1) == b
}

// Location identifies i as method:block:index.
func (i *Instruction) Location() string {
	if i.block == nil {
		return fmt.Sprintf("?:%d", i.index)
	}
	return fmt.Sprintf("%s:%d", i.block, i.index)
}

func (i *Instruction) String() string {
	var sb strings.Builder
	switch i.Kind {
	case KindPlain:
		fmt.Fprintf(&sb, "%s = %s", i.Dst, i.Op)
		if i.Op == OpPhi {
			for _, e := range i.Phi {
				fmt.Fprintf(&sb, " [%s: %s]", e.Pred, e.Value)
			}
			return sb.String()
		}
	case KindCall:
		if i.Dst != "" {
			fmt.Fprintf(&sb, "%s = ", i.Dst)
		}
		sb.WriteString("call ")
		if !i.Receiver.IsZero() {
			fmt.Fprintf(&sb, "%s.", i.Receiver)
		}
		sb.WriteString(i.Callee)
	default:
		sb.WriteString(i.Kind.String())
	}
	for _, a := range i.Args {
		fmt.Fprintf(&sb, " %s", a)
	}
	if len(i.Targets) > 0 {
		fmt.Fprintf(&sb, " -> %s", strings.Join(i.Targets, ","))
	}
	return sb.String()
}

// Block is a basic block: a straight-line instruction list ending in one terminator.
type Block struct {
	Label string
	Insts []*Instruction

	method *Method
}

// Method returns the method owning b.
func (b *Block) Method() *Method { return b.method }

// First returns the first instruction of b.
func (b *Block) First() *Instruction {
	if len(b.Insts) == 0 {
		return nil
	}
	return b.Insts[0]
}

// Terminator returns the last instruction of b.
func (b *Block) Terminator() *Instruction {
	if len(b.Insts) == 0 {
		return nil
	}
	return b.Insts[len(b.Insts)-1]
}

// Successors returns the blocks control may flow to after b.
func (b *Block) Successors() []*Block {
	if t := b.Terminator(); t != nil {
		return t.Successors()
	}
	return nil
}

func (b *Block) String() string {
	if b.method == nil {
		return b.Label
	}
	return b.method.FullName() + ":" + b.Label
}

// Param is a method parameter.
type Param struct {
	Name string
	Type string
}

// Method is a method or function. A method without blocks is external: calls
// to it are recorded but never entered.
type Method struct {
	Name     string
	Class    string
	Params   []Param
	Receiver bool
	Blocks   []*Block

	program *Program
	byLabel map[string]*Block
}

// FullName returns Class.Name, or Name for class-less functions.
func (m *Method) FullName() string {
	if m.Class == "" {
		return m.Name
	}
	return m.Class + "." + m.Name
}

func (m *Method) String() string { return m.FullName() }

// Program returns the program m belongs to.
func (m *Method) Program() *Program { return m.program }

// HasBody reports whether m has any blocks.
func (m *Method) HasBody() bool { return len(m.Blocks) > 0 }

// Entry returns the entry block, or nil for external methods.
func (m *Method) Entry() *Block {
	if len(m.Blocks) == 0 {
		return nil
	}
	return m.Blocks[0]
}

// Block returns the block with the given label.
func (m *Method) Block(label string) *Block {
	return m.byLabel[label]
}

// IsStaticInit reports whether m is a class static initializer.
func (m *Method) IsStaticInit() bool { return m.Name == StaticInitName }

// ParamNames returns the parameter names in declaration order.
func (m *Method) ParamNames() []string {
	names := make([]string, len(m.Params))
	for i, p := range m.Params {
		names[i] = p.Name
	}
	return names
}

// Class is a class declaration. Super names the parent class, if any.
type Class struct {
	Name  string
	Super string
}

// Program is a linked, validated set of classes and methods.
type Program struct {
	Classes []*Class
	Methods []*Method

	byName  map[string]*Method
	classes map[string]*Class
}

// NewProgram links blocks, instructions and targets, and validates the
// structural rules every other package relies on.
func NewProgram(classes []*Class, methods []*Method) (*Program, error) {
	p := &Program{
		Classes: classes,
		Methods: methods,
		byName:  make(map[string]*Method, len(methods)),
		classes: make(map[string]*Class, len(classes)),
	}
	for _, c := range classes {
		if _, dup := p.classes[c.Name]; dup {
			return nil, fmt.Errorf("duplicate class %s", c.Name)
		}
		p.classes[c.Name] = c
	}
	for _, m := range methods {
		name := m.FullName()
		if _, dup := p.byName[name]; dup {
			return nil, fmt.Errorf("duplicate method %s", name)
		}
		p.byName[name] = m
		if err := m.link(p); err != nil {
			return nil, fmt.Errorf("method %s: %w", name, err)
		}
	}
	return p, nil
}

func (m *Method) link(p *Program) error {
	m.program = p
	m.byLabel = make(map[string]*Block, len(m.Blocks))
	seen := make(map[string]bool)
	for _, param := range m.Params {
		if seen[param.Name] {
			return fmt.Errorf("duplicate parameter %s", param.Name)
		}
		seen[param.Name] = true
	}
	for _, b := range m.Blocks {
		if _, dup := m.byLabel[b.Label]; dup {
			return fmt.Errorf("duplicate block %s", b.Label)
		}
		b.method = m
		m.byLabel[b.Label] = b
	}
	for _, b := range m.Blocks {
		if len(b.Insts) == 0 {
			return fmt.Errorf("block %s: empty", b.Label)
		}
		for idx, inst := range b.Insts {
			inst.block = b
			inst.index = idx
			last := idx == len(b.Insts)-1
			if inst.IsTerminator() != last {
				if last {
					return fmt.Errorf("block %s: missing terminator", b.Label)
				}
				return fmt.Errorf("block %s: terminator %s before end of block", b.Label, inst.Kind)
			}
			if err := m.checkInst(inst); err != nil {
				return fmt.Errorf("block %s: instruction %d: %w", b.Label, idx, err)
			}
		}
	}
	return nil
}

func (m *Method) checkInst(inst *Instruction) error {
	switch inst.Kind {
	case KindPlain:
		if inst.Dst == "" {
			return fmt.Errorf("%s without destination", inst.Op)
		}
		if n := inst.Op.Arity(); n >= 0 && len(inst.Args) != n {
			return fmt.Errorf("%s expects %d operands, got %d", inst.Op, n, len(inst.Args))
		}
		for _, e := range inst.Phi {
			if m.byLabel[e.Pred] == nil {
				return fmt.Errorf("phi edge from unknown block %s", e.Pred)
			}
		}
	case KindCall:
		if inst.Callee == "" {
			return fmt.Errorf("call without callee")
		}
	case KindBranch:
		if len(inst.Args) != 1 || len(inst.Targets) != 2 {
			return fmt.Errorf("branch needs one condition and two targets")
		}
	case KindSwitch:
		if len(inst.Args) != 1 || len(inst.Targets) != len(inst.Cases)+1 {
			return fmt.Errorf("switch needs a key and one target per case plus a default")
		}
	case KindJump:
		if len(inst.Targets) != 1 {
			return fmt.Errorf("jump needs exactly one target")
		}
	}
	seen := make(map[*Block]bool)
	for _, label := range inst.Targets {
		target := m.byLabel[label]
		if target == nil {
			return fmt.Errorf("unknown target block %s", label)
		}
		if !seen[target] {
			seen[target] = true
			inst.succs = append(inst.succs, target)
		}
	}
	return nil
}

// Method looks up a method by full name.
func (p *Program) Method(name string) (*Method, bool) {
	m, ok := p.byName[name]
	return m, ok
}

// Class looks up a class by name.
func (p *Program) Class(name string) (*Class, bool) {
	c, ok := p.classes[name]
	return c, ok
}

// StaticInit returns the static initializer of class, if it has one with a body.
func (p *Program) StaticInit(class string) (*Method, bool) {
	m, ok := p.byName[class+"."+StaticInitName]
	if !ok || !m.HasBody() {
		return nil, false
	}
	return m, true
}

// IsSubclass reports whether sub derives from base, directly or transitively.
func (p *Program) IsSubclass(sub, base string) bool {
	seen := make(map[string]bool)
	for c, ok := p.classes[sub]; ok && !seen[c.Name]; c, ok = p.classes[c.Super] {
		seen[c.Name] = true
		if c.Super == base {
			return true
		}
	}
	return false
}

// Overrides returns the methods of subclasses of m's class that override m
// and whose class name starts with one of the scope prefixes. An empty scope
// admits every class. Results follow declaration order.
func (p *Program) Overrides(m *Method, scope []string) []*Method {
	var out []*Method
	for _, o := range p.Methods {
		if o == m || o.Name != m.Name || len(o.Params) != len(m.Params) {
			continue
		}
		if !p.IsSubclass(o.Class, m.Class) || !InScope(o.Class, scope) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// InScope reports whether class matches one of the scope prefixes.
func InScope(class string, scope []string) bool {
	if len(scope) == 0 {
		return true
	}
	for _, prefix := range scope {
		if strings.HasPrefix(class, prefix) {
			return true
		}
	}
	return false
}
