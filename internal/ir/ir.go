// Package ir models the program under test: classes, methods, basic blocks
// and the instructions inside them. A Program is immutable once built by
// NewProgram; every other package only reads it.
package ir

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Value is an instruction operand: either a named symbol or an integer constant.
type Value struct {
	Name    string
	Const   int64
	IsConst bool
}

// Sym returns a symbolic value.
func Sym(name string) Value {
	return Value{Name: name}
}

// Const returns a constant value.
func Const(c int64) Value {
	return Value{Const: c, IsConst: true}
}

// IsZero reports whether v is the absent value.
func (v Value) IsZero() bool {
	return !v.IsConst && v.Name == ""
}

func (v Value) String() string {
	if v.IsConst {
		return strconv.FormatInt(v.Const, 10)
	}
	return v.Name
}

// ParseValue interprets an operand literal: integers and booleans become
// constants, anything else a symbol.
func ParseValue(s string) Value {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Const(n)
	}
	switch s {
	case "true":
		return Const(1)
	case "false":
		return Const(0)
	}
	return Sym(s)
}

// Kind is the instruction kind. It never changes after construction.
type Kind int

const (
	KindPlain Kind = iota
	KindCall
	KindBranch
	KindSwitch
	KindJump
	KindReturn
	KindThrow
)

var kindNames = map[Kind]string{
	KindPlain:  "plain",
	KindCall:   "call",
	KindBranch: "branch",
	KindSwitch: "switch",
	KindJump:   "jump",
	KindReturn: "return",
	KindThrow:  "throw",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsTerminator reports whether k ends a basic block.
func (k Kind) IsTerminator() bool {
	return k >= KindBranch
}

// IsConditional reports whether k selects between successors at runtime.
func (k Kind) IsConditional() bool {
	return k == KindBranch || k == KindSwitch
}

// Op is the operation of a plain instruction.
type Op int

const (
	OpCopy Op = iota
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpNeg
	OpNot
	OpPhi
	// OpHavoc produces a value the model cannot describe.
	OpHavoc
)

var opNames = []string{
	OpCopy:  "copy",
	OpAdd:   "add",
	OpSub:   "sub",
	OpMul:   "mul",
	OpDiv:   "div",
	OpRem:   "rem",
	OpAnd:   "and",
	OpOr:    "or",
	OpXor:   "xor",
	OpShl:   "shl",
	OpShr:   "shr",
	OpEq:    "eq",
	OpNe:    "ne",
	OpLt:    "lt",
	OpLe:    "le",
	OpGt:    "gt",
	OpGe:    "ge",
	OpNeg:   "neg",
	OpNot:   "not",
	OpPhi:   "phi",
	OpHavoc: "havoc",
}

func (o Op) String() string {
	if int(o) >= 0 && int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// ParseOp returns the Op with the given name.
func ParseOp(name string) (Op, error) {
	for i, n := range opNames {
		if n == name {
			return Op(i), nil
		}
	}
	return 0, fmt.Errorf("unknown op %q", name)
}

// Arity returns the number of operands op consumes, or -1 if variable.
func (o Op) Arity() int {
	switch o {
	case OpCopy, OpNeg, OpNot:
		return 1
	case OpPhi, OpHavoc:
		return -1
	default:
		return 2
	}
}

// ErrDivideByZero is returned by Eval for division or remainder by zero.
var ErrDivideByZero = errors.New("integer divide by zero")

// Eval computes op over concrete operands. Comparisons yield 0 or 1.
func Eval(op Op, args []int64) (int64, error) {
	arg := func(i int) int64 {
		if i < len(args) {
			return args[i]
		}
		return 0
	}
	a, b := arg(0), arg(1)
	switch op {
	case OpCopy:
		return a, nil
	case OpAdd:
		return a + b, nil
	case OpSub:
		return a - b, nil
	case OpMul:
		return a * b, nil
	case OpDiv:
		if b == 0 {
			return 0, ErrDivideByZero
		}
		return a / b, nil
	case OpRem:
		if b == 0 {
			return 0, ErrDivideByZero
		}
		return a % b, nil
	case OpAnd:
		return a & b, nil
	case OpOr:
		return a | b, nil
	case OpXor:
		return a ^ b, nil
	case OpShl:
		return a << uint64(b&63), nil
	case OpShr:
		return a >> uint64(b&63), nil
	case OpEq:
		return boolInt(a == b), nil
	case OpNe:
		return boolInt(a != b), nil
	case OpLt:
		return boolInt(a < b), nil
	case OpLe:
		return boolInt(a <= b), nil
	case OpGt:
		return boolInt(a > b), nil
	case OpGe:
		return boolInt(a >= b), nil
	case OpNeg:
		return -a, nil
	case OpNot:
		return boolInt(a == 0), nil
	case OpHavoc:
		return 0, nil
	}
	return 0, fmt.Errorf("cannot evaluate %s", op)
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
