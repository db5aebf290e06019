// Package predicate defines the constraints the search reasons about and
// the immutable states that order them.
package predicate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zjy-dev/cfgds/internal/ir"
)

// Kind separates value assignments from branch decisions.
type Kind int

const (
	// KindState assigns the result of an operation to a symbol.
	KindState Kind = iota
	// KindPath records which way a branch or switch went.
	KindPath
)

// Cond is the relation a path predicate requires between its subject and
// its constants.
type Cond int

const (
	CondEq Cond = iota
	CondNeq
	CondIn
	CondNotIn
)

var condNames = [...]string{"==", "!=", "in", "!in"}

func (c Cond) String() string {
	if int(c) < len(condNames) {
		return condNames[c]
	}
	return fmt.Sprintf("cond(%d)", int(c))
}

// Invert returns the complementary relation.
func (c Cond) Invert() Cond {
	switch c {
	case CondEq:
		return CondNeq
	case CondNeq:
		return CondEq
	case CondIn:
		return CondNotIn
	default:
		return CondIn
	}
}

// Predicate is a single constraint. State predicates use Op, Dst and Args;
// path predicates use Subject, Cond and Consts. Origin is the location of
// the instruction the predicate came from.
type Predicate struct {
	Kind Kind

	Op   ir.Op
	Dst  string
	Args []ir.Value

	Subject ir.Value
	Cond    Cond
	Consts  []int64

	Origin string
}

// Assign creates a state predicate dst = op(args).
func Assign(op ir.Op, dst string, args []ir.Value, origin string) Predicate {
	return Predicate{Kind: KindState, Op: op, Dst: dst, Args: args, Origin: origin}
}

// Branch creates a path predicate on subject.
func Branch(subject ir.Value, cond Cond, consts []int64, origin string) Predicate {
	return Predicate{Kind: KindPath, Subject: subject, Cond: cond, Consts: consts, Origin: origin}
}

// IsPath reports whether p records a branch decision.
func (p Predicate) IsPath() bool { return p.Kind == KindPath }

// Invert returns the path predicate for the opposite decision. State
// predicates are returned unchanged.
func (p Predicate) Invert() Predicate {
	if !p.IsPath() {
		return p
	}
	q := p
	q.Cond = p.Cond.Invert()
	return q
}

// Holds reports whether v satisfies the path predicate.
func (p Predicate) Holds(v int64) bool {
	found := false
	for _, c := range p.Consts {
		if c == v {
			found = true
			break
		}
	}
	switch p.Cond {
	case CondEq, CondIn:
		return found
	default:
		return !found
	}
}

// Rename applies f to every symbol p reads or writes.
func (p Predicate) Rename(f func(string) string) Predicate {
	q := p
	if p.Kind == KindState {
		q.Dst = f(p.Dst)
		q.Args = make([]ir.Value, len(p.Args))
		for i, a := range p.Args {
			q.Args[i] = renameValue(a, f)
		}
		return q
	}
	q.Subject = renameValue(p.Subject, f)
	return q
}

func renameValue(v ir.Value, f func(string) string) ir.Value {
	if v.IsConst {
		return v
	}
	return ir.Sym(f(v.Name))
}

// Symbols returns the symbols p reads, then the one it writes.
func (p Predicate) Symbols() []string {
	var out []string
	if p.Kind == KindState {
		for _, a := range p.Args {
			if !a.IsConst {
				out = append(out, a.Name)
			}
		}
		return append(out, p.Dst)
	}
	if !p.Subject.IsConst {
		out = append(out, p.Subject.Name)
	}
	return out
}

// Key identifies p for path comparison. Two path predicates with the same
// key constrain the same instruction the same way.
func (p Predicate) Key() string {
	return p.Origin + "|" + p.String()
}

func (p Predicate) String() string {
	if p.Kind == KindState {
		args := make([]string, len(p.Args))
		for i, a := range p.Args {
			args[i] = a.String()
		}
		return fmt.Sprintf("%s = %s(%s)", p.Dst, p.Op, strings.Join(args, ", "))
	}
	consts := make([]string, len(p.Consts))
	for i, c := range p.Consts {
		consts[i] = strconv.FormatInt(c, 10)
	}
	switch p.Cond {
	case CondEq, CondNeq:
		return fmt.Sprintf("@P %s %s %s", p.Subject, p.Cond, strings.Join(consts, ","))
	default:
		return fmt.Sprintf("@P %s %s {%s}", p.Subject, p.Cond, strings.Join(consts, ","))
	}
}
