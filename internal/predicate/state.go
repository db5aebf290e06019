package predicate

import (
	"strings"

	"github.com/benbjohnson/immutable"
)

// State is an immutable, ordered composition of predicates. A basic state
// holds a list of predicates; a chain joins two states end to end. Every
// operation returns a new State and leaves its receiver untouched. The nil
// *State is the empty state.
type State struct {
	preds *immutable.List

	base, curr *State
}

// Empty returns a state without predicates.
func Empty() *State {
	return &State{preds: immutable.NewList()}
}

// Of returns a basic state holding ps in order.
func Of(ps ...Predicate) *State {
	l := immutable.NewList()
	for _, p := range ps {
		l = l.Append(p)
	}
	return &State{preds: l}
}

func (s *State) isChain() bool { return s != nil && s.base != nil }

// Len returns the number of predicates in s.
func (s *State) Len() int {
	switch {
	case s == nil:
		return 0
	case s.isChain():
		return s.base.Len() + s.curr.Len()
	default:
		return s.preds.Len()
	}
}

// IsEmpty reports whether s holds no predicates.
func (s *State) IsEmpty() bool { return s.Len() == 0 }

// Add returns s followed by p. Chains grow at their tail.
func (s *State) Add(p Predicate) *State {
	switch {
	case s == nil:
		return Of(p)
	case s.isChain():
		return &State{base: s.base, curr: s.curr.Add(p)}
	default:
		return &State{preds: s.preds.Append(p)}
	}
}

// Concat returns s followed by other.
func (s *State) Concat(other *State) *State {
	switch {
	case other.IsEmpty():
		if s == nil {
			return Empty()
		}
		return s
	case s.IsEmpty():
		return other
	default:
		return &State{base: s, curr: other}
	}
}

// Each calls f on every predicate in order until f returns false.
func (s *State) Each(f func(Predicate) bool) bool {
	switch {
	case s == nil:
		return true
	case s.isChain():
		return s.base.Each(f) && s.curr.Each(f)
	}
	itr := s.preds.Iterator()
	for !itr.Done() {
		_, v := itr.Next()
		if !f(v.(Predicate)) {
			return false
		}
	}
	return true
}

// Predicates returns the predicates of s in order.
func (s *State) Predicates() []Predicate {
	out := make([]Predicate, 0, s.Len())
	s.Each(func(p Predicate) bool {
		out = append(out, p)
		return true
	})
	return out
}

// Fmap rebuilds s with f applied to each basic state, keeping its shape.
func (s *State) Fmap(f func(*State) *State) *State {
	switch {
	case s == nil:
		return f(Empty())
	case s.isChain():
		return s.base.Fmap(f).Concat(s.curr.Fmap(f))
	default:
		return f(s)
	}
}

// Map returns s with every predicate replaced by f(p).
func (s *State) Map(f func(Predicate) Predicate) *State {
	return s.Fmap(func(b *State) *State {
		out := Empty()
		b.Each(func(p Predicate) bool {
			out = out.Add(f(p))
			return true
		})
		return out
	})
}

// Filter returns s without the predicates for which keep returns false.
func (s *State) Filter(keep func(Predicate) bool) *State {
	return s.Fmap(func(b *State) *State {
		out := Empty()
		b.Each(func(p Predicate) bool {
			if keep(p) {
				out = out.Add(p)
			}
			return true
		})
		return out
	})
}

// Path projects s onto its path predicates.
func (s *State) Path() *State {
	return s.Filter(Predicate.IsPath)
}

// PathKeys returns the keys of the path predicates of s in order.
func (s *State) PathKeys() []string {
	var out []string
	s.Each(func(p Predicate) bool {
		if p.IsPath() {
			out = append(out, p.Key())
		}
		return true
	})
	return out
}

// Reverse returns s with its predicates in reverse order.
func (s *State) Reverse() *State {
	ps := s.Predicates()
	out := Empty()
	for i := len(ps) - 1; i >= 0; i-- {
		out = out.Add(ps[i])
	}
	return out
}

// SliceOn returns what follows prefix in s, or false if s does not start
// with prefix.
func (s *State) SliceOn(prefix *State) (*State, bool) {
	ps := s.Predicates()
	pre := prefix.Predicates()
	if len(pre) > len(ps) {
		return nil, false
	}
	for i, p := range pre {
		if p.Key() != ps[i].Key() {
			return nil, false
		}
	}
	return Of(ps[len(pre):]...), true
}

func (s *State) String() string {
	var sb strings.Builder
	sb.WriteString("(")
	first := true
	s.Each(func(p Predicate) bool {
		if !first {
			sb.WriteString("; ")
		}
		first = false
		sb.WriteString(p.String())
		return true
	})
	sb.WriteString(")")
	return sb.String()
}

// Builder accumulates a state one predicate at a time.
type Builder struct {
	state *State
}

// NewBuilder starts from s, or from the empty state if s is nil.
func NewBuilder(s *State) *Builder {
	if s == nil {
		s = Empty()
	}
	return &Builder{state: s}
}

func (b *Builder) Add(p Predicate)   { b.state = b.state.Add(p) }
func (b *Builder) AddState(s *State) { b.state = b.state.Concat(s) }
func (b *Builder) State() *State     { return b.state }
