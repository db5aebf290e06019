// Package solver provides a reference constraint solver for predicate
// states over small integer domains.
package solver

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"

	"github.com/zjy-dev/cfgds/internal/ir"
	"github.com/zjy-dev/cfgds/internal/logger"
	"github.com/zjy-dev/cfgds/internal/oracle"
	"github.com/zjy-dev/cfgds/internal/predicate"
)

func init() {
	oracle.RegisterSolver("enum", NewEnumFromOptions)
}

// Defaults of the enum solver options.
const (
	DefaultDomainMin     = -64
	DefaultDomainMax     = 64
	DefaultMaxCandidates = 200000
	DefaultSamples       = 8
	// Domains at most this wide are enumerated in full.
	exhaustiveWidth = 256
)

// Enum solves a state by evaluating it front to back, branching on each
// free symbol the first time it is read. Candidates for a free symbol are
// boundary values, constants of the state and their neighbours, then the
// whole domain when it is small or seeded random samples of it otherwise.
// Failing path predicates prune the search.
type Enum struct {
	min, max      int64
	maxCandidates int
	samples       int
	seed          uint64
}

// NewEnum creates an enum solver over [min, max].
func NewEnum(min, max int64, maxCandidates int) *Enum {
	if min > max {
		min, max = max, min
	}
	return &Enum{min: min, max: max, maxCandidates: maxCandidates, samples: DefaultSamples, seed: 1}
}

// NewEnumFromOptions creates an enum solver from backend options
// domain_min, domain_max, max_candidates, samples and seed.
func NewEnumFromOptions(options map[string]interface{}) (oracle.Solver, error) {
	keys := []string{"domain_min", "domain_max", "max_candidates", "samples", "seed"}
	defaults := []int64{DefaultDomainMin, DefaultDomainMax, DefaultMaxCandidates, DefaultSamples, 1}
	v := make([]int64, len(keys))
	for i, key := range keys {
		n, err := oracle.IntOption(options, key, defaults[i])
		if err != nil {
			return nil, fmt.Errorf("enum solver: %w", err)
		}
		v[i] = n
	}
	e := NewEnum(v[0], v[1], int(v[2]))
	e.samples = int(v[3])
	e.seed = uint64(v[4])
	return e, nil
}

// Solve returns a model of s. It reports oracle.ErrUnsat when the
// candidate space was searched completely and covered the whole domain of
// every branched symbol, and oracle.ErrUnknown otherwise.
func (e *Enum) Solve(ctx context.Context, s *predicate.State) (oracle.Model, error) {
	preds := s.Predicates()
	h := fnv.New64a()
	h.Write([]byte(s.String()))

	search := &search{
		ctx:    ctx,
		preds:  preds,
		env:    make(map[string]int64),
		free:   make(map[string]int64),
		budget: e.maxCandidates,
		values: e.candidates(preds, rand.New(rand.NewPCG(e.seed, h.Sum64()))),
	}
	if search.run(0) {
		model := make(oracle.Model, len(search.free))
		for sym, v := range search.free {
			model[sym] = v
		}
		logger.Debug("[Solver] Found model after %d candidates", e.maxCandidates-search.budget)
		return model, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if search.exhausted || search.approximate {
		return nil, fmt.Errorf("%w: no model among %d candidates", oracle.ErrUnknown, e.maxCandidates-search.budget)
	}
	return nil, oracle.ErrUnsat
}

// candidates returns the ordered candidate values shared by all free
// symbols, and whether they cover the whole domain.
func (e *Enum) candidates(preds []predicate.Predicate, rng *rand.Rand) candidateSet {
	var out []int64
	seen := make(map[int64]bool)
	add := func(v int64) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}

	for _, v := range []int64{0, 1, -1} {
		add(v)
	}
	for _, p := range preds {
		var consts []int64
		if p.IsPath() {
			consts = p.Consts
		} else {
			for _, a := range p.Args {
				if a.IsConst {
					consts = append(consts, a.Const)
				}
			}
		}
		for _, c := range consts {
			add(c)
			add(c - 1)
			add(c + 1)
		}
	}
	add(e.min)
	add(e.max)

	complete := e.max-e.min < exhaustiveWidth
	if complete {
		for v := e.min; v <= e.max; v++ {
			add(v)
		}
	} else {
		for i := 0; i < e.samples; i++ {
			add(e.min + rng.Int64N(e.max-e.min+1))
		}
	}
	return candidateSet{values: out, complete: complete}
}

type candidateSet struct {
	values []int64
	// complete is set when values include every domain value.
	complete bool
}

type search struct {
	ctx   context.Context
	preds []predicate.Predicate
	env   map[string]int64
	// free holds the value each branched symbol was bound to.
	free   map[string]int64
	values candidateSet
	budget int

	exhausted   bool
	approximate bool
}

// run checks predicates from i on under the current environment, binding
// free symbols as they are met.
func (s *search) run(i int) bool {
	if i == len(s.preds) {
		return true
	}
	if s.ctx.Err() != nil {
		return false
	}
	p := s.preds[i]

	for _, sym := range reads(p) {
		if _, bound := s.env[sym]; !bound {
			return s.branch(sym, func() bool { return s.run(i) })
		}
	}

	if p.IsPath() {
		return p.Holds(s.value(p.Subject)) && s.run(i+1)
	}

	if p.Op == ir.OpHavoc {
		old, had := s.env[p.Dst]
		if s.branch(p.Dst, func() bool { return s.run(i + 1) }) {
			return true
		}
		if had {
			s.env[p.Dst] = old
		}
		return false
	}
	args := make([]int64, len(p.Args))
	for k, a := range p.Args {
		args[k] = s.value(a)
	}
	v, err := ir.Eval(p.Op, args)
	if err != nil {
		// The run would throw here instead of continuing.
		return false
	}
	old, had := s.env[p.Dst]
	s.env[p.Dst] = v
	if s.run(i + 1) {
		return true
	}
	if had {
		s.env[p.Dst] = old
	} else {
		delete(s.env, p.Dst)
	}
	return false
}

// branch binds sym to each candidate in turn until next succeeds.
func (s *search) branch(sym string, next func() bool) bool {
	if !s.values.complete {
		s.approximate = true
	}
	for _, v := range s.values.values {
		if s.budget <= 0 {
			s.exhausted = true
			break
		}
		s.budget--
		s.env[sym] = v
		s.free[sym] = v
		if next() {
			return true
		}
		if s.ctx.Err() != nil {
			break
		}
	}
	delete(s.env, sym)
	delete(s.free, sym)
	return false
}

func (s *search) value(v ir.Value) int64 {
	if v.IsConst {
		return v.Const
	}
	return s.env[v.Name]
}

// reads returns the symbols p reads.
func reads(p predicate.Predicate) []string {
	syms := p.Symbols()
	if p.IsPath() {
		return syms
	}
	return syms[:len(syms)-1]
}
