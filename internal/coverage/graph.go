// Package coverage maintains the interprocedural coverage graph of a method
// under test and answers the search's questions about it: which covered
// branch is closest to uncovered code, and which paths lead there.
package coverage

import (
	"fmt"

	"github.com/zjy-dev/cfgds/internal/ir"
	"github.com/zjy-dev/cfgds/internal/logger"
	"github.com/zjy-dev/cfgds/internal/trace"
)

// DefaultCallDepth bounds eager expansion of callees when a graph is built.
const DefaultCallDepth = 4

// Graph is the coverage graph of one root method. It is not safe for
// concurrent use; each search session owns its graph.
type Graph struct {
	root      *ir.Method
	program   *ir.Program
	scope     []string
	callDepth int
	selector  Selector

	entry    *Vertex
	vertices map[Key]*Vertex
	order    []*Vertex

	coveredEdges map[edge]bool
	traces       []*trace.Trace
}

type edge struct {
	from, to *Vertex
}

// Option configures a Graph.
type Option func(*Graph)

// WithScope restricts virtual-call overrides to classes within scope.
func WithScope(scope []string) Option {
	return func(g *Graph) { g.scope = scope }
}

// WithCallDepth sets how many levels of callees are expanded eagerly.
func WithCallDepth(depth int) Option {
	return func(g *Graph) { g.callDepth = depth }
}

// WithSelector sets the tie-break strategy of NextBranchToForce.
func WithSelector(s Selector) Option {
	return func(g *Graph) { g.selector = s }
}

// New builds the graph of root, eagerly expanding callees up to the
// configured call depth. Every vertex starts uncovered.
func New(root *ir.Method, opts ...Option) (*Graph, error) {
	if root == nil || !root.HasBody() {
		return nil, fmt.Errorf("method %v has no body", root)
	}
	g := &Graph{
		root:         root,
		program:      root.Program(),
		callDepth:    DefaultCallDepth,
		selector:     FirstSelector{},
		vertices:     make(map[Key]*Vertex),
		coveredEdges: make(map[edge]bool),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.entry = g.expand(root.Entry().First(), 0)
	g.recompute()
	logger.Debug("[Graph] Built graph of %s: %d vertices", root.FullName(), len(g.order))
	return g, nil
}

// Root returns the method the graph was built for.
func (g *Graph) Root() *ir.Method { return g.root }

// Entry returns the vertex of the root's first instruction.
func (g *Graph) Entry() *Vertex { return g.entry }

// Vertex returns the vertex of inst, or nil if inst is not in the graph.
func (g *Graph) Vertex(inst *ir.Instruction) *Vertex {
	if inst == nil {
		return nil
	}
	return g.vertices[KeyOf(inst)]
}

// Vertices returns every vertex in creation order.
func (g *Graph) Vertices() []*Vertex { return g.order }

// Traces returns every trace added so far, oldest first.
func (g *Graph) Traces() []*trace.Trace { return g.traces }

// IsEdgeCovered reports whether some trace went from v to w.
func (g *Graph) IsEdgeCovered(v, w *Vertex) bool {
	return g.coveredEdges[edge{v, w}]
}

type link struct {
	inst   *ir.Instruction
	weight int
	depth  int
}

// wrap returns the vertex of inst, creating it if needed. The second result
// is true when the vertex must be (re)visited: it is new, or it is now
// reachable at a shallower call depth than before.
func (g *Graph) wrap(inst *ir.Instruction, depth int) (*Vertex, bool) {
	key := KeyOf(inst)
	if v, ok := g.vertices[key]; ok {
		if depth < v.depth {
			v.depth = depth
			return v, true
		}
		return v, false
	}
	v := newVertex(inst, depth)
	g.vertices[key] = v
	g.order = append(g.order, v)
	return v, true
}

// expand adds the vertex of start and everything reachable from it.
func (g *Graph) expand(start *ir.Instruction, depth int) *Vertex {
	v, visit := g.wrap(start, depth)
	if !visit {
		return v
	}
	queue := []*Vertex{v}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, l := range g.links(cur) {
			next, visit := g.wrap(l.inst, l.depth)
			g.addEdge(cur, next, l.weight)
			if visit {
				queue = append(queue, next)
			}
		}
	}
	return v
}

// links lists the static successors of v.
func (g *Graph) links(v *Vertex) []link {
	inst := v.Inst()
	var out []link
	switch v.kind {
	case VertexTerminator:
		w := 0
		if inst.Kind.IsConditional() {
			w = 1
		}
		for _, b := range inst.Successors() {
			out = append(out, link{inst: b.First(), weight: w, depth: v.depth})
		}
	case VertexCall:
		if v.depth < g.callDepth {
			for _, callee := range g.callees(inst) {
				out = append(out, link{inst: callee.Entry().First(), depth: v.depth + 1})
			}
		}
		if next := inst.Next(); next != nil {
			out = append(out, link{inst: next, depth: v.depth})
		}
	default:
		if next := inst.Next(); next != nil {
			out = append(out, link{inst: next, depth: v.depth})
		}
	}
	return out
}

// callees resolves the possible targets of a call: the declared callee and,
// for virtual calls, its in-scope overrides. Methods without a body are
// left out.
func (g *Graph) callees(call *ir.Instruction) []*ir.Method {
	m, ok := g.program.Method(call.Callee)
	if !ok {
		return nil
	}
	candidates := []*ir.Method{m}
	if call.Virtual {
		candidates = append(candidates, g.program.Overrides(m, g.scope)...)
	}
	out := candidates[:0]
	for _, c := range candidates {
		if c.HasBody() {
			out = append(out, c)
		}
	}
	return out
}

func (g *Graph) addEdge(from, to *Vertex, weight int) {
	if _, ok := from.weights[to]; ok {
		return
	}
	from.weights[to] = weight
	from.succs = append(from.succs, to)
	to.preds = append(to.preds, from)
}

// edgeWeight is the weight of any edge leaving v.
func edgeWeight(v *Vertex) int {
	if v.IsConditional() {
		return 1
	}
	return 0
}

// AddTrace marks everything t executed as covered, expanding the graph
// where t reached code that was not built yet, and recomputes distances.
// It returns true if t covered a conditional terminator, or one of its
// outgoing edges, for the first time. Adding the same trace twice is a
// no-op.
func (g *Graph) AddTrace(t *trace.Trace) bool {
	if t == nil {
		return false
	}
	for _, old := range g.traces {
		if old == t {
			return false
		}
	}

	newBranch := false
	last := make(map[int]*Vertex)
	site := make(map[int]*Vertex)
	branch := make(map[int]*Vertex)

	trace.Walk(g.root, t, trace.Visitor{
		Enter: func(f *trace.Frame) {
			if f.Parent == nil || f.Call == nil {
				return
			}
			if caller := last[f.Parent.ID]; caller != nil && caller.Inst() == f.Call {
				site[f.ID] = caller
			}
		},
		Step: func(f *trace.Frame, s trace.Step) bool {
			pred := last[f.ID]
			if pred == nil {
				pred = site[f.ID]
			}

			v := g.vertices[KeyOf(s.Inst)]
			if v == nil {
				depth := 0
				if pred != nil {
					depth = pred.depth
					if pred == site[f.ID] {
						depth++
					}
				}
				v = g.expand(s.Inst, depth)
				logger.Debug("[Graph] Expanded %s reached by trace", v)
			}
			if pred != nil {
				g.addEdge(pred, v, edgeWeight(pred))
			}

			if b := branch[f.ID]; b != nil {
				e := edge{b, v}
				if !g.coveredEdges[e] {
					g.coveredEdges[e] = true
					newBranch = true
				}
				delete(branch, f.ID)
			}
			if !v.covered {
				v.covered = true
				if v.IsConditional() {
					newBranch = true
				}
			}
			if v.IsConditional() && s.Next != nil {
				branch[f.ID] = v
			}
			last[f.ID] = v
			return true
		},
	})

	g.traces = append(g.traces, t)
	g.recompute()
	return newBranch
}

// DropTries resets the attempt counter of every vertex.
func (g *Graph) DropTries() {
	for _, v := range g.order {
		v.tries = 0
	}
}

// ForceTargets lists the successor blocks of the conditional terminator v
// worth forcing: targets over uncovered edges first, then the successor the
// shortest uncovered path leaves through, then the rest.
func (g *Graph) ForceTargets(v *Vertex) []*ir.Block {
	if v == nil || !v.IsConditional() {
		return nil
	}
	var first, rest []*ir.Block
	seen := make(map[*ir.Block]bool)
	for _, s := range v.succs {
		if !g.coveredEdges[edge{v, s}] {
			first = append(first, s.Block())
			seen[s.Block()] = true
		}
	}
	if v.via != nil && !seen[v.via.Block()] {
		first = append(first, v.via.Block())
		seen[v.via.Block()] = true
	}
	for _, s := range v.succs {
		if !seen[s.Block()] {
			rest = append(rest, s.Block())
			seen[s.Block()] = true
		}
	}
	return append(first, rest...)
}

// IsFullyCovered reports whether every vertex has been covered.
func (g *Graph) IsFullyCovered() bool {
	for _, v := range g.order {
		if !v.covered {
			return false
		}
	}
	return true
}

// Stats summarizes graph coverage.
type Stats struct {
	Vertices        int `json:"vertices"`
	CoveredVertices int `json:"covered_vertices"`
	// Branches counts the outgoing edges of conditional terminators.
	Branches        int `json:"branches"`
	CoveredBranches int `json:"covered_branches"`
}

// VertexCoverage returns the percentage of covered vertices.
func (s Stats) VertexCoverage() float64 {
	if s.Vertices == 0 {
		return 0
	}
	return float64(s.CoveredVertices) * 100 / float64(s.Vertices)
}

// BranchCoverage returns the percentage of covered branch edges.
func (s Stats) BranchCoverage() float64 {
	if s.Branches == 0 {
		return 100
	}
	return float64(s.CoveredBranches) * 100 / float64(s.Branches)
}

// Stats counts covered vertices and branch edges.
func (g *Graph) Stats() Stats {
	var s Stats
	for _, v := range g.order {
		s.Vertices++
		if v.covered {
			s.CoveredVertices++
		}
		if v.IsConditional() {
			for _, w := range v.succs {
				s.Branches++
				if g.coveredEdges[edge{v, w}] {
					s.CoveredBranches++
				}
			}
		}
	}
	return s
}
