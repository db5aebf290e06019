package coverage

import (
	"fmt"
	"math"

	"github.com/zjy-dev/cfgds/internal/ir"
)

// Unreachable is the uncovered distance of a vertex from which no uncovered
// vertex can be reached.
const Unreachable = math.MaxInt32

// Key identifies a vertex: one instruction of one block.
type Key struct {
	Block *ir.Block
	Inst  *ir.Instruction
}

// KeyOf returns the key of inst.
func KeyOf(inst *ir.Instruction) Key {
	return Key{Block: inst.Block(), Inst: inst}
}

func (k Key) String() string {
	return k.Inst.Location()
}

// VertexKind classifies vertices by the instruction they wrap.
type VertexKind int

const (
	VertexPlain VertexKind = iota
	VertexCall
	VertexTerminator
)

func (k VertexKind) String() string {
	switch k {
	case VertexCall:
		return "call"
	case VertexTerminator:
		return "terminator"
	default:
		return "plain"
	}
}

func kindOf(inst *ir.Instruction) VertexKind {
	switch {
	case inst.Kind == ir.KindCall:
		return VertexCall
	case inst.IsTerminator():
		return VertexTerminator
	default:
		return VertexPlain
	}
}

// Vertex is one instruction in the coverage graph.
type Vertex struct {
	key   Key
	kind  VertexKind
	depth int

	covered bool
	tries   int

	// distance is the number of conditional branches still to be decided,
	// after this one, on the shortest path to an uncovered vertex. It is
	// only maintained for covered conditional terminators.
	distance int
	nearest  *Vertex
	// via is the successor the shortest path leaves through.
	via *Vertex

	preds   []*Vertex
	succs   []*Vertex
	weights map[*Vertex]int
}

func newVertex(inst *ir.Instruction, depth int) *Vertex {
	return &Vertex{
		key:      KeyOf(inst),
		kind:     kindOf(inst),
		depth:    depth,
		distance: Unreachable,
		weights:  make(map[*Vertex]int),
	}
}

func (v *Vertex) Key() Key                { return v.key }
func (v *Vertex) Kind() VertexKind        { return v.kind }
func (v *Vertex) Inst() *ir.Instruction   { return v.key.Inst }
func (v *Vertex) Block() *ir.Block        { return v.key.Block }
func (v *Vertex) IsCovered() bool         { return v.covered }
func (v *Vertex) Tries() int              { return v.tries }
func (v *Vertex) Predecessors() []*Vertex { return v.preds }
func (v *Vertex) Successors() []*Vertex   { return v.succs }

// IsConditional reports whether v is a branch or switch terminator.
func (v *Vertex) IsConditional() bool {
	return v.kind == VertexTerminator && v.key.Inst.Kind.IsConditional()
}

// UncoveredDistance returns the distance to the nearest uncovered vertex, or
// Unreachable.
func (v *Vertex) UncoveredDistance() int { return v.distance }

// Nearest returns the uncovered vertex the distance was measured to.
func (v *Vertex) Nearest() *Vertex { return v.nearest }

// Cost is the selection priority of a branch; lower is preferred.
func (v *Vertex) Cost() int {
	if v.distance == Unreachable {
		return Unreachable
	}
	return v.distance + v.tries
}

// Weight returns the weight of the edge to w and whether it exists.
func (v *Vertex) Weight(w *Vertex) (int, bool) {
	weight, ok := v.weights[w]
	return weight, ok
}

// IncTries records one more attempt at v.
func (v *Vertex) IncTries() { v.tries++ }

func (v *Vertex) String() string {
	return fmt.Sprintf("%s[%s]", v.key, v.kind)
}

// VertexSet is a set of vertices.
type VertexSet map[*Vertex]struct{}

func (s VertexSet) Add(v *Vertex)      { s[v] = struct{}{} }
func (s VertexSet) Has(v *Vertex) bool { _, ok := s[v]; return ok }
