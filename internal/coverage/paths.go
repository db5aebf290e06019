package coverage

import (
	"strings"

	"github.com/zjy-dev/cfgds/internal/logger"
)

// Unbounded disables the cost budget of FindPathsForSAP.
const Unbounded = -1

// maxExpansions bounds the work of one path search regardless of limit.
const maxExpansions = 1 << 16

// Path is a simple path through the graph starting at a covered branch.
type Path struct {
	Vertices []*Vertex
	// Cost is the summed edge weight, not counting the first edge.
	Cost int
}

// Start returns the branch the path starts at.
func (p Path) Start() *Vertex { return p.Vertices[0] }

// Target returns the last vertex of the path.
func (p Path) Target() *Vertex { return p.Vertices[len(p.Vertices)-1] }

// Branches returns the conditional terminators along the path, in order.
func (p Path) Branches() []*Vertex {
	var out []*Vertex
	for _, v := range p.Vertices {
		if v.IsConditional() {
			out = append(out, v)
		}
	}
	return out
}

func (p Path) String() string {
	parts := make([]string, len(p.Vertices))
	for i, v := range p.Vertices {
		parts[i] = v.key.String()
	}
	return strings.Join(parts, " -> ")
}

func pathCost(vs []*Vertex) int {
	cost := 0
	for i := 1; i+1 < len(vs); i++ {
		cost += vs[i].weights[vs[i+1]]
	}
	return cost
}

// FindPathsForSAP enumerates simple paths from start whose cost stays
// within budget. The edge leaving start is not counted: its weight is the
// forcing the caller already paid for, and uncoveredDistance leaves it out
// the same way, so a budget of start.Cost() admits the path to the nearest
// uncovered vertex. Each path is cut after its last uncovered conditional
// terminator; paths without one are dropped. At most limit paths are
// returned when limit is positive.
func (g *Graph) FindPathsForSAP(start *Vertex, budget, limit int) []Path {
	if start == nil {
		return nil
	}

	var paths []Path
	seen := make(map[string]bool)
	onPath := map[*Vertex]bool{start: true}
	stack := []*Vertex{start}
	expansions := 0

	record := func() {
		end := -1
		for i := len(stack) - 1; i > 0; i-- {
			if v := stack[i]; !v.covered && v.IsConditional() {
				end = i
				break
			}
		}
		if end < 0 {
			return
		}
		vs := append([]*Vertex(nil), stack[:end+1]...)
		p := Path{Vertices: vs, Cost: pathCost(vs)}
		if key := p.String(); !seen[key] {
			seen[key] = true
			paths = append(paths, p)
		}
	}

	var dfs func(cur *Vertex, spent int)
	dfs = func(cur *Vertex, spent int) {
		if limit > 0 && len(paths) >= limit {
			return
		}
		extended := false
		for _, next := range cur.succs {
			if onPath[next] || expansions >= maxExpansions {
				continue
			}
			cost := spent
			if cur != start {
				cost += cur.weights[next]
			}
			if budget != Unbounded && cost > budget {
				continue
			}
			extended = true
			expansions++
			onPath[next] = true
			stack = append(stack, next)
			dfs(next, cost)
			stack = stack[:len(stack)-1]
			delete(onPath, next)
			if limit > 0 && len(paths) >= limit {
				return
			}
		}
		if !extended {
			record()
		}
	}
	dfs(start, 0)

	logger.Debug("[Graph] Found %d paths from %s within budget %d", len(paths), start, budget)
	return paths
}

// PathFromEntry returns a shortest static path from the graph entry to v,
// both included, or nil when v is unreachable. Calls may be stepped into
// or over.
func (g *Graph) PathFromEntry(v *Vertex) []*Vertex {
	if v == nil || g.entry == nil {
		return nil
	}
	prev := map[*Vertex]*Vertex{g.entry: nil}
	queue := []*Vertex{g.entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == v {
			var out []*Vertex
			for w := v; w != nil; w = prev[w] {
				out = append(out, w)
			}
			for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
				out[i], out[j] = out[j], out[i]
			}
			return out
		}
		for _, next := range cur.succs {
			if _, ok := prev[next]; !ok {
				prev[next] = cur
				queue = append(queue, next)
			}
		}
	}
	return nil
}
