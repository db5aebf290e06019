package coverage

import "container/heap"

type queued struct {
	v      *Vertex
	dist   int
	source *Vertex
}

type distanceQueue []queued

func (q distanceQueue) Len() int            { return len(q) }
func (q distanceQueue) Less(i, j int) bool  { return q[i].dist < q[j].dist }
func (q distanceQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *distanceQueue) Push(x interface{}) { *q = append(*q, x.(queued)) }
func (q *distanceQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// recompute resets every distance and runs a shortest-path search backwards
// from all uncovered vertices at once. A single multi-source pass yields,
// for every vertex, the minimum over the per-target distances.
//
// A covered conditional terminator's distance excludes its own outgoing
// edge: forcing it is the decision being paid for, so only the branches
// after it count.
func (g *Graph) recompute() {
	dist := make(map[*Vertex]int, len(g.order))
	q := &distanceQueue{}
	for _, v := range g.order {
		v.distance = Unreachable
		v.nearest = nil
		v.via = nil
		if !v.covered {
			dist[v] = 0
			heap.Push(q, queued{v: v, source: v})
		}
	}

	done := make(map[*Vertex]bool, len(g.order))
	for q.Len() > 0 {
		item := heap.Pop(q).(queued)
		if done[item.v] {
			continue
		}
		done[item.v] = true

		for _, p := range item.v.preds {
			d := item.dist + p.weights[item.v]
			if old, ok := dist[p]; ok && old <= d {
				continue
			}
			dist[p] = d
			if p.covered && p.IsConditional() {
				p.distance = d - 1
				p.nearest = item.source
				p.via = item.v
			}
			heap.Push(q, queued{v: p, dist: d, source: item.source})
		}
	}
}
