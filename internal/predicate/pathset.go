package predicate

// PathSet is the set of explored paths. Every prefix of an added path is
// indexed, so asking whether a path is a prefix of some explored one walks
// the index once.
type PathSet struct {
	root *pathNode
	size int
}

type pathNode struct {
	children map[string]*pathNode
	// end marks a node where an added path stops.
	end bool
}

func newPathNode() *pathNode {
	return &pathNode{children: make(map[string]*pathNode)}
}

// NewPathSet returns an empty set.
func NewPathSet() *PathSet {
	return &PathSet{root: newPathNode()}
}

// Add records the path of s. It returns false if the path was already in
// the set.
func (ps *PathSet) Add(s *State) bool {
	n := ps.root
	for _, k := range s.PathKeys() {
		child, ok := n.children[k]
		if !ok {
			child = newPathNode()
			n.children[k] = child
		}
		n = child
	}
	if n.end {
		return false
	}
	n.end = true
	ps.size++
	return true
}

func (ps *PathSet) find(s *State) *pathNode {
	n := ps.root
	for _, k := range s.PathKeys() {
		child, ok := n.children[k]
		if !ok {
			return nil
		}
		n = child
	}
	return n
}

// IsPrefixOfAny reports whether the path of s is a prefix of, or equal to,
// some added path.
func (ps *PathSet) IsPrefixOfAny(s *State) bool {
	if ps.size == 0 {
		return false
	}
	return ps.find(s) != nil
}

// Len returns the number of distinct paths added.
func (ps *PathSet) Len() int { return ps.size }
