package markov

import "errors"

// Stats holds aggregated statistics for a single chain.
type Stats struct {
	Depth      int   // The maximum n-gram order
	VocabSize  int   // The number of distinct tokens
	RootWeight int   // The number of token positions trained on
	Nodes      int   // Every trie node, the root included
	Edges      int   // Every parent -> child link; always Nodes-1
	Leaves     int   // Nodes without children
	MaxFanOut  int   // The largest number of children on any node
	LevelNodes []int // LevelNodes[k] is the number of distinct k-token prefixes
}

// SkipChildren can be returned by a WalkFunc to skip the children of the
// node it was called for.
var SkipChildren = errors.New("skip children")

// WalkFunc is called for every node visited by Walk. path holds the
// vocabulary indexes leading from the root to n and is only valid for the
// duration of the call.
type WalkFunc func(path []int, n *Node) error

// Walk visits every node depth-first, children in creation order, starting
// with the root. It uses an explicit stack, so deep chains do not grow the
// goroutine stack. If fn returns SkipChildren the node's children are not
// visited; any other non-nil error stops the walk and is returned.
func (c *Chain) Walk(fn WalkFunc) error {
	type frame struct {
		node  *Node
		level int
		idx   int
	}

	var path []int
	stack := []frame{{node: c.Root()}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.level == 0 {
			path = path[:0]
		} else {
			path = append(path[:f.level-1], f.idx)
		}

		err := fn(path, f.node)
		if errors.Is(err, SkipChildren) {
			continue
		}
		if err != nil {
			return err
		}

		// Push in reverse so the first-created child is visited first.
		for i := len(f.node.order) - 1; i >= 0; i-- {
			idx := f.node.order[i]
			stack = append(stack, frame{node: f.node.children[idx], level: f.level + 1, idx: idx})
		}
	}
	return nil
}

// Stats walks the whole trie and returns its statistics.
func (c *Chain) Stats() Stats {
	s := Stats{
		Depth:      c.depth,
		VocabSize:  c.vocab.Len(),
		RootWeight: c.Root().weight,
	}
	_ = c.Walk(func(path []int, n *Node) error {
		s.Nodes++
		if len(path) >= len(s.LevelNodes) {
			s.LevelNodes = append(s.LevelNodes, 0)
		}
		s.LevelNodes[len(path)]++
		if n.Len() == 0 {
			s.Leaves++
		}
		s.MaxFanOut = max(s.MaxFanOut, n.Len())
		return nil
	})
	s.Edges = s.Nodes - 1
	return s
}
