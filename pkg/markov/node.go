package markov

import "iter"

// Node is a single trie node. Its weight counts the training windows whose
// prefix spells the path from the root to this node. Children are keyed by
// vocabulary index and owned exclusively by their parent.
type Node struct {
	weight   int
	order    []int // child indexes in creation order
	children map[int]*Node
}

// Weight returns the number of training windows that reached this node.
func (n *Node) Weight() int {
	return n.weight
}

// Len returns the number of children.
func (n *Node) Len() int {
	return len(n.order)
}

// Child returns the child reached by the token with the given vocabulary index.
func (n *Node) Child(idx int) (*Node, bool) {
	if n.children == nil {
		return nil, false
	}
	c, ok := n.children[idx]
	return c, ok
}

// Children iterates over (vocabulary index, child) pairs in creation order.
func (n *Node) Children() iter.Seq2[int, *Node] {
	return func(yield func(int, *Node) bool) {
		for _, idx := range n.order {
			if !yield(idx, n.children[idx]) {
				return
			}
		}
	}
}

// childOrCreate returns the child for idx, creating an empty one if needed.
func (n *Node) childOrCreate(idx int) *Node {
	if c, ok := n.children[idx]; ok {
		return c
	}
	if n.children == nil {
		n.children = make(map[int]*Node)
	}
	c := &Node{}
	n.children[idx] = c
	n.order = append(n.order, idx)
	return c
}

// addChild attaches a fully built child. It reports false if idx is taken.
func (n *Node) addChild(idx int, c *Node) bool {
	if _, ok := n.children[idx]; ok {
		return false
	}
	if n.children == nil {
		n.children = make(map[int]*Node)
	}
	n.children[idx] = c
	n.order = append(n.order, idx)
	return true
}
