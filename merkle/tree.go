package merkle

// Merge combines two child items into their parent. Implementations decide
// the hash (or any other fold) applied at interior nodes.
type Merge[T any] interface {
	Merge(left, right T) T
}

// Tree is a complete binary tree stored as a flat array. For n leaves the
// array holds 2n-1 nodes: the root at index 0 and the leaves at
// [n-1 .. 2n-2]. No padding to a power of two takes place.
//
// For six leaves [T0..T5] the layout is:
//
//	nodes:  [B0, B1, B2, B3, B4, T0, T1, T2, T3, T4, T5]
//	index:    0   1   2   3   4   5   6   7   8   9  10
type Tree[T any] struct {
	merge Merge[T]
	nodes []T
}

// Index arithmetic for the array layout. Valid for every index >= 1;
// index 0 is the root and has neither parent nor sibling.

func sibling(i int) int {
	return ((i + 1) ^ 1) - 1
}

func parentIndex(i int) int {
	return (i - 1) >> 1
}

func isLeft(i int) bool {
	return i&1 == 1
}

// NewTree builds the tree bottom-up from the leaf list. An empty leaf list
// yields an empty tree.
func NewTree[T any](merge Merge[T], leaves []T) *Tree[T] {
	n := len(leaves)
	if n == 0 {
		return &Tree[T]{merge: merge}
	}

	nodes := make([]T, 2*n-1)
	copy(nodes[n-1:], leaves)
	for i := n - 2; i >= 0; i-- {
		nodes[i] = merge.Merge(nodes[2*i+1], nodes[2*i+2])
	}

	return &Tree[T]{merge: merge, nodes: nodes}
}

// BuildRoot computes the root of a leaf list without retaining the tree.
// Returns false for an empty leaf list.
func BuildRoot[T any](merge Merge[T], leaves []T) (T, bool) {
	return NewTree(merge, leaves).Root()
}

// Root returns the tree root, or false for an empty tree
func (t *Tree[T]) Root() (T, bool) {
	if len(t.nodes) == 0 {
		var zero T
		return zero, false
	}
	return t.nodes[0], true
}

// LeavesCount returns the number of leaves
func (t *Tree[T]) LeavesCount() int {
	if len(t.nodes) == 0 {
		return 0
	}
	return (len(t.nodes) >> 1) + 1
}

// Nodes exposes the backing array: root first, leaves in the tail
func (t *Tree[T]) Nodes() []T {
	return t.nodes
}
