// Package tree builds the deterministic binary spanning tree over
// ranks used by every collective (§4.10): parent(r) = (r-1)/2,
// children(r) = {2r+1, 2r+2}. Groups (arbitrary subsets of ranks, and
// rooted epochs whose "root" need not be rank 0) get their own tree by
// applying the same formula to a rotated/relabeled rank list.
//
// Grounded on original_source/src/vt/collective/tree/tree.h.
package tree

import "github.com/amt-rt/vt/node"

// Tree is a binary spanning tree over a fixed, ordered list of ranks
// with ranks[0] always acting as the logical root.
type Tree struct {
	ranks []node.T // ranks[0] is the root
	index map[node.T]int
}

// New builds the default whole-world tree rooted at rank 0.
func New(nRanks int) *Tree {
	ranks := make([]node.T, nRanks)
	for i := range ranks {
		ranks[i] = node.T(i)
	}
	return build(ranks)
}

// NewRootedAt builds the same binary-tree shape but relabels so that
// root is the logical rank 0 (§4.11 "rooted epochs run the same
// algorithm against the group's default tree rooted at R").
func NewRootedAt(nRanks int, root node.T) *Tree {
	ranks := make([]node.T, nRanks)
	for i := 0; i < nRanks; i++ {
		ranks[i] = node.T((int(root) + i) % nRanks)
	}
	return build(ranks)
}

// NewGroup builds a tree over an arbitrary (sorted) subset of ranks,
// the first of which is the group's root.
func NewGroup(members []node.T) *Tree {
	cp := append([]node.T(nil), members...)
	return build(cp)
}

func build(ranks []node.T) *Tree {
	idx := make(map[node.T]int, len(ranks))
	for i, r := range ranks {
		idx[r] = i
	}
	return &Tree{ranks: ranks, index: idx}
}

func (t *Tree) Root() node.T { return t.ranks[0] }

func (t *Tree) IsRoot(self node.T) bool { return t.index[self] == 0 }

// Parent returns node.Uninitialized for the root.
func (t *Tree) Parent(self node.T) node.T {
	i, ok := t.index[self]
	if !ok || i == 0 {
		return node.Uninitialized
	}
	return t.ranks[(i-1)/2]
}

// Children returns self's children in deterministic (left, right) order.
func (t *Tree) Children(self node.T) []node.T {
	i, ok := t.index[self]
	if !ok {
		return nil
	}
	var out []node.T
	for _, c := range []int{2*i + 1, 2*i + 2} {
		if c < len(t.ranks) {
			out = append(out, t.ranks[c])
		}
	}
	return out
}

// ForEachChild iterates self's children in deterministic order (§4.10).
func (t *Tree) ForEachChild(self node.T, op func(node.T)) {
	for _, c := range t.Children(self) {
		op(c)
	}
}

func (t *Tree) NumRanks() int { return len(t.ranks) }

// Members returns the tree's rank list (ranks[0] is the root).
func (t *Tree) Members() []node.T { return t.ranks }

// IsLeaf reports whether self has no children in this tree.
func (t *Tree) IsLeaf(self node.T) bool { return len(t.Children(self)) == 0 }
