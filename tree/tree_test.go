package tree_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/amt-rt/vt/node"
	"github.com/amt-rt/vt/tree"
)

func TestDefaultTreeShape(t *testing.T) {
	tr := tree.New(7)
	assert.Equal(t, node.T(0), tr.Root())
	assert.Equal(t, []node.T{1, 2}, tr.Children(0))
	assert.Equal(t, []node.T{3, 4}, tr.Children(1))
	assert.Equal(t, []node.T{5, 6}, tr.Children(2))
	assert.Equal(t, node.T(0), tr.Parent(1))
	assert.Equal(t, node.T(0), tr.Parent(2))
	assert.Equal(t, node.T(1), tr.Parent(3))
	assert.Equal(t, node.Uninitialized, tr.Parent(0))
	assert.True(t, tr.IsLeaf(3))
	assert.False(t, tr.IsLeaf(0))
}

func TestRootedAtRelabels(t *testing.T) {
	tr := tree.NewRootedAt(4, 2)
	assert.Equal(t, node.T(2), tr.Root())
	assert.True(t, tr.IsRoot(2))
	// relabeled order: 2,3,0,1 -> children of rank 2 (index 0) are index1,2 -> ranks 3,0
	assert.ElementsMatch(t, []node.T{3, 0}, tr.Children(2))
}

func TestGroupTree(t *testing.T) {
	tr := tree.NewGroup([]node.T{5, 1, 9})
	assert.Equal(t, node.T(5), tr.Root())
	assert.Equal(t, []node.T{1, 9}, tr.Children(5))
}
