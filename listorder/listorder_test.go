package listorder_test

import (
	"testing"

	"github.com/lattice-sh/doccrdt/listorder"
	"github.com/lattice-sh/doccrdt/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(tr *listorder.Tree) []string {
	var out []string
	cur := wire.HeadElem
	for {
		next, ok := tr.GetNext(cur)
		if !ok {
			break
		}
		out = append(out, next)
		cur = next
	}
	return out
}

func TestSequentialInsertsAfterEachOther(t *testing.T) {
	tr := listorder.New()
	tr, a, err := tr.Insert(wire.HeadElem, "x", 1)
	require.NoError(t, err)
	tr, b, err := tr.Insert(a, "x", 2)
	require.NoError(t, err)
	tr, c, err := tr.Insert(b, "x", 3)
	require.NoError(t, err)

	assert.Equal(t, []string{a, b, c}, collect(tr))
}

func TestConcurrentInsertsOrderByElemThenActorDescending(t *testing.T) {
	tr := listorder.New()
	tr, _, err := tr.Insert(wire.HeadElem, "x", 1)
	require.NoError(t, err)
	// Two concurrent inserts after the head: elem 3 should precede elem 1,
	// and among equal elems the higher actor id goes first.
	tr, hi, err := tr.Insert(wire.HeadElem, "bob", 3)
	require.NoError(t, err)
	tr, lo, err := tr.Insert(wire.HeadElem, "alice", 3)
	require.NoError(t, err)

	order := collect(tr)
	require.Len(t, order, 3)
	assert.Equal(t, hi, order[0])
	assert.Equal(t, lo, order[1])
}

func TestInsertDuplicateElem(t *testing.T) {
	tr := listorder.New()
	tr, _, err := tr.Insert(wire.HeadElem, "x", 1)
	require.NoError(t, err)
	_, _, err = tr.Insert(wire.HeadElem, "x", 1)
	assert.ErrorIs(t, err, listorder.ErrDuplicateElem)
}

func TestInsertUnknownParent(t *testing.T) {
	tr := listorder.New()
	_, _, err := tr.Insert("nope", "x", 1)
	assert.ErrorIs(t, err, listorder.ErrUnknownPred)
}

func TestGetPreviousAtHead(t *testing.T) {
	tr := listorder.New()
	tr, a, err := tr.Insert(wire.HeadElem, "x", 1)
	require.NoError(t, err)
	_, ok := tr.GetPrevious(a)
	assert.False(t, ok, "the element right after the head has no previous element")
}

func TestGetPreviousReturnsParentOfFirstChild(t *testing.T) {
	tr := listorder.New()
	tr, a, err := tr.Insert(wire.HeadElem, "x", 1)
	require.NoError(t, err)
	tr, b, err := tr.Insert(a, "x", 2)
	require.NoError(t, err)
	tr, c, err := tr.Insert(wire.HeadElem, "x", 3)
	require.NoError(t, err)

	// Weave order is c, a, b. c is the head's first child, so it has no
	// previous element; b is a's first (and only) child, so its previous
	// is its parent a.
	prev, ok := tr.GetPrevious(b)
	require.True(t, ok)
	assert.Equal(t, a, prev)
	_, ok = tr.GetPrevious(c)
	assert.False(t, ok)
}

func TestMaxElem(t *testing.T) {
	tr := listorder.New()
	assert.Equal(t, 0, tr.MaxElem())
	tr, _, err := tr.Insert(wire.HeadElem, "x", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, tr.MaxElem())
}

func TestElemID(t *testing.T) {
	assert.Equal(t, "actor1:4", listorder.ElemID("actor1", 4))
}
