package frontend_test

import (
	"testing"

	"github.com/lattice-sh/doccrdt/frontend"
	"github.com/lattice-sh/doccrdt/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCacheHasRoot(t *testing.T) {
	c := frontend.NewCache()
	root, ok := c.Nodes[wire.RootID]
	require.True(t, ok)
	assert.Equal(t, wire.MapType, root.Type)
}

func TestApplySetOnRoot(t *testing.T) {
	c := frontend.NewCache()
	c, err := c.Apply([]wire.Diff{
		{Action: wire.SetDiff, Type: wire.MapType, Obj: wire.RootID, Key: "title", Value: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", c.Nodes[wire.RootID].Fields["title"].Scalar)
}

func TestApplyCreateThenLinkResolvesChild(t *testing.T) {
	c := frontend.NewCache()
	c, err := c.Apply([]wire.Diff{
		{Action: wire.CreateDiff, Type: wire.MapType, Obj: "m1"},
		{Action: wire.SetDiff, Type: wire.MapType, Obj: wire.RootID, Key: "child", Value: "m1", Link: true},
	})
	require.NoError(t, err)
	v := c.Nodes[wire.RootID].Fields["child"]
	require.NotNil(t, v.Child)
	assert.Equal(t, "m1", v.Child.ObjID)
}

func TestApplyInsertAndSetOnList(t *testing.T) {
	c := frontend.NewCache()
	c, err := c.Apply([]wire.Diff{
		{Action: wire.CreateDiff, Type: wire.TextType, Obj: "t1"},
		{Action: wire.SetDiff, Type: wire.MapType, Obj: wire.RootID, Key: "text", Value: "t1", Link: true},
		{Action: wire.InsertDiff, Type: wire.TextType, Obj: "t1", Index: 0, ElemID: "a:1", Value: "h"},
		{Action: wire.InsertDiff, Type: wire.TextType, Obj: "t1", Index: 1, ElemID: "a:2", Value: "i"},
	})
	require.NoError(t, err)

	text := c.Nodes[wire.RootID].Fields["text"].Child
	require.NotNil(t, text)
	require.Len(t, text.Elems, 2)
	assert.Equal(t, "h", text.Elems[0].Scalar)
	assert.Equal(t, "i", text.Elems[1].Scalar)
}

func TestApplyRemoveListElement(t *testing.T) {
	c := frontend.NewCache()
	c, err := c.Apply([]wire.Diff{
		{Action: wire.CreateDiff, Type: wire.TextType, Obj: "t1"},
		{Action: wire.InsertDiff, Type: wire.TextType, Obj: "t1", Index: 0, ElemID: "a:1", Value: "h"},
		{Action: wire.RemoveDiff, Type: wire.TextType, Obj: "t1", ElemID: "a:1"},
	})
	require.NoError(t, err)
	assert.Empty(t, c.Nodes["t1"].Elems)
}

func TestApplyPropagatesChangedChildUpward(t *testing.T) {
	c := frontend.NewCache()
	c, err := c.Apply([]wire.Diff{
		{Action: wire.CreateDiff, Type: wire.MapType, Obj: "m1"},
		{Action: wire.SetDiff, Type: wire.MapType, Obj: wire.RootID, Key: "child", Value: "m1", Link: true},
	})
	require.NoError(t, err)
	before := c.Nodes[wire.RootID]

	c, err = c.Apply([]wire.Diff{
		{Action: wire.SetDiff, Type: wire.MapType, Obj: "m1", Key: "k", Value: "v"},
	})
	require.NoError(t, err)
	after := c.Nodes[wire.RootID]

	assert.NotSame(t, before, after, "root must be re-cloned once its linked child changes")
	assert.Equal(t, "v", after.Fields["child"].Child.Fields["k"].Scalar)
}

func TestApplyRejectsMultipleParents(t *testing.T) {
	c := frontend.NewCache()
	c, err := c.Apply([]wire.Diff{
		{Action: wire.CreateDiff, Type: wire.MapType, Obj: "m1"},
		{Action: wire.SetDiff, Type: wire.MapType, Obj: wire.RootID, Key: "a", Value: "m1", Link: true},
		{Action: wire.CreateDiff, Type: wire.MapType, Obj: "m2"},
	})
	require.NoError(t, err)
	_, err = c.Apply([]wire.Diff{
		{Action: wire.SetDiff, Type: wire.MapType, Obj: "m2", Key: "b", Value: "m1", Link: true},
	})
	assert.ErrorIs(t, err, frontend.ErrMultipleParents)
}

func TestApplyErrorLeavesCacheUnchanged(t *testing.T) {
	c := frontend.NewCache()
	_, err := c.Apply([]wire.Diff{
		{Action: wire.SetDiff, Type: wire.MapType, Obj: "nope", Key: "k", Value: "v"},
	})
	assert.ErrorIs(t, err, frontend.ErrUnknownObject)
}
