package clock_test

import (
	"testing"

	"github.com/lattice-sh/doccrdt/clock"
	"github.com/stretchr/testify/assert"
)

func TestWithTakesMax(t *testing.T) {
	c := clock.New().With("a", 3)
	c = c.With("a", 1) // lower value never wins
	assert.Equal(t, 3, c.Get("a"))
	c = c.With("a", 5)
	assert.Equal(t, 5, c.Get("a"))
}

func TestWithout(t *testing.T) {
	c := clock.New().With("a", 1).With("b", 2)
	got := c.Without("a")
	assert.Equal(t, 0, got.Get("a"))
	assert.Equal(t, 2, got.Get("b"))
	// c itself is untouched.
	assert.Equal(t, 1, c.Get("a"))
}

func TestLessEq(t *testing.T) {
	c1 := clock.New().With("a", 1).With("b", 2)
	c2 := clock.New().With("a", 1).With("b", 3).With("c", 1)
	assert.True(t, c1.LessEq(c2))
	assert.False(t, c2.LessEq(c1))
	assert.True(t, c1.LessEq(c1))
}

func TestEqual(t *testing.T) {
	c1 := clock.New().With("a", 1)
	c2 := clock.New().With("a", 1)
	c3 := clock.New().With("a", 2)
	assert.True(t, c1.Equal(c2))
	assert.False(t, c1.Equal(c3))
}

func TestMerge(t *testing.T) {
	c1 := clock.New().With("a", 3).With("b", 1)
	c2 := clock.New().With("a", 1).With("c", 5)
	got := c1.Merge(c2)
	assert.Equal(t, 3, got.Get("a"))
	assert.Equal(t, 1, got.Get("b"))
	assert.Equal(t, 5, got.Get("c"))
}

func TestReady(t *testing.T) {
	c := clock.New().With("a", 2)
	assert.True(t, c.Ready("a", 3, clock.New()))
	assert.False(t, c.Ready("a", 4, clock.New()), "seq must be the immediate successor")
	assert.False(t, c.Ready("a", 3, clock.New().With("b", 1)), "unmet dependency")
	assert.True(t, c.Ready("b", 1, clock.New().With("a", 2)))
}

func TestCloneIsIndependent(t *testing.T) {
	c1 := clock.New().With("a", 1)
	c2 := c1.Clone()
	c2 = c2.With("a", 2)
	assert.Equal(t, 1, c1.Get("a"))
	assert.Equal(t, 2, c2.Get("a"))
}
