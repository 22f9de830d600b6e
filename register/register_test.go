package register_test

import (
	"sort"
	"testing"

	"github.com/lattice-sh/doccrdt/clock"
	"github.com/lattice-sh/doccrdt/register"
	"github.com/lattice-sh/doccrdt/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func set(actor string, seq int, deps clock.Clock, value interface{}) register.FieldOp {
	return register.FieldOp{Actor: actor, Seq: seq, AllDeps: deps, Action: wire.Set, Value: value}
}

func TestSequentialWritesOverwrite(t *testing.T) {
	r := register.New()
	r, result, err := r.Apply(set("a", 1, clock.New(), "x"))
	require.NoError(t, err)
	require.True(t, result.HasWinner)
	assert.Equal(t, "x", result.Winner.Value)

	// b's write observed a's, so it overwrites it outright.
	_, result, err = r.Apply(set("b", 1, clock.New().With("a", 1), "y"))
	require.NoError(t, err)
	assert.Equal(t, "y", result.Winner.Value)
	assert.Empty(t, result.Conflicts)
	require.Len(t, result.Overwritten, 1)
	assert.Equal(t, "a", result.Overwritten[0].Actor)
}

func TestConcurrentWritesConflictActorDescendingWins(t *testing.T) {
	r := register.New()
	r, _, err := r.Apply(set("alice", 1, clock.New(), "x"))
	require.NoError(t, err)
	r, result, err := r.Apply(set("bob", 1, clock.New(), "y")) // concurrent: neither saw the other
	require.NoError(t, err)

	require.True(t, result.HasWinner)
	assert.Equal(t, "bob", result.Winner.Actor, "higher actor id wins ties")
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "alice", result.Conflicts[0].Actor)
	assert.Empty(t, result.Overwritten)
	assert.Len(t, r.Ops(), 2)
}

func TestDelRemovesWinnerWithoutConflicts(t *testing.T) {
	r := register.New()
	r, _, err := r.Apply(set("a", 1, clock.New(), "x"))
	require.NoError(t, err)
	_, result, err := r.Apply(register.FieldOp{Actor: "a", Seq: 2, AllDeps: clock.New().With("a", 1), Action: wire.Del})
	require.NoError(t, err)
	assert.False(t, result.HasWinner)
	require.Len(t, result.Overwritten, 1)
}

func TestDelLeavesConcurrentWinnerInPlace(t *testing.T) {
	r := register.New()
	r, _, err := r.Apply(set("alice", 1, clock.New(), "x"))
	require.NoError(t, err)
	_, result, err := r.Apply(register.FieldOp{Actor: "bob", Seq: 1, AllDeps: clock.New(), Action: wire.Del})
	require.NoError(t, err)
	require.True(t, result.HasWinner, "alice's write is concurrent with bob's del, so it survives")
	assert.Equal(t, "alice", result.Winner.Actor)
}

func TestApplyRejectsUnknownDatatype(t *testing.T) {
	r := register.New()
	_, _, err := r.Apply(register.FieldOp{Actor: "a", Seq: 1, Action: wire.Set, Datatype: "bogus"})
	assert.ErrorIs(t, err, register.ErrUnknownDatatype)
}

func TestEmptyRegisterIsEmpty(t *testing.T) {
	r := register.New()
	assert.True(t, r.Empty())
	r, _, err := r.Apply(set("a", 1, clock.New(), "x"))
	require.NoError(t, err)
	assert.False(t, r.Empty())
}

func TestNilRegisterBehavesEmpty(t *testing.T) {
	var r *register.Register
	assert.True(t, r.Empty())
	assert.Empty(t, r.Ops())
}

// TestFieldWinnerDeterminism checks that among a set of writes none of
// which has observed any other (mutually concurrent), the winner is
// always the lexicographically-greatest actor's op, regardless of the
// order the writes were applied in.
func TestFieldWinnerDeterminism(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		actors := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{1,6}`), 2, 6, func(s string) string { return s }).Draw(t, "actors")

		r := register.New()
		var result register.Result
		for _, actor := range actors {
			var err error
			var res register.Result
			r, res, err = r.Apply(set(actor, 1, clock.New(), actor))
			require.NoError(t, err)
			result = res
		}

		want := append([]string{}, actors...)
		sort.Sort(sort.Reverse(sort.StringSlice(want)))

		require.True(t, result.HasWinner)
		if result.Winner.Actor != want[0] {
			t.Fatalf("winner = %q, want lexicographically-greatest actor %q among %v", result.Winner.Actor, want[0], actors)
		}
	})
}
