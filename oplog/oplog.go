// Package oplog is the per-actor append-only change log and its derived
// indices (spec component B). It also validates a Change's wire shape
// before it is allowed anywhere near the causal queue.
package oplog

import (
	"errors"
	"fmt"
	"sort"

	"github.com/lattice-sh/doccrdt/clock"
	"github.com/lattice-sh/doccrdt/wire"
)

// Errors returned by Log operations, one sentinel per failure kind,
// following the teacher's one-var-per-failure style.
var (
	ErrInvalidRequest   = errors.New("oplog: invalid request")
	ErrInconsistentReuse = errors.New("oplog: seq reused with different content")
	ErrDivergedClocks   = errors.New("oplog: old clock is not a subset of new clock")
)

// Entry is a stored change plus its transitive dependency clock: the
// union of the deps of every change reachable from it.
type Entry struct {
	Change  wire.Change
	AllDeps clock.Clock
}

// Log is the append-only, per-actor change history.
type Log struct {
	byActor map[string][]Entry
}

// New returns an empty operation log.
func New() *Log {
	return &Log{byActor: make(map[string][]Entry)}
}

// ValidateChange checks the wire-format constraints of a Change's shape
// before it is queued: a non-empty actor, seq >= 1, and op shapes that
// match their action.
func ValidateChange(c wire.Change) error {
	if c.Actor == "" {
		return fmt.Errorf("%w: empty actor", ErrInvalidRequest)
	}
	if c.Seq < 1 {
		return fmt.Errorf("%w: seq %d < 1", ErrInvalidRequest, c.Seq)
	}
	for _, op := range c.Ops {
		if err := validateOp(op); err != nil {
			return err
		}
	}
	return nil
}

func validateOp(op wire.Op) error {
	switch op.Action {
	case wire.MakeMap, wire.MakeTable, wire.MakeList, wire.MakeText:
		if op.Obj == "" {
			return fmt.Errorf("%w: %s op missing obj", ErrInvalidRequest, op.Action)
		}
	case wire.Ins:
		if op.Obj == "" || op.Key == "" {
			return fmt.Errorf("%w: ins op missing obj/key", ErrInvalidRequest)
		}
		if op.Elem < 1 {
			return fmt.Errorf("%w: ins op elem %d < 1", ErrInvalidRequest, op.Elem)
		}
	case wire.Set, wire.Del, wire.Link:
		if op.Obj == "" || op.Key == "" {
			return fmt.Errorf("%w: %s op missing obj/key", ErrInvalidRequest, op.Action)
		}
		if op.Datatype != "" && op.Datatype != wire.TimestampDatatype {
			return fmt.Errorf("%w: unknown datatype %q", ErrInvalidRequest, op.Datatype)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, op.Action)
	}
	return nil
}

// Clone returns a deep copy of l, safe to mutate independently.
func (l *Log) Clone() *Log {
	byActor := make(map[string][]Entry, len(l.byActor))
	for actor, entries := range l.byActor {
		byActor[actor] = append([]Entry(nil), entries...)
	}
	return &Log{byActor: byActor}
}

// Has reports whether (actor, seq) is already recorded.
func (l *Log) Has(actor string, seq int) bool {
	entries := l.byActor[actor]
	return seq >= 1 && seq <= len(entries)
}

// Get returns the stored entry at (actor, seq), if any.
func (l *Log) Get(actor string, seq int) (Entry, bool) {
	entries := l.byActor[actor]
	if seq < 1 || seq > len(entries) {
		return Entry{}, false
	}
	return entries[seq-1], true
}

// Append records a change as the next entry for its actor. It fails
// with ErrInconsistentReuse if (actor, seq) was already recorded with
// different content, and otherwise is a no-op on an exact repeat
// (idempotent re-delivery of the same change).
//
// allDeps is the transitive dependency clock to associate with this
// change: the union of c.Deps with the allDeps of every change c
// depends on, which the caller (the backend) computes since only it
// walks the dependency graph across actors.
func (l *Log) Append(c wire.Change, allDeps clock.Clock) error {
	entries := l.byActor[c.Actor]
	if c.Seq >= 1 && c.Seq <= len(entries) {
		existing := entries[c.Seq-1].Change
		if !changeEqual(existing, c) {
			return fmt.Errorf("%w: actor %s seq %d", ErrInconsistentReuse, c.Actor, c.Seq)
		}
		return nil
	}
	if c.Seq != len(entries)+1 {
		return fmt.Errorf("%w: actor %s seq %d out of order (have %d)", ErrInvalidRequest, c.Actor, c.Seq, len(entries))
	}
	l.byActor[c.Actor] = append(entries, Entry{Change: c, AllDeps: allDeps})
	return nil
}

func changeEqual(a, b wire.Change) bool {
	if a.Actor != b.Actor || a.Seq != b.Seq || a.Message != b.Message {
		return false
	}
	if len(a.Ops) != len(b.Ops) {
		return false
	}
	for i := range a.Ops {
		if a.Ops[i] != b.Ops[i] {
			return false
		}
	}
	return a.Deps.Equal(b.Deps)
}

// GetMissingChanges returns every stored change with seq greater than
// haveClock's entry for its actor, ordered by actor then by seq.
func (l *Log) GetMissingChanges(haveClock clock.Clock) []wire.Change {
	actors := make([]string, 0, len(l.byActor))
	for actor := range l.byActor {
		actors = append(actors, actor)
	}
	sort.Strings(actors)

	var missing []wire.Change
	for _, actor := range actors {
		have := haveClock.Get(actor)
		for _, entry := range l.byActor[actor] {
			if entry.Change.Seq > have {
				missing = append(missing, entry.Change)
			}
		}
	}
	return missing
}

// GetChangesForActor returns every change from actor with seq >
// afterSeq, in seq order.
func (l *Log) GetChangesForActor(actor string, afterSeq int) []wire.Change {
	var out []wire.Change
	for _, entry := range l.byActor[actor] {
		if entry.Change.Seq > afterSeq {
			out = append(out, entry.Change)
		}
	}
	return out
}

// Clock returns the current per-actor sequence clock implied by what
// has been appended so far.
func (l *Log) Clock() clock.Clock {
	c := clock.New()
	for actor, entries := range l.byActor {
		if len(entries) > 0 {
			c = c.With(actor, entries[len(entries)-1].Change.Seq)
		}
	}
	return c
}

// GetChanges returns every change present in newLog but not in old,
// per their clocks, ordered by actor then seq. It fails with
// ErrDivergedClocks if old is not a subset of new: a replica can only
// ask for the delta since a clock it has actually observed.
func GetChanges(old, new *Log) ([]wire.Change, error) {
	oldClock, newClock := old.Clock(), new.Clock()
	if !oldClock.LessEq(newClock) {
		return nil, ErrDivergedClocks
	}
	return new.GetMissingChanges(oldClock), nil
}
