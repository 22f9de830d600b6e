// Package backend wires the causal queue, operation log, object
// store, and undo stacks into the embedder-facing Engine: the only
// type most callers of this module need to touch.
//
// Engine follows the teacher's CausalTree value contract literally:
// every method takes an Engine by value and returns a new one: never
// a pointer the caller must avoid mutating, and never a receiver
// mutated in place.
package backend

import (
	"errors"
	"fmt"

	"github.com/lattice-sh/doccrdt/clock"
	"github.com/lattice-sh/doccrdt/objstore"
	"github.com/lattice-sh/doccrdt/oplog"
	"github.com/lattice-sh/doccrdt/patch"
	"github.com/lattice-sh/doccrdt/undo"
	"github.com/lattice-sh/doccrdt/wire"
)

// ErrNotReady is returned by ApplyLocalChange and Undo/Redo when the
// change they were handed is not the actor's own immediate next
// change: a locally-authored change must always be causally ready by
// construction, so this indicates a caller bug, not a network race.
var ErrNotReady = errors.New("backend: local change is not causally ready")

// Engine is the whole backend: the causal clock and queue (component
// A), the operation log (B), the object store (C, D, E, F), and the
// undo/redo stacks (H). The zero value is not usable; use Init.
type Engine struct {
	Actor string

	Clock clock.Clock
	Queue clock.Queue

	Log   *oplog.Log
	Store *objstore.Store

	Stacks undo.Stacks
}

// Init returns an empty engine authored by actor.
func Init(actor string) Engine {
	return Engine{
		Actor: actor,
		Clock: clock.New(), Queue: clock.NewQueue(),
		Log: oplog.New(), Store: objstore.New(),
		Stacks: undo.New(),
	}
}

// computeAllDeps returns the transitive closure of deps: deps itself,
// merged with the allDeps already recorded for each change deps
// points at. Callers pass a change's deps with its own actor's
// previous seq added, since a Change's deps never list its own actor.
func computeAllDeps(log *oplog.Log, deps clock.Clock) clock.Clock {
	all := deps.Clone()
	for actor, seq := range deps {
		if entry, ok := log.Get(actor, seq); ok {
			all = all.Merge(entry.AllDeps)
		}
	}
	return all
}

// applyChangeOps runs one change's ops against store in order,
// returning the resulting store and the diffs they emitted. When
// undoLocal is non-nil, the inverse of every assignment op is
// prepended to it, skipping ops on objects the same change created
// (there is nothing meaningful to restore there).
func applyChangeOps(store *objstore.Store, change wire.Change, allDeps clock.Clock, undoLocal *[]wire.Op) (*objstore.Store, []wire.Diff, error) {
	createdThisChange := map[string]bool{}
	var diffs []wire.Diff
	cur := store
	for _, op := range change.Ops {
		switch op.Action {
		case wire.MakeMap, wire.MakeTable, wire.MakeList, wire.MakeText:
			next, d, err := cur.ApplyMake(op, change.Actor, change.Seq)
			if err != nil {
				return store, nil, err
			}
			cur = next
			createdThisChange[op.Obj] = true
			diffs = append(diffs, d)

		case wire.Ins:
			next, _, err := cur.ApplyInsert(op, change.Actor)
			if err != nil {
				return store, nil, err
			}
			cur = next

		case wire.Set, wire.Del, wire.Link:
			next, result, err := cur.ApplyAssign(op, change.Actor, change.Seq, allDeps)
			if err != nil {
				return store, nil, err
			}
			cur = next
			diffs = append(diffs, result.Diffs...)
			if undoLocal != nil && !createdThisChange[op.Obj] {
				inverse := undo.InverseOps(undo.FieldSnapshot{Obj: op.Obj, Key: op.Key, PrevOps: result.PrevOps})
				*undoLocal = append(append([]wire.Op{}, inverse...), *undoLocal...)
			}

		default:
			return store, nil, fmt.Errorf("backend: unknown action %q", op.Action)
		}
	}
	return cur, diffs, nil
}

// ApplyChanges delivers one or more changes — typically received from
// a peer — into the causal queue and drains everything that becomes
// ready as a result. Changes not yet causally ready are retained and
// tried again on the next call.
func (e Engine) ApplyChanges(changes []wire.Change) (Engine, wire.Patch, error) {
	for _, c := range changes {
		if err := oplog.ValidateChange(c); err != nil {
			return e, wire.Patch{}, err
		}
	}

	log := e.Log.Clone()
	store := e.Store
	builder := patch.NewBuilder()
	queue := e.Queue
	for _, c := range changes {
		queue = queue.Enqueue(clock.Entry{Actor: c.Actor, Seq: c.Seq, Deps: c.Deps, Payload: c})
	}

	var applyErr error
	apply := func(entry clock.Entry) clock.Clock {
		c := entry.Payload.(wire.Change)
		allDeps := computeAllDeps(log, c.Deps.With(c.Actor, c.Seq-1))
		newStore, diffs, err := applyChangeOps(store, c, allDeps, nil)
		if err != nil {
			applyErr = err
			return e.Clock
		}
		if err := log.Append(c, allDeps); err != nil {
			applyErr = err
			return e.Clock
		}
		store = newStore
		builder.Add(diffs...)
		return log.Clock()
	}

	_, remaining, finalClock := queue.Drain(e.Clock, apply)
	if applyErr != nil {
		return e, wire.Patch{}, applyErr
	}

	next := Engine{
		Actor: e.Actor, Clock: finalClock, Queue: remaining,
		Log: log, Store: store, Stacks: e.Stacks,
	}
	p := builder.Build(finalClock, finalClock, next.Stacks.CanUndo(), next.Stacks.CanRedo())
	return next, p, nil
}

// applyOpsDirect applies one already-causally-ready change outside
// the queue: the common path for a locally authored change and for
// replaying an undo/redo entry, both of which are always immediately
// ready by construction. It returns the new engine, the resulting
// patch (with CanUndo/CanRedo left for the caller to set), and the
// inverse ops captured for whichever stack the caller pushes them to.
func (e Engine) applyOpsDirect(actor string, seq int, deps clock.Clock, message string, ops []wire.Op) (Engine, wire.Patch, []wire.Op, error) {
	change := wire.Change{Actor: actor, Seq: seq, Deps: deps, Message: message, Ops: ops}
	if err := oplog.ValidateChange(change); err != nil {
		return e, wire.Patch{}, nil, err
	}
	if !e.Clock.Ready(actor, seq, deps) {
		return e, wire.Patch{}, nil, fmt.Errorf("%w: actor %s seq %d", ErrNotReady, actor, seq)
	}

	log := e.Log.Clone()
	allDeps := computeAllDeps(log, deps.With(actor, seq-1))
	var captured []wire.Op
	newStore, diffs, err := applyChangeOps(e.Store, change, allDeps, &captured)
	if err != nil {
		return e, wire.Patch{}, nil, err
	}
	if err := log.Append(change, allDeps); err != nil {
		return e, wire.Patch{}, nil, err
	}

	newClock := e.Clock.With(actor, seq)
	next := Engine{Actor: e.Actor, Clock: newClock, Queue: e.Queue, Log: log, Store: newStore, Stacks: e.Stacks}
	b := patch.NewBuilder()
	b.Add(diffs...)
	return next, b.Build(newClock, newClock, false, false), captured, nil
}

// ApplyLocalChange applies one change authored by this engine's own
// actor, capturing its inverse onto the undo stack.
func (e Engine) ApplyLocalChange(change wire.Change) (Engine, wire.Patch, error) {
	next, p, captured, err := e.applyOpsDirect(change.Actor, change.Seq, change.Deps, change.Message, change.Ops)
	if err != nil {
		return e, wire.Patch{}, err
	}
	stacks := e.Stacks
	if len(captured) > 0 {
		stacks = stacks.Push(undo.Entry{Ops: captured})
	}
	next.Stacks = stacks
	p.CanUndo, p.CanRedo = stacks.CanUndo(), stacks.CanRedo()
	return next, p, nil
}

// Undo replays the most recently pushed undo entry as a new local
// change, and records its inverse onto the redo stack.
func (e Engine) Undo() (Engine, wire.Patch, error) {
	ops, stacks, err := e.Stacks.Undo()
	if err != nil {
		return e, wire.Patch{}, err
	}
	seq := e.Clock.Get(e.Actor) + 1
	next, p, captured, err := e.applyOpsDirect(e.Actor, seq, e.Clock.Without(e.Actor), "undo", ops)
	if err != nil {
		return e, wire.Patch{}, err
	}
	stacks = stacks.PushRedo(undo.Entry{Ops: captured})
	next.Stacks = stacks
	p.CanUndo, p.CanRedo = stacks.CanUndo(), stacks.CanRedo()
	return next, p, nil
}

// Redo replays the most recently undone entry as a new local change.
func (e Engine) Redo() (Engine, wire.Patch, error) {
	ops, stacks, err := e.Stacks.Redo()
	if err != nil {
		return e, wire.Patch{}, err
	}
	seq := e.Clock.Get(e.Actor) + 1
	next, p, _, err := e.applyOpsDirect(e.Actor, seq, e.Clock.Without(e.Actor), "redo", ops)
	if err != nil {
		return e, wire.Patch{}, err
	}
	next.Stacks = stacks
	p.CanUndo, p.CanRedo = stacks.CanUndo(), stacks.CanRedo()
	return next, p, nil
}

// GetPatch returns the full depth-first materialization of the
// current document, for a new replica with no prior state to diff
// against.
func (e Engine) GetPatch() wire.Patch {
	return wire.Patch{
		Clock: e.Clock, Deps: e.Clock,
		CanUndo: e.Stacks.CanUndo(), CanRedo: e.Stacks.CanRedo(),
		Diffs: patch.FullMaterialize(e.Store),
	}
}

// GetPath resolves one arbitrary root-to-object path for objID, or
// nil if it is unreachable.
func (e Engine) GetPath(objID string) []interface{} {
	return patch.GetPath(e.Store, objID)
}

// GetChanges returns every change this engine has recorded that other
// does not, ordered by actor then seq. Fails with
// oplog.ErrDivergedClocks if other has seen something this engine has
// not: a replica can only ask for the delta since a clock it actually
// observed.
func (e Engine) GetChanges(other Engine) ([]wire.Change, error) {
	return oplog.GetChanges(other.Log, e.Log)
}

// GetChangesForActor returns actor's changes with seq > afterSeq.
func (e Engine) GetChangesForActor(actor string, afterSeq int) []wire.Change {
	return e.Log.GetChangesForActor(actor, afterSeq)
}

// GetMissingChanges returns every change this engine has recorded
// that haveClock does not yet reflect.
func (e Engine) GetMissingChanges(haveClock clock.Clock) []wire.Change {
	return e.Log.GetMissingChanges(haveClock)
}

// GetMissingDeps returns, per actor, the furthest dependency this
// engine's causal queue is still waiting on.
func (e Engine) GetMissingDeps() clock.Clock {
	return e.Queue.MissingDeps(e.Clock)
}

// Merge absorbs every change other has recorded that e does not, and
// drains the result.
func (e Engine) Merge(other Engine) (Engine, wire.Patch, error) {
	missing, err := oplog.GetChanges(e.Log, other.Log)
	if err != nil {
		return e, wire.Patch{}, err
	}
	if len(missing) == 0 {
		return e, wire.Patch{Clock: e.Clock, Deps: e.Clock, CanUndo: e.Stacks.CanUndo(), CanRedo: e.Stacks.CanRedo()}, nil
	}
	return e.ApplyChanges(missing)
}
