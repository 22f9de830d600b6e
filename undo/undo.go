// Package undo implements the undo/redo stacks kept alongside a
// backend's apply state (spec component H): each undoable local
// change pushes the inverse of its ops, and undo/redo replay those
// inverses as ordinary ops through the same apply path.
//
// Grounded on the teacher's Fork/Merge value semantics: Stacks is an
// immutable value like everything else in this module, so undoing
// twice from the same snapshot is safe.
package undo

import (
	"errors"

	"github.com/lattice-sh/doccrdt/register"
	"github.com/lattice-sh/doccrdt/wire"
)

// Errors returned by Stacks operations.
var (
	ErrEmptyUndo = errors.New("undo: nothing to undo")
	ErrEmptyRedo = errors.New("undo: nothing to redo")
)

// Entry is the set of ops one undoable local change pushed onto the
// undo stack: the inverse of the ops it applied.
type Entry struct {
	Ops []wire.Op
}

// Stacks holds the undo/redo state for one document. The zero value
// is an empty Stacks.
type Stacks struct {
	undo []Entry
	pos  int
	redo []Entry
}

// New returns empty undo/redo stacks.
func New() Stacks {
	return Stacks{}
}

// CanUndo reports whether Undo has anything to apply.
func (s Stacks) CanUndo() bool { return s.pos > 0 }

// CanRedo reports whether Redo has anything to apply.
func (s Stacks) CanRedo() bool { return len(s.redo) > 0 }

// Push records entry as the next undoable change, truncating any
// later undo slots (a local edit after an undo discards the
// now-stale redo branch) and clearing the redo stack.
func (s Stacks) Push(entry Entry) Stacks {
	undo := append(append([]Entry{}, s.undo[:s.pos]...), entry)
	return Stacks{undo: undo, pos: s.pos + 1, redo: nil}
}

// Undo returns the ops of the most recently pushed undoable change,
// the stacks advanced past it, and a nil error — or ErrEmptyUndo if the undo
// stack is empty. The caller applies the returned ops, computes the
// inverse of what that application changed, and calls PushRedo with
// it before using the result elsewhere.
func (s Stacks) Undo() ([]wire.Op, Stacks, error) {
	if s.pos == 0 {
		return nil, s, ErrEmptyUndo
	}
	entry := s.undo[s.pos-1]
	return entry.Ops, Stacks{undo: s.undo, pos: s.pos - 1, redo: s.redo}, nil
}

// PushRedo appends entry to the redo stack after a successful Undo.
func (s Stacks) PushRedo(entry Entry) Stacks {
	redo := append(append([]Entry{}, s.redo...), entry)
	return Stacks{undo: s.undo, pos: s.pos, redo: redo}
}

// Redo returns the ops of the most recently undone change and the
// stacks advanced past it, or ErrEmptyRedo if the redo stack is empty.
// The undo stack itself is untouched: the slot Redo advances past
// still holds the original change it is restoring, ready for another
// Undo.
func (s Stacks) Redo() ([]wire.Op, Stacks, error) {
	if len(s.redo) == 0 {
		return nil, s, ErrEmptyRedo
	}
	last := len(s.redo) - 1
	entry := s.redo[last]
	return entry.Ops, Stacks{undo: s.undo, pos: s.pos + 1, redo: s.redo[:last]}, nil
}

// FieldSnapshot is one (obj, key) target's field-op set immediately
// before an assignment was applied, as handed back by
// objstore.Store.ApplyAssign's AssignResult.PrevOps, paired with its
// location so InverseOps can rebuild a set/del op for it.
type FieldSnapshot struct {
	Obj, Key string
	PrevOps  []register.FieldOp // the ops in effect before the assignment
}

// InverseOps synthesizes the op that undoes one assignment: if the
// field held no ops before, the inverse is a del; otherwise it is a
// set/link reproducing the op that was winning before, with its
// actor/seq stripped (an inverse op is replayed under the undoing
// actor's own identity). A field with several concurrent prior ops
// can only be restored to its former winner: one undo op carries one
// (actor, seq), so it cannot reinstate more than one prior writer at
// the same key.
func InverseOps(snap FieldSnapshot) []wire.Op {
	if len(snap.PrevOps) == 0 {
		return []wire.Op{{Action: wire.Del, Obj: snap.Obj, Key: snap.Key}}
	}
	winner := snap.PrevOps[0]
	return []wire.Op{{Action: winner.Action, Obj: snap.Obj, Key: snap.Key, Value: winner.Value, Datatype: winner.Datatype}}
}
