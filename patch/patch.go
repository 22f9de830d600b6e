// Package patch builds the wire.Patch an apply pass or a full
// materialization hands back to an embedder (spec component G): an
// ordered diff list plus the clock/deps/undo-availability envelope
// around it.
//
// Grounded on the teacher's weave-to-string rendering in rlist.go,
// generalized from "flatten one weave into a string" to "flatten a
// graph of objects into an ordered diff list", since a document here
// is a tree of objects rather than a single sequence.
package patch

import (
	"sort"

	"github.com/lattice-sh/doccrdt/clock"
	"github.com/lattice-sh/doccrdt/objstore"
	"github.com/lattice-sh/doccrdt/register"
	"github.com/lattice-sh/doccrdt/skiplist"
	"github.com/lattice-sh/doccrdt/wire"
)

// Builder accumulates diffs emitted during one apply pass.
type Builder struct {
	diffs []wire.Diff
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder { return &Builder{} }

// Add appends zero or more diffs, in emission order.
func (b *Builder) Add(diffs ...wire.Diff) {
	b.diffs = append(b.diffs, diffs...)
}

// Diffs returns the diffs accumulated so far, in emission order.
func (b *Builder) Diffs() []wire.Diff { return b.diffs }

// Build returns the Patch envelope with the accumulated diffs.
func (b *Builder) Build(clk, deps clock.Clock, canUndo, canRedo bool) wire.Patch {
	return wire.Patch{Clock: clk, Deps: deps, CanUndo: canUndo, CanRedo: canRedo, Diffs: b.diffs}
}

// FullMaterialize walks store depth-first from the root, emitting a
// create diff for every non-root object the first time it is reached,
// followed by a set diff per map/table key and an insert diff per
// visible list/text element, recursing into any object a link points
// at.
func FullMaterialize(store *objstore.Store) []wire.Diff {
	b := NewBuilder()
	visited := map[string]bool{wire.RootID: true}
	materializeObject(store, wire.RootID, b, visited)
	return b.diffs
}

func materializeObject(store *objstore.Store, id string, b *Builder, visited map[string]bool) {
	obj, ok := store.Get(id)
	if !ok {
		return
	}
	if objstore.IsListLike(obj.Type) {
		materializeList(store, obj, b, visited)
		return
	}
	materializeMap(store, obj, b, visited)
}

func materializeMap(store *objstore.Store, obj *objstore.Object, b *Builder, visited map[string]bool) {
	keys := make([]string, 0, len(obj.Fields))
	for k := range obj.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		reg := obj.Fields[key]
		ops := reg.Ops()
		if len(ops) == 0 {
			continue
		}
		sort.Slice(ops, func(i, j int) bool { return ops[i].Actor > ops[j].Actor })
		winner := ops[0]
		isLink := winner.Action == wire.Link
		d := wire.Diff{
			Action: wire.SetDiff, Type: obj.Type, Obj: obj.ID, Key: key,
			Value: winner.Value, Datatype: winner.Datatype, Link: isLink,
		}
		if len(ops) > 1 {
			d.Conflicts = conflictsFrom(ops[1:])
		}
		b.Add(d)
		if isLink {
			descendInto(store, winner.Value, b, visited)
		}
	}
}

func materializeList(store *objstore.Store, obj *objstore.Object, b *Builder, visited map[string]bool) {
	it := obj.ElemIDs.Iterator(skiplist.Entries)
	index := 0
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		entry := v.(skiplist.Entry)
		reg := obj.Fields[entry.Key]
		var value interface{}
		var isLink bool
		var datatype wire.Datatype
		var conflicts []wire.Conflict
		if reg != nil {
			ops := reg.Ops()
			sort.Slice(ops, func(i, j int) bool { return ops[i].Actor > ops[j].Actor })
			if len(ops) > 0 {
				value = ops[0].Value
				isLink = ops[0].Action == wire.Link
				datatype = ops[0].Datatype
				if len(ops) > 1 {
					conflicts = conflictsFrom(ops[1:])
				}
			}
		}
		d := wire.Diff{
			Action: wire.InsertDiff, Type: obj.Type, Obj: obj.ID,
			Index: index, ElemID: entry.Key,
			Value: value, Datatype: datatype, Link: isLink, Conflicts: conflicts,
		}
		b.Add(d)
		if isLink {
			descendInto(store, value, b, visited)
		}
		index++
	}
}

func conflictsFrom(ops []register.FieldOp) []wire.Conflict {
	out := make([]wire.Conflict, 0, len(ops))
	for _, op := range ops {
		out = append(out, wire.Conflict{Actor: op.Actor, Value: op.Value, Link: op.Action == wire.Link, Datatype: op.Datatype})
	}
	return out
}

func descendInto(store *objstore.Store, value interface{}, b *Builder, visited map[string]bool) {
	targetID, ok := value.(string)
	if !ok || visited[targetID] {
		return
	}
	target, ok := store.Get(targetID)
	if !ok {
		return
	}
	visited[targetID] = true
	b.Add(wire.Diff{Action: wire.CreateDiff, Type: target.Type, Obj: target.ID})
	materializeObject(store, targetID, b, visited)
}

// GetPath resolves one arbitrary root-to-objID path as a sequence of
// map/table keys and list/text indices, or nil if objID is not
// reachable from the root through the current inbound link edges.
func GetPath(store *objstore.Store, objID string) []interface{} {
	if objID == wire.RootID {
		return []interface{}{}
	}
	obj, ok := store.Get(objID)
	if !ok {
		return nil
	}
	for ref := range obj.Inbound {
		parentPath := GetPath(store, ref.SourceObj)
		if parentPath == nil {
			continue
		}
		parent, ok := store.Get(ref.SourceObj)
		if !ok {
			continue
		}
		var step interface{}
		if objstore.IsListLike(parent.Type) {
			idx := parent.ElemIDs.IndexOf(ref.SourceKey)
			if idx < 0 {
				continue
			}
			step = idx
		} else {
			step = ref.SourceKey
		}
		return append(append([]interface{}{}, parentPath...), step)
	}
	return nil
}
