package frontend

import (
	"github.com/lattice-sh/doccrdt/clock"
	"github.com/lattice-sh/doccrdt/objstore"
	"github.com/lattice-sh/doccrdt/wire"
)

// Backend is what the pipeline needs from a backend: applying one
// actor's locally-authored change and getting back the resulting
// patch. backend.Engine does not satisfy it as is, because
// Engine.ApplyLocalChange also returns the new Engine value. Declared
// here, rather than imported from the backend package, so frontend
// depends on a behavior, not a concrete type.
type Backend interface {
	ApplyLocalChange(change wire.Change) (wire.Patch, error)
}

// Request is one local edit still considered in flight: recorded with
// the cache snapshot it was built against and the diffs it produced,
// so it can be replayed on top of a newer authoritative base if a
// remote patch arrives first.
type Request struct {
	Actor   string
	Seq     int
	Deps    clock.Clock
	Message string
	Ops     []wire.Op
	Diffs   []wire.Diff
}

// Document is the embedder-facing editable document: a materialized
// Cache plus the bookkeeping to submit local edits and reconcile
// incoming patches against whatever is still pending.
type Document struct {
	Actor   string
	Seq     int
	Deps    clock.Clock
	CanUndo bool
	CanRedo bool

	Cache    *Cache
	Requests []Request
	Backend  Backend // nil: queue edits optimistically instead of submitting immediately
}

// NewDocument returns an empty document authored by actor.
func NewDocument(actor string, backend Backend) *Document {
	return &Document{Actor: actor, Deps: clock.New(), Cache: NewCache(), Backend: backend}
}

// Change runs makeOps to build one local edit's ops, files it as a
// change at the document's next seq, and either submits it to the
// wired backend immediately or queues it optimistically. Returns the
// resulting document and the ops actually filed (nil if makeOps
// produced nothing, in which case the document is returned unchanged).
func (d *Document) Change(message string, makeOps func() []wire.Op) (*Document, []wire.Op, error) {
	ops := filterLatestAssignments(makeOps())
	if len(ops) == 0 {
		return d, nil, nil
	}

	change := wire.Change{
		Actor: d.Actor, Seq: d.Seq + 1, Deps: d.Deps.Clone(),
		Message: message, Ops: ops,
	}

	if d.Backend != nil {
		p, err := d.Backend.ApplyLocalChange(change)
		if err != nil {
			return d, nil, err
		}
		newCache, err := d.Cache.Apply(p.Diffs)
		if err != nil {
			return d, nil, err
		}
		return &Document{
			Actor: d.Actor, Seq: p.Clock.Get(d.Actor), Deps: p.Deps,
			CanUndo: p.CanUndo, CanRedo: p.CanRedo,
			Cache: newCache, Requests: nil, Backend: d.Backend,
		}, ops, nil
	}

	diffs := predictDiffs(ops, d.Cache)
	newCache, err := d.Cache.Apply(diffs)
	if err != nil {
		return d, nil, err
	}
	req := Request{Actor: d.Actor, Seq: change.Seq, Deps: change.Deps, Message: message, Ops: ops, Diffs: diffs}
	return &Document{
		Actor: d.Actor, Seq: change.Seq, Deps: d.Deps, CanUndo: d.CanUndo, CanRedo: d.CanRedo,
		Cache: newCache, Requests: append(append([]Request{}, d.Requests...), req), Backend: d.Backend,
	}, ops, nil
}

// ApplyPatch folds an authoritative patch into the document. If it
// matches the oldest pending request (same actor, and the patch's
// clock now covers that request's seq), that request is dropped;
// otherwise every pending request is kept and replayed, unchanged,
// on top of the new base. This is an approximate transform: pending
// diffs are replayed as recorded, not transformed past the incoming
// patch; authoritative state always comes from the next patch, not
// from the replay.
func (d *Document) ApplyPatch(p wire.Patch) (*Document, error) {
	newCache, err := d.Cache.Apply(p.Diffs)
	if err != nil {
		return d, err
	}

	requests := d.Requests
	if len(requests) > 0 && requests[0].Actor == d.Actor && p.Clock.Get(d.Actor) >= requests[0].Seq {
		requests = requests[1:]
	}
	for _, req := range requests {
		newCache, err = newCache.Apply(req.Diffs)
		if err != nil {
			return d, err
		}
	}

	return &Document{
		Actor: d.Actor, Seq: p.Clock.Get(d.Actor), Deps: p.Deps,
		CanUndo: p.CanUndo, CanRedo: p.CanRedo,
		Cache: newCache, Requests: requests, Backend: d.Backend,
	}, nil
}

// filterLatestAssignments keeps, for each (obj, key), only the last
// set/del/link among ops — a local edit that overwrites its own
// earlier write in the same change need not replay the overwritten
// one. ins and make* ops are always preserved, in order.
func filterLatestAssignments(ops []wire.Op) []wire.Op {
	type target struct{ obj, key string }
	latest := map[target]int{}
	for i, op := range ops {
		switch op.Action {
		case wire.Set, wire.Del, wire.Link:
			latest[target{op.Obj, op.Key}] = i
		}
	}
	out := make([]wire.Op, 0, len(ops))
	for i, op := range ops {
		switch op.Action {
		case wire.Set, wire.Del, wire.Link:
			if latest[target{op.Obj, op.Key}] != i {
				continue
			}
		}
		out = append(out, op)
	}
	return out
}

// predictDiffs renders a guessed diff per assignment op for optimistic
// display before the backend round-trip, with no conflict resolution
// and no visibility logic for unset list elements: a local insert
// with no accompanying set is invisible until a real patch arrives,
// matching spec.md §4.E's own rule for an absent, empty-ops element.
func predictDiffs(ops []wire.Op, cache *Cache) []wire.Diff {
	var diffs []wire.Diff
	for _, op := range ops {
		switch op.Action {
		case wire.MakeMap, wire.MakeTable, wire.MakeList, wire.MakeText:
			diffs = append(diffs, wire.Diff{Action: wire.CreateDiff, Type: makeType(op.Action), Obj: op.Obj})
		case wire.Set, wire.Link:
			objType := objectType(cache, op.Obj)
			d := wire.Diff{
				Action: wire.SetDiff, Type: objType, Obj: op.Obj,
				Value: op.Value, Datatype: op.Datatype, Link: op.Action == wire.Link,
			}
			if objstore.IsListLike(objType) {
				d.ElemID = op.Key
			} else {
				d.Key = op.Key
			}
			diffs = append(diffs, d)
		case wire.Del:
			objType := objectType(cache, op.Obj)
			d := wire.Diff{Action: wire.RemoveDiff, Type: objType, Obj: op.Obj}
			if objstore.IsListLike(objType) {
				d.ElemID = op.Key
			} else {
				d.Key = op.Key
			}
			diffs = append(diffs, d)
		}
	}
	return diffs
}

func objectType(cache *Cache, objID string) wire.ObjType {
	if n, ok := cache.Nodes[objID]; ok {
		return n.Type
	}
	return ""
}

func makeType(action wire.Action) wire.ObjType {
	switch action {
	case wire.MakeMap:
		return wire.MapType
	case wire.MakeTable:
		return wire.TableType
	case wire.MakeList:
		return wire.ListType
	case wire.MakeText:
		return wire.TextType
	default:
		return ""
	}
}
