// Package objstore is the by-object-id object store (spec component
// C): it keeps each object's field ops, inbound link edges, and
// creation metadata, and — for list/text objects — the insertion tree
// and position skip list that order their elements. It also wires the
// register conflict engine (component D) and list ordering (component
// E/F) into the three mutating operations an apply pass needs: creating
// an object, inserting a list/text element, and assigning a field.
//
// Grounded on the teacher's CausalTree: one struct that owns the
// weave/yarns/sitemap together, because the operations below are not
// meaningfully separable — assigning a list element's value always
// needs the insertion tree's neighbors to decide where it becomes
// visible.
package objstore

import (
	"errors"
	"fmt"
	"sort"

	"github.com/lattice-sh/doccrdt/clock"
	"github.com/lattice-sh/doccrdt/listorder"
	"github.com/lattice-sh/doccrdt/register"
	"github.com/lattice-sh/doccrdt/skiplist"
	"github.com/lattice-sh/doccrdt/wire"
)

// Errors returned by Store operations.
var (
	ErrDuplicateCreate = errors.New("objstore: object already created")
	ErrUnknownObject   = errors.New("objstore: unknown object")
	ErrUnknownAction   = errors.New("objstore: unknown action")
)

// Re-exported so callers only need to import this package for the
// errors that ApplyInsert can return.
var (
	ErrDuplicateElem = listorder.ErrDuplicateElem
	ErrUnknownPred   = listorder.ErrUnknownPred
)

// LinkRef identifies one link op pointing into an object, by its
// source location and the op's (actor, seq).
type LinkRef struct {
	SourceObj, SourceKey string
	Actor                string
	Seq                  int
}

// Object is one object record: its type, creator, field registers,
// inbound edges, and — for list/text — its ordering structures.
type Object struct {
	ID      string
	Type    wire.ObjType
	Creator string // actor that issued the make op
	CreSeq  int

	Fields  map[string]*register.Register // map/table key, or list/text elem id
	Inbound map[LinkRef]struct{}

	Order   *listorder.Tree // list/text only
	ElemIDs *skiplist.List  // list/text only: the visible position skip list
}

func (o *Object) clone() *Object {
	fields := make(map[string]*register.Register, len(o.Fields))
	for k, v := range o.Fields {
		fields[k] = v
	}
	inbound := make(map[LinkRef]struct{}, len(o.Inbound))
	for k := range o.Inbound {
		inbound[k] = struct{}{}
	}
	return &Object{
		ID: o.ID, Type: o.Type, Creator: o.Creator, CreSeq: o.CreSeq,
		Fields: fields, Inbound: inbound,
		Order: o.Order, ElemIDs: o.ElemIDs,
	}
}

// IsListLike reports whether t orders its children (list or text).
func IsListLike(t wire.ObjType) bool { return t == wire.ListType || t == wire.TextType }

// Store is the by-object-id object store. The zero value is not
// usable; use New.
type Store struct {
	objects map[string]*Object
}

// New returns a store containing only the implicit root object, an
// empty map that exists without ever having been created by a makeMap
// op.
func New() *Store {
	root := &Object{
		ID:      wire.RootID,
		Type:    wire.MapType,
		Fields:  map[string]*register.Register{},
		Inbound: map[LinkRef]struct{}{},
	}
	return &Store{objects: map[string]*Object{wire.RootID: root}}
}

func (s *Store) clone() *Store {
	objects := make(map[string]*Object, len(s.objects))
	for k, v := range s.objects {
		objects[k] = v
	}
	return &Store{objects: objects}
}

// Get returns the object record for id.
func (s *Store) Get(id string) (*Object, bool) {
	o, ok := s.objects[id]
	return o, ok
}

func actionObjType(action wire.Action) wire.ObjType {
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

// ApplyMake creates a new object record for a make* op and returns the
// create diff for it. Fails with ErrDuplicateCreate if the object id
// is already in use.
func (s *Store) ApplyMake(op wire.Op, actor string, seq int) (*Store, wire.Diff, error) {
	if _, exists := s.objects[op.Obj]; exists {
		return s, wire.Diff{}, fmt.Errorf("%w: %s", ErrDuplicateCreate, op.Obj)
	}
	objType := actionObjType(op.Action)
	if objType == "" {
		return s, wire.Diff{}, fmt.Errorf("%w: %s", ErrUnknownAction, op.Action)
	}
	obj := &Object{
		ID: op.Obj, Type: objType, Creator: actor, CreSeq: seq,
		Fields:  map[string]*register.Register{},
		Inbound: map[LinkRef]struct{}{},
	}
	if IsListLike(objType) {
		obj.Order = listorder.New()
		obj.ElemIDs = skiplist.New()
	}
	next := s.clone()
	next.objects[op.Obj] = obj
	diff := wire.Diff{Action: wire.CreateDiff, Type: objType, Obj: op.Obj}
	return next, diff, nil
}

// ApplyInsert appends a new element to a list/text's insertion tree.
// It never emits a diff: visibility requires a later set/link on the
// element (see ApplyAssign).
func (s *Store) ApplyInsert(op wire.Op, actor string) (*Store, string, error) {
	obj, ok := s.objects[op.Obj]
	if !ok {
		return s, "", fmt.Errorf("%w: %s", ErrUnknownObject, op.Obj)
	}
	order, elemID, err := obj.Order.Insert(op.Key, actor, op.Elem)
	if err != nil {
		return s, "", err
	}
	next := s.clone()
	newObj := obj.clone()
	newObj.Order = order
	next.objects[op.Obj] = newObj
	return next, elemID, nil
}

// AssignResult reports what ApplyAssign changed: the diffs it produced
// (zero or one; list/text visibility changes can no-op) and the
// field-op set at (obj, key) before the assignment was applied, for
// undo capture.
type AssignResult struct {
	Diffs       []wire.Diff
	PrevOps     []register.FieldOp
	Overwritten []register.FieldOp
}

// ApplyAssign resolves a set/del/link op against the target's
// register and emits the resulting diff(s), per spec components D
// (conflict resolution) and E (list/text visibility).
func (s *Store) ApplyAssign(op wire.Op, actor string, seq int, allDeps clock.Clock) (*Store, AssignResult, error) {
	obj, ok := s.objects[op.Obj]
	if !ok {
		return s, AssignResult{}, fmt.Errorf("%w: %s", ErrUnknownObject, op.Obj)
	}
	reg := obj.Fields[op.Key]
	prevOps := reg.Ops()
	sort.Slice(prevOps, func(i, j int) bool { return prevOps[i].Actor > prevOps[j].Actor })

	incoming := register.FieldOp{
		Actor: actor, Seq: seq, AllDeps: allDeps,
		Action: op.Action, Value: op.Value, Datatype: op.Datatype,
	}
	newReg, result, err := reg.Apply(incoming)
	if err != nil {
		return s, AssignResult{}, err
	}

	next := s.clone()
	newObj := obj.clone()
	newObj.Fields[op.Key] = newReg
	next.objects[op.Obj] = newObj

	var diffs []wire.Diff
	if IsListLike(obj.Type) {
		d, newElemIDs, derr := updateListElement(newObj, op.Key, result)
		if derr != nil {
			return s, AssignResult{}, derr
		}
		newObj.ElemIDs = newElemIDs
		if d != nil {
			diffs = append(diffs, *d)
		}
	} else {
		if d := mapFieldDiff(obj.Type, op.Obj, op.Key, result); d != nil {
			diffs = append(diffs, *d)
		}
	}

	// Invariant 4: maintain the link target's inbound edge set.
	for _, overwritten := range result.Overwritten {
		if overwritten.Action == wire.Link {
			removeInbound(next, asObjID(overwritten.Value), LinkRef{op.Obj, op.Key, overwritten.Actor, overwritten.Seq})
		}
	}
	if incoming.Action == wire.Link {
		addInbound(next, asObjID(incoming.Value), LinkRef{op.Obj, op.Key, actor, seq})
	}

	return next, AssignResult{Diffs: diffs, PrevOps: prevOps, Overwritten: result.Overwritten}, nil
}

func asObjID(v interface{}) string {
	s, _ := v.(string)
	return s
}

func removeInbound(s *Store, targetID string, ref LinkRef) {
	target, ok := s.objects[targetID]
	if !ok {
		return
	}
	clone := target.clone()
	delete(clone.Inbound, ref)
	s.objects[targetID] = clone
}

func addInbound(s *Store, targetID string, ref LinkRef) {
	target, ok := s.objects[targetID]
	if !ok {
		return
	}
	clone := target.clone()
	clone.Inbound[ref] = struct{}{}
	s.objects[targetID] = clone
}

func diffValue(op register.FieldOp) (interface{}, bool) {
	if op.Action == wire.Link {
		return op.Value, true
	}
	return op.Value, false
}

func buildConflicts(ops []register.FieldOp) []wire.Conflict {
	var out []wire.Conflict
	for _, op := range ops {
		value, isLink := diffValue(op)
		out = append(out, wire.Conflict{Actor: op.Actor, Value: value, Link: isLink, Datatype: op.Datatype})
	}
	return out
}

func mapFieldDiff(objType wire.ObjType, objID, key string, result register.Result) *wire.Diff {
	if !result.HasWinner {
		return &wire.Diff{Action: wire.RemoveDiff, Type: objType, Obj: objID, Key: key}
	}
	value, isLink := diffValue(result.Winner)
	d := &wire.Diff{
		Action: wire.SetDiff, Type: objType, Obj: objID, Key: key,
		Value: value, Datatype: result.Winner.Datatype, Link: isLink,
	}
	total := len(result.Conflicts) + 1
	if total > 1 {
		d.Conflicts = buildConflicts(result.Conflicts)
	}
	return d
}

// updateListElement implements spec 4.E: decide whether the element
// becomes visible, stays visible with a new value, or disappears, and
// maintain the position skip list accordingly.
func updateListElement(obj *Object, elemID string, result register.Result) (*wire.Diff, *skiplist.List, error) {
	objType := obj.Type
	idx := obj.ElemIDs.IndexOf(elemID)
	present := idx >= 0

	if !present {
		if !result.HasWinner {
			return nil, obj.ElemIDs, nil
		}
		value, isLink := diffValue(result.Winner)
		insertAt := nearestPrecedingVisibleIndex(obj, elemID)
		newList, err := obj.ElemIDs.InsertIndex(insertAt, elemID, value)
		if err != nil {
			return nil, obj.ElemIDs, err
		}
		d := &wire.Diff{
			Action: wire.InsertDiff, Type: objType, Obj: obj.ID,
			Index: insertAt, ElemID: elemID,
			Value: value, Datatype: result.Winner.Datatype, Link: isLink,
		}
		total := len(result.Conflicts) + 1
		if total > 1 {
			d.Conflicts = buildConflicts(result.Conflicts)
		}
		return d, newList, nil
	}

	if !result.HasWinner {
		newList, err := obj.ElemIDs.RemoveKey(elemID)
		if err != nil {
			return nil, obj.ElemIDs, err
		}
		d := &wire.Diff{Action: wire.RemoveDiff, Type: objType, Obj: obj.ID, Index: idx, ElemID: elemID}
		return d, newList, nil
	}

	value, isLink := diffValue(result.Winner)
	newList, err := obj.ElemIDs.SetValue(elemID, value)
	if err != nil {
		return nil, obj.ElemIDs, err
	}
	d := &wire.Diff{
		Action: wire.SetDiff, Type: objType, Obj: obj.ID,
		Index: idx, ElemID: elemID,
		Value: value, Datatype: result.Winner.Datatype, Link: isLink,
	}
	total := len(result.Conflicts) + 1
	if total > 1 {
		d.Conflicts = buildConflicts(result.Conflicts)
	}
	return d, newList, nil
}

// nearestPrecedingVisibleIndex walks the insertion tree backwards from
// elemID until it finds an element present in the position skip list,
// and returns one past that element's visible index (0 if none is
// found before the head).
func nearestPrecedingVisibleIndex(obj *Object, elemID string) int {
	cur := elemID
	for {
		prev, ok := obj.Order.GetPrevious(cur)
		if !ok {
			return 0
		}
		if idx := obj.ElemIDs.IndexOf(prev); idx >= 0 {
			return idx + 1
		}
		cur = prev
	}
}
