// Package frontend implements the embedder-facing materialized
// document cache and local-request pipeline (spec components I and
// J): an immutable tree of Node values kept current by replaying
// wire.Diff patches, plus a Document that queues local edits while
// they are in flight and reconciles them against incoming patches.
//
// Grounded on the teacher's atom-to-value materialization, generalized
// from "one weave renders to one string" to "one object graph renders
// to a tree of Nodes sharing structure with every prior snapshot it
// didn't change."
package frontend

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lattice-sh/doccrdt/objstore"
	"github.com/lattice-sh/doccrdt/wire"
)

// Errors returned by Cache operations.
var (
	ErrMultipleParents = errors.New("frontend: object has multiple parents")
	ErrUnknownObject   = errors.New("frontend: unknown object")
	ErrUnknownElem     = errors.New("frontend: unknown element")
)

// Value is one materialized field or list element: either a plain
// scalar, or — when Link is true — a reference to another object,
// carried both as its raw id (Scalar) and, once resolved, the node
// itself (Child).
type Value struct {
	Scalar    interface{}
	Link      bool
	Child     *Node
	Datatype  wire.Datatype
	Conflicts []wire.Conflict
}

// Node is one materialized object: a map/table's fields, or a
// list/text's ordered elements.
type Node struct {
	ObjID string
	Type  wire.ObjType

	Fields map[string]Value // map, table

	ElemIDs []string // list, text — parallel to Elems
	Elems   []Value
	MaxElem int
}

func (n *Node) cloneShallow() *Node {
	clone := &Node{ObjID: n.ObjID, Type: n.Type, MaxElem: n.MaxElem}
	if n.Fields != nil {
		clone.Fields = make(map[string]Value, len(n.Fields))
		for k, v := range n.Fields {
			clone.Fields[k] = v
		}
	}
	if n.ElemIDs != nil {
		clone.ElemIDs = append([]string(nil), n.ElemIDs...)
		clone.Elems = append([]Value(nil), n.Elems...)
	}
	return clone
}

// location records where in its parent a linked-to object is
// referenced, so a change to the child can be propagated upward by
// re-slotting it into a freshly cloned parent.
type location struct {
	parentID string
	key      string // map, table
	elemID   string // list, text
	isList   bool
}

// Cache is the immutable materialized document. The zero value is not
// usable; use NewCache.
type Cache struct {
	Nodes   map[string]*Node
	inbound map[string]location // child objId -> where its parent references it
}

// NewCache returns a cache holding only the implicit root map.
func NewCache() *Cache {
	root := &Node{ObjID: wire.RootID, Type: wire.MapType, Fields: map[string]Value{}}
	return &Cache{Nodes: map[string]*Node{wire.RootID: root}, inbound: map[string]location{}}
}

func (c *Cache) clone() *Cache {
	nodes := make(map[string]*Node, len(c.Nodes))
	for k, v := range c.Nodes {
		nodes[k] = v
	}
	inbound := make(map[string]location, len(c.inbound))
	for k, v := range c.inbound {
		inbound[k] = v
	}
	return &Cache{Nodes: nodes, inbound: inbound}
}

// Apply replays diffs against the cache in order and returns the
// resulting cache. On error the original cache is returned unchanged.
func (c *Cache) Apply(diffs []wire.Diff) (*Cache, error) {
	next := c
	for _, d := range diffs {
		updated, err := next.applyOne(d)
		if err != nil {
			return c, err
		}
		next = updated
	}
	return next, nil
}

func valueOf(d wire.Diff, resolve func(id string) *Node) Value {
	v := Value{Scalar: d.Value, Link: d.Link, Datatype: d.Datatype, Conflicts: d.Conflicts}
	if v.Link {
		if id, ok := d.Value.(string); ok {
			v.Child = resolve(id)
		}
	}
	return v
}

func (c *Cache) applyOne(d wire.Diff) (*Cache, error) {
	next := c.clone()
	switch d.Action {
	case wire.CreateDiff:
		node := &Node{ObjID: d.Obj, Type: d.Type}
		if d.Type == wire.MapType || d.Type == wire.TableType {
			node.Fields = map[string]Value{}
		}
		next.Nodes[d.Obj] = node
		return next, nil

	case wire.SetDiff:
		obj, ok := next.Nodes[d.Obj]
		if !ok {
			return c, fmt.Errorf("%w: %s", ErrUnknownObject, d.Obj)
		}
		clone := obj.cloneShallow()
		val := valueOf(d, func(id string) *Node { return next.Nodes[id] })
		if objstore.IsListLike(d.Type) {
			idx := indexOfElem(clone.ElemIDs, d.ElemID)
			if idx < 0 {
				return c, fmt.Errorf("%w: %s", ErrUnknownElem, d.ElemID)
			}
			clone.Elems[idx] = val
		} else {
			clone.Fields[d.Key] = val
		}
		next.Nodes[d.Obj] = clone
		if err := next.setInbound(d, val); err != nil {
			return c, err
		}
		return next.propagate(d.Obj), nil

	case wire.InsertDiff:
		obj, ok := next.Nodes[d.Obj]
		if !ok {
			return c, fmt.Errorf("%w: %s", ErrUnknownObject, d.Obj)
		}
		if d.Index < 0 || d.Index > len(obj.ElemIDs) {
			return c, fmt.Errorf("frontend: insert index %d out of range", d.Index)
		}
		clone := obj.cloneShallow()
		val := valueOf(d, func(id string) *Node { return next.Nodes[id] })
		clone.ElemIDs = insertString(clone.ElemIDs, d.Index, d.ElemID)
		clone.Elems = insertValue(clone.Elems, d.Index, val)
		if n := elemCounter(d.ElemID); n > clone.MaxElem {
			clone.MaxElem = n
		}
		next.Nodes[d.Obj] = clone
		if err := next.setInbound(d, val); err != nil {
			return c, err
		}
		return next.propagate(d.Obj), nil

	case wire.RemoveDiff:
		obj, ok := next.Nodes[d.Obj]
		if !ok {
			return c, fmt.Errorf("%w: %s", ErrUnknownObject, d.Obj)
		}
		clone := obj.cloneShallow()
		if objstore.IsListLike(d.Type) {
			idx := indexOfElem(clone.ElemIDs, d.ElemID)
			if idx < 0 {
				return c, fmt.Errorf("%w: %s", ErrUnknownElem, d.ElemID)
			}
			removed := clone.Elems[idx]
			clone.ElemIDs = append(append([]string{}, clone.ElemIDs[:idx]...), clone.ElemIDs[idx+1:]...)
			clone.Elems = append(append([]Value{}, clone.Elems[:idx]...), clone.Elems[idx+1:]...)
			next.clearInbound(removed)
		} else {
			removed, ok := clone.Fields[d.Key]
			if ok {
				delete(clone.Fields, d.Key)
				next.clearInbound(removed)
			}
		}
		next.Nodes[d.Obj] = clone
		return next.propagate(d.Obj), nil

	default:
		return c, fmt.Errorf("frontend: unknown diff action %q", d.Action)
	}
}

func (c *Cache) setInbound(d wire.Diff, val Value) error {
	if !val.Link {
		return nil
	}
	targetID, _ := val.Scalar.(string)
	if targetID == "" {
		return nil
	}
	loc := location{parentID: d.Obj}
	if objstore.IsListLike(d.Type) {
		loc.isList = true
		loc.elemID = d.ElemID
	} else {
		loc.key = d.Key
	}
	if existing, ok := c.inbound[targetID]; ok && existing != loc {
		return fmt.Errorf("%w: %s", ErrMultipleParents, targetID)
	}
	c.inbound[targetID] = loc
	return nil
}

func (c *Cache) clearInbound(val Value) {
	if !val.Link {
		return
	}
	targetID, _ := val.Scalar.(string)
	delete(c.inbound, targetID)
}

// propagate clones every ancestor of childID up to the root so that
// each one's stored reference to its changed child is current, while
// every untouched object keeps its previous identity.
func (c *Cache) propagate(childID string) *Cache {
	node := c
	cur := childID
	for {
		loc, ok := node.inbound[cur]
		if !ok {
			return node
		}
		parent, ok := node.Nodes[loc.parentID]
		if !ok {
			return node
		}
		clone := parent.cloneShallow()
		childNode := node.Nodes[cur]
		if loc.isList {
			idx := indexOfElem(clone.ElemIDs, loc.elemID)
			if idx >= 0 {
				v := clone.Elems[idx]
				v.Child = childNode
				clone.Elems[idx] = v
			}
		} else {
			v := clone.Fields[loc.key]
			v.Child = childNode
			clone.Fields[loc.key] = v
		}
		node = node.clone()
		node.Nodes[loc.parentID] = clone
		cur = loc.parentID
	}
}

func indexOfElem(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func insertString(xs []string, i int, v string) []string {
	xs = append(xs, "")
	copy(xs[i+1:], xs[i:])
	xs[i] = v
	return xs
}

func insertValue(xs []Value, i int, v Value) []Value {
	xs = append(xs, Value{})
	copy(xs[i+1:], xs[i:])
	xs[i] = v
	return xs
}

func elemCounter(elemID string) int {
	idx := strings.LastIndex(elemID, ":")
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(elemID[idx+1:])
	if err != nil {
		return 0
	}
	return n
}
