// Package listorder implements the insertion tree that orders a
// list/text object's elements (spec component E): an RGA-like
// structure keyed by element id, where each element's parent is either
// another element id or the virtual head, and siblings under the same
// parent are ordered by a Lamport rule — higher elem counter first,
// ties broken by actor id descending.
//
// This is grounded on the teacher's weave/cause traversal in rlist.go,
// generalized from a single global Lamport timestamp per atom to the
// spec's per-list (actor, elem) element id and its elem/actor
// tie-break, and from an array-backed weave to an explicit
// parent-to-children adjacency map, which is the natural shape once
// elements are identified by string id rather than array position.
package listorder

import (
	"errors"
	"fmt"
	"sort"

	"github.com/lattice-sh/doccrdt/wire"
)

// Errors returned by Tree operations.
var (
	ErrDuplicateElem = errors.New("listorder: elem already inserted")
	ErrUnknownPred   = errors.New("listorder: unknown parent elem id")
)

// ElemID returns the element id "actor:elem" for the given actor and
// per-actor counter.
func ElemID(actor string, elem int) string {
	return fmt.Sprintf("%s:%d", actor, elem)
}

// ins is the recorded insertion of one element.
type ins struct {
	id     string
	parent string
	actor  string
	elem   int
}

// Tree is the immutable insertion tree for one list/text object. The
// zero value is not usable; use New.
type Tree struct {
	following map[string][]string // parent id (or wire.HeadElem) -> children, Lamport-ordered
	insertion map[string]ins
	maxElem   int
}

// New returns an empty insertion tree.
func New() *Tree {
	return &Tree{
		following: map[string][]string{},
		insertion: map[string]ins{},
	}
}

func (t *Tree) clone() *Tree {
	following := make(map[string][]string, len(t.following))
	for k, v := range t.following {
		following[k] = append([]string(nil), v...)
	}
	insertion := make(map[string]ins, len(t.insertion))
	for k, v := range t.insertion {
		insertion[k] = v
	}
	return &Tree{following: following, insertion: insertion, maxElem: t.maxElem}
}

// MaxElem returns the largest elem counter observed so far.
func (t *Tree) MaxElem() int { return t.maxElem }

// Has reports whether id has been inserted.
func (t *Tree) Has(id string) bool {
	_, ok := t.insertion[id]
	return ok
}

// higherPriority reports whether a should be ordered before b among
// siblings: higher elem first, ties broken by actor id descending.
func higherPriority(a, b ins) bool {
	if a.elem != b.elem {
		return a.elem > b.elem
	}
	return a.actor > b.actor
}

// Insert records a new element id as a child of parent (or
// wire.HeadElem), returning a new Tree. Fails on a duplicate id or an
// unknown parent.
func (t *Tree) Insert(parent, actor string, elem int) (*Tree, string, error) {
	id := ElemID(actor, elem)
	if t.Has(id) {
		return t, "", fmt.Errorf("%w: %s", ErrDuplicateElem, id)
	}
	if parent != wire.HeadElem && !t.Has(parent) {
		return t, "", fmt.Errorf("%w: %s", ErrUnknownPred, parent)
	}
	next := t.clone()
	newOp := ins{id: id, parent: parent, actor: actor, elem: elem}
	children := next.following[parent]
	pos := sort.Search(len(children), func(j int) bool {
		return higherPriority(newOp, next.insertion[children[j]])
	})
	children = append(children, "")
	copy(children[pos+1:], children[pos:])
	children[pos] = id
	next.following[parent] = children
	next.insertion[id] = newOp
	if elem > next.maxElem {
		next.maxElem = elem
	}
	return next, id, nil
}

// GetNext returns the element immediately following from (or
// wire.HeadElem for the start of the list) in visible-order traversal:
// from's first child, or the next sibling of the nearest ancestor that
// has one.
func (t *Tree) GetNext(from string) (string, bool) {
	if children := t.following[from]; len(children) > 0 {
		return children[0], true
	}
	cur := from
	for cur != wire.HeadElem {
		parent := t.insertion[cur].parent
		siblings := t.following[parent]
		idx := indexOf(siblings, cur)
		if idx+1 < len(siblings) {
			return siblings[idx+1], true
		}
		cur = parent
	}
	return "", false
}

// GetPrevious returns the element immediately preceding child: the
// parent if child is its first sibling (or nothing if that parent is
// the head), otherwise the last descendant of the previous sibling.
func (t *Tree) GetPrevious(child string) (string, bool) {
	op, ok := t.insertion[child]
	if !ok {
		return "", false
	}
	parent := op.parent
	siblings := t.following[parent]
	idx := indexOf(siblings, child)
	if idx == 0 {
		if parent == wire.HeadElem {
			return "", false
		}
		return parent, true
	}
	return t.lastDescendant(siblings[idx-1]), true
}

func (t *Tree) lastDescendant(id string) string {
	for {
		children := t.following[id]
		if len(children) == 0 {
			return id
		}
		id = children[len(children)-1]
	}
}

func indexOf(xs []string, x string) int {
	for i, v := range xs {
		if v == x {
			return i
		}
	}
	return -1
}
