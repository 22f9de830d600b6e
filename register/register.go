// Package register implements the multi-value field register that
// resolves concurrent writes to a single map key, table key, or list
// element (spec component D). Winners are chosen by actor id,
// descending.
package register

import (
	"errors"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/lattice-sh/doccrdt/clock"
	"github.com/lattice-sh/doccrdt/wire"
)

// ErrUnknownDatatype is returned when an op names a datatype this
// module does not understand. Unknown datatypes must fail rather than
// silently pass through.
var ErrUnknownDatatype = errors.New("register: unknown datatype")

// FieldOp is one assignment recorded against a map/table key or list
// element: a set, del, or link action, stamped with the change that
// produced it and that change's transitive dependency clock, captured
// at apply time, which is what isConcurrent compares against.
type FieldOp struct {
	Actor    string
	Seq      int
	AllDeps  clock.Clock
	Action   wire.Action
	Value    interface{}
	Datatype wire.Datatype
}

func (op FieldOp) key() opKey { return opKey{op.Actor, op.Seq} }

type opKey struct {
	Actor string
	Seq   int
}

// isConcurrent reports whether op1 and op2 are concurrent: neither's
// transitive deps observed the other's (actor, seq) at apply time.
func isConcurrent(op1, op2 FieldOp) bool {
	return op1.AllDeps.Get(op2.Actor) < op2.Seq && op2.AllDeps.Get(op1.Actor) < op1.Seq
}

// Result is what Apply hands back: the winning op (if the field is not
// empty), the losing concurrent ops in deterministic order, and the
// set of ops that were overwritten by this assignment (their link
// targets, if any, must be dropped from the target's inbound index by
// the caller).
type Result struct {
	Winner      FieldOp
	HasWinner   bool
	Conflicts   []FieldOp
	Overwritten []FieldOp
}

// Register is the immutable multi-value field register for one map
// key, table key, or list element. The zero value is an empty
// register.
type Register struct {
	ops        map[opKey]FieldOp
	concurrent mapset.Set[opKey]
}

// New returns an empty register.
func New() *Register {
	return &Register{
		ops:        map[opKey]FieldOp{},
		concurrent: mapset.NewSet[opKey](),
	}
}

func (r *Register) ensure() *Register {
	if r == nil {
		return New()
	}
	return r
}

// Ops returns the register's current field-op set, in no particular
// order; callers that need determinism should use Winner/Result.
func (r *Register) Ops() []FieldOp {
	r = r.ensure()
	out := make([]FieldOp, 0, r.concurrent.Cardinality())
	for _, k := range r.concurrent.ToSlice() {
		out = append(out, r.ops[k])
	}
	return out
}

// Empty reports whether the register currently holds no ops.
func (r *Register) Empty() bool {
	return r.ensure().concurrent.Cardinality() == 0
}

// Apply resolves incoming against the register's current field-op set
// and returns a new Register reflecting the assignment, plus a Result
// describing what changed. Validates the op's datatype: unknown
// datatypes fail rather than being silently accepted.
func (r *Register) Apply(incoming FieldOp) (*Register, Result, error) {
	r = r.ensure()
	if incoming.Datatype != "" && incoming.Datatype != wire.TimestampDatatype {
		return r, Result{}, ErrUnknownDatatype
	}

	var overwritten, kept []FieldOp
	for _, k := range r.concurrent.ToSlice() {
		op := r.ops[k]
		if isConcurrent(op, incoming) {
			kept = append(kept, op)
		} else {
			overwritten = append(overwritten, op)
		}
	}

	newOps := make(map[opKey]FieldOp, len(kept)+1)
	newSet := mapset.NewSet[opKey]()
	for _, op := range kept {
		newOps[op.key()] = op
		newSet.Add(op.key())
	}
	if incoming.Action != wire.Del {
		newOps[incoming.key()] = incoming
		newSet.Add(incoming.key())
	}

	next := &Register{ops: newOps, concurrent: newSet}

	final := append([]FieldOp{}, kept...)
	if incoming.Action != wire.Del {
		final = append(final, incoming)
	}
	sort.Slice(final, func(i, j int) bool { return final[i].Actor > final[j].Actor })

	result := Result{Overwritten: overwritten}
	if len(final) > 0 {
		result.Winner = final[0]
		result.HasWinner = true
		result.Conflicts = final[1:]
	}
	return next, result, nil
}
