// Package clock implements actor-indexed vector clocks and the causal
// delivery queue that decides when a change becomes ready to apply.
package clock

// Clock maps an actor to the highest sequence number seen from it.
// A missing actor is equivalent to sequence 0.
type Clock map[string]int

// New returns an empty clock.
func New() Clock {
	return Clock{}
}

// Get returns c[actor], or 0 if actor is absent.
func (c Clock) Get(actor string) int {
	return c[actor]
}

// Clone returns a shallow copy of c. Clock values are never mutated
// in place once handed to a caller; every update returns a fresh map.
func (c Clock) Clone() Clock {
	out := make(Clock, len(c))
	for actor, seq := range c {
		out[actor] = seq
	}
	return out
}

// With returns a new clock equal to c but with actor's entry set to seq,
// unless c already records a value >= seq, in which case c's value wins.
func (c Clock) With(actor string, seq int) Clock {
	out := c.Clone()
	if seq > out[actor] {
		out[actor] = seq
	}
	return out
}

// Without returns a clock equal to c but with actor's entry removed,
// for building a Change's deps field, which never lists its own actor.
func (c Clock) Without(actor string) Clock {
	out := c.Clone()
	delete(out, actor)
	return out
}

// LessEq reports whether c <= other component-wise: every actor's
// sequence in c is at most other's (absent entries default to 0).
func (c Clock) LessEq(other Clock) bool {
	for actor, seq := range c {
		if seq > other.Get(actor) {
			return false
		}
	}
	return true
}

// Equal reports whether c and other record the same sequence for every
// actor mentioned in either clock.
func (c Clock) Equal(other Clock) bool {
	return c.LessEq(other) && other.LessEq(c)
}

// Merge returns a new clock holding, for every actor mentioned in
// either c or other, the larger of the two sequences.
func (c Clock) Merge(other Clock) Clock {
	out := c.Clone()
	for actor, seq := range other {
		if seq > out[actor] {
			out[actor] = seq
		}
	}
	return out
}

// Ready reports whether a change from actor at seq, whose deps clock is
// deps, may be applied against the current clock c: every actor in
// deps must already be at least that far along in c, and seq must
// be the immediate successor of actor's own position in c.
func (c Clock) Ready(actor string, seq int, deps Clock) bool {
	if seq != c.Get(actor)+1 {
		return false
	}
	return deps.LessEq(c)
}
