package clock

// Entry is anything the causal queue can hold and eventually hand back
// to a caller once its dependencies are satisfied.
type Entry struct {
	Actor string
	Seq   int
	Deps  Clock
	// Payload is opaque to the queue; callers stash whatever they need
	// to replay (typically a wire.Change) and get it back unchanged.
	Payload interface{}
}

// Queue holds changes that are not yet causally ready. It never mutates
// its receiver; every operation returns a new Queue, following the
// teacher's Fork/Merge discipline of handing back fresh values.
type Queue struct {
	pending []Entry
}

// NewQueue returns an empty causal queue.
func NewQueue() Queue {
	return Queue{}
}

// Enqueue returns a new queue with e appended to the pending set.
func (q Queue) Enqueue(e Entry) Queue {
	pending := make([]Entry, len(q.pending)+1)
	copy(pending, q.pending)
	pending[len(q.pending)] = e
	return Queue{pending: pending}
}

// Pending returns the entries currently waiting on their dependencies.
func (q Queue) Pending() []Entry {
	out := make([]Entry, len(q.pending))
	copy(out, q.pending)
	return out
}

// Drain repeatedly scans the pending set, handing every entry whose
// deps are satisfied by the current clock to apply, which returns the
// clock advanced past that entry. A full pass that applies nothing ends
// the loop; entries that never became ready remain queued.
func (q Queue) Drain(start Clock, apply func(Entry) Clock) (applied []Entry, remaining Queue, final Clock) {
	current := start
	pending := append([]Entry(nil), q.pending...)
	for {
		progressed := false
		var stillPending []Entry
		for _, e := range pending {
			if current.Ready(e.Actor, e.Seq, e.Deps) {
				current = apply(e)
				current = current.With(e.Actor, e.Seq)
				applied = append(applied, e)
				progressed = true
			} else {
				stillPending = append(stillPending, e)
			}
		}
		pending = stillPending
		if !progressed {
			break
		}
	}
	return applied, Queue{pending: pending}, current
}

// MissingDeps scans the pending entries and returns, for each actor that
// appears in some unmet dependency, the maximum sequence that is still
// unseen: a caller can use this to ask a peer for exactly what is
// blocking delivery.
func (q Queue) MissingDeps(current Clock) Clock {
	missing := New()
	for _, e := range q.pending {
		for actor, seq := range e.Deps {
			if seq > current.Get(actor) && seq > missing.Get(actor) {
				missing = missing.With(actor, seq)
			}
		}
		if e.Seq > current.Get(e.Actor)+1 && e.Seq-1 > missing.Get(e.Actor) {
			missing = missing.With(e.Actor, e.Seq-1)
		}
	}
	return missing
}
