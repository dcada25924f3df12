// Package vclock implements the vector clock used for causality tracking
// across every CRDT primitive in the document engine.
//
// Problem:
// Two replicas can mutate the same path at "the same time" with no
// coordination. We need a way to tell, for any two clocks:
//
//  1. One strictly happened before the other  -> apply in that order
//  2. Both are the same                       -> no-op, already applied
//  3. Neither dominates the other (concurrent) -> a deterministic
//     tie-break decides the winner, identically at every replica
//
// A vector clock (nodeID -> monotonic counter) solves this without a
// central coordinator.
package vclock

import "maps"

// Relation is the result of comparing two clocks.
type Relation int

const (
	Equal      Relation = iota // both clocks are identical
	Less                       // the receiver happened strictly before other
	Greater                    // the receiver happened strictly after other
	Concurrent                 // neither dominates: a real conflict
)

// Clock maps nodeID to that node's local logical counter.
type Clock map[string]uint64

// New returns an empty clock.
func New() Clock {
	return make(Clock)
}

// Tick increments the counter for nodeID and returns the receiver for
// chaining. Mutates in place, matching the teacher's Increment semantics.
func (c Clock) Tick(nodeID string) Clock {
	c[nodeID]++
	return c
}

// Clone returns a deep copy so callers never alias a shared clock.
func (c Clock) Clone() Clock {
	out := make(Clock, len(c))
	maps.Copy(out, c)
	return out
}

// Merge returns the pointwise maximum of c and other. Neither operand is
// mutated.
func (c Clock) Merge(other Clock) Clock {
	out := c.Clone()
	for node, cnt := range other {
		if cnt > out[node] {
			out[node] = cnt
		}
	}
	return out
}

// Compare determines how c relates to other across the union of known
// nodes: the standard dominance test used for vector-clock partial order.
func (c Clock) Compare(other Clock) Relation {
	cDominates := false
	otherDominates := false

	for node, cnt := range c {
		if cnt > other[node] {
			cDominates = true
		} else if cnt < other[node] {
			otherDominates = true
		}
	}
	for node, cnt := range other {
		if _, ok := c[node]; !ok && cnt > 0 {
			otherDominates = true
		}
	}

	switch {
	case !cDominates && !otherDominates:
		return Equal
	case cDominates && !otherDominates:
		return Greater
	case !cDominates && otherDominates:
		return Less
	default:
		return Concurrent
	}
}

// HappensBefore reports whether c causally precedes other.
func (c Clock) HappensBefore(other Clock) bool {
	return c.Compare(other) == Less
}

// Concurrent reports whether neither clock dominates the other.
func (c Clock) Concurrent(other Clock) bool {
	return c.Compare(other) == Concurrent
}

// Dominates reports whether every known replica's clock in other is
// covered (<=) by c — used by tombstone GC to check that all replicas
// have observed a delete before it is purged.
func (c Clock) Dominates(other Clock) bool {
	rel := c.Compare(other)
	return rel == Greater || rel == Equal
}
