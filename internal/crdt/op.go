package crdt

import "github.com/google/uuid"

// NewOpID mints a globally unique operation identifier used as the
// tiebreak's last resort and as the OR-Set tag for an add. uuid.NewString
// is backed by a CSPRNG, so collisions across nodes are not a practical
// concern even without coordinating a node-local counter.
func NewOpID() string {
	return uuid.NewString()
}
