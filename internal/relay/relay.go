// Package relay is the cross-server attachment point spec.md §4.7/§9
// leaves as an open question: an opaque bus a second server process
// could attach to so this process's accepted mutations also reach it.
// It makes no delivery or ordering guarantee of its own — whatever
// implements Sink owns that — and it carries no replica read/write
// path, since multi-node clustered consensus is out of scope.
package relay

import (
	"encoding/json"
	"time"
)

// Entry is the routing-relevant shape of a sync-log record, decoupled
// from hub's own SyncLogEntry so this package never has to import hub.
type Entry struct {
	Collection      string
	DocID           string
	Operation       string
	ClientID        string
	Data            json.RawMessage
	ServerTimestamp time.Time
}

// Sink is anything an external bus attaches as to receive every
// accepted mutation.
type Sink interface {
	Publish(entry Entry)
}

// Source is the inbound half: an external bus delivering entries
// produced by other processes, for a caller to fold into its own
// local state. Unused until a concrete cross-server deployment exists;
// kept alongside Sink so one attachment point covers both directions.
type Source interface {
	Subscribe(fn func(entry Entry))
}

// Router assigns each collection an opaque partition label, purely for
// routing/metrics purposes — e.g. so an operator can see which of N
// external-bus partitions a collection's relay traffic is labeled
// with. Adapted from the teacher's consistent-hash ring, which there
// picked live replica nodes for quorum reads/writes; here it only ever
// labels, since there is no replica set to pick from.
type Router struct {
	r *ring
}

// NewRouter returns a Router with vnodes virtual positions per
// partition (<=0 uses a sensible default).
func NewRouter(vnodes int) *Router {
	return &Router{r: newRing(vnodes)}
}

// AddPartition registers an external-bus partition id.
func (rt *Router) AddPartition(partitionID string) { rt.r.add(partitionID) }

// RemovePartition deregisters a partition id.
func (rt *Router) RemovePartition(partitionID string) { rt.r.remove(partitionID) }

// PartitionFor returns the partition label collection is routed to, or
// "" if no partition has been registered yet.
func (rt *Router) PartitionFor(collection string) string { return rt.r.owner(collection) }

// Partitions lists every registered partition id.
func (rt *Router) Partitions() []string { return rt.r.partitions() }
