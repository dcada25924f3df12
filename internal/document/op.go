// Package document implements the CRDT document aggregate (spec.md
// §4.6): a path-addressed tree of Map-LWW registers, RGAs, and OR-Sets,
// with idempotent remote apply, causal batch ordering, and
// snapshot/restore for fast client bootstrap.
package document

import (
	"time"

	"hyperdoc/internal/crdt"
	"hyperdoc/internal/vclock"
)

// OpKind tags the variant of a document-level operation.
type OpKind int

const (
	OpMapSet OpKind = iota
	OpMapDelete
	OpRGAInsert
	OpRGADelete
	OpORSetAdd
	OpORSetRemove
)

// Op is the unit of work exchanged between documents: produced locally
// by Set/Delete/ListInsert/..., and consumed remotely by
// ApplyRemote/ApplyRemoteBatch. Exactly the fields relevant to Kind are
// populated.
type Op struct {
	OpID      string
	Kind      OpKind
	Path      []string // addresses the map/list/set the op targets
	Value     crdt.Value
	Clock     vclock.Clock
	NodeID    string
	Timestamp time.Time

	AfterID   string   // rga_insert: element to insert after ("" = head)
	ElementID string   // rga_insert/rga_delete: the element's id
	Index     int      // rga_insert/rga_delete: user-visible index at origin time
	Tags      []string // orset_remove: observed tags being retracted
}
