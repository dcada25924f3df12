package hub

import (
	"time"

	"hyperdoc/internal/document"
)

// OpResult is what every mutating Hub call hands back to its caller
// (the REST adapter or the WS transport), matching the "user-visible
// completion guarantee" of spec.md §7: a caller always learns whether
// its op was accepted, and under what id/version.
type OpResult struct {
	Success bool
	OpID    string
	Version uint64
}

// CollectionEvent is pushed to every collection-scope subscriber
// (spec.md §4.7 broadcast rule step 1) after an accepted mutation.
// It carries the resulting document rather than the individual CRDT
// ops, since a collection-scope watcher is assumed to want "what does
// this document look like now", not its internal op stream.
type CollectionEvent struct {
	Type       string    `json:"type"`
	Collection string    `json:"collection"`
	DocID      string    `json:"doc_id"`
	Operation  string    `json:"operation"`
	Deleted    bool      `json:"deleted"`
	Data       any       `json:"data,omitempty"`
	Version    uint64    `json:"version"`
	Timestamp  time.Time `json:"timestamp"`
}

// DocOpEvent is pushed to every doc-scope subscriber (broadcast rule
// step 2): the raw CRDT ops a doc-scope watcher needs to apply its own
// local replica incrementally rather than re-fetch the whole document.
type DocOpEvent struct {
	Type       string        `json:"type"`
	Collection string        `json:"collection"`
	DocID      string        `json:"doc_id"`
	Ops        []document.Op `json:"ops"`
	Version    uint64        `json:"version"`
}

// DocSnapshotExport is one document's CRDT snapshot tagged with its
// address, the unit internal/snapshotgc persists in a full-repository
// dump.
type DocSnapshotExport struct {
	Collection string            `json:"collection"`
	DocID      string            `json:"doc_id"`
	Snapshot   document.Snapshot `json:"snapshot"`
}
