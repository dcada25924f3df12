package hub

import "time"

// GCTombstones purges Map-LWW tombstones and deleted RGA elements
// older than retention from the documents this process has loaded,
// and re-persists any document that was actually changed. It returns
// the total number of entries purged. Deleted RGA elements carry no
// timestamp, so the age check is made per document: a document
// written since the cutoff is skipped whole, and in any other document
// every tombstone is older than retention.
//
// This does not itself check vector-clock dominance against other
// replicas — there is no multi-node cluster membership in this
// design (see internal/relay) for it to check against, so the
// retention window alone stands in as the convergence proxy: any
// client that was offline longer than retention is expected to fall
// back to a full resync rather than a merge of pre-GC history.
func (h *Hub) GCTombstones(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)
	total := 0
	h.docs.forEach(func(collection, id string, rec *DocRecord) {
		rec.mu.Lock()
		if rec.UpdatedAt.After(cutoff) {
			rec.mu.Unlock()
			return
		}
		removed := rec.Doc.GC(cutoff)
		rec.mu.Unlock()
		if removed == 0 {
			return
		}
		total += removed
		if err := h.persist(collection, id, rec); err != nil {
			h.log.Warn("gc persist failed", "collection", collection, "doc_id", id, "error", err)
		}
	})
	return total
}

// ExportSnapshots returns every currently-loaded, non-deleted
// document's CRDT snapshot keyed by "collection\x00id", for internal/snapshotgc's
// periodic full-repository dump used to bootstrap a fresh client
// faster than replaying the sync log from empty.
func (h *Hub) ExportSnapshots() map[string]DocSnapshotExport {
	out := make(map[string]DocSnapshotExport)
	h.docs.forEach(func(collection, id string, rec *DocRecord) {
		rec.mu.Lock()
		snap := rec.Doc.Snapshot()
		deleted := rec.Deleted
		rec.mu.Unlock()
		if deleted {
			return
		}
		out[collection+"\x00"+id] = DocSnapshotExport{Collection: collection, DocID: id, Snapshot: snap}
	})
	return out
}
