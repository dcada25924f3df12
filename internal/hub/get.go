package hub

// Get returns the current materialized state of (collection, id) and
// whether it exists and is live. A document that was only ever
// soft-deleted still "exists" in the sense Bootstrap/persist track it,
// but is reported not-found here, matching the external read contract
// (a deleted document reads as absent).
func (h *Hub) Get(collection, id string) (data map[string]any, version uint64, found bool) {
	rec, ok := h.docs.get(collection, id)
	if !ok {
		return nil, 0, false
	}
	rec.mu.Lock()
	deleted := rec.Deleted
	version = rec.Version
	rec.mu.Unlock()
	if deleted {
		return nil, version, false
	}
	return rec.Doc.ToObject(), version, true
}
