package hub

import (
	"encoding/json"
	"time"

	"hyperdoc/internal/crdt"
	"hyperdoc/internal/document"
	"hyperdoc/internal/shard"
)

// Insert creates (or replaces the live fields of, if already present)
// a document, setting every top-level key in data. Documents are
// created on first insert (spec.md §3 Lifecycle); a second insert of
// the same id behaves like Update.
func (h *Hub) Insert(collection, id string, data map[string]any, clientID string) (OpResult, error) {
	return h.applyFields(collection, id, data, clientID, "insert")
}

// Update replaces the given top-level fields of an existing (or
// not-yet-seen) document, leaving every other field untouched.
func (h *Hub) Update(collection, id string, data map[string]any, clientID string) (OpResult, error) {
	return h.applyFields(collection, id, data, clientID, "update")
}

// Merge behaves like Update: both route through the same per-field
// CRDT map_set machinery, since a root CRDT-Map already only ever
// touches the keys it's given.
func (h *Hub) Merge(collection, id string, data map[string]any, clientID string) (OpResult, error) {
	return h.applyFields(collection, id, data, clientID, "merge")
}

func (h *Hub) applyFields(collection, id string, data map[string]any, clientID, operation string) (OpResult, error) {
	if err := shard.SanitizeTableName(collection); err != nil {
		return OpResult{}, err
	}
	rec := h.docs.getOrCreate(collection, id)

	var last document.Op
	for key, value := range data {
		op, err := rec.Doc.Set([]string{key}, crdt.FromNative(value))
		if err != nil {
			return OpResult{}, err
		}
		last = op
	}
	ops := rec.Doc.FlushPendingOps()

	rec.mu.Lock()
	rec.Version++
	rec.Deleted = false
	rec.UpdatedAt = time.Now()
	version := rec.Version
	rec.mu.Unlock()

	if err := h.persist(collection, id, rec); err != nil {
		return OpResult{}, err
	}
	entry, err := h.synclog.Append(SyncLogEntry{Collection: collection, DocID: id, Operation: operation, ClientID: clientID, Data: toRawMessage(rec.Doc.ToObject())})
	if err != nil {
		return OpResult{}, err
	}
	h.broadcast(collection, id, operation, rec, ops, clientID, entry)

	return OpResult{Success: true, OpID: last.OpID, Version: version}, nil
}

// Delete soft-deletes a document: every live top-level scalar field
// (the document's RootKeys; nested lists, sets and maps are left as
// they are) is tombstoned through the normal CRDT map_delete path (so concurrent
// replicas converge on "empty" the same way they would for any other
// field removal) and the record itself is flagged Deleted, never
// erased (spec.md §3 "tombstoned, not erased").
func (h *Hub) Delete(collection, id, clientID string) (OpResult, error) {
	if err := shard.SanitizeTableName(collection); err != nil {
		return OpResult{}, err
	}
	rec, ok := h.docs.get(collection, id)
	if !ok {
		return OpResult{}, ErrNotFound
	}

	var ops []document.Op
	for _, key := range rec.Doc.RootKeys() {
		if _, err := rec.Doc.Delete([]string{key}); err != nil {
			return OpResult{}, err
		}
	}
	ops = rec.Doc.FlushPendingOps()

	rec.mu.Lock()
	rec.Deleted = true
	rec.Version++
	rec.UpdatedAt = time.Now()
	version := rec.Version
	rec.mu.Unlock()

	if err := h.persist(collection, id, rec); err != nil {
		return OpResult{}, err
	}
	entry, err := h.synclog.Append(SyncLogEntry{Collection: collection, DocID: id, Operation: "delete", ClientID: clientID})
	if err != nil {
		return OpResult{}, err
	}
	h.broadcast(collection, id, "delete", rec, ops, clientID, entry)

	return OpResult{Success: true, Version: version}, nil
}

// BatchSyncOp is one client-reconciler-produced CRDT op awaiting
// replay, scoped to the (collection, docID) it belongs to (document.Op
// itself only carries a within-document path).
type BatchSyncOp struct {
	Collection string
	DocID      string
	Op         document.Op
}

// BatchSync applies each op atomically per-op — not the whole batch
// atomically — so one op's rejection (e.g. a stale write) never blocks
// the rest (spec.md §4.7 "batch_sync"). Used by the client reconciler
// to replay its offline queue after reconnecting.
func (h *Hub) BatchSync(ops []BatchSyncOp, clientID string) []OpResult {
	results := make([]OpResult, len(ops))
	for i, bop := range ops {
		rec := h.docs.getOrCreate(bop.Collection, bop.DocID)
		changed := rec.Doc.ApplyRemote(bop.Op)

		rec.mu.Lock()
		if changed {
			rec.Version++
		}
		rec.UpdatedAt = time.Now()
		version := rec.Version
		rec.mu.Unlock()

		if changed {
			if err := h.persist(bop.Collection, bop.DocID, rec); err != nil {
				results[i] = OpResult{OpID: bop.Op.OpID}
				continue
			}
			entry, err := h.synclog.Append(SyncLogEntry{Collection: bop.Collection, DocID: bop.DocID, Operation: "batch_sync", ClientID: clientID})
			if err == nil {
				h.broadcast(bop.Collection, bop.DocID, "batch_sync", rec, []document.Op{bop.Op}, clientID, entry)
			}
		}
		results[i] = OpResult{Success: changed, OpID: bop.Op.OpID, Version: version}
	}
	return results
}

func toRawMessage(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
