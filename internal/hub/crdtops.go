package hub

import (
	"time"

	"hyperdoc/internal/crdt"
	"hyperdoc/internal/document"
	"hyperdoc/internal/shard"
)

// Snapshot returns the full CRDT state of (collection, id) — every
// tombstone and vector clock entry included — for a `crdt_get` request.
// Unlike Get, a soft-deleted document still snapshots (its tombstones
// are exactly what a client resyncing past the delete needs to see).
func (h *Hub) Snapshot(collection, id string) (document.Snapshot, bool) {
	rec, ok := h.docs.get(collection, id)
	if !ok {
		return document.Snapshot{}, false
	}
	return rec.Doc.Snapshot(), true
}

// commitOps persists the ops a path-addressed mutation produced,
// exactly like applyFields does for whole-field inserts/updates, and is
// shared by CRDTSet/CRDTListInsert/CRDTListDelete/ApplyOps below.
func (h *Hub) commitOps(collection, id string, rec *DocRecord, operation, clientID string, ops []document.Op) (OpResult, error) {
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

	var opID string
	if len(ops) > 0 {
		opID = ops[len(ops)-1].OpID
	}
	return OpResult{Success: true, OpID: opID, Version: version}, nil
}

// CRDTSet applies a single path-addressed map_set (spec.md §6
// `crdt_set`) — the fine-grained sibling of Update, for a client that
// wants to touch one nested field without resending the whole document.
func (h *Hub) CRDTSet(collection, id string, path []string, value any, clientID string) (OpResult, error) {
	if err := shard.SanitizeTableName(collection); err != nil {
		return OpResult{}, err
	}
	rec := h.docs.getOrCreate(collection, id)
	if _, err := rec.Doc.Set(path, crdt.FromNative(value)); err != nil {
		return OpResult{}, err
	}
	return h.commitOps(collection, id, rec, "crdt_set", clientID, rec.Doc.FlushPendingOps())
}

// CRDTListInsert applies a single RGA insert (spec.md §6
// `crdt_list_insert`).
func (h *Hub) CRDTListInsert(collection, id string, path []string, index int, value any, clientID string) (OpResult, error) {
	if err := shard.SanitizeTableName(collection); err != nil {
		return OpResult{}, err
	}
	rec := h.docs.getOrCreate(collection, id)
	if _, err := rec.Doc.ListInsert(path, index, crdt.FromNative(value)); err != nil {
		return OpResult{}, err
	}
	return h.commitOps(collection, id, rec, "crdt_list_insert", clientID, rec.Doc.FlushPendingOps())
}

// CRDTListDelete applies a single RGA tombstone (spec.md §6
// `crdt_list_delete`).
func (h *Hub) CRDTListDelete(collection, id string, path []string, index int, clientID string) (OpResult, error) {
	if err := shard.SanitizeTableName(collection); err != nil {
		return OpResult{}, err
	}
	rec, ok := h.docs.get(collection, id)
	if !ok {
		return OpResult{}, ErrNotFound
	}
	if _, err := rec.Doc.ListDelete(path, index); err != nil {
		return OpResult{}, err
	}
	return h.commitOps(collection, id, rec, "crdt_list_delete", clientID, rec.Doc.FlushPendingOps())
}

// ApplyOps replays a batch of already-produced raw ops against one
// document (spec.md §6 `crdt_ops`) — the single-document counterpart of
// BatchSync, used when a client already holds CRDT ops (e.g. replayed
// from its own offline queue, mid-session rather than at reconnect) and
// just wants them folded in and rebroadcast.
func (h *Hub) ApplyOps(collection, id string, ops []document.Op, clientID string) (OpResult, error) {
	if err := shard.SanitizeTableName(collection); err != nil {
		return OpResult{}, err
	}
	rec := h.docs.getOrCreate(collection, id)

	var applied []document.Op
	for _, op := range ops {
		if rec.Doc.ApplyRemote(op) {
			applied = append(applied, op)
		}
	}
	if len(applied) == 0 {
		rec.mu.Lock()
		version := rec.Version
		rec.mu.Unlock()
		return OpResult{Success: false, Version: version}, nil
	}
	return h.commitOps(collection, id, rec, "crdt_ops", clientID, applied)
}
