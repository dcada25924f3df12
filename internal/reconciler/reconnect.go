package reconciler

import (
	"context"
	"encoding/json"
	"time"

	"hyperdoc/internal/crdt"
	"hyperdoc/internal/document"
	"hyperdoc/internal/vclock"
)

// Reconcile runs spec.md §4.9's reconnect sequence: resync every
// collection the caller has watermarks for, compact the offline
// queue, then drain it via batch_sync, surfacing a conflict event for
// every rejected op. Call once a dropped connection comes back.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	if err := r.resyncAll(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	compacted := compact(r.queue)
	r.mu.Unlock()

	return r.drain(ctx, compacted)
}

// resyncAll issues sync(collection, last_seen_server_time) for every
// collection with a recorded watermark and applies the returned ops.
func (r *Reconciler) resyncAll(ctx context.Context) error {
	r.mu.Lock()
	collections := make([]string, 0, len(r.watermarks))
	for c := range r.watermarks {
		collections = append(collections, c)
	}
	r.mu.Unlock()

	for _, collection := range collections {
		r.mu.Lock()
		since := r.watermarks[collection]
		r.mu.Unlock()

		entries, serverNow, err := r.transport.Sync(ctx, collection, since)
		if err != nil {
			return err
		}
		for _, e := range entries {
			r.applyResyncEntry(e)
		}

		r.mu.Lock()
		r.watermarks[collection] = serverNow
		r.mu.Unlock()
		r.persistWatermark(collection, serverNow)
	}
	return nil
}

// applyResyncEntry folds one sync-log entry's materialized document
// state into the local replica as a batch of remote map_set ops, one
// per top-level field, matching how the hub itself represents a
// document as a set of root CRDT-Map entries. These are applied via
// ApplyRemote (not Set) so they never re-enter the local pending queue
// as if they were this node's own edits.
func (r *Reconciler) applyResyncEntry(e SyncEntry) {
	if e.Operation == "delete" || len(e.Data) == 0 {
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(e.Data, &fields); err != nil {
		return
	}
	d := r.Document(e.Collection, e.DocID)
	for key, value := range fields {
		op := document.Op{
			OpID:      "resync-" + e.DocID + "-" + key + "-" + e.ServerTimestamp.String(),
			Kind:      document.OpMapSet,
			Path:      []string{key},
			Value:     crdt.FromNative(value),
			Clock:     vclock.Clock{"server": uint64(e.ServerTimestamp.UnixNano())},
			NodeID:    "server",
			Timestamp: e.ServerTimestamp,
		}
		d.ApplyRemote(op)
	}
}

// Watch registers collection for resync tracking starting from the
// zero time (a full history pull on the first Reconcile).
func (r *Reconciler) Watch(collection string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.watermarks[collection]; !ok {
		r.watermarks[collection] = time.Time{}
	}
}

func (r *Reconciler) persistWatermark(collection string, t time.Time) {
	data, err := json.Marshal(t)
	if err != nil {
		return
	}
	_ = r.storage.Set(watermarkKey(collection), data)
}

// compact collapses successive map_set ops on the same (docID, path)
// to the latest one, preserving every list/set op (and every other
// map_set whose path is never superseded) in original relative order
// (spec.md §4.9 step 2).
func compact(ops []QueuedOp) []QueuedOp {
	type key struct{ docID, path string }
	lastIdx := make(map[key]int)
	for i, q := range ops {
		if q.Op.Kind == document.OpMapSet {
			lastIdx[key{q.DocID, pathKey(q.Op.Path)}] = i
		}
	}

	out := make([]QueuedOp, 0, len(ops))
	for i, q := range ops {
		if q.Op.Kind == document.OpMapSet && lastIdx[key{q.DocID, pathKey(q.Op.Path)}] != i {
			continue
		}
		out = append(out, q)
	}
	return out
}

// drain sends every compacted op via batch_sync, reporting a conflict
// for each one the server rejects, then clears the queue — this
// reconciler does not retry a rejected op automatically; the conflict
// hook is the caller's chance to decide what, if anything, to redo.
func (r *Reconciler) drain(ctx context.Context, ops []QueuedOp) error {
	if len(ops) == 0 {
		r.mu.Lock()
		r.queue = nil
		r.mu.Unlock()
		r.persistQueue(nil)
		return nil
	}

	wire := make([]WireOp, len(ops))
	for i, q := range ops {
		wire[i] = WireOp{Collection: q.Collection, DocID: q.DocID, Op: q.Op}
	}

	results, err := r.transport.BatchSync(ctx, wire)
	if err != nil {
		return err
	}

	for i, res := range results {
		if i >= len(ops) {
			break
		}
		if !res.Success {
			r.fireConflict(ConflictEvent{Collection: ops[i].Collection, DocID: ops[i].DocID, Op: ops[i].Op})
		}
	}

	r.mu.Lock()
	r.queue = nil
	r.mu.Unlock()
	r.persistQueue(nil)
	return nil
}
