// Package reconciler implements the client-side (but
// server-embeddable) reconciliation layer of spec.md §4.9: a local
// CRDT document per (collection, docID) the caller has open, a
// persistent offline queue of ops generated while disconnected, and
// the reconnect sequence that resyncs, compacts, and drains that
// queue. It never talks to the server's internals directly — only
// through the Transport interface, the same wire contract a real
// remote client would use.
package reconciler

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"hyperdoc/internal/crdt"
	"hyperdoc/internal/document"
)

// StorageAdapter is the durable local store spec.md §4.9 requires
// (get/set/delete/keys), backing the offline queue and watermarks
// across process restarts.
type StorageAdapter interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Keys(prefix string) ([]string, error)
}

// SyncEntry is the wire shape of one sync-log record, decoded from a
// `sync(collection, since)` response.
type SyncEntry struct {
	Collection      string          `json:"collection"`
	DocID           string          `json:"doc_id"`
	Operation       string          `json:"operation"`
	Data            json.RawMessage `json:"data,omitempty"`
	ServerTimestamp time.Time       `json:"server_timestamp"`
}

// OpResult is the wire shape of one batch_sync outcome.
type OpResult struct {
	OpID    string `json:"op_id"`
	Success bool   `json:"success"`
	Version uint64 `json:"version"`
}

// Transport is however the reconciler reaches the server: an HTTP/WS
// client in production, a fake in tests.
type Transport interface {
	Sync(ctx context.Context, collection string, since time.Time) ([]SyncEntry, time.Time, error)
	BatchSync(ctx context.Context, ops []WireOp) ([]OpResult, error)
}

// WireOp is one locally-queued op addressed to a specific document,
// the shape BatchSync sends over the wire.
type WireOp struct {
	Collection string
	DocID      string
	Op         document.Op
}

// QueuedOp is one offline-queued local edit awaiting a batch_sync
// drain.
type QueuedOp struct {
	Collection string      `json:"collection"`
	DocID      string      `json:"doc_id"`
	Op         document.Op `json:"op"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
}

// ConflictEvent is surfaced for every op a reconnect drain's
// batch_sync reports as rejected (spec.md §7).
type ConflictEvent struct {
	Collection string
	DocID      string
	Op         document.Op
}

const queueStorageKey = "reconciler/offline_queue"

func watermarkKey(collection string) string { return "reconciler/watermark/" + collection }

// Reconciler owns the local CRDT documents an embedding client has
// open, the offline queue, and the per-collection resync watermark.
type Reconciler struct {
	mu sync.Mutex

	nodeID    string
	storage   StorageAdapter
	transport Transport

	docs       map[docKey]*document.Document
	queue      []QueuedOp
	watermarks map[string]time.Time
	connected  bool

	conflictMu sync.Mutex
	onConflict []func(ConflictEvent)
}

type docKey struct{ collection, docID string }

// New returns a Reconciler, restoring any persisted offline queue from
// storage so a process restart does not lose queued edits.
func New(nodeID string, storage StorageAdapter, transport Transport) (*Reconciler, error) {
	r := &Reconciler{
		nodeID:     nodeID,
		storage:    storage,
		transport:  transport,
		docs:       make(map[docKey]*document.Document),
		watermarks: make(map[string]time.Time),
	}
	if raw, ok, err := storage.Get(queueStorageKey); err != nil {
		return nil, err
	} else if ok {
		if err := json.Unmarshal(raw, &r.queue); err != nil {
			return nil, err
		}
	}

	keys, err := storage.Keys("reconciler/watermark/")
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		raw, ok, err := storage.Get(k)
		if err != nil || !ok {
			continue
		}
		var t time.Time
		if err := json.Unmarshal(raw, &t); err != nil {
			continue
		}
		r.watermarks[strings.TrimPrefix(k, "reconciler/watermark/")] = t
	}
	return r, nil
}

// SetConnected flips whether local edits are sent immediately (true)
// or enqueued for a later drain (false).
func (r *Reconciler) SetConnected(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = connected
}

// OnConflict registers a hook fired for every op a drain rejects.
func (r *Reconciler) OnConflict(hook func(ConflictEvent)) {
	r.conflictMu.Lock()
	defer r.conflictMu.Unlock()
	r.onConflict = append(r.onConflict, hook)
}

func (r *Reconciler) fireConflict(ev ConflictEvent) {
	r.conflictMu.Lock()
	hooks := append([]func(ConflictEvent){}, r.onConflict...)
	r.conflictMu.Unlock()
	for _, h := range hooks {
		h(ev)
	}
}

// Document returns (creating if absent) the local CRDT document for
// (collection, docID).
func (r *Reconciler) Document(collection, docID string) *document.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := docKey{collection, docID}
	d, ok := r.docs[k]
	if !ok {
		d = document.New(r.nodeID)
		r.docs[k] = d
	}
	return d
}

// Set performs a local map_set and, per spec.md §4.9, either sends it
// immediately (connected) or enqueues it for the next drain.
func (r *Reconciler) Set(ctx context.Context, collection, docID string, path []string, value crdt.Value) (document.Op, error) {
	d := r.Document(collection, docID)
	op, err := d.Set(path, value)
	if err != nil {
		return document.Op{}, err
	}
	r.dispatchOrEnqueue(ctx, collection, docID, op)
	return op, nil
}

// Delete performs a local map_delete with the same immediate-send-or-
// enqueue handling as Set.
func (r *Reconciler) Delete(ctx context.Context, collection, docID string, path []string) (document.Op, error) {
	d := r.Document(collection, docID)
	op, err := d.Delete(path)
	if err != nil {
		return document.Op{}, err
	}
	r.dispatchOrEnqueue(ctx, collection, docID, op)
	return op, nil
}

func (r *Reconciler) dispatchOrEnqueue(ctx context.Context, collection, docID string, op document.Op) {
	r.mu.Lock()
	connected := r.connected
	r.mu.Unlock()

	if connected {
		if _, err := r.transport.BatchSync(ctx, []WireOp{{Collection: collection, DocID: docID, Op: op}}); err == nil {
			return
		}
		// Send failed despite believing we're connected (e.g. a
		// request timeout) — fall through to enqueue so the edit
		// isn't lost.
	}
	r.enqueue(QueuedOp{Collection: collection, DocID: docID, Op: op, EnqueuedAt: time.Now()})
}

func (r *Reconciler) enqueue(q QueuedOp) {
	r.mu.Lock()
	r.queue = append(r.queue, q)
	queue := append([]QueuedOp(nil), r.queue...)
	r.mu.Unlock()
	r.persistQueue(queue)
}

func (r *Reconciler) persistQueue(queue []QueuedOp) {
	data, err := json.Marshal(queue)
	if err != nil {
		return
	}
	_ = r.storage.Set(queueStorageKey, data)
}

func pathKey(path []string) string { return strings.Join(path, "\x00") }
