// Package hub implements the real-time sync hub of spec.md §4.7: it
// owns every live CRDT document this process is serving, dispatches
// the mutating operations the transport layer decodes off the wire,
// appends each to the sync log, and fans the result out to whichever
// subscribers (collection-scope or doc-scope) are watching — without
// ever echoing a mutation back to the client that caused it.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"hyperdoc/internal/buffer"
	"hyperdoc/internal/cache"
	"hyperdoc/internal/document"
	"hyperdoc/internal/presence"
	"hyperdoc/internal/registry"
	"hyperdoc/internal/relay"
	"hyperdoc/internal/shard"
	"hyperdoc/internal/walog"
)

// Hub wires the subscription registry to the write path (buffer,
// shards, cache) and the CRDT document layer.
type Hub struct {
	nodeID string

	registry *registry.Registry
	docs     *docStore

	buf    *buffer.Buffer
	cache  *cache.Cache
	shards *shard.Pool

	synclog  *SyncLog
	presence *presence.Manager

	mu   sync.Mutex
	sink relay.Sink

	log *slog.Logger
}

// New wires an already-constructed buffer/cache/shard pool/sync log
// into a Hub, using spec.md §6's default presence TTL. nodeID
// identifies this server in every vector clock tick the documents it
// owns perform.
func New(nodeID string, buf *buffer.Buffer, c *cache.Cache, shards *shard.Pool, synclog *SyncLog) *Hub {
	return NewWithPresenceTTL(nodeID, buf, c, shards, synclog, presence.DefaultTTL)
}

// NewWithPresenceTTL is New with an overridden presence idle TTL
// (config's presence_ttl_ms).
func NewWithPresenceTTL(nodeID string, buf *buffer.Buffer, c *cache.Cache, shards *shard.Pool, synclog *SyncLog, presenceTTL time.Duration) *Hub {
	h := &Hub{
		nodeID:   nodeID,
		registry: registry.New(),
		docs:     newDocStore(nodeID),
		buf:      buf,
		cache:    c,
		shards:   shards,
		synclog:  synclog,
		presence: presence.New(presenceTTL),
		log:      slog.Default().With("component", "hub"),
	}
	h.wirePresence()
	return h
}

// StartPresenceSweep launches the idle-presence sweeper at the given
// interval. Call once during server startup alongside the write
// buffer's timer.
func (h *Hub) StartPresenceSweep(interval time.Duration) { h.presence.Start(interval) }

// StopPresenceSweep halts the idle-presence sweeper, used during
// graceful teardown.
func (h *Hub) StopPresenceSweep() { h.presence.Stop() }

// Connect registers a new subscriber connection (a WS transport
// session) with the hub's registry.
func (h *Hub) Connect(sub registry.Subscriber) { h.registry.Connect(sub) }

// Disconnect tears down a subscriber's registry state and triggers a
// presence-leave for every document it was joined to (spec.md §9).
func (h *Hub) Disconnect(subscriberID string) {
	h.registry.Disconnect(subscriberID)
	h.presence.LeaveAll(subscriberID)
}

// SubscribeCollection adds subscriberID to collection's subscriber set.
func (h *Hub) SubscribeCollection(subscriberID, collection string) bool {
	return h.registry.SubscribeCollection(subscriberID, collection)
}

// UnsubscribeCollection removes subscriberID from collection's set.
func (h *Hub) UnsubscribeCollection(subscriberID, collection string) {
	h.registry.UnsubscribeCollection(subscriberID, collection)
}

// SubscribeDoc adds subscriberID to (collection, docID)'s subscriber set.
func (h *Hub) SubscribeDoc(subscriberID, collection, docID string) bool {
	return h.registry.SubscribeDoc(subscriberID, collection, docID)
}

// UnsubscribeDoc removes subscriberID from (collection, docID)'s set.
func (h *Hub) UnsubscribeDoc(subscriberID, collection, docID string) {
	h.registry.UnsubscribeDoc(subscriberID, collection, docID)
}

// IsBehind reports (and clears) whether subscriberID has had a
// broadcast dropped since the last check. The WS transport does not
// call it, so a dropped broadcast is not reported to the client.
func (h *Hub) IsBehind(subscriberID string) bool { return h.registry.IsBehind(subscriberID) }

// Sync returns every sync-log entry for collection recorded after
// since, plus the server time the read was taken at (the value the
// caller should pass as `since` on its next call).
func (h *Hub) Sync(collection string, since time.Time) ([]SyncLogEntry, time.Time, error) {
	entries, err := h.synclog.Since(collection, since)
	return entries, time.Now(), err
}

// persist writes the document's current state to its owning shard
// through the write buffer, and records the collection in the
// catalog so a restart's Bootstrap finds it.
func (h *Hub) persist(collection, id string, rec *DocRecord) error {
	rec.mu.Lock()
	snap := persistedDoc{
		Snapshot:  rec.Doc.Snapshot(),
		Version:   rec.Version,
		Deleted:   rec.Deleted,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	rec.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := h.synclog.EnsureCollection(collection); err != nil {
		h.log.Warn("collection catalog write failed", "collection", collection, "error", err)
	}
	if err := h.buf.Write(collection, id, walog.OpUpsert, data); err != nil {
		return err
	}
	h.cache.Invalidate(collection, id)
	return nil
}

// broadcast implements spec.md §4.7's broadcast rule: collection-scope
// subscribers first, then doc-scope subscribers, never echoing to
// originatorID. Either subscriber set may be empty. entry is the
// already-appended sync-log record for this mutation, forwarded to the
// relay sink if one is attached.
func (h *Hub) broadcast(collection, docID, operation string, rec *DocRecord, ops []document.Op, originatorID string, entry SyncLogEntry) {
	rec.mu.Lock()
	version := rec.Version
	deleted := rec.Deleted
	rec.mu.Unlock()

	var data any
	if !deleted {
		data = rec.Doc.ToObject()
	}

	collEvent := CollectionEvent{
		Type: "collection_event", Collection: collection, DocID: docID,
		Operation: operation, Deleted: deleted, Data: data,
		Version: version, Timestamp: time.Now(),
	}
	for _, sid := range h.registry.CollectionSubscribers(collection) {
		if sid == originatorID {
			continue
		}
		h.registry.Send(sid, collEvent)
	}

	docEvent := DocOpEvent{Type: "crdt_sync", Collection: collection, DocID: docID, Ops: ops, Version: version}
	for _, sid := range h.registry.DocSubscribers(collection, docID) {
		if sid == originatorID {
			continue
		}
		h.registry.Send(sid, docEvent)
	}

	h.mu.Lock()
	sink := h.sink
	h.mu.Unlock()
	if sink != nil {
		sink.Publish(entry.toRelayEntry())
	}
}
