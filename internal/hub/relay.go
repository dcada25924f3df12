package hub

import "hyperdoc/internal/relay"

// AttachSink installs sink as the hub's cross-server relay target.
// Passing nil detaches it. See internal/relay for why this attachment
// point exists and what it deliberately does not promise.
func (h *Hub) AttachSink(sink relay.Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sink = sink
}

func (e SyncLogEntry) toRelayEntry() relay.Entry {
	return relay.Entry{
		Collection:      e.Collection,
		DocID:           e.DocID,
		Operation:       e.Operation,
		ClientID:        e.ClientID,
		Data:            e.Data,
		ServerTimestamp: e.ServerTimestamp,
	}
}
