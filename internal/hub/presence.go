package hub

import "hyperdoc/internal/presence"

// PresenceEvent is pushed to every doc-scope subscriber on a presence
// change (spec.md §6 `presence_changed`). Presence is nil for a leave.
type PresenceEvent struct {
	Type       string           `json:"type"`
	Collection string           `json:"collection"`
	DocID      string           `json:"doc_id"`
	NodeID     string           `json:"node_id"`
	Presence   *presence.Record `json:"presence,omitempty"`
}

// wirePresence fans every presence change out to the affected
// document's subscribers. Presence events are sent to every doc
// subscriber including the node that caused them — unlike mutation
// broadcasts, there is no "echo" to avoid: a client joining a document
// wants its own join reflected back with everyone else's.
func (h *Hub) wirePresence() {
	h.presence.OnChange(func(ev presence.ChangeEvent) {
		msg := PresenceEvent{
			Type: "presence_changed", Collection: ev.Collection, DocID: ev.DocID,
			NodeID: ev.NodeID, Presence: ev.Presence,
		}
		for _, sid := range h.registry.DocSubscribers(ev.Collection, ev.DocID) {
			h.registry.Send(sid, msg)
		}
	})
}

// PresenceJoin records subscriberID as present on (collection, docID).
func (h *Hub) PresenceJoin(collection, docID, subscriberID string, userInfo any) {
	h.presence.Join(collection, docID, subscriberID, userInfo)
}

// PresenceLeave removes subscriberID from (collection, docID).
func (h *Hub) PresenceLeave(collection, docID, subscriberID string) {
	h.presence.Leave(collection, docID, subscriberID)
}

// PresenceCursorUpdate moves subscriberID's cursor/selection within
// (collection, docID).
func (h *Hub) PresenceCursorUpdate(collection, docID, subscriberID string, cursor, selection any) {
	h.presence.CursorUpdate(collection, docID, subscriberID, cursor, selection)
}

// Participants returns the live participant set for (collection, docID).
func (h *Hub) Participants(collection, docID string) map[string]presence.Record {
	return h.presence.Participants(collection, docID)
}
