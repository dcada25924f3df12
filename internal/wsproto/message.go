// Package wsproto defines the exact WebSocket wire contract of
// spec.md §6: every client→server and server→client message type as a
// Go struct with json tags matching the field names verbatim. It has
// no knowledge of gorilla/websocket, the hub, or the registry — it is
// the shared vocabulary internal/transport and a remote client both
// decode/encode against.
package wsproto

import (
	"encoding/json"
	"time"

	"hyperdoc/internal/document"
	"hyperdoc/internal/presence"
)

// Message types, client→server.
const (
	TypeSubscribe      = "subscribe"
	TypeUnsubscribe    = "unsubscribe"
	TypeSubscribeDoc   = "subscribe_doc"
	TypeUnsubscribeDoc = "unsubscribe_doc"
	TypeCRDTGet        = "crdt_get"
	TypeCRDTOps        = "crdt_ops"
	TypeCRDTSet        = "crdt_set"
	TypeCRDTListInsert = "crdt_list_insert"
	TypeCRDTListDelete = "crdt_list_delete"
	TypeInsert         = "insert"
	TypeUpdate         = "update"
	TypeMerge          = "merge"
	TypeDelete         = "delete"
	TypeBatchSync      = "batch_sync"
	TypeSync           = "sync"
	TypePresenceJoin   = "presence_join"
	TypePresenceLeave  = "presence_leave"
	TypePresenceCursor = "presence_cursor"
	TypePing           = "ping"
)

// Message types, server→client.
const (
	TypeConnected      = "connected"
	TypeSubscribed     = "subscribed"
	TypeUnsubscribed   = "unsubscribed"
	TypeSyncEvent      = "sync"
	TypeSyncResponse   = "sync_response"
	TypeCRDTState      = "crdt_state"
	TypeCRDTSync       = "crdt_sync"
	TypeInsertOK       = "insert_ok"
	TypeUpdateOK       = "update_ok"
	TypeDeleteOK       = "delete_ok"
	TypeBatchSyncOK    = "batch_sync_ok"
	TypePresenceChange = "presence_changed"
	TypePong           = "pong"
	TypeError          = "error"
)

// Envelope is the minimal shape every message shares: just enough to
// read `type` and dispatch before decoding the rest of the fields into
// a concrete request struct.
type Envelope struct {
	Type string `json:"type"`
}

// SubscribeRequest is `subscribe`/`unsubscribe`.
type SubscribeRequest struct {
	Type       string `json:"type"`
	Collection string `json:"collection"`
}

// SubscribeDocRequest is `subscribe_doc`/`unsubscribe_doc`.
type SubscribeDocRequest struct {
	Type       string `json:"type"`
	Collection string `json:"collection"`
	DocID      string `json:"docId"`
}

// CRDTGetRequest is `crdt_get`.
type CRDTGetRequest struct {
	Type       string `json:"type"`
	Collection string `json:"collection"`
	DocID      string `json:"docId"`
}

// CRDTOpsRequest is `crdt_ops`: one or more raw CRDT operations applied
// to a single document.
type CRDTOpsRequest struct {
	Type       string        `json:"type"`
	Collection string        `json:"collection"`
	DocID      string        `json:"docId"`
	Operations []document.Op `json:"operations"`
}

// CRDTSetRequest is `crdt_set`: a single path-addressed map_set.
type CRDTSetRequest struct {
	Type       string   `json:"type"`
	Collection string   `json:"collection"`
	DocID      string   `json:"docId"`
	Path       []string `json:"path"`
	Value      any      `json:"value"`
}

// CRDTListInsertRequest is `crdt_list_insert`.
type CRDTListInsertRequest struct {
	Type       string   `json:"type"`
	Collection string   `json:"collection"`
	DocID      string   `json:"docId"`
	Path       []string `json:"path"`
	Index      int      `json:"index"`
	Value      any      `json:"value"`
}

// CRDTListDeleteRequest is `crdt_list_delete`.
type CRDTListDeleteRequest struct {
	Type       string   `json:"type"`
	Collection string   `json:"collection"`
	DocID      string   `json:"docId"`
	Path       []string `json:"path"`
	Index      int      `json:"index"`
}

// MutationRequest is `insert`/`update`/`merge`/`delete`. Data carries
// the full or partial field set for insert/update/merge; Fields is an
// accepted alias some clients send instead of Data for update/merge
// (spec.md §6 "data|fields").
type MutationRequest struct {
	Type       string         `json:"type"`
	Collection string         `json:"collection"`
	ID         string         `json:"id"`
	Data       map[string]any `json:"data,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	Timestamp  *time.Time     `json:"timestamp,omitempty"`
}

// FieldData returns Data if set, else Fields, so callers don't need to
// special-case which alias a client used.
func (m MutationRequest) FieldData() map[string]any {
	if m.Data != nil {
		return m.Data
	}
	return m.Fields
}

// BatchSyncOpRequest is one op within a `batch_sync` request.
type BatchSyncOpRequest struct {
	OpID       string      `json:"opId"`
	Type       string      `json:"type"`
	Collection string      `json:"collection"`
	DocID      string      `json:"docId"`
	Op         document.Op `json:"op"`
}

// BatchSyncRequest is `batch_sync`.
type BatchSyncRequest struct {
	Type       string               `json:"type"`
	Operations []BatchSyncOpRequest `json:"operations"`
}

// SyncRequest is `sync`.
type SyncRequest struct {
	Type       string    `json:"type"`
	Collection string    `json:"collection"`
	Since      time.Time `json:"since"`
}

// PresenceJoinRequest is `presence_join`.
type PresenceJoinRequest struct {
	Type       string            `json:"type"`
	Collection string            `json:"collection"`
	DocID      string            `json:"docId"`
	User       map[string]string `json:"user,omitempty"`
}

// PresenceLeaveRequest is `presence_leave`.
type PresenceLeaveRequest struct {
	Type       string `json:"type"`
	Collection string `json:"collection"`
	DocID      string `json:"docId"`
}

// PresenceCursorRequest is `presence_cursor`.
type PresenceCursorRequest struct {
	Type       string `json:"type"`
	Collection string `json:"collection"`
	DocID      string `json:"docId"`
	Position   any    `json:"position,omitempty"`
	Selection  any    `json:"selection,omitempty"`
}

// Connected is the first message sent to every new connection.
type Connected struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
	ServerID string `json:"serverId"`
}

// Subscribed/Unsubscribed acknowledges a subscribe/unsubscribe.
type Subscribed struct {
	Type       string `json:"type"`
	Collection string `json:"collection"`
}

// SyncEvent is the single-document push variant of `sync` (distinct
// from SyncResponse, the batched reply to an explicit `sync` request).
type SyncEvent struct {
	Type       string    `json:"type"`
	Collection string    `json:"collection"`
	Event      string    `json:"event"`
	Data       any       `json:"data,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// SyncChange is one entry within a SyncResponse.
type SyncChange struct {
	DocID     string          `json:"doc_id"`
	Operation string          `json:"operation"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// SyncResponse answers an explicit `sync` request.
type SyncResponse struct {
	Type       string       `json:"type"`
	Collection string       `json:"collection"`
	Changes    []SyncChange `json:"changes"`
	ServerTime time.Time    `json:"serverTime"`
}

// CRDTState answers `crdt_get`.
type CRDTState struct {
	Type       string            `json:"type"`
	Collection string            `json:"collection"`
	DocID      string            `json:"docId"`
	State      document.Snapshot `json:"state"`
}

// CRDTSync is the doc-scope broadcast of newly-applied ops.
type CRDTSync struct {
	Type       string        `json:"type"`
	Collection string        `json:"collection"`
	DocID      string        `json:"docId"`
	Operations []document.Op `json:"operations"`
}

// MutationOK acknowledges insert/update/delete.
type MutationOK struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Version uint64 `json:"_version"`
}

// BatchSyncResult is one entry within BatchSyncOK.
type BatchSyncResult struct {
	Success bool   `json:"success"`
	OpID    string `json:"opId"`
	Version uint64 `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BatchSyncOK answers `batch_sync`.
type BatchSyncOK struct {
	Type    string            `json:"type"`
	Results []BatchSyncResult `json:"results"`
}

// PresenceChanged is the broadcast for join/leave/cursor_update.
type PresenceChanged struct {
	Type     string           `json:"type"`
	DocID    string           `json:"docId"`
	NodeID   string           `json:"nodeId"`
	Presence *presence.Record `json:"presence,omitempty"`
}

// Pong answers `ping`.
type Pong struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
}

// Error is sent for any request this server could not fulfil.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
