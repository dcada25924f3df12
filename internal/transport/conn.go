// Package transport bridges WebSocket connections to the hub: each
// connection is a registry.Subscriber pushing hub broadcasts out over
// the wire, and a dispatch loop decoding spec.md §6's message catalogue
// (wsproto) and routing it into the matching hub.Hub call.
package transport

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hyperdoc/internal/hub"
	"hyperdoc/internal/wsproto"
)

// pingInterval/pongWait bound how long a silent connection is tolerated
// before it is considered dead, mirroring the write buffer's own
// "timer-driven, not request-driven" liveness pattern elsewhere in this
// codebase.
const (
	pingInterval = 30 * time.Second
	pongWait     = 90 * time.Second
	writeWait    = 10 * time.Second
)

// conn wraps one upgraded WebSocket connection. It implements
// registry.Subscriber so the hub can push broadcasts straight at it;
// translate (below) is what turns a hub-internal event into the
// exact wsproto wire shape before it goes out.
type conn struct {
	id string
	ws *websocket.Conn

	writeMu sync.Mutex
}

func newConn(id string, ws *websocket.Conn) *conn {
	return &conn{id: id, ws: ws}
}

func (c *conn) ID() string { return c.id }

// Send implements registry.Subscriber. msg is whatever the hub
// broadcast — a hub.CollectionEvent, hub.DocOpEvent, or hub.PresenceEvent
// — translated to its wsproto wire struct before marshaling, since the
// hub's internal event shapes are not the external wire contract.
func (c *conn) Send(msg any) error {
	wire := translate(msg)
	if wire == nil {
		return nil
	}
	return c.writeJSON(wire)
}

func (c *conn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) writePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}

// translate maps a hub broadcast type to its wsproto wire struct.
// Anything not recognized is dropped rather than echoed as-is, since
// only these three event kinds ever reach a Subscriber's Send.
func translate(msg any) any {
	switch ev := msg.(type) {
	case hub.CollectionEvent:
		return wsproto.SyncEvent{
			Type: wsproto.TypeSyncEvent, Collection: ev.Collection,
			Event: ev.Operation, Data: ev.Data, Timestamp: ev.Timestamp,
		}
	case hub.DocOpEvent:
		return wsproto.CRDTSync{
			Type: wsproto.TypeCRDTSync, Collection: ev.Collection,
			DocID: ev.DocID, Operations: ev.Ops,
		}
	case hub.PresenceEvent:
		return wsproto.PresenceChanged{
			Type: wsproto.TypePresenceChange, DocID: ev.DocID,
			NodeID: ev.NodeID, Presence: ev.Presence,
		}
	default:
		return nil
	}
}
