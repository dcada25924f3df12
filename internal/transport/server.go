package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"hyperdoc/internal/hub"
	"hyperdoc/internal/wsproto"
)

// Server upgrades HTTP connections to WebSocket and runs each
// connection's dispatch loop against a shared Hub.
type Server struct {
	hub      *hub.Hub
	serverID string
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewServer returns a Server broadcasting under serverID (the value
// every connection's `connected` handshake echoes back, letting a
// client tell which node in a future multi-server deployment it landed
// on).
func NewServer(h *hub.Hub, serverID string) *Server {
	return &Server{
		hub:      h,
		serverID: serverID,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Collaborative-editing clients are expected to originate
			// from whatever origin serves the document editor itself;
			// there is no cross-origin API key scheme here to check
			// against, so every origin is accepted.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: slog.Default().With("component", "transport"),
	}
}

// Register mounts the WS upgrade endpoint on r.
func (s *Server) Register(r *gin.Engine) {
	r.GET("/ws", s.handleUpgrade)
}

func (s *Server) handleUpgrade(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.serve(ws)
}

// serve owns one connection end to end: handshake, dispatch loop,
// ping keepalive, and teardown. Runs until the socket closes.
func (s *Server) serve(ws *websocket.Conn) {
	id := uuid.NewString()
	cn := newConn(id, ws)
	s.hub.Connect(cn)
	defer s.hub.Disconnect(id)

	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go s.pingLoop(cn, stopPing)

	if err := cn.writeJSON(wsproto.Connected{Type: wsproto.TypeConnected, ClientID: id, ServerID: s.serverID}); err != nil {
		return
	}

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		s.dispatch(cn, raw)
	}
}

func (s *Server) pingLoop(cn *conn, stop <-chan struct{}) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := cn.writePing(); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// dispatch decodes one client frame's envelope and routes it to the
// matching handler. A malformed frame or an error the handler surfaces
// is reported with a wsproto.Error rather than dropping the connection
// — only a transport-level failure (write error, closed socket) does
// that.
func (s *Server) dispatch(cn *conn, raw []byte) {
	var env wsproto.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.sendError(cn, "", "malformed message")
		return
	}

	var err error
	switch env.Type {
	case wsproto.TypeSubscribe:
		err = s.handleSubscribe(cn, raw)
	case wsproto.TypeUnsubscribe:
		err = s.handleUnsubscribe(cn, raw)
	case wsproto.TypeSubscribeDoc:
		err = s.handleSubscribeDoc(cn, raw)
	case wsproto.TypeUnsubscribeDoc:
		err = s.handleUnsubscribeDoc(cn, raw)
	case wsproto.TypeCRDTGet:
		err = s.handleCRDTGet(cn, raw)
	case wsproto.TypeCRDTOps:
		err = s.handleCRDTOps(cn, raw)
	case wsproto.TypeCRDTSet:
		err = s.handleCRDTSet(cn, raw)
	case wsproto.TypeCRDTListInsert:
		err = s.handleCRDTListInsert(cn, raw)
	case wsproto.TypeCRDTListDelete:
		err = s.handleCRDTListDelete(cn, raw)
	case wsproto.TypeInsert:
		err = s.handleMutation(cn, raw, "insert")
	case wsproto.TypeUpdate:
		err = s.handleMutation(cn, raw, "update")
	case wsproto.TypeMerge:
		err = s.handleMutation(cn, raw, "merge")
	case wsproto.TypeDelete:
		err = s.handleDelete(cn, raw)
	case wsproto.TypeBatchSync:
		err = s.handleBatchSync(cn, raw)
	case wsproto.TypeSync:
		err = s.handleSync(cn, raw)
	case wsproto.TypePresenceJoin:
		err = s.handlePresenceJoin(cn, raw)
	case wsproto.TypePresenceLeave:
		err = s.handlePresenceLeave(cn, raw)
	case wsproto.TypePresenceCursor:
		err = s.handlePresenceCursor(cn, raw)
	case wsproto.TypePing:
		err = cn.writeJSON(wsproto.Pong{Type: wsproto.TypePong, Time: time.Now()})
	default:
		s.sendError(cn, "", "unknown message type: "+env.Type)
		return
	}
	if err != nil {
		s.sendError(cn, env.Type, err.Error())
	}
}

func (s *Server) sendError(cn *conn, code, message string) {
	_ = cn.writeJSON(wsproto.Error{Type: wsproto.TypeError, Message: message, Code: code})
}

func (s *Server) handleSubscribe(cn *conn, raw []byte) error {
	var req wsproto.SubscribeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	s.hub.SubscribeCollection(cn.ID(), req.Collection)
	return cn.writeJSON(wsproto.Subscribed{Type: wsproto.TypeSubscribed, Collection: req.Collection})
}

func (s *Server) handleUnsubscribe(cn *conn, raw []byte) error {
	var req wsproto.SubscribeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	s.hub.UnsubscribeCollection(cn.ID(), req.Collection)
	return cn.writeJSON(wsproto.Subscribed{Type: wsproto.TypeUnsubscribed, Collection: req.Collection})
}

func (s *Server) handleSubscribeDoc(cn *conn, raw []byte) error {
	var req wsproto.SubscribeDocRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	s.hub.SubscribeDoc(cn.ID(), req.Collection, req.DocID)
	return cn.writeJSON(wsproto.Subscribed{Type: wsproto.TypeSubscribed, Collection: req.Collection})
}

func (s *Server) handleUnsubscribeDoc(cn *conn, raw []byte) error {
	var req wsproto.SubscribeDocRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	s.hub.UnsubscribeDoc(cn.ID(), req.Collection, req.DocID)
	return cn.writeJSON(wsproto.Subscribed{Type: wsproto.TypeUnsubscribed, Collection: req.Collection})
}

func (s *Server) handleCRDTGet(cn *conn, raw []byte) error {
	var req wsproto.CRDTGetRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	snap, ok := s.hub.Snapshot(req.Collection, req.DocID)
	if !ok {
		return hub.ErrNotFound
	}
	return cn.writeJSON(wsproto.CRDTState{Type: wsproto.TypeCRDTState, Collection: req.Collection, DocID: req.DocID, State: snap})
}

func (s *Server) handleCRDTOps(cn *conn, raw []byte) error {
	var req wsproto.CRDTOpsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	res, err := s.hub.ApplyOps(req.Collection, req.DocID, req.Operations, cn.ID())
	if err != nil {
		return err
	}
	return cn.writeJSON(wsproto.MutationOK{Type: wsproto.TypeUpdateOK, ID: req.DocID, Version: res.Version})
}

func (s *Server) handleCRDTSet(cn *conn, raw []byte) error {
	var req wsproto.CRDTSetRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	res, err := s.hub.CRDTSet(req.Collection, req.DocID, req.Path, req.Value, cn.ID())
	if err != nil {
		return err
	}
	return cn.writeJSON(wsproto.MutationOK{Type: wsproto.TypeUpdateOK, ID: req.DocID, Version: res.Version})
}

func (s *Server) handleCRDTListInsert(cn *conn, raw []byte) error {
	var req wsproto.CRDTListInsertRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	res, err := s.hub.CRDTListInsert(req.Collection, req.DocID, req.Path, req.Index, req.Value, cn.ID())
	if err != nil {
		return err
	}
	return cn.writeJSON(wsproto.MutationOK{Type: wsproto.TypeUpdateOK, ID: req.DocID, Version: res.Version})
}

func (s *Server) handleCRDTListDelete(cn *conn, raw []byte) error {
	var req wsproto.CRDTListDeleteRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	res, err := s.hub.CRDTListDelete(req.Collection, req.DocID, req.Path, req.Index, cn.ID())
	if err != nil {
		return err
	}
	return cn.writeJSON(wsproto.MutationOK{Type: wsproto.TypeUpdateOK, ID: req.DocID, Version: res.Version})
}

func (s *Server) handleMutation(cn *conn, raw []byte, operation string) error {
	var req wsproto.MutationRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	data := req.FieldData()

	var res hub.OpResult
	var err error
	switch operation {
	case "insert":
		res, err = s.hub.Insert(req.Collection, req.ID, data, cn.ID())
	case "update":
		res, err = s.hub.Update(req.Collection, req.ID, data, cn.ID())
	case "merge":
		res, err = s.hub.Merge(req.Collection, req.ID, data, cn.ID())
	}
	if err != nil {
		return err
	}

	okType := wsproto.TypeInsertOK
	if operation != "insert" {
		okType = wsproto.TypeUpdateOK
	}
	return cn.writeJSON(wsproto.MutationOK{Type: okType, ID: req.ID, Version: res.Version})
}

func (s *Server) handleDelete(cn *conn, raw []byte) error {
	var req wsproto.MutationRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	res, err := s.hub.Delete(req.Collection, req.ID, cn.ID())
	if err != nil {
		return err
	}
	return cn.writeJSON(wsproto.MutationOK{Type: wsproto.TypeDeleteOK, ID: req.ID, Version: res.Version})
}

func (s *Server) handleBatchSync(cn *conn, raw []byte) error {
	var req wsproto.BatchSyncRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	ops := make([]hub.BatchSyncOp, len(req.Operations))
	for i, o := range req.Operations {
		ops[i] = hub.BatchSyncOp{Collection: o.Collection, DocID: o.DocID, Op: o.Op}
	}
	results := s.hub.BatchSync(ops, cn.ID())

	wire := make([]wsproto.BatchSyncResult, len(results))
	for i, r := range results {
		opID := req.Operations[i].OpID
		if opID == "" {
			opID = r.OpID
		}
		errMsg := ""
		if !r.Success {
			errMsg = "rejected"
		}
		wire[i] = wsproto.BatchSyncResult{Success: r.Success, OpID: opID, Version: r.Version, Error: errMsg}
	}
	return cn.writeJSON(wsproto.BatchSyncOK{Type: wsproto.TypeBatchSyncOK, Results: wire})
}

func (s *Server) handleSync(cn *conn, raw []byte) error {
	var req wsproto.SyncRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	entries, serverTime, err := s.hub.Sync(req.Collection, req.Since)
	if err != nil {
		return err
	}
	changes := make([]wsproto.SyncChange, len(entries))
	for i, e := range entries {
		changes[i] = wsproto.SyncChange{DocID: e.DocID, Operation: e.Operation, Data: e.Data, Timestamp: e.ServerTimestamp}
	}
	return cn.writeJSON(wsproto.SyncResponse{Type: wsproto.TypeSyncResponse, Collection: req.Collection, Changes: changes, ServerTime: serverTime})
}

func (s *Server) handlePresenceJoin(cn *conn, raw []byte) error {
	var req wsproto.PresenceJoinRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	s.hub.SubscribeDoc(cn.ID(), req.Collection, req.DocID)
	s.hub.PresenceJoin(req.Collection, req.DocID, cn.ID(), req.User)
	return nil
}

func (s *Server) handlePresenceLeave(cn *conn, raw []byte) error {
	var req wsproto.PresenceLeaveRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	s.hub.PresenceLeave(req.Collection, req.DocID, cn.ID())
	return nil
}

func (s *Server) handlePresenceCursor(cn *conn, raw []byte) error {
	var req wsproto.PresenceCursorRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	s.hub.PresenceCursorUpdate(req.Collection, req.DocID, cn.ID(), req.Position, req.Selection)
	return nil
}
