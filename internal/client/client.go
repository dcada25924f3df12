// Package client provides a Go SDK for talking to a HyperDoc node: a
// REST half for one-shot document operations and sync, and a WebSocket
// half for batch_sync and for watching a collection's live sync events.
// Sync (REST) and BatchSync (WS) together implement internal/reconciler's
// Transport interface so cmd/client can embed a Reconciler directly.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"hyperdoc/internal/reconciler"
	"hyperdoc/internal/wsproto"
)

// Client talks to ONE HyperDoc node. It does not implement clustering
// or replication logic itself — that is the node's job.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client against baseURL (e.g. "http://localhost:8080").
// timeout protects every REST call and the one-shot WS dials from
// hanging forever; a zero timeout falls back to 10s.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// DocResponse is the shape every GET/POST/PUT/PATCH document route
// answers with.
type DocResponse struct {
	ID      string         `json:"id"`
	Data    map[string]any `json:"data"`
	Version uint64         `json:"version"`
}

// Get retrieves a document by (collection, id).
func (c *Client) Get(ctx context.Context, collection, id string) (*DocResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/c/%s/%s", collection, id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out DocResponse
	return &out, json.NewDecoder(resp.Body).Decode(&out)
}

// Insert creates a document via POST.
func (c *Client) Insert(ctx context.Context, collection, id string, data map[string]any) (*DocResponse, error) {
	return c.mutate(ctx, http.MethodPost, collection, id, data)
}

// Put replaces a document's top-level fields via PUT.
func (c *Client) Put(ctx context.Context, collection, id string, data map[string]any) (*DocResponse, error) {
	return c.mutate(ctx, http.MethodPut, collection, id, data)
}

// Patch merges fields into a document via PATCH.
func (c *Client) Patch(ctx context.Context, collection, id string, data map[string]any) (*DocResponse, error) {
	return c.mutate(ctx, http.MethodPatch, collection, id, data)
}

func (c *Client) mutate(ctx context.Context, method, collection, id string, data map[string]any) (*DocResponse, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, method, fmt.Sprintf("/api/c/%s/%s", collection, id), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out DocResponse
	return &out, json.NewDecoder(resp.Body).Decode(&out)
}

// Delete removes a document.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/c/%s/%s", collection, id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// ListCollectionResponse is what GET /api/c/:collection answers.
type ListCollectionResponse struct {
	Collection string           `json:"collection"`
	Docs       []map[string]any `json:"docs"`
}

// ListCollection lists documents in collection, paginated.
func (c *Client) ListCollection(ctx context.Context, collection string, limit, skip int) (*ListCollectionResponse, error) {
	path := fmt.Sprintf("/api/c/%s?limit=%d&skip=%d", collection, limit, skip)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out ListCollectionResponse
	return &out, json.NewDecoder(resp.Body).Decode(&out)
}

// Collections lists every collection name the node has ever written.
func (c *Client) Collections(ctx context.Context) ([]string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/collections", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out struct {
		Collections []string `json:"collections"`
	}
	return out.Collections, json.NewDecoder(resp.Body).Decode(&out)
}

// Sync implements reconciler.Transport over the REST sync endpoint.
func (c *Client) Sync(ctx context.Context, collection string, since time.Time) ([]reconciler.SyncEntry, time.Time, error) {
	path := fmt.Sprintf("/api/c/%s/sync", collection)
	if !since.IsZero() {
		path += "?since=" + url.QueryEscape(since.Format(time.RFC3339Nano))
	}
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, time.Time{}, err
	}

	var out struct {
		Collection string             `json:"collection"`
		Changes    []wsproto.SyncChange `json:"changes"`
		ServerTime time.Time          `json:"server_time"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, time.Time{}, err
	}

	entries := make([]reconciler.SyncEntry, len(out.Changes))
	for i, ch := range out.Changes {
		entries[i] = reconciler.SyncEntry{
			Collection:      collection,
			DocID:           ch.DocID,
			Operation:       ch.Operation,
			Data:            ch.Data,
			ServerTimestamp: ch.Timestamp,
		}
	}
	return entries, out.ServerTime, nil
}

// BatchSync implements reconciler.Transport over the `batch_sync` WS
// message: a fresh connection is dialed, the request sent, and the
// matching reply read back before the socket is closed — one-shot,
// matching how a CLI-embedded reconciler drains its offline queue in
// a single burst rather than holding a connection open.
func (c *Client) BatchSync(ctx context.Context, ops []reconciler.WireOp) ([]reconciler.OpResult, error) {
	ws, err := c.dialWS(ctx)
	if err != nil {
		return nil, err
	}
	defer ws.Close()

	var connected wsproto.Connected
	if err := ws.ReadJSON(&connected); err != nil {
		return nil, fmt.Errorf("websocket handshake: %w", err)
	}

	req := wsproto.BatchSyncRequest{Type: wsproto.TypeBatchSync, Operations: make([]wsproto.BatchSyncOpRequest, len(ops))}
	for i, op := range ops {
		req.Operations[i] = wsproto.BatchSyncOpRequest{
			OpID: op.Op.OpID, Type: "batch_sync_op",
			Collection: op.Collection, DocID: op.DocID, Op: op.Op,
		}
	}
	if err := ws.WriteJSON(req); err != nil {
		return nil, err
	}

	var ok wsproto.BatchSyncOK
	if err := ws.ReadJSON(&ok); err != nil {
		return nil, fmt.Errorf("batch_sync response: %w", err)
	}

	results := make([]reconciler.OpResult, len(ok.Results))
	for i, r := range ok.Results {
		results[i] = reconciler.OpResult{OpID: r.OpID, Success: r.Success, Version: r.Version}
	}
	return results, nil
}

// Watch dials the WS endpoint, subscribes to collection, and invokes
// onEvent for every sync push until ctx is cancelled or the socket
// closes.
func (c *Client) Watch(ctx context.Context, collection string, onEvent func(wsproto.SyncEvent)) error {
	ws, err := c.dialWS(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()

	var connected wsproto.Connected
	if err := ws.ReadJSON(&connected); err != nil {
		return fmt.Errorf("websocket handshake: %w", err)
	}
	if err := ws.WriteJSON(wsproto.SubscribeRequest{Type: wsproto.TypeSubscribe, Collection: collection}); err != nil {
		return err
	}
	var sub wsproto.Subscribed
	if err := ws.ReadJSON(&sub); err != nil {
		return fmt.Errorf("subscribe ack: %w", err)
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		ws.Close()
		close(done)
	}()

	for {
		var env wsproto.Envelope
		_, raw, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return nil
			default:
				return err
			}
		}
		if json.Unmarshal(raw, &env) != nil || env.Type != wsproto.TypeSyncEvent {
			continue
		}
		var ev wsproto.SyncEvent
		if json.Unmarshal(raw, &ev) == nil {
			onEvent(ev)
		}
	}
}

func (c *Client) dialWS(ctx context.Context) (*websocket.Conn, error) {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws"
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = c.httpClient.Timeout
	ws, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	return ws, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// GetRaw issues a raw GET against path and returns the body as a
// string, for ad hoc endpoints (like /health) a typed method doesn't
// cover.
func (c *Client) GetRaw(ctx context.Context, path string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), checkStatus(resp)
}

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = fmt.Errorf("document not found")

// APIError carries the HTTP status and the error message from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(body)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
