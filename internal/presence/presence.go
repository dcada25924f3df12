// Package presence implements the ephemeral per-document participant
// tracking of spec.md §4.8: who is currently looking at a document,
// where their cursor/selection is, and an idle sweep that evicts
// participants the client never explicitly left. Nothing here is ever
// written to the shard pool or WAL (spec.md invariant 7).
package presence

import (
	"sync"
	"time"
)

// Record is one participant's live presence state.
type Record struct {
	NodeID    string
	UserInfo  any
	Cursor    any
	Selection any
	LastSeen  time.Time
}

type docKey struct{ collection, docID string }

// ChangeEvent describes one participant's presence changing.
// Presence is nil for a leave (explicit or TTL-expired).
type ChangeEvent struct {
	Collection string
	DocID      string
	NodeID     string
	Presence   *Record
}

// ChangeHook is notified synchronously after every join/leave/cursor
// update and every sweep-triggered synthetic leave.
type ChangeHook func(ev ChangeEvent)

// DefaultTTL matches spec.md §6's stated default.
const DefaultTTL = 30 * time.Second

// Manager owns every document's live participant map.
type Manager struct {
	mu   sync.Mutex
	docs map[docKey]map[string]Record
	ttl  time.Duration

	hooksMu sync.Mutex
	hooks   []ChangeHook

	stopCh chan struct{}
	doneCh chan struct{}
}

// New returns a Manager with the given idle TTL.
func New(ttl time.Duration) *Manager {
	return &Manager{docs: make(map[docKey]map[string]Record), ttl: ttl}
}

// OnChange registers a hook fired on every presence change.
func (m *Manager) OnChange(hook ChangeHook) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.hooks = append(m.hooks, hook)
}

func (m *Manager) fire(ev ChangeEvent) {
	m.hooksMu.Lock()
	hooks := append([]ChangeHook(nil), m.hooks...)
	m.hooksMu.Unlock()
	for _, h := range hooks {
		h(ev)
	}
}

// Join records nodeID as present on (collection, docID).
func (m *Manager) Join(collection, docID, nodeID string, userInfo any) {
	rec := Record{NodeID: nodeID, UserInfo: userInfo, LastSeen: time.Now()}
	m.set(collection, docID, nodeID, rec)
	m.fire(ChangeEvent{Collection: collection, DocID: docID, NodeID: nodeID, Presence: &rec})
}

// CursorUpdate moves nodeID's cursor/selection within (collection, docID).
func (m *Manager) CursorUpdate(collection, docID, nodeID string, cursor, selection any) {
	m.mu.Lock()
	k := docKey{collection, docID}
	rec, ok := m.docs[k][nodeID]
	if !ok {
		rec = Record{NodeID: nodeID}
	}
	rec.Cursor, rec.Selection, rec.LastSeen = cursor, selection, time.Now()
	if m.docs[k] == nil {
		m.docs[k] = make(map[string]Record)
	}
	m.docs[k][nodeID] = rec
	m.mu.Unlock()
	m.fire(ChangeEvent{Collection: collection, DocID: docID, NodeID: nodeID, Presence: &rec})
}

// Leave removes nodeID from (collection, docID)'s participant set.
func (m *Manager) Leave(collection, docID, nodeID string) {
	m.mu.Lock()
	k := docKey{collection, docID}
	_, existed := m.docs[k][nodeID]
	delete(m.docs[k], nodeID)
	m.mu.Unlock()
	if existed {
		m.fire(ChangeEvent{Collection: collection, DocID: docID, NodeID: nodeID, Presence: nil})
	}
}

// LeaveAll removes nodeID from every document it was present on —
// used when a client connection drops.
func (m *Manager) LeaveAll(nodeID string) {
	m.mu.Lock()
	var left []docKey
	for k, participants := range m.docs {
		if _, ok := participants[nodeID]; ok {
			delete(participants, nodeID)
			left = append(left, k)
		}
	}
	m.mu.Unlock()
	for _, k := range left {
		m.fire(ChangeEvent{Collection: k.collection, DocID: k.docID, NodeID: nodeID, Presence: nil})
	}
}

func (m *Manager) set(collection, docID, nodeID string, rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := docKey{collection, docID}
	if m.docs[k] == nil {
		m.docs[k] = make(map[string]Record)
	}
	m.docs[k][nodeID] = rec
}

// Participants returns a snapshot of (collection, docID)'s current
// participant set.
func (m *Manager) Participants(collection, docID string) map[string]Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Record)
	for nodeID, rec := range m.docs[docKey{collection, docID}] {
		out[nodeID] = rec
	}
	return out
}

// Start launches the idle sweeper, evicting participants past ttl and
// firing a synthetic leave for each.
func (m *Manager) Start(interval time.Duration) {
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go func() {
		defer close(m.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts the idle sweeper. Safe to call only after Start.
func (m *Manager) Stop() {
	if m.stopCh == nil {
		return
	}
	close(m.stopCh)
	<-m.doneCh
}

func (m *Manager) sweep() {
	type expired struct {
		k      docKey
		nodeID string
	}
	now := time.Now()
	var stale []expired

	m.mu.Lock()
	for k, participants := range m.docs {
		for nodeID, rec := range participants {
			if now.Sub(rec.LastSeen) > m.ttl {
				delete(participants, nodeID)
				stale = append(stale, expired{k, nodeID})
			}
		}
	}
	m.mu.Unlock()

	for _, e := range stale {
		m.fire(ChangeEvent{Collection: e.k.collection, DocID: e.k.docID, NodeID: e.nodeID, Presence: nil})
	}
}
