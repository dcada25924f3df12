package crdt

import (
	"sync"
	"time"

	"hyperdoc/internal/vclock"
)

// Entry is one live or tombstoned slot in a MapLWW.
type Entry struct {
	Value     Value
	Clock     vclock.Clock
	NodeID    string
	Timestamp time.Time
	OpID      string
	Tombstone bool
}

// MapLWW is a Last-Writer-Wins register map: key -> {value, clock,
// nodeID, timestamp}, with a parallel tombstone space for deletes
// (spec.md §4.5 "Map-LWW"). It is the primitive every CRDT-Map node in
// the document arena is built from.
type MapLWW struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMapLWW returns an empty map register.
func NewMapLWW() *MapLWW {
	return &MapLWW{entries: make(map[string]Entry)}
}

// LocalSet applies a locally-originated set: the caller has already
// ticked its clock and minted an opID; LocalSet always wins over
// whatever was there, because a node never conflicts with itself.
func (m *MapLWW) LocalSet(key string, value Value, clock vclock.Clock, nodeID string, ts time.Time, opID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = Entry{Value: value, Clock: clock, NodeID: nodeID, Timestamp: ts, OpID: opID}
}

// LocalDelete applies a locally-originated delete, writing a tombstone
// at the given clock.
func (m *MapLWW) LocalDelete(key string, clock vclock.Clock, nodeID string, ts time.Time, opID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = Entry{Clock: clock, NodeID: nodeID, Timestamp: ts, OpID: opID, Tombstone: true}
}

// ApplyRemoteSet applies an incoming map_set per spec.md §4.5's remote
// apply rule: compare the incoming clock against whatever is currently
// at key (live entry or tombstone, a tombstone behaves as a ghost
// entry at its clock); LESS is dropped, GREATER is applied, CONCURRENT
// falls to the uniform LWW tiebreak. Returns whether the value changed.
func (m *MapLWW) ApplyRemoteSet(key string, value Value, clock vclock.Clock, nodeID string, ts time.Time, opID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.entries[key]
	if !exists {
		m.entries[key] = Entry{Value: value, Clock: clock, NodeID: nodeID, Timestamp: ts, OpID: opID}
		return true
	}

	rel := clock.Compare(current.Clock)
	switch rel {
	case vclock.Less, vclock.Equal:
		return false
	case vclock.Greater:
		m.entries[key] = Entry{Value: value, Clock: clock, NodeID: nodeID, Timestamp: ts, OpID: opID}
		return true
	default: // Concurrent
		if vclock.Tiebreak(current.NodeID, nodeID, current.Timestamp, ts, current.OpID, opID) == vclock.WinnerRemote {
			m.entries[key] = Entry{Value: value, Clock: clock, NodeID: nodeID, Timestamp: ts, OpID: opID}
			return true
		}
		return false
	}
}

// ApplyRemoteDelete applies an incoming map_delete symmetrically: a
// tombstone wins over a live set at a lower clock; concurrent with a
// live set, the uniform tiebreak decides.
func (m *MapLWW) ApplyRemoteDelete(key string, clock vclock.Clock, nodeID string, ts time.Time, opID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.entries[key]
	if !exists {
		m.entries[key] = Entry{Clock: clock, NodeID: nodeID, Timestamp: ts, OpID: opID, Tombstone: true}
		return true
	}

	rel := clock.Compare(current.Clock)
	switch rel {
	case vclock.Less, vclock.Equal:
		return false
	case vclock.Greater:
		m.entries[key] = Entry{Clock: clock, NodeID: nodeID, Timestamp: ts, OpID: opID, Tombstone: true}
		return true
	default: // Concurrent
		if vclock.Tiebreak(current.NodeID, nodeID, current.Timestamp, ts, current.OpID, opID) == vclock.WinnerRemote {
			m.entries[key] = Entry{Clock: clock, NodeID: nodeID, Timestamp: ts, OpID: opID, Tombstone: true}
			return true
		}
		return false
	}
}

// Get returns the live value for key, or ok=false if absent or
// tombstoned.
func (m *MapLWW) Get(key string) (Value, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || e.Tombstone {
		return Value{}, false
	}
	return e.Value, true
}

// Keys returns every live (non-tombstoned) key.
func (m *MapLWW) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if !e.Tombstone {
			keys = append(keys, k)
		}
	}
	return keys
}

// EntryAt exposes the full Entry (including tombstone state) for
// snapshotting and GC dominance checks.
func (m *MapLWW) EntryAt(key string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e, ok
}

// All returns a copy of every entry, live and tombstoned, for
// Snapshot().
func (m *MapLWW) All() map[string]Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Entry, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out
}

// PurgeTombstones physically removes every tombstoned entry older
// than cutoff, returning the number removed. The caller is
// responsible for having already established that every known replica
// has converged past cutoff (spec.md §4.10 tombstone GC) — this method
// just does the deletion.
func (m *MapLWW) PurgeTombstones(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, e := range m.entries {
		if e.Tombstone && e.Timestamp.Before(cutoff) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// Restore replaces the map's state wholesale, used by Document.Restore
// when rebuilding from a snapshot.
func (m *MapLWW) Restore(entries map[string]Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]Entry, len(entries))
	for k, v := range entries {
		m.entries[k] = v
	}
}
