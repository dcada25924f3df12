// Package snapshotgc persists a periodic full-repository snapshot of
// every loaded document to disk for fast client bootstrap, and drives
// the CRDT tombstone GC sweep (spec.md §4.10) on a timer, the way
// internal/buffer drives its own flush timer.
package snapshotgc

import (
	"encoding/json"
	"os"

	"hyperdoc/internal/hub"
)

// Manager saves and loads a full-repository snapshot file using the
// write-tmp-then-rename pattern: the old snapshot is only ever
// replaced once the new one is completely on disk, so a crash
// mid-write never leaves a half-written snapshot in place.
type Manager struct {
	path string
}

// NewManager returns a Manager writing to path.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Save writes every document snapshot in docs to disk atomically.
func (m *Manager) Save(docs map[string]hub.DocSnapshotExport) error {
	data, err := json.Marshal(docs)
	if err != nil {
		return err
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}

// Load reads back the last saved full-repository snapshot, returning
// a nil map with no error if no snapshot has ever been written.
func (m *Manager) Load() (map[string]hub.DocSnapshotExport, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var docs map[string]hub.DocSnapshotExport
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}
