package hub

import (
	"sync"
	"time"

	"hyperdoc/internal/document"
)

type docKey struct{ collection, id string }

// DocRecord is the live, in-memory half of spec.md §3's Document
// entity: the CRDT state plus the top-level bookkeeping (version,
// soft-delete flag, timestamps) that sits alongside it rather than
// inside it.
type DocRecord struct {
	mu sync.Mutex

	Doc       *document.Document
	Version   uint64
	Deleted   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// persistedDoc is the JSON envelope written to a shard row's Value:
// the CRDT snapshot plus the bookkeeping fields DocRecord carries
// alongside it, so a restart's Bootstrap can rebuild both halves.
type persistedDoc struct {
	Snapshot  document.Snapshot `json:"snapshot"`
	Version   uint64            `json:"version"`
	Deleted   bool              `json:"deleted"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// docStore holds every live document this process has touched since
// start, keyed by (collection, id). It is not itself durable; durable
// state lives in the shard pool via Hub.persist, and Bootstrap
// rehydrates this map from there at startup.
type docStore struct {
	mu      sync.Mutex
	nodeID  string
	records map[docKey]*DocRecord
}

func newDocStore(nodeID string) *docStore {
	return &docStore{nodeID: nodeID, records: make(map[docKey]*DocRecord)}
}

func (s *docStore) getOrCreate(collection, id string) *DocRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := docKey{collection, id}
	rec, ok := s.records[k]
	if !ok {
		now := time.Now()
		rec = &DocRecord{Doc: document.New(s.nodeID), CreatedAt: now, UpdatedAt: now}
		s.records[k] = rec
	}
	return rec
}

func (s *docStore) get(collection, id string) (*DocRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[docKey{collection, id}]
	return rec, ok
}

func (s *docStore) put(collection, id string, rec *DocRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[docKey{collection, id}] = rec
}

// forEach calls fn for every currently-known (collection, id, record),
// snapshotting the key set first so fn is free to block without
// holding the store lock.
func (s *docStore) forEach(fn func(collection, id string, rec *DocRecord)) {
	s.mu.Lock()
	type entry struct {
		k   docKey
		rec *DocRecord
	}
	entries := make([]entry, 0, len(s.records))
	for k, rec := range s.records {
		entries = append(entries, entry{k, rec})
	}
	s.mu.Unlock()

	for _, e := range entries {
		fn(e.k.collection, e.k.id, e.rec)
	}
}
