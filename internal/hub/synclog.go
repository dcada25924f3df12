package hub

import (
	"encoding/binary"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

// SyncLogEntry is one append-only record backing `sync(collection,
// since)` resync and cross-server relay (spec.md §3 "Sync log entry").
type SyncLogEntry struct {
	Seq             uint64          `json:"seq"`
	Collection      string          `json:"collection"`
	DocID           string          `json:"doc_id"`
	Operation       string          `json:"operation"`
	Data            json.RawMessage `json:"data,omitempty"`
	ClientID        string          `json:"client_id,omitempty"`
	ServerTimestamp time.Time       `json:"server_timestamp"`
}

var (
	syncLogBucket     = []byte("__syncog")
	collectionsBucket = []byte("__collections")
)

// SyncLog is the process-wide append-only store backing resync.
// Unlike the shard pool (sharded by document id), the sync log is a
// single ordered sequence shared by every collection, so it lives in
// its own bbolt file rather than being spread across shards.
type SyncLog struct {
	db *bolt.DB
}

// OpenSyncLog opens (creating if absent) the sync log at path.
func OpenSyncLog(path string) (*SyncLog, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(syncLogBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(collectionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SyncLog{db: db}, nil
}

// Append assigns e a monotonic sequence number and server timestamp
// (if unset) and persists it.
func (s *SyncLog) Append(e SyncLogEntry) (SyncLogEntry, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(syncLogBucket)
		seq, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		e.Seq = seq
		if e.ServerTimestamp.IsZero() {
			e.ServerTimestamp = time.Now()
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return bkt.Put(itob(seq), data)
	})
	return e, err
}

// Since returns every entry for collection with ServerTimestamp after
// since, in append order.
func (s *SyncLog) Since(collection string, since time.Time) ([]SyncLogEntry, error) {
	var out []SyncLogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(syncLogBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e SyncLogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.Collection == collection && e.ServerTimestamp.After(since) {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

// EnsureCollection records name in the collection catalog so a
// restart's Bootstrap knows to scan every shard for it.
func (s *SyncLog) EnsureCollection(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(collectionsBucket).Put([]byte(name), []byte{1})
	})
}

// Collections lists every collection name ever written.
func (s *SyncLog) Collections() ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(collectionsBucket).ForEach(func(k, _ []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	return out, err
}

// Close closes the underlying bbolt file.
func (s *SyncLog) Close() error { return s.db.Close() }

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
