// Package shard implements the HyperScale write engine's shard pool:
// N independent persistent key-value stores, keyed by a stable hash of
// the document ID (spec.md §4.2).
//
// Sharding is frozen at dataset creation: shard_index = hash(docID) mod
// N, where hash reads the first 4 bytes of a sha256 digest as a
// big-endian uint32 — the exact scheme the teacher's consistent-hash
// ring uses for placing nodes, here applied directly to pick a fixed
// shard instead of walking a ring (shard count never changes, so there
// is no need for the ring's virtual-node rebalancing machinery).
package shard

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"regexp"
)

// Row is one stored record, matching the persistent layout of spec.md §6.
type Row struct {
	ID        string
	Value     []byte
	Version   uint64
	CreatedAt int64 // unix nanos
	UpdatedAt int64
	Deleted   bool
}

// Store is the per-shard persistent store contract (spec.md §4.2). Any
// implementation honoring per-batch atomicity is valid; Pool is
// storage-engine agnostic.
type Store interface {
	BatchUpsert(table string, rows []Row) error
	BatchDelete(table string, ids []string) error
	Get(table, id string) (Row, bool, error)
	Scan(table string, limit, offset int) ([]Row, error)
	Checkpoint() error
	Close() error
}

var tableNameRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// SanitizeTableName validates a collection name against the
// [A-Za-z0-9_]+ contract shared by collections and shard tables.
func SanitizeTableName(name string) error {
	if !tableNameRe.MatchString(name) {
		return fmt.Errorf("invalid collection name %q: must match [A-Za-z0-9_]+", name)
	}
	return nil
}

// Index returns the shard index for docID given shardCount, using the
// frozen sha256-first-4-bytes scheme. Pure function of its two
// arguments, satisfying invariant 6 (shard stability).
func Index(docID string, shardCount int) int {
	sum := sha256.Sum256([]byte(docID))
	h := binary.BigEndian.Uint32(sum[:4])
	return int(h % uint32(shardCount))
}

// Pool owns shardCount independent Stores and routes by Index.
type Pool struct {
	shardCount int
	stores     []Store
}

// NewPool wires an already-constructed slice of per-shard stores into a
// Pool. Construction of the stores themselves (which storage engine,
// which files) is left to the caller (see OpenBoltPool for the default
// bbolt-backed construction) so Pool stays storage-engine agnostic per
// spec.md §9's storage-abstraction note.
func NewPool(stores []Store) *Pool {
	return &Pool{shardCount: len(stores), stores: stores}
}

// ShardCount returns N, frozen for the lifetime of the dataset.
func (p *Pool) ShardCount() int { return p.shardCount }

// StoreFor returns the store owning docID.
func (p *Pool) StoreFor(docID string) Store {
	return p.stores[Index(docID, p.shardCount)]
}

// StoreAt returns the store at a specific shard index, used by the
// flush path once entries are already grouped by shard index.
func (p *Pool) StoreAt(idx int) Store {
	return p.stores[idx]
}

// Close closes every shard store. Errors are collected but do not stop
// the remaining shards from also being closed.
func (p *Pool) Close() error {
	var firstErr error
	for _, s := range p.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Checkpoint flushes in-memory log pages on every shard.
func (p *Pool) Checkpoint() error {
	var firstErr error
	for _, s := range p.stores {
		if err := s.Checkpoint(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
