// Package cache implements the bounded, TTL'd read-through cache of
// spec.md §4.4: a (collection, id) -> {value, expiry, source} map that
// is write-through on every buffered write and read-after-write aware
// on every miss.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"hyperdoc/internal/buffer"
	"hyperdoc/internal/shard"
	"hyperdoc/internal/walog"
)

// DefaultTTL matches spec.md §6's stated default.
const DefaultTTL = 60 * time.Second

// DefaultSize is a reasonable bound for the number of hot
// (collection, id) entries kept resident; override via config.
const DefaultSize = 10_000

type entry struct {
	value  []byte
	op     walog.Op
	expiry time.Time
}

// Cache is the bounded read-through cache sitting in front of a write
// buffer and a shard pool.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache
	ttl time.Duration

	buf    *buffer.Buffer
	shards *shard.Pool
}

// New builds a Cache of the given size/ttl, subscribing to buf so
// every accepted write populates the cache with source=buffered
// without buf needing to import this package.
func New(buf *buffer.Buffer, shards *shard.Pool, size int, ttl time.Duration) (*Cache, error) {
	l, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	c := &Cache{lru: l, ttl: ttl, buf: buf, shards: shards}
	buf.Subscribe(c.onWrite)
	return c, nil
}

func cacheKey(collection, id string) string {
	return collection + "\x00" + id
}

func (c *Cache) onWrite(collection, id string, op walog.Op, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(cacheKey(collection, id), entry{value: value, op: op, expiry: time.Now().Add(c.ttl)})
}

// ReadOptions tunes a single Get call.
type ReadOptions struct {
	// Sync forces a synchronous buffer flush before the read, so the
	// caller observes durable (shard-committed) state.
	Sync bool
}

// Get resolves (collection, id): cache, then the write buffer
// (read-after-write), then the owning shard. Returns found=false for
// a cache/buffer/shard miss or for a live delete tombstone.
func (c *Cache) Get(collection, id string, opts ReadOptions) ([]byte, bool, error) {
	if opts.Sync {
		if err := c.buf.ForceFlush(); err != nil {
			return nil, false, err
		}
	}

	if value, op, ok := c.getFresh(collection, id); ok {
		if op == walog.OpDelete {
			return nil, false, nil
		}
		return value, true, nil
	}

	if value, op, found := c.buf.Peek(collection, id); found {
		c.put(collection, id, op, value)
		if op == walog.OpDelete {
			return nil, false, nil
		}
		return value, true, nil
	}

	row, ok, err := c.shards.StoreFor(id).Get(collection, id)
	if err != nil {
		return nil, false, err
	}
	if !ok || row.Deleted {
		return nil, false, nil
	}
	c.put(collection, id, walog.OpUpsert, row.Value)
	return row.Value, true, nil
}

func (c *Cache) getFresh(collection, id string) ([]byte, walog.Op, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(collection, id)
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, "", false
	}
	e := v.(entry)
	if time.Now().After(e.expiry) {
		c.lru.Remove(key)
		return nil, "", false
	}
	return e.value, e.op, true
}

func (c *Cache) put(collection, id string, op walog.Op, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(cacheKey(collection, id), entry{value: value, op: op, expiry: time.Now().Add(c.ttl)})
}

// Invalidate drops a single (collection, id) entry, used by the
// document layer when a remote op changes state the cache might be
// holding a now-stale copy of.
func (c *Cache) Invalidate(collection, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(cacheKey(collection, id))
}
