// Package buffer implements the write buffer + WAL write path of
// spec.md §4.3: every accepted write lands in the WAL before the
// in-memory buffer, is flushed to the shard pool on a timer/overflow/
// close, and the WAL is only truncated once a drain has been
// committed cleanly.
package buffer

import (
	"log/slog"
	"sync"
	"time"

	"hyperdoc/internal/shard"
	"hyperdoc/internal/walog"
)

// Config holds the write-buffer tunables from spec.md §6's
// configuration table.
type Config struct {
	BufferSize    int           // per-collection entry count that forces an immediate flush
	BatchSize     int           // entries drained per collection per flush cycle
	FlushInterval time.Duration // periodic flush cadence
	MaxRetries    int           // per-shard commit retry budget
	BackoffCap    time.Duration // exponential backoff ceiling
}

// DefaultConfig matches spec.md §6's stated defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:    10000,
		BatchSize:     1000,
		FlushInterval: 100 * time.Millisecond,
		MaxRetries:    5,
		BackoffCap:    5 * time.Second,
	}
}

// pending is one not-yet-flushed write, already WAL-durable.
type pending struct {
	id        string
	op        walog.Op
	value     []byte
	timestamp time.Time
}

// WriteHook is notified synchronously after an accepted write lands in
// the buffer — the read cache subscribes to this to write through with
// a `_buffered=true` marker without the buffer package needing to know
// the cache exists.
type WriteHook func(collection, id string, op walog.Op, value []byte)

// Buffer is the per-dataset write buffer: one bounded queue per
// collection, backed by a single shared WAL file and a shard pool it
// flushes into.
type Buffer struct {
	cfg    Config
	wal    *walog.WAL
	shards *shard.Pool

	mu           sync.Mutex
	byCollection map[string][]pending

	flushMu sync.Mutex // serializes flush cycles (timer, overflow, and Close can all trigger one)

	hooksMu sync.Mutex
	hooks   []WriteHook

	stopCh chan struct{}
	doneCh chan struct{}

	log *slog.Logger
}

// New wires a Buffer to an already-open WAL and shard pool. Callers
// should call Recover before Start on a fresh process so any
// crash-time WAL contents are replayed first.
func New(wal *walog.WAL, shards *shard.Pool, cfg Config) *Buffer {
	return &Buffer{
		cfg:          cfg,
		wal:          wal,
		shards:       shards,
		byCollection: make(map[string][]pending),
		log:          slog.Default().With("component", "buffer"),
	}
}

// Subscribe registers a hook invoked after every accepted write.
func (b *Buffer) Subscribe(hook WriteHook) {
	b.hooksMu.Lock()
	defer b.hooksMu.Unlock()
	b.hooks = append(b.hooks, hook)
}

func (b *Buffer) notify(collection, id string, op walog.Op, value []byte) {
	b.hooksMu.Lock()
	hooks := append([]WriteHook(nil), b.hooks...)
	b.hooksMu.Unlock()
	for _, h := range hooks {
		h(collection, id, op, value)
	}
}

// Write executes the spec.md §4.3 write path: WAL append, buffer
// insert, write-through hook, then an immediate flush if the
// collection's queue has hit BufferSize.
func (b *Buffer) Write(collection, id string, op walog.Op, value []byte) error {
	ts := time.Now()
	entry := walog.Entry{Collection: collection, ID: id, Op: op, Value: value, Timestamp: ts}
	if err := b.wal.Append(entry); err != nil {
		return err
	}

	b.mu.Lock()
	b.byCollection[collection] = append(b.byCollection[collection], pending{id: id, op: op, value: value, timestamp: ts})
	overflow := len(b.byCollection[collection]) >= b.cfg.BufferSize
	b.mu.Unlock()

	b.notify(collection, id, op, value)

	if overflow {
		return b.FlushOnce()
	}
	return nil
}

// Peek returns the most recently buffered value for (collection, id),
// used by the read cache's read-after-write consultation (spec.md
// §4.4).
func (b *Buffer) Peek(collection, id string) (value []byte, op walog.Op, found bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.byCollection[collection]
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].id == id {
			return entries[i].value, entries[i].op, true
		}
	}
	return nil, "", false
}

// Start launches the periodic flush timer. Safe to call once.
func (b *Buffer) Start() {
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	go func() {
		defer close(b.doneCh)
		ticker := time.NewTicker(b.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.FlushOnce()
			case <-b.stopCh:
				return
			}
		}
	}()
}

// Close stops the flush timer and forces a synchronous drain of every
// buffered collection before returning, then closes the WAL.
func (b *Buffer) Close() error {
	if b.stopCh != nil {
		close(b.stopCh)
		<-b.doneCh
	}
	if err := b.drainAll(); err != nil {
		return err
	}
	return b.wal.Close()
}

// ForceFlush drains every buffered collection synchronously without
// stopping the timer — the backing call for a `sync=true` read.
func (b *Buffer) ForceFlush() error {
	return b.drainAll()
}

func (b *Buffer) drainAll() error {
	for {
		if b.isEmpty() {
			return nil
		}
		if err := b.FlushOnce(); err != nil {
			return err
		}
	}
}

func (b *Buffer) isEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, entries := range b.byCollection {
		if len(entries) > 0 {
			return false
		}
	}
	return true
}
