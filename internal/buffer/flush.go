package buffer

import (
	"fmt"
	"time"

	"hyperdoc/internal/shard"
	"hyperdoc/internal/walog"
)

// shardBatch groups one flush window's entries that landed on the
// same shard, by collection table.
type shardBatch struct {
	upserts map[string][]shard.Row
	deletes map[string][]string
}

type originEntry struct {
	collection string
	p          pending
}

// FlushOnce drains up to BatchSize entries per collection, groups them
// by shard index, and commits each shard's batch as a single atomic
// transaction (spec.md §4.3 Flush steps 1-3). Entries belonging to a
// shard whose commit ultimately fails (after retry/backoff) are
// returned to the head of their collection's queue so the WAL still
// protects them; entries for shards that succeeded are not re-queued.
// Only when the whole buffer is empty after this cycle does the WAL
// get truncated — a single shared WAL file (like the teacher's) has
// no notion of a "prefix", so a full in-memory drain is the point at
// which truncation is safe.
func (b *Buffer) FlushOnce() error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	drained, ok := b.drainWindow()
	if !ok {
		return nil
	}

	byShard, origin := b.groupByShard(drained)

	var failedShards []int
	for idx, batch := range byShard {
		if err := b.commitShardWithRetry(idx, batch); err != nil {
			failedShards = append(failedShards, idx)
		}
	}

	if len(failedShards) > 0 {
		b.requeue(failedShards, origin)
		b.log.Warn("flush failed, entries retained in buffer", "failed_shards", failedShards)
		return fmt.Errorf("buffer: flush failed for %d shard(s), entries retained for retry", len(failedShards))
	}

	if b.isEmpty() {
		return b.wal.Truncate()
	}
	return nil
}

func (b *Buffer) drainWindow() (map[string][]pending, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	drained := make(map[string][]pending)
	for coll, entries := range b.byCollection {
		if len(entries) == 0 {
			continue
		}
		n := len(entries)
		if n > b.cfg.BatchSize {
			n = b.cfg.BatchSize
		}
		drained[coll] = append([]pending(nil), entries[:n]...)
		remaining := entries[n:]
		if len(remaining) == 0 {
			delete(b.byCollection, coll)
		} else {
			b.byCollection[coll] = remaining
		}
	}
	return drained, len(drained) > 0
}

func (b *Buffer) groupByShard(drained map[string][]pending) (map[int]*shardBatch, map[int][]originEntry) {
	byShard := make(map[int]*shardBatch)
	origin := make(map[int][]originEntry)

	for coll, entries := range drained {
		for _, p := range entries {
			idx := shard.Index(p.id, b.shards.ShardCount())
			batch, ok := byShard[idx]
			if !ok {
				batch = &shardBatch{upserts: make(map[string][]shard.Row), deletes: make(map[string][]string)}
				byShard[idx] = batch
			}
			switch p.op {
			case walog.OpUpsert:
				version := nextVersion(b.shards.StoreAt(idx), coll, p.id)
				batch.upserts[coll] = append(batch.upserts[coll], shard.Row{
					ID: p.id, Value: p.value, Version: version,
					CreatedAt: p.timestamp.UnixNano(), UpdatedAt: p.timestamp.UnixNano(),
				})
			case walog.OpDelete:
				batch.deletes[coll] = append(batch.deletes[coll], p.id)
			}
			origin[idx] = append(origin[idx], originEntry{collection: coll, p: p})
		}
	}
	return byShard, origin
}

func (b *Buffer) requeue(failedShards []int, origin map[int][]originEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, idx := range failedShards {
		for _, oe := range origin[idx] {
			b.byCollection[oe.collection] = append([]pending{oe.p}, b.byCollection[oe.collection]...)
		}
	}
}

// commitShardWithRetry commits one shard's grouped batch, retrying
// with exponential backoff capped at cfg.BackoffCap — the same
// retry/backoff shape the teacher used for quorum replica writes,
// repurposed here for a single shard's durable commit.
func (b *Buffer) commitShardWithRetry(idx int, batch *shardBatch) error {
	store := b.shards.StoreAt(idx)
	backoff := 50 * time.Millisecond
	var lastErr error

	for attempt := 0; attempt <= b.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
			if backoff > b.cfg.BackoffCap {
				backoff = b.cfg.BackoffCap
			}
		}

		lastErr = commitOnce(store, batch)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

// commitOnce performs the upserts then the deletes for one shard. A
// partial failure here (upserts landed, deletes didn't, or vice versa)
// is the "partial batch failure" fatal case of spec.md §4.3 — it is
// surfaced as an error and the caller's retry loop will re-attempt the
// whole batch, which is safe because BatchUpsert/BatchDelete are
// themselves idempotent (last-write-wins by id).
func commitOnce(store shard.Store, batch *shardBatch) error {
	for table, rows := range batch.upserts {
		if err := store.BatchUpsert(table, rows); err != nil {
			return err
		}
	}
	for table, ids := range batch.deletes {
		if err := store.BatchDelete(table, ids); err != nil {
			return err
		}
	}
	return nil
}

func nextVersion(store shard.Store, table, id string) uint64 {
	row, ok, err := store.Get(table, id)
	if err != nil || !ok {
		return 1
	}
	return row.Version + 1
}
