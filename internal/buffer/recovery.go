package buffer

// Recover replays the WAL into the in-memory buffer and drains it
// before the buffer starts serving new writes (spec.md §4.3 "Recovery
// on startup"). The WAL is only truncated once that replay has been
// flushed cleanly, so a crash mid-recovery simply replays the same
// entries again next time.
func (b *Buffer) Recover() error {
	entries, clean, err := b.wal.ReadAll()
	if err != nil {
		return err
	}
	if !clean {
		b.log.Warn("WAL recovery found a truncated trailing entry, replaying everything before it")
	}

	if len(entries) == 0 {
		return nil
	}

	b.mu.Lock()
	for _, e := range entries {
		b.byCollection[e.Collection] = append(b.byCollection[e.Collection], pending{
			id: e.ID, op: e.Op, value: e.Value, timestamp: e.Timestamp,
		})
	}
	b.mu.Unlock()

	return b.drainAll()
}
