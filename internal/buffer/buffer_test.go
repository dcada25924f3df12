package buffer

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"hyperdoc/internal/shard"
	"hyperdoc/internal/walog"
)

// memStore is an in-memory shard.Store fake so these tests don't
// depend on bbolt file I/O.
type memStore struct {
	mu   sync.Mutex
	data map[string]map[string]shard.Row
	fail bool
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]map[string]shard.Row)}
}

func (m *memStore) BatchUpsert(table string, rows []shard.Row) error {
	if m.fail {
		return errors.New("injected failure")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[table] == nil {
		m.data[table] = make(map[string]shard.Row)
	}
	for _, r := range rows {
		m.data[table][r.ID] = r
	}
	return nil
}

func (m *memStore) BatchDelete(table string, ids []string) error {
	if m.fail {
		return errors.New("injected failure")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.data[table], id)
	}
	return nil
}

func (m *memStore) Get(table, id string) (shard.Row, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.data[table][id]
	return row, ok, nil
}

func (m *memStore) Scan(table string, limit, offset int) ([]shard.Row, error) { return nil, nil }
func (m *memStore) Checkpoint() error                                         { return nil }
func (m *memStore) Close() error                                              { return nil }

func newTestBuffer(t *testing.T, stores []shard.Store) (*Buffer, string) {
	t.Helper()
	dir := t.TempDir()
	wal, err := walog.Open(filepath.Join(dir, "wal.log"))
	require.NoError(t, err)
	pool := shard.NewPool(stores)
	cfg := DefaultConfig()
	cfg.BufferSize = 100
	cfg.BatchSize = 100
	cfg.MaxRetries = 1
	return New(wal, pool, cfg), dir
}

func TestWriteThenFlushCommitsToShardAndTruncatesWAL(t *testing.T) {
	store := newMemStore()
	b, _ := newTestBuffer(t, []shard.Store{store})

	require.NoError(t, b.Write("docs", "a", walog.OpUpsert, []byte(`{"v":1}`)))
	require.NoError(t, b.FlushOnce())

	row, ok, err := store.Get("docs", "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"v":1}`, string(row.Value))

	entries, _, err := b.wal.ReadAll()
	require.NoError(t, err)
	require.Empty(t, entries, "WAL should be truncated once the buffer fully drains")
}

func TestWriteHookFiresOnAccept(t *testing.T) {
	store := newMemStore()
	b, _ := newTestBuffer(t, []shard.Store{store})

	var seen []string
	b.Subscribe(func(collection, id string, op walog.Op, value []byte) {
		seen = append(seen, collection+"/"+id)
	})

	require.NoError(t, b.Write("docs", "x", walog.OpUpsert, []byte(`{}`)))
	require.Equal(t, []string{"docs/x"}, seen)
}

func TestPeekReturnsMostRecentBufferedValue(t *testing.T) {
	store := newMemStore()
	b, _ := newTestBuffer(t, []shard.Store{store})

	require.NoError(t, b.Write("docs", "a", walog.OpUpsert, []byte(`{"v":1}`)))
	require.NoError(t, b.Write("docs", "a", walog.OpUpsert, []byte(`{"v":2}`)))

	value, op, found := b.Peek("docs", "a")
	require.True(t, found)
	require.Equal(t, walog.OpUpsert, op)
	require.Equal(t, `{"v":2}`, string(value))
}

func TestFlushFailureRetainsEntriesInBuffer(t *testing.T) {
	store := newMemStore()
	store.fail = true
	b, _ := newTestBuffer(t, []shard.Store{store})

	require.NoError(t, b.Write("docs", "a", walog.OpUpsert, []byte(`{}`)))
	err := b.FlushOnce()
	require.Error(t, err)

	_, _, found := b.Peek("docs", "a")
	require.True(t, found, "entries for a failed shard must stay queued for retry")
}

func TestRecoverReplaysWALIntoBuffer(t *testing.T) {
	store := newMemStore()
	b, dir := newTestBuffer(t, []shard.Store{store})
	require.NoError(t, b.Write("docs", "a", walog.OpUpsert, []byte(`{"v":1}`)))
	b.wal.Close()

	wal2, err := walog.Open(dir + "/wal.log")
	require.NoError(t, err)
	b2 := New(wal2, shard.NewPool([]shard.Store{store}), b.cfg)
	require.NoError(t, b2.Recover())

	row, ok, err := store.Get("docs", "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"v":1}`, string(row.Value))
}

func TestCloseDrainsAndClosesWAL(t *testing.T) {
	store := newMemStore()
	b, _ := newTestBuffer(t, []shard.Store{store})
	require.NoError(t, b.Write("docs", "a", walog.OpUpsert, []byte(`{}`)))
	require.NoError(t, b.Close())

	_, ok, err := store.Get("docs", "a")
	require.NoError(t, err)
	require.True(t, ok)
}
