package cache

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"hyperdoc/internal/buffer"
	"hyperdoc/internal/shard"
	"hyperdoc/internal/walog"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]map[string]shard.Row
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]map[string]shard.Row)}
}

func (m *memStore) BatchUpsert(table string, rows []shard.Row) error {
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
	if !ok {
		return shard.Row{}, false, nil
	}
	return row, true, nil
}

func (m *memStore) Scan(table string, limit, offset int) ([]shard.Row, error) { return nil, nil }
func (m *memStore) Checkpoint() error                                         { return nil }
func (m *memStore) Close() error                                              { return nil }

func newTestRig(t *testing.T) (*Cache, *buffer.Buffer, *memStore) {
	t.Helper()
	dir := t.TempDir()
	wal, err := walog.Open(filepath.Join(dir, "wal.log"))
	require.NoError(t, err)
	store := newMemStore()
	pool := shard.NewPool([]shard.Store{store})
	cfg := buffer.DefaultConfig()
	buf := buffer.New(wal, pool, cfg)
	c, err := New(buf, pool, 100, DefaultTTL)
	require.NoError(t, err)
	return c, buf, store
}

func TestGetHitsCacheAfterBufferedWrite(t *testing.T) {
	c, buf, _ := newTestRig(t)
	require.NoError(t, buf.Write("docs", "a", walog.OpUpsert, []byte(`{"v":1}`)))

	value, found, err := c.Get("docs", "a", ReadOptions{})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, `{"v":1}`, string(value))
}

func TestGetFallsThroughToBufferOnCacheMiss(t *testing.T) {
	c, buf, _ := newTestRig(t)
	require.NoError(t, buf.Write("docs", "a", walog.OpUpsert, []byte(`{"v":2}`)))
	c.Invalidate("docs", "a") // force past the cache, exercise buffer.Peek

	value, found, err := c.Get("docs", "a", ReadOptions{})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, `{"v":2}`, string(value))
}

func TestGetFallsThroughToShardAfterFlush(t *testing.T) {
	c, buf, _ := newTestRig(t)
	require.NoError(t, buf.Write("docs", "a", walog.OpUpsert, []byte(`{"v":3}`)))
	require.NoError(t, buf.FlushOnce())
	c.Invalidate("docs", "a")

	value, found, err := c.Get("docs", "a", ReadOptions{})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, `{"v":3}`, string(value))
}

func TestGetReturnsNotFoundForDeletedEntry(t *testing.T) {
	c, buf, _ := newTestRig(t)
	require.NoError(t, buf.Write("docs", "a", walog.OpUpsert, []byte(`{"v":1}`)))
	require.NoError(t, buf.Write("docs", "a", walog.OpDelete, nil))

	_, found, err := c.Get("docs", "a", ReadOptions{})
	require.NoError(t, err)
	require.False(t, found)
}

func TestGetSyncForcesFlushBeforeRead(t *testing.T) {
	c, buf, store := newTestRig(t)
	require.NoError(t, buf.Write("docs", "a", walog.OpUpsert, []byte(`{"v":4}`)))

	_, found, err := c.Get("docs", "a", ReadOptions{Sync: true})
	require.NoError(t, err)
	require.True(t, found)

	_, ok, err := store.Get("docs", "a")
	require.NoError(t, err)
	require.True(t, ok, "sync=true read should have forced a flush to the shard")
}

func TestExpiredEntryIsEvictedAndRefetched(t *testing.T) {
	c, buf, _ := newTestRig(t)
	c.ttl = time.Millisecond
	require.NoError(t, buf.Write("docs", "a", walog.OpUpsert, []byte(`{"v":5}`)))
	time.Sleep(5 * time.Millisecond)

	value, found, err := c.Get("docs", "a", ReadOptions{})
	require.NoError(t, err)
	require.True(t, found, "expired cache entry should fall through to buffer/shard, not vanish")
	require.Equal(t, `{"v":5}`, string(value))
}
