package hub

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hyperdoc/internal/buffer"
	"hyperdoc/internal/cache"
	"hyperdoc/internal/crdt"
	"hyperdoc/internal/document"
	"hyperdoc/internal/relay"
	"hyperdoc/internal/shard"
	"hyperdoc/internal/vclock"
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
	return row, ok, nil
}

func (m *memStore) Scan(table string, limit, offset int) ([]shard.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []shard.Row
	i := 0
	for _, row := range m.data[table] {
		if i < offset {
			i++
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, row)
		i++
	}
	return out, nil
}

func (m *memStore) Checkpoint() error { return nil }
func (m *memStore) Close() error      { return nil }

func newTestHub(t *testing.T) (*Hub, *memStore) {
	t.Helper()
	dir := t.TempDir()
	wal, err := walog.Open(filepath.Join(dir, "wal.log"))
	require.NoError(t, err)
	store := newMemStore()
	pool := shard.NewPool([]shard.Store{store})
	buf := buffer.New(wal, pool, buffer.DefaultConfig())
	c, err := cache.New(buf, pool, 100, cache.DefaultTTL)
	require.NoError(t, err)
	sl, err := OpenSyncLog(filepath.Join(dir, "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sl.Close() })
	return New("node-1", buf, c, pool, sl), store
}

type fakeSub struct {
	id       string
	mu       sync.Mutex
	received []any
}

func (f *fakeSub) ID() string { return f.id }
func (f *fakeSub) Send(msg any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, msg)
	return nil
}
func (f *fakeSub) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func TestInsertThenGetRoundTrips(t *testing.T) {
	h, _ := newTestHub(t)
	res, err := h.Insert("docs", "a", map[string]any{"title": "hello"}, "client-1")
	require.NoError(t, err)
	require.True(t, res.Success)

	data, version, found := h.Get("docs", "a")
	require.True(t, found)
	require.EqualValues(t, 1, version)
	require.Equal(t, "hello", data["title"])
}

func TestUpdateOnlyTouchesGivenFields(t *testing.T) {
	h, _ := newTestHub(t)
	_, err := h.Insert("docs", "a", map[string]any{"title": "hello", "views": float64(1)}, "client-1")
	require.NoError(t, err)

	_, err = h.Update("docs", "a", map[string]any{"views": float64(2)}, "client-1")
	require.NoError(t, err)

	data, _, found := h.Get("docs", "a")
	require.True(t, found)
	require.Equal(t, "hello", data["title"])
	require.Equal(t, float64(2), data["views"])
}

func TestDeleteTombstonesAndReadsAsNotFound(t *testing.T) {
	h, _ := newTestHub(t)
	_, err := h.Insert("docs", "a", map[string]any{"title": "hello"}, "client-1")
	require.NoError(t, err)

	_, err = h.Delete("docs", "a", "client-1")
	require.NoError(t, err)

	_, _, found := h.Get("docs", "a")
	require.False(t, found)
}

func TestDeleteUnknownDocumentReturnsNotFound(t *testing.T) {
	h, _ := newTestHub(t)
	_, err := h.Delete("docs", "ghost", "client-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBroadcastSkipsOriginatorAndNotifiesOthers(t *testing.T) {
	h, _ := newTestHub(t)
	writer := &fakeSub{id: "writer"}
	watcher := &fakeSub{id: "watcher"}
	h.Connect(writer)
	h.Connect(watcher)
	require.True(t, h.SubscribeCollection("writer", "docs"))
	require.True(t, h.SubscribeCollection("watcher", "docs"))

	_, err := h.Insert("docs", "a", map[string]any{"title": "hello"}, "writer")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return watcher.count() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, 0, writer.count(), "the originating client must never be echoed its own mutation")
}

func TestDocSubscriberReceivesOps(t *testing.T) {
	h, _ := newTestHub(t)
	watcher := &fakeSub{id: "watcher"}
	h.Connect(watcher)
	require.True(t, h.SubscribeDoc("watcher", "docs", "a"))

	_, err := h.Insert("docs", "a", map[string]any{"title": "hello"}, "writer")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return watcher.count() == 1 }, time.Second, time.Millisecond)
	evt, ok := watcher.received[0].(DocOpEvent)
	require.True(t, ok)
	require.Len(t, evt.Ops, 1)
	require.Equal(t, document.OpMapSet, evt.Ops[0].Kind)
}

func TestSyncReturnsEntriesSinceTimestamp(t *testing.T) {
	h, _ := newTestHub(t)
	cutoff := time.Now()
	_, err := h.Insert("docs", "a", map[string]any{"title": "hello"}, "client-1")
	require.NoError(t, err)

	entries, _, err := h.Sync("docs", cutoff)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "insert", entries[0].Operation)
}

func TestBatchSyncAppliesEachOpIndependently(t *testing.T) {
	h, _ := newTestHub(t)
	goodClock := vclock.Clock{"remote": 1}
	badOp := document.Op{OpID: "", Kind: document.OpMapSet, Path: nil} // empty path -> rejected

	goodOp := document.Op{
		OpID: "op-1", Kind: document.OpMapSet, Path: []string{"title"},
		Value: crdt.FromNative("hi"), Clock: goodClock, NodeID: "remote", Timestamp: time.Now(),
	}

	results := h.BatchSync([]BatchSyncOp{
		{Collection: "docs", DocID: "a", Op: goodOp},
		{Collection: "docs", DocID: "a", Op: badOp},
	}, "client-1")

	require.Len(t, results, 2)
	require.True(t, results[0].Success)
	require.False(t, results[1].Success)

	data, _, found := h.Get("docs", "a")
	require.True(t, found)
	require.Equal(t, "hi", data["title"])
}

func TestBootstrapRehydratesFromShardState(t *testing.T) {
	h, store := newTestHub(t)
	_, err := h.Insert("docs", "a", map[string]any{"title": "hello"}, "client-1")
	require.NoError(t, err)
	require.NoError(t, h.buf.ForceFlush())

	_, ok, err := store.Get("docs", "a")
	require.NoError(t, err)
	require.True(t, ok, "flush should have committed the row to the shard")

	fresh, _ := newTestHubSharing(t, store, h.synclog)
	require.NoError(t, fresh.Bootstrap())

	data, version, found := fresh.Get("docs", "a")
	require.True(t, found)
	require.EqualValues(t, 1, version)
	require.Equal(t, "hello", data["title"])
}

type fakeSink struct {
	mu      sync.Mutex
	entries []relay.Entry
}

func (f *fakeSink) Publish(e relay.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func TestAttachedSinkReceivesEveryMutation(t *testing.T) {
	h, _ := newTestHub(t)
	sink := &fakeSink{}
	h.AttachSink(sink)

	_, err := h.Insert("docs", "a", map[string]any{"title": "hello"}, "client-1")
	require.NoError(t, err)

	require.Equal(t, 1, sink.count())
}

func TestPresenceJoinBroadcastsToDocSubscribers(t *testing.T) {
	h, _ := newTestHub(t)
	watcher := &fakeSub{id: "watcher"}
	h.Connect(watcher)
	require.True(t, h.SubscribeDoc("watcher", "docs", "a"))

	h.PresenceJoin("docs", "a", "node-2", map[string]string{"name": "bob"})

	require.Eventually(t, func() bool { return watcher.count() == 1 }, time.Second, time.Millisecond)
	evt, ok := watcher.received[0].(PresenceEvent)
	require.True(t, ok)
	require.Equal(t, "node-2", evt.NodeID)
	require.NotNil(t, evt.Presence)
}

func TestDisconnectTriggersPresenceLeave(t *testing.T) {
	h, _ := newTestHub(t)
	watcher := &fakeSub{id: "watcher"}
	h.Connect(watcher)
	require.True(t, h.SubscribeDoc("watcher", "docs", "a"))
	h.PresenceJoin("docs", "a", "writer", nil)

	sub := &fakeSub{id: "writer"}
	h.Connect(sub)
	h.Disconnect("writer")

	require.Empty(t, h.Participants("docs", "a"))
}

func newTestHubSharing(t *testing.T, store *memStore, sl *SyncLog) (*Hub, *memStore) {
	t.Helper()
	dir := t.TempDir()
	wal, err := walog.Open(filepath.Join(dir, "wal.log"))
	require.NoError(t, err)
	pool := shard.NewPool([]shard.Store{store})
	buf := buffer.New(wal, pool, buffer.DefaultConfig())
	c, err := cache.New(buf, pool, 100, cache.DefaultTTL)
	require.NoError(t, err)
	return New("node-2", buf, c, pool, sl), store
}
