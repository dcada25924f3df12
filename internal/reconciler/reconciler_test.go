package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hyperdoc/internal/crdt"
	"hyperdoc/internal/document"
)

type memStorage struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStorage() *memStorage { return &memStorage{data: make(map[string][]byte)} }

func (m *memStorage) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStorage) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memStorage) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStorage) Keys(prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

type fakeTransport struct {
	mu          sync.Mutex
	batchErr    error
	batchCalls  [][]WireOp
	results     []OpResult
	syncEntries map[string][]SyncEntry
	syncNow     time.Time
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{syncEntries: make(map[string][]SyncEntry)}
}

func (f *fakeTransport) Sync(ctx context.Context, collection string, since time.Time) ([]SyncEntry, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncEntries[collection], f.syncNow, nil
}

func (f *fakeTransport) BatchSync(ctx context.Context, ops []WireOp) ([]OpResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls = append(f.batchCalls, ops)
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	if f.results != nil {
		return f.results, nil
	}
	out := make([]OpResult, len(ops))
	for i := range ops {
		out[i] = OpResult{Success: true, Version: uint64(i + 1)}
	}
	return out, nil
}

func TestSetSendsImmediatelyWhenConnected(t *testing.T) {
	storage := newMemStorage()
	transport := newFakeTransport()
	r, err := New("client-1", storage, transport)
	require.NoError(t, err)
	r.SetConnected(true)

	_, err = r.Set(context.Background(), "docs", "a", []string{"title"}, crdt.FromNative("hello"))
	require.NoError(t, err)

	require.Len(t, transport.batchCalls, 1)
	require.Empty(t, r.queue)
}

func TestSetEnqueuesWhenDisconnected(t *testing.T) {
	storage := newMemStorage()
	transport := newFakeTransport()
	r, err := New("client-1", storage, transport)
	require.NoError(t, err)
	r.SetConnected(false)

	_, err = r.Set(context.Background(), "docs", "a", []string{"title"}, crdt.FromNative("hello"))
	require.NoError(t, err)

	require.Empty(t, transport.batchCalls)
	require.Len(t, r.queue, 1)
}

func TestQueuePersistsAcrossFreshReconciler(t *testing.T) {
	storage := newMemStorage()
	transport := newFakeTransport()
	r, err := New("client-1", storage, transport)
	require.NoError(t, err)
	r.SetConnected(false)

	_, err = r.Set(context.Background(), "docs", "a", []string{"title"}, crdt.FromNative("hello"))
	require.NoError(t, err)

	fresh, err := New("client-1", storage, transport)
	require.NoError(t, err)
	require.Len(t, fresh.queue, 1)
	require.Equal(t, "docs", fresh.queue[0].Collection)
}

func TestCompactCollapsesRepeatedMapSetOnSamePath(t *testing.T) {
	ops := []QueuedOp{
		{DocID: "a", Op: document.Op{Kind: document.OpMapSet, Path: []string{"title"}, Value: crdt.FromNative("v1")}},
		{DocID: "a", Op: document.Op{Kind: document.OpRGAInsert, Path: []string{"tags"}}},
		{DocID: "a", Op: document.Op{Kind: document.OpMapSet, Path: []string{"title"}, Value: crdt.FromNative("v2")}},
	}

	out := compact(ops)

	require.Len(t, out, 2)
	require.Equal(t, document.OpRGAInsert, out[0].Op.Kind)
	require.Equal(t, document.OpMapSet, out[1].Op.Kind)
	require.Equal(t, "v2", out[1].Op.Value.Native())
}

func TestCompactPreservesDistinctPaths(t *testing.T) {
	ops := []QueuedOp{
		{DocID: "a", Op: document.Op{Kind: document.OpMapSet, Path: []string{"title"}}},
		{DocID: "a", Op: document.Op{Kind: document.OpMapSet, Path: []string{"body"}}},
	}

	out := compact(ops)
	require.Len(t, out, 2)
}

func TestReconcileDrainsQueueAndFiresConflictOnRejection(t *testing.T) {
	storage := newMemStorage()
	transport := newFakeTransport()
	r, err := New("client-1", storage, transport)
	require.NoError(t, err)
	r.SetConnected(false)

	_, err = r.Set(context.Background(), "docs", "a", []string{"title"}, crdt.FromNative("hello"))
	require.NoError(t, err)
	_, err = r.Set(context.Background(), "docs", "a", []string{"body"}, crdt.FromNative("world"))
	require.NoError(t, err)

	transport.results = []OpResult{{Success: true}, {Success: false}}

	var conflicts []ConflictEvent
	r.OnConflict(func(ev ConflictEvent) { conflicts = append(conflicts, ev) })

	r.SetConnected(true)
	require.NoError(t, r.Reconcile(context.Background()))

	require.Len(t, conflicts, 1)
	require.Empty(t, r.queue)
}

func TestReconcileAdvancesWatermarkAfterSync(t *testing.T) {
	storage := newMemStorage()
	transport := newFakeTransport()
	transport.syncNow = time.Now()
	transport.syncEntries["docs"] = []SyncEntry{
		{Collection: "docs", DocID: "a", Operation: "insert", Data: []byte(`{"title":"hi"}`), ServerTimestamp: time.Now()},
	}

	r, err := New("client-1", storage, transport)
	require.NoError(t, err)
	r.Watch("docs")

	require.NoError(t, r.Reconcile(context.Background()))

	require.Equal(t, transport.syncNow, r.watermarks["docs"])

	fresh, err := New("client-1", storage, transport)
	require.NoError(t, err)
	require.WithinDuration(t, transport.syncNow, fresh.watermarks["docs"], time.Millisecond)
}
