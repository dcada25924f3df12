package shard

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIndexIsPureFunctionOfDocIDAndCount(t *testing.T) {
	a := Index("doc-123", 8)
	b := Index("doc-123", 8)
	require.Equal(t, a, b)
	require.GreaterOrEqual(t, a, 0)
	require.Less(t, a, 8)
}

func TestIndexDistributesAcrossShards(t *testing.T) {
	seen := make(map[int]bool)
	for i := 0; i < 200; i++ {
		seen[Index(filepath.Join("doc", string(rune('a'+i%26)), string(rune(i))), 8)] = true
	}
	require.Greater(t, len(seen), 1, "expected docIDs to spread across more than one shard")
}

func TestSanitizeTableName(t *testing.T) {
	require.NoError(t, SanitizeTableName("my_collection_1"))
	require.Error(t, SanitizeTableName("bad name!"))
	require.Error(t, SanitizeTableName(""))
}

func TestBoltStoreBatchUpsertGetScanDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBoltStore(filepath.Join(dir, "shard-0.db"))
	require.NoError(t, err)
	defer s.Close()

	now := time.Now().UnixNano()
	rows := []Row{
		{ID: "a", Value: []byte(`{"v":1}`), Version: 1, CreatedAt: now, UpdatedAt: now},
		{ID: "b", Value: []byte(`{"v":2}`), Version: 1, CreatedAt: now, UpdatedAt: now},
	}
	require.NoError(t, s.BatchUpsert("docs", rows))

	got, ok, err := s.Get("docs", "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"v":1}`, string(got.Value))

	scanned, err := s.Scan("docs", 10, 0)
	require.NoError(t, err)
	require.Len(t, scanned, 2)

	require.NoError(t, s.BatchDelete("docs", []string{"a"}))
	_, ok, err = s.Get("docs", "a")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Checkpoint())
}

func TestBoltPoolRoutesByShardIndex(t *testing.T) {
	dir := t.TempDir()
	pool, err := OpenBoltPool(dir, 4)
	require.NoError(t, err)
	defer pool.Close()

	require.Equal(t, 4, pool.ShardCount())

	store := pool.StoreFor("doc-xyz")
	require.NotNil(t, store)
	require.Same(t, pool.StoreAt(Index("doc-xyz", 4)), store)
}
