package hub

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListCollectionSortsAndPaginates(t *testing.T) {
	h, _ := newTestHub(t)
	for _, id := range []string{"c", "a", "b"} {
		_, err := h.Insert("docs", id, map[string]any{"name": id}, "client-1")
		require.NoError(t, err)
	}

	all := h.ListCollection("docs", 0, 0)
	require.Len(t, all, 3)
	require.Equal(t, []string{"a", "b", "c"}, []string{all[0].ID, all[1].ID, all[2].ID})

	page := h.ListCollection("docs", 1, 1)
	require.Len(t, page, 1)
	require.Equal(t, "b", page[0].ID)

	require.Nil(t, h.ListCollection("docs", 10, 10))
}

func TestListCollectionSkipsDeletedAndOtherCollections(t *testing.T) {
	h, _ := newTestHub(t)
	_, err := h.Insert("docs", "a", map[string]any{"name": "a"}, "client-1")
	require.NoError(t, err)
	_, err = h.Insert("docs", "b", map[string]any{"name": "b"}, "client-1")
	require.NoError(t, err)
	_, err = h.Insert("other", "z", map[string]any{"name": "z"}, "client-1")
	require.NoError(t, err)

	_, err = h.Delete("docs", "a", "client-1")
	require.NoError(t, err)

	docs := h.ListCollection("docs", 0, 0)
	require.Len(t, docs, 1)
	require.Equal(t, "b", docs[0].ID)
}

func TestCollectionsListsEveryWrittenCollection(t *testing.T) {
	h, _ := newTestHub(t)
	_, err := h.Insert("docs", "a", map[string]any{"name": "a"}, "client-1")
	require.NoError(t, err)
	_, err = h.Insert("notes", "n1", map[string]any{"body": "hi"}, "client-1")
	require.NoError(t, err)

	names, err := h.Collections()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"docs", "notes"}, names)
}
