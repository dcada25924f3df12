package crdt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"hyperdoc/internal/vclock"
)

func TestMapLWWLocalSetGetDelete(t *testing.T) {
	m := NewMapLWW()
	clk := vclock.New().Tick("n1")
	m.LocalSet("title", FromString("hello"), clk, "n1", time.Now(), NewOpID())

	v, ok := m.Get("title")
	require.True(t, ok)
	require.Equal(t, "hello", v.String)

	clk2 := clk.Tick("n1")
	m.LocalDelete("title", clk2, "n1", time.Now(), NewOpID())
	_, ok = m.Get("title")
	require.False(t, ok)
}

func TestMapLWWApplyRemoteSetDropsStale(t *testing.T) {
	m := NewMapLWW()
	base := vclock.New().Tick("n1").Tick("n1") // {n1: 2}
	m.LocalSet("k", FromInt(2), base, "n1", time.Now(), "op-2")

	stale := vclock.New().Tick("n1") // {n1: 1}, strictly before base
	changed := m.ApplyRemoteSet("k", FromInt(1), stale, "n2", time.Now(), "op-1")
	require.False(t, changed)

	v, _ := m.Get("k")
	require.Equal(t, int64(2), v.Int)
}

func TestMapLWWApplyRemoteSetConcurrentUsesTiebreak(t *testing.T) {
	m := NewMapLWW()
	local := vclock.Clock{"n1": 1}
	now := time.Now()
	m.LocalSet("k", FromString("local"), local, "n1", now, "op-a")

	// Concurrent: remote only knows about its own node.
	remote := vclock.Clock{"n2": 1}
	changed := m.ApplyRemoteSet("k", FromString("remote"), remote, "n2", now, "op-b")
	require.True(t, changed, "n2 > n1 lexicographically so remote should win")

	v, _ := m.Get("k")
	require.Equal(t, "remote", v.String)
}

func TestMapLWWTombstoneBeatsConcurrentOlderSet(t *testing.T) {
	m := NewMapLWW()
	del := vclock.Clock{"n2": 1}
	now := time.Now()
	m.LocalDelete("k", del, "n2", now, "op-del")

	// n1 < n2, so a concurrent set from n1 should lose the tiebreak.
	changed := m.ApplyRemoteSet("k", FromString("late"), vclock.Clock{"n1": 1}, "n1", now, "op-set")
	require.False(t, changed)
	_, ok := m.Get("k")
	require.False(t, ok)
}

func TestMapLWWSnapshotRestoreRoundTrip(t *testing.T) {
	m := NewMapLWW()
	m.LocalSet("a", FromInt(1), vclock.Clock{"n1": 1}, "n1", time.Now(), "op-1")
	m.LocalSet("b", FromInt(2), vclock.Clock{"n1": 2}, "n1", time.Now(), "op-2")

	snap := m.All()
	restored := NewMapLWW()
	restored.Restore(snap)

	v, ok := restored.Get("a")
	require.True(t, ok)
	require.Equal(t, int64(1), v.Int)
}

func TestMapLWWPurgeTombstonesRespectsCutoff(t *testing.T) {
	m := NewMapLWW()
	past := time.Now().Add(-2 * time.Hour)
	m.LocalSet("keep", FromString("alive"), vclock.Clock{"n1": 1}, "n1", time.Now(), "op-1")
	m.LocalDelete("gone", vclock.Clock{"n1": 2}, "n1", past, "op-2")

	removed := m.PurgeTombstones(time.Now())
	require.Equal(t, 1, removed)

	_, ok := m.EntryAt("gone")
	require.False(t, ok)
	v, ok := m.Get("keep")
	require.True(t, ok)
	require.Equal(t, "alive", v.String)
}

func TestRGALocalInsertOrderPreserved(t *testing.T) {
	r := NewRGA()
	r.LocalInsertAfter("", FromString("a"), vclock.Clock{"n1": 1}, "n1", "op-a")
	r.LocalInsertAfter("op-a", FromString("b"), vclock.Clock{"n1": 2}, "n1", "op-b")
	r.LocalInsertAfter("op-b", FromString("c"), vclock.Clock{"n1": 3}, "n1", "op-c")

	arr := r.ToArray()
	require.Len(t, arr, 3)
	require.Equal(t, "a", arr[0].String)
	require.Equal(t, "b", arr[1].String)
	require.Equal(t, "c", arr[2].String)
}

func TestRGADeleteTombstonesNotRemoves(t *testing.T) {
	r := NewRGA()
	r.LocalInsertAfter("", FromString("a"), vclock.Clock{"n1": 1}, "n1", "op-a")
	r.LocalInsertAfter("op-a", FromString("b"), vclock.Clock{"n1": 2}, "n1", "op-b")
	require.True(t, r.LocalDelete("op-a"))

	arr := r.ToArray()
	require.Len(t, arr, 1)
	require.Equal(t, "b", arr[0].String)
}

func TestRGAPurgeDeletedDropsTombstonesKeepsLive(t *testing.T) {
	r := NewRGA()
	r.LocalInsertAfter("", FromString("a"), vclock.Clock{"n1": 1}, "n1", "op-a")
	r.LocalInsertAfter("op-a", FromString("b"), vclock.Clock{"n1": 2}, "n1", "op-b")
	require.True(t, r.LocalDelete("op-a"))

	removed := r.PurgeDeleted()
	require.Equal(t, 1, removed)

	arr := r.ToArray()
	require.Len(t, arr, 1)
	require.Equal(t, "b", arr[0].String)
	require.Equal(t, []string{"op-b"}, r.IDs())
}

func TestRGAConcurrentSiblingsConverge(t *testing.T) {
	// Two replicas both insert after the same head element concurrently.
	// Regardless of application order, the final order must match.
	build := func(order []rgaElement) *RGA {
		r := NewRGA()
		head := rgaElement{id: "head", value: FromString("h"), clock: vclock.Clock{"n1": 1}, nodeID: "n1"}
		r.integrate(head)
		for _, el := range order {
			r.integrate(el)
		}
		return r
	}

	x := rgaElement{id: "x", value: FromString("x"), leftID: "head", clock: vclock.Clock{"n1": 2}, nodeID: "n1"}
	y := rgaElement{id: "y", value: FromString("y"), leftID: "head", clock: vclock.Clock{"n2": 2}, nodeID: "n2"}

	r1 := build([]rgaElement{x, y})
	r2 := build([]rgaElement{y, x})

	require.Equal(t, r1.ToArray(), r2.ToArray())
}

func TestORSetAddWinsOverConcurrentRemove(t *testing.T) {
	s := NewORSet()
	s.LocalAdd("tag-1", FromString("apple"))
	require.True(t, s.Contains(FromString("apple")))

	// Remote remove only observed tag-1; a concurrent add under tag-2
	// for the same value should keep it present.
	s.ApplyRemoteAdd("tag-2", FromString("apple"))
	changed := s.ApplyRemoteRemove([]string{"tag-1"})
	require.True(t, changed)
	require.True(t, s.Contains(FromString("apple")), "tag-2's concurrent add should survive the remove")
}

func TestORSetRemoveAllTagsClearsValue(t *testing.T) {
	s := NewORSet()
	s.LocalAdd("tag-1", FromString("apple"))
	tags := s.TagsFor(FromString("apple"))
	require.ElementsMatch(t, []string{"tag-1"}, tags)

	s.LocalRemove(tags)
	require.False(t, s.Contains(FromString("apple")))
}

func TestValueFromNativeRoundTrip(t *testing.T) {
	native := map[string]any{
		"name":  "doc",
		"count": float64(3),
		"tags":  []any{"a", "b"},
	}
	v := FromNative(native)
	require.Equal(t, KindObject, v.Kind)
	require.Equal(t, native, v.Native())
}
