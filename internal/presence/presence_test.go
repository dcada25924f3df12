package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func collectEvents(m *Manager) (*[]ChangeEvent, func()) {
	var mu sync.Mutex
	var events []ChangeEvent
	m.OnChange(func(ev ChangeEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	return &events, func() { mu.Lock(); defer mu.Unlock() }
}

func TestJoinAddsParticipant(t *testing.T) {
	m := New(DefaultTTL)
	m.Join("docs", "a", "node-1", map[string]string{"name": "alice"})

	ps := m.Participants("docs", "a")
	require.Len(t, ps, 1)
	require.Contains(t, ps, "node-1")
}

func TestLeaveRemovesParticipantAndFiresNilPresence(t *testing.T) {
	m := New(DefaultTTL)
	events, _ := collectEvents(m)
	m.Join("docs", "a", "node-1", nil)
	m.Leave("docs", "a", "node-1")

	require.Empty(t, m.Participants("docs", "a"))
	require.Len(t, *events, 2)
	require.Nil(t, (*events)[1].Presence)
}

func TestLeaveUnknownParticipantIsNoop(t *testing.T) {
	m := New(DefaultTTL)
	events, _ := collectEvents(m)
	m.Leave("docs", "a", "ghost")
	require.Empty(t, *events)
}

func TestCursorUpdateMovesPositionAndRefreshesLastSeen(t *testing.T) {
	m := New(DefaultTTL)
	m.Join("docs", "a", "node-1", nil)
	m.CursorUpdate("docs", "a", "node-1", 42, nil)

	ps := m.Participants("docs", "a")
	require.Equal(t, 42, ps["node-1"].Cursor)
}

func TestLeaveAllRemovesFromEveryDocument(t *testing.T) {
	m := New(DefaultTTL)
	m.Join("docs", "a", "node-1", nil)
	m.Join("docs", "b", "node-1", nil)
	m.LeaveAll("node-1")

	require.Empty(t, m.Participants("docs", "a"))
	require.Empty(t, m.Participants("docs", "b"))
}

func TestSweepEvictsStaleParticipantsAndFiresSyntheticLeave(t *testing.T) {
	m := New(5 * time.Millisecond)
	events, _ := collectEvents(m)
	m.Join("docs", "a", "node-1", nil)

	time.Sleep(20 * time.Millisecond)
	m.sweep()

	require.Empty(t, m.Participants("docs", "a"))
	require.Eventually(t, func() bool { return len(*events) == 2 }, time.Second, time.Millisecond)
	require.Nil(t, (*events)[len(*events)-1].Presence)
}

func TestStartLaunchesBackgroundSweepAndStopHalts(t *testing.T) {
	m := New(5 * time.Millisecond)
	m.Join("docs", "a", "node-1", nil)
	m.Start(5 * time.Millisecond)
	defer m.Stop()

	require.Eventually(t, func() bool { return len(m.Participants("docs", "a")) == 0 }, time.Second, 5*time.Millisecond)
}
