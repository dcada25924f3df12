package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSub struct {
	id       string
	mu       sync.Mutex
	received []Message
	block    chan struct{} // if non-nil, Send waits on it
}

func (f *fakeSub) ID() string { return f.id }
func (f *fakeSub) Send(msg Message) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.received = append(f.received, msg)
	f.mu.Unlock()
	return nil
}
func (f *fakeSub) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func TestSubscribeAndLookupCollection(t *testing.T) {
	r := New()
	sub := &fakeSub{id: "s1"}
	r.Connect(sub)
	require.True(t, r.SubscribeCollection("s1", "docs"))

	ids := r.CollectionSubscribers("docs")
	require.Equal(t, []string{"s1"}, ids)
}

func TestDisconnectScrubsIndexes(t *testing.T) {
	r := New()
	sub := &fakeSub{id: "s1"}
	r.Connect(sub)
	r.SubscribeCollection("s1", "docs")
	r.SubscribeDoc("s1", "docs", "doc-1")

	r.Disconnect("s1")

	require.Empty(t, r.CollectionSubscribers("docs"))
	require.Empty(t, r.DocSubscribers("docs", "doc-1"))
}

func TestSendDeliversToSubscriber(t *testing.T) {
	r := New()
	sub := &fakeSub{id: "s1"}
	r.Connect(sub)

	r.Send("s1", "hello")
	require.Eventually(t, func() bool { return sub.count() == 1 }, time.Second, time.Millisecond)
}

func TestSendToUnknownSubscriberIsNoop(t *testing.T) {
	r := New()
	require.NotPanics(t, func() { r.Send("ghost", "x") })
}

func TestBackpressureDropsOldestAndMarksBehind(t *testing.T) {
	r := New()
	sub := &fakeSub{id: "s1", block: make(chan struct{})}
	r.Connect(sub)

	// Fill the queue well past its bound while the drain goroutine is
	// stalled on the blocked first Send.
	for i := 0; i < QueueDepth+10; i++ {
		r.Send("s1", i)
	}
	require.True(t, r.IsBehind("s1"))

	close(sub.block) // let the drain goroutine proceed
	require.Eventually(t, func() bool { return sub.count() > 0 }, time.Second, time.Millisecond)
}

func TestIsBehindClearsOnRead(t *testing.T) {
	r := New()
	sub := &fakeSub{id: "s1", block: make(chan struct{})}
	r.Connect(sub)
	for i := 0; i < QueueDepth+5; i++ {
		r.Send("s1", i)
	}
	require.True(t, r.IsBehind("s1"))
	require.False(t, r.IsBehind("s1"), "IsBehind should clear the flag once observed")
	close(sub.block)
}
