package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe("rules")
	bus.Publish(Change{Kind: ChangeKindRule, ID: "r1"})

	select {
	case got := <-ch:
		assert.Equal(t, ChangeKindRule, got.Kind)
		assert.Equal(t, "r1", got.ID)
	case <-time.After(time.Second):
		t.Fatal("no change signal received")
	}
}

func TestBusSlowSubscriberDropsSignal(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe("slow")
	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish(Change{Kind: ChangeKindConfig})
	}

	// The buffer holds exactly subscriberBuffer signals; the rest were dropped
	// without blocking Publish.
	assert.Len(t, ch, subscriberBuffer)
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe("pool")
	bus.Unsubscribe("pool")

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.Publish(Change{Kind: ChangeKindInstance, ID: "a"})
}

func TestBusResubscribeReplacesChannel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	old := bus.Subscribe("engine")
	renewed := bus.Subscribe("engine")

	_, open := <-old
	require.False(t, open, "old channel should be closed on resubscribe")

	bus.Publish(Change{Kind: ChangeKindListener, ID: "a:g1"})
	select {
	case got := <-renewed:
		assert.Equal(t, ChangeKindListener, got.Kind)
	case <-time.After(time.Second):
		t.Fatal("renewed subscription received nothing")
	}
}

func TestBusCloseStopsPublishing(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe("x")
	bus.Close()

	_, open := <-ch
	assert.False(t, open)
	bus.Publish(Change{Kind: ChangeKindConfig}) // no panic
}
