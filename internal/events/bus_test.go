package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubscribeFiltersByEventType(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe("agent.created")

	bus.Emit("agent.destroyed", "test", "agent-1", nil)
	bus.Emit("agent.created", "test", "agent-2", nil)

	select {
	case ev := <-ch:
		require.Equal(t, "agent.created", ev.Type)
		require.Equal(t, "agent-2", ev.Subject)
	case <-time.After(time.Second):
		t.Fatal("expected agent.created event")
	}

	select {
	case ev := <-ch:
		t.Fatalf("unexpected second event: %+v", ev)
	default:
	}
}

func TestSubscribeAllReceivesEveryEventType(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe()

	bus.Emit("agent.created", "test", "agent-1", nil)
	bus.Emit("approval.requested", "test", "req-1", nil)

	first := <-ch
	second := <-ch
	require.ElementsMatch(t, []string{"agent.created", "approval.requested"}, []string{first.Type, second.Type})
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe("agent.created")
	bus.Unsubscribe(ch)

	bus.Emit("agent.created", "test", "agent-1", nil)

	select {
	case _, ok := <-ch:
		require.False(t, ok, "channel should be closed after unsubscribe")
	case <-time.After(time.Second):
		t.Fatal("channel never closed")
	}
}

func TestSSEFormatIncludesEventTypeAndID(t *testing.T) {
	ev := NewCloudEvent("agent.created", "lifecycle-manager", "agent-1", map[string]interface{}{"orgId": "org-1"})
	out, err := ev.SSEFormat()
	require.NoError(t, err)
	require.Contains(t, string(out), "event: agent.created")
	require.Contains(t, string(out), ev.ID)
}
