package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeRedis is an in-memory stand-in for infra.GoRedisAdapter satisfying
// RedisPublisher: Publish fans a message out to every Subscribe handler
// registered on the same channel, synchronously.
type fakeRedis struct {
	mu       sync.Mutex
	handlers map[string][]func([]byte)
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{handlers: make(map[string][]func([]byte))}
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message []byte) error {
	f.mu.Lock()
	handlers := append([]func([]byte){}, f.handlers[channel]...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(message)
	}
	return nil
}

func (f *fakeRedis) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	f.mu.Lock()
	f.handlers[channel] = append(f.handlers[channel], handler)
	f.mu.Unlock()
	return func() {}, nil
}

func TestRedisEventBridgeRelaysLocalEventsToRedis(t *testing.T) {
	bus := NewEventBus()
	rdb := newFakeRedis()

	var received []byte
	done := make(chan struct{})
	_, _ = rdb.Subscribe(context.Background(), "wf:events", func(payload []byte) {
		received = payload
		close(done)
	})

	bridge, err := NewRedisEventBridge(context.Background(), bus, rdb, "wf:events", "origin-a")
	require.NoError(t, err)
	defer bridge.Close()

	bus.Emit("agent.created", "lifecycle-manager", "agent-1", map[string]interface{}{"orgId": "org-1"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay never published to redis")
	}

	var envelope remoteEnvelope
	require.NoError(t, json.Unmarshal(received, &envelope))
	require.Equal(t, "origin-a", envelope.Origin)
	require.Equal(t, "agent.created", envelope.Event.Type)
}

func TestRedisEventBridgeSkipsOwnOriginOnReplay(t *testing.T) {
	bus := NewEventBus()
	local := bus.Subscribe("agent.created")
	rdb := newFakeRedis()

	bridge, err := NewRedisEventBridge(context.Background(), bus, rdb, "wf:events", "origin-a")
	require.NoError(t, err)
	defer bridge.Close()

	envelope := remoteEnvelope{Origin: "origin-a", Event: NewCloudEvent("agent.created", "peer", "agent-2", nil)}
	payload, err := json.Marshal(envelope)
	require.NoError(t, err)
	require.NoError(t, rdb.Publish(context.Background(), "wf:events", payload))

	select {
	case ev := <-local:
		t.Fatalf("own-origin event should not be redelivered locally: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisEventBridgeRelaysRemoteEventsFromPeer(t *testing.T) {
	bus := NewEventBus()
	local := bus.Subscribe("agent.created")
	rdb := newFakeRedis()

	bridge, err := NewRedisEventBridge(context.Background(), bus, rdb, "wf:events", "origin-a")
	require.NoError(t, err)
	defer bridge.Close()

	envelope := remoteEnvelope{Origin: "origin-b", Event: NewCloudEvent("agent.created", "peer", "agent-2", nil)}
	payload, err := json.Marshal(envelope)
	require.NoError(t, err)
	require.NoError(t, rdb.Publish(context.Background(), "wf:events", payload))

	select {
	case ev := <-local:
		require.Equal(t, "agent-2", ev.Subject)
	case <-time.After(time.Second):
		t.Fatal("peer event was never relayed locally")
	}
}
