package events

import (
	"context"
	"encoding/json"
	"log/slog"
)

// RedisPublisher is the minimal slice of infra.GoRedisAdapter the bridge
// needs — Publish to fan out, Subscribe to relay remote events back in.
// Declared locally so this package does not import internal/infra (which
// would create an import cycle if infra ever needs event types).
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error)
}

// RedisEventBridge wires an EventBus to Redis Pub/Sub so events emitted by
// one process are observed by every other process sharing the same Redis
// instance — the multi-pod fan-out the teacher's internal/fabric/redis_store.go
// provides for Hub spoke state, generalized here from spoke-presence
// broadcast to CloudEvent broadcast. Falls back to pure in-process delivery
// when Redis is unavailable (cfg.Redis.Addr == "").
type RedisEventBridge struct {
	bus      *EventBus
	rdb      RedisPublisher
	channel  string
	originID string
	unsub    func()
}

// NewRedisEventBridge subscribes bus to rdb's pub/sub channel and begins
// mirroring every local Emit onto it. originID tags events published by
// this process so its own Subscribe loop does not re-deliver them locally
// a second time.
func NewRedisEventBridge(ctx context.Context, bus *EventBus, rdb RedisPublisher, channel, originID string) (*RedisEventBridge, error) {
	rb := &RedisEventBridge{bus: bus, rdb: rdb, channel: channel, originID: originID}

	unsub, err := rdb.Subscribe(ctx, channel, rb.onRemoteMessage)
	if err != nil {
		return nil, err
	}
	rb.unsub = unsub

	local := bus.Subscribe()
	go rb.relayLocal(local)

	return rb, nil
}

// relayLocal publishes every locally-emitted event to Redis, stamped with
// this process's origin so peers (and this process's own onRemoteMessage)
// can recognize and skip loop-back delivery.
func (rb *RedisEventBridge) relayLocal(ch chan *CloudEvent) {
	for ev := range ch {
		envelope := remoteEnvelope{Origin: rb.originID, Event: ev}
		payload, err := json.Marshal(envelope)
		if err != nil {
			slog.Warn("redis event bridge: marshal failed", "error", err)
			continue
		}
		if err := rb.rdb.Publish(context.Background(), rb.channel, payload); err != nil {
			slog.Warn("redis event bridge: publish failed", "error", err)
		}
	}
}

func (rb *RedisEventBridge) onRemoteMessage(payload []byte) {
	var envelope remoteEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		slog.Warn("redis event bridge: unmarshal failed", "error", err)
		return
	}
	if envelope.Origin == rb.originID {
		return
	}
	rb.bus.Publish(envelope.Event)
}

// Close stops relaying remote events. The local relay goroutine exits when
// the bus subscription channel is garbage-collected at process shutdown.
func (rb *RedisEventBridge) Close() {
	if rb.unsub != nil {
		rb.unsub()
	}
}

type remoteEnvelope struct {
	Origin string      `json:"origin"`
	Event  *CloudEvent `json:"event"`
}
