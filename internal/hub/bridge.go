package hub

import (
	"context"
	"log"
	"strings"

	"github.com/redis/go-redis/v9"
)

const bridgeChannelPrefix = "chat.room."

// Bridge relays room broadcasts across processes over Redis pub/sub, so the
// admin dashboard process can push events into rooms held by the relay.
type Bridge struct {
	rdb *redis.Client
	hub *Hub
}

// NewBridge creates a bridge between the hub and a Redis client.
func NewBridge(rdb *redis.Client, h *Hub) *Bridge {
	return &Bridge{rdb: rdb, hub: h}
}

// Publish sends a room payload to every subscribed process, including this one.
func (b *Bridge) Publish(ctx context.Context, room string, data []byte) error {
	return b.rdb.Publish(ctx, bridgeChannelPrefix+room, data).Err()
}

// Run subscribes to room channels and re-injects received payloads into the
// local hub. Blocks until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	pubsub := b.rdb.PSubscribe(ctx, bridgeChannelPrefix+"*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			room := strings.TrimPrefix(msg.Channel, bridgeChannelPrefix)
			b.hub.Broadcast(room, []byte(msg.Payload))
			log.Printf("Bridge delivered event to room %s", room)
		}
	}
}
