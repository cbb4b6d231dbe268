package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"parley/internal/models"
)

const (
	bridgeChannel = "parley:events"

	reconnectMin = time.Second
	reconnectMax = 30 * time.Second
)

// Bridge mirrors every local event onto a Redis Pub/Sub channel and
// replays events published by other instances into the local hub, so a
// subscriber is fed no matter which instance handled the mutation. It
// wraps the hub and is handed to the engine in its place.
type Bridge struct {
	hub        *Hub
	rdb        *redis.Client
	logger     *slog.Logger
	instanceID string
}

type bridgeEvent struct {
	Origin   string            `json:"origin"`
	Kind     string            `json:"kind"` // "room", "deleted" or "messages"
	Room     *models.Room      `json:"room,omitempty"`
	RoomID   uuid.UUID         `json:"roomId,omitempty"`
	Members  []uuid.UUID       `json:"members,omitempty"`
	Messages []*models.Message `json:"messages,omitempty"`
}

func NewBridge(hub *Hub, rdb *redis.Client, logger *slog.Logger) *Bridge {
	return &Bridge{
		hub:        hub,
		rdb:        rdb,
		logger:     logger,
		instanceID: uuid.New().String(),
	}
}

func (b *Bridge) RoomUpdated(room *models.Room) {
	b.hub.RoomUpdated(room)
	b.publish(bridgeEvent{Kind: "room", Room: room})
}

func (b *Bridge) RoomDeleted(roomID uuid.UUID, members []uuid.UUID) {
	b.hub.RoomDeleted(roomID, members)
	b.publish(bridgeEvent{Kind: "deleted", RoomID: roomID, Members: members})
}

func (b *Bridge) MessagesUpdated(roomID uuid.UUID, messages []*models.Message) {
	b.hub.MessagesUpdated(roomID, messages)
	b.publish(bridgeEvent{Kind: "messages", RoomID: roomID, Messages: messages})
}

func (b *Bridge) publish(ev bridgeEvent) {
	ev.Origin = b.instanceID
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("failed to encode bridge event", "error", err)
		return
	}
	if err := b.rdb.Publish(context.Background(), bridgeChannel, payload).Err(); err != nil {
		b.logger.Warn("failed to publish bridge event", "error", err)
	}
}

// Run consumes the bridge channel until ctx is cancelled, resubscribing
// with exponential backoff whenever the connection drops. Subscribers on
// this instance only see a delayed stream during the outage, never an
// error.
func (b *Bridge) Run(ctx context.Context) {
	backoff := reconnectMin
	for {
		pubsub := b.rdb.Subscribe(ctx, bridgeChannel)
		ch := pubsub.Channel()

		for msg := range ch {
			backoff = reconnectMin
			b.dispatch(msg.Payload)
		}
		pubsub.Close()

		if ctx.Err() != nil {
			return
		}

		b.logger.Warn("bridge subscription lost, reconnecting", "backoff", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (b *Bridge) dispatch(payload string) {
	var ev bridgeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		b.logger.Warn("dropping malformed bridge event", "error", err)
		return
	}
	if ev.Origin == b.instanceID {
		return // our own publication, already applied locally
	}

	switch ev.Kind {
	case "room":
		if ev.Room != nil {
			b.hub.RoomUpdated(ev.Room)
		}
	case "deleted":
		b.hub.RoomDeleted(ev.RoomID, ev.Members)
	case "messages":
		b.hub.MessagesUpdated(ev.RoomID, ev.Messages)
	default:
		b.logger.Warn("dropping bridge event of unknown kind", "kind", ev.Kind)
	}
}
