package actors

import (
	"github.com/google/uuid"

	"parley/internal/models"
)

// Message types for RoomActor. Every mutation of a room flows through its
// actor, which is what serializes sends, leaves and read-marks against
// each other.
type (
	SendMessageMsg struct {
		SenderID uuid.UUID `json:"senderId"`
		Text     string    `json:"text"`
	}

	LeaveRoomMsg struct {
		UserID uuid.UUID `json:"userId"`
	}

	MarkReadMsg struct {
		UserID uuid.UUID `json:"userId"`
	}

	GetRoomMsg struct{}

	GetMessagesMsg struct{}
)

// LeaveAck reports the outcome of a leave. RoomDeleted is set when the
// leave emptied the room and the cascade ran; the supervisor uses it to
// stop the actor.
type LeaveAck struct {
	RoomDeleted bool `json:"roomDeleted"`
}

// EventSink receives live-update events after each successful mutation.
// The realtime hub implements it; the Redis bridge wraps it for
// cross-instance fan-out.
type EventSink interface {
	RoomUpdated(room *models.Room)
	RoomDeleted(roomID uuid.UUID, members []uuid.UUID)
	MessagesUpdated(roomID uuid.UUID, messages []*models.Message)
}
