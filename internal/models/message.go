package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is one immutable unit of conversation content, owned by exactly
// one room. Seq is a per-room monotonic counter assigned by the room's
// single writer; it breaks CreatedAt ties so ordering is total.
type Message struct {
	ID        uuid.UUID `json:"id"`
	RoomID    uuid.UUID `json:"roomId"`
	SenderID  uuid.UUID `json:"senderId"`
	Text      string    `json:"text"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"createdAt"`
}
