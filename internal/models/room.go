package models

import (
	"time"

	"github.com/google/uuid"
)

// ParticipantProfile is the per-user snapshot stored on a room. It outlives
// the user's membership: once the user leaves, the entry stays behind with
// LeftAt set.
type ParticipantProfile struct {
	DisplayName string     `json:"displayName"`
	LeftAt      *time.Time `json:"leftAt,omitempty"`
}

// Room is the durable record of a two-party conversation.
//
// Participants holds 0-2 user IDs: 2 means an active room, 1 means one side
// left, 0 means the room is eligible for hard deletion and should not be
// observable anymore. UnreadCounts is only meaningful for IDs still present
// in Participants.
type Room struct {
	ID            uuid.UUID                        `json:"id"`
	Participants  []uuid.UUID                      `json:"participants"`
	Profiles      map[uuid.UUID]ParticipantProfile `json:"participantProfiles"`
	UnreadCounts  map[uuid.UUID]int                `json:"unreadCounts"`
	LastMessage   string                           `json:"lastMessage"`
	LastMessageAt time.Time                        `json:"lastMessageAt"`
	CreatedAt     time.Time                        `json:"createdAt"`
	UpdatedAt     time.Time                        `json:"updatedAt"`
}

// HasParticipant reports whether userID is currently an active member.
func (r *Room) HasParticipant(userID uuid.UUID) bool {
	for _, id := range r.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to other goroutines.
func (r *Room) Clone() *Room {
	c := *r
	c.Participants = append([]uuid.UUID(nil), r.Participants...)
	c.Profiles = make(map[uuid.UUID]ParticipantProfile, len(r.Profiles))
	for id, p := range r.Profiles {
		c.Profiles[id] = p
	}
	c.UnreadCounts = make(map[uuid.UUID]int, len(r.UnreadCounts))
	for id, n := range r.UnreadCounts {
		c.UnreadCounts[id] = n
	}
	return &c
}
