package database

import (
	"context"
	"time"

	"github.com/google/uuid"

	"parley/internal/models"
)

// Store is the durable backing for rooms and their message logs. All room
// mutations are atomic field-level updates on the room document, never
// whole-document replacement, so concurrent writers touching disjoint
// fields of the same room cannot lose each other's updates.
//
// *MongoDB is the production implementation; tests use in-memory fakes.
type Store interface {
	// Rooms
	InsertRoom(ctx context.Context, room *models.Room) error
	GetRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error)
	FindActiveRoomByPair(ctx context.Context, userA, userB uuid.UUID) (*models.Room, error)
	ListRoomsForUser(ctx context.Context, userID uuid.UUID) ([]*models.Room, error)
	DeleteRoom(ctx context.Context, roomID uuid.UUID) error

	// ApplyMessage folds a freshly appended message into the room
	// document in one write: last-message summary, updatedAt, sender's
	// unread count to zero, every other recipient's incremented by one.
	ApplyMessage(ctx context.Context, roomID, senderID uuid.UUID, preview string, at time.Time, recipients []uuid.UUID) error

	// MarkRead zeroes the reader's unread count.
	MarkRead(ctx context.Context, roomID, userID uuid.UUID, at time.Time) error

	// RemoveParticipant records a one-sided leave: the user is pulled
	// from participants, their profile gets leftAt, their unread count
	// is zeroed and the room stops counting as the pair's active room.
	RemoveParticipant(ctx context.Context, roomID, userID uuid.UUID, leftAt time.Time) error

	// Messages
	InsertMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, roomID uuid.UUID) ([]*models.Message, error)
	DeleteMessages(ctx context.Context, roomID uuid.UUID) (int64, error)
}
