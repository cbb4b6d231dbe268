package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"parley/internal/models"
)

// MessageDocument represents the MongoDB document structure for messages
type MessageDocument struct {
	ID        string    `bson:"_id"`
	RoomID    string    `bson:"roomId"`
	SenderID  string    `bson:"senderId"`
	Text      string    `bson:"text"`
	Seq       int64     `bson:"seq"`
	CreatedAt time.Time `bson:"createdAt"`
}

// InsertMessage appends one message to the log. Messages are immutable
// after this point; the only delete path is the room cascade.
func (m *MongoDB) InsertMessage(ctx context.Context, msg *models.Message) error {
	doc := MessageDocument{
		ID:        msg.ID.String(),
		RoomID:    msg.RoomID.String(),
		SenderID:  msg.SenderID.String(),
		Text:      msg.Text,
		Seq:       msg.Seq,
		CreatedAt: msg.CreatedAt,
	}
	if _, err := m.Messages.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert message: %v", err)
	}
	return nil
}

// ListMessages returns a room's full log in append order (seq ascending,
// which also means non-decreasing createdAt).
func (m *MongoDB) ListMessages(ctx context.Context, roomID uuid.UUID) ([]*models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	cursor, err := m.Messages.Find(ctx, bson.M{"roomId": roomID.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %v", err)
	}
	defer cursor.Close(ctx)

	messages := make([]*models.Message, 0)
	for cursor.Next(ctx) {
		var doc MessageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode message: %v", err)
		}

		id, err := uuid.Parse(doc.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid message ID in database: %v", err)
		}
		roomID, err := uuid.Parse(doc.RoomID)
		if err != nil {
			return nil, fmt.Errorf("invalid room ID in database: %v", err)
		}
		senderID, err := uuid.Parse(doc.SenderID)
		if err != nil {
			return nil, fmt.Errorf("invalid sender ID in database: %v", err)
		}

		messages = append(messages, &models.Message{
			ID:        id,
			RoomID:    roomID,
			SenderID:  senderID,
			Text:      doc.Text,
			Seq:       doc.Seq,
			CreatedAt: doc.CreatedAt,
		})
	}
	return messages, cursor.Err()
}

// DeleteMessages drops a room's entire log and reports how many documents
// went with it. Used only by the cascade when a room reaches zero
// participants.
func (m *MongoDB) DeleteMessages(ctx context.Context, roomID uuid.UUID) (int64, error) {
	result, err := m.Messages.DeleteMany(ctx, bson.M{"roomId": roomID.String()})
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %v", err)
	}
	return result.DeletedCount, nil
}
