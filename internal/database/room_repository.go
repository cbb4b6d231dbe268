package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"parley/internal/models"
)

// ErrDuplicatePair is returned when an insert collides with an existing
// active room for the same unordered user pair.
var ErrDuplicatePair = errors.New("active room already exists for this pair")

// ProfileDocument mirrors models.ParticipantProfile in BSON.
type ProfileDocument struct {
	DisplayName string     `bson:"displayName"`
	LeftAt      *time.Time `bson:"leftAt,omitempty"`
}

// RoomDocument represents the MongoDB document structure for rooms.
// Profile and unread maps are keyed by user ID string because BSON map
// keys must be strings.
type RoomDocument struct {
	ID            string                     `bson:"_id"`
	Participants  []string                   `bson:"participants"`
	PairKey       string                     `bson:"pairKey,omitempty"`
	Profiles      map[string]ProfileDocument `bson:"participantProfiles"`
	UnreadCounts  map[string]int             `bson:"unreadCounts"`
	LastMessage   string                     `bson:"lastMessage"`
	LastMessageAt time.Time                  `bson:"lastMessageAt"`
	CreatedAt     time.Time                  `bson:"createdAt"`
	UpdatedAt     time.Time                  `bson:"updatedAt"`
}

// PairKey builds the canonical identifier of an unordered user pair.
func PairKey(userA, userB uuid.UUID) string {
	a, b := userA.String(), userB.String()
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + ":" + b
}

// InsertRoom stores a freshly created room. The pairKey is only set for
// rooms with both participants present.
func (m *MongoDB) InsertRoom(ctx context.Context, room *models.Room) error {
	doc := roomToDocument(room)
	if len(room.Participants) == 2 {
		doc.PairKey = PairKey(room.Participants[0], room.Participants[1])
	}

	if _, err := m.Rooms.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicatePair
		}
		return fmt.Errorf("failed to insert room: %v", err)
	}
	return nil
}

// GetRoom retrieves a room by ID; returns (nil, nil) when it does not exist.
func (m *MongoDB) GetRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	var doc RoomDocument
	err := m.Rooms.FindOne(ctx, bson.M{"_id": roomID.String()}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get room: %v", err)
	}
	return documentToRoom(&doc)
}

// FindActiveRoomByPair looks up the single active room between two users,
// if any; returns (nil, nil) when the pair has none.
func (m *MongoDB) FindActiveRoomByPair(ctx context.Context, userA, userB uuid.UUID) (*models.Room, error) {
	var doc RoomDocument
	err := m.Rooms.FindOne(ctx, bson.M{"pairKey": PairKey(userA, userB)}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find room by pair: %v", err)
	}
	return documentToRoom(&doc)
}

// ListRoomsForUser returns the rooms the user is still a participant of,
// most recently updated first.
func (m *MongoDB) ListRoomsForUser(ctx context.Context, userID uuid.UUID) ([]*models.Room, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	cursor, err := m.Rooms.Find(ctx, bson.M{"participants": userID.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %v", err)
	}
	defer cursor.Close(ctx)

	rooms := make([]*models.Room, 0)
	for cursor.Next(ctx) {
		var doc RoomDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode room: %v", err)
		}
		room, err := documentToRoom(&doc)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, cursor.Err()
}

// ApplyMessage performs the unread/summary bookkeeping for one appended
// message as a single atomic update: $set for the summary fields and the
// sender's count, $inc for every other recipient.
func (m *MongoDB) ApplyMessage(ctx context.Context, roomID, senderID uuid.UUID, preview string, at time.Time, recipients []uuid.UUID) error {
	set := bson.M{
		"lastMessage":   preview,
		"lastMessageAt": at,
		"updatedAt":     at,
		"unreadCounts." + senderID.String(): 0,
	}
	inc := bson.M{}
	for _, id := range recipients {
		if id == senderID {
			continue
		}
		inc["unreadCounts."+id.String()] = 1
	}

	update := bson.M{"$set": set}
	if len(inc) > 0 {
		update["$inc"] = inc
	}

	result, err := m.Rooms.UpdateOne(ctx, bson.M{"_id": roomID.String()}, update)
	if err != nil {
		return fmt.Errorf("failed to apply message to room: %v", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("room not found: %s", roomID)
	}
	return nil
}

// MarkRead zeroes the reader's unread count.
func (m *MongoDB) MarkRead(ctx context.Context, roomID, userID uuid.UUID, at time.Time) error {
	update := bson.M{"$set": bson.M{
		"unreadCounts." + userID.String(): 0,
		"updatedAt":                       at,
	}}
	result, err := m.Rooms.UpdateOne(ctx, bson.M{"_id": roomID.String()}, update)
	if err != nil {
		return fmt.Errorf("failed to mark room read: %v", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("room not found: %s", roomID)
	}
	return nil
}

// RemoveParticipant records a one-sided leave in one atomic update. The
// pairKey is unset so the remaining half-open room no longer blocks the
// pair from creating a fresh room later.
func (m *MongoDB) RemoveParticipant(ctx context.Context, roomID, userID uuid.UUID, leftAt time.Time) error {
	id := userID.String()
	update := bson.M{
		"$pull": bson.M{"participants": id},
		"$set": bson.M{
			"participantProfiles." + id + ".leftAt": leftAt,
			"unreadCounts." + id:                    0,
			"updatedAt":                             leftAt,
		},
		"$unset": bson.M{"pairKey": ""},
	}
	result, err := m.Rooms.UpdateOne(ctx, bson.M{"_id": roomID.String()}, update)
	if err != nil {
		return fmt.Errorf("failed to remove participant: %v", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("room not found: %s", roomID)
	}
	return nil
}

// DeleteRoom removes the room document itself.
func (m *MongoDB) DeleteRoom(ctx context.Context, roomID uuid.UUID) error {
	if _, err := m.Rooms.DeleteOne(ctx, bson.M{"_id": roomID.String()}); err != nil {
		return fmt.Errorf("failed to delete room: %v", err)
	}
	return nil
}

func roomToDocument(room *models.Room) *RoomDocument {
	doc := &RoomDocument{
		ID:            room.ID.String(),
		Participants:  make([]string, 0, len(room.Participants)),
		Profiles:      make(map[string]ProfileDocument, len(room.Profiles)),
		UnreadCounts:  make(map[string]int, len(room.UnreadCounts)),
		LastMessage:   room.LastMessage,
		LastMessageAt: room.LastMessageAt,
		CreatedAt:     room.CreatedAt,
		UpdatedAt:     room.UpdatedAt,
	}
	for _, id := range room.Participants {
		doc.Participants = append(doc.Participants, id.String())
	}
	for id, p := range room.Profiles {
		doc.Profiles[id.String()] = ProfileDocument{DisplayName: p.DisplayName, LeftAt: p.LeftAt}
	}
	for id, n := range room.UnreadCounts {
		doc.UnreadCounts[id.String()] = n
	}
	return doc
}

func documentToRoom(doc *RoomDocument) (*models.Room, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid room ID in database: %v", err)
	}

	room := &models.Room{
		ID:            id,
		Participants:  make([]uuid.UUID, 0, len(doc.Participants)),
		Profiles:      make(map[uuid.UUID]models.ParticipantProfile, len(doc.Profiles)),
		UnreadCounts:  make(map[uuid.UUID]int, len(doc.UnreadCounts)),
		LastMessage:   doc.LastMessage,
		LastMessageAt: doc.LastMessageAt,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
	for _, s := range doc.Participants {
		uid, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid participant ID in database: %v", err)
		}
		room.Participants = append(room.Participants, uid)
	}
	for s, p := range doc.Profiles {
		uid, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid profile key in database: %v", err)
		}
		room.Profiles[uid] = models.ParticipantProfile{DisplayName: p.DisplayName, LeftAt: p.LeftAt}
	}
	for s, n := range doc.UnreadCounts {
		uid, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid unread key in database: %v", err)
		}
		room.UnreadCounts[uid] = n
	}
	return room, nil
}
