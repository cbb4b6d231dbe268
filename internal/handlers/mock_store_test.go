package handlers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"parley/internal/database"
	"parley/internal/models"
)

// memStore is an in-memory database.Store for wiring the full HTTP stack
// without a live MongoDB.
type memStore struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]*models.Room
	logs  map[uuid.UUID][]*models.Message
}

func newMemStore() *memStore {
	return &memStore{
		rooms: make(map[uuid.UUID]*models.Room),
		logs:  make(map[uuid.UUID][]*models.Message),
	}
}

func (s *memStore) InsertRoom(ctx context.Context, room *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(room.Participants) == 2 {
		for _, r := range s.rooms {
			if len(r.Participants) == 2 &&
				r.HasParticipant(room.Participants[0]) && r.HasParticipant(room.Participants[1]) {
				return database.ErrDuplicatePair
			}
		}
	}
	s.rooms[room.ID] = room.Clone()
	return nil
}

func (s *memStore) GetRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}
	return room.Clone(), nil
}

func (s *memStore) FindActiveRoomByPair(ctx context.Context, userA, userB uuid.UUID) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rooms {
		if len(r.Participants) == 2 && r.HasParticipant(userA) && r.HasParticipant(userB) {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

func (s *memStore) ListRoomsForUser(ctx context.Context, userID uuid.UUID) ([]*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rooms []*models.Room
	for _, r := range s.rooms {
		if r.HasParticipant(userID) {
			rooms = append(rooms, r.Clone())
		}
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].UpdatedAt.After(rooms[j].UpdatedAt)
	})
	return rooms, nil
}

func (s *memStore) DeleteRoom(ctx context.Context, roomID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	return nil
}

func (s *memStore) ApplyMessage(ctx context.Context, roomID, senderID uuid.UUID, preview string, at time.Time, recipients []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	room.LastMessage = preview
	room.LastMessageAt = at
	room.UpdatedAt = at
	for _, id := range recipients {
		if id == senderID {
			room.UnreadCounts[id] = 0
		} else {
			room.UnreadCounts[id]++
		}
	}
	return nil
}

func (s *memStore) MarkRead(ctx context.Context, roomID, userID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[roomID]; ok {
		room.UnreadCounts[userID] = 0
		room.UpdatedAt = at
	}
	return nil
}

func (s *memStore) RemoveParticipant(ctx context.Context, roomID, userID uuid.UUID, leftAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	remaining := room.Participants[:0:0]
	for _, id := range room.Participants {
		if id != userID {
			remaining = append(remaining, id)
		}
	}
	room.Participants = remaining
	profile := room.Profiles[userID]
	profile.LeftAt = &leftAt
	room.Profiles[userID] = profile
	room.UnreadCounts[userID] = 0
	room.UpdatedAt = leftAt
	return nil
}

func (s *memStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *msg
	s.logs[msg.RoomID] = append(s.logs[msg.RoomID], &copied)
	return nil
}

func (s *memStore) ListMessages(ctx context.Context, roomID uuid.UUID) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Message(nil), s.logs[roomID]...), nil
}

func (s *memStore) DeleteMessages(ctx context.Context, roomID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.logs[roomID]))
	delete(s.logs, roomID)
	return n, nil
}
