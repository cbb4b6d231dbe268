package actors

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"parley/internal/database"
	"parley/internal/models"
)

// fakeStore is an in-memory database.Store with injectable failures.
type fakeStore struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]*models.Room
	logs  map[uuid.UUID][]*models.Message

	applyErr   error
	insertErr  error
	delMsgErr  error
	delRoomErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rooms: make(map[uuid.UUID]*models.Room),
		logs:  make(map[uuid.UUID][]*models.Message),
	}
}

func (f *fakeStore) InsertRoom(ctx context.Context, room *models.Room) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(room.Participants) == 2 {
		for _, r := range f.rooms {
			if len(r.Participants) == 2 && samePair(r.Participants, room.Participants) {
				return database.ErrDuplicatePair
			}
		}
	}
	f.rooms[room.ID] = room.Clone()
	return nil
}

func (f *fakeStore) GetRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return nil, nil
	}
	return room.Clone(), nil
}

func (f *fakeStore) FindActiveRoomByPair(ctx context.Context, userA, userB uuid.UUID) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rooms {
		if len(r.Participants) == 2 && samePair(r.Participants, []uuid.UUID{userA, userB}) {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListRoomsForUser(ctx context.Context, userID uuid.UUID) ([]*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rooms []*models.Room
	for _, r := range f.rooms {
		if r.HasParticipant(userID) {
			rooms = append(rooms, r.Clone())
		}
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].UpdatedAt.After(rooms[j].UpdatedAt)
	})
	return rooms, nil
}

func (f *fakeStore) DeleteRoom(ctx context.Context, roomID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delRoomErr != nil {
		return f.delRoomErr
	}
	delete(f.rooms, roomID)
	return nil
}

func (f *fakeStore) ApplyMessage(ctx context.Context, roomID, senderID uuid.UUID, preview string, at time.Time, recipients []uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	room, ok := f.rooms[roomID]
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

func (f *fakeStore) MarkRead(ctx context.Context, roomID, userID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok := f.rooms[roomID]; ok {
		room.UnreadCounts[userID] = 0
		room.UpdatedAt = at
	}
	return nil
}

func (f *fakeStore) RemoveParticipant(ctx context.Context, roomID, userID uuid.UUID, leftAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
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

func (f *fakeStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	copied := *msg
	f.logs[msg.RoomID] = append(f.logs[msg.RoomID], &copied)
	return nil
}

func (f *fakeStore) ListMessages(ctx context.Context, roomID uuid.UUID) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.Message(nil), f.logs[roomID]...), nil
}

func (f *fakeStore) DeleteMessages(ctx context.Context, roomID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delMsgErr != nil {
		return 0, f.delMsgErr
	}
	n := int64(len(f.logs[roomID]))
	delete(f.logs, roomID)
	return n, nil
}

func samePair(a, b []uuid.UUID) bool {
	if len(a) != 2 || len(b) != 2 {
		return false
	}
	return (a[0] == b[0] && a[1] == b[1]) || (a[0] == b[1] && a[1] == b[0])
}

// recordingSink captures sink events for assertions.
type recordingSink struct {
	mu        sync.Mutex
	rooms     []*models.Room
	deleted   []uuid.UUID
	snapshots [][]*models.Message
}

func (s *recordingSink) RoomUpdated(room *models.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = append(s.rooms, room)
}

func (s *recordingSink) RoomDeleted(roomID uuid.UUID, members []uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, roomID)
}

func (s *recordingSink) MessagesUpdated(roomID uuid.UUID, messages []*models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, messages)
}

func (s *recordingSink) deletedRooms() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID(nil), s.deleted...)
}

func (s *recordingSink) lastSnapshot() []*models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snapshots) == 0 {
		return nil
	}
	return s.snapshots[len(s.snapshots)-1]
}
