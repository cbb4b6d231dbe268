// Package realtime fans room and message-log changes out to any number of
// live subscribers. Emissions are full snapshots: an observer always sees
// an append-only extension of what it saw before, never a reordering or a
// retraction.
package realtime

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"parley/internal/models"
)

// subBuffer is the per-subscriber channel depth. A slow consumer has its
// oldest pending snapshot replaced by the newest one, which is safe
// because every snapshot contains everything the dropped one did.
const subBuffer = 8

// Snapshotter provides the initial state delivered to a fresh subscriber
// before live updates take over. Satisfied by database.Store.
type Snapshotter interface {
	GetRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error)
	ListRoomsForUser(ctx context.Context, userID uuid.UUID) ([]*models.Room, error)
	ListMessages(ctx context.Context, roomID uuid.UUID) ([]*models.Message, error)
}

// RoomSubscription is a live stream of room snapshots. C closes when the
// room is deleted or the subscription is cancelled.
type RoomSubscription struct {
	C <-chan *models.Room

	hub        *Hub
	roomID     uuid.UUID
	ch         chan *models.Room
	registered bool
	delivered  bool
	lastUpdate int64 // UnixNano of the newest delivered snapshot
}

// MessageSubscription is a live stream of full ordered message-log
// snapshots for one room.
type MessageSubscription struct {
	C <-chan []*models.Message

	hub        *Hub
	roomID     uuid.UUID
	ch         chan []*models.Message
	registered bool
	delivered  bool
	lastSeq    int64 // seq of the newest delivered tail
}

// RoomListSubscription is a live stream of a user's rooms ordered by
// updatedAt descending.
type RoomListSubscription struct {
	C <-chan []*models.Room

	hub        *Hub
	userID     uuid.UUID
	ch         chan []*models.Room
	registered bool
}

// Hub is the in-process subscription gateway. All state is guarded by one
// mutex; publishers for a given room are already serialized by that
// room's actor, so lock ordering is the only thing the hub must preserve.
type Hub struct {
	store  Snapshotter
	logger *slog.Logger

	mu       sync.Mutex
	roomSubs map[uuid.UUID]map[*RoomSubscription]bool
	msgSubs  map[uuid.UUID]map[*MessageSubscription]bool
	listSubs map[uuid.UUID]map[*RoomListSubscription]bool

	// Per-user room cache, maintained only while the user has at least
	// one room-list subscription.
	lists map[uuid.UUID]map[uuid.UUID]*models.Room

	// Rooms that have been cascade-deleted. Subscribing to one of these
	// (or to a room that never existed) yields an already-closed stream
	// rather than an error.
	closed map[uuid.UUID]bool
}

func NewHub(store Snapshotter, logger *slog.Logger) *Hub {
	return &Hub{
		store:    store,
		logger:   logger,
		roomSubs: make(map[uuid.UUID]map[*RoomSubscription]bool),
		msgSubs:  make(map[uuid.UUID]map[*MessageSubscription]bool),
		listSubs: make(map[uuid.UUID]map[*RoomListSubscription]bool),
		lists:    make(map[uuid.UUID]map[uuid.UUID]*models.Room),
		closed:   make(map[uuid.UUID]bool),
	}
}

// SubscribeRoom attaches a live room stream. The current room snapshot is
// delivered first, then every subsequent change, in order.
func (h *Hub) SubscribeRoom(ctx context.Context, roomID uuid.UUID) *RoomSubscription {
	sub := &RoomSubscription{hub: h, roomID: roomID, ch: make(chan *models.Room, subBuffer)}
	sub.C = sub.ch

	h.mu.Lock()
	if h.closed[roomID] {
		h.mu.Unlock()
		close(sub.ch)
		return sub
	}
	if _, ok := h.roomSubs[roomID]; !ok {
		h.roomSubs[roomID] = make(map[*RoomSubscription]bool)
	}
	h.roomSubs[roomID][sub] = true
	sub.registered = true
	h.mu.Unlock()

	room, err := h.store.GetRoom(ctx, roomID)
	if err != nil {
		// Live updates still flow; only the initial snapshot is lost.
		h.logger.Warn("initial room snapshot failed", "room", roomID, "error", err)
		return sub
	}
	if room == nil {
		sub.Cancel()
		return sub
	}

	h.mu.Lock()
	h.deliverRoom(sub, room)
	h.mu.Unlock()
	return sub
}

// Cancel detaches the subscription immediately. Other subscribers and the
// underlying data are unaffected. Safe to call more than once.
func (s *RoomSubscription) Cancel() {
	s.hub.mu.Lock()
	registered := s.registered
	if registered {
		s.registered = false
		delete(s.hub.roomSubs[s.roomID], s)
		if len(s.hub.roomSubs[s.roomID]) == 0 {
			delete(s.hub.roomSubs, s.roomID)
		}
	}
	s.hub.mu.Unlock()
	if registered {
		close(s.ch)
	}
}

// SubscribeMessages attaches a live message-log stream for one room,
// starting with the current full log.
func (h *Hub) SubscribeMessages(ctx context.Context, roomID uuid.UUID) *MessageSubscription {
	sub := &MessageSubscription{hub: h, roomID: roomID, ch: make(chan []*models.Message, subBuffer)}
	sub.C = sub.ch

	h.mu.Lock()
	if h.closed[roomID] {
		h.mu.Unlock()
		close(sub.ch)
		return sub
	}
	if _, ok := h.msgSubs[roomID]; !ok {
		h.msgSubs[roomID] = make(map[*MessageSubscription]bool)
	}
	h.msgSubs[roomID][sub] = true
	sub.registered = true
	h.mu.Unlock()

	room, err := h.store.GetRoom(ctx, roomID)
	if err == nil && room == nil {
		sub.Cancel()
		return sub
	}

	msgs, err := h.store.ListMessages(ctx, roomID)
	if err != nil {
		h.logger.Warn("initial message snapshot failed", "room", roomID, "error", err)
		return sub
	}

	h.mu.Lock()
	h.deliverMessages(sub, msgs)
	h.mu.Unlock()
	return sub
}

func (s *MessageSubscription) Cancel() {
	s.hub.mu.Lock()
	registered := s.registered
	if registered {
		s.registered = false
		delete(s.hub.msgSubs[s.roomID], s)
		if len(s.hub.msgSubs[s.roomID]) == 0 {
			delete(s.hub.msgSubs, s.roomID)
		}
	}
	s.hub.mu.Unlock()
	if registered {
		close(s.ch)
	}
}

// SubscribeRoomList attaches a live stream of the user's rooms ordered by
// recency of activity.
func (h *Hub) SubscribeRoomList(ctx context.Context, userID uuid.UUID) *RoomListSubscription {
	sub := &RoomListSubscription{hub: h, userID: userID, ch: make(chan []*models.Room, subBuffer)}
	sub.C = sub.ch

	h.mu.Lock()
	if _, ok := h.listSubs[userID]; !ok {
		h.listSubs[userID] = make(map[*RoomListSubscription]bool)
	}
	h.listSubs[userID][sub] = true
	sub.registered = true
	primed := h.lists[userID] != nil
	h.mu.Unlock()

	if !primed {
		rooms, err := h.store.ListRoomsForUser(ctx, userID)
		if err != nil {
			h.logger.Warn("initial room list failed", "user", userID, "error", err)
			rooms = nil
		}
		h.mu.Lock()
		if h.lists[userID] == nil {
			cache := make(map[uuid.UUID]*models.Room, len(rooms))
			for _, r := range rooms {
				cache[r.ID] = r
			}
			h.lists[userID] = cache
		}
		h.mu.Unlock()
	}

	h.mu.Lock()
	h.pushList(sub)
	h.mu.Unlock()
	return sub
}

func (s *RoomListSubscription) Cancel() {
	s.hub.mu.Lock()
	registered := s.registered
	if registered {
		s.registered = false
		delete(s.hub.listSubs[s.userID], s)
		if len(s.hub.listSubs[s.userID]) == 0 {
			delete(s.hub.listSubs, s.userID)
			delete(s.hub.lists, s.userID)
		}
	}
	s.hub.mu.Unlock()
	if registered {
		close(s.ch)
	}
}

// RoomUpdated implements the actor event sink: fan the new room snapshot
// out to room subscribers and fold it into affected room-list caches.
func (h *Hub) RoomUpdated(room *models.Room) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.roomSubs[room.ID] {
		h.deliverRoom(sub, room)
	}

	still := make(map[uuid.UUID]bool, len(room.Participants))
	for _, id := range room.Participants {
		still[id] = true
		if cache := h.lists[id]; cache != nil {
			cache[room.ID] = room
			h.notifyList(id)
		}
	}
	// A user present in the profiles but no longer a participant has
	// left; the room drops out of their list.
	for id := range room.Profiles {
		if still[id] {
			continue
		}
		if cache := h.lists[id]; cache != nil {
			if _, ok := cache[room.ID]; ok {
				delete(cache, room.ID)
				h.notifyList(id)
			}
		}
	}
}

// RoomDeleted closes the room's streams permanently and scrubs it from
// every member's list.
func (h *Hub) RoomDeleted(roomID uuid.UUID, members []uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed[roomID] = true

	for sub := range h.roomSubs[roomID] {
		sub.registered = false
		close(sub.ch)
	}
	delete(h.roomSubs, roomID)

	for sub := range h.msgSubs[roomID] {
		sub.registered = false
		close(sub.ch)
	}
	delete(h.msgSubs, roomID)

	for _, id := range members {
		if cache := h.lists[id]; cache != nil {
			if _, ok := cache[roomID]; ok {
				delete(cache, roomID)
				h.notifyList(id)
			}
		}
	}
}

// MessagesUpdated fans a new full log snapshot out to the room's message
// subscribers.
func (h *Hub) MessagesUpdated(roomID uuid.UUID, messages []*models.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.msgSubs[roomID] {
		h.deliverMessages(sub, messages)
	}
}

// deliverRoom drops stale snapshots: between registration and the initial
// store read a live update may already have gone out, and replaying an
// older snapshot after a newer one would look like a retraction. A
// subscription whose channel was already closed by RoomDeleted or Cancel
// in that same window must not be written to at all.
func (h *Hub) deliverRoom(sub *RoomSubscription, room *models.Room) {
	if !sub.registered {
		return
	}
	stamp := room.UpdatedAt.UnixNano()
	if sub.delivered && stamp <= sub.lastUpdate {
		return
	}
	sub.delivered = true
	sub.lastUpdate = stamp

	select {
	case sub.ch <- room:
	default:
		// Full buffer: drop the oldest pending snapshot, newest wins.
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- room:
		default:
		}
	}
}

func (h *Hub) deliverMessages(sub *MessageSubscription, messages []*models.Message) {
	if !sub.registered {
		return
	}
	var tail int64 = -1
	if len(messages) > 0 {
		tail = messages[len(messages)-1].Seq
	}
	if sub.delivered && tail <= sub.lastSeq {
		return
	}
	sub.delivered = true
	sub.lastSeq = tail

	select {
	case sub.ch <- messages:
	default:
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- messages:
		default:
		}
	}
}

// notifyList re-emits a user's ordered room list to all their list
// subscriptions. Caller holds h.mu.
func (h *Hub) notifyList(userID uuid.UUID) {
	cache := h.lists[userID]
	rooms := make([]*models.Room, 0, len(cache))
	for _, r := range cache {
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].UpdatedAt.After(rooms[j].UpdatedAt)
	})

	for sub := range h.listSubs[userID] {
		h.pushListLocked(sub, rooms)
	}
}

// pushList emits the current ordered list to one subscription. Caller
// holds h.mu.
func (h *Hub) pushList(sub *RoomListSubscription) {
	cache := h.lists[sub.userID]
	rooms := make([]*models.Room, 0, len(cache))
	for _, r := range cache {
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].UpdatedAt.After(rooms[j].UpdatedAt)
	})
	h.pushListLocked(sub, rooms)
}

func (h *Hub) pushListLocked(sub *RoomListSubscription, rooms []*models.Room) {
	if !sub.registered {
		return
	}
	select {
	case sub.ch <- rooms:
	default:
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- rooms:
		default:
		}
	}
}
