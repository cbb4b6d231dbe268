// Package engine routes every room mutation through a single per-room
// actor, reproducing the serialization a transactional document store
// would otherwise have to provide.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"

	"parley/internal/database"
	"parley/internal/engine/actors"
	"parley/internal/models"
	"parley/internal/utils"
)

const defaultRequestTimeout = 5 * time.Second

// Engine owns the actor system and a registry of live room actors,
// spawning them on demand and stopping them once their room is deleted.
type Engine struct {
	system  *actor.ActorSystem
	root    *actor.RootContext
	store   database.Store
	sink    actors.EventSink
	metrics *utils.MetricsCollector
	logger  *slog.Logger
	timeout time.Duration

	mu    sync.Mutex
	rooms map[uuid.UUID]*actor.PID
}

func NewEngine(system *actor.ActorSystem, store database.Store, sink actors.EventSink, metrics *utils.MetricsCollector, logger *slog.Logger) *Engine {
	return &Engine{
		system:  system,
		root:    system.Root,
		store:   store,
		sink:    sink,
		metrics: metrics,
		logger:  logger,
		timeout: defaultRequestTimeout,
		rooms:   make(map[uuid.UUID]*actor.PID),
	}
}

// CreateRoom starts a conversation between two users. Creation is
// idempotent per unordered pair: if an active room already exists it is
// returned instead of a second one being created. A pair whose earlier
// room went through a leave is not "active" anymore and gets a fresh room.
func (e *Engine) CreateRoom(ctx context.Context, userA, userB uuid.UUID, profileA, profileB models.ParticipantProfile) (*models.Room, error) {
	startTime := time.Now()

	if userA == userB {
		return nil, utils.NewAppError(utils.ErrInvalidInput, "cannot create a room with yourself", nil)
	}

	if existing, err := e.store.FindActiveRoomByPair(ctx, userA, userB); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to look up existing room", err)
	} else if existing != nil {
		return existing, nil
	}

	now := time.Now().UTC()
	room := &models.Room{
		ID:           uuid.New(),
		Participants: []uuid.UUID{userA, userB},
		Profiles: map[uuid.UUID]models.ParticipantProfile{
			userA: profileA,
			userB: profileB,
		},
		UnreadCounts: map[uuid.UUID]int{userA: 0, userB: 0},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := e.store.InsertRoom(ctx, room); err != nil {
		// Lost a creation race for the same pair: the winner's room is
		// the one both callers get.
		if errors.Is(err, database.ErrDuplicatePair) {
			existing, ferr := e.store.FindActiveRoomByPair(ctx, userA, userB)
			if ferr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to create room", err)
	}

	e.sink.RoomUpdated(room.Clone())
	e.metrics.AddOperationLatency("create_room", time.Since(startTime))
	return room, nil
}

// SendMessage appends one message through the room's actor.
func (e *Engine) SendMessage(roomID, senderID uuid.UUID, text string) (*models.Message, error) {
	result, err := e.request(roomID, &actors.SendMessageMsg{SenderID: senderID, Text: text})
	if err != nil {
		return nil, err
	}
	msg, ok := result.(*models.Message)
	if !ok {
		return nil, fmt.Errorf("unexpected send result %T", result)
	}
	return msg, nil
}

// LeaveRoom records a one-sided leave and stops the actor if that leave
// emptied (and therefore deleted) the room.
func (e *Engine) LeaveRoom(roomID, userID uuid.UUID) error {
	result, err := e.request(roomID, &actors.LeaveRoomMsg{UserID: userID})
	if err != nil {
		return err
	}
	ack, ok := result.(*actors.LeaveAck)
	if !ok {
		return fmt.Errorf("unexpected leave result %T", result)
	}
	if ack.RoomDeleted {
		e.stopRoom(roomID)
	}
	return nil
}

// MarkRoomRead zeroes the caller's unread count for the room.
func (e *Engine) MarkRoomRead(roomID, userID uuid.UUID) error {
	_, err := e.request(roomID, &actors.MarkReadMsg{UserID: userID})
	return err
}

// GetRoom returns the actor's current view of the room.
func (e *Engine) GetRoom(roomID uuid.UUID) (*models.Room, error) {
	result, err := e.request(roomID, &actors.GetRoomMsg{})
	if err != nil {
		return nil, err
	}
	room, ok := result.(*models.Room)
	if !ok {
		return nil, fmt.Errorf("unexpected room result %T", result)
	}
	return room, nil
}

// ListMessages returns the room's full ordered log.
func (e *Engine) ListMessages(roomID uuid.UUID) ([]*models.Message, error) {
	result, err := e.request(roomID, &actors.GetMessagesMsg{})
	if err != nil {
		return nil, err
	}
	msgs, ok := result.([]*models.Message)
	if !ok {
		return nil, fmt.Errorf("unexpected messages result %T", result)
	}
	return msgs, nil
}

// ListRooms is a read-only query and goes straight to the store.
func (e *Engine) ListRooms(ctx context.Context, userID uuid.UUID) ([]*models.Room, error) {
	rooms, err := e.store.ListRoomsForUser(ctx, userID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to list rooms", err)
	}
	return rooms, nil
}

// request dispatches a message to the room's actor and unwraps actor-level
// application errors into ordinary error returns.
func (e *Engine) request(roomID uuid.UUID, msg interface{}) (interface{}, error) {
	future := e.root.RequestFuture(e.roomPID(roomID), msg, e.timeout)
	result, err := future.Result()
	if err != nil {
		e.metrics.IncrementErrors()
		appErr := utils.NewActorTimeoutError("room:" + roomID.String())
		appErr.Origin = err // keeps timeout vs. dead-letter apart in logs
		return nil, appErr
	}

	if appErr, ok := result.(*utils.AppError); ok {
		// An actor fronting a nonexistent room has nothing left to do.
		if appErr.Code == utils.ErrRoomNotFound {
			e.stopRoom(roomID)
		}
		return nil, appErr
	}
	return result, nil
}

func (e *Engine) roomPID(roomID uuid.UUID) *actor.PID {
	e.mu.Lock()
	defer e.mu.Unlock()

	if pid, ok := e.rooms[roomID]; ok {
		return pid
	}

	props := actor.PropsFromProducer(func() actor.Actor {
		return actors.NewRoomActor(roomID, e.store, e.sink, e.metrics, e.logger)
	})
	pid := e.root.Spawn(props)
	e.rooms[roomID] = pid
	return pid
}

func (e *Engine) stopRoom(roomID uuid.UUID) {
	e.mu.Lock()
	pid, ok := e.rooms[roomID]
	if ok {
		delete(e.rooms, roomID)
	}
	e.mu.Unlock()

	if ok {
		e.root.Stop(pid)
	}
}
