package actors

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/models"
	"parley/internal/utils"
)

type actorEnv struct {
	store   *fakeStore
	sink    *recordingSink
	metrics *utils.MetricsCollector
	system  *actor.ActorSystem
}

func newActorEnv() *actorEnv {
	return &actorEnv{
		store:   newFakeStore(),
		sink:    &recordingSink{},
		metrics: utils.NewMetricsCollector(),
		system:  actor.NewActorSystem(),
	}
}

func (env *actorEnv) spawn(roomID uuid.UUID) *actor.PID {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewRoomActor(roomID, env.store, env.sink, env.metrics, logger)
	})
	return env.system.Root.Spawn(props)
}

func (env *actorEnv) ask(t *testing.T, pid *actor.PID, msg interface{}) interface{} {
	t.Helper()
	result, err := env.system.Root.RequestFuture(pid, msg, 2*time.Second).Result()
	require.NoError(t, err)
	return result
}

// seedRoom installs an active two-party room directly in the store.
func (env *actorEnv) seedRoom(userA, userB uuid.UUID) *models.Room {
	now := time.Now().UTC()
	room := &models.Room{
		ID:           uuid.New(),
		Participants: []uuid.UUID{userA, userB},
		Profiles: map[uuid.UUID]models.ParticipantProfile{
			userA: {DisplayName: "Alice"},
			userB: {DisplayName: "Bob"},
		},
		UnreadCounts: map[uuid.UUID]int{userA: 0, userB: 0},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	env.store.rooms[room.ID] = room
	return room
}

func TestSendMessageIncrementsRecipientUnread(t *testing.T) {
	env := newActorEnv()
	alice, bob := uuid.New(), uuid.New()
	room := env.seedRoom(alice, bob)
	pid := env.spawn(room.ID)

	for i := 0; i < 3; i++ {
		result := env.ask(t, pid, &SendMessageMsg{SenderID: alice, Text: "hello"})
		msg, ok := result.(*models.Message)
		require.True(t, ok, "expected a message, got %T: %v", result, result)
		assert.Equal(t, int64(i), msg.Seq)
	}

	result := env.ask(t, pid, &GetRoomMsg{})
	got := result.(*models.Room)
	assert.Equal(t, 3, got.UnreadCounts[bob])
	assert.Equal(t, 0, got.UnreadCounts[alice])
	assert.Equal(t, "hello", got.LastMessage)
}

func TestSendMessageOrderingIsStable(t *testing.T) {
	env := newActorEnv()
	alice, bob := uuid.New(), uuid.New()
	room := env.seedRoom(alice, bob)
	pid := env.spawn(room.ID)

	env.ask(t, pid, &SendMessageMsg{SenderID: alice, Text: "first"})
	env.ask(t, pid, &SendMessageMsg{SenderID: bob, Text: "second"})
	env.ask(t, pid, &SendMessageMsg{SenderID: alice, Text: "third"})

	result := env.ask(t, pid, &GetMessagesMsg{})
	msgs := result.([]*models.Message)
	require.Len(t, msgs, 3)
	for i, msg := range msgs {
		assert.Equal(t, int64(i), msg.Seq)
		if i > 0 {
			assert.False(t, msg.CreatedAt.Before(msgs[i-1].CreatedAt))
		}
	}
	assert.Equal(t, "first", msgs[0].Text)
	assert.Equal(t, "third", msgs[2].Text)

	// The sink saw the same tail the actor holds.
	pushed := env.sink.lastSnapshot()
	require.Len(t, pushed, 3)
	assert.Equal(t, "third", pushed[2].Text)
}

func TestSendEmptyTextRejected(t *testing.T) {
	env := newActorEnv()
	alice, bob := uuid.New(), uuid.New()
	room := env.seedRoom(alice, bob)
	pid := env.spawn(room.ID)

	result := env.ask(t, pid, &SendMessageMsg{SenderID: alice, Text: "   "})
	appErr, ok := result.(*utils.AppError)
	require.True(t, ok)
	assert.Equal(t, utils.ErrInvalidInput, appErr.Code)

	msgs := env.ask(t, pid, &GetMessagesMsg{}).([]*models.Message)
	assert.Empty(t, msgs)
}

func TestSendFromStrangerRejected(t *testing.T) {
	env := newActorEnv()
	room := env.seedRoom(uuid.New(), uuid.New())
	pid := env.spawn(room.ID)

	result := env.ask(t, pid, &SendMessageMsg{SenderID: uuid.New(), Text: "hi"})
	appErr, ok := result.(*utils.AppError)
	require.True(t, ok)
	assert.Equal(t, utils.ErrNotParticipant, appErr.Code)
}

func TestSendToHalfLeftRoomRejected(t *testing.T) {
	env := newActorEnv()
	alice, bob := uuid.New(), uuid.New()
	room := env.seedRoom(alice, bob)
	pid := env.spawn(room.ID)

	env.ask(t, pid, &LeaveRoomMsg{UserID: bob})

	result := env.ask(t, pid, &SendMessageMsg{SenderID: alice, Text: "anyone there?"})
	appErr, ok := result.(*utils.AppError)
	require.True(t, ok)
	assert.Equal(t, utils.ErrRoomClosed, appErr.Code)
}

func TestMarkReadZeroesUnread(t *testing.T) {
	env := newActorEnv()
	alice, bob := uuid.New(), uuid.New()
	room := env.seedRoom(alice, bob)
	pid := env.spawn(room.ID)

	env.ask(t, pid, &SendMessageMsg{SenderID: alice, Text: "ping"})
	env.ask(t, pid, &SendMessageMsg{SenderID: alice, Text: "ping again"})

	result := env.ask(t, pid, &MarkReadMsg{UserID: bob})
	require.Equal(t, true, result)

	got := env.ask(t, pid, &GetRoomMsg{}).(*models.Room)
	assert.Equal(t, 0, got.UnreadCounts[bob])
}

func TestMarkReadFromStrangerRejected(t *testing.T) {
	env := newActorEnv()
	room := env.seedRoom(uuid.New(), uuid.New())
	pid := env.spawn(room.ID)

	result := env.ask(t, pid, &MarkReadMsg{UserID: uuid.New()})
	appErr, ok := result.(*utils.AppError)
	require.True(t, ok)
	assert.Equal(t, utils.ErrNotParticipant, appErr.Code)
}

func TestLeaveIsIdempotent(t *testing.T) {
	env := newActorEnv()
	alice, bob := uuid.New(), uuid.New()
	room := env.seedRoom(alice, bob)
	pid := env.spawn(room.ID)

	first := env.ask(t, pid, &LeaveRoomMsg{UserID: alice}).(*LeaveAck)
	assert.False(t, first.RoomDeleted)

	second := env.ask(t, pid, &LeaveRoomMsg{UserID: alice}).(*LeaveAck)
	assert.False(t, second.RoomDeleted)

	got := env.ask(t, pid, &GetRoomMsg{}).(*models.Room)
	assert.Equal(t, []uuid.UUID{bob}, got.Participants)
	require.NotNil(t, got.Profiles[alice].LeftAt)
}

func TestLastLeaveCascadesDeletion(t *testing.T) {
	env := newActorEnv()
	alice, bob := uuid.New(), uuid.New()
	room := env.seedRoom(alice, bob)
	pid := env.spawn(room.ID)

	env.ask(t, pid, &SendMessageMsg{SenderID: alice, Text: "goodbye"})
	env.ask(t, pid, &LeaveRoomMsg{UserID: alice})
	ack := env.ask(t, pid, &LeaveRoomMsg{UserID: bob}).(*LeaveAck)
	assert.True(t, ack.RoomDeleted)

	env.store.mu.Lock()
	_, roomLeft := env.store.rooms[room.ID]
	logLeft := len(env.store.logs[room.ID])
	env.store.mu.Unlock()
	assert.False(t, roomLeft)
	assert.Zero(t, logLeft)

	require.Contains(t, env.sink.deletedRooms(), room.ID)

	result := env.ask(t, pid, &GetRoomMsg{})
	appErr, ok := result.(*utils.AppError)
	require.True(t, ok)
	assert.Equal(t, utils.ErrRoomNotFound, appErr.Code)
}

func TestCascadeFaultStillAcksLeave(t *testing.T) {
	env := newActorEnv()
	alice, bob := uuid.New(), uuid.New()
	room := env.seedRoom(alice, bob)
	pid := env.spawn(room.ID)

	env.ask(t, pid, &SendMessageMsg{SenderID: alice, Text: "doomed"})
	env.store.mu.Lock()
	env.store.delMsgErr = assert.AnError
	env.store.mu.Unlock()

	env.ask(t, pid, &LeaveRoomMsg{UserID: alice})
	ack := env.ask(t, pid, &LeaveRoomMsg{UserID: bob}).(*LeaveAck)
	assert.True(t, ack.RoomDeleted)
	assert.Equal(t, uint64(1), env.metrics.Snapshot().CascadeFaults)
}

func TestLeaveAfterDeletionIsNoOpSuccess(t *testing.T) {
	env := newActorEnv()
	alice, bob := uuid.New(), uuid.New()
	room := env.seedRoom(alice, bob)
	pid := env.spawn(room.ID)

	env.ask(t, pid, &LeaveRoomMsg{UserID: alice})
	ack := env.ask(t, pid, &LeaveRoomMsg{UserID: bob}).(*LeaveAck)
	require.True(t, ack.RoomDeleted)

	// A retried leave landing after the cascade must still read as
	// success, on the surviving actor and on a freshly spawned one alike.
	again := env.ask(t, pid, &LeaveRoomMsg{UserID: bob}).(*LeaveAck)
	assert.True(t, again.RoomDeleted)

	fresh := env.spawn(room.ID)
	late := env.ask(t, fresh, &LeaveRoomMsg{UserID: bob}).(*LeaveAck)
	assert.True(t, late.RoomDeleted)
}

func TestUnknownRoomRespondsNotFound(t *testing.T) {
	env := newActorEnv()
	pid := env.spawn(uuid.New())

	result := env.ask(t, pid, &SendMessageMsg{SenderID: uuid.New(), Text: "hello?"})
	appErr, ok := result.(*utils.AppError)
	require.True(t, ok)
	assert.Equal(t, utils.ErrRoomNotFound, appErr.Code)
}

func TestFailedCountUpdateNeverUndercounts(t *testing.T) {
	env := newActorEnv()
	alice, bob := uuid.New(), uuid.New()
	room := env.seedRoom(alice, bob)
	pid := env.spawn(room.ID)

	env.store.mu.Lock()
	env.store.insertErr = assert.AnError
	env.store.mu.Unlock()

	result := env.ask(t, pid, &SendMessageMsg{SenderID: alice, Text: "lost"})
	appErr, ok := result.(*utils.AppError)
	require.True(t, ok)
	assert.Equal(t, utils.ErrDatabase, appErr.Code)

	// Counts were bumped before the insert failed: the recipient may see
	// an overcount but never misses a message that did land.
	env.store.mu.Lock()
	unread := env.store.rooms[room.ID].UnreadCounts[bob]
	env.store.mu.Unlock()
	assert.Equal(t, 1, unread)
}
