package actors

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"

	"parley/internal/chat"
	"parley/internal/database"
	"parley/internal/models"
	"parley/internal/utils"
)

const (
	storeTimeout = 5 * time.Second
	previewRunes = 120
)

// RoomActor is the single writer for one room. It owns an in-memory copy
// of the room document and its message log, persists every mutation
// through the store's atomic partial updates, and pushes the resulting
// snapshots into the event sink. Because all mutations for a room are
// processed one at a time here, a send racing a read-mark resolves to one
// of the two serial orders and unread counts are never silently lost.
type RoomActor struct {
	roomID  uuid.UUID
	store   database.Store
	sink    EventSink
	metrics *utils.MetricsCollector
	logger  *slog.Logger

	room    *models.Room
	msgs    []*models.Message
	nextSeq int64
	loaded  bool
}

func NewRoomActor(roomID uuid.UUID, store database.Store, sink EventSink, metrics *utils.MetricsCollector, logger *slog.Logger) actor.Actor {
	return &RoomActor{
		roomID:  roomID,
		store:   store,
		sink:    sink,
		metrics: metrics,
		logger:  logger.With("room", roomID),
	}
}

func (a *RoomActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		a.load()
	case *SendMessageMsg:
		a.handleSend(ctx, msg)
	case *LeaveRoomMsg:
		a.handleLeave(ctx, msg)
	case *MarkReadMsg:
		a.handleMarkRead(ctx, msg)
	case *GetRoomMsg:
		if !a.ensureLoaded(ctx) {
			return
		}
		ctx.Respond(a.room.Clone())
	case *GetMessagesMsg:
		if !a.ensureLoaded(ctx) {
			return
		}
		ctx.Respond(a.snapshot())
	}
}

// load pulls the room document and its log into memory. Failures are
// tolerated here; the next operation retries through ensureLoaded.
func (a *RoomActor) load() {
	dbCtx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	room, err := a.store.GetRoom(dbCtx, a.roomID)
	if err != nil {
		a.logger.Error("failed to load room", "error", err)
		return
	}
	if room == nil {
		a.loaded = true // room genuinely absent
		return
	}

	msgs, err := a.store.ListMessages(dbCtx, a.roomID)
	if err != nil {
		a.logger.Error("failed to load message log", "error", err)
		return
	}

	a.room = room
	a.msgs = msgs
	if len(msgs) > 0 {
		a.nextSeq = msgs[len(msgs)-1].Seq + 1
	}
	a.loaded = true
}

// ensureLoaded retries the initial load if it failed on Started and
// responds with an error when the room does not exist.
func (a *RoomActor) ensureLoaded(ctx actor.Context) bool {
	if !a.loaded {
		a.load()
	}
	if !a.loaded {
		ctx.Respond(utils.NewAppError(utils.ErrDatabase, "room state unavailable", nil))
		return false
	}
	if a.room == nil {
		ctx.Respond(utils.NewRoomNotFoundError(a.roomID.String()))
		return false
	}
	return true
}

func (a *RoomActor) handleSend(ctx actor.Context, msg *SendMessageMsg) {
	startTime := time.Now()

	if strings.TrimSpace(msg.Text) == "" {
		ctx.Respond(utils.NewAppError(utils.ErrInvalidInput, "message text must not be empty", nil))
		return
	}
	if !a.ensureLoaded(ctx) {
		return
	}
	// The read-only predicate doubles as the send guard: a room that has
	// lost a participant accepts no new messages, and a zero-participant
	// room should not even exist anymore.
	if chat.IsReadOnly(a.room) {
		ctx.Respond(utils.NewRoomClosedError(a.roomID.String()))
		return
	}
	if _, ok := a.room.Profiles[msg.SenderID]; !ok {
		ctx.Respond(utils.NewNotParticipantError(msg.SenderID.String()))
		return
	}

	now := time.Now().UTC()
	// Keep createdAt non-decreasing within the room even if the clock
	// steps backwards; seq breaks exact ties.
	if n := len(a.msgs); n > 0 && now.Before(a.msgs[n-1].CreatedAt) {
		now = a.msgs[n-1].CreatedAt
	}

	message := &models.Message{
		ID:        uuid.New(),
		RoomID:    a.roomID,
		SenderID:  msg.SenderID,
		Text:      msg.Text,
		Seq:       a.nextSeq,
		CreatedAt: now,
	}

	dbCtx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	// Counts first, log second: if the insert fails after the counts
	// were bumped, the damage is an overcount, which callers tolerate.
	// The reverse order could lose an unread increment, which they
	// cannot.
	preview := previewOf(msg.Text)
	if err := a.store.ApplyMessage(dbCtx, a.roomID, msg.SenderID, preview, now, a.room.Participants); err != nil {
		a.metrics.IncrementErrors()
		ctx.Respond(utils.NewAppError(utils.ErrDatabase, "failed to update room", err))
		return
	}
	if err := a.store.InsertMessage(dbCtx, message); err != nil {
		a.metrics.IncrementErrors()
		ctx.Respond(utils.NewAppError(utils.ErrDatabase, "failed to append message", err))
		return
	}

	a.nextSeq++
	a.msgs = append(a.msgs, message)
	a.room.LastMessage = preview
	a.room.LastMessageAt = now
	a.room.UpdatedAt = now
	for _, id := range a.room.Participants {
		if id == msg.SenderID {
			a.room.UnreadCounts[id] = 0
		} else {
			a.room.UnreadCounts[id]++
		}
	}

	a.sink.RoomUpdated(a.room.Clone())
	a.sink.MessagesUpdated(a.roomID, a.snapshot())

	a.metrics.AddOperationLatency("send_message", time.Since(startTime))
	ctx.Respond(message)
}

func (a *RoomActor) handleLeave(ctx actor.Context, msg *LeaveRoomMsg) {
	startTime := time.Now()

	if !a.loaded {
		a.load()
	}
	if !a.loaded {
		ctx.Respond(utils.NewAppError(utils.ErrDatabase, "room state unavailable", nil))
		return
	}
	// A leave aimed at a room that no longer exists is the duplicate of
	// the leave that deleted it (double click, retried request); it acks
	// like the original instead of surfacing a not-found error.
	if a.room == nil {
		ctx.Respond(&LeaveAck{RoomDeleted: true})
		return
	}
	// Same idempotency for a duplicate leave while the room still exists.
	if !a.room.HasParticipant(msg.UserID) {
		ctx.Respond(&LeaveAck{RoomDeleted: false})
		return
	}

	now := time.Now().UTC()
	dbCtx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := a.store.RemoveParticipant(dbCtx, a.roomID, msg.UserID, now); err != nil {
		a.metrics.IncrementErrors()
		ctx.Respond(utils.NewAppError(utils.ErrDatabase, "failed to record leave", err))
		return
	}

	remaining := a.room.Participants[:0:0]
	for _, id := range a.room.Participants {
		if id != msg.UserID {
			remaining = append(remaining, id)
		}
	}
	a.room.Participants = remaining
	profile := a.room.Profiles[msg.UserID]
	profile.LeftAt = &now
	a.room.Profiles[msg.UserID] = profile
	a.room.UnreadCounts[msg.UserID] = 0
	a.room.UpdatedAt = now

	if len(a.room.Participants) > 0 {
		a.sink.RoomUpdated(a.room.Clone())
		a.metrics.AddOperationLatency("leave_room", time.Since(startTime))
		ctx.Respond(&LeaveAck{RoomDeleted: false})
		return
	}

	// Last participant gone: cascade-delete the log and the room. The
	// leaving user's ack never waits on cascade errors; those are
	// reported out-of-band instead.
	members := make([]uuid.UUID, 0, len(a.room.Profiles))
	for id := range a.room.Profiles {
		members = append(members, id)
	}

	if _, err := a.store.DeleteMessages(dbCtx, a.roomID); err != nil {
		a.metrics.IncrementCascadeFaults()
		a.logger.Error("partial cascade failure: message log sweep failed, still deleting room",
			"error", utils.NewAppError(utils.ErrPartialCascade, "message deletion failed during room close", err))
	}
	if err := a.store.DeleteRoom(dbCtx, a.roomID); err != nil {
		a.metrics.IncrementCascadeFaults()
		a.logger.Error("partial cascade failure: room document deletion failed",
			"error", utils.NewAppError(utils.ErrPartialCascade, "room deletion failed during room close", err))
	}

	a.room = nil
	a.msgs = nil
	a.sink.RoomDeleted(a.roomID, members)

	a.metrics.AddOperationLatency("leave_room", time.Since(startTime))
	ctx.Respond(&LeaveAck{RoomDeleted: true})
}

func (a *RoomActor) handleMarkRead(ctx actor.Context, msg *MarkReadMsg) {
	startTime := time.Now()

	if !a.ensureLoaded(ctx) {
		return
	}
	if !a.room.HasParticipant(msg.UserID) {
		ctx.Respond(utils.NewNotParticipantError(msg.UserID.String()))
		return
	}
	if a.room.UnreadCounts[msg.UserID] == 0 {
		ctx.Respond(true)
		return
	}

	now := time.Now().UTC()
	dbCtx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := a.store.MarkRead(dbCtx, a.roomID, msg.UserID, now); err != nil {
		a.metrics.IncrementErrors()
		ctx.Respond(utils.NewAppError(utils.ErrDatabase, "failed to mark room read", err))
		return
	}

	a.room.UnreadCounts[msg.UserID] = 0
	a.room.UpdatedAt = now
	a.sink.RoomUpdated(a.room.Clone())

	a.metrics.AddOperationLatency("mark_read", time.Since(startTime))
	ctx.Respond(true)
}

// snapshot returns a copy of the log slice. Messages themselves are
// immutable, so a shallow copy is enough.
func (a *RoomActor) snapshot() []*models.Message {
	return append([]*models.Message(nil), a.msgs...)
}

func previewOf(text string) string {
	runes := []rune(text)
	if len(runes) <= previewRunes {
		return text
	}
	return string(runes[:previewRunes-3]) + "..."
}
