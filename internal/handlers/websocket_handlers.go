package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"parley/internal/chat"
	"parley/internal/middleware"
	"parley/internal/models"
	"parley/internal/realtime"
	"parley/internal/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS layer; tokens gate access.
		return true
	},
}

// wsEnvelope is the one frame shape pushed down every live stream.
type wsEnvelope struct {
	Type     string            `json:"type"` // "room", "messages", "roomList" or "closed"
	Room     *models.Room      `json:"room,omitempty"`
	ReadOnly bool              `json:"readOnly,omitempty"`
	Messages []*models.Message `json:"messages,omitempty"`
	Rooms    []*models.Room    `json:"rooms,omitempty"`
}

// HandleRoomWS streams room and message-log snapshots for one room over a
// websocket. Browsers cannot set headers on websocket requests, so the
// token rides in the query string.
func (s *Server) HandleRoomWS(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.wsClaims(w, r)
	if !ok {
		return
	}

	roomID, err := uuid.Parse(r.URL.Query().Get("roomId"))
	if err != nil {
		http.Error(w, "Invalid roomId", http.StatusBadRequest)
		return
	}

	// Live streams are gated on membership just like one-shot history. A
	// deleted room is allowed through: its subscriptions come back already
	// closed, which is what a member racing the deletion sees too.
	room, err := s.Engine.GetRoom(roomID)
	if err != nil && !utils.IsErrorCode(err, utils.ErrRoomNotFound) {
		s.respondWithAppError(w, err)
		return
	}
	if room != nil && !room.HasParticipant(claims.UserID) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &realtime.Client{
		UserID: claims.UserID,
		Conn:   conn,
		Send:   make(chan []byte, 32),
		Logger: s.Logger,
	}

	roomSub := s.Hub.SubscribeRoom(r.Context(), roomID)
	msgSub := s.Hub.SubscribeMessages(r.Context(), roomID)

	go s.forwardRoomStreams(client, claims.UserID, roomSub, msgSub)
	go client.WritePump()
	client.ReadPump(func() {
		roomSub.Cancel()
		msgSub.Cancel()
	})
}

// forwardRoomStreams encodes subscription snapshots into envelopes until
// both streams close, then signals the end of the stream and lets the
// write pump shut the socket down.
func (s *Server) forwardRoomStreams(client *realtime.Client, userID uuid.UUID, roomSub *realtime.RoomSubscription, msgSub *realtime.MessageSubscription) {
	roomCh := roomSub.C
	msgCh := msgSub.C

	for roomCh != nil || msgCh != nil {
		select {
		case room, ok := <-roomCh:
			if !ok {
				roomCh = nil
				continue
			}
			// A caller who left keeps the socket; the stream just stops
			// being theirs to act on, which the read-only flag conveys.
			s.push(client, wsEnvelope{
				Type:     "room",
				Room:     room,
				ReadOnly: chat.IsReadOnly(room) || !room.HasParticipant(userID),
			})
		case messages, ok := <-msgCh:
			if !ok {
				msgCh = nil
				continue
			}
			s.push(client, wsEnvelope{Type: "messages", Messages: messages})
		}
	}

	s.push(client, wsEnvelope{Type: "closed"})
	close(client.Send)
}

// HandleRoomListWS streams the caller's room list ordered by recency.
func (s *Server) HandleRoomListWS(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.wsClaims(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &realtime.Client{
		UserID: claims.UserID,
		Conn:   conn,
		Send:   make(chan []byte, 32),
		Logger: s.Logger,
	}

	listSub := s.Hub.SubscribeRoomList(r.Context(), claims.UserID)

	go func() {
		for rooms := range listSub.C {
			s.push(client, wsEnvelope{Type: "roomList", Rooms: rooms})
		}
		close(client.Send)
	}()
	go client.WritePump()
	client.ReadPump(listSub.Cancel)
}

func (s *Server) wsClaims(w http.ResponseWriter, r *http.Request) (middleware.Identity, bool) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Token required", http.StatusUnauthorized)
		return middleware.Identity{}, false
	}
	claims, err := s.Auth.ValidateToken(token)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return middleware.Identity{}, false
	}
	return middleware.Identity{UserID: claims.UserID, DisplayName: claims.DisplayName}, true
}

func (s *Server) push(client *realtime.Client, env wsEnvelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		s.Logger.Error("failed to encode ws envelope", "error", err)
		return
	}
	select {
	case client.Send <- payload:
	default:
		s.Logger.Warn("dropping ws frame for slow client", "user", client.UserID)
	}
}
