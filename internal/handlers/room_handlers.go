package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"parley/internal/chat"
	"parley/internal/models"
	"parley/internal/utils"
)

// HandleCreateRoom starts (or returns the existing) conversation between
// the caller and one other user.
func (s *Server) HandleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.Metrics.IncrementRequests()

	caller, ok := s.identity(w, r)
	if !ok {
		return
	}

	var req struct {
		OtherUserID      string `json:"otherUserId"`
		OtherDisplayName string `json:"otherDisplayName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithAppError(w, utils.NewAppError(utils.ErrInvalidInput, "Invalid request body", err))
		return
	}

	otherID, err := uuid.Parse(req.OtherUserID)
	if err != nil {
		s.respondWithAppError(w, utils.NewAppError(utils.ErrInvalidInput, "Invalid otherUserId", err))
		return
	}

	room, err := s.Engine.CreateRoom(r.Context(), caller.UserID, otherID,
		models.ParticipantProfile{DisplayName: caller.DisplayName},
		models.ParticipantProfile{DisplayName: req.OtherDisplayName},
	)
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, room)
}

// HandleLeaveRoom records a one-sided leave for the caller.
func (s *Server) HandleLeaveRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.Metrics.IncrementRequests()

	caller, ok := s.identity(w, r)
	if !ok {
		return
	}

	roomID, ok := s.decodeRoomID(w, r)
	if !ok {
		return
	}

	if err := s.Engine.LeaveRoom(roomID, caller.UserID); err != nil {
		s.respondWithAppError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

// HandleMarkRead zeroes the caller's unread count for a room.
func (s *Server) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.Metrics.IncrementRequests()

	caller, ok := s.identity(w, r)
	if !ok {
		return
	}

	roomID, ok := s.decodeRoomID(w, r)
	if !ok {
		return
	}

	if err := s.Engine.MarkRoomRead(roomID, caller.UserID); err != nil {
		s.respondWithAppError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

// HandleListRooms returns the caller's rooms ordered by recency of
// activity.
func (s *Server) HandleListRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.Metrics.IncrementRequests()

	caller, ok := s.identity(w, r)
	if !ok {
		return
	}

	// A userId query param is accepted for symmetry with the live-stream
	// endpoints but may only name the caller.
	if param := r.URL.Query().Get("userId"); param != "" && param != caller.UserID.String() {
		s.respondWithAppError(w, utils.NewAppError(utils.ErrUnauthorized, "Cannot list another user's rooms", nil))
		return
	}

	rooms, err := s.Engine.ListRooms(r.Context(), caller.UserID)
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, rooms)
}

// HandleRoomHistory returns the room's full ordered message log, grouped
// into sender clusters when ?clustered=true.
func (s *Server) HandleRoomHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.Metrics.IncrementRequests()

	caller, ok := s.identity(w, r)
	if !ok {
		return
	}

	roomID, err := uuid.Parse(r.URL.Query().Get("roomId"))
	if err != nil {
		s.respondWithAppError(w, utils.NewAppError(utils.ErrInvalidInput, "Invalid roomId", err))
		return
	}

	room, err := s.Engine.GetRoom(roomID)
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}
	if !room.HasParticipant(caller.UserID) {
		s.respondWithAppError(w, utils.NewNotParticipantError(caller.UserID.String()))
		return
	}

	messages, err := s.Engine.ListMessages(roomID)
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	if r.URL.Query().Get("clustered") != "true" {
		s.respondWithJSON(w, http.StatusOK, messages)
		return
	}

	s.respondWithJSON(w, http.StatusOK, chat.BuildClusters(messages))
}

// decodeRoomID parses a {"roomId": "..."} body.
func (s *Server) decodeRoomID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	var req struct {
		RoomID string `json:"roomId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithAppError(w, utils.NewAppError(utils.ErrInvalidInput, "Invalid request body", err))
		return uuid.Nil, false
	}
	roomID, err := uuid.Parse(req.RoomID)
	if err != nil {
		s.respondWithAppError(w, utils.NewAppError(utils.ErrInvalidInput, "Invalid roomId", err))
		return uuid.Nil, false
	}
	return roomID, true
}
