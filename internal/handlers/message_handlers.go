package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"parley/internal/utils"
)

// HandleSendMessage appends one message to a room on behalf of the
// caller.
func (s *Server) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
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
		RoomID string `json:"roomId"`
		Text   string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithAppError(w, utils.NewAppError(utils.ErrInvalidInput, "Invalid request body", err))
		return
	}

	roomID, err := uuid.Parse(req.RoomID)
	if err != nil {
		s.respondWithAppError(w, utils.NewAppError(utils.ErrInvalidInput, "Invalid roomId", err))
		return
	}

	msg, err := s.Engine.SendMessage(roomID, caller.UserID, req.Text)
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusCreated, msg)
}
