// Package handlers exposes the messaging engine over HTTP and websockets.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"parley/internal/engine"
	"parley/internal/middleware"
	"parley/internal/realtime"
	"parley/internal/utils"
)

// Server holds dependencies for the HTTP handlers
type Server struct {
	Engine  *engine.Engine
	Hub     *realtime.Hub
	Auth    *middleware.Authenticator
	Metrics *utils.MetricsCollector
	Logger  *slog.Logger
}

func NewServer(eng *engine.Engine, hub *realtime.Hub, auth *middleware.Authenticator, metrics *utils.MetricsCollector, logger *slog.Logger) *Server {
	return &Server{
		Engine:  eng,
		Hub:     hub,
		Auth:    auth,
		Metrics: metrics,
		Logger:  logger,
	}
}

// HandleHealth reports liveness plus a metrics snapshot.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"metrics": s.Metrics.Snapshot(),
	})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.Logger.Error("failed to encode response", "error", err)
	}
}

// respondWithAppError maps application errors onto HTTP statuses and a
// uniform error body.
func (s *Server) respondWithAppError(w http.ResponseWriter, err error) {
	s.Metrics.IncrementErrors()

	var appErr *utils.AppError
	if !errors.As(err, &appErr) {
		s.Logger.Error("unclassified handler error", "error", err)
		s.respondWithJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Internal server error",
		})
		return
	}

	status := utils.AppErrorToHTTPStatus(appErr.Code)
	if status >= http.StatusInternalServerError {
		s.Logger.Error("handler error", "code", appErr.Code, "error", appErr)
	}
	s.respondWithJSON(w, status, map[string]string{
		"code":  appErr.Code,
		"error": appErr.Message,
	})
}

// identity pulls the authenticated caller out of the request context.
func (s *Server) identity(w http.ResponseWriter, r *http.Request) (middleware.Identity, bool) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		s.respondWithAppError(w, utils.NewAppError(utils.ErrUnauthorized, "Authentication required", nil))
	}
	return id, ok
}
