package utils

import "errors"

type AppError struct {
	Code    string
	Message string
	Origin  error // Original error that caused this error, if any
}

func (appErr *AppError) Error() string {
	if appErr.Origin != nil {
		return appErr.Message + ": " + appErr.Origin.Error()
	}
	return appErr.Message
}

func (appErr *AppError) Unwrap() error {
	return appErr.Origin
}

// Standard error codes for the application
const (
	// Input and room state errors
	ErrInvalidInput   = "INVALID_INPUT"
	ErrRoomNotFound   = "ROOM_NOT_FOUND"
	ErrRoomClosed     = "ROOM_CLOSED"
	ErrNotParticipant = "NOT_PARTICIPANT"

	// Authentication errors
	ErrUnauthorized = "UNAUTHORIZED"
	ErrInvalidToken = "INVALID_TOKEN"

	// Live-update channel errors
	ErrTransportFailure = "TRANSPORT_FAILURE"

	// Cascade deletion left the message log partially behind. The room
	// document deletion is still attempted and the condition is reported
	// for operator follow-up.
	ErrPartialCascade = "PARTIAL_CASCADE_FAILURE"

	// Actor communication errors
	ErrActorTimeout = "ACTOR_TIMEOUT"

	ErrDatabase = "DATABASE_ERROR"
)

// Error creation helper functions
func NewAppError(code string, message string, originalErr error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Origin:  originalErr,
	}
}

// Specific error creators for common cases
func NewRoomNotFoundError(roomID string) *AppError {
	return &AppError{
		Code:    ErrRoomNotFound,
		Message: "Room not found: " + roomID,
	}
}

func NewRoomClosedError(roomID string) *AppError {
	return &AppError{
		Code:    ErrRoomClosed,
		Message: "Room is closed for new messages: " + roomID,
	}
}

func NewNotParticipantError(userID string) *AppError {
	return &AppError{
		Code:    ErrNotParticipant,
		Message: "User is not a participant of this room: " + userID,
	}
}

func NewActorTimeoutError(actorName string) *AppError {
	return &AppError{
		Code:    ErrActorTimeout,
		Message: "Actor communication timeout: " + actorName,
	}
}

// Helper method to check if an error is of a specific type
func IsErrorCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// AppErrorToHTTPStatus converts an AppError code to an HTTP status code.
func AppErrorToHTTPStatus(errorCode string) int {
	switch errorCode {
	case ErrRoomNotFound:
		return 404 // http.StatusNotFound
	case ErrInvalidInput:
		return 400 // http.StatusBadRequest
	case ErrUnauthorized, ErrInvalidToken:
		return 401 // http.StatusUnauthorized
	case ErrNotParticipant:
		return 403 // http.StatusForbidden
	case ErrRoomClosed:
		return 409 // http.StatusConflict
	case ErrDatabase, ErrActorTimeout, ErrTransportFailure, ErrPartialCascade:
		return 500 // http.StatusInternalServerError
	default:
		return 500 // http.StatusInternalServerError for unknown errors
	}
}
