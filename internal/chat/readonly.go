package chat

import "parley/internal/models"

// IsReadOnly reports whether composition must be disabled for a room.
// A room with fewer than two active participants accepts no new messages;
// this predicate is the single source of that rule, consumed by both the
// send guard and the payloads pushed to clients.
func IsReadOnly(room *models.Room) bool {
	return len(room.Participants) < 2
}
