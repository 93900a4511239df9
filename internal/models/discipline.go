package models

import (
	"time"

	"github.com/google/uuid"
)

// DisconnectRecord tracks a user's disconnect history for the abandon
// supervisor. It is reset when a match the user participates in completes
// normally, and persisted best-effort so it survives restarts up to the last
// flush.
type DisconnectRecord struct {
	UserID           uuid.UUID  `json:"user_id"`
	Count            int        `json:"count"`
	LastDisconnectAt time.Time  `json:"last_disconnect_at"`
	WarningCount     int        `json:"warning_count"`
	BannedUntil      *time.Time `json:"banned_until,omitempty"`
}
