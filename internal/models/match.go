package models

import (
	"time"

	"github.com/google/uuid"
)

// Match status values as stored in the matches table.
const (
	MatchPending   = "pending"
	MatchStarted   = "started"
	MatchCompleted = "completed"
	MatchAbandoned = "abandoned"
)

// MatchRecord is the durable record of one 1v1 session. It is created at
// pairing (or room creation) time and finalized exactly once at completion.
type MatchRecord struct {
	ID      uuid.UUID `json:"id"`
	Player1 uuid.UUID `json:"player1"`
	Player2 uuid.UUID `json:"player2"`
	Mode    string    `json:"mode"`
	Status  string    `json:"status"`

	WinnerID    *uuid.UUID `json:"winner_id,omitempty"`
	AbandonedBy *uuid.UUID `json:"abandoned_by,omitempty"`

	// Rating deltas applied at finalization, kept on the record so the
	// result screen can be rebuilt without replaying the rating math.
	DeltaWinner int `json:"delta_winner"`
	DeltaLoser  int `json:"delta_loser"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
