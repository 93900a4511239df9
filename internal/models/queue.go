package models

import (
	"time"

	"github.com/google/uuid"
)

// QueueEntry is one user's presence in the matchmaking queue. Entries are
// created on queue-join and destroyed on pairing or explicit leave; they are
// never mutated in place (re-enqueueing replaces the entry wholesale).
type QueueEntry struct {
	UserID    uuid.UUID `json:"user_id"`
	Mode      string    `json:"mode"`
	Rating    int       `json:"rating"`
	MinRating *int      `json:"min_rating,omitempty"`
	MaxRating *int      `json:"max_rating,omitempty"`
	JoinedAt  time.Time `json:"joined_at"`
}
