package models

import "github.com/google/uuid"

type User struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Password string    `json:"password,omitempty"`
	Username string    `json:"username"`

	IsEphemeral bool `json:"is_ephemeral"`
	IsAdmin     bool `json:"is_admin"`

	// Rating is the ELO-style skill estimate used by matchmaking and
	// updated after every completed or abandoned match.
	Rating int `json:"rating"`

	// CurrentRoomID references the room the user was last assigned to, if any.
	// The reconnection binder consults it on every new connection.
	CurrentRoomID *string `json:"current_room_id,omitempty"`
}
