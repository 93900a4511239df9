// internal/room/conn.go
package room

import (
	"context"

	"github.com/google/uuid"
)

// Conn wraps a single user's active WebSocket connection. The write pump owns
// the websocket; everything else talks to it through OutChan.
type Conn struct {
	ID      uuid.UUID
	UserID  uuid.UUID
	Cancel  context.CancelFunc
	OutChan chan map[string]interface{}
}

// NewConn builds a connection wrapper with a buffered outbound channel.
func NewConn(userID uuid.UUID, cancel context.CancelFunc) *Conn {
	id, _ := uuid.NewRandom()
	return &Conn{
		ID:      id,
		UserID:  userID,
		Cancel:  cancel,
		OutChan: make(chan map[string]interface{}, 32),
	}
}

// Write pushes a message to the user's message channel. Messages to a
// connection whose write pump has stalled are dropped rather than blocking
// the room.
func (c *Conn) Write(msg map[string]interface{}) {
	select {
	case c.OutChan <- msg:
	default:
	}
}

// WriteError pushes an error message to the user's message channel.
// The structure is as follows:
//
//	{
//	 "type": "error",
//	 "message": msg
//	}
func (c *Conn) WriteError(msg string) {
	c.Write(map[string]interface{}{
		"type":    "error",
		"message": msg,
	})
}
