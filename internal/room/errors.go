// internal/room/errors.go
package room

import "errors"

// Client-triggered violations. Reported to the originating connection only;
// none of these mutate room state.
var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomFull           = errors.New("room is full")
	ErrUsernameTaken      = errors.New("username already taken in this room")
	ErrGameAlreadyStarted = errors.New("game already started")
	ErrNotHost            = errors.New("only the host can do that")
	ErrNeedTwoPlayers     = errors.New("need two ready players to start")
	ErrNotInRoom          = errors.New("user is not in this room")
)
