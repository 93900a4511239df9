// internal/handlers/server.go
package handlers

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/discipline"
	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/matchmaking"
	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/room"
)

// Server wires the session engine's components together: room store,
// matchmaking engine, disconnect supervisor, and the connection registry.
type Server struct {
	Logger     *logrus.Logger
	Rooms      *room.Store
	Engine     *matchmaking.Engine
	Supervisor *discipline.Supervisor
	Registry   *ConnRegistry
}

// NewServer builds the component graph. The supervisor forfeits through the
// room store; every room the store creates gets the supervisor's hooks; the
// engine notifies paired identities through the registry.
func NewServer(logger *logrus.Logger) *Server {
	s := &Server{
		Logger:   logger,
		Rooms:    room.NewStore(),
		Registry: NewConnRegistry(),
	}

	s.Supervisor = discipline.NewSupervisor(func(roomID string, userID uuid.UUID) {
		r, ok := s.Rooms.Get(roomID)
		if !ok {
			logger.Debugf("forfeit for %s dropped: room %s is gone", userID, roomID)
			return
		}
		r.ResolveAbandon(userID)
	})

	s.Rooms.Configure = func(r *room.Room) {
		r.OnPlayerDisconnect = s.Supervisor.RecordDisconnect
		r.OnPlayerReconnect = s.Supervisor.CancelForfeit
		r.OnMatchComplete = func(winnerID, loserID uuid.UUID, abandoned bool) {
			if abandoned {
				// The abandoner's record stands; stop any armed timer so it
				// cannot fire against the next match.
				s.Supervisor.CancelForfeit(loserID)
				s.Supervisor.ResetOnCompletion(winnerID)
				return
			}
			s.Supervisor.ResetOnCompletion(winnerID, loserID)
		}
	}

	s.Engine = matchmaking.NewEngine(s.Rooms)
	s.Engine.OnMatched = func(p1, p2 uuid.UUID, r *room.Room) {
		msg := map[string]interface{}{
			"type":    "match_found",
			"room_id": r.ID,
			"mode":    r.Mode.Name,
		}
		for _, id := range []uuid.UUID{p1, p2} {
			if !s.Registry.NotifyUser(id, msg) {
				// Pairing is not contingent on presence; whoever reconnects
				// first learns the room id through the binder.
				logger.Infof("paired user %s has no live connection, room %s waits", id, r.ID)
			}
		}
	}

	return s
}
