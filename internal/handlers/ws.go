// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/database"
	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/game"
	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/middleware"
	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/models"
	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/room"
)

// GameWSHandler upgrades the single game WebSocket. Identity resolution runs
// before the upgrade because EnsureEphemeralUser may set the auth cookie, and
// headers are gone once the connection is hijacked.
func (s *Server) GameWSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userUUID, err := EnsureEphemeralUser(w, r)
		if err != nil {
			s.Logger.Warnf("user authentication failed: %v", err)
			http.Error(w, "authentication failed", http.StatusForbidden)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"worldpeace"},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			s.Logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "worldpeace" {
			c.Close(BadSubprotocolError, "client must speak the worldpeace subprotocol")
			return
		}

		if suspended, until := s.Supervisor.IsSuspended(r.Context(), userUUID); suspended {
			c.Close(UserSuspendedError, fmt.Sprintf("suspended until %s", until.Format(time.RFC3339)))
			return
		}

		user := s.loadUser(r.Context(), userUUID)

		ctx, cancel := context.WithCancel(r.Context())
		conn := room.NewConn(userUUID, cancel)
		s.Registry.Add(conn)

		middleware.LogWebSocketConnect(s.Logger, r.RemoteAddr, r.URL.Path)

		// Push-driven reconnection: if the user still holds a slot somewhere,
		// rebind this connection to it before the client asks for anything.
		s.bindExistingSlot(user, conn)

		go s.writePump(ctx, c, conn)
		s.readPump(ctx, c, user, conn)

		// ---- Cleanup after readPump exits ----
		cancel()
		s.Registry.Remove(conn)
		s.detachConn(user.ID, conn)
		middleware.LogWebSocketDisconnect(s.Logger, r.RemoteAddr, r.URL.Path, nil)
	}
}

// loadUser resolves the account record, falling back to an in-memory stand-in
// when persistence is unavailable so live play keeps working.
func (s *Server) loadUser(ctx context.Context, id uuid.UUID) *models.User {
	u, err := database.GetUserByID(ctx, id)
	if err == nil {
		return u
	}
	s.Logger.Warnf("failed to load user %s, using stand-in: %v", id, err)
	return &models.User{
		ID:       id,
		Username: "Guest-" + id.String()[:8],
		Rating:   database.DefaultRating,
	}
}

// bindExistingSlot rebinds a returning user to the room that still holds
// their slot. The in-memory store wins; the persisted room ref covers process
// restarts and is cleared when stale.
func (s *Server) bindExistingSlot(user *models.User, conn *room.Conn) {
	if r, ok := s.Rooms.RoomForUser(user.ID); ok {
		if err := r.Rebind(user.ID, conn); err == nil {
			return
		}
	}
	if user.CurrentRoomID == nil {
		return
	}
	roomID := *user.CurrentRoomID
	r, ok := s.Rooms.Get(roomID)
	if !ok {
		s.clearRoomRef(user.ID)
		return
	}
	if err := r.Rebind(user.ID, conn); err != nil {
		// The room outlived the user's membership in it.
		s.Logger.Debugf("rebind of %s to room %s failed: %v", user.ID, roomID, err)
		s.clearRoomRef(user.ID)
	}
}

func (s *Server) clearRoomRef(userID uuid.UUID) {
	go func() {
		if err := database.SetCurrentRoom(context.Background(), userID, nil); err != nil {
			logrus.Debugf("failed to clear stale room ref for %s: %v", userID, err)
		}
	}()
}

// detachConn reports the drop to the user's room, but only when the slot is
// still bound to this connection. A newer connection may have rebound it.
func (s *Server) detachConn(userID uuid.UUID, conn *room.Conn) {
	r, ok := s.Rooms.RoomForUser(userID)
	if !ok {
		return
	}
	r.Mu.Lock()
	current := false
	for _, slot := range r.Players {
		if slot.UserID == userID && slot.Conn == conn {
			current = true
			break
		}
	}
	r.Mu.Unlock()
	if current {
		r.HandleDisconnect(userID)
	}
}

// readPump consumes inbound packets until the connection drops. Room and
// match methods manage their own locking, so packets are handled inline.
func (s *Server) readPump(ctx context.Context, c *websocket.Conn, user *models.User, conn *room.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		typ, data, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				s.Logger.Infof("websocket closed normally for user %v", user.ID)
			} else if !strings.Contains(err.Error(), "context canceled") {
				s.Logger.Warnf("read error for user %v: %v", user.ID, err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var packet map[string]interface{}
		if err := json.Unmarshal(data, &packet); err != nil {
			s.Logger.Warnf("invalid json from user %v: %v", user.ID, err)
			conn.WriteError("Invalid JSON format")
			continue
		}
		s.handleMessage(ctx, user, conn, packet)
	}
}

// handleMessage interprets the "type" field and dispatches to the room store,
// the user's room, or the authoritative match state.
func (s *Server) handleMessage(ctx context.Context, user *models.User, conn *room.Conn, packet map[string]interface{}) {
	action, _ := packet["type"].(string)

	switch action {
	case "create_room":
		modeName, _ := packet["mode"].(string)
		autoStart, _ := packet["auto_start"].(bool)
		r, err := s.Rooms.CreateRoom(user, conn, modeName, autoStart)
		if err != nil {
			conn.WriteError(err.Error())
			return
		}
		conn.Write(map[string]interface{}{
			"type":    "room_created",
			"room_id": r.ID,
			"mode":    r.Mode.Name,
		})

	case "join_room":
		roomID, _ := packet["room_id"].(string)
		if _, err := s.Rooms.Join(roomID, user, conn); err != nil {
			conn.WriteError(err.Error())
		}

	case "leave_room":
		if err := s.Rooms.Leave(user.ID); err != nil {
			conn.WriteError(err.Error())
		}

	case "ready":
		r, ok := s.Rooms.RoomForUser(user.ID)
		if !ok {
			conn.WriteError(room.ErrNotInRoom.Error())
			return
		}
		if err := r.MarkReady(user.ID); err != nil {
			conn.WriteError(err.Error())
		}

	case "start_match":
		r, ok := s.Rooms.RoomForUser(user.ID)
		if !ok {
			conn.WriteError(room.ErrNotInRoom.Error())
			return
		}
		if err := r.StartMatch(user.ID); err != nil {
			conn.WriteError(err.Error())
		}

	case "spawn_unit":
		ms, err := s.matchFor(user.ID)
		if err != nil {
			conn.WriteError(err.Error())
			return
		}
		unitType, _ := packet["unit_type"].(string)
		x, y := floatField(packet, "x"), floatField(packet, "y")
		if _, err := ms.SpawnUnit(user.ID, game.UnitType(unitType), x, y); err != nil {
			conn.WriteError(err.Error())
		}

	case "move_unit":
		ms, err := s.matchFor(user.ID)
		if err != nil {
			conn.WriteError(err.Error())
			return
		}
		unitID, err := uuidField(packet, "unit_id")
		if err != nil {
			conn.WriteError(err.Error())
			return
		}
		x, y := floatField(packet, "x"), floatField(packet, "y")
		if err := ms.MoveUnit(user.ID, unitID, x, y); err != nil {
			conn.WriteError(err.Error())
		}

	case "attack":
		ms, err := s.matchFor(user.ID)
		if err != nil {
			conn.WriteError(err.Error())
			return
		}
		attackerID, err := uuidField(packet, "attacker_id")
		if err != nil {
			conn.WriteError(err.Error())
			return
		}
		targetID, err := uuidField(packet, "target_id")
		if err != nil {
			conn.WriteError(err.Error())
			return
		}
		if err := ms.Attack(user.ID, attackerID, targetID); err != nil {
			conn.WriteError(err.Error())
		}

	case "attack_base":
		ms, err := s.matchFor(user.ID)
		if err != nil {
			conn.WriteError(err.Error())
			return
		}
		attackerID, err := uuidField(packet, "attacker_id")
		if err != nil {
			conn.WriteError(err.Error())
			return
		}
		if err := ms.AttackBase(user.ID, attackerID); err != nil {
			conn.WriteError(err.Error())
		}

	case "state_sync":
		ms, err := s.matchFor(user.ID)
		if err != nil {
			conn.WriteError(err.Error())
			return
		}
		conn.Write(map[string]interface{}{
			"type":  string(game.EventStateSync),
			"state": ms.Snapshot(),
		})

	case "ping":
		conn.Write(map[string]interface{}{"type": "pong"})

	default:
		s.Logger.Warnf("unknown action '%s' from user %v", action, user.ID)
		conn.WriteError(fmt.Sprintf("Unknown action type: %s", action))
	}
}

// matchFor resolves the started match the user is playing in.
func (s *Server) matchFor(userID uuid.UUID) (*game.MatchState, error) {
	r, ok := s.Rooms.RoomForUser(userID)
	if !ok {
		return nil, room.ErrNotInRoom
	}
	r.Mu.Lock()
	ms := r.Match
	started := r.State == room.StateStarted
	r.Mu.Unlock()
	if ms == nil || !started {
		return nil, errors.New("no match in progress")
	}
	return ms, nil
}

func floatField(packet map[string]interface{}, key string) float64 {
	v, _ := packet[key].(float64)
	return v
}

func uuidField(packet map[string]interface{}, key string) (uuid.UUID, error) {
	raw, _ := packet[key].(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s", key)
	}
	return id, nil
}

// writePump owns the websocket's write side: it drains OutChan and keeps the
// connection alive with periodic pings.
func (s *Server) writePump(ctx context.Context, c *websocket.Conn, conn *room.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-conn.OutChan:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.Logger.Warnf("failed to marshal outgoing msg for user %v: %v", conn.UserID, err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.Logger.Warnf("failed to write to websocket for user %v: %v", conn.UserID, err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				s.Logger.Warnf("ping to user %v failed, assuming disconnect: %v", conn.UserID, err)
				return
			}
		}
	}
}
