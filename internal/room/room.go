// internal/room/room.go
package room

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/cache"
	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/database"
	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/game"
	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/models"
)

// State is a room's lifecycle state. A started room never re-enters waiting.
type State string

const (
	StateWaiting   State = "waiting"
	StateStarted   State = "started"
	StateCompleted State = "completed"
	StateAbandoned State = "abandoned"
)

const (
	// DefaultCountdown is the auto-start delay once both players are ready.
	DefaultCountdown = 5 * time.Second
	// GracePeriod keeps a resolved room around so clients can render the
	// result before the room disappears.
	GracePeriod = 10 * time.Second
)

// PlayerSlot is a user's membership record within a Room. It belongs to
// exactly one room; a user holds at most one slot across all rooms.
type PlayerSlot struct {
	UserID         uuid.UUID
	Username       string
	Conn           *Conn
	IsHost         bool
	Ready          bool
	DisconnectedAt *time.Time
}

func (s *PlayerSlot) connected() bool {
	return s.DisconnectedAt == nil
}

// Room is one active or recently active 1v1 session, lobby and in-progress
// states included.
//
// Lock ordering: methods release Mu before calling into Match, whose
// broadcast callbacks re-acquire Mu. Never call a Match method with Mu held.
type Room struct {
	ID            string
	State         State
	Mode          *game.Mode
	MatchRecordID uuid.UUID
	Players       []*PlayerSlot
	Match         *game.MatchState
	AutoStart     bool
	Countdown     time.Duration
	CreatedAt     time.Time

	// epoch invalidates countdown/deletion timers scheduled before a state
	// change; timers capture it and bail if it moved.
	epoch          int
	countdownTimer *time.Timer
	deleteTimer    *time.Timer

	Mu sync.Mutex

	// OnEmpty removes the room from its store once no connected player
	// remains or the post-match grace period elapses.
	OnEmpty func(roomID string)

	// OnSlotRemoved keeps the store's user index consistent when the room
	// removes a slot on its own (disconnect while waiting).
	OnSlotRemoved func(userID uuid.UUID)

	// OnPlayerDisconnect notifies the abandon supervisor of a drop during a
	// started match.
	OnPlayerDisconnect func(roomID string, userID uuid.UUID)

	// OnPlayerReconnect cancels any pending abandon timer for the user.
	OnPlayerReconnect func(userID uuid.UUID)

	// OnMatchComplete lets the supervisor reset or escalate disconnect
	// bookkeeping once a match resolves.
	OnMatchComplete func(winnerID, loserID uuid.UUID, abandoned bool)
}

// NewRoom builds a waiting room. Callers register it with a Store, which
// allocates the id.
func NewRoom(id string, mode *game.Mode, autoStart bool) *Room {
	return &Room{
		ID:        id,
		State:     StateWaiting,
		Mode:      mode,
		AutoStart: autoStart,
		Countdown: DefaultCountdown,
		CreatedAt: time.Now(),
	}
}

func (r *Room) findSlotUnsafe(userID uuid.UUID) *PlayerSlot {
	for _, s := range r.Players {
		if s.UserID == userID {
			return s
		}
	}
	return nil
}

func (r *Room) connectedCountUnsafe() int {
	n := 0
	for _, s := range r.Players {
		if s.connected() {
			n++
		}
	}
	return n
}

// Join adds the user to the room, or rebinds their existing slot if they
// already hold one here. The reconnect check is by userId, not connection
// identity, so a fresh connection from the same user is idempotent.
func (r *Room) Join(user *models.User, conn *Conn) (*PlayerSlot, error) {
	r.Mu.Lock()

	if slot := r.findSlotUnsafe(user.ID); slot != nil {
		r.rebindUnsafe(slot, conn)
		started := r.State == StateStarted
		r.Mu.Unlock()
		r.afterRebind(user.ID, conn, started)
		return slot, nil
	}

	if r.State != StateWaiting {
		r.Mu.Unlock()
		return nil, ErrGameAlreadyStarted
	}
	if r.connectedCountUnsafe() >= 2 {
		r.Mu.Unlock()
		return nil, ErrRoomFull
	}
	for _, s := range r.Players {
		if s.Username == user.Username {
			r.Mu.Unlock()
			return nil, ErrUsernameTaken
		}
	}

	slot := &PlayerSlot{
		UserID:   user.ID,
		Username: user.Username,
		Conn:     conn,
	}
	if r.hostSlotUnsafe() == nil {
		slot.IsHost = true
	}
	r.Players = append(r.Players, slot)
	r.broadcastPlayerListUnsafe(nil)
	roomID := r.ID
	r.Mu.Unlock()

	go func() {
		if err := database.SetCurrentRoom(context.Background(), user.ID, &roomID); err != nil {
			logrus.Warnf("failed to persist room ref for %s: %v", user.ID, err)
		}
	}()
	return slot, nil
}

func (r *Room) hostSlotUnsafe() *PlayerSlot {
	for _, s := range r.Players {
		if s.IsHost {
			return s
		}
	}
	return nil
}

// rebindUnsafe re-attaches a new connection to an existing slot. Matchmade
// rooms pre-seed both slots ready, so a connection arriving may be the last
// condition the auto-start countdown was waiting on.
func (r *Room) rebindUnsafe(slot *PlayerSlot, conn *Conn) {
	slot.Conn = conn
	slot.DisconnectedAt = nil
	r.broadcastPlayerListUnsafe(nil)
	r.armAutoStartUnsafe()
}

// armAutoStartUnsafe starts the countdown once both ready slots also hold a
// live connection. Readiness alone is not enough: matchmade rooms mark slots
// ready before anyone has attached.
func (r *Room) armAutoStartUnsafe() {
	if !r.AutoStart || r.State != StateWaiting || !r.readyToStartUnsafe() {
		return
	}
	for _, s := range r.Players {
		if s.Conn == nil {
			return
		}
	}
	r.startCountdownUnsafe()
}

// afterRebind runs the parts of a rebind that must not hold the room lock.
func (r *Room) afterRebind(userID uuid.UUID, conn *Conn, started bool) {
	if r.OnPlayerReconnect != nil {
		r.OnPlayerReconnect(userID)
	}
	if started && r.Match != nil {
		r.Match.SetConnected(userID, true)
		if conn != nil {
			conn.Write(map[string]interface{}{
				"type":  string(game.EventStateSync),
				"state": r.Match.Snapshot(),
			})
		}
	}
}

// Rebind re-attaches a returning user's connection to their slot, used by
// the push-driven reconnection path before the client asks for anything.
func (r *Room) Rebind(userID uuid.UUID, conn *Conn) error {
	r.Mu.Lock()
	slot := r.findSlotUnsafe(userID)
	if slot == nil {
		r.Mu.Unlock()
		return ErrNotInRoom
	}
	r.rebindUnsafe(slot, conn)
	started := r.State == StateStarted
	r.Mu.Unlock()
	r.afterRebind(userID, conn, started)
	return nil
}

// Leave removes the user's slot, promoting a new host if needed. Leaving a
// started match forfeits it. An emptied room destroys itself via OnEmpty.
func (r *Room) Leave(userID uuid.UUID) error {
	r.Mu.Lock()
	idx := -1
	for i, s := range r.Players {
		if s.UserID == userID {
			idx = i
			break
		}
	}
	if idx == -1 {
		r.Mu.Unlock()
		return ErrNotInRoom
	}

	departed := r.Players[idx]
	r.Players = append(r.Players[:idx], r.Players[idx+1:]...)
	r.cancelCountdownUnsafe()

	if departed.IsHost && len(r.Players) > 0 {
		r.Players[0].IsHost = true
		r.broadcastUnsafe(map[string]interface{}{
			"type":    "host_changed",
			"user_id": r.Players[0].UserID.String(),
		})
	}
	r.broadcastPlayerListUnsafe(nil)

	forfeit := r.State == StateStarted && r.Match != nil && !r.Match.GameOver
	empty := r.connectedCountUnsafe() == 0 && r.State == StateWaiting
	r.Mu.Unlock()

	go func() {
		if err := database.SetCurrentRoom(context.Background(), userID, nil); err != nil {
			logrus.Warnf("failed to clear room ref for %s: %v", userID, err)
		}
	}()
	if r.OnSlotRemoved != nil {
		r.OnSlotRemoved(userID)
	}
	if forfeit {
		r.Match.Forfeit(userID)
	}
	if empty && r.OnEmpty != nil {
		r.OnEmpty(r.ID)
	}
	return nil
}

// MarkReady flips the user's ready flag. One-way pre-start; there is no
// un-ready. Starts the auto-start countdown when both players are ready.
func (r *Room) MarkReady(userID uuid.UUID) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if r.State != StateWaiting {
		return ErrGameAlreadyStarted
	}
	slot := r.findSlotUnsafe(userID)
	if slot == nil {
		return ErrNotInRoom
	}
	if slot.Ready {
		return nil
	}
	slot.Ready = true
	r.broadcastUnsafe(map[string]interface{}{
		"type":     "ready_update",
		"user_id":  userID.String(),
		"is_ready": true,
	})

	r.armAutoStartUnsafe()
	return nil
}

func (r *Room) readyToStartUnsafe() bool {
	ready := 0
	for _, s := range r.Players {
		if s.connected() && s.Ready {
			ready++
		}
	}
	return ready == 2 && r.connectedCountUnsafe() == 2
}

func (r *Room) startCountdownUnsafe() {
	if r.countdownTimer != nil {
		return
	}
	r.broadcastUnsafe(map[string]interface{}{
		"type":    "room_countdown_start",
		"seconds": int(r.Countdown.Seconds()),
	})
	epoch := r.epoch
	r.countdownTimer = time.AfterFunc(r.Countdown, func() {
		r.autoStartFire(epoch)
	})
}

func (r *Room) cancelCountdownUnsafe() {
	if r.countdownTimer != nil {
		r.countdownTimer.Stop()
		r.countdownTimer = nil
	}
}

func (r *Room) autoStartFire(epoch int) {
	r.Mu.Lock()
	if epoch != r.epoch || r.State != StateWaiting || !r.readyToStartUnsafe() {
		r.Mu.Unlock()
		return
	}
	r.countdownTimer = nil
	ms, p1, p2 := r.startMatchUnsafe()
	r.Mu.Unlock()
	r.afterStart(ms, p1, p2)
}

// StartMatch transitions waiting -> started. Host only, and only with exactly
// two ready, connected players present.
func (r *Room) StartMatch(userID uuid.UUID) error {
	r.Mu.Lock()
	slot := r.findSlotUnsafe(userID)
	if slot == nil {
		r.Mu.Unlock()
		return ErrNotInRoom
	}
	if !slot.IsHost {
		r.Mu.Unlock()
		return ErrNotHost
	}
	if r.State != StateWaiting {
		r.Mu.Unlock()
		return ErrGameAlreadyStarted
	}
	if !r.readyToStartUnsafe() {
		r.Mu.Unlock()
		return ErrNeedTwoPlayers
	}
	ms, p1, p2 := r.startMatchUnsafe()
	r.Mu.Unlock()
	r.afterStart(ms, p1, p2)
	return nil
}

// startMatchUnsafe flips the room to started and builds the authoritative
// state from the mode table. Caller holds the lock and must call afterStart
// once it is released.
func (r *Room) startMatchUnsafe() (*game.MatchState, uuid.UUID, uuid.UUID) {
	r.cancelCountdownUnsafe()
	r.State = StateStarted
	r.epoch++

	if r.MatchRecordID == uuid.Nil {
		r.MatchRecordID, _ = uuid.NewRandom()
	}
	p1 := r.Players[0].UserID
	p2 := r.Players[1].UserID

	ms := game.NewMatchState(r.ID, r.MatchRecordID, r.Mode, p1, p2)
	ms.BroadcastFn = r.broadcastEvent
	ms.BroadcastToPlayerFn = r.broadcastEventToPlayer
	ms.OnGameOver = r.handleGameOver
	r.Match = ms

	r.broadcastUnsafe(map[string]interface{}{
		"type":  "game_started",
		"mode":  r.Mode.Name,
		"state": ms.Snapshot(),
	})
	return ms, p1, p2
}

// afterStart kicks the income cycle and persists the match record off the
// room lock. Persistence is best-effort; the in-memory match proceeds either
// way.
func (r *Room) afterStart(ms *game.MatchState, p1, p2 uuid.UUID) {
	ms.Start()
	matchID := r.MatchRecordID
	mode := r.Mode.Name
	go func() {
		ctx := context.Background()
		if _, err := database.CreateMatch(ctx, matchID, p1, p2, mode); err != nil {
			logrus.Warnf("failed to persist match record %s: %v", matchID, err)
			return
		}
		if err := database.MarkMatchStarted(ctx, matchID); err != nil {
			logrus.Warnf("failed to mark match %s started: %v", matchID, err)
		}
	}()
}

// HandleDisconnect detaches a dropped connection. In a waiting room the slot
// is removed outright; in a started match it is kept, flagged, and handed to
// the abandon supervisor.
func (r *Room) HandleDisconnect(userID uuid.UUID) {
	r.Mu.Lock()
	slot := r.findSlotUnsafe(userID)
	if slot == nil {
		r.Mu.Unlock()
		logrus.Debugf("disconnect for %s ignored: no slot in room %s", userID, r.ID)
		return
	}
	slot.Conn = nil

	if r.State == StateWaiting {
		r.Mu.Unlock()
		if err := r.Leave(userID); err != nil {
			logrus.Debugf("disconnect cleanup for %s in room %s: %v", userID, r.ID, err)
		}
		return
	}

	if r.State == StateStarted {
		now := time.Now()
		slot.DisconnectedAt = &now
		// Include the departing slot once so peers can render "player left";
		// later broadcasts show only connected players.
		r.broadcastPlayerListUnsafe(slot)
		r.Mu.Unlock()
		if r.Match != nil {
			r.Match.SetConnected(userID, false)
		}
		if r.OnPlayerDisconnect != nil {
			r.OnPlayerDisconnect(r.ID, userID)
		}
		return
	}

	r.Mu.Unlock()
}

// ResolveAbandon is called by the supervisor when an abandon timer fires. If
// the user reconnected in the meantime this is a no-op.
func (r *Room) ResolveAbandon(userID uuid.UUID) {
	r.Mu.Lock()
	if r.State != StateStarted {
		r.Mu.Unlock()
		logrus.Debugf("abandon timer for %s fired on non-started room %s, dropped", userID, r.ID)
		return
	}
	slot := r.findSlotUnsafe(userID)
	if slot == nil || slot.connected() {
		r.Mu.Unlock()
		return
	}
	r.Mu.Unlock()
	if r.Match != nil {
		r.Match.Forfeit(userID)
	}
}

// handleGameOver finalizes a resolved match: persists the outcome and rating
// deltas, broadcasts the result (flagged unconfirmed if persistence failed),
// and schedules room deletion after the grace period. Runs off the match
// lock.
func (r *Room) handleGameOver(winnerID, loserID uuid.UUID, abandoned bool) {
	r.Mu.Lock()
	if r.State != StateStarted {
		r.Mu.Unlock()
		return
	}
	if abandoned {
		r.State = StateAbandoned
	} else {
		r.State = StateCompleted
	}
	r.epoch++
	r.cancelCountdownUnsafe()
	epoch := r.epoch
	r.deleteTimer = time.AfterFunc(GracePeriod, func() {
		r.deleteFire(epoch)
	})
	matchID := r.MatchRecordID
	r.Mu.Unlock()

	if r.OnMatchComplete != nil {
		r.OnMatchComplete(winnerID, loserID, abandoned)
	}

	ctx := context.Background()
	res, err := database.FinalizeMatchAndRatings(ctx, matchID, winnerID, loserID, abandoned)
	msg := map[string]interface{}{
		"type":      "match_result",
		"winner_id": winnerID.String(),
		"loser_id":  loserID.String(),
		"abandoned": abandoned,
	}
	if err != nil {
		logrus.Errorf("failed to finalize match %s: %v", matchID, err)
		msg["unconfirmed"] = true
		if qerr := cache.EnqueuePendingResult(ctx, cache.PendingResultRecord{
			MatchID:   matchID,
			WinnerID:  winnerID,
			LoserID:   loserID,
			Abandoned: abandoned,
			Timestamp: time.Now().Unix(),
		}); qerr != nil {
			logrus.Errorf("failed to queue match %s for retry: %v", matchID, qerr)
		}
	} else {
		msg["delta_winner"] = res.DeltaWinner
		msg["delta_loser"] = res.DeltaLoser
		msg["winner_rating"] = res.WinnerNew
		msg["loser_rating"] = res.LoserNew
	}
	r.Broadcast(msg)

	for _, id := range []uuid.UUID{winnerID, loserID} {
		uid := id
		go func() {
			if err := database.SetCurrentRoom(context.Background(), uid, nil); err != nil {
				logrus.Warnf("failed to clear room ref for %s: %v", uid, err)
			}
		}()
	}
}

func (r *Room) deleteFire(epoch int) {
	r.Mu.Lock()
	stale := epoch != r.epoch
	r.Mu.Unlock()
	if stale {
		return
	}
	if r.OnEmpty != nil {
		r.OnEmpty(r.ID)
	}
}

// Teardown cancels all scheduled timers and stops the match state. Called by
// the store as part of deletion.
func (r *Room) Teardown() {
	r.Mu.Lock()
	r.epoch++
	r.cancelCountdownUnsafe()
	if r.deleteTimer != nil {
		r.deleteTimer.Stop()
		r.deleteTimer = nil
	}
	ms := r.Match
	r.Mu.Unlock()
	if ms != nil {
		ms.Stop()
	}
}

// Broadcast sends a message to every connected member.
func (r *Room) Broadcast(msg map[string]interface{}) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	r.broadcastUnsafe(msg)
}

func (r *Room) broadcastUnsafe(msg map[string]interface{}) {
	for _, s := range r.Players {
		if s.Conn != nil {
			s.Conn.Write(msg)
		}
	}
}

// broadcastEvent adapts a match event onto the connection message format.
func (r *Room) broadcastEvent(ev game.Event) {
	r.Broadcast(eventToMsg(ev))
}

func (r *Room) broadcastEventToPlayer(playerID uuid.UUID, ev game.Event) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	slot := r.findSlotUnsafe(playerID)
	if slot != nil && slot.Conn != nil {
		slot.Conn.Write(eventToMsg(ev))
	}
}

func eventToMsg(ev game.Event) map[string]interface{} {
	msg := map[string]interface{}{"type": string(ev.Type)}
	if ev.Unit != nil {
		msg["unit"] = ev.Unit
	}
	if ev.State != nil {
		msg["state"] = ev.State
	}
	for k, v := range ev.Payload {
		msg[k] = v
	}
	return msg
}

// broadcastPlayerListUnsafe emits the membership snapshot. Only connected
// players appear, except the optional departing slot included once so peers
// can render the departure.
func (r *Room) broadcastPlayerListUnsafe(departing *PlayerSlot) {
	players := make([]map[string]interface{}, 0, len(r.Players))
	for _, s := range r.Players {
		if !s.connected() && s != departing {
			continue
		}
		entry := map[string]interface{}{
			"user_id":   s.UserID.String(),
			"username":  s.Username,
			"is_host":   s.IsHost,
			"ready":     s.Ready,
			"connected": s.connected(),
		}
		if s == departing {
			entry["left"] = true
		}
		players = append(players, entry)
	}
	r.broadcastUnsafe(map[string]interface{}{
		"type":    "player_list",
		"room_id": r.ID,
		"state":   string(r.State),
		"players": players,
	})
}
