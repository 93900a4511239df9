// internal/game/state.go
package game

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotEnoughGold rejects a spawn whose cost exceeds the player's
	// authoritative gold.
	ErrNotEnoughGold = errors.New("not enough gold")
	// ErrInvalidUnitType rejects a spawn for a type the mode table does not
	// carry.
	ErrInvalidUnitType = errors.New("invalid unit type")
	// ErrUnitNotFound rejects an action referencing an unknown unit id.
	ErrUnitNotFound = errors.New("unit not found")
	// ErrNotYourUnit rejects an action on a unit the player does not own.
	ErrNotYourUnit = errors.New("unit belongs to another player")
)

// OnGameOverFunc handles a finished match: finalizing the record, updating
// ratings, scheduling room teardown.
type OnGameOverFunc func(winnerID, loserID uuid.UUID, abandoned bool)

// EventType is an enum-like type for broadcasting match events.
type EventType string

const (
	EventGoldUpdate    EventType = "gold_update"     // private per-player ledger update
	EventUnitSpawned   EventType = "unit_spawned"    // public spawn notification
	EventUnitMoved     EventType = "unit_moved"      // public accepted movement
	EventUnitCorrected EventType = "unit_corrected"  // private rejection, carries last authoritative position
	EventUnitDamaged   EventType = "unit_damaged"    // public surviving-target health change
	EventUnitDestroyed EventType = "unit_destroyed"  // public destruction notification
	EventBaseDamaged   EventType = "base_damaged"    // public base health change
	EventStateSync     EventType = "state_sync"      // public snapshot after each income tick
	EventGameOver      EventType = "game_over"       // public result notification
)

// Event holds data about a match event that is broadcast to clients in a
// consistent format.
type Event struct {
	Type    EventType              `json:"type"`
	Unit    *MirrorUnit            `json:"unit,omitempty"`
	State   *MirrorState           `json:"state,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Unit is the authoritative record of one spawned unit. Stats are copied from
// the mode table at spawn time and never re-read.
type Unit struct {
	ID      uuid.UUID
	Type    UnitType
	OwnerID uuid.UUID
	X, Y    float64
	Health  int
	Damage  int
	Speed   float64

	// lastMovedAt anchors movement speed validation.
	lastMovedAt time.Time
}

// PlayerState is the authoritative per-player ledger.
type PlayerState struct {
	UserID     uuid.UUID
	Gold       int
	BaseHealth int
	Connected  bool
}

// MatchState holds the entire authoritative state for one started match in
// memory. Clients only ever see the broadcast mirror, rebuilt from this after
// each validated mutation.
type MatchState struct {
	RoomID  string
	MatchID uuid.UUID
	Mode    *Mode

	Players map[uuid.UUID]*PlayerState
	Units   map[uuid.UUID]*Unit

	Started   bool
	GameOver  bool
	StartedAt time.Time

	// epoch invalidates scheduled callbacks from a previous lifecycle state;
	// timers capture it and bail if it moved.
	epoch       int
	incomeTimer *time.Timer

	mirror *MirrorState

	Mu sync.Mutex

	// BroadcastFn sends an event to both players. If nil, no broadcast is done.
	BroadcastFn func(ev Event)

	// BroadcastToPlayerFn sends an event to a single specific player.
	BroadcastToPlayerFn func(playerID uuid.UUID, ev Event)

	// OnGameOver is invoked once when the match resolves.
	OnGameOver OnGameOverFunc
}

// NewMatchState builds the authoritative state for two players from the mode
// table. The match is not started until Start is called.
func NewMatchState(roomID string, matchID uuid.UUID, mode *Mode, player1, player2 uuid.UUID) *MatchState {
	ms := &MatchState{
		RoomID:  roomID,
		MatchID: matchID,
		Mode:    mode,
		Players: map[uuid.UUID]*PlayerState{
			player1: {UserID: player1, Gold: mode.StartingGold, BaseHealth: mode.BaseHealth, Connected: true},
			player2: {UserID: player2, Gold: mode.StartingGold, BaseHealth: mode.BaseHealth, Connected: true},
		},
		Units: make(map[uuid.UUID]*Unit),
	}
	ms.syncMirrorUnsafe()
	return ms
}

// Start begins the income tick cycle. Safe to call once; repeated calls are
// no-ops.
func (ms *MatchState) Start() {
	ms.Mu.Lock()
	defer ms.Mu.Unlock()
	if ms.Started || ms.GameOver {
		return
	}
	ms.Started = true
	ms.StartedAt = time.Now()
	ms.scheduleIncomeTickUnsafe()
}

// Stop cancels all scheduled callbacks. Called on room teardown.
func (ms *MatchState) Stop() {
	ms.Mu.Lock()
	defer ms.Mu.Unlock()
	ms.epoch++
	if ms.incomeTimer != nil {
		ms.incomeTimer.Stop()
		ms.incomeTimer = nil
	}
}

func (ms *MatchState) scheduleIncomeTickUnsafe() {
	epoch := ms.epoch
	ms.incomeTimer = time.AfterFunc(ms.Mode.IncomeInterval, func() {
		ms.incomeTick(epoch)
	})
}

// incomeTick credits each connected player the mode's base income plus the
// per-miner bonus, then broadcasts a synchronized snapshot to both clients.
func (ms *MatchState) incomeTick(epoch int) {
	ms.Mu.Lock()
	defer ms.Mu.Unlock()
	if epoch != ms.epoch || !ms.Started || ms.GameOver {
		return
	}

	miners := make(map[uuid.UUID]int)
	for _, u := range ms.Units {
		if u.Type == UnitMiner {
			miners[u.OwnerID]++
		}
	}
	for id, p := range ms.Players {
		if !p.Connected {
			continue
		}
		p.Gold += ms.Mode.BaseIncome + ms.Mode.MinerBonus*miners[id]
	}

	ms.syncMirrorUnsafe()
	if ms.BroadcastFn != nil {
		ms.BroadcastFn(Event{Type: EventStateSync, State: ms.mirror})
	}
	ms.scheduleIncomeTickUnsafe()
}

// SpawnUnit validates the type against the mode table and the player's gold,
// deducts the cost, records the unit, and only then mirrors the event out.
func (ms *MatchState) SpawnUnit(playerID uuid.UUID, unitType UnitType, x, y float64) (*Unit, error) {
	ms.Mu.Lock()
	defer ms.Mu.Unlock()
	if !ms.Started || ms.GameOver {
		return nil, errors.New("match is not in progress")
	}
	p, ok := ms.Players[playerID]
	if !ok {
		return nil, ErrNotYourUnit
	}
	stats, ok := ms.Mode.Units[unitType]
	if !ok {
		return nil, ErrInvalidUnitType
	}
	if p.Gold < stats.Cost {
		return nil, ErrNotEnoughGold
	}

	p.Gold -= stats.Cost
	id, _ := uuid.NewRandom()
	u := &Unit{
		ID:          id,
		Type:        unitType,
		OwnerID:     playerID,
		X:           x,
		Y:           y,
		Health:      stats.Health,
		Damage:      stats.Damage,
		Speed:       stats.Speed,
		lastMovedAt: time.Now(),
	}
	ms.Units[id] = u

	ms.syncMirrorUnsafe()
	mu := mirrorUnit(u)
	if ms.BroadcastFn != nil {
		ms.BroadcastFn(Event{Type: EventUnitSpawned, Unit: &mu})
	}
	if ms.BroadcastToPlayerFn != nil {
		ms.BroadcastToPlayerFn(playerID, Event{
			Type:    EventGoldUpdate,
			Payload: map[string]interface{}{"gold": p.Gold},
		})
	}
	return u, nil
}

// MoveUnit accepts a target position unless it implies a speed above the
// unit's table maximum (with slack). Rejections send the owner a correction
// carrying the last authoritative position; the ledger is never desynced.
func (ms *MatchState) MoveUnit(playerID, unitID uuid.UUID, x, y float64) error {
	ms.Mu.Lock()
	defer ms.Mu.Unlock()
	if !ms.Started || ms.GameOver {
		return errors.New("match is not in progress")
	}
	u, ok := ms.Units[unitID]
	if !ok {
		return ErrUnitNotFound
	}
	if u.OwnerID != playerID {
		return ErrNotYourUnit
	}

	now := time.Now()
	elapsed := now.Sub(u.lastMovedAt).Seconds()
	if elapsed < ms.Mode.IncomeInterval.Seconds() {
		// Clamp so burst updates inside one tick are judged against a full
		// tick's travel allowance.
		elapsed = ms.Mode.IncomeInterval.Seconds()
	}
	dist := math.Hypot(x-u.X, y-u.Y)
	if dist > u.Speed*SpeedFactor*elapsed {
		if ms.BroadcastToPlayerFn != nil {
			ms.BroadcastToPlayerFn(playerID, Event{
				Type: EventUnitCorrected,
				Payload: map[string]interface{}{
					"unit_id": u.ID,
					"x":       u.X,
					"y":       u.Y,
				},
			})
		}
		return nil
	}

	u.X, u.Y = x, y
	u.lastMovedAt = now
	ms.syncMirrorUnsafe()
	mu := mirrorUnit(u)
	if ms.BroadcastFn != nil {
		ms.BroadcastFn(Event{Type: EventUnitMoved, Unit: &mu})
	}
	return nil
}

// Attack applies the attacker's table damage to a target unit. The client
// never supplies a damage number. Health reaching zero removes the unit and
// broadcasts destruction.
func (ms *MatchState) Attack(playerID, attackerID, targetID uuid.UUID) error {
	ms.Mu.Lock()
	defer ms.Mu.Unlock()
	if !ms.Started || ms.GameOver {
		return errors.New("match is not in progress")
	}
	attacker, ok := ms.Units[attackerID]
	if !ok {
		return ErrUnitNotFound
	}
	if attacker.OwnerID != playerID {
		return ErrNotYourUnit
	}
	target, ok := ms.Units[targetID]
	if !ok {
		return ErrUnitNotFound
	}
	if target.OwnerID == playerID {
		return ErrNotYourUnit
	}

	target.Health -= attacker.Damage
	if target.Health <= 0 {
		delete(ms.Units, targetID)
		ms.syncMirrorUnsafe()
		if ms.BroadcastFn != nil {
			ms.BroadcastFn(Event{
				Type:    EventUnitDestroyed,
				Payload: map[string]interface{}{"unit_id": targetID},
			})
		}
		return nil
	}

	ms.syncMirrorUnsafe()
	mu := mirrorUnit(target)
	if ms.BroadcastFn != nil {
		ms.BroadcastFn(Event{Type: EventUnitDamaged, Unit: &mu})
	}
	return nil
}

// AttackBase applies the attacker's table damage to the opposing base. The
// base reaching zero health resolves the match in the attacker's favor.
func (ms *MatchState) AttackBase(playerID, attackerID uuid.UUID) error {
	ms.Mu.Lock()
	defer ms.Mu.Unlock()
	if !ms.Started || ms.GameOver {
		return errors.New("match is not in progress")
	}
	attacker, ok := ms.Units[attackerID]
	if !ok {
		return ErrUnitNotFound
	}
	if attacker.OwnerID != playerID {
		return ErrNotYourUnit
	}

	opponent := ms.opponentUnsafe(playerID)
	if opponent == nil {
		return errors.New("no opponent in match")
	}
	opponent.BaseHealth -= attacker.Damage
	if opponent.BaseHealth < 0 {
		opponent.BaseHealth = 0
	}

	ms.syncMirrorUnsafe()
	if ms.BroadcastFn != nil {
		ms.BroadcastFn(Event{
			Type: EventBaseDamaged,
			Payload: map[string]interface{}{
				"player_id":   opponent.UserID,
				"base_health": opponent.BaseHealth,
			},
		})
	}

	if opponent.BaseHealth <= 0 {
		ms.endGameUnsafe(playerID, opponent.UserID, false)
	}
	return nil
}

// SetConnected flags a player's presence. Disconnected players accrue no
// income; their units remain on the field.
func (ms *MatchState) SetConnected(playerID uuid.UUID, connected bool) {
	ms.Mu.Lock()
	defer ms.Mu.Unlock()
	if p, ok := ms.Players[playerID]; ok {
		p.Connected = connected
		ms.syncMirrorUnsafe()
	}
}

// Forfeit resolves the match against the given player, used by the abandon
// supervisor when a disconnect timer fires.
func (ms *MatchState) Forfeit(abandonerID uuid.UUID) {
	ms.Mu.Lock()
	defer ms.Mu.Unlock()
	if ms.GameOver {
		return
	}
	opponent := ms.opponentUnsafe(abandonerID)
	if opponent == nil {
		logrus.Warnf("forfeit in match %s: no opponent for %s", ms.MatchID, abandonerID)
		return
	}
	ms.endGameUnsafe(opponent.UserID, abandonerID, true)
}

func (ms *MatchState) opponentUnsafe(playerID uuid.UUID) *PlayerState {
	for id, p := range ms.Players {
		if id != playerID {
			return p
		}
	}
	return nil
}

// endGameUnsafe marks the match over, cancels timers, broadcasts the result,
// and hands off to OnGameOver. Caller holds the lock.
func (ms *MatchState) endGameUnsafe(winnerID, loserID uuid.UUID, abandoned bool) {
	if ms.GameOver {
		return
	}
	ms.GameOver = true
	ms.epoch++
	if ms.incomeTimer != nil {
		ms.incomeTimer.Stop()
		ms.incomeTimer = nil
	}

	ms.syncMirrorUnsafe()
	if ms.BroadcastFn != nil {
		ms.BroadcastFn(Event{
			Type: EventGameOver,
			Payload: map[string]interface{}{
				"winner_id": winnerID,
				"loser_id":  loserID,
				"abandoned": abandoned,
			},
		})
	}
	if ms.OnGameOver != nil {
		// Persistence and rating updates run off the match lock.
		go ms.OnGameOver(winnerID, loserID, abandoned)
	}
}
