// internal/game/mirror.go
package game

import (
	"sort"

	"github.com/google/uuid"
)

// MirrorUnit is the client-facing view of a unit.
type MirrorUnit struct {
	ID      uuid.UUID `json:"id"`
	Type    UnitType  `json:"type"`
	OwnerID uuid.UUID `json:"owner_id"`
	X       float64   `json:"x"`
	Y       float64   `json:"y"`
	Health  int       `json:"health"`
}

// MirrorPlayer is the client-facing view of one player's ledger. Gold is
// included for both sides; the client renders only its own.
type MirrorPlayer struct {
	UserID     uuid.UUID `json:"user_id"`
	Gold       int       `json:"gold"`
	BaseHealth int       `json:"base_health"`
	Connected  bool      `json:"connected"`
}

// MirrorState is the broadcast-facing snapshot of a match. It is rebuilt from
// the authoritative state after every validated mutation and is never a
// mutation target itself.
type MirrorState struct {
	RoomID   string         `json:"room_id"`
	Mode     string         `json:"mode"`
	Started  bool           `json:"started"`
	GameOver bool           `json:"game_over"`
	Players  []MirrorPlayer `json:"players"`
	Units    []MirrorUnit   `json:"units"`
}

func mirrorUnit(u *Unit) MirrorUnit {
	return MirrorUnit{
		ID:      u.ID,
		Type:    u.Type,
		OwnerID: u.OwnerID,
		X:       u.X,
		Y:       u.Y,
		Health:  u.Health,
	}
}

// syncMirrorUnsafe rebuilds the broadcast mirror from authoritative state.
// Caller holds the lock. Output ordering is stable so snapshots diff cleanly
// on the client.
func (ms *MatchState) syncMirrorUnsafe() {
	m := &MirrorState{
		RoomID:   ms.RoomID,
		Mode:     ms.Mode.Name,
		Started:  ms.Started,
		GameOver: ms.GameOver,
		Players:  make([]MirrorPlayer, 0, len(ms.Players)),
		Units:    make([]MirrorUnit, 0, len(ms.Units)),
	}
	for _, p := range ms.Players {
		m.Players = append(m.Players, MirrorPlayer{
			UserID:     p.UserID,
			Gold:       p.Gold,
			BaseHealth: p.BaseHealth,
			Connected:  p.Connected,
		})
	}
	sort.Slice(m.Players, func(i, j int) bool {
		return m.Players[i].UserID.String() < m.Players[j].UserID.String()
	})
	for _, u := range ms.Units {
		m.Units = append(m.Units, mirrorUnit(u))
	}
	sort.Slice(m.Units, func(i, j int) bool {
		return m.Units[i].ID.String() < m.Units[j].ID.String()
	})
	ms.mirror = m
}

// Snapshot returns the current broadcast mirror, used to resync a client on
// reconnect.
func (ms *MatchState) Snapshot() *MirrorState {
	ms.Mu.Lock()
	defer ms.Mu.Unlock()
	return ms.mirror
}
