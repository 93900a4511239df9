// internal/game/state_test.go
package game

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBroadcaster collects events instead of sending them over WS.
type mockBroadcaster struct {
	mu           sync.Mutex
	allEvents    []Event
	playerEvents map[uuid.UUID][]Event
}

func newMockBroadcaster() *mockBroadcaster {
	return &mockBroadcaster{
		playerEvents: make(map[uuid.UUID][]Event),
	}
}

func (mb *mockBroadcaster) broadcastFn(ev Event) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.allEvents = append(mb.allEvents, ev)
}

func (mb *mockBroadcaster) broadcastToPlayerFn(playerID uuid.UUID, ev Event) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.playerEvents[playerID] = append(mb.playerEvents[playerID], ev)
}

func (mb *mockBroadcaster) getLastEvent() *Event {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if len(mb.allEvents) == 0 {
		return nil
	}
	return &mb.allEvents[len(mb.allEvents)-1]
}

func (mb *mockBroadcaster) getLastPlayerEvent(playerID uuid.UUID) *Event {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	events, ok := mb.playerEvents[playerID]
	if !ok || len(events) == 0 {
		return nil
	}
	return &events[len(events)-1]
}

func (mb *mockBroadcaster) eventsOfType(t EventType) []Event {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	var out []Event
	for _, ev := range mb.allEvents {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// setupTestMatch initializes a started classic-mode match with mock
// broadcasters.
func setupTestMatch(t *testing.T, modeName string) (*MatchState, uuid.UUID, uuid.UUID, *mockBroadcaster) {
	p1 := uuid.New()
	p2 := uuid.New()
	mb := newMockBroadcaster()

	ms := NewMatchState("ab12cd34", uuid.New(), ModeByName(modeName), p1, p2)
	ms.BroadcastFn = mb.broadcastFn
	ms.BroadcastToPlayerFn = mb.broadcastToPlayerFn

	// Mark started without scheduling the real income timer; tests drive
	// ticks directly.
	ms.Mu.Lock()
	ms.Started = true
	ms.StartedAt = time.Now()
	ms.Mu.Unlock()

	require.True(t, ms.Started)
	return ms, p1, p2, mb
}

func TestSpawnDeductsGoldAndMirrors(t *testing.T) {
	ms, p1, _, mb := setupTestMatch(t, "classic")

	u, err := ms.SpawnUnit(p1, UnitMiner, 1, 1)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, 400, ms.Players[p1].Gold)
	assert.Equal(t, 60, u.Health)
	assert.Equal(t, 5, u.Damage)

	// Unit appears in both authoritative and broadcast state.
	assert.Contains(t, ms.Units, u.ID)
	snap := ms.Snapshot()
	require.Len(t, snap.Units, 1)
	assert.Equal(t, UnitMiner, snap.Units[0].Type)

	// Spawn is public; the gold update goes only to the spawner.
	last := mb.getLastEvent()
	require.NotNil(t, last)
	assert.Equal(t, EventUnitSpawned, last.Type)
	goldEv := mb.getLastPlayerEvent(p1)
	require.NotNil(t, goldEv)
	assert.Equal(t, EventGoldUpdate, goldEv.Type)
	assert.Equal(t, 400, goldEv.Payload["gold"])
}

func TestSpawnRejectsInvalidTypeAndPoverty(t *testing.T) {
	ms, p1, _, _ := setupTestMatch(t, "classic")

	_, err := ms.SpawnUnit(p1, UnitTank, 0, 0) // tank is beta-only
	assert.ErrorIs(t, err, ErrInvalidUnitType)
	assert.Equal(t, 500, ms.Players[p1].Gold)

	// Drain gold: 3 archers at 200 exceed 500 on the third.
	_, err = ms.SpawnUnit(p1, UnitArcher, 0, 0)
	require.NoError(t, err)
	_, err = ms.SpawnUnit(p1, UnitArcher, 0, 0)
	require.NoError(t, err)
	_, err = ms.SpawnUnit(p1, UnitArcher, 0, 0)
	assert.ErrorIs(t, err, ErrNotEnoughGold)
	assert.Equal(t, 100, ms.Players[p1].Gold, "rejected spawn must not touch the ledger")
	assert.Len(t, ms.Units, 2)
}

func TestBetaModeEnablesTank(t *testing.T) {
	ms, p1, _, _ := setupTestMatch(t, "beta")
	u, err := ms.SpawnUnit(p1, UnitTank, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 600, u.Health)
	assert.Equal(t, 100, ms.Players[p1].Gold)
}

func TestMoveRejectsTeleportAndCorrects(t *testing.T) {
	ms, p1, _, mb := setupTestMatch(t, "classic")
	u, err := ms.SpawnUnit(p1, UnitSoldier, 0, 0)
	require.NoError(t, err)

	// A soldier covers at most 1.2*1.25*2s = 3 units per clamped tick; 500
	// is an obvious teleport.
	err = ms.MoveUnit(p1, u.ID, 500, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, u.X, "authoritative position unchanged on rejection")

	corr := mb.getLastPlayerEvent(p1)
	require.NotNil(t, corr)
	assert.Equal(t, EventUnitCorrected, corr.Type)
	assert.Equal(t, 0.0, corr.Payload["x"])

	// A move within the allowance is accepted and broadcast.
	err = ms.MoveUnit(p1, u.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 2.0, u.X)
	last := mb.getLastEvent()
	require.NotNil(t, last)
	assert.Equal(t, EventUnitMoved, last.Type)
}

func TestMoveValidatesOwnership(t *testing.T) {
	ms, p1, p2, _ := setupTestMatch(t, "classic")
	u, err := ms.SpawnUnit(p1, UnitSoldier, 0, 0)
	require.NoError(t, err)

	assert.ErrorIs(t, ms.MoveUnit(p2, u.ID, 1, 0), ErrNotYourUnit)
	assert.ErrorIs(t, ms.MoveUnit(p1, uuid.New(), 1, 0), ErrUnitNotFound)
}

func TestCombatUsesTableDamage(t *testing.T) {
	ms, p1, p2, mb := setupTestMatch(t, "classic")
	archer, err := ms.SpawnUnit(p1, UnitArcher, 0, 0)
	require.NoError(t, err)
	soldier, err := ms.SpawnUnit(p2, UnitSoldier, 1, 0)
	require.NoError(t, err)

	// Archer hits for 30 regardless of anything the client claims. A
	// surviving target announces the health change as damage, not movement.
	require.NoError(t, ms.Attack(p1, archer.ID, soldier.ID))
	assert.Equal(t, 170, soldier.Health)
	damaged := mb.eventsOfType(EventUnitDamaged)
	require.Len(t, damaged, 1)
	assert.Equal(t, soldier.ID, damaged[0].Unit.ID)
	assert.Equal(t, 170, damaged[0].Unit.Health)
	assert.Empty(t, mb.eventsOfType(EventUnitMoved))

	// 200 health / 30 damage: destroyed on the 7th hit.
	for i := 0; i < 6; i++ {
		require.NoError(t, ms.Attack(p1, archer.ID, soldier.ID))
	}
	assert.NotContains(t, ms.Units, soldier.ID)
	destroyed := mb.eventsOfType(EventUnitDestroyed)
	require.Len(t, destroyed, 1)
	assert.Equal(t, soldier.ID, destroyed[0].Payload["unit_id"])

	// Attacking your own unit is rejected.
	friendly, err := ms.SpawnUnit(p1, UnitMiner, 0, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, ms.Attack(p1, archer.ID, friendly.ID), ErrNotYourUnit)
}

func TestBaseDamageResolvesMatch(t *testing.T) {
	ms, p1, p2, mb := setupTestMatch(t, "classic")

	var gameOver struct {
		mu        sync.Mutex
		winner    uuid.UUID
		loser     uuid.UUID
		abandoned bool
		fired     bool
	}
	done := make(chan struct{})
	ms.OnGameOver = func(w, l uuid.UUID, ab bool) {
		gameOver.mu.Lock()
		gameOver.winner, gameOver.loser, gameOver.abandoned, gameOver.fired = w, l, ab, true
		gameOver.mu.Unlock()
		close(done)
	}

	archer, err := ms.SpawnUnit(p1, UnitArcher, 0, 0)
	require.NoError(t, err)

	// 1000 base health / 30 damage: falls on the 34th hit.
	for i := 0; i < 34; i++ {
		require.NoError(t, ms.AttackBase(p1, archer.ID))
	}
	assert.Equal(t, 0, ms.Players[p2].BaseHealth)
	assert.True(t, ms.GameOver)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnGameOver not invoked")
	}
	gameOver.mu.Lock()
	defer gameOver.mu.Unlock()
	assert.Equal(t, p1, gameOver.winner)
	assert.Equal(t, p2, gameOver.loser)
	assert.False(t, gameOver.abandoned)

	last := mb.getLastEvent()
	require.NotNil(t, last)
	assert.Equal(t, EventGameOver, last.Type)

	// Further actions against a resolved match fail.
	_, err = ms.SpawnUnit(p1, UnitMiner, 0, 0)
	assert.Error(t, err)
}

func TestIncomeTickPaysBaseAndMinerBonus(t *testing.T) {
	ms, p1, p2, mb := setupTestMatch(t, "classic")
	_, err := ms.SpawnUnit(p1, UnitMiner, 0, 0)
	require.NoError(t, err)
	_, err = ms.SpawnUnit(p1, UnitMiner, 0, 0)
	require.NoError(t, err)

	ms.SetConnected(p2, false)

	ms.Mu.Lock()
	epoch := ms.epoch
	ms.Mu.Unlock()
	ms.incomeTick(epoch)

	// p1: 300 after two miners, +10 base +5*2 miners = 320.
	assert.Equal(t, 320, ms.Players[p1].Gold)
	// Disconnected players accrue nothing.
	assert.Equal(t, 500, ms.Players[p2].Gold)

	syncs := mb.eventsOfType(EventStateSync)
	require.NotEmpty(t, syncs)
	require.NotNil(t, syncs[len(syncs)-1].State)

	ms.Stop()
}

func TestStaleIncomeTickIsDropped(t *testing.T) {
	ms, p1, _, _ := setupTestMatch(t, "classic")
	ms.Mu.Lock()
	stale := ms.epoch
	ms.Mu.Unlock()

	ms.Stop() // bumps the epoch
	ms.incomeTick(stale)
	assert.Equal(t, 500, ms.Players[p1].Gold, "stale timer must not credit income")
}

func TestForfeitResolvesForOpponent(t *testing.T) {
	ms, p1, p2, mb := setupTestMatch(t, "classic")
	done := make(chan struct{})
	var winner, loser uuid.UUID
	var abandoned bool
	ms.OnGameOver = func(w, l uuid.UUID, ab bool) {
		winner, loser, abandoned = w, l, ab
		close(done)
	}

	ms.Forfeit(p2)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnGameOver not invoked")
	}
	assert.Equal(t, p1, winner)
	assert.Equal(t, p2, loser)
	assert.True(t, abandoned)
	assert.True(t, ms.GameOver)

	last := mb.getLastEvent()
	require.NotNil(t, last)
	assert.Equal(t, EventGameOver, last.Type)
	assert.Equal(t, true, last.Payload["abandoned"])
}

func TestMirrorIsRebuiltNotMutated(t *testing.T) {
	ms, p1, _, _ := setupTestMatch(t, "classic")
	before := ms.Snapshot()

	_, err := ms.SpawnUnit(p1, UnitMiner, 0, 0)
	require.NoError(t, err)
	after := ms.Snapshot()

	assert.NotSame(t, before, after, "mutations replace the mirror wholesale")
	assert.Empty(t, before.Units, "old snapshots are immutable")
	assert.Len(t, after.Units, 1)
}

func TestInsaneModeDoublesIncome(t *testing.T) {
	ms, p1, _, _ := setupTestMatch(t, "insane")
	ms.Mu.Lock()
	epoch := ms.epoch
	ms.Mu.Unlock()
	ms.incomeTick(epoch)
	assert.Equal(t, 520, ms.Players[p1].Gold)
	ms.Stop()
}
