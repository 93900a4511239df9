// internal/room/room_test.go
package room

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/models"
)

func testUser(name string) *models.User {
	return &models.User{
		ID:       uuid.New(),
		Username: name,
		Rating:   1200,
	}
}

func testConn(userID uuid.UUID) *Conn {
	c := NewConn(userID, func() {})
	// Large buffer so no broadcast is ever dropped during a test.
	c.OutChan = make(chan map[string]interface{}, 256)
	return c
}

// drain empties a connection's outbound channel and returns the messages.
func drain(c *Conn) []map[string]interface{} {
	var msgs []map[string]interface{}
	for {
		select {
		case m := <-c.OutChan:
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
}

func lastOfType(msgs []map[string]interface{}, typ string) map[string]interface{} {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i]["type"] == typ {
			return msgs[i]
		}
	}
	return nil
}

// setupWaitingRoom creates a store-backed room with two joined players.
func setupWaitingRoom(t *testing.T) (*Store, *Room, *models.User, *Conn, *models.User, *Conn) {
	s := NewStore()
	host := testUser("alice")
	hostConn := testConn(host.ID)
	r, err := s.CreateRoom(host, hostConn, "classic", false)
	require.NoError(t, err)

	guest := testUser("bob")
	guestConn := testConn(guest.ID)
	_, err = s.Join(r.ID, guest, guestConn)
	require.NoError(t, err)
	return s, r, host, hostConn, guest, guestConn
}

func TestCreateRoomHostAndState(t *testing.T) {
	s := NewStore()
	host := testUser("alice")
	conn := testConn(host.ID)
	r, err := s.CreateRoom(host, conn, "classic", false)
	require.NoError(t, err)

	assert.Len(t, r.ID, 8)
	assert.Equal(t, StateWaiting, r.State)
	require.Len(t, r.Players, 1)
	assert.True(t, r.Players[0].IsHost)
	assert.Equal(t, "classic", r.Mode.Name)

	got, ok := s.RoomForUser(host.ID)
	require.True(t, ok)
	assert.Equal(t, r.ID, got.ID)
}

func TestJoinCapacityAndUsername(t *testing.T) {
	s, r, _, _, _, _ := setupWaitingRoom(t)

	// Third player bounces.
	third := testUser("carol")
	_, err := s.Join(r.ID, third, testConn(third.ID))
	assert.ErrorIs(t, err, ErrRoomFull)
	assert.Len(t, r.Players, 2)

	// Unknown room.
	_, err = s.Join("deadbeef", third, testConn(third.ID))
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestJoinRejectsDuplicateUsername(t *testing.T) {
	s := NewStore()
	host := testUser("alice")
	r, err := s.CreateRoom(host, testConn(host.ID), "classic", false)
	require.NoError(t, err)

	impostor := testUser("alice")
	_, err = s.Join(r.ID, impostor, testConn(impostor.ID))
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestRejoinByUserIDIsIdempotent(t *testing.T) {
	s, r, _, _, guest, _ := setupWaitingRoom(t)

	// Same user, fresh connection: rebinds the existing slot instead of
	// adding one.
	fresh := testConn(guest.ID)
	slot, err := s.Join(r.ID, guest, fresh)
	require.NoError(t, err)
	assert.Len(t, r.Players, 2)
	assert.Same(t, fresh, slot.Conn)
}

func TestLeavePromotesEarliestRemainingHost(t *testing.T) {
	s, r, host, _, guest, guestConn := setupWaitingRoom(t)
	drain(guestConn)

	require.NoError(t, s.Leave(host.ID))

	require.Len(t, r.Players, 1)
	assert.Equal(t, guest.ID, r.Players[0].UserID)
	assert.True(t, r.Players[0].IsHost, "earliest remaining slot becomes host")

	msgs := drain(guestConn)
	hc := lastOfType(msgs, "host_changed")
	require.NotNil(t, hc)
	assert.Equal(t, guest.ID.String(), hc["user_id"])
}

func TestEmptyRoomIsDestroyed(t *testing.T) {
	s, r, host, _, guest, _ := setupWaitingRoom(t)
	require.NoError(t, s.Leave(guest.ID))
	require.NoError(t, s.Leave(host.ID))

	_, ok := s.Get(r.ID)
	assert.False(t, ok, "room with zero connected players is removed")
	_, ok = s.RoomForUser(host.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Count())
}

func TestReadyIsOneWay(t *testing.T) {
	_, r, host, hostConn, _, _ := setupWaitingRoom(t)

	require.NoError(t, r.MarkReady(host.ID))
	assert.True(t, r.Players[0].Ready)

	// Re-readying is a no-op, and there is no path back to unready.
	require.NoError(t, r.MarkReady(host.ID))
	assert.True(t, r.Players[0].Ready)

	msgs := drain(hostConn)
	ru := lastOfType(msgs, "ready_update")
	require.NotNil(t, ru)
	assert.Equal(t, true, ru["is_ready"])
}

func TestStartMatchRequiresHostAndTwoReady(t *testing.T) {
	_, r, host, _, guest, _ := setupWaitingRoom(t)

	assert.ErrorIs(t, r.StartMatch(guest.ID), ErrNotHost)
	assert.ErrorIs(t, r.StartMatch(host.ID), ErrNeedTwoPlayers)

	require.NoError(t, r.MarkReady(host.ID))
	assert.ErrorIs(t, r.StartMatch(host.ID), ErrNeedTwoPlayers)

	require.NoError(t, r.MarkReady(guest.ID))
	require.NoError(t, r.StartMatch(host.ID))

	assert.Equal(t, StateStarted, r.State)
	require.NotNil(t, r.Match)
	assert.ErrorIs(t, r.StartMatch(host.ID), ErrGameAlreadyStarted)

	outsider := testUser("carol")
	_, err := r.Join(outsider, testConn(outsider.ID))
	assert.ErrorIs(t, err, ErrGameAlreadyStarted)

	r.Teardown()
}

func TestAutoStartCountdown(t *testing.T) {
	s := NewStore()
	host := testUser("alice")
	hostConn := testConn(host.ID)
	r, err := s.CreateRoom(host, hostConn, "classic", true)
	require.NoError(t, err)
	r.Countdown = 30 * time.Millisecond

	guest := testUser("bob")
	_, err = s.Join(r.ID, guest, testConn(guest.ID))
	require.NoError(t, err)

	require.NoError(t, r.MarkReady(host.ID))
	require.NoError(t, r.MarkReady(guest.ID))

	msgs := drain(hostConn)
	require.NotNil(t, lastOfType(msgs, "room_countdown_start"))

	require.Eventually(t, func() bool {
		r.Mu.Lock()
		defer r.Mu.Unlock()
		return r.State == StateStarted
	}, time.Second, 10*time.Millisecond, "countdown should start the match")

	started := lastOfType(drain(hostConn), "game_started")
	require.NotNil(t, started)

	s.Delete(r.ID)
}

func TestLeaveCancelsAutoStartCountdown(t *testing.T) {
	s := NewStore()
	host := testUser("alice")
	r, err := s.CreateRoom(host, testConn(host.ID), "classic", true)
	require.NoError(t, err)
	r.Countdown = 30 * time.Millisecond

	guest := testUser("bob")
	_, err = s.Join(r.ID, guest, testConn(guest.ID))
	require.NoError(t, err)
	require.NoError(t, r.MarkReady(host.ID))
	require.NoError(t, r.MarkReady(guest.ID))

	require.NoError(t, s.Leave(guest.ID))
	time.Sleep(80 * time.Millisecond)

	r.Mu.Lock()
	defer r.Mu.Unlock()
	assert.Equal(t, StateWaiting, r.State, "a departed player must cancel the countdown")
}

func TestDisconnectInWaitingRemovesSlot(t *testing.T) {
	s, r, _, _, guest, _ := setupWaitingRoom(t)

	r.HandleDisconnect(guest.ID)
	assert.Len(t, r.Players, 1)
	_, ok := s.Get(r.ID)
	assert.True(t, ok, "room survives while the host remains")
}

func TestDisconnectInStartedKeepsSlotAndNotifiesSupervisor(t *testing.T) {
	_, r, host, hostConn, guest, _ := setupWaitingRoom(t)

	var supervised []uuid.UUID
	r.OnPlayerDisconnect = func(roomID string, userID uuid.UUID) {
		supervised = append(supervised, userID)
	}

	require.NoError(t, r.MarkReady(host.ID))
	require.NoError(t, r.MarkReady(guest.ID))
	require.NoError(t, r.StartMatch(host.ID))
	drain(hostConn)

	r.HandleDisconnect(guest.ID)

	require.Len(t, r.Players, 2, "started match keeps the slot")
	assert.NotNil(t, r.Players[1].DisconnectedAt)
	require.Equal(t, []uuid.UUID{guest.ID}, supervised)

	// The disconnect broadcast includes the departing slot once so peers can
	// render the departure.
	msgs := drain(hostConn)
	pl := lastOfType(msgs, "player_list")
	require.NotNil(t, pl)
	players := pl["players"].([]map[string]interface{})
	require.Len(t, players, 2)
	var departed map[string]interface{}
	for _, p := range players {
		if p["user_id"] == guest.ID.String() {
			departed = p
		}
	}
	require.NotNil(t, departed)
	assert.Equal(t, true, departed["left"])
	assert.Equal(t, false, departed["connected"])

	r.Teardown()
}

func TestRebindClearsDisconnectAndResyncs(t *testing.T) {
	_, r, host, _, guest, _ := setupWaitingRoom(t)

	var reconnected []uuid.UUID
	r.OnPlayerReconnect = func(userID uuid.UUID) {
		reconnected = append(reconnected, userID)
	}

	require.NoError(t, r.MarkReady(host.ID))
	require.NoError(t, r.MarkReady(guest.ID))
	require.NoError(t, r.StartMatch(host.ID))
	r.HandleDisconnect(guest.ID)

	fresh := testConn(guest.ID)
	require.NoError(t, r.Rebind(guest.ID, fresh))

	assert.Nil(t, r.Players[1].DisconnectedAt)
	assert.Same(t, fresh, r.Players[1].Conn)
	assert.Equal(t, []uuid.UUID{guest.ID}, reconnected)

	sync := lastOfType(drain(fresh), "state_sync")
	require.NotNil(t, sync, "reconnecting mid-match resyncs the mirror")

	r.Teardown()
}

func TestResolveAbandonForfeitsOnlyWhileDisconnected(t *testing.T) {
	_, r, host, _, guest, _ := setupWaitingRoom(t)
	require.NoError(t, r.MarkReady(host.ID))
	require.NoError(t, r.MarkReady(guest.ID))
	require.NoError(t, r.StartMatch(host.ID))

	// Reconnected before the timer fired: dropped.
	r.ResolveAbandon(guest.ID)
	r.Mu.Lock()
	state := r.State
	r.Mu.Unlock()
	assert.Equal(t, StateStarted, state)

	r.HandleDisconnect(guest.ID)
	r.ResolveAbandon(guest.ID)

	require.Eventually(t, func() bool {
		r.Mu.Lock()
		defer r.Mu.Unlock()
		return r.State == StateAbandoned
	}, time.Second, 10*time.Millisecond)

	r.Teardown()
}

func TestMatchedRoomSeedsBothSlots(t *testing.T) {
	s := NewStore()
	p1 := testUser("alice")
	p2 := testUser("bob")
	matchID := uuid.New()

	r, err := s.CreateMatchedRoom(p1, p2, "classic", matchID)
	require.NoError(t, err)

	require.Len(t, r.Players, 2)
	assert.True(t, r.Players[0].IsHost, "host goes to the longest-waiting entry")
	assert.False(t, r.Players[1].IsHost)
	assert.True(t, r.Players[0].Ready)
	assert.True(t, r.Players[1].Ready)
	assert.Equal(t, matchID, r.MatchRecordID)

	got, ok := s.RoomForUser(p2.ID)
	require.True(t, ok)
	assert.Equal(t, r.ID, got.ID)
}

func TestMatchedRoomAutoStartsOnceBothConnect(t *testing.T) {
	s := NewStore()
	p1 := testUser("alice")
	p2 := testUser("bob")

	r, err := s.CreateMatchedRoom(p1, p2, "classic", uuid.New())
	require.NoError(t, err)
	r.Countdown = 30 * time.Millisecond

	// Pre-seeded ready slots never pass through MarkReady, so attaching the
	// connections is what has to arm the countdown.
	conn1 := testConn(p1.ID)
	require.NoError(t, r.Rebind(p1.ID, conn1))
	r.Mu.Lock()
	assert.Nil(t, r.countdownTimer, "one connected player is not enough")
	r.Mu.Unlock()

	require.NoError(t, r.Rebind(p2.ID, testConn(p2.ID)))
	require.NotNil(t, lastOfType(drain(conn1), "room_countdown_start"))

	require.Eventually(t, func() bool {
		r.Mu.Lock()
		defer r.Mu.Unlock()
		return r.State == StateStarted
	}, time.Second, 10*time.Millisecond, "matched pair should start without a manual start")

	require.NotNil(t, lastOfType(drain(conn1), "game_started"))

	s.Delete(r.ID)
}

func TestOneSlotPerUserAcrossRooms(t *testing.T) {
	s := NewStore()
	alice := testUser("alice")
	first, err := s.CreateRoom(alice, testConn(alice.ID), "classic", false)
	require.NoError(t, err)

	// Creating a second room detaches alice from the first, which empties
	// and destroys it.
	second, err := s.CreateRoom(alice, testConn(alice.ID), "insane", false)
	require.NoError(t, err)

	_, ok := s.Get(first.ID)
	assert.False(t, ok)
	got, ok := s.RoomForUser(alice.ID)
	require.True(t, ok)
	assert.Equal(t, second.ID, got.ID)
}
