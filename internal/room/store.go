// internal/room/store.go
package room

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/database"
	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/game"
	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/models"
)

// Store manages active rooms in memory. All mutation goes through its
// operations so the one-slot-per-user invariant holds across rooms.
type Store struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	userRoom map[uuid.UUID]string

	// Configure hooks the supervisor callbacks onto every room the store
	// creates.
	Configure func(r *Room)
}

// NewStore returns an in-memory store for rooms.
func NewStore() *Store {
	return &Store{
		rooms:    make(map[string]*Room),
		userRoom: make(map[uuid.UUID]string),
	}
}

// newRoomID allocates an unused opaque 8-hex-char token.
func (s *Store) newRoomIDUnsafe() (string, error) {
	for i := 0; i < 16; i++ {
		var b [4]byte
		if _, err := rand.Read(b[:]); err != nil {
			return "", fmt.Errorf("failed to generate room id: %w", err)
		}
		id := hex.EncodeToString(b[:])
		if _, taken := s.rooms[id]; !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("failed to allocate an unused room id")
}

// CreateRoom allocates a fresh waiting room with the creator as sole player
// and host. A creator already holding a slot elsewhere is removed from the
// prior room first.
func (s *Store) CreateRoom(creator *models.User, conn *Conn, modeName string, autoStart bool) (*Room, error) {
	s.detachFromCurrent(creator.ID)

	s.mu.Lock()
	id, err := s.newRoomIDUnsafe()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	r := NewRoom(id, game.ModeByName(modeName), autoStart)
	if s.Configure != nil {
		s.Configure(r)
	}
	s.wrapOnEmptyUnsafe(r)
	s.rooms[id] = r
	s.userRoom[creator.ID] = id
	s.mu.Unlock()

	if _, err := r.Join(creator, conn); err != nil {
		s.Delete(id)
		return nil, err
	}
	return r, nil
}

// CreateMatchedRoom builds a started-track room for two matchmade players.
// Neither needs a live connection; slots are pre-created ready, host goes to
// the first (longest-waiting) entry, and the match record id is fixed at
// pairing time.
func (s *Store) CreateMatchedRoom(p1, p2 *models.User, modeName string, matchID uuid.UUID) (*Room, error) {
	s.detachFromCurrent(p1.ID)
	s.detachFromCurrent(p2.ID)

	s.mu.Lock()
	id, err := s.newRoomIDUnsafe()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	r := NewRoom(id, game.ModeByName(modeName), true)
	r.MatchRecordID = matchID
	if s.Configure != nil {
		s.Configure(r)
	}
	s.wrapOnEmptyUnsafe(r)
	r.Players = []*PlayerSlot{
		{UserID: p1.ID, Username: p1.Username, IsHost: true, Ready: true},
		{UserID: p2.ID, Username: p2.Username, Ready: true},
	}
	s.rooms[id] = r
	s.userRoom[p1.ID] = id
	s.userRoom[p2.ID] = id
	s.mu.Unlock()

	for _, u := range []*models.User{p1, p2} {
		uid := u.ID
		roomID := id
		go func() {
			if err := database.SetCurrentRoom(context.Background(), uid, &roomID); err != nil {
				logrus.Warnf("failed to persist room ref for %s: %v", uid, err)
			}
		}()
	}
	return r, nil
}

// wrapOnEmptyUnsafe layers store cleanup onto the room's lifecycle hooks.
func (s *Store) wrapOnEmptyUnsafe(r *Room) {
	prev := r.OnEmpty
	r.OnEmpty = func(roomID string) {
		if prev != nil {
			prev(roomID)
		}
		s.Delete(roomID)
	}
	r.OnSlotRemoved = func(userID uuid.UUID) {
		s.mu.Lock()
		if s.userRoom[userID] == r.ID {
			delete(s.userRoom, userID)
		}
		s.mu.Unlock()
	}
}

// Get retrieves a room if it exists.
func (s *Store) Get(id string) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	return r, ok
}

// RoomForUser returns the room currently holding the user's slot, if any.
func (s *Store) RoomForUser(userID uuid.UUID) (*Room, bool) {
	s.mu.Lock()
	id, ok := s.userRoom[userID]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	r, ok := s.rooms[id]
	s.mu.Unlock()
	return r, ok
}

// Join adds the user to the given room through the store so the user-room
// index stays consistent. A user already in a different room is removed from
// it first.
func (s *Store) Join(roomID string, user *models.User, conn *Conn) (*PlayerSlot, error) {
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrRoomNotFound
	}

	if cur, ok := s.RoomForUser(user.ID); ok && cur.ID != roomID {
		s.detachFromCurrent(user.ID)
	}

	slot, err := r.Join(user, conn)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.userRoom[user.ID] = roomID
	s.mu.Unlock()
	return slot, nil
}

// Leave removes the user from their current room.
func (s *Store) Leave(userID uuid.UUID) error {
	r, ok := s.RoomForUser(userID)
	if !ok {
		return ErrNotInRoom
	}
	s.mu.Lock()
	delete(s.userRoom, userID)
	s.mu.Unlock()
	return r.Leave(userID)
}

// detachFromCurrent performs the explicit removal required before a user can
// take a slot in another room.
func (s *Store) detachFromCurrent(userID uuid.UUID) {
	r, ok := s.RoomForUser(userID)
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.userRoom, userID)
	s.mu.Unlock()
	if err := r.Leave(userID); err != nil {
		logrus.Debugf("detach %s from room %s: %v", userID, r.ID, err)
	}
}

// Delete tears the room down and removes it and its members from the index.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	r, ok := s.rooms[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.rooms, id)
	for uid, rid := range s.userRoom {
		if rid == id {
			delete(s.userRoom, uid)
		}
	}
	s.mu.Unlock()
	r.Teardown()
}

// Count returns the number of active rooms.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}
