// internal/handlers/registry.go
package handlers

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/cache"
	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/room"
)

// ConnRegistry tracks every live transport connection and its authenticated
// identity. A user can hold several connections (tabs); room slots only ever
// bind one at a time.
type ConnRegistry struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*room.Conn
	byUsr map[uuid.UUID]map[uuid.UUID]*room.Conn
}

// NewConnRegistry returns an empty registry.
func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{
		byID:  make(map[uuid.UUID]*room.Conn),
		byUsr: make(map[uuid.UUID]map[uuid.UUID]*room.Conn),
	}
}

// Add registers a connection and bumps the shared online counter.
func (cr *ConnRegistry) Add(conn *room.Conn) {
	cr.mu.Lock()
	cr.byID[conn.ID] = conn
	if cr.byUsr[conn.UserID] == nil {
		cr.byUsr[conn.UserID] = make(map[uuid.UUID]*room.Conn)
	}
	cr.byUsr[conn.UserID][conn.ID] = conn
	cr.mu.Unlock()

	go func() {
		if _, err := cache.IncrOnlineCount(context.Background()); err != nil {
			logrus.Debugf("failed to bump online count: %v", err)
		}
	}()
}

// Remove drops a connection and decrements the shared online counter.
func (cr *ConnRegistry) Remove(conn *room.Conn) {
	cr.mu.Lock()
	delete(cr.byID, conn.ID)
	if conns := cr.byUsr[conn.UserID]; conns != nil {
		delete(conns, conn.ID)
		if len(conns) == 0 {
			delete(cr.byUsr, conn.UserID)
		}
	}
	cr.mu.Unlock()

	go func() {
		if _, err := cache.DecrOnlineCount(context.Background()); err != nil {
			logrus.Debugf("failed to drop online count: %v", err)
		}
	}()
}

// OnlineCount returns the number of live connections on this process.
func (cr *ConnRegistry) OnlineCount() int {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return len(cr.byID)
}

// UserOnline reports whether the user has at least one live connection.
func (cr *ConnRegistry) UserOnline(userID uuid.UUID) bool {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return len(cr.byUsr[userID]) > 0
}

// NotifyUser pushes a message to every active connection the user holds.
// Returns false when the user has none; callers treat delivery as
// best-effort.
func (cr *ConnRegistry) NotifyUser(userID uuid.UUID, msg map[string]interface{}) bool {
	cr.mu.Lock()
	conns := make([]*room.Conn, 0, len(cr.byUsr[userID]))
	for _, c := range cr.byUsr[userID] {
		conns = append(conns, c)
	}
	cr.mu.Unlock()

	for _, c := range conns {
		c.Write(msg)
	}
	return len(conns) > 0
}
