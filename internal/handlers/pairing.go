// internal/handlers/pairing.go
package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

type pairingJoinRequest struct {
	Mode      string `json:"mode"`
	MinRating *int   `json:"min_rating,omitempty"`
	MaxRating *int   `json:"max_rating,omitempty"`
}

// PairingJoinHandler enqueues the caller for automatic pairing. Re-joining
// replaces the previous entry.
func (s *Server) PairingJoinHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := authedUserID(r)
	if err != nil {
		http.Error(w, "authentication required", http.StatusForbidden)
		return
	}
	var req pairingJoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if suspended, until := s.Supervisor.IsSuspended(r.Context(), userID); suspended {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":           "suspended",
			"suspended_until": until.Format(time.RFC3339),
		})
		return
	}

	user := s.loadUser(r.Context(), userID)
	if err := s.Engine.Enqueue(r.Context(), user, req.Mode, req.MinRating, req.MaxRating); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "queued",
		"mode":   req.Mode,
	})
}

// PairingLeaveHandler removes the caller from the queue. Leaving when not
// queued is a no-op.
func (s *Server) PairingLeaveHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := authedUserID(r)
	if err != nil {
		http.Error(w, "authentication required", http.StatusForbidden)
		return
	}
	s.Engine.Dequeue(r.Context(), userID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"status": "left"})
}

// PairingStatusHandler reports whether the caller is still queued or has
// already been placed in a room.
func (s *Server) PairingStatusHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := authedUserID(r)
	if err != nil {
		http.Error(w, "authentication required", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	if joinedAt, waiting := s.Engine.Waiting(userID); waiting {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "queued",
			"joined_at": joinedAt.Format(time.RFC3339),
		})
		return
	}
	if room, ok := s.Rooms.RoomForUser(userID); ok {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "matched",
			"room_id": room.ID,
		})
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"status": "idle"})
}
