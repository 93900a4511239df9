// internal/matchmaking/engine.go
package matchmaking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/database"
	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/game"
	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/models"
	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/room"
)

// SweepInterval is the fixed pairing pass cadence. Enqueueing also triggers
// an immediate attempt, so the interval only bounds worst-case wait.
const SweepInterval = 3 * time.Second

// Engine owns the waiting queue: one entry per user, replaced wholesale on
// re-enqueue, destroyed on pairing or explicit leave.
type Engine struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*models.QueueEntry

	rooms *room.Store

	Interval time.Duration

	// OnMatched notifies both identities' active connections of the new
	// room. Pairing is not contingent on presence; either side may have no
	// connection and learns the room id on reconnect.
	OnMatched func(p1, p2 uuid.UUID, r *room.Room)
}

// NewEngine builds an engine backed by the given room store.
func NewEngine(rooms *room.Store) *Engine {
	return &Engine{
		entries:  make(map[uuid.UUID]*models.QueueEntry),
		rooms:    rooms,
		Interval: SweepInterval,
	}
}

// Enqueue adds or replaces the user's queue entry, persists it, and attempts
// an immediate pairing.
func (e *Engine) Enqueue(ctx context.Context, user *models.User, mode string, minRating, maxRating *int) error {
	if !game.IsValidMode(mode) {
		return fmt.Errorf("unknown game mode %q", mode)
	}
	entry := &models.QueueEntry{
		UserID:    user.ID,
		Mode:      mode,
		Rating:    user.Rating,
		MinRating: minRating,
		MaxRating: maxRating,
		JoinedAt:  time.Now(),
	}
	e.mu.Lock()
	e.entries[user.ID] = entry
	e.mu.Unlock()

	go func() {
		if err := database.CreateQueueEntry(context.Background(), entry); err != nil {
			logrus.Debugf("failed to persist queue entry for %s: %v", user.ID, err)
		}
	}()
	e.Sweep()
	return nil
}

// Dequeue removes the user's entry on explicit leave.
func (e *Engine) Dequeue(ctx context.Context, userID uuid.UUID) {
	e.mu.Lock()
	delete(e.entries, userID)
	e.mu.Unlock()

	go func() {
		if err := database.DeleteQueueEntry(context.Background(), userID); err != nil {
			logrus.Debugf("failed to delete queue entry for %s: %v", userID, err)
		}
	}()
}

// Waiting reports whether the user currently has a queue entry.
func (e *Engine) Waiting(userID uuid.UUID) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.entries[userID]; ok {
		return entry.JoinedAt, true
	}
	return time.Time{}, false
}

// Len returns the number of queued entries.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

// Rehydrate loads persisted entries after a restart.
func (e *Engine) Rehydrate(ctx context.Context) error {
	entries, err := database.ListQueueEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to rehydrate queue: %w", err)
	}
	e.mu.Lock()
	for i := range entries {
		entry := entries[i]
		e.entries[entry.UserID] = &entry
	}
	e.mu.Unlock()
	logrus.Infof("rehydrated %d matchmaking entries", len(entries))
	return nil
}

// Run sweeps on a fixed interval until the context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep()
		}
	}
}

// mutualFit checks rating bounds in both directions.
func mutualFit(a, b *models.QueueEntry) bool {
	fits := func(x *models.QueueEntry, rating int) bool {
		if x.MinRating != nil && rating < *x.MinRating {
			return false
		}
		if x.MaxRating != nil && rating > *x.MaxRating {
			return false
		}
		return true
	}
	return fits(a, b.Rating) && fits(b, a.Rating)
}

// Sweep runs one full pairing pass: oldest-waiting entry first, candidate
// with the smallest rating gap (ties to the longest wait), repeated until no
// pair remains.
func (e *Engine) Sweep() {
	for {
		pair := e.takePair()
		if pair == nil {
			return
		}
		e.createMatch(pair[0], pair[1])
	}
}

// takePair removes and returns the next matched pair, oldest entry first,
// or nil when no compatible pair exists.
func (e *Engine) takePair() []*models.QueueEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	ordered := make([]*models.QueueEntry, 0, len(e.entries))
	for _, entry := range e.entries {
		ordered = append(ordered, entry)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].JoinedAt.Before(ordered[j].JoinedAt)
	})

	for i, seeker := range ordered {
		var best *models.QueueEntry
		bestGap := 0
		for j, cand := range ordered {
			if i == j || cand.Mode != seeker.Mode || !mutualFit(seeker, cand) {
				continue
			}
			gap := seeker.Rating - cand.Rating
			if gap < 0 {
				gap = -gap
			}
			if best == nil || gap < bestGap ||
				(gap == bestGap && cand.JoinedAt.Before(best.JoinedAt)) {
				best = cand
				bestGap = gap
			}
		}
		if best != nil {
			delete(e.entries, seeker.UserID)
			delete(e.entries, best.UserID)
			return []*models.QueueEntry{seeker, best}
		}
	}
	return nil
}

// createMatch builds the match record and room for a pair. Host goes to the
// chronologically first entry.
func (e *Engine) createMatch(first, second *models.QueueEntry) {
	matchID, _ := uuid.NewRandom()
	p1 := e.loadUser(first)
	p2 := e.loadUser(second)

	r, err := e.rooms.CreateMatchedRoom(p1, p2, first.Mode, matchID)
	if err != nil {
		logrus.Errorf("failed to create room for pair %s/%s: %v", p1.ID, p2.ID, err)
		return
	}
	logrus.Infof("paired %s (%d) with %s (%d) in room %s, mode %s",
		p1.ID, first.Rating, p2.ID, second.Rating, r.ID, first.Mode)

	go func() {
		ctx := context.Background()
		if _, err := database.CreateMatch(ctx, matchID, p1.ID, p2.ID, first.Mode); err != nil {
			logrus.Warnf("failed to persist match record %s: %v", matchID, err)
		}
		if err := database.DeleteQueueEntry(ctx, p1.ID); err != nil {
			logrus.Debugf("failed to delete queue entry for %s: %v", p1.ID, err)
		}
		if err := database.DeleteQueueEntry(ctx, p2.ID); err != nil {
			logrus.Debugf("failed to delete queue entry for %s: %v", p2.ID, err)
		}
	}()

	if e.OnMatched != nil {
		e.OnMatched(p1.ID, p2.ID, r)
	}
}

// loadUser fetches the full user for room creation, falling back to a
// minimal identity when the store is unreachable so the pairing still lands.
func (e *Engine) loadUser(entry *models.QueueEntry) *models.User {
	u, err := database.GetUserByID(context.Background(), entry.UserID)
	if err != nil {
		logrus.Debugf("failed to load user %s for pairing: %v", entry.UserID, err)
		return &models.User{
			ID:       entry.UserID,
			Username: entry.UserID.String()[:8],
			Rating:   entry.Rating,
		}
	}
	return u
}
