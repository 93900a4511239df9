// internal/discipline/supervisor.go
package discipline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/database"
	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/models"
)

const (
	// BaselineAbandonDelay is how long a disconnected player has to return
	// before forfeiting a started match.
	BaselineAbandonDelay = 60 * time.Second
	// StrikeThreshold is the consecutive disconnect count beyond which the
	// abandon delay is halved.
	StrikeThreshold = 2
	// WindowStrikes disconnects inside StrikeWindow forfeit immediately and
	// suspend the account.
	WindowStrikes = 5
	// StrikeWindow is the rolling window for cumulative disconnect counting.
	StrikeWindow = 30 * time.Minute
	// SuspensionDuration is the time-boxed account suspension applied on the
	// fifth windowed strike.
	SuspensionDuration = 15 * time.Minute
)

// userState tracks one user's disconnect bookkeeping plus any pending abandon
// timer. The in-memory copy is authoritative; DB flushes are best-effort.
type userState struct {
	consecutive  int
	strikes      []time.Time
	warningCount int
	bannedUntil  *time.Time
	lastAt       time.Time

	timer *time.Timer
	seq   int
}

// Supervisor runs the disconnect state machine per player:
// connected -> disconnected -> {reconnected | forfeited}. It distinguishes
// transient blips (fast reconnect, no penalty) from abandonment (timer fires,
// forfeit) and serial abuse (windowed strikes, suspension).
type Supervisor struct {
	mu    sync.Mutex
	users map[uuid.UUID]*userState

	BaselineDelay time.Duration
	Window        time.Duration
	Suspension    time.Duration

	// OnForfeit resolves the match against the user, either when the abandon
	// timer fires or immediately on the windowed strike limit.
	OnForfeit func(roomID string, userID uuid.UUID)
}

// NewSupervisor returns a supervisor with production timings.
func NewSupervisor(onForfeit func(roomID string, userID uuid.UUID)) *Supervisor {
	return &Supervisor{
		users:         make(map[uuid.UUID]*userState),
		BaselineDelay: BaselineAbandonDelay,
		Window:        StrikeWindow,
		Suspension:    SuspensionDuration,
		OnForfeit:     onForfeit,
	}
}

func (sv *Supervisor) stateUnsafe(userID uuid.UUID) *userState {
	st, ok := sv.users[userID]
	if !ok {
		st = &userState{}
		sv.users[userID] = st
	}
	return st
}

func (st *userState) pruneStrikes(now time.Time, window time.Duration) {
	kept := st.strikes[:0]
	for _, t := range st.strikes {
		if now.Sub(t) <= window {
			kept = append(kept, t)
		}
	}
	st.strikes = kept
}

// delayFor shrinks the abandon delay as consecutive disconnects accumulate.
func (sv *Supervisor) delayFor(st *userState) time.Duration {
	if st.consecutive > StrikeThreshold {
		return sv.BaselineDelay / 2
	}
	return sv.BaselineDelay
}

// RecordDisconnect counts a drop during a started match and either schedules
// the abandon timer or, on the fifth windowed strike, forfeits immediately
// and suspends the account.
func (sv *Supervisor) RecordDisconnect(roomID string, userID uuid.UUID) {
	now := time.Now()
	sv.mu.Lock()
	st := sv.stateUnsafe(userID)
	st.consecutive++
	st.lastAt = now
	st.pruneStrikes(now, sv.Window)
	st.strikes = append(st.strikes, now)
	sv.cancelTimerUnsafe(st)

	if len(st.strikes) >= WindowStrikes {
		until := now.Add(sv.Suspension)
		st.bannedUntil = &until
		st.warningCount++
		sv.flushUnsafe(userID, st)
		sv.mu.Unlock()

		logrus.Warnf("user %s hit %d disconnects in window, forfeiting and suspending until %s",
			userID, WindowStrikes, until.Format(time.RFC3339))
		go func() {
			if err := database.SuspendUser(context.Background(), userID, until); err != nil {
				logrus.Warnf("failed to persist suspension for %s: %v", userID, err)
			}
		}()
		if sv.OnForfeit != nil {
			sv.OnForfeit(roomID, userID)
		}
		return
	}

	delay := sv.delayFor(st)
	st.seq++
	seq := st.seq
	st.timer = time.AfterFunc(delay, func() {
		sv.timerFire(roomID, userID, seq)
	})
	sv.flushUnsafe(userID, st)
	sv.mu.Unlock()
}

func (sv *Supervisor) timerFire(roomID string, userID uuid.UUID, seq int) {
	sv.mu.Lock()
	st, ok := sv.users[userID]
	if !ok || st.seq != seq || st.timer == nil {
		sv.mu.Unlock()
		return
	}
	st.timer = nil
	sv.mu.Unlock()

	if sv.OnForfeit != nil {
		sv.OnForfeit(roomID, userID)
	}
}

func (sv *Supervisor) cancelTimerUnsafe(st *userState) {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.seq++
}

// CancelForfeit is called on reconnection before the timer fires. The counted
// disconnect stands; nothing else is penalized.
func (sv *Supervisor) CancelForfeit(userID uuid.UUID) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if st, ok := sv.users[userID]; ok {
		sv.cancelTimerUnsafe(st)
	}
}

// ResetOnCompletion zeroes the consecutive count for everyone in a normally
// completed match and cancels any stragglers' timers.
func (sv *Supervisor) ResetOnCompletion(userIDs ...uuid.UUID) {
	sv.mu.Lock()
	for _, id := range userIDs {
		if st, ok := sv.users[id]; ok {
			sv.cancelTimerUnsafe(st)
			st.consecutive = 0
			sv.flushUnsafe(id, st)
		}
	}
	sv.mu.Unlock()

	for _, id := range userIDs {
		uid := id
		go func() {
			if err := database.ClearDisconnectRecord(context.Background(), uid); err != nil {
				logrus.Debugf("failed to clear disconnect record for %s: %v", uid, err)
			}
		}()
	}
}

// IsSuspended reports whether the user is currently suspended, consulting the
// persisted record when the user is not in memory (process restart).
func (sv *Supervisor) IsSuspended(ctx context.Context, userID uuid.UUID) (bool, time.Time) {
	now := time.Now()
	sv.mu.Lock()
	if st, ok := sv.users[userID]; ok {
		sv.mu.Unlock()
		if st.bannedUntil != nil && st.bannedUntil.After(now) {
			return true, *st.bannedUntil
		}
		return false, time.Time{}
	}
	sv.mu.Unlock()

	rec, err := database.GetDisconnectRecord(ctx, userID)
	if err != nil {
		logrus.Debugf("failed to load disconnect record for %s: %v", userID, err)
		return false, time.Time{}
	}
	if rec.BannedUntil != nil && rec.BannedUntil.After(now) {
		return true, *rec.BannedUntil
	}
	return false, time.Time{}
}

// PendingForfeit reports whether an abandon timer is currently armed for the
// user.
func (sv *Supervisor) PendingForfeit(userID uuid.UUID) bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	st, ok := sv.users[userID]
	return ok && st.timer != nil
}

// flushUnsafe pushes the in-memory record to the persistence store,
// best-effort and off the lock.
func (sv *Supervisor) flushUnsafe(userID uuid.UUID, st *userState) {
	rec := &models.DisconnectRecord{
		UserID:           userID,
		Count:            st.consecutive,
		LastDisconnectAt: st.lastAt,
		WarningCount:     st.warningCount,
		BannedUntil:      st.bannedUntil,
	}
	go func() {
		if err := database.UpsertDisconnectRecord(context.Background(), rec); err != nil {
			logrus.Debugf("failed to flush disconnect record for %s: %v", userID, err)
		}
	}()
}
