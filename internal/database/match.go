// internal/database/match.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/models"
	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/rating"
)

// CreateMatch inserts a pending match record for the two paired players. The
// caller allocates the id so in-memory state can reference it before the row
// commits. Insertion is idempotent: a matchmade room's record is created at
// pairing time and again when the match starts, so a duplicate id is a no-op
// rather than an error.
func CreateMatch(ctx context.Context, id, player1, player2 uuid.UUID, mode string) (*models.MatchRecord, error) {
	if err := ready(); err != nil {
		return nil, err
	}
	rec := &models.MatchRecord{
		ID:        id,
		Player1:   player1,
		Player2:   player2,
		Mode:      mode,
		Status:    models.MatchPending,
		CreatedAt: time.Now(),
	}
	q := `INSERT INTO matches (id, player1, player2, mode, status, created_at)
	      VALUES ($1, $2, $3, $4, $5, $6)
	      ON CONFLICT (id) DO NOTHING`
	err := pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, e := tx.Exec(ctx, q, rec.ID, rec.Player1, rec.Player2, rec.Mode, rec.Status, rec.CreatedAt)
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert match: %w", err)
	}
	return rec, nil
}

// MarkMatchStarted flips the match record to 'started'.
func MarkMatchStarted(ctx context.Context, matchID uuid.UUID) error {
	if err := ready(); err != nil {
		return err
	}
	q := `UPDATE matches SET status=$1 WHERE id=$2`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, models.MatchStarted, matchID)
		return err
	})
}

// MatchResult carries the finalized outcome back to the caller so the room
// can broadcast it without re-querying.
type MatchResult struct {
	MatchID     uuid.UUID
	WinnerID    uuid.UUID
	LoserID     uuid.UUID
	Abandoned   bool
	WinnerNew   int
	LoserNew    int
	DeltaWinner int
	DeltaLoser  int
}

// FinalizeMatchAndRatings loads both users, computes the new ratings (standard
// or abandonment variant), and writes the finalized match row, both user
// ratings, and per-user rating history rows in one transaction. The caller
// owns retry semantics; in-memory match resolution must not block on this.
func FinalizeMatchAndRatings(ctx context.Context, matchID, winnerID, loserID uuid.UUID, abandoned bool) (*MatchResult, error) {
	if err := ready(); err != nil {
		return nil, err
	}
	winner, err := GetUserByID(ctx, winnerID)
	if err != nil {
		return nil, fmt.Errorf("load winner for rating: %w", err)
	}
	loser, err := GetUserByID(ctx, loserID)
	if err != nil {
		return nil, fmt.Errorf("load loser for rating: %w", err)
	}

	var newW, newL int
	if abandoned {
		newL, newW = rating.UpdateAbandonment(loser.Rating, winner.Rating)
	} else {
		newW, newL = rating.UpdatePair(winner.Rating, loser.Rating)
	}

	res := &MatchResult{
		MatchID:     matchID,
		WinnerID:    winnerID,
		LoserID:     loserID,
		Abandoned:   abandoned,
		WinnerNew:   newW,
		LoserNew:    newL,
		DeltaWinner: newW - winner.Rating,
		DeltaLoser:  newL - loser.Rating,
	}

	status := models.MatchCompleted
	var abandonedBy *uuid.UUID
	if abandoned {
		status = models.MatchAbandoned
		abandonedBy = &loserID
	}
	completedAt := time.Now()

	err = pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		updMatch := `
			UPDATE matches
			SET status=$1, winner_id=$2, abandoned_by=$3,
			    delta_winner=$4, delta_loser=$5, completed_at=$6
			WHERE id=$7
		`
		if _, e := tx.Exec(ctx, updMatch, status, winnerID, abandonedBy,
			res.DeltaWinner, res.DeltaLoser, completedAt, matchID); e != nil {
			return e
		}
		if _, e := tx.Exec(ctx, `UPDATE users SET rating=$1 WHERE id=$2`, newW, winnerID); e != nil {
			return e
		}
		if _, e := tx.Exec(ctx, `UPDATE users SET rating=$1 WHERE id=$2`, newL, loserID); e != nil {
			return e
		}
		insHist := `
			INSERT INTO ratings (user_id, match_id, old_rating, new_rating)
			VALUES ($1, $2, $3, $4), ($5, $6, $7, $8)
		`
		_, e := tx.Exec(ctx, insHist,
			winnerID, matchID, winner.Rating, newW,
			loserID, matchID, loser.Rating, newL,
		)
		return e
	})
	if err != nil {
		return res, fmt.Errorf("failed to commit match results: %w", err)
	}
	return res, nil
}
