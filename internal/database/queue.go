// internal/database/queue.go
package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/models"
)

// CreateQueueEntry persists a matchmaking entry, replacing any prior entry
// for the same user (re-enqueueing replaces wholesale).
func CreateQueueEntry(ctx context.Context, entry *models.QueueEntry) error {
	if err := ready(); err != nil {
		return err
	}
	q := `
	INSERT INTO queue_entries (user_id, mode, rating, min_rating, max_rating, joined_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (user_id)
	DO UPDATE SET mode=$2, rating=$3, min_rating=$4, max_rating=$5, joined_at=$6
	`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q,
			entry.UserID, entry.Mode, entry.Rating,
			entry.MinRating, entry.MaxRating, entry.JoinedAt,
		)
		return err
	})
}

// DeleteQueueEntry removes a user's matchmaking entry, if present.
func DeleteQueueEntry(ctx context.Context, userID uuid.UUID) error {
	if err := ready(); err != nil {
		return err
	}
	q := `DELETE FROM queue_entries WHERE user_id=$1`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, userID)
		return err
	})
}

// ListQueueEntries returns all persisted entries ordered by join time, used
// to rehydrate the in-memory queue after a restart.
func ListQueueEntries(ctx context.Context) ([]models.QueueEntry, error) {
	if err := ready(); err != nil {
		return nil, err
	}
	q := `
	SELECT user_id, mode, rating, min_rating, max_rating, joined_at
	FROM queue_entries
	ORDER BY joined_at
	`
	rows, err := DB.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		var e models.QueueEntry
		if err := rows.Scan(&e.UserID, &e.Mode, &e.Rating, &e.MinRating, &e.MaxRating, &e.JoinedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
