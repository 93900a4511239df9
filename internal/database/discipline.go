// internal/database/discipline.go
package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/models"
)

// UpsertDisconnectRecord flushes a user's disconnect bookkeeping. Best-effort:
// callers fire it asynchronously and tolerate failure (the in-memory record
// remains authoritative until the process exits).
func UpsertDisconnectRecord(ctx context.Context, rec *models.DisconnectRecord) error {
	if err := ready(); err != nil {
		return err
	}
	q := `
	INSERT INTO disconnect_records (user_id, count, last_disconnect_at, warning_count, banned_until)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (user_id)
	DO UPDATE SET count=$2, last_disconnect_at=$3, warning_count=$4, banned_until=$5
	`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q,
			rec.UserID, rec.Count, rec.LastDisconnectAt, rec.WarningCount, rec.BannedUntil,
		)
		return err
	})
}

// GetDisconnectRecord loads a user's disconnect record. A missing row is not
// an error; it returns a zeroed record.
func GetDisconnectRecord(ctx context.Context, userID uuid.UUID) (*models.DisconnectRecord, error) {
	if err := ready(); err != nil {
		return nil, err
	}
	var rec models.DisconnectRecord
	q := `
	SELECT user_id, count, last_disconnect_at, warning_count, banned_until
	FROM disconnect_records
	WHERE user_id=$1
	`
	err := DB.QueryRow(ctx, q, userID).Scan(
		&rec.UserID, &rec.Count, &rec.LastDisconnectAt, &rec.WarningCount, &rec.BannedUntil,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.DisconnectRecord{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SuspendUser records a time-boxed suspension on the user's disconnect record.
func SuspendUser(ctx context.Context, userID uuid.UUID, until time.Time) error {
	if err := ready(); err != nil {
		return err
	}
	q := `
	INSERT INTO disconnect_records (user_id, count, last_disconnect_at, warning_count, banned_until)
	VALUES ($1, 0, $2, 1, $3)
	ON CONFLICT (user_id)
	DO UPDATE SET warning_count = disconnect_records.warning_count + 1, banned_until=$3
	`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, userID, time.Now(), until)
		return err
	})
}

// ClearDisconnectRecord resets a user's record after a normally completed match.
func ClearDisconnectRecord(ctx context.Context, userID uuid.UUID) error {
	if err := ready(); err != nil {
		return err
	}
	q := `UPDATE disconnect_records SET count=0 WHERE user_id=$1`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, userID)
		return err
	})
}
