package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/auth"
	"github.com/Oscar-CHW/worldpeaceOL-sub000/internal/models"
)

// DefaultRating is assigned to freshly created users.
const DefaultRating = 1200

func CreateUser(ctx context.Context, user *models.User) error {
	if err := ready(); err != nil {
		return err
	}
	if user.ID == uuid.Nil {
		id, err := uuid.NewRandom()
		if err != nil {
			return fmt.Errorf("failed to generate user id: %w", err)
		}
		user.ID = id
	}
	if user.Rating == 0 {
		user.Rating = DefaultRating
	}

	hash, err := auth.CreateHash(user.Password, auth.Params)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	user.Password = hash

	q := `INSERT INTO users (id, email, password, username, is_ephemeral, is_admin, rating)
	      VALUES ($1, $2, $3, $4, $5, $6, $7)`

	err = pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, q,
			user.ID, user.Email, user.Password, user.Username,
			user.IsEphemeral, user.IsAdmin, user.Rating,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if err := ready(); err != nil {
		return nil, err
	}
	var u models.User
	q := `
	SELECT id, email, password, username, is_ephemeral, is_admin, rating, current_room_id
	FROM users
	WHERE email=$1
	`
	err := DB.QueryRow(ctx, q, email).Scan(
		&u.ID, &u.Email, &u.Password, &u.Username,
		&u.IsEphemeral, &u.IsAdmin, &u.Rating, &u.CurrentRoomID,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if err := ready(); err != nil {
		return nil, err
	}
	var u models.User
	q := `
	SELECT id, email, password, username, is_ephemeral, is_admin, rating, current_room_id
	FROM users
	WHERE id=$1
	`
	err := DB.QueryRow(ctx, q, id).Scan(
		&u.ID, &u.Email, &u.Password, &u.Username,
		&u.IsEphemeral, &u.IsAdmin, &u.Rating, &u.CurrentRoomID,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func AuthenticateUser(ctx context.Context, email, password string) (string, error) {
	user, err := GetUserByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("user not found or db error: %w", err)
	}

	match, err := auth.ComparePasswordAndHash(password, user.Password)
	if err != nil || !match {
		return "", fmt.Errorf("invalid credentials")
	}

	token, err := auth.CreateJWT(user.ID.String())
	if err != nil {
		return "", fmt.Errorf("failed to create jwt: %w", err)
	}

	return token, nil
}

// SetCurrentRoom records (or clears, with roomID == nil) the user's assigned
// room so the reconnection binder can find it on the next connection.
func SetCurrentRoom(ctx context.Context, userID uuid.UUID, roomID *string) error {
	if err := ready(); err != nil {
		return err
	}
	q := `UPDATE users SET current_room_id=$1 WHERE id=$2`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, roomID, userID)
		return err
	})
}

// SaveUserRating stores the user's rating.
func SaveUserRating(ctx context.Context, userID uuid.UUID, rating int) error {
	if err := ready(); err != nil {
		return err
	}
	q := `UPDATE users SET rating=$1 WHERE id=$2`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, rating, userID)
		return err
	})
}
