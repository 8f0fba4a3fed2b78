package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"mockpair/internal/models"
)

// UpsertUser provisions a user row. Users are owned by the identity service;
// this exists for provisioning hooks and tests, never for matching.
func (db *DB) UpsertUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		return fmt.Errorf("upsert user: %w (empty user id)", ErrFatal)
	}
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = utcNow()
	}
	query := `INSERT INTO users (user_id, display_name, created_at) VALUES (?, ?, ?)
              ON CONFLICT(user_id) DO UPDATE SET display_name = excluded.display_name`
	if _, err := db.ExecContext(ctx, db.rebind(query), user.ID, user.DisplayName, createdAt.UTC()); err != nil {
		return classify("upsert user", err)
	}
	user.CreatedAt = createdAt.UTC()
	return nil
}

func (db *DB) GetUser(ctx context.Context, userID string) (*models.User, error) {
	query := `SELECT user_id, display_name, created_at FROM users WHERE user_id = ?`
	var u models.User
	err := db.QueryRowContext(ctx, db.rebind(query), userID).Scan(&u.ID, &u.DisplayName, scanTime{dst: &u.CreatedAt})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get user %s: %w: %w", userID, ErrFatal, ErrUserNotFound)
	}
	if err != nil {
		return nil, classify("get user", err)
	}
	return &u, nil
}

// DeleteUser removes a user and, by cascade, their reservations and booking
// records.
func (db *DB) DeleteUser(ctx context.Context, userID string) error {
	query := `DELETE FROM users WHERE user_id = ?`
	if _, err := db.ExecContext(ctx, db.rebind(query), userID); err != nil {
		return classify("delete user", err)
	}
	return nil
}
