package database

import (
	"context"
	"time"

	"mockpair/internal/models"
)

func (s *txStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	ts := utcNow()
	if n.ExpiresAt.IsZero() {
		n.ExpiresAt = ts.Add(models.DefaultNotificationTTL)
	}
	query := `INSERT INTO notifications (user_id, kind, payload, created_at, expires_at)
              VALUES (?, ?, ?, ?, ?) RETURNING id`
	var id int64
	if err := s.tx.QueryRowContext(ctx, s.db.rebind(query),
		n.UserID, n.Kind, n.Payload, ts, n.ExpiresAt.UTC(),
	).Scan(&id); err != nil {
		return classify("create notification", err)
	}
	n.ID = id
	n.CreatedAt = ts
	return nil
}

// GetNotifications returns the user's unexpired notifications, oldest first.
func (db *DB) GetNotifications(ctx context.Context, userID string) ([]*models.Notification, error) {
	query := `SELECT id, user_id, kind, payload, created_at, expires_at FROM notifications
              WHERE user_id = ? AND expires_at > ? ORDER BY id`
	rows, err := db.QueryContext(ctx, db.rebind(query), userID, utcNow())
	if err != nil {
		return nil, classify("get notifications", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Payload,
			scanTime{dst: &n.CreatedAt}, scanTime{dst: &n.ExpiresAt}); err != nil {
			return nil, classify("get notifications", err)
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("get notifications", err)
	}
	return out, nil
}

// PurgeExpiredNotifications deletes notifications past their expiry.
func (db *DB) PurgeExpiredNotifications(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM notifications WHERE expires_at <= ?`
	result, err := db.ExecContext(ctx, db.rebind(query), before.UTC())
	if err != nil {
		return 0, classify("purge notifications", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, classify("purge notifications", err)
	}
	return n, nil
}
