package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mockpair/internal/models"

	"github.com/google/uuid"
)

// txStore implements domain.Tx on top of one *sql.Tx.
type txStore struct {
	tx *sql.Tx
	db *DB
}

const reservationColumns = `reservation_id, user_id, mock_type, schedule_time, status, created_at, updated_at`

// CreateReservation inserts a PENDING reservation. The unique constraint on
// (user_id, mock_type, schedule_time) is the only duplicate check, and the
// owner must already exist in users.
func (s *txStore) CreateReservation(ctx context.Context, userID string, mockType models.MockType, at time.Time) (*models.Reservation, error) {
	ts := utcNow()
	res := &models.Reservation{
		ID:           uuid.NewString(),
		UserID:       userID,
		MockType:     mockType,
		ScheduleTime: at.UTC().Truncate(time.Second),
		Status:       models.StatusPending,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}

	query := `INSERT INTO reservations (` + reservationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.tx.ExecContext(ctx, s.db.rebind(query),
		res.ID,
		res.UserID,
		string(res.MockType),
		models.SlotKey(at),
		string(res.Status),
		ts,
		ts,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("create reservation: %w", ErrDuplicateReservation)
		}
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("create reservation for %s: %w: %w", userID, ErrFatal, ErrUserNotFound)
		}
		return nil, classify("create reservation", err)
	}
	return res, nil
}

// TryClaimPartner flips the oldest PENDING reservation of the slot not owned
// by excludingUserID to MATCHED in one statement and returns it. It returns
// nil when the slot has no candidate.
func (s *txStore) TryClaimPartner(ctx context.Context, mockType models.MockType, at time.Time, excludingUserID string) (*models.Reservation, error) {
	lock := ""
	if s.db.driver == DriverPostgres {
		lock = " FOR UPDATE SKIP LOCKED"
	}
	query := `UPDATE reservations SET status = ?, updated_at = ?
		WHERE reservation_id = (
			SELECT reservation_id FROM reservations
			WHERE mock_type = ? AND schedule_time = ? AND status = ? AND user_id <> ?
			ORDER BY created_at, reservation_id
			LIMIT 1` + lock + `
		) AND status = ?
		RETURNING ` + reservationColumns

	row := s.tx.QueryRowContext(ctx, s.db.rebind(query),
		string(models.StatusMatched),
		utcNow(),
		string(mockType),
		models.SlotKey(at),
		string(models.StatusPending),
		excludingUserID,
		string(models.StatusPending),
	)
	res, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("claim partner", err)
	}
	return res, nil
}

// MarkMatched transitions the caller's own reservation to MATCHED.
func (s *txStore) MarkMatched(ctx context.Context, reservationID string) error {
	query := `UPDATE reservations SET status = ?, updated_at = ? WHERE reservation_id = ? AND status = ?`
	result, err := s.tx.ExecContext(ctx, s.db.rebind(query),
		string(models.StatusMatched), utcNow(), reservationID, string(models.StatusPending))
	if err != nil {
		return classify("mark matched", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return classify("mark matched", err)
	}
	if rows != 1 {
		return fmt.Errorf("mark matched %s: %w (reservation not pending)", reservationID, ErrFatal)
	}
	return nil
}

// DeleteReservation removes a reservation owned by ownerUserID. A missing row
// is reported as deleted=false, not as an error.
func (s *txStore) DeleteReservation(ctx context.Context, reservationID, ownerUserID string) (bool, error) {
	query := `DELETE FROM reservations WHERE reservation_id = ? AND user_id = ?`
	result, err := s.tx.ExecContext(ctx, s.db.rebind(query), reservationID, ownerUserID)
	if err != nil {
		return false, classify("delete reservation", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, classify("delete reservation", err)
	}
	return rows > 0, nil
}

// HasReservation reports whether ownerUserID still holds reservationID.
func (s *txStore) HasReservation(ctx context.Context, reservationID, ownerUserID string) (bool, error) {
	query := `SELECT COUNT(*) FROM reservations WHERE reservation_id = ? AND user_id = ?`
	var n int
	if err := s.tx.QueryRowContext(ctx, s.db.rebind(query), reservationID, ownerUserID).Scan(&n); err != nil {
		return false, classify("has reservation", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReservation(row rowScanner) (*models.Reservation, error) {
	var (
		r        models.Reservation
		mockType string
		slot     string
		status   string
	)
	if err := row.Scan(
		&r.ID,
		&r.UserID,
		&mockType,
		&slot,
		&status,
		scanTime{dst: &r.CreatedAt},
		scanTime{dst: &r.UpdatedAt},
	); err != nil {
		return nil, err
	}
	at, err := models.ParseSlotKey(slot)
	if err != nil {
		return nil, fmt.Errorf("parse schedule_time %q: %w", slot, err)
	}
	r.MockType = models.MockType(mockType)
	r.ScheduleTime = at
	r.Status = models.ReservationStatus(status)
	return &r, nil
}

// GetReservation reads one reservation outside of any transaction.
func (db *DB) GetReservation(ctx context.Context, reservationID string) (*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE reservation_id = ?`
	res, err := scanReservation(db.QueryRowContext(ctx, db.rebind(query), reservationID))
	if err != nil {
		return nil, classify("get reservation", err)
	}
	return res, nil
}

// GetSlotReservations lists the reservations of one (mock type, time) slot
// in arrival order.
func (db *DB) GetSlotReservations(ctx context.Context, mockType models.MockType, at time.Time) ([]*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
		WHERE mock_type = ? AND schedule_time = ?
		ORDER BY created_at, reservation_id`
	return db.queryReservations(ctx, "get slot reservations", query, string(mockType), models.SlotKey(at))
}

// GetUserReservations lists all reservations held by a user.
func (db *DB) GetUserReservations(ctx context.Context, userID string) ([]*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE user_id = ? ORDER BY schedule_time, created_at`
	return db.queryReservations(ctx, "get user reservations", query, userID)
}

func (db *DB) queryReservations(ctx context.Context, op, query string, args ...interface{}) ([]*models.Reservation, error) {
	rows, err := db.QueryContext(ctx, db.rebind(query), args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var out []*models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}
