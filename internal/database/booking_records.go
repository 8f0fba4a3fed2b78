package database

import (
	"context"
	"fmt"
	"time"

	"mockpair/internal/models"
)

const bookingRecordColumns = `id, owner_user_id, other_user_id, booking_time, mock_type, my_ticket_id, other_ticket_id, room_id, created_at`

// AppendBookingRecord adds a record to the owner's collection. The owner must
// exist; a missing owner is ErrUserNotFound.
func (s *txStore) AppendBookingRecord(ctx context.Context, record *models.BookingRecord) error {
	ts := utcNow()
	query := `INSERT INTO booking_records (
				owner_user_id, other_user_id, booking_time, mock_type,
				my_ticket_id, other_ticket_id, room_id, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`

	var id int64
	err := s.tx.QueryRowContext(ctx, s.db.rebind(query),
		record.MyUserID,
		record.OtherUserID,
		models.SlotKey(record.BookingTime),
		string(record.MockType),
		record.MyTicketID,
		record.OtherUserTicketID,
		record.RoomID,
		ts,
	).Scan(&id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("append booking record for %s: %w: %w", record.MyUserID, ErrFatal, ErrUserNotFound)
		}
		return classify("append booking record", err)
	}

	record.ID = id
	record.CreatedAt = ts
	return nil
}

// RemoveBookingRecord deletes the owner's record for the given ticket pair.
// It reports whether a record was removed.
func (s *txStore) RemoveBookingRecord(ctx context.Context, ownerUserID, myTicketID, otherTicketID string) (bool, error) {
	query := `DELETE FROM booking_records WHERE owner_user_id = ? AND my_ticket_id = ? AND other_ticket_id = ?`
	result, err := s.tx.ExecContext(ctx, s.db.rebind(query), ownerUserID, myTicketID, otherTicketID)
	if err != nil {
		return false, classify("remove booking record", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, classify("remove booking record", err)
	}
	return rows > 0, nil
}

// GetBookingRecords returns the user's booking records in the order they
// were appended.
func (db *DB) GetBookingRecords(ctx context.Context, userID string) ([]*models.BookingRecord, error) {
	query := `SELECT ` + bookingRecordColumns + ` FROM booking_records WHERE owner_user_id = ? ORDER BY id`
	return db.queryBookingRecords(ctx, "get booking records", query, userID)
}

// GetBookingRecordsBetween returns every record whose session starts in
// [from, to), ordered by session time.
func (db *DB) GetBookingRecordsBetween(ctx context.Context, from, to time.Time) ([]*models.BookingRecord, error) {
	query := `SELECT ` + bookingRecordColumns + ` FROM booking_records
		WHERE booking_time >= ? AND booking_time < ?
		ORDER BY booking_time, room_id, id`
	return db.queryBookingRecords(ctx, "get booking records between", query, models.SlotKey(from), models.SlotKey(to))
}

func (db *DB) queryBookingRecords(ctx context.Context, op, query string, args ...interface{}) ([]*models.BookingRecord, error) {
	rows, err := db.QueryContext(ctx, db.rebind(query), args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var records []*models.BookingRecord
	for rows.Next() {
		var (
			r        models.BookingRecord
			slot     string
			mockType string
		)
		if err := rows.Scan(
			&r.ID,
			&r.MyUserID,
			&r.OtherUserID,
			&slot,
			&mockType,
			&r.MyTicketID,
			&r.OtherUserTicketID,
			&r.RoomID,
			scanTime{dst: &r.CreatedAt},
		); err != nil {
			return nil, classify(op, err)
		}
		at, err := models.ParseSlotKey(slot)
		if err != nil {
			return nil, fmt.Errorf("%s: %w (bad booking_time %q)", op, ErrFatal, slot)
		}
		r.BookingTime = at
		r.MockType = models.MockType(mockType)
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return records, nil
}
