package models

import "time"

// Participant is one side of a matched pair.
type Participant struct {
	UserID        string `json:"user_id"`
	ReservationID string `json:"reservation_id"`
}

// MatchedPair is the value produced by a successful pairing.
type MatchedPair struct {
	RoomID       string      `json:"room_id"`
	ScheduleTime time.Time   `json:"schedule_time"`
	MockType     MockType    `json:"mock_type"`
	First        Participant `json:"first"`
	Second       Participant `json:"second"`
}

// Records returns the two mirrored booking records of the pair.
func (p MatchedPair) Records() (BookingRecord, BookingRecord) {
	a := BookingRecord{
		MyUserID:          p.First.UserID,
		OtherUserID:       p.Second.UserID,
		BookingTime:       p.ScheduleTime,
		MockType:          p.MockType,
		MyTicketID:        p.First.ReservationID,
		OtherUserTicketID: p.Second.ReservationID,
		RoomID:            p.RoomID,
	}
	return a, a.Mirror()
}

// BookingRecord is a participant's own view of a matched pair.
type BookingRecord struct {
	ID                int64     `json:"-"`
	MyUserID          string    `json:"my_user_id"`
	OtherUserID       string    `json:"other_user_id"`
	BookingTime       time.Time `json:"booking_time"`
	MockType          MockType  `json:"mock_type"`
	MyTicketID        string    `json:"my_ticket_id"`
	OtherUserTicketID string    `json:"other_user_ticket_id"`
	RoomID            string    `json:"room_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// Mirror swaps the owner and partner sides of the record.
func (r BookingRecord) Mirror() BookingRecord {
	return BookingRecord{
		MyUserID:          r.OtherUserID,
		OtherUserID:       r.MyUserID,
		BookingTime:       r.BookingTime,
		MockType:          r.MockType,
		MyTicketID:        r.OtherUserTicketID,
		OtherUserTicketID: r.MyTicketID,
		RoomID:            r.RoomID,
	}
}
