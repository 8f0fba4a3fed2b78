package models

import "time"

const (
	NotificationMatchConfirmed = "match_confirmed"
	NotificationMatchCancelled = "match_cancelled"
)

// Notification is a fire-and-forget message addressed to a user.
type Notification struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Kind      string    `json:"kind"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MatchNotice is the payload carried by match and cancellation notifications.
type MatchNotice struct {
	RoomID        string     `json:"room_id,omitempty"`
	PartnerUserID string     `json:"partner_user_id"`
	MockType      MockType   `json:"mock_type,omitempty"`
	ScheduleTime  *time.Time `json:"schedule_time,omitempty"`
	MyTicketID    string     `json:"my_ticket_id"`
	OtherTicketID string     `json:"other_ticket_id"`
}
