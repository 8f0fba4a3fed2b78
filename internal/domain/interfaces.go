package domain

import (
	"context"
	"time"

	"mockpair/internal/models"
)

// Tx is the set of store operations available inside one transaction.
// Every error returned is already classified by the store.
type Tx interface {
	CreateReservation(ctx context.Context, userID string, mockType models.MockType, at time.Time) (*models.Reservation, error)
	TryClaimPartner(ctx context.Context, mockType models.MockType, at time.Time, excludingUserID string) (*models.Reservation, error)
	MarkMatched(ctx context.Context, reservationID string) error
	DeleteReservation(ctx context.Context, reservationID, ownerUserID string) (bool, error)
	HasReservation(ctx context.Context, reservationID, ownerUserID string) (bool, error)
	AppendBookingRecord(ctx context.Context, record *models.BookingRecord) error
	RemoveBookingRecord(ctx context.Context, ownerUserID, myTicketID, otherTicketID string) (bool, error)
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// Store runs fn in a single transaction. fn returning an error rolls back.
type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// ProfileReader exposes the per-user booking record collection.
type ProfileReader interface {
	GetBookingRecords(ctx context.Context, userID string) ([]*models.BookingRecord, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// UserProvisioner creates or renames users on behalf of the identity
// service. Matching never calls it.
type UserProvisioner interface {
	UpsertUser(ctx context.Context, user *models.User) error
}

// IntentPublisher puts a booking intent onto the durable queue.
type IntentPublisher interface {
	Publish(ctx context.Context, msg models.IntentMessage) error
}
